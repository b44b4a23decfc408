package recommend

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderrec/internal/ledger"
	"orderrec/internal/segment"
)

// spendModel is a hand-built segmentation model that clusters on total
// spend alone: the identity transform followed by a projection onto the
// first feature.
func spendModel(centroids ...float64) *segment.Model {
	d := len(ledger.FeatureNames)
	ones := make([]float64, d)
	for i := range ones {
		ones[i] = 1
	}
	axis := make([]float64, d)
	axis[0] = 1
	m := &segment.Model{
		Features:  ledger.FeatureNames,
		Transform: segment.PowerTransform{Lambdas: ones, Means: make([]float64, d), Scales: ones},
		Reduction: segment.Reduction{Mean: make([]float64, d), Components: [][]float64{axis}},
	}
	for _, c := range centroids {
		m.Centroids = append(m.Centroids, []float64{c})
	}
	return m
}

func buy(orderID int64, customer, product string, qty int) ledger.OrderLine {
	return ledger.OrderLine{
		OrderID:     orderID,
		ProductID:   product,
		SKUID:       "SKU_" + product,
		CustomerID:  customer,
		WarehouseID: "WH1",
		OrderDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Category:    "Grocery",
		Quantity:    qty,
		UnitPrice:   1,
	}
}

func smallConfig() FactorConfig {
	cfg := DefaultFactorConfig()
	cfg.Factors = 8
	return cfg
}

func TestFitFactorModel_Empty(t *testing.T) {
	m, err := FitFactorModel(context.Background(), nil, smallConfig())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestFitFactorModel_ScoresStayOnScale(t *testing.T) {
	interactions := []Interaction{
		{CustomerID: "CUST1", ItemID: "Product_1", Quantity: 2},
		{CustomerID: "CUST1", ItemID: "Product_2", Quantity: 9},
		{CustomerID: "CUST2", ItemID: "Product_1", Quantity: 3},
		{CustomerID: "CUST2", ItemID: "Product_3", Quantity: 7},
	}
	m, err := FitFactorModel(context.Background(), interactions, smallConfig())
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, 2.0, m.MinRating)
	assert.Equal(t, 9.0, m.MaxRating)
	assert.InDelta(t, 5.25, m.GlobalMean, 1e-12)

	for _, c := range []string{"CUST1", "CUST2", "CUST9"} {
		for _, it := range []string{"Product_1", "Product_2", "Product_3", "Product_99"} {
			s := m.Score(c, it)
			assert.GreaterOrEqual(t, s, m.MinRating, "%s/%s", c, it)
			assert.LessOrEqual(t, s, m.MaxRating, "%s/%s", c, it)
		}
	}
	assert.InDelta(t, m.GlobalMean, m.Score("CUST9", "Product_99"), 1e-12, "fully unknown pair gets the global mean")
}

func TestFitFactorModel_Deterministic(t *testing.T) {
	interactions := []Interaction{
		{CustomerID: "CUST1", ItemID: "Product_1", Quantity: 1},
		{CustomerID: "CUST2", ItemID: "Product_2", Quantity: 4},
		{CustomerID: "CUST1", ItemID: "Product_2", Quantity: 2},
	}
	a, err := FitFactorModel(context.Background(), interactions, smallConfig())
	require.NoError(t, err)
	b, err := FitFactorModel(context.Background(), interactions, smallConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFitFactorModel_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FitFactorModel(ctx, []Interaction{{CustomerID: "C", ItemID: "I", Quantity: 1}}, smallConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainer_ZeroInteractionClusterIsModelLess(t *testing.T) {
	assignments := map[string]int{"CUST1": 0, "CUST2": 0, "CUST3": 2}
	lines := []ledger.OrderLine{
		buy(1, "CUST1", "Product_1", 2),
		buy(2, "CUST2", "Product_2", 5),
		buy(3, "CUST3", "Product_1", 1),
	}

	res, err := NewTrainer(smallConfig(), zerolog.Nop()).Train(context.Background(), assignments, lines, 3)
	require.NoError(t, err)

	assert.NotNil(t, res.Models[0])
	assert.Nil(t, res.Models[1])
	assert.NotNil(t, res.Models[2])
	assert.Equal(t, []int{1}, res.ModelLess)

	// Per-cluster rating scale.
	assert.Equal(t, 2.0, res.Models[0].MinRating)
	assert.Equal(t, 5.0, res.Models[0].MaxRating)
	assert.Equal(t, 1.0, res.Models[2].MinRating)
	assert.Equal(t, 1.0, res.Models[2].MaxRating)

	gen := NewGeneration(spendModel(0, 100, 1000), assignments, res, 42, time.Now())
	assert.True(t, gen.Complete())
}

func TestGeneration_Complete(t *testing.T) {
	gen := &Generation{
		ClusterCount: 2,
		Segmentation: spendModel(0, 100),
		Models:       map[int]*FactorModel{0: {}},
	}
	assert.False(t, gen.Complete(), "cluster 1 neither trained nor marked")

	gen.ModelLess = []int{1}
	assert.True(t, gen.Complete())

	gen.ClusterCount = 3
	assert.False(t, gen.Complete(), "cluster count disagrees with the segmentation model")

	var missing *Generation
	assert.False(t, missing.Complete())
}

func TestGeneration_BundleRoundTrip(t *testing.T) {
	assignments := map[string]int{"CUST1": 0, "CUST2": 1}
	res, err := NewTrainer(smallConfig(), zerolog.Nop()).Train(context.Background(), assignments,
		[]ledger.OrderLine{buy(1, "CUST1", "Product_1", 2), buy(2, "CUST2", "Product_2", 3)}, 2)
	require.NoError(t, err)
	gen := NewGeneration(spendModel(0, 100), assignments, res, 7, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	data, err := gen.MarshalBundle()
	require.NoError(t, err)
	back, err := UnmarshalBundle(data)
	require.NoError(t, err)

	assert.Equal(t, gen.ID, back.ID)
	assert.Equal(t, gen.Assignments, back.Assignments)
	assert.Equal(t, gen.Models[1].Score("CUST2", "Product_2"), back.Models[1].Score("CUST2", "Product_2"))

	_, err = UnmarshalBundle([]byte(`{"cluster_count": 2}`))
	assert.Error(t, err)
}

// fixture publishes a generation where cheap customers (spend < 50) fall in
// cluster 0, which has a model, and big spenders fall in cluster 1, which
// does not.
func fixture(t *testing.T) *Server {
	t.Helper()
	customers := []ledger.CustomerFeatures{
		{CustomerID: "CUST1", TotalSpend: 10},
		{CustomerID: "CUST2", TotalSpend: 20},
		{CustomerID: "CUST3", TotalSpend: 5000},
	}
	var lines []ledger.OrderLine
	for i := 1; i <= 6; i++ {
		lines = append(lines,
			buy(int64(i), "CUST1", fmt.Sprintf("Product_%d", i), i),
			buy(int64(10+i), "CUST2", fmt.Sprintf("Product_%d", 7-i), i),
		)
	}
	assignments := map[string]int{"CUST1": 0, "CUST2": 0, "CUST3": 1}
	res, err := NewTrainer(smallConfig(), zerolog.Nop()).Train(context.Background(), assignments, lines, 2)
	require.NoError(t, err)
	gen := NewGeneration(spendModel(0, 5000), assignments, res, 42, time.Now())
	require.True(t, gen.Complete())

	items := []string{"Product_3", "Product_1", "Product_2", "Product_4", "Product_5", "Product_6", "Product_7", "Product_1"}
	srv := NewServer(5, zerolog.Nop())
	srv.Swap(NewSnapshot(gen, customers, items))
	return srv
}

func TestServer_NoSnapshot(t *testing.T) {
	srv := NewServer(5, zerolog.Nop())
	res, err := srv.Recommend(context.Background(), "CUST1", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusModelUnavailable, res.Status)

	srv.Swap(NewSnapshot(nil, []ledger.CustomerFeatures{{CustomerID: "CUST1"}}, []string{"Product_1"}))
	res, err = srv.Recommend(context.Background(), "CUST1", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusModelUnavailable, res.Status)
}

func TestServer_UnknownCustomerBeforeFirstGeneration(t *testing.T) {
	srv := NewServer(5, zerolog.Nop())
	srv.Swap(NewSnapshot(nil, []ledger.CustomerFeatures{{CustomerID: "CUST1"}}, []string{"Product_1"}))

	res, err := srv.Recommend(context.Background(), "CUST404", 5)
	require.NoError(t, err)
	assert.Equal(t, StatusCustomerNotFound, res.Status)
	assert.Empty(t, res.Items)
}

func TestServer_SwapNil(t *testing.T) {
	srv := fixture(t)
	before := srv.Snapshot()
	var old *Snapshot
	require.NotPanics(t, func() { old = srv.Swap(nil) })
	assert.Same(t, before, old)
	assert.Nil(t, srv.Snapshot())

	res, err := srv.Recommend(context.Background(), "CUST1", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusModelUnavailable, res.Status)
}

func TestServer_CustomerNotFound(t *testing.T) {
	res, err := fixture(t).Recommend(context.Background(), "CUST404", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusCustomerNotFound, res.Status)
	assert.Empty(t, res.Items)
}

func TestServer_ModelLessCluster(t *testing.T) {
	res, err := fixture(t).Recommend(context.Background(), "CUST3", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusModelUnavailable, res.Status)
	assert.Equal(t, 1, res.Cluster)
	assert.Empty(t, res.Items)
}

func TestServer_RecommendInvariants(t *testing.T) {
	srv := fixture(t)
	universe := srv.Snapshot().Items
	require.Len(t, universe, 7, "universe is deduplicated")

	for _, k := range []int{1, 3, 5, 7, 20} {
		res, err := srv.Recommend(context.Background(), "CUST1", k)
		require.NoError(t, err)
		require.Equal(t, StatusOK, res.Status)
		assert.Equal(t, 0, res.Cluster)

		assert.LessOrEqual(t, len(res.Items), k)
		assert.Len(t, res.Items, min(k, len(universe)))

		seen := map[string]bool{}
		for i, it := range res.Items {
			assert.Contains(t, universe, it.ItemID)
			assert.False(t, seen[it.ItemID], "duplicate %s", it.ItemID)
			seen[it.ItemID] = true
			if i > 0 {
				prev := res.Items[i-1]
				assert.True(t, prev.Score > it.Score || (prev.Score == it.Score && prev.ItemID < it.ItemID),
					"rank %d out of order", i)
			}
		}
	}
}

func TestServer_DefaultK(t *testing.T) {
	res, err := fixture(t).Recommend(context.Background(), "CUST2", 0)
	require.NoError(t, err)
	assert.Len(t, res.Items, 5)
}

func TestServer_TiesBreakByItemID(t *testing.T) {
	// A model with no learned signal scores every item the same.
	flat := &FactorModel{GlobalMean: 3, MinRating: 1, MaxRating: 5, Users: map[string]int{}, Items: map[string]int{}}
	gen := &Generation{
		ClusterCount: 1,
		Segmentation: spendModel(0),
		Models:       map[int]*FactorModel{0: flat},
	}
	srv := NewServer(5, zerolog.Nop())
	srv.Swap(NewSnapshot(gen, []ledger.CustomerFeatures{{CustomerID: "CUST1"}},
		[]string{"Product_9", "Product_10", "Product_2", "Product_1"}))

	res, err := srv.Recommend(context.Background(), "CUST1", 3)
	require.NoError(t, err)
	want := []string{"Product_1", "Product_10", "Product_2"}
	assert.Equal(t, want, res.ItemIDs())
	assert.True(t, sort.StringsAreSorted(res.ItemIDs()))
}

func TestServer_SwapKeepsInFlightSnapshot(t *testing.T) {
	srv := fixture(t)
	before := srv.Snapshot()
	old := srv.Swap(NewSnapshot(nil, []ledger.CustomerFeatures{{CustomerID: "CUST1"}}, nil))
	assert.Same(t, before, old)

	res, err := srv.Recommend(context.Background(), "CUST1", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusModelUnavailable, res.Status)
}
