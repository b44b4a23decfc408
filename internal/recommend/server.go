package recommend

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"orderrec/internal/ledger"
)

// DefaultTopK is used when neither the caller nor the config give K.
const DefaultTopK = 5

// Status is the outcome of a recommendation request.
type Status int

const (
	StatusOK Status = iota
	StatusCustomerNotFound
	StatusModelUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCustomerNotFound:
		return "customer_not_found"
	case StatusModelUnavailable:
		return "model_unavailable"
	default:
		return "unknown"
	}
}

// ScoredItem is one recommended item.
type ScoredItem struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// Result is the answer to one request. Items is empty unless Status is
// StatusOK.
type Result struct {
	Status       Status
	GenerationID string
	Cluster      int
	Items        []ScoredItem
}

// ItemIDs returns the recommended item ids in rank order.
func (r Result) ItemIDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.ItemID
	}
	return ids
}

// Snapshot is everything a request reads: one generation, the customer
// feature table and the item universe. It is immutable once published.
type Snapshot struct {
	Generation *Generation
	Customers  map[string]ledger.CustomerFeatures
	// Items is the item universe, sorted and unique.
	Items []string
}

// NewSnapshot builds a snapshot. gen may be nil when no generation is active.
func NewSnapshot(gen *Generation, customers []ledger.CustomerFeatures, items []string) *Snapshot {
	s := &Snapshot{
		Generation: gen,
		Customers:  make(map[string]ledger.CustomerFeatures, len(customers)),
	}
	for _, c := range customers {
		s.Customers[c.CustomerID] = c
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		s.Items = append(s.Items, it)
	}
	sort.Strings(s.Items)
	return s
}

// Server answers recommendation requests from the current snapshot. Swap
// replaces the snapshot atomically; a request in flight keeps the snapshot it
// started with.
type Server struct {
	snap   atomic.Pointer[Snapshot]
	topK   int
	logger zerolog.Logger
}

// NewServer creates a Server with no snapshot.
//
//nolint:gocritic // zerolog.Logger is passed by value
func NewServer(topK int, logger zerolog.Logger) *Server {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Server{topK: topK, logger: logger}
}

// Swap publishes snap and returns the previous snapshot. A nil snap clears
// the server.
func (s *Server) Swap(snap *Snapshot) *Snapshot {
	old := s.snap.Swap(snap)
	if snap == nil {
		s.logger.Debug().Msg("cleared recommendation snapshot")
		return old
	}
	ev := s.logger.Debug().Int("customers", len(snap.Customers)).Int("items", len(snap.Items))
	if snap.Generation != nil {
		ev = ev.Str("generation", snap.Generation.ID.String())
	}
	ev.Msg("published recommendation snapshot")
	return old
}

// Snapshot returns the current snapshot, or nil.
func (s *Server) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Recommend returns the top k items for customerID. k <= 0 means the
// configured default.
func (s *Server) Recommend(ctx context.Context, customerID string, k int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if k <= 0 {
		k = s.topK
	}

	snap := s.snap.Load()
	if snap == nil {
		return Result{Status: StatusModelUnavailable}, nil
	}
	features, ok := snap.Customers[customerID]
	if !ok {
		return Result{Status: StatusCustomerNotFound}, nil
	}
	if snap.Generation == nil {
		return Result{Status: StatusModelUnavailable}, nil
	}

	gen := snap.Generation
	cluster := gen.Segmentation.Predict(features.Vector())
	res := Result{GenerationID: gen.ID.String(), Cluster: cluster}
	model := gen.Model(cluster)
	if model == nil {
		res.Status = StatusModelUnavailable
		return res, nil
	}

	scored := make([]ScoredItem, len(snap.Items))
	for i, item := range snap.Items {
		scored[i] = ScoredItem{ItemID: item, Score: model.Score(customerID, item)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ItemID < scored[j].ItemID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	res.Status = StatusOK
	res.Items = scored
	return res, nil
}
