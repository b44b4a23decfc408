package recommend

import (
	"context"
	"math"
	"math/rand"
)

// FactorConfig contains the matrix-factorisation hyper-parameters.
type FactorConfig struct {
	// Factors is the dimension of the latent vectors.
	Factors int

	// Epochs is the number of passes over the interactions.
	Epochs int

	LearningRate   float64
	Regularization float64

	// InitStdDev is the standard deviation of the initial latent values.
	InitStdDev float64

	Seed int64
}

// DefaultFactorConfig returns the default hyper-parameters.
func DefaultFactorConfig() FactorConfig {
	return FactorConfig{
		Factors:        100,
		Epochs:         20,
		LearningRate:   0.005,
		Regularization: 0.02,
		InitStdDev:     0.1,
		Seed:           42,
	}
}

func (c FactorConfig) withDefaults() FactorConfig {
	d := DefaultFactorConfig()
	if c.Factors <= 0 {
		c.Factors = d.Factors
	}
	if c.Epochs <= 0 {
		c.Epochs = d.Epochs
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.Regularization < 0 {
		c.Regularization = d.Regularization
	}
	if c.InitStdDev <= 0 {
		c.InitStdDev = d.InitStdDev
	}
	return c
}

// Interaction is one (customer, item, quantity) rating.
type Interaction struct {
	CustomerID string
	ItemID     string
	Quantity   float64
}

// FactorModel is a biased matrix factorisation of customer-item quantities:
// score = mean + user bias + item bias + <user vector, item vector>, clipped
// to the rating scale seen in training.
type FactorModel struct {
	GlobalMean float64 `json:"global_mean"`
	MinRating  float64 `json:"min_rating"`
	MaxRating  float64 `json:"max_rating"`

	Users map[string]int `json:"users"`
	Items map[string]int `json:"items"`

	UserBias    []float64   `json:"user_bias"`
	ItemBias    []float64   `json:"item_bias"`
	UserFactors [][]float64 `json:"user_factors"`
	ItemFactors [][]float64 `json:"item_factors"`
}

// FitFactorModel trains a model with stochastic gradient descent, visiting
// interactions in the given order every epoch. It returns nil for an empty
// input.
//
//nolint:gocritic // hugeParam: config is read once
func FitFactorModel(ctx context.Context, interactions []Interaction, cfg FactorConfig) (*FactorModel, error) {
	if len(interactions) == 0 {
		return nil, nil
	}
	cfg = cfg.withDefaults()

	m := &FactorModel{
		Users:     make(map[string]int),
		Items:     make(map[string]int),
		MinRating: math.Inf(1),
		MaxRating: math.Inf(-1),
	}
	users := make([]int, len(interactions))
	items := make([]int, len(interactions))
	var sum float64
	for n, in := range interactions {
		u, ok := m.Users[in.CustomerID]
		if !ok {
			u = len(m.Users)
			m.Users[in.CustomerID] = u
		}
		i, ok := m.Items[in.ItemID]
		if !ok {
			i = len(m.Items)
			m.Items[in.ItemID] = i
		}
		users[n], items[n] = u, i
		sum += in.Quantity
		m.MinRating = math.Min(m.MinRating, in.Quantity)
		m.MaxRating = math.Max(m.MaxRating, in.Quantity)
	}
	m.GlobalMean = sum / float64(len(interactions))

	//nolint:gosec // G404: math/rand is acceptable for ML initialization (not security)
	rng := rand.New(rand.NewSource(cfg.Seed))
	m.UserBias = make([]float64, len(m.Users))
	m.ItemBias = make([]float64, len(m.Items))
	m.UserFactors = normalMatrix(rng, len(m.Users), cfg.Factors, cfg.InitStdDev)
	m.ItemFactors = normalMatrix(rng, len(m.Items), cfg.Factors, cfg.InitStdDev)

	lr, reg := cfg.LearningRate, cfg.Regularization
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for n, in := range interactions {
			u, i := users[n], items[n]
			p, q := m.UserFactors[u], m.ItemFactors[i]

			err := in.Quantity - (m.GlobalMean + m.UserBias[u] + m.ItemBias[i] + dot(p, q))

			m.UserBias[u] += lr * (err - reg*m.UserBias[u])
			m.ItemBias[i] += lr * (err - reg*m.ItemBias[i])
			for f := range p {
				pf, qf := p[f], q[f]
				p[f] += lr * (err*qf - reg*pf)
				q[f] += lr * (err*pf - reg*qf)
			}
		}
	}
	return m, nil
}

// Score estimates the quantity customer would order of item. Unknown
// customers or items fall back to the bias terms that are known.
func (m *FactorModel) Score(customerID, itemID string) float64 {
	est := m.GlobalMean
	u, knownUser := m.Users[customerID]
	i, knownItem := m.Items[itemID]
	if knownUser {
		est += m.UserBias[u]
	}
	if knownItem {
		est += m.ItemBias[i]
	}
	if knownUser && knownItem {
		est += dot(m.UserFactors[u], m.ItemFactors[i])
	}
	return math.Max(m.MinRating, math.Min(m.MaxRating, est))
}

func normalMatrix(rng *rand.Rand, rows, cols int, std float64) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
		for c := range out[r] {
			out[r][c] = rng.NormFloat64() * std
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
