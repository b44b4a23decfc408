package recommend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"orderrec/internal/ledger"
)

// TrainResult is the per-cluster output of one training run.
type TrainResult struct {
	Models    map[int]*FactorModel
	ModelLess []int
}

// Trainer fits one factor model per cluster.
type Trainer struct {
	cfg    FactorConfig
	logger zerolog.Logger
}

// NewTrainer creates a Trainer.
//
//nolint:gocritic // zerolog.Logger is passed by value
func NewTrainer(cfg FactorConfig, logger zerolog.Logger) *Trainer {
	return &Trainer{cfg: cfg.withDefaults(), logger: logger}
}

// Interactions groups ledger lines into per-cluster ratings. Lines of
// customers without an assignment are skipped. Ledger order is kept.
func Interactions(assignments map[string]int, lines []ledger.OrderLine) map[int][]Interaction {
	out := make(map[int][]Interaction)
	for _, l := range lines {
		c, ok := assignments[l.CustomerID]
		if !ok {
			continue
		}
		out[c] = append(out[c], Interaction{
			CustomerID: l.CustomerID,
			ItemID:     l.ProductID,
			Quantity:   float64(l.Quantity),
		})
	}
	return out
}

// Train fits a model for every cluster id in [0, clusterCount). A cluster
// without interactions is recorded as model-less.
func (t *Trainer) Train(ctx context.Context, assignments map[string]int, lines []ledger.OrderLine, clusterCount int) (*TrainResult, error) {
	byCluster := Interactions(assignments, lines)
	res := &TrainResult{Models: make(map[int]*FactorModel, clusterCount)}

	for c := 0; c < clusterCount; c++ {
		interactions := byCluster[c]
		if len(interactions) == 0 {
			t.logger.Warn().Int("cluster", c).Msg("cluster has no interactions, leaving it without a model")
			res.ModelLess = append(res.ModelLess, c)
			continue
		}

		cfg := t.cfg
		cfg.Seed += int64(c)
		m, err := FitFactorModel(ctx, interactions, cfg)
		if err != nil {
			return nil, fmt.Errorf("train cluster %d: %w", c, err)
		}
		res.Models[c] = m
		t.logger.Debug().
			Int("cluster", c).
			Int("interactions", len(interactions)).
			Int("customers", len(m.Users)).
			Int("items", len(m.Items)).
			Msg("trained cluster model")
	}
	return res, nil
}
