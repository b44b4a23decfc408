package recommend

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"orderrec/internal/segment"
)

// Generation is an immutable bundle of one segmentation model and the
// per-cluster factor models trained against it. It is never modified once
// built; a retrain produces a new Generation.
type Generation struct {
	ID           uuid.UUID            `json:"id"`
	CreatedAt    time.Time            `json:"created_at"`
	Seed         int64                `json:"seed"`
	ClusterCount int                  `json:"cluster_count"`
	Segmentation *segment.Model       `json:"segmentation"`
	Models       map[int]*FactorModel `json:"models"`
	// ModelLess lists clusters that had no interactions to train on.
	ModelLess []int `json:"model_less"`
	// Assignments is the cluster id of every customer at fit time.
	Assignments map[string]int `json:"assignments"`
}

// NewGeneration assembles a generation from a segmentation fit and its
// training result.
func NewGeneration(seg *segment.Model, assignments map[string]int, trained *TrainResult, seed int64, now time.Time) *Generation {
	return &Generation{
		ID:           uuid.New(),
		CreatedAt:    now.UTC(),
		Seed:         seed,
		ClusterCount: seg.Clusters(),
		Segmentation: seg,
		Models:       trained.Models,
		ModelLess:    trained.ModelLess,
		Assignments:  assignments,
	}
}

// Complete reports whether every cluster either has a model or is
// explicitly marked model-less. Only complete generations may be activated.
func (g *Generation) Complete() bool {
	if g == nil || g.Segmentation == nil || g.ClusterCount != g.Segmentation.Clusters() {
		return false
	}
	modelLess := make(map[int]bool, len(g.ModelLess))
	for _, c := range g.ModelLess {
		modelLess[c] = true
	}
	for c := 0; c < g.ClusterCount; c++ {
		if g.Models[c] == nil && !modelLess[c] {
			return false
		}
	}
	return true
}

// Model returns the factor model of cluster, or nil for a model-less one.
func (g *Generation) Model(cluster int) *FactorModel {
	return g.Models[cluster]
}

// ClusterSizes counts assigned customers per cluster.
func (g *Generation) ClusterSizes() map[int]int {
	sizes := make(map[int]int, g.ClusterCount)
	for _, c := range g.Assignments {
		sizes[c]++
	}
	return sizes
}

// MarshalBundle encodes the generation for storage.
func (g *Generation) MarshalBundle() ([]byte, error) {
	return json.Marshal(g)
}

// UnmarshalBundle decodes a stored generation and checks it is complete.
func UnmarshalBundle(data []byte) (*Generation, error) {
	var g Generation
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode generation: %w", err)
	}
	if !g.Complete() {
		return nil, fmt.Errorf("generation %s is incomplete", g.ID)
	}
	sort.Ints(g.ModelLess)
	return &g, nil
}
