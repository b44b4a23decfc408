// Package segment clusters customers by their feature vectors. A fitted
// Model chains a Yeo-Johnson power transform with standardisation, a PCA
// reduction and k-means centroids. Fitting is deterministic for a given
// input and seed.
package segment

import (
	"fmt"
	"math"

	"orderrec/internal/apperr"
	"orderrec/internal/ledger"
)

// MaxComponents caps the PCA reduction.
const MaxComponents = 2

// Config controls a segmentation fit.
type Config struct {
	Clusters      int
	Seed          int64
	Restarts      int
	MaxIterations int
}

// DefaultConfig mirrors the configured defaults.
func DefaultConfig() Config {
	return Config{Clusters: 3, Seed: 42, Restarts: 10, MaxIterations: 300}
}

// Model is a fitted segmentation pipeline.
type Model struct {
	Features  []string       `json:"features"`
	Transform PowerTransform `json:"transform"`
	Reduction Reduction      `json:"reduction"`
	Centroids [][]float64    `json:"centroids"`
	Inertia   float64        `json:"inertia"`
}

// Clusters is the number of clusters the model predicts into.
func (m *Model) Clusters() int { return len(m.Centroids) }

// Embed maps a raw feature vector into the reduced space.
func (m *Model) Embed(vec []float64) []float64 {
	return m.Reduction.Apply(m.Transform.Apply(vec))
}

// Predict returns the cluster id of a raw feature vector: the nearest
// centroid, ties going to the lowest id.
func (m *Model) Predict(vec []float64) int {
	return nearest(m.Embed(vec), m.Centroids)
}

// Fit fits a model on customers and returns it along with the cluster id of
// every customer.
func Fit(customers []ledger.CustomerFeatures, cfg Config) (*Model, map[string]int, error) {
	n := len(customers)
	if n < 2 {
		return nil, nil, apperr.Precondition("segmentation needs at least 2 customers, have %d", n)
	}
	if cfg.Clusters < 1 {
		return nil, nil, apperr.Configuration("cluster count must be positive, got %d", cfg.Clusters)
	}
	if cfg.Clusters > n {
		return nil, nil, apperr.Precondition("cluster count %d exceeds customer count %d", cfg.Clusters, n)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 300
	}

	rows := make([][]float64, n)
	for i, c := range customers {
		rows[i] = c.Vector()
		for j, v := range rows[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, apperr.DataIntegrity("customer %s: feature %s is not finite", c.CustomerID, ledger.FeatureNames[j])
			}
		}
	}

	m := &Model{Features: append([]string(nil), ledger.FeatureNames...)}
	m.Transform = fitPowerTransform(rows)

	scaled := make([][]float64, n)
	for i, r := range rows {
		scaled[i] = m.Transform.Apply(r)
	}

	var err error
	m.Reduction, err = fitReduction(scaled, min(MaxComponents, n-1))
	if err != nil {
		return nil, nil, fmt.Errorf("fit reduction: %w", err)
	}

	embedded := make([][]float64, n)
	for i, r := range scaled {
		embedded[i] = m.Reduction.Apply(r)
	}

	res := kmeans(embedded, cfg.Clusters, cfg.Seed, cfg.Restarts, cfg.MaxIterations)
	m.Centroids = res.centroids
	m.Inertia = res.inertia

	assignments := make(map[string]int, n)
	for i, c := range customers {
		assignments[c.CustomerID] = res.labels[i]
	}
	return m, assignments, nil
}
