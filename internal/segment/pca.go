package segment

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Reduction is a fitted PCA projection.
type Reduction struct {
	Mean []float64 `json:"mean"`
	// Components holds one unit-length loading vector per component.
	Components [][]float64 `json:"components"`
}

// fitReduction fits PCA on rows, keeping the first k components. Component
// signs are fixed so the loading with the largest magnitude is positive.
func fitReduction(rows [][]float64, k int) (Reduction, error) {
	n, d := len(rows), len(rows[0])
	data := mat.NewDense(n, d, nil)
	mean := make([]float64, d)
	for i, r := range rows {
		data.SetRow(i, r)
		for j, v := range r {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return Reduction{}, errors.New("pca: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, available := vecs.Dims()
	if k > available {
		k = available
	}

	red := Reduction{Mean: mean, Components: make([][]float64, k)}
	for c := 0; c < k; c++ {
		comp := make([]float64, d)
		mat.Col(comp, c, &vecs)
		largest := 0
		for j := range comp {
			if math.Abs(comp[j]) > math.Abs(comp[largest]) {
				largest = j
			}
		}
		if comp[largest] < 0 {
			for j := range comp {
				comp[j] = -comp[j]
			}
		}
		red.Components[c] = comp
	}
	return red, nil
}

// Apply projects one standardised vector onto the components.
func (r Reduction) Apply(x []float64) []float64 {
	out := make([]float64, len(r.Components))
	for c, comp := range r.Components {
		var dot float64
		for j, v := range x {
			dot += (v - r.Mean[j]) * comp[j]
		}
		out[c] = dot
	}
	return out
}
