package segment

import (
	"math"
)

const (
	lambdaLow  = -5.0
	lambdaHigh = 5.0
	lambdaTol  = 1e-9
)

// PowerTransform is a fitted per-feature Yeo-Johnson transform followed by
// standardisation.
type PowerTransform struct {
	Lambdas []float64 `json:"lambdas"`
	Means   []float64 `json:"means"`
	Scales  []float64 `json:"scales"`
}

// fitPowerTransform fits one lambda per column of rows, then the mean and
// population standard deviation of the transformed column.
func fitPowerTransform(rows [][]float64) PowerTransform {
	d := len(rows[0])
	pt := PowerTransform{
		Lambdas: make([]float64, d),
		Means:   make([]float64, d),
		Scales:  make([]float64, d),
	}
	col := make([]float64, len(rows))
	for j := 0; j < d; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		pt.Lambdas[j] = fitLambda(col)

		var sum float64
		for i := range col {
			col[i] = yeoJohnson(col[i], pt.Lambdas[j])
			sum += col[i]
		}
		mean := sum / float64(len(col))
		var ss float64
		for _, v := range col {
			ss += (v - mean) * (v - mean)
		}
		std := math.Sqrt(ss / float64(len(col)))
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		pt.Means[j] = mean
		pt.Scales[j] = std
	}
	return pt
}

// Apply transforms one feature vector.
func (pt PowerTransform) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (yeoJohnson(v, pt.Lambdas[j]) - pt.Means[j]) / pt.Scales[j]
	}
	return out
}

func yeoJohnson(x, lambda float64) float64 {
	if x >= 0 {
		if math.Abs(lambda) < 1e-12 {
			return math.Log1p(x)
		}
		return (math.Pow(x+1, lambda) - 1) / lambda
	}
	if math.Abs(lambda-2) < 1e-12 {
		return -math.Log1p(-x)
	}
	return -(math.Pow(-x+1, 2-lambda) - 1) / (2 - lambda)
}

// logLikelihood is the Yeo-Johnson profile log-likelihood of lambda, up to
// a constant.
func logLikelihood(col []float64, lambda float64) float64 {
	n := float64(len(col))
	var sum, jacobian float64
	t := make([]float64, len(col))
	for i, x := range col {
		t[i] = yeoJohnson(x, lambda)
		sum += t[i]
		jacobian += math.Copysign(math.Log1p(math.Abs(x)), x)
	}
	mean := sum / n
	var ss float64
	for _, v := range t {
		ss += (v - mean) * (v - mean)
	}
	variance := ss / n
	if variance <= 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
		return math.Inf(-1)
	}
	return -n/2*math.Log(variance) + (lambda-1)*jacobian
}

// fitLambda maximises the log-likelihood over [lambdaLow, lambdaHigh] by
// golden-section search. A constant column keeps the identity transform.
func fitLambda(col []float64) float64 {
	constant := true
	for _, v := range col[1:] {
		if v != col[0] {
			constant = false
			break
		}
	}
	if constant {
		return 1
	}

	invPhi := (math.Sqrt(5) - 1) / 2
	a, b := lambdaLow, lambdaHigh
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := logLikelihood(col, c), logLikelihood(col, d)
	for i := 0; i < 200 && b-a > lambdaTol; i++ {
		if fc >= fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = logLikelihood(col, c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = logLikelihood(col, d)
		}
	}
	return (a + b) / 2
}
