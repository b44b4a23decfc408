package segment

import (
	"math"
	"math/rand"
)

// kmeansResult is one Lloyd run.
type kmeansResult struct {
	centroids [][]float64
	labels    []int
	inertia   float64
}

// kmeans clusters points into k groups, keeping the lowest-inertia run out
// of restarts. All randomness comes from seed.
func kmeans(points [][]float64, k int, seed int64, restarts, maxIter int) kmeansResult {
	if restarts < 1 {
		restarts = 1
	}
	//nolint:gosec // G404: math/rand is acceptable for seeded clustering
	rng := rand.New(rand.NewSource(seed))

	var best kmeansResult
	for r := 0; r < restarts; r++ {
		res := lloyd(points, seedCentroids(points, k, rng), maxIter)
		if r == 0 || res.inertia < best.inertia {
			best = res
		}
	}
	return best
}

// seedCentroids picks k initial centroids with k-means++.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(n)]))

	dist := make([]float64, n)
	for i, p := range points {
		dist[i] = sqDist(p, centroids[0])
	}
	for len(centroids) < k {
		var total float64
		for _, d := range dist {
			total += d
		}
		next := 0
		if total == 0 {
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			var acc float64
			for i, d := range dist {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
				next = i
			}
		}
		c := clone(points[next])
		centroids = append(centroids, c)
		for i, p := range points {
			if d := sqDist(p, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

func lloyd(points [][]float64, centroids [][]float64, maxIter int) kmeansResult {
	k := len(centroids)
	labels := make([]int, len(points))
	for iter := 0; iter < maxIter; iter++ {
		changed := assign(points, centroids, labels)
		fillEmpty(points, centroids, labels)

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, len(points[0]))
		}
		for i, p := range points {
			counts[labels[i]]++
			for j, v := range p {
				sums[labels[i]][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for j := range sums[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
		if !changed && iter > 0 {
			break
		}
	}

	// Final labels always come from the final centroids so that training
	// assignments agree with nearest-centroid prediction.
	assign(points, centroids, labels)
	var inertia float64
	for i, p := range points {
		inertia += sqDist(p, centroids[labels[i]])
	}
	return kmeansResult{centroids: centroids, labels: labels, inertia: inertia}
}

// assign sets each label to its nearest centroid and reports whether any
// label changed.
func assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		c := nearest(p, centroids)
		if c != labels[i] {
			labels[i] = c
			changed = true
		}
	}
	return changed
}

// fillEmpty moves the point farthest from its centroid into each empty
// cluster.
func fillEmpty(points, centroids [][]float64, labels []int) {
	counts := make([]int, len(centroids))
	for _, l := range labels {
		counts[l]++
	}
	for c := range centroids {
		if counts[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range points {
			if counts[labels[i]] < 2 {
				continue
			}
			if d := sqDist(p, centroids[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			return
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c]++
		centroids[c] = clone(points[far])
	}
}

// nearest returns the index of the closest centroid, ties to the lowest.
func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
