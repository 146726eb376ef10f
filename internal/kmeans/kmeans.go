// Package kmeans clusters reduced-space coordinates with Lloyd's algorithm.
// It backs the Voronoi partition of the query layer, so training is
// deterministic for a fixed seed.
package kmeans

import (
	"math"
	"math/rand"
	"sort"
)

// Train computes k centroids over the given points. Initial centroids are
// drawn from the points by a seeded permutation; an empty cluster is reseeded
// from the same stream. Returns nil when there are fewer points than k.
func Train(points [][3]float64, k int, maxIter int, seed int64) [][3]float64 {
	n := len(points)
	if k <= 0 || n < k {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))

	centroids := make([][3]float64, k)
	for i, p := range rng.Perm(n)[:k] {
		centroids[i] = points[p]
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([][3]float64, k)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i, p := range points {
			best := Assign(p, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		for j := range sums {
			sums[j] = [3]float64{}
			counts[j] = 0
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d := 0; d < 3; d++ {
				sums[c][d] += p[d]
			}
		}

		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				centroids[j] = points[rng.Intn(n)]
				continue
			}
			inv := 1 / float64(counts[j])
			for d := 0; d < 3; d++ {
				centroids[j][d] = sums[j][d] * inv
			}
		}
	}

	return centroids
}

// Assign returns the index of the centroid closest to p, lowest index on ties.
func Assign(p [3]float64, centroids [][3]float64) int {
	best := -1
	min := math.MaxFloat64
	for j, c := range centroids {
		if d := sqDist(p, c); d < min {
			min = d
			best = j
		}
	}
	return best
}

// Closest returns the indices of the n centroids nearest to p in ascending
// distance, lowest index on ties.
func Closest(p [3]float64, centroids [][3]float64, n int) []int {
	k := len(centroids)
	if n > k {
		n = k
	}
	if n <= 0 {
		return nil
	}

	type cd struct {
		id   int
		dist float64
	}
	dists := make([]cd, k)
	for i, c := range centroids {
		dists[i] = cd{id: i, dist: sqDist(p, c)}
	}
	sort.Slice(dists, func(i, j int) bool {
		if dists[i].dist != dists[j].dist {
			return dists[i].dist < dists[j].dist
		}
		return dists[i].id < dists[j].id
	})

	out := make([]int, n)
	for i := range out {
		out[i] = dists[i].id
	}
	return out
}

func sqDist(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return dx*dx + dy*dy + dz*dz
}
