package geo

import "math"

// VoronoiMembership returns the index of the centroid whose cell contains q
// together with q's distance to the nearest cell boundary. The boundary
// distance is the distance to the bisector plane between the two nearest
// centroids; a small value means the assignment is fragile and adjacent
// cells should be consulted too. Returns (-1, 0) for an empty centroid set.
func VoronoiMembership(q [3]float64, centroids [][3]float64) (int, float64) {
	if len(centroids) == 0 {
		return -1, 0
	}

	best, second := -1, -1
	bestD, secondD := math.MaxFloat64, math.MaxFloat64
	for i, c := range centroids {
		dx := q[0] - c[0]
		dy := q[1] - c[1]
		dz := q[2] - c[2]
		d := math.Sqrt(dx*dx + dy*dy + dz*dz)
		if d < bestD {
			second, secondD = best, bestD
			best, bestD = i, d
		} else if d < secondD {
			second, secondD = i, d
		}
	}

	if second < 0 {
		// A single cell covers everything; there is no boundary.
		return best, math.MaxFloat64
	}
	return best, (secondD - bestD) / 2
}
