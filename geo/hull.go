package geo

import "sort"

// Point2D is a planar point for the hull and triangulation helpers. Callers
// supply their own 2D projection of coordinates; these helpers never touch
// the stores.
type Point2D struct {
	X, Y float64
}

// ConvexHull2D returns the convex hull of the points in counter-clockwise
// order starting from the lexicographically smallest vertex, using Andrew's
// monotone chain. Collinear boundary points are excluded. Inputs with fewer
// than 3 distinct points return the distinct points sorted.
func ConvexHull2D(points []Point2D) []Point2D {
	pts := dedupe(points)
	if len(pts) < 3 {
		return pts
	}

	var lower []Point2D
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	var upper []Point2D
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	// Drop each chain's last point, it repeats the other chain's first.
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// cross is the z component of (b-a) x (c-a): positive for a left turn.
func cross(a, b, c Point2D) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// dedupe sorts lexicographically and removes exact duplicates.
func dedupe(points []Point2D) []Point2D {
	pts := append([]Point2D(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	out := pts[:0]
	for i, p := range pts {
		if i > 0 && p == pts[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}
