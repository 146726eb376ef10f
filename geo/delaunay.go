package geo

import (
	"math"
	"sort"
)

// Triangle references three vertices of the input slice passed to Delaunay2D,
// ordered ascending.
type Triangle struct {
	A, B, C int
}

// Delaunay2D triangulates the points with the Bowyer-Watson incremental
// algorithm. Duplicate points are ignored; fewer than 3 distinct points (or
// fully collinear input) yield no triangles. Triangles are returned in a
// deterministic order.
func Delaunay2D(points []Point2D) []Triangle {
	// Map distinct points back to their first index in the input.
	firstIdx := make(map[Point2D]int, len(points))
	var pts []Point2D
	var idx []int
	for i, p := range points {
		if _, dup := firstIdx[p]; dup {
			continue
		}
		firstIdx[p] = i
		pts = append(pts, p)
		idx = append(idx, i)
	}
	if len(pts) < 3 {
		return nil
	}

	// Super-triangle enclosing all points.
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range pts {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	d := math.Max(maxX-minX, maxY-minY)
	if d == 0 {
		d = 1
	}
	midX, midY := (minX+maxX)/2, (minY+maxY)/2

	super := []Point2D{
		{midX - 20*d, midY - d},
		{midX, midY + 20*d},
		{midX + 20*d, midY - d},
	}
	all := append(append([]Point2D(nil), pts...), super...)
	s0, s1, s2 := len(pts), len(pts)+1, len(pts)+2

	type tri struct{ a, b, c int }
	type edge struct{ u, v int }

	tris := []tri{{s0, s1, s2}}

	for pi := range pts {
		p := all[pi]

		// Triangles whose circumcircle contains p are invalid.
		var bad []int
		for ti, t := range tris {
			if inCircumcircle(all[t.a], all[t.b], all[t.c], p) {
				bad = append(bad, ti)
			}
		}

		// The boundary of the invalid region is every edge that belongs to
		// exactly one invalid triangle.
		edgeCount := map[edge]int{}
		for _, ti := range bad {
			t := tris[ti]
			for _, e := range [][2]int{{t.a, t.b}, {t.b, t.c}, {t.c, t.a}} {
				u, v := e[0], e[1]
				if u > v {
					u, v = v, u
				}
				edgeCount[edge{u, v}]++
			}
		}

		kept := tris[:0]
		badSet := map[int]bool{}
		for _, ti := range bad {
			badSet[ti] = true
		}
		for ti, t := range tris {
			if !badSet[ti] {
				kept = append(kept, t)
			}
		}
		tris = kept

		// Retriangulate the hole: one new triangle per boundary edge.
		var boundary []edge
		for e, n := range edgeCount {
			if n == 1 {
				boundary = append(boundary, e)
			}
		}
		sort.Slice(boundary, func(i, j int) bool {
			if boundary[i].u != boundary[j].u {
				return boundary[i].u < boundary[j].u
			}
			return boundary[i].v < boundary[j].v
		})
		for _, e := range boundary {
			tris = append(tris, tri{e.u, e.v, pi})
		}
	}

	// Strip triangles touching the super-triangle and map back to input
	// indices.
	var out []Triangle
	for _, t := range tris {
		if t.a >= s0 || t.b >= s0 || t.c >= s0 {
			continue
		}
		v := []int{idx[t.a], idx[t.b], idx[t.c]}
		sort.Ints(v)
		out = append(out, Triangle{A: v[0], B: v[1], C: v[2]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		if out[i].B != out[j].B {
			return out[i].B < out[j].B
		}
		return out[i].C < out[j].C
	})
	return out
}

// inCircumcircle reports whether p lies strictly inside the circumcircle of
// triangle abc.
func inCircumcircle(a, b, c, p Point2D) bool {
	// Orient abc counter-clockwise so the determinant sign is meaningful.
	if cross(a, b, c) < 0 {
		b, c = c, b
	}

	ax, ay := a.X-p.X, a.Y-p.Y
	bx, by := b.X-p.X, b.Y-p.Y
	cx, cy := c.X-p.X, c.Y-p.Y

	det := (ax*ax+ay*ay)*(bx*cy-by*cx) -
		(bx*bx+by*by)*(ax*cy-ay*cx) +
		(cx*cx+cy*cy)*(ax*by-ay*bx)
	return det > 0
}
