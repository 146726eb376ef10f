package projection

import (
	"fmt"
	"math"
)

// DimensionMismatchError indicates a vector whose dimension does not match
// the anchor set's.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Project computes the 3D coordinate for an embedding against an anchor set.
//
// Exactly 3 anchors use the closed form (two linear equations plus the
// non-negative z root); more anchors solve a linearized least-squares system.
// Ill-conditioned inputs never fail: they produce a clamped, low-confidence
// projection that is excluded from the indexed coarse filter.
//
// The result is deterministic for identical (vector, anchor set version).
func Project(vector []float32, set *AnchorSet) (Projection, error) {
	return ProjectBounded(vector, set, DefaultBound)
}

// ProjectBounded is Project with an explicit clamp bound.
func ProjectBounded(vector []float32, set *AnchorSet, bound float64) (Projection, error) {
	if len(vector) != set.Dimension {
		return Projection{}, &DimensionMismatchError{Expected: set.Dimension, Actual: len(vector)}
	}

	distFn, err := set.Metric.Provider()
	if err != nil {
		return Projection{}, err
	}

	k := set.Len()
	dists := make([]float64, k)
	for i := 0; i < k; i++ {
		dists[i] = distFn(vector, set.anchors[i])
	}

	conf := ConfidenceHigh
	if set.degenerate {
		conf = ConfidenceLow
	}
	if violatesTriangleInequality(dists, set.pairwise) {
		conf = ConfidenceLow
	}

	var coord [3]float64
	var ok bool
	if k == 3 {
		coord, ok = trilaterate3(set.positions, dists)
	} else {
		coord, ok = solveMultilateration(set.positions, dists)
	}
	if !ok {
		conf = ConfidenceLow
	}

	for i := range coord {
		if math.IsNaN(coord[i]) || math.IsInf(coord[i], 0) {
			coord[i] = 0
			conf = ConfidenceLow
		}
		if coord[i] > bound {
			coord[i] = bound
		} else if coord[i] < -bound {
			coord[i] = -bound
		}
	}

	return Projection{
		Coord:         coord,
		AnchorVersion: set.Version,
		Confidence:    conf,
	}, nil
}

// trilaterate3 solves the exact 3-anchor case. With anchor 0 at the origin,
// anchor 1 on +x and anchor 2 in the xy plane, x and y fall out of two linear
// equations and z is the sphere residual. The +z branch of the two mirror
// solutions is chosen so projection stays deterministic.
func trilaterate3(p [][3]float64, r []float64) ([3]float64, bool) {
	ax := p[1][0]
	bx, by := p[2][0], p[2][1]
	if ax < degenEps || math.Abs(by) < degenEps {
		return [3]float64{}, false
	}

	x := (ax*ax + r[0]*r[0] - r[1]*r[1]) / (2 * ax)
	y := (bx*bx + by*by + r[0]*r[0] - r[2]*r[2] - 2*bx*x) / (2 * by)

	z2 := r[0]*r[0] - x*x - y*y
	ok := true
	if z2 < 0 {
		// Beyond rounding slack the spheres do not intersect; the input
		// distances are inconsistent with the anchor geometry.
		if z2 < -zSlack(r[0]) {
			ok = false
		}
		z2 = 0
	}
	return [3]float64{x, y, math.Sqrt(z2)}, ok
}

// solveMultilateration positions a point from distances to n >= 3 reference
// positions by linearizing against positions[0] and solving the 3x3 normal
// equations. A near-singular system (coplanar references) falls back to a 2D
// solve with z recovered from the first sphere.
func solveMultilateration(p [][3]float64, r []float64) ([3]float64, bool) {
	n := len(p)
	if n < 3 || len(r) != n {
		return [3]float64{}, false
	}

	p0 := p[0]
	n0 := p0[0]*p0[0] + p0[1]*p0[1] + p0[2]*p0[2]

	// Normal equations AtA x = Atb for rows 2(p_i - p_0).
	var ata [3][3]float64
	var atb [3]float64
	for i := 1; i < n; i++ {
		row := [3]float64{
			2 * (p[i][0] - p0[0]),
			2 * (p[i][1] - p0[1]),
			2 * (p[i][2] - p0[2]),
		}
		ni := p[i][0]*p[i][0] + p[i][1]*p[i][1] + p[i][2]*p[i][2]
		b := ni - n0 + r[0]*r[0] - r[i]*r[i]

		for a := 0; a < 3; a++ {
			for c := 0; c < 3; c++ {
				ata[a][c] += row[a] * row[c]
			}
			atb[a] += row[a] * b
		}
	}

	if x, ok := solve3(ata, atb); ok {
		return x, true
	}

	// Coplanar references: solve x,y only and recover z from sphere 0.
	ata2 := [2][2]float64{{ata[0][0], ata[0][1]}, {ata[1][0], ata[1][1]}}
	atb2 := [2]float64{atb[0], atb[1]}
	det := ata2[0][0]*ata2[1][1] - ata2[0][1]*ata2[1][0]
	if math.Abs(det) < degenEps {
		return [3]float64{}, false
	}
	x := (atb2[0]*ata2[1][1] - ata2[0][1]*atb2[1]) / det
	y := (ata2[0][0]*atb2[1] - atb2[0]*ata2[1][0]) / det

	dx := x - p0[0]
	dy := y - p0[1]
	z2 := r[0]*r[0] - dx*dx - dy*dy
	ok := true
	if z2 < 0 {
		if z2 < -zSlack(r[0]) {
			ok = false
		}
		z2 = 0
	}
	return [3]float64{x, y, p0[2] + math.Sqrt(z2)}, ok
}

// solve3 solves a 3x3 linear system by Cramer's rule.
func solve3(m [3][3]float64, b [3]float64) ([3]float64, bool) {
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
	if math.Abs(det) < degenEps {
		return [3]float64{}, false
	}

	var x [3]float64
	for col := 0; col < 3; col++ {
		mm := m
		for row := 0; row < 3; row++ {
			mm[row][col] = b[row]
		}
		x[col] = (mm[0][0]*(mm[1][1]*mm[2][2]-mm[1][2]*mm[2][1]) -
			mm[0][1]*(mm[1][0]*mm[2][2]-mm[1][2]*mm[2][0]) +
			mm[0][2]*(mm[1][0]*mm[2][1]-mm[1][1]*mm[2][0])) / det
	}
	return x, true
}

// violatesTriangleInequality reports whether the measured anchor distances
// are inconsistent with the anchors' own pairwise distances beyond rounding
// slack. Such measurements cannot be trilaterated faithfully.
func violatesTriangleInequality(r []float64, pairwise [][]float64) bool {
	for i := 0; i < len(r); i++ {
		for j := i + 1; j < len(r); j++ {
			d := pairwise[i][j]
			tol := 1e-6*(r[i]+r[j]+d) + 1e-9
			if r[i]+r[j] < d-tol {
				return true
			}
			if math.Abs(r[i]-r[j]) > d+tol {
				return true
			}
		}
	}
	return false
}

func zSlack(r0 float64) float64 {
	return 1e-6*r0*r0 + 1e-9
}
