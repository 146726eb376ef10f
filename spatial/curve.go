// Package spatial implements the multi-resolution spatial index: a
// bounding-volume tree packed along a space-filling curve, published as
// immutable generations that are swapped in atomically.
package spatial

import (
	"fmt"
	"math"
)

// CurveBits is the per-axis resolution of the discretized coordinate grid.
// Three axes at 21 bits interleave into a 63-bit locality key.
const CurveBits = 21

// Curve selects the space-filling curve used for locality keys.
type Curve int

const (
	// CurveHilbert is the default. Hilbert keys have no large jumps
	// between adjacent cells, which keeps co-located leaves adjacent in
	// scan order.
	CurveHilbert Curve = iota

	// CurveMorton interleaves bits directly. Cheaper to compute, with
	// slightly worse locality at octant boundaries.
	CurveMorton
)

func (c Curve) String() string {
	switch c {
	case CurveHilbert:
		return "hilbert"
	case CurveMorton:
		return "morton"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// Discretize maps a coordinate in [-bound, bound]^3 onto the integer grid.
// Out-of-range coordinates saturate at the grid edge.
func Discretize(coord [3]float64, bound float64) [3]uint32 {
	const maxCell = uint32(1)<<CurveBits - 1
	var g [3]uint32
	scale := float64(maxCell) / (2 * bound)
	for i, c := range coord {
		if c < -bound {
			c = -bound
		} else if c > bound {
			c = bound
		}
		// Round to the nearest cell; plain truncation loses the top cell to
		// float error when c sits exactly on +bound.
		cell := math.Round((c + bound) * scale)
		if cell > float64(maxCell) {
			cell = float64(maxCell)
		}
		g[i] = uint32(cell)
	}
	return g
}

// Key computes the locality key for a coordinate.
func Key(curve Curve, coord [3]float64, bound float64) uint64 {
	g := Discretize(coord, bound)
	if curve == CurveMorton {
		return MortonKey(g[0], g[1], g[2])
	}
	return HilbertKey(g[0], g[1], g[2])
}

// MortonKey interleaves the low CurveBits bits of three axes.
func MortonKey(x, y, z uint32) uint64 {
	return spreadBits(x) | spreadBits(y)<<1 | spreadBits(z)<<2
}

// spreadBits spaces the low 21 bits of v three apart.
func spreadBits(v uint32) uint64 {
	b := uint64(v) & 0x1fffff
	b = (b | b<<32) & 0x1f00000000ffff
	b = (b | b<<16) & 0x1f0000ff0000ff
	b = (b | b<<8) & 0x100f00f00f00f00f
	b = (b | b<<4) & 0x10c30c30c30c30c3
	b = (b | b<<2) & 0x1249249249249249
	return b
}

// HilbertKey computes the 3D Hilbert curve index of a grid cell using
// Skilling's transpose algorithm.
func HilbertKey(xi, yi, zi uint32) uint64 {
	x := [3]uint32{xi, yi, zi}
	const n = 3

	// Inverse undo excess work.
	m := uint32(1) << (CurveBits - 1)
	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < n; i++ {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}

	// Gray encode.
	for i := 1; i < n; i++ {
		x[i] ^= x[i-1]
	}
	var t uint32
	for q := m; q > 1; q >>= 1 {
		if x[n-1]&q != 0 {
			t ^= q - 1
		}
	}
	for i := 0; i < n; i++ {
		x[i] ^= t
	}

	// Interleave the transposed form, most significant plane first.
	var key uint64
	for b := CurveBits - 1; b >= 0; b-- {
		for i := 0; i < n; i++ {
			key = key<<1 | uint64(x[i]>>uint(b)&1)
		}
	}
	return key
}
