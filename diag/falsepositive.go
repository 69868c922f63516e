package diag

import (
	"slices"

	"touchdiag.com/grid"
)

// FalsePositive reports whether a failing open-circuit frame is a known
// firmware artefact rather than a defect.
type FalsePositive func(f *grid.Frame) bool

// ZeroResidue matches frames whose count of zero samples, modulo
// Modulus, is one of Remainders.
type ZeroResidue struct {
	Modulus    int
	Remainders []int
}

// DefaultZeroResidue matches the incomplete frames published by
// firmware that hasn't finished scanning after entering detection
// mode.
var DefaultZeroResidue = ZeroResidue{Modulus: 100, Remainders: []int{0, 92, 96, 98}}

func (z ZeroResidue) Match(f *grid.Frame) bool {
	if z.Modulus <= 0 {
		return false
	}
	return slices.Contains(z.Remainders, f.Count(0)%z.Modulus)
}
