// Package threshold validates captured frames against calibration
// limits.
package threshold

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"touchdiag.com/grid"
)

// Bound is an optional limit. The zero Bound is unbounded.
type Bound struct {
	Value int
	Set   bool
}

func Limit(v int) Bound {
	return Bound{Value: v, Set: true}
}

func (b Bound) String() string {
	if !b.Set {
		return "-"
	}
	return fmt.Sprint(b.Value)
}

// Thresholds are the limits a frame is validated against.
type Thresholds interface {
	// Check reports whether the thresholds apply to a grid of n nodes.
	Check(n int) error
	bounds(node int) (min, max Bound)
}

// Uniform applies the same limits to every node.
type Uniform struct {
	Min, Max Bound
}

func (u Uniform) Check(n int) error {
	if u.Min.Set && u.Max.Set && u.Min.Value > u.Max.Value {
		return fmt.Errorf("threshold: min %d exceeds max %d", u.Min.Value, u.Max.Value)
	}
	return nil
}

func (u Uniform) bounds(int) (Bound, Bound) {
	return u.Min, u.Max
}

// PerNode carries one limit per node, indexed row-major in displayed
// coordinates. A nil slice leaves that side unbounded.
type PerNode struct {
	Min, Max []int
}

func (p PerNode) Check(n int) error {
	if p.Min != nil && len(p.Min) != n {
		return fmt.Errorf("threshold: %d per-node minimums for %d nodes", len(p.Min), n)
	}
	if p.Max != nil && len(p.Max) != n {
		return fmt.Errorf("threshold: %d per-node maximums for %d nodes", len(p.Max), n)
	}
	return nil
}

func (p PerNode) bounds(i int) (min, max Bound) {
	if p.Min != nil {
		min = Limit(p.Min[i])
	}
	if p.Max != nil {
		max = Limit(p.Max[i])
	}
	return min, max
}

// Validate returns the number of nodes of f outside th, ignoring nodes
// in invalid. Failing nodes are logged with a 1-based sequence number.
// The caller must have checked th against the frame size.
func Validate(log *zap.SugaredLogger, desc string, f *grid.Frame, invalid grid.NodeSet, th Thresholds) int {
	if th == nil {
		return 0
	}
	split := strings.Repeat("-", 30)
	failed := 0
	for r := range f.Rows {
		for c := range f.Cols {
			if invalid.Contains(r, c) {
				continue
			}
			i := r*f.Cols + c
			v := int(f.Samples[i])
			min, max := th.bounds(i)
			if (!min.Set || v >= min.Value) && (!max.Set || v <= max.Value) {
				continue
			}
			if failed == 0 {
				log.Infof("%s test failed nodes:", desc)
				log.Info(split)
			}
			failed++
			log.Infof("  %3d: [%-2d][%-2d] = %d", failed, r, c, v)
		}
	}
	if failed > 0 {
		log.Info(split)
		log.Infof("%s test %d node total failed", desc, failed)
	}
	return failed
}
