package transform

import (
	"fmt"
	"strings"

	"github.com/seantiz/modelrunner/internal/tensor"
)

// batchAxis is never iterated over; it always belongs to a plane's extent.
const batchAxis = 'b'

// maxNamedAxes is the largest number of axes a per-plane statistic may span.
const maxNamedAxes = 2

// scope partitions the elements of a tensor into groups that each get one
// statistic.
type scope struct {
	groups int
	// group[i] is the group of flat element i.
	group []int
}

// iterationAxes returns the axes of tensorAxes that are neither named nor the
// batch axis, and whether a single global statistic applies.
func iterationAxes(tensorAxes, named string) (iter string, global bool) {
	if named == "" {
		return "", true
	}
	var b strings.Builder
	nonBatch := 0
	for _, ax := range tensorAxes {
		if ax == batchAxis {
			continue
		}
		nonBatch++
		if !strings.ContainsRune(named, ax) {
			b.WriteRune(ax)
		}
	}
	iter = b.String()
	if iter == "" || len(iter) == nonBatch {
		return "", true
	}
	return iter, false
}

// checkScope validates that named can be used as a statistic scope for t.
func checkScope(op string, t *tensor.Tensor, named string) error {
	if _, global := iterationAxes(t.Axes(), named); global {
		return nil
	}
	if len(named) > maxNamedAxes {
		return fmt.Errorf("%s: %w: %d named axes %q (at most %d)", op, ErrUnsupportedScope, len(named), named, maxNamedAxes)
	}
	return nil
}

// resolveScope groups the elements of t. Elements sharing every coordinate
// along the iteration axes fall in the same group; the named axes and the
// batch axis form each group's extent.
func resolveScope(op string, t *tensor.Tensor, named string) (scope, error) {
	if err := checkScope(op, t, named); err != nil {
		return scope{}, err
	}
	n := t.Len()
	iter, global := iterationAxes(t.Axes(), named)
	if global {
		return scope{groups: 1, group: make([]int, n)}, nil
	}

	shape := t.Shape()
	strides := tensor.Strides(shape)
	dims := make([]int, len(iter))
	radix := make([]int, len(iter))
	groups := 1
	for k, ax := range iter {
		dims[k] = t.AxisIndex(ax)
		radix[k] = groups
		groups *= shape[dims[k]]
	}

	group := make([]int, n)
	parallelFor(n, func(i int) {
		g := 0
		for k, d := range dims {
			g += (i / strides[d] % shape[d]) * radix[k]
		}
		group[i] = g
	})
	return scope{groups: groups, group: group}, nil
}

// split gathers the values of each group, preserving element order.
func (s scope) split(vals []float64) [][]float64 {
	if s.groups == 1 {
		return [][]float64{vals}
	}
	out := make([][]float64, s.groups)
	per := len(vals) / s.groups
	for g := range out {
		out[g] = make([]float64, 0, per)
	}
	for i, v := range vals {
		out[s.group[i]] = append(out[s.group[i]], v)
	}
	return out
}
