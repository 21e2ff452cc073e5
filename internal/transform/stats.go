package transform

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// groupStat is a per-group pair of statistics, e.g. (low, high) or
// (mean, std).
type groupStat struct {
	a, b float64
}

// computeGroups evaluates fn for every group. Groups are independent and are
// computed concurrently.
func computeGroups(groups [][]float64, fn func([]float64) groupStat) []groupStat {
	out := make([]groupStat, len(groups))
	if len(groups) == 1 {
		out[0] = fn(groups[0])
		return out
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, vals := range groups {
		g.Go(func() error {
			out[i] = fn(vals)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// percentileRange returns the approximate values at two percentile
// fractions, each interpolated linearly between the extremes:
// min + (max-min)*fraction.
func percentileRange(lowFrac, highFrac float64) func([]float64) groupStat {
	return func(vals []float64) groupStat {
		lo, hi := floats.Min(vals), floats.Max(vals)
		return groupStat{a: (hi-lo)*lowFrac + lo, b: (hi-lo)*highFrac + lo}
	}
}

// meanStd returns the mean and population standard deviation.
func meanStd(vals []float64) groupStat {
	mean, std := stat.PopMeanStdDev(vals, nil)
	return groupStat{a: mean, b: std}
}
