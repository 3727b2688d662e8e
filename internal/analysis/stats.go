package analysis

import (
	"errors"
	"math"
	"sort"
)

var ErrEmptySeries = errors.New("empty series")

func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

func StdDev(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	mean, _ := Mean(values)
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values))), nil
}

// Percentile computes the p-th percentile (0..100) with linear
// interpolation between closest ranks. p is clamped to [0, 100].
func Percentile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0], nil
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower], nil
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower]), nil
}

// ZScore reports how many standard deviations the last value sits from
// the mean of the whole series.
func ZScore(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	mean, _ := Mean(values)
	std, _ := StdDev(values)
	if std == 0 {
		return 0, nil
	}
	return (values[len(values)-1] - mean) / std, nil
}

// Gini computes the Gini coefficient of a non-negative distribution.
// 0 means perfectly equal, values approaching 1 mean concentrated.
func Gini(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var total, weighted float64
	for i, v := range sorted {
		if v < 0 {
			return 0, errors.New("gini requires non-negative values")
		}
		total += v
		weighted += float64(i+1) * v
	}
	if total == 0 {
		return 0, nil
	}

	n := float64(len(sorted))
	return (2*weighted)/(n*total) - (n+1)/n, nil
}

// Herfindahl computes the Herfindahl-Hirschman concentration index:
// the sum of squared shares of each value in the total.
func Herfindahl(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	var total float64
	for _, v := range values {
		total += v
	}
	if total == 0 {
		return 0, nil
	}
	var hhi float64
	for _, v := range values {
		share := v / total
		hhi += share * share
	}
	return hhi, nil
}

// PctChange returns period-over-period fractional changes shifted by lag.
// The first lag entries have no predecessor and are returned as NaN so
// callers can mask them out, mirroring how rolling windows warm up.
func PctChange(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < lag || values[i-lag] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i]/values[i-lag] - 1
	}
	return out
}

// RollingMean returns the trailing moving average with the given window.
// Entries before the window fills are NaN.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i := range values {
		sum += values[i]
		if i >= window {
			sum -= values[i-window]
		}
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}

// RollingStd returns the trailing population standard deviation over the
// window. Entries before the window fills are NaN.
func RollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		std, _ := StdDev(values[i-window+1 : i+1])
		out[i] = std
	}
	return out
}
