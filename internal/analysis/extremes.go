package analysis

import (
	"time"

	"chainpulse/internal/domain"
)

// ExtremesResult describes where a metric spent time beyond its
// historical percentile thresholds.
type ExtremesResult struct {
	UpperThreshold float64     `json:"upper_threshold"`
	LowerThreshold float64     `json:"lower_threshold"`
	UpperDates     []time.Time `json:"upper_extreme_dates"`
	LowerDates     []time.Time `json:"lower_extreme_dates"`
	UpperCount     int         `json:"upper_extreme_count"`
	LowerCount     int         `json:"lower_extreme_count"`
}

// Extremes flags points at or beyond the given percentile on both tails.
// percentile is the upper tail, e.g. 95 flags the top and bottom 5%.
func Extremes(points []domain.MetricPoint, percentile float64) (ExtremesResult, error) {
	values := Values(points)

	upper, err := Percentile(values, percentile)
	if err != nil {
		return ExtremesResult{}, err
	}
	lower, err := Percentile(values, 100-percentile)
	if err != nil {
		return ExtremesResult{}, err
	}

	result := ExtremesResult{
		UpperThreshold: upper,
		LowerThreshold: lower,
	}
	for _, p := range points {
		if p.Value >= upper {
			result.UpperDates = append(result.UpperDates, p.Timestamp)
		}
		if p.Value <= lower {
			result.LowerDates = append(result.LowerDates, p.Timestamp)
		}
	}
	result.UpperCount = len(result.UpperDates)
	result.LowerCount = len(result.LowerDates)
	return result, nil
}

// Values extracts the raw value column from a series of points.
func Values(points []domain.MetricPoint) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}
