package analysis

import (
	"testing"
	"time"

	"chainpulse/internal/domain"
)

func seriesOf(values ...float64) []domain.MetricPoint {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]domain.MetricPoint, len(values))
	for i, v := range values {
		points[i] = domain.MetricPoint{
			Metric:    "indicators/sopr",
			Asset:     "BTC",
			Timestamp: base.AddDate(0, 0, i),
			Value:     v,
		}
	}
	return points
}

func TestExtremes(t *testing.T) {
	// 1..20: the 95th percentile lands between 19 and 20.
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i + 1)
	}
	points := seriesOf(values...)

	result, err := Extremes(points, 95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	approxEqual(t, "upper threshold", 19.05, result.UpperThreshold)
	approxEqual(t, "lower threshold", 1.95, result.LowerThreshold)
	if result.UpperCount != 1 {
		t.Errorf("expected 1 upper extreme, got %d", result.UpperCount)
	}
	if result.LowerCount != 1 {
		t.Errorf("expected 1 lower extreme, got %d", result.LowerCount)
	}
	if len(result.UpperDates) != 1 || !result.UpperDates[0].Equal(points[19].Timestamp) {
		t.Errorf("unexpected upper extreme dates: %v", result.UpperDates)
	}
}

func TestExtremesEmpty(t *testing.T) {
	if _, err := Extremes(nil, 95); err == nil {
		t.Error("expected error for empty series")
	}
}
