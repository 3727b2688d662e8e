package analysis

import (
	"math"
)

// PredictivePower summarizes how well an indicator series anticipates a
// price series. Negative lags mean the indicator leads the price.
type PredictivePower struct {
	OptimalLag         int             `json:"optimal_lag"`
	OptimalCorrelation float64         `json:"optimal_correlation"`
	DirectionAccuracy  float64         `json:"direction_accuracy"`
	Correlations       map[int]float64 `json:"correlations"`
}

// Correlation computes the Pearson correlation of two equal-length
// series, skipping pairs where either side is NaN.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var sumA, sumB float64
	var count int
	for i := 0; i < n; i++ {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		sumA += a[i]
		sumB += b[i]
		count++
	}
	if count < 2 {
		return math.NaN()
	}
	meanA := sumA / float64(count)
	meanB := sumB / float64(count)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}

// CalculatePredictivePower scans correlations across lags in
// [-maxLag, maxLag] between an indicator and a price series, picks the
// lag with the strongest absolute correlation, and scores how often the
// indicator's direction matched the next period's price direction.
// Both series must be aligned sample-for-sample.
func CalculatePredictivePower(indicator, price []float64, maxLag int) PredictivePower {
	result := PredictivePower{Correlations: map[int]float64{}}

	n := len(indicator)
	if len(price) < n {
		n = len(price)
	}
	if n < maxLag*2 {
		return result
	}
	indicator = indicator[:n]
	price = price[:n]

	for lag := -maxLag; lag <= maxLag; lag++ {
		var corr float64
		switch {
		case lag < 0:
			// Indicator leads the price.
			corr = Correlation(indicator[:n+lag], price[-lag:])
		case lag > 0:
			// Price leads the indicator.
			corr = Correlation(indicator[lag:], price[:n-lag])
		default:
			corr = Correlation(indicator, price)
		}
		if !math.IsNaN(corr) {
			result.Correlations[lag] = corr
		}
	}

	for lag, corr := range result.Correlations {
		if math.Abs(corr) > math.Abs(result.OptimalCorrelation) {
			result.OptimalCorrelation = corr
			result.OptimalLag = lag
		}
	}

	result.DirectionAccuracy = directionAccuracy(indicator, price)
	return result
}

// directionAccuracy is the share of samples where the indicator's
// period-over-period direction matched the direction of the NEXT
// period's price move, in percent. With no usable samples it reports
// the coin-flip baseline of 50.
func directionAccuracy(indicator, price []float64) float64 {
	indChange := PctChange(indicator, 1)
	priceChange := PctChange(price, 1)

	var matches, total int
	for i := 0; i < len(indChange)-1; i++ {
		next := priceChange[i+1]
		if math.IsNaN(indChange[i]) || math.IsNaN(next) {
			continue
		}
		if (indChange[i] > 0) == (next > 0) {
			matches++
		}
		total++
	}
	if total == 0 {
		return 50.0
	}
	return float64(matches) / float64(total) * 100
}
