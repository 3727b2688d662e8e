package analysis

import (
	"math"

	"chainpulse/internal/domain"
)

type Regime string

const (
	RegimeBull     Regime = "Bull"
	RegimeBear     Regime = "Bear"
	RegimeCrash    Regime = "Crash"
	RegimeSideways Regime = "Sideways"
	RegimeUnknown  Regime = "Unknown"
)

// RegimeWindow is the long moving-average window, in samples, the
// detector needs before it will label anything.
const RegimeWindow = 200

// RegimeResult is the labeled state of the market at the end of a
// daily close series, with the indicator values that produced it.
type RegimeResult struct {
	Regime      Regime  `json:"regime"`
	Price       float64 `json:"price"`
	MA200       float64 `json:"ma_200"`
	MA50        float64 `json:"ma_50"`
	MA20        float64 `json:"ma_20"`
	Returns7d   float64 `json:"returns_7d"`
	Returns30d  float64 `json:"returns_30d"`
	Volatility  float64 `json:"volatility"`
	SampleCount int     `json:"sample_count"`
}

// DetectRegime classifies the latest point of a daily close series.
//
// Bull: price above the 200-day average, 50-day above 200-day, and the
// 30-day return above +10%. Bear is the mirror image. Crash overrides
// everything: a 7-day drawdown beyond -20% or a 3-day cumulative return
// below -15%. Anything else is Sideways. Series shorter than the long
// window come back Unknown.
func DetectRegime(closes []domain.MetricPoint) RegimeResult {
	labels := LabelRegimes(closes)
	if len(labels) == 0 {
		return RegimeResult{Regime: RegimeUnknown, SampleCount: len(closes)}
	}
	return labels[len(labels)-1]
}

// LabelRegimes labels every point of the series that has enough history
// behind it. The result is aligned to closes[RegimeWindow-1:].
func LabelRegimes(closes []domain.MetricPoint) []RegimeResult {
	if len(closes) < RegimeWindow {
		return nil
	}

	prices := Values(closes)
	ma200 := RollingMean(prices, 200)
	ma50 := RollingMean(prices, 50)
	ma20 := RollingMean(prices, 20)
	ret1 := PctChange(prices, 1)
	ret7 := PctChange(prices, 7)
	ret30 := PctChange(prices, 30)

	results := make([]RegimeResult, 0, len(prices)-RegimeWindow+1)
	for i := RegimeWindow - 1; i < len(prices); i++ {
		r := RegimeResult{
			Regime:      RegimeSideways,
			Price:       prices[i],
			MA200:       ma200[i],
			MA50:        ma50[i],
			MA20:        ma20[i],
			Returns7d:   ret7[i],
			Returns30d:  ret30[i],
			Volatility:  annualizedVolatility(ret1, i),
			SampleCount: i + 1,
		}

		switch {
		case isCrash(ret1, ret7, i):
			r.Regime = RegimeCrash
		case prices[i] > ma200[i] && ma50[i] > ma200[i] && ret30[i] > 0.1:
			r.Regime = RegimeBull
		case prices[i] < ma200[i] && ma50[i] < ma200[i] && ret30[i] < -0.1:
			r.Regime = RegimeBear
		}

		results = append(results, r)
	}
	return results
}

func isCrash(ret1, ret7 []float64, i int) bool {
	if !math.IsNaN(ret7[i]) && ret7[i] < -0.2 {
		return true
	}
	// 3-day cumulative drawdown.
	if i < 3 {
		return false
	}
	var sum float64
	for j := i - 2; j <= i; j++ {
		if math.IsNaN(ret1[j]) {
			return false
		}
		sum += ret1[j]
	}
	return sum < -0.15
}

// annualizedVolatility is the 30-sample standard deviation of daily
// returns scaled by sqrt(365).
func annualizedVolatility(ret1 []float64, i int) float64 {
	const window = 30
	if i < window {
		return math.NaN()
	}
	std, err := StdDev(ret1[i-window+1 : i+1])
	if err != nil {
		return math.NaN()
	}
	return std * math.Sqrt(365)
}
