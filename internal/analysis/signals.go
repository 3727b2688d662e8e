package analysis

import (
	"fmt"
	"time"

	"chainpulse/internal/domain"
)

// Metric paths the rule engine evaluates.
const (
	MetricMVRVZScore      = "market/mvrv_z_score"
	MetricSOPR            = "indicators/sopr"
	MetricExchangeNetFlow = "transactions/transfers_volume_exchanges_net"
	MetricPriceClose      = "market/price_usd_close"
)

// soprMAWindow is how many trailing samples the SOPR rule averages over.
const soprMAWindow = 7

// EvaluateSignals runs the indicator rules against the provided series
// and returns any triggered signals. Series the caller doesn't have may
// be nil; their rules are skipped. now stamps the emitted signals.
func EvaluateSignals(asset string, series map[string][]domain.MetricPoint, now time.Time) []domain.Signal {
	var signals []domain.Signal

	if s := mvrvSignal(asset, series[MetricMVRVZScore], now); s != nil {
		signals = append(signals, *s)
	}
	if s := soprSignal(asset, series[MetricSOPR], now); s != nil {
		signals = append(signals, *s)
	}
	if s := netFlowSignal(asset, series[MetricExchangeNetFlow], now); s != nil {
		signals = append(signals, *s)
	}
	return signals
}

// mvrvSignal: above 2.5 the market is running hot, below -0.5 it is
// oversold. Both are strong signals.
func mvrvSignal(asset string, points []domain.MetricPoint, now time.Time) *domain.Signal {
	if len(points) == 0 {
		return nil
	}
	z := points[len(points)-1].Value

	switch {
	case z > 2.5:
		return &domain.Signal{
			Kind:      domain.SignalSell,
			Strength:  domain.StrengthStrong,
			Indicator: "MVRV Z-Score",
			Asset:     asset,
			Value:     z,
			Reason:    fmt.Sprintf("MVRV Z-Score %.2f above 2.5, market overheated", z),
			Timestamp: now,
		}
	case z < -0.5:
		return &domain.Signal{
			Kind:      domain.SignalBuy,
			Strength:  domain.StrengthStrong,
			Indicator: "MVRV Z-Score",
			Asset:     asset,
			Value:     z,
			Reason:    fmt.Sprintf("MVRV Z-Score %.2f below -0.5, market oversold", z),
			Timestamp: now,
		}
	}
	return nil
}

// soprSignal compares the latest SOPR against its short moving average:
// rolling over from above 1.05 is distribution, recovering through the
// high 0.9x range is accumulation.
func soprSignal(asset string, points []domain.MetricPoint, now time.Time) *domain.Signal {
	if len(points) < soprMAWindow {
		return nil
	}
	last := points[len(points)-1].Value
	window := Values(points[len(points)-soprMAWindow:])
	ma, err := Mean(window)
	if err != nil {
		return nil
	}

	switch {
	case last > 1.05 && last < ma:
		return &domain.Signal{
			Kind:      domain.SignalSell,
			Strength:  domain.StrengthMedium,
			Indicator: "SOPR",
			Asset:     asset,
			Value:     last,
			Reason:    fmt.Sprintf("SOPR %.3f rolling over from elevated levels", last),
			Timestamp: now,
		}
	case last > 0.95 && last < 1.0 && last > ma:
		return &domain.Signal{
			Kind:      domain.SignalBuy,
			Strength:  domain.StrengthMedium,
			Indicator: "SOPR",
			Asset:     asset,
			Value:     last,
			Reason:    fmt.Sprintf("SOPR %.3f recovering from the bottom", last),
			Timestamp: now,
		}
	}
	return nil
}

// netFlowSignal flags exchange net flows beyond two standard
// deviations of the series: heavy inflows read as sell pressure, heavy
// outflows as conviction to hold.
func netFlowSignal(asset string, points []domain.MetricPoint, now time.Time) *domain.Signal {
	if len(points) < 2 {
		return nil
	}
	values := Values(points)
	last := values[len(values)-1]
	std, err := StdDev(values)
	if err != nil || std == 0 {
		return nil
	}

	switch {
	case last > 2*std:
		return &domain.Signal{
			Kind:      domain.SignalSell,
			Strength:  domain.StrengthMedium,
			Indicator: "Exchange Net Flow",
			Asset:     asset,
			Value:     last,
			Reason:    "heavy inflow to exchanges, rising sell pressure",
			Timestamp: now,
		}
	case last < -2*std:
		return &domain.Signal{
			Kind:      domain.SignalBuy,
			Strength:  domain.StrengthMedium,
			Indicator: "Exchange Net Flow",
			Asset:     asset,
			Value:     last,
			Reason:    "heavy outflow from exchanges, holders accumulating",
			Timestamp: now,
		}
	}
	return nil
}
