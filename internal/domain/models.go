package domain

import "time"

// MetricPoint is a single sample of an on-chain metric. Metric is the
// endpoint path in "category/name" form, e.g. "market/mvrv_z_score".
type MetricPoint struct {
	Metric    string
	Asset     string
	Timestamp time.Time
	Value     float64
}

// AggregatedMetric is a windowed rollup of raw points for one metric.
type AggregatedMetric struct {
	Metric    string
	Asset     string
	Timestamp time.Time
	Average   float64
	Min       float64
	Max       float64
	Last      float64
	Count     int
}

type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
)

type SignalStrength string

const (
	StrengthStrong SignalStrength = "Strong"
	StrengthMedium SignalStrength = "Medium"
)

// Signal is one emission of the indicator rule engine.
type Signal struct {
	Kind      SignalKind
	Strength  SignalStrength
	Indicator string
	Asset     string
	Value     float64
	Reason    string
	Timestamp time.Time
}
