package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chainpulse/internal/analysis"
	"chainpulse/internal/domain"
)

const (
	// regimeLookback is how much daily close history the regime
	// endpoint loads. The detector needs 200 samples; 400 days leaves
	// room for ingestion gaps.
	regimeLookback = 400 * 24 * time.Hour

	// extremesLookback is the history window for percentile thresholds.
	extremesLookback = 90 * 24 * time.Hour

	defaultSignalLimit = 20
)

type Handler struct {
	cache        domain.CachePort
	storage      domain.StoragePort
	logger       *slog.Logger
	liveMode     bool
	modeChan     chan bool
	validAssets  map[string]bool
	validMetrics map[string]bool
}

func NewHandler(cache domain.CachePort, storage domain.StoragePort, assets, metrics []string, logger *slog.Logger) *Handler {
	validAssets := make(map[string]bool, len(assets))
	for _, a := range assets {
		validAssets[a] = true
	}
	validMetrics := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		validMetrics[m] = true
	}

	return &Handler{
		cache:        cache,
		storage:      storage,
		logger:       logger,
		liveMode:     true,
		modeChan:     make(chan bool, 1),
		validAssets:  validAssets,
		validMetrics: validMetrics,
	}
}

func (h *Handler) GetModeChannel() <-chan bool {
	return h.modeChan
}

// GetLatestMetric serves /metrics/latest/{asset}/{category}/{name}.
func (h *Handler) GetLatestMetric(w http.ResponseWriter, r *http.Request) {
	asset, metric, ok := h.extractAssetMetric(w, r.URL.Path, "/metrics/latest/")
	if !ok {
		return
	}

	point, err := h.cache.GetCachedMetric(asset, metric)
	if err != nil {
		h.logger.Error("Failed to get latest metric", "error", err, "asset", asset, "metric", metric)
		sendErrorResponse(w, fmt.Sprintf("No data for %s %s", asset, metric), http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"asset":     point.Asset,
		"metric":    point.Metric,
		"value":     point.Value,
		"timestamp": point.Timestamp,
	}
	sendJSONResponse(w, response)
}

// GetMetricStats serves /metrics/stats/{asset}/{category}/{name}?period=24h.
func (h *Handler) GetMetricStats(w http.ResponseWriter, r *http.Request) {
	asset, metric, ok := h.extractAssetMetric(w, r.URL.Path, "/metrics/stats/")
	if !ok {
		return
	}

	period, err := parsePeriodStrict(r.URL.Query().Get("period"))
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	points, err := h.cache.GetMetricsInRange(asset, metric, period)
	if err != nil {
		h.logger.Error("Failed to get metric window", "error", err, "asset", asset, "metric", metric)
		sendErrorResponse(w, "Failed to get metric window", http.StatusInternalServerError)
		return
	}
	if len(points) == 0 {
		sendErrorResponse(w, fmt.Sprintf("No data for %s %s in period", asset, metric), http.StatusNotFound)
		return
	}

	values := analysis.Values(points)
	mean, _ := analysis.Mean(values)
	std, _ := analysis.StdDev(values)
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	response := map[string]interface{}{
		"asset":   asset,
		"metric":  metric,
		"period":  period.String(),
		"count":   len(values),
		"average": mean,
		"min":     min,
		"max":     max,
		"last":    values[len(values)-1],
		"stddev":  std,
	}
	sendJSONResponse(w, response)
}

// GetAggregates serves /metrics/aggregates/{asset}/{category}/{name}?period=24h:
// the stored windowed rollups for a pair, newest first.
func (h *Handler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	asset, metric, ok := h.extractAssetMetric(w, r.URL.Path, "/metrics/aggregates/")
	if !ok {
		return
	}

	period, err := parseAggregatePeriod(r.URL.Query().Get("period"))
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now()
	aggregates, err := h.storage.GetAggregates(asset, metric, now.Add(-period), now)
	if err != nil {
		h.logger.Error("Failed to load aggregates", "error", err, "asset", asset, "metric", metric)
		sendErrorResponse(w, "Failed to load aggregates", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"asset":      asset,
		"metric":     metric,
		"period":     period.String(),
		"count":      len(aggregates),
		"aggregates": aggregates,
	}
	sendJSONResponse(w, response)
}

// GetExtremes serves /analysis/extremes/{asset}/{category}/{name}?percentile=95.
func (h *Handler) GetExtremes(w http.ResponseWriter, r *http.Request) {
	asset, metric, ok := h.extractAssetMetric(w, r.URL.Path, "/analysis/extremes/")
	if !ok {
		return
	}

	percentile := 95.0
	if raw := r.URL.Query().Get("percentile"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 50 || p >= 100 {
			sendErrorResponse(w, "percentile must be a number in (50, 100)", http.StatusBadRequest)
			return
		}
		percentile = p
	}

	now := time.Now()
	points, err := h.storage.GetMetricSeries(asset, metric, now.Add(-extremesLookback), now)
	if err != nil {
		h.logger.Error("Failed to load series for extremes", "error", err, "asset", asset, "metric", metric)
		sendErrorResponse(w, "Failed to load metric series", http.StatusInternalServerError)
		return
	}

	result, err := analysis.Extremes(points, percentile)
	if err != nil {
		sendErrorResponse(w, fmt.Sprintf("No data for %s %s", asset, metric), http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"asset":      asset,
		"metric":     metric,
		"percentile": percentile,
		"extremes":   result,
	}
	sendJSONResponse(w, response)
}

// GetRegime serves /analysis/regime/{asset}.
func (h *Handler) GetRegime(w http.ResponseWriter, r *http.Request) {
	asset := extractLastSegment(r.URL.Path)
	if !h.isValidAsset(asset) {
		sendErrorResponse(w, fmt.Sprintf("Unknown asset: %s", asset), http.StatusBadRequest)
		return
	}

	now := time.Now()
	closes, err := h.storage.GetMetricSeries(asset, analysis.MetricPriceClose, now.Add(-regimeLookback), now)
	if err != nil {
		h.logger.Error("Failed to load price history", "error", err, "asset", asset)
		sendErrorResponse(w, "Failed to load price history", http.StatusInternalServerError)
		return
	}

	result := analysis.DetectRegime(closes)

	response := map[string]interface{}{
		"asset":  asset,
		"regime": result,
	}
	sendJSONResponse(w, response)
}

// GetLeadLag serves
// /analysis/leadlag/{asset}/{category}/{name}?max_lag=30&horizon=7:
// how well the indicator anticipates the asset's price.
func (h *Handler) GetLeadLag(w http.ResponseWriter, r *http.Request) {
	asset, metric, ok := h.extractAssetMetric(w, r.URL.Path, "/analysis/leadlag/")
	if !ok {
		return
	}

	maxLag := 30
	if raw := r.URL.Query().Get("max_lag"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 90 {
			sendErrorResponse(w, "max_lag must be an integer in [1, 90]", http.StatusBadRequest)
			return
		}
		maxLag = n
	}

	horizon := 7
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 30 {
			sendErrorResponse(w, "horizon must be an integer in [1, 30]", http.StatusBadRequest)
			return
		}
		horizon = n
	}

	now := time.Now()
	indicatorPoints, err := h.storage.GetMetricSeries(asset, metric, now.Add(-regimeLookback), now)
	if err != nil {
		h.logger.Error("Failed to load indicator history", "error", err, "asset", asset, "metric", metric)
		sendErrorResponse(w, "Failed to load indicator history", http.StatusInternalServerError)
		return
	}
	pricePoints, err := h.storage.GetMetricSeries(asset, analysis.MetricPriceClose, now.Add(-regimeLookback), now)
	if err != nil {
		h.logger.Error("Failed to load price history", "error", err, "asset", asset)
		sendErrorResponse(w, "Failed to load price history", http.StatusInternalServerError)
		return
	}

	indicator, price := alignByDay(indicatorPoints, pricePoints)
	if len(indicator) == 0 {
		sendErrorResponse(w, fmt.Sprintf("No overlapping history for %s %s", asset, metric), http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"asset":            asset,
		"metric":           metric,
		"samples":          len(indicator),
		"predictive_power": analysis.CalculatePredictivePower(indicator, price, maxLag),
		"information_gain": analysis.CalculateInformationGain(indicator, price, horizon, 4),
	}
	sendJSONResponse(w, response)
}

// alignByDay pairs two point series on their calendar day, keeping only
// days present in both.
func alignByDay(a, b []domain.MetricPoint) ([]float64, []float64) {
	byDay := make(map[time.Time]float64, len(b))
	for _, p := range b {
		byDay[p.Timestamp.Truncate(24*time.Hour)] = p.Value
	}

	var av, bv []float64
	for _, p := range a {
		if v, ok := byDay[p.Timestamp.Truncate(24*time.Hour)]; ok {
			av = append(av, p.Value)
			bv = append(bv, v)
		}
	}
	return av, bv
}

// GetSignals serves /analysis/signals/{asset}?limit=20.
func (h *Handler) GetSignals(w http.ResponseWriter, r *http.Request) {
	asset := extractLastSegment(r.URL.Path)
	if !h.isValidAsset(asset) {
		sendErrorResponse(w, fmt.Sprintf("Unknown asset: %s", asset), http.StatusBadRequest)
		return
	}

	limit := defaultSignalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			sendErrorResponse(w, "limit must be an integer in [1, 500]", http.StatusBadRequest)
			return
		}
		limit = n
	}

	signals, err := h.storage.GetRecentSignals(asset, limit)
	if err != nil {
		h.logger.Error("Failed to load signals", "error", err, "asset", asset)
		sendErrorResponse(w, "Failed to load signals", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"asset":   asset,
		"count":   len(signals),
		"signals": signals,
	}
	sendJSONResponse(w, response)
}

// SwitchToTestMode swaps the pipeline onto synthetic sources.
func (h *Handler) SwitchToTestMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.liveMode {
		sendJSONResponse(w, map[string]interface{}{
			"mode":    "test",
			"message": "Already in test mode",
		})
		return
	}

	h.liveMode = false
	h.modeChan <- false
	h.logger.Info("Switching to test mode")

	sendJSONResponse(w, map[string]interface{}{
		"mode":    "test",
		"message": "Switched to test mode",
	})
}

// SwitchToLiveMode swaps the pipeline back onto the live API.
func (h *Handler) SwitchToLiveMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.liveMode {
		sendJSONResponse(w, map[string]interface{}{
			"mode":    "live",
			"message": "Already in live mode",
		})
		return
	}

	h.liveMode = true
	h.modeChan <- true
	h.logger.Info("Switching to live mode")

	sendJSONResponse(w, map[string]interface{}{
		"mode":    "live",
		"message": "Switched to live mode",
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":   "ok",
		"mode":     map[bool]string{true: "live", false: "test"}[h.liveMode],
		"time":     time.Now(),
		"redis":    h.checkRedisHealth(),
		"postgres": h.checkPostgresHealth(),
	}
	sendJSONResponse(w, response)
}

func (h *Handler) checkRedisHealth() string {
	if h.cache.IsAvailable() {
		return "connected"
	}
	return "disconnected"
}

func (h *Handler) checkPostgresHealth() string {
	_, err := h.storage.GetLatestMetric("BTC", analysis.MetricPriceClose)
	if err != nil && strings.Contains(err.Error(), "no data") {
		return "connected"
	} else if err != nil {
		return "disconnected"
	}
	return "connected"
}

// Setup wires the routes and returns the configured HTTP server.
func (h *Handler) Setup(port int) *http.Server {
	mux := http.NewServeMux()

	// Metric Data API
	mux.HandleFunc("/metrics/latest/", h.GetLatestMetric)
	mux.HandleFunc("/metrics/stats/", h.GetMetricStats)
	mux.HandleFunc("/metrics/aggregates/", h.GetAggregates)

	// Analytics API
	mux.HandleFunc("/analysis/extremes/", h.GetExtremes)
	mux.HandleFunc("/analysis/regime/", h.GetRegime)
	mux.HandleFunc("/analysis/leadlag/", h.GetLeadLag)
	mux.HandleFunc("/analysis/signals/", h.GetSignals)

	// Data Mode API
	mux.HandleFunc("/mode/test", h.SwitchToTestMode)
	mux.HandleFunc("/mode/live", h.SwitchToLiveMode)

	// System Health
	mux.HandleFunc("/health", h.HealthCheck)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server
}

func (h *Handler) isValidAsset(asset string) bool {
	return h.validAssets[asset]
}

func (h *Handler) isValidMetric(metric string) bool {
	if h.validMetrics[metric] {
		return true
	}
	// Multi-field responses are stored flattened as "<metric>.<field>";
	// accept them when their base metric is configured.
	if i := strings.LastIndex(metric, "."); i > 0 {
		return h.validMetrics[metric[:i]]
	}
	return false
}

// extractAssetMetric parses "/<prefix>/{asset}/{category}/{name}" and
// validates both halves, writing the error response itself on failure.
func (h *Handler) extractAssetMetric(w http.ResponseWriter, path, prefix string) (asset, metric string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 3 {
		sendErrorResponse(w, "Expected path {asset}/{category}/{name}", http.StatusBadRequest)
		return "", "", false
	}

	asset = parts[0]
	metric = parts[1] + "/" + parts[2]

	if !h.isValidAsset(asset) {
		sendErrorResponse(w, fmt.Sprintf("Unknown asset: %s", asset), http.StatusBadRequest)
		return "", "", false
	}
	if !h.isValidMetric(metric) {
		sendErrorResponse(w, fmt.Sprintf("Unknown metric: %s", metric), http.StatusBadRequest)
		return "", "", false
	}
	return asset, metric, true
}

func sendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func sendErrorResponse(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]string{
		"error": message,
	}
	json.NewEncoder(w).Encode(response)
}

func extractLastSegment(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	segment := parts[len(parts)-1]
	if idx := strings.Index(segment, "?"); idx != -1 {
		segment = segment[:idx]
	}
	return segment
}

// parsePeriodStrict validates the stats window against the cadences the
// cache actually retains.
func parsePeriodStrict(period string) (time.Duration, error) {
	if period == "" {
		return 24 * time.Hour, nil
	}

	validPeriods := map[string]time.Duration{
		"1h":  time.Hour,
		"6h":  6 * time.Hour,
		"12h": 12 * time.Hour,
		"24h": 24 * time.Hour,
		"48h": 48 * time.Hour,
	}

	if duration, ok := validPeriods[period]; ok {
		return duration, nil
	}

	return 0, fmt.Errorf("invalid period format")
}

// parseAggregatePeriod allows the longer windows the aggregate history
// in PostgreSQL can serve.
func parseAggregatePeriod(period string) (time.Duration, error) {
	if period == "" {
		return 24 * time.Hour, nil
	}

	validPeriods := map[string]time.Duration{
		"1h":  time.Hour,
		"6h":  6 * time.Hour,
		"12h": 12 * time.Hour,
		"24h": 24 * time.Hour,
		"48h": 48 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"30d": 30 * 24 * time.Hour,
	}

	if duration, ok := validPeriods[period]; ok {
		return duration, nil
	}

	return 0, fmt.Errorf("invalid period format")
}
