package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"chainpulse/internal/domain"
)

const (
	maxRetries     = 3
	retryBaseDelay = 2 * time.Second
	requestTimeout = 10 * time.Second
)

// Client talks to a Glassnode-style metrics API: endpoints under
// /v1/metrics/<category>/<name>, key in the X-Api-Key header, responses
// as arrays of {t, v} points.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// rawPoint mirrors the wire shape. Scalar metrics carry "v", which can
// be null during ingestion gaps. Multi-field metrics carry "o" instead.
type rawPoint struct {
	T int64              `json:"t"`
	V *float64           `json:"v"`
	O map[string]float64 `json:"o"`
}

// FetchMetric fetches one metric series for an asset. metric is the
// "category/name" endpoint path. Zero since/until are omitted from the
// query. extra carries endpoint-specific parameters such as "e"
// (exchange) or "c" (currency); nil is fine. Null values are dropped;
// multi-field points are flattened into one point per field named
// "<metric>.<field>".
func (c *Client) FetchMetric(ctx context.Context, metric, asset, interval string, since, until time.Time, extra map[string]string) ([]domain.MetricPoint, error) {
	query := url.Values{}
	query.Set("a", asset)
	query.Set("i", interval)
	if !since.IsZero() {
		query.Set("s", strconv.FormatInt(since.Unix(), 10))
	}
	if !until.IsZero() {
		query.Set("u", strconv.FormatInt(until.Unix(), 10))
	}
	for key, value := range extra {
		query.Set(key, value)
	}

	endpoint := fmt.Sprintf("%s/v1/metrics/%s?%s", c.baseURL, metric, query.Encode())

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for %s: %w", metric, asset, err)
	}

	var raw []rawPoint
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", metric, err)
	}

	points := make([]domain.MetricPoint, 0, len(raw))
	for _, rp := range raw {
		ts := time.Unix(rp.T, 0).UTC()
		if rp.V != nil {
			points = append(points, domain.MetricPoint{
				Metric:    metric,
				Asset:     asset,
				Timestamp: ts,
				Value:     *rp.V,
			})
			continue
		}
		if len(rp.O) > 0 {
			fields := make([]string, 0, len(rp.O))
			for field := range rp.O {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			for _, field := range fields {
				points = append(points, domain.MetricPoint{
					Metric:    metric + "." + field,
					Asset:     asset,
					Timestamp: ts,
					Value:     rp.O[field],
				})
			}
		}
		// Points with null v and no object payload are ingestion gaps.
	}
	return points, nil
}

// getWithRetry performs the GET with exponential backoff. Transport
// errors and 429 responses are retried; other non-2xx statuses fail
// immediately since retrying a 401 or 404 never helps.
func (c *Client) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("Retrying request", "attempt", attempt+1, "max", maxRetries, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited")
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
