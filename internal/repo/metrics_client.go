package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seerstack/seer-observer/internal/cache"
	"github.com/seerstack/seer-observer/internal/models"
)

// SeriesKey identifies one tracked (service, metric) pair.
type SeriesKey struct {
	Service string
	Metric  string
}

// WindowStats is the aggregate the metrics store returns for one series over
// one query window.
type WindowStats struct {
	Count  int
	Mean   float64
	Max    float64
	Stddev float64
}

// MetricsClient queries the append-only time-series store for window
// aggregates and series discovery.
type MetricsClient struct {
	baseURL    string
	seriesPath string
	windowPath string
	ingestPath string
	httpClient *http.Client
	cache      cache.Provider
	seriesTTL  time.Duration
}

// NewMetricsClient constructs a client for the configured metrics store.
// Series discovery results are cached for seriesTTL between detection cycles.
func NewMetricsClient(baseURL, seriesPath, windowPath, ingestPath string, timeout time.Duration, cacheProvider cache.Provider, seriesTTL time.Duration) *MetricsClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MetricsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		seriesPath: seriesPath,
		windowPath: windowPath,
		ingestPath: ingestPath,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		seriesTTL:  seriesTTL,
	}
}

// ListSeries returns the (service, metric) pairs with samples in the window.
func (c *MetricsClient) ListSeries(ctx context.Context, window models.TimeRange) ([]SeriesKey, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("metrics store not configured")
	}

	cacheKey := "metrics:series"
	if c.seriesTTL > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached []SeriesKey
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	payload := map[string]any{
		"start": window.Start.Format(time.RFC3339),
		"end":   window.End.Format(time.RFC3339),
	}
	var response struct {
		Series []struct {
			Service string `json:"service"`
			Metric  string `json:"metric_name"`
		} `json:"series"`
	}
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.seriesPath), payload, &response); err != nil {
		return nil, fmt.Errorf("metrics store series request failed: %w", err)
	}

	keys := make([]SeriesKey, 0, len(response.Series))
	for _, s := range response.Series {
		if s.Service == "" || s.Metric == "" {
			continue
		}
		keys = append(keys, SeriesKey{Service: s.Service, Metric: s.Metric})
	}

	if c.seriesTTL > 0 && len(keys) > 0 {
		if data, err := json.Marshal(keys); err == nil {
			_ = c.cache.Set(ctx, cacheKey, data, c.seriesTTL)
		}
	}
	return keys, nil
}

// QueryWindow returns aggregate statistics for one series over the window.
// A zero Count means the window held no samples; that is not an error.
func (c *MetricsClient) QueryWindow(ctx context.Context, service, metric string, window models.TimeRange) (WindowStats, error) {
	if c == nil || c.baseURL == "" {
		return WindowStats{}, fmt.Errorf("metrics store not configured")
	}

	payload := map[string]any{
		"service":     service,
		"metric_name": metric,
		"start":       window.Start.Format(time.RFC3339),
		"end":         window.End.Format(time.RFC3339),
	}
	var response struct {
		Count  int     `json:"count"`
		Mean   float64 `json:"mean"`
		Max    float64 `json:"max"`
		Stddev float64 `json:"stddev"`
	}
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.windowPath), payload, &response); err != nil {
		return WindowStats{}, fmt.Errorf("metrics store window request failed: %w", err)
	}

	return WindowStats{
		Count:  response.Count,
		Mean:   response.Mean,
		Max:    response.Max,
		Stddev: response.Stddev,
	}, nil
}

// IngestPoints writes validated metric observations to the store. Points are
// immutable once written.
func (c *MetricsClient) IngestPoints(ctx context.Context, points []models.MetricDataPoint) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("metrics store not configured")
	}
	if len(points) == 0 {
		return nil
	}

	type wirePoint struct {
		Timestamp   string            `json:"timestamp"`
		Metric      string            `json:"metric_name"`
		Value       float64           `json:"value"`
		Service     string            `json:"service"`
		Environment string            `json:"environment"`
		Tags        map[string]string `json:"tags,omitempty"`
	}
	wire := make([]wirePoint, 0, len(points))
	for _, p := range points {
		wire = append(wire, wirePoint{
			Timestamp:   p.Timestamp.Format(time.RFC3339),
			Metric:      p.MetricName,
			Value:       p.Value,
			Service:     p.Service,
			Environment: p.Environment,
			Tags:        p.Tags,
		})
	}

	var response struct {
		Ingested int `json:"ingested"`
	}
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.ingestPath), map[string]any{"points": wire}, &response); err != nil {
		return fmt.Errorf("metrics store ingest request failed: %w", err)
	}
	return nil
}
