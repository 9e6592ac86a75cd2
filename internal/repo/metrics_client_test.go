package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/seerstack/seer-observer/internal/models"
)

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testWindow(t *testing.T) models.TimeRange {
	t.Helper()
	end := time.Now().UTC()
	window, err := models.NewTimeRange(end.Add(-time.Hour), end)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	return window
}

func TestListSeriesFiltersIncompleteKeys(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/api/series", "/api/window", "/api/ingest", time.Second, nil, 0)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/series" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"series": []map[string]string{
				{"service": "payment-service", "metric_name": "p99_latency"},
				{"service": "", "metric_name": "p99_latency"},
				{"service": "auth-service", "metric_name": ""},
			},
		}), nil
	})

	keys, err := client.ListSeries(context.Background(), testWindow(t))
	if err != nil {
		t.Fatalf("ListSeries: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0] != (SeriesKey{Service: "payment-service", Metric: "p99_latency"}) {
		t.Fatalf("unexpected key %+v", keys[0])
	}
}

func TestListSeriesUsesCache(t *testing.T) {
	calls := 0
	client := NewMetricsClient("http://metrics.local", "/api/series", "/api/window", "/api/ingest", time.Second, newStubCache(), time.Minute)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(t, http.StatusOK, map[string]any{
			"series": []map[string]string{
				{"service": "checkout", "metric_name": "error_rate"},
			},
		}), nil
	})

	for i := 0; i < 3; i++ {
		keys, err := client.ListSeries(context.Background(), testWindow(t))
		if err != nil {
			t.Fatalf("ListSeries call %d: %v", i, err)
		}
		if len(keys) != 1 || keys[0].Service != "checkout" {
			t.Fatalf("call %d: unexpected keys %+v", i, keys)
		}
	}
	if calls != 1 {
		t.Fatalf("expected single backend call, got %d", calls)
	}
}

func TestQueryWindowZeroCountIsNotAnError(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/api/series", "/api/window", "/api/ingest", time.Second, nil, 0)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["service"] != "payment-service" || payload["metric_name"] != "p99_latency" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"count": 0, "mean": 0, "max": 0, "stddev": 0,
		}), nil
	})

	stats, err := client.QueryWindow(context.Background(), "payment-service", "p99_latency", testWindow(t))
	if err != nil {
		t.Fatalf("QueryWindow: %v", err)
	}
	if stats.Count != 0 {
		t.Fatalf("expected zero count, got %d", stats.Count)
	}
}

func TestQueryWindowReturnsAggregates(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/api/series", "/api/window", "/api/ingest", time.Second, nil, 0)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{
			"count": 412, "mean": 200.0, "max": 310.0, "stddev": 20.0,
		}), nil
	})

	stats, err := client.QueryWindow(context.Background(), "payment-service", "p99_latency", testWindow(t))
	if err != nil {
		t.Fatalf("QueryWindow: %v", err)
	}
	want := WindowStats{Count: 412, Mean: 200, Max: 310, Stddev: 20}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestQueryWindowSurfacesBackendError(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/api/series", "/api/window", "/api/ingest", time.Second, nil, 0)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusBadGateway, map[string]string{"error": "store unavailable"}), nil
	})

	if _, err := client.QueryWindow(context.Background(), "payment-service", "p99_latency", testWindow(t)); err == nil {
		t.Fatal("expected error from 502 response")
	}
}

func TestIngestPointsPostsBatch(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/api/series", "/api/window", "/api/ingest", time.Second, nil, 0)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/ingest" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		var payload struct {
			Points []map[string]any `json:"points"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Points) != 2 {
			t.Fatalf("expected 2 points, got %d", len(payload.Points))
		}
		if payload.Points[0]["metric_name"] != "p99_latency" || payload.Points[0]["service"] != "checkout" {
			t.Fatalf("unexpected first point %+v", payload.Points[0])
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"ingested": 2}), nil
	})

	now := time.Now().UTC()
	points := []models.MetricDataPoint{
		{Timestamp: now.Add(-time.Minute), MetricName: "p99_latency", Value: 210, Service: "checkout", Environment: "production"},
		{Timestamp: now, MetricName: "error_rate", Value: 0.4, Service: "payments", Environment: "production"},
	}
	if err := client.IngestPoints(context.Background(), points); err != nil {
		t.Fatalf("IngestPoints: %v", err)
	}
}

func TestIngestPointsEmptyBatchSkipsRequest(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/api/series", "/api/window", "/api/ingest", time.Second, nil, 0)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected for empty batch")
		return nil, nil
	})
	if err := client.IngestPoints(context.Background(), nil); err != nil {
		t.Fatalf("IngestPoints: %v", err)
	}
}

func TestMetricsClientUnconfigured(t *testing.T) {
	client := NewMetricsClient("", "/api/series", "/api/window", "/api/ingest", time.Second, nil, 0)
	if _, err := client.ListSeries(context.Background(), testWindow(t)); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
	if _, err := client.QueryWindow(context.Background(), "svc", "m", testWindow(t)); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
	if err := client.IngestPoints(context.Background(), []models.MetricDataPoint{{MetricName: "m"}}); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}
