package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// Mock collaborator backends for local development. Serves the metrics
// store, code search, fix generator, PR creator, notifier, ticketing and
// commits gateway endpoints the observer talks to. The current window for
// checkout.latency_p99 is inflated so a detection cycle always finds one
// anomaly to drive the workflow.

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/metrics/series", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"series": []map[string]string{
				{"service": "checkout", "metric_name": "latency_p99"},
				{"service": "payments", "metric_name": "error_rate"},
			},
		})
	})

	mux.HandleFunc("/api/v1/metrics/window", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Service string    `json:"service"`
			Metric  string    `json:"metric_name"`
			Start   time.Time `json:"start"`
			End     time.Time `json:"end"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		baselineWindow := req.End.Sub(req.Start) > 2*time.Hour
		switch {
		case baselineWindow:
			writeJSON(w, map[string]any{"count": 10080, "mean": 200.0, "max": 260.0, "stddev": 20.0})
		case req.Service == "checkout" && req.Metric == "latency_p99":
			writeJSON(w, map[string]any{"count": 60, "mean": 780.0, "max": 900.0, "stddev": 45.0})
		default:
			writeJSON(w, map[string]any{"count": 60, "mean": 201.0, "max": 238.0, "stddev": 19.0})
		}
	})

	mux.HandleFunc("/api/v1/metrics/ingest", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Points []json.RawMessage `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ingested": len(req.Points)})
	})

	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"files": []map[string]any{
				{"file_path": "checkout/handler.go", "content": "func handle() {}", "score": 0.92},
				{"file_path": "checkout/client.go", "content": "func call() {}", "score": 0.61},
			},
		})
	})

	mux.HandleFunc("/api/v1/fix", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"fixed_code":      "func handle() { // with timeout }",
			"explanation":     "added an upstream call timeout",
			"recommendations": []string{"tune the connection pool"},
		})
	})

	mux.HandleFunc("/api/v1/pulls", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Branch string `json:"branch_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string]any{
			"pr_number": rand.Intn(900) + 100,
			"pr_url":    "https://git.example.com/pulls/123",
			"branch":    req.Branch,
		})
	})

	mux.HandleFunc("/api/v1/notify", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"channel": "#oncall", "sent_at": time.Now().UTC()})
	})

	mux.HandleFunc("/api/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"ticket_id": "OPS-101", "url": "https://tickets.example.com/OPS-101"})
	})

	mux.HandleFunc("/api/v1/commits", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		now := time.Now().UTC()
		writeJSON(w, map[string]any{
			"commits": []map[string]any{
				{
					"sha":       "4f2a91c",
					"author":    "dev1",
					"message":   "raise checkout pool size\n\nmore detail",
					"timestamp": now.Add(-25 * time.Minute),
					"url":       "https://git.example.com/commit/4f2a91c",
				},
				{
					"sha":       "b7e03dd",
					"author":    "dev2",
					"message":   "bump payments client",
					"timestamp": now.Add(-95 * time.Minute),
					"url":       "https://git.example.com/commit/b7e03dd",
				},
			},
		})
	})

	logger := log.New(log.Writer(), "mock-backends ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
