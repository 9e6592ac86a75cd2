package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seerstack/seer-observer/internal/models"
)

const rulePack = `
rules:
  - id: latency-pool
    match:
      metric: p99_latency
      min_sigma: 4.0
    root_cause: connection pool exhaustion
    confidence: 0.8
    recommendations:
      - raise pool ceiling
  - id: latency-generic
    match:
      metric: p99_latency
    root_cause: latency regression
    confidence: 0.5
    recommendations:
      - review recent deployments
      - raise pool ceiling
`

func writeRulePack(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(rulePack), 0o600); err != nil {
		t.Fatalf("write rule pack: %v", err)
	}
	return path
}

func ruleAnomaly(t *testing.T, sigma float64, severity models.Severity) models.AnomalyResult {
	t.Helper()
	anomaly, err := models.NewAnomalyResult("p99_latency", 290, 200, sigma, false,
		severity, time.Now().UTC(), "payment-service", "production")
	if err != nil {
		t.Fatalf("anomaly fixture: %v", err)
	}
	return anomaly
}

func TestRuleEngineFirstMatchWinsRootCause(t *testing.T) {
	engine, err := NewRuleEngine(writeRulePack(t), nil)
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}
	if engine == nil {
		t.Fatal("expected engine")
	}

	diagnosis, ok := engine.Diagnose(ruleAnomaly(t, 4.5, models.SeverityHigh))
	if !ok {
		t.Fatal("expected a match")
	}
	if diagnosis.RootCause != "connection pool exhaustion" {
		t.Fatalf("first matching rule must win, got %q", diagnosis.RootCause)
	}
	// Both rules matched; recommendations fold together without duplicates.
	if len(diagnosis.Recommendations) != 2 {
		t.Fatalf("expected 2 unique recommendations, got %v", diagnosis.Recommendations)
	}
}

func TestRuleEngineMinSigmaGate(t *testing.T) {
	engine, err := NewRuleEngine(writeRulePack(t), nil)
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}

	diagnosis, ok := engine.Diagnose(ruleAnomaly(t, 3.2, models.SeverityHigh))
	if !ok {
		t.Fatal("generic rule should still match")
	}
	if diagnosis.RootCause != "latency regression" {
		t.Fatalf("3.2 sigma must not match the min_sigma 4 rule, got %q", diagnosis.RootCause)
	}
}

func TestRuleEngineMissingFileIsNil(t *testing.T) {
	engine, err := NewRuleEngine(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if engine != nil {
		t.Fatal("missing rule pack yields a nil engine")
	}
	if _, ok := engine.Diagnose(ruleAnomaly(t, 4.5, models.SeverityHigh)); ok {
		t.Fatal("nil engine matches nothing")
	}
}
