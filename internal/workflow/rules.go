package workflow

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seerstack/seer-observer/internal/models"
)

// RuleEngine seeds incident diagnoses from a YAML rule pack when an anomaly
// matches a known failure signature.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule maps an anomaly signature to a diagnosis.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	RootCause       string    `yaml:"root_cause"`
	Confidence      float64   `yaml:"confidence"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match
// anything; MinSigma of zero matches any deviation.
type RuleMatch struct {
	Service  string  `yaml:"service"`
	Metric   string  `yaml:"metric"`
	Severity string  `yaml:"severity"`
	MinSigma float64 `yaml:"min_sigma"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. If path is empty or the
// file does not exist, returns a nil engine; a nil engine matches nothing.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Diagnose returns the diagnosis for the first rule matching the anomaly,
// folding in recommendations from every matching rule. The second return is
// false when no rule matches.
func (e *RuleEngine) Diagnose(anomaly models.AnomalyResult) (models.Diagnosis, bool) {
	if e == nil {
		return models.Diagnosis{}, false
	}

	var diagnosis models.Diagnosis
	matched := false
	for _, rule := range e.rules {
		if !ruleMatches(rule.Match, anomaly) {
			continue
		}
		if !matched {
			diagnosis = models.Diagnosis{
				RootCause:         rule.RootCause,
				AffectedComponent: anomaly.Service,
				ImpactExplanation: anomaly.Metric + " deviation on " + anomaly.Service,
				Confidence:        rule.Confidence,
			}
			matched = true
		}
		diagnosis.Recommendations = appendUnique(diagnosis.Recommendations, rule.Recommendations...)
	}
	return diagnosis, matched
}

func ruleMatches(match RuleMatch, anomaly models.AnomalyResult) bool {
	if match.Service != "" && !strings.EqualFold(match.Service, anomaly.Service) {
		return false
	}
	if match.Metric != "" && !strings.EqualFold(match.Metric, anomaly.Metric) {
		return false
	}
	if match.Severity != "" && !strings.EqualFold(match.Severity, string(anomaly.Severity)) {
		return false
	}
	if match.MinSigma > 0 && anomaly.DeviationSigma < match.MinSigma {
		return false
	}
	return true
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
