package detect

import (
	"time"

	"github.com/seerstack/seer-observer/internal/models"
	"github.com/seerstack/seer-observer/internal/repo"
)

// BaselineCalculator turns window aggregates into detection baselines.
type BaselineCalculator struct{}

// NewBaselineCalculator creates a baseline calculator.
func NewBaselineCalculator() *BaselineCalculator {
	return &BaselineCalculator{}
}

// FromStats builds a baseline from trailing-window aggregates. A zero sample
// count means there is no baseline to build; callers treat that as missing
// data, not as a zero-valued baseline.
func (c *BaselineCalculator) FromStats(stats repo.WindowStats, at time.Time) (models.Baseline, error) {
	if stats.Count == 0 {
		return models.Baseline{}, &models.ConsistencyError{Field: "baseline", Reason: "no samples in baseline window"}
	}
	return models.NewBaseline(stats.Mean, stats.Stddev, at)
}
