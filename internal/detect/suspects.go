package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/seerstack/seer-observer/internal/repo"
	"github.com/seerstack/seer-observer/internal/utils"
)

// suspectLookback is how far before an anomaly a commit can land and still be
// considered a candidate cause.
const suspectLookback = 2 * time.Hour

// CommitSource fetches commits for a time window.
type CommitSource interface {
	FetchCommits(ctx context.Context, since, until time.Time) ([]repo.Commit, error)
}

// SuspectCommit is a commit scored by temporal proximity to an anomaly.
// Scores run 0-100; a commit landing at the anomaly instant scores 100 and
// loses one point per minute of lead time.
type SuspectCommit struct {
	Commit repo.Commit
	Score  float64
}

// CommitCorrelator ranks recent commits against anomaly timestamps.
type CommitCorrelator struct {
	source CommitSource
	logger *slog.Logger
}

// NewCommitCorrelator constructs a CommitCorrelator.
func NewCommitCorrelator(source CommitSource, logger *slog.Logger) *CommitCorrelator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitCorrelator{source: source, logger: logger}
}

// Suspects returns commits from the two hours before anomalyAt, scored and
// sorted most suspicious first. Commits after the anomaly are discarded.
func (c *CommitCorrelator) Suspects(ctx context.Context, anomalyAt time.Time) ([]SuspectCommit, error) {
	if c.source == nil {
		return nil, fmt.Errorf("commit source not configured")
	}

	commits, err := c.source.FetchCommits(ctx, anomalyAt.Add(-suspectLookback), anomalyAt)
	if err != nil {
		return nil, fmt.Errorf("fetch commits: %w", err)
	}

	suspects := make([]SuspectCommit, 0, len(commits))
	for _, commit := range commits {
		if commit.Timestamp.After(anomalyAt) {
			continue
		}
		minutesBefore := utils.DurationMinutes(commit.Timestamp, anomalyAt)
		score := 100 - minutesBefore
		if score < 0 {
			score = 0
		}
		suspects = append(suspects, SuspectCommit{Commit: commit, Score: score})
	}

	sort.SliceStable(suspects, func(i, j int) bool {
		return suspects[i].Score > suspects[j].Score
	})

	c.logger.Debug("suspect commits correlated",
		"anomaly_at", anomalyAt, "candidates", len(commits), "suspects", len(suspects))
	return suspects, nil
}
