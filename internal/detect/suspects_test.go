package detect

import (
	"context"
	"testing"
	"time"

	"github.com/seerstack/seer-observer/internal/repo"
)

type fakeCommitSource struct {
	commits []repo.Commit
	since   time.Time
	until   time.Time
}

func (f *fakeCommitSource) FetchCommits(_ context.Context, since, until time.Time) ([]repo.Commit, error) {
	f.since, f.until = since, until
	return f.commits, nil
}

func TestSuspectsScoredByProximity(t *testing.T) {
	anomalyAt := time.Date(2026, 8, 27, 14, 0, 0, 0, time.UTC)
	source := &fakeCommitSource{commits: []repo.Commit{
		{SHA: "aaa", Timestamp: anomalyAt.Add(-90 * time.Minute)},
		{SHA: "bbb", Timestamp: anomalyAt.Add(-10 * time.Minute)},
		{SHA: "ccc", Timestamp: anomalyAt.Add(-45 * time.Minute)},
		{SHA: "ddd", Timestamp: anomalyAt.Add(5 * time.Minute)},
	}}

	correlator := NewCommitCorrelator(source, nil)
	suspects, err := correlator.Suspects(context.Background(), anomalyAt)
	if err != nil {
		t.Fatalf("Suspects: %v", err)
	}

	if !source.since.Equal(anomalyAt.Add(-2 * time.Hour)) {
		t.Fatalf("lookback window starts at %s, want 2h before anomaly", source.since)
	}
	if len(suspects) != 3 {
		t.Fatalf("commit after the anomaly must be discarded, got %d suspects", len(suspects))
	}

	wantOrder := []string{"bbb", "ccc", "aaa"}
	wantScores := []float64{90, 55, 10}
	for i, suspect := range suspects {
		if suspect.Commit.SHA != wantOrder[i] {
			t.Fatalf("position %d: got %s, want %s", i, suspect.Commit.SHA, wantOrder[i])
		}
		if suspect.Score != wantScores[i] {
			t.Fatalf("%s: got score %f, want %f", suspect.Commit.SHA, suspect.Score, wantScores[i])
		}
	}
}

func TestSuspectsScoreFloorsAtZero(t *testing.T) {
	anomalyAt := time.Date(2026, 8, 27, 14, 0, 0, 0, time.UTC)
	source := &fakeCommitSource{commits: []repo.Commit{
		{SHA: "old", Timestamp: anomalyAt.Add(-110 * time.Minute)},
	}}

	suspects, err := NewCommitCorrelator(source, nil).Suspects(context.Background(), anomalyAt)
	if err != nil {
		t.Fatalf("Suspects: %v", err)
	}
	if len(suspects) != 1 || suspects[0].Score != 0 {
		t.Fatalf("commit 110 minutes out scores zero, got %+v", suspects)
	}
}
