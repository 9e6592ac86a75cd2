package audit

import (
	"context"
	"sort"
	"time"
)

// Stats is an aggregate view of recent activity.
type Stats struct {
	WindowStart time.Time
	Total       int
	ByType      map[string]int
	ByStatus    map[string]int
	TopTypes    []TypeCount
}

// TypeCount pairs an activity type with its frequency.
type TypeCount struct {
	Type  string
	Count int
}

// Stats aggregates entries recorded after the lookback horizon by type and
// status, with types ranked by frequency.
func (l *Log) Stats(ctx context.Context, lookback time.Duration) (Stats, error) {
	since := l.now().Add(-lookback)
	entries, err := l.store.ListActivities(ctx, "", since, 0)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		WindowStart: since,
		Total:       len(entries),
		ByType:      make(map[string]int),
		ByStatus:    make(map[string]int),
	}
	for _, entry := range entries {
		stats.ByType[entry.Type]++
		if entry.Status != "" {
			stats.ByStatus[entry.Status]++
		}
	}

	stats.TopTypes = make([]TypeCount, 0, len(stats.ByType))
	for activityType, count := range stats.ByType {
		stats.TopTypes = append(stats.TopTypes, TypeCount{Type: activityType, Count: count})
	}
	sort.Slice(stats.TopTypes, func(i, j int) bool {
		if stats.TopTypes[i].Count != stats.TopTypes[j].Count {
			return stats.TopTypes[i].Count > stats.TopTypes[j].Count
		}
		return stats.TopTypes[i].Type < stats.TopTypes[j].Type
	})
	return stats, nil
}
