// Package monitoring watches the aggregation pipeline for providers that
// stop refreshing and for reconciliation falling behind.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cfptrack/cfptrack/internal/model"
)

// SourceHealth is the per-provider slice of a snapshot.
type SourceHealth struct {
	Name         string    `json:"name"`
	FetchedAt    time.Time `json:"fetched_at,omitempty"`
	AgeMins      int       `json:"age_mins,omitempty"`
	NeverFetched bool      `json:"never_fetched,omitempty"`
}

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	SourceEvents    int `json:"source_events"`
	CanonicalEvents int `json:"canonical_events"`
	// Unlinked counts source events no reconciliation pass has attached to
	// a canonical yet.
	Unlinked int `json:"unlinked"`

	Sources []SourceHealth `json:"sources"`

	CollectedAt time.Time `json:"collected_at"`
}

// Store is the slice of the storage layer the collector reads.
type Store interface {
	ListSourceEvents(ctx context.Context) ([]model.SourceEvent, error)
	ListCanonicalEvents(ctx context.Context) ([]model.CanonicalEvent, error)
	ListCacheEntries(ctx context.Context) ([]model.SourceCacheEntry, error)
}

// Collector gathers health metrics from the store.
type Collector struct {
	store   Store
	sources []string
	now     func() time.Time
}

// NewCollector creates a collector covering the named providers.
func NewCollector(st Store, sources []string) *Collector {
	return &Collector{store: st, sources: sources, now: time.Now}
}

// Collect builds a snapshot of the pipeline's current state.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	events, err := c.store.ListSourceEvents(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list source events")
	}
	canonicals, err := c.store.ListCanonicalEvents(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list canonical events")
	}
	entries, err := c.store.ListCacheEntries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list cache entries")
	}

	now := c.now().UTC()
	snap := &MetricsSnapshot{
		SourceEvents:    len(events),
		CanonicalEvents: len(canonicals),
		CollectedAt:     now,
	}
	for _, ev := range events {
		if ev.CanonicalEventID == nil {
			snap.Unlinked++
		}
	}

	fetched := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		fetched[e.Source] = e.FetchedAt
	}
	for _, name := range c.sources {
		h := SourceHealth{Name: name}
		if at, ok := fetched[name]; ok {
			h.FetchedAt = at
			h.AgeMins = int(now.Sub(at).Minutes())
		} else {
			h.NeverFetched = true
		}
		snap.Sources = append(snap.Sources, h)
	}

	return snap, nil
}
