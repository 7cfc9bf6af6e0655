// Package refresh drives the per-source fetch cycle. Each tick refreshes at
// most one provider: an unseen provider takes priority, otherwise the stalest
// cached provider is refreshed once its cache entry has aged past the
// freshness window.
package refresh

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cfptrack/cfptrack/internal/model"
	"github.com/cfptrack/cfptrack/internal/source"
)

// Store is the slice of the storage layer the scheduler needs.
type Store interface {
	ListCacheEntries(ctx context.Context) ([]model.SourceCacheEntry, error)
	SetCacheEntry(ctx context.Context, source string, raw []byte, fetchedAt time.Time) error
	UpsertSourceEvent(ctx context.Context, ev *model.SourceEvent) error
}

// TickResult reports what a single tick did.
type TickResult struct {
	// Source is the provider that was refreshed. Empty when no provider
	// needed refreshing.
	Source string `json:"source,omitempty"`
	// Initial is true when this was the provider's first ever fetch.
	Initial bool `json:"initial,omitempty"`
	// Upserted counts source events written during the tick.
	Upserted int `json:"upserted"`
	// Skipped counts records dropped for missing or invalid dates, plus
	// individual upsert failures.
	Skipped int `json:"skipped"`
	// NoWork is true when every provider was fresh.
	NoWork bool `json:"no_work,omitempty"`
}

// Scheduler picks and refreshes one provider per tick.
type Scheduler struct {
	registry *source.Registry
	store    Store

	freshnessWindow time.Duration
	batchSize       int
	now             func() time.Time
}

func NewScheduler(reg *source.Registry, st Store, freshnessWindow time.Duration, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		registry:        reg,
		store:           st,
		freshnessWindow: freshnessWindow,
		batchSize:       batchSize,
		now:             time.Now,
	}
}

// Tick refreshes at most one provider and reports what happened. Provider
// selection: the first configured provider with no cache entry wins; failing
// that, the configured provider whose cache entry is both older than the
// freshness window and the oldest overall. A fetch failure leaves the cache
// and the event table untouched.
func (s *Scheduler) Tick(ctx context.Context) (*TickResult, error) {
	entries, err := s.store.ListCacheEntries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "refresh: list cache entries")
	}

	cached := make(map[string]model.SourceCacheEntry, len(entries))
	for _, e := range entries {
		cached[e.Source] = e
	}

	// Unseen providers first, in configuration order.
	for _, name := range s.registry.Names() {
		if _, ok := cached[name]; !ok {
			res, err := s.refreshSource(ctx, s.registry.Get(name))
			if err != nil {
				return nil, err
			}
			res.Initial = true
			return res, nil
		}
	}

	// Entries come back oldest first; take the first configured one that
	// has aged out. Entries for providers no longer configured are ignored.
	cutoff := s.now().Add(-s.freshnessWindow)
	for _, e := range entries {
		if s.registry.Get(e.Source) == nil {
			continue
		}
		if e.FetchedAt.Before(cutoff) {
			return s.refreshSource(ctx, s.registry.Get(e.Source))
		}
	}

	return &TickResult{NoWork: true}, nil
}

// RefreshSource refreshes one named provider immediately, bypassing the
// freshness window. Used by the CLI's --source flag and the HTTP API.
func (s *Scheduler) RefreshSource(ctx context.Context, name string) (*TickResult, error) {
	src := s.registry.Get(name)
	if src == nil {
		return nil, eris.Errorf("refresh: unknown source %q", name)
	}
	return s.refreshSource(ctx, src)
}

func (s *Scheduler) refreshSource(ctx context.Context, src source.Source) (*TickResult, error) {
	log := zap.L().With(zap.String("source", src.Name()))
	log.Info("refreshing source")

	raw, err := src.FetchRaw(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "refresh: fetch %s", src.Name())
	}
	events, err := src.Transform(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "refresh: transform %s", src.Name())
	}

	if err := s.store.SetCacheEntry(ctx, src.Name(), raw, s.now()); err != nil {
		return nil, eris.Wrapf(err, "refresh: cache %s", src.Name())
	}

	var upserted, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchSize)
	for i := range events {
		ev := events[i]
		if ev.CFPEndDate.IsZero() || ev.EventStartDate.IsZero() {
			skipped.Add(1)
			continue
		}
		if ev.EventEndDate.IsZero() {
			ev.EventEndDate = ev.EventStartDate
		}

		g.Go(func() error {
			if err := s.store.UpsertSourceEvent(gctx, &ev); err != nil {
				log.Warn("upsert failed",
					zap.String("source_id", ev.SourceID),
					zap.Error(err))
				skipped.Add(1)
				return nil // one bad record must not sink the batch
			}
			upserted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "refresh: upsert %s", src.Name())
	}

	res := &TickResult{
		Source:   src.Name(),
		Upserted: int(upserted.Load()),
		Skipped:  int(skipped.Load()),
	}
	log.Info("source refreshed",
		zap.Int("upserted", res.Upserted),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
