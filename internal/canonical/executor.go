package canonical

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cfptrack/cfptrack/internal/model"
	"github.com/cfptrack/cfptrack/internal/store"
)

// Store is the slice of the storage layer the executor needs.
type Store interface {
	CreateCanonicalEvent(ctx context.Context, ev *model.CanonicalEvent) error
	UpdateCanonicalEvent(ctx context.Context, id string, patch store.CanonicalPatch) error
	LinkSourceEvent(ctx context.Context, sourceEventID int64, canonicalEventID string) error
}

// ApplyResult reports what an Apply call persisted.
type ApplyResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Linked  int `json:"linked"`
	// Failed counts individual writes that did not land. A failed create
	// also fails the links and updates that depended on its ID.
	Failed int `json:"failed"`
}

// Executor applies reconciliation plans in concurrent batches.
type Executor struct {
	store     Store
	batchSize int
}

func NewExecutor(st Store, batchSize int) *Executor {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Executor{store: st, batchSize: batchSize}
}

// Apply persists a plan. Creates run first so their temp IDs can be remapped
// to real IDs before the updates and links that reference them. Each write
// stands alone: a failure is counted and logged but never aborts the rest of
// the plan. Only infrastructure failures (context cancellation) abort early.
func (e *Executor) Apply(ctx context.Context, plan *Plan) (*ApplyResult, error) {
	var failed atomic.Int64

	realIDs, created := e.applyCreates(ctx, plan.Creates, &failed)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updated := e.applyUpdates(ctx, plan.Updates, realIDs, &failed)
	linked := e.applyLinks(ctx, plan.Links, realIDs, &failed)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &ApplyResult{
		Created: created,
		Updated: updated,
		Linked:  linked,
		Failed:  int(failed.Load()),
	}, nil
}

func (e *Executor) applyCreates(ctx context.Context, creates []Create, failed *atomic.Int64) (map[string]string, int) {
	realIDs := make(map[string]string, len(creates))
	var mu sync.Mutex
	var created atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchSize)
	for i := range creates {
		c := creates[i]
		g.Go(func() error {
			ev := c.Event
			if err := e.store.CreateCanonicalEvent(gctx, &ev); err != nil {
				zap.L().Warn("canonical create failed",
					zap.String("name", c.Event.Name), zap.Error(err))
				failed.Add(1)
				return nil
			}
			mu.Lock()
			realIDs[c.TempID] = ev.ID
			mu.Unlock()
			created.Add(1)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors

	return realIDs, int(created.Load())
}

func (e *Executor) applyUpdates(ctx context.Context, updates []Update, realIDs map[string]string, failed *atomic.Int64) int {
	var updated atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchSize)
	for i := range updates {
		u := updates[i]
		id, ok := resolveID(u.ID, realIDs)
		if !ok {
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			if err := e.store.UpdateCanonicalEvent(gctx, id, u.Patch); err != nil {
				zap.L().Warn("canonical update failed",
					zap.String("id", id), zap.Error(err))
				failed.Add(1)
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return int(updated.Load())
}

func (e *Executor) applyLinks(ctx context.Context, links []Link, realIDs map[string]string, failed *atomic.Int64) int {
	var linked atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchSize)
	for i := range links {
		l := links[i]
		id, ok := resolveID(l.CanonicalID, realIDs)
		if !ok {
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			if err := e.store.LinkSourceEvent(gctx, l.SourceEventID, id); err != nil {
				zap.L().Warn("source event link failed",
					zap.Int64("source_event_id", l.SourceEventID), zap.Error(err))
				failed.Add(1)
				return nil
			}
			linked.Add(1)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return int(linked.Load())
}

// resolveID translates temp IDs to the real IDs their creates produced. A
// temp ID with no real ID means the create failed, so anything referencing
// it must be dropped.
func resolveID(id string, realIDs map[string]string) (string, bool) {
	if !isTempID(id) {
		return id, true
	}
	real, ok := realIDs[id]
	return real, ok
}
