package canonical

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cfptrack/cfptrack/internal/model"
)

// ServiceStore adds the snapshot reads a full reconciliation pass needs on
// top of the executor's write surface.
type ServiceStore interface {
	Store
	ListCanonicalEvents(ctx context.Context) ([]model.CanonicalEvent, error)
	ListSourceEvents(ctx context.Context) ([]model.SourceEvent, error)
}

// RunResult summarises one reconciliation pass.
type RunResult struct {
	SourceEvents    int `json:"source_events"`
	CanonicalEvents int `json:"canonical_events"`
	// DuplicatesRemoved is how many source events folded into a canonical
	// shared with at least one other record.
	DuplicatesRemoved int  `json:"duplicates_removed"`
	Created           int  `json:"created"`
	Updated           int  `json:"updated"`
	Linked            int  `json:"linked"`
	Failed            int  `json:"failed"`
	DryRun            bool `json:"dry_run,omitempty"`
}

// Service runs full reconciliation passes against the store.
type Service struct {
	store ServiceStore
	exec  *Executor
}

func NewService(st ServiceStore, batchSize int) *Service {
	return &Service{store: st, exec: NewExecutor(st, batchSize)}
}

// Run loads both snapshots, computes the plan and applies it. With dryRun
// set the plan is computed and summarised but nothing is written.
func (s *Service) Run(ctx context.Context, dryRun bool) (*RunResult, error) {
	canonicals, err := s.store.ListCanonicalEvents(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: load canonical events")
	}
	events, err := s.store.ListSourceEvents(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: load source events")
	}

	plan := Reconcile(canonicals, events)
	total := len(canonicals) + len(plan.Creates)

	res := &RunResult{
		SourceEvents:      len(events),
		CanonicalEvents:   total,
		DuplicatesRemoved: len(events) - total,
		DryRun:            dryRun,
	}
	if res.DuplicatesRemoved < 0 {
		res.DuplicatesRemoved = 0
	}

	if dryRun {
		res.Created = len(plan.Creates)
		res.Updated = len(plan.Updates)
		res.Linked = len(plan.Links)
		return res, nil
	}

	applied, err := s.exec.Apply(ctx, plan)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: apply plan")
	}
	res.Created = applied.Created
	res.Updated = applied.Updated
	res.Linked = applied.Linked
	res.Failed = applied.Failed

	zap.L().Info("reconciliation complete",
		zap.Int("source_events", res.SourceEvents),
		zap.Int("canonical_events", res.CanonicalEvents),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("linked", res.Linked),
		zap.Int("failed", res.Failed))
	return res, nil
}
