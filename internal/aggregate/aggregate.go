// Package aggregate serves the outward-facing view of open calls for papers.
package aggregate

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cfptrack/cfptrack/internal/model"
)

// ErrNoData signals that the store holds nothing at all, which usually means
// no refresh has run yet. Callers can distinguish this from a legitimately
// empty result set.
var ErrNoData = eris.New("aggregate: no event data, run a refresh first")

// Store is the slice of the storage layer the lister needs.
type Store interface {
	ListOpenCanonicalEvents(ctx context.Context, now time.Time) ([]model.CanonicalEvent, error)
	CountSourceEvents(ctx context.Context) (int, error)
}

// Filter narrows a listing. The zero value matches everything.
type Filter struct {
	// Tag keeps only events carrying the tag, compared case-insensitively.
	Tag string
	// Source keeps only events that aggregate the named provider.
	Source string
}

// Lister reads the canonical view of open CFPs.
type Lister struct {
	store Store
	now   func() time.Time
}

func NewLister(st Store) *Lister {
	return &Lister{store: st, now: time.Now}
}

// ListOpen returns open canonical events whose CFP deadline has not passed,
// soonest deadline first. Returns ErrNoData when the store has never been
// populated.
func (l *Lister) ListOpen(ctx context.Context, filter Filter) ([]model.CanonicalEvent, error) {
	events, err := l.store.ListOpenCanonicalEvents(ctx, l.now())
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list open events")
	}

	if len(events) == 0 {
		count, err := l.store.CountSourceEvents(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "aggregate: count source events")
		}
		if count == 0 {
			return nil, ErrNoData
		}
	}

	return applyFilter(events, filter), nil
}

func applyFilter(events []model.CanonicalEvent, filter Filter) []model.CanonicalEvent {
	if filter.Tag == "" && filter.Source == "" {
		return events
	}
	out := make([]model.CanonicalEvent, 0, len(events))
	for _, ev := range events {
		if filter.Tag != "" && !hasTag(ev.Tags, filter.Tag) {
			continue
		}
		if filter.Source != "" && !ev.HasSource(filter.Source) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if strings.EqualFold(tag, want) {
			return true
		}
	}
	return false
}
