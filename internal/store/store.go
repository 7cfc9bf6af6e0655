// Package store persists source events, canonical events, and source snapshots.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cfptrack/cfptrack/internal/config"
	"github.com/cfptrack/cfptrack/internal/model"
)

// CanonicalPatch is a partial update to a canonical event. Nil fields are
// left untouched. The merge engine only ever narrows cfp_end_date and fills
// blank URLs, so patches carry no other event fields.
type CanonicalPatch struct {
	CFPEndDate *time.Time `json:"cfp_end_date,omitempty"`
	CFPURL     *string    `json:"cfp_url,omitempty"`
	EventURL   *string    `json:"event_url,omitempty"`
	Sources    []string   `json:"sources,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p CanonicalPatch) Empty() bool {
	return p.CFPEndDate == nil && p.CFPURL == nil && p.EventURL == nil && p.Sources == nil
}

// Store defines the persistence interface for the aggregation pipeline.
type Store interface {
	// Source events
	UpsertSourceEvent(ctx context.Context, ev *model.SourceEvent) error
	ListSourceEvents(ctx context.Context) ([]model.SourceEvent, error)
	CountSourceEvents(ctx context.Context) (int, error)
	LinkSourceEvent(ctx context.Context, sourceEventID int64, canonicalEventID string) error

	// Canonical events
	CreateCanonicalEvent(ctx context.Context, ev *model.CanonicalEvent) error
	UpdateCanonicalEvent(ctx context.Context, id string, patch CanonicalPatch) error
	ListCanonicalEvents(ctx context.Context) ([]model.CanonicalEvent, error)
	ListOpenCanonicalEvents(ctx context.Context, now time.Time) ([]model.CanonicalEvent, error)

	// Source cache
	GetCacheEntry(ctx context.Context, source string) (*model.SourceCacheEntry, error)
	ListCacheEntries(ctx context.Context) ([]model.SourceCacheEntry, error)
	SetCacheEntry(ctx context.Context, source string, raw []byte, fetchedAt time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: postgres, sqlite)", cfg.Driver)
	}
}
