package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cfptrack/cfptrack/internal/db"
	"github.com/cfptrack/cfptrack/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS canonical_events (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	normalised_name     TEXT NOT NULL,
	cfp_url             TEXT NOT NULL DEFAULT '',
	event_url           TEXT NOT NULL DEFAULT '',
	cfp_end_date        TIMESTAMPTZ NOT NULL,
	event_start_date    TIMESTAMPTZ NOT NULL,
	event_end_date      TIMESTAMPTZ NOT NULL,
	location            TEXT NOT NULL DEFAULT '',
	normalised_location TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'open',
	tags                JSONB NOT NULL DEFAULT '[]',
	sources             JSONB NOT NULL DEFAULT '[]',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS source_events (
	id                 BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	source             TEXT NOT NULL,
	source_id          TEXT NOT NULL,
	name               TEXT NOT NULL,
	cfp_url            TEXT NOT NULL DEFAULT '',
	event_url          TEXT NOT NULL DEFAULT '',
	cfp_end_date       TIMESTAMPTZ NOT NULL,
	event_start_date   TIMESTAMPTZ NOT NULL,
	event_end_date     TIMESTAMPTZ NOT NULL,
	location           TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'open',
	tags               JSONB NOT NULL DEFAULT '[]',
	canonical_event_id TEXT REFERENCES canonical_events(id),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source, source_id)
);

CREATE TABLE IF NOT EXISTS source_cache (
	source     TEXT PRIMARY KEY,
	raw_data   BYTEA NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_source_events_sort
	ON source_events(cfp_end_date, cfp_url, event_url);
CREATE INDEX IF NOT EXISTS idx_source_events_canonical
	ON source_events(canonical_event_id);
CREATE INDEX IF NOT EXISTS idx_canonical_events_sort
	ON canonical_events(cfp_end_date, cfp_url, event_url);
CREATE INDEX IF NOT EXISTS idx_canonical_events_status_end
	ON canonical_events(status, cfp_end_date);
CREATE INDEX IF NOT EXISTS idx_source_cache_fetched_at
	ON source_cache(fetched_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertSourceEvent(ctx context.Context, ev *model.SourceEvent) error {
	tagsJSON, err := marshalStrings(ev.Tags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tags")
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO source_events
			(source, source_id, name, cfp_url, event_url, cfp_end_date,
			 event_start_date, event_end_date, location, status, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source, source_id) DO UPDATE SET
			name = EXCLUDED.name,
			cfp_url = EXCLUDED.cfp_url,
			event_url = EXCLUDED.event_url,
			cfp_end_date = EXCLUDED.cfp_end_date,
			event_start_date = EXCLUDED.event_start_date,
			event_end_date = EXCLUDED.event_end_date,
			location = EXCLUDED.location,
			status = EXCLUDED.status,
			tags = EXCLUDED.tags,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		ev.Source, ev.SourceID, ev.Name, ev.CFPURL, ev.EventURL, ev.CFPEndDate,
		ev.EventStartDate, ev.EventEndDate, ev.Location, ev.Status, tagsJSON,
	).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert source event %s/%s", ev.Source, ev.SourceID)
	}
	return nil
}

const sourceEventColumns = `id, source, source_id, name, cfp_url, event_url,
	cfp_end_date, event_start_date, event_end_date, location, status, tags,
	canonical_event_id, created_at, updated_at`

func (s *PostgresStore) ListSourceEvents(ctx context.Context) ([]model.SourceEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceEventColumns+`
		FROM source_events
		ORDER BY cfp_end_date ASC, cfp_url ASC, event_url ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source events")
	}
	defer rows.Close()

	var events []model.SourceEvent
	for rows.Next() {
		var ev model.SourceEvent
		var tagsJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.SourceID, &ev.Name, &ev.CFPURL,
			&ev.EventURL, &ev.CFPEndDate, &ev.EventStartDate, &ev.EventEndDate,
			&ev.Location, &ev.Status, &tagsJSON, &ev.CanonicalEventID,
			&ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source event")
		}
		if ev.Tags, err = unmarshalStrings(tagsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tags")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list source events iterate")
}

func (s *PostgresStore) CountSourceEvents(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM source_events`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count source events")
}

func (s *PostgresStore) LinkSourceEvent(ctx context.Context, sourceEventID int64, canonicalEventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE source_events SET canonical_event_id = $1, updated_at = now() WHERE id = $2`,
		canonicalEventID, sourceEventID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: link source event %d", sourceEventID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source event not found: %d", sourceEventID)
	}
	return nil
}

func (s *PostgresStore) CreateCanonicalEvent(ctx context.Context, ev *model.CanonicalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	tagsJSON, err := marshalStrings(ev.Tags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tags")
	}
	sourcesJSON, err := marshalStrings(ev.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sources")
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO canonical_events
			(id, name, normalised_name, cfp_url, event_url, cfp_end_date,
			 event_start_date, event_end_date, location, normalised_location,
			 status, tags, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		ev.ID, ev.Name, ev.NormalisedName, ev.CFPURL, ev.EventURL, ev.CFPEndDate,
		ev.EventStartDate, ev.EventEndDate, ev.Location, ev.NormalisedLocation,
		ev.Status, tagsJSON, sourcesJSON,
	).Scan(&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: create canonical event %s", ev.Name)
	}
	return nil
}

func (s *PostgresStore) UpdateCanonicalEvent(ctx context.Context, id string, patch CanonicalPatch) error {
	if patch.Empty() {
		return nil
	}

	query := `UPDATE canonical_events SET updated_at = now()`
	args := []any{}
	argIdx := 1

	if patch.CFPEndDate != nil {
		query += fmt.Sprintf(`, cfp_end_date = $%d`, argIdx)
		args = append(args, *patch.CFPEndDate)
		argIdx++
	}
	if patch.CFPURL != nil {
		query += fmt.Sprintf(`, cfp_url = $%d`, argIdx)
		args = append(args, *patch.CFPURL)
		argIdx++
	}
	if patch.EventURL != nil {
		query += fmt.Sprintf(`, event_url = $%d`, argIdx)
		args = append(args, *patch.EventURL)
		argIdx++
	}
	if patch.Sources != nil {
		sourcesJSON, err := marshalStrings(patch.Sources)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal sources")
		}
		query += fmt.Sprintf(`, sources = $%d`, argIdx)
		args = append(args, sourcesJSON)
		argIdx++
	}

	query += fmt.Sprintf(` WHERE id = $%d`, argIdx)
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update canonical event %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("canonical event not found: %s", id)
	}
	return nil
}

const canonicalEventColumns = `id, name, normalised_name, cfp_url, event_url,
	cfp_end_date, event_start_date, event_end_date, location,
	normalised_location, status, tags, sources, created_at, updated_at`

func (s *PostgresStore) ListCanonicalEvents(ctx context.Context) ([]model.CanonicalEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+canonicalEventColumns+`
		FROM canonical_events
		ORDER BY cfp_end_date ASC, cfp_url ASC, event_url ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical events")
	}
	defer rows.Close()
	return scanCanonicalEvents(rows)
}

func (s *PostgresStore) ListOpenCanonicalEvents(ctx context.Context, now time.Time) ([]model.CanonicalEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+canonicalEventColumns+`
		FROM canonical_events
		WHERE status = 'open' AND cfp_end_date > $1
		ORDER BY cfp_end_date ASC, cfp_url ASC, event_url ASC`, now)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open canonical events")
	}
	defer rows.Close()
	return scanCanonicalEvents(rows)
}

func scanCanonicalEvents(rows pgx.Rows) ([]model.CanonicalEvent, error) {
	var events []model.CanonicalEvent
	for rows.Next() {
		var ev model.CanonicalEvent
		var tagsJSON, sourcesJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.NormalisedName, &ev.CFPURL,
			&ev.EventURL, &ev.CFPEndDate, &ev.EventStartDate, &ev.EventEndDate,
			&ev.Location, &ev.NormalisedLocation, &ev.Status, &tagsJSON,
			&sourcesJSON, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical event")
		}
		var err error
		if ev.Tags, err = unmarshalStrings(tagsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tags")
		}
		if ev.Sources, err = unmarshalStrings(sourcesJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sources")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: canonical events iterate")
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, source string) (*model.SourceCacheEntry, error) {
	var e model.SourceCacheEntry
	err := s.pool.QueryRow(ctx,
		`SELECT source, raw_data, fetched_at FROM source_cache WHERE source = $1`,
		source,
	).Scan(&e.Source, &e.RawData, &e.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get cache entry %s", source)
	}
	return &e, nil
}

func (s *PostgresStore) ListCacheEntries(ctx context.Context) ([]model.SourceCacheEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, raw_data, fetched_at FROM source_cache ORDER BY fetched_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cache entries")
	}
	defer rows.Close()

	var entries []model.SourceCacheEntry
	for rows.Next() {
		var e model.SourceCacheEntry
		if err := rows.Scan(&e.Source, &e.RawData, &e.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: cache entries iterate")
}

func (s *PostgresStore) SetCacheEntry(ctx context.Context, source string, raw []byte, fetchedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_cache (source, raw_data, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE SET raw_data = $2, fetched_at = $3`,
		source, raw, fetchedAt,
	)
	return eris.Wrapf(err, "postgres: set cache entry %s", source)
}

func marshalStrings(vals []string) ([]byte, error) {
	if vals == nil {
		vals = []string{}
	}
	return json.Marshal(vals)
}

func unmarshalStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals, nil
}
