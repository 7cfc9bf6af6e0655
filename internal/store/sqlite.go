package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cfptrack/cfptrack/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local and
// single-binary deployments where running Postgres is overkill.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS canonical_events (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	normalised_name     TEXT NOT NULL,
	cfp_url             TEXT NOT NULL DEFAULT '',
	event_url           TEXT NOT NULL DEFAULT '',
	cfp_end_date        DATETIME NOT NULL,
	event_start_date    DATETIME NOT NULL,
	event_end_date      DATETIME NOT NULL,
	location            TEXT NOT NULL DEFAULT '',
	normalised_location TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'open',
	tags                TEXT NOT NULL DEFAULT '[]',
	sources             TEXT NOT NULL DEFAULT '[]',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS source_events (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	source             TEXT NOT NULL,
	source_id          TEXT NOT NULL,
	name               TEXT NOT NULL,
	cfp_url            TEXT NOT NULL DEFAULT '',
	event_url          TEXT NOT NULL DEFAULT '',
	cfp_end_date       DATETIME NOT NULL,
	event_start_date   DATETIME NOT NULL,
	event_end_date     DATETIME NOT NULL,
	location           TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'open',
	tags               TEXT NOT NULL DEFAULT '[]',
	canonical_event_id TEXT REFERENCES canonical_events(id),
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (source, source_id)
);

CREATE TABLE IF NOT EXISTS source_cache (
	source     TEXT PRIMARY KEY,
	raw_data   BLOB NOT NULL,
	fetched_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_source_events_sort
	ON source_events(cfp_end_date, cfp_url, event_url);
CREATE INDEX IF NOT EXISTS idx_source_events_canonical
	ON source_events(canonical_event_id);
CREATE INDEX IF NOT EXISTS idx_canonical_events_sort
	ON canonical_events(cfp_end_date, cfp_url, event_url);
CREATE INDEX IF NOT EXISTS idx_canonical_events_status_end
	ON canonical_events(status, cfp_end_date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSourceEvent(ctx context.Context, ev *model.SourceEvent) error {
	tagsJSON, err := marshalStrings(ev.Tags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tags")
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO source_events
			(source, source_id, name, cfp_url, event_url, cfp_end_date,
			 event_start_date, event_end_date, location, status, tags,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, source_id) DO UPDATE SET
			name = excluded.name,
			cfp_url = excluded.cfp_url,
			event_url = excluded.event_url,
			cfp_end_date = excluded.cfp_end_date,
			event_start_date = excluded.event_start_date,
			event_end_date = excluded.event_end_date,
			location = excluded.location,
			status = excluded.status,
			tags = excluded.tags,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at`,
		ev.Source, ev.SourceID, ev.Name, ev.CFPURL, ev.EventURL, ev.CFPEndDate,
		ev.EventStartDate, ev.EventEndDate, ev.Location, ev.Status, string(tagsJSON),
		now, now,
	).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert source event %s/%s", ev.Source, ev.SourceID)
	}
	return nil
}

func (s *SQLiteStore) ListSourceEvents(ctx context.Context) ([]model.SourceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_id, name, cfp_url, event_url, cfp_end_date,
		       event_start_date, event_end_date, location, status, tags,
		       canonical_event_id, created_at, updated_at
		FROM source_events
		ORDER BY cfp_end_date ASC, cfp_url ASC, event_url ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source events")
	}
	defer rows.Close()

	var events []model.SourceEvent
	for rows.Next() {
		var ev model.SourceEvent
		var tagsJSON []byte
		var canonicalID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.SourceID, &ev.Name, &ev.CFPURL,
			&ev.EventURL, &ev.CFPEndDate, &ev.EventStartDate, &ev.EventEndDate,
			&ev.Location, &ev.Status, &tagsJSON, &canonicalID,
			&ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source event")
		}
		if canonicalID.Valid {
			ev.CanonicalEventID = &canonicalID.String
		}
		if ev.Tags, err = unmarshalStrings(tagsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal tags")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list source events iterate")
}

func (s *SQLiteStore) CountSourceEvents(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM source_events`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count source events")
}

func (s *SQLiteStore) LinkSourceEvent(ctx context.Context, sourceEventID int64, canonicalEventID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE source_events SET canonical_event_id = ?, updated_at = ? WHERE id = ?`,
		canonicalEventID, time.Now().UTC(), sourceEventID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link source event %d", sourceEventID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: link rows affected")
	}
	if n == 0 {
		return eris.Errorf("source event not found: %d", sourceEventID)
	}
	return nil
}

func (s *SQLiteStore) CreateCanonicalEvent(ctx context.Context, ev *model.CanonicalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	tagsJSON, err := marshalStrings(ev.Tags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tags")
	}
	sourcesJSON, err := marshalStrings(ev.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}

	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO canonical_events
			(id, name, normalised_name, cfp_url, event_url, cfp_end_date,
			 event_start_date, event_end_date, location, normalised_location,
			 status, tags, sources, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Name, ev.NormalisedName, ev.CFPURL, ev.EventURL, ev.CFPEndDate,
		ev.EventStartDate, ev.EventEndDate, ev.Location, ev.NormalisedLocation,
		ev.Status, string(tagsJSON), string(sourcesJSON), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create canonical event %s", ev.Name)
	}
	return nil
}

func (s *SQLiteStore) UpdateCanonicalEvent(ctx context.Context, id string, patch CanonicalPatch) error {
	if patch.Empty() {
		return nil
	}

	query := `UPDATE canonical_events SET updated_at = ?`
	args := []any{time.Now().UTC()}

	if patch.CFPEndDate != nil {
		query += `, cfp_end_date = ?`
		args = append(args, *patch.CFPEndDate)
	}
	if patch.CFPURL != nil {
		query += `, cfp_url = ?`
		args = append(args, *patch.CFPURL)
	}
	if patch.EventURL != nil {
		query += `, event_url = ?`
		args = append(args, *patch.EventURL)
	}
	if patch.Sources != nil {
		sourcesJSON, err := marshalStrings(patch.Sources)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal sources")
		}
		query += `, sources = ?`
		args = append(args, string(sourcesJSON))
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update canonical event %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update rows affected")
	}
	if n == 0 {
		return eris.Errorf("canonical event not found: %s", id)
	}
	return nil
}

const sqliteCanonicalQuery = `
	SELECT id, name, normalised_name, cfp_url, event_url, cfp_end_date,
	       event_start_date, event_end_date, location, normalised_location,
	       status, tags, sources, created_at, updated_at
	FROM canonical_events`

func (s *SQLiteStore) ListCanonicalEvents(ctx context.Context) ([]model.CanonicalEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteCanonicalQuery+` ORDER BY cfp_end_date ASC, cfp_url ASC, event_url ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical events")
	}
	defer rows.Close()
	return s.scanCanonicalEvents(rows)
}

func (s *SQLiteStore) ListOpenCanonicalEvents(ctx context.Context, now time.Time) ([]model.CanonicalEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteCanonicalQuery+` WHERE status = 'open' AND cfp_end_date > ?
		 ORDER BY cfp_end_date ASC, cfp_url ASC, event_url ASC`, now)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open canonical events")
	}
	defer rows.Close()
	return s.scanCanonicalEvents(rows)
}

func (s *SQLiteStore) scanCanonicalEvents(rows *sql.Rows) ([]model.CanonicalEvent, error) {
	var events []model.CanonicalEvent
	for rows.Next() {
		var ev model.CanonicalEvent
		var tagsJSON, sourcesJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.NormalisedName, &ev.CFPURL,
			&ev.EventURL, &ev.CFPEndDate, &ev.EventStartDate, &ev.EventEndDate,
			&ev.Location, &ev.NormalisedLocation, &ev.Status, &tagsJSON,
			&sourcesJSON, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical event")
		}
		var err error
		if ev.Tags, err = unmarshalStrings(tagsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal tags")
		}
		if ev.Sources, err = unmarshalStrings(sourcesJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: canonical events iterate")
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, source string) (*model.SourceCacheEntry, error) {
	var e model.SourceCacheEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT source, raw_data, fetched_at FROM source_cache WHERE source = ?`,
		source,
	).Scan(&e.Source, &e.RawData, &e.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get cache entry %s", source)
	}
	return &e, nil
}

func (s *SQLiteStore) ListCacheEntries(ctx context.Context) ([]model.SourceCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, raw_data, fetched_at FROM source_cache ORDER BY fetched_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cache entries")
	}
	defer rows.Close()

	var entries []model.SourceCacheEntry
	for rows.Next() {
		var e model.SourceCacheEntry
		if err := rows.Scan(&e.Source, &e.RawData, &e.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: cache entries iterate")
}

func (s *SQLiteStore) SetCacheEntry(ctx context.Context, source string, raw []byte, fetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_cache (source, raw_data, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET raw_data = excluded.raw_data, fetched_at = excluded.fetched_at`,
		source, raw, fetchedAt,
	)
	return eris.Wrapf(err, "sqlite: set cache entry %s", source)
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
