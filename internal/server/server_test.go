package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfptrack/cfptrack/internal/aggregate"
	"github.com/cfptrack/cfptrack/internal/canonical"
	"github.com/cfptrack/cfptrack/internal/model"
	"github.com/cfptrack/cfptrack/internal/refresh"
	"github.com/cfptrack/cfptrack/internal/source"
	"github.com/cfptrack/cfptrack/internal/store"
)

// memStore is an in-memory implementation of every store surface the server
// needs.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	cache        []model.SourceCacheEntry
	sourceEvents []model.SourceEvent
	canonicals   []model.CanonicalEvent
}

func (m *memStore) ListCacheEntries(context.Context) ([]model.SourceCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SourceCacheEntry(nil), m.cache...), nil
}

func (m *memStore) SetCacheEntry(_ context.Context, src string, raw []byte, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.cache {
		if e.Source == src {
			m.cache[i] = model.SourceCacheEntry{Source: src, RawData: raw, FetchedAt: fetchedAt}
			return nil
		}
	}
	m.cache = append(m.cache, model.SourceCacheEntry{Source: src, RawData: raw, FetchedAt: fetchedAt})
	return nil
}

func (m *memStore) UpsertSourceEvent(_ context.Context, ev *model.SourceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.sourceEvents {
		if existing.Source == ev.Source && existing.SourceID == ev.SourceID {
			ev.ID = existing.ID
			m.sourceEvents[i] = *ev
			return nil
		}
	}
	m.nextID++
	ev.ID = m.nextID
	m.sourceEvents = append(m.sourceEvents, *ev)
	return nil
}

func (m *memStore) ListSourceEvents(context.Context) ([]model.SourceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SourceEvent(nil), m.sourceEvents...), nil
}

func (m *memStore) CountSourceEvents(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sourceEvents), nil
}

func (m *memStore) ListCanonicalEvents(context.Context) ([]model.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CanonicalEvent(nil), m.canonicals...), nil
}

func (m *memStore) ListOpenCanonicalEvents(_ context.Context, now time.Time) ([]model.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CanonicalEvent
	for _, ev := range m.canonicals {
		if ev.Status == model.StatusOpen && ev.CFPEndDate.After(now) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) CreateCanonicalEvent(_ context.Context, ev *model.CanonicalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		m.nextID++
		ev.ID = time.Now().Format("20060102") + "-" + string(rune('a'+len(m.canonicals)))
	}
	m.canonicals = append(m.canonicals, *ev)
	return nil
}

func (m *memStore) UpdateCanonicalEvent(_ context.Context, id string, patch store.CanonicalPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.canonicals {
		if m.canonicals[i].ID != id {
			continue
		}
		if patch.CFPEndDate != nil {
			m.canonicals[i].CFPEndDate = *patch.CFPEndDate
		}
		if patch.CFPURL != nil {
			m.canonicals[i].CFPURL = *patch.CFPURL
		}
		if patch.EventURL != nil {
			m.canonicals[i].EventURL = *patch.EventURL
		}
		if patch.Sources != nil {
			m.canonicals[i].Sources = patch.Sources
		}
		return nil
	}
	return assert.AnError
}

func (m *memStore) LinkSourceEvent(_ context.Context, sourceEventID int64, canonicalEventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sourceEvents {
		if m.sourceEvents[i].ID == sourceEventID {
			m.sourceEvents[i].CanonicalEventID = &canonicalEventID
			return nil
		}
	}
	return assert.AnError
}

type fakeSource struct {
	name   string
	events []model.SourceEvent
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchRaw(context.Context) (json.RawMessage, error) {
	return []byte(`[]`), nil
}

func (f *fakeSource) Transform(json.RawMessage) ([]model.SourceEvent, error) {
	return f.events, nil
}

func newTestServer(t *testing.T, st *memStore, srcs ...source.Source) *httptest.Server {
	t.Helper()
	reg := &source.Registry{}
	for _, s := range srcs {
		reg.Register(s)
	}
	srv := New(
		aggregate.NewLister(st),
		refresh.NewScheduler(reg, st, time.Hour, 50),
		canonical.NewService(st, 50),
		nil,
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &memStore{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListCFPsNoData(t *testing.T) {
	ts := newTestServer(t, &memStore{})

	resp, err := http.Get(ts.URL + "/api/cfps")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUpdateSourceThenListFlow(t *testing.T) {
	st := &memStore{}
	future := time.Now().AddDate(0, 2, 0)
	src := &fakeSource{name: "alpha", events: []model.SourceEvent{{
		Source:         "alpha",
		SourceID:       "ev1",
		Name:           "GopherCon",
		CFPURL:         "https://gophercon.com/cfp",
		CFPEndDate:     future,
		EventStartDate: future.AddDate(0, 3, 0),
		EventEndDate:   future.AddDate(0, 3, 2),
		Status:         model.StatusOpen,
		Tags:           []string{"go"},
	}}}
	ts := newTestServer(t, st, src)

	// One tick ingests the provider.
	resp, err := http.Post(ts.URL+"/api/update-source", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tick refresh.TickResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tick))
	assert.Equal(t, "alpha", tick.Source)
	assert.Equal(t, 1, tick.Upserted)

	// Reconcile to materialise canonical events.
	resp, err = http.Post(ts.URL+"/api/deduplicate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run canonical.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Linked)

	// The listing now serves the canonical event.
	resp, err = http.Get(ts.URL + "/api/cfps?tag=go")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []model.CanonicalEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "GopherCon", events[0].Name)

	// And an unmatched tag filters it out.
	resp, err = http.Get(ts.URL + "/api/cfps?tag=rust")
	require.NoError(t, err)
	defer resp.Body.Close()
	var none []model.CanonicalEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&none))
	assert.Empty(t, none)
}

func TestUpdateSourceUnknownName(t *testing.T) {
	ts := newTestServer(t, &memStore{}, &fakeSource{name: "alpha"})

	resp, err := http.Post(ts.URL+"/api/update-source?source=missing", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDeduplicateDryRun(t *testing.T) {
	st := &memStore{}
	st.sourceEvents = []model.SourceEvent{{
		ID: 1, Source: "alpha", SourceID: "ev1", Name: "GopherCon",
		CFPEndDate:     time.Now().AddDate(0, 1, 0),
		EventStartDate: time.Now().AddDate(0, 2, 0),
		EventEndDate:   time.Now().AddDate(0, 2, 1),
		Status:         model.StatusOpen,
	}}
	st.nextID = 1
	ts := newTestServer(t, st)

	resp, err := http.Post(ts.URL+"/api/deduplicate?dry_run=true", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run canonical.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.True(t, run.DryRun)
	assert.Equal(t, 1, run.Created)
	assert.Empty(t, st.canonicals)
}
