package canonical

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfptrack/cfptrack/internal/model"
	"github.com/cfptrack/cfptrack/internal/store"
)

// fakeStore records writes and fails on demand.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int
	created   []model.CanonicalEvent
	updates   map[string]store.CanonicalPatch
	links     map[int64]string
	createErr map[string]error // keyed by event name
	updateErr map[string]error
	linkErr   map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		updates:   make(map[string]store.CanonicalPatch),
		links:     make(map[int64]string),
		createErr: make(map[string]error),
		updateErr: make(map[string]error),
		linkErr:   make(map[int64]error),
	}
}

func (f *fakeStore) CreateCanonicalEvent(_ context.Context, ev *model.CanonicalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[ev.Name]; err != nil {
		return err
	}
	f.nextID++
	ev.ID = fmt.Sprintf("real-%d", f.nextID)
	f.created = append(f.created, *ev)
	return nil
}

func (f *fakeStore) UpdateCanonicalEvent(_ context.Context, id string, patch store.CanonicalPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.updates[id] = patch
	return nil
}

func (f *fakeStore) LinkSourceEvent(_ context.Context, sourceEventID int64, canonicalEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.linkErr[sourceEventID]; err != nil {
		return err
	}
	f.links[sourceEventID] = canonicalEventID
	return nil
}

func TestExecutorRemapsTempIDs(t *testing.T) {
	st := newFakeStore()
	exec := NewExecutor(st, 50)

	plan := &Plan{
		Creates: []Create{
			{TempID: "temp:0", Event: model.CanonicalEvent{Name: "Alpha"}},
			{TempID: "temp:1", Event: model.CanonicalEvent{Name: "Beta"}},
		},
		Links: []Link{
			{SourceEventID: 1, CanonicalID: "temp:0"},
			{SourceEventID: 2, CanonicalID: "temp:1"},
			{SourceEventID: 3, CanonicalID: "existing-id"},
		},
	}

	res, err := exec.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 3, res.Linked)
	assert.Equal(t, 0, res.Failed)

	// Temp IDs resolved to the created rows' real IDs.
	for srcID, canonID := range st.links {
		if srcID == 3 {
			assert.Equal(t, "existing-id", canonID)
			continue
		}
		assert.Contains(t, canonID, "real-")
	}
}

func TestExecutorFailedCreateDropsDependents(t *testing.T) {
	st := newFakeStore()
	st.createErr["Broken"] = eris.New("insert failed")
	exec := NewExecutor(st, 50)

	updatePatch := store.CanonicalPatch{Sources: []string{"joindin"}}
	plan := &Plan{
		Creates: []Create{
			{TempID: "temp:0", Event: model.CanonicalEvent{Name: "Broken"}},
			{TempID: "temp:1", Event: model.CanonicalEvent{Name: "Fine"}},
		},
		Updates: []Update{
			{ID: "temp:0", Patch: updatePatch},
		},
		Links: []Link{
			{SourceEventID: 1, CanonicalID: "temp:0"},
			{SourceEventID: 2, CanonicalID: "temp:1"},
		},
	}

	res, err := exec.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Linked)
	// One failed create plus its orphaned update and link.
	assert.Equal(t, 3, res.Failed)

	// The sibling create's link still landed.
	assert.Contains(t, st.links, int64(2))
	assert.NotContains(t, st.links, int64(1))
}

func TestExecutorIndividualFailuresDoNotAbort(t *testing.T) {
	st := newFakeStore()
	st.linkErr[2] = eris.New("fk violation")
	st.updateErr["c2"] = eris.New("deadlock")
	exec := NewExecutor(st, 2)

	plan := &Plan{
		Updates: []Update{
			{ID: "c1", Patch: store.CanonicalPatch{Sources: []string{"a"}}},
			{ID: "c2", Patch: store.CanonicalPatch{Sources: []string{"b"}}},
			{ID: "c3", Patch: store.CanonicalPatch{Sources: []string{"c"}}},
		},
		Links: []Link{
			{SourceEventID: 1, CanonicalID: "c1"},
			{SourceEventID: 2, CanonicalID: "c2"},
			{SourceEventID: 3, CanonicalID: "c3"},
		},
	}

	res, err := exec.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 2, res.Linked)
	assert.Equal(t, 2, res.Failed)
	assert.Contains(t, st.links, int64(1))
	assert.Contains(t, st.links, int64(3))
	assert.Contains(t, st.updates, "c1")
	assert.Contains(t, st.updates, "c3")
}

func TestExecutorEmptyPlan(t *testing.T) {
	exec := NewExecutor(newFakeStore(), 50)
	res, err := exec.Apply(context.Background(), &Plan{})
	require.NoError(t, err)
	assert.Equal(t, &ApplyResult{}, res)
}

func TestExecutorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(newFakeStore(), 50)
	_, err := exec.Apply(ctx, &Plan{
		Creates: []Create{{TempID: "temp:0", Event: model.CanonicalEvent{Name: "Alpha"}}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
