package canonical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfptrack/cfptrack/internal/model"
)

// serviceFake feeds the executor's writes back into the snapshot reads, so
// consecutive runs see each other's results.
type serviceFake struct {
	*fakeStore
	sourceEvents []model.SourceEvent
}

func (f *serviceFake) ListCanonicalEvents(context.Context) ([]model.CanonicalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.CanonicalEvent, len(f.created))
	copy(out, f.created)
	return out, nil
}

func (f *serviceFake) ListSourceEvents(context.Context) ([]model.SourceEvent, error) {
	return f.sourceEvents, nil
}

func TestServiceRunThenRerun(t *testing.T) {
	st := &serviceFake{fakeStore: newFakeStore()}
	st.sourceEvents = []model.SourceEvent{
		srcEvent(1, "confs-tech", date(0), "https://conf.example/cfp", ""),
		srcEvent(2, "joindin", date(2), "https://conf.example/cfp", ""),
		srcEvent(3, "joindin", date(30), "https://other.example/cfp", ""),
	}
	svc := NewService(st, 50)

	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SourceEvents)
	assert.Equal(t, 2, res.CanonicalEvents)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 3, res.Linked)
	assert.Equal(t, 0, res.Failed)

	// Rerunning against the committed state creates nothing new.
	res, err = svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.CanonicalEvents)
	assert.Equal(t, 3, res.Linked)
}

func TestServiceDryRunWritesNothing(t *testing.T) {
	st := &serviceFake{fakeStore: newFakeStore()}
	st.sourceEvents = []model.SourceEvent{
		srcEvent(1, "confs-tech", date(0), "https://conf.example/cfp", ""),
	}
	svc := NewService(st, 50)

	res, err := svc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, st.created)
	assert.Empty(t, st.links)
}
