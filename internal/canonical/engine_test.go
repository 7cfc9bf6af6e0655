package canonical

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfptrack/cfptrack/internal/model"
)

func date(offset int) time.Time {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func srcEvent(id int64, src string, cfpEnd time.Time, cfpURL, eventURL string) model.SourceEvent {
	return model.SourceEvent{
		ID:             id,
		Source:         src,
		SourceID:       "id",
		Name:           "Event",
		CFPURL:         cfpURL,
		EventURL:       eventURL,
		CFPEndDate:     cfpEnd,
		EventStartDate: cfpEnd.AddDate(0, 2, 0),
		EventEndDate:   cfpEnd.AddDate(0, 2, 1),
		Status:         model.StatusOpen,
	}
}

func canonEvent(id string, cfpEnd time.Time, cfpURL, eventURL string, sources ...string) model.CanonicalEvent {
	return model.CanonicalEvent{
		ID:             id,
		Name:           "Event",
		NormalisedName: "event",
		CFPURL:         cfpURL,
		EventURL:       eventURL,
		CFPEndDate:     cfpEnd,
		EventStartDate: cfpEnd.AddDate(0, 2, 0),
		EventEndDate:   cfpEnd.AddDate(0, 2, 1),
		Status:         model.StatusOpen,
		Sources:        sources,
	}
}

func TestReconcileMatchesWithinWindow(t *testing.T) {
	canonicals := []model.CanonicalEvent{
		canonEvent("c1", date(0), "https://conf.example/cfp", "https://conf.example", "confs-tech"),
	}
	// Three days apart, identical URLs modulo case and trailing slash.
	events := []model.SourceEvent{
		srcEvent(1, "joindin", date(3), "https://CONF.example/cfp/", "https://conf.example/"),
	}

	plan := Reconcile(canonicals, events)

	assert.Empty(t, plan.Creates)
	assert.Equal(t, 1, plan.Matched)
	require.Len(t, plan.Links, 1)
	assert.Equal(t, Link{SourceEventID: 1, CanonicalID: "c1"}, plan.Links[0])

	// The match adds its source to the canonical but the later deadline is
	// not adopted.
	require.Len(t, plan.Updates, 1)
	assert.Nil(t, plan.Updates[0].Patch.CFPEndDate)
	assert.Equal(t, []string{"confs-tech", "joindin"}, plan.Updates[0].Patch.Sources)
}

func TestReconcileSevenDayGateIsExclusive(t *testing.T) {
	canonicals := []model.CanonicalEvent{
		canonEvent("c1", date(0), "", "", "confs-tech"),
	}

	// Exactly seven days apart: different events.
	plan := Reconcile(canonicals, []model.SourceEvent{srcEvent(1, "joindin", date(7), "", "")})
	assert.Len(t, plan.Creates, 1)
	assert.Equal(t, 0, plan.Matched)

	// A second short of seven days: same event.
	justUnder := date(7).Add(-time.Second)
	plan = Reconcile(canonicals, []model.SourceEvent{srcEvent(1, "joindin", justUnder, "", "")})
	assert.Empty(t, plan.Creates)
	assert.Equal(t, 1, plan.Matched)
}

func TestReconcileURLMismatchBlocksMatch(t *testing.T) {
	canonicals := []model.CanonicalEvent{
		canonEvent("c1", date(0), "https://a.example/cfp", "", "confs-tech"),
	}
	events := []model.SourceEvent{
		srcEvent(1, "joindin", date(1), "https://b.example/cfp", ""),
	}

	plan := Reconcile(canonicals, events)
	assert.Len(t, plan.Creates, 1)
	assert.Equal(t, 0, plan.Matched)
}

func TestReconcileBlankURLMatchesAnything(t *testing.T) {
	canonicals := []model.CanonicalEvent{
		canonEvent("c1", date(0), "", "https://conf.example", "confs-tech"),
	}
	events := []model.SourceEvent{
		srcEvent(1, "joindin", date(1), "https://conf.example/cfp", ""),
	}

	plan := Reconcile(canonicals, events)
	assert.Equal(t, 1, plan.Matched)

	// Both blanks get filled from the other side.
	require.Len(t, plan.Updates, 1)
	require.NotNil(t, plan.Updates[0].Patch.CFPURL)
	assert.Equal(t, "https://conf.example/cfp", *plan.Updates[0].Patch.CFPURL)
	assert.Nil(t, plan.Updates[0].Patch.EventURL)
}

func TestReconcileAdoptsEarlierDeadline(t *testing.T) {
	canonicals := []model.CanonicalEvent{
		canonEvent("c1", date(5), "https://conf.example/cfp", "", "confs-tech"),
	}
	events := []model.SourceEvent{
		srcEvent(1, "joindin", date(2), "https://conf.example/cfp", ""),
	}

	plan := Reconcile(canonicals, events)
	require.Len(t, plan.Updates, 1)
	require.NotNil(t, plan.Updates[0].Patch.CFPEndDate)
	assert.True(t, plan.Updates[0].Patch.CFPEndDate.Equal(date(2)))
}

func TestReconcileUnmatchedEventsFoldTogether(t *testing.T) {
	// No canonicals: the first event synthesizes one and the second folds
	// into it rather than creating its own.
	events := []model.SourceEvent{
		srcEvent(1, "confs-tech", date(0), "https://conf.example/cfp", ""),
		srcEvent(2, "joindin", date(2), "https://conf.example/cfp", "https://conf.example"),
	}

	plan := Reconcile(nil, events)

	require.Len(t, plan.Creates, 1)
	assert.Equal(t, 1, plan.Matched)
	require.Len(t, plan.Links, 2)
	assert.Equal(t, plan.Links[0].CanonicalID, plan.Links[1].CanonicalID)
	assert.True(t, isTempID(plan.Links[0].CanonicalID))

	// The second event's merge folds into the pending create instead of
	// emitting an update against a row that does not exist yet.
	assert.Empty(t, plan.Updates)
	created := plan.Creates[0].Event
	assert.Equal(t, "https://conf.example", created.EventURL)
	assert.ElementsMatch(t, []string{"confs-tech", "joindin"}, created.Sources)
}

func TestReconcileGreedyFirstMatchInSortOrder(t *testing.T) {
	// Two canonicals both within the window; the one earlier in the sort
	// order wins.
	canonicals := []model.CanonicalEvent{
		canonEvent("later", date(3), "", "", "confs-tech"),
		canonEvent("earlier", date(1), "", "", "confs-tech"),
	}
	events := []model.SourceEvent{
		srcEvent(1, "joindin", date(2), "", ""),
	}

	plan := Reconcile(canonicals, events)
	require.Len(t, plan.Links, 1)
	assert.Equal(t, "earlier", plan.Links[0].CanonicalID)
}

func TestReconcileDeterministicUnderInputOrder(t *testing.T) {
	var canonicals []model.CanonicalEvent
	var events []model.SourceEvent
	for i := 0; i < 12; i++ {
		canonicals = append(canonicals,
			canonEvent(string(rune('a'+i)), date(i*5), "", "", "confs-tech"))
	}
	for i := 0; i < 30; i++ {
		events = append(events,
			srcEvent(int64(i+1), "joindin", date(i*2), "", ""))
	}

	reference := Reconcile(canonicals, events)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffledCanonicals := make([]model.CanonicalEvent, len(canonicals))
		copy(shuffledCanonicals, canonicals)
		rng.Shuffle(len(shuffledCanonicals), func(i, j int) {
			shuffledCanonicals[i], shuffledCanonicals[j] = shuffledCanonicals[j], shuffledCanonicals[i]
		})
		shuffledEvents := make([]model.SourceEvent, len(events))
		copy(shuffledEvents, events)
		rng.Shuffle(len(shuffledEvents), func(i, j int) {
			shuffledEvents[i], shuffledEvents[j] = shuffledEvents[j], shuffledEvents[i]
		})

		plan := Reconcile(shuffledCanonicals, shuffledEvents)
		assert.Equal(t, reference, plan)
	}
}

func TestReconcileRerunIsStable(t *testing.T) {
	// Folding the same source events a second time, after the first plan's
	// creates and links exist, must produce no new canonicals.
	events := []model.SourceEvent{
		srcEvent(1, "confs-tech", date(0), "https://conf.example/cfp", ""),
		srcEvent(2, "joindin", date(2), "https://conf.example/cfp", ""),
	}
	first := Reconcile(nil, events)
	require.Len(t, first.Creates, 1)

	// Simulate the committed state.
	committed := first.Creates[0].Event
	committed.ID = "real-id"

	second := Reconcile([]model.CanonicalEvent{committed}, events)
	assert.Empty(t, second.Creates)
	assert.Equal(t, 2, second.Matched)
	for _, l := range second.Links {
		assert.Equal(t, "real-id", l.CanonicalID)
	}
}

func TestReconcileIgnoresZeroDeadlineGate(t *testing.T) {
	// When either side has no deadline the date gate is skipped and URLs
	// alone decide.
	canonicals := []model.CanonicalEvent{
		canonEvent("c1", time.Time{}, "https://conf.example/cfp", "", "confs-tech"),
	}
	events := []model.SourceEvent{
		srcEvent(1, "joindin", date(100), "https://conf.example/cfp", ""),
	}

	plan := Reconcile(canonicals, events)
	assert.Equal(t, 1, plan.Matched)
}
