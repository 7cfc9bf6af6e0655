package canonical

import (
	"sort"
	"strings"
	"time"

	"github.com/cfptrack/cfptrack/internal/model"
	"github.com/cfptrack/cfptrack/internal/store"
)

// matchWindow is the largest CFP deadline gap two records may have and still
// describe the same event. The same conference rarely closes two calls for
// papers within a week of each other.
const matchWindow = 7 * 24 * time.Hour

// Reconcile folds source events into canonical events and returns the plan
// of writes needed to persist the result. Both inputs are consumed as
// snapshots; nothing is mutated outside the returned plan.
//
// The fold is deterministic: both sides are sorted by (cfpEndDate, cfpUrl,
// eventUrl) and each source event greedily takes the first canonical it
// matches in that order. Matching a canonical may tighten its deadline or
// fill in blank URLs, and those merged values are what later source events
// compare against. A source event that matches nothing becomes a new
// canonical, inserted into the working set so later events can fold into it.
func Reconcile(canonicals []model.CanonicalEvent, sourceEvents []model.SourceEvent) *Plan {
	working := make([]model.CanonicalEvent, len(canonicals))
	copy(working, canonicals)
	sortCanonicals(working)

	events := make([]model.SourceEvent, len(sourceEvents))
	copy(events, sourceEvents)
	sort.SliceStable(events, func(i, j int) bool {
		return lessByDedupeKey(
			events[i].CFPEndDate, events[i].CFPURL, events[i].EventURL,
			events[j].CFPEndDate, events[j].CFPURL, events[j].EventURL)
	})

	plan := &Plan{}
	pendingUpdates := make(map[string]*store.CanonicalPatch)

	for _, ev := range events {
		idx := findMatch(ev, working)
		if idx < 0 {
			t := tempID(len(plan.Creates))
			plan.Creates = append(plan.Creates, Create{
				TempID: t,
				Event:  model.FromSourceEvent(ev),
			})
			plan.Links = append(plan.Links, Link{SourceEventID: ev.ID, CanonicalID: t})

			synthetic := model.FromSourceEvent(ev)
			synthetic.ID = t
			working = append(working, synthetic)
			sortCanonicals(working)
			continue
		}

		plan.Matched++
		target := &working[idx]
		patch := pendingUpdates[target.ID]
		if patch == nil {
			patch = &store.CanonicalPatch{}
		}

		// Adopt a strictly earlier deadline and fill blank URLs. The
		// working copy is updated too so later events match against the
		// merged values.
		if ev.CFPEndDate.Before(target.CFPEndDate) {
			d := ev.CFPEndDate
			patch.CFPEndDate = &d
			target.CFPEndDate = d
		}
		if target.CFPURL == "" && ev.CFPURL != "" {
			u := ev.CFPURL
			patch.CFPURL = &u
			target.CFPURL = u
		}
		if target.EventURL == "" && ev.EventURL != "" {
			u := ev.EventURL
			patch.EventURL = &u
			target.EventURL = u
		}
		if !target.HasSource(ev.Source) {
			target.Sources = append(target.Sources, ev.Source)
			patch.Sources = target.Sources
		}

		if !patch.Empty() {
			pendingUpdates[target.ID] = patch
		}
		plan.Links = append(plan.Links, Link{SourceEventID: ev.ID, CanonicalID: target.ID})

		// The merge may have changed the target's sort key.
		sortCanonicals(working)
	}

	// Emit updates in a stable order. Updates against temp IDs are folded
	// into the pending create instead, since the row does not exist yet.
	ids := make([]string, 0, len(pendingUpdates))
	for id := range pendingUpdates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		patch := pendingUpdates[id]
		if isTempID(id) {
			applyPatchToCreate(plan, id, patch)
			continue
		}
		plan.Updates = append(plan.Updates, Update{ID: id, Patch: *patch})
	}

	return plan
}

// findMatch returns the index of the first canonical the source event can
// fold into, or -1.
func findMatch(ev model.SourceEvent, canonicals []model.CanonicalEvent) int {
	for i := range canonicals {
		if matches(ev, canonicals[i]) {
			return i
		}
	}
	return -1
}

// matches reports whether a source event and a canonical event describe the
// same conference. Two events qualify when their CFP deadlines are less than
// a week apart and both URL pairs are compatible, where a blank URL is
// compatible with anything.
func matches(ev model.SourceEvent, canonical model.CanonicalEvent) bool {
	if !ev.CFPEndDate.IsZero() && !canonical.CFPEndDate.IsZero() {
		gap := ev.CFPEndDate.Sub(canonical.CFPEndDate)
		if gap < 0 {
			gap = -gap
		}
		if gap >= matchWindow {
			return false
		}
	}
	return urlsCompatible(ev.CFPURL, canonical.CFPURL) &&
		urlsCompatible(ev.EventURL, canonical.EventURL)
}

func urlsCompatible(a, b string) bool {
	na, nb := model.NormaliseURL(a), model.NormaliseURL(b)
	return na == "" || nb == "" || na == nb
}

func sortCanonicals(canonicals []model.CanonicalEvent) {
	sort.SliceStable(canonicals, func(i, j int) bool {
		return lessByDedupeKey(
			canonicals[i].CFPEndDate, canonicals[i].CFPURL, canonicals[i].EventURL,
			canonicals[j].CFPEndDate, canonicals[j].CFPURL, canonicals[j].EventURL)
	})
}

func lessByDedupeKey(dateA time.Time, cfpA, eventA string, dateB time.Time, cfpB, eventB string) bool {
	if !dateA.Equal(dateB) {
		return dateA.Before(dateB)
	}
	if cfpA != cfpB {
		return strings.Compare(cfpA, cfpB) < 0
	}
	return strings.Compare(eventA, eventB) < 0
}

// applyPatchToCreate folds a patch destined for a not-yet-created canonical
// into its pending create.
func applyPatchToCreate(plan *Plan, tempID string, patch *store.CanonicalPatch) {
	for i := range plan.Creates {
		if plan.Creates[i].TempID != tempID {
			continue
		}
		ev := &plan.Creates[i].Event
		if patch.CFPEndDate != nil {
			ev.CFPEndDate = *patch.CFPEndDate
		}
		if patch.CFPURL != nil {
			ev.CFPURL = *patch.CFPURL
		}
		if patch.EventURL != nil {
			ev.EventURL = *patch.EventURL
		}
		if patch.Sources != nil {
			ev.Sources = patch.Sources
		}
		return
	}
}
