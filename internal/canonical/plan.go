// Package canonical folds per-source events into canonical events. The
// engine computes a deterministic plan from in-memory snapshots and the
// executor applies the plan in concurrent batches.
package canonical

import (
	"fmt"
	"strings"

	"github.com/cfptrack/cfptrack/internal/model"
	"github.com/cfptrack/cfptrack/internal/store"
)

// tempIDPrefix marks canonical IDs assigned in-memory before the backing rows
// exist. Real IDs are UUIDs, so the prefix cannot collide.
const tempIDPrefix = "temp:"

// Create is a canonical event to be inserted. TempID stands in for the real
// ID until the insert returns one.
type Create struct {
	TempID string
	Event  model.CanonicalEvent
}

// Update patches an existing canonical event. ID may be a temp ID when the
// patch targets a canonical created earlier in the same plan.
type Update struct {
	ID    string
	Patch store.CanonicalPatch
}

// Link attaches a source event to its canonical event. CanonicalID may be a
// temp ID.
type Link struct {
	SourceEventID int64
	CanonicalID   string
}

// Plan is the full set of writes one reconciliation pass wants to make. It
// is pure data: computing a plan touches no storage.
type Plan struct {
	Creates []Create
	Updates []Update
	Links   []Link

	// Matched counts source events that folded into an existing canonical.
	Matched int
}

func tempID(n int) string {
	return fmt.Sprintf("%s%d", tempIDPrefix, n)
}

func isTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
