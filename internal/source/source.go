// Package source defines the CFP provider interface and the adapters for the
// upstream feeds. Each adapter knows how to fetch one provider's raw payload
// and turn it into source events. Fetching and transforming are kept separate
// so the raw payload can be cached verbatim.
package source

import (
	"context"
	"encoding/json"

	"github.com/cfptrack/cfptrack/internal/model"
)

// Source is a single upstream CFP provider.
type Source interface {
	// Name returns the provider's stable identifier, used as the cache key
	// and as the source column on events.
	Name() string

	// FetchRaw retrieves the provider's payload as raw JSON. It performs no
	// validation beyond what is needed to confirm the payload is usable.
	FetchRaw(ctx context.Context) (json.RawMessage, error)

	// Transform parses a raw payload into source events. It is pure: it
	// never touches the network and may be replayed against cached
	// payloads. Records that cannot be parsed at all are omitted; date
	// validation is left to the caller.
	Transform(raw json.RawMessage) ([]model.SourceEvent, error)
}
