// Package model defines the event records shared across the aggregation pipeline.
package model

import (
	"strings"
	"time"
)

// Status values for a CFP.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// SourceEvent is one provider's observation of an event, keyed by (Source, SourceID).
type SourceEvent struct {
	ID               int64      `json:"id" db:"id"`
	Source           string     `json:"source" db:"source"`
	SourceID         string     `json:"source_id" db:"source_id"`
	Name             string     `json:"name" db:"name"`
	CFPURL           string     `json:"cfp_url" db:"cfp_url"`
	EventURL         string     `json:"event_url" db:"event_url"`
	CFPEndDate       time.Time  `json:"cfp_end_date" db:"cfp_end_date"`
	EventStartDate   time.Time  `json:"event_start_date" db:"event_start_date"`
	EventEndDate     time.Time  `json:"event_end_date" db:"event_end_date"`
	Location         string     `json:"location" db:"location"`
	Status           string     `json:"status" db:"status"`
	Tags             []string   `json:"tags,omitempty" db:"tags"`
	CanonicalEventID *string    `json:"canonical_event_id,omitempty" db:"canonical_event_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// CanonicalEvent is the deduplicated merged record for one real-world event.
type CanonicalEvent struct {
	ID                 string    `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	NormalisedName     string    `json:"normalised_name" db:"normalised_name"`
	CFPURL             string    `json:"cfp_url" db:"cfp_url"`
	EventURL           string    `json:"event_url" db:"event_url"`
	CFPEndDate         time.Time `json:"cfp_end_date" db:"cfp_end_date"`
	EventStartDate     time.Time `json:"event_start_date" db:"event_start_date"`
	EventEndDate       time.Time `json:"event_end_date" db:"event_end_date"`
	Location           string    `json:"location" db:"location"`
	NormalisedLocation string    `json:"normalised_location" db:"normalised_location"`
	Status             string    `json:"status" db:"status"`
	Tags               []string  `json:"tags,omitempty" db:"tags"`
	Sources            []string  `json:"sources" db:"sources"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// SourceCacheEntry is the most recent raw snapshot fetched from one provider.
type SourceCacheEntry struct {
	Source    string    `json:"source" db:"source"`
	RawData   []byte    `json:"raw_data" db:"raw_data"`
	FetchedAt time.Time `json:"fetched_at" db:"fetched_at"`
}

// FromSourceEvent builds a new canonical record seeded from a single observation.
func FromSourceEvent(ev SourceEvent) CanonicalEvent {
	return CanonicalEvent{
		Name:               ev.Name,
		NormalisedName:     Normalise(ev.Name),
		CFPURL:             ev.CFPURL,
		EventURL:           ev.EventURL,
		CFPEndDate:         ev.CFPEndDate,
		EventStartDate:     ev.EventStartDate,
		EventEndDate:       ev.EventEndDate,
		Location:           ev.Location,
		NormalisedLocation: Normalise(ev.Location),
		Status:             ev.Status,
		Tags:               ev.Tags,
		Sources:            []string{ev.Source},
	}
}

// Normalise lower-cases a string and strips all whitespace. Used for the
// human-facing normalised_name/normalised_location columns, not for matching.
func Normalise(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.TrimSpace(strings.Join(fields, ""))
}

// NormaliseURL lower-cases a URL and strips any trailing slash. This is the
// form compared by the merge engine's matching predicate.
func NormaliseURL(u string) string {
	return strings.TrimSuffix(strings.ToLower(u), "/")
}

// HasSource reports whether a provider already contributed to this record.
func (c *CanonicalEvent) HasSource(source string) bool {
	for _, s := range c.Sources {
		if s == source {
			return true
		}
	}
	return false
}
