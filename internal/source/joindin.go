package source

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cfptrack/cfptrack/internal/fetcher"
	"github.com/cfptrack/cfptrack/internal/model"
)

// NameJoindIn identifies the joind.in feed.
const NameJoindIn = "joindin"

// JoindIn reads the joind.in events API filtered to events with an open call
// for speakers. Events that do not expose a CFP end date are dropped, since
// without a deadline they cannot participate in deadline-based matching.
type JoindIn struct {
	url     string
	fetcher fetcher.Fetcher
}

func NewJoindIn(url string, f fetcher.Fetcher) *JoindIn {
	return &JoindIn{url: url, fetcher: f}
}

func (s *JoindIn) Name() string { return NameJoindIn }

func (s *JoindIn) FetchRaw(ctx context.Context) (json.RawMessage, error) {
	body, err := s.fetcher.Get(ctx, s.url)
	if err != nil {
		return nil, eris.Wrap(err, "joindin: fetch")
	}
	return json.RawMessage(body), nil
}

type joindInResponse struct {
	Events []joindInEvent `json:"events"`
}

type joindInEvent struct {
	Name       string   `json:"name"`
	WebsiteURI string   `json:"website_uri"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	CFPEndDate string   `json:"cfp_end_date"`
	Location   string   `json:"location"`
	Tags       []string `json:"tags"`
}

func (s *JoindIn) Transform(raw json.RawMessage) ([]model.SourceEvent, error) {
	var resp joindInResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, eris.Wrap(err, "joindin: decode payload")
	}

	events := make([]model.SourceEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		if e.Name == "" || e.WebsiteURI == "" {
			continue
		}
		if e.CFPEndDate == "" {
			zap.L().Debug("skipping joind.in event without cfp end date",
				zap.String("event", e.Name))
			continue
		}

		events = append(events, model.SourceEvent{
			Source:         NameJoindIn,
			SourceID:       "joindin-" + model.NormaliseURL(e.WebsiteURI),
			Name:           e.Name,
			CFPURL:         strings.TrimSuffix(e.WebsiteURI, "/") + "/details",
			EventURL:       e.WebsiteURI,
			CFPEndDate:     parseJoindInDate(e.CFPEndDate),
			EventStartDate: parseJoindInDate(e.StartDate),
			EventEndDate:   parseJoindInDate(e.EndDate),
			Location:       e.Location,
			Status:         model.StatusOpen,
			Tags:           e.Tags,
		})
	}
	return events, nil
}

// parseJoindInDate accepts the RFC3339 timestamps the API emits, falling back
// to bare dates. Returns the zero time when neither form parses.
func parseJoindInDate(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}
