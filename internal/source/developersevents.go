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

// NameDevelopersEvents identifies the developers.events feed.
const NameDevelopersEvents = "developers-events"

// DevelopersEvents reads the aggregated all-cfps.json feed published by
// developers.events. The feed is a flat JSON array, one entry per open CFP.
type DevelopersEvents struct {
	url     string
	fetcher fetcher.Fetcher
}

func NewDevelopersEvents(url string, f fetcher.Fetcher) *DevelopersEvents {
	return &DevelopersEvents{url: url, fetcher: f}
}

func (s *DevelopersEvents) Name() string { return NameDevelopersEvents }

func (s *DevelopersEvents) FetchRaw(ctx context.Context) (json.RawMessage, error) {
	body, err := s.fetcher.Get(ctx, s.url)
	if err != nil {
		return nil, eris.Wrap(err, "developers-events: fetch")
	}
	return json.RawMessage(body), nil
}

// rawDevelopersEventsCFP mirrors one entry of all-cfps.json. Dates are epoch
// milliseconds; conf.date holds [start, end].
type rawDevelopersEventsCFP struct {
	Conf struct {
		Name      string  `json:"name"`
		Date      []int64 `json:"date"`
		Hyperlink string  `json:"hyperlink"`
		Status    string  `json:"status"`
		Location  string  `json:"location"`
	} `json:"conf"`
	Link      string `json:"link"`
	UntilDate int64  `json:"untilDate"`
}

func (s *DevelopersEvents) Transform(raw json.RawMessage) ([]model.SourceEvent, error) {
	var entries []rawDevelopersEventsCFP
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, eris.Wrap(err, "developers-events: decode payload")
	}

	events := make([]model.SourceEvent, 0, len(entries))
	for _, e := range entries {
		if e.Conf.Name == "" {
			zap.L().Debug("skipping unnamed developers.events entry", zap.String("link", e.Link))
			continue
		}

		ev := model.SourceEvent{
			Source:     NameDevelopersEvents,
			SourceID:   developersEventsID(e),
			Name:       e.Conf.Name,
			CFPURL:     e.Link,
			EventURL:   e.Conf.Hyperlink,
			CFPEndDate: fromMillis(e.UntilDate),
			Location:   e.Conf.Location,
			Status:     developersEventsStatus(e.Conf.Status),
		}
		if len(e.Conf.Date) > 0 {
			ev.EventStartDate = fromMillis(e.Conf.Date[0])
		}
		if len(e.Conf.Date) > 1 {
			ev.EventEndDate = fromMillis(e.Conf.Date[1])
		}
		events = append(events, ev)
	}
	return events, nil
}

// developersEventsID derives a stable identifier for a feed entry. The feed
// carries no explicit id, so the event hyperlink is used when present and the
// normalised name otherwise.
func developersEventsID(e rawDevelopersEventsCFP) string {
	if e.Conf.Hyperlink != "" {
		return model.NormaliseURL(e.Conf.Hyperlink)
	}
	return model.Normalise(e.Conf.Name)
}

func developersEventsStatus(raw string) string {
	if strings.EqualFold(raw, model.StatusClosed) {
		return model.StatusClosed
	}
	return model.StatusOpen
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
