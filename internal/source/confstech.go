package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cfptrack/cfptrack/internal/fetcher"
	"github.com/cfptrack/cfptrack/internal/model"
)

// NameConfsTech identifies the confs.tech feed.
const NameConfsTech = "confs-tech"

// Algolia credentials published in the confs.tech frontend bundle. The index
// is world-readable; these are search-only keys, not secrets.
const (
	confsTechAlgoliaAppID  = "29FLVJV5X9"
	confsTechAlgoliaAPIKey = "f2534ea79a28d8469f4e81d546297d39"
	confsTechIndexName     = "prod_conferences"
	confsTechHitsPerPage   = 600
)

// ConfsTech queries the confs.tech conference index on Algolia. The query
// filters server-side to conferences whose CFP is still open.
type ConfsTech struct {
	url     string
	fetcher fetcher.Fetcher
	now     func() time.Time
}

func NewConfsTech(url string, f fetcher.Fetcher) *ConfsTech {
	return &ConfsTech{url: url, fetcher: f, now: time.Now}
}

func (s *ConfsTech) Name() string { return NameConfsTech }

type confsTechRequest struct {
	Requests []confsTechQuery `json:"requests"`
}

type confsTechQuery struct {
	IndexName string `json:"indexName"`
	Params    string `json:"params"`
}

func (s *ConfsTech) FetchRaw(ctx context.Context) (json.RawMessage, error) {
	nowUnix := s.now().Unix()
	body, err := json.Marshal(confsTechRequest{Requests: []confsTechQuery{{
		IndexName: confsTechIndexName,
		Params: fmt.Sprintf(
			"filters=startDateUnix>%d AND cfpEndDateUnix>%d&hitsPerPage=%d&page=0&query=",
			nowUnix, nowUnix, confsTechHitsPerPage),
	}}})
	if err != nil {
		return nil, eris.Wrap(err, "confs-tech: encode query")
	}

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("x-algolia-application-id", confsTechAlgoliaAppID)
	header.Set("x-algolia-api-key", confsTechAlgoliaAPIKey)

	resp, err := s.fetcher.Post(ctx, s.url, header, body)
	if err != nil {
		return nil, eris.Wrap(err, "confs-tech: query algolia")
	}
	return json.RawMessage(resp), nil
}

type confsTechResponse struct {
	Results []struct {
		Hits []confsTechHit `json:"hits"`
	} `json:"results"`
}

type confsTechHit struct {
	ObjectID   string   `json:"objectID"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	CFPURL     string   `json:"cfpUrl"`
	CFPEndDate string   `json:"cfpEndDate"`
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	City       string   `json:"city"`
	Country    string   `json:"country"`
	Online     bool     `json:"online"`
	Topics     []string `json:"topics"`
}

func (s *ConfsTech) Transform(raw json.RawMessage) ([]model.SourceEvent, error) {
	var resp confsTechResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, eris.Wrap(err, "confs-tech: decode payload")
	}
	if len(resp.Results) == 0 {
		return nil, eris.New("confs-tech: payload has no results")
	}

	hits := resp.Results[0].Hits
	events := make([]model.SourceEvent, 0, len(hits))
	for _, hit := range hits {
		ev, ok := s.transformHit(hit)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *ConfsTech) transformHit(hit confsTechHit) (model.SourceEvent, bool) {
	if hit.Name == "" || hit.ObjectID == "" {
		zap.L().Debug("skipping unidentifiable confs.tech hit", zap.String("url", hit.URL))
		return model.SourceEvent{}, false
	}

	endDate := hit.EndDate
	if endDate == "" {
		endDate = hit.StartDate
	}

	ev := model.SourceEvent{
		Source:         NameConfsTech,
		SourceID:       "confstech-" + hit.ObjectID,
		Name:           hit.Name,
		CFPURL:         hit.CFPURL,
		EventURL:       hit.URL,
		CFPEndDate:     dayEnd(hit.CFPEndDate),
		EventStartDate: dayStart(hit.StartDate),
		EventEndDate:   dayEnd(endDate),
		Location:       confsTechLocation(hit),
		Status:         model.StatusOpen,
		Tags:           hit.Topics,
	}
	return ev, true
}

func confsTechLocation(hit confsTechHit) string {
	if hit.Online {
		return "Online"
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{hit.City, hit.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// dayStart parses a YYYY-MM-DD date as midnight UTC. Returns the zero time on
// parse failure so the caller's date validation rejects the record.
func dayStart(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// dayEnd parses a YYYY-MM-DD date as the last second of that day in UTC.
// CFP deadlines are inclusive of the stated day.
func dayEnd(s string) time.Time {
	t := dayStart(s)
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Second)
}
