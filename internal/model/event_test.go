package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalise(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"GopherCon Europe", "gopherconeurope"},
		{"  FOSDEM  ", "fosdem"},
		{"", ""},
		{"Tabs\tand\nnewlines", "tabsandnewlines"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalise(tt.input), "input: %q", tt.input)
	}
}

func TestNormaliseURL(t *testing.T) {
	assert.Equal(t, "https://x.example/cfp", NormaliseURL("https://X.example/CFP/"))
	assert.Equal(t, "https://x.example", NormaliseURL("https://x.example"))
	assert.Equal(t, "", NormaliseURL(""))
	assert.Equal(t, "", NormaliseURL("/"))
}

func TestFromSourceEvent(t *testing.T) {
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := SourceEvent{
		Source:         "confstech",
		SourceID:       "abc",
		Name:           "Conf Fest 2026",
		CFPURL:         "https://conf.example/cfp",
		EventURL:       "https://conf.example",
		CFPEndDate:     end,
		EventStartDate: end.AddDate(0, 2, 0),
		EventEndDate:   end.AddDate(0, 2, 2),
		Location:       "Lisbon, Portugal",
		Status:         StatusOpen,
		Tags:           []string{"go", "cloud"},
	}

	c := FromSourceEvent(ev)
	assert.Equal(t, "Conf Fest 2026", c.Name)
	assert.Equal(t, "conffest2026", c.NormalisedName)
	assert.Equal(t, "lisbon,portugal", c.NormalisedLocation)
	assert.Equal(t, []string{"confstech"}, c.Sources)
	assert.True(t, c.HasSource("confstech"))
	assert.False(t, c.HasSource("joindin"))
	assert.Equal(t, end, c.CFPEndDate)
}
