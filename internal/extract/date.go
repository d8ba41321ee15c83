// Package extract pulls deadlines and amounts out of unstructured listing
// text. Extraction is an explicit ordered rule list: each rule pairs a
// compiled pattern with a parser, rules are tried in order, and the first
// match wins.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateMatch is the tagged result of a date extraction pass.
type DateMatch struct {
	Found bool
	When  time.Time
}

// DefaultDeadlineOffset is added to "now" when no date pattern matches.
// Persisting a provisional deadline keeps the record visible to the urgency
// sweep; a null deadline would never be flagged.
const DefaultDeadlineOffset = 3 // months

type dateRule struct {
	pattern *regexp.Regexp
	parse   func(groups []string) (time.Time, bool)
}

var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// Ordered rule list mirroring the phrasings official bulletins actually use.
var dateRules = []dateRule{
	{
		pattern: regexp.MustCompile(`(?i)hasta\s+el\s+(\d{1,2})/(\d{1,2})/(\d{4})`),
		parse:   parseNumericDate,
	},
	{
		pattern: regexp.MustCompile(`(?i)antes\s+del?\s+(\d{1,2})\s+de\s+([a-zA-Záéíóúñ]+)\s+de\s+(\d{4})`),
		parse:   parseSpelledDate,
	},
	{
		pattern: regexp.MustCompile(`(?i)plazo.*?(\d{1,2})/(\d{1,2})/(\d{4})`),
		parse:   parseNumericDate,
	},
}

// Date scans text for a known deadline phrasing. The first rule that matches
// and parses to a valid calendar date wins; everything else is NoMatch.
func Date(text string) DateMatch {
	for _, rule := range dateRules {
		groups := rule.pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		if when, ok := rule.parse(groups); ok {
			return DateMatch{Found: true, When: when}
		}
	}
	return DateMatch{}
}

// Deadline resolves the deadline for a listing: the extracted date when one
// was found, otherwise now plus three months as a provisional default. The
// boolean reports whether the value came from the text.
func Deadline(text string, now time.Time) (time.Time, bool) {
	if m := Date(text); m.Found {
		return m.When, true
	}
	return now.AddDate(0, DefaultDeadlineOffset, 0), false
}

func parseNumericDate(groups []string) (time.Time, bool) {
	day, err := strconv.Atoi(groups[1])
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(groups[2])
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(groups[3])
	if err != nil {
		return time.Time{}, false
	}
	return makeDate(year, time.Month(month), day)
}

func parseSpelledDate(groups []string) (time.Time, bool) {
	day, err := strconv.Atoi(groups[1])
	if err != nil {
		return time.Time{}, false
	}
	month, ok := spanishMonths[strings.ToLower(groups[2])]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(groups[3])
	if err != nil {
		return time.Time{}, false
	}
	return makeDate(year, month, day)
}

// makeDate rejects rollovers like 31/02 that time.Date would silently
// normalize into March.
func makeDate(year int, month time.Month, day int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}
