package extract

import (
	"regexp"
	"strconv"
	"strings"
)

type amountRule struct {
	pattern    *regexp.Regexp
	multiplier float64
}

// Amount rules in priority order. "millones" must come before the bare euro
// rule or "3 millones €" would parse as 3.
var amountRules = []amountRule{
	{
		pattern:    regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:millones|M)\s*€`),
		multiplier: 1_000_000,
	},
	{
		pattern:    regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*€`),
		multiplier: 1,
	},
	{
		pattern:    regexp.MustCompile(`(?i)hasta\s+(\d+(?:[.,]\d+)?)\s*euros`),
		multiplier: 1,
	},
}

// Amount scans text for a monetary figure. First match wins; nil means the
// listing does not state one, which is common and left as-is.
func Amount(text string) *float64 {
	for _, rule := range amountRules {
		groups := rule.pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		raw := strings.ReplaceAll(groups[1], ",", ".")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		value *= rule.multiplier
		return &value
	}
	return nil
}
