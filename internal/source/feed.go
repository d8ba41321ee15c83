package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/extract"
	"github.com/adc-ops/grantwatch/internal/grant"
)

// feedAdapter consumes RSS and Atom feeds. Several official gazettes publish
// subsidy announcements as feed items with an HTML summary body.
type feedAdapter struct {
	baseAdapter
	parser *gofeed.Parser
}

func newFeedAdapter(base baseAdapter) *feedAdapter {
	parser := gofeed.NewParser()
	if base.opts.UserAgent != "" {
		parser.UserAgent = base.opts.UserAgent
	}
	return &feedAdapter{
		baseAdapter: base,
		parser:      parser,
	}
}

// Fetch parses the feed and maps every titled item to a candidate.
func (a *feedAdapter) Fetch(ctx context.Context) ([]grant.Candidate, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	feed, err := a.parser.ParseURLWithContext(a.url, fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("source %s: parse feed: %w", a.name, err)
	}

	now := a.now()
	candidates := make([]grant.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}
		candidates = append(candidates, a.toCandidate(item, now))
	}
	a.logger().Debug("feed source fetched",
		zap.String("source", a.name),
		zap.Int("items", len(feed.Items)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func (a *feedAdapter) toCandidate(item *gofeed.Item, now time.Time) grant.Candidate {
	title := cleanText(item.Title)
	description := cleanText(stripMarkup(item.Description))

	text := title + " " + description
	deadline, confident := extract.Deadline(text, now)

	c := grant.Candidate{
		Title:             title,
		IssuingBody:       a.issuingBody,
		Description:       description,
		SourceURL:         item.Link,
		Scope:             a.scope,
		MaxAmount:         extract.Amount(text),
		Deadline:          &deadline,
		DeadlineConfident: confident,
	}
	if c.SourceURL == "" {
		c.SourceURL = a.url
	}
	if item.PublishedParsed != nil {
		published := item.PublishedParsed.UTC()
		c.Published = &published
	}
	return c
}

// stripMarkup reduces an HTML summary body to its visible text.
func stripMarkup(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
