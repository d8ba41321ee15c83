package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/extract"
	"github.com/adc-ops/grantwatch/internal/grant"
)

// Selectors for heuristic scraping of official bulletin listing pages.
// Regional and municipal portals share no markup standard, but grant listings
// overwhelmingly sit in blocks named after the thing they announce.
const (
	listingSelector = ".convocatoria, .subvencion, .ayuda"
	titleSelector   = "h2, h3, .titulo"
	bodySelector    = "p"
)

// heuristicAdapter scrapes listing pages with no machine-readable format.
// It walks known container selectors and reconstructs each listing from the
// markup, pulling deadlines and amounts out of the visible text.
type heuristicAdapter struct {
	baseAdapter
	collector *colly.Collector
}

func newHeuristicAdapter(base baseAdapter) *heuristicAdapter {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	if base.opts.UserAgent != "" {
		c.UserAgent = base.opts.UserAgent
	}
	c.SetRequestTimeout(base.timeout())
	return &heuristicAdapter{
		baseAdapter: base,
		collector:   c,
	}
}

// Fetch visits the listing page and scrapes every recognized block.
func (a *heuristicAdapter) Fetch(ctx context.Context) ([]grant.Candidate, error) {
	collector := a.collector.Clone()
	now := a.now()

	var (
		candidates []grant.Candidate
		fetchErr   error
	)
	collector.OnHTML(listingSelector, func(e *colly.HTMLElement) {
		if c, ok := a.scrapeListing(e, now); ok {
			candidates = append(candidates, c)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := a.visit(ctx, collector); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("source %s: fetch: %w", a.name, fetchErr)
	}

	a.logger().Debug("heuristic source scraped",
		zap.String("source", a.name),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func (a *heuristicAdapter) visit(ctx context.Context, collector *colly.Collector) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(a.url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("source %s: fetch canceled: %w", a.name, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("source %s: visit: %w", a.name, err)
		}
		return nil
	}
}

// scrapeListing reconstructs one candidate from a listing block. Blocks
// without a recognizable title are skipped.
func (a *heuristicAdapter) scrapeListing(e *colly.HTMLElement, now time.Time) (grant.Candidate, bool) {
	title := cleanText(e.DOM.Find(titleSelector).First().Text())
	if title == "" {
		return grant.Candidate{}, false
	}

	var paragraphs []string
	e.DOM.Find(bodySelector).Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	description := strings.Join(paragraphs, " ")

	sourceURL := a.url
	if href, ok := e.DOM.Find("a[href]").First().Attr("href"); ok {
		if abs := e.Request.AbsoluteURL(href); abs != "" {
			sourceURL = abs
		}
	}

	text := title + " " + description
	deadline, confident := extract.Deadline(text, now)

	return grant.Candidate{
		Title:             title,
		IssuingBody:       a.issuingBody,
		Description:       description,
		SourceURL:         sourceURL,
		Scope:             a.scope,
		MaxAmount:         extract.Amount(text),
		Deadline:          &deadline,
		DeadlineConfident: confident,
	}, true
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
