// Package scraper fetches book and quote listings from the two toscrape.com
// practice sites and turns them into import records.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"

	"sms-server-go/config"
	"sms-server-go/logger"
	"sms-server-go/models"
)

var (
	ErrUnsupportedSite = errors.New("unsupported site, use 'books' or 'quotes'")
	// ErrTransport marks a failed page fetch. It aborts the whole run.
	ErrTransport = errors.New("transport failure")
)

const maxRobotsSize = 512 << 10

// Scraper fetches listing pages sequentially with a fixed user agent.
type Scraper struct {
	client    *http.Client
	userAgent string
	bases     map[string]string
}

// New builds a Scraper from the scraper settings.
func New(cfg config.ScraperConfig) *Scraper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Scraper{
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		bases: map[string]string{
			models.SourceBooks:  cfg.BooksURL,
			models.SourceQuotes: cfg.QuotesURL,
		},
	}
}

// PageURL returns the address of the given 1-based listing page.
func PageURL(site, base string, page int) (string, error) {
	var ref string
	switch site {
	case models.SourceBooks:
		if page <= 1 {
			return base, nil
		}
		ref = fmt.Sprintf("catalogue/page-%d.html", page)
	case models.SourceQuotes:
		ref = fmt.Sprintf("page/%d/", page)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSite, site)
	}
	return resolve(base, ref)
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// Scrape fetches pages 1..pages of site and returns their records in page
// order. If robots.txt disallows the site the result is empty and no page
// is fetched. Any fetch failure discards everything collected so far.
func (s *Scraper) Scrape(ctx context.Context, site string, pages int) ([]models.ListingInput, error) {
	var parse func(io.Reader) ([]models.ListingInput, error)
	switch site {
	case models.SourceBooks:
		parse = ParseBooks
	case models.SourceQuotes:
		parse = ParseQuotes
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSite, site)
	}
	base := s.bases[site]

	items := []models.ListingInput{}
	if !s.Allowed(ctx, base) {
		logger.LogWarn("robots.txt disallows fetching", "site", site, "base", base)
		return items, nil
	}

	for page := 1; page <= pages; page++ {
		pageURL, err := PageURL(site, base, page)
		if err != nil {
			return nil, err
		}
		records, err := s.fetchPage(ctx, pageURL, parse)
		if err != nil {
			logger.LogError("Failed to fetch page", err, "site", site, "page", page, "url", pageURL)
			return nil, err
		}
		logger.LogInfo("Scraped page", "site", site, "page", page, "records", len(records))
		items = append(items, records...)
	}
	return items, nil
}

func (s *Scraper) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return req, nil
}

func (s *Scraper) fetchPage(ctx context.Context, target string, parse func(io.Reader) ([]models.ListingInput, error)) ([]models.ListingInput, error) {
	req, err := s.newRequest(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransport, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", ErrTransport, target, resp.StatusCode)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrTransport, target, err)
	}
	return parse(body)
}

// Allowed reports whether robots.txt at base lets our user agent fetch "/".
// An unreachable or unparsable robots.txt counts as allowed; 401 and 403
// count as disallowed.
func (s *Scraper) Allowed(ctx context.Context, base string) bool {
	robotsURL, err := resolve(base, "robots.txt")
	if err != nil {
		return true
	}
	req, err := s.newRequest(ctx, robotsURL)
	if err != nil {
		return true
	}
	resp, err := s.client.Do(req)
	if err != nil {
		logger.LogDebug("robots.txt unreachable, assuming allowed", "url", robotsURL, "error", err)
		return true
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return true
	}
	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logger.LogDebug("robots.txt unparsable, assuming allowed", "url", robotsURL, "error", err)
		return true
	}
	return robots.TestAgent("/", s.userAgent)
}
