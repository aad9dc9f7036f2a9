// Package fetch retrieves page metadata for the indexer.
//
// Only the head of a page matters here: the title, the meta description and
// the first few h1-h3 headings. Requests to the same host are spaced out by a
// per-host rate limiter.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	maxHeadings  = 10
	maxBodyBytes = 2 << 20
	userAgent    = "LinkStreak/1.0 (+https://github.com/abelbrown/linkstreak)"
)

// ErrUnsupportedURL is returned for anything that is not an http(s) URL.
var ErrUnsupportedURL = errors.New("fetch: unsupported url")

// Page is the metadata extracted from one page.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Headings    string `json:"headings"` // first h1-h3 texts joined with " | "
}

// ContentHash returns the change-detection hash of the page's metadata.
func (p Page) ContentHash() string {
	return ContentHash(p.Title, p.Description, p.Headings)
}

// Fetcher downloads pages and extracts their metadata.
type Fetcher struct {
	client *http.Client

	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a Fetcher with the given HTTP client timeout. Requests
// to one host are spaced at least a second apart.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		interval: time.Second,
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetHostInterval changes the minimum spacing between requests to one host.
// Zero or negative disables the limit. Existing limiters are dropped.
func (f *Fetcher) SetHostInterval(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = d
	f.limiters = make(map[string]*rate.Limiter)
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		limit := rate.Inf
		if f.interval > 0 {
			limit = rate.Every(f.interval)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[host] = l
	}
	return l
}

// Page downloads rawURL and extracts its metadata.
// Respects context cancellation, including while waiting on the host limiter.
func (f *Fetcher) Page(ctx context.Context, rawURL string) (Page, error) {
	if ctx.Err() != nil {
		return Page{}, ctx.Err()
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return Page{}, fmt.Errorf("fetch: wait for %s: %w", u.Host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("fetch: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch: %s: HTTP %d", rawURL, resp.StatusCode)
	}

	return Parse(rawURL, io.LimitReader(resp.Body, maxBodyBytes))
}

// Parse extracts page metadata from an HTML document.
func Parse(rawURL string, r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("fetch: parse %s: %w", rawURL, err)
	}

	p := Page{
		URL:         rawURL,
		Title:       collapse(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", "")),
	}

	var headings []string
	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := collapse(s.Text()); text != "" {
			headings = append(headings, text)
		}
		return len(headings) < maxHeadings
	})
	p.Headings = strings.Join(headings, " | ")

	return p, nil
}

// collapse trims s and folds internal whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
