// Package feeds fetches and parses RSS/Atom feeds.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"newslens/internal/core"
	"newslens/internal/logger"
)

const userAgent = "newslens/1.0 (+https://github.com/newslens)"

// ParsedFeed is the result of one successful fetch.
type ParsedFeed struct {
	Title   string
	SiteURL string
	Items   []Item
}

// Item is one entry of a parsed feed.
type Item struct {
	ID        string
	Title     string
	Link      string
	Published *time.Time
	Content   string
	Summary   string
}

// Body returns the best available text for the item: full content when the
// feed carries it, the summary otherwise.
func (it Item) Body() string {
	if it.Content != "" {
		return it.Content
	}
	return it.Summary
}

// Fetcher retrieves feeds over HTTP with bounded retries.
type Fetcher struct {
	client   *http.Client
	parser   *gofeed.Parser
	maxBody  int64
	attempts int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the underlying HTTP client, used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBodyBytes caps the response size read from a feed.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{},
		parser:   gofeed.NewParser(),
		maxBody:  10 * 1024 * 1024,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves and parses the feed at url. It makes up to 3 attempts with
// exponential backoff (1s, 2s, 4s), retrying only on network errors, HTTP
// 5xx and HTTP 429. Any other 4xx is terminal.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (*ParsedFeed, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 1; attempt <= f.attempts; attempt++ {
		parsed, err := f.fetchOnce(ctx, url, timeout)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		if attempt < f.attempts {
			logger.Debug("feed fetch retrying", "url", url, "attempt", attempt, "error", err.Error())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, core.NewError(core.KindFetchTimeout, ctx.Err())
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, timeout time.Duration) (*ParsedFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.Errorf(core.KindBadRequest, "building request for %s: %v", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, core.Errorf(core.KindFetchTimeout, "fetching %s: %v", url, err)
		}
		return nil, core.Errorf(core.KindFetchNetwork, "fetching %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewHTTPError(core.KindRateLimited, resp.StatusCode,
			fmt.Errorf("fetching %s", url))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewHTTPError(core.KindFetchHTTP, resp.StatusCode,
			fmt.Errorf("fetching %s", url))
	}

	feed, err := f.parser.Parse(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, core.Errorf(core.KindParseFeed, "parsing %s: %v", url, err)
	}
	return convert(feed), nil
}

// retryable reports whether a fetch error is transient.
func retryable(err error) bool {
	switch core.KindOf(err) {
	case core.KindFetchNetwork, core.KindFetchTimeout, core.KindRateLimited:
		return true
	case core.KindFetchHTTP:
		return core.StatusOf(err) >= 500
	default:
		return false
	}
}

func convert(feed *gofeed.Feed) *ParsedFeed {
	out := &ParsedFeed{
		Title:   feed.Title,
		SiteURL: feed.Link,
	}
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		item := Item{
			ID:      it.GUID,
			Title:   it.Title,
			Content: it.Content,
			Summary: it.Description,
		}
		// The canonical link is the first one the entry carries.
		if it.Link != "" {
			item.Link = it.Link
		} else if len(it.Links) > 0 {
			item.Link = it.Links[0]
		}
		if it.PublishedParsed != nil {
			t := it.PublishedParsed.UTC()
			item.Published = &t
		} else if it.UpdatedParsed != nil {
			t := it.UpdatedParsed.UTC()
			item.Published = &t
		}
		if item.Link == "" {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out
}
