package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"newslens/internal/core"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <link>https://example.com</link>
    <item>
      <title>First post</title>
      <link>https://example.com/posts/1</link>
      <guid>post-1</guid>
      <pubDate>Mon, 24 Aug 2026 10:00:00 GMT</pubDate>
      <description>A short summary.</description>
    </item>
    <item>
      <title>No link post</title>
      <description>Dropped because it has no link.</description>
    </item>
  </channel>
</rss>`

func TestFetchParsesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("expected stable User-Agent, got %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFetcher()
	parsed, err := f.Fetch(context.Background(), srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if parsed.Title != "Example Feed" {
		t.Errorf("expected feed title, got %q", parsed.Title)
	}
	if len(parsed.Items) != 1 {
		t.Fatalf("expected 1 item (link-less entry dropped), got %d", len(parsed.Items))
	}
	it := parsed.Items[0]
	if it.Link != "https://example.com/posts/1" || it.ID != "post-1" {
		t.Errorf("unexpected item %+v", it)
	}
	if it.Published == nil {
		t.Error("expected published time")
	}
	if it.Body() != "A short summary." {
		t.Errorf("expected summary body, got %q", it.Body())
	}
}

func TestFetchRetriesOn503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher()
	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL, 5*time.Second)
	elapsed := time.Since(start)

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if !core.IsKind(err, core.KindFetchHTTP) || core.StatusOf(err) != 503 {
		t.Errorf("expected FetchHTTP 503, got %v", err)
	}
	// Two backoff waits: 1s + 2s.
	if elapsed < 3*time.Second {
		t.Errorf("expected at least 3s of backoff, took %v", elapsed)
	}
}

func TestFetch404IsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher()
	_, err := f.Fetch(context.Background(), srv.URL, 5*time.Second)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single attempt on 4xx, got %d", got)
	}
	if !core.IsKind(err, core.KindFetchHTTP) || core.StatusOf(err) != 404 {
		t.Errorf("expected FetchHTTP 404, got %v", err)
	}
}

func TestFetch429Retries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFetcher()
	parsed, err := f.Fetch(context.Background(), srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("expected recovery after 429, got %v", err)
	}
	if len(parsed.Items) != 1 {
		t.Errorf("expected parsed items after retry, got %d", len(parsed.Items))
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	f := &Fetcher{client: srv.Client(), parser: NewFetcher().parser, maxBody: 1 << 20, attempts: 1}
	_, err := f.Fetch(context.Background(), srv.URL, 50*time.Millisecond)
	if !core.IsKind(err, core.KindFetchTimeout) {
		t.Errorf("expected FetchTimeout, got %v", err)
	}
}

func TestFetchBadXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a feed"))
	}))
	defer srv.Close()

	f := NewFetcher()
	_, err := f.Fetch(context.Background(), srv.URL, 5*time.Second)
	if !core.IsKind(err, core.KindParseFeed) {
		t.Errorf("expected ParseFeed, got %v", err)
	}
}
