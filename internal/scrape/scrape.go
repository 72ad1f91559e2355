// Package scrape extracts the main article text from web pages.
package scrape

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newslens/internal/logger"
)

const userAgent = "newslens/1.0 (+https://github.com/newslens)"

// Scraper downloads article pages and extracts their main content as wrapped
// plain text. Extraction failures degrade to an empty string; callers treat
// short output as degraded and keep the feed-supplied content.
type Scraper struct {
	client *http.Client
}

// NewScraper creates a Scraper.
func NewScraper() *Scraper {
	return &Scraper{client: &http.Client{}}
}

// WithHTTPClient replaces the HTTP client, used by tests.
func (s *Scraper) WithHTTPClient(c *http.Client) *Scraper {
	s.client = c
	return s
}

// Scrape fetches pageURL and returns the main article content as plain text
// wrapped at 80 columns. It never returns an extraction error: any failure
// past the HTTP fetch yields an empty string.
func (s *Scraper) Scrape(ctx context.Context, pageURL string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("scrape got non-2xx", "url", pageURL, "status", resp.StatusCode)
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", nil
	}
	return ExtractText(doc, pageURL), nil
}

// ExtractText pulls the main article content out of a parsed document and
// renders it as 80-column plain text. Fallback chain: densest content block,
// then all <p> elements concatenated, then empty string.
func ExtractText(doc *goquery.Document, baseURL string) string {
	doc.Find("script, style, nav, header, footer, aside, noscript, form, iframe").Remove()
	resolveLinks(doc, baseURL)

	if block := densestBlock(doc); block != nil {
		if text := renderText(block); text != "" {
			return text
		}
	}

	// Fallback: every paragraph on the page.
	var parts []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return ""
	}
	return wrap(strings.Join(parts, "\n\n"), 80)
}

// candidate selectors for the main content, tried most-specific first.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".article-body",
	".post-content",
	".entry-content",
	"#content",
}

// densestBlock returns the candidate element carrying the most paragraph
// text, a cheap stand-in for a full readability scoring pass.
func densestBlock(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestLen := 0
	for _, sel := range contentSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			n := 0
			s.Find("p").Each(func(_ int, p *goquery.Selection) {
				n += len(strings.TrimSpace(p.Text()))
			})
			if n > bestLen {
				best, bestLen = s, n
			}
		})
		if best != nil {
			return best
		}
	}
	// No landmark element: pick the div with the most paragraph text.
	doc.Find("div").Each(func(_ int, s *goquery.Selection) {
		n := 0
		s.ChildrenFiltered("p").Each(func(_ int, p *goquery.Selection) {
			n += len(strings.TrimSpace(p.Text()))
		})
		if n > bestLen {
			best, bestLen = s, n
		}
	})
	return best
}

// resolveLinks rewrites relative href/src attributes against the page URL so
// extracted text keeps meaningful references.
func resolveLinks(doc *goquery.Document, baseURL string) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return
	}
	doc.Find("a[href], img[src]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"href", "src"} {
			val, ok := s.Attr(attr)
			if !ok || val == "" {
				continue
			}
			ref, err := url.Parse(val)
			if err != nil || ref.IsAbs() {
				continue
			}
			s.SetAttr(attr, base.ResolveReference(ref).String())
		}
	})
}

// renderText converts a content block to plain text, one blank line between
// block elements, wrapped at 80 columns.
func renderText(s *goquery.Selection) string {
	var parts []string
	s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, el *goquery.Selection) {
		if t := collapseSpace(el.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		if t := collapseSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return wrap(strings.Join(parts, "\n\n"), 80)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// wrap reflows text to the given column width, preserving blank-line
// paragraph breaks. Words longer than the width stay on their own line.
func wrap(text string, width int) string {
	var out strings.Builder
	for i, para := range strings.Split(text, "\n\n") {
		if i > 0 {
			out.WriteString("\n\n")
		}
		lineLen := 0
		for j, word := range strings.Fields(para) {
			if j > 0 {
				if lineLen+1+len(word) > width {
					out.WriteByte('\n')
					lineLen = 0
				} else {
					out.WriteByte(' ')
					lineLen++
				}
			}
			out.WriteString(word)
			lineLen += len(word)
		}
	}
	return out.String()
}
