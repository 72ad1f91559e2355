// Package pipeline drives articles through summarize, classify and
// personalize, tracking each LLM operation as a processing job.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"newslens/internal/classify"
	"newslens/internal/core"
	"newslens/internal/llm"
	"newslens/internal/logger"
	"newslens/internal/personalize"
	"newslens/internal/scrape"
	"newslens/internal/store"
)

const (
	// batchSize bounds concurrent LLM work; batchDelay spaces batches to
	// stay under vendor rate limits.
	batchSize  = 5
	batchDelay = 2 * time.Second

	// scrapeThreshold is the content length below which the pipeline tries
	// to scrape the full article; summarizeThreshold is the length below
	// which summarization is skipped entirely.
	scrapeThreshold    = 500
	summarizeThreshold = 50
)

// Pipeline processes pending articles.
type Pipeline struct {
	store         *store.Store
	scraper       *scrape.Scraper
	provider      llm.Provider
	personalizer  *personalize.Personalizer
	scrapeTimeout time.Duration
	maxTokens     int
}

// New creates a Pipeline. The provider is the background-mode LLM instance.
func New(s *store.Store, sc *scrape.Scraper, p llm.Provider, pers *personalize.Personalizer, scrapeTimeout time.Duration, maxTokens int) *Pipeline {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Pipeline{
		store:         s,
		scraper:       sc,
		provider:      p,
		personalizer:  pers,
		scrapeTimeout: scrapeTimeout,
		maxTokens:     maxTokens,
	}
}

// ProcessPending claims pending articles and processes them in batches of
// five with a two second gap between batches. Per-article failures are
// absorbed. Returns the number of articles that completed.
func (p *Pipeline) ProcessPending(ctx context.Context, limit int) int {
	articles, err := p.store.PendingArticles(limit)
	if err != nil {
		logger.Error("selecting pending articles", err)
		return 0
	}
	if len(articles) == 0 {
		return 0
	}
	logger.Info("processing articles", "count", len(articles))

	processed := 0
	for start := 0; start < len(articles); start += batchSize {
		end := start + batchSize
		if end > len(articles) {
			end = len(articles)
		}

		g, gctx := errgroup.WithContext(ctx)
		results := make([]bool, end-start)
		for i, a := range articles[start:end] {
			i, a := i, a
			g.Go(func() error {
				if err := p.processArticle(gctx, a); err != nil {
					logger.Warn("article processing failed",
						"article_id", a.ID, "error", err.Error())
					return nil
				}
				results[i] = true
				return nil
			})
		}
		g.Wait()
		for _, ok := range results {
			if ok {
				processed++
			}
		}

		if end < len(articles) {
			select {
			case <-time.After(batchDelay):
			case <-ctx.Done():
				return processed
			}
		}
	}
	return processed
}

// processArticle runs one article through the full stage chain. The pending
// to running transition doubles as the claim: a second worker loses the race
// and walks away.
func (p *Pipeline) processArticle(ctx context.Context, a core.Article) error {
	claimed, err := p.store.TransitionStatus(a.ID, core.StatusPending, core.StatusRunning)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	text := p.bestText(ctx, &a)

	if len(text) < summarizeThreshold {
		// Too little content to say anything useful about.
		logger.Debug("skipping summarization of short article", "article_id", a.ID, "chars", len(text))
		p.store.SaveArticleSummary(&core.ArticleSummary{
			ArticleID: a.ID,
			Headline:  a.Title,
			Model:     "none",
		})
		_, err := p.store.TransitionStatus(a.ID, core.StatusRunning, core.StatusCompleted)
		return err
	}

	sum := p.summarize(ctx, a.ID, text)

	categories := p.classifyArticle(ctx, sum)

	articleSum := &core.ArticleSummary{
		ArticleID:  a.ID,
		Headline:   sum.Headline,
		Bullets:    sum.Bullets,
		Details:    sum.Details,
		Model:      p.provider.Model(),
		Categories: categories,
		Usage:      sum.Usage,
	}
	if err := p.store.SaveArticleSummary(articleSum); err != nil {
		p.store.TransitionStatus(a.ID, core.StatusRunning, core.StatusFailed)
		return err
	}
	if _, err := p.store.TransitionStatus(a.ID, core.StatusRunning, core.StatusCompleted); err != nil {
		return err
	}

	if p.personalizer != nil {
		p.personalizer.ForAllUsers(ctx, a.ID, articleSum)
	}
	return nil
}

// bestText returns the richest text available for an article, scraping the
// page when the feed-supplied content is short. The longer of the two texts
// wins; scraped text is persisted for later stages.
func (p *Pipeline) bestText(ctx context.Context, a *core.Article) string {
	text := a.FullContent
	if text == "" {
		text = a.Content
	}
	if len(text) >= scrapeThreshold || p.scraper == nil {
		return text
	}

	scraped, err := p.scraper.Scrape(ctx, a.URL, p.scrapeTimeout)
	if err != nil {
		logger.Debug("scrape failed, keeping feed content", "article_id", a.ID, "error", err.Error())
		return text
	}
	if len(scraped) > len(text) {
		if err := p.store.SetFullContent(a.ID, scraped); err != nil {
			logger.Warn("storing scraped content", "article_id", a.ID, "error", err.Error())
		}
		return scraped
	}
	return text
}

// summarize runs the summarization job. A failed LLM call leaves a failed
// job behind but still yields an extractive summary, so the article always
// advances.
func (p *Pipeline) summarize(ctx context.Context, articleID int64, text string) *core.Summary {
	jobID, jobErr := p.store.CreateJob("summarize", articleID, p.provider.Model())
	if jobErr == nil {
		p.store.StartJob(jobID)
	}
	started := time.Now()

	sum, err := llm.SummarizeWithFallback(ctx, p.provider, text, p.maxTokens)
	if jobErr == nil {
		if err != nil {
			p.store.FailJob(jobID, err)
		} else {
			p.store.CompleteJob(jobID, sum.Usage, time.Since(started))
		}
	}
	return sum
}

// classifyArticle tags the summary, absorbing failures into an empty list.
func (p *Pipeline) classifyArticle(ctx context.Context, sum *core.Summary) []string {
	cats, err := classify.Classify(ctx, p.provider, sum.Headline, sum.Bullets)
	if err != nil {
		logger.Debug("classification failed", "error", err.Error())
		return nil
	}
	return cats
}
