// Package scheduler polls due feeds on a fixed tick and adapts each feed's
// polling cadence to how often it actually produces articles.
package scheduler

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"newslens/internal/config"
	"newslens/internal/core"
	"newslens/internal/feeds"
	"newslens/internal/logger"
	"newslens/internal/pipeline"
	"newslens/internal/store"
	"newslens/internal/vectors"
)

// tickInterval is how often the scheduler looks for due feeds.
const tickInterval = 60 * time.Second

// hostBuckets bounds how many distinct hosts are fetched concurrently.
const hostBuckets = 4

// Scheduler owns the polling loop and the downstream workers it drives.
type Scheduler struct {
	store      *store.Store
	fetcher    *feeds.Fetcher
	pipeline   *pipeline.Pipeline
	vectors    *vectors.Updater
	politeness config.Politeness

	trigger    chan int64
	processReq chan struct{}
}

// New creates a Scheduler.
func New(s *store.Store, f *feeds.Fetcher, p *pipeline.Pipeline, v *vectors.Updater, politeness config.Politeness) *Scheduler {
	return &Scheduler{
		store:      s,
		fetcher:    f,
		pipeline:   p,
		vectors:    v,
		politeness: politeness,
		trigger:    make(chan int64, 16),
		processReq: make(chan struct{}, 1),
	}
}

// Run executes the scheduler loop until ctx is cancelled. Ticks never
// overlap: a tick in progress finishes before the next starts.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("scheduler started", "tick", tickInterval.String())

	// First tick immediately so a fresh install ingests without waiting.
	s.tick(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		case feedID := <-s.trigger:
			s.pollOne(ctx, feedID)
		case <-s.processReq:
			s.pipeline.ProcessPending(ctx, 100)
		}
	}
}

// TriggerFetch requests an immediate poll of one feed. The manual path runs
// the exact update logic of the periodic path, so both converge.
func (s *Scheduler) TriggerFetch(feedID int64) {
	select {
	case s.trigger <- feedID:
	default:
		logger.Warn("manual fetch queue full, dropping trigger", "feed_id", feedID)
	}
}

// TriggerProcessing requests a pipeline pass outside the tick cadence.
func (s *Scheduler) TriggerProcessing() {
	select {
	case s.processReq <- struct{}{}:
	default:
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueFeeds(time.Now())
	if err != nil {
		logger.Error("selecting due feeds", err)
		return
	}
	if len(due) > 0 {
		logger.Info("polling due feeds", "count", len(due))
		s.pollAll(ctx, due)
	}

	s.pipeline.ProcessPending(ctx, 100)

	// Opportunistic vector maintenance each tick.
	if s.vectors != nil {
		s.vectors.InitializeUserVectors(ctx)
		s.vectors.EmbedMissingArticles(ctx, 50)
	}
}

// pollAll fetches due feeds grouped into per-host buckets. Feeds sharing a
// host run sequentially with the politeness delay between them; distinct
// hosts run concurrently.
func (s *Scheduler) pollAll(ctx context.Context, due []core.Feed) {
	buckets := map[string][]core.Feed{}
	for _, f := range due {
		buckets[hostOf(f.URL)] = append(buckets[hostOf(f.URL)], f)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hostBuckets)
	for _, bucket := range buckets {
		bucket := bucket
		g.Go(func() error {
			for i, f := range bucket {
				if i > 0 && s.politeness.Delay() > 0 {
					select {
					case <-time.After(s.politeness.Delay()):
					case <-gctx.Done():
						return nil
					}
				}
				s.pollFeed(gctx, &f)
			}
			return nil
		})
	}
	g.Wait()
}

func (s *Scheduler) pollOne(ctx context.Context, feedID int64) {
	f, err := s.store.GetFeed(feedID)
	if err != nil {
		logger.Warn("manual fetch for unknown feed", "feed_id", feedID, "error", err.Error())
		return
	}
	s.pollFeed(ctx, f)
	s.pipeline.ProcessPending(ctx, 100)
}

// pollFeed runs one feed through fetch and store and commits exactly one
// next_poll_at update whatever the outcome. Each poll carries a correlation
// id so the fetch, ingest and reschedule lines of one attempt can be grepped
// together.
func (s *Scheduler) pollFeed(ctx context.Context, f *core.Feed) {
	pollID := uuid.NewString()
	parsed, err := s.fetcher.Fetch(ctx, f.URL, s.politeness.FetchTimeout())

	var newCount int
	status := "ok"
	title, siteURL := "", ""
	if err != nil {
		status = "error: " + string(core.KindOf(err))
		logger.Warn("feed poll failed", "poll_id", pollID, "feed_id", f.ID, "url", f.URL, "error", err.Error())
	} else {
		title, siteURL = parsed.Title, parsed.SiteURL
		newCount = s.ingest(f.ID, parsed)
		logger.Info("feed polled", "poll_id", pollID, "feed_id", f.ID, "items", len(parsed.Items), "new", newCount)
	}

	interval := NextInterval(f.PollIntervalMinutes, f.AdaptiveScheduling, err == nil, newCount)
	next := time.Now().Add(time.Duration(interval) * time.Minute)
	if uerr := s.store.UpdateFeedAfterPoll(f.ID, interval, next, status, title, siteURL); uerr != nil {
		logger.Error("updating feed after poll", uerr, "feed_id", f.ID)
	}
}

// ingest stores the parsed entries, deduplicating by canonical URL, and
// returns how many articles were new.
func (s *Scheduler) ingest(feedID int64, parsed *feeds.ParsedFeed) int {
	newCount := 0
	for _, item := range parsed.Items {
		articleID, wasNew, err := s.store.UpsertArticle(item.Link, item.Title, item.Body(), item.Published)
		if err != nil {
			logger.Warn("storing article", "url", item.Link, "error", err.Error())
			continue
		}
		if err := s.store.RecordOccurrence(articleID, feedID, item.ID); err != nil {
			logger.Warn("recording occurrence", "article_id", articleID, "error", err.Error())
		}
		if wasNew {
			newCount++
		}
	}
	return newCount
}

// NextInterval applies the adaptive cadence rules. Success with new items
// halves the interval (floor 15 min), success with none grows it by half
// (cap 24 h), failure doubles it (cap 24 h). Non-adaptive feeds keep their
// interval on success but still back off on failure.
func NextInterval(current int, adaptive, success bool, newItems int) int {
	if current <= 0 {
		current = 60
	}
	switch {
	case !success:
		current *= 2
	case !adaptive:
		// Fixed cadence, clamped below.
	case newItems > 0:
		current /= 2
	default:
		current = current * 3 / 2
	}
	if current < core.MinPollInterval {
		current = core.MinPollInterval
	}
	if current > core.MaxPollInterval {
		current = core.MaxPollInterval
	}
	return current
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
