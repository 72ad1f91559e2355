package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"newslens/internal/config"
	"newslens/internal/digest"
	"newslens/internal/feeds"
	"newslens/internal/llm"
	"newslens/internal/logger"
	"newslens/internal/personalize"
	"newslens/internal/pipeline"
	"newslens/internal/scheduler"
	"newslens/internal/scrape"
	"newslens/internal/server"
	"newslens/internal/session"
	"newslens/internal/store"
	"newslens/internal/vectors"
)

const serverShutdownGrace = 20 * time.Second

// runServe starts the aggregator and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context) error {
	logger.Init(logLevel)
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := seedUsers(st, cfg); err != nil {
		return fmt.Errorf("synchronizing user roster: %w", err)
	}

	// Independent LLM instances per concern so each can point at its own
	// endpoint, model and timeout.
	summarizer := llm.New(cfg.LLM, "summarization")
	interactive := llm.New(cfg.LLM, "interactive")
	embedder := llm.New(cfg.LLM, "embedding")
	personalizer := personalize.New(st, llm.New(cfg.LLM, "personalization"))

	pipe := pipeline.New(st, scrape.NewScraper(), summarizer, personalizer,
		cfg.Politeness.FetchTimeout(), cfg.LLM.ModeFor("summarization").MaxTokens)
	updater := vectors.New(st, embedder)

	var fetchOpts []feeds.Option
	if cfg.Politeness.MaxResponseBytes > 0 {
		fetchOpts = append(fetchOpts, feeds.WithMaxBodyBytes(cfg.Politeness.MaxResponseBytes))
	}
	sched := scheduler.New(st, feeds.NewFetcher(fetchOpts...), pipe, updater, cfg.Politeness)

	streamer := session.New(st, interactive, digest.New(st), updater)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if !noWorker {
		g.Go(func() error {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if !workerOnly {
		var worker server.Worker
		if !noWorker {
			worker = sched
		}
		srv := server.New(st, *cfg, worker, streamer)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("newslens started",
		"db", cfg.Database.Path, "worker", !noWorker, "http", !workerOnly)
	return g.Wait()
}

// seedUsers synchronizes the declarative roster from the config into the
// store: insert-or-ignore per user, conditional update of display name and
// password hash, then feed subscriptions.
func seedUsers(st *store.Store, cfg *config.Config) error {
	for _, seed := range cfg.Users {
		if seed.Username == "" {
			continue
		}
		userID, err := st.SyncUser(seed.Username, seed.DisplayName, seed.PasswordHash, seed.PreferredLanguage)
		if err != nil {
			return err
		}
		for _, f := range seed.Feeds {
			if f.URL == "" {
				continue
			}
			feedID, _, err := st.UpsertFeed(f.URL, f.Title)
			if err != nil {
				return err
			}
			if _, _, err := st.Subscribe(userID, feedID, f.Title); err != nil {
				return err
			}
		}
		logger.Info("user synchronized", "username", seed.Username, "feeds", len(seed.Feeds))
	}
	return nil
}
