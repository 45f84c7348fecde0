// ABOUTME: This file is the news collector entrypoint wiring config, storage and the pipeline
// ABOUTME: Runs periodic collection cycles alongside the operational HTTP server
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"news-collector/canonical"
	"news-collector/config"
	"news-collector/dedup"
	"news-collector/dlq"
	"news-collector/domain"
	"news-collector/fetcher"
	"news-collector/logger"
	"news-collector/metrics"
	"news-collector/orchestrator"
	"news-collector/ratelimit"
	"news-collector/repository"
	"news-collector/robots"
	"news-collector/server"
)

func main() {
	// Optional .env for local development; env vars win.
	_ = godotenv.Load()

	log := logger.New(logger.LoadConfigFromEnv())

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	sources, err := config.LoadSources(cfg.Collection.SourcesFile)
	if err != nil {
		log.Error("failed to load sources", "file", cfg.Collection.SourcesFile, "error", err)
		os.Exit(1)
	}
	log.Info("sources loaded", "file", cfg.Collection.SourcesFile, "count", len(sources))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var articles repository.ArticleRepository
	var states repository.SourceStateRepository

	if cfg.Database.Enabled {
		pool, err := repository.NewPool(ctx, cfg.Database)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := repository.EnsureSchema(ctx, pool); err != nil {
			log.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}

		articles = repository.NewPostgresArticleRepository(pool, log)
		states = repository.NewPostgresSourceStateRepository(pool, log)
		log.Info("using postgres storage", "host", cfg.Database.Host, "database", cfg.Database.Name)
	} else {
		articles = repository.NewMemoryArticleRepository()
		states = repository.NewMemorySourceStateRepository()
		log.Info("using in-memory storage")
	}

	limiter := ratelimit.NewDomainRateLimiter(cfg.RateLimit, log)
	robotsAgent := robots.NewAgent(cfg.Robots, cfg.HTTP.UserAgent, &http.Client{Timeout: cfg.HTTP.Timeout})
	feedFetcher := fetcher.New(cfg, limiter, robotsAgent, log)
	canonicalizer := canonical.New(cfg.Canonical.CacheSize)
	engine := dedup.NewEngine(dedup.Config{
		Threshold:         cfg.Dedup.SimhashThreshold,
		CandidateWindow:   cfg.Dedup.CandidateWindow,
		TitleOverlapFloor: cfg.Dedup.TitleOverlapFloor,
	}, log)
	queue := dlq.NewFileDLQ(cfg.DLQ, log)
	collector := metrics.NewCollector(cfg.Metrics, log)

	orch := orchestrator.New(cfg, feedFetcher, canonicalizer, engine, articles, states, queue, collector, log)

	runCycle := func(ctx context.Context) error {
		report, err := orch.RunCycle(ctx, sources)
		if err != nil {
			return err
		}
		if report.SourcesFailed > 0 && report.SourcesSucceeded == 0 {
			return domain.ErrFeedUnavailable
		}
		return nil
	}

	if cfg.Collection.RunOnce {
		log.Info("running single collection cycle")
		if err := runCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("collection cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	go queue.StartCleanup(ctx)

	sched := orchestrator.NewScheduler(orchestrator.ScheduleConfig{
		Interval:       cfg.Collection.Interval,
		InitialBackoff: cfg.Collection.Interval / 4,
		MaxBackoff:     cfg.Collection.Interval,
		BackoffOn:      []error{domain.ErrFeedUnavailable},
		RunImmediately: true,
	}, runCycle, log)
	sched.Start(ctx)

	ops := server.New(cfg.Server, cfg.Metrics.Path, server.Dependencies{
		Logger:        log,
		Collector:     collector,
		Orchestrator:  orch,
		Canonicalizer: canonicalizer,
		Limiter:       limiter,
		Breakers:      feedFetcher,
		Queue:         queue,
		Articles:      articles,
		TriggerCycle: func() error {
			errCh := make(chan error, 1)
			go func() {
				_, err := orch.RunCycle(ctx, sources)
				if err != nil && !errors.Is(err, orchestrator.ErrCycleRunning) {
					log.Error("manual cycle failed", "error", err)
				}
				errCh <- err
			}()
			select {
			case err := <-errCh:
				return err
			case <-time.After(100 * time.Millisecond):
				// Cycle is underway; report accepted.
				return nil
			}
		},
	})

	go func() {
		if err := ops.Start(); err != nil {
			log.Error("ops server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server shutdown failed", "error", err)
	}

	log.Info("shutdown complete")
}
