package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cosmic-feed/internal/api"
	"github.com/rickgao/cosmic-feed/internal/archive"
	"github.com/rickgao/cosmic-feed/internal/auth"
	"github.com/rickgao/cosmic-feed/internal/config"
	"github.com/rickgao/cosmic-feed/internal/database"
	"github.com/rickgao/cosmic-feed/internal/feed"
	"github.com/rickgao/cosmic-feed/internal/ingest"
	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/store"
	"github.com/rickgao/cosmic-feed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedwatch.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedwatch",
		"version", version.Version,
		"commit", version.Get().Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
		"resource", cfg.Feed.Resource,
		"parent_id", cfg.Feed.ParentID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("feedwatch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("feedwatch stopped")
}

// run wires every component for one resource/parent and blocks until ctx is
// canceled or the health server fails.
func run(ctx context.Context, cfg *config.FeedConfig, logger *slog.Logger) error {
	res, _ := model.LookupResource(cfg.Feed.Resource)

	session, err := loadSession(cfg.API)
	if err != nil {
		return err
	}
	if exp := session.ExpiresAt(); !exp.IsZero() {
		logger.Info("session loaded", "expires_at", exp)
	}

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		if cfg.Database.AppName == "" {
			cfg.Database.AppName = cfg.Instance.ID
		}
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		logger.Info("database connected")
	}

	apiClient := api.NewClient(
		cfg.API.RestURL,
		session,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithPageSize(cfg.Feed.PageSize),
	)

	// Archive every item the store accepts
	storeOpts := []store.Option{
		store.WithMaxItems(cfg.Feed.MaxItems),
		store.WithLogger(logger),
	}
	var archiver *archive.Writer
	if cfg.Archive.Enabled {
		if err := database.EnsureArchiveSchema(ctx, pool); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
		archiver = archive.New(archive.Config{
			Resource:      res.Name,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, pool, logger)
		if err := archiver.Start(ctx); err != nil {
			return fmt.Errorf("start archive: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := archiver.Stop(shutdownCtx); err != nil {
				logger.Error("archive stop failed", "error", err)
			}
		}()
		storeOpts = append(storeOpts, store.WithInsertHook(archiver.Enqueue))
	}
	st := store.New(cfg.Feed.ParentID, storeOpts...)

	ingestors := buildIngestors(cfg, res, session, pool, logger)

	f, err := feed.New(feed.Config{
		Resource:     res,
		ParentID:     cfg.Feed.ParentID,
		FetchTimeout: cfg.Feed.FetchTimeout,
		DegradeAfter: cfg.Feed.DegradeAfter,
		PollInterval: cfg.Feed.PollInterval,
	}, apiClient, st, ingestors, feed.WithWriter(apiClient), feed.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}

	deps := serverDeps{
		feed:    f,
		store:   st,
		archive: archiver,
		logger:  logger,
	}
	if pool != nil {
		deps.db = pool
	}
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newHandler(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := f.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := f.Stop(shutdownCtx); err != nil {
			logger.Error("feed stop failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		reportStatus(gctx, f, st, logger)
		return nil
	})

	logger.Info("feedwatch running",
		"instance_id", cfg.Instance.ID,
		"ingestors", len(ingestors),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	err = g.Wait()
	logger.Info("shutting down...")
	return err
}

// loadSession builds the bearer session from the inline token or the token
// file. Neither set yields an empty session; requests then fail with an
// auth error and ingestors keep retrying.
func loadSession(cfg config.APIConfig) (*auth.Session, error) {
	if cfg.Token == "" && cfg.TokenPath != "" {
		s, err := auth.LoadSession(cfg.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		return s, nil
	}
	s, err := auth.NewSession(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func buildIngestors(cfg *config.FeedConfig, res model.Resource, tokens auth.TokenSource, pool *pgxpool.Pool, logger *slog.Logger) []ingest.Ingestor {
	backoff := ingest.Backoff{
		BaseWait: cfg.Feed.ReconnectBaseDelay,
		MaxWait:  cfg.Feed.ReconnectMaxDelay,
	}

	var ingestors []ingest.Ingestor
	if !cfg.Socket.Disabled {
		ingestors = append(ingestors, ingest.NewSocket(ingest.SocketConfig{
			URL:               cfg.Socket.URL,
			Resource:          res,
			ParentID:          cfg.Feed.ParentID,
			Tokens:            tokens,
			PingTimeout:       cfg.Socket.PingTimeout,
			HeartbeatInterval: cfg.Socket.PingInterval,
			Backoff:           backoff,
			BufferSize:        cfg.Socket.BufferSize,
		}, logger))
	}
	if cfg.ChangeFeed.Enabled {
		ingestors = append(ingestors, ingest.NewChangeFeed(ingest.ChangeFeedConfig{
			Channel:  cfg.ChangeFeed.Channel,
			Resource: res,
			ParentID: cfg.Feed.ParentID,
			Backoff:  backoff,
		}, ingest.PoolListeners(pool), logger))
	}
	return ingestors
}

// reportStatus logs a one-line summary every minute until ctx is done.
func reportStatus(ctx context.Context, f *feed.Feed, st *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := f.State()
			stats := st.Stats()
			logger.Info("feed status",
				"items", st.Len(),
				"connected", state.Connected,
				"degraded", state.Degraded,
				"inserted", stats.Inserted,
				"duplicates", stats.Duplicates,
				"rejected", stats.Rejected,
			)
		}
	}
}
