// streamtest runs the configured ingestors without a store and prints every
// decoded item to the console.
// Usage: go run ./cmd/streamtest --config configs/feedwatch.local.yaml
//
// The bearer token comes from api.token or api.token_path (e.g. ${FEED_TOKEN}).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/cosmic-feed/internal/auth"
	"github.com/rickgao/cosmic-feed/internal/config"
	"github.com/rickgao/cosmic-feed/internal/database"
	"github.com/rickgao/cosmic-feed/internal/ingest"
	"github.com/rickgao/cosmic-feed/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/feedwatch.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full item JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	res, _ := model.LookupResource(cfg.Feed.Resource)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var session *auth.Session
	if cfg.API.Token == "" && cfg.API.TokenPath != "" {
		session, err = auth.LoadSession(cfg.API.TokenPath)
	} else {
		session, err = auth.NewSession(cfg.API.Token)
	}
	if err != nil {
		logger.Error("failed to load session", "error", err)
		os.Exit(1)
	}

	backoff := ingest.Backoff{BaseWait: cfg.Feed.ReconnectBaseDelay, MaxWait: cfg.Feed.ReconnectMaxDelay}
	var ingestors []ingest.Ingestor
	if !cfg.Socket.Disabled {
		ingestors = append(ingestors, ingest.NewSocket(ingest.SocketConfig{
			URL:               cfg.Socket.URL,
			Resource:          res,
			ParentID:          cfg.Feed.ParentID,
			Tokens:            session,
			PingTimeout:       cfg.Socket.PingTimeout,
			HeartbeatInterval: cfg.Socket.PingInterval,
			Backoff:           backoff,
		}, logger))
	}
	if cfg.ChangeFeed.Enabled {
		var pool *pgxpool.Pool
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		ingestors = append(ingestors, ingest.NewChangeFeed(ingest.ChangeFeedConfig{
			Channel:  cfg.ChangeFeed.Channel,
			Resource: res,
			ParentID: cfg.Feed.ParentID,
			Backoff:  backoff,
		}, ingest.PoolListeners(pool), logger))
	}

	var wg sync.WaitGroup
	for _, ing := range ingestors {
		if err := ing.Connect(ctx); err != nil {
			logger.Error("failed to connect ingestor", "ingestor", ing.Name(), "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			printItems(ing, *verbose)
		}()
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, ing := range ingestors {
					s := ing.Stats()
					logger.Info("stats",
						"ingestor", s.Name,
						"connected", s.Connected,
						"connects", s.Connects,
						"disconnects", s.Disconnects,
						"received", s.Received,
						"decoded", s.Decoded,
						"decode_errors", s.DecodeErrors,
						"skipped", s.Skipped,
					)
				}
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop",
		"resource", res.Name,
		"parent_id", cfg.Feed.ParentID,
		"ingestors", len(ingestors),
	)

	<-ctx.Done()

	logger.Info("shutting down...")
	for _, ing := range ingestors {
		if err := ing.Close(); err != nil {
			logger.Warn("ingestor close failed", "ingestor", ing.Name(), "error", err)
		}
	}
	wg.Wait()

	logger.Info("shutdown complete")
}

// printItems prints items until the ingestor closes its channel.
func printItems(ing ingest.Ingestor, verbose bool) {
	for item := range ing.Items() {
		if verbose {
			data, _ := json.MarshalIndent(item, "", "  ")
			fmt.Printf("[%s] %s\n", ing.Name(), data)
			continue
		}
		fmt.Printf("[%s] id=%s parent=%s created_at=%s read=%t\n",
			ing.Name(), item.ID, item.ParentID, item.CreatedAt.Format(time.RFC3339), item.Read)
	}
}
