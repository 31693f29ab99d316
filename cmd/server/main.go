// Command server wires together every component of the change pipeline —
// persistence, rate limiting, the upstream client, token lifecycle, the
// durable worker, and the HTTP surface in front of it all — and runs them
// until SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/fenrick/MiroDiagramming/cache"
	"github.com/fenrick/MiroDiagramming/config"
	"github.com/fenrick/MiroDiagramming/httpapi"
	pipeline "github.com/fenrick/MiroDiagramming"
	"github.com/fenrick/MiroDiagramming/idempotency"
	"github.com/fenrick/MiroDiagramming/ratelimit"
	"github.com/fenrick/MiroDiagramming/retention"
	gsql "github.com/fenrick/MiroDiagramming/sql"
	"github.com/fenrick/MiroDiagramming/tokenauth"
	"github.com/fenrick/MiroDiagramming/tokenauth/sealer"
	"github.com/fenrick/MiroDiagramming/upstream"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := gsql.InitDB(ctx, db); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	log.Info("database ready", "url", maskPassword(cfg.DatabaseURL))

	taskStore := gsql.NewTaskStore(db)
	deadLetterStore := gsql.NewDeadLetterStore(db)
	idempotencyStore := gsql.NewIdempotencyStore(db)
	jobStore := gsql.NewJobStore(db)
	userStore := gsql.NewUserStore(db)

	var cacheStore cache.Store = gsql.NewCacheStore(db)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		cacheStore = cache.NewRedisCache(rdb, cacheStore, cfg.CacheTTL, log)
		log.Info("redis cache accelerator enabled")
	}

	s, err := sealer.New(cfg.EncryptionKeys)
	if err != nil {
		return fmt.Errorf("build sealer: %w", err)
	}
	if s.DevelopmentMode() {
		log.Warn("no encryption key configured; OAuth tokens are stored in plaintext")
	}

	httpClient := upstream.NewHTTPClient(upstream.HTTPClientConfig{
		BaseURL:             cfg.APIURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		Timeout:             cfg.HTTPTimeout,
		GlobalQPS:           50,
		BreakerFailureRatio: 0.5,
		AuthURL:             cfg.OAuthAuthBase,
		TokenURL:            cfg.OAuthTokenURL,
		Scope:               cfg.OAuthScope,
	})

	tokenManager := tokenauth.NewManager(userStore, httpClient, s)
	governor := ratelimit.NewGovernor(ratelimit.Config{
		Reservoir:      cfg.BucketReservoir,
		RefillInterval: cfg.BucketRefreshMs,
	})
	refresher := cache.NewRefresher(500*time.Millisecond, cfg.HTTPTimeout, cacheStore, log)

	worker := pipeline.NewWorker(taskStore, httpClient, tokenManager, governor, jobStore, refresher, pipeline.WorkerConfig{
		Concurrency:    8,
		QueueSize:      64,
		BatchSize:      16,
		PollInterval:   2 * time.Second,
		Lease:          30 * time.Second,
		OrphanInterval: 30 * time.Second,
		Backoff: pipeline.BackoffConfig{
			MaxAttempts:     5,
			InitialInterval: 2 * time.Second,
			MaxInterval:     time.Minute,
			Jitter:          time.Second,
		},
	}, log)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		if err := worker.Stop(shutdownTimeout); err != nil {
			log.Error("worker stop", "err", err)
		}
	}()

	idempotencyCache := idempotency.New(idempotency.Config{
		MemoryCapacity: cfg.IdempotencyCacheSize,
		MemoryTTL:      cfg.IdempotencyCacheTTL,
	}, idempotencyStore)

	sweepers := []*retention.Worker{
		retention.New("dead-letters", deadLetterStore.Purge, 30*24*time.Hour, 24*time.Hour, log),
		retention.New("idempotency", idempotencyStore.Purge, cfg.IdempotencyPersistentTTL, cfg.IdempotencyCleanupInterval, log),
		retention.New("board-cache", cacheStore.Purge, cfg.CacheTTL, cfg.CacheCleanupInterval, log),
	}
	for _, sw := range sweepers {
		if err := sw.Start(ctx); err != nil {
			return fmt.Errorf("start retention worker: %w", err)
		}
	}
	defer func() {
		for _, sw := range sweepers {
			if err := sw.Stop(shutdownTimeout); err != nil {
				log.Error("retention worker stop", "err", err)
			}
		}
	}()

	srv := httpapi.NewServer(httpapi.Config{
		MaxBatchSize:       500,
		LogMaxEntries:      cfg.LogMaxEntries,
		LogMaxPayloadBytes: cfg.LogMaxPayloadByte,
		WebhookSecret:      cfg.WebhookSecret,
		OAuthRedirectURI:   cfg.OAuthRedirectURI,
	}, worker, jobStore, cacheStore, taskStore, governor, idempotencyCache, userStore, s, httpClient, log)

	httpServer := &http.Server{
		Addr:              ":8080",
		Handler:           corsMiddleware(cfg.CORSOrigins, srv.Mux()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// openDB opens a *bun.DB using the dialect implied by databaseURL's scheme:
// postgres:// or postgresql:// select pgx/pgdialect, anything else
// (including the bare sqlite DSNs used in development) selects
// modernc.org/sqlite/sqlitedialect.
func openDB(databaseURL string) (*bun.DB, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		sqlDB, err := sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	default:
		sqlDB, err := sql.Open("sqlite", databaseURL)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	}
}

// corsMiddleware applies the configured allow-list to every response.
// An empty allow-list disables CORS headers entirely rather than
// defaulting to a permissive wildcard.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maskPassword redacts the password component of a connection string for
// safe logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
