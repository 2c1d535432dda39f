// Command coordinator runs one instance of the game coordination core:
// the matchmaking/redirect protocol, the session state machine, and the
// WebSocket connection handler, wired to a shared Redis directory and an
// optional Postgres settlement ledger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/wagerboard/internal/config"
	"github.com/udisondev/wagerboard/internal/discovery"
	"github.com/udisondev/wagerboard/internal/engine"
	"github.com/udisondev/wagerboard/internal/registry"
	"github.com/udisondev/wagerboard/internal/settlement"
	"github.com/udisondev/wagerboard/internal/wsserver"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("coordinator starting",
		"instance_id", cfg.InstanceID,
		"listen_address", cfg.ListenAddress,
		"environment", cfg.Environment)

	redisOpts, err := redis.ParseURL(cfg.DirectoryURL)
	if err != nil {
		return fmt.Errorf("parsing directory url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to directory: %w", err)
	}
	slog.Info("directory connected")

	disc := discovery.New(redisClient, slog.Default())

	var settle settlement.Settlement
	if cfg.SettlementDSN != "" {
		if err := settlement.RunMigrations(ctx, cfg.SettlementDSN); err != nil {
			return fmt.Errorf("running settlement migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.SettlementDSN)
		if err != nil {
			return fmt.Errorf("connecting to settlement ledger: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("pinging settlement ledger: %w", err)
		}
		settle = settlement.NewPostgresSettlement(pool, slog.Default())
		slog.Info("settlement ledger connected")
	} else {
		slog.Warn("SETTLEMENT_DSN not set, settlement disabled")
	}

	reg := registry.New()
	eng := engine.New(cfg.InstanceID, reg, disc, settle, slog.Default())
	hub := wsserver.NewHub(cfg.InstanceID, eng, reg, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run()
		return nil
	})

	g.Go(func() error {
		slog.Info("listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("coordinator error: %w", err)
	}
	return nil
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// Info for an empty or unrecognized value.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
