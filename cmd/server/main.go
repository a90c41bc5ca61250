package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/eternalApril/lunakv/internal/config"
	"github.com/eternalApril/lunakv/internal/logger"
	"github.com/eternalApril/lunakv/internal/metrics"
	"github.com/eternalApril/lunakv/internal/pubsub"
	"github.com/eternalApril/lunakv/internal/server"
	"github.com/eternalApril/lunakv/internal/storage"
)

// Build information, set via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	app := &cli.App{
		Name:    "lunakv",
		Usage:   "in-memory key-value server speaking RESP",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "directory containing config.yaml",
				EnvVars: []string{"LUNAKV_CONFIG_DIR"},
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level: debug, info, warn, error",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	levelOverride := c.String("log-level")

	reloads := make(chan *config.Config, 1)
	cfg, err := config.Watch(c.String("config"), func(next *config.Config, _ fsnotify.Event) {
		select {
		case reloads <- next:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if levelOverride != "" {
		cfg.Log.Level = levelOverride
	}

	log, level := logger.NewAtomic(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync() //nolint:errcheck

	log.Info("LunaKV starting",
		zap.String("version", Version),
		zap.String("port", cfg.Server.Port),
		zap.Uint("shards", cfg.Storage.Shards),
		zap.Bool("gc", cfg.GC.Enabled),
	)

	db, err := storage.NewShardedMapStorage(cfg.Storage.Shards)
	if err != nil {
		log.Error("cant initialize storage", zap.Error(err))
		return err
	}

	broker := pubsub.NewBroker()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(db, broker)
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, log.Named("metrics")); err != nil {
				log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	// only the log level is applied live, everything else needs a restart
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-reloads:
				if levelOverride != "" {
					continue
				}
				level.SetLevel(logger.ParseLevel(next.Log.Level))
				log.Info("config reloaded", zap.String("log_level", level.String()))
			}
		}
	}()

	engine := server.NewEngine(db, broker, cfg, log, m)
	srv := server.New(cfg, engine, m, log)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("listener error", zap.Error(err))
			engine.Shutdown()
			return err
		}
	}

	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
	}
	engine.Shutdown()

	log.Info("LunaKV stopped")
	return nil
}
