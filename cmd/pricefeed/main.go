// pricefeed serves realtime prices to browsers, streaming from the exchange
// when possible and polling REST snapshots otherwise.
//
// Usage: pricefeed -config configs/pricefeed.example.yaml
//
// A .env file in the working directory is loaded first, so config values can
// reference ${VARS} defined there.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/pricefeed/internal/api"
	"github.com/rickgao/pricefeed/internal/codec"
	"github.com/rickgao/pricefeed/internal/config"
	"github.com/rickgao/pricefeed/internal/database"
	"github.com/rickgao/pricefeed/internal/dispatcher"
	"github.com/rickgao/pricefeed/internal/gateway"
	"github.com/rickgao/pricefeed/internal/health"
	"github.com/rickgao/pricefeed/internal/publish"
	"github.com/rickgao/pricefeed/internal/version"
	"github.com/rickgao/pricefeed/internal/writer"
)

// stopper is any component with a graceful shutdown.
type stopper interface {
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/pricefeed.example.yaml", "path to config file")
	debug := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	// Level is raised or lowered once the config is read.
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env", "error", err)
	}

	logger.Info("starting pricefeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if lvl, err := cfg.SlogLevel(); err == nil {
		level.Set(lvl)
	}
	if *debug {
		level.Set(slog.LevelDebug)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.API.RestURL,
		"streaming", cfg.API.WSURL != "",
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pricefeed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("pricefeed stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	apiClient := api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
	)

	disp := dispatcher.New(cfg.Dispatcher(), apiClient, codec.NewOKX(), logger)
	if err := disp.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	// Components stop in reverse start order; the dispatcher goes last.
	var started []stopper
	shutdown := func() {
		sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer scancel()

		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(sctx); err != nil {
				logger.Warn("component stop failed", "error", err)
			}
		}
		if err := disp.Close(sctx); err != nil {
			logger.Warn("dispatcher close failed", "error", err)
		}
	}

	sinks, closeDB, err := startSinks(ctx, cfg, disp, logger)
	if err != nil {
		shutdown()
		return err
	}
	defer closeDB()
	started = append(started, sinks)

	gw := gateway.NewServer(gateway.Config{
		Addr:           fmt.Sprintf(":%d", cfg.Gateway.Port),
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		SendBuffer:     cfg.Gateway.SendBuffer,
	}, disp, logger)
	if err := gw.Start(ctx); err != nil {
		shutdown()
		return fmt.Errorf("start gateway: %w", err)
	}
	started = append(started, gw)

	if cfg.Health.GRPCPort > 0 {
		hs := health.New(health.Config{
			Addr:     fmt.Sprintf(":%d", cfg.Health.GRPCPort),
			Interval: cfg.Health.Interval,
		}, disp, logger)
		if err := hs.Start(ctx); err != nil {
			shutdown()
			return fmt.Errorf("start grpc health: %w", err)
		}
		started = append(started, hs)
	}

	logger.Info("pricefeed running",
		"instance_id", cfg.Instance.ID,
		"gateway", gw.Addr(),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdown()
	return nil
}

// sinkGroup stops every sink concurrently.
type sinkGroup []stopper

func (g sinkGroup) Stop(ctx context.Context) error {
	var eg errgroup.Group
	for _, s := range g {
		eg.Go(func() error { return s.Stop(ctx) })
	}
	return eg.Wait()
}

// startSinks starts the optional recorder and mirrors. The returned func
// closes the database pool, if one was opened.
func startSinks(ctx context.Context, cfg *config.Config, disp *dispatcher.Dispatcher, logger *slog.Logger) (sinkGroup, func(), error) {
	var sinks sinkGroup
	closeDB := func() {}

	fail := func(err error) (sinkGroup, func(), error) {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		sinks.Stop(sctx)
		closeDB()
		return nil, func() {}, err
	}

	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			return fail(fmt.Errorf("connect timescale: %w", err))
		}
		closeDB = pool.Close
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fail(err)
		}

		rec := writer.NewRecorder(writer.Config{
			Symbols:       cfg.Recorder.Symbols,
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, disp, pool, logger)
		if err := rec.Start(ctx); err != nil {
			return fail(err)
		}
		sinks = append(sinks, rec)
	}

	if cfg.Redis.Addr != "" {
		pub, err := publish.NewRedis(ctx, publish.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			TTL:           cfg.Redis.TTL,
			KeyPrefix:     cfg.Redis.KeyPrefix,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		})
		if err != nil {
			return fail(err)
		}
		m := publish.NewMirror("redis", cfg.Redis.Symbols, disp, pub, logger)
		if err := m.Start(ctx); err != nil {
			return fail(err)
		}
		sinks = append(sinks, m)
	}

	if cfg.NATS.URL != "" {
		pub, err := publish.NewNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fail(err)
		}
		m := publish.NewMirror("nats", cfg.NATS.Symbols, disp, pub, logger)
		if err := m.Start(ctx); err != nil {
			return fail(err)
		}
		sinks = append(sinks, m)
	}

	return sinks, closeDB, nil
}
