// streamtest subscribes to symbols through the dispatcher and prints every
// update to the console.
// Usage: go run ./cmd/streamtest -config configs/pricefeed.example.yaml -symbols BTC-USDT,ETH-USDT,AAPL
//
// Without a config file the public OKX endpoints are used.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/pricefeed/internal/api"
	"github.com/rickgao/pricefeed/internal/codec"
	"github.com/rickgao/pricefeed/internal/config"
	"github.com/rickgao/pricefeed/internal/dispatcher"
	"github.com/rickgao/pricefeed/internal/model"
)

const defaultWSURL = "wss://ws.okx.com:8443/ws/v5/public"

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	symbolList := flag.String("symbols", "BTC-USDT,ETH-USDT", "comma-separated symbols")
	batch := flag.Bool("batch", false, "use one batch subscription instead of per-symbol")
	verbose := flag.Bool("verbose", false, "print full update JSON")
	statsEvery := flag.Duration("stats", 10*time.Second, "stats interval")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	apiClient := api.NewClient(cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
	)
	disp := dispatcher.New(cfg.Dispatcher(), apiClient, codec.NewOKX(), logger)
	if err := disp.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	symbols := strings.Split(*symbolList, ",")
	var unsubs []dispatcher.Unsubscribe
	if *batch {
		unsubs = append(unsubs, disp.SubscribeBatch(symbols, func(m map[string]model.PriceSample) {
			printBatch(m)
		}))
	} else {
		for _, sym := range symbols {
			unsubs = append(unsubs, disp.Subscribe(sym, func(u model.Update) {
				printUpdate(u, *verbose)
			}))
		}
	}

	for _, sym := range symbols {
		logger.Info("subscribed", "symbol", sym, "class", disp.Classify(sym))
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(*statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := disp.Stats()
				logger.Info("stats",
					"state", st.Connection.State,
					"stream_symbols", st.Connection.StreamSymbols,
					"frames", st.Connection.FramesReceived,
					"malformed", st.Connection.FramesMalformed,
					"polling", st.Poller.Active,
					"fetches", st.Poller.Fetches,
					"accepted", st.Registry.SamplesAccepted,
					"stale", st.Registry.SamplesStale,
					"deliveries", st.Registry.Deliveries,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "streaming", disp.StreamingEnabled())

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	for _, unsub := range unsubs {
		unsub()
	}
	disp.Close(shutdownCtx)

	logger.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}
	cfg := &config.Config{}
	cfg.API.WSURL = defaultWSURL
	cfg.ApplyDefaults()
	return cfg, nil
}

func printUpdate(u model.Update, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(u, "", "  ")
		fmt.Printf("[UPDATE] %s\n", data)
		return
	}
	s := u.Sample
	fmt.Printf("[%s] %s price=%g change=%g (%.2f%%) dir=%s ts=%s\n",
		strings.ToUpper(string(s.Source)), s.Symbol, s.Price, s.PriceChange, s.PriceChangePercent,
		u.Direction, time.UnixMilli(s.Timestamp).Format(time.TimeOnly))
}

func printBatch(m map[string]model.PriceSample) {
	parts := make([]string, 0, len(m))
	for sym, s := range m {
		parts = append(parts, fmt.Sprintf("%s=%g", sym, s.Price))
	}
	fmt.Printf("[BATCH] %s\n", strings.Join(parts, " "))
}
