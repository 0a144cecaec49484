package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lokutor-ai/promptdj"
	"github.com/lokutor-ai/promptdj/pkg/config"
	"github.com/lokutor-ai/promptdj/pkg/engine"
	"github.com/lokutor-ai/promptdj/pkg/observe"
	"go.opentelemetry.io/otel"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observe.Discard()
	if cfg.MetricsAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "promptdj"})
		if err != nil {
			log.Fatalf("Error: failed to init metrics: %v", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = shutdown(sctx)
		}()

		if metrics, err = observe.NewMetrics(otel.GetMeterProvider()); err != nil {
			log.Fatalf("Error: failed to create metrics: %v", err)
		}
		go func() {
			if err := observe.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	player, err := promptdj.New(cfg, promptdj.WithLogger(logger), promptdj.WithMetrics(metrics))
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() {
		if err := player.Close(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := player.Start(); err != nil {
		log.Fatalf("Error: failed to start output: %v", err)
	}

	f := player.Graph().Format()
	fmt.Printf("Configured: backend=%s | Sample Rate: %dHz | Channels: %d\n", player.Backend(), f.SampleRate, f.Channels)
	fmt.Println("Prompt DJ ready. Commands: p play/pause, s stop, w <id> <weight>, l list, q quit")
	printPrompts(os.Stdout, player)

	go printEvents(ctx, player.Events())

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			done, err := runCommand(ctx, player, scanner.Text(), os.Stdout)
			if err != nil {
				fmt.Printf("\r\033[K[ERROR] %v\n", err)
			}
			if done {
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-quit:
	}
	fmt.Printf("\nShutting down...\n")
}

func printEvents(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			switch event.Type {
			case engine.PlaybackStateChanged:
				fmt.Printf("\r\033[K[STATE] %s\n", event.Data)
			case engine.FilteredPromptEvent:
				fmt.Printf("\r\033[K[FILTERED] %+v\n", event.Data)
			case engine.ErrorEvent:
				fmt.Printf("\r\033[K[ERROR] %v\n", event.Data)
			case engine.AudioLevel:
				level := event.Data.(float64)
				dots := int(level * 100)
				if dots > 40 {
					dots = 40
				}
				fmt.Printf("\r[LEVEL: %-40s] %.3f", strings.Repeat("|", dots), level)
			}
		}
	}
}
