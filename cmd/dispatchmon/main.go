package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatchmon/internal/config"
	"dispatchmon/internal/filter"
	"dispatchmon/internal/monitor"
	"dispatchmon/internal/notify"
	"dispatchmon/internal/observability/otelx"
	"dispatchmon/internal/source"
	"dispatchmon/internal/state"
)

func main() {
	configPath := flag.String("config", getenv("DISPATCHMON_CONFIG", "dispatchmon.yaml"), "path to config document")
	runOnce := flag.Bool("run-once", getenvBool("RUN_ONCE", false), "run one poll cycle and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	// The config file is only required when the operator pointed at one
	// explicitly; the default name is allowed to be absent.
	configRequired := os.Getenv("DISPATCHMON_CONFIG") != "" || flagWasSet("config")
	cfg, err := config.Load(*configPath, configRequired)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	config.ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := otelx.Init(ctx, logger, cfg.OTel)
	if err != nil {
		log.Fatalf("failed to init otel: %v", err)
	}
	if shutdownOTel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOTel(shutdownCtx)
		}()
	}

	store, err := state.Open(cfg.State)
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	defer store.Close()

	matcher, err := filter.New(cfg.Filter)
	if err != nil {
		log.Fatalf("invalid filter: %v", err)
	}

	notifier, err := notify.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build notifier: %v", err)
	}

	metadataCheck := true
	if cfg.Source.MetadataCheck != nil {
		metadataCheck = *cfg.Source.MetadataCheck
	}

	mon, err := monitor.New(
		source.NewClient(cfg.Source, cfg.Filter),
		matcher,
		store,
		notifier,
		monitor.Options{
			Interval:      cfg.PollInterval.Duration,
			Schedule:      cfg.Schedule,
			TitlePrefix:   cfg.Notify.TitlePrefix,
			MaxSeen:       cfg.State.MaxSeen,
			SendDelay:     cfg.Notify.SendDelay.Duration,
			MetadataCheck: metadataCheck,
			SeedFirstRun:  cfg.SeedFirstRun,
			Logger:        logger,
		},
	)
	if err != nil {
		log.Fatalf("failed to build monitor: %v", err)
	}

	if *runOnce {
		if err := mon.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("run failed: %v", err)
		}
		return
	}

	if err := mon.Run(ctx); err != nil {
		log.Fatalf("monitor stopped: %v", err)
	}
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	default:
		return false
	}
}
