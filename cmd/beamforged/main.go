// Command beamforged runs the beam-search orchestration service: it loads
// configuration, wires the orchestrator's supporting packages, and serves
// the HTTP/WebSocket job surface until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beamforge/beamforge/internal/api"
	"github.com/beamforge/beamforge/internal/auth"
	"github.com/beamforge/beamforge/internal/capability/mock"
	"github.com/beamforge/beamforge/internal/config"
	"github.com/beamforge/beamforge/internal/eventbus"
	"github.com/beamforge/beamforge/internal/jobstore"
	"github.com/beamforge/beamforge/internal/limiter"
	"github.com/beamforge/beamforge/internal/logging"
	"github.com/beamforge/beamforge/internal/orchestrator"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

// orchestratorPublisher is the minimal surface orchestrator.New needs from
// an event sink; satisfied structurally by *eventbus.Bus and by relayedBus.
type orchestratorPublisher interface {
	Publish(eventbus.Event)
}

// relayedBus adapts the ctx-taking publish function eventbus.AttachRelay
// returns to the ctx-less orchestratorPublisher surface, for deployments
// where the job surface runs in a separate process from the orchestrator.
type relayedBus struct {
	publish func(ctx context.Context, event eventbus.Event)
}

func (r *relayedBus) Publish(event eventbus.Event) {
	r.publish(context.Background(), event)
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "beamforged",
		Short:   "Beam-search image-prompt orchestration service",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "beamforged:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	store, err := buildStore(cfg.JobStore)
	if err != nil {
		return fmt.Errorf("building job store: %w", err)
	}

	bus := eventbus.New(cfg.EventBus.BufferLimit)

	var jobPublisher orchestratorPublisher = bus
	if cfg.EventBus.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.EventBus.RedisAddr})
		relay := eventbus.NewRedisRelay(client, logger)
		jobPublisher = &relayedBus{publish: eventbus.AttachRelay(bus, relay)}
	}

	authMgr := auth.NewManager(cfg.Auth)
	limiters := limiter.NewRegistry(cfg.Limiter.Defaults)

	factory := func() *orchestrator.Orchestrator {
		lang := mock.NewLanguage(time.Now().UnixNano())
		img := mock.NewImage(4)
		vis := mock.NewVision(time.Now().UnixNano(), cfg.Ranker.AllAtOnceThreshold)
		return orchestrator.New(lang, img, vis, limiters, jobPublisher)
	}

	server := api.NewServer(cfg, logger, authMgr, bus, store, limiters, factory)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(context.Background()); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func buildStore(cfg config.JobStoreConfig) (jobstore.Store, error) {
	switch cfg.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := jobstore.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return jobstore.NewMemoryStore(), nil
	}
}
