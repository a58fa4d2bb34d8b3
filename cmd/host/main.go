// Command host is the orchestration daemon: it owns the durable store, the
// per-group queues, the container runner, the dispatch/run state machine,
// the chat channel drivers, and the cron scheduler, wiring them all through
// the Host Router.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nanoclaw/host/internal/bus"
	"github.com/nanoclaw/host/internal/channels"
	"github.com/nanoclaw/host/internal/config"
	"github.com/nanoclaw/host/internal/cron"
	"github.com/nanoclaw/host/internal/otel"
	"github.com/nanoclaw/host/internal/policy"
	"github.com/nanoclaw/host/internal/queue"
	"github.com/nanoclaw/host/internal/router"
	"github.com/nanoclaw/host/internal/runner"
	"github.com/nanoclaw/host/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nanoclaw-host: fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	otelProvider, err := otel.Init(ctx, otel.Config{ServiceName: "nanoclaw-host"})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer otelProvider.Shutdown(ctx)

	eventBus := bus.New()

	dbPath := fmt.Sprintf("%s/nanoclaw.db", cfg.HomeDir)
	db, err := store.Open(dbPath, eventBus)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	for _, g := range cfg.Groups {
		if err := db.RegisterGroup(ctx, store.GroupRecord{
			GroupFolder: g.GroupFolder,
			LaneClass:   g.LaneClass,
			Image:       g.Image,
			Mounts:      g.Mounts,
			SecretScope: g.SecretScope,
		}); err != nil {
			return fmt.Errorf("register group %s: %w", g.GroupFolder, err)
		}
	}

	docker, err := runner.NewDockerClient()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	sem := runner.NewSemaphore(cfg.Runner.MaxConcurrentContainers)
	containerRunner := runner.New(docker, sem, logger)

	groupsByFolder := make(map[string]config.GroupConfigEntry, len(cfg.Groups))
	for _, g := range cfg.Groups {
		groupsByFolder[g.GroupFolder] = g
	}

	invoker := &containerInvoker{
		run:      containerRunner,
		db:       db,
		ipcRoot:  fmt.Sprintf("%s/ipc", cfg.HomeDir),
		groups:   groupsByFolder,
		authCfg:  cfg.Auth,
		timeouts: runner.Timeouts{
			NoOutput: time.Duration(cfg.Runner.NoOutputTimeoutSeconds) * time.Second,
			Idle:     time.Duration(cfg.Runner.IdleTimeoutSeconds) * time.Second,
			Hard:     time.Duration(cfg.Runner.HardTimeoutSeconds) * time.Second,
			Grace:    30 * time.Second,
		},
		logger: logger,
	}

	qm := queue.NewManager(ctx, queueStoreAdapter{db: db}, invoker, logDeadLetterer{logger: logger}, queue.Config{Logger: logger})
	defer qm.Stop()

	pol := policy.NewLivePolicy(policy.Default(), "")
	for _, g := range cfg.Groups {
		if err := pol.AddLaneRule(g.GroupFolder, policy.Lane(g.LaneClass)); err != nil {
			return fmt.Errorf("add lane rule for %s: %w", g.GroupFolder, err)
		}
	}

	hostRouter := router.New(pol, messageStoreAdapter{db: db}, qm, dispatchStoreAdapter{db: db}, lookupParentRun(db))
	invoker.SetRouter(hostRouter)

	if cfg.Cron.Enabled {
		scheduler := cron.NewScheduler(cron.Config{
			Store:  db,
			Router: hostRouter,
			Logger: logger,
		})
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if cfg.Channels.Telegram.Enabled {
		for _, g := range cfg.Groups {
			if g.LaneClass != "main" {
				continue
			}
			tg := channels.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, g.GroupFolder, hostRouter, eventBus, logger)
			go func(ch *channels.TelegramChannel) {
				if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Error("telegram channel stopped", "error", err)
				}
			}(tg)
		}
	}

	logger.Info("nanoclaw host started", "groups", len(cfg.Groups), "max_containers", cfg.Runner.MaxConcurrentContainers)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
