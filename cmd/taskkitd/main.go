// Command taskkitd runs the task orchestration daemon: the scheduling
// engine behind an HTTP API, with storage, idempotency, events,
// webhooks and search wired from a TOML config file.
//
// Run with defaults (in-memory backends, listen on :8080):
//
//	taskkitd
//
// Run against a config file:
//
//	taskkitd -config /etc/taskkit/taskkit.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vinayprograms/taskkit/api"
	"github.com/vinayprograms/taskkit/config"
	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/engine"
	"github.com/vinayprograms/taskkit/events"
	"github.com/vinayprograms/taskkit/idempotency"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/registry"
	"github.com/vinayprograms/taskkit/retry"
	"github.com/vinayprograms/taskkit/search"
	"github.com/vinayprograms/taskkit/shutdown"
	"github.com/vinayprograms/taskkit/stats"
	"github.com/vinayprograms/taskkit/tasks"
	"github.com/vinayprograms/taskkit/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskkitd: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	if err := run(cfg, logger); err != nil {
		logger.WithComponent("main").Error("daemon exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// loadConfig reads the file when a path is given; otherwise it starts
// from defaults. Environment overrides apply either way.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Parse("")
}

func buildLogger(cfg config.LoggingConfig) *logging.Logger {
	var logger *logging.Logger
	if cfg.Format == "json" {
		logger = logging.NewJSON()
	} else {
		logger = logging.New()
	}
	switch cfg.Level {
	case "debug":
		logger.SetLevel(logging.LevelDebug)
	case "warn":
		logger.SetLevel(logging.LevelWarn)
	case "error":
		logger.SetLevel(logging.LevelError)
	default:
		logger.SetLevel(logging.LevelInfo)
	}
	return logger
}

func run(cfg *config.Config, logger *logging.Logger) error {
	log := logger.WithComponent("main")

	// Storage. Memory and Redis backends pair the task store with the
	// matching idempotency index.
	var (
		store tasks.TaskStore
		idem  idempotency.Index
	)
	switch cfg.Storage.Backend {
	case "redis":
		rs, err := tasks.NewRedisStore(tasks.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("redis task store: %w", err)
		}
		store = rs

		ri, err := idempotency.NewRedisIndex(idempotency.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Idempotency.TTL.Duration,
		})
		if err != nil {
			store.Close()
			return fmt.Errorf("redis idempotency index: %w", err)
		}
		idem = ri
	default:
		store = tasks.NewMemoryStore()
		idem = idempotency.NewMemoryIndex(cfg.Idempotency.TTL.Duration)
	}

	// Events. The relay mirrors every appended event onto NATS when a
	// server URL is configured.
	var broker events.Broker = events.NewMemoryBroker()
	if cfg.NATS.URL != "" {
		relay, err := events.NewRelay(broker, events.RelayConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Name:          cfg.NATS.Name,
			Logger:        logger.WithComponent("events.relay"),
		})
		if err != nil {
			return fmt.Errorf("nats relay: %w", err)
		}
		broker = relay
	}

	queue := dlq.NewMemoryQueue()

	var idx *search.Index
	if cfg.Search.Enabled {
		var err error
		idx, err = search.New(search.Config{Path: cfg.Search.Path})
		if err != nil {
			return fmt.Errorf("search index: %w", err)
		}
	}

	notifier := webhook.NewHTTPNotifier(webhook.Config{
		MaxAttempts: cfg.Webhook.MaxAttempts,
		InitBackoff: cfg.Webhook.InitBackoff.Duration,
		Timeout:     cfg.Webhook.Timeout.Duration,
		Logger:      logger.WithComponent("webhook"),
	})

	reg := registry.New()
	if err := registerBuiltins(reg); err != nil {
		return fmt.Errorf("builtin handlers: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Store:       store,
		Events:      broker,
		DLQ:         queue,
		Registry:    reg,
		Idempotency: idem,
		Webhooks:    notifier,
		Search:      idx,
		Logger:      logger,
		Workers:     cfg.Engine.Workers,
		RetryPolicy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			InitBackoff: cfg.Retry.InitBackoff.Duration,
			MaxBackoff:  cfg.Retry.MaxBackoff.Duration,
		},
		Retention:     cfg.Engine.Retention.Duration,
		SweepInterval: cfg.Engine.SweepInterval.Duration,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	collector, err := stats.NewCollector(stats.Config{
		Store:      store,
		DLQ:        queue,
		Tracker:    eng.Tracker(),
		QueueDepth: eng.QueueDepth,
	})
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	server, err := api.New(api.Config{
		Engine:        eng,
		Stats:         collector,
		DLQ:           queue,
		Search:        idx,
		Logger:        logger,
		Addr:          cfg.Server.Addr,
		APIKeys:       cfg.Server.APIKeys,
		RateLimit:     cfg.RateLimit.Requests,
		RateWindow:    cfg.RateLimit.Window.Duration,
		SyncTimeout:   cfg.Server.SyncTimeout.Duration,
		StreamPoll:    cfg.Stream.Poll.Duration,
		StreamTimeout: cfg.Stream.Timeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	// Drain order: listener first, then the engine, then the stores the
	// engine writes to.
	coord := shutdown.New(shutdown.Config{
		Timeout: cfg.Shutdown.Timeout.Duration,
		OnStep: func(step shutdown.Step) {
			fields := map[string]interface{}{
				"step":     step.Name,
				"duration": step.Duration.String(),
			}
			if step.Err != nil {
				fields["error"] = step.Err.Error()
				log.Error("shutdown step failed", fields)
				return
			}
			log.Info("shutdown step done", fields)
		},
	})
	coord.RegisterFuncPhase("http", server.Shutdown, shutdown.PhaseServer)
	coord.RegisterFuncPhase("engine", eng.Stop, shutdown.PhaseEngine)
	coord.RegisterFuncPhase("task store", closeStep(store.Close), shutdown.PhaseBackends)
	coord.RegisterFuncPhase("idempotency index", closeStep(idem.Close), shutdown.PhaseBackends)
	coord.RegisterFuncPhase("event broker", closeStep(broker.Close), shutdown.PhaseBackends)
	coord.RegisterFuncPhase("dead letters", closeStep(queue.Close), shutdown.PhaseBackends)
	if idx != nil {
		coord.RegisterFuncPhase("search index", closeStep(idx.Close), shutdown.PhaseBackends)
	}
	coord.HandleSignals()

	if err := eng.Start(); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	log.Info("taskkitd started", map[string]interface{}{
		"addr":    cfg.Server.Addr,
		"backend": cfg.Storage.Backend,
		"workers": cfg.Engine.Workers,
		"search":  cfg.Search.Enabled,
		"relay":   cfg.NATS.URL != "",
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
			coord.Trigger()
		}
	}()

	<-coord.Done()
	return coord.Err()
}

// closeStep adapts a Close method to a shutdown handler.
func closeStep(close func() error) func(ctx context.Context) error {
	return func(context.Context) error { return close() }
}

// registerBuiltins installs the handlers every deployment carries.
// echo returns its payload unchanged so a fresh install can be
// exercised end to end before real handlers are registered.
func registerBuiltins(reg *registry.Registry) error {
	return reg.Register("echo", registry.HandlerFunc(func(ctx context.Context, inv *registry.Invocation) ([]byte, error) {
		return inv.Task.Payload, nil
	}))
}
