package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/loom/pkg/channels/outbox"
	"github.com/dukex/loom/pkg/classifier"
	"github.com/dukex/loom/pkg/cmd"
	"github.com/dukex/loom/pkg/config"
	"github.com/dukex/loom/pkg/engine"
	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/hil"
	"github.com/dukex/loom/pkg/log"
	"github.com/dukex/loom/pkg/otelhelper"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/registry"
	"github.com/dukex/loom/pkg/triggerindex"
	"github.com/dukex/loom/pkg/web"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the engine, HIL sweeper, cron scheduler and HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (memory:// or postgres://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML policy file",
				Sources: cli.EnvVars("LOOM_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing executor plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for MEMORY nodes, process memory when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "classifier-url",
				Usage:   "Base URL of the HIL relevance classifier",
				Sources: cli.EnvVars("CLASSIFIER_URL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("loom")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, logger, command)
		},
	}
}

func serve(ctx context.Context, logger *slog.Logger, command *cli.Command) error {
	logger.InfoContext(ctx, "Initializing loom")

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	tracer := otelhelper.NoopTracer()
	if command.Bool("tracing") {
		tracer, err = otelhelper.NewTracer(ctx, "loom")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	memoryStore, closeMemory, err := cmd.NewMemoryStore(ctx, logger, command.String("redis-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := closeMemory(); err != nil {
			logger.Error("Failed to close memory store", "error", err)
		}
	}()

	reg, err := cmd.NewRegistry(logger, command.String("plugins-path"), registry.Collaborators{
		Memory:            memoryStore,
		HILTimeoutSeconds: int(cfg.HILConfig().DefaultTimeout / time.Second),
	})
	if err != nil {
		return err
	}

	core := assemble(logger, cfg, store, reg, eventBus, tracer, command.String("classifier-url"))

	recovered, err := core.engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover executions: %w", err)
	}

	logger.InfoContext(ctx, "Recovered executions", "count", recovered)

	sweeper := hil.NewSweeper(logger, core.manager, time.Duration(cfg.HIL.SweepInterval))
	scheduler := triggerindex.NewScheduler(logger, core.index)

	defer func() {
		core.engine.Wait()
		core.manager.Wait()
	}()

	err = sweeper.Start(ctx)
	if err != nil {
		return err
	}

	defer stopJob(ctx, logger, "HIL sweeper", sweeper.Stop)

	err = scheduler.Start(ctx)
	if err != nil {
		return err
	}

	defer stopJob(ctx, logger, "trigger scheduler", scheduler.Stop)

	api := NewAPI(logger, web.NewAPIHandlers(logger, store, core.engine, core.manager, core.index, reg))

	return api.Start(ctx, int(command.Int("port")))
}

func stopJob(ctx context.Context, logger *slog.Logger, name string, stop func(context.Context) error) {
	err := stop(context.WithoutCancel(ctx))
	if err != nil {
		logger.Error("Failed to stop "+name, "error", err)
	}
}

type core struct {
	engine  *engine.Engine
	manager *hil.Manager
	index   *triggerindex.Index
}

// assemble wires the engine, the HIL manager and the trigger index to each other
// and to the event bus.
func assemble(
	logger *slog.Logger,
	cfg *config.Config,
	store persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
	classifierURL string,
) *core {
	eng := engine.New(logger, store, reg, cfg.EngineConfig(),
		engine.WithPublisher(eventBus),
		engine.WithTracer(tracer),
	)

	hilOptions := []hil.Option{
		hil.WithSender(outbox.NewSender(logger, eventBus)),
		hil.WithPublisher(eventBus),
		hil.WithTracer(tracer),
	}

	if classifierURL != "" {
		hilOptions = append(hilOptions, hil.WithClassifier(classifier.New(logger, classifierURL)))
	}

	manager := hil.NewManager(logger, store, eng, cfg.HILConfig(), hilOptions...)
	eng.SetInteractions(manager)

	index := triggerindex.New(logger, store, eng,
		triggerindex.WithRetention(cfg.Retention()),
		triggerindex.WithValidator(eng),
		triggerindex.WithPublisher(eventBus),
		triggerindex.WithTracer(tracer),
	)

	return &core{engine: eng, manager: manager, index: index}
}
