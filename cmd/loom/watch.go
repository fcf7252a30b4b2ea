package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/dukex/loom/pkg/cmd"
	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Print engine, HIL and trigger events as JSON lines",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringSliceFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Only print events of these types",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level"), "text").With("module", "loom", "action", "watch")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			err = watch(ctx, bus, os.Stdout, command.StringSlice("type"))
			if err != nil {
				return err
			}

			<-ctx.Done()

			return nil
		},
	}
}

// watch subscribes to every event and writes the ones matching types, all when
// types is empty.
func watch(ctx context.Context, bus eventbus.EventSubscriber, out io.Writer, types []string) error {
	encoder := json.NewEncoder(out)

	err := bus.Handle(eventbus.HandleAll, func(_ context.Context, event any) error {
		typed, ok := event.(eventbus.Event)
		if !ok {
			return nil
		}

		if len(types) > 0 && !slices.ContainsFunc(types, func(t string) bool {
			return strings.EqualFold(t, string(typed.GetType()))
		}) {
			return nil
		}

		return encoder.Encode(line{Type: typed.GetType(), Event: event})
	})
	if err != nil {
		return fmt.Errorf("failed to register event handler: %w", err)
	}

	return bus.Subscribe(ctx)
}

type line struct {
	Type  events.EventType `json:"type"`
	Event any              `json:"event"`
}
