package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/loom/pkg/engine"
	"github.com/dukex/loom/pkg/log"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/registry"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var ErrInvalidWorkflows = errors.New("invalid workflows found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow documents (JSON or YAML) without running them",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level"), "text").With("module", "loom", "action", "validate")

			if command.NArg() == 0 {
				return cli.Exit("validate needs at least one workflow file", 2)
			}

			return validateFiles(ctx, logger, os.Stdout, command.Args().Slice())
		},
	}
}

func validateFiles(ctx context.Context, logger *slog.Logger, out io.Writer, paths []string) error {
	reg := registry.NewRegistry(logger)

	err := reg.RegisterDefaultExecutors(registry.Collaborators{})
	if err != nil {
		return err
	}

	validator := engine.NewValidator(reg)
	invalid := 0

	for _, path := range paths {
		workflow, err := loadWorkflowFile(path)
		if err == nil {
			err = validator.Validate(ctx, workflow)
		}

		if err == nil {
			_, _ = fmt.Fprintf(out, "ok      %s (%s, %d nodes)\n", path, workflow.ID, len(workflow.Nodes))

			continue
		}

		invalid++

		_, _ = fmt.Fprintf(out, "invalid %s\n", path)

		var validationErr *engine.ValidationError
		if errors.As(err, &validationErr) {
			for _, problem := range validationErr.Problems {
				_, _ = fmt.Fprintf(out, "  - %v\n", problem)
			}

			continue
		}

		_, _ = fmt.Fprintf(out, "  - %v\n", err)
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, len(paths))
	}

	return nil
}

// loadWorkflowFile reads a workflow document. YAML files are converted to the
// JSON document form first.
func loadWorkflowFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var document map[string]any

		err = yaml.Unmarshal(data, &document)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		data, err = json.Marshal(document)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", path, err)
		}
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &workflow, nil
}
