// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/loom/pkg/registry"
)

// NewRegistry registers the built-in executors and then every executor plugin
// found under pluginsPath.
func NewRegistry(logger *slog.Logger, pluginsPath string, collaborators registry.Collaborators) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	err := reg.RegisterDefaultExecutors(collaborators)
	if err != nil {
		return nil, err
	}

	if pluginsPath == "" {
		return reg, nil
	}

	plugins, err := reg.LoadPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load executor plugins: %w", err)
	}

	for _, plugin := range plugins {
		err := reg.Register(plugin)
		if err != nil {
			return nil, fmt.Errorf("failed to register executor plugin: %w", err)
		}
	}

	return reg, nil
}
