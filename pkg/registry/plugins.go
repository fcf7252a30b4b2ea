package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"

	"github.com/dukex/loom/pkg/protocol"
)

// LoadPlugins opens every *.so under pluginsPath/executors and returns the
// ExecutorFactory exported as the "Executor" symbol.
func (r *Registry) LoadPlugins(pluginsPath string) ([]protocol.ExecutorFactory, error) {
	rootPath := pluginsPath + "/executors"

	_, err := os.Stat(rootPath)
	if os.IsNotExist(err) {
		return nil, nil
	}

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	logger := r.logger.With(slog.String("path", rootPath))
	logger.Info("Loading executor plugins", "count", len(pluginPathList))

	factories := make([]protocol.ExecutorFactory, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("open plugin %s: %w", p, err)
		}

		symbol, err := plg.Lookup("Executor")
		if err != nil {
			return nil, fmt.Errorf("lookup Executor in %s: %w", p, err)
		}

		var factory protocol.ExecutorFactory

		switch exported := symbol.(type) {
		case protocol.ExecutorFactory:
			factory = exported
		case *protocol.ExecutorFactory:
			factory = *exported
		default:
			return nil, fmt.Errorf("plugin %s: Executor does not implement ExecutorFactory", p)
		}

		factories = append(factories, factory)

		logger.Info("Loaded executor plugin", slog.String("plugin", p))
	}

	return factories, nil
}
