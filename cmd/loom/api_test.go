package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/loom/pkg/config"
	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/mocks"
	"github.com/dukex/loom/pkg/otelhelper"
	"github.com/dukex/loom/pkg/persistence/memory"
	"github.com/dukex/loom/pkg/registry"
	"github.com/dukex/loom/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.RegisterDefaultExecutors(registry.Collaborators{}))

	var bus eventbus.EventBus = mocks.NewMockEventBus(t)

	core := assemble(logger, config.Default(), store, reg, bus, otelhelper.NoopTracer(), "")

	return NewAPI(logger, web.NewAPIHandlers(logger, store, core.engine, core.manager, core.index, reg)).App()
}

func TestAPI_Endpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "root", path: "/", wantStatus: http.StatusOK, wantBody: "loom"},
		{name: "liveness", path: "/livez", wantStatus: http.StatusOK},
		{name: "readiness", path: "/readyz", wantStatus: http.StatusOK},
		{name: "health", path: "/health", wantStatus: http.StatusOK},
		{name: "unknown execution", path: "/executions/missing", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)

			defer func() {
				err := resp.Body.Close()
				if err != nil {
					t.Logf("Failed to close response body: %v", err)
				}
			}()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantBody != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.wantBody, string(body))
			}
		})
	}
}
