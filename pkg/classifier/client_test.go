package classifier_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dukex/loom/pkg/classifier"
	"github.com/dukex/loom/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interaction() *models.HILInteraction {
	return &models.HILInteraction{
		ID:              "i-1",
		InteractionType: models.InteractionTypeApproval,
		ChannelType:     models.ChannelSlack,
		RequestData:     map[string]any{"message": "Ship it?"},
	}
}

func newClient(t *testing.T, handler http.HandlerFunc) *classifier.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return classifier.New(slog.New(slog.NewTextHandler(io.Discard, nil)), server.URL+"/", classifier.WithHTTPClient(server.Client()))
}

func TestClientClassify(t *testing.T) {
	t.Parallel()

	var received classifier.Request

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		_ = json.NewEncoder(w).Encode(classifier.Response{Score: 0.92, Reasoning: "explicit approval"})
	})

	score, reasoning, err := client.Classify(context.Background(), interaction(), "yes, ship it")
	require.NoError(t, err)
	assert.InDelta(t, 0.92, score, 1e-9)
	assert.Equal(t, "explicit approval", reasoning)

	assert.Equal(t, "i-1", received.InteractionID)
	assert.Equal(t, "Ship it?", received.Message)
	assert.Equal(t, "yes, ship it", received.Response)
	assert.Equal(t, models.InteractionTypeApproval, received.InteractionType)
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_ = json.NewEncoder(w).Encode(classifier.Response{Score: 0.4})
	})

	score, _, err := client.Classify(context.Background(), interaction(), "hmm")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, score, 1e-9)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantCalls int32
	}{
		{name: "client error is not retried", status: http.StatusUnprocessableEntity, body: "bad request", wantErr: classifier.ErrStatus, wantCalls: 1},
		{name: "score out of range", status: http.StatusOK, body: `{"score": 1.5}`, wantErr: classifier.ErrInvalidScore, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, _, err := client.Classify(context.Background(), interaction(), "maybe")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}
