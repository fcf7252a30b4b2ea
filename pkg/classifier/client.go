// Package classifier is the HTTP client of the external relevance classifier that
// scores inbound human responses.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/loom/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrInvalidScore = errors.New("classifier returned a score outside [0, 1]")
	ErrStatus       = errors.New("classifier returned an error status")
)

type Request struct {
	InteractionID   string                 `json:"interaction_id"`
	InteractionType models.InteractionType `json:"interaction_type"`
	Channel         models.ChannelType     `json:"channel"`
	Message         string                 `json:"message"`
	Options         any                    `json:"options,omitempty"`
	Response        string                 `json:"response"`
}

type Response struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// WithMaxTries bounds the attempts per classification, the first one included.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		c.maxTries = n
	}
}

// Client posts interactions and responses to <baseURL>/classify.
type Client struct {
	endpoint string
	http     *http.Client
	maxTries uint
	logger   *slog.Logger
}

func New(logger *slog.Logger, baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/classify",
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxTries: 3,
		logger:   logger.With("module", "classifier"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Classify scores responseText against the interaction. Server errors and
// transport failures are retried with exponential backoff; client errors are not.
func (c *Client) Classify(ctx context.Context, interaction *models.HILInteraction, responseText string) (float64, string, error) {
	message, _ := interaction.RequestData["message"].(string)

	body, err := json.Marshal(Request{
		InteractionID:   interaction.ID,
		InteractionType: interaction.InteractionType,
		Channel:         interaction.ChannelType,
		Message:         message,
		Options:         interaction.RequestData["options"],
		Response:        responseText,
	})
	if err != nil {
		return 0, "", fmt.Errorf("encode classifier request: %w", err)
	}

	result, err := backoff.Retry(ctx, func() (Response, error) {
		return c.post(ctx, body)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return 0, "", err
	}

	if result.Score < 0 || result.Score > 1 {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidScore, result.Score)
	}

	c.logger.DebugContext(ctx, "Response classified", "interaction_id", interaction.ID, "score", result.Score)

	return result.Score, result.Reasoning, nil
}

func (c *Client) post(ctx context.Context, body []byte) (Response, error) {
	var result Response

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return result, backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return result, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(detail)))

		if resp.StatusCode < http.StatusInternalServerError {
			return result, backoff.Permanent(err)
		}

		c.logger.WarnContext(ctx, "Classifier unavailable, retrying", "status", resp.StatusCode)

		return result, err
	}

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return result, backoff.Permanent(fmt.Errorf("decode classifier response: %w", err))
	}

	return result, nil
}
