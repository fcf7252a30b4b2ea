// Package redis provides a protocol.MemoryStore on Redis. Buffers are capped lists
// and keyed values are hash fields, both holding JSON documents.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "loom:memory:"

type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewStore connects to the Redis server at url, e.g. redis://localhost:6379/0.
func NewStore(ctx context.Context, logger *slog.Logger, url string) (*Store, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Store{client: client, logger: logger.With("module", "memorystore.redis")}, nil
}

func bufferKey(namespace string) string {
	return keyPrefix + namespace + ":buffer"
}

func valuesKey(namespace string) string {
	return keyPrefix + namespace + ":values"
}

// Append pushes the entry and trims the list to maxEntries in one pipeline.
func (s *Store) Append(ctx context.Context, namespace string, entry map[string]any, maxEntries int) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode memory entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, bufferKey(namespace), data)

		if maxEntries > 0 {
			pipe.LTrim(ctx, bufferKey(namespace), int64(-maxEntries), -1)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append memory entry: %w", err)
	}

	return nil
}

func (s *Store) Load(ctx context.Context, namespace string, limit int) ([]map[string]any, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := s.client.LRange(ctx, bufferKey(namespace), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load memory entries: %w", err)
	}

	entries := make([]map[string]any, 0, len(raw))

	for _, item := range raw {
		var entry map[string]any
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			s.logger.WarnContext(ctx, "Skipping undecodable memory entry", "namespace", namespace, "error", err)

			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *Store) Put(ctx context.Context, namespace, key string, value map[string]any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode memory value: %w", err)
	}

	err = s.client.HSet(ctx, valuesKey(namespace), key, data).Err()
	if err != nil {
		return fmt.Errorf("failed to store memory value: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, namespace, key string) (map[string]any, bool, error) {
	raw, err := s.client.HGet(ctx, valuesKey(namespace), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read memory value: %w", err)
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode memory value: %w", err)
	}

	return value, true, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
