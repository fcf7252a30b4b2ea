package hil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/loom/pkg/log"
	"github.com/robfig/cron/v3"
)

// Sweeper runs Manager.Sweep on a fixed interval. A sweep still running when the
// next one is due is skipped.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewSweeper(logger *slog.Logger, manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   logger.With("module", "hil_sweeper"),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	cronLogger := log.CronLogger(s.logger)

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		_, err := s.manager.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		cancel()

		return fmt.Errorf("schedule sweep: %w", err)
	}

	c.Start()

	s.cron = c
	s.cancel = cancel

	s.logger.InfoContext(ctx, "Sweeper started", "interval", s.interval)

	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	cancel()

	select {
	case <-c.Stop().Done():
		s.logger.InfoContext(ctx, "Sweeper stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
