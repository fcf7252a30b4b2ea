package triggerindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/loom/pkg/log"
	"github.com/dukex/loom/pkg/models"
	"github.com/robfig/cron/v3"
)

var ErrSchedulerRunning = errors.New("scheduler already running")

// Scheduler emits one CRON tick per minute for every distinct active cron
// expression. Entries sharing an expression are told apart by the index.
type Scheduler struct {
	index  *Index
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewScheduler(logger *slog.Logger, index *Index) *Scheduler {
	return &Scheduler{
		index:  index,
		logger: logger.With("module", "trigger_scheduler"),
		now:    index.now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := log.CronLogger(s.logger)

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)

	_, err := c.AddFunc("* * * * *", func() {
		_, err := s.Tick(ctx, s.now())
		if err != nil {
			s.logger.ErrorContext(ctx, "Cron tick failed", "error", err)
		}
	})
	if err != nil {
		cancel()

		return fmt.Errorf("schedule cron tick: %w", err)
	}

	c.Start()

	s.cron = c
	s.cancel = cancel

	s.logger.InfoContext(ctx, "Trigger scheduler started")

	return nil
}

// Stop halts the ticks and waits for a running one to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
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
		s.logger.InfoContext(ctx, "Trigger scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick dispatches a CRON event at the given minute for every active cron key and
// returns the executions started.
func (s *Scheduler) Tick(ctx context.Context, at time.Time) ([]Dispatched, error) {
	keys, err := s.index.store.ActiveKeys(ctx, models.TriggerCron)
	if err != nil {
		return nil, fmt.Errorf("load active cron keys: %w", err)
	}

	minute := at.Truncate(time.Minute)
	dispatched := make([]Dispatched, 0)
	problems := make([]error, 0)

	for _, key := range keys {
		started, err := s.index.Dispatch(ctx, models.TriggerEvent{
			Subtype:  models.TriggerCron,
			IndexKey: key,
			Time:     minute,
			Payload: map[string]any{
				"cron_expression": key,
				"scheduled_at":    minute.UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			problems = append(problems, err)
		}

		dispatched = append(dispatched, started...)
	}

	return dispatched, errors.Join(problems...)
}
