package hil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	Warned   int
	TimedOut int
	// Lost counts interactions another resolution got to first.
	Lost int
}

// Sweep sends reminders for interactions about to expire and applies the timeout
// action of expired ones. It is safe to run concurrently with IngestResponse: the
// timeout is a compare-and-swap, so an interaction answered at the same moment
// is resolved exactly once.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	pending, err := m.store.PendingInteractions(ctx)
	if err != nil {
		return report, fmt.Errorf("load pending interactions: %w", err)
	}

	now := m.now()
	problems := make([]error, 0)

	for _, interaction := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		switch {
		case !now.Before(interaction.TimeoutAt):
			err := m.expire(ctx, interaction)

			switch {
			case errors.Is(err, ErrInteractionResolved):
				report.Lost++
			case err != nil:
				problems = append(problems, err)
			default:
				report.TimedOut++
			}
		case !interaction.WarningSent && !now.Before(interaction.TimeoutAt.Add(-m.config.WarningLead)):
			warned, err := m.warn(ctx, interaction)
			if err != nil {
				problems = append(problems, err)
			}

			if warned {
				report.Warned++
			}
		}
	}

	if report.Warned > 0 || report.TimedOut > 0 {
		m.logger.InfoContext(ctx, "Swept interactions", "warned", report.Warned, "timed_out", report.TimedOut, "lost", report.Lost)
	}

	return report, errors.Join(problems...)
}

func (m *Manager) expire(ctx context.Context, interaction *models.HILInteraction) error {
	var data map[string]any

	switch interaction.TimeoutAction {
	case models.TimeoutActionContinue:
		data = map[string]any{"hil_timeout": true, "response": nil}
	case models.TimeoutActionDefaultResponse:
		data = models.CloneMap(interaction.DefaultResponse)
	}

	won, err := m.store.TransitionInteraction(ctx, interaction.ID, models.InteractionTimeout, data, m.now())
	if err != nil {
		return interactionError("Sweep", interaction.ID, err)
	}

	if !won {
		m.logger.DebugContext(ctx, "Interaction resolved before its timeout was applied", "interaction_id", interaction.ID)

		return interactionError("Sweep", interaction.ID, ErrInteractionResolved)
	}

	m.resolved(ctx, interaction, models.InteractionTimeout)

	switch interaction.TimeoutAction {
	case models.TimeoutActionContinue, models.TimeoutActionDefaultResponse:
		err = m.resumer.ResumeNode(ctx, interaction.ExecutionID, interaction.NodeID, data)
	default:
		message := fmt.Sprintf("no response on %s before %s", interaction.ChannelType, interaction.TimeoutAt.UTC().Format(time.RFC3339))
		err = m.resumer.Fail(ctx, interaction.ExecutionID, interaction.NodeID, protocol.CodeHILTimeout, message)
	}

	if err != nil {
		return interactionError("Sweep", interaction.ID, err)
	}

	return nil
}

func (m *Manager) warn(ctx context.Context, interaction *models.HILInteraction) (bool, error) {
	won, err := m.store.MarkWarningSent(ctx, interaction.ID)
	if err != nil {
		return false, interactionError("Sweep", interaction.ID, err)
	}

	if !won {
		return false, nil
	}

	remaining := interaction.TimeoutAt.Sub(m.now()).Round(time.Second)
	message := fmt.Sprintf("Reminder: a response is still needed within %s.", remaining)

	if original, ok := interaction.RequestData["message"].(string); ok && original != "" {
		message += "\n\n" + original
	}

	m.deliver(ctx, interaction, WithToken(message, interaction.CorrelationToken), false)

	return true, nil
}
