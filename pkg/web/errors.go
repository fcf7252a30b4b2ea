package web

import (
	"errors"

	"github.com/dukex/loom/pkg/engine"
	"github.com/dukex/loom/pkg/hil"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/triggerindex"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	return problem(c, fiber.StatusNotFound, kind, detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps core errors to problems with stable type codes.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())

	case errors.Is(err, engine.ErrInvalidTrigger):
		return problem(c, fiber.StatusBadRequest, "invalid_trigger", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case errors.Is(err, persistence.ErrExecutionTerminal):
		return problem(c, fiber.StatusConflict, "execution_terminal", err.Error())

	case errors.Is(err, engine.ErrNotPaused):
		return problem(c, fiber.StatusConflict, "not_paused", err.Error())

	case errors.Is(err, engine.ErrAmbiguousResume):
		return problem(c, fiber.StatusConflict, "ambiguous_resume", err.Error())

	case errors.Is(err, hil.ErrUnknownChannel):
		return problem(c, fiber.StatusBadRequest, "unknown_channel", err.Error())

	case errors.Is(err, hil.ErrEmptyResponse):
		return problem(c, fiber.StatusBadRequest, "empty_response", err.Error())

	case errors.Is(err, hil.ErrInteractionResolved):
		return problem(c, fiber.StatusConflict, "interaction_resolved", err.Error())

	case errors.Is(err, triggerindex.ErrUnknownSubtype), errors.Is(err, triggerindex.ErrMissingKey):
		return problem(c, fiber.StatusBadRequest, "invalid_event", err.Error())

	case errors.Is(err, triggerindex.ErrNoTriggers), errors.Is(err, triggerindex.ErrDuplicateKey):
		return problem(c, fiber.StatusBadRequest, "deploy_rejected", err.Error())

	default:
		return internalError(c, err)
	}
}
