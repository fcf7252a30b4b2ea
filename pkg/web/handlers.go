package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/loom/pkg/engine"
	"github.com/dukex/loom/pkg/hil"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/registry"
	"github.com/dukex/loom/pkg/triggerindex"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	hil         *hil.Manager
	index       *triggerindex.Index
	registry    *registry.Registry
	validator   *validator.Validate
	now         func() time.Time
}

func NewAPIHandlers(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *engine.Engine,
	manager *hil.Manager,
	index *triggerindex.Index,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		logger:      logger.With("module", "web"),
		persistence: persistence,
		engine:      engine,
		hil:         manager,
		index:       index,
		registry:    registry,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	w := router.Group("/workflows")
	w.Put("/:id", h.PutWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/deploy", h.DeployWorkflow)
	w.Delete("/:id/deploy", h.UndeployWorkflow)
	w.Post("/:id/run", h.RunWorkflow)

	e := router.Group("/executions")
	e.Post("/", h.StartExecution)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Post("/:id/resume", h.ResumeExecution)

	router.Post("/hil/:channel/responses", h.IngestResponse)

	router.All("/webhooks/*", h.Webhook)
	router.Post("/events/:subtype", h.PostEvent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	checkers := fiber.Map{"registry": "ok", "persistence": "ok"}
	healthy := true

	if len(h.registry.Describe()) == 0 {
		checkers["registry"] = "no executors registered"
		healthy = false
	}

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		checkers["persistence"] = err.Error()
		healthy = false
	}

	status := "healthy"
	httpStatus := http.StatusOK

	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"checkers":  checkers,
		"timestamp": h.now().UTC(),
	})
}

// PutWorkflow stores a workflow document. Storing over an existing workflow
// creates its next version; deployed triggers keep serving the previous version
// until the workflow is deployed again.
func (h *APIHandlers) PutWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid workflow document: "+err.Error())
	}

	if workflow.ID == "" {
		workflow.ID = id
	}

	if workflow.ID != id {
		return badRequest(c, "Workflow id does not match the path")
	}

	ctx := c.Context()

	err := h.engine.Validate(ctx, &workflow)
	if err != nil {
		return handleError(c, err)
	}

	now := h.now().UTC()
	status := fiber.StatusCreated

	existing, err := h.persistence.WorkflowByID(ctx, id)

	switch {
	case err == nil:
		workflow.Version = existing.Version + 1
		workflow.CreatedAt = existing.CreatedAt
		status = fiber.StatusOK
	case persistence.IsWorkflowNotFound(err):
		workflow.Version = 1
		workflow.CreatedAt = now
	default:
		return internalError(c, err)
	}

	workflow.UpdatedAt = now

	err = h.persistence.SaveWorkflow(ctx, &workflow)
	if err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(ctx, "Workflow stored", "workflow_id", id, "version", workflow.Version)

	return c.Status(status).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeployWorkflow(c fiber.Ctx) error {
	ctx := c.Context()

	workflow, err := h.persistence.WorkflowByID(ctx, c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	entries, err := h.index.DeployWorkflow(ctx, workflow)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(DeploymentResponse{WorkflowID: workflow.ID, Version: workflow.Version, Entries: entries})
}

func (h *APIHandlers) UndeployWorkflow(c fiber.Ctx) error {
	ctx := c.Context()

	workflow, err := h.persistence.WorkflowByID(ctx, c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	err = h.index.Undeploy(ctx, workflow.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RunWorkflow fires the MANUAL trigger of a deployed workflow with the request
// body as payload.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	payload, err := bodyPayload(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	return h.dispatch(c, models.TriggerEvent{
		Subtype:  models.TriggerManual,
		IndexKey: c.Params("id"),
		Payload:  payload,
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.Start(c.Context(), engine.StartRequest{
		WorkflowID:    req.WorkflowID,
		TriggerNodeID: req.TriggerNodeID,
		Payload:       req.Payload,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Reason == "" {
		req.Reason = "cancelled through the API"
	}

	ctx := c.Context()
	id := c.Params("id")

	err := h.engine.Cancel(ctx, id, req.Reason)
	if err != nil {
		return handleError(c, err)
	}

	execution, err := h.engine.Status(ctx, id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	var req ResumeExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	ctx := c.Context()
	id := c.Params("id")

	var err error
	if req.NodeID != "" {
		err = h.engine.ResumeNode(ctx, id, req.NodeID, req.Data)
	} else {
		err = h.engine.Resume(ctx, id, req.Data)
	}

	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"execution_id": id, "resumed": true})
}

// IngestResponse accepts a reply on a HIL channel. A reply that arrives after
// its interaction was resolved is still recorded and answered with 200, so
// channel providers do not redeliver it.
func (h *APIHandlers) IngestResponse(c fiber.Ctx) error {
	var req HILResponseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	raw := req.RawPayload
	if raw == nil {
		_ = json.Unmarshal(c.Body(), &raw)
	}

	result, err := h.hil.IngestResponse(c.Context(), hil.InboundResponse{
		Channel:       models.ChannelType(c.Params("channel")),
		Sender:        req.Sender,
		Text:          req.Text,
		CorrelationID: req.CorrelationID,
		RawPayload:    raw,
	})

	switch {
	case err == nil:
		return c.JSON(result)
	case result != nil && errors.Is(err, hil.ErrInteractionResolved):
		return c.JSON(result)
	default:
		return handleError(c, err)
	}
}

// Webhook fires WEBHOOK triggers deployed on the request path.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	return h.dispatch(c, models.TriggerEvent{
		Subtype: models.TriggerWebhook,
		Payload: map[string]any{
			"path":    "/" + strings.TrimPrefix(c.Params("*"), "/"),
			"method":  c.Method(),
			"headers": headers(c),
			"query":   queries(c),
			"body":    webhookBody(c.Body()),
		},
	})
}

func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var req TriggerEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	event := models.TriggerEvent{
		Subtype:  models.TriggerSubtype(strings.ToUpper(c.Params("subtype"))),
		IndexKey: req.IndexKey,
		Payload:  req.Payload,
	}

	if req.Time != nil {
		event.Time = *req.Time
	}

	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	return h.dispatch(c, event)
}

// dispatch answers 202 when at least one execution started and 404 when no
// deployed trigger matched.
func (h *APIHandlers) dispatch(c fiber.Ctx, event models.TriggerEvent) error {
	dispatched, err := h.index.Dispatch(c.Context(), event)
	if err != nil && len(dispatched) == 0 {
		var indexErr *triggerindex.IndexError
		if errors.As(err, &indexErr) && indexErr.Op == "Dispatch" {
			return internalError(c, err)
		}

		return handleError(c, err)
	}

	if len(dispatched) == 0 {
		return notFound(c, "no_matching_trigger", "no deployed trigger matches the event")
	}

	return c.Status(fiber.StatusAccepted).JSON(newDispatchResponse(dispatched, err))
}

func bodyPayload(c fiber.Ctx) (map[string]any, error) {
	payload := map[string]any{}
	if len(c.Body()) == 0 {
		return payload, nil
	}

	err := json.Unmarshal(c.Body(), &payload)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func webhookBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}

	return string(body)
}

func headers(c fiber.Ctx) map[string]any {
	out := make(map[string]any)
	for name, values := range c.GetReqHeaders() {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	return out
}

func queries(c fiber.Ctx) map[string]any {
	out := make(map[string]any)
	for name, value := range c.Queries() {
		out[name] = value
	}

	return out
}
