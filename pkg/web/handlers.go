// Package web provides the REST API for authoring workflows, ingesting events
// and operating executions.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	definitions *services.Definitions
	executions  *services.Executions
	deadLetters *services.DeadLetters
	events      *services.Events
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	definitions *services.Definitions,
	executions *services.Executions,
	deadLetters *services.DeadLetters,
	events *services.Events,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		executions:  executions,
		deadLetters: deadLetters,
		events:      events,
		validator:   validator,
		registry:    registry,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/node-types", h.GetNodeTypes)

	d := router.Group("/definitions")
	d.Get("/", h.GetDefinitions)
	d.Post("/", h.CreateDefinition)
	d.Get("/:id", h.GetDefinition)
	d.Put("/:id", h.UpdateDefinition)
	d.Delete("/:id", h.DeleteDefinition)
	d.Post("/:id/validate", h.ValidateDefinition)
	d.Post("/:id/publish", h.PublishDefinition)
	d.Post("/:id/unpublish", h.UnpublishDefinition)
	d.Get("/:id/versions", h.GetDefinitionVersions)

	router.Post("/events", h.IngestEvent)

	e := router.Group("/executions")
	e.Get("/", h.GetExecutions)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/steps", h.GetExecutionSteps)
	e.Post("/:id/cancel", h.CancelExecution)

	l := router.Group("/dead-letters")
	l.Get("/", h.GetDeadLetters)
	l.Get("/:id", h.GetDeadLetter)
	l.Post("/:id/retry", h.RetryDeadLetter)
	l.Post("/:id/ignore", h.IgnoreDeadLetter)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.definitions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Autoflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Autoflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	factories := h.registry.Factories()

	nodeTypes := make([]NodeTypeResponse, 0, len(factories))
	for _, factory := range factories {
		nodeTypes = append(nodeTypes, TransformNodeType(factory))
	}

	return c.JSON(nodeTypes)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	definitions, err := h.definitions.List(c.Context(), c.Query("workspace_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions": definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	req, err := h.bindDefinition(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.definitions.Save(c.Context(), req.Definition(""))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	id := c.Params("id")

	req, err := h.bindDefinition(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.definitions.Get(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	updated, err := h.definitions.Save(c.Context(), req.Definition(id))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) bindDefinition(c fiber.Ctx) (*SaveDefinitionRequest, error) {
	var req SaveDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errInvalidJSON
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	if err := h.definitions.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateDefinition reports whether the stored definition could be published.
func (h *APIHandlers) ValidateDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if err := h.definitions.Validate(c.Context(), definition); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"valid": true})
}

func (h *APIHandlers) PublishDefinition(c fiber.Ctx) error {
	published, err := h.definitions.Publish(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) UnpublishDefinition(c fiber.Ctx) error {
	unpublished, err := h.definitions.Unpublish(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(unpublished)
}

func (h *APIHandlers) GetDefinitionVersions(c fiber.Ctx) error {
	versions, err := h.definitions.Versions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

// IngestEvent accepts a domain event. Matching happens asynchronously in the worker.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.TriggerEvent{
		ID:            req.ID,
		EventType:     req.EventType,
		WorkspaceID:   req.WorkspaceID,
		EntityContext: req.EntityContext,
	}

	if req.OccurredAt != nil {
		event.OccurredAt = req.OccurredAt.UTC()
	}

	accepted, err := h.events.Ingest(c.Context(), event)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(accepted)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.executions.List(c.Context(), services.ListExecutionsRequest{
		WorkspaceID:  c.Query("workspace_id"),
		DefinitionID: c.Query("definition_id"),
		Status:       models.ExecutionStatus(c.Query("status")),
		Limit:        limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionSteps(c fiber.Ctx) error {
	steps, err := h.executions.Steps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"steps": steps})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, errInvalidJSON.Error())
		}
	}

	execution, err := h.executions.Cancel(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetDeadLetters(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	letters, err := h.deadLetters.List(c.Context(), services.ListDeadLettersRequest{
		WorkspaceID: c.Query("workspace_id"),
		Status:      models.DeadLetterStatus(c.Query("status")),
		Limit:       limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"dead_letters": letters})
}

func (h *APIHandlers) GetDeadLetter(c fiber.Ctx) error {
	letter, err := h.deadLetters.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(letter)
}

func (h *APIHandlers) RetryDeadLetter(c fiber.Ctx) error {
	req, err := h.bindResolution(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	letter, execution, err := h.deadLetters.Retry(c.Context(), c.Params("id"), req.ResolvedBy, req.Notes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(RetryDeadLetterResponse{
		DeadLetter: letter,
		Execution:  execution,
	})
}

func (h *APIHandlers) IgnoreDeadLetter(c fiber.Ctx) error {
	req, err := h.bindResolution(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	letter, err := h.deadLetters.Ignore(c.Context(), c.Params("id"), req.ResolvedBy, req.Notes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(letter)
}

func (h *APIHandlers) bindResolution(c fiber.Ctx) (*ResolveDeadLetterRequest, error) {
	var req ResolveDeadLetterRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errInvalidJSON
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func queryLimit(c fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}
