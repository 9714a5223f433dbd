// Package handler exposes the workflow admin/inspection API.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"followup_backend/internal/http/response"
	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid instance id"
)

// Handler handles HTTP requests for workflows.
type Handler struct {
	repo *repository.Repository
	val  *validator.Validator
}

// New creates a new workflows handler.
func New(repo *repository.Repository, val *validator.Validator) *Handler {
	return &Handler{repo: repo, val: val}
}

// RegisterRoutes mounts the workflow routes.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/definitions", h.ListDefinitions)
	g.POST("/definitions", h.CreateDefinition)
	g.GET("/instances", h.ListInstances)
	g.GET("/instances/:id", h.GetInstance)
	g.GET("/instances/:id/executions", h.ListExecutions)
	g.POST("/instances/:id/retrigger", h.RetriggerInstance)
}

// ListDefinitions retrieves the enabled workflow definitions.
// GET /api/v1/workflows/definitions
func (h *Handler) ListDefinitions(c *gin.Context) {
	defs, err := h.repo.ListEnabledDefinitions(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list definitions", nil)
		return
	}
	response.OK(c, gin.H{"definitions": defs})
}

type createDefinitionRequest struct {
	Name           string            `json:"name" validate:"required,max=200"`
	TriggerType    string            `json:"triggerType" validate:"required,max=100"`
	Steps          []repository.Step `json:"steps" validate:"required,min=1,dive"`
	StopConditions []string          `json:"stopConditions"`
	Enabled        *bool             `json:"enabled"`
}

// CreateDefinition creates a workflow definition.
// POST /api/v1/workflows/definitions
func (h *Handler) CreateDefinition(c *gin.Context) {
	var req createDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	for i, step := range req.Steps {
		if step.Action == "" {
			response.Error(c, http.StatusBadRequest, msgValidationFailed, "step action is required")
			return
		}
		if _, err := repository.ParseDelay(step.Delay); err != nil {
			response.Error(c, http.StatusBadRequest, msgValidationFailed,
				"invalid delay on step "+strconv.Itoa(i)+": "+err.Error())
			return
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	def, err := h.repo.CreateDefinition(c.Request.Context(), repository.Definition{
		Name:           req.Name,
		TriggerType:    req.TriggerType,
		Steps:          req.Steps,
		StopConditions: req.StopConditions,
		Enabled:        enabled,
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to create definition", nil)
		return
	}
	response.JSON(c, http.StatusCreated, def)
}

// ListInstances retrieves workflow instances with optional status/entity filters.
// GET /api/v1/workflows/instances
func (h *Handler) ListInstances(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	instances, err := h.repo.ListInstances(c.Request.Context(), repository.ListInstancesParams{
		Status:     c.Query("status"),
		EntityType: c.Query("entityType"),
		Limit:      limit,
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list instances", nil)
		return
	}
	response.OK(c, gin.H{"instances": instances})
}

// GetInstance retrieves one workflow instance.
// GET /api/v1/workflows/instances/:id
func (h *Handler) GetInstance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	instance, err := h.repo.GetInstance(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "instance not found", nil)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to load instance", nil)
		return
	}
	response.OK(c, instance)
}

// ListExecutions retrieves an instance's step execution history.
// GET /api/v1/workflows/instances/:id/executions
func (h *Handler) ListExecutions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	executions, err := h.repo.ListExecutions(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list executions", nil)
		return
	}
	response.OK(c, gin.H{"executions": executions})
}

// RetriggerInstance reactivates a failed instance. The only escape from the
// failed terminal state.
// POST /api/v1/workflows/instances/:id/retrigger
func (h *Handler) RetriggerInstance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	if err := h.repo.RetriggerFailed(c.Request.Context(), id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.OK(c, gin.H{"status": "active"})
}
