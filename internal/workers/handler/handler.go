// Package handler exposes the worker registry's operational API.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"followup_backend/internal/http/response"
	"followup_backend/internal/workers/repository"
)

// Registry is the slice of the worker registry the handler needs.
type Registry interface {
	Names() map[string]bool
	Enable(name string) error
	Disable(name string) error
	Run(ctx context.Context, name string)
}

// Handler handles HTTP requests for workers.
type Handler struct {
	registry Registry
	runs     *repository.Repository
}

// New creates a new workers handler.
func New(registry Registry, runs *repository.Repository) *Handler {
	return &Handler{registry: registry, runs: runs}
}

// RegisterRoutes mounts read routes on the protected group and mutating
// routes on the admin group.
func (h *Handler) RegisterRoutes(protected, admin *gin.RouterGroup) {
	protected.GET("/workers", h.ListWorkers)
	protected.GET("/workers/runs", h.ListRuns)
	admin.POST("/workers/:name/enable", h.EnableWorker)
	admin.POST("/workers/:name/disable", h.DisableWorker)
	admin.POST("/workers/:name/run", h.TriggerWorker)
}

// ListWorkers retrieves the registered workers and their enabled state.
// GET /api/v1/workers
func (h *Handler) ListWorkers(c *gin.Context) {
	response.OK(c, gin.H{"workers": h.registry.Names()})
}

// ListRuns retrieves recent worker runs, optionally filtered by worker name.
// GET /api/v1/workers/runs
func (h *Handler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	runs, err := h.runs.ListRuns(c.Request.Context(), c.Query("worker"), limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list runs", nil)
		return
	}
	response.OK(c, gin.H{"runs": runs})
}

// EnableWorker turns a worker's schedule back on.
// POST /api/v1/admin/workers/:name/enable
func (h *Handler) EnableWorker(c *gin.Context) {
	if err := h.registry.Enable(c.Param("name")); err != nil {
		response.Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	response.OK(c, gin.H{"enabled": true})
}

// DisableWorker stops a worker from running until re-enabled.
// POST /api/v1/admin/workers/:name/disable
func (h *Handler) DisableWorker(c *gin.Context) {
	if err := h.registry.Disable(c.Param("name")); err != nil {
		response.Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	response.OK(c, gin.H{"enabled": false})
}

// TriggerWorker runs a worker immediately, outside its schedule. The run
// still goes through the overlap guard and timeout.
// POST /api/v1/admin/workers/:name/run
func (h *Handler) TriggerWorker(c *gin.Context) {
	name := c.Param("name")
	go h.registry.Run(context.WithoutCancel(c.Request.Context()), name)
	response.JSON(c, http.StatusAccepted, gin.H{"triggered": name})
}
