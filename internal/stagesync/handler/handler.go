// Package handler exposes the stage-sync inspection API.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"followup_backend/internal/http/response"
	"followup_backend/internal/stagesync/repository"
)

const msgInvalidID = "invalid relationship id"

// Handler handles HTTP requests for stage sync.
type Handler struct {
	repo *repository.Repository
}

// New creates a new stage-sync handler.
func New(repo *repository.Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes mounts the stage-sync routes.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/relationships", h.ListRelationships)
	g.GET("/relationships/:id", h.GetRelationship)
	g.GET("/relationships/:id/history", h.ListHistory)
}

// ListRelationships retrieves job relationships, newest first.
// GET /api/v1/stagesync/relationships
func (h *Handler) ListRelationships(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	rels, err := h.repo.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list relationships", nil)
		return
	}
	response.OK(c, gin.H{"relationships": rels})
}

// GetRelationship retrieves one relationship.
// GET /api/v1/stagesync/relationships/:id
func (h *Handler) GetRelationship(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	rel, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "relationship not found", nil)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to load relationship", nil)
		return
	}
	response.OK(c, rel)
}

// ListHistory retrieves a relationship's stage transitions, oldest first.
// GET /api/v1/stagesync/relationships/:id/history
func (h *Handler) ListHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	history, err := h.repo.ListHistory(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list history", nil)
		return
	}
	response.OK(c, gin.H{"history": history})
}
