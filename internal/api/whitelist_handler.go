package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"whitelist-engine/internal/cache"
	"whitelist-engine/internal/engine"
	"whitelist-engine/internal/models"
	"whitelist-engine/internal/repository"
)

// WhitelistHandler handles HTTP requests for whitelist management.
type WhitelistHandler struct {
	repo   *repository.WhitelistRepository
	cache  *cache.DecisionCache
	engine *engine.Engine
	logger *zap.Logger
}

// NewWhitelistHandler creates a new whitelist handler.
func NewWhitelistHandler(repo *repository.WhitelistRepository, decisionCache *cache.DecisionCache, eng *engine.Engine, logger *zap.Logger) *WhitelistHandler {
	return &WhitelistHandler{
		repo:   repo,
		cache:  decisionCache,
		engine: eng,
		logger: logger,
	}
}

// Create adds a whitelist entry
// POST /api/v1/whitelist
func (h *WhitelistHandler) Create(c *gin.Context) {
	var req models.CreateWhitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid whitelist create request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	entry, err := h.repo.Create(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Whitelist entry already exists"})
			return
		}
		h.logger.Error("failed to create whitelist entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create whitelist entry"})
		return
	}

	h.cache.InvalidateWhitelist(c.Request.Context(), req.UserID, req.ContactPhone)

	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// SmartAdd whitelists a contact through the evaluation pipeline
// POST /api/v1/whitelist/:userId/smart-add
func (h *WhitelistHandler) SmartAdd(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var req models.SmartAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid smart add request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confidence must be between 0 and 1"})
		return
	}

	req.UserID = userID

	start := time.Now()
	entry, err := h.engine.SmartAdd(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Whitelist entry already exists"})
			return
		}
		h.logger.Error("smart add failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add to whitelist"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"entry": entry,
		"meta": gin.H{
			"operation":          "smart_add",
			"processing_time_ms": time.Since(start).Milliseconds(),
		},
	})
}

// List returns a user's whitelist entries
// GET /api/v1/whitelist/:userId
func (h *WhitelistHandler) List(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	start := time.Now()
	entries, err := h.repo.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list whitelist entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve whitelist entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"meta": gin.H{
			"count":              len(entries),
			"limit":              limit,
			"offset":             offset,
			"processing_time_ms": time.Since(start).Milliseconds(),
		},
	})
}

// Delete removes a whitelist entry
// DELETE /api/v1/whitelist/:userId/:entryId
func (h *WhitelistHandler) Delete(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	entryID, err := uuid.Parse(c.Param("entryId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid entry ID"})
		return
	}

	if err := h.repo.Delete(c.Request.Context(), userID, entryID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Whitelist entry not found"})
			return
		}
		h.logger.Error("failed to delete whitelist entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete whitelist entry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
