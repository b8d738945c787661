package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"whitelist-engine/internal/engine"
	"whitelist-engine/internal/models"
)

// RulesHandler handles HTTP requests for rule administration.
type RulesHandler struct {
	store  engine.RuleStore
	logger *zap.Logger
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(store engine.RuleStore, logger *zap.Logger) *RulesHandler {
	return &RulesHandler{
		store:  store,
		logger: logger,
	}
}

// CreateGlobalRule adds a global rule
// POST /api/v1/rules/global
func (h *RulesHandler) CreateGlobalRule(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.store.AddGlobalRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

// CreateUserRule adds a rule to one user's set
// POST /api/v1/rules/users/:userId
func (h *RulesHandler) CreateUserRule(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.store.AddUserRule(userID, &rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

// ListUserRules returns one user's rules
// GET /api/v1/rules/users/:userId
func (h *RulesHandler) ListUserRules(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	rules := h.store.UserRules(userID)
	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"meta":  gin.H{"count": len(rules)},
	})
}

// DeleteUserRule removes a rule from one user's set
// DELETE /api/v1/rules/users/:userId/:ruleId
func (h *RulesHandler) DeleteUserRule(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	if err := h.store.RemoveUserRule(userID, c.Param("ruleId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// SetPreferences stores a user's evaluation preferences
// PUT /api/v1/preferences/:userId
func (h *RulesHandler) SetPreferences(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var prefs models.UserPreferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	prefs.UserID = userID

	if err := h.store.SetPreferences(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

// Export dumps all rule sets as a JSON envelope
// GET /api/v1/rules/export
func (h *RulesHandler) Export(c *gin.Context) {
	export, err := h.store.Export()
	if err != nil {
		h.logger.Error("failed to export rules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export rules"})
		return
	}

	c.JSON(http.StatusOK, export)
}

// Import replaces all rule sets from a JSON envelope
// POST /api/v1/rules/import
func (h *RulesHandler) Import(c *gin.Context) {
	var export models.RuleSetExport
	if err := c.ShouldBindJSON(&export); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.store.Import(&export); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imported": gin.H{
			"global_rules": len(export.Global),
			"user_sets":    len(export.Users),
		},
	})
}
