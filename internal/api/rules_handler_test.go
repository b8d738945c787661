package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whitelist-engine/internal/engine"
	"whitelist-engine/internal/models"
)

func setupRulesRouter() (*gin.Engine, engine.RuleStore) {
	gin.SetMode(gin.TestMode)

	store := engine.NewMemoryRuleStore(zap.NewNop())
	handler := NewRulesHandler(store, zap.NewNop())

	router := gin.New()
	router.POST("/rules/global", handler.CreateGlobalRule)
	router.GET("/rules/export", handler.Export)
	router.POST("/rules/import", handler.Import)
	router.GET("/rules/users/:userId", handler.ListUserRules)
	router.POST("/rules/users/:userId", handler.CreateUserRule)
	router.DELETE("/rules/users/:userId/:ruleId", handler.DeleteUserRule)
	router.PUT("/preferences/:userId", handler.SetPreferences)

	return router, store
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateUserRule(t *testing.T) {
	router, store := setupRulesRouter()
	userID := uuid.New()

	rule := models.Rule{
		ID:       "test_rule",
		Name:     "Test Rule",
		Enabled:  true,
		Priority: 100,
		Conditions: []models.RuleCondition{
			{Field: "phone", Operator: models.OpStartsWith, Value: "900"},
		},
		Action: models.RuleAction{Type: models.ActionBlock, Confidence: 0.9},
	}

	w := postJSON(t, router, "/rules/users/"+userID.String(), rule)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, store.UserRules(userID), 1)
	assert.Equal(t, "test_rule", store.UserRules(userID)[0].ID)
}

func TestCreateUserRuleRejectsInvalid(t *testing.T) {
	router, store := setupRulesRouter()
	userID := uuid.New()

	rule := models.Rule{
		Name:   "Bad Rule",
		Action: models.RuleAction{Type: "explode"},
	}

	w := postJSON(t, router, "/rules/users/"+userID.String(), rule)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.UserRules(userID))
}

func TestCreateUserRuleInvalidUserID(t *testing.T) {
	router, _ := setupRulesRouter()

	w := postJSON(t, router, "/rules/users/not-a-uuid", models.Rule{Name: "X"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteUserRule(t *testing.T) {
	router, store := setupRulesRouter()
	userID := uuid.New()

	require.NoError(t, store.AddUserRule(userID, &models.Rule{
		ID:      "to_delete",
		Name:    "To Delete",
		Enabled: true,
		Conditions: []models.RuleCondition{
			{Field: "phone", Operator: models.OpEquals, Value: "123"},
		},
		Action: models.RuleAction{Type: models.ActionAllow, Confidence: 0.5},
	}))

	req := httptest.NewRequest(http.MethodDelete, "/rules/users/"+userID.String()+"/to_delete", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.UserRules(userID))

	// Deleting again is a 404.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetPreferences(t *testing.T) {
	router, store := setupRulesRouter()
	userID := uuid.New()

	prefs := models.UserPreferences{
		BlockedPrefixes:       []string{"900"},
		RequireManualApproval: true,
	}

	data, err := json.Marshal(prefs)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/preferences/"+userID.String(), bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	stored := store.Preferences(userID)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"900"}, stored.BlockedPrefixes)
	assert.True(t, stored.RequireManualApproval)
}

func TestExportImportEndpoints(t *testing.T) {
	router, store := setupRulesRouter()
	userID := uuid.New()

	require.NoError(t, store.AddUserRule(userID, &models.Rule{
		ID:       "exported",
		Name:     "Exported",
		Enabled:  true,
		Priority: 10,
		Conditions: []models.RuleCondition{
			{Field: "phone", Operator: models.OpStartsWith, Value: "555"},
		},
		Action: models.RuleAction{Type: models.ActionFlag, Confidence: 0.6},
	}))

	req := httptest.NewRequest(http.MethodGet, "/rules/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	freshRouter, freshStore := setupRulesRouter()
	importReq := httptest.NewRequest(http.MethodPost, "/rules/import", bytes.NewReader(w.Body.Bytes()))
	importReq.Header.Set("Content-Type", "application/json")
	importW := httptest.NewRecorder()
	freshRouter.ServeHTTP(importW, importReq)

	assert.Equal(t, http.StatusOK, importW.Code)
	require.Len(t, freshStore.UserRules(userID), 1)
	assert.Equal(t, "exported", freshStore.UserRules(userID)[0].ID)
}
