package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whitelist-engine/internal/engine"
	"whitelist-engine/internal/models"
)

const maxBatchSize = 100

// EvaluateHandler handles HTTP requests for call evaluation and feedback.
type EvaluateHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewEvaluateHandler creates a new evaluation handler.
func NewEvaluateHandler(eng *engine.Engine, logger *zap.Logger) *EvaluateHandler {
	return &EvaluateHandler{
		engine: eng,
		logger: logger,
	}
}

// Evaluate decides admission for one inbound call
// POST /api/v1/evaluate
func (h *EvaluateHandler) Evaluate(c *gin.Context) {
	var req models.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid evaluation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result := h.engine.Evaluate(c.Request.Context(), &req)

	c.JSON(http.StatusOK, gin.H{
		"result": result,
		"meta": gin.H{
			"processing_time_ms": result.ProcessingTime.Milliseconds(),
			"cache_hit":          result.CacheHit,
		},
	})
}

// EvaluateBatch decides admission for up to 100 calls in one request
// POST /api/v1/evaluate/batch
func (h *EvaluateHandler) EvaluateBatch(c *gin.Context) {
	var body struct {
		Requests []*models.EvaluationRequest `json:"requests" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Warn("invalid batch request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(body.Requests) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one request is required"})
		return
	}
	if len(body.Requests) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Batch size exceeds limit of 100"})
		return
	}

	start := time.Now()
	results := h.engine.BatchEvaluate(c.Request.Context(), body.Requests)

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"meta": gin.H{
			"count":              len(results),
			"processing_time_ms": time.Since(start).Milliseconds(),
		},
	})
}

// Feedback records the outcome of a prior decision for learning
// POST /api/v1/feedback
func (h *EvaluateHandler) Feedback(c *gin.Context) {
	var event models.LearningEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.logger.Warn("invalid feedback request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if event.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone is required"})
		return
	}

	switch event.EventType {
	case models.EventAccept, models.EventReject, models.EventTimeout, models.EventManualAdd:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown event type"})
		return
	}

	if event.Confidence < 0 || event.Confidence > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Confidence must be between 0 and 1"})
		return
	}

	acceptance := h.engine.RecordFeedback(c.Request.Context(), &event)

	status := http.StatusAccepted
	if !acceptance.Accepted {
		status = http.StatusTooManyRequests
	}

	c.JSON(status, gin.H{"acceptance": acceptance})
}
