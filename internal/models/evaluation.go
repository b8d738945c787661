package models

import (
	"time"

	"github.com/google/uuid"
)

// Recommendation is the closed set of actions the engine can recommend for an
// inbound call.
type Recommendation string

const (
	RecommendAllow           Recommendation = "allow"
	RecommendBlock           Recommendation = "block"
	RecommendBlockWithOption Recommendation = "block_with_option"
	RecommendAnalyzeFurther  Recommendation = "analyze_further"
	RecommendManualReview    Recommendation = "manual_review"
)

// RiskLevel buckets a risk score. Thresholds are inclusive: critical >= 0.8,
// high >= 0.6, medium >= 0.4, low otherwise.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// EvaluationRequest asks the engine to decide admission for an inbound call.
type EvaluationRequest struct {
	Phone   string                 `json:"phone" binding:"required"`
	UserID  uuid.UUID              `json:"user_id"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ConfidenceInterval is a symmetric band around the risk score, clamped to
// [0,1].
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// EvaluationResult is the engine's verdict for one request. Every public entry
// point returns a well-formed result, even under total degradation.
type EvaluationResult struct {
	Phone              string             `json:"phone"`
	IsWhitelisted      bool               `json:"is_whitelisted"`
	IsSpam             bool               `json:"is_spam"`
	Classification     string             `json:"classification"`
	ConfidenceScore    float64            `json:"confidence_score"`
	RiskScore          float64            `json:"risk_score"`
	RiskLevel          RiskLevel          `json:"risk_level"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
	Recommendation     Recommendation     `json:"recommendation"`
	Reasons            []string           `json:"reasons"`
	ProcessingTime     time.Duration      `json:"processing_time"`
	CacheHit           bool               `json:"cache_hit"`
}

// EnsembleModelResult is one scorer's independent judgment.
type EnsembleModelResult struct {
	IsSpam     bool    `json:"is_spam"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// FusedResult merges the scorers that ran into one calibrated opinion.
type FusedResult struct {
	IsSpam            bool               `json:"is_spam"`
	SpamType          string             `json:"spam_type,omitempty"`
	Confidence        float64            `json:"confidence"`
	Classification    string             `json:"classification"`
	Reasons           []string           `json:"reasons"`
	ModelWeights      map[string]float64 `json:"model_weights"`
	FusionScore       float64            `json:"fusion_score"`
	CalibrationFactor float64            `json:"calibration_factor"`
	Uncertainty       float64            `json:"uncertainty"`
}

// BehavioralProfile holds per-phone aggregate call statistics, keyed by a
// salted hash of the phone number. Updated incrementally as running means.
type BehavioralProfile struct {
	PhoneHash             string    `json:"phone_hash"`
	TotalCalls            int64     `json:"total_calls"`
	AvgCallDuration       float64   `json:"avg_call_duration"`
	RejectionRate         float64   `json:"rejection_rate"`
	ConnectionFailureRate float64   `json:"connection_failure_rate"`
	CallVelocity          float64   `json:"call_velocity"`
	RiskScore             float64   `json:"risk_score"`
	LastUpdated           time.Time `json:"last_updated"`
}

// LearningEventType classifies a feedback event.
type LearningEventType string

const (
	EventAccept    LearningEventType = "accept"
	EventReject    LearningEventType = "reject"
	EventTimeout   LearningEventType = "timeout"
	EventManualAdd LearningEventType = "manual_add"
)

// LearningEvent is a unit of feedback about a prior decision. It is consumed
// exactly once by the batch processor and then discarded.
type LearningEvent struct {
	ID         uuid.UUID              `json:"id"`
	UserID     uuid.UUID              `json:"user_id"`
	Phone      string                 `json:"phone"`
	EventType  LearningEventType      `json:"event_type"`
	Feedback   string                 `json:"feedback,omitempty"`
	Confidence float64                `json:"confidence"`
	Features   *PhoneFeatures         `json:"features,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// LearningAcceptance acknowledges an enqueued feedback event.
type LearningAcceptance struct {
	Accepted   bool   `json:"accepted"`
	QueueDepth int    `json:"queue_depth"`
	Reason     string `json:"reason,omitempty"`
}
