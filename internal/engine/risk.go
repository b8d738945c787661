package engine

import (
	"go.uber.org/zap"

	"whitelist-engine/internal/models"
)

// Risk fusion weights over the three component risks.
const (
	riskPatternWeight    = 0.4
	riskTemporalWeight   = 0.3
	riskBehavioralWeight = 0.3
)

// RiskAssessment is the combined risk verdict with its confidence band.
type RiskAssessment struct {
	RiskScore          float64
	RiskLevel          models.RiskLevel
	Uncertainty        float64
	ConfidenceInterval models.ConfidenceInterval
	Recommendation     models.Recommendation
}

// RiskAssessor fuses pattern, temporal, and behavioral risk into one score
// and maps it onto a level, interval, and recommended action.
type RiskAssessor struct {
	logger *zap.Logger
}

// NewRiskAssessor creates a risk assessor.
func NewRiskAssessor(logger *zap.Logger) *RiskAssessor {
	return &RiskAssessor{logger: logger}
}

// Assess computes the fused risk for one evaluation. Preferences may be nil;
// with RequireManualApproval set, any non-low risk is routed to manual
// review.
func (r *RiskAssessor) Assess(features *models.PhoneFeatures, profile *models.BehavioralProfile, prefs *models.UserPreferences) RiskAssessment {
	temporal := computeTemporalFeatures(features)

	patternRisk := patternRiskScore(features)
	temporalRisk := clamp01(0.6*temporal.RiskScore + 0.2*temporal.AnomalyScore + 0.2*temporal.VelocityRisk)
	behavioralRisk := behavioralRiskScore(profile)

	score := clamp01(riskPatternWeight*patternRisk +
		riskTemporalWeight*temporalRisk +
		riskBehavioralWeight*behavioralRisk)

	level := riskLevelFor(score)
	uncertainty := uncertaintyFor(features, profile)

	assessment := RiskAssessment{
		RiskScore:   score,
		RiskLevel:   level,
		Uncertainty: uncertainty,
		ConfidenceInterval: models.ConfidenceInterval{
			Lower: clamp01(score - uncertainty),
			Upper: clamp01(score + uncertainty),
		},
		Recommendation: recommendationFor(level, prefs),
	}

	r.logger.Debug("risk assessed",
		zap.Float64("risk_score", score),
		zap.String("risk_level", string(level)),
		zap.Float64("uncertainty", uncertainty))

	return assessment
}

// riskLevelFor is the single mapping from score to level. Thresholds are
// inclusive at each boundary.
func riskLevelFor(score float64) models.RiskLevel {
	switch {
	case score >= 0.8:
		return models.RiskCritical
	case score >= 0.6:
		return models.RiskHigh
	case score >= 0.4:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// patternRiskScore derives structural risk from the extracted features.
func patternRiskScore(features *models.PhoneFeatures) float64 {
	risk := float64(features.SpamIndicatorCount) / 8.0
	if features.DigitComplexity < 0.3 {
		risk += 0.1
	}
	return clamp01(risk)
}

// behavioralRiskScore reads the accumulated profile risk. An unknown caller
// carries a moderate prior rather than zero.
func behavioralRiskScore(profile *models.BehavioralProfile) float64 {
	if profile == nil {
		return 0.3
	}
	return clamp01(profile.RiskScore)
}

// uncertaintyFor widens the confidence band when the evidence is thin. The
// band never exceeds 0.4.
func uncertaintyFor(features *models.PhoneFeatures, profile *models.BehavioralProfile) float64 {
	uncertainty := 0.1
	if profile == nil || profile.TotalCalls < 5 {
		uncertainty += 0.2
	}
	if features.SpamIndicatorCount == 0 {
		uncertainty += 0.1
	}
	if uncertainty > 0.4 {
		uncertainty = 0.4
	}
	return uncertainty
}

// recommendationFor maps a risk level to the recommended action, honoring the
// user's manual-approval policy.
func recommendationFor(level models.RiskLevel, prefs *models.UserPreferences) models.Recommendation {
	if prefs != nil && prefs.RequireManualApproval && level != models.RiskLow {
		return models.RecommendManualReview
	}

	switch level {
	case models.RiskCritical:
		return models.RecommendBlock
	case models.RiskHigh:
		return models.RecommendBlockWithOption
	case models.RiskMedium:
		return models.RecommendAnalyzeFurther
	default:
		return models.RecommendAllow
	}
}
