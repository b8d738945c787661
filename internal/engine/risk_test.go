package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"whitelist-engine/internal/models"
)

func TestRiskLevelThresholdsAreInclusive(t *testing.T) {
	tests := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0.0, models.RiskLow},
		{0.39, models.RiskLow},
		{0.4, models.RiskMedium},
		{0.59, models.RiskMedium},
		{0.6, models.RiskHigh},
		{0.79, models.RiskHigh},
		{0.8, models.RiskCritical},
		{1.0, models.RiskCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, riskLevelFor(tt.score), "score %.2f", tt.score)
	}
}

func TestAssessBenignCaller(t *testing.T) {
	assessor := NewRiskAssessor(zap.NewNop())
	extractor := newTestExtractor()

	features := extractor.Extract("4152839475", nil)
	profile := &models.BehavioralProfile{TotalCalls: 20, RiskScore: 0.1}

	assessment := assessor.Assess(&features, profile, nil)

	assert.Equal(t, models.RiskLow, assessment.RiskLevel)
	assert.Equal(t, models.RecommendAllow, assessment.Recommendation)
	assert.GreaterOrEqual(t, assessment.RiskScore, 0.0)
	assert.LessOrEqual(t, assessment.RiskScore, 1.0)
}

func TestAssessHighRiskCaller(t *testing.T) {
	assessor := NewRiskAssessor(zap.NewNop())
	extractor := newTestExtractor()

	features := extractor.Extract("8000001234", map[string]interface{}{
		"transcript":     "free loan, act now",
		"call_frequency": 9.0,
	})
	profile := &models.BehavioralProfile{TotalCalls: 100, RiskScore: 0.95}

	assessment := assessor.Assess(&features, profile, nil)

	assert.GreaterOrEqual(t, assessment.RiskScore, 0.6)
	assert.Contains(t, []models.RiskLevel{models.RiskHigh, models.RiskCritical}, assessment.RiskLevel)
	assert.Contains(t, []models.Recommendation{models.RecommendBlock, models.RecommendBlockWithOption}, assessment.Recommendation)
}

func TestUncertaintyWidensForThinEvidence(t *testing.T) {
	features := &models.PhoneFeatures{SpamIndicatorCount: 0}

	// No profile and no indicators: maximal uncertainty, capped at 0.4.
	assert.Equal(t, 0.4, uncertaintyFor(features, nil))

	// Established profile with indicators: baseline only.
	features.SpamIndicatorCount = 3
	profile := &models.BehavioralProfile{TotalCalls: 50}
	assert.Equal(t, 0.1, uncertaintyFor(features, profile))

	// Young profile widens the band.
	profile.TotalCalls = 2
	assert.InDelta(t, 0.3, uncertaintyFor(features, profile), 1e-9)
}

func TestConfidenceIntervalClamped(t *testing.T) {
	assessor := NewRiskAssessor(zap.NewNop())

	features := &models.PhoneFeatures{DigitComplexity: 0.5, PatternScore: 0.5}
	assessment := assessor.Assess(features, nil, nil)

	assert.GreaterOrEqual(t, assessment.ConfidenceInterval.Lower, 0.0)
	assert.LessOrEqual(t, assessment.ConfidenceInterval.Upper, 1.0)
	assert.LessOrEqual(t, assessment.ConfidenceInterval.Lower, assessment.ConfidenceInterval.Upper)
}

func TestManualApprovalPolicyRoutesToReview(t *testing.T) {
	prefs := &models.UserPreferences{RequireManualApproval: true}

	assert.Equal(t, models.RecommendManualReview, recommendationFor(models.RiskMedium, prefs))
	assert.Equal(t, models.RecommendManualReview, recommendationFor(models.RiskHigh, prefs))
	assert.Equal(t, models.RecommendManualReview, recommendationFor(models.RiskCritical, prefs))
	assert.Equal(t, models.RecommendAllow, recommendationFor(models.RiskLow, prefs))
}

func TestRecommendationMapping(t *testing.T) {
	assert.Equal(t, models.RecommendAllow, recommendationFor(models.RiskLow, nil))
	assert.Equal(t, models.RecommendAnalyzeFurther, recommendationFor(models.RiskMedium, nil))
	assert.Equal(t, models.RecommendBlockWithOption, recommendationFor(models.RiskHigh, nil))
	assert.Equal(t, models.RecommendBlock, recommendationFor(models.RiskCritical, nil))
}
