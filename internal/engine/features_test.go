package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestExtractor() *Extractor {
	return NewExtractor("test-salt", zap.NewNop())
}

func TestExtractIsDeterministic(t *testing.T) {
	extractor := newTestExtractor()
	context := map[string]interface{}{
		"call_frequency": 3.0,
		"transcript":     "hello, this is a free offer",
	}

	first := extractor.Extract("+14155551234", context)
	second := extractor.Extract("+14155551234", context)

	assert.Equal(t, first, second)
}

func TestHashPhoneNormalizesFormatting(t *testing.T) {
	extractor := newTestExtractor()

	assert.Equal(t, extractor.HashPhone("+1 (415) 555-1234"), extractor.HashPhone("14155551234"))
	assert.Equal(t, extractor.HashPhone("4155551234"), extractor.HashPhone("+14155551234"))
	assert.NotEqual(t, extractor.HashPhone("4155551234"), extractor.HashPhone("4155551235"))
}

func TestHashPhoneDependsOnSalt(t *testing.T) {
	a := NewExtractor("salt-a", zap.NewNop())
	b := NewExtractor("salt-b", zap.NewNop())

	assert.NotEqual(t, a.HashPhone("4155551234"), b.HashPhone("4155551234"))
}

func TestExtractTollFreeNumber(t *testing.T) {
	extractor := newTestExtractor()

	features := extractor.Extract("+18005551234", nil)

	assert.Equal(t, "800", features.AreaCode)
	assert.Equal(t, "Toll-Free", features.Region)
	assert.Equal(t, "Toll-Free", features.Carrier)
	assert.False(t, features.IsMobile)
}

func TestExtractKnownAreaCode(t *testing.T) {
	extractor := newTestExtractor()

	features := extractor.Extract("4155551234", nil)

	assert.Equal(t, "415", features.AreaCode)
	assert.Equal(t, "San Francisco", features.Region)
	assert.False(t, features.IsVoip)
	assert.True(t, features.IsMobile)
}

func TestExtractVoipAreaCode(t *testing.T) {
	extractor := newTestExtractor()

	features := extractor.Extract("5005551234", nil)

	assert.True(t, features.IsVoip)
	assert.False(t, features.IsMobile)
}

func TestExtractPremiumRateNumber(t *testing.T) {
	extractor := newTestExtractor()

	features := extractor.Extract("9005551234", nil)

	assert.Equal(t, "900", features.AreaCode)
	assert.Equal(t, "Premium", features.Region)
	assert.False(t, features.IsMobile)
	assert.GreaterOrEqual(t, features.SpamIndicatorCount, 2)
}

func TestExtractShortInputYieldsDefaults(t *testing.T) {
	extractor := newTestExtractor()

	features := extractor.Extract("911", nil)

	assert.Equal(t, 0.5, features.DigitComplexity)
	assert.Equal(t, 0.5, features.PatternScore)
	assert.Equal(t, "Unknown", features.Region)
	assert.Empty(t, features.AreaCode)
	assert.False(t, features.HasRepeatingDigits)
}

func TestExtractDetectsRepeatingDigits(t *testing.T) {
	extractor := newTestExtractor()

	assert.True(t, extractor.Extract("4155550000", nil).HasRepeatingDigits)
	assert.False(t, extractor.Extract("4152839475", nil).HasRepeatingDigits)
}

func TestHasRepeatedRun(t *testing.T) {
	assert.True(t, hasRepeatedRun("4155500234"))
	assert.True(t, hasRepeatedRun("000"))
	assert.False(t, hasRepeatedRun("4411223344"))
	assert.False(t, hasRepeatedRun("12"))
	assert.False(t, hasRepeatedRun(""))
}

func TestExtractDetectsSequentialDigits(t *testing.T) {
	extractor := newTestExtractor()

	assert.True(t, extractor.Extract("4151234675", nil).HasSequentialDigits)
	assert.True(t, extractor.Extract("4159876205", nil).HasSequentialDigits)
	assert.False(t, extractor.Extract("4152839475", nil).HasSequentialDigits)
}

func TestDigitComplexityBounds(t *testing.T) {
	for _, digits := range []string{"0000000000", "0123456789", "4155551234", "1111111112"} {
		complexity := digitComplexity(digits)
		assert.GreaterOrEqual(t, complexity, 0.0, digits)
		assert.LessOrEqual(t, complexity, 1.0, digits)
	}

	// A single repeated digit is strictly less complex than all-distinct digits.
	assert.Less(t, digitComplexity("0000000000"), digitComplexity("0123456789"))
}

func TestExtractContentFlags(t *testing.T) {
	extractor := newTestExtractor()
	context := map[string]interface{}{
		"transcript": "Act now for a FREE loan offer, limited time only",
	}

	features := extractor.Extract("8005551234", context)

	assert.True(t, features.HasMarketingKeywords)
	assert.True(t, features.HasUrgentLanguage)
	assert.True(t, features.HasFinancialTerms)
	assert.GreaterOrEqual(t, features.SpamIndicatorCount, 4)
}

func TestCategorizeContent(t *testing.T) {
	cases := []struct {
		text     string
		category string
	}{
		{"great crypto trading opportunity", "investment"},
		{"your car warranty is about to expire", "insurance"},
		{"refinance your mortgage today", "loan"},
		{"your account has been suspended", "scam"},
		{"limited time discount on our deal", "sales"},
		{"hi, calling about dinner tonight", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.category, categorizeContent(tc.text), tc.text)
	}
}

func TestExtractSetsContentCategory(t *testing.T) {
	extractor := newTestExtractor()

	features := extractor.Extract("8005551234", map[string]interface{}{
		"transcript": "low interest rate loan, act now",
	})

	assert.Equal(t, "loan", features.ContentCategory)
}

func TestExtractBehavioralContext(t *testing.T) {
	extractor := newTestExtractor()
	context := map[string]interface{}{
		"call_frequency":    25.0,
		"avg_call_duration": 8.5,
	}

	features := extractor.Extract("4155551234", context)

	// Frequency is normalized and clamped to [0,1].
	assert.Equal(t, 1.0, features.CallFrequency)
	assert.Equal(t, 8.5, features.AvgCallDuration)
}

func TestAsFieldsExposesRuleFields(t *testing.T) {
	extractor := newTestExtractor()

	features := extractor.Extract("8005551234", map[string]interface{}{
		"transcript": "free offer",
	})
	fields := features.AsFields()

	require.Contains(t, fields, "region")
	require.Contains(t, fields, "spam_indicator_count")
	require.Contains(t, fields, "has_marketing_keywords")
	assert.Equal(t, "Toll-Free", fields["region"])
	assert.Equal(t, true, fields["has_marketing_keywords"])
	assert.IsType(t, float64(0), fields["spam_indicator_count"])
}
