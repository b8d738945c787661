package models

// PhoneFeatures is the fixed feature vector derived from a phone number and its
// call context. It is immutable once extracted; all score fields stay in [0,1].
type PhoneFeatures struct {
	PhoneHash string `json:"phone_hash"`

	// Digit pattern features
	HasRepeatingDigits  bool    `json:"has_repeating_digits"`
	HasSequentialDigits bool    `json:"has_sequential_digits"`
	DigitComplexity     float64 `json:"digit_complexity"`
	PatternScore        float64 `json:"pattern_score"`

	// Geographic and carrier inference
	AreaCode string `json:"area_code"`
	Region   string `json:"region"`
	Carrier  string `json:"carrier"`
	IsVoip   bool   `json:"is_voip"`
	IsMobile bool   `json:"is_mobile"`

	// Behavioral context aggregates
	CallFrequency   float64 `json:"call_frequency"`
	AvgCallDuration float64 `json:"avg_call_duration"`
	HourHistogram   [24]int `json:"hour_histogram"`
	DayHistogram    [7]int  `json:"day_histogram"`

	// Content flags
	HasMarketingKeywords bool   `json:"has_marketing_keywords"`
	HasUrgentLanguage    bool   `json:"has_urgent_language"`
	HasFinancialTerms    bool   `json:"has_financial_terms"`
	ContentCategory      string `json:"content_category,omitempty"`
	SpamIndicatorCount   int    `json:"spam_indicator_count"`
}

// AsFields flattens the feature vector into named fields for rule evaluation.
func (f *PhoneFeatures) AsFields() map[string]interface{} {
	return map[string]interface{}{
		"has_repeating_digits":   f.HasRepeatingDigits,
		"has_sequential_digits":  f.HasSequentialDigits,
		"digit_complexity":       f.DigitComplexity,
		"pattern_score":          f.PatternScore,
		"area_code":              f.AreaCode,
		"region":                 f.Region,
		"carrier":                f.Carrier,
		"is_voip":                f.IsVoip,
		"is_mobile":              f.IsMobile,
		"call_frequency":         f.CallFrequency,
		"avg_call_duration":      f.AvgCallDuration,
		"has_marketing_keywords": f.HasMarketingKeywords,
		"has_urgent_language":    f.HasUrgentLanguage,
		"has_financial_terms":    f.HasFinancialTerms,
		"content_category":       f.ContentCategory,
		"spam_indicator_count":   float64(f.SpamIndicatorCount),
	}
}

// TemporalFeatures holds the precomputed temporal risk view consumed by the
// temporal scorer. All fields are in [0,1].
type TemporalFeatures struct {
	RiskScore    float64 `json:"risk_score"`
	AnomalyScore float64 `json:"anomaly_score"`
	VelocityRisk float64 `json:"velocity_risk"`
}
