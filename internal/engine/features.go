package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"whitelist-engine/internal/models"
)

// Fixed keyword sets for content flags. Matching is case-insensitive over the
// textual context values.
var (
	marketingKeywords = []string{"free", "offer", "discount", "promotion", "deal", "limited time", "subscribe", "sale"}
	urgentKeywords    = []string{"act now", "urgent", "immediate", "expires", "last chance", "suspended", "verify now"}
	financialKeywords = []string{"loan", "credit", "debt", "mortgage", "refinance", "investment", "insurance", "interest rate"}
)

// tollFreePrefixes are the North American toll-free service codes.
var tollFreePrefixes = map[string]bool{
	"800": true, "888": true, "877": true, "866": true,
	"855": true, "844": true, "833": true,
}

// premiumPrefixes are premium-rate service codes, a frequent spam vector.
var premiumPrefixes = map[string]bool{
	"900": true, "976": true,
}

// contentCategories maps trigger keywords to a spam category, checked in
// order. The first category with a hit wins.
var contentCategories = []struct {
	category string
	keywords []string
}{
	{"investment", []string{"investment", "stocks", "crypto", "trading"}},
	{"insurance", []string{"insurance", "warranty", "coverage"}},
	{"loan", []string{"loan", "credit", "debt", "mortgage", "refinance", "interest rate"}},
	{"scam", []string{"suspended", "verify now", "arrest", "irs", "lawsuit"}},
	{"sales", []string{"free", "offer", "discount", "promotion", "deal", "sale"}},
}

// areaCodeRegions is the static area-code lookup table. Unknown codes map to
// "Unknown".
var areaCodeRegions = map[string]struct {
	region  string
	carrier string
	voip    bool
}{
	"212": {"New York", "Verizon", false},
	"213": {"Los Angeles", "AT&T", false},
	"312": {"Chicago", "AT&T", false},
	"415": {"San Francisco", "Verizon", false},
	"206": {"Seattle", "T-Mobile", false},
	"305": {"Miami", "AT&T", false},
	"617": {"Boston", "Verizon", false},
	"702": {"Las Vegas", "T-Mobile", false},
	"512": {"Austin", "AT&T", false},
	"303": {"Denver", "Verizon", false},
	"500": {"Personal Communications", "VoIP", true},
	"533": {"Personal Communications", "VoIP", true},
	"544": {"Personal Communications", "VoIP", true},
	"566": {"Personal Communications", "VoIP", true},
	"577": {"Personal Communications", "VoIP", true},
}

// sequentialRuns is the fixed list of 4-digit ascending/descending runs used
// for sequential-pattern detection.
var sequentialRuns = []string{
	"0123", "1234", "2345", "3456", "4567", "5678", "6789",
	"9876", "8765", "7654", "6543", "5432", "4321", "3210",
}

// Extractor derives a fixed feature vector from a phone number and its call
// context. Extraction is pure and total: malformed input yields the documented
// neutral defaults, never an error.
type Extractor struct {
	logger *zap.Logger
	salt   string

	nonDigitPattern *regexp.Regexp
}

// NewExtractor creates a feature extractor. The salt feeds the privacy-
// preserving phone hash and must stay stable across restarts for cache keys to
// remain valid.
func NewExtractor(salt string, logger *zap.Logger) *Extractor {
	return &Extractor{
		logger:          logger,
		salt:            salt,
		nonDigitPattern: regexp.MustCompile(`[^\d]`),
	}
}

// HashPhone returns the salted SHA-256 hash used to key profiles and caches.
// Raw phone numbers are never persisted or logged.
func (e *Extractor) HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(e.salt + e.cleanPhone(phone)))
	return hex.EncodeToString(sum[:])
}

// Extract computes the feature vector for a phone number and context map.
// Calling it twice with identical input yields identical output.
func (e *Extractor) Extract(phone string, context map[string]interface{}) models.PhoneFeatures {
	digits := e.cleanPhone(phone)

	features := models.PhoneFeatures{
		PhoneHash:       e.HashPhone(phone),
		DigitComplexity: 0.5,
		PatternScore:    0.5,
		Region:          "Unknown",
		Carrier:         "Unknown",
		IsMobile:        true,
	}

	if len(digits) >= 7 {
		features.HasRepeatingDigits = hasRepeatedRun(digits)
		features.HasSequentialDigits = hasSequentialRun(digits)
		features.DigitComplexity = digitComplexity(digits)
		features.PatternScore = transitionScore(digits)
		e.inferGeography(digits, &features)
	}

	e.extractContext(context, &features)

	features.SpamIndicatorCount = countSpamIndicators(&features)

	return features
}

// cleanPhone strips everything but digits. A leading +1/1 country code is
// removed so the area-code table applies uniformly.
func (e *Extractor) cleanPhone(phone string) string {
	digits := e.nonDigitPattern.ReplaceAllString(phone, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// inferGeography fills area code, region, carrier, and line-type fields from
// the static lookup tables.
func (e *Extractor) inferGeography(digits string, features *models.PhoneFeatures) {
	areaCode := digits[:3]
	features.AreaCode = areaCode

	if tollFreePrefixes[areaCode] {
		features.Region = "Toll-Free"
		features.Carrier = "Toll-Free"
		features.IsMobile = false
		return
	}

	if premiumPrefixes[areaCode] {
		features.Region = "Premium"
		features.Carrier = "Premium"
		features.IsMobile = false
		return
	}

	if entry, ok := areaCodeRegions[areaCode]; ok {
		features.Region = entry.region
		features.Carrier = entry.carrier
		features.IsVoip = entry.voip
		if entry.voip {
			features.IsMobile = false
		}
	}
}

// extractContext pulls behavioral aggregates and content flags out of the
// free-form context map. Missing or mistyped values are ignored.
func (e *Extractor) extractContext(context map[string]interface{}, features *models.PhoneFeatures) {
	if context == nil {
		return
	}

	if freq, ok := toFloat(context["call_frequency"]); ok {
		features.CallFrequency = clamp01(freq / 10.0)
	}
	if dur, ok := toFloat(context["avg_call_duration"]); ok {
		features.AvgCallDuration = dur
	}

	if times, ok := context["call_times"].([]time.Time); ok {
		for _, t := range times {
			features.HourHistogram[t.Hour()]++
			features.DayHistogram[int(t.Weekday())]++
		}
	}

	text := collectText(context)
	if text != "" {
		features.HasMarketingKeywords = containsAny(text, marketingKeywords)
		features.HasUrgentLanguage = containsAny(text, urgentKeywords)
		features.HasFinancialTerms = containsAny(text, financialKeywords)
		features.ContentCategory = categorizeContent(text)
	}
}

// categorizeContent picks the dominant spam category for the call content, or
// empty when nothing triggers.
func categorizeContent(text string) string {
	for _, entry := range contentCategories {
		if containsAny(text, entry.keywords) {
			return entry.category
		}
	}
	return ""
}

// digitComplexity blends the unique-digit ratio with the Shannon entropy of
// the digit distribution, both normalized to [0,1].
func digitComplexity(digits string) float64 {
	counts := make([]float64, 10)
	unique := 0
	for _, d := range digits {
		idx := int(d - '0')
		if counts[idx] == 0 {
			unique++
		}
		counts[idx]++
	}

	total := float64(len(digits))
	dist := make([]float64, 10)
	for i, c := range counts {
		dist[i] = c / total
	}

	entropy := stat.Entropy(dist) / math.Log(10)
	uniqueRatio := float64(unique) / 10.0

	return clamp01((uniqueRatio + entropy) / 2.0)
}

// transitionScore measures how varied consecutive digit pairs are. Low scores
// indicate machine-generated blocks of numbers.
func transitionScore(digits string) float64 {
	if len(digits) < 2 {
		return 0.5
	}

	transitions := make(map[string]bool)
	for i := 0; i < len(digits)-1; i++ {
		transitions[digits[i:i+2]] = true
	}

	return clamp01(float64(len(transitions)) / float64(len(digits)-1))
}

// hasRepeatedRun reports whether the string contains three or more of the same
// digit in a row.
func hasRepeatedRun(digits string) bool {
	run := 1
	for i := 1; i < len(digits); i++ {
		if digits[i] == digits[i-1] {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func hasSequentialRun(digits string) bool {
	for _, run := range sequentialRuns {
		if strings.Contains(digits, run) {
			return true
		}
	}
	return false
}

// countSpamIndicators tallies the independent spam signals present in the
// extracted features.
func countSpamIndicators(features *models.PhoneFeatures) int {
	count := 0
	if features.HasRepeatingDigits {
		count++
	}
	if features.HasSequentialDigits {
		count++
	}
	if features.DigitComplexity < 0.3 {
		count++
	}
	if features.PatternScore < 0.3 {
		count++
	}
	if features.Region == "Toll-Free" {
		count++
	}
	if features.Region == "Premium" {
		count += 2
	}
	if features.IsVoip {
		count++
	}
	if features.HasMarketingKeywords {
		count++
	}
	if features.HasUrgentLanguage {
		count++
	}
	if features.HasFinancialTerms {
		count++
	}
	if features.CallFrequency > 0.8 {
		count++
	}
	return count
}

// collectText concatenates the string-valued context entries that may carry
// call content.
func collectText(context map[string]interface{}) string {
	var parts []string
	for _, key := range []string{"context", "transcript", "message", "caller_name"} {
		if v, ok := context[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
