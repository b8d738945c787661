package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"whitelist-engine/internal/models"
)

// Scorer names used for weights, reasons, and metrics labels.
const (
	ScorerPattern    = "pattern"
	ScorerBehavioral = "behavioral"
	ScorerTemporal   = "temporal"
	ScorerContextual = "contextual"
)

// suspiciousThreshold is the lower edge of the uncertain band. Fusion scores
// above it but at or below the spam threshold classify as "suspicious".
const suspiciousThreshold = 0.4

// scorerInput is the read-only view each scorer receives.
type scorerInput struct {
	features *models.PhoneFeatures
	temporal models.TemporalFeatures
	profile  *models.BehavioralProfile
}

type scorerFunc func(in scorerInput) models.EnsembleModelResult

// Ensemble runs the four heuristic scorers concurrently and fuses their
// verdicts into one weighted opinion. A scorer that panics or overruns its
// timeout is excluded and its weight is redistributed over the rest.
type Ensemble struct {
	logger        *zap.Logger
	scorerTimeout time.Duration
	spamThreshold float64
	weights       map[string]float64
	scorers       map[string]scorerFunc
}

// NewEnsemble creates the scorer ensemble with the configured fusion weights.
func NewEnsemble(scorerTimeout time.Duration, spamThreshold float64, weights map[string]float64, logger *zap.Logger) *Ensemble {
	e := &Ensemble{
		logger:        logger,
		scorerTimeout: scorerTimeout,
		spamThreshold: spamThreshold,
		weights:       weights,
	}
	e.scorers = map[string]scorerFunc{
		ScorerPattern:    scorePattern,
		ScorerBehavioral: scoreBehavioral,
		ScorerTemporal:   scoreTemporal,
		ScorerContextual: scoreContextual,
	}
	return e
}

// Classify runs every scorer and fuses the survivors. With all scorers failed
// the fused result is a neutral non-spam verdict at zero confidence.
func (e *Ensemble) Classify(ctx context.Context, features *models.PhoneFeatures, profile *models.BehavioralProfile) *models.FusedResult {
	in := scorerInput{
		features: features,
		temporal: computeTemporalFeatures(features),
		profile:  profile,
	}

	results := e.runScorers(ctx, in)
	return e.fuse(results, features)
}

// runScorers executes all scorers concurrently, each guarded by the scorer
// timeout and a panic recovery.
func (e *Ensemble) runScorers(ctx context.Context, in scorerInput) map[string]models.EnsembleModelResult {
	type outcome struct {
		name   string
		result models.EnsembleModelResult
		ok     bool
	}

	outcomes := make(chan outcome, len(e.scorers))
	var wg sync.WaitGroup

	for name, scorer := range e.scorers {
		wg.Add(1)
		go func(name string, scorer scorerFunc) {
			defer wg.Done()

			done := make(chan models.EnsembleModelResult, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						e.logger.Error("scorer panicked",
							zap.String("scorer", name),
							zap.Any("panic", r))
						close(done)
					}
				}()
				done <- scorer(in)
			}()

			timer := time.NewTimer(e.scorerTimeout)
			defer timer.Stop()

			select {
			case result, ok := <-done:
				outcomes <- outcome{name, result, ok}
			case <-timer.C:
				e.logger.Warn("scorer timed out", zap.String("scorer", name))
				outcomes <- outcome{name: name}
			case <-ctx.Done():
				outcomes <- outcome{name: name}
			}
		}(name, scorer)
	}

	wg.Wait()
	close(outcomes)

	results := make(map[string]models.EnsembleModelResult, len(e.scorers))
	for o := range outcomes {
		if o.ok {
			results[o.name] = o.result
		}
	}
	return results
}

// fuse combines the scorer verdicts with weights renormalized over the
// scorers that actually produced a result.
func (e *Ensemble) fuse(results map[string]models.EnsembleModelResult, features *models.PhoneFeatures) *models.FusedResult {
	fused := &models.FusedResult{
		Classification: "legitimate",
		ModelWeights:   make(map[string]float64, len(results)),
	}

	if len(results) == 0 {
		fused.Reasons = []string{"all scorers unavailable"}
		fused.Uncertainty = 1.0
		return fused
	}

	var scores, weights []float64
	for name, result := range results {
		weight := e.weights[name]
		if weight <= 0 {
			continue
		}

		score := result.Confidence
		if !result.IsSpam {
			score = 1.0 - result.Confidence
		}

		scores = append(scores, score)
		weights = append(weights, weight)
		fused.ModelWeights[name] = weight
		if result.Reasoning != "" {
			fused.Reasons = append(fused.Reasons, result.Reasoning)
		}
	}

	if len(scores) == 0 {
		fused.Reasons = append(fused.Reasons, "no weighted scorers ran")
		fused.Uncertainty = 1.0
		return fused
	}

	fused.FusionScore = stat.Mean(scores, weights)
	fused.IsSpam = fused.FusionScore > e.spamThreshold
	fused.Confidence = math.Abs(fused.FusionScore-0.5) * 2.0
	fused.CalibrationFactor = float64(len(results)) / float64(len(e.scorers))
	fused.Uncertainty = 1.0 - fused.CalibrationFactor

	if fused.IsSpam {
		fused.SpamType = determineSpamType(features)
		fused.Classification = "spam_" + fused.SpamType
	} else if fused.FusionScore > suspiciousThreshold {
		fused.Classification = "suspicious"
	}

	return fused
}

// determineSpamType picks a spam category, preferring the keyword-derived
// content category over the coarse flags.
func determineSpamType(features *models.PhoneFeatures) string {
	if features.ContentCategory != "" {
		return features.ContentCategory
	}
	switch {
	case features.HasFinancialTerms:
		return "loan"
	case features.HasUrgentLanguage:
		return "scam"
	case features.HasMarketingKeywords:
		return "sales"
	default:
		return "unknown"
	}
}

// scorePattern judges the number's digit structure. It starts neutral and
// accumulates penalties for machine-generated shapes.
func scorePattern(in scorerInput) models.EnsembleModelResult {
	f := in.features
	score := 0.5
	reasoning := ""

	if f.HasRepeatingDigits {
		score += 0.2
		reasoning = "repeating digit runs"
	}
	if f.HasSequentialDigits {
		score += 0.15
		reasoning = appendReason(reasoning, "sequential digit runs")
	}
	if f.DigitComplexity < 0.3 {
		score += 0.15
		reasoning = appendReason(reasoning, "low digit complexity")
	}
	if f.PatternScore < 0.3 {
		score += 0.1
		reasoning = appendReason(reasoning, "uniform digit transitions")
	}
	if f.Region == "Toll-Free" && f.SpamIndicatorCount > 2 {
		score += 0.2
		reasoning = appendReason(reasoning, "toll-free with spam indicators")
	}

	score = clamp01(score)
	isSpam := score > 0.6

	confidence := score
	if !isSpam {
		confidence = 1.0 - score
	}
	if reasoning == "" {
		reasoning = "no suspicious digit patterns"
	}

	return models.EnsembleModelResult{IsSpam: isSpam, Confidence: confidence, Reasoning: "pattern: " + reasoning}
}

// scoreBehavioral judges the caller's historical behavior. With no profile it
// returns a neutral verdict rather than guessing.
func scoreBehavioral(in scorerInput) models.EnsembleModelResult {
	p := in.profile
	if p == nil {
		return models.EnsembleModelResult{
			IsSpam:     false,
			Confidence: 0.5,
			Reasoning:  "behavioral: no call history",
		}
	}

	score := 0.3
	reasoning := ""

	if p.RejectionRate > 0.7 {
		score += 0.25
		reasoning = "high rejection rate"
	}
	if p.TotalCalls > 0 && p.AvgCallDuration < 15 {
		score += 0.15
		reasoning = appendReason(reasoning, "very short calls")
	}
	if p.CallVelocity > 5 {
		score += 0.2
		reasoning = appendReason(reasoning, "high call velocity")
	}
	if p.ConnectionFailureRate > 0.5 {
		score += 0.15
		reasoning = appendReason(reasoning, "frequent connection failures")
	}

	score = clamp01(score)
	isSpam := score > 0.6

	confidence := score
	if !isSpam {
		confidence = 1.0 - score
	}
	if reasoning == "" {
		reasoning = "unremarkable call behavior"
	}

	return models.EnsembleModelResult{IsSpam: isSpam, Confidence: confidence, Reasoning: "behavioral: " + reasoning}
}

// scoreTemporal judges the calling-time distribution, seeded from the
// precomputed temporal risk.
func scoreTemporal(in scorerInput) models.EnsembleModelResult {
	t := in.temporal
	score := t.RiskScore
	reasoning := ""

	if t.AnomalyScore > 0.7 {
		score += 0.2
		reasoning = "concentrated calling hours"
	}
	if t.VelocityRisk > 0.8 {
		score += 0.15
		reasoning = appendReason(reasoning, "burst call velocity")
	}

	score = clamp01(score)
	isSpam := score > 0.6

	confidence := score
	if !isSpam {
		confidence = 1.0 - score
	}
	if reasoning == "" {
		reasoning = "normal calling hours"
	}

	return models.EnsembleModelResult{IsSpam: isSpam, Confidence: confidence, Reasoning: "temporal: " + reasoning}
}

// scoreContextual judges the call content flags.
func scoreContextual(in scorerInput) models.EnsembleModelResult {
	f := in.features
	score := 0.5
	reasoning := ""

	if f.HasMarketingKeywords {
		score += 0.15
		reasoning = "marketing language"
	}
	if f.HasUrgentLanguage {
		score += 0.15
		reasoning = appendReason(reasoning, "urgency pressure")
	}
	if f.HasFinancialTerms {
		score += 0.15
		reasoning = appendReason(reasoning, "financial solicitation")
	}
	if f.SpamIndicatorCount > 2 {
		score += 0.15
		reasoning = appendReason(reasoning, "multiple spam indicators")
	}

	score = clamp01(score)
	isSpam := score > 0.6

	confidence := score
	if !isSpam {
		confidence = 1.0 - score
	}
	if reasoning == "" {
		reasoning = "no suspicious content"
	}

	return models.EnsembleModelResult{IsSpam: isSpam, Confidence: confidence, Reasoning: "contextual: " + reasoning}
}

// computeTemporalFeatures derives calling-time risk from the hour and day
// histograms. An empty histogram yields zero risk.
func computeTemporalFeatures(features *models.PhoneFeatures) models.TemporalFeatures {
	total := 0
	offHours := 0
	maxHour := 0
	for hour, count := range features.HourHistogram {
		total += count
		if count > maxHour {
			maxHour = count
		}
		if hour < 7 || hour >= 21 {
			offHours += count
		}
	}

	if total == 0 {
		return models.TemporalFeatures{VelocityRisk: clamp01(features.CallFrequency)}
	}

	offHoursRatio := float64(offHours) / float64(total)
	concentration := float64(maxHour) / float64(total)

	return models.TemporalFeatures{
		RiskScore:    clamp01(offHoursRatio * 0.8),
		AnomalyScore: clamp01(concentration),
		VelocityRisk: clamp01(features.CallFrequency),
	}
}

func appendReason(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + ", " + next
}
