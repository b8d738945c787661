package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whitelist-engine/internal/config"
	"whitelist-engine/internal/metrics"
	"whitelist-engine/internal/models"
)

// DecisionCache is the best-effort cache in front of extraction, evaluation,
// and whitelist lookups. Implementations bound every lookup; a slow or failed
// lookup reads as a miss.
type DecisionCache interface {
	GetFeatures(ctx context.Context, phoneHash string) (*models.PhoneFeatures, bool)
	SetFeatures(ctx context.Context, phoneHash string, features *models.PhoneFeatures)
	GetResult(ctx context.Context, phoneHash string) (*models.EvaluationResult, bool)
	SetResult(ctx context.Context, phoneHash string, result *models.EvaluationResult)
	GetWhitelist(ctx context.Context, userID uuid.UUID, phone string) (*models.WhitelistEntry, bool)
	SetWhitelist(ctx context.Context, userID uuid.UUID, phone string, entry *models.WhitelistEntry)
}

// WhitelistStore is the slice of the durable whitelist the evaluation path
// needs.
type WhitelistStore interface {
	FindActive(ctx context.Context, userID uuid.UUID, phone string) (*models.WhitelistEntry, error)
	RecordHit(ctx context.Context, entryID uuid.UUID) error
	Create(ctx context.Context, req *models.CreateWhitelistRequest) (*models.WhitelistEntry, error)
}

// Engine is the caller-admission decision engine. Every public entry point
// returns a well-formed result; internal failures degrade to the safe
// fallback instead of propagating.
type Engine struct {
	logger    *zap.Logger
	cfg       config.EngineConfig
	lookupTTL time.Duration

	extractor *Extractor
	rules     *RulesEngine
	ensemble  *Ensemble
	risk      *RiskAssessor
	profiles  ProfileStore
	learner   *Learner
	cache     DecisionCache
	whitelist WhitelistStore
	metrics   *metrics.Metrics
}

// NewEngine wires the evaluation pipeline together.
func NewEngine(
	cfg *config.Config,
	extractor *Extractor,
	rules *RulesEngine,
	ensemble *Ensemble,
	risk *RiskAssessor,
	profiles ProfileStore,
	learner *Learner,
	cache DecisionCache,
	whitelist WhitelistStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		logger:    logger,
		cfg:       cfg.Engine,
		lookupTTL: cfg.Redis.LookupTimeout,
		extractor: extractor,
		rules:     rules,
		ensemble:  ensemble,
		risk:      risk,
		profiles:  profiles,
		learner:   learner,
		cache:     cache,
		whitelist: whitelist,
		metrics:   m,
	}
}

// Evaluate decides admission for one inbound call. It never returns an error:
// any internal failure yields the manual-review fallback.
func (e *Engine) Evaluate(ctx context.Context, req *models.EvaluationRequest) *models.EvaluationResult {
	start := time.Now()

	result, err := e.evaluate(ctx, req)
	if err != nil {
		e.logger.Error("evaluation failed, returning fallback",
			zap.String("user_id", req.UserID.String()),
			zap.Error(err))
		result = e.fallbackResult(req.Phone)
		e.metrics.ObserveFallback()
	}

	result.ProcessingTime = time.Since(start)
	e.metrics.ObserveEvaluation(string(result.Recommendation), result.CacheHit, result.ProcessingTime)

	return result
}

func (e *Engine) evaluate(ctx context.Context, req *models.EvaluationRequest) (result *models.EvaluationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()

	if req.Phone == "" {
		return nil, errors.New("phone is required")
	}

	if entry := e.lookupWhitelist(ctx, req.UserID, req.Phone); entry != nil {
		return e.whitelistedResult(req.Phone, entry), nil
	}

	phoneHash := e.extractor.HashPhone(req.Phone)
	features := e.loadFeatures(ctx, phoneHash, req.Phone, req.Context)

	if cached := e.loadCachedResult(ctx, phoneHash, req.UserID); cached != nil {
		return cached, nil
	}

	profile := e.profiles.Get(phoneHash)
	fused := e.ensemble.Classify(ctx, features, profile)
	if fused.CalibrationFactor < 1.0 {
		e.metrics.ObserveScorerExclusion()
	}
	if len(fused.ModelWeights) == 0 {
		return nil, errors.New("no ensemble scorers produced a result")
	}

	prefs := e.rules.store.Preferences(req.UserID)
	assessment := e.risk.Assess(features, profile, prefs)

	evalCtx := e.buildEvalContext(req, features, fused)
	ruleResult := e.rules.Evaluate(req.UserID, evalCtx)

	if ruleResult.Matched {
		e.metrics.ObserveRuleMatch(ruleResult.Source.String(), ruleResult.ShortCircuit)
		return e.ruleBasedResult(req.Phone, ruleResult, fused, assessment), nil
	}

	result = e.ensembleBasedResult(req.Phone, fused, assessment)

	if !e.rules.HasUserCustomization(req.UserID) {
		e.cache.SetResult(ctx, phoneHash, result)
	}

	return result, nil
}

// lookupWhitelist checks the cache and then the durable store, each bounded
// by the lookup timeout. Any failure reads as "not whitelisted".
func (e *Engine) lookupWhitelist(ctx context.Context, userID uuid.UUID, phone string) *models.WhitelistEntry {
	if userID == uuid.Nil {
		return nil
	}

	if entry, ok := e.cache.GetWhitelist(ctx, userID, phone); ok {
		e.metrics.ObserveCacheOp("whitelist", true)
		if entry != nil && entry.IsValid() {
			e.recordHitAsync(entry.ID)
			return entry
		}
		return nil
	}
	e.metrics.ObserveCacheOp("whitelist", false)

	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTTL)
	defer cancel()

	entry, err := e.whitelist.FindActive(lookupCtx, userID, phone)
	if err != nil {
		e.logger.Warn("whitelist lookup failed, treating as miss",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil
	}

	e.cache.SetWhitelist(ctx, userID, phone, entry)

	if entry != nil && entry.IsValid() {
		e.recordHitAsync(entry.ID)
		return entry
	}
	return nil
}

func (e *Engine) recordHitAsync(entryID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.whitelist.RecordHit(ctx, entryID); err != nil {
			e.logger.Warn("failed to record whitelist hit",
				zap.String("entry_id", entryID.String()),
				zap.Error(err))
		}
	}()
}

// loadFeatures returns cached features when present, otherwise extracts and
// caches them.
func (e *Engine) loadFeatures(ctx context.Context, phoneHash, phone string, reqCtx map[string]interface{}) *models.PhoneFeatures {
	if features, ok := e.cache.GetFeatures(ctx, phoneHash); ok {
		e.metrics.ObserveCacheOp("features", true)
		return features
	}
	e.metrics.ObserveCacheOp("features", false)

	features := e.extractor.Extract(phone, reqCtx)
	e.cache.SetFeatures(ctx, phoneHash, &features)
	return &features
}

// loadCachedResult serves a prior verdict for callers whose evaluation cannot
// be user-specific. Users with their own rules or preferences always get a
// fresh evaluation.
func (e *Engine) loadCachedResult(ctx context.Context, phoneHash string, userID uuid.UUID) *models.EvaluationResult {
	if e.rules.HasUserCustomization(userID) {
		return nil
	}

	cached, ok := e.cache.GetResult(ctx, phoneHash)
	e.metrics.ObserveCacheOp("result", ok)
	if !ok {
		return nil
	}

	cached.CacheHit = true
	return cached
}

// buildEvalContext flattens the request, features, and ensemble verdict into
// the field space rules match against.
func (e *Engine) buildEvalContext(req *models.EvaluationRequest, features *models.PhoneFeatures, fused *models.FusedResult) map[string]interface{} {
	evalCtx := make(map[string]interface{}, len(req.Context)+24)
	for k, v := range req.Context {
		evalCtx[k] = v
	}
	for k, v := range features.AsFields() {
		evalCtx[k] = v
	}

	evalCtx["phone"] = req.Phone
	evalCtx["user_id"] = req.UserID.String()
	evalCtx["ensemble_is_spam"] = fused.IsSpam
	evalCtx["ensemble_confidence"] = fused.Confidence
	evalCtx["classification"] = fused.Classification

	return evalCtx
}

func (e *Engine) ruleBasedResult(phone string, ruleResult models.RuleEvaluationResult, fused *models.FusedResult, assessment RiskAssessment) *models.EvaluationResult {
	action := ruleResult.Rule.Action

	result := &models.EvaluationResult{
		Phone:              phone,
		ConfidenceScore:    action.Confidence,
		RiskScore:          assessment.RiskScore,
		RiskLevel:          assessment.RiskLevel,
		ConfidenceInterval: assessment.ConfidenceInterval,
		Reasons:            []string{action.Reason},
	}

	switch action.Type {
	case models.ActionAllow:
		result.IsSpam = false
		result.Classification = "legitimate"
		result.Recommendation = models.RecommendAllow
	case models.ActionBlock:
		result.IsSpam = true
		result.Classification = fused.Classification
		if !fused.IsSpam {
			result.Classification = "spam_unknown"
		}
		result.Recommendation = models.RecommendBlock
	case models.ActionAnalyze:
		result.IsSpam = fused.IsSpam
		result.Classification = fused.Classification
		result.Recommendation = models.RecommendAnalyzeFurther
	case models.ActionFlag:
		result.IsSpam = fused.IsSpam
		result.Classification = fused.Classification
		result.Recommendation = models.RecommendManualReview
	}

	return result
}

func (e *Engine) ensembleBasedResult(phone string, fused *models.FusedResult, assessment RiskAssessment) *models.EvaluationResult {
	recommendation := assessment.Recommendation
	if recommendation == models.RecommendAllow && (fused.IsSpam || fused.Classification == "suspicious") {
		recommendation = models.RecommendAnalyzeFurther
	}

	return &models.EvaluationResult{
		Phone:              phone,
		IsSpam:             fused.IsSpam,
		Classification:     fused.Classification,
		ConfidenceScore:    fused.Confidence,
		RiskScore:          assessment.RiskScore,
		RiskLevel:          assessment.RiskLevel,
		ConfidenceInterval: assessment.ConfidenceInterval,
		Recommendation:     recommendation,
		Reasons:            fused.Reasons,
	}
}

func (e *Engine) whitelistedResult(phone string, entry *models.WhitelistEntry) *models.EvaluationResult {
	return &models.EvaluationResult{
		Phone:           phone,
		IsWhitelisted:   true,
		Classification:  "legitimate",
		ConfidenceScore: entry.ConfidenceScore,
		RiskLevel:       models.RiskLow,
		ConfidenceInterval: models.ConfidenceInterval{
			Lower: 0,
			Upper: 0.1,
		},
		Recommendation: models.RecommendAllow,
		Reasons:        []string{"Caller is whitelisted"},
	}
}

// fallbackResult is the safe verdict when evaluation cannot complete.
func (e *Engine) fallbackResult(phone string) *models.EvaluationResult {
	return &models.EvaluationResult{
		Phone:           phone,
		Classification:  "unknown",
		ConfidenceScore: 0.5,
		RiskScore:       0.5,
		RiskLevel:       models.RiskMedium,
		ConfidenceInterval: models.ConfidenceInterval{
			Lower: 0.1,
			Upper: 0.9,
		},
		Recommendation: models.RecommendManualReview,
		Reasons:        []string{"Evaluation failed - manual review recommended"},
	}
}

// BatchEvaluate runs evaluations over a bounded worker pool, preserving the
// input order in the output.
func (e *Engine) BatchEvaluate(ctx context.Context, reqs []*models.EvaluationRequest) []*models.EvaluationResult {
	results := make([]*models.EvaluationResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	workers := e.cfg.BatchWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	jobs := make(chan int)
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				results[i] = e.Evaluate(ctx, reqs[i])
			}
			done <- struct{}{}
		}()
	}

	for i := range reqs {
		jobs <- i
	}
	close(jobs)

	for w := 0; w < workers; w++ {
		<-done
	}

	return results
}

// SmartAdd whitelists a contact after running it through the evaluation
// pipeline. A confidently legitimate verdict upgrades the entry to an auto
// entry carrying the evaluated confidence; anything else stays manual with
// the caller's confidence.
func (e *Engine) SmartAdd(ctx context.Context, req *models.SmartAddRequest) (*models.WhitelistEntry, error) {
	evaluation := e.Evaluate(ctx, &models.EvaluationRequest{
		Phone:   req.ContactPhone,
		UserID:  req.UserID,
		Context: map[string]interface{}{"context": req.Context},
	})

	whitelistType := models.WhitelistTypeManual
	confidence := req.Confidence
	if confidence <= 0 {
		confidence = 0.8
	}

	if evaluation.Classification == "legitimate" && evaluation.ConfidenceScore > e.cfg.AutoLearnThreshold {
		whitelistType = models.WhitelistTypeAuto
		confidence = evaluation.ConfidenceScore
	}

	createReq := &models.CreateWhitelistRequest{
		UserID:          req.UserID,
		ContactPhone:    req.ContactPhone,
		WhitelistType:   whitelistType,
		ConfidenceScore: &confidence,
	}
	if req.ContactName != "" {
		createReq.ContactName = &req.ContactName
	}

	entry, err := e.whitelist.Create(ctx, createReq)
	if err != nil {
		return nil, err
	}

	e.cache.SetWhitelist(ctx, req.UserID, req.ContactPhone, entry)

	e.RecordFeedback(ctx, &models.LearningEvent{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Phone:      req.ContactPhone,
		EventType:  models.EventManualAdd,
		Confidence: confidence,
		Context:    map[string]interface{}{"tags": req.Tags, "context": req.Context},
		Timestamp:  time.Now(),
	})

	e.logger.Info("contact whitelisted",
		zap.String("user_id", req.UserID.String()),
		zap.String("whitelist_type", string(whitelistType)),
		zap.Float64("confidence", confidence))

	return entry, nil
}

// RecordFeedback folds one feedback event into the behavioral profile and
// queues it for batch learning. It never blocks on processing.
func (e *Engine) RecordFeedback(ctx context.Context, event *models.LearningEvent) models.LearningAcceptance {
	phoneHash := e.extractor.HashPhone(event.Phone)

	if duration, ok := toFloat(event.Context["call_duration"]); ok {
		rejected := event.EventType == models.EventReject
		failed, _ := event.Context["connection_failed"].(bool)
		e.profiles.RecordCall(phoneHash, duration, rejected, failed)
	}

	acceptance := e.learner.Enqueue(event)
	e.metrics.ObserveLearningEvent(string(event.EventType), acceptance.Accepted, acceptance.QueueDepth)

	if !acceptance.Accepted {
		e.logger.Warn("feedback rejected",
			zap.String("event_type", string(event.EventType)),
			zap.String("reason", acceptance.Reason))
	}

	return acceptance
}
