package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whitelist-engine/internal/config"
	"whitelist-engine/internal/metrics"
	"whitelist-engine/internal/models"
)

// fakeCache is an in-memory DecisionCache for tests.
type fakeCache struct {
	mu       sync.Mutex
	features map[string]*models.PhoneFeatures
	results  map[string]*models.EvaluationResult
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		features: make(map[string]*models.PhoneFeatures),
		results:  make(map[string]*models.EvaluationResult),
	}
}

func (c *fakeCache) GetFeatures(_ context.Context, phoneHash string) (*models.PhoneFeatures, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.features[phoneHash]
	return f, ok
}

func (c *fakeCache) SetFeatures(_ context.Context, phoneHash string, features *models.PhoneFeatures) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features[phoneHash] = features
}

func (c *fakeCache) GetResult(_ context.Context, phoneHash string) (*models.EvaluationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[phoneHash]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

func (c *fakeCache) SetResult(_ context.Context, phoneHash string, result *models.EvaluationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *result
	c.results[phoneHash] = &copied
}

func (c *fakeCache) GetWhitelist(context.Context, uuid.UUID, string) (*models.WhitelistEntry, bool) {
	return nil, false
}

func (c *fakeCache) SetWhitelist(context.Context, uuid.UUID, string, *models.WhitelistEntry) {}

// fakeWhitelist serves a fixed entry set and records hits.
type fakeWhitelist struct {
	mu      sync.Mutex
	entries map[string]*models.WhitelistEntry
	hits    int
	err     error
	delay   time.Duration
}

func newFakeWhitelist() *fakeWhitelist {
	return &fakeWhitelist{entries: make(map[string]*models.WhitelistEntry)}
}

func (w *fakeWhitelist) FindActive(ctx context.Context, userID uuid.UUID, phone string) (*models.WhitelistEntry, error) {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries[userID.String()+":"+phone], nil
}

func (w *fakeWhitelist) RecordHit(context.Context, uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hits++
	return nil
}

func (w *fakeWhitelist) Create(_ context.Context, req *models.CreateWhitelistRequest) (*models.WhitelistEntry, error) {
	if w.err != nil {
		return nil, w.err
	}

	entry := &models.WhitelistEntry{
		ID:            uuid.New(),
		UserID:        req.UserID,
		ContactPhone:  req.ContactPhone,
		ContactName:   req.ContactName,
		WhitelistType: req.WhitelistType,
		IsActive:      true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if req.ConfidenceScore != nil {
		entry.ConfidenceScore = *req.ConfidenceScore
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[req.UserID.String()+":"+req.ContactPhone] = entry
	return entry, nil
}

func testEngineConfig() *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{LookupTimeout: 20 * time.Millisecond},
		Engine: config.EngineConfig{
			PhoneHashSalt:         "test-salt",
			ScorerTimeout:         100 * time.Millisecond,
			HighPriorityThreshold: 500,
			SpamThreshold:         0.6,
			PatternWeight:         0.4,
			TemporalWeight:        0.3,
			ContextualWeight:      0.2,
			BehavioralWeight:      0.1,
			BatchWorkers:          4,
			AutoLearnThreshold:    0.85,
		},
		Learning: config.LearningConfig{
			MaxQueueSize:   100,
			DrainInterval:  time.Hour,
			SweepInterval:  time.Hour,
			SweepBatchSize: 100,
		},
	}
}

func newTestEngine(t *testing.T, whitelist WhitelistStore) (*Engine, *MemoryRuleStore, *fakeCache) {
	t.Helper()

	cfg := testEngineConfig()
	logger := zap.NewNop()

	extractor := NewExtractor(cfg.Engine.PhoneHashSalt, logger)
	store := NewMemoryRuleStore(logger)
	rules := NewRulesEngine(store, cfg.Engine.HighPriorityThreshold, logger)
	ensemble := NewEnsemble(cfg.Engine.ScorerTimeout, cfg.Engine.SpamThreshold, defaultWeights(), logger)
	risk := NewRiskAssessor(logger)
	profiles := NewMemoryProfileStore(logger)
	learner := NewLearner(cfg.Learning, extractor, profiles, newMemorySpamProfiles(), nil, logger)
	cache := newFakeCache()
	m := metrics.New(prometheus.NewRegistry())

	eng := NewEngine(cfg, extractor, rules, ensemble, risk, profiles, learner, cache, whitelist, m, logger)
	return eng, store, cache
}

func TestEvaluateEmergencyNumber(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "911",
		UserID: uuid.New(),
	})

	assert.False(t, result.IsSpam)
	assert.Equal(t, models.RecommendAllow, result.Recommendation)
	assert.Equal(t, 1.0, result.ConfidenceScore)
	assert.Contains(t, result.Reasons, "Emergency service number")
}

func TestEvaluateWhitelistedCaller(t *testing.T) {
	whitelist := newFakeWhitelist()
	userID := uuid.New()
	whitelist.entries[userID.String()+":4155551234"] = &models.WhitelistEntry{
		ID:              uuid.New(),
		UserID:          userID,
		ContactPhone:    "4155551234",
		ConfidenceScore: 0.97,
		IsActive:        true,
	}

	eng, _, _ := newTestEngine(t, whitelist)

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4155551234",
		UserID: userID,
	})

	assert.True(t, result.IsWhitelisted)
	assert.Equal(t, models.RecommendAllow, result.Recommendation)
	assert.Equal(t, 0.97, result.ConfidenceScore)
	assert.Equal(t, models.RiskLow, result.RiskLevel)
}

func TestEvaluateExpiredWhitelistEntryIgnored(t *testing.T) {
	whitelist := newFakeWhitelist()
	userID := uuid.New()
	expired := time.Now().Add(-time.Hour)
	whitelist.entries[userID.String()+":4155551234"] = &models.WhitelistEntry{
		ID:           uuid.New(),
		UserID:       userID,
		ContactPhone: "4155551234",
		IsActive:     true,
		ExpiresAt:    &expired,
	}

	eng, _, _ := newTestEngine(t, whitelist)

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4155551234",
		UserID: userID,
	})

	assert.False(t, result.IsWhitelisted)
}

func TestEvaluateWhitelistErrorDegradesToMiss(t *testing.T) {
	whitelist := newFakeWhitelist()
	whitelist.err = errors.New("database down")

	eng, _, _ := newTestEngine(t, whitelist)

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4155551234",
		UserID: uuid.New(),
	})

	// Lookup failure never fails the evaluation.
	assert.False(t, result.IsWhitelisted)
	assert.NotEmpty(t, result.Recommendation)
}

func TestEvaluateSlowWhitelistLookupTreatedAsMiss(t *testing.T) {
	whitelist := newFakeWhitelist()
	whitelist.delay = 200 * time.Millisecond

	eng, _, _ := newTestEngine(t, whitelist)

	start := time.Now()
	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4155551234",
		UserID: uuid.New(),
	})

	assert.False(t, result.IsWhitelisted)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.NotEmpty(t, result.Recommendation)
}

func TestEvaluateEmptyPhoneFallsBack(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "",
		UserID: uuid.New(),
	})

	assert.Equal(t, models.RecommendManualReview, result.Recommendation)
	assert.Equal(t, 0.5, result.ConfidenceScore)
	assert.Equal(t, models.RiskMedium, result.RiskLevel)
	assert.Contains(t, result.Reasons, "Evaluation failed - manual review recommended")
}

func TestEvaluateAllScorersFailedFallsBack(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())
	for name := range eng.ensemble.scorers {
		eng.ensemble.scorers[name] = func(scorerInput) models.EnsembleModelResult {
			panic("scorer down")
		}
	}

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4152839475",
		UserID: uuid.New(),
	})

	// Total model failure fails closed, not open.
	assert.Equal(t, models.RecommendManualReview, result.Recommendation)
	assert.Equal(t, 0.5, result.ConfidenceScore)
	assert.Equal(t, models.RiskMedium, result.RiskLevel)
	assert.Contains(t, result.Reasons, "Evaluation failed - manual review recommended")
}

func TestEvaluateIsDeterministic(t *testing.T) {
	eng, _, cache := newTestEngine(t, newFakeWhitelist())
	req := &models.EvaluationRequest{
		Phone:  "8005550000",
		UserID: uuid.New(),
		Context: map[string]interface{}{
			"transcript": "free loan, act now",
		},
	}

	first := eng.Evaluate(context.Background(), req)

	// Clear the result cache so the second run recomputes from scratch.
	cache.mu.Lock()
	cache.results = make(map[string]*models.EvaluationResult)
	cache.mu.Unlock()

	second := eng.Evaluate(context.Background(), req)

	assert.Equal(t, first.IsSpam, second.IsSpam)
	assert.Equal(t, first.Classification, second.Classification)
	assert.Equal(t, first.Recommendation, second.Recommendation)
	assert.InDelta(t, first.RiskScore, second.RiskScore, 1e-12)
}

func TestEvaluateUsesResultCache(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())
	req := &models.EvaluationRequest{Phone: "4152839475", UserID: uuid.New()}

	first := eng.Evaluate(context.Background(), req)
	assert.False(t, first.CacheHit)

	second := eng.Evaluate(context.Background(), req)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Recommendation, second.Recommendation)
}

func TestEvaluateSkipsResultCacheForCustomizedUsers(t *testing.T) {
	eng, store, _ := newTestEngine(t, newFakeWhitelist())
	userID := uuid.New()

	require.NoError(t, store.AddUserRule(userID, &models.Rule{
		ID:       "custom_block",
		Name:     "Custom Block",
		Enabled:  true,
		Priority: 100,
		Conditions: []models.RuleCondition{
			{Field: "phone", Operator: models.OpStartsWith, Value: "415"},
		},
		Action: models.RuleAction{Type: models.ActionBlock, Confidence: 0.9, Reason: "blocked by user rule"},
	}))

	// A plain user's verdict gets cached.
	plain := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4152839475",
		UserID: uuid.New(),
	})
	assert.NotEqual(t, models.RecommendBlock, plain.Recommendation)

	// The customized user still hits their own rule.
	custom := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4152839475",
		UserID: userID,
	})
	assert.True(t, custom.IsSpam)
	assert.Equal(t, models.RecommendBlock, custom.Recommendation)
	assert.False(t, custom.CacheHit)
}

func TestEvaluateTollFreeNotAllowed(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "+18005551234",
		UserID: uuid.New(),
	})

	assert.False(t, result.IsSpam)
	assert.Equal(t, "suspicious", result.Classification)
	assert.Equal(t, models.RecommendAnalyzeFurther, result.Recommendation)
}

func TestEvaluateSuspiciousVerdictRoutedToAnalysis(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())

	// Premium-rate number with machine-generated digits: below the spam
	// threshold but too risky to wave through.
	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "9005551234",
		UserID: uuid.New(),
	})

	assert.False(t, result.IsSpam)
	assert.Equal(t, "suspicious", result.Classification)
	assert.Equal(t, models.RecommendAnalyzeFurther, result.Recommendation)
}

func TestEvaluateSpamContentBlocked(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())

	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "8000001234",
		UserID: uuid.New(),
		Context: map[string]interface{}{
			"transcript":     "refinance your mortgage with a low interest rate loan, act now",
			"call_frequency": 9.0,
		},
	})

	assert.True(t, result.IsSpam)
	assert.Contains(t, result.Classification, "spam_")
	assert.NotEqual(t, models.RecommendAllow, result.Recommendation)
}

func TestBatchEvaluatePreservesOrder(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())
	userID := uuid.New()

	reqs := []*models.EvaluationRequest{
		{Phone: "911", UserID: userID},
		{Phone: "4152839475", UserID: userID},
		{Phone: "8000001234", UserID: userID, Context: map[string]interface{}{
			"transcript": "free loan, act now",
		}},
	}

	results := eng.BatchEvaluate(context.Background(), reqs)

	require.Len(t, results, 3)
	assert.Equal(t, "911", results[0].Phone)
	assert.Equal(t, models.RecommendAllow, results[0].Recommendation)
	assert.Equal(t, "4152839475", results[1].Phone)
	assert.Equal(t, "8000001234", results[2].Phone)
}

func TestBatchEvaluateEmpty(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())
	assert.Empty(t, eng.BatchEvaluate(context.Background(), nil))
}

func TestSmartAddDefaultsToManual(t *testing.T) {
	whitelist := newFakeWhitelist()
	eng, _, _ := newTestEngine(t, whitelist)
	userID := uuid.New()

	entry, err := eng.SmartAdd(context.Background(), &models.SmartAddRequest{
		UserID:       userID,
		ContactPhone: "4152839475",
		ContactName:  "Dana",
	})

	require.NoError(t, err)
	assert.Equal(t, models.WhitelistTypeManual, entry.WhitelistType)
	assert.Equal(t, 0.8, entry.ConfidenceScore)
	assert.Equal(t, 1, eng.learner.QueueDepth())

	// The new entry takes effect on the next evaluation.
	result := eng.Evaluate(context.Background(), &models.EvaluationRequest{
		Phone:  "4152839475",
		UserID: userID,
	})
	assert.True(t, result.IsWhitelisted)
}

func TestSmartAddUpgradesConfidentLegitimate(t *testing.T) {
	whitelist := newFakeWhitelist()
	eng, _, _ := newTestEngine(t, whitelist)

	entry, err := eng.SmartAdd(context.Background(), &models.SmartAddRequest{
		UserID:       uuid.New(),
		ContactPhone: "911",
	})

	require.NoError(t, err)
	assert.Equal(t, models.WhitelistTypeAuto, entry.WhitelistType)
	assert.Equal(t, 1.0, entry.ConfidenceScore)
}

func TestSmartAddPropagatesStoreError(t *testing.T) {
	whitelist := newFakeWhitelist()
	whitelist.err = errors.New("database down")
	eng, _, _ := newTestEngine(t, whitelist)

	_, err := eng.SmartAdd(context.Background(), &models.SmartAddRequest{
		UserID:       uuid.New(),
		ContactPhone: "4152839475",
	})
	assert.Error(t, err)
}

func TestRecordFeedbackUpdatesProfile(t *testing.T) {
	eng, _, _ := newTestEngine(t, newFakeWhitelist())

	acceptance := eng.RecordFeedback(context.Background(), &models.LearningEvent{
		Phone:      "4155551234",
		EventType:  models.EventReject,
		Confidence: 0.8,
		Context: map[string]interface{}{
			"call_duration": 8.0,
		},
	})

	assert.True(t, acceptance.Accepted)

	profile := eng.profiles.Get(eng.extractor.HashPhone("4155551234"))
	require.NotNil(t, profile)
	assert.Equal(t, int64(1), profile.TotalCalls)
	assert.Equal(t, 1.0, profile.RejectionRate)
}
