package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whitelist-engine/internal/config"
	"whitelist-engine/internal/models"
)

// SpamProfileStore is the durable store for per-phone spam profiles. Lookups
// for unknown hashes return (nil, nil).
type SpamProfileStore interface {
	GetByPhoneHash(ctx context.Context, phoneHash string) (*models.SpamProfile, error)
	Upsert(ctx context.Context, profile *models.SpamProfile) error
	DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// WhitelistMaintainer is the slice of the whitelist store the sweeper needs.
type WhitelistMaintainer interface {
	DeactivateExpired(ctx context.Context, batchSize int) (int64, error)
}

// Learner buffers feedback events and folds them into the spam and behavioral
// profiles in batches. Enqueue never blocks the caller; processing is
// asynchronous and best-effort.
type Learner struct {
	logger       *zap.Logger
	cfg          config.LearningConfig
	extractor    *Extractor
	profiles     ProfileStore
	spamProfiles SpamProfileStore
	whitelist    WhitelistMaintainer

	mu       sync.Mutex
	queue    []*models.LearningEvent
	draining bool

	stopCh chan struct{}
	doneWg sync.WaitGroup
}

// NewLearner creates the feedback processor. It does not start its background
// loops; call Start.
func NewLearner(cfg config.LearningConfig, extractor *Extractor, profiles ProfileStore, spamProfiles SpamProfileStore, whitelist WhitelistMaintainer, logger *zap.Logger) *Learner {
	return &Learner{
		logger:       logger,
		cfg:          cfg,
		extractor:    extractor,
		profiles:     profiles,
		spamProfiles: spamProfiles,
		whitelist:    whitelist,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the periodic drain and the expiry sweep.
func (l *Learner) Start() {
	l.doneWg.Add(2)

	go func() {
		defer l.doneWg.Done()
		ticker := time.NewTicker(l.cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.drain(context.Background())
			case <-l.stopCh:
				return
			}
		}
	}()

	go func() {
		defer l.doneWg.Done()
		ticker := time.NewTicker(l.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweepExpired(context.Background())
			case <-l.stopCh:
				return
			}
		}
	}()

	l.logger.Info("learning loop started",
		zap.Duration("drain_interval", l.cfg.DrainInterval),
		zap.Duration("sweep_interval", l.cfg.SweepInterval))
}

// Stop halts the background loops and drains whatever is still queued.
func (l *Learner) Stop(ctx context.Context) {
	close(l.stopCh)
	l.doneWg.Wait()
	l.drain(ctx)
	l.logger.Info("learning loop stopped")
}

// Enqueue accepts one feedback event. A full queue rejects the event rather
// than blocking the evaluation path. Crossing half capacity triggers an
// early asynchronous drain.
func (l *Learner) Enqueue(event *models.LearningEvent) models.LearningAcceptance {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	if len(l.queue) >= l.cfg.MaxQueueSize {
		depth := len(l.queue)
		l.mu.Unlock()
		l.logger.Warn("learning queue full, event dropped",
			zap.String("event_type", string(event.EventType)))
		return models.LearningAcceptance{Accepted: false, QueueDepth: depth, Reason: "queue full"}
	}

	l.queue = append(l.queue, event)
	depth := len(l.queue)
	l.mu.Unlock()

	if depth >= l.cfg.MaxQueueSize/2 {
		go l.drain(context.Background())
	}

	return models.LearningAcceptance{Accepted: true, QueueDepth: depth}
}

// QueueDepth reports the number of pending events.
func (l *Learner) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// drain processes the queued events. At most one drain runs at a time;
// concurrent triggers return immediately.
func (l *Learner) drain(ctx context.Context) {
	l.mu.Lock()
	if l.draining || len(l.queue) == 0 {
		l.mu.Unlock()
		return
	}
	l.draining = true
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.draining = false
		l.mu.Unlock()
	}()

	processed := 0
	for _, event := range batch {
		if err := l.processEvent(ctx, event); err != nil {
			l.logger.Error("failed to process learning event",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
			continue
		}
		processed++
	}

	l.logger.Info("learning batch drained",
		zap.Int("batch_size", len(batch)),
		zap.Int("processed", processed))
}

// processEvent applies one feedback event to the profiles.
func (l *Learner) processEvent(ctx context.Context, event *models.LearningEvent) error {
	phoneHash := l.extractor.HashPhone(event.Phone)

	switch event.EventType {
	case models.EventReject:
		if err := l.reinforceSpam(ctx, phoneHash, event); err != nil {
			return err
		}
		l.profiles.AdjustRisk(phoneHash, event.Confidence*0.1)
	case models.EventAccept, models.EventManualAdd:
		l.profiles.AdjustRisk(phoneHash, -event.Confidence*0.1)
	case models.EventTimeout:
		l.profiles.AdjustRisk(phoneHash, 0.02)
	}

	return nil
}

// reinforceSpam bumps the durable spam profile for a rejected caller. A new
// profile starts at min(0.8, confidence); established profiles may climb to
// 1.0.
func (l *Learner) reinforceSpam(ctx context.Context, phoneHash string, event *models.LearningEvent) error {
	profile, err := l.spamProfiles.GetByPhoneHash(ctx, phoneHash)
	if err != nil {
		return err
	}

	now := time.Now()
	if profile == nil {
		initial := event.Confidence
		if initial > 0.8 {
			initial = 0.8
		}
		profile = &models.SpamProfile{
			ID:            uuid.New(),
			PhoneHash:     phoneHash,
			SpamCategory:  "unknown",
			RiskScore:     initial,
			TotalReports:  1,
			FirstReported: now,
			CreatedAt:     now,
		}
	} else {
		profile.TotalReports++
		profile.RiskScore = clamp01(profile.RiskScore + event.Confidence*0.1)
	}

	profile.ConfidenceLevel = clamp01(float64(profile.TotalReports) / 10.0)
	profile.LastActivity = now
	profile.LastUpdated = now

	if event.Features != nil {
		profile.FeatureVector = featureVector(event.Features)
	}

	return l.spamProfiles.Upsert(ctx, profile)
}

// featureVector flattens the numeric features for persistence alongside the
// spam profile.
func featureVector(features *models.PhoneFeatures) map[string]float64 {
	vector := make(map[string]float64)
	for key, value := range features.AsFields() {
		if f, ok := toFloat(value); ok {
			vector[key] = f
		}
		if b, ok := value.(bool); ok {
			vector[key] = boolToFloat(b)
		}
	}
	return vector
}

// sweepExpired deactivates expired whitelist entries and removes spam
// profiles past the retention window, both in bounded batches.
func (l *Learner) sweepExpired(ctx context.Context) {
	if l.whitelist != nil {
		deactivated, err := l.whitelist.DeactivateExpired(ctx, l.cfg.SweepBatchSize)
		if err != nil {
			l.logger.Error("expiry sweep failed", zap.Error(err))
		} else if deactivated > 0 {
			l.logger.Info("expired whitelist entries deactivated",
				zap.Int64("count", deactivated))
		}
	}

	if l.spamProfiles != nil && l.cfg.ProfileRetention > 0 {
		cutoff := time.Now().Add(-l.cfg.ProfileRetention)
		removed, err := l.spamProfiles.DeleteStale(ctx, cutoff, l.cfg.SweepBatchSize)
		if err != nil {
			l.logger.Error("stale profile sweep failed", zap.Error(err))
		} else if removed > 0 {
			l.logger.Info("stale spam profiles removed",
				zap.Int64("count", removed))
		}
	}
}
