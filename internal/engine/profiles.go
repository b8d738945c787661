package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"whitelist-engine/internal/models"
)

// ProfileStore tracks per-phone behavioral aggregates, keyed by the salted
// phone hash.
type ProfileStore interface {
	Get(phoneHash string) *models.BehavioralProfile
	RecordCall(phoneHash string, duration float64, rejected, failed bool)
	AdjustRisk(phoneHash string, delta float64)
}

// profileEntry pairs the aggregate with the recent call times used for
// velocity.
type profileEntry struct {
	profile   models.BehavioralProfile
	callTimes []time.Time
}

// MemoryProfileStore is the in-process ProfileStore. Aggregates are running
// means so updates are O(1) regardless of history length.
type MemoryProfileStore struct {
	logger *zap.Logger

	mu       sync.RWMutex
	profiles map[string]*profileEntry
}

const velocityWindow = time.Hour

// NewMemoryProfileStore creates an empty profile store.
func NewMemoryProfileStore(logger *zap.Logger) *MemoryProfileStore {
	return &MemoryProfileStore{
		logger:   logger,
		profiles: make(map[string]*profileEntry),
	}
}

// Get returns a copy of the profile, or nil when the caller has no history.
func (s *MemoryProfileStore) Get(phoneHash string) *models.BehavioralProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.profiles[phoneHash]
	if !ok {
		return nil
	}

	profile := entry.profile
	return &profile
}

// RecordCall folds one observed call into the running aggregates.
func (s *MemoryProfileStore) RecordCall(phoneHash string, duration float64, rejected, failed bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.profiles[phoneHash]
	if !ok {
		entry = &profileEntry{profile: models.BehavioralProfile{PhoneHash: phoneHash}}
		s.profiles[phoneHash] = entry
	}

	p := &entry.profile
	n := float64(p.TotalCalls)
	p.TotalCalls++
	p.AvgCallDuration = (p.AvgCallDuration*n + duration) / float64(p.TotalCalls)
	p.RejectionRate = (p.RejectionRate*n + boolToFloat(rejected)) / float64(p.TotalCalls)
	p.ConnectionFailureRate = (p.ConnectionFailureRate*n + boolToFloat(failed)) / float64(p.TotalCalls)
	p.LastUpdated = now

	entry.callTimes = append(entry.callTimes, now)
	cutoff := now.Add(-velocityWindow)
	for len(entry.callTimes) > 0 && entry.callTimes[0].Before(cutoff) {
		entry.callTimes = entry.callTimes[1:]
	}
	p.CallVelocity = float64(len(entry.callTimes))
}

// AdjustRisk nudges the profile risk score, clamped to [0,1]. Unknown hashes
// get a fresh profile so feedback is never lost.
func (s *MemoryProfileStore) AdjustRisk(phoneHash string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.profiles[phoneHash]
	if !ok {
		entry = &profileEntry{profile: models.BehavioralProfile{PhoneHash: phoneHash}}
		s.profiles[phoneHash] = entry
	}

	entry.profile.RiskScore = clamp01(entry.profile.RiskScore + delta)
	entry.profile.LastUpdated = time.Now()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
