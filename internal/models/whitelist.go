package models

import (
	"time"

	"github.com/google/uuid"
)

// WhitelistType represents how a whitelist entry was created.
type WhitelistType string

const (
	WhitelistTypeManual    WhitelistType = "manual"
	WhitelistTypeAuto      WhitelistType = "auto"
	WhitelistTypeTemporary WhitelistType = "temporary"
	WhitelistTypeLearned   WhitelistType = "learned"
)

// WhitelistEntry is a user's allow-listed contact. Durable persistence belongs
// to the storage collaborator; the engine reads and writes through it.
type WhitelistEntry struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	UserID          uuid.UUID     `json:"user_id" db:"user_id"`
	ContactPhone    string        `json:"contact_phone" db:"contact_phone"`
	ContactName     *string       `json:"contact_name,omitempty" db:"contact_name"`
	WhitelistType   WhitelistType `json:"whitelist_type" db:"whitelist_type"`
	ConfidenceScore float64       `json:"confidence_score" db:"confidence_score"`
	IsActive        bool          `json:"is_active" db:"is_active"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	HitCount        int64         `json:"hit_count" db:"hit_count"`
	LastHitAt       *time.Time    `json:"last_hit_at,omitempty" db:"last_hit_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// IsExpired checks if the whitelist entry has expired.
func (w *WhitelistEntry) IsExpired() bool {
	if w.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*w.ExpiresAt)
}

// IsValid checks if the whitelist entry is active and not expired.
func (w *WhitelistEntry) IsValid() bool {
	return w.IsActive && !w.IsExpired()
}

// CreateWhitelistRequest represents a request to create a new whitelist entry.
type CreateWhitelistRequest struct {
	UserID          uuid.UUID     `json:"user_id" binding:"required"`
	ContactPhone    string        `json:"contact_phone" binding:"required"`
	ContactName     *string       `json:"contact_name,omitempty"`
	WhitelistType   WhitelistType `json:"whitelist_type" binding:"required"`
	ConfidenceScore *float64      `json:"confidence_score,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
}

// SmartAddRequest asks the engine to whitelist a contact, letting the
// evaluation pipeline pick the entry type and confidence.
type SmartAddRequest struct {
	UserID       uuid.UUID `json:"user_id"`
	ContactPhone string    `json:"contact_phone" binding:"required"`
	ContactName  string    `json:"contact_name"`
	Context      string    `json:"context"`
	Confidence   float64   `json:"confidence"`
	Tags         []string  `json:"tags"`
}

// WhitelistLookupResult is the outcome of a whitelist lookup on the hot path.
type WhitelistLookupResult struct {
	Found          bool            `json:"found"`
	Entry          *WhitelistEntry `json:"entry,omitempty"`
	CacheHit       bool            `json:"cache_hit"`
	LookupDuration time.Duration   `json:"lookup_duration"`
}

// SpamProfile is the persisted risk record for a phone number, keyed by its
// salted hash and accumulated from feedback reports.
type SpamProfile struct {
	ID              uuid.UUID          `json:"id" db:"id"`
	PhoneHash       string             `json:"phone_hash" db:"phone_hash"`
	SpamCategory    string             `json:"spam_category" db:"spam_category"`
	RiskScore       float64            `json:"risk_score" db:"risk_score"`
	ConfidenceLevel float64            `json:"confidence_level" db:"confidence_level"`
	FeatureVector   map[string]float64 `json:"feature_vector" db:"feature_vector"`
	TotalReports    int64              `json:"total_reports" db:"total_reports"`
	FirstReported   time.Time          `json:"first_reported" db:"first_reported"`
	LastActivity    time.Time          `json:"last_activity" db:"last_activity"`
	LastUpdated     time.Time          `json:"last_updated" db:"last_updated"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}
