package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"whitelist-engine/internal/models"
)

// SpamProfileRepository handles database operations for spam profiles.
type SpamProfileRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSpamProfileRepository creates a new spam profile repository.
func NewSpamProfileRepository(db *pgxpool.Pool, logger *zap.Logger) *SpamProfileRepository {
	return &SpamProfileRepository{
		db:     db,
		logger: logger,
	}
}

// GetByPhoneHash returns the spam profile for a phone hash. Absence is
// (nil, nil), not an error.
func (r *SpamProfileRepository) GetByPhoneHash(ctx context.Context, phoneHash string) (*models.SpamProfile, error) {
	query := `
		SELECT id, phone_hash, spam_category, risk_score, confidence_level,
		       feature_vector, total_reports, first_reported, last_activity,
		       last_updated, created_at
		FROM spam_profiles
		WHERE phone_hash = $1`

	var profile models.SpamProfile
	var featureVector []byte
	err := r.db.QueryRow(ctx, query, phoneHash).Scan(
		&profile.ID, &profile.PhoneHash, &profile.SpamCategory,
		&profile.RiskScore, &profile.ConfidenceLevel, &featureVector,
		&profile.TotalReports, &profile.FirstReported, &profile.LastActivity,
		&profile.LastUpdated, &profile.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get spam profile",
			zap.Error(err),
			zap.String("phone_hash", phoneHash))
		return nil, fmt.Errorf("failed to get spam profile: %w", err)
	}

	if len(featureVector) > 0 {
		if err := json.Unmarshal(featureVector, &profile.FeatureVector); err != nil {
			r.logger.Warn("failed to decode feature vector, ignoring",
				zap.Error(err),
				zap.String("phone_hash", phoneHash))
		}
	}

	return &profile, nil
}

// Upsert inserts or updates a spam profile keyed by phone hash.
func (r *SpamProfileRepository) Upsert(ctx context.Context, profile *models.SpamProfile) error {
	featureVector, err := json.Marshal(profile.FeatureVector)
	if err != nil {
		return fmt.Errorf("failed to encode feature vector: %w", err)
	}

	query := `
		INSERT INTO spam_profiles (
			id, phone_hash, spam_category, risk_score, confidence_level,
			feature_vector, total_reports, first_reported, last_activity,
			last_updated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (phone_hash) DO UPDATE SET
			spam_category = EXCLUDED.spam_category,
			risk_score = EXCLUDED.risk_score,
			confidence_level = EXCLUDED.confidence_level,
			feature_vector = EXCLUDED.feature_vector,
			total_reports = EXCLUDED.total_reports,
			last_activity = EXCLUDED.last_activity,
			last_updated = EXCLUDED.last_updated`

	_, err = r.db.Exec(ctx, query,
		profile.ID, profile.PhoneHash, profile.SpamCategory,
		profile.RiskScore, profile.ConfidenceLevel, featureVector,
		profile.TotalReports, profile.FirstReported, profile.LastActivity,
		profile.LastUpdated, profile.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to upsert spam profile",
			zap.Error(err),
			zap.String("phone_hash", profile.PhoneHash))
		return fmt.Errorf("failed to upsert spam profile: %w", err)
	}

	return nil
}

// DeleteStale removes spam profiles with no activity since the cutoff.
func (r *SpamProfileRepository) DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	query := `
		DELETE FROM spam_profiles
		WHERE id IN (
			SELECT id FROM spam_profiles
			WHERE last_activity < $1
			LIMIT $2
		)`

	tag, err := r.db.Exec(ctx, query, cutoff, batchSize)
	if err != nil {
		r.logger.Error("failed to delete stale spam profiles", zap.Error(err))
		return 0, fmt.Errorf("failed to delete stale spam profiles: %w", err)
	}

	return tag.RowsAffected(), nil
}
