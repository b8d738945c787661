package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"whitelist-engine/internal/models"
)

// WhitelistRepository handles database operations for whitelist entries.
type WhitelistRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewWhitelistRepository creates a new whitelist repository.
func NewWhitelistRepository(db *pgxpool.Pool, logger *zap.Logger) *WhitelistRepository {
	return &WhitelistRepository{
		db:     db,
		logger: logger,
	}
}

// FindActive looks up one active, unexpired whitelist entry. Absence is
// (nil, nil), not an error.
func (r *WhitelistRepository) FindActive(ctx context.Context, userID uuid.UUID, contactPhone string) (*models.WhitelistEntry, error) {
	start := time.Now()
	defer func() {
		r.logger.Debug("whitelist lookup completed",
			zap.Duration("duration", time.Since(start)),
			zap.String("user_id", userID.String()))
	}()

	query := `
		SELECT id, user_id, contact_phone, contact_name, whitelist_type,
		       confidence_score, is_active, expires_at, hit_count, last_hit_at,
		       created_at, updated_at
		FROM whitelist_entries
		WHERE user_id = $1 AND contact_phone = $2
		  AND is_active = true
		  AND (expires_at IS NULL OR expires_at > NOW())
		LIMIT 1`

	var entry models.WhitelistEntry
	err := r.db.QueryRow(ctx, query, userID, contactPhone).Scan(
		&entry.ID, &entry.UserID, &entry.ContactPhone, &entry.ContactName,
		&entry.WhitelistType, &entry.ConfidenceScore, &entry.IsActive,
		&entry.ExpiresAt, &entry.HitCount, &entry.LastHitAt,
		&entry.CreatedAt, &entry.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to lookup whitelist entry",
			zap.Error(err),
			zap.String("user_id", userID.String()))
		return nil, fmt.Errorf("failed to lookup whitelist entry: %w", err)
	}

	return &entry, nil
}

// RecordHit atomically increments the hit count for a whitelist entry.
func (r *WhitelistRepository) RecordHit(ctx context.Context, entryID uuid.UUID) error {
	query := `
		UPDATE whitelist_entries
		SET hit_count = hit_count + 1,
		    last_hit_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, entryID)
	if err != nil {
		r.logger.Error("failed to record whitelist hit",
			zap.Error(err),
			zap.String("entry_id", entryID.String()))
		return fmt.Errorf("failed to record whitelist hit: %w", err)
	}

	return nil
}

// Create creates a new whitelist entry.
func (r *WhitelistRepository) Create(ctx context.Context, req *models.CreateWhitelistRequest) (*models.WhitelistEntry, error) {
	confidenceScore := 1.0
	if req.ConfidenceScore != nil {
		confidenceScore = *req.ConfidenceScore
	}

	now := time.Now()
	entry := &models.WhitelistEntry{
		ID:              uuid.New(),
		UserID:          req.UserID,
		ContactPhone:    req.ContactPhone,
		ContactName:     req.ContactName,
		WhitelistType:   req.WhitelistType,
		ConfidenceScore: confidenceScore,
		IsActive:        true,
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	query := `
		INSERT INTO whitelist_entries (
			id, user_id, contact_phone, contact_name, whitelist_type,
			confidence_score, is_active, expires_at, hit_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, contact_phone) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.ContactPhone, entry.ContactName,
		entry.WhitelistType, entry.ConfidenceScore, entry.IsActive,
		entry.ExpiresAt, entry.HitCount, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create whitelist entry",
			zap.Error(err),
			zap.String("user_id", req.UserID.String()))
		return nil, fmt.Errorf("failed to create whitelist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyExists
	}

	r.logger.Info("whitelist entry created",
		zap.String("entry_id", entry.ID.String()),
		zap.String("user_id", entry.UserID.String()),
		zap.String("whitelist_type", string(entry.WhitelistType)))

	return entry, nil
}

// ListByUser returns a user's whitelist entries, newest first.
func (r *WhitelistRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.WhitelistEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, user_id, contact_phone, contact_name, whitelist_type,
		       confidence_score, is_active, expires_at, hit_count, last_hit_at,
		       created_at, updated_at
		FROM whitelist_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.WhitelistEntry
	for rows.Next() {
		var entry models.WhitelistEntry
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.ContactPhone, &entry.ContactName,
			&entry.WhitelistType, &entry.ConfidenceScore, &entry.IsActive,
			&entry.ExpiresAt, &entry.HitCount, &entry.LastHitAt,
			&entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Delete removes a whitelist entry owned by the user.
func (r *WhitelistRepository) Delete(ctx context.Context, userID, entryID uuid.UUID) error {
	query := `DELETE FROM whitelist_entries WHERE id = $1 AND user_id = $2`

	tag, err := r.db.Exec(ctx, query, entryID, userID)
	if err != nil {
		r.logger.Error("failed to delete whitelist entry",
			zap.Error(err),
			zap.String("entry_id", entryID.String()))
		return fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("whitelist entry deleted",
		zap.String("entry_id", entryID.String()),
		zap.String("user_id", userID.String()))

	return nil
}

// DeactivateExpired flips expired entries to inactive in one bounded batch
// and returns how many were touched.
func (r *WhitelistRepository) DeactivateExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	query := `
		UPDATE whitelist_entries
		SET is_active = false, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM whitelist_entries
			WHERE is_active = true AND expires_at IS NOT NULL AND expires_at <= NOW()
			LIMIT $1
		)`

	tag, err := r.db.Exec(ctx, query, batchSize)
	if err != nil {
		r.logger.Error("failed to deactivate expired entries", zap.Error(err))
		return 0, fmt.Errorf("failed to deactivate expired entries: %w", err)
	}

	return tag.RowsAffected(), nil
}
