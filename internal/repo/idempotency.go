package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// ErrDuplicate indicates that a key already exists for (actor_id, scope, key).
var ErrDuplicate = errors.New("duplicate")

// FindIdempotencyKey returns the live key or ErrNotFound. An empty scope
// never matches.
func FindIdempotencyKey(ctx context.Context, db *gorm.DB, actorID, scope, key string, now time.Time) (*domain.IdempotencyKey, error) {
	if strings.TrimSpace(scope) == "" {
		return nil, ErrNotFound
	}
	var rec domain.IdempotencyKey
	err := db.WithContext(ctx).
		Where("actor_id = ? AND scope = ? AND key = ? AND expires_at > ?", actorID, scope, key, now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotencyKey records that key produced requestID with status. An
// expired row for the same key is replaced. It returns ErrDuplicate when a
// live row exists, for example one stored by a concurrent retry.
func SaveIdempotencyKey(ctx context.Context, db *gorm.DB, actorID, scope, key, requestID string, status int, now time.Time, ttl time.Duration) (*domain.IdempotencyKey, error) {
	now = now.UTC()
	if err := db.WithContext(ctx).
		Where("actor_id = ? AND scope = ? AND key = ? AND expires_at <= ?", actorID, scope, key, now).
		Delete(&domain.IdempotencyKey{}).Error; err != nil {
		return nil, err
	}
	rec := &domain.IdempotencyKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Scope:     scope,
		Key:       key,
		RequestID: requestID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeIdempotencyKeys deletes keys that expired at or before now.
func PurgeIdempotencyKeys(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.IdempotencyKey{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation matches gorm's translated error and the plain-text
// UNIQUE failures glebarez/sqlite returns.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") || strings.Contains(low, "constraint failed: unique")
}
