// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// StatusRequest model, including the conditional consume write.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// InsertRequest persists a new status request. Timestamps are normalized to UTC.
func InsertRequest(ctx context.Context, db *gorm.DB, r *domain.StatusRequest) error {
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	return db.WithContext(ctx).Create(r).Error
}

// GetRequest fetches a request by ID or returns ErrNotFound.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.StatusRequest, error) {
	var r domain.StatusRequest
	err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRequestsInRange counts requests of kind created for storeID in [from, to).
func CountRequestsInRange(ctx context.Context, db *gorm.DB, storeID string, kind domain.RequestKind, from, to time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.StatusRequest{}).
		Where("store_id = ? AND kind = ? AND created_at >= ? AND created_at < ?", storeID, kind, from.UTC(), to.UTC()).
		Count(&n).Error
	return n, err
}

// LatestActiveRequest returns the most recent request that is neither consumed
// nor past its expiry at now. Expiry is inclusive: expires_at == now is active.
func LatestActiveRequest(ctx context.Context, db *gorm.DB, storeID string, kind domain.RequestKind, now time.Time) (*domain.StatusRequest, error) {
	var r domain.StatusRequest
	err := db.WithContext(ctx).
		Where("store_id = ? AND kind = ? AND is_consumed = ? AND expires_at >= ?", storeID, kind, false, now.UTC()).
		Order("created_at DESC, id DESC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRequests counts a store's requests, optionally filtered by kind.
func CountRequests(ctx context.Context, db *gorm.DB, storeID string, kind domain.RequestKind) (int64, error) {
	var n int64
	err := requestScope(db.WithContext(ctx).Model(&domain.StatusRequest{}), storeID, kind).Count(&n).Error
	return n, err
}

// ListRequestsPage returns a page of a store's requests ordered newest first.
func ListRequestsPage(ctx context.Context, db *gorm.DB, storeID string, kind domain.RequestKind, offset, limit int) ([]domain.StatusRequest, error) {
	var out []domain.StatusRequest
	err := requestScope(db.WithContext(ctx), storeID, kind).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func requestScope(q *gorm.DB, storeID string, kind domain.RequestKind) *gorm.DB {
	q = q.Where("store_id = ?", storeID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	return q
}

// OldestConsumable returns the oldest unconsumed request for storeID whose kind
// is in kinds and whose created_at falls in [from, to]. ErrNotFound when none.
func OldestConsumable(ctx context.Context, db *gorm.DB, storeID string, kinds []domain.RequestKind, from, to time.Time) (*domain.StatusRequest, error) {
	if len(kinds) == 0 {
		return nil, ErrNotFound
	}
	var r domain.StatusRequest
	err := db.WithContext(ctx).
		Where("store_id = ? AND kind IN ? AND is_consumed = ? AND created_at >= ? AND created_at <= ?",
			storeID, kinds, false, from.UTC(), to.UTC()).
		Order("created_at ASC, id ASC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ConsumeRequest flips is_consumed false→true for id with a conditional
// UPDATE. It reports whether this call performed the transition; false with a
// nil error means the request was already consumed (or does not exist).
func ConsumeRequest(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.StatusRequest{}).
		Where("id = ? AND is_consumed = ?", id, false).
		Updates(map[string]any{
			"is_consumed": true,
			"consumed_at": at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
