// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// RequestStats summarizes a store's requests. Any create or consume changes
// at least one field, which makes it a usable ETag seed.
type RequestStats struct {
	Count           int64
	Consumed        int64
	LatestCreatedAt *time.Time
}

// RequestsStats returns aggregate metadata for a store's requests.
// When the store has no requests, the zero value is returned.
func RequestsStats(ctx context.Context, db *gorm.DB, storeID string) (RequestStats, error) {
	var st RequestStats
	q := db.WithContext(ctx).Model(&domain.StatusRequest{}).Where("store_id = ?", storeID)

	if err := q.Session(&gorm.Session{}).Count(&st.Count).Error; err != nil {
		return RequestStats{}, err
	}
	if st.Count == 0 {
		return st, nil
	}
	if err := q.Session(&gorm.Session{}).Where("is_consumed = ?", true).Count(&st.Consumed).Error; err != nil {
		return RequestStats{}, err
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err := q.Session(&gorm.Session{}).Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return RequestStats{}, err
	}
	st.LatestCreatedAt = &row.CreatedAt
	return st, nil
}

// MessagesStats returns the number of chat messages and the highest ID.
// IDs are monotonic, so maxID changes on every insert.
func MessagesStats(ctx context.Context, db *gorm.DB) (count int64, maxID uint64, err error) {
	q := db.WithContext(ctx).Model(&domain.ChatMessage{})
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}
	var row struct {
		ID uint64
	}
	if err = q.Session(&gorm.Session{}).Select("id").Order("id DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return count, row.ID, nil
}
