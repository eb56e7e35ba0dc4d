// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for ChatMessage.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// CreateMessage inserts a new chat message row; the ID is assigned by SQLite.
func CreateMessage(ctx context.Context, db *gorm.DB, senderID, senderRole, text string, at time.Time) (*domain.ChatMessage, error) {
	m := &domain.ChatMessage{
		SenderID:   senderID,
		SenderRole: senderRole,
		Message:    text,
		CreatedAt:  at.UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// CreateAnnouncement inserts the store's chat announcement for a new request
// of kind.
func CreateAnnouncement(ctx context.Context, db *gorm.DB, storeID string, kind domain.RequestKind, text string, at time.Time) (*domain.ChatMessage, error) {
	m := &domain.ChatMessage{
		SenderID:    storeID,
		SenderRole:  domain.RoleStore,
		Message:     text,
		CreatedAt:   at.UTC(),
		RequestKind: kind,
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// ListMessages returns up to limit messages newest first. When afterID > 0
// only messages with a greater ID are returned. limit <= 0 means no limit.
func ListMessages(ctx context.Context, db *gorm.DB, limit int, afterID uint64) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	q := db.WithContext(ctx).Order("id DESC")
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// LatestMessage returns the newest message or ErrNotFound on an empty table.
func LatestMessage(ctx context.Context, db *gorm.DB) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := db.WithContext(ctx).Order("id DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
