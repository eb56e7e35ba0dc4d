// Package services – MessageService
//
// MessageService owns the staff chat log: posting messages, listing them
// newest first with an optional after_id cursor, and fetching the latest
// message that background workers poll as ground truth.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

// ErrMessageNotFound is returned by Latest on an empty chat log.
var ErrMessageNotFound = errors.New("message not found")

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// MessageService coordinates chat message persistence and fan-out.
type MessageService struct {
	DB    *gorm.DB
	Clock *clock.Business
	Pub   realtime.Publisher
	Log   zerolog.Logger

	// MaxRunes caps message length; 0 disables the cap.
	MaxRunes int
}

// NewMessageService constructs a MessageService with a 2000-rune cap.
func NewMessageService(db *gorm.DB, clk *clock.Business, pub realtime.Publisher) *MessageService {
	return &MessageService{DB: db, Clock: clk, Pub: pub, Log: zerolog.Nop(), MaxRunes: 2000}
}

func validRole(role string) bool {
	switch role {
	case domain.RoleStore, domain.RoleStaff, domain.RoleCustomer, domain.RoleSystem:
		return true
	}
	return false
}

// Post validates and stores a chat message, then publishes it on the staff
// chat topic.
func (s *MessageService) Post(ctx context.Context, senderID, senderRole, text string) (*domain.ChatMessage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Post",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("sender.role", senderRole),
		),
	)
	defer span.End()

	senderRole = strings.ToLower(strings.TrimSpace(senderRole))
	if !validRole(senderRole) {
		return nil, ErrInvalidRole
	}
	text = normalizeText(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if tooLong(text, s.MaxRunes) {
		return nil, ErrTooLong
	}

	m, err := repo.CreateMessage(ctx, s.DB, strings.TrimSpace(senderID), senderRole, text, s.Clock.Now())
	if err != nil {
		span.RecordError(err)
		return nil, storageErr(err)
	}
	publishEvent(s.Pub, s.Log, realtime.TopicStaffChat, "chat_messages", realtime.OpInsert, m)
	return m, nil
}

// List returns up to limit messages newest first, optionally only those with
// an ID greater than afterID. limit is clamped to [1, 100], default 20.
func (s *MessageService) List(ctx context.Context, limit int, afterID uint64) ([]domain.ChatMessage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.Int("limit", limit), attribute.Int64("after_id", int64(afterID))))
	defer span.End()

	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	out, err := repo.ListMessages(ctx, s.DB, limit, afterID)
	if err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}

// Latest returns the newest chat message.
func (s *MessageService) Latest(ctx context.Context) (*domain.ChatMessage, error) {
	m, err := repo.LatestMessage(ctx, s.DB)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return m, nil
}
