// Package services – RequestService
//
// RequestService is the request ledger. It enforces per-store/per-kind quotas,
// creates a request together with its chat announcement in one transaction,
// and answers the read-side questions (active request, monthly count, quota
// status) with expiry derived at read time.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
	"github.com/tbourn/go-dispatch-backend/internal/utils"
)

// CoordinationSource yields the current coordination settings. *config.Live
// satisfies it and picks up hot-reloaded values.
type CoordinationSource interface {
	Current() config.Coordination
}

// ActivePolicy decides what happens when a request is created while another
// of the same kind is still Active for the store.
type ActivePolicy string

const (
	// PolicyAllow lets requests overlap; each is consumed independently.
	PolicyAllow ActivePolicy = "allow"
	// PolicyReject fails the create with ErrRequestActive.
	PolicyReject ActivePolicy = "reject"
)

// QuotaStatus is the quota picture for a (store, kind) pair.
type QuotaStatus struct {
	Kind      domain.RequestKind `json:"kind"`
	Quota     int                `json:"quota"`
	Used      int64              `json:"used"`
	Remaining int64              `json:"remaining"`
	Period    clock.QuotaPeriod  `json:"period"`
}

// RequestService coordinates status request persistence and announcements.
type RequestService struct {
	DB     *gorm.DB
	Clock  *clock.Business
	Coord  CoordinationSource
	Period clock.QuotaPeriod
	Policy ActivePolicy
	// Pub receives change events after commit. Nil disables publishing.
	Pub realtime.Publisher
	Log zerolog.Logger

	// MaxMessageRunes caps the free-text message; 0 disables the cap.
	MaxMessageRunes int
}

// NewRequestService constructs a RequestService with default policy and period.
func NewRequestService(db *gorm.DB, clk *clock.Business, coord CoordinationSource, pub realtime.Publisher) *RequestService {
	return &RequestService{
		DB:              db,
		Clock:           clk,
		Coord:           coord,
		Period:          clock.PeriodCalendar,
		Policy:          PolicyAllow,
		Pub:             pub,
		Log:             zerolog.Nop(),
		MaxMessageRunes: 500,
	}
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// parseKind validates a kind string; it does not check the quota.
func parseKind(kind string) (domain.RequestKind, error) {
	k := domain.RequestKind(strings.ToLower(strings.TrimSpace(kind)))
	if k == "" || strings.ContainsAny(string(k), " \t\n") {
		return "", ErrInvalidKind
	}
	return k, nil
}

// CreateRequest creates a StatusRequest plus its announcement ChatMessage.
//
// Errors:
//   - ErrKindDisabled when the quota for (storeID, kind) is zero
//   - ErrQuotaExceeded when the quota period already holds quota requests
//   - ErrRequestActive when Policy is PolicyReject and one is Active
//   - ErrStorageUnavailable on any persistence failure (nothing is written)
//
// The quota count runs after the inserts inside the same transaction. SQLite
// takes the write lock on the first insert, so concurrent creates serialize
// and cannot both slip under the quota.
func (s *RequestService) CreateRequest(ctx context.Context, storeID, kind, message string) (*domain.StatusRequest, error) {
	return s.create(ctx, storeID, kind, message, nil)
}

// Retry identifies a create that a client may repeat with an Idempotency-Key.
type Retry struct {
	ActorID string
	Scope   string
	Key     string
	// Status is the response status a replay should carry.
	Status int
	TTL    time.Duration
}

// CreateRequestOnce is CreateRequest with the idempotency key stored in the
// same transaction as the request. If another call already holds the key,
// the request it created is returned with replayed=true and no quota is spent.
func (s *RequestService) CreateRequestOnce(ctx context.Context, storeID, kind, message string, r Retry) (*domain.StatusRequest, bool, error) {
	req, err := s.create(ctx, storeID, kind, message, &r)
	if !errors.Is(err, errKeyTaken) {
		return req, false, err
	}
	rec, err := repo.FindIdempotencyKey(ctx, s.DB, r.ActorID, r.Scope, r.Key, s.Clock.Now())
	if err != nil {
		return nil, false, storageErr(err)
	}
	prev, err := repo.GetRequest(ctx, s.DB, rec.RequestID)
	if err != nil {
		return nil, false, storageErr(err)
	}
	return prev, true, nil
}

func (s *RequestService) create(ctx context.Context, storeID, kind, message string, retry *Retry) (*domain.StatusRequest, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "CreateRequest",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("request.kind", kind),
		),
	)
	defer span.End()

	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, ErrEmptyStore
	}
	k, err := parseKind(kind)
	if err != nil {
		return nil, err
	}
	message = normalizeText(message)
	if tooLong(message, s.MaxMessageRunes) {
		return nil, ErrTooLong
	}

	coord := s.Coord.Current()
	quota := coord.Quota(storeID, string(k))
	if quota <= 0 {
		requestsRejected.WithLabelValues(string(k), "kind_disabled").Inc()
		return nil, ErrKindDisabled
	}

	now := s.Clock.Now().UTC()
	from, to := s.Clock.QuotaRange(now, s.Period)

	req := &domain.StatusRequest{
		ID:        newID(),
		StoreID:   storeID,
		Kind:      k,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(coord.ValidityWindow),
	}
	var announcement *domain.ChatMessage

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if retry != nil {
			_, err := repo.SaveIdempotencyKey(ctx, tx, retry.ActorID, retry.Scope, retry.Key, req.ID, retry.Status, now, retry.TTL)
			if errors.Is(err, repo.ErrDuplicate) {
				return errKeyTaken
			}
			if err != nil {
				return storageErr(err)
			}
		}
		m, err := repo.CreateAnnouncement(ctx, tx, storeID, k, announcementText(k, message), now)
		if err != nil {
			return storageErr(err)
		}
		announcement = m
		req.AnnouncementRef = m.ID
		if err := repo.InsertRequest(ctx, tx, req); err != nil {
			return storageErr(err)
		}

		n, err := repo.CountRequestsInRange(ctx, tx, storeID, k, from, to)
		if err != nil {
			return storageErr(err)
		}
		if n > int64(quota) {
			return ErrQuotaExceeded
		}

		if s.Policy == PolicyReject {
			if active, err := s.otherActive(ctx, tx, req, now); err != nil {
				return storageErr(err)
			} else if active {
				return ErrRequestActive
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, errKeyTaken):
		return nil, err
	case errors.Is(err, ErrQuotaExceeded):
		requestsRejected.WithLabelValues(string(k), "quota_exceeded").Inc()
		return nil, err
	case errors.Is(err, ErrRequestActive):
		requestsRejected.WithLabelValues(string(k), "request_active").Inc()
		return nil, err
	case errors.Is(err, ErrStorageUnavailable):
		span.RecordError(err)
		return nil, err
	case err != nil:
		span.RecordError(err)
		return nil, storageErr(err)
	}

	requestsCreated.WithLabelValues(string(k)).Inc()
	s.Log.Info().Str("store_id", storeID).Str("kind", string(k)).Str("request_id", req.ID).
		Time("expires_at", req.ExpiresAt).Msg("status request created")

	s.publish(realtime.TopicStaffChat, "chat_messages", realtime.OpInsert, announcement)
	s.publish(realtime.RequestsTopic(storeID), "status_requests", realtime.OpInsert, req.View(now))
	s.publish(realtime.TopicStaffPush, "push", realtime.OpInsert, domain.PushPayload{
		Title:      k.Label(),
		Body:       message,
		SenderName: storeID,
		Message:    announcement.Message,
		URL:        "/requests/" + req.ID,
		Kind:       string(k),
		EntityID:   req.ID,
	})
	return req, nil
}

// otherActive reports whether an Active request other than req exists.
func (s *RequestService) otherActive(ctx context.Context, tx *gorm.DB, req *domain.StatusRequest, now time.Time) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&domain.StatusRequest{}).
		Where("store_id = ? AND kind = ? AND id <> ? AND is_consumed = ? AND expires_at >= ?",
			req.StoreID, req.Kind, req.ID, false, now.UTC()).
		Count(&n).Error
	return n > 0, err
}

func announcementText(k domain.RequestKind, message string) string {
	if message == "" {
		return k.Label()
	}
	return k.Label() + ": " + message
}

func (s *RequestService) publish(topic, table string, op realtime.Op, row any) {
	publishEvent(s.Pub, s.Log, topic, table, op, row)
}

// GetActiveRequest returns the most recent request of kind that is neither
// consumed nor expired, or ErrNoActiveRequest.
func (s *RequestService) GetActiveRequest(ctx context.Context, storeID, kind string) (*domain.StatusRequest, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "GetActiveRequest",
		trace.WithAttributes(attribute.String("store.id", storeID), attribute.String("request.kind", kind)))
	defer span.End()

	k, err := parseKind(kind)
	if err != nil {
		return nil, err
	}
	r, err := repo.LatestActiveRequest(ctx, s.DB, storeID, k, s.Clock.Now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoActiveRequest
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return r, nil
}

// GetMonthlyCount counts requests of kind created in the current quota period.
func (s *RequestService) GetMonthlyCount(ctx context.Context, storeID, kind string) (int64, error) {
	k, err := parseKind(kind)
	if err != nil {
		return 0, err
	}
	from, to := s.Clock.QuotaRange(s.Clock.Now(), s.Period)
	n, err := repo.CountRequestsInRange(ctx, s.DB, storeID, k, from, to)
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

// QuotaStatus reports quota, usage and remaining creations for (storeID, kind).
func (s *RequestService) QuotaStatus(ctx context.Context, storeID, kind string) (QuotaStatus, error) {
	k, err := parseKind(kind)
	if err != nil {
		return QuotaStatus{}, err
	}
	quota := s.Coord.Current().Quota(storeID, string(k))
	used, err := s.GetMonthlyCount(ctx, storeID, string(k))
	if err != nil {
		return QuotaStatus{}, err
	}
	rem := int64(quota) - used
	if rem < 0 {
		rem = 0
	}
	return QuotaStatus{Kind: k, Quota: quota, Used: used, Remaining: rem, Period: s.Period}, nil
}

// GetRequest fetches a request by ID.
func (s *RequestService) GetRequest(ctx context.Context, id string) (*domain.StatusRequest, error) {
	r, err := repo.GetRequest(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return r, nil
}

// ListRequests returns a page of a store's requests (newest first) and the
// total count. An empty kind lists every kind.
func (s *RequestService) ListRequests(ctx context.Context, storeID, kind string, page, pageSize int) ([]domain.StatusRequest, int64, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "ListRequests",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	var k domain.RequestKind
	if strings.TrimSpace(kind) != "" {
		var err error
		if k, err = parseKind(kind); err != nil {
			return nil, 0, err
		}
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	pg := utils.Page{Number: max(page, 1), Size: utils.Clamp(pageSize, 1, 100)}
	total, err := repo.CountRequests(ctx, s.DB, storeID, k)
	if err != nil {
		return nil, 0, storageErr(err)
	}
	if total == 0 {
		return []domain.StatusRequest{}, 0, nil
	}
	items, err := repo.ListRequestsPage(ctx, s.DB, storeID, k, pg.Offset(), pg.Size)
	if err != nil {
		return nil, 0, storageErr(err)
	}
	return items, total, nil
}

// Now exposes the business clock so handlers derive state consistently.
func (s *RequestService) Now() time.Time { return s.Clock.Now() }
