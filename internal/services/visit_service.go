// Package services – VisitService
//
// VisitService is the request lifecycle engine. Recording a visit report is
// the only way a request becomes Consumed; expiry is never written and is
// derived by readers from expires_at.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

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

// VisitInput is a field report as submitted by staff.
type VisitInput struct {
	StoreID    string
	StaffID    string
	GuestCount int
	// GuidedAt defaults to the current business time when zero.
	GuidedAt time.Time
}

// VisitOutcome is the stored report and the request it consumed, if any.
type VisitOutcome struct {
	Visit    domain.VisitReport    `json:"visit"`
	Consumed *domain.StatusRequest `json:"consumed_request,omitempty"`
}

// VisitService records visit reports and consumes matching requests.
type VisitService struct {
	DB    *gorm.DB
	Clock *clock.Business
	Coord CoordinationSource
	Pub   realtime.Publisher
	Log   zerolog.Logger

	// Kinds lists the request kinds a visit may consume.
	Kinds []domain.RequestKind
}

// NewVisitService constructs a VisitService consuming domain.ConsumableKinds.
func NewVisitService(db *gorm.DB, clk *clock.Business, coord CoordinationSource, pub realtime.Publisher) *VisitService {
	return &VisitService{
		DB:    db,
		Clock: clk,
		Coord: coord,
		Pub:   pub,
		Log:   zerolog.Nop(),
		Kinds: domain.ConsumableKinds,
	}
}

// RecordVisit stores the report and, in the same transaction, consumes the
// oldest Active request of a consumable kind created no more than one
// validity window before GuidedAt.
//
// The consume is a conditional write (is_consumed = false). When another
// report wins the race the write affects no row; that is success, and this
// report neither retries nor tries another request.
func (s *VisitService) RecordVisit(ctx context.Context, in VisitInput) (*VisitOutcome, error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "RecordVisit",
		trace.WithAttributes(
			attribute.String("store.id", in.StoreID),
			attribute.String("staff.id", in.StaffID),
		),
	)
	defer span.End()

	in.StoreID = strings.TrimSpace(in.StoreID)
	in.StaffID = strings.TrimSpace(in.StaffID)
	switch {
	case in.StoreID == "":
		return nil, ErrEmptyStore
	case in.StaffID == "":
		return nil, ErrEmptyStaff
	case in.GuestCount <= 0:
		return nil, ErrInvalidGuests
	}
	now := s.Clock.Now()
	if in.GuidedAt.IsZero() {
		in.GuidedAt = now
	}
	guided := in.GuidedAt.UTC()
	window := s.Coord.Current().ValidityWindow

	out := &VisitOutcome{
		Visit: domain.VisitReport{
			ID:         newID(),
			StoreID:    in.StoreID,
			StaffID:    in.StaffID,
			GuestCount: in.GuestCount,
			GuidedAt:   guided,
			CreatedAt:  now.UTC(),
		},
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateVisitReport(ctx, tx, &out.Visit); err != nil {
			return err
		}
		cand, err := repo.OldestConsumable(ctx, tx, in.StoreID, s.Kinds, guided.Add(-window), guided)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		won, err := repo.ConsumeRequest(ctx, tx, cand.ID, guided)
		if err != nil {
			return err
		}
		if !won {
			consumeRaceLost.Inc()
			s.Log.Debug().Str("request_id", cand.ID).Msg("request already consumed by another report")
			return nil
		}
		cand.IsConsumed = true
		cand.ConsumedAt = &guided
		out.Consumed = cand
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, storageErr(err)
	}

	if c := out.Consumed; c != nil {
		requestsConsumed.WithLabelValues(string(c.Kind)).Inc()
		s.Log.Info().Str("store_id", c.StoreID).Str("request_id", c.ID).
			Time("consumed_at", guided).Msg("status request consumed")
		publishEvent(s.Pub, s.Log, realtime.RequestsTopic(c.StoreID), "status_requests", realtime.OpUpdate, c.View(now))
	}
	return out, nil
}

// ListToday returns the store's visit reports guided within the current
// operating day, oldest first.
func (s *VisitService) ListToday(ctx context.Context, storeID string) ([]domain.VisitReport, error) {
	from, to := s.Clock.OperatingDayRange(s.Clock.Now())
	out, err := repo.ListVisitReportsInRange(ctx, s.DB, storeID, from, to)
	if err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}
