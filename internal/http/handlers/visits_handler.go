package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
	"github.com/tbourn/go-dispatch-backend/internal/services"
)

// RecordVisitBody is the JSON payload for a visit report.
type RecordVisitBody struct {
	// StaffID defaults to the caller's X-User-ID.
	StaffID    string `json:"staff_id" example:"staff-7"`
	GuestCount int    `json:"guest_count" binding:"required" example:"2"`
	// GuidedAt defaults to now.
	GuidedAt *time.Time `json:"guided_at,omitempty"`
}

// ListVisitsResponse wraps today's visit reports.
type ListVisitsResponse struct {
	Visits []domain.VisitReport `json:"visits"`
}

// RecordVisit godoc
// @ID          recordVisit
// @Summary     Record a guided visit
// @Description Stores a visit report. The oldest active first-time or returning guest request in the validity window is consumed.
// @Tags        Visits
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Staff id, used when body.staff_id is empty"
// @Param       store_id   path    string  true  "Store id"
// @Param       body       body    handlers.RecordVisitBody  true  "Visit payload"
//
// @Success     201  {object} services.VisitOutcome
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /stores/{store_id}/visits [post]
func (h *Handlers) RecordVisit(c *gin.Context) {
	var body RecordVisitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "guest_count required")
		return
	}
	staff := strings.TrimSpace(body.StaffID)
	if staff == "" {
		if actor := middleware.ActorID(c); actor != middleware.AnonymousActor {
			staff = actor
		}
	}
	in := services.VisitInput{
		StoreID:    c.Param("store_id"),
		StaffID:    staff,
		GuestCount: body.GuestCount,
	}
	if body.GuidedAt != nil {
		in.GuidedAt = *body.GuidedAt
	}

	out, err := h.visitSvc.RecordVisit(c.Request.Context(), in)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, out)
}

// ListVisitsToday godoc
// @ID          listVisitsToday
// @Summary     Visit reports of the current operating day
// @Tags        Visits
// @Produce     json
//
// @Param       store_id  path  string  true  "Store id"
//
// @Success     200  {object} handlers.ListVisitsResponse
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /stores/{store_id}/visits/today [get]
func (h *Handlers) ListVisitsToday(c *gin.Context) {
	items, err := h.visitSvc.ListToday(c.Request.Context(), c.Param("store_id"))
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.VisitReport{}
	}
	ok(c, http.StatusOK, ListVisitsResponse{Visits: items})
}
