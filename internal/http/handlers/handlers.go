package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/services"
	"github.com/tbourn/go-dispatch-backend/internal/utils"
)

// RequestService is the status-request surface consumed by the handlers.
type RequestService interface {
	CreateRequest(ctx context.Context, storeID, kind, message string) (*domain.StatusRequest, error)
	CreateRequestOnce(ctx context.Context, storeID, kind, message string, r services.Retry) (*domain.StatusRequest, bool, error)
	GetActiveRequest(ctx context.Context, storeID, kind string) (*domain.StatusRequest, error)
	QuotaStatus(ctx context.Context, storeID, kind string) (services.QuotaStatus, error)
	GetRequest(ctx context.Context, id string) (*domain.StatusRequest, error)
	ListRequests(ctx context.Context, storeID, kind string, page, pageSize int) ([]domain.StatusRequest, int64, error)
	Now() time.Time
}

// VisitService records guided visits.
type VisitService interface {
	RecordVisit(ctx context.Context, in services.VisitInput) (*services.VisitOutcome, error)
	ListToday(ctx context.Context, storeID string) ([]domain.VisitReport, error)
}

// MessageService is the staff chat surface.
type MessageService interface {
	Post(ctx context.Context, senderID, senderRole, text string) (*domain.ChatMessage, error)
	List(ctx context.Context, limit int, afterID uint64) ([]domain.ChatMessage, error)
	Latest(ctx context.Context) (*domain.ChatMessage, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	reqSvc   RequestService
	visitSvc VisitService
	msgSvc   MessageService

	// IdempotencyTTL bounds how long a create can be replayed.
	IdempotencyTTL time.Duration
}

// New binds the handlers to their services.
func New(reqSvc RequestService, visitSvc VisitService, msgSvc MessageService) *Handlers {
	return &Handlers{
		reqSvc:         reqSvc,
		visitSvc:       visitSvc,
		msgSvc:         msgSvc,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// requestDB exposes the concrete service's DB for ETag and idempotency
// lookups. Stubs return nil and those features are skipped.
func (h *Handlers) requestDB() *gorm.DB {
	if svc, ok := h.reqSvc.(*services.RequestService); ok {
		return svc.DB
	}
	return nil
}

func (h *Handlers) messageDB() *gorm.DB {
	if svc, ok := h.msgSvc.(*services.MessageService); ok {
		return svc.DB
	}
	return nil
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size, bounding page_size to [1, 100].
func clampPagination(c *gin.Context) (page, pageSize int) {
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"), 20, 100)
	return p.Number, p.Size
}

// notModified sets etag and reports whether If-None-Match already holds it,
// in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
