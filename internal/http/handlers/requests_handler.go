package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
	"github.com/tbourn/go-dispatch-backend/internal/services"
)

// CreateRequestBody is the JSON payload for creating a status request.
type CreateRequestBody struct {
	// Kind is the request category, e.g. first_time_guest.
	Kind string `json:"kind" binding:"required" example:"first_time_guest"`
	// Message is an optional note shown to staff.
	Message string `json:"message" example:"two guests at the door"`
}

// ListRequestsResponse is a page of stored requests. Rows are returned as
// persisted; clients derive state from expires_at and is_consumed.
type ListRequestsResponse struct {
	Requests   []domain.StatusRequest `json:"requests"`
	Pagination Pagination             `json:"pagination"`
}

// CreateRequest godoc
// @ID          createRequest
// @Summary     Create a status request
// @Description Creates a request for the store, spending one unit of the kind's quota, and announces it in the staff chat.
// @Description A retried call with the same Idempotency-Key replays the original request.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Caller id"  example(store-42)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       store_id         path    string  true  "Store id"
// @Param       body             body    handlers.CreateRequestBody  true  "Request payload"
//
// @Success     201  {object}  domain.RequestView
// @Header      201  {string}  Idempotency-Replayed  "true when served from a stored result"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or invalid kind"
// @Failure     403  {object}  handlers.ErrorResponse  "Kind disabled"
// @Failure     409  {object}  handlers.ErrorResponse  "Quota exceeded or request active"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /stores/{store_id}/requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	ctx := c.Request.Context()
	storeID := c.Param("store_id")

	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "kind required")
		return
	}

	actor := middleware.ActorID(c)
	scope := middleware.IdempotencyScope(c)
	key, _ := middleware.GetIdempotencyKey(c)
	db := h.requestDB()

	if key != "" && db != nil {
		rec, err := repo.FindIdempotencyKey(ctx, db, actor, scope, key, h.reqSvc.Now())
		if err == nil {
			if prev, err := repo.GetRequest(ctx, db, rec.RequestID); err == nil {
				c.Header(middleware.HeaderIdempotencyReplayed, "true")
				ok(c, rec.Status, prev.View(h.reqSvc.Now()))
				return
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		}
	}

	var (
		req      *domain.StatusRequest
		replayed bool
		err      error
	)
	if key != "" && scope != "" {
		req, replayed, err = h.reqSvc.CreateRequestOnce(ctx, storeID, body.Kind, body.Message, services.Retry{
			ActorID: actor,
			Scope:   scope,
			Key:     key,
			Status:  http.StatusCreated,
			TTL:     h.IdempotencyTTL,
		})
	} else {
		req, err = h.reqSvc.CreateRequest(ctx, storeID, body.Kind, body.Message)
	}
	if err != nil {
		failService(c, err)
		return
	}
	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusCreated, req.View(h.reqSvc.Now()))
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List a store's requests (paginated)
// @Description Returns the store's requests newest first. Supports weak ETag via If-None-Match.
// @Tags        Requests
// @Produce     json
//
// @Param       store_id       path    string  true  "Store id"
// @Param       kind           query   string  false "Filter by kind"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Invalid kind"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /stores/{store_id}/requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	storeID := c.Param("store_id")
	kind := strings.ToLower(strings.TrimSpace(c.Query("kind")))
	page, pageSize := clampPagination(c)

	if db := h.requestDB(); db != nil {
		if st, err := repo.RequestsStats(ctx, db, storeID); err == nil {
			var ts int64
			if st.LatestCreatedAt != nil {
				ts = st.LatestCreatedAt.UnixNano()
			}
			etag := fmt.Sprintf(`W/"requests:%s:%s:%d:%d:%d:%d:%d"`, storeID, kind, st.Count, st.Consumed, ts, page, pageSize)
			if notModified(c, etag) {
				return
			}
		}
	}

	items, total, err := h.reqSvc.ListRequests(ctx, storeID, kind, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetActiveRequest godoc
// @ID          getActiveRequest
// @Summary     Current active request of a kind
// @Description Returns the newest request of the kind that is neither consumed nor expired.
// @Tags        Requests
// @Produce     json
//
// @Param       store_id  path   string  true  "Store id"
// @Param       kind      query  string  true  "Request kind"
//
// @Success     200  {object} domain.RequestView
// @Failure     400  {object} handlers.ErrorResponse "Invalid kind"
// @Failure     404  {object} handlers.ErrorResponse "No active request"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /stores/{store_id}/requests/active [get]
func (h *Handlers) GetActiveRequest(c *gin.Context) {
	r, err := h.reqSvc.GetActiveRequest(c.Request.Context(), c.Param("store_id"), c.Query("kind"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, r.View(h.reqSvc.Now()))
}

// GetQuota godoc
// @ID          getQuota
// @Summary     Quota usage for a kind
// @Tags        Requests
// @Produce     json
//
// @Param       store_id  path   string  true  "Store id"
// @Param       kind      query  string  true  "Request kind"
//
// @Success     200  {object} services.QuotaStatus
// @Failure     400  {object} handlers.ErrorResponse "Invalid kind"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /stores/{store_id}/quota [get]
func (h *Handlers) GetQuota(c *gin.Context) {
	q, err := h.reqSvc.QuotaStatus(c.Request.Context(), c.Param("store_id"), c.Query("kind"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Fetch a request by id
// @Tags        Requests
// @Produce     json
//
// @Param       id  path  string  true  "Request id (UUID)"  format(uuid)
//
// @Success     200  {object} domain.RequestView
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	r, err := h.reqSvc.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, r.View(h.reqSvc.Now()))
}
