package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
	"github.com/tbourn/go-dispatch-backend/internal/services"
)

var jst = time.FixedZone("JST", 9*3600)

type apiFixture struct {
	db  *gorm.DB
	clk *clock.Manual
	r   *gin.Engine
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.ChatMessage{}, &domain.StatusRequest{}, &domain.VisitReport{}, &domain.IdempotencyKey{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newAPI wires real services over an in-memory DB behind the middleware the
// handlers rely on.
func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		db:  newTestDB(t),
		clk: clock.NewManual(time.Date(2025, 7, 10, 12, 0, 0, 0, jst)),
	}
	biz := clock.New(jst, 1, f.clk)
	live := config.NewLive(config.Coordination{
		ValidityWindow: time.Hour,
		MonthlyQuotaByKind: map[string]int{
			string(domain.KindFirstTimeGuest): 1,
			string(domain.KindReturningGuest): 4,
			string(domain.KindStaffCall):      30,
		},
		HeartbeatInterval: 30 * time.Second,
		PollInterval:      30 * time.Second,
		KeepaliveInterval: 5 * time.Second,
	})

	h := New(
		services.NewRequestService(f.db, biz, live, nil),
		services.NewVisitService(f.db, biz, live, nil),
		services.NewMessageService(f.db, biz, nil),
	)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity(), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	api := r.Group("/api/v1")
	api.POST("/stores/:store_id/requests", h.CreateRequest)
	api.GET("/stores/:store_id/requests", h.ListRequests)
	api.GET("/stores/:store_id/requests/active", h.GetActiveRequest)
	api.GET("/stores/:store_id/quota", h.GetQuota)
	api.GET("/requests/:id", h.GetRequest)
	api.POST("/stores/:store_id/visits", h.RecordVisit)
	api.GET("/stores/:store_id/visits/today", h.ListVisitsToday)
	api.GET("/messages", h.ListMessages)
	api.GET("/messages/latest", h.LatestMessage)
	api.POST("/messages", h.PostMessage)
	f.r = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v; body=%s", v, err, w.Body.String())
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d; body=%s", w.Code, status, w.Body.String())
	}
	if er := decode[ErrorResponse](t, w); er.Code != code || er.RequestID == "" {
		t.Fatalf("error body=%+v want code %q", er, code)
	}
}

func store(id string) map[string]string {
	return map[string]string{middleware.HeaderUserID: id, middleware.HeaderUserRole: domain.RoleStore}
}
