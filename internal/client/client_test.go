package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
)

type recorded struct {
	method, path, query, actor, role, body string
}

type journal struct {
	mu   sync.Mutex
	reqs []recorded
}

func (j *journal) at(i int) recorded {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i < 0 {
		i += len(j.reqs)
	}
	return j.reqs[i]
}

func newServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*Client, *journal) {
	t.Helper()
	seen := &journal{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, recorded{
			method: r.Method, path: r.URL.Path, query: r.URL.RawQuery,
			actor: r.Header.Get("X-User-ID"), role: r.Header.Get("X-User-Role"), body: string(b),
		})
		seen.mu.Unlock()
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"not_found","message":"route not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, ActorID: "staff-7", Role: "staff", WatchKind: "first_time_guest"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, seen
}

func reply(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8080", "ftp://x", "http://"} {
		if _, err := New(Options{BaseURL: u}); err == nil {
			t.Fatalf("expected error for %q", u)
		}
	}
}

func TestPing_SendsIdentityHeaders(t *testing.T) {
	c, seen := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /health": reply(200, `{"status":"ok"}`),
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	got := seen.at(0)
	if got.actor != "staff-7" || got.role != "staff" {
		t.Fatalf("headers: %+v", got)
	}
}

func TestLatestMessage_EmptyChatIsNil(t *testing.T) {
	c, _ := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/v1/messages/latest": reply(404, `{"code":"not_found","message":"message not found"}`),
	})
	m, err := c.LatestMessage(context.Background())
	if err != nil || m != nil {
		t.Fatalf("want nil,nil got %v,%v", m, err)
	}
}

func TestLatestMessage_Decodes(t *testing.T) {
	c, _ := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/v1/messages/latest": reply(200, `{"id":42,"sender_id":"s-1","sender_role":"store","message":"hi"}`),
	})
	m, err := c.LatestMessage(context.Background())
	if err != nil {
		t.Fatalf("LatestMessage: %v", err)
	}
	if m.ID != 42 || m.SenderRole != domain.RoleStore || m.Message != "hi" {
		t.Fatalf("got %+v", m)
	}
}

func TestAPIError_Surfaced(t *testing.T) {
	c, _ := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/v1/messages": reply(400, `{"request_id":"rid-1","code":"bad_request","message":"message is empty"}`),
	})
	_, err := c.PostMessage(context.Background(), " ")
	if !IsCode(err, "bad_request") {
		t.Fatalf("want bad_request, got %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("error text: %v", err)
	}
}

func TestMessages_Query(t *testing.T) {
	c, seen := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/v1/messages": reply(200, `{"messages":[{"id":3},{"id":2}]}`),
	})
	msgs, err := c.Messages(context.Background(), 5, 1)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 3 {
		t.Fatalf("got %+v", msgs)
	}
	if q := seen.at(0).query; q != "after_id=1&limit=5" {
		t.Fatalf("query=%q", q)
	}
}

func TestActiveRequest_NoneIsNil(t *testing.T) {
	c, seen := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/v1/stores/s-1/requests/active": reply(404, `{"code":"no_active_request","message":"no active request"}`),
	})
	v, err := c.ActiveRequest(context.Background(), "s-1", "first_time_guest")
	if err != nil || v != nil {
		t.Fatalf("want nil,nil got %v,%v", v, err)
	}
	if q := seen.at(0).query; q != "kind=first_time_guest" {
		t.Fatalf("query=%q", q)
	}
}

func TestRecordVisit_BodyCarriesActor(t *testing.T) {
	c, seen := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/v1/stores/s-1/visits": reply(201, `{"visit":{"id":"v1","store_id":"s-1","staff_id":"staff-7","guest_count":2},"consumed_request":{"id":"r1","is_consumed":true}}`),
	})
	out, err := c.RecordVisit(context.Background(), "s-1", 2)
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	if out.Consumed == nil || out.Consumed.ID != "r1" || out.Visit.GuestCount != 2 {
		t.Fatalf("outcome: %+v", out)
	}
	body := seen.at(0).body
	if !strings.Contains(body, `"staff_id":"staff-7"`) || !strings.Contains(body, `"guest_count":2`) {
		t.Fatalf("body=%s", body)
	}
}

func TestFetch_ByTopic(t *testing.T) {
	c, seen := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/v1/messages":            reply(200, `{"messages":[{"id":9}]}`),
		"GET /api/v1/messages/latest":     reply(200, `{"id":9}`),
		"GET /api/v1/stores/s-1/requests": reply(200, `{"requests":[{"id":"r1","store_id":"s-1","kind":"first_time_guest"}]}`),
		"GET /api/v1/stores/s-2/requests": reply(200, `{"requests":[]}`),
	})
	ctx := context.Background()

	v, err := c.Fetch(ctx, realtime.TopicStaffChat)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if snap, ok := v.(ChatSnapshot); !ok || len(snap.Messages) != 1 {
		t.Fatalf("chat snapshot: %#v", v)
	}

	v, err = c.Fetch(ctx, realtime.TopicStaffPush)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if m, ok := v.(*domain.ChatMessage); !ok || m.ID != 9 {
		t.Fatalf("push snapshot: %#v", v)
	}

	v, err = c.Fetch(ctx, realtime.RequestsTopic("s-1"))
	if err != nil {
		t.Fatalf("requests: %v", err)
	}
	rs, ok := v.(RequestsSnapshot)
	if !ok || rs.StoreID != "s-1" || rs.Latest == nil || rs.Latest.ID != "r1" {
		t.Fatalf("requests snapshot: %#v", v)
	}
	last := seen.at(-1)
	if !strings.Contains(last.query, "kind=first_time_guest") || !strings.Contains(last.query, "page_size=1") {
		t.Fatalf("query=%q", last.query)
	}

	v, err = c.Fetch(ctx, realtime.RequestsTopic("s-2"))
	if err != nil {
		t.Fatalf("requests empty: %v", err)
	}
	if rs := v.(RequestsSnapshot); rs.Latest != nil {
		t.Fatalf("want no latest, got %+v", rs.Latest)
	}

	if _, err := c.Fetch(ctx, "bogus"); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}
