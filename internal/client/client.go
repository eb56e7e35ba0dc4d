// Package client is the staff process's view of the API server. It backs
// the background worker's message source and keepalive and the connection
// supervisor's refetches.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/observability"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
	"github.com/tbourn/go-dispatch-backend/internal/services"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status    int    `json:"-"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// APIBasePath defaults to /api/v1.
	APIBasePath string
	// ActorID and Role are sent as X-User-ID and X-User-Role.
	ActorID string
	Role    string
	// WatchKind filters the requests snapshot; empty watches every kind.
	WatchKind string
	// Timeout bounds every call; default 10s.
	Timeout    time.Duration
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// Client calls the JSON API.
type Client struct {
	root  string
	api   string
	actor string
	role  string
	watch string
	hc    *http.Client
	log   zerolog.Logger
}

// New validates opts and returns a client.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("client: base URL must be http(s)://host, got %q", opts.BaseURL)
	}
	api := opts.APIBasePath
	if api == "" {
		api = "/api/v1"
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		root:  u.String(),
		api:   "/" + strings.Trim(api, "/"),
		actor: opts.ActorID,
		role:  opts.Role,
		watch: opts.WatchKind,
		hc:    hc,
		log:   opts.Log,
	}, nil
}

// do performs one call. out may be nil. A 304 or empty body leaves out untouched.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, span := otel.Tracer("client").Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target := c.root + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set("X-User-ID", c.actor)
	}
	if c.role != "" {
		req.Header.Set("X-User-Role", c.role)
	}
	observability.InjectHeaders(ctx, req.Header)

	resp, err := c.hc.Do(req)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("client: read %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		ae := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, ae)
		c.log.Debug().Int("status", resp.StatusCode).Str("code", ae.Code).Str("path", path).Msg("api error")
		return ae
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

// Ping hits /health. The worker uses it as its keepalive action.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// LatestMessage returns the newest chat message, or (nil, nil) when the chat
// is empty.
func (c *Client) LatestMessage(ctx context.Context) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := c.do(ctx, http.MethodGet, c.api+"/messages/latest", nil, nil, &m)
	if IsCode(err, "not_found") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Messages lists up to limit messages newer than afterID, newest first.
func (c *Client) Messages(ctx context.Context, limit int, afterID uint64) ([]domain.ChatMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if afterID > 0 {
		q.Set("after_id", strconv.FormatUint(afterID, 10))
	}
	var out struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, c.api+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// PostMessage posts text as the configured actor.
func (c *Client) PostMessage(ctx context.Context, text string) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	body := map[string]string{"message": text}
	if err := c.do(ctx, http.MethodPost, c.api+"/messages", nil, body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ActiveRequest returns the store's active request of kind, or (nil, nil).
func (c *Client) ActiveRequest(ctx context.Context, storeID, kind string) (*domain.RequestView, error) {
	var v domain.RequestView
	q := url.Values{"kind": {kind}}
	err := c.do(ctx, http.MethodGet, c.api+"/stores/"+url.PathEscape(storeID)+"/requests/active", q, nil, &v)
	if IsCode(err, "no_active_request") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LatestRequest returns the store's newest request (optionally of kind) in
// any state, or (nil, nil) when there is none.
func (c *Client) LatestRequest(ctx context.Context, storeID, kind string) (*domain.StatusRequest, error) {
	q := url.Values{"page": {"1"}, "page_size": {"1"}}
	if kind != "" {
		q.Set("kind", kind)
	}
	var out struct {
		Requests []domain.StatusRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, c.api+"/stores/"+url.PathEscape(storeID)+"/requests", q, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Requests) == 0 {
		return nil, nil
	}
	return &out.Requests[0], nil
}

// RecordVisit reports a guided visit by the configured actor.
func (c *Client) RecordVisit(ctx context.Context, storeID string, guests int) (*services.VisitOutcome, error) {
	var out services.VisitOutcome
	body := map[string]any{"staff_id": c.actor, "guest_count": guests}
	if err := c.do(ctx, http.MethodPost, c.api+"/stores/"+url.PathEscape(storeID)+"/visits", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestsSnapshot is the refetched state behind a requests topic.
type RequestsSnapshot struct {
	StoreID string
	Latest  *domain.StatusRequest
}

// ChatSnapshot is the refetched state behind the staff chat topic.
type ChatSnapshot struct {
	Messages []domain.ChatMessage
}

// chatSnapshotSize is how many messages a chat refetch loads.
const chatSnapshotSize = 20

// Fetch loads the authoritative state behind topic. It has the supervisor's
// Fetcher signature.
func (c *Client) Fetch(ctx context.Context, topic string) (any, error) {
	switch topic {
	case realtime.TopicStaffChat:
		msgs, err := c.Messages(ctx, chatSnapshotSize, 0)
		if err != nil {
			return nil, err
		}
		return ChatSnapshot{Messages: msgs}, nil
	case realtime.TopicStaffPush:
		m, err := c.LatestMessage(ctx)
		if err != nil || m == nil {
			return nil, err
		}
		return m, nil
	}
	store, ok := realtime.StoreOf(topic)
	if !ok {
		return nil, fmt.Errorf("client: no snapshot for topic %q", topic)
	}
	r, err := c.LatestRequest(ctx, store, c.watch)
	if err != nil {
		return nil, err
	}
	return RequestsSnapshot{StoreID: store, Latest: r}, nil
}
