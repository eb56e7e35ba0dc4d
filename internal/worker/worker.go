// Package worker implements the staff-side background worker: it outlives
// the foreground UI, emits liveness heartbeats, polls for the latest chat
// message as a fallback to realtime delivery, handles out-of-band push
// payloads and routes notification clicks.
//
// The worker shares no state with the foreground. It talks to it only
// through channels: heartbeats out, restart commands in.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

var (
	// ErrMalformedPushPayload marks a push body that could not be decoded.
	// It is logged and the worker falls back to the latest message.
	ErrMalformedPushPayload = errors.New("worker: malformed push payload")
	// ErrChannelUnavailable marks a transient failure reaching the server.
	// It is retried on the next tick and never surfaced.
	ErrChannelUnavailable = errors.New("worker: channel unavailable")
	// ErrRunning is returned by Start on a worker that is already running.
	ErrRunning = errors.New("worker: already running")
)

// Default intervals.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPollInterval      = 30 * time.Second
	DefaultKeepaliveInterval = 5 * time.Second
)

// MessageSource reads the most recent chat message. It returns (nil, nil)
// when there are no messages.
type MessageSource interface {
	LatestMessage(ctx context.Context) (*domain.ChatMessage, error)
}

// Pinger performs the keepalive action.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Notifier is the host notification surface.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ClientMessage is posted to an open foreground client on click.
type ClientMessage struct {
	View     string `json:"view"`
	EntityID string `json:"entity_id"`
}

// ClientHost finds or opens foreground clients.
type ClientHost interface {
	// FocusAndPost focuses an open client and posts it msg. It reports
	// false when no client is open.
	FocusAndPost(ctx context.Context, msg ClientMessage) (bool, error)
	// Open starts a new client at url.
	Open(ctx context.Context, url string) error
}

// ClickEvent is a notification activation.
type ClickEvent struct {
	Action string           `json:"action"`
	Data   NotificationData `json:"data"`
}

// Heartbeat is the liveness signal sent to attached foreground clients.
type Heartbeat struct {
	Seq uint64
	At  time.Time
}

// Command is a foreground to worker instruction.
type Command int

const (
	// CmdRestart resets the worker's timers and its last-seen marker.
	CmdRestart Command = iota + 1
)

// Config holds the worker intervals; zero values take the defaults.
type Config struct {
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
}

// Worker is one background worker instance. All timer state lives on the
// instance so independent workers can run side by side.
type Worker struct {
	cfg    Config
	src    MessageSource
	ping   Pinger
	notify Notifier
	host   ClientHost
	clock  clock.Clock
	log    zerolog.Logger

	mu      sync.Mutex
	marker  uint64 // LastSeenMarker, process-local
	sinks   []chan<- Heartbeat
	seq     uint64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	cmds   chan Command
	pushes chan []byte
	clicks chan ClickEvent
}

// New builds a worker. ping and host may be nil; the keepalive then does
// nothing and clicks are dropped.
func New(cfg Config, src MessageSource, ping Pinger, notify Notifier, host ClientHost, log zerolog.Logger) *Worker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	return &Worker{
		cfg:    cfg,
		src:    src,
		ping:   ping,
		notify: notify,
		host:   host,
		clock:  clock.System{},
		log:    log.With().Str("component", "worker").Logger(),
		cmds:   make(chan Command, 1),
		pushes: make(chan []byte, 16),
		clicks: make(chan ClickEvent, 16),
	}
}

// WithClock replaces the clock used to stamp heartbeats.
func (w *Worker) WithClock(c clock.Clock) *Worker {
	w.clock = c
	return w
}

// Attach registers a heartbeat sink. Sends never block; a sink that is not
// keeping up misses beats.
func (w *Worker) Attach(ch chan<- Heartbeat) {
	w.mu.Lock()
	w.sinks = append(w.sinks, ch)
	w.mu.Unlock()
}

// LastSeen returns the id of the last message the worker notified about.
func (w *Worker) LastSeen() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marker
}

// Start launches the worker loop. It returns ErrRunning if already started.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.marker = 0
	go w.loop(ctx, w.done)
	return nil
}

// Stop halts the worker loop and waits for it to exit. Stop on a stopped
// worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
}

// Commands returns the channel the foreground uses to send commands.
func (w *Worker) Commands() chan<- Command { return w.cmds }

// Restart asks the running loop to reset its timers and marker. A restart
// already queued absorbs this one.
func (w *Worker) Restart() {
	select {
	case w.cmds <- CmdRestart:
	default:
	}
}

// Deliver queues a raw push payload for the worker loop.
func (w *Worker) Deliver(raw []byte) {
	select {
	case w.pushes <- raw:
	default:
		w.log.Warn().Msg("push queue full; relying on next poll")
	}
}

// Click queues a notification click for the worker loop.
func (w *Worker) Click(ev ClickEvent) {
	select {
	case w.clicks <- ev:
	default:
		w.log.Warn().Msg("click queue full; dropping")
	}
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	hb := time.NewTicker(w.cfg.HeartbeatInterval)
	poll := time.NewTicker(w.cfg.PollInterval)
	ka := time.NewTicker(w.cfg.KeepaliveInterval)
	defer hb.Stop()
	defer poll.Stop()
	defer ka.Stop()

	w.log.Info().
		Dur("heartbeat", w.cfg.HeartbeatInterval).
		Dur("poll", w.cfg.PollInterval).
		Dur("keepalive", w.cfg.KeepaliveInterval).
		Msg("worker started")
	w.heartbeat()
	_, _ = w.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return
		case <-hb.C:
			w.heartbeat()
		case <-poll.C:
			_, _ = w.Poll(ctx)
		case <-ka.C:
			w.keepalive(ctx)
		case raw := <-w.pushes:
			_ = w.HandlePush(ctx, raw)
		case ev := <-w.clicks:
			if err := w.HandleClick(ctx, ev); err != nil {
				w.log.Warn().Err(err).Msg("click routing failed")
			}
		case cmd := <-w.cmds:
			if cmd == CmdRestart {
				w.log.Info().Msg("restart requested")
				w.resetMarker()
				hb.Reset(w.cfg.HeartbeatInterval)
				poll.Reset(w.cfg.PollInterval)
				ka.Reset(w.cfg.KeepaliveInterval)
				w.heartbeat()
				_, _ = w.Poll(ctx)
			}
		}
	}
}

func (w *Worker) heartbeat() {
	w.mu.Lock()
	w.seq++
	hb := Heartbeat{Seq: w.seq, At: w.clock.Now()}
	sinks := append([]chan<- Heartbeat(nil), w.sinks...)
	w.mu.Unlock()

	for _, s := range sinks {
		select {
		case s <- hb:
		default:
		}
	}
}

func (w *Worker) keepalive(ctx context.Context) {
	if w.ping == nil {
		return
	}
	if err := w.ping.Ping(ctx); err != nil {
		channelErrors.WithLabelValues("keepalive").Inc()
		w.log.Debug().Err(err).Msg("keepalive failed")
	}
}

func (w *Worker) resetMarker() {
	w.mu.Lock()
	w.marker = 0
	w.mu.Unlock()
}

// advance moves the marker to id and reports whether it changed.
func (w *Worker) advance(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == w.marker {
		return false
	}
	w.marker = id
	return true
}

// Poll fetches the latest message and raises a notification when its id
// differs from the last-seen marker. It reports whether a notification was
// raised. Fetch failures wrap ErrChannelUnavailable.
func (w *Worker) Poll(ctx context.Context) (bool, error) {
	msg, err := w.src.LatestMessage(ctx)
	if err != nil {
		channelErrors.WithLabelValues("poll").Inc()
		w.log.Debug().Err(err).Msg("poll failed; retrying next tick")
		return false, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if msg == nil || !w.advance(msg.ID) {
		return false, nil
	}
	w.raise(ctx, "poll", buildNotification(msg, domain.PushPayload{}))
	return true, nil
}

// HandlePush processes a push payload. The payload is only a hint: the
// latest message is fetched as ground truth and the marker is advanced so
// the next poll does not repeat the notification. A malformed payload is
// logged and treated as empty. When the fetch fails the payload alone is
// shown, if it carries anything to show.
func (w *Worker) HandlePush(ctx context.Context, raw []byte) error {
	var p domain.PushPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			malformedPushes.Inc()
			w.log.Warn().Err(fmt.Errorf("%w: %v", ErrMalformedPushPayload, err)).Msg("push payload ignored")
			p = domain.PushPayload{}
		}
	}

	msg, err := w.src.LatestMessage(ctx)
	if err != nil {
		channelErrors.WithLabelValues("push").Inc()
		w.log.Debug().Err(err).Msg("latest message fetch failed during push")
		if p.Title == "" && p.Body == "" && p.Message == "" {
			return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
		}
		w.raise(ctx, "push", buildNotification(nil, p))
		return nil
	}
	if msg != nil && !w.advance(msg.ID) {
		w.log.Debug().Uint64("message_id", msg.ID).Msg("push for already seen message")
		return nil
	}
	if msg == nil && p.Title == "" && p.Body == "" && p.Message == "" {
		return nil
	}
	w.raise(ctx, "push", buildNotification(msg, p))
	return nil
}

// HandleClick focuses an open client and posts it the target, or opens a
// new client at the target URL when none is open.
func (w *Worker) HandleClick(ctx context.Context, ev ClickEvent) error {
	if ev.Action == "dismiss" || w.host == nil {
		return nil
	}
	view, id := ev.Data.View, ev.Data.EntityID
	if v, eid, ok := ParseTarget(ev.Data.URL); ok && view == "" {
		view = v
		if id == "" {
			id = eid
		}
	}
	if view == "" {
		view = DefaultView
	}

	posted, err := w.host.FocusAndPost(ctx, ClientMessage{View: view, EntityID: id})
	if err != nil {
		w.log.Debug().Err(err).Msg("focus client failed; opening new")
	}
	if posted {
		return nil
	}
	return w.host.Open(ctx, TargetURL(view, id))
}

func (w *Worker) raise(ctx context.Context, source string, n Notification) {
	notificationsShown.WithLabelValues(source, strconv.FormatBool(n.Data.Urgent)).Inc()
	if w.notify == nil {
		return
	}
	if err := w.notify.Notify(ctx, n); err != nil {
		w.log.Warn().Err(err).Str("tag", n.Tag).Msg("notify failed")
	}
}
