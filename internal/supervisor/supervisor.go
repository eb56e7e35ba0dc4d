package supervisor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/dedupe"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
)

// Defaults for Options fields left at zero.
const (
	DefaultDebounce          = 300 * time.Millisecond
	DefaultSettleDelay       = 250 * time.Millisecond
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRetryBase         = time.Second
	DefaultRetryMax          = 30 * time.Second
	DefaultFailureThreshold  = 3
)

// Fetcher loads the authoritative snapshot for a topic.
type Fetcher func(ctx context.Context, topic string) (any, error)

// Options configures a Supervisor. Callbacks run on the supervisor's loop
// goroutine and must not block.
type Options struct {
	Topics     []string
	Subscriber realtime.Subscriber
	Fetch      Fetcher

	OnSnapshot func(topic string, snapshot any)
	OnEvent    func(ev realtime.Event)
	OnState    func(st State)
	// OnStale is called when worker heartbeats stop; the host restarts the worker.
	OnStale func()
	// OnUnavailable is called once rebuilds have failed FailureThreshold times in a row.
	OnUnavailable func(err error)

	Debounce time.Duration
	// SettleDelay separates teardown from resubscribe; negative disables it.
	SettleDelay       time.Duration
	HeartbeatInterval time.Duration
	RetryBase         time.Duration
	RetryMax          time.Duration
	FailureThreshold  int

	Clock clock.Clock
	Log   zerolog.Logger
}

// Stats is a point-in-time view of supervisor counters.
type Stats struct {
	State     State
	Gen       uint64
	Handles   int
	Rebuilds  int64
	Coalesced int64
	Discarded int64
	Duplicate int64
}

type taggedEvent struct {
	h  *Handle
	ev realtime.Event
}

type fetchResult struct {
	topic string
	gen   uint64
	val   any
	err   error
}

// Supervisor keeps one subscription per topic alive. Every reconnect path
// funnels through Rebuild, which coalesces triggers arriving within the
// debounce window into a single teardown/resubscribe/refetch cycle.
type Supervisor struct {
	opts Options
	log  zerolog.Logger
	reg  *Registry
	seen *dedupe.Cache
	sf   singleflight.Group

	mu      sync.Mutex
	pending bool
	closed  bool

	triggers chan Trigger
	events   chan taggedEvent
	lost     chan *Handle
	results  chan fetchResult

	gen      atomic.Uint64
	state    atomic.Int32
	lastBeat atomic.Int64

	rebuilds  atomic.Int64
	coalesced atomic.Int64
	discarded atomic.Int64
	duplicate atomic.Int64

	// loop-owned
	inflight   map[string]bool
	dirty      map[string]bool
	failures   int
	retryDelay time.Duration
}

// New validates opts and returns a Supervisor; call Run to start it.
func New(opts Options) (*Supervisor, error) {
	if opts.Subscriber == nil {
		return nil, errors.New("supervisor: nil subscriber")
	}
	if len(opts.Topics) == 0 {
		return nil, errors.New("supervisor: no topics")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	} else if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultRetryMax
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	s := &Supervisor{
		opts:       opts,
		log:        opts.Log.With().Str("component", "supervisor").Logger(),
		reg:        NewRegistry(),
		seen:       dedupe.New(10*time.Minute, 4096, time.Minute),
		triggers:   make(chan Trigger, 1),
		events:     make(chan taggedEvent, 64),
		lost:       make(chan *Handle, len(opts.Topics)),
		results:    make(chan fetchResult, len(opts.Topics)),
		inflight:   make(map[string]bool),
		dirty:      make(map[string]bool),
		retryDelay: opts.RetryBase,
	}
	return s, nil
}

// Registry exposes the handle registry.
func (s *Supervisor) Registry() *Registry { return s.reg }

// State returns the current connection state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Stats returns the supervisor counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		State:     s.State(),
		Gen:       s.gen.Load(),
		Handles:   s.reg.Len(),
		Rebuilds:  s.rebuilds.Load(),
		Coalesced: s.coalesced.Load(),
		Discarded: s.discarded.Load(),
		Duplicate: s.duplicate.Load(),
	}
}

// Beat records a heartbeat from the background worker.
func (s *Supervisor) Beat() {
	s.lastBeat.Store(s.opts.Clock.Now().UnixNano())
}

// Rebuild requests a rebuild cycle. It reports false when a rebuild is
// already pending (the trigger is coalesced into it) or the supervisor is closed.
func (s *Supervisor) Rebuild(tr Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.pending {
		s.coalesced.Add(1)
		s.log.Debug().Str("trigger", string(tr)).Msg("rebuild coalesced")
		return false
	}
	s.pending = true
	// pending guarantees the buffered slot is free.
	s.triggers <- tr
	return true
}

// Run drives the supervisor until ctx is cancelled. It performs the initial
// connect itself, so callers only need Run plus lifecycle triggers.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Beat()
	s.Rebuild(TriggerStart)

	wd := time.NewTicker(s.opts.HeartbeatInterval)
	defer wd.Stop()
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr := <-s.triggers:
			if !sleepCtx(ctx, s.opts.Debounce) {
				return ctx.Err()
			}
			s.mu.Lock()
			s.pending = false
			s.mu.Unlock()
			s.rebuild(ctx, tr)
		case te := <-s.events:
			s.handleEvent(ctx, te)
		case h := <-s.lost:
			if s.reg.Current(h) {
				s.log.Warn().Str("topic", h.Topic).Err(h.stream.Err()).Msg("subscription lost")
				s.reg.Purge(h.Topic)
				s.setState(StateDisconnected)
				s.Rebuild(TriggerSubscriptionLost)
			}
		case r := <-s.results:
			s.handleResult(ctx, r)
		case <-wd.C:
			s.checkLiveness()
		}
	}
}

// Refresh fetches topic's snapshot now, sharing any fetch already in flight
// for the current generation.
func (s *Supervisor) Refresh(ctx context.Context, topic string) (any, error) {
	return s.fetch(ctx, topic, s.gen.Load())
}

func (s *Supervisor) rebuild(ctx context.Context, tr Trigger) {
	s.rebuilds.Add(1)
	gen := s.gen.Add(1)
	lg := s.log.With().Str("trigger", string(tr)).Uint64("gen", gen).Logger()

	if gen == 1 {
		s.setState(StateConnecting)
	} else {
		s.setState(StateReconnecting)
	}
	n := s.reg.PurgeAll()
	clear(s.inflight)
	clear(s.dirty)
	lg.Info().Int("closed", n).Msg("rebuilding subscriptions")

	if !sleepCtx(ctx, s.opts.SettleDelay) {
		return
	}

	for _, topic := range s.opts.Topics {
		st, err := s.opts.Subscriber.Subscribe(ctx, topic)
		if err != nil {
			s.reg.PurgeAll()
			s.setState(StateDisconnected)
			s.scheduleRetry(ctx, err)
			return
		}
		h := newHandle(topic, gen, st)
		s.reg.Acquire(h)
		go s.forward(h)
	}

	s.failures = 0
	s.retryDelay = s.opts.RetryBase
	s.setState(StateConnected)
	for _, topic := range s.opts.Topics {
		s.startRefetch(ctx, topic, gen)
	}
}

func (s *Supervisor) scheduleRetry(ctx context.Context, err error) {
	s.failures++
	delay := s.retryDelay
	s.retryDelay *= 2
	if s.retryDelay > s.opts.RetryMax {
		s.retryDelay = s.opts.RetryMax
	}
	s.log.Warn().Err(err).Int("failures", s.failures).Dur("retry_in", delay).Msg("subscribe failed")
	if s.failures == s.opts.FailureThreshold && s.opts.OnUnavailable != nil {
		s.opts.OnUnavailable(err)
	}
	time.AfterFunc(delay, func() {
		if ctx.Err() == nil {
			s.Rebuild(TriggerSubscriptionLost)
		}
	})
}

// forward pumps a handle's stream into the loop until the handle is closed
// or the stream ends; an unexpected end is reported on s.lost.
func (s *Supervisor) forward(h *Handle) {
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.stream.Events():
			if !ok {
				if h.stream.Err() != nil {
					select {
					case s.lost <- h:
					case <-h.done:
					}
				}
				return
			}
			select {
			case s.events <- taggedEvent{h: h, ev: ev}:
			case <-h.done:
				return
			}
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, te taggedEvent) {
	if te.h.Gen != s.gen.Load() || !s.reg.Current(te.h) {
		return
	}
	if te.ev.ID != "" && s.seen.CheckAndMark(te.ev.ID) {
		s.duplicate.Add(1)
		return
	}
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(te.ev)
	}
	s.startRefetch(ctx, te.h.Topic, te.h.Gen)
}

// startRefetch runs at most one refetch per topic; a request arriving while
// one is in flight marks the topic dirty so it refetches once more.
func (s *Supervisor) startRefetch(ctx context.Context, topic string, gen uint64) {
	if s.opts.Fetch == nil {
		return
	}
	if s.inflight[topic] {
		s.dirty[topic] = true
		return
	}
	s.inflight[topic] = true
	go func() {
		v, err := s.fetch(ctx, topic, gen)
		select {
		case s.results <- fetchResult{topic: topic, gen: gen, val: v, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Supervisor) fetch(ctx context.Context, topic string, gen uint64) (any, error) {
	if s.opts.Fetch == nil {
		return nil, errors.New("supervisor: no fetcher")
	}
	key := topic + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.opts.Fetch(ctx, topic)
	})
	return v, err
}

func (s *Supervisor) handleResult(ctx context.Context, r fetchResult) {
	if r.gen != s.gen.Load() {
		s.discarded.Add(1)
		s.log.Debug().Str("topic", r.topic).Uint64("gen", r.gen).Msg("discarding stale snapshot")
		return
	}
	s.inflight[r.topic] = false
	if r.err != nil {
		s.log.Warn().Err(r.err).Str("topic", r.topic).Msg("refetch failed")
	} else if s.opts.OnSnapshot != nil {
		s.opts.OnSnapshot(r.topic, r.val)
	}
	if s.dirty[r.topic] {
		s.dirty[r.topic] = false
		s.startRefetch(ctx, r.topic, r.gen)
	}
}

// checkLiveness marks the supervisor stale after two heartbeat intervals of
// silence, so a single late beat is tolerated.
func (s *Supervisor) checkLiveness() {
	if s.State() != StateConnected {
		return
	}
	last := time.Unix(0, s.lastBeat.Load())
	silence := s.opts.Clock.Now().Sub(last)
	if silence < 2*s.opts.HeartbeatInterval {
		return
	}
	s.log.Warn().Dur("silence", silence).Msg("worker heartbeat missed")
	s.setState(StateStale)
	if s.opts.OnStale != nil {
		s.opts.OnStale()
	}
	// Grace period for the restarted worker before the next check.
	s.Beat()
	s.Rebuild(TriggerHeartbeatMissed)
}

func (s *Supervisor) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.log.Debug().Str("state", st.String()).Msg("state changed")
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.reg.PurgeAll()
	s.seen.Close()
	s.setState(StateClosed)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
