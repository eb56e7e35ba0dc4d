package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("realtime: hub closed")

// ErrStreamLost reports that a stream ended without the owner closing it.
var ErrStreamLost = errors.New("realtime: stream lost")

// Stream is one live subscription to a topic. Events is closed when the
// stream ends; Err then reports nil if the owner called Close, or the cause.
type Stream interface {
	Topic() string
	Events() <-chan Event
	Err() error
	Close() error
}

// Subscriber opens streams. Both *Hub and *Dialer satisfy it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Stream, error)
}

// Publisher fans an event out to subscribers of ev.Topic.
type Publisher interface {
	Publish(ev Event)
}

// Hub is an in-memory topic-keyed broadcaster. Publish never blocks: events
// are dropped for subscribers whose buffers are full.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*localStream // topic -> subID -> stream
	closed      bool
	log         zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[string]*localStream),
		log:         log.With().Str("component", "realtime_hub").Logger(),
	}
}

// Subscribe registers interest in topic. The stream is removed when ctx is
// cancelled or Close is called.
func (h *Hub) Subscribe(ctx context.Context, topic string) (Stream, error) {
	s := &localStream{
		hub:   h,
		id:    uuid.NewString(),
		topic: topic,
		ch:    make(chan Event, subscriberBufferSize),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[string]*localStream)
	}
	h.subscribers[topic][s.id] = s
	h.mu.Unlock()
	subscribersGauge.Inc()

	h.log.Debug().Str("topic", topic).Str("sub_id", s.id).Msg("subscriber added")

	go func() {
		select {
		case <-ctx.Done():
			h.remove(s, ErrStreamLost)
		case <-s.done:
		}
	}()
	return s, nil
}

// Publish delivers ev to every subscriber of ev.Topic.
func (h *Hub) Publish(ev Event) {
	publishedTotal.WithLabelValues(ev.Table, string(ev.Op)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.subscribers[ev.Topic] {
		select {
		case s.ch <- ev:
		default:
			droppedTotal.Inc()
			h.log.Debug().Str("topic", ev.Topic).Str("sub_id", id).Str("event_id", ev.ID).
				Msg("dropped event for slow subscriber")
		}
	}
}

// Subscribers returns the number of live streams on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

// Close ends every stream with ErrHubClosed and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*localStream
	for _, subs := range h.subscribers {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		h.remove(s, ErrHubClosed)
	}
}

// remove detaches s and closes its channel exactly once. Holding the write
// lock while closing guarantees no concurrent Publish sends on a closed channel.
func (h *Hub) remove(s *localStream, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[s.topic]
	if !ok {
		return
	}
	if _, exists := subs[s.id]; !exists {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(h.subscribers, s.topic)
	}

	s.err = cause
	close(s.ch)
	close(s.done)
	subscribersGauge.Dec()

	h.log.Debug().Str("topic", s.topic).Str("sub_id", s.id).Msg("subscriber removed")
}

type localStream struct {
	hub   *Hub
	id    string
	topic string
	ch    chan Event
	done  chan struct{}
	err   error // written under hub.mu before ch is closed
}

func (s *localStream) Topic() string        { return s.topic }
func (s *localStream) Events() <-chan Event { return s.ch }

func (s *localStream) Err() error {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.err
}

func (s *localStream) Close() error {
	s.hub.remove(s, nil)
	return nil
}
