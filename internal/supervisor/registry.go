package supervisor

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tbourn/go-dispatch-backend/internal/realtime"
)

// Handle is one live subscription owned by the supervisor.
type Handle struct {
	Topic string
	// Gen is the rebuild generation that created the handle.
	Gen uint64

	stream realtime.Stream
	status atomic.Int32
	done   chan struct{}
	once   sync.Once
}

func newHandle(topic string, gen uint64, st realtime.Stream) *Handle {
	h := &Handle{Topic: topic, Gen: gen, stream: st, done: make(chan struct{})}
	h.status.Store(int32(StateConnected))
	return h
}

// Status returns the handle's state.
func (h *Handle) Status() State { return State(h.status.Load()) }

func (h *Handle) close() {
	h.once.Do(func() {
		h.status.Store(int32(StateClosed))
		close(h.done)
		_ = h.stream.Close()
	})
}

// Registry maps each topic to at most one handle. Acquiring a handle closes
// the one it replaces, so duplicates cannot coexist.
type Registry struct {
	mu      sync.Mutex
	byTopic map[string]*Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTopic: make(map[string]*Handle)}
}

// Acquire makes h the handle for h.Topic and reports whether a previous
// handle was replaced (and closed).
func (r *Registry) Acquire(h *Handle) bool {
	r.mu.Lock()
	prev, ok := r.byTopic[h.Topic]
	r.byTopic[h.Topic] = h
	r.mu.Unlock()
	if ok && prev != h {
		prev.close()
	}
	return ok
}

// Get returns the handle for topic.
func (r *Registry) Get(topic string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byTopic[topic]
	return h, ok
}

// Current reports whether h is still the installed handle for its topic.
func (r *Registry) Current(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byTopic[h.Topic] == h
}

// Purge closes and removes the handle for topic.
func (r *Registry) Purge(topic string) bool {
	r.mu.Lock()
	h, ok := r.byTopic[topic]
	delete(r.byTopic, topic)
	r.mu.Unlock()
	if ok {
		h.close()
	}
	return ok
}

// PurgeAll closes every handle and returns how many were removed.
func (r *Registry) PurgeAll() int {
	r.mu.Lock()
	all := r.byTopic
	r.byTopic = make(map[string]*Handle)
	r.mu.Unlock()
	for _, h := range all {
		h.close()
	}
	return len(all)
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byTopic)
}

// Topics returns the topics with a live handle, sorted.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byTopic))
	for t := range r.byTopic {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
