// Package countdown renders the remaining validity of the current status
// request. Its output is derived entirely from the last snapshot it was given
// and the current time.
package countdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// DefaultGrace is how long a consumed or expired request stays on screen.
const DefaultGrace = 10 * time.Second

// ExpiredText is rendered once the remaining time reaches zero.
const ExpiredText = "expired"

// CompletedText is rendered during the grace window after consumption.
const CompletedText = "completed"

// View is one rendered frame.
type View struct {
	Visible   bool
	Text      string
	Urgent    bool
	State     domain.RequestState
	Remaining time.Duration
}

// Presenter holds the latest request snapshot. Update may be called from the
// refetch path while Render runs on the ticker.
type Presenter struct {
	clk   clock.Clock
	grace time.Duration

	mu         sync.Mutex
	req        *domain.StatusRequest
	observedAt time.Time // when consumption was first seen, for rows without consumed_at
}

// New returns a presenter; grace <= 0 means DefaultGrace.
func New(clk clock.Clock, grace time.Duration) *Presenter {
	if clk == nil {
		clk = clock.System{}
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Presenter{clk: clk, grace: grace}
}

// Update replaces the snapshot; nil means no request. The grace window for
// a consumed request runs from its consumed_at.
func (p *Presenter) Update(req *domain.StatusRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req == nil {
		// Keep a consumed request around until its grace window passes.
		if p.req != nil && p.req.IsConsumed {
			return
		}
		p.req = nil
		return
	}
	cp := *req
	if cp.IsConsumed && (p.req == nil || p.req.ID != cp.ID || !p.req.IsConsumed) {
		p.observedAt = p.clk.Now()
	}
	p.req = &cp
}

// Render computes the frame at now.
func (p *Presenter) Render(now time.Time) View {
	p.mu.Lock()
	req, observedAt := p.req, p.observedAt
	p.mu.Unlock()

	if req == nil {
		return View{}
	}
	switch req.State(now) {
	case domain.StateConsumed:
		since := observedAt
		if req.ConsumedAt != nil {
			since = *req.ConsumedAt
		}
		if now.Sub(since) > p.grace {
			return View{}
		}
		return View{Visible: true, Text: CompletedText, State: domain.StateConsumed}
	case domain.StateExpired:
		if now.Sub(req.ExpiresAt) > p.grace {
			return View{}
		}
		return View{Visible: true, Text: ExpiredText, State: domain.StateExpired}
	}

	remaining := req.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return View{Visible: true, Text: ExpiredText, State: domain.StateExpired}
	}
	return View{
		Visible:   true,
		Text:      Format(remaining),
		Urgent:    true,
		State:     domain.StateActive,
		Remaining: remaining,
	}
}

// Run renders a frame every tick until ctx is done. sink runs on the
// calling goroutine.
func (p *Presenter) Run(ctx context.Context, tick time.Duration, sink func(View)) {
	if tick <= 0 {
		tick = time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	sink(p.Render(p.clk.Now()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sink(p.Render(p.clk.Now()))
		}
	}
}

// Format renders d as mm:ss, rounding partial seconds up so a live countdown
// never shows 00:00.
func Format(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
