package worker

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

type fakeSource struct {
	mu    sync.Mutex
	msg   *domain.ChatMessage
	err   error
	calls int
}

func (f *fakeSource) set(msg *domain.ChatMessage, err error) {
	f.mu.Lock()
	f.msg, f.err = msg, err
	f.mu.Unlock()
}

func (f *fakeSource) LatestMessage(context.Context) (*domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.msg, f.err
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	f.got = append(f.got, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) all() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.got...)
}

type fakeHost struct {
	mu     sync.Mutex
	open   bool
	posted []ClientMessage
	opened []string
}

func (f *fakeHost) FocusAndPost(_ context.Context, m ClientMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false, nil
	}
	f.posted = append(f.posted, m)
	return true, nil
}

func (f *fakeHost) Open(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	return nil
}

type failingPinger struct{ n atomic.Int32 }

func (p *failingPinger) Ping(context.Context) error {
	p.n.Add(1)
	return errors.New("offline")
}

func msg(id uint64, text string) *domain.ChatMessage {
	return &domain.ChatMessage{ID: id, SenderID: "system", SenderRole: "system", Message: text}
}

func newTestWorker(src MessageSource, n Notifier, host ClientHost) *Worker {
	return New(Config{}, src, nil, n, host, zerolog.Nop())
}

func TestPoll_MarkerSuppressesSeenMessage(t *testing.T) {
	src := &fakeSource{}
	n := &fakeNotifier{}
	w := newTestWorker(src, n, nil)
	w.advance(41)

	src.set(msg(41, "hello"), nil)
	raised, err := w.Poll(context.Background())
	if err != nil || raised {
		t.Fatalf("poll #41: raised=%v err=%v", raised, err)
	}
	if len(n.all()) != 0 {
		t.Fatalf("expected no notification, got %d", len(n.all()))
	}

	src.set(msg(42, "new"), nil)
	raised, err = w.Poll(context.Background())
	if err != nil || !raised {
		t.Fatalf("poll #42: raised=%v err=%v", raised, err)
	}
	if got := len(n.all()); got != 1 {
		t.Fatalf("notifications=%d want 1", got)
	}
	if w.LastSeen() != 42 {
		t.Fatalf("marker=%d want 42", w.LastSeen())
	}

	// Same id again: still exactly one.
	if raised, _ := w.Poll(context.Background()); raised {
		t.Fatal("repeat poll should not notify")
	}
}

func TestPoll_EmptyAndUnavailable(t *testing.T) {
	src := &fakeSource{}
	n := &fakeNotifier{}
	w := newTestWorker(src, n, nil)

	if raised, err := w.Poll(context.Background()); raised || err != nil {
		t.Fatalf("empty: raised=%v err=%v", raised, err)
	}
	src.set(nil, errors.New("connection refused"))
	_, err := w.Poll(context.Background())
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("want ErrChannelUnavailable, got %v", err)
	}
	if len(n.all()) != 0 {
		t.Fatal("no notification on failure")
	}
}

func TestHandlePush_SameMessageTwiceNotifiesOnce(t *testing.T) {
	src := &fakeSource{}
	src.set(msg(7, "Returning guest requested: table 4"), nil)
	n := &fakeNotifier{}
	w := newTestWorker(src, n, nil)

	raw := []byte(`{"title":"Store A","body":"stale body"}`)
	if err := w.HandlePush(context.Background(), raw); err != nil {
		t.Fatal(err)
	}
	if err := w.HandlePush(context.Background(), raw); err != nil {
		t.Fatal(err)
	}
	got := n.all()
	if len(got) != 1 {
		t.Fatalf("notifications=%d want 1", len(got))
	}
	// Ground truth wins over the payload body.
	if got[0].Body != "Returning guest requested: table 4" || got[0].Title != "Store A" {
		t.Fatalf("notification=%+v", got[0])
	}
	if got[0].Data.Urgent || !reflect.DeepEqual(got[0].Vibrate, DefaultVibrate) {
		t.Fatalf("returning guest should not be urgent: %+v", got[0])
	}

	// A later poll for the same message stays quiet.
	if raised, _ := w.Poll(context.Background()); raised {
		t.Fatal("poll after push should not re-notify")
	}
}

func TestHandlePush_MalformedFallsBackToLatest(t *testing.T) {
	src := &fakeSource{}
	src.set(msg(3, "hi"), nil)
	n := &fakeNotifier{}
	w := newTestWorker(src, n, nil)

	if err := w.HandlePush(context.Background(), []byte(`{"title":`)); err != nil {
		t.Fatalf("malformed payload must not surface: %v", err)
	}
	got := n.all()
	if len(got) != 1 || got[0].Body != "hi" || got[0].Data.EntityID != "3" {
		t.Fatalf("notifications=%+v", got)
	}
	if got[0].Data.URL != "/chat?entity_id=3" {
		t.Fatalf("url=%q", got[0].Data.URL)
	}
}

func TestHandlePush_UrgentKindAndUniqueTags(t *testing.T) {
	src := &fakeSource{}
	n := &fakeNotifier{}
	w := newTestWorker(src, n, nil)

	announce := msg(10, domain.KindFirstTimeGuest.Label()+": two guests")
	announce.RequestKind = domain.KindFirstTimeGuest
	src.set(announce, nil)
	if err := w.HandlePush(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	src.set(msg(11, "ordinary"), nil)
	if err := w.HandlePush(context.Background(), []byte(`{"kind":"first_time_guest"}`)); err != nil {
		t.Fatal(err)
	}

	got := n.all()
	if len(got) != 2 {
		t.Fatalf("notifications=%d", len(got))
	}
	for i, nt := range got {
		if !nt.Data.Urgent || nt.Icon != UrgentIcon || !reflect.DeepEqual(nt.Vibrate, UrgentVibrate) {
			t.Fatalf("notification %d not urgent: %+v", i, nt)
		}
	}
	if got[0].Tag == got[1].Tag {
		t.Fatal("tags must be unique per event")
	}
}

func TestHandlePush_FetchFailure(t *testing.T) {
	src := &fakeSource{}
	src.set(nil, errors.New("timeout"))
	n := &fakeNotifier{}
	w := newTestWorker(src, n, nil)

	err := w.HandlePush(context.Background(), []byte(`{}`))
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("empty payload + failed fetch: %v", err)
	}
	if err := w.HandlePush(context.Background(), []byte(`{"title":"T","body":"B","url":"/requests?entity_id=r1"}`)); err != nil {
		t.Fatal(err)
	}
	got := n.all()
	if len(got) != 1 {
		t.Fatalf("notifications=%d", len(got))
	}
	if got[0].Title != "T" || got[0].Body != "B" || got[0].Data.View != "requests" || got[0].Data.EntityID != "r1" {
		t.Fatalf("payload fallback=%+v", got[0])
	}
}

func TestHandleClick_FocusesOrOpens(t *testing.T) {
	host := &fakeHost{open: true}
	w := newTestWorker(&fakeSource{}, nil, host)
	ev := ClickEvent{Data: NotificationData{View: "requests", EntityID: "abc"}}

	if err := w.HandleClick(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(host.posted) != 1 || host.posted[0] != (ClientMessage{View: "requests", EntityID: "abc"}) || len(host.opened) != 0 {
		t.Fatalf("posted=%v opened=%v", host.posted, host.opened)
	}

	host.open = false
	if err := w.HandleClick(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(host.opened) != 1 || host.opened[0] != "/requests?entity_id=abc" {
		t.Fatalf("opened=%v", host.opened)
	}

	if err := w.HandleClick(context.Background(), ClickEvent{Action: "dismiss"}); err != nil {
		t.Fatal(err)
	}
	if len(host.opened) != 1 {
		t.Fatal("dismiss should not open a client")
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		raw      string
		view, id string
		ok       bool
	}{
		{"/chat?entity_id=5", "chat", "5", true},
		{"/requests", "requests", "", true},
		{"/", DefaultView, "", true},
		{"https://evil.example/x", "", "", false},
		{"//evil.example/x", "", "", false},
		{"relative", "", "", false},
		{"", "", "", false},
	}
	for _, c := range cases {
		view, id, ok := ParseTarget(c.raw)
		if view != c.view || id != c.id || ok != c.ok {
			t.Errorf("%q: got (%q,%q,%v) want (%q,%q,%v)", c.raw, view, id, ok, c.view, c.id, c.ok)
		}
	}
}

func TestStartStop_HeartbeatsKeepaliveAndRestart(t *testing.T) {
	src := &fakeSource{}
	src.set(msg(5, "hello"), nil)
	n := &fakeNotifier{}
	ping := &failingPinger{}
	w := New(Config{
		HeartbeatInterval: 10 * time.Millisecond,
		PollInterval:      time.Hour,
		KeepaliveInterval: 5 * time.Millisecond,
	}, src, ping, n, nil, zerolog.Nop())

	beats := make(chan Heartbeat, 64)
	w.Attach(beats)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	var last Heartbeat
	for last.Seq < 3 {
		select {
		case last = <-beats:
		case <-deadline:
			t.Fatalf("heartbeats stalled at seq %d", last.Seq)
		}
	}

	waitFor(t, func() bool { return ping.n.Load() >= 2 })
	waitFor(t, func() bool { return len(n.all()) == 1 })

	w.Restart()
	// The marker resets, so the restarted worker re-announces the latest message once.
	waitFor(t, func() bool { return len(n.all()) == 2 })
	if w.LastSeen() != 5 {
		t.Fatalf("marker=%d", w.LastSeen())
	}

	w.Stop()
	w.Stop()
	drain := len(beats)
	for i := 0; i < drain; i++ {
		<-beats
	}
	time.Sleep(40 * time.Millisecond)
	if len(beats) != 0 {
		t.Fatal("heartbeats continued after Stop")
	}
}

func TestDeliverAndClick_RunOnLoop(t *testing.T) {
	src := &fakeSource{}
	n := &fakeNotifier{}
	host := &fakeHost{}
	w := New(Config{PollInterval: time.Hour}, src, nil, n, host, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	src.set(msg(9, "via push"), nil)
	w.Deliver([]byte(`{"title":"x"}`))
	waitFor(t, func() bool { return len(n.all()) == 1 })

	w.Click(ClickEvent{Data: n.all()[0].Data})
	waitFor(t, func() bool {
		host.mu.Lock()
		defer host.mu.Unlock()
		return len(host.opened) == 1
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPoll_TypedAnnouncementTextIsNotUrgent(t *testing.T) {
	src := &fakeSource{}
	n := &fakeNotifier{}
	w := newTestWorker(src, n, nil)

	typed := msg(20, domain.KindFirstTimeGuest.Label()+": just kidding")
	typed.SenderRole = domain.RoleStaff
	src.set(typed, nil)
	if raised, err := w.Poll(context.Background()); err != nil || !raised {
		t.Fatalf("poll raised=%v err=%v", raised, err)
	}

	got := n.all()
	if len(got) != 1 || got[0].Data.Urgent || got[0].Icon != DefaultIcon || !reflect.DeepEqual(got[0].Vibrate, DefaultVibrate) {
		t.Fatalf("typed message must not be urgent: %+v", got)
	}
}
