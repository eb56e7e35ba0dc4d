package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func recvEvent(t *testing.T, s Stream) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatalf("stream closed, err=%v", s.Err())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event on %s", s.Topic())
	}
	return Event{}
}

func waitClosed(t *testing.T, s Stream) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("stream %s not closed", s.Topic())
		}
	}
}

func TestHub_PublishReachesOnlyTopicSubscribers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx := context.Background()

	a, err := h.Subscribe(ctx, RequestsTopic("s1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, _ := h.Subscribe(ctx, RequestsTopic("s1"))
	other, _ := h.Subscribe(ctx, RequestsTopic("s2"))

	ev, err := NewEvent(RequestsTopic("s1"), "status_requests", OpInsert, map[string]string{"id": "r1"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	h.Publish(ev)

	for _, s := range []Stream{a, b} {
		got := recvEvent(t, s)
		if got.ID != ev.ID || got.Op != OpInsert {
			t.Fatalf("unexpected event %+v", got)
		}
	}
	select {
	case got := <-other.Events():
		t.Fatalf("other topic received %+v", got)
	default:
	}
	if n := h.Subscribers(RequestsTopic("s1")); n != 2 {
		t.Fatalf("Subscribers = %d, want 2", n)
	}
}

func TestHub_DropsForFullSubscriber(t *testing.T) {
	h := NewHub(zerolog.Nop())
	s, _ := h.Subscribe(context.Background(), TopicStaffChat)

	for i := 0; i < subscriberBufferSize+10; i++ {
		ev, _ := NewEvent(TopicStaffChat, "chat_messages", OpInsert, nil)
		h.Publish(ev) // must not block
	}
	if got := len(s.Events()); got != subscriberBufferSize {
		t.Fatalf("buffered = %d, want %d", got, subscriberBufferSize)
	}
}

func TestHub_CloseByOwnerHasNilErr(t *testing.T) {
	h := NewHub(zerolog.Nop())
	s, _ := h.Subscribe(context.Background(), TopicStaffChat)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = s.Close() // idempotent
	waitClosed(t, s)
	if s.Err() != nil {
		t.Fatalf("Err = %v, want nil", s.Err())
	}
	if h.Subscribers(TopicStaffChat) != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestHub_ContextCancelEndsStream(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := h.Subscribe(ctx, TopicStaffChat)
	cancel()
	waitClosed(t, s)
	if !errors.Is(s.Err(), ErrStreamLost) {
		t.Fatalf("Err = %v, want ErrStreamLost", s.Err())
	}
}

func TestHub_CloseEndsStreamsAndRejectsNew(t *testing.T) {
	h := NewHub(zerolog.Nop())
	s, _ := h.Subscribe(context.Background(), TopicStaffChat)
	h.Close()
	waitClosed(t, s)
	if !errors.Is(s.Err(), ErrHubClosed) {
		t.Fatalf("Err = %v, want ErrHubClosed", s.Err())
	}
	if _, err := h.Subscribe(context.Background(), TopicStaffChat); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("Subscribe after Close: %v", err)
	}
}

func TestEvent_DecodeRow(t *testing.T) {
	type row struct {
		ID   uint64 `json:"id"`
		Text string `json:"message"`
	}
	ev, err := NewEvent(TopicStaffChat, "chat_messages", OpInsert, row{ID: 42, Text: "hi"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	var got row
	if err := ev.DecodeRow(&got); err != nil || got.ID != 42 || got.Text != "hi" {
		t.Fatalf("DecodeRow = %+v, %v", got, err)
	}
	empty := Event{ID: "x"}
	if err := empty.DecodeRow(&got); err == nil {
		t.Fatalf("expected error for empty row")
	}
}

func TestKnownTopic(t *testing.T) {
	cases := map[string]bool{
		TopicStaffChat:      true,
		TopicStaffPush:      true,
		RequestsTopic("s1"): true,
		"requests:":         false,
		"":                  false,
		"chat:customers":    false,
	}
	for topic, want := range cases {
		if got := KnownTopic(topic); got != want {
			t.Errorf("KnownTopic(%q) = %v, want %v", topic, got, want)
		}
	}
}
