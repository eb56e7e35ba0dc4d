// Package realtime implements the notification channel: a topic-keyed
// in-process pub/sub hub for row-level change events and a websocket bridge
// that streams those events to remote clients.
//
// Delivery is at-least-once while a subscriber is attached and nothing is
// delivered while it is detached. Subscribers dedup by Event.ID and treat
// each event as a hint to refetch authoritative state.
package realtime

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Op is the row-level change kind carried by an Event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Well-known topics.
const (
	// TopicStaffChat carries chat_messages changes for all staff.
	TopicStaffChat = "chat:staff"
	// TopicStaffPush carries out-of-band push payloads for staff workers.
	TopicStaffPush = "push:staff"

	requestsTopicPrefix = "requests:"
)

// RequestsTopic returns the topic carrying status_requests changes for a store.
func RequestsTopic(storeID string) string { return requestsTopicPrefix + storeID }

// StoreOf returns the store id of a requests topic.
func StoreOf(topic string) (string, bool) {
	store, ok := strings.CutPrefix(topic, requestsTopicPrefix)
	return store, ok && store != ""
}

// Event is a single row-level change notification.
type Event struct {
	ID    string          `json:"id"`
	Topic string          `json:"topic"`
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	Row   json.RawMessage `json:"row,omitempty"`
	At    time.Time       `json:"at"`
}

// NewEvent builds an Event with a fresh ID, encoding row as JSON.
func NewEvent(topic, table string, op Op, row any) (Event, error) {
	ev := Event{
		ID:    uuid.NewString(),
		Topic: topic,
		Table: table,
		Op:    op,
		At:    time.Now().UTC(),
	}
	if row != nil {
		b, err := json.Marshal(row)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s row: %w", table, err)
		}
		ev.Row = b
	}
	return ev, nil
}

// DecodeRow unmarshals the event row into v.
func (e Event) DecodeRow(v any) error {
	if len(e.Row) == 0 {
		return fmt.Errorf("event %s has no row", e.ID)
	}
	return json.Unmarshal(e.Row, v)
}

// Frame types exchanged on the websocket.
const (
	FrameReady = "ready"
	FrameEvent = "event"
	FrameError = "error"
)

// Frame is the websocket envelope. Ready is sent once after the server has
// registered the subscription; Event frames follow.
type Frame struct {
	Type    string    `json:"type"`
	Topic   string    `json:"topic,omitempty"`
	Event   *Event    `json:"event,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Marshal encodes the frame, stamping At when unset.
func (f *Frame) Marshal() ([]byte, error) {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	return json.Marshal(f)
}

// UnmarshalFrame decodes a websocket text message.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(b, &f)
	return f, err
}
