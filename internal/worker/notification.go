package worker

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/sysutil"
)

// Vibration patterns in milliseconds (on, off, on, ...).
var (
	DefaultVibrate = []int{200, 100, 200}
	UrgentVibrate  = []int{500, 150, 500, 150, 500}
)

// Notification icons.
const (
	DefaultIcon = "/icons/notify-192.png"
	UrgentIcon  = "/icons/urgent-192.png"
)

// DefaultView is the client view chat notifications open.
const DefaultView = "chat"

// Notification is what the worker hands to the host notification surface.
type Notification struct {
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	Icon    string           `json:"icon"`
	Tag     string           `json:"tag"`
	Vibrate []int            `json:"vibrate"`
	Data    NotificationData `json:"data"`
}

// NotificationData travels with a notification and comes back on click.
type NotificationData struct {
	URL      string `json:"url"`
	View     string `json:"view"`
	EntityID string `json:"entity_id"`
	Urgent   bool   `json:"urgent"`
}

// TargetURL encodes a view and entity id as a client URL.
func TargetURL(view, entityID string) string {
	if view == "" {
		view = DefaultView
	}
	u := url.URL{Path: "/" + strings.TrimPrefix(view, "/")}
	if entityID != "" {
		u.RawQuery = url.Values{"entity_id": {entityID}}.Encode()
	}
	return u.String()
}

// ParseTarget is the inverse of TargetURL. Absolute URLs are rejected so an
// untrusted payload cannot send the client off-site.
func ParseTarget(raw string) (view, entityID string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "", "", false
	}
	view = strings.Trim(u.Path, "/")
	if view == "" {
		view = DefaultView
	}
	return view, u.Query().Get("entity_id"), true
}

// urgentMessage reports whether msg is the announcement of an urgent request.
// The text is never consulted, so a typed message cannot trigger urgency.
func urgentMessage(msg *domain.ChatMessage) bool {
	return msg != nil && msg.RequestKind.Urgent()
}

// buildNotification formats msg, falling back to the push payload for any
// field the message cannot supply. Every call gets a fresh tag so that
// notifications for distinct events do not replace each other.
func buildNotification(msg *domain.ChatMessage, p domain.PushPayload) Notification {
	n := Notification{
		Title: sysutil.FirstNonEmpty(p.Title, p.SenderName, "New message"),
		Body:  sysutil.FirstNonEmpty(p.Body, p.Message),
		Data: NotificationData{
			View:     DefaultView,
			EntityID: p.EntityID,
		},
	}
	urgent := domain.RequestKind(strings.ToLower(p.Kind)).Urgent()
	if msg != nil {
		n.Body = msg.Message
		if n.Data.EntityID == "" {
			n.Data.EntityID = strconv.FormatUint(msg.ID, 10)
		}
		if p.Title == "" && p.SenderName == "" {
			n.Title = "Message from " + msg.SenderRole
		}
		urgent = urgent || urgentMessage(msg)
	}

	if view, id, ok := ParseTarget(p.URL); ok {
		n.Data.View = view
		if id != "" {
			n.Data.EntityID = id
		}
	}
	n.Data.URL = TargetURL(n.Data.View, n.Data.EntityID)
	n.Data.Urgent = urgent
	n.Tag = "msg-" + n.Data.EntityID + "-" + uuid.NewString()
	if urgent {
		n.Icon, n.Vibrate = UrgentIcon, UrgentVibrate
	} else {
		n.Icon, n.Vibrate = DefaultIcon, DefaultVibrate
	}
	return n
}
