// Package domain defines the core persistence models for the application.
// These types are mapped with GORM and shared across the repository, service,
// realtime and client layers.
package domain

import "time"

// RequestKind names a category of status request a store may raise.
type RequestKind string

// Known request kinds. Unknown kinds are accepted by the model but carry a
// zero quota, which makes them disabled.
const (
	KindFirstTimeGuest RequestKind = "first_time_guest"
	KindReturningGuest RequestKind = "returning_guest"
	KindStaffCall      RequestKind = "staff_call"
)

// Urgent reports whether notifications about this kind need emphasis.
func (k RequestKind) Urgent() bool { return k == KindFirstTimeGuest }

// ConsumedByVisit reports whether a guided-guest visit report fulfils this
// kind. Staff calls are not fulfilled by visits and simply expire.
func (k RequestKind) ConsumedByVisit() bool {
	return k == KindFirstTimeGuest || k == KindReturningGuest
}

// ConsumableKinds lists the kinds a VisitReport may consume.
var ConsumableKinds = []RequestKind{KindFirstTimeGuest, KindReturningGuest}

// Label is the human-readable name used in chat announcements.
func (k RequestKind) Label() string {
	switch k {
	case KindFirstTimeGuest:
		return "First-time guest requested"
	case KindReturningGuest:
		return "Returning guest requested"
	case KindStaffCall:
		return "Staff call"
	default:
		return string(k)
	}
}

// RequestState is the derived lifecycle state of a StatusRequest. It is never
// stored; see StatusRequest.State.
type RequestState string

const (
	StateActive   RequestState = "active"
	StateConsumed RequestState = "consumed"
	StateExpired  RequestState = "expired"
)

// StatusRequest is a perishable, quota-limited request raised by a store.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - StoreID / Kind: quota scope; indexed together with CreatedAt.
//   - ExpiresAt: always CreatedAt + validity window, fixed at insert time.
//   - IsConsumed / ConsumedAt: flipped once by a matching visit report.
//   - AnnouncementRef: id of the chat message that publicized the request.
type StatusRequest struct {
	ID              string      `json:"id"               gorm:"type:char(36);primaryKey"`
	StoreID         string      `json:"store_id"         gorm:"type:varchar(64);not null;index:idx_req_store_kind,priority:1"`
	Kind            RequestKind `json:"kind"             gorm:"type:varchar(32);not null;index:idx_req_store_kind,priority:2"`
	Message         string      `json:"message"          gorm:"type:text;not null"`
	CreatedAt       time.Time   `json:"created_at"       gorm:"not null;index:idx_req_store_kind,priority:3"`
	ExpiresAt       time.Time   `json:"expires_at"       gorm:"not null"`
	IsConsumed      bool        `json:"is_consumed"      gorm:"not null;default:false"`
	ConsumedAt      *time.Time  `json:"consumed_at,omitempty"`
	AnnouncementRef uint64      `json:"announcement_ref" gorm:"not null;index"`
}

// TableName returns the database table name for StatusRequest.
func (StatusRequest) TableName() string { return "status_requests" }

// State derives the lifecycle state at now. Expiry is purely time-based:
// an unconsumed request past ExpiresAt is Expired without any write.
func (r StatusRequest) State(now time.Time) RequestState {
	switch {
	case r.IsConsumed:
		return StateConsumed
	case now.After(r.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Remaining returns the validity left at now, clamped at zero.
func (r StatusRequest) Remaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RequestView is a StatusRequest with its state derived at a point in time.
type RequestView struct {
	StatusRequest
	State            RequestState `json:"state"`
	RemainingSeconds int64        `json:"remaining_seconds"`
}

// View derives the request's state and remaining validity at now.
func (r StatusRequest) View(now time.Time) RequestView {
	return RequestView{
		StatusRequest:    r,
		State:            r.State(now),
		RemainingSeconds: int64(r.Remaining(now) / time.Second),
	}
}

// Sender roles for chat messages.
const (
	RoleStore    = "store"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
	RoleSystem   = "system"
)

// ChatMessage is a row of the shared staff chat. IDs are monotonically
// increasing so clients can page with after_id and dedup by id.
type ChatMessage struct {
	ID         uint64    `json:"id"          gorm:"primaryKey;autoIncrement"`
	SenderID   string    `json:"sender_id"   gorm:"type:varchar(64);not null;index"`
	SenderRole string    `json:"sender_role" gorm:"type:varchar(16);not null;check:sender_role IN ('store','staff','customer','system')"`
	Message    string    `json:"message"     gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"created_at"  gorm:"not null;index"`
	IsEdited   bool      `json:"is_edited"   gorm:"not null;default:false"`
	// RequestKind is set only on announcements written by the request ledger.
	RequestKind RequestKind `json:"request_kind,omitempty" gorm:"type:varchar(32);not null;default:''"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// VisitReport is a field report of guests guided to a store. Inserting one is
// the only trigger for consuming a StatusRequest.
type VisitReport struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	StoreID    string    `json:"store_id"    gorm:"type:varchar(64);not null;index:idx_visit_store_guided,priority:1"`
	StaffID    string    `json:"staff_id"    gorm:"type:varchar(64);not null;index"`
	GuestCount int       `json:"guest_count" gorm:"not null;check:guest_count > 0"`
	GuidedAt   time.Time `json:"guided_at"   gorm:"not null;index:idx_visit_store_guided,priority:2"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for VisitReport.
func (VisitReport) TableName() string { return "visit_reports" }
