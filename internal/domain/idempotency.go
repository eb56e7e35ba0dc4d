package domain

import "time"

// IdempotencyKey remembers the status request created by an earlier POST,
// keyed by (actor_id, scope, key). A retried create with the same key
// replays that request instead of spending another unit of quota.
//
// Scope is "store:<store_id>" for request creation, so the same key may be
// reused by one actor across stores.
type IdempotencyKey struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ActorID   string    `json:"actor_id"   gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_actor_scope_key,priority:1"`
	Scope     string    `json:"scope"      gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_actor_scope_key,priority:2"`
	Key       string    `json:"key"        gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_actor_scope_key,priority:3"`
	RequestID string    `json:"request_id" gorm:"type:char(36);not null"`
	Status    int       `json:"status"     gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
}

// TableName returns the database table name for IdempotencyKey.
func (IdempotencyKey) TableName() string { return "idempotency_keys" }

// Live reports whether the key still replays at now.
func (k IdempotencyKey) Live(now time.Time) bool { return now.Before(k.ExpiresAt) }
