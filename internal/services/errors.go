// Package services defines the business logic for status requests, visit
// reports and staff chat. This file centralizes service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Request ledger errors. Both are user-facing and reject the create action.
var (
	// ErrKindDisabled is returned when the configured quota for the
	// (store, kind) pair is zero. Unknown kinds have a zero quota.
	ErrKindDisabled = errors.New("request kind is disabled for this store")

	// ErrQuotaExceeded is returned when the store already created as many
	// requests of the kind as the quota allows in the current period.
	ErrQuotaExceeded = errors.New("monthly request quota reached")

	// ErrRequestActive is returned only when the active-request policy is
	// "reject" and an Active request of the same kind already exists.
	ErrRequestActive = errors.New("a request of this kind is already active")

	// ErrNoActiveRequest means no request of the kind is currently Active.
	ErrNoActiveRequest = errors.New("no active request")

	// ErrRequestNotFound indicates an unknown request ID.
	ErrRequestNotFound = errors.New("request not found")

	// ErrInvalidKind is returned for an empty or malformed kind.
	ErrInvalidKind = errors.New("invalid request kind")
)

// Input validation errors.
var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrTooLong       = errors.New("message too long")
	ErrInvalidRole   = errors.New("invalid sender role")
	ErrInvalidGuests = errors.New("guest_count must be positive")
	ErrEmptyStore    = errors.New("store_id is empty")
	ErrEmptyStaff    = errors.New("staff_id is empty")
)

// ErrStorageUnavailable wraps any persistence failure. It is surfaced once
// per user action; the action is aborted without partial state.
var ErrStorageUnavailable = errors.New("storage unavailable")

// errKeyTaken aborts a create whose idempotency key another call already stored.
var errKeyTaken = errors.New("idempotency key already used")
