package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

func TestFindIdempotencyKey_BlankScopeNeverMatches(t *testing.T) {
	db := newTestDB(t, &domain.IdempotencyKey{})
	now := time.Date(2025, 7, 10, 3, 0, 0, 0, time.UTC)
	if _, err := SaveIdempotencyKey(context.Background(), db, "staff-1", " ", "k1", "r1", 201, now, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := FindIdempotencyKey(context.Background(), db, "staff-1", "   ", "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestIdempotencyKey_SaveFindExpire(t *testing.T) {
	db := newTestDB(t, &domain.IdempotencyKey{})
	ctx := context.Background()
	now := time.Date(2025, 7, 10, 3, 0, 0, 0, time.UTC)

	rec, err := SaveIdempotencyKey(ctx, db, "store-7", "store:s-1", "k1", "req-1", 201, now, time.Hour)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.ID == "" || !rec.ExpiresAt.Equal(now.Add(time.Hour)) || !rec.Live(now) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := FindIdempotencyKey(ctx, db, "store-7", "store:s-1", "k1", now.Add(59*time.Minute))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.RequestID != "req-1" || got.Status != 201 {
		t.Fatalf("unexpected row: %+v", got)
	}

	// Another actor, scope or key is a miss.
	for _, q := range [][3]string{
		{"store-8", "store:s-1", "k1"},
		{"store-7", "store:s-2", "k1"},
		{"store-7", "store:s-1", "k2"},
	} {
		if _, err := FindIdempotencyKey(ctx, db, q[0], q[1], q[2], now); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%v: want ErrNotFound, got %v", q, err)
		}
	}

	// Expiry is exclusive.
	if _, err := FindIdempotencyKey(ctx, db, "store-7", "store:s-1", "k1", now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired key should miss, got %v", err)
	}
}

func TestSaveIdempotencyKey_Duplicate(t *testing.T) {
	db := newTestDB(t, &domain.IdempotencyKey{})
	ctx := context.Background()
	now := time.Now()

	if _, err := SaveIdempotencyKey(ctx, db, "store-7", "store:s-1", "k1", "req-1", 201, now, time.Hour); err != nil {
		t.Fatalf("first save: %v", err)
	}
	_, err := SaveIdempotencyKey(ctx, db, "store-7", "store:s-1", "k1", "req-2", 201, now, time.Hour)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}

	// Once expired the key can be stored again without waiting for a purge.
	later := now.Add(time.Hour)
	if _, err := SaveIdempotencyKey(ctx, db, "store-7", "store:s-1", "k1", "req-3", 201, later, time.Hour); err != nil {
		t.Fatalf("save after expiry: %v", err)
	}
	got, err := FindIdempotencyKey(ctx, db, "store-7", "store:s-1", "k1", later)
	if err != nil || got.RequestID != "req-3" {
		t.Fatalf("find after replace: %+v err=%v", got, err)
	}
}

func TestSaveIdempotencyKey_StorageError(t *testing.T) {
	db := newTestDB(t) // table not migrated
	_, err := SaveIdempotencyKey(context.Background(), db, "a", "s", "k", "r", 201, time.Now(), time.Minute)
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("want raw storage error, got %v", err)
	}
}

func TestPurgeIdempotencyKeys(t *testing.T) {
	db := newTestDB(t, &domain.IdempotencyKey{})
	ctx := context.Background()
	now := time.Date(2025, 7, 10, 3, 0, 0, 0, time.UTC)

	for i, ttl := range []time.Duration{time.Minute, time.Hour, 48 * time.Hour} {
		key := string(rune('a' + i))
		if _, err := SaveIdempotencyKey(ctx, db, "store-7", "store:s-1", key, "r-"+key, 201, now, ttl); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}
	n, err := PurgeIdempotencyKeys(ctx, db, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("purged %d, want 2", n)
	}
	if _, err := FindIdempotencyKey(ctx, db, "store-7", "store:s-1", "c", now.Add(time.Hour)); err != nil {
		t.Fatalf("long-lived key should survive: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := map[string]bool{
		"UNIQUE constraint failed: idempotency_keys.key": true,
		"constraint failed: UNIQUE (2067)":               true,
		"database is locked":                             false,
	}
	for msg, want := range cases {
		if got := isUniqueViolation(errors.New(msg)); got != want {
			t.Fatalf("isUniqueViolation(%q) = %v", msg, got)
		}
	}
}
