package repo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

func TestCountRequestsInRange(t *testing.T) {
	db := newTestDB(t, &domain.StatusRequest{})
	ctx := context.Background()
	from := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	seedRequest(t, db, "prev", "s1", domain.KindFirstTimeGuest, from.Add(-time.Second))
	seedRequest(t, db, "r1", "s1", domain.KindFirstTimeGuest, from)
	seedRequest(t, db, "r2", "s1", domain.KindFirstTimeGuest, from.Add(48*time.Hour))
	seedRequest(t, db, "other-kind", "s1", domain.KindStaffCall, from.Add(time.Hour))
	seedRequest(t, db, "other-store", "s2", domain.KindFirstTimeGuest, from.Add(time.Hour))
	seedRequest(t, db, "next", "s1", domain.KindFirstTimeGuest, to)

	n, err := CountRequestsInRange(ctx, db, "s1", domain.KindFirstTimeGuest, from, to)
	if err != nil || n != 2 {
		t.Fatalf("CountRequestsInRange = %d, %v; want 2", n, err)
	}
}

func TestLatestActiveRequest_RespectsConsumedAndExpiry(t *testing.T) {
	db := newTestDB(t, &domain.StatusRequest{})
	ctx := context.Background()
	t0 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	if _, err := LatestActiveRequest(ctx, db, "s1", domain.KindStaffCall, t0); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	seedRequest(t, db, "old", "s1", domain.KindStaffCall, t0)
	seedRequest(t, db, "new", "s1", domain.KindStaffCall, t0.Add(10*time.Minute))

	got, err := LatestActiveRequest(ctx, db, "s1", domain.KindStaffCall, t0.Add(20*time.Minute))
	if err != nil || got.ID != "new" {
		t.Fatalf("expected newest active, got %+v err=%v", got, err)
	}

	if ok, err := ConsumeRequest(ctx, db, "new", t0.Add(21*time.Minute)); err != nil || !ok {
		t.Fatalf("consume new: ok=%v err=%v", ok, err)
	}
	got, err = LatestActiveRequest(ctx, db, "s1", domain.KindStaffCall, t0.Add(22*time.Minute))
	if err != nil || got.ID != "old" {
		t.Fatalf("expected fallback to old, got %+v err=%v", got, err)
	}

	// expires_at is inclusive
	if got, err := LatestActiveRequest(ctx, db, "s1", domain.KindStaffCall, t0.Add(time.Hour)); err != nil || got.ID != "old" {
		t.Fatalf("expected active at exact expiry, got %+v err=%v", got, err)
	}
	if _, err := LatestActiveRequest(ctx, db, "s1", domain.KindStaffCall, t0.Add(time.Hour+time.Second)); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestGetRequest_FoundAndNotFound(t *testing.T) {
	db := newTestDB(t, &domain.StatusRequest{})
	ctx := context.Background()
	if _, err := GetRequest(ctx, db, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	seedRequest(t, db, "r1", "s1", domain.KindStaffCall, time.Now())
	got, err := GetRequest(ctx, db, "r1")
	if err != nil || got.StoreID != "s1" {
		t.Fatalf("GetRequest = %+v err=%v", got, err)
	}
}

func TestListRequestsPage_AndCount(t *testing.T) {
	db := newTestDB(t, &domain.StatusRequest{})
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		kind := domain.KindStaffCall
		if i%2 == 1 {
			kind = domain.KindReturningGuest
		}
		seedRequest(t, db, string(rune('a'+i)), "s1", kind, base.Add(time.Duration(i)*time.Minute))
	}

	total, err := CountRequests(ctx, db, "s1", "")
	if err != nil || total != 5 {
		t.Fatalf("CountRequests = %d err=%v", total, err)
	}
	n, err := CountRequests(ctx, db, "s1", domain.KindReturningGuest)
	if err != nil || n != 2 {
		t.Fatalf("CountRequests(kind) = %d err=%v", n, err)
	}

	page, err := ListRequestsPage(ctx, db, "s1", "", 1, 2)
	if err != nil || len(page) != 2 || page[0].ID != "d" || page[1].ID != "c" {
		t.Fatalf("ListRequestsPage = %+v err=%v", page, err)
	}
}

func TestOldestConsumable_WindowAndKinds(t *testing.T) {
	db := newTestDB(t, &domain.StatusRequest{})
	ctx := context.Background()
	t0 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	kinds := []domain.RequestKind{domain.KindFirstTimeGuest, domain.KindReturningGuest}

	seedRequest(t, db, "too-old", "s1", domain.KindFirstTimeGuest, t0.Add(-2*time.Hour))
	seedRequest(t, db, "staff", "s1", domain.KindStaffCall, t0.Add(-30*time.Minute))
	seedRequest(t, db, "r1", "s1", domain.KindReturningGuest, t0.Add(-20*time.Minute))
	seedRequest(t, db, "r2", "s1", domain.KindFirstTimeGuest, t0.Add(-10*time.Minute))
	seedRequest(t, db, "future", "s1", domain.KindFirstTimeGuest, t0.Add(time.Minute))

	got, err := OldestConsumable(ctx, db, "s1", kinds, t0.Add(-time.Hour), t0)
	if err != nil || got.ID != "r1" {
		t.Fatalf("OldestConsumable = %+v err=%v; want r1", got, err)
	}
	if _, err := OldestConsumable(ctx, db, "s1", nil, t0.Add(-time.Hour), t0); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for empty kinds, got %v", err)
	}
	if _, err := OldestConsumable(ctx, db, "s2", kinds, t0.Add(-time.Hour), t0); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for other store, got %v", err)
	}
}

func TestConsumeRequest_IsMonotonicAndIdempotent(t *testing.T) {
	db := newTestDB(t, &domain.StatusRequest{})
	ctx := context.Background()
	t0 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	seedRequest(t, db, "r1", "s1", domain.KindFirstTimeGuest, t0)

	ok, err := ConsumeRequest(ctx, db, "r1", t0.Add(30*time.Minute))
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = ConsumeRequest(ctx, db, "r1", t0.Add(31*time.Minute))
	if err != nil || ok {
		t.Fatalf("second consume must be a no-op: ok=%v err=%v", ok, err)
	}

	got, _ := GetRequest(ctx, db, "r1")
	if !got.IsConsumed || got.ConsumedAt == nil || !got.ConsumedAt.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("unexpected consumed state: %+v", got)
	}
	if ok, err := ConsumeRequest(ctx, db, "missing", t0); err != nil || ok {
		t.Fatalf("missing id: ok=%v err=%v", ok, err)
	}
}

func TestConsumeRequest_ConcurrentWritersExactlyOneWins(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "race.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	ctx := context.Background()
	t0 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	seedRequest(t, db, "r1", "s1", domain.KindFirstTimeGuest, t0)

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ok, err := ConsumeRequest(ctx, db, "r1", t0.Add(time.Duration(i+1)*time.Minute))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				wins++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
