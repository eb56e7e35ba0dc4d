package dedupe

import (
	"sync"
	"testing"
	"time"
)

func TestCheckAndMark_DuplicateWithinTTL(t *testing.T) {
	c := New(time.Minute, 10, 0)
	defer c.Close()

	if c.CheckAndMark("a") {
		t.Fatalf("first sighting reported as duplicate")
	}
	if !c.CheckAndMark("a") {
		t.Fatalf("second sighting not reported as duplicate")
	}
	if !c.Seen("a") || c.Seen("b") {
		t.Fatalf("Seen mismatch")
	}
}

func TestCheckAndMark_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	c := New(time.Second, 10, 0)
	c.now = func() time.Time { return now }

	c.CheckAndMark("a")
	now = now.Add(time.Second)
	if c.CheckAndMark("a") {
		t.Fatalf("expired key reported as duplicate")
	}

	now = now.Add(2 * time.Second)
	c.sweep()
	if c.Len() != 0 {
		t.Fatalf("sweep left %d keys", c.Len())
	}
}

func TestCheckAndMark_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Hour, 2, 0)
	c.CheckAndMark("a")
	c.CheckAndMark("b")
	c.CheckAndMark("c") // evicts a

	if c.Len() != 2 || c.Seen("a") || !c.Seen("b") || !c.Seen("c") {
		t.Fatalf("unexpected contents: len=%d a=%v b=%v c=%v", c.Len(), c.Seen("a"), c.Seen("b"), c.Seen("c"))
	}
}

func TestCheckAndMark_ConcurrentSingleWinner(t *testing.T) {
	c := New(time.Hour, 100, 0)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if fresh != 1 {
		t.Fatalf("fresh = %d, want 1", fresh)
	}
}

func TestReset(t *testing.T) {
	c := New(time.Hour, 10, time.Millisecond)
	defer c.Close()
	c.CheckAndMark("a")
	c.Reset()
	if c.Seen("a") || c.Len() != 0 {
		t.Fatalf("Reset did not clear")
	}
	c.Close() // idempotent
}
