package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := New[string, int](n); err == nil {
			t.Errorf("Expected error for maxEntries=%d", n)
		}
	}
}

// TestCapacityEviction inserts more keys than the cache can hold.
func TestCapacityEviction(t *testing.T) {
	c, err := New[string, int](2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.Put("a", 1, NoExpiry)
	c.Put("b", 2, NoExpiry)
	c.Put("c", 3, NoExpiry)

	if c.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Expected evicted key 'a' to be absent")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("Expected key %q to be present", k)
		}
	}
	if c.MaxEntries() != 2 {
		t.Errorf("Expected MaxEntries 2, got %d", c.MaxEntries())
	}
}

func TestRecentlyReadSurvivesEviction(t *testing.T) {
	c, _ := New[string, int](2)
	c.Put("a", 1, NoExpiry)
	c.Put("b", 2, NoExpiry)
	c.Get("a")
	c.Put("c", 3, NoExpiry)

	if _, ok := c.Get("a"); !ok {
		t.Error("Expected recently read key 'a' to survive")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("Expected 'b' to be evicted")
	}
}

// TestExpiry checks TTL handling with an injected clock.
func TestExpiry(t *testing.T) {
	clk := newClock()
	c, _ := New[string, string](10, WithClock(clk.Now))

	c.Put("snapshot", "v1", 300*time.Second)
	c.Put("forever", "v2", NoExpiry)

	clk.Advance(299 * time.Second)
	if v, ok := c.Get("snapshot"); !ok || v != "v1" {
		t.Errorf("Expected v1 before expiry, got %q (ok=%v)", v, ok)
	}

	clk.Advance(time.Second)
	if _, ok := c.Get("snapshot"); ok {
		t.Error("Expected snapshot to expire at TTL")
	}
	if _, ok := c.Get("forever"); !ok {
		t.Error("Expected entry without TTL to stay")
	}

	if n := c.EvictExpired(); n != 1 {
		t.Errorf("Expected 1 expired entry removed, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", c.Len())
	}
}

func TestPutSweepsExpiredBeforeEvictingLive(t *testing.T) {
	clk := newClock()
	c, _ := New[string, int](2, WithClock(clk.Now))

	c.Put("live", 1, NoExpiry)
	c.Put("short", 2, time.Second)
	clk.Advance(2 * time.Second)
	c.Put("new", 3, NoExpiry)

	if _, ok := c.Get("live"); !ok {
		t.Error("Expected live entry to survive when an expired one could be swept")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("Expected new entry to be present")
	}
}

func TestUpdate(t *testing.T) {
	c, _ := New[string, int](4)
	newer := func(v int) func(int, bool) (int, bool) {
		return func(cur int, ok bool) (int, bool) {
			if ok && cur > v {
				return cur, false
			}
			return v, true
		}
	}

	if !c.Update("k", NoExpiry, newer(5)) {
		t.Error("Expected first update to store")
	}
	if c.Update("k", NoExpiry, newer(3)) {
		t.Error("Expected older value to be rejected")
	}
	if v, _ := c.Get("k"); v != 5 {
		t.Errorf("Expected 5, got %d", v)
	}
	if !c.Update("k", NoExpiry, newer(7)) {
		t.Error("Expected newer value to store")
	}
	if v, _ := c.Get("k"); v != 7 {
		t.Errorf("Expected 7, got %d", v)
	}
}

func TestRemoveAndPurge(t *testing.T) {
	c, _ := New[int, int](4)
	for i := 0; i < 4; i++ {
		c.Put(i, i, NoExpiry)
	}
	c.Remove(1)
	if _, ok := c.Get(1); ok {
		t.Error("Expected removed key to be absent")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after purge, got %d", c.Len())
	}
}

// TestConcurrentAccess exercises one writer and many readers.
func TestConcurrentAccess(t *testing.T) {
	c, _ := New[int, int](100)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.Put(i%150, i, time.Minute)
		}
	}()
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Get(i % 150)
				c.Len()
			}
		}()
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Expected at most 100 entries, got %d", c.Len())
	}
}
