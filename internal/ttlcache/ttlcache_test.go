package ttlcache

import (
	"testing"
	"time"
)

func newClock(start time.Time) (func() time.Time, func(time.Duration)) {
	cur := start
	now := func() time.Time { return cur }
	advance := func(d time.Duration) { cur = cur.Add(d) }
	return now, advance
}

func TestGetMiss(t *testing.T) {
	m := New[string, int](10, time.Minute)
	if _, ok := m.Get("nope"); ok {
		t.Fatal("expected miss on empty map")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	m := New[string, string](10, time.Minute)
	m.Set("a", "1")
	v, ok := m.Get("a")
	if !ok || v != "1" {
		t.Fatalf("got (%q, %v), want (1, true)", v, ok)
	}
}

func TestExpiryDeletesOnLookup(t *testing.T) {
	m := New[string, int](10, time.Minute)
	now, advance := newClock(time.Now())
	m.now = now

	m.Set("a", 1)
	advance(2 * time.Minute)

	if _, ok := m.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if m.Size() != 0 {
		t.Fatalf("expired entry should be deleted on lookup, size = %d", m.Size())
	}
}

func TestSetOverrideTTL(t *testing.T) {
	m := New[string, int](10, 20*time.Minute)
	now, advance := newClock(time.Now())
	m.now = now

	m.Set("tok", 1, 15*time.Minute)
	advance(16 * time.Minute)
	if _, ok := m.Get("tok"); ok {
		t.Fatal("expected override TTL to have expired")
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	m := New[int, int](3, time.Hour)
	for i := 0; i < 10; i++ {
		m.Set(i, i)
		if m.Size() > 3 {
			t.Fatalf("size exceeded capacity after Set(%d): %d", i, m.Size())
		}
	}
}

func TestEvictsOldestFIFO(t *testing.T) {
	m := New[int, int](2, time.Hour)
	m.Set(1, 1)
	m.Set(2, 2)
	m.Set(3, 3) // evicts 1

	if _, ok := m.Get(1); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, ok := m.Get(2); !ok {
		t.Fatal("expected entry 2 to survive")
	}
	if _, ok := m.Get(3); !ok {
		t.Fatal("expected entry 3 to survive")
	}
}

func TestPurgesExpiredBeforeEvictingFIFO(t *testing.T) {
	m := New[int, int](2, time.Minute)
	now, advance := newClock(time.Now())
	m.now = now

	m.Set(1, 1)
	advance(2 * time.Minute) // 1 now expired
	m.Set(2, 2)              // below capacity: no purge yet
	m.Set(3, 3)              // at capacity: purge reclaims the slot held by expired 1

	if m.Size() > 2 {
		t.Fatalf("size exceeded capacity: %d", m.Size())
	}
	if _, ok := m.Get(2); !ok {
		t.Fatal("expected entry 2 (never expired) to survive purge+insert")
	}
}

func TestDeleteAndClear(t *testing.T) {
	m := New[string, int](5, time.Hour)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
	m.Clear()
	if m.Size() != 0 {
		t.Fatalf("expected empty map after Clear, size = %d", m.Size())
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int, int](1000, time.Minute)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			for i := 0; i < 200; i++ {
				m.Set(g*1000+i, i)
				m.Get(g*1000 + i)
			}
			done <- struct{}{}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
