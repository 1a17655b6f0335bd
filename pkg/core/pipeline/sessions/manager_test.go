package sessions

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_RegisterUnregister_CountAndWait(t *testing.T) {
	m := NewManager()
	if m.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", m.Count())
	}

	u1 := m.Register("s1", Handle{})
	u2 := m.Register("s2", Handle{})
	if m.Count() != 2 {
		t.Fatalf("count=%d, want 2", m.Count())
	}

	u1()
	u1() // double unregister is a no-op
	if m.Count() != 1 {
		t.Fatalf("count=%d, want 1", m.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := m.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
}

func TestManager_RegisterSameID_ReplacesAndCancelsOld(t *testing.T) {
	m := NewManager()
	var oldCanceled atomic.Int64
	m.Register("s1", Handle{Cancel: func() { oldCanceled.Add(1) }})
	u := m.Register("s1", Handle{})
	defer u()

	if oldCanceled.Load() != 1 {
		t.Fatalf("old session cancel calls=%d, want 1", oldCanceled.Load())
	}
	if m.Count() != 1 {
		t.Fatalf("count=%d, want 1", m.Count())
	}
}

func TestManager_Get(t *testing.T) {
	m := NewManager()
	var warned atomic.Int64
	u := m.Register("s1", Handle{Warn: func(code, message string) error {
		warned.Add(1)
		return nil
	}})

	h, err := m.Get("s1")
	if err != nil {
		t.Fatalf("Get(s1): %v", err)
	}
	if h.Warn == nil {
		t.Fatal("Get(s1) returned handle without warn func")
	}
	_ = h.Warn("draining", "test")
	if warned.Load() != 1 {
		t.Fatalf("warn calls=%d, want 1", warned.Load())
	}

	if _, err := m.Get("unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(unknown) err=%v, want ErrNotFound", err)
	}

	u()
	if _, err := m.Get("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after unregister err=%v, want ErrNotFound", err)
	}
}

func TestManager_CancelAll_CallsCancel(t *testing.T) {
	m := NewManager()
	var c1, c2 atomic.Int64
	m.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	m.Register("s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := m.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestManager_WarnAll_BestEffort(t *testing.T) {
	m := NewManager()
	var w1, w2 atomic.Int64
	m.Register("s1", Handle{Warn: func(code, message string) error {
		w1.Add(1)
		return nil
	}})
	m.Register("s2", Handle{Warn: func(code, message string) error {
		w2.Add(1)
		return errors.New("nope")
	}})

	if sent := m.WarnAll("draining", "test"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}

func TestManager_ReapIdle(t *testing.T) {
	m := NewManager()
	clock := time.Now()
	m.now = func() time.Time { return clock }

	var stale, fresh atomic.Int64
	ustale := m.Register("stale", Handle{Cancel: func() { stale.Add(1) }})

	clock = clock.Add(10 * time.Minute)
	m.Register("fresh", Handle{Cancel: func() { fresh.Add(1) }})

	if n := m.ReapIdle(5 * time.Minute); n != 1 {
		t.Fatalf("reaped=%d, want 1", n)
	}
	if stale.Load() != 1 {
		t.Fatalf("stale cancel calls=%d, want 1", stale.Load())
	}
	if fresh.Load() != 0 {
		t.Fatalf("fresh session was reaped")
	}
	ustale()

	// Touch keeps a session alive past the cutoff.
	clock = clock.Add(6 * time.Minute)
	m.Touch("fresh")
	if n := m.ReapIdle(5 * time.Minute); n != 0 {
		t.Fatalf("reaped=%d after touch, want 0", n)
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if !strings.HasPrefix(a, "sess_") {
		t.Fatalf("unexpected id %q", a)
	}
	if a == b {
		t.Fatalf("ids collide: %q", a)
	}
}
