package session

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/fieldagent/internal/domain"
)

func newTestSession(id string) *Session {
	return New(id, &domain.Conversation{ID: 7, SessionID: id}, &domain.Agent{Name: "Ada"})
}

func TestManager_Register(t *testing.T) {
	sm := NewManager()
	s := newTestSession("sess-1")

	sm.Register(s, nil)

	if got := sm.Get("sess-1"); got != s {
		t.Errorf("Expected session %p, got %p", s, got)
	}
	if sm.Len() != 1 {
		t.Errorf("Expected 1 live session, got %d", sm.Len())
	}
}

func TestManager_Unregister(t *testing.T) {
	sm := NewManager()
	s := newTestSession("sess-1")

	sm.Register(s, nil)
	sm.Unregister(s)

	if got := sm.Get("sess-1"); got != nil {
		t.Errorf("Expected nil session, got %v", got)
	}
}

func TestManager_ReplaceClosesPrevious(t *testing.T) {
	sm := NewManager()
	first := newTestSession("sess-1")
	second := newTestSession("sess-1")

	closed := false
	sm.Register(first, func() { closed = true })
	sm.Register(second, nil)

	if !closed {
		t.Error("Expected previous connection to be closed")
	}

	// The stale session's teardown must not evict its replacement.
	sm.Unregister(first)
	if got := sm.Get("sess-1"); got != second {
		t.Errorf("Expected replacement session to remain, got %v", got)
	}
}

func TestManager_CloseAndIdle(t *testing.T) {
	sm := NewManager()
	stale := newTestSession("stale")
	fresh := newTestSession("fresh")

	now := time.Now()
	stale.Touch(now.Add(-time.Hour))
	fresh.Touch(now)

	closed := make(chan struct{}, 1)
	sm.Register(stale, func() { closed <- struct{}{} })
	sm.Register(fresh, nil)

	idle := sm.Idle(10*time.Minute, now)
	if len(idle) != 1 || idle[0] != "stale" {
		t.Fatalf("Expected [stale], got %v", idle)
	}

	if !sm.Close("stale") {
		t.Fatal("Expected Close to find the session")
	}
	select {
	case <-closed:
	default:
		t.Error("Expected close callback to run")
	}
	if sm.Close("missing") {
		t.Error("Expected Close on unknown id to report false")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	sm := NewManager()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				s := newTestSession("sess-" + strconv.Itoa(w) + "-" + strconv.Itoa(i))
				sm.Register(s, nil)
				if sm.Get(s.ID) != s {
					t.Errorf("lookup failed for %s", s.ID)
				}
				sm.Unregister(s)
			}
		}(w)
	}
	wg.Wait()

	if sm.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", sm.Len())
	}
}

func TestManager_CloseAll(t *testing.T) {
	sm := NewManager()
	var mu sync.Mutex
	closed := 0
	for i := 0; i < 3; i++ {
		sm.Register(newTestSession("sess-"+strconv.Itoa(i)), func() {
			mu.Lock()
			closed++
			mu.Unlock()
		})
	}

	if n := sm.CloseAll(); n != 3 {
		t.Errorf("CloseAll returned %d, want 3", n)
	}
	if closed != 3 {
		t.Errorf("closed %d sessions, want 3", closed)
	}
	// Sessions stay registered until their own goroutines unregister.
	if sm.Len() != 3 {
		t.Errorf("Len = %d, want 3", sm.Len())
	}
}
