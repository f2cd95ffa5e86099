package ephemeral

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	return NewRegistry(log.NewNop(), WithClock(clock.Now))
}

func TestCreateAndGet(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	chat := r.Create("scratch")
	if chat.ID == uuid.Nil {
		t.Fatal("expected non-zero chat id")
	}
	if chat.Title != "scratch" {
		t.Errorf("title = %q, want %q", chat.Title, "scratch")
	}

	got, err := r.Get(chat.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != chat.ID {
		t.Errorf("got chat %s, want %s", got.ID, chat.ID)
	}
}

func TestGetUnknown(t *testing.T) {
	r := newTestRegistry(t, newFakeClock())

	chat := r.Create("")
	r.Remove(chat.ID)

	if _, err := r.Get(chat.ID); err != ErrExpired {
		t.Errorf("Get after Remove = %v, want ErrExpired", err)
	}
}

func TestExpiryFromCreation(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	chat := r.Create("")

	// Activity must not extend the lifetime.
	clock.Advance(59 * time.Minute)
	if _, err := r.Append(chat.ID, store.RoleUser, "still here", nil); err != nil {
		t.Fatalf("Append before expiry: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := r.Get(chat.ID); err != ErrExpired {
		t.Errorf("Get after TTL = %v, want ErrExpired", err)
	}
	if _, err := r.Append(chat.ID, store.RoleUser, "too late", nil); err != ErrExpired {
		t.Errorf("Append after TTL = %v, want ErrExpired", err)
	}
}

func TestExpiryAtExactBoundary(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	chat := r.Create("")

	// Exactly TTL after creation the chat is already dead.
	clock.Advance(DefaultTTL)
	if _, err := r.Get(chat.ID); err != ErrExpired {
		t.Errorf("Get at expiry instant = %v, want ErrExpired", err)
	}
	if n := r.Len(); n != 0 {
		t.Errorf("Len at expiry instant = %d, want 0", n)
	}
	if removed := r.Sweep(); removed != 1 {
		t.Errorf("Sweep at expiry instant removed %d chats, want 1", removed)
	}
	if drained := r.Drain([]uuid.UUID{chat.ID}); len(drained) != 0 {
		t.Errorf("Drain at expiry instant returned %d chats, want 0", len(drained))
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	old := r.Create("old")
	clock.Advance(45 * time.Minute)
	fresh := r.Create("fresh")
	clock.Advance(30 * time.Minute)

	if removed := r.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d chats, want 1", removed)
	}
	if _, err := r.Get(old.ID); err != ErrExpired {
		t.Errorf("old chat: got %v, want ErrExpired", err)
	}
	if _, err := r.Get(fresh.ID); err != nil {
		t.Errorf("fresh chat: %v", err)
	}
}

func TestRunSweepsOnTick(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(log.NewNop(),
		WithClock(clock.Now),
		WithTTL(time.Hour),
		WithSweepInterval(5*time.Millisecond),
	)

	chat := r.Create("")
	clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	deadline := time.After(time.Second)
	for r.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never removed expired chat")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if _, err := r.Get(chat.ID); err != ErrExpired {
		t.Errorf("Get after sweep = %v, want ErrExpired", err)
	}
}

func TestConcurrentAppendsPreserveAll(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	chat := r.Create("")

	const goroutines = 16
	const perGoroutine = 25

	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perGoroutine {
				_, err := r.Append(chat.ID, store.RoleUser, fmt.Sprintf("g%d-%d", g, i), nil)
				if err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := r.Get(chat.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != goroutines*perGoroutine {
		t.Errorf("got %d messages, want %d", len(got.Messages), goroutines*perGoroutine)
	}
}

func TestAppendRejectsInvalidRole(t *testing.T) {
	r := newTestRegistry(t, newFakeClock())
	chat := r.Create("")

	if _, err := r.Append(chat.ID, "narrator", "hi", nil); err != store.ErrInvalidRole {
		t.Errorf("Append with bad role = %v, want ErrInvalidRole", err)
	}
}

func TestDrain(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	a := r.Create("a")
	b := r.Create("b")
	expired := r.Create("expired")

	if _, err := r.Append(a.ID, store.RoleUser, "hello", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Expire one of the three by creating it in the past is not possible
	// here, so remove it to simulate an id the caller got wrong.
	r.Remove(expired.ID)

	drained := r.Drain([]uuid.UUID{a.ID, b.ID, expired.ID})
	if len(drained) != 2 {
		t.Fatalf("drained %d chats, want 2", len(drained))
	}

	// Drained chats are no longer served.
	if _, err := r.Get(a.ID); err != ErrExpired {
		t.Errorf("Get after Drain = %v, want ErrExpired", err)
	}

	for _, c := range drained {
		if c.ID == a.ID && len(c.Messages) != 1 {
			t.Errorf("chat a drained with %d messages, want 1", len(c.Messages))
		}
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := newTestRegistry(t, newFakeClock())
	chat := r.Create("")

	if _, err := r.Append(chat.ID, store.RoleUser, "one", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	snap, err := r.Get(chat.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	snap.Messages = nil

	again, err := r.Get(chat.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(again.Messages) != 1 {
		t.Errorf("registry copy mutated through snapshot, got %d messages", len(again.Messages))
	}
}
