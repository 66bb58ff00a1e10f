package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryCooldownStore_TryAcquireIsExclusiveUntilExpiry(t *testing.T) {
	clock := &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryCooldownStore(MemoryCooldownOptions{Now: clock.Now})
	ctx := context.Background()

	acquired, err := store.TryAcquire(ctx, "stripe:x", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("expected first acquire to succeed, got %v err=%v", acquired, err)
	}
	acquired, _ = store.TryAcquire(ctx, "stripe:x", time.Minute)
	if acquired {
		t.Fatalf("expected second acquire to fail while active")
	}
	until, active, _ := store.Until(ctx, "stripe:x")
	if !active || !until.Equal(clock.now.Add(time.Minute)) {
		t.Fatalf("unexpected deadline %s active=%v", until, active)
	}

	clock.Advance(61 * time.Second)
	if _, active, _ := store.Until(ctx, "stripe:x"); active {
		t.Fatalf("expected cooldown to expire")
	}
	acquired, _ = store.TryAcquire(ctx, "stripe:x", time.Minute)
	if !acquired {
		t.Fatalf("expected acquire after expiry")
	}
	if err := store.Clear(ctx, "stripe:x"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, active, _ := store.Until(ctx, "stripe:x"); active {
		t.Fatalf("expected clear to remove cooldown")
	}
}

func TestMemoryCooldownStore_ConcurrentAcquire(t *testing.T) {
	store := NewMemoryCooldownStore()
	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.TryAcquire(context.Background(), "github:push", time.Hour); ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", won.Load())
	}
}

func TestMemoryCooldownStore_KeepsActiveCooldownsAtCapacity(t *testing.T) {
	clock := &steppingClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryCooldownStore(MemoryCooldownOptions{MaxEntries: 2, Now: clock.Now})
	ctx := context.Background()
	if err := store.Set(ctx, "a", time.Minute); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := store.Set(ctx, "b", 2*time.Minute); err != nil {
		t.Fatalf("set b: %v", err)
	}

	if err := store.Set(ctx, "c", 3*time.Minute); !errors.Is(err, ErrCooldownCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	acquired, err := store.TryAcquire(ctx, "c", 3*time.Minute)
	if acquired || !errors.Is(err, ErrCooldownCapacity) {
		t.Fatalf("expected acquire to be refused at capacity, acquired=%v err=%v", acquired, err)
	}
	for _, key := range []string{"a", "b"} {
		if _, active, _ := store.Until(ctx, key); !active {
			t.Fatalf("expected active cooldown %q to survive", key)
		}
	}
	if err := store.Set(ctx, "a", 5*time.Minute); err != nil {
		t.Fatalf("expected tracked key refresh at capacity, got %v", err)
	}

	clock.Advance(3 * time.Minute)
	acquired, err = store.TryAcquire(ctx, "c", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("expected expired deadline to make room, acquired=%v err=%v", acquired, err)
	}
	if _, active, _ := store.Until(ctx, "b"); active {
		t.Fatalf("expected expired key b to be gone")
	}
	if _, active, _ := store.Until(ctx, "a"); !active {
		t.Fatalf("expected refreshed key a to stay active")
	}
}

func TestCooldownKey(t *testing.T) {
	if got := CooldownKey(" Stripe ", "invoice.paid "); got != "stripe:invoice.paid" {
		t.Fatalf("unexpected cooldown key %q", got)
	}
}
