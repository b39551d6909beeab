package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, rpm, tpm int64) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLimiter(client, rpm, tpm), mr
}

func TestAcquireSucceedsWithinBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, 10, 10000)

	permit, err := limiter.Acquire(context.Background(), "claude-opus", 100)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := permit.Release(context.Background(), 90); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestAcquireBlocksWhenRPMExhausted(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, 10000)

	permit, err := limiter.Acquire(context.Background(), "claude-opus", 10)
	if err != nil {
		t.Fatalf("Acquire (1st): %v", err)
	}
	if err := permit.Release(context.Background(), 10); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := limiter.Acquire(ctx, "claude-opus", 10); err == nil {
		t.Fatalf("expected second Acquire to block past RPM budget and hit context deadline")
	}
	_ = mr
}

func TestAcquireBlocksWhenTPMExhausted(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1000, 100)

	permit, err := limiter.Acquire(context.Background(), "claude-opus", 90)
	if err != nil {
		t.Fatalf("Acquire (1st): %v", err)
	}
	if err := permit.Release(context.Background(), 90); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := limiter.Acquire(ctx, "claude-opus", 50); err == nil {
		t.Fatalf("expected Acquire to block when estimate would exceed TPM budget")
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 10)

	permit, err := limiter.Acquire(context.Background(), "claude-opus", 10)
	if err != nil {
		t.Fatalf("Acquire (1st): %v", err)
	}
	defer permit.Release(context.Background(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(ctx, "claude-opus", 1)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected cancellation to release the blocked Acquire with an error")
		}
	case <-time.After(time.Second):
		t.Fatalf("Acquire did not return promptly after cancellation")
	}
}

// TestAcquireNeverAdmitsMoreThanRPMAcrossConcurrentCallers is P5/S5: many
// concurrent callers racing against one minute bucket never push the
// admitted count past the configured RPM limit, and no caller deadlocks -
// every loser returns promptly once its deadline passes rather than hanging
// forever (the TTL-based bucket only opens back up on the next real minute
// boundary, which a fast unit test can't wait out, so this bounds admission
// within a short deadline instead of across a full minute).
func TestAcquireNeverAdmitsMoreThanRPMAcrossConcurrentCallers(t *testing.T) {
	const rpm = 5
	const callers = 20
	limiter, _ := newTestLimiter(t, rpm, 1_000_000)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	admitted := 0
	done := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			permit, err := limiter.Acquire(ctx, "claude-opus", 10)
			if err != nil {
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
			_ = permit.Release(context.Background(), 10)
		}()
	}

	for i := 0; i < callers; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("caller %d did not return promptly - possible deadlock", i)
		}
	}

	if admitted > rpm {
		t.Fatalf("expected at most %d admitted within the minute bucket, got %d", rpm, admitted)
	}
	if admitted == 0 {
		t.Fatalf("expected at least one caller admitted")
	}
}

func TestActiveCallsGaugeTracksInFlight(t *testing.T) {
	limiter, _ := newTestLimiter(t, 100, 100000)
	ctx := context.Background()

	var wg sync.WaitGroup
	permits := make([]*Permit, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			permit, err := limiter.Acquire(ctx, "claude-opus", 10)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			permits[i] = permit
		}(i)
	}
	wg.Wait()

	active, err := limiter.ActiveCalls(ctx, "claude-opus")
	if err != nil {
		t.Fatalf("ActiveCalls: %v", err)
	}
	if active != 3 {
		t.Fatalf("expected 3 active calls, got %d", active)
	}

	for _, p := range permits {
		if p == nil {
			continue
		}
		if err := p.Release(ctx, 10); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	active, err = limiter.ActiveCalls(ctx, "claude-opus")
	if err != nil {
		t.Fatalf("ActiveCalls (after release): %v", err)
	}
	if active != 0 {
		t.Fatalf("expected 0 active calls after release, got %d", active)
	}
}
