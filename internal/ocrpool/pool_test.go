package ocrpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolStartsOneWorkerPerSubType(t *testing.T) {
	depth := func(context.Context, SubType) (int, error) { return 0, nil }
	var calls int32
	process := func(ctx context.Context, st SubType) error {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return ctx.Err()
	}
	guard := NewCapacityGuard(100, 100e9, 1, 1e9, 0.2)
	pool := NewPool([]SubType{"index", "deed"}, depth, process, guard, nil)
	pool.SetIntervals(time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		counts := pool.Counts()
		if counts["index"] == 1 && counts["deed"] == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	counts := pool.Counts()
	if counts["index"] != 1 || counts["deed"] != 1 {
		t.Fatalf("expected one worker per sub-type, got %+v", counts)
	}

	cancel()
	wg.Wait()
}

func TestPoolRebalancesTowardDeeperQueue(t *testing.T) {
	var depths sync.Map
	depths.Store(SubType("index"), 100)
	depths.Store(SubType("deed"), 0)

	depth := func(_ context.Context, st SubType) (int, error) {
		v, _ := depths.Load(st)
		return v.(int), nil
	}
	process := func(ctx context.Context, st SubType) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return ErrNoWork
		}
	}
	guard := NewCapacityGuard(100, 100e9, 1, 1e9, 0.2)
	pool := NewPool([]SubType{"index", "deed"}, depth, process, guard, nil)
	pool.SetIntervals(20*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts := pool.Counts()
		if counts["index"] > counts["deed"] {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	counts := pool.Counts()
	if counts["index"] <= counts["deed"] {
		t.Fatalf("expected index sub-type to get more workers once its queue is deeper, got %+v", counts)
	}
	if counts["deed"] < 1 {
		t.Fatalf("expected at least one deed worker preserved (no class starves), got %+v", counts)
	}

	cancel()
	wg.Wait()
}

func TestPoolCapacityGuardCapsWorkerGrowth(t *testing.T) {
	depth := func(_ context.Context, st SubType) (int, error) {
		if st == "index" {
			return 1000, nil
		}
		return 0, nil
	}
	process := func(ctx context.Context, st SubType) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return ErrNoWork
		}
	}
	// Only 3 workers fit total, regardless of queue depth.
	guard := NewCapacityGuard(3, 1e12, 1, 1, 0)
	pool := NewPool([]SubType{"index", "deed"}, depth, process, guard, nil)
	pool.SetIntervals(20*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	time.Sleep(200 * time.Millisecond)

	counts := pool.Counts()
	total := counts["index"] + counts["deed"]
	if total > 3 {
		t.Fatalf("expected capacity guard to cap total workers at 3, got %d (%+v)", total, counts)
	}

	cancel()
	wg.Wait()
}
