// Package ocrpool manages the long-lived OCR worker pool: a set of workers
// each specialized at any moment to one document sub-type, rebalanced
// periodically against queue depth, subject to a capacity guard and a
// one-worker-per-subtype floor so no class starves.
//
// Grounded on the teacher's internal/jobs/provider_pool.go (dispatcher
// pattern, now driving rebalancing instead of rate-limit pacing),
// internal/jobs/pool.go (semaphore-bounded worker goroutines), and
// internal/jobs/scheduler_workers.go (worker count bookkeeping) — all three
// deleted once their mechanics were captured here, since the surrounding
// push-based Job/Scheduler model did not survive the transform.
package ocrpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoWork is returned by a Processor when no job of its sub-type is
// currently claimable; the worker sleeps PollInterval before retrying.
var ErrNoWork = errors.New("ocrpool: no work available")

// SubType identifies a document specialization (e.g. "index", "deed").
type SubType string

// QueueDepthFunc reports how many jobs of subType are currently eligible for
// OCR processing, used to drive rebalancing.
type QueueDepthFunc func(ctx context.Context, subType SubType) (int, error)

// Processor claims and processes one job of subType, or returns ErrNoWork.
type Processor func(ctx context.Context, subType SubType) error

const (
	// DefaultRebalanceInterval is how often the pool re-evaluates queue
	// depth per sub-type.
	DefaultRebalanceInterval = 30 * time.Second
	// DefaultPollInterval is how long an individual worker sleeps after an
	// empty claim or a processing error.
	DefaultPollInterval = 10 * time.Second
)

type workerSlot struct {
	subType SubType
	cancel  context.CancelFunc
	done    chan struct{}
}

// Pool runs and rebalances the OCR workers for a set of document sub-types.
type Pool struct {
	mu sync.Mutex

	subTypes []SubType
	depth    QueueDepthFunc
	process  Processor
	guard    *CapacityGuard
	logger   *slog.Logger

	rebalanceInterval time.Duration
	pollInterval      time.Duration

	workers []*workerSlot
	wg      sync.WaitGroup
}

// NewPool returns a Pool that starts one worker per subType and rebalances
// against depth every DefaultRebalanceInterval, subject to guard.
func NewPool(subTypes []SubType, depth QueueDepthFunc, process Processor, guard *CapacityGuard, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		subTypes:          subTypes,
		depth:             depth,
		process:           process,
		guard:             guard,
		logger:            logger,
		rebalanceInterval: DefaultRebalanceInterval,
		pollInterval:      DefaultPollInterval,
	}
}

// SetIntervals overrides the rebalance and poll intervals, for tests.
func (p *Pool) SetIntervals(rebalance, poll time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebalanceInterval = rebalance
	p.pollInterval = poll
}

// Run starts one worker per sub-type and rebalances until ctx is cancelled,
// then waits for every worker to exit before returning.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	for _, st := range p.subTypes {
		p.startWorkerLocked(ctx, st)
	}
	interval := p.rebalanceInterval
	p.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stopAll()
			p.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			p.rebalance(ctx)
		}
	}
}

// Counts returns the current worker count per sub-type, for status
// reporting.
func (p *Pool) Counts() map[SubType]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countsLocked()
}

func (p *Pool) countsLocked() map[SubType]int {
	out := make(map[SubType]int, len(p.subTypes))
	for _, st := range p.subTypes {
		out[st] = 0
	}
	for _, w := range p.workers {
		out[w.subType]++
	}
	return out
}

func (p *Pool) rebalance(ctx context.Context) {
	depths := make(map[SubType]int, len(p.subTypes))
	for _, st := range p.subTypes {
		d, err := p.depth(ctx, st)
		if err != nil {
			p.logger.Warn("ocrpool: queue depth lookup failed", "sub_type", st, "error", err)
			d = 0
		}
		depths[st] = d
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	maxWorkers := p.guard.MaxWorkers()
	if maxWorkers < len(p.subTypes) {
		maxWorkers = len(p.subTypes)
	}

	desired := allocate(p.subTypes, depths, maxWorkers)
	current := p.countsLocked()
	total := len(p.workers)

	for _, st := range p.subTypes {
		want, have := desired[st], current[st]
		switch {
		case want > have:
			for i := 0; i < want-have; i++ {
				if !p.guard.Allows(total, 1) {
					p.logger.Info("ocrpool: capacity guard refused additional worker", "sub_type", st, "current_total", total)
					break
				}
				p.startWorkerLocked(ctx, st)
				total++
			}
		case want < have:
			stopped := p.stopWorkersLocked(st, have-want)
			total -= stopped
		}
	}
}

// allocate gives each sub-type one guaranteed worker, then distributes any
// remaining capacity proportionally to queue depth.
func allocate(subTypes []SubType, depths map[SubType]int, maxWorkers int) map[SubType]int {
	result := make(map[SubType]int, len(subTypes))
	for _, st := range subTypes {
		result[st] = 1
	}

	remaining := maxWorkers - len(subTypes)
	if remaining <= 0 {
		return result
	}

	totalDepth := 0
	for _, st := range subTypes {
		totalDepth += depths[st]
	}
	if totalDepth == 0 {
		return result
	}

	for _, st := range subTypes {
		share := int(float64(remaining) * float64(depths[st]) / float64(totalDepth))
		result[st] += share
	}
	return result
}

func (p *Pool) startWorkerLocked(ctx context.Context, st SubType) {
	workerCtx, cancel := context.WithCancel(ctx)
	slot := &workerSlot{subType: st, cancel: cancel, done: make(chan struct{})}
	p.workers = append(p.workers, slot)

	p.wg.Add(1)
	go p.runWorker(workerCtx, slot)
}

// stopWorkersLocked cancels up to n workers of the given sub-type and
// removes them from tracking, returning the number actually stopped.
func (p *Pool) stopWorkersLocked(st SubType, n int) int {
	stopped := 0
	remaining := p.workers[:0]
	for _, w := range p.workers {
		if w.subType == st && stopped < n {
			w.cancel()
			stopped++
			continue
		}
		remaining = append(remaining, w)
	}
	p.workers = remaining
	return stopped
}

func (p *Pool) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.cancel()
	}
	p.workers = nil
}

func (p *Pool) runWorker(ctx context.Context, slot *workerSlot) {
	defer p.wg.Done()
	defer close(slot.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := p.process(ctx, slot.subType)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNoWork) {
			p.logger.Warn("ocrpool: processing error", "sub_type", slot.subType, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}
