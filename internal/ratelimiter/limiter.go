// Package ratelimiter implements the cross-process shared RPM/TPM budget
// vision-model calls must pass through. It generalizes the teacher's local,
// in-process token-bucket RateLimiter (internal/providers/ratelimit.go) into
// a Redis-backed counter so many worker processes share one budget per
// model.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript atomically checks both the request and token budgets for the
// current minute bucket and, if both have headroom, increments them. Lua
// execution is single-threaded in Redis, so this is the atomic
// check-and-increment the budget needs without a client-side WATCH loop.
var acquireScript = redis.NewScript(`
local reqKey = KEYS[1]
local tokKey = KEYS[2]
local rpmLimit = tonumber(ARGV[1])
local tpmLimit = tonumber(ARGV[2])
local estimate = tonumber(ARGV[3])

local requests = tonumber(redis.call('GET', reqKey) or '0')
local tokens = tonumber(redis.call('GET', tokKey) or '0')

if requests + 1 > rpmLimit or tokens + estimate > tpmLimit then
  return 0
end

redis.call('INCR', reqKey)
redis.call('EXPIRE', reqKey, 65)
redis.call('INCRBY', tokKey, estimate)
redis.call('EXPIRE', tokKey, 65)
return 1
`)

// Limiter enforces one RPM/TPM budget per vision model, shared across every
// process that points at the same Redis instance.
type Limiter struct {
	client    redis.Cmdable
	keyPrefix string
	rpmLimit  int64
	tpmLimit  int64
}

// NewLimiter returns a Limiter backed by client, enforcing rpmLimit requests
// and tpmLimit tokens per calendar minute, per model name.
func NewLimiter(client redis.Cmdable, rpmLimit, tpmLimit int64) *Limiter {
	return &Limiter{client: client, keyPrefix: "registryctl:ratelimiter", rpmLimit: rpmLimit, tpmLimit: tpmLimit}
}

// Permit is a reservation returned by Acquire. Callers MUST call Release
// with the actual measured token usage once the call completes, even on
// error, so the minute bucket reflects real consumption.
type Permit struct {
	limiter  *Limiter
	tokenKey string
	estimate int64
	model    string
}

// Acquire blocks until the shared budget has room for one call against
// model estimated to cost estimateTokens, or ctx is cancelled. On success it
// increments the active-calls gauge and returns a Permit; the caller must
// Release it.
func (l *Limiter) Acquire(ctx context.Context, model string, estimateTokens int64) (*Permit, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		minute := now.Unix() / 60
		reqKey := fmt.Sprintf("%s:%s:requests:%d", l.keyPrefix, model, minute)
		tokKey := fmt.Sprintf("%s:%s:tokens:%d", l.keyPrefix, model, minute)

		res, err := acquireScript.Run(ctx, l.client, []string{reqKey, tokKey}, l.rpmLimit, l.tpmLimit, estimateTokens).Int()
		if err != nil {
			return nil, fmt.Errorf("ratelimiter: acquire: %w", err)
		}

		if res == 1 {
			if err := l.client.Incr(ctx, l.activeKey(model)).Err(); err != nil {
				return nil, fmt.Errorf("ratelimiter: active gauge incr: %w", err)
			}
			return &Permit{limiter: l, tokenKey: tokKey, estimate: estimateTokens, model: model}, nil
		}

		waitUntil := time.Unix((minute+1)*60, 0)
		wait := time.Until(waitUntil)
		if wait <= 0 {
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// activeKey returns the active-calls gauge key for model. Not time-bucketed:
// it tracks calls in flight right now, for observability and capacity-aware
// OCR pool sizing.
func (l *Limiter) activeKey(model string) string {
	return fmt.Sprintf("%s:%s:active", l.keyPrefix, model)
}

// ActiveCalls returns the current in-flight call count for model.
func (l *Limiter) ActiveCalls(ctx context.Context, model string) (int64, error) {
	v, err := l.client.Get(ctx, l.activeKey(model)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// Release records the actual token usage for a completed call, adjusting
// the minute bucket by the difference from the original estimate, and
// decrements the active-calls gauge. Release is safe to call exactly once;
// calling it on a cancelled Acquire's permit is a no-op since Acquire never
// returns a Permit on cancellation.
func (p *Permit) Release(ctx context.Context, actualTokens int64) error {
	diff := actualTokens - p.estimate
	pipe := p.limiter.client.Pipeline()
	if diff != 0 {
		pipe.IncrBy(ctx, p.tokenKey, diff)
	}
	pipe.Decr(ctx, p.limiter.activeKey(p.model))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("ratelimiter: release: %w", err)
	}
	return nil
}
