// Package ratelimit implements the distributed sliding-window limiter used
// to throttle recommendations per (ip, profile), and a Checker that wraps it
// so callers never see limiter outages.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// slidingWindowLua keeps one sorted-set member per accepted hit, scored by
// its timestamp in milliseconds.
//
// Keys: KEYS[1] = limiter key.
// Args: ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = quota, ARGV[4] = member.
// Returns {allowed (0|1), reset_at_ms, remaining}.
const slidingWindowLua = `
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local quota  = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('zremrangebyscore', key, '-inf', now - window)
local count = redis.call('zcard', key)

local allowed = 0
if count < quota then
  redis.call('zadd', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('pexpire', key, window)

local reset = now + window
local oldest = redis.call('zrange', key, 0, 0, 'withscores')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end

local remaining = quota - count
if remaining < 0 then
  remaining = 0
end
return {allowed, reset, remaining}
`

var slidingWindowScript = goredis.NewScript(slidingWindowLua)

// ErrInvalidKey is returned for an empty limiter key.
var ErrInvalidKey = errors.New("ratelimit: key is required")

// Result is the outcome of one limiter call.
type Result struct {
	Success   bool      // false when the key already used its quota in the window
	Reset     time.Time // when the oldest counted hit leaves the window
	Remaining int64
}

// SlidingWindow allows Quota hits per key in any rolling Window.
type SlidingWindow struct {
	client Client
	prefix string
	window time.Duration
	quota  int64
	hash   string
	now    func() time.Time
}

// NewSlidingWindow builds a limiter over client. quota < 1 is coerced to 1.
func NewSlidingWindow(client Client, prefix string, window time.Duration, quota int64) *SlidingWindow {
	if quota < 1 {
		quota = 1
	}
	return &SlidingWindow{
		client: client,
		prefix: prefix,
		window: window,
		quota:  quota,
		hash:   slidingWindowScript.Hash(),
		now:    time.Now,
	}
}

// Limit records a hit for key when the quota allows it and reports whether
// it did. Transport and script errors are returned unchanged; deciding what
// an outage means is the Checker's job.
func (l *SlidingWindow) Limit(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrInvalidKey
	}
	fullKey := l.prefix + key
	args := []any{l.now().UnixMilli(), l.window.Milliseconds(), l.quota, uuid.NewString()}

	cmd := l.client.EvalSha(ctx, l.hash, []string{fullKey}, args...)
	if IsNoScriptErr(cmd.Err()) {
		cmd = l.client.Eval(ctx, slidingWindowLua, []string{fullKey}, args...)
	}
	if err := cmd.Err(); err != nil {
		return Result{}, err
	}
	return parseResult(cmd)
}

// Close releases the underlying client.
func (l *SlidingWindow) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

func parseResult(cmd *goredis.Cmd) (Result, error) {
	arr, err := cmd.Slice()
	if err != nil {
		return Result{}, fmt.Errorf("reading script result: %w", err)
	}
	if len(arr) != 3 {
		return Result{}, fmt.Errorf("script returned %d elements, want 3", len(arr))
	}
	vals := make([]int64, len(arr))
	for i, v := range arr {
		n, err := toInt64(v)
		if err != nil {
			return Result{}, fmt.Errorf("parsing element %d: %w", i, err)
		}
		vals[i] = n
	}
	return Result{
		Success:   vals[0] == 1,
		Reset:     time.UnixMilli(vals[1]),
		Remaining: vals[2],
	}, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return strconv.ParseInt(fmt.Sprint(v), 10, 64)
	}
}
