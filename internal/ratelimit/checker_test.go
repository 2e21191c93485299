package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type stubLimiter struct {
	res   Result
	err   error
	calls int
	keys  []string
}

func (s *stubLimiter) Limit(_ context.Context, key string) (Result, error) {
	s.calls++
	s.keys = append(s.keys, key)
	return s.res, s.err
}

func TestChecker_NilLimiterAllows(t *testing.T) {
	before := testutil.ToFloat64(limiterDecisions.WithLabelValues("disabled"))

	c := NewChecker(nil)
	assert.False(t, c.Enabled())
	assert.Equal(t, Decision{Allowed: true}, c.Check(context.Background(), "k"))

	var nilChecker *Checker
	assert.True(t, nilChecker.Check(context.Background(), "k").Allowed)

	assert.Equal(t, before+2, testutil.ToFloat64(limiterDecisions.WithLabelValues("disabled")))
}

func TestChecker_ErrorFailsOpen(t *testing.T) {
	before := testutil.ToFloat64(limiterErrors)

	s := &stubLimiter{err: errors.New("dial tcp: connection refused")}
	d := NewChecker(s).Check(context.Background(), "1.2.3.4:p1")

	assert.True(t, d.Allowed)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, []string{"1.2.3.4:p1"}, s.keys)
	assert.Equal(t, before+1, testutil.ToFloat64(limiterErrors))
}

func TestChecker_AllowedAndLimited(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c := NewChecker(&stubLimiter{res: Result{Success: true}})
	assert.Equal(t, Decision{Allowed: true}, c.Check(context.Background(), "k"))

	c = NewChecker(&stubLimiter{res: Result{Success: false, Reset: now.Add(90 * time.Second)}})
	c.now = func() time.Time { return now }
	d := c.Check(context.Background(), "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 90*time.Second, d.RetryAfter)

	// A reset already in the past never yields a negative retry.
	c.now = func() time.Time { return now.Add(time.Hour) }
	assert.Equal(t, time.Duration(0), c.Check(context.Background(), "k").RetryAfter)
}

func TestChecker_WithMiniredis(t *testing.T) {
	client, mr := newTestRedis(t)
	c := NewChecker(NewSlidingWindow(client, "rl:", 24*time.Hour, 1))
	ctx := context.Background()

	assert.True(t, c.Check(ctx, "ip:p").Allowed)
	d := c.Check(ctx, "ip:p")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, 23*time.Hour)

	// Outage: fail open.
	mr.Close()
	assert.True(t, c.Check(ctx, "ip:p").Allowed)
}
