package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/medfolio-backend/internal/sysutil"
)

// Limiter is anything that can consume one hit for a key.
type Limiter interface {
	Limit(ctx context.Context, key string) (Result, error)
}

// Decision is what callers act on.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // zero when Allowed
}

var (
	limiterDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_limiter_decisions_total",
			Help: "Recommendation limiter decisions by result (allowed, limited, disabled, error).",
		},
		[]string{"result"},
	)
	limiterErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendation_limiter_errors_total",
			Help: "Limiter calls that failed and were treated as allowed.",
		},
	)
)

func init() {
	prometheus.MustRegister(limiterDecisions, limiterErrors)
}

// Checker fronts an optional Limiter and always produces a Decision. With no
// limiter configured, or when the limiter errors, the request is allowed.
type Checker struct {
	limiter Limiter
	now     func() time.Time
}

// NewChecker wraps l. A nil l yields a Checker that allows everything.
func NewChecker(l Limiter) *Checker {
	return &Checker{limiter: l, now: time.Now}
}

// Enabled reports whether a backing limiter is configured.
func (c *Checker) Enabled() bool { return c != nil && c.limiter != nil }

// Check consumes one hit for key.
func (c *Checker) Check(ctx context.Context, key string) Decision {
	if !c.Enabled() {
		limiterDecisions.WithLabelValues("disabled").Inc()
		return Decision{Allowed: true}
	}

	res, err := c.limiter.Limit(ctx, key)
	if err != nil {
		limiterErrors.Inc()
		limiterDecisions.WithLabelValues("error").Inc()
		sysutil.Logger(ctx).Warn().
			Err(err).
			Str("component", "ratelimit").
			Msg("limiter unavailable, allowing request")
		return Decision{Allowed: true}
	}
	if res.Success {
		limiterDecisions.WithLabelValues("allowed").Inc()
		return Decision{Allowed: true}
	}

	limiterDecisions.WithLabelValues("limited").Inc()
	retry := res.Reset.Sub(c.now())
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, RetryAfter: retry}
}
