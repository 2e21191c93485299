package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client is the subset of go-redis the limiter needs. *redis.Client and
// *redis.ClusterClient both satisfy it.
type Client interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *goredis.Cmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// NewClient parses a redis:// or rediss:// URL and applies timeout to
// dialing, reads and writes. The connection is not verified; use Ping.
func NewClient(rawURL string, timeout time.Duration) (Client, error) {
	opts, err := goredis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	// Fail fast: an unreachable limiter is treated as "allow" by the Checker.
	opts.MaxRetries = 1
	return goredis.NewClient(opts), nil
}

// IsNoScriptErr reports whether err is a NOSCRIPT reply from Redis.
func IsNoScriptErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}
