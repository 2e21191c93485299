package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/identity"
	"github.com/tbourn/medfolio-backend/internal/ratelimit"
)

// Deduplicator is one strategy for recognizing a repeat recommendation.
// HasDuplicate returns true only on a positive match; an error means the
// check was inconclusive and is treated as no match by the gate.
type Deduplicator interface {
	Name() string
	HasDuplicate(ctx context.Context, profileID string, id identity.Identity) (bool, error)
}

// DuplicateLookup is the persistence contract the lookup-based strategies
// need.
type DuplicateLookup interface {
	HasFingerprint(ctx context.Context, db *gorm.DB, profileID, fingerprint string) (bool, error)
	HasIPSince(ctx context.Context, db *gorm.DB, profileID, ip string, since time.Time) (bool, error)
}

// LimiterKey is the distributed limiter key for a visitor and profile.
func LimiterKey(ip, profileID string) string { return ip + ":" + profileID }

// LimiterDeduplicator consumes one hit on the distributed sliding window.
// The checker already fails open, so this strategy never errors.
type LimiterDeduplicator struct {
	Checker *ratelimit.Checker
}

// Name implements Deduplicator.
func (LimiterDeduplicator) Name() string { return "limiter" }

// HasDuplicate implements Deduplicator.
func (d LimiterDeduplicator) HasDuplicate(ctx context.Context, profileID string, id identity.Identity) (bool, error) {
	dec := d.Checker.Check(ctx, LimiterKey(id.IP, profileID))
	return !dec.Allowed, nil
}

// FingerprintDeduplicator matches any earlier recommendation with the same
// fingerprint for the profile, however old.
type FingerprintDeduplicator struct {
	DB     *gorm.DB
	Lookup DuplicateLookup
}

// Name implements Deduplicator.
func (FingerprintDeduplicator) Name() string { return "fingerprint" }

// HasDuplicate implements Deduplicator.
func (d FingerprintDeduplicator) HasDuplicate(ctx context.Context, profileID string, id identity.Identity) (bool, error) {
	return d.Lookup.HasFingerprint(ctx, d.DB, profileID, id.Fingerprint)
}

// IPWindowDeduplicator matches a recommendation from the same IP within the
// trailing Window. It backs up the limiter when Redis is down or not
// configured.
type IPWindowDeduplicator struct {
	DB     *gorm.DB
	Lookup DuplicateLookup
	Window time.Duration
	Now    func() time.Time
}

// Name implements Deduplicator.
func (IPWindowDeduplicator) Name() string { return "ip_window" }

// HasDuplicate implements Deduplicator.
func (d IPWindowDeduplicator) HasDuplicate(ctx context.Context, profileID string, id identity.Identity) (bool, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return d.Lookup.HasIPSince(ctx, d.DB, profileID, id.IP, now().Add(-d.Window))
}
