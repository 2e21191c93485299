package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/cache"
	"github.com/tbourn/medfolio-backend/internal/domain"
	"github.com/tbourn/medfolio-backend/internal/identity"
	"github.com/tbourn/medfolio-backend/internal/ratelimit"
)

const testProfileID = "11111111-1111-1111-1111-111111111111"

// ----- Fake repo -----

type memRepo struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	recs     []domain.Recommendation

	getCalls, fpCalls, ipCalls, createCalls, incCalls int

	getErr, fpErr, ipErr, createErr, incErr error

	incCtxErr error // ctx.Err() seen by the last increment
}

func newMemRepo(ids ...string) *memRepo {
	r := &memRepo{profiles: map[string]*domain.Profile{}}
	for _, id := range ids {
		r.profiles[id] = &domain.Profile{ID: id, Slug: "dr-" + id[:4]}
	}
	return r
}

func (r *memRepo) GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.getErr != nil {
		return nil, r.getErr
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) HasFingerprint(ctx context.Context, db *gorm.DB, profileID, fp string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fpCalls++
	if r.fpErr != nil {
		return false, r.fpErr
	}
	for _, rec := range r.recs {
		if rec.ProfileID == profileID && rec.Fingerprint == fp {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) HasIPSince(ctx context.Context, db *gorm.DB, profileID, ip string, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ipCalls++
	if r.ipErr != nil {
		return false, r.ipErr
	}
	for _, rec := range r.recs {
		if rec.ProfileID == profileID && rec.IPAddress == ip && !rec.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CreateRecommendation(ctx context.Context, db *gorm.DB, profileID, fp, ip string, at time.Time) (*domain.Recommendation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return nil, r.createErr
	}
	rec := domain.Recommendation{ID: "r", ProfileID: profileID, Fingerprint: fp, IPAddress: ip, CreatedAt: at}
	r.recs = append(r.recs, rec)
	return &rec, nil
}

func (r *memRepo) IncrementRecommendationCount(ctx context.Context, db *gorm.DB, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incCalls++
	r.incCtxErr = ctx.Err()
	if r.incErr != nil {
		return r.incErr
	}
	r.profiles[profileID].RecommendationCount++
	return nil
}

// ----- Fake limiter -----

type fakeLimiter struct {
	res   ratelimit.Result
	err   error
	calls int
	keys  []string
}

func (l *fakeLimiter) Limit(ctx context.Context, key string) (ratelimit.Result, error) {
	l.calls++
	l.keys = append(l.keys, key)
	return l.res, l.err
}

// ----- Helpers -----

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newGate(r *memRepo, l ratelimit.Limiter, clk *clock) *RecommendationService {
	var checker *ratelimit.Checker
	if l != nil {
		checker = ratelimit.NewChecker(l)
	}
	s := NewRecommendationService(nil, r, checker, 24*time.Hour, nil)
	s.Now = clk.Now
	s.Go = func(f func()) { f() }
	return s
}

func visitor(ip, ua string) identity.Identity {
	h := http.Header{}
	h.Set("X-Forwarded-For", ip)
	h.Set("User-Agent", ua)
	return identity.FromHeaders(h)
}

func startClock() *clock {
	return &clock{t: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)}
}

// ----- Tests -----

func TestRecommend_FreshVisitor_Recommended(t *testing.T) {
	r := newMemRepo(testProfileID)
	s := newGate(r, nil, startClock())

	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeRecommended {
		t.Fatalf("got (%v, %v); want recommended", out, err)
	}
	if r.createCalls != 1 || len(r.recs) != 1 {
		t.Fatalf("expected exactly one insert, got calls=%d recs=%d", r.createCalls, len(r.recs))
	}
	if r.incCalls != 1 || r.profiles[testProfileID].RecommendationCount != 1 {
		t.Fatalf("counter not incremented: calls=%d", r.incCalls)
	}
	rec := r.recs[0]
	if rec.IPAddress != "1.2.3.4" || rec.Fingerprint == "" || rec.ProfileID != testProfileID {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRecommend_SameFingerprint_AnyTimeLater(t *testing.T) {
	r := newMemRepo(testProfileID)
	clk := startClock()
	s := newGate(r, nil, clk)
	v := visitor("1.2.3.4", "UA-A")

	if out, _ := s.Recommend(context.Background(), testProfileID, v); out != OutcomeRecommended {
		t.Fatalf("first call: %v", out)
	}
	clk.Advance(90 * 24 * time.Hour)

	out, err := s.Recommend(context.Background(), testProfileID, v)
	if err != nil || out != OutcomeAlreadyRecommended {
		t.Fatalf("got (%v, %v); want already recommended", out, err)
	}
	if r.createCalls != 1 {
		t.Fatalf("no new record expected, createCalls=%d", r.createCalls)
	}
}

func TestRecommend_SameIP_DifferentFingerprint_Within24h(t *testing.T) {
	r := newMemRepo(testProfileID)
	clk := startClock()
	s := newGate(r, nil, clk)

	if out, _ := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A")); out != OutcomeRecommended {
		t.Fatalf("first call: %v", out)
	}
	clk.Advance(23 * time.Hour)

	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-B"))
	if err != nil || out != OutcomeAlreadyRecommended {
		t.Fatalf("got (%v, %v); want already recommended", out, err)
	}
	if r.ipCalls != 2 {
		t.Fatalf("ip-window check should have fired, ipCalls=%d", r.ipCalls)
	}
}

func TestRecommend_SameIP_After24h_Allowed(t *testing.T) {
	r := newMemRepo(testProfileID)
	clk := startClock()
	s := newGate(r, nil, clk)

	if out, _ := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A")); out != OutcomeRecommended {
		t.Fatalf("first call: %v", out)
	}
	clk.Advance(25 * time.Hour)

	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-B"))
	if err != nil || out != OutcomeRecommended {
		t.Fatalf("got (%v, %v); want recommended", out, err)
	}
	if len(r.recs) != 2 {
		t.Fatalf("expected two records, got %d", len(r.recs))
	}
}

func TestRecommend_LimiterExhausted_SkipsLookups(t *testing.T) {
	r := newMemRepo(testProfileID)
	clk := startClock()
	l := &fakeLimiter{res: ratelimit.Result{Success: false, Reset: clk.Now().Add(time.Hour)}}
	s := newGate(r, l, clk)

	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeAlreadyRecommended {
		t.Fatalf("got (%v, %v); want already recommended", out, err)
	}
	if r.fpCalls != 0 || r.ipCalls != 0 || r.createCalls != 0 {
		t.Fatalf("persistence must not be reached: fp=%d ip=%d create=%d", r.fpCalls, r.ipCalls, r.createCalls)
	}
	if len(l.keys) != 1 || l.keys[0] != "1.2.3.4:"+testProfileID {
		t.Fatalf("unexpected limiter keys: %v", l.keys)
	}
}

func TestRecommend_LimiterError_FallsThrough(t *testing.T) {
	r := newMemRepo(testProfileID)
	l := &fakeLimiter{err: errors.New("dial tcp: connection refused")}
	s := newGate(r, l, startClock())

	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeRecommended {
		t.Fatalf("got (%v, %v); want recommended", out, err)
	}
	if l.calls != 1 || r.fpCalls != 1 || r.ipCalls != 1 {
		t.Fatalf("expected all checks to run: limiter=%d fp=%d ip=%d", l.calls, r.fpCalls, r.ipCalls)
	}
}

func TestRecommend_InvalidProfileID_NoPersistence(t *testing.T) {
	r := newMemRepo(testProfileID)
	s := newGate(r, nil, startClock())

	for _, id := range []string{"", "not-a-uuid", "1111-2222"} {
		if _, err := s.Recommend(context.Background(), id, visitor("1.2.3.4", "UA-A")); !errors.Is(err, ErrInvalidProfileID) {
			t.Fatalf("%q: expected ErrInvalidProfileID, got %v", id, err)
		}
	}
	if r.getCalls+r.fpCalls+r.ipCalls+r.createCalls+r.incCalls != 0 {
		t.Fatalf("no persistence calls expected: %+v", r)
	}
}

func TestRecommend_UppercaseIDIsCanonicalized(t *testing.T) {
	const id = "ABCDEF01-2345-6789-ABCD-EF0123456789"
	r := newMemRepo("abcdef01-2345-6789-abcd-ef0123456789")
	s := newGate(r, nil, startClock())

	out, err := s.Recommend(context.Background(), id, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeRecommended {
		t.Fatalf("got (%v, %v); want recommended", out, err)
	}
}

func TestRecommend_UnknownProfile_NotFound(t *testing.T) {
	r := newMemRepo( /* none */ )
	l := &fakeLimiter{res: ratelimit.Result{Success: true}}
	s := newGate(r, l, startClock())

	_, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if r.createCalls != 0 || l.calls != 0 {
		t.Fatalf("no insert or limiter hit expected: create=%d limiter=%d", r.createCalls, l.calls)
	}
}

func TestRecommend_ProfileLookupError_Internal(t *testing.T) {
	r := newMemRepo(testProfileID)
	boom := errors.New("db down")
	r.getErr = boom
	s := newGate(r, nil, startClock())

	_, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if !errors.Is(err, ErrInternal) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrInternal wrapping cause, got %v", err)
	}
}

func TestRecommend_ConcreteScenario(t *testing.T) {
	r := newMemRepo(testProfileID)
	s := newGate(r, nil, startClock())

	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out.AlreadyRecommended() {
		t.Fatalf("first: (%v, %v)", out, err)
	}
	out, err = s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-B"))
	if err != nil || !out.AlreadyRecommended() {
		t.Fatalf("second: (%v, %v)", out, err)
	}
	if out.Message() != "You've already recommended this doctor recently" {
		t.Fatalf("unexpected message %q", out.Message())
	}
}

func TestRecommend_LookupErrors_FailOpen(t *testing.T) {
	r := newMemRepo(testProfileID)
	r.fpErr = errors.New("fp lookup timeout")
	r.ipErr = errors.New("ip lookup timeout")
	s := newGate(r, nil, startClock())

	before := testutil.ToFloat64(dedupeErrorsTotal.WithLabelValues("fingerprint"))
	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeRecommended {
		t.Fatalf("got (%v, %v); want recommended", out, err)
	}
	if got := testutil.ToFloat64(dedupeErrorsTotal.WithLabelValues("fingerprint")); got != before+1 {
		t.Fatalf("dedupe error metric = %v; want %v", got, before+1)
	}
}

func TestRecommend_InsertFailure_Internal(t *testing.T) {
	r := newMemRepo(testProfileID)
	boom := errors.New("constraint failed")
	r.createErr = boom
	s := newGate(r, nil, startClock())

	_, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if !errors.Is(err, ErrInternal) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrInternal wrapping cause, got %v", err)
	}
	if r.incCalls != 0 {
		t.Fatalf("counter must not move when insert fails")
	}
}

func TestRecommend_CounterFailure_NotSurfaced(t *testing.T) {
	r := newMemRepo(testProfileID)
	r.incErr = errors.New("rpc failed")
	s := newGate(r, nil, startClock())

	before := testutil.ToFloat64(counterFailuresTotal)
	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeRecommended {
		t.Fatalf("got (%v, %v); want recommended", out, err)
	}
	if len(r.recs) != 1 {
		t.Fatalf("insert must stand when the counter fails")
	}
	if got := testutil.ToFloat64(counterFailuresTotal); got != before+1 {
		t.Fatalf("counter failure metric = %v; want %v", got, before+1)
	}
}

func TestRecommend_CounterSurvivesRequestCancellation(t *testing.T) {
	r := newMemRepo(testProfileID)
	s := newGate(r, nil, startClock())

	ctx, cancel := context.WithCancel(context.Background())
	s.Go = func(f func()) {
		cancel() // request finishes before the increment runs
		f()
	}
	out, err := s.Recommend(ctx, testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeRecommended {
		t.Fatalf("got (%v, %v)", out, err)
	}
	if r.incCalls != 1 || r.incCtxErr != nil {
		t.Fatalf("increment should run on a live context: calls=%d err=%v", r.incCalls, r.incCtxErr)
	}
}

func TestRecommend_DefaultDispatchIsAsync(t *testing.T) {
	r := newMemRepo(testProfileID)
	s := NewRecommendationService(nil, r, nil, 24*time.Hour, nil)

	if _, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A")); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := r.incCalls
		r.mu.Unlock()
		if n == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("increment never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecommend_CacheInvalidatedAfterIncrement(t *testing.T) {
	r := newMemRepo(testProfileID)
	pc := cache.NewProfileCache(time.Minute)
	defer pc.Close()
	s := newGate(r, nil, startClock())
	s.Profiles = pc

	if _, err := s.Recommend(context.Background(), testProfileID, visitor("1.1.1.1", "UA-A")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := s.Recommend(context.Background(), testProfileID, visitor("2.2.2.2", "UA-B")); err != nil {
		t.Fatalf("second: %v", err)
	}
	if r.getCalls != 2 {
		t.Fatalf("each increment should drop the cached profile, getCalls=%d", r.getCalls)
	}

	// A duplicate does not invalidate, so the next lookup is a hit.
	if out, _ := s.Recommend(context.Background(), testProfileID, visitor("2.2.2.2", "UA-B")); out != OutcomeAlreadyRecommended {
		t.Fatalf("expected duplicate")
	}
	if _, err := s.Recommend(context.Background(), testProfileID, visitor("2.2.2.2", "UA-B")); err != nil {
		t.Fatalf("fourth: %v", err)
	}
	if r.getCalls != 3 {
		t.Fatalf("expected cache hit after duplicate, getCalls=%d", r.getCalls)
	}
}

func TestRecommend_CustomChain_FirstMatchWins(t *testing.T) {
	r := newMemRepo(testProfileID)
	s := newGate(r, nil, startClock())

	second := &countingDeduper{name: "second"}
	s.Dedupers = []Deduplicator{&countingDeduper{name: "first", match: true}, second}

	out, err := s.Recommend(context.Background(), testProfileID, visitor("1.2.3.4", "UA-A"))
	if err != nil || out != OutcomeAlreadyRecommended {
		t.Fatalf("got (%v, %v)", out, err)
	}
	if second.calls != 0 {
		t.Fatalf("chain must short-circuit on first match")
	}
}

type countingDeduper struct {
	name  string
	match bool
	calls int
}

func (d *countingDeduper) Name() string { return d.name }
func (d *countingDeduper) HasDuplicate(context.Context, string, identity.Identity) (bool, error) {
	d.calls++
	return d.match, nil
}

func TestOutcome_Strings(t *testing.T) {
	if OutcomeRecommended.Message() != "Thank you for recommending this doctor" || OutcomeRecommended.AlreadyRecommended() {
		t.Fatalf("recommended outcome wrong")
	}
	if OutcomeRecommended.String() != "recommended" || OutcomeAlreadyRecommended.String() != "already_recommended" {
		t.Fatalf("unexpected String() values")
	}
	if Outcome(0).String() != "unknown" {
		t.Fatalf("zero outcome should be unknown")
	}
}

func TestLimiterKey(t *testing.T) {
	if got := LimiterKey("1.2.3.4", testProfileID); got != "1.2.3.4:"+testProfileID {
		t.Fatalf("LimiterKey = %q", got)
	}
}
