package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/breaker"
	"github.com/miradorstack/mirador-chaos/internal/cache"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newScriptedGenerator(failing ...string) *scriptedGenerator {
	g := &scriptedGenerator{calls: make(map[string]int), fail: make(map[string]bool)}
	for _, model := range failing {
		g.fail[model] = true
	}
	return g
}

func (g *scriptedGenerator) Generate(_ context.Context, model, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[model]++
	if g.fail[model] {
		return "", errors.New(model + " unavailable")
	}
	return model + ":" + prompt, nil
}

func (g *scriptedGenerator) setFailing(model string, failing bool) {
	g.mu.Lock()
	g.fail[model] = failing
	g.mu.Unlock()
}

func (g *scriptedGenerator) count(model string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[model]
}

func testConfig() Config {
	return Config{
		Primary:       "primary-model",
		Secondary:     "secondary-model",
		MaxRetries:    2,
		CacheTTL:      time.Minute,
		CacheCapacity: 10,
		Breaker:       breaker.Config{FailureThreshold: 10, RecoveryTimeout: time.Minute, HalfOpenTrials: 1},
	}
}

func TestPrimarySuccessIsCached(t *testing.T) {
	gen := newScriptedGenerator()
	r := New(testConfig(), gen, nil)

	res, err := r.Generate(context.Background(), "q")
	if err != nil || res.Source != SourcePrimary || res.Text != "primary-model:q" {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
	res, err = r.Generate(context.Background(), "q")
	if err != nil || res.Source != SourceCache {
		t.Fatalf("expected cache hit, got %+v %v", res, err)
	}
	if gen.count("primary-model") != 1 {
		t.Fatalf("expected a single backend call, got %d", gen.count("primary-model"))
	}
}

func TestFallsBackToSecondaryAfterRetries(t *testing.T) {
	gen := newScriptedGenerator("primary-model")
	r := New(testConfig(), gen, nil)

	res, err := r.Generate(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceSecondary || !res.FellBack {
		t.Fatalf("expected secondary fallback, got %+v", res)
	}
	if gen.count("primary-model") != 3 {
		t.Fatalf("expected retries+1 primary attempts, got %d", gen.count("primary-model"))
	}
	stats := r.Stats()
	if stats.Fallbacks != 1 {
		t.Fatalf("expected exactly one fallback, got %d", stats.Fallbacks)
	}
	if stats.PrimaryFailures != 3 {
		t.Fatalf("expected three primary failures, got %d", stats.PrimaryFailures)
	}

	if _, err := r.Generate(context.Background(), "other"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Stats().Fallbacks != 2 {
		t.Fatalf("expected one fallback per exhaustion cycle, got %d", r.Stats().Fallbacks)
	}
}

func TestOpenBreakerCountsAsAttemptWithoutCallingBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	gen := newScriptedGenerator("primary-model")
	r := New(cfg, gen, nil)

	if _, err := r.Generate(context.Background(), "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.count("primary-model") != 1 {
		t.Fatalf("breaker should have rejected the retries, calls=%d", gen.count("primary-model"))
	}
	if r.Breakers()["primary"].State != breaker.Open {
		t.Fatalf("expected primary breaker open")
	}
}

func TestCacheOnlyMissMakesNoBackendCalls(t *testing.T) {
	gen := newScriptedGenerator()
	r := New(testConfig(), gen, nil)
	r.PreferCacheOnly()

	_, err := r.Generate(context.Background(), "q")
	if !errors.Is(err, ErrCacheOnlyMiss) {
		t.Fatalf("expected cache-only miss, got %v", err)
	}
	if gen.count("primary-model")+gen.count("secondary-model") != 0 {
		t.Fatalf("cache-only mode must not call backends")
	}
	if r.Stats().BackendCalls != 0 {
		t.Fatalf("expected zero backend calls recorded")
	}
}

func TestCacheOnlyServesCachedAnswer(t *testing.T) {
	gen := newScriptedGenerator()
	r := New(testConfig(), gen, nil)
	if _, err := r.Generate(context.Background(), "q"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	r.PreferCacheOnly()
	res, err := r.Generate(context.Background(), "q")
	if err != nil || res.Source != SourceCache {
		t.Fatalf("expected cached answer, got %+v %v", res, err)
	}
	r.NormalMode()
	if r.Mode().CacheOnly {
		t.Fatalf("expected normal mode restored")
	}
}

func TestDisabledPrimaryGoesStraightToSecondary(t *testing.T) {
	gen := newScriptedGenerator()
	r := New(testConfig(), gen, nil)
	r.DisablePrimary()

	res, err := r.Generate(context.Background(), "q")
	if err != nil || res.Source != SourceSecondary || res.FellBack {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
	if gen.count("primary-model") != 0 {
		t.Fatalf("disabled primary must not be called")
	}
	if r.Stats().Fallbacks != 0 {
		t.Fatalf("skipping a disabled primary is not a fallback")
	}
}

func TestExhaustionReturnsAggregateError(t *testing.T) {
	gen := newScriptedGenerator("primary-model", "secondary-model")
	r := New(testConfig(), gen, nil)

	_, err := r.Generate(context.Background(), "q")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "secondary-model unavailable") {
		t.Fatalf("expected last cause in error, got %v", err)
	}
}

func TestFinalCacheLookupAfterSecondaryFailure(t *testing.T) {
	gen := newScriptedGenerator()
	r := New(testConfig(), gen, nil)
	if _, err := r.Generate(context.Background(), "q"); err != nil {
		t.Fatalf("warm: %v", err)
	}

	// Another request fills the cache while this one is failing over.
	gen.setFailing("primary-model", true)
	gen.setFailing("secondary-model", true)
	filler := &fillingGenerator{inner: gen, router: r, prompt: "late"}
	r.gen = filler

	res, err := r.Generate(context.Background(), "late")
	if err != nil {
		t.Fatalf("expected final cache hit, got %v", err)
	}
	if res.Source != SourceCache || res.Text != "filled" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

type fillingGenerator struct {
	inner  *scriptedGenerator
	router *Router
	prompt string
}

func (f *fillingGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	text, err := f.inner.Generate(ctx, model, prompt)
	if err != nil && model == "secondary-model" {
		f.router.cache.Set(cache.Fingerprint(f.prompt), "filled")
	}
	return text, err
}

func TestAttemptTimeoutCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.AttemptTimeout = 10 * time.Millisecond
	r := New(cfg, blockingGenerator{}, nil)

	_, err := r.Generate(context.Background(), "q")
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timed out exhaustion, got %v", err)
	}
	if r.Breakers()["primary"].FailureCount != 1 {
		t.Fatalf("timeout must count as breaker failure")
	}
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRestoreMode(t *testing.T) {
	r := New(testConfig(), newScriptedGenerator(), nil)
	r.DisablePrimary()
	r.PreferCacheOnly()
	snapshot := r.Mode()
	r.Restore(Mode{})
	if r.Mode() != (Mode{}) {
		t.Fatalf("expected cleared mode")
	}
	r.Restore(snapshot)
	if r.Mode() != snapshot {
		t.Fatalf("expected restored mode")
	}
}

type cancellingGenerator struct {
	cancel context.CancelFunc
	calls  int
}

func (g *cancellingGenerator) Generate(ctx context.Context, _, _ string) (string, error) {
	g.calls++
	g.cancel()
	return "", ctx.Err()
}

func TestCallerCancellationStopsRouting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &cancellingGenerator{cancel: cancel}
	r := New(testConfig(), gen, nil)

	_, err := r.Generate(ctx, "q")
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrExhausted) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", gen.calls)
	}
	stats := r.Stats()
	if stats.PrimaryFailures != 0 || stats.Fallbacks != 0 {
		t.Fatalf("cancellation must not count as failure or fallback: %+v", stats)
	}
	if r.Breakers()["primary"].FailureCount != 0 {
		t.Fatalf("cancellation must not trip the breaker")
	}
}
