// Package router answers prompts through a primary/secondary model pair with
// retries, circuit breaking and a response cache.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-chaos/internal/breaker"
	"github.com/miradorstack/mirador-chaos/internal/cache"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

var tracer = otel.Tracer("mirador.chaos.router")

var (
	// ErrCacheOnlyMiss is returned in cache-only mode when nothing is cached.
	ErrCacheOnlyMiss = errors.New("cache-only mode: no cached response")
	// ErrCircuitOpen marks an attempt rejected by a breaker.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrExhausted is the kind of the aggregate error returned when both
	// backends and the cache failed.
	ErrExhausted = errors.New("all generation backends exhausted")
)

// Generator is the text-generation capability.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Source says where an answer came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
)

// Result is a routed answer.
type Result struct {
	Text     string
	Source   Source
	Model    string
	FellBack bool
}

// Mode is the set of runtime routing toggles.
type Mode struct {
	PrimaryDisabled bool `json:"primary_disabled"`
	CacheOnly       bool `json:"cache_only"`
}

// Config controls routing.
type Config struct {
	Primary        string
	Secondary      string
	MaxRetries     int
	AttemptTimeout time.Duration
	CacheTTL       time.Duration
	CacheCapacity  int
	Breaker        breaker.Config
	// Clock drives breaker and cache timing; defaults to time.Now.
	Clock func() time.Time
}

// Stats counts router outcomes since start.
type Stats struct {
	Fallbacks       uint64 `json:"fallbacks"`
	PrimaryFailures uint64 `json:"primary_failures"`
	BackendCalls    uint64 `json:"backend_calls"`
}

// Router owns both breakers and the response cache.
type Router struct {
	cfg       Config
	gen       Generator
	logger    *slog.Logger
	cache     *cache.ResponseCache
	primary   *breaker.Breaker
	secondary *breaker.Breaker

	mu   sync.RWMutex
	mode Mode

	fallbacks       atomic.Uint64
	primaryFailures atomic.Uint64
	backendCalls    atomic.Uint64
}

// New constructs a router in normal mode.
func New(cfg Config, gen Generator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	r := &Router{
		cfg:       cfg,
		gen:       gen,
		logger:    logger,
		cache:     cache.NewWithClock(cfg.CacheTTL, cfg.CacheCapacity, cfg.Clock),
		primary:   breaker.NewWithClock(cfg.Breaker, cfg.Clock),
		secondary: breaker.NewWithClock(cfg.Breaker, cfg.Clock),
	}
	r.exportBreakers()
	return r
}

// Generate answers prompt: cache, then primary with retries, then secondary,
// then a last cache lookup.
func (r *Router) Generate(ctx context.Context, prompt string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Router.Generate")
	defer span.End()

	key := cache.Fingerprint(prompt)
	mode := r.Mode()
	span.SetAttributes(
		attribute.Bool("router.cache_only", mode.CacheOnly),
		attribute.Bool("router.primary_disabled", mode.PrimaryDisabled),
	)

	if mode.CacheOnly {
		if text, ok := r.cache.Get(key); ok {
			return Result{Text: text, Source: SourceCache}, nil
		}
		span.SetStatus(codes.Error, ErrCacheOnlyMiss.Error())
		return Result{}, ErrCacheOnlyMiss
	}

	if text, ok := r.cache.Get(key); ok {
		span.SetAttributes(attribute.String("router.source", string(SourceCache)))
		return Result{Text: text, Source: SourceCache}, nil
	}

	var lastErr error
	primaryTried := false
	if !mode.PrimaryDisabled {
		primaryTried = true
		for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
			text, err := r.attempt(ctx, r.primary, r.cfg.Primary, prompt)
			if err == nil {
				r.cache.Set(key, text)
				span.SetAttributes(attribute.String("router.source", string(SourcePrimary)), attribute.Int("router.attempts", attempt+1))
				return Result{Text: text, Source: SourcePrimary, Model: r.cfg.Primary}, nil
			}
			if ctx.Err() != nil {
				return Result{}, r.cancelled(span, ctx.Err())
			}
			lastErr = err
			r.primaryFailures.Add(1)
			metrics.IncPrimaryFailure()
			r.logger.Debug("primary attempt failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
		}
		r.fallbacks.Add(1)
		metrics.IncFallback()
		r.logger.Warn("primary model exhausted, falling back", slog.String("secondary", r.cfg.Secondary), slog.Any("error", lastErr))
	}

	text, err := r.attempt(ctx, r.secondary, r.cfg.Secondary, prompt)
	if err == nil {
		r.cache.Set(key, text)
		span.SetAttributes(attribute.String("router.source", string(SourceSecondary)))
		return Result{Text: text, Source: SourceSecondary, Model: r.cfg.Secondary, FellBack: primaryTried}, nil
	}
	if ctx.Err() != nil {
		return Result{}, r.cancelled(span, ctx.Err())
	}
	lastErr = err

	if text, ok := r.cache.Get(key); ok {
		return Result{Text: text, Source: SourceCache, FellBack: primaryTried}, nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, ErrExhausted.Error())
	return Result{}, utils.NewKindError("router.generate", ErrExhausted, lastErr)
}

// cancelled ends a request whose caller went away. Nothing is counted
// against the backends.
func (r *Router) cancelled(span trace.Span, err error) error {
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("router.generate: %w", err)
}

func (r *Router) attempt(ctx context.Context, b *breaker.Breaker, model, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !b.Acquire() {
		r.exportBreakers()
		return "", fmt.Errorf("%s: %w", model, ErrCircuitOpen)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.cfg.AttemptTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	}
	start := time.Now()
	r.backendCalls.Add(1)
	text, err := r.gen.Generate(callCtx, model, prompt)
	cancel()
	metrics.ObserveGeneration(model, time.Since(start), err)

	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil:
		// The caller went away; that says nothing about backend health.
	default:
		b.RecordFailure()
	}
	r.exportBreakers()

	if err != nil {
		return "", fmt.Errorf("%s: %w", model, err)
	}
	return text, nil
}

// Mode returns the current routing toggles.
func (r *Router) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Restore replaces the routing toggles wholesale.
func (r *Router) Restore(mode Mode) {
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
}

// DisablePrimary routes straight to the secondary model.
func (r *Router) DisablePrimary() {
	r.mu.Lock()
	r.mode.PrimaryDisabled = true
	r.mu.Unlock()
}

// EnablePrimary re-enables the primary model.
func (r *Router) EnablePrimary() {
	r.mu.Lock()
	r.mode.PrimaryDisabled = false
	r.mu.Unlock()
}

// PreferCacheOnly serves only cached answers.
func (r *Router) PreferCacheOnly() {
	r.mu.Lock()
	r.mode.CacheOnly = true
	r.mu.Unlock()
}

// NormalMode leaves cache-only mode.
func (r *Router) NormalMode() {
	r.mu.Lock()
	r.mode.CacheOnly = false
	r.mu.Unlock()
}

// Stats returns outcome counters.
func (r *Router) Stats() Stats {
	return Stats{
		Fallbacks:       r.fallbacks.Load(),
		PrimaryFailures: r.primaryFailures.Load(),
		BackendCalls:    r.backendCalls.Load(),
	}
}

// Breakers returns breaker snapshots keyed by backend role.
func (r *Router) Breakers() map[string]breaker.Stats {
	return map[string]breaker.Stats{
		string(SourcePrimary):   r.primary.Stats(),
		string(SourceSecondary): r.secondary.Stats(),
	}
}

// Available reports whether at least one backend breaker is not open.
func (r *Router) Available() bool {
	return r.primary.State() != breaker.Open || r.secondary.State() != breaker.Open
}

func (r *Router) exportBreakers() {
	metrics.SetBreakerState(string(SourcePrimary), int(r.primary.State()))
	metrics.SetBreakerState(string(SourceSecondary), int(r.secondary.State()))
}
