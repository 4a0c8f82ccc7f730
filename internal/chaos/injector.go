// Package chaos injects faults at the seams of the query pipeline.
package chaos

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/control"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
)

// ErrInjectedCrash is returned by BeforeGeneration when the kill_model fault fires.
var ErrInjectedCrash = errors.New("injected model crash")

// CorruptedChunk replaces the first retrieved chunk when corrupt_context fires.
const CorruptedChunk = "### CORRUPTED CONTEXT: this passage has been tampered with ###"

const (
	defaultLatency   = 500 * time.Millisecond
	defaultMaxTokens = 8192
	overflowMargin   = 2
)

// Option customises an Injector.
type Option func(*Injector)

// WithLogger sets the injector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Injector) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithRand replaces the uniform [0,1) source.
func WithRand(fn func() float64) Option {
	return func(i *Injector) { i.rand = fn }
}

// WithShuffle replaces the permutation source used by corrupt_context.
func WithShuffle(fn func(n int, swap func(i, j int))) Option {
	return func(i *Injector) { i.shuffle = fn }
}

// WithSleep replaces the delay used by the latency fault.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(i *Injector) { i.sleep = fn }
}

// Injector decides, per hook call, which faults fire.
type Injector struct {
	state  *control.State
	logger *slog.Logger

	mu     sync.RWMutex
	faults FaultTable

	countMu sync.Mutex
	counts  map[string]uint64

	rand    func() float64
	shuffle func(n int, swap func(i, j int))
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewInjector builds an injector over the shared control state and an
// initial fault table.
func NewInjector(state *control.State, faults FaultTable, opts ...Option) *Injector {
	if state == nil {
		state = control.NewState(false)
	}
	if faults == nil {
		faults = FaultTable{}
	}
	inj := &Injector{
		state:   state,
		logger:  slog.Default(),
		faults:  faults.clone(),
		counts:  make(map[string]uint64),
		rand:    rand.Float64,
		shuffle: rand.Shuffle,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(inj)
	}
	return inj
}

// Reload swaps in a new fault table wholesale.
func (i *Injector) Reload(faults FaultTable) {
	if faults == nil {
		faults = FaultTable{}
	}
	next := faults.clone()
	i.mu.Lock()
	i.faults = next
	i.mu.Unlock()
	i.logger.Info("fault table reloaded", slog.Int("faults", len(next)))
}

// ReloadFromFile reloads the table from disk. On failure the injector falls
// back to an empty table so a broken file never leaves faults armed.
func (i *Injector) ReloadFromFile(path string) error {
	table, err := LoadFaultTable(path)
	if err != nil {
		i.logger.Warn("fault table reload failed, disabling all faults", slog.String("path", path), slog.Any("error", err))
		i.Reload(FaultTable{})
		return err
	}
	i.Reload(table)
	return nil
}

// Faults returns a copy of the current table.
func (i *Injector) Faults() FaultTable {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.faults.clone()
}

// Enabled reports the master flag.
func (i *Injector) Enabled() bool {
	return i.state.ChaosEnabled()
}

// Counts returns how many times each fault has fired.
func (i *Injector) Counts() map[string]uint64 {
	i.countMu.Lock()
	defer i.countMu.Unlock()
	out := make(map[string]uint64, len(i.counts))
	for k, v := range i.counts {
		out[k] = v
	}
	return out
}

// ShouldInject reports whether the named fault fires on this draw.
func (i *Injector) ShouldInject(name string) bool {
	_, ok := i.decide(name)
	return ok
}

func (i *Injector) decide(name string) (FaultRule, bool) {
	if !i.state.ChaosEnabled() {
		return FaultRule{}, false
	}
	i.mu.RLock()
	rule, ok := i.faults[name]
	i.mu.RUnlock()
	if !ok || !rule.Enabled {
		return FaultRule{}, false
	}
	if i.rand() >= rule.Probability {
		return FaultRule{}, false
	}
	i.record(name)
	return rule, true
}

func (i *Injector) record(name string) {
	i.countMu.Lock()
	i.counts[name]++
	i.countMu.Unlock()
	metrics.IncChaosEvent(name)
	i.logger.Debug("fault injected", slog.String("fault", name))
}

// BeforeRetrieval may delay the query before it reaches the vector store.
func (i *Injector) BeforeRetrieval(ctx context.Context, query string) (string, error) {
	if err := i.maybeDelay(ctx); err != nil {
		return query, err
	}
	return query, nil
}

// AfterRetrieval may drop or corrupt the retrieved chunks.
func (i *Injector) AfterRetrieval(ctx context.Context, chunks []string) ([]string, error) {
	if _, ok := i.decide(FaultDropRetrieval); ok {
		chunks = []string{}
	}
	if len(chunks) == 0 {
		return chunks, nil
	}
	if _, ok := i.decide(FaultCorruptContext); ok {
		corrupted := append([]string(nil), chunks...)
		i.shuffle(len(corrupted), func(a, b int) { corrupted[a], corrupted[b] = corrupted[b], corrupted[a] })
		corrupted[0] = CorruptedChunk
		chunks = corrupted
	}
	return chunks, nil
}

// BeforeGeneration may delay, inflate the prompt, or simulate a model crash.
func (i *Injector) BeforeGeneration(ctx context.Context, prompt string) (string, error) {
	if err := i.maybeDelay(ctx); err != nil {
		return prompt, err
	}
	if prompt != "" {
		if rule, ok := i.decide(FaultOverflowPrompt); ok {
			budget := intParam(rule.Params, "max_tokens", defaultMaxTokens)
			prompt = strings.Repeat(prompt, budget/len(prompt)+overflowMargin)
		}
	}
	if _, ok := i.decide(FaultKillModel); ok {
		return prompt, ErrInjectedCrash
	}
	return prompt, nil
}

// AfterGeneration passes the answer through; no fault currently targets it.
func (i *Injector) AfterGeneration(_ context.Context, answer string) (string, error) {
	return answer, nil
}

func (i *Injector) maybeDelay(ctx context.Context) error {
	rule, ok := i.decide(FaultLatency)
	if !ok {
		return nil
	}
	delay := defaultLatency
	if ms := intParam(rule.Params, "delay_ms", -1); ms >= 0 {
		delay = time.Duration(ms) * time.Millisecond
	}
	return i.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
