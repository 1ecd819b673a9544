package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig is the template for the breaker created per entry. The
// entry name overrides CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and any number of fallbacks of the same
// provider type, tried in registration order. Entries must be registered
// before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry after those already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// ExecuteIndexed tries fn against each entry until one succeeds. fn receives
// the entry index so callers can keep per-entry state. Entries with an open
// breaker are skipped. When all fail the error wraps [ErrAllFailed] and the
// last failure.
func ExecuteIndexed[T, R any](fg *FallbackGroup[T], fn func(i int, v T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		out, err := Call(e.breaker, func() (R, error) { return fn(i, e.value) })
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
			continue
		}
		slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// ExecuteWithResult is [ExecuteIndexed] for callers that need no index.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(v T) (R, error)) (R, error) {
	return ExecuteIndexed(fg, func(_ int, v T) (R, error) { return fn(v) })
}
