// Package debounce coalesces rapid repeated updates into a single
// downstream write.
//
// A Debouncer is an explicit command object: it holds the latest pending
// value and a reference to an idempotent apply function. Callers update
// their in-memory state immediately and hand the persistence write to
// the debouncer, which fires once per quiet window with whatever value
// was set last. Apply failures are logged and not retried beyond the
// window; the in-memory state is never rolled back.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces calls to Set, applying only the latest value
// after the configured window of silence.
type Debouncer[T any] struct {
	window time.Duration
	apply  func(ctx context.Context, v T) error

	mu      sync.Mutex
	timer   *time.Timer
	pending T
	has     bool
	stopped bool
}

// New creates a debouncer that applies the latest value once per quiet
// window. The apply function must be idempotent.
func New[T any](window time.Duration, apply func(ctx context.Context, v T) error) *Debouncer[T] {
	return &Debouncer[T]{window: window, apply: apply}
}

// Set records v as the latest pending value and restarts the window.
func (d *Debouncer[T]) Set(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending = v
	d.has = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if !d.has || d.stopped {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.has = false
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.apply(ctx, v); err != nil {
		slog.Error("Debounced write failed", "error", err)
	}
}

// Flush applies any pending value immediately.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire()
}

// Stop cancels any pending apply and rejects further sets.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.has = false
	if d.timer != nil {
		d.timer.Stop()
	}
}
