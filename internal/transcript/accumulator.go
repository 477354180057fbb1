// Package transcript accumulates finalized agent transcripts into a
// module's plain-text context and persists the working copy with debounced
// writes.
//
// Interim transcripts are revisions in flight and never touch the working
// copy; only finalized text is appended, space-joined, exactly once. The
// session controller feeds events in receipt order, so appends preserve the
// conversation order.
package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stuartw843/flow-learning-hub/pkg/provider/voice"
)

// defaultDebounce is how long after the last finalized transcript the
// working copy is persisted. Rapid bursts coalesce into one store write.
const defaultDebounce = 500 * time.Millisecond

// persistTimeout bounds the background store write armed by the debounce
// timer.
const persistTimeout = 5 * time.Second

// Persister receives debounced working-copy writes. module.Store satisfies
// this interface.
type Persister interface {
	UpdatePlainContent(ctx context.Context, id int64, plain string) error
}

// Option configures an [Accumulator].
type Option func(*Accumulator)

// WithDebounce overrides the persistence debounce interval. Useful in tests.
func WithDebounce(d time.Duration) Option {
	return func(a *Accumulator) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// Accumulator holds the in-memory working copy of one module's context
// text for the duration of a voice session. All methods are safe for
// concurrent use.
type Accumulator struct {
	store    Persister
	moduleID int64
	debounce time.Duration

	mu     sync.Mutex
	text   string
	dirty  bool
	timer  *time.Timer
	closed bool
}

// New creates an Accumulator for moduleID seeded with the module's current
// plain-text context.
func New(store Persister, moduleID int64, initial string, opts ...Option) *Accumulator {
	a := &Accumulator{
		store:    store,
		moduleID: moduleID,
		debounce: defaultDebounce,
		text:     initial,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Append applies one transcript event. Interim events and empty text are
// ignored; finalized text is appended with a joining space and a debounced
// persist is armed.
func (a *Accumulator) Append(tr voice.Transcript) {
	if !tr.Final || tr.Text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.text += " " + tr.Text
	a.dirty = true

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, a.persistDebounced)
}

// Text returns the current working copy.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// persistDebounced runs on the debounce timer. Persistence failures here
// are logged, not surfaced: the working copy stays dirty and the final
// flush on session stop retries.
func (a *Accumulator) persistDebounced() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := a.Flush(ctx); err != nil {
		slog.Warn("transcript: debounced persist failed", "module_id", a.moduleID, "err", err)
	}
}

// Flush synchronously persists the working copy if it has unpersisted
// appends. A clean accumulator is a no-op.
func (a *Accumulator) Flush(ctx context.Context) error {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	text := a.text
	a.mu.Unlock()

	if err := a.store.UpdatePlainContent(ctx, a.moduleID, text); err != nil {
		return err
	}

	a.mu.Lock()
	// Appends racing the store write keep the accumulator dirty.
	if a.text == text {
		a.dirty = false
	}
	a.mu.Unlock()
	return nil
}

// Close flushes once more and stops the debounce timer. Appends after
// Close are dropped. Idempotent.
func (a *Accumulator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	return a.Flush(ctx)
}
