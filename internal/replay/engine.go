package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/standby/internal/store"
	"github.com/roach88/standby/internal/waitlsn"
)

// RecordSource supplies log records past a position in ascending LSN order.
// Implemented by store.Store; tests use in-memory feeds.
type RecordSource interface {
	ReadBatch(ctx context.Context, after waitlsn.LSN, limit int) ([]store.Record, error)
}

// Applier consumes records as they are replayed. Apply failures stop replay:
// skipping a record would silently break the "position P implies everything
// at or below P is applied" guarantee that waiters rely on.
type Applier interface {
	Apply(ctx context.Context, rec store.Record) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, rec store.Record) error

// Apply implements Applier.
func (f ApplierFunc) Apply(ctx context.Context, rec store.Record) error {
	return f(ctx, rec)
}

// NopApplier discards records. Useful when only the position stream matters
// (status tooling, wait scenarios).
type NopApplier struct{}

// Apply implements Applier.
func (NopApplier) Apply(context.Context, store.Record) error { return nil }

// PositionObserver is notified as replay progresses. OnReplayAdvance is
// called once per applied batch with the new position; OnReplayEnd is called
// exactly once when replay stops, however it stops. Implemented by
// waitlsn.Notifier.
type PositionObserver interface {
	OnReplayAdvance(pos waitlsn.LSN)
	OnReplayEnd()
}

const (
	// DefaultBatchSize bounds how many records one loop iteration applies
	// before observers are notified.
	DefaultBatchSize = 256

	// DefaultPollInterval bounds how long an idle engine sleeps before
	// re-polling the source when no append hint arrives.
	DefaultPollInterval = 100 * time.Millisecond
)

// Engine is the single-writer replay loop.
//
// Run reads ascending record batches from the source, applies each record,
// advances the shared position, and notifies observers once per batch.
// All position writes happen in the Run goroutine; waiters read the position
// concurrently through the ReplaySource methods.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, at most once
//   - Notify(), Stop(), CurrentPosition(), Active(): safe from any goroutine
//   - AddObserver(): before Run only
type Engine struct {
	source       RecordSource
	applier      Applier
	pos          *Position
	observers    []PositionObserver
	batchSize    int
	pollInterval time.Duration
	drain        bool

	active   atomic.Bool
	wake     chan struct{} // coalescing append hint (buffered, size 1)
	stop     chan struct{}
	stopOnce sync.Once
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithBatchSize sets how many records are applied per observer notification.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithPollInterval sets the idle re-poll interval.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithStartPosition resumes replay from a checkpointed position instead of
// the beginning of the log.
func WithStartPosition(start waitlsn.LSN) EngineOption {
	return func(e *Engine) {
		e.pos = NewPositionAt(start)
	}
}

// WithDrain makes Run return once the source has no records past the current
// position, instead of idling for more. Used by batch tooling; a live
// standby runs without it.
func WithDrain() EngineOption {
	return func(e *Engine) {
		e.drain = true
	}
}

// New creates a replay engine over the given source and applier.
func New(source RecordSource, applier Applier, opts ...EngineOption) *Engine {
	e := &Engine{
		source:       source,
		applier:      applier,
		pos:          NewPosition(),
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddObserver registers a position observer. Must be called before Run.
func (e *Engine) AddObserver(obs PositionObserver) {
	e.observers = append(e.observers, obs)
}

// CurrentPosition implements waitlsn.ReplaySource.
func (e *Engine) CurrentPosition() waitlsn.LSN {
	return e.pos.Current()
}

// Active implements waitlsn.ReplaySource. True between Run starting and Run
// returning.
func (e *Engine) Active() bool {
	return e.active.Load()
}

// Notify hints that new records were appended. Non-blocking; multiple hints
// coalesce. Purely an optimization over the poll interval.
func (e *Engine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stop asks Run to return after the current batch. Safe to call more than
// once and from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Run executes the replay loop until the context is cancelled, Stop is
// called, or (with WithDrain) the source is exhausted.
//
// However Run exits, Active flips to false and every observer receives
// OnReplayEnd exactly once, so no waiter is left blocked on a position that
// will never move.
func (e *Engine) Run(ctx context.Context) error {
	e.active.Store(true)
	slog.Info("replay starting", "position", e.pos.Current())

	defer func() {
		e.active.Store(false)
		for _, obs := range e.observers {
			obs.OnReplayEnd()
		}
		slog.Info("replay stopped", "position", e.pos.Current())
	}()

	for {
		select {
		case <-e.stop:
			return nil
		default:
		}

		batch, err := e.source.ReadBatch(ctx, e.pos.Current(), e.batchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("read batch: %w", err)
		}

		if len(batch) > 0 {
			newPos, err := e.applyBatch(ctx, batch)
			if err != nil {
				return err
			}
			for _, obs := range e.observers {
				obs.OnReplayAdvance(newPos)
			}
			continue
		}

		if e.drain {
			return nil
		}

		if err := e.idle(ctx); err != nil {
			return err
		}
	}
}

// applyBatch applies one ascending batch and advances the position once per
// record, returning the final position. Called only from Run.
func (e *Engine) applyBatch(ctx context.Context, batch []store.Record) (waitlsn.LSN, error) {
	pos := e.pos.Current()
	for _, rec := range batch {
		if rec.LSN <= pos {
			// The source contract is ascending-past-position; a violation
			// here would desynchronize position and applied state.
			return pos, fmt.Errorf("record order violation: LSN %s at position %s", rec.LSN, pos)
		}
		if err := e.applier.Apply(ctx, rec); err != nil {
			return pos, fmt.Errorf("apply record %s: %w", rec.LSN, err)
		}
		pos = e.pos.Advance(rec.LSN)
	}
	slog.Debug("batch applied", "records", len(batch), "position", pos)
	return pos, nil
}

// idle blocks until an append hint, the poll interval, a stop request, or
// context cancellation.
func (e *Engine) idle(ctx context.Context) error {
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return nil
	case <-e.wake:
		return nil
	case <-timer.C:
		return nil
	}
}
