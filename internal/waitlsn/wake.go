package waitlsn

import (
	"context"
	"time"
)

// WakeReason reports why a blocked waiter returned from its wake channel.
type WakeReason int

const (
	// WakeSignaled means another party signaled the channel. A signal is a
	// hint, not proof of satisfaction - callers must recheck the position.
	WakeSignaled WakeReason = iota + 1
	// WakeTimeout means the wait budget elapsed.
	WakeTimeout
	// WakeCancelled means the caller's context was cancelled.
	WakeCancelled
)

// wakeChannel is a per-slot blocking primitive: block until signaled, timed
// out, or cancelled. The buffer of 1 coalesces concurrent signals - a slot
// wakes at most once per pending signal, and signaling never blocks, so the
// notifier can signal drained waiters without holding any lock.
type wakeChannel struct {
	ch chan struct{}
}

func newWakeChannel() *wakeChannel {
	return &wakeChannel{ch: make(chan struct{}, 1)}
}

// Signal wakes the owning waiter if it is blocked, or leaves a pending
// signal if it is not. Non-blocking; safe from any goroutine.
func (w *wakeChannel) Signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// reset discards a pending signal left over from a previous episode so a
// fresh episode does not wake spuriously on its first block. Called before
// registering; a spurious wake would be harmless but wastes a recheck.
func (w *wakeChannel) reset() {
	select {
	case <-w.ch:
	default:
	}
}

// wait blocks until signaled, until budget elapses, or until ctx is
// cancelled. budget <= 0 means no deadline.
func (w *wakeChannel) wait(ctx context.Context, budget time.Duration) WakeReason {
	if budget <= 0 {
		select {
		case <-w.ch:
			return WakeSignaled
		case <-ctx.Done():
			return WakeCancelled
		}
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-w.ch:
		return WakeSignaled
	case <-timer.C:
		return WakeTimeout
	case <-ctx.Done():
		return WakeCancelled
	}
}
