package waitlsn

import (
	"context"
	"log/slog"
	"time"
)

// Waiter is one participant slot's wait API. A waiter runs at most one wait
// episode at a time: IDLE -> WAITING -> {SATISFIED | TIMED_OUT | ABORTED} ->
// IDLE. Episodes never retry internally; a new call starts a fresh episode.
//
// Waiters are preallocated by the registry, one per slot. A Waiter must not
// be shared by concurrent callers - concurrent episodes on one slot would be
// a double registration, which the registry treats as a contract violation.
type Waiter struct {
	reg   *Registry
	entry *waitEntry
}

// Slot returns the participant slot this waiter owns.
func (w *Waiter) Slot() int {
	return w.entry.slot
}

// WaitUntilReplayed blocks until the replay position reaches target, the
// timeout elapses, ctx is cancelled, or replay ends. timeout <= 0 means no
// deadline.
//
// Outcomes:
//   - nil: position >= target was observed.
//   - *WaitError CodeTimedOut / CodeCancelled / CodeReplayEnded: definitive
//     failure of this episode, registry entry already removed.
//   - *WaitError CodePreconditionFailed: rejected before registration -
//     replay inactive with the target unmet, or a precondition hook vetoed
//     the call. No registry mutation occurred.
//
// A wakeup is never itself treated as proof of satisfaction: every loop
// iteration rechecks the authoritative position, so spurious signals and
// stale drains are harmless.
func (w *Waiter) WaitUntilReplayed(ctx context.Context, target LSN, timeout time.Duration) error {
	for _, hook := range w.reg.preconds {
		if err := hook(); err != nil {
			return &WaitError{
				Code:         CodePreconditionFailed,
				Target:       target,
				LastPosition: w.reg.src.CurrentPosition(),
				Err:          err,
			}
		}
	}

	// Fast path: already replayed, no registration needed.
	pos := w.reg.src.CurrentPosition()
	if pos >= target {
		return nil
	}

	// Waiting is only meaningful while replay is progressing. The recheck
	// closes the race where replay ends after satisfying the target.
	if !w.reg.src.Active() {
		if pos = w.reg.src.CurrentPosition(); pos >= target {
			return nil
		}
		return &WaitError{Code: CodePreconditionFailed, Target: target, LastPosition: pos}
	}

	token := w.reg.tokens.Token()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	w.entry.wake.reset()
	w.reg.add(w.entry, target)
	defer w.EndWait()

	slog.Debug("wait episode started",
		"episode", token,
		"slot", w.entry.slot,
		"target", target,
		"position", pos,
		"timeout", timeout,
	)

	for {
		pos = w.reg.src.CurrentPosition()
		if pos >= target {
			slog.Debug("wait episode satisfied", "episode", token, "slot", w.entry.slot, "position", pos)
			return nil
		}

		if !w.reg.src.Active() {
			slog.Debug("wait episode aborted: replay ended", "episode", token, "slot", w.entry.slot, "position", pos)
			return &WaitError{Code: CodeReplayEnded, Target: target, LastPosition: pos}
		}

		if err := ctx.Err(); err != nil {
			slog.Debug("wait episode cancelled", "episode", token, "slot", w.entry.slot, "position", pos)
			return &WaitError{Code: CodeCancelled, Target: target, LastPosition: pos, Err: err}
		}

		budget := time.Duration(0) // no deadline
		if !deadline.IsZero() {
			budget = time.Until(deadline)
			if budget <= 0 {
				slog.Debug("wait episode timed out", "episode", token, "slot", w.entry.slot, "position", pos)
				return &WaitError{Code: CodeTimedOut, Target: target, LastPosition: pos}
			}
		}

		if reason := w.entry.wake.wait(ctx, budget); reason == WakeCancelled {
			return &WaitError{Code: CodeCancelled, Target: target, LastPosition: w.reg.src.CurrentPosition(), Err: ctx.Err()}
		}
		// Signaled or timed out: loop back to the authoritative recheck.
	}
}

// EndWait removes this slot's registry entry. It is the cleanup primitive
// run on every episode exit path, and is also exposed for external forced
// cleanup (participant exit handling). Safe to call when no entry is
// present.
func (w *Waiter) EndWait() {
	w.reg.remove(w.entry)
}
