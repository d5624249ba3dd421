package waitlsn

import "log/slog"

// Notifier wakes satisfied waiters as replay advances. The replay engine
// calls OnReplayAdvance after each applied batch and OnReplayEnd exactly
// once when replay stops; the notifier drains the registry and signals the
// drained wake channels outside the registry mutex.
//
// The engine serializes its own advances, but drains run concurrently with
// arbitrary registrations and removals; the registry mutex linearizes them.
// A waiter registered with target <= P before a drain at P begins is
// guaranteed to be found by that drain.
type Notifier struct {
	reg *Registry
}

// NewNotifier creates a notifier over the given registry.
func NewNotifier(reg *Registry) *Notifier {
	return &Notifier{reg: reg}
}

// OnReplayAdvance wakes every waiter whose target is at or below pos.
//
// The lock-free minimum peek makes the no-waiters case free. Skipping on a
// stale peek cannot lose a wakeup: a waiter that registered after the peek
// rechecks the position itself before blocking, and the position it reads
// is already >= its target.
func (n *Notifier) OnReplayAdvance(pos LSN) {
	if pos < n.reg.PeekMinTarget() {
		return
	}
	signalAll(n.reg.drainSatisfied(pos))
}

// OnReplayEnd wakes every remaining waiter so each resolves through its
// replay-ended path instead of hanging on a position that will never move.
func (n *Notifier) OnReplayEnd() {
	slog.Debug("replay ended, waking all waiters", "waiting", n.reg.Len())
	signalAll(n.reg.drainSatisfied(InfiniteLSN))
}

// signalAll signals drained wake channels. Runs outside the registry mutex.
func signalAll(wakes []*wakeChannel) {
	for _, w := range wakes {
		w.Signal()
	}
}
