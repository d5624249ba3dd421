package waitlsn

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
)

// waitEntry is one slot's registration in the registry. Entries are arena
// allocated at startup, one per slot, and reused across episodes; target and
// present are only touched under the registry mutex.
type waitEntry struct {
	slot    int
	target  LSN
	wake    *wakeChannel // owned by the slot's Waiter, back-referenced here
	present bool         // true iff linked into the ordering tree
}

// Registry is the shared wait registry: a fixed arena of wait entries, a
// mutex guarding all structural mutation, an ordering tree over present
// entries keyed by target ascending, and an atomically readable cached
// minimum target.
//
// Sizing is fixed at construction (the maximum number of concurrent
// participants); there is no growth path. The ordering tree gives O(log n)
// add/remove and O(1) minimum, so registration cost does not depend on how
// many records the drain eventually covers.
//
// Thread-safety model:
//   - add/remove/drainSatisfied: linearized by mu
//   - PeekMinTarget: lock-free, advisory only
//   - wake channel signaling: never under mu
type Registry struct {
	mu        sync.Mutex
	order     *btree.BTreeG[*waitEntry]
	entries   []waitEntry
	waiters   []Waiter
	minTarget atomic.Uint64

	src      ReplaySource
	preconds []func() error
	tokens   TokenGenerator
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithPrecondition adds an integration-supplied hook that runs before every
// registration. A non-nil return vetoes the wait with a PRECONDITION_FAILED
// outcome and no registry mutation. Typical hook: reject waits from a
// context holding a point-in-time snapshot, since a held snapshot can block
// the very replay progress being awaited.
func WithPrecondition(hook func() error) Option {
	return func(r *Registry) {
		r.preconds = append(r.preconds, hook)
	}
}

// WithTokenGenerator overrides the episode token generator.
// Default: UUIDTokens. Tests use NewFixedTokens for deterministic traces.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(r *Registry) {
		r.tokens = gen
	}
}

// NewRegistry creates the process-group's wait registry with maxWaiters
// preallocated slots. src is the replay engine the waiters consult for the
// authoritative position. maxWaiters must be positive - sizing is a startup
// configuration concern, not a runtime one.
func NewRegistry(maxWaiters int, src ReplaySource, opts ...Option) (*Registry, error) {
	if maxWaiters <= 0 {
		return nil, fmt.Errorf("waitlsn: max waiters must be positive, got %d", maxWaiters)
	}
	if src == nil {
		return nil, fmt.Errorf("waitlsn: replay source is required")
	}

	r := &Registry{
		// Ties on target are broken by slot so ordering is stable.
		order: btree.NewBTreeGOptions(func(a, b *waitEntry) bool {
			if a.target != b.target {
				return a.target < b.target
			}
			return a.slot < b.slot
		}, btree.Options{NoLocks: true}), // registry mutex covers the tree
		entries: make([]waitEntry, maxWaiters),
		waiters: make([]Waiter, maxWaiters),
		src:     src,
		tokens:  UUIDTokens{},
	}
	r.minTarget.Store(uint64(InfiniteLSN))

	for i := range r.entries {
		r.entries[i] = waitEntry{slot: i, wake: newWakeChannel()}
		r.waiters[i] = Waiter{reg: r, entry: &r.entries[i]}
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Waiter returns the preallocated waiter for a participant slot.
// Slots are stable small integers assigned by the integration at startup.
func (r *Registry) Waiter(slot int) (*Waiter, error) {
	if slot < 0 || slot >= len(r.waiters) {
		return nil, fmt.Errorf("waitlsn: slot %d out of range [0,%d)", slot, len(r.waiters))
	}
	return &r.waiters[slot], nil
}

// PeekMinTarget returns the cached minimum awaited target, or InfiniteLSN
// when no entries are present. Lock-free and advisory: the authoritative
// membership is only observable under the registry mutex. A notifier may use
// it to skip a drain; that is safe because a waiter that registers after the
// peek rechecks the position itself before blocking.
func (r *Registry) PeekMinTarget() LSN {
	return LSN(r.minTarget.Load())
}

// Len returns the number of currently present entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// add registers an entry with the given target. Double registration for the
// same slot is a programming-contract violation and panics; callers end the
// previous episode before starting a new one.
func (r *Registry) add(e *waitEntry, target LSN) {
	if target == InvalidLSN || target == InfiniteLSN {
		panic(fmt.Sprintf("waitlsn: invariant: unwaitable target %s for slot %d", target, e.slot))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e.present {
		panic(fmt.Sprintf("waitlsn: invariant: slot %d registered twice (previous target %s)", e.slot, e.target))
	}

	e.target = target
	e.present = true
	r.order.Set(e)

	if min := LSN(r.minTarget.Load()); target < min {
		r.minTarget.Store(uint64(target))
	}
}

// remove unregisters an entry. Idempotent: removing an absent entry is a
// no-op, so cleanup paths never need to know whether a drain got there first.
func (r *Registry) remove(e *waitEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !e.present {
		return
	}

	r.order.Delete(e)
	e.present = false
	e.target = InvalidLSN
	r.recomputeMinLocked()
}

// drainSatisfied unlinks every present entry with target <= pos and returns
// their wake channels. Passing InfiniteLSN drains everything. The caller
// signals the returned channels outside the mutex - signaling cost must not
// extend the critical section.
func (r *Registry) drainSatisfied(pos LSN) []*wakeChannel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var wakes []*wakeChannel
	for {
		e, ok := r.order.Min()
		if !ok || e.target > pos {
			break
		}
		r.order.PopMin()
		e.present = false
		e.target = InvalidLSN
		wakes = append(wakes, e.wake)
	}
	r.recomputeMinLocked()

	if len(wakes) > 0 {
		slog.Debug("wait registry drained", "position", pos, "woken", len(wakes))
	}
	return wakes
}

// recomputeMinLocked refreshes the cached minimum from the ordering tree.
// Caller holds mu.
func (r *Registry) recomputeMinLocked() {
	if e, ok := r.order.Min(); ok {
		r.minTarget.Store(uint64(e.target))
		return
	}
	r.minTarget.Store(uint64(InfiniteLSN))
}
