// Package waitlsn lets a participant block until the replay position reaches
// a target LSN, with bounded timeout and cooperative cancellation.
//
// # Architecture
//
// Three pieces cooperate around one shared structure:
//
//   - Registry: a fixed arena of per-slot wait entries, a mutex, an ordering
//     tree keyed by target ascending, and a lock-free cached minimum target.
//   - Waiter: the per-slot one-shot episode state machine. Register, block,
//     recheck, unregister on every exit path.
//   - Notifier: driven by the replay engine; drains now-satisfied entries
//     and signals their wake channels outside the registry mutex.
//
// # Correctness
//
// The registry mutex linearizes registration, removal, and drains, so a
// drain at position P finds every entry with target <= P whose registration
// completed before the drain began. The complementary race (registration
// completing after the drain) is covered by the waiter itself: it rechecks
// the authoritative position after registering and before blocking, and
// again on every wakeup. A wakeup is a hint, never proof.
//
// Episode outcomes are definitive: timeout, cancellation, and replay-ended
// are surfaced as typed errors, never retried internally, and the registry
// entry is removed before any outcome is returned. Double registration on a
// slot is a programming-contract violation and panics.
package waitlsn
