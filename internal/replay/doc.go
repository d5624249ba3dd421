// Package replay applies the record log and advances the shared replay
// position.
//
// The engine is a single-writer loop: read a batch past the current
// position, apply it, advance, notify observers. Waiters never talk to the
// engine directly - they read the position through waitlsn.ReplaySource and
// are woken by a registered waitlsn.Notifier.
package replay
