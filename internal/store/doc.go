// Package store persists the standby record log in SQLite.
//
// The log is a single append-only table keyed by LSN. The store is the
// replay engine's record source: the engine reads ascending batches past its
// current position and applies them in order. Appends are idempotent per
// LSN, so feeds can safely resend their tail after a reconnect.
package store
