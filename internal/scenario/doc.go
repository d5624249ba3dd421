// Package scenario runs declarative wait scenarios.
//
// A scenario is a YAML file naming records to replay and waiters with
// targets, budgets, and required outcomes. The runner drives the wait
// subsystem through scripted advances with barrier synchronization between
// waves, so the resulting trace is deterministic and comparable against
// golden files. Scenarios back both the conformance tests and the
// `standby test` command.
package scenario
