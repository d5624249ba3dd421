package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/roach88/standby/internal/waitlsn"
)

// collectTimeout bounds how long the runner waits for any single stage to
// resolve before declaring the scenario stuck.
const collectTimeout = 10 * time.Second

// Result is the outcome of one scenario run: a deterministic trace plus any
// expectation failures.
type Result struct {
	Snapshot TraceSnapshot
	Failures []string
}

// Passed reports whether every waiter reached its expected outcome.
func (r Result) Passed() bool {
	return len(r.Failures) == 0
}

// TraceSnapshot captures the trace for golden comparison. Events are
// recorded in a canonical order (advances in record order, wake waves sorted
// by slot) so the same scenario always renders the same bytes.
type TraceSnapshot struct {
	ScenarioName string
	Events       []TraceEvent
}

// TraceEvent is one trace entry. Type is "advance", "wake", "end_replay" or
// "final"; the remaining fields are populated per type.
type TraceEvent struct {
	Type      string
	LSN       waitlsn.LSN // advance
	Slot      int         // wake
	Target    waitlsn.LSN // wake
	Outcome   string      // wake
	MinTarget waitlsn.LSN // final
}

// MarshalIndent renders the snapshot as indented JSON with sorted keys,
// suitable for golden files.
func (s TraceSnapshot) MarshalIndent() ([]byte, error) {
	events := make([]any, len(s.Events))
	for i, ev := range s.Events {
		m := map[string]any{"type": ev.Type}
		switch ev.Type {
		case "advance":
			m["lsn"] = ev.LSN.String()
		case "wake":
			m["slot"] = ev.Slot
			m["target"] = ev.Target.String()
			m["outcome"] = ev.Outcome
		case "final":
			m["min_target"] = ev.MinTarget.String()
		}
		events[i] = m
	}

	root := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         events,
	}
	return json.MarshalIndent(root, "", "  ")
}

// scriptSource is a hand-driven waitlsn.ReplaySource. The runner advances it
// directly instead of going through a replay engine so wake waves happen at
// scripted points rather than on poll timing.
type scriptSource struct {
	pos   atomic.Uint64
	ended atomic.Bool
}

func (s *scriptSource) CurrentPosition() waitlsn.LSN {
	return waitlsn.LSN(s.pos.Load())
}

func (s *scriptSource) Active() bool {
	return !s.ended.Load()
}

type waiterResult struct {
	slot    int
	outcome string
}

// Run executes a scenario and returns its trace and expectation failures.
//
// Determinism: after each advance the runner blocks until every waiter whose
// target that advance satisfies has reported its outcome, before the next
// advance. Results arriving out of turn (an early timeout) are buffered and
// surface in their canonical stage. The resulting trace depends only on the
// scenario, not on scheduling.
func Run(ctx context.Context, sc *Scenario) (Result, error) {
	res := Result{Snapshot: TraceSnapshot{ScenarioName: sc.Name}}

	if err := sc.Validate(); err != nil {
		return res, err
	}

	maxSlot := 0
	for _, w := range sc.Waiters {
		if w.Slot > maxSlot {
			maxSlot = w.Slot
		}
	}

	src := &scriptSource{}
	reg, err := waitlsn.NewRegistry(maxSlot+1, src)
	if err != nil {
		return res, err
	}
	notifier := waitlsn.NewNotifier(reg)

	results := make(chan waiterResult, len(sc.Waiters))
	for _, step := range sc.Waiters {
		w, err := reg.Waiter(step.Slot)
		if err != nil {
			return res, err
		}
		go func(step WaiterStep, w *waitlsn.Waiter) {
			err := w.WaitUntilReplayed(ctx, waitlsn.LSN(step.Target), time.Duration(step.TimeoutMS)*time.Millisecond)
			results <- waiterResult{slot: step.Slot, outcome: classify(err)}
		}(step, w)
	}

	// Every waiter registers (position starts at zero, replay is active);
	// advances only begin once they all have, so no wave can race a late
	// registration.
	if err := awaitRegistered(reg, len(sc.Waiters)); err != nil {
		return res, err
	}

	pending := make(map[int]string)
	resolved := make(map[int]bool)

	collect := func(slots []int) error {
		for _, slot := range slots {
			for {
				if _, ok := pending[slot]; ok {
					break
				}
				select {
				case r := <-results:
					pending[r.slot] = r.outcome
				case <-time.After(collectTimeout):
					return fmt.Errorf("scenario %s: waiter at slot %d never resolved", sc.Name, slot)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		sort.Ints(slots)
		for _, slot := range slots {
			res.Snapshot.Events = append(res.Snapshot.Events, TraceEvent{
				Type:    "wake",
				Slot:    slot,
				Target:  waitlsn.LSN(targetOf(sc, slot)),
				Outcome: pending[slot],
			})
			resolved[slot] = true
		}
		return nil
	}

	// Stage 1: advances, collecting the wave each one satisfies.
	for _, rec := range sc.Records {
		src.pos.Store(rec.LSN)
		notifier.OnReplayAdvance(waitlsn.LSN(rec.LSN))
		res.Snapshot.Events = append(res.Snapshot.Events, TraceEvent{Type: "advance", LSN: waitlsn.LSN(rec.LSN)})

		var wave []int
		for _, w := range sc.Waiters {
			if !resolved[w.Slot] && w.Target <= rec.LSN {
				wave = append(wave, w.Slot)
			}
		}
		if err := collect(wave); err != nil {
			return res, err
		}
	}

	// Stage 2: waiters whose budgets must elapse.
	var timeouts []int
	for _, w := range sc.Waiters {
		if !resolved[w.Slot] && w.Expect == ExpectTimeout {
			timeouts = append(timeouts, w.Slot)
		}
	}
	if err := collect(timeouts); err != nil {
		return res, err
	}

	// Stage 3: end of replay wakes everyone left.
	if sc.EndReplay {
		src.ended.Store(true)
		notifier.OnReplayEnd()
		res.Snapshot.Events = append(res.Snapshot.Events, TraceEvent{Type: "end_replay"})

		var rest []int
		for _, w := range sc.Waiters {
			if !resolved[w.Slot] {
				rest = append(rest, w.Slot)
			}
		}
		if err := collect(rest); err != nil {
			return res, err
		}
	}

	res.Snapshot.Events = append(res.Snapshot.Events, TraceEvent{Type: "final", MinTarget: reg.PeekMinTarget()})

	for _, w := range sc.Waiters {
		if got := pending[w.Slot]; got != w.Expect {
			res.Failures = append(res.Failures, fmt.Sprintf("slot %d: expected %s, got %s", w.Slot, w.Expect, got))
		}
	}
	return res, nil
}

// awaitRegistered polls until n entries are present in the registry.
func awaitRegistered(reg *waitlsn.Registry, n int) error {
	deadline := time.Now().Add(collectTimeout)
	for reg.Len() != n {
		if time.Now().After(deadline) {
			return fmt.Errorf("only %d of %d waiters registered", reg.Len(), n)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func targetOf(sc *Scenario, slot int) uint64 {
	for _, w := range sc.Waiters {
		if w.Slot == slot {
			return w.Target
		}
	}
	return 0
}

// classify maps a wait outcome onto the scenario expectation vocabulary.
func classify(err error) string {
	if err == nil {
		return ExpectSatisfied
	}
	var we *waitlsn.WaitError
	if errors.As(err, &we) {
		switch we.Code {
		case waitlsn.CodeTimedOut:
			return ExpectTimeout
		case waitlsn.CodeReplayEnded:
			return ExpectReplayEnded
		case waitlsn.CodeCancelled:
			return "cancelled"
		case waitlsn.CodePreconditionFailed:
			return "precondition_failed"
		}
	}
	return fmt.Sprintf("error: %v", err)
}
