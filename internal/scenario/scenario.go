package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/standby/internal/waitlsn"
)

// Scenario defines a declarative wait scenario: records to replay, waiters
// with targets and budgets, and the outcome each waiter must reach.
// Scenarios drive conformance tests (with golden traces) and the `standby
// test` command.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Records lists positions to replay, in ascending LSN order. Each
	// record is applied as its own advance so wake waves are observable.
	Records []RecordStep `yaml:"records"`

	// Waiters lists the participants. Slots must be unique.
	Waiters []WaiterStep `yaml:"waiters"`

	// EndReplay, when true, ends replay after all records (and any
	// expected timeouts) so remaining waiters resolve as replay_ended.
	EndReplay bool `yaml:"end_replay,omitempty"`
}

// RecordStep is one log record to replay.
type RecordStep struct {
	// LSN is the record's position. Must be ascending across Records.
	LSN uint64 `yaml:"lsn"`

	// Kind labels the record. Informational only.
	Kind string `yaml:"kind,omitempty"`
}

// WaiterStep is one participant's wait episode.
type WaiterStep struct {
	// Slot is the participant slot, unique within the scenario.
	Slot int `yaml:"slot"`

	// Target is the LSN to wait for.
	Target uint64 `yaml:"target"`

	// TimeoutMS bounds the episode; 0 means wait indefinitely.
	TimeoutMS int `yaml:"timeout_ms,omitempty"`

	// Expect is the required outcome: "satisfied", "timeout", or
	// "replay_ended".
	Expect string `yaml:"expect"`
}

// Expected outcome values.
const (
	ExpectSatisfied   = "satisfied"
	ExpectTimeout     = "timeout"
	ExpectReplayEnded = "replay_ended"
)

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks that the scenario is well-formed and that every waiter has
// a resolution path - a scenario that would hang a waiter forever is a
// definition error, not a test failure.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Waiters) == 0 {
		return fmt.Errorf("at least one waiter is required")
	}

	var prev uint64
	for i, rec := range s.Records {
		if rec.LSN == 0 || waitlsn.LSN(rec.LSN) == waitlsn.InfiniteLSN {
			return fmt.Errorf("record %d: unusable LSN %d", i, rec.LSN)
		}
		if rec.LSN <= prev {
			return fmt.Errorf("record %d: LSN %d not ascending", i, rec.LSN)
		}
		prev = rec.LSN
	}
	maxLSN := prev

	seen := make(map[int]bool)
	for i, w := range s.Waiters {
		if w.Slot < 0 {
			return fmt.Errorf("waiter %d: negative slot", i)
		}
		if seen[w.Slot] {
			return fmt.Errorf("waiter %d: duplicate slot %d", i, w.Slot)
		}
		seen[w.Slot] = true

		if w.Target == 0 || waitlsn.LSN(w.Target) == waitlsn.InfiniteLSN {
			return fmt.Errorf("waiter %d: unusable target %d", i, w.Target)
		}

		switch w.Expect {
		case ExpectSatisfied:
			if w.Target > maxLSN {
				return fmt.Errorf("waiter %d: expects satisfaction but target %d exceeds last record %d", i, w.Target, maxLSN)
			}
		case ExpectTimeout:
			if w.TimeoutMS <= 0 {
				return fmt.Errorf("waiter %d: expects timeout but has no timeout budget", i)
			}
			if w.Target <= maxLSN {
				return fmt.Errorf("waiter %d: expects timeout but target %d is replayed", i, w.Target)
			}
		case ExpectReplayEnded:
			if !s.EndReplay {
				return fmt.Errorf("waiter %d: expects replay_ended but scenario does not end replay", i)
			}
			if w.Target <= maxLSN {
				return fmt.Errorf("waiter %d: expects replay_ended but target %d is replayed", i, w.Target)
			}
		default:
			return fmt.Errorf("waiter %d: unknown expect %q", i, w.Expect)
		}
	}
	return nil
}
