package scenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/standby/internal/waitlsn"
)

func TestRun_BasicWaves_Golden(t *testing.T) {
	sc, err := Load("testdata/basic-waves.yaml")
	require.NoError(t, err)

	res := RunWithGolden(t, sc)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)
}

func TestRun_TimeoutAndShutdown_Golden(t *testing.T) {
	sc, err := Load("testdata/timeout-and-shutdown.yaml")
	require.NoError(t, err)

	res := RunWithGolden(t, sc)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)
}

func TestRun_RejectsInvalidScenario(t *testing.T) {
	sc := &Scenario{Name: "broken"} // no waiters
	_, err := Run(context.Background(), sc)
	assert.Error(t, err)
}

func TestRun_SingleAdvanceWakesTies(t *testing.T) {
	sc := &Scenario{
		Name:    "ties",
		Records: []RecordStep{{LSN: 200}},
		Waiters: []WaiterStep{
			{Slot: 0, Target: 200, Expect: ExpectSatisfied},
			{Slot: 1, Target: 200, Expect: ExpectSatisfied},
			{Slot: 2, Target: 100, Expect: ExpectSatisfied},
		},
	}

	res, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)

	// One advance, one wave of three wakes sorted by slot, one final event.
	require.Len(t, res.Snapshot.Events, 5)
	assert.Equal(t, "advance", res.Snapshot.Events[0].Type)
	for i, slot := range []int{0, 1, 2} {
		ev := res.Snapshot.Events[1+i]
		assert.Equal(t, "wake", ev.Type)
		assert.Equal(t, slot, ev.Slot, "wave not sorted by slot")
		assert.Equal(t, ExpectSatisfied, ev.Outcome)
	}
	final := res.Snapshot.Events[4]
	assert.Equal(t, "final", final.Type)
	assert.Equal(t, waitlsn.InfiniteLSN, final.MinTarget)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ExpectSatisfied, classify(nil))
	assert.Equal(t, ExpectTimeout, classify(&waitlsn.WaitError{Code: waitlsn.CodeTimedOut}))
	assert.Equal(t, ExpectReplayEnded, classify(&waitlsn.WaitError{Code: waitlsn.CodeReplayEnded}))
	assert.Equal(t, "cancelled", classify(&waitlsn.WaitError{Code: waitlsn.CodeCancelled}))
	assert.Equal(t, "precondition_failed", classify(&waitlsn.WaitError{Code: waitlsn.CodePreconditionFailed}))
}
