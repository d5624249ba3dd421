package waitlsn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a hand-driven replay engine: tests advance the position and
// end replay explicitly, mirroring what the real engine does through its
// observers.
type fakeSource struct {
	pos   atomic.Uint64
	ended atomic.Bool
}

func (s *fakeSource) CurrentPosition() LSN { return LSN(s.pos.Load()) }
func (s *fakeSource) Active() bool         { return !s.ended.Load() }

func (s *fakeSource) advance(n *Notifier, pos LSN) {
	s.pos.Store(uint64(pos))
	n.OnReplayAdvance(pos)
}

func (s *fakeSource) end(n *Notifier) {
	s.ended.Store(true)
	n.OnReplayEnd()
}

func waitSetup(t *testing.T, slots int, opts ...Option) (*fakeSource, *Registry, *Notifier) {
	t.Helper()
	src := &fakeSource{}
	reg, err := NewRegistry(slots, src, opts...)
	require.NoError(t, err)
	return src, reg, NewNotifier(reg)
}

// awaitWaiting blocks until n entries are registered.
func awaitWaiting(t *testing.T, reg *Registry, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for reg.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d waiters registered", reg.Len(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaiter_FastPath_NoRegistration(t *testing.T) {
	src, reg, _ := waitSetup(t, 1)
	src.pos.Store(150)

	w, err := reg.Waiter(0)
	require.NoError(t, err)

	// Satisfied immediately; the registry is never touched.
	err = w.WaitUntilReplayed(context.Background(), 100, 5*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, InfiniteLSN, reg.PeekMinTarget())
}

func TestWaiter_FastPath_ReplayInactiveButSatisfied(t *testing.T) {
	src, reg, _ := waitSetup(t, 1)
	src.pos.Store(200)
	src.ended.Store(true)

	w, _ := reg.Waiter(0)
	assert.NoError(t, w.WaitUntilReplayed(context.Background(), 100, 0),
		"an already-met target succeeds even after replay ends")
}

func TestWaiter_PreconditionReplayInactive(t *testing.T) {
	src, reg, _ := waitSetup(t, 1)
	src.pos.Store(50)
	src.ended.Store(true)

	w, _ := reg.Waiter(0)
	err := w.WaitUntilReplayed(context.Background(), 100, 0)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))

	var we *WaitError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, LSN(100), we.Target)
	assert.Equal(t, LSN(50), we.LastPosition)
	assert.Equal(t, 0, reg.Len(), "no registry mutation on precondition failure")
}

func TestWaiter_PreconditionHookVetoes(t *testing.T) {
	hookErr := errors.New("snapshot held")
	src, reg, _ := waitSetup(t, 1, WithPrecondition(func() error { return hookErr }))
	src.pos.Store(500)

	w, _ := reg.Waiter(0)
	// The hook vetoes even a wait the fast path would satisfy.
	err := w.WaitUntilReplayed(context.Background(), 100, 0)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, 0, reg.Len())
}

func TestWaiter_WokenByAdvance(t *testing.T) {
	src, reg, notifier := waitSetup(t, 1)

	w, _ := reg.Waiter(0)
	done := make(chan error, 1)
	go func() {
		done <- w.WaitUntilReplayed(context.Background(), 300, 0)
	}()

	awaitWaiting(t, reg, 1)
	assert.Equal(t, LSN(300), reg.PeekMinTarget())

	src.advance(notifier, 300)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not woken by a satisfying advance")
	}
	assert.Equal(t, 0, reg.Len(), "entry removed after the episode")
}

func TestWaiter_TimeoutBound(t *testing.T) {
	_, reg, _ := waitSetup(t, 1)

	w, _ := reg.Waiter(0)
	start := time.Now()
	err := w.WaitUntilReplayed(context.Background(), 1000, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var we *WaitError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, LSN(1000), we.Target)
	assert.Equal(t, InvalidLSN, we.LastPosition)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "returned before the budget elapsed")
	assert.Less(t, elapsed, 3*time.Second, "scheduling slack exceeded")
	assert.Equal(t, 0, reg.Len(), "entry removed after timeout")
}

func TestWaiter_IndefiniteNeverTimesOut(t *testing.T) {
	src, reg, notifier := waitSetup(t, 1)

	w, _ := reg.Waiter(0)
	done := make(chan error, 1)
	go func() {
		done <- w.WaitUntilReplayed(context.Background(), 100, 0)
	}()

	awaitWaiting(t, reg, 1)
	select {
	case err := <-done:
		t.Fatalf("indefinite wait returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	src.advance(notifier, 100)
	assert.NoError(t, <-done, "indefinite wait resolves only by satisfaction")
}

func TestWaiter_Cancellation(t *testing.T) {
	_, reg, _ := waitSetup(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	w, _ := reg.Waiter(0)
	done := make(chan error, 1)
	go func() {
		done <- w.WaitUntilReplayed(ctx, 100, 0)
	}()

	awaitWaiting(t, reg, 1)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, IsAborted(err))
		assert.False(t, IsTimeout(err), "cancellation is distinct from timeout")

		var we *WaitError
		require.ErrorAs(t, err, &we)
		assert.Equal(t, CodeCancelled, we.Code)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation not observed")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestWaiter_ReplayEndedAborts(t *testing.T) {
	src, reg, notifier := waitSetup(t, 1)
	src.pos.Store(40)

	w, _ := reg.Waiter(0)
	done := make(chan error, 1)
	go func() {
		done <- w.WaitUntilReplayed(context.Background(), 100, 0)
	}()

	awaitWaiting(t, reg, 1)
	src.end(notifier)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, IsAborted(err))

		var we *WaitError
		require.ErrorAs(t, err, &we)
		assert.Equal(t, CodeReplayEnded, we.Code)
		assert.Equal(t, LSN(40), we.LastPosition, "abort carries the last-seen position")
	case <-time.After(5 * time.Second):
		t.Fatal("end of replay did not abort the waiter")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestWaiter_EndWaitIdempotent(t *testing.T) {
	_, reg, _ := waitSetup(t, 1)

	w, _ := reg.Waiter(0)
	assert.NotPanics(t, func() {
		w.EndWait()
		w.EndWait()
	})
	assert.Equal(t, 0, reg.Len())
}

func TestWaiter_EpisodeReusesSlot(t *testing.T) {
	src, reg, notifier := waitSetup(t, 1)

	w, _ := reg.Waiter(0)

	// First episode times out; second succeeds. Episodes never retry
	// internally, so the caller drives both.
	err := w.WaitUntilReplayed(context.Background(), 100, 50*time.Millisecond)
	assert.True(t, IsTimeout(err))

	done := make(chan error, 1)
	go func() {
		done <- w.WaitUntilReplayed(context.Background(), 100, 0)
	}()
	awaitWaiting(t, reg, 1)
	src.advance(notifier, 100)
	assert.NoError(t, <-done)
}

// TestWaiter_TwoWaiterScenario walks the canonical two-participant flow:
// A waits for 500 with no timeout, B waits for 300. Advancing to 400 wakes
// only B and leaves the minimum at 500; advancing to 500 wakes A and empties
// the registry.
func TestWaiter_TwoWaiterScenario(t *testing.T) {
	src, reg, notifier := waitSetup(t, 2)

	wa, _ := reg.Waiter(0)
	wb, _ := reg.Waiter(1)

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- wa.WaitUntilReplayed(context.Background(), 500, 0) }()
	go func() { doneB <- wb.WaitUntilReplayed(context.Background(), 300, 0) }()

	awaitWaiting(t, reg, 2)
	assert.Equal(t, LSN(300), reg.PeekMinTarget())

	src.advance(notifier, 400)
	select {
	case err := <-doneB:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("B not woken at 400")
	}
	select {
	case err := <-doneA:
		t.Fatalf("A woken prematurely: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, LSN(500), reg.PeekMinTarget())

	src.advance(notifier, 500)
	select {
	case err := <-doneA:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("A not woken at 500")
	}
	assert.Equal(t, InfiniteLSN, reg.PeekMinTarget())
	assert.Equal(t, 0, reg.Len())
}

// TestWaiter_ManyConcurrentEpisodes churns many waiters through randomized
// targets while the position advances, asserting every episode resolves.
func TestWaiter_ManyConcurrentEpisodes(t *testing.T) {
	const slots = 16
	src, reg, notifier := waitSetup(t, slots)

	done := make(chan error, slots)
	for i := 0; i < slots; i++ {
		w, err := reg.Waiter(i)
		require.NoError(t, err)
		target := LSN((i + 1) * 10)
		go func() {
			done <- w.WaitUntilReplayed(context.Background(), target, 0)
		}()
	}

	awaitWaiting(t, reg, slots)
	for pos := LSN(10); pos <= slots*10; pos += 10 {
		src.advance(notifier, pos)
	}

	for i := 0; i < slots; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("waiter %d never resolved", i)
		}
	}
	assert.Equal(t, 0, reg.Len())
}

func TestWaitError_Formatting(t *testing.T) {
	err := &WaitError{Code: CodeTimedOut, Target: 1000, LastPosition: 400}
	assert.Equal(t, "TIMED_OUT: waiting for LSN 1000, replay position 400", err.Error())

	wrapped := &WaitError{Code: CodePreconditionFailed, Target: 10, LastPosition: 0, Err: fmt.Errorf("snapshot held")}
	assert.Contains(t, wrapped.Error(), "snapshot held")
}
