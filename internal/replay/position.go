package replay

import (
	"sync/atomic"

	"github.com/roach88/standby/internal/waitlsn"
)

// Position is the monotonic replay position.
//
// The apply loop is the single writer; waiters and notifiers read it
// concurrently. Monotonicity matters more than the single-writer assumption,
// so Advance uses a compare-and-swap loop and silently ignores regressions -
// a stale advance can never move the position backwards.
type Position struct {
	lsn atomic.Uint64
}

// NewPosition creates a position at InvalidLSN (nothing replayed).
func NewPosition() *Position {
	return &Position{}
}

// NewPositionAt creates a position starting at a known LSN.
// Used to resume replay from a checkpoint.
func NewPositionAt(start waitlsn.LSN) *Position {
	p := &Position{}
	p.lsn.Store(uint64(start))
	return p
}

// Current returns the highest replayed LSN.
func (p *Position) Current() waitlsn.LSN {
	return waitlsn.LSN(p.lsn.Load())
}

// Advance moves the position forward to lsn and returns the resulting
// position. Advancing to a position at or below the current one is a no-op.
func (p *Position) Advance(lsn waitlsn.LSN) waitlsn.LSN {
	for {
		cur := p.lsn.Load()
		if uint64(lsn) <= cur {
			return waitlsn.LSN(cur)
		}
		if p.lsn.CompareAndSwap(cur, uint64(lsn)) {
			return lsn
		}
	}
}
