package waitlsn

import (
	"math"
	"strconv"
)

// LSN is a position in the replicated append-only log. LSNs are assigned
// monotonically by the upstream writer; replay applies records in LSN order,
// so "position P has been replayed" implies every record at or below P has
// been applied.
type LSN uint64

const (
	// InvalidLSN is the zero position. No record is ever stored at it.
	InvalidLSN LSN = 0

	// InfiniteLSN is greater than every assignable position. It doubles as
	// the registry's "no waiters" minimum and as the drain-everything
	// sentinel at end of replay: every real target compares <= InfiniteLSN.
	InfiniteLSN LSN = math.MaxUint64
)

// String renders the LSN in decimal, or "infinite" for the sentinel.
func (l LSN) String() string {
	if l == InfiniteLSN {
		return "infinite"
	}
	return strconv.FormatUint(uint64(l), 10)
}

// ReplaySource is the replay engine as seen by waiters: the current replay
// position and whether replay is still progressing. Implemented by
// replay.Engine in production and by test doubles in this package's tests.
type ReplaySource interface {
	// CurrentPosition returns the highest replayed LSN.
	CurrentPosition() LSN

	// Active reports whether replay is still applying records. Once it
	// returns false the position will never advance again.
	Active() bool
}
