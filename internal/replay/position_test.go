package replay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/standby/internal/waitlsn"
)

func TestPosition_StartsAtInvalid(t *testing.T) {
	p := NewPosition()
	assert.Equal(t, waitlsn.InvalidLSN, p.Current())
}

func TestPosition_NewPositionAt(t *testing.T) {
	p := NewPositionAt(100)
	assert.Equal(t, waitlsn.LSN(100), p.Current())
}

func TestPosition_AdvanceIsMonotonic(t *testing.T) {
	p := NewPosition()

	assert.Equal(t, waitlsn.LSN(10), p.Advance(10))
	assert.Equal(t, waitlsn.LSN(20), p.Advance(20))

	// Regressions are ignored.
	assert.Equal(t, waitlsn.LSN(20), p.Advance(5))
	assert.Equal(t, waitlsn.LSN(20), p.Advance(20))
	assert.Equal(t, waitlsn.LSN(20), p.Current())
}

func TestPosition_ConcurrentAdvance(t *testing.T) {
	p := NewPosition()
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 1; i <= goroutines; i++ {
		wg.Add(1)
		go func(lsn waitlsn.LSN) {
			defer wg.Done()
			p.Advance(lsn)
		}(waitlsn.LSN(i))
	}
	wg.Wait()

	assert.Equal(t, waitlsn.LSN(goroutines), p.Current(),
		"the highest advance wins regardless of interleaving")
}
