package waitlsn

import (
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces episode tokens for log correlation. Every wait
// episode is tagged with one token; all of its log lines carry it.
// Implemented by UUIDTokens (production) and FixedTokens (tests).
type TokenGenerator interface {
	Token() string
}

// UUIDTokens generates time-sortable UUIDv7 episode tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, so sorting tokens
// sorts episodes by start time, which is convenient when reading interleaved
// waiter logs.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDTokens struct{}

// Token creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDTokens) Token() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedTokens returns predetermined tokens in order, for deterministic test
// logs and golden traces.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator that returns tokens in order.
// Token panics once all tokens are consumed - a fail-fast guard against a
// test starting more episodes than it declared.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Token returns the next predetermined token.
func (g *FixedTokens) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("waitlsn: FixedTokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
