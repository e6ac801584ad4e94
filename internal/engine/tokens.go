package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces cycle tokens correlating a timer with the pending
// action or pause that armed it. A fired timer whose token no longer matches
// the current state is stale and its event is discarded.
type TokenGenerator interface {
	Generate() string
}

// UUIDGenerator generates time-sortable UUIDv7 tokens, helpful when reading
// interleaved logs.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new hyphenated UUIDv7 string.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns "prefix-1", "prefix-2", ... for deterministic
// tests and golden transcripts.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a SequenceGenerator with the given prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next token in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
