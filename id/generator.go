package id

import (
	"sync/atomic"

	"github.com/maxpert/cqnwatch/hlc"
)

// Generator hands out non-zero identifiers for handles and registered queries.
type Generator interface {
	NextID() uint64
}

// HLCGenerator issues roughly time-ordered ids from a hybrid logical clock.
// Query ids come from here so they stay unique across server restarts.
type HLCGenerator struct {
	clock *hlc.Clock
}

func NewHLCGenerator(clock *hlc.Clock) *HLCGenerator {
	return &HLCGenerator{clock: clock}
}

// NextID returns hlc.Timestamp.ToTxnID of a fresh timestamp.
func (g *HLCGenerator) NextID() uint64 {
	return g.clock.Now().ToTxnID()
}

// Sequence issues 1, 2, 3, ... and is used for process-local handles.
type Sequence struct {
	last atomic.Uint64
}

func (s *Sequence) NextID() uint64 {
	return s.last.Add(1)
}
