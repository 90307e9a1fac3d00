package retriever

import (
	"math"
	"time"
)

const (
	// HalfLife is the age at which the temporal decay factor halves.
	HalfLife = 7 * 24 * time.Hour

	// DecayFloor is the smallest decay factor a memory can reach.
	DecayFloor = 0.1
)

// TemporalDecay returns max(DecayFloor, 2^(-age/HalfLife)) for a memory
// stamped ts, evaluated at now. Timestamps in the future decay to 1.
func TemporalDecay(ts, now time.Time) float64 {
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	return math.Max(DecayFloor, math.Exp2(-float64(age)/float64(HalfLife)))
}
