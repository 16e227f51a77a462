package oracle

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Drawer produces the delay an oracle waits before acting on a shared fact
type Drawer interface {
	Draw(unit time.Duration, lo, hi int) time.Duration
}

// Jitter draws whole-second delays uniformly from [unit*lo, unit*hi)
type Jitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitter creates a Jitter over src, or over a randomly seeded PCG when src is nil
func NewJitter(src rand.Source) *Jitter {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Jitter{rng: rand.New(src)}
}

// Draw returns a delay of an integer number of seconds in [unit*lo, unit*hi).
// An empty range collapses to its lower bound.
func (j *Jitter) Draw(unit time.Duration, lo, hi int) time.Duration {
	minSec := int64(math.Ceil(unit.Seconds() * float64(lo)))
	maxSec := int64(math.Ceil(unit.Seconds() * float64(hi)))
	if maxSec <= minSec {
		return time.Duration(minSec) * time.Second
	}

	j.mu.Lock()
	n := j.rng.Int64N(maxSec - minSec)
	j.mu.Unlock()

	return time.Duration(minSec+n) * time.Second
}
