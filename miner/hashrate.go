package miner

import (
	"math"
	"time"

	"go.uber.org/atomic"
)

// hashrateSamples is where the cumulative average turns into a fixed-weight moving average
const hashrateSamples = 100

// hashrate smooths a solver's hash rate. add is called from the solver goroutine only;
// rate may be read from anywhere.
type hashrate struct {
	avg     atomic.Float64
	start   time.Time
	count   uint64
	samples int
}

func (h *hashrate) reset(now time.Time) {
	h.start = now
	h.count = 0
	h.samples = 0
	h.avg.Store(0)
}

func (h *hashrate) add(n uint64, now time.Time) {
	h.count += n
	elapsed := now.Sub(h.start).Seconds()
	x := float64(h.count) / elapsed

	if h.samples < hashrateSamples {
		h.samples++
	}
	avg := h.avg.Load()
	next := avg + (x-avg)/float64(h.samples)
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return
	}
	h.avg.Store(next)
}

func (h *hashrate) rate() float64 {
	return h.avg.Load()
}
