package pool

import (
	"sync"
	"time"
)

// maxErrorLog bounds the number of recent errors kept for telemetry
const maxErrorLog = 10

// ErrorEntry is one recorded network error
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Snapshot is a consistent copy of the worker counters
type Snapshot struct {
	Pool            string
	Uptime          time.Duration
	Ping            time.Duration
	Failures        uint64
	ErrorLog        []ErrorEntry
	SharesSubmitted uint64
	SharesAccepted  uint64
	DevShares       uint64
	StaleSubmitted  uint64
	StaleDropped    uint64
	VerifyFailures  uint64
}

// Stats collects connection and share counters of a worker
type Stats struct {
	mu       sync.Mutex
	pool     string
	start    time.Time
	ping     time.Duration
	failures uint64
	errorLog []ErrorEntry

	sharesSubmitted uint64
	sharesAccepted  uint64
	devShares       uint64
	staleSubmitted  uint64
	staleDropped    uint64
	verifyFailures  uint64
}

func newStats(pool string) *Stats {
	return &Stats{pool: pool, start: time.Now()}
}

func (s *Stats) recordPing(rtt time.Duration) {
	s.mu.Lock()
	s.ping = rtt
	s.mu.Unlock()
}

func (s *Stats) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.errorLog = append(s.errorLog, ErrorEntry{Time: time.Now(), Message: err.Error()})
	if len(s.errorLog) > maxErrorLog {
		s.errorLog = s.errorLog[len(s.errorLog)-maxErrorLog:]
	}
}

func (s *Stats) add(field *uint64, n uint64) {
	s.mu.Lock()
	*field += n
	s.mu.Unlock()
}

// Snapshot returns a copy of all counters
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Pool:            s.pool,
		Uptime:          time.Since(s.start),
		Ping:            s.ping,
		Failures:        s.failures,
		ErrorLog:        append([]ErrorEntry(nil), s.errorLog...),
		SharesSubmitted: s.sharesSubmitted,
		SharesAccepted:  s.sharesAccepted,
		DevShares:       s.devShares,
		StaleSubmitted:  s.staleSubmitted,
		StaleDropped:    s.staleDropped,
		VerifyFailures:  s.verifyFailures,
	}
}
