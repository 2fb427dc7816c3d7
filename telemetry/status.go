// Package telemetry exposes the miner's health over HTTP and logs a periodic status line.
package telemetry

import (
	"github.com/hadv/powminer/miner"
	"github.com/hadv/powminer/miningstate"
	"github.com/hadv/powminer/pool"
)

// Algo is reported to monitoring tools
const Algo = "keccak256"

// Devices is the solver set being reported, usually a *miner.HybridMiner
type Devices interface {
	Solvers() []miner.Solver
}

// PoolStats is the network side being reported, usually a *pool.Stats
type PoolStats interface {
	Snapshot() pool.Snapshot
}

// Health is one device's sensor readout
type Health struct {
	Name      string  `json:"name"`
	Intensity float64 `json:"intensity"`
	Clock     uint32  `json:"clock"`
	MemClock  uint32  `json:"mem_clock"`
	Power     uint32  `json:"power"`
	Temp      uint32  `json:"temp"`
	Fan       uint32  `json:"fan"`
}

// Hashrate holds per-device and total rates in hashes per second
type Hashrate struct {
	Threads [][]uint64 `json:"threads"`
	Total   []uint64   `json:"total"`
}

// Connection describes the pool link
type Connection struct {
	Pool     string            `json:"pool"`
	Uptime   uint64            `json:"uptime"`
	Ping     int64             `json:"ping"`
	Failures uint64            `json:"failures"`
	ErrorLog []pool.ErrorEntry `json:"error_log"`
}

// Results are the mining totals
type Results struct {
	DiffCurrent uint64 `json:"diff_current"`
	SharesGood  uint64 `json:"shares_good"`
	SharesTotal uint64 `json:"shares_total"`
	HashesTotal uint64 `json:"hashes_total"`
}

// Status is the document served at "/"
type Status struct {
	Health     []Health   `json:"health"`
	Hashrate   Hashrate   `json:"hashrate"`
	Version    string     `json:"version"`
	Kind       string     `json:"kind"`
	UA         string     `json:"ua"`
	Algo       string     `json:"algo"`
	Connection Connection `json:"connection"`
	Results    Results    `json:"results"`
}

// collect assembles a Status from live sources
func collect(state *miningstate.State, devices Devices, stats PoolStats, version string) Status {
	solvers := devices.Solvers()
	st := Status{
		Health:  make([]Health, 0, len(solvers)),
		Version: version,
		Kind:    deviceKind(solvers),
		UA:      "powminer/" + version,
		Algo:    Algo,
		Hashrate: Hashrate{
			Threads: make([][]uint64, 0, len(solvers)),
		},
	}

	total := 0.0
	for _, s := range solvers {
		t := s.Telemetry()
		st.Health = append(st.Health, Health{
			Name:      s.Name(),
			Intensity: s.Intensity(),
			Clock:     t.ClockCore,
			MemClock:  t.ClockMem,
			Power:     t.PowerWatts,
			Temp:      t.Temperature,
			Fan:       t.FanSpeed,
		})
		rate := s.Hashrate()
		st.Hashrate.Threads = append(st.Hashrate.Threads, []uint64{uint64(rate)})
		total += rate
	}
	st.Hashrate.Total = []uint64{uint64(total)}

	snap := stats.Snapshot()
	st.Connection = Connection{
		Pool:     snap.Pool,
		Uptime:   uint64(snap.Uptime.Seconds()),
		Ping:     snap.Ping.Milliseconds(),
		Failures: snap.Failures,
		ErrorLog: snap.ErrorLog,
	}
	if st.Connection.ErrorLog == nil {
		st.Connection.ErrorLog = []pool.ErrorEntry{}
	}

	st.Results = Results{
		DiffCurrent: state.Diff(),
		SharesGood:  state.SolCount(),
		SharesTotal: snap.SharesSubmitted,
		HashesTotal: state.HashCount(),
	}
	return st
}

// deviceKind names the backend when every solver shares one, "hybrid" otherwise
func deviceKind(solvers []miner.Solver) string {
	if len(solvers) == 0 {
		return "none"
	}
	kind := solvers[0].Kind()
	for _, s := range solvers[1:] {
		if s.Kind() != kind {
			return "hybrid"
		}
	}
	return kind.String()
}
