package telemetry

import (
	"github.com/hadv/powminer/miningstate"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "powminer"

// collector reads live miner values on every scrape
type collector struct {
	state   *miningstate.State
	devices Devices
	stats   PoolStats

	deviceHashrate    *prometheus.Desc
	deviceTemperature *prometheus.Desc
	devicePower       *prometheus.Desc
	hashrate          *prometheus.Desc
	hashes            *prometheus.Desc
	difficulty        *prometheus.Desc
	sharesAccepted    *prometheus.Desc
	sharesSubmitted   *prometheus.Desc
	devShares         *prometheus.Desc
	staleShares       *prometheus.Desc
	verifyFailures    *prometheus.Desc
	poolFailures      *prometheus.Desc
	poolPing          *prometheus.Desc
}

func newCollector(state *miningstate.State, devices Devices, stats PoolStats) *collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &collector{
		state:   state,
		devices: devices,
		stats:   stats,

		deviceHashrate:    desc("device_hashrate", "Hashes per second of one device", "device", "kind"),
		deviceTemperature: desc("device_temperature_celsius", "Device core temperature", "device"),
		devicePower:       desc("device_power_watts", "Device power draw", "device"),
		hashrate:          desc("hashrate", "Hashes per second over all devices"),
		hashes:            desc("hashes_total", "Nonces handed out since start"),
		difficulty:        desc("difficulty", "Current share difficulty"),
		sharesAccepted:    desc("shares_accepted_total", "Shares accepted by the pool"),
		sharesSubmitted:   desc("shares_submitted_total", "Shares sent to the pool"),
		devShares:         desc("developer_shares_total", "Shares submitted as developer fee"),
		staleShares:       desc("stale_shares_total", "Solutions found for the previous challenge", "action"),
		verifyFailures:    desc("verification_failures_total", "Solutions that failed CPU verification"),
		poolFailures:      desc("pool_failures_total", "Failed pool requests"),
		poolPing:          desc("pool_ping_seconds", "Round-trip time of the last pool request"),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.deviceHashrate, c.deviceTemperature, c.devicePower, c.hashrate, c.hashes, c.difficulty,
		c.sharesAccepted, c.sharesSubmitted, c.devShares, c.staleShares, c.verifyFailures,
		c.poolFailures, c.poolPing,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	total := 0.0
	for _, s := range c.devices.Solvers() {
		rate := s.Hashrate()
		total += rate
		ch <- prometheus.MustNewConstMetric(c.deviceHashrate, prometheus.GaugeValue, rate, s.Name(), s.Kind().String())

		t := s.Telemetry()
		if t.Temperature > 0 {
			ch <- prometheus.MustNewConstMetric(c.deviceTemperature, prometheus.GaugeValue, float64(t.Temperature), s.Name())
		}
		if t.PowerWatts > 0 {
			ch <- prometheus.MustNewConstMetric(c.devicePower, prometheus.GaugeValue, float64(t.PowerWatts), s.Name())
		}
	}
	ch <- prometheus.MustNewConstMetric(c.hashrate, prometheus.GaugeValue, total)
	ch <- prometheus.MustNewConstMetric(c.hashes, prometheus.CounterValue, float64(c.state.HashCount()))
	ch <- prometheus.MustNewConstMetric(c.difficulty, prometheus.GaugeValue, float64(c.state.Diff()))

	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.sharesAccepted, prometheus.CounterValue, float64(snap.SharesAccepted))
	ch <- prometheus.MustNewConstMetric(c.sharesSubmitted, prometheus.CounterValue, float64(snap.SharesSubmitted))
	ch <- prometheus.MustNewConstMetric(c.devShares, prometheus.CounterValue, float64(snap.DevShares))
	ch <- prometheus.MustNewConstMetric(c.staleShares, prometheus.CounterValue, float64(snap.StaleSubmitted), "submitted")
	ch <- prometheus.MustNewConstMetric(c.staleShares, prometheus.CounterValue, float64(snap.StaleDropped), "dropped")
	ch <- prometheus.MustNewConstMetric(c.verifyFailures, prometheus.CounterValue, float64(snap.VerifyFailures))
	ch <- prometheus.MustNewConstMetric(c.poolFailures, prometheus.CounterValue, float64(snap.Failures))
	ch <- prometheus.MustNewConstMetric(c.poolPing, prometheus.GaugeValue, snap.Ping.Seconds())
}
