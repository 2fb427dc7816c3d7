package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/hadv/powminer/logger"
	"github.com/hadv/powminer/miningstate"
	"github.com/rs/zerolog"
)

// DefaultReportInterval is how often the status line is logged
const DefaultReportInterval = 5 * time.Second

// Hashrater is anything reporting a combined hashrate, usually a *miner.HybridMiner
type Hashrater interface {
	Hashrate() float64
}

// Reporter logs a status line on a fixed interval
type Reporter struct {
	state    *miningstate.State
	miner    Hashrater
	interval time.Duration
	logger   zerolog.Logger
}

// NewReporter creates a reporter; a zero interval selects DefaultReportInterval
func NewReporter(state *miningstate.State, miner Hashrater, interval time.Duration, log zerolog.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{
		state:    state,
		miner:    miner,
		interval: interval,
		logger:   logger.Component(log, "status"),
	}
}

// Run reports until ctx is done
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.report(time.Now())
		}
	}
}

func (r *Reporter) report(now time.Time) {
	if r.state.HashCount() == 0 {
		return
	}

	shares := fmt.Sprintf("%d", r.state.SolCount())
	if r.state.SolNew() {
		shares += "^"
	}

	r.logger.Info().
		Str("hashrate", fmt.Sprintf("%.2f MH/s", r.miner.Hashrate()/1e6)).
		Str("shares", shares).
		Str("search", formatSearchTime(now.Sub(r.state.RoundStart()))).
		Uint64("hashes", r.state.PrintableHashCount()).
		Uint64("diff", r.state.Diff()).
		Str("challenge", r.state.Challenge()).
		Msg("status")
}

// formatSearchTime renders a round duration as mm:ss
func formatSearchTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
