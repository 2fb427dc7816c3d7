package pool

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hadv/powminer/logger"
	"github.com/hadv/powminer/miningstate"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPollInterval is the work polling period
	DefaultPollInterval = 4 * time.Second
	// DefaultSubmitInterval is the solution queue draining period
	DefaultSubmitInterval = 20 * time.Millisecond
	// DefaultRetryInterval is the fixed backoff for failed share submissions
	DefaultRetryInterval = 2 * time.Second

	// devShareInterval is the share position that goes to the developer
	devShareInterval = 40

	idChallenge = "chal"
	idDiff      = "diff"
	idAddress   = "addr"
)

// Notifier receives work changes; implemented by the miner orchestrator
type Notifier interface {
	UpdateTarget()
	UpdateMessage()
}

// Options configures a Worker
type Options struct {
	PollInterval   time.Duration
	SubmitInterval time.Duration
	RetryInterval  time.Duration
}

// Worker keeps the mining state in sync with the pool and submits shares
type Worker struct {
	state    *miningstate.State
	client   *Client
	notifier Notifier
	logger   zerolog.Logger
	opts     Options
	stats    *Stats

	// submit goroutine only
	solutionCount uint64
	devfeeCount   uint64
}

// NewWorker creates a worker; zero intervals select the defaults
func NewWorker(state *miningstate.State, client *Client, notifier Notifier, opts Options, log zerolog.Logger) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SubmitInterval <= 0 {
		opts.SubmitInterval = DefaultSubmitInterval
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &Worker{
		state:    state,
		client:   client,
		notifier: notifier,
		opts:     opts,
		stats:    newStats(client.URL()),
		logger:   logger.Component(log, "pool"),
	}
}

// Stats returns the worker counters
func (w *Worker) Stats() *Stats {
	return w.stats
}

// Run polls and submits until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.pollLoop(ctx) })
	g.Go(func() error { return w.submitLoop(ctx) })
	return g.Wait()
}

func (w *Worker) pollLoop(ctx context.Context) error {
	full := true
	for {
		if err := w.poll(ctx, full); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.stats.recordFailure(err)
			w.logger.Warn().Err(err).Msg("failed to poll pool")
		} else {
			full = false
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.PollInterval):
		}
	}
}

func (w *Worker) submitLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.SubmitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.submit(ctx)
		}
	}
}

// poll fetches challenge, difficulty (unless custom) and, when full, the pool address
func (w *Worker) poll(ctx context.Context, full bool) error {
	reqs := []Request{NewRequest("getChallengeNumber", idChallenge)}
	if !w.state.CustomDiff() {
		reqs = append(reqs, NewRequest("getMinimumShareDifficulty", idDiff, w.state.Address()))
	}
	if full {
		reqs = append(reqs, NewRequest("getPoolEthAddress", idAddress))
	}

	resps, rtt, err := w.client.Batch(ctx, reqs)
	if err != nil {
		return err
	}
	w.stats.recordPing(rtt)

	for _, r := range resps {
		id, ok := r.StringID()
		if !ok {
			continue
		}
		if r.Error != nil {
			w.logger.Warn().Str("id", id).Err(r.Error).Msg("pool returned an error")
			continue
		}
		switch id {
		case idAddress:
			w.handleAddress(r)
		case idDiff:
			w.handleDiff(r)
		case idChallenge:
			w.handleChallenge(r)
		}
	}
	return nil
}

func (w *Worker) handleAddress(r Response) {
	addr, ok := r.StringResult()
	if !ok || !common.IsHexAddress(addr) {
		w.logger.Warn().Str("result", string(r.Result)).Msg("invalid pool address")
		return
	}
	if w.state.SetPoolAddress(addr) {
		w.logger.Info().Str("address", addr).Msg("pool address")
		w.notifier.UpdateMessage()
	}
}

func (w *Worker) handleDiff(r Response) {
	diff, ok := r.Uint64Result()
	if !ok || diff == 0 {
		w.logger.Warn().Str("result", string(r.Result)).Msg("invalid difficulty")
		return
	}
	before := w.state.TargetGeneration()
	w.state.SetDiff(diff)
	if w.state.TargetGeneration() != before {
		w.logger.Info().Uint64("diff", diff).Msg("new difficulty")
		w.notifier.UpdateTarget()
	}
}

func (w *Worker) handleChallenge(r Response) {
	challenge, ok := r.StringResult()
	if !ok {
		return
	}
	raw, err := hexutil.Decode(challenge)
	if err != nil || len(raw) != miningstate.ChallengeSize {
		w.logger.Warn().Str("result", challenge).Msg("invalid challenge")
		return
	}
	if w.state.SetChallenge(challenge) {
		w.logger.Info().Str("challenge", challenge).Msg("new challenge")
		w.notifier.UpdateMessage()
	}
}

// share is a verified candidate ready for submission
type share struct {
	area      miningstate.NonceArea
	digest    [32]byte
	challenge string
	stale     bool
}

// verify re-hashes each candidate against the current prefix, then the previous one
func (w *Worker) verify(candidates []miningstate.Message) []share {
	current := w.state.Prefix()
	previous := w.state.OldPrefix()
	target := w.state.Target()
	currentChallenge, previousChallenge := challengeHex(current), challengeHex(previous)

	var shares []share
	for _, c := range candidates {
		msg := c.WithPrefix(current)
		digest := msg.Digest()
		if miningstate.MeetsTarget(digest, target) {
			shares = append(shares, share{area: c.Nonce, digest: digest, challenge: currentChallenge})
			continue
		}

		old := c.WithPrefix(previous)
		oldDigest := old.Digest()
		if miningstate.MeetsTarget(oldDigest, target) {
			if w.state.SubmitStale() {
				shares = append(shares, share{area: c.Nonce, digest: oldDigest, challenge: previousChallenge, stale: true})
				w.stats.add(&w.stats.staleSubmitted, 1)
			} else {
				w.logger.Info().Uint64("nonce", c.Nonce.Nonce()).Msg("stale solution dropped")
				w.stats.add(&w.stats.staleDropped, 1)
			}
			continue
		}

		w.logger.Warn().Uint64("nonce", c.Nonce.Nonce()).Msg("CPU verification failed")
		w.stats.add(&w.stats.verifyFailures, 1)
	}
	return shares
}

func challengeHex(p miningstate.Prefix) string {
	c := p.Challenge()
	return hexutil.Encode(c[:])
}

func (w *Worker) shareRequests(shares []share) []Request {
	maxTarget := w.state.MaximumTarget()
	address := w.state.Address()
	custom := w.state.CustomDiff()

	reqs := make([]Request, 0, len(shares))
	for i, s := range shares {
		proof := miningstate.DifficultyProof(maxTarget, s.digest)
		reqs = append(reqs, NewRequest("submitShare", i,
			s.area.Hex(),
			address,
			hexutil.Encode(s.digest[:]),
			proof.Dec(),
			s.challenge,
			custom,
		))
	}
	return reqs
}

// submit drains the solution queue, verifies and submits the shares, retrying the batch
// until it is delivered or ctx is done
func (w *Worker) submit(ctx context.Context) {
	candidates := w.state.AllSolutions()
	if len(candidates) == 0 {
		return
	}

	shares := w.verify(candidates)
	if len(shares) == 0 {
		return
	}
	reqs := w.shareRequests(shares)
	w.state.ResetCounter()

	for {
		resps, rtt, err := w.client.Batch(ctx, reqs)
		if err == nil {
			w.stats.recordPing(rtt)
			w.stats.add(&w.stats.sharesSubmitted, uint64(len(reqs)))
			w.countAccepted(resps)
			return
		}
		if ctx.Err() != nil {
			return
		}
		w.stats.recordFailure(err)
		w.logger.Warn().Err(err).Int("shares", len(reqs)).Msg("share submission failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.RetryInterval):
		}
	}
}

func (w *Worker) countAccepted(resps []Response) {
	for _, r := range resps {
		if r.Error != nil {
			w.logger.Warn().Err(r.Error).Msg("share rejected")
			continue
		}
		ok, isBool := r.BoolResult()
		if !isBool || !ok {
			continue
		}
		if w.solutionCount%devShareInterval == 0 && w.solutionCount/devShareInterval > w.devfeeCount {
			w.devfeeCount++
			w.stats.add(&w.stats.devShares, 1)
			w.logger.Info().Uint64("count", w.devfeeCount).Msg("submitted developer share")
		} else {
			w.solutionCount++
			w.state.IncSolCount(1)
			w.stats.add(&w.stats.sharesAccepted, 1)
		}
	}
}
