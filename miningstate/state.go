package miningstate

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Options configures a new State
type Options struct {
	Token       string
	SubmitStale bool
	Address     string
	PoolURL     string
	// Salt overrides the random nonce area salt. Only the non-nonce bytes are used.
	Salt *NonceArea
}

// State is the single source of truth for work shared by the pool worker and all solvers.
// Fields are grouped behind independent locks so a solver reading the target never
// waits on a challenge update.
type State struct {
	token       string
	submitStale bool
	maxTarget   *uint256.Int

	messageMu    sync.Mutex
	message      Message
	oldChallenge [ChallengeSize]byte

	midstateMu  sync.Mutex
	midstate    [MidstateSize]byte
	midstateGen atomic.Uint64

	targetMu  sync.Mutex
	target    uint256.Int
	targetNum atomic.Uint64
	targetGen atomic.Uint64

	diff       atomic.Uint64
	customDiff atomic.Bool

	solutionsMu sync.Mutex
	solutions   []Message

	hashCount          atomic.Uint64
	hashCountPrintable atomic.Uint64
	roundStart         atomic.Int64

	solCount atomic.Uint64
	solNew   atomic.Bool

	address string
	poolURL string

	challengeReady   atomic.Bool
	poolAddressReady atomic.Bool
	diffReady        atomic.Bool
	ready            chan struct{}
	readyOnce        sync.Once
}

// New creates a State with a random nonce area salt
func New(opts Options) (*State, error) {
	token := opts.Token
	if token == "" {
		token = DefaultToken
	}
	maxTarget, err := MaximumTarget(token)
	if err != nil {
		return nil, err
	}

	s := &State{
		token:       token,
		submitStale: opts.SubmitStale,
		maxTarget:   maxTarget,
		address:     opts.Address,
		poolURL:     opts.PoolURL,
		ready:       make(chan struct{}),
	}

	if opts.Salt != nil {
		s.message.Nonce = *opts.Salt
	} else if _, err := rand.Read(s.message.Nonce[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce salt")
	}
	s.message.Nonce = s.message.Nonce.WithNonce(0)
	s.roundStart.Store(time.Now().UnixNano())

	return s, nil
}

// SetChallenge installs a new challenge from hex. Returns false if it is unchanged.
func (s *State) SetChallenge(challengeHex string) bool {
	var challenge [ChallengeSize]byte
	copy(challenge[:], common.FromHex(challengeHex))

	s.messageMu.Lock()
	if s.challengeReady.Load() && s.message.Challenge == challenge {
		s.messageMu.Unlock()
		return false
	}
	if s.submitStale {
		s.oldChallenge = s.message.Challenge
	}
	s.message.Challenge = challenge
	// cleared under messageMu so no solution built on the old message lands afterwards
	if !s.submitStale {
		s.solutionsMu.Lock()
		s.solutions = nil
		s.solutionsMu.Unlock()
	}
	s.messageMu.Unlock()

	s.challengeReady.Store(true)
	s.updateMidstate()
	s.checkReady()
	return true
}

// SetPoolAddress installs the pool's contract address from hex. Returns false if it is unchanged.
func (s *State) SetPoolAddress(addressHex string) bool {
	addr := common.HexToAddress(addressHex)

	s.messageMu.Lock()
	if s.poolAddressReady.Load() && s.message.PoolAddress == [AddressSize]byte(addr) {
		s.messageMu.Unlock()
		return false
	}
	s.message.PoolAddress = addr
	s.messageMu.Unlock()

	s.poolAddressReady.Store(true)
	s.updateMidstate()
	s.checkReady()
	return true
}

func (s *State) updateMidstate() {
	if !s.challengeReady.Load() || !s.poolAddressReady.Load() {
		return
	}

	s.messageMu.Lock()
	msg := s.message
	s.messageMu.Unlock()

	mid := computeMidstate(msg)

	s.midstateMu.Lock()
	s.midstate = mid
	s.midstateMu.Unlock()
	s.midstateGen.Add(1)
}

// Midstate returns the current midstate. It is all zero until both challenge and
// pool address have been set.
func (s *State) Midstate() [MidstateSize]byte {
	s.midstateMu.Lock()
	defer s.midstateMu.Unlock()
	return s.midstate
}

// MidstateGeneration counts midstate recomputations
func (s *State) MidstateGeneration() uint64 {
	return s.midstateGen.Load()
}

// SetDiff sets the pool difficulty and derives the target from it
func (s *State) SetDiff(diff uint64) {
	if diff == 0 {
		return
	}
	s.diff.Store(diff)
	s.SetTarget(DifficultyToTarget(s.maxTarget, diff))
	s.diffReady.Store(true)
	s.checkReady()
}

// SetCustomDiff fixes the difficulty; the pool worker stops polling it afterwards
func (s *State) SetCustomDiff(diff uint64) {
	s.customDiff.Store(true)
	s.SetDiff(diff)
}

// CustomDiff reports whether the difficulty is operator-fixed
func (s *State) CustomDiff() bool {
	return s.customDiff.Load()
}

// Diff returns the current difficulty
func (s *State) Diff() uint64 {
	return s.diff.Load()
}

// SetTarget replaces the target. The full value and its fast 64-bit form are published
// under one lock, so no reader sees one without the other. Returns false if unchanged.
func (s *State) SetTarget(target *uint256.Int) bool {
	s.targetMu.Lock()
	defer s.targetMu.Unlock()

	if s.target.Eq(target) {
		return false
	}
	s.target.Set(target)
	s.targetNum.Store(FastTarget(target))
	s.targetGen.Add(1)
	return true
}

// SetTargetHex parses a big-endian hex target and installs it
func (s *State) SetTargetHex(targetHex string) bool {
	return s.SetTarget(new(uint256.Int).SetBytes(common.FromHex(targetHex)))
}

// Target returns a copy of the full target
func (s *State) Target() *uint256.Int {
	s.targetMu.Lock()
	defer s.targetMu.Unlock()
	return new(uint256.Int).Set(&s.target)
}

// TargetNum is the most significant 64 bits of the target
func (s *State) TargetNum() uint64 {
	return s.targetNum.Load()
}

// TargetGeneration advances once per real target change
func (s *State) TargetGeneration() uint64 {
	return s.targetGen.Load()
}

// MaximumTarget returns a copy of the token's difficulty-1 target
func (s *State) MaximumTarget() *uint256.Int {
	return new(uint256.Int).Set(s.maxTarget)
}

// GetIncSearchSpace claims n nonces and returns the first one of the claimed range
func (s *State) GetIncSearchSpace(n uint64) uint64 {
	s.hashCountPrintable.Add(n)
	return s.hashCount.Add(n) - n
}

// HashCount is the total number of nonces handed out
func (s *State) HashCount() uint64 {
	return s.hashCount.Load()
}

// ResetCounter restarts the per-round hash counter and round timer
func (s *State) ResetCounter() {
	s.hashCountPrintable.Store(0)
	s.roundStart.Store(time.Now().UnixNano())
}

// PrintableHashCount is the number of nonces handed out since the last ResetCounter
func (s *State) PrintableHashCount() uint64 {
	return s.hashCountPrintable.Load()
}

// RoundStart is when the current round began
func (s *State) RoundStart() time.Time {
	return time.Unix(0, s.roundStart.Load())
}

// Message returns a copy of the current message (nonce field zero)
func (s *State) Message() Message {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	return s.message
}

// Prefix returns challenge ++ pool address
func (s *State) Prefix() Prefix {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	return s.message.Prefix()
}

// OldPrefix returns the previous challenge joined with the current pool address
func (s *State) OldPrefix() Prefix {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	m := s.message
	m.Challenge = s.oldChallenge
	return m.Prefix()
}

// Challenge returns the current challenge as 0x-prefixed hex
func (s *State) Challenge() string {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	return hexutil.Encode(s.message.Challenge[:])
}

// PreviousChallenge returns the challenge before the current one as hex, if it was kept
func (s *State) PreviousChallenge() string {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	return hexutil.Encode(s.oldChallenge[:])
}

// PoolAddress returns the pool contract address
func (s *State) PoolAddress() common.Address {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	return common.Address(s.message.PoolAddress)
}

// PushSolution assembles the message for a found nonce against the current prefix and queues it
func (s *State) PushSolution(nonce uint64) {
	s.PushSolutions([]uint64{nonce})
}

// PushSolutions queues several nonces found in one round
func (s *State) PushSolutions(nonces []uint64) {
	if len(nonces) == 0 {
		return
	}

	found := make([]Message, len(nonces))
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	for i, n := range nonces {
		found[i] = s.message.WithNonce(n)
	}

	s.solutionsMu.Lock()
	s.solutions = append(s.solutions, found...)
	s.solutionsMu.Unlock()
}

// Solution pops the oldest queued solution
func (s *State) Solution() (Message, bool) {
	s.solutionsMu.Lock()
	defer s.solutionsMu.Unlock()
	if len(s.solutions) == 0 {
		return Message{}, false
	}
	m := s.solutions[0]
	s.solutions = s.solutions[1:]
	return m, true
}

// AllSolutions drains the queue in one step
func (s *State) AllSolutions() []Message {
	s.solutionsMu.Lock()
	defer s.solutionsMu.Unlock()
	out := s.solutions
	s.solutions = nil
	return out
}

// IncSolCount records n confirmed shares and raises the new-share flag
func (s *State) IncSolCount(n uint64) {
	s.solCount.Add(n)
	s.solNew.Store(true)
}

// SolCount is the number of confirmed shares
func (s *State) SolCount() uint64 {
	return s.solCount.Load()
}

// SolNew reports and clears the new-share flag
func (s *State) SolNew() bool {
	return s.solNew.Swap(false)
}

// Address returns the miner's payout account
func (s *State) Address() string { return s.address }

// PoolURL returns the pool endpoint
func (s *State) PoolURL() string { return s.poolURL }

// Token returns the configured token name
func (s *State) Token() string {
	return s.token
}

// SubmitStale reports whether shares for the previous challenge are still submitted
func (s *State) SubmitStale() bool {
	return s.submitStale
}

// Ready reports whether challenge, pool address and difficulty have all been set
func (s *State) Ready() bool {
	return s.challengeReady.Load() && s.poolAddressReady.Load() && s.diffReady.Load()
}

func (s *State) checkReady() {
	if s.Ready() {
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

// WaitUntilReady blocks until the state holds complete work or ctx is done
func (s *State) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
