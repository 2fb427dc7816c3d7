package miningstate

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChallenge  = "0x1c0ffee1c0ffee1c0ffee1c0ffee1c0ffee1c0ffee1c0ffee1c0ffee1c0ffee1"
	testChallenge2 = "0x2222222222222222222222222222222222222222222222222222222222222222"
	testPool       = "0x514910771af9ca656af840dff83e8264ecf986ca"
)

func newTestState(t *testing.T, submitStale bool) *State {
	t.Helper()
	s, err := New(Options{SubmitStale: submitStale})
	require.NoError(t, err)
	return s
}

func TestNewKeepsAccountAndPool(t *testing.T) {
	s, err := New(Options{Address: "0x1111111111111111111111111111111111111111", PoolURL: "http://pool.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", s.Address())
	assert.Equal(t, "http://pool.example.com", s.PoolURL())
}

func TestNewRejectsUnknownToken(t *testing.T) {
	_, err := New(Options{Token: "dogecoin"})
	require.ErrorIs(t, err, ErrUnsupportedToken)
}

func TestNewAppliesSalt(t *testing.T) {
	var salt NonceArea
	for i := range salt {
		salt[i] = 0xaa
	}
	s, err := New(Options{Salt: &salt})
	require.NoError(t, err)

	area := s.Message().Nonce
	assert.Equal(t, uint64(0), area.Nonce())
	assert.Equal(t, salt[:nonceOffset], area[:nonceOffset])
	assert.Equal(t, salt[nonceOffset+8:], area[nonceOffset+8:])
}

func TestGetIncSearchSpaceDisjoint(t *testing.T) {
	s := newTestState(t, false)

	type span struct{ start, n uint64 }

	const workers = 8
	const rounds = 2000

	var mu sync.Mutex
	var spans []span
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			n := uint64(1) << uint(w)
			local := make([]span, 0, rounds)
			for i := 0; i < rounds; i++ {
				local = append(local, span{s.GetIncSearchSpace(n), n})
			}
			mu.Lock()
			spans = append(spans, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var next uint64
	for _, sp := range spans {
		require.Equal(t, next, sp.start, "ranges must tile the nonce space without gaps or overlap")
		next = sp.start + sp.n
	}
	assert.Equal(t, next, s.HashCount())
	assert.Equal(t, next, s.PrintableHashCount())

	s.ResetCounter()
	assert.Zero(t, s.PrintableHashCount())
	assert.Equal(t, next, s.HashCount())
}

func TestDifficultyTargetRoundTrip(t *testing.T) {
	maxTarget, err := MaximumTarget("0xBitcoin")
	require.NoError(t, err)

	for _, diff := range []uint64{1, 2, 3, 1000, 65536, 1_000_000, 1 << 40} {
		target := DifficultyToTarget(maxTarget, diff)
		back := new(uint256.Int).Div(maxTarget, target)
		assert.True(t, back.Uint64() >= diff, "diff %d", diff)
		assert.True(t, back.Uint64()-diff <= 1, "diff %d back %s", diff, back)
	}

	// power of two difficulties divide exactly
	target := DifficultyToTarget(maxTarget, 1<<20)
	assert.Equal(t, new(uint256.Int).Lsh(uint256.NewInt(1), 214), target)
}

func TestMaximumTargetPerToken(t *testing.T) {
	btc, err := MaximumTarget("0xBTC")
	require.NoError(t, err)
	cate, err := MaximumTarget("0xCATEther")
	require.NoError(t, err)

	assert.Equal(t, 235, btc.BitLen())
	assert.Equal(t, 225, cate.BitLen())
}

func TestDifficultyProofMonotonic(t *testing.T) {
	maxTarget, err := MaximumTarget(DefaultToken)
	require.NoError(t, err)

	var low, high [32]byte
	low[5] = 0x01
	high[4] = 0x01

	pLow := DifficultyProof(maxTarget, low)
	pHigh := DifficultyProof(maxTarget, high)
	assert.True(t, pLow.Gt(pHigh), "smaller digest proves more work")

	var huge [32]byte
	huge[0] = 0xff
	assert.True(t, DifficultyProof(maxTarget, huge).IsZero())

	// digest exactly at the target for difficulty 1024 proves 1023
	exact := DifficultyToTarget(maxTarget, 1024).Bytes32()
	assert.Equal(t, uint64(1023), DifficultyProof(maxTarget, exact).Uint64())
}

func TestMeetsTarget(t *testing.T) {
	target := uint256.NewInt(1000)
	var d [32]byte
	d[30] = 0x03
	d[31] = 0xe7 // 999
	assert.True(t, MeetsTarget(d, target))
	d[31] = 0xe8 // 1000
	assert.True(t, MeetsTarget(d, target))
	d[31] = 0xe9 // 1001
	assert.False(t, MeetsTarget(d, target))
}

func TestMidstateGating(t *testing.T) {
	s := newTestState(t, false)

	assert.Equal(t, [MidstateSize]byte{}, s.Midstate())

	require.True(t, s.SetChallenge(testChallenge))
	assert.Equal(t, [MidstateSize]byte{}, s.Midstate())
	assert.Zero(t, s.MidstateGeneration())

	require.True(t, s.SetPoolAddress(testPool))
	assert.Equal(t, uint64(1), s.MidstateGeneration())
	assert.Equal(t, computeMidstate(s.Message()), s.Midstate())

	// reads and unchanged writes never recompute
	for i := 0; i < 10; i++ {
		_ = s.Midstate()
	}
	assert.False(t, s.SetChallenge(testChallenge))
	assert.False(t, s.SetPoolAddress(testPool))
	assert.Equal(t, uint64(1), s.MidstateGeneration())

	require.True(t, s.SetChallenge(testChallenge2))
	assert.Equal(t, uint64(2), s.MidstateGeneration())
	assert.Equal(t, computeMidstate(s.Message()), s.Midstate())
}

func TestChallengeChangeClearsQueueWithoutStale(t *testing.T) {
	s := newTestState(t, false)
	s.SetPoolAddress(testPool)
	s.SetChallenge(testChallenge)

	s.PushSolutions([]uint64{1, 2, 3})
	s.SetChallenge(testChallenge2)

	assert.Empty(t, s.AllSolutions())
	_, ok := s.Solution()
	assert.False(t, ok)
}

func TestChallengeChangeRacingPushes(t *testing.T) {
	s := newTestState(t, false)
	s.SetPoolAddress(testPool)
	s.SetChallenge(testChallenge)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := uint64(0); ; i++ {
				select {
				case <-stop:
					return
				default:
					s.PushSolution(uint64(w)<<32 | i)
				}
			}
		}(w)
	}

	time.Sleep(5 * time.Millisecond)
	require.True(t, s.SetChallenge(testChallenge2))
	current := s.Prefix()
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	// anything queued once the new challenge is installed was built on it
	for _, m := range s.AllSolutions() {
		require.Equal(t, current, m.Prefix())
	}
}

func TestChallengeChangeKeepsQueueWithStale(t *testing.T) {
	s := newTestState(t, true)
	s.SetPoolAddress(testPool)
	s.SetChallenge(testChallenge)
	oldPrefix := s.Prefix()

	s.PushSolutions([]uint64{7, 8})
	s.SetChallenge(testChallenge2)

	assert.Equal(t, oldPrefix, s.OldPrefix())
	assert.Equal(t, testChallenge, s.PreviousChallenge())
	assert.Equal(t, testChallenge2, s.Challenge())

	first, ok := s.Solution()
	require.True(t, ok)
	assert.Equal(t, uint64(7), first.Nonce.Nonce())
	assert.Equal(t, oldPrefix, first.Prefix())

	rest := s.AllSolutions()
	require.Len(t, rest, 1)
	assert.Equal(t, uint64(8), rest[0].Nonce.Nonce())
	assert.Empty(t, s.AllSolutions())
}

func TestSetTargetIdempotent(t *testing.T) {
	s := newTestState(t, false)

	s.SetDiff(1000)
	gen := s.TargetGeneration()
	target := s.Target()
	require.Equal(t, uint64(1), gen)

	s.SetDiff(1000)
	assert.False(t, s.SetTarget(target))
	assert.Equal(t, gen, s.TargetGeneration())

	s.SetDiff(2000)
	assert.Equal(t, gen+1, s.TargetGeneration())
	assert.Equal(t, FastTarget(s.Target()), s.TargetNum())

	assert.True(t, s.SetTargetHex("0x00000000ffff0000000000000000000000000000000000000000000000000000"))
	assert.Equal(t, uint64(0x00000000ffff0000), s.TargetNum())
	assert.False(t, s.SetTargetHex("0x00000000ffff0000000000000000000000000000000000000000000000000000"))
}

func TestCustomDiff(t *testing.T) {
	s := newTestState(t, false)
	s.SetCustomDiff(4096)
	assert.True(t, s.CustomDiff())
	assert.Equal(t, uint64(4096), s.Diff())
	assert.Equal(t, DifficultyToTarget(s.MaximumTarget(), 4096), s.Target())
}

func TestWaitUntilReady(t *testing.T) {
	s := newTestState(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.WaitUntilReady(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- s.WaitUntilReady(context.Background()) }()

	s.SetChallenge(testChallenge)
	s.SetPoolAddress(testPool)
	assert.False(t, s.Ready())
	s.SetDiff(1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitUntilReady did not return after all inputs were set")
	}
	assert.True(t, s.Ready())
}

func TestSolCount(t *testing.T) {
	s := newTestState(t, false)
	assert.False(t, s.SolNew())

	s.IncSolCount(2)
	assert.Equal(t, uint64(2), s.SolCount())
	assert.True(t, s.SolNew())
	assert.False(t, s.SolNew())
}

func TestPushSolutionUsesCurrentPrefix(t *testing.T) {
	s := newTestState(t, false)
	s.SetChallenge(testChallenge)
	s.SetPoolAddress(testPool)

	s.PushSolution(42)
	m, ok := s.Solution()
	require.True(t, ok)
	assert.Equal(t, s.Prefix(), m.Prefix())
	assert.Equal(t, uint64(42), m.Nonce.Nonce())
	assert.Equal(t, s.Message().Nonce.WithNonce(42), m.Nonce)
	assert.Equal(t, testPool, strings.ToLower(s.PoolAddress().Hex()))
}
