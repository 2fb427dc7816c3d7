package miner

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cloudflare/circl/simd/keccakf1600"
	"github.com/hadv/powminer/miningstate"
	"github.com/rs/zerolog"
)

// simdLanes is the number of messages hashed per permutation
const simdLanes = 4

// nonceWord is the 64-bit state word holding the nonce (message bytes 64..72)
const nonceWord = miningstate.NonceOffset / 8

// SIMDCPUSolver hashes four nonces per round with AVX2 4-way Keccak-f[1600]
type SIMDCPUSolver struct {
	dirtyFlags

	state  *miningstate.State
	logger zerolog.Logger
	index  int

	life lifecycle
	rate hashrate
}

// SIMDAvailable reports whether the 4-way permutation is accelerated on this CPU
func SIMDAvailable() bool {
	return keccakf1600.IsEnabledX4()
}

// NewCPUSolverAuto returns a SIMD solver when the CPU supports it and simd is requested,
// a plain CPU solver otherwise
func NewCPUSolverAuto(state *miningstate.State, index int, simd bool, logger zerolog.Logger) Solver {
	if simd && SIMDAvailable() {
		return NewSIMDCPUSolver(state, index, logger)
	}
	return NewCPUSolver(state, index, logger)
}

// NewSIMDCPUSolver creates a SIMD CPU solver
func NewSIMDCPUSolver(state *miningstate.State, index int, logger zerolog.Logger) *SIMDCPUSolver {
	return &SIMDCPUSolver{
		state:  state,
		index:  index,
		logger: logger.With().Str("device", fmt.Sprintf("simd%d", index)).Logger(),
	}
}

func (s *SIMDCPUSolver) Kind() DeviceKind     { return KindCPU }
func (s *SIMDCPUSolver) Name() string         { return fmt.Sprintf("CPU thread %d (AVX2 x4)", s.index) }
func (s *SIMDCPUSolver) Hashrate() float64    { return s.rate.rate() }
func (s *SIMDCPUSolver) Telemetry() Telemetry { return Telemetry{} }
func (s *SIMDCPUSolver) Intensity() float64   { return 0 }
func (s *SIMDCPUSolver) Close() error         { return nil }

// Start launches the search goroutine
func (s *SIMDCPUSolver) Start() error {
	s.markAll()
	s.life.start(s.run)
	return nil
}

// Stop waits for the search goroutine to exit
func (s *SIMDCPUSolver) Stop() {
	s.life.stop()
}

// messageWords loads the 84-byte message as 11 little-endian words with the keccak
// domain separator already in word 10
func messageWords(m miningstate.Message) [11]uint64 {
	raw := m.Bytes()
	var words [11]uint64
	for i := 0; i < 10; i++ {
		words[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	words[10] = uint64(binary.LittleEndian.Uint32(raw[80:])) | uint64(0x01)<<32
	return words
}

// keccak256x4 computes 4 Keccak256 hashes of the message with different nonces.
// State layout: state[4*word + lane].
func keccak256x4(perm *keccakf1600.StateX4, words *[11]uint64, nonces *[simdLanes]uint64, hashes *[simdLanes][32]byte) {
	state := perm.Initialize(false)

	for lane := 0; lane < simdLanes; lane++ {
		for word := 0; word < 11; word++ {
			state[4*word+lane] = words[word]
		}
		state[4*nonceWord+lane] = nonces[lane]
		// Initialize does not clear the previous permutation's output
		for word := 11; word < 25; word++ {
			state[4*word+lane] = 0
		}
		// final padding bit: 0x80 at byte 135 (word 16)
		state[4*16+lane] = 0x8000000000000000
	}

	perm.Permute()

	for lane := 0; lane < simdLanes; lane++ {
		for word := 0; word < 4; word++ {
			binary.LittleEndian.PutUint64(hashes[lane][word*8:word*8+8], state[4*word+lane])
		}
	}
}

func (s *SIMDCPUSolver) run() {
	var perm keccakf1600.StateX4
	var words [11]uint64
	var nonces [simdLanes]uint64
	var hashes [simdLanes][32]byte
	var target uint64

	s.rate.reset(time.Now())
	s.logger.Debug().Msg("solver started")

	counter := 0
	for !s.life.stopping() {
		if s.takeTarget() {
			target = s.state.TargetNum()
		}
		if s.takeMessage() {
			words = messageWords(s.state.Message())
		}

		base := s.state.GetIncSearchSpace(simdLanes)
		for i := range nonces {
			nonces[i] = base + uint64(i)
		}

		keccak256x4(&perm, &words, &nonces, &hashes)

		for i := range hashes {
			if miningstate.LeadingWord(hashes[i][:]) < target {
				s.state.PushSolution(nonces[i])
				s.logger.Debug().Uint64("nonce", nonces[i]).Msg("candidate found")
			}
		}

		counter++
		if counter >= checkInterval/simdLanes {
			s.rate.add(uint64(counter*simdLanes), time.Now())
			counter = 0
		}
	}

	s.logger.Debug().Msg("solver stopped")
}
