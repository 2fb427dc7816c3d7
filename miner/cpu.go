package miner

import (
	"encoding/binary"
	"fmt"
	"hash"
	"time"

	"github.com/hadv/powminer/miningstate"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
)

// checkInterval is how many rounds pass between hashrate samples
const checkInterval = 1024

// CPUSolver hashes one nonce per round on a single goroutine
type CPUSolver struct {
	dirtyFlags

	state  *miningstate.State
	logger zerolog.Logger
	index  int

	life lifecycle
	rate hashrate
}

// NewCPUSolver creates a CPU solver. index only labels the solver in logs.
func NewCPUSolver(state *miningstate.State, index int, logger zerolog.Logger) *CPUSolver {
	return &CPUSolver{
		state:  state,
		index:  index,
		logger: logger.With().Str("device", fmt.Sprintf("cpu%d", index)).Logger(),
	}
}

func (s *CPUSolver) Kind() DeviceKind     { return KindCPU }
func (s *CPUSolver) Name() string         { return fmt.Sprintf("CPU thread %d", s.index) }
func (s *CPUSolver) Hashrate() float64    { return s.rate.rate() }
func (s *CPUSolver) Telemetry() Telemetry { return Telemetry{} }
func (s *CPUSolver) Intensity() float64   { return 0 }
func (s *CPUSolver) Close() error         { return nil }

// Start launches the search goroutine
func (s *CPUSolver) Start() error {
	s.markAll()
	s.life.start(s.run)
	return nil
}

// Stop waits for the search goroutine to exit
func (s *CPUSolver) Stop() {
	s.life.stop()
}

// hashNonce writes the nonce into the message and hashes it with zero allocations,
// using hashBuf as the Sum target
func hashNonce(hasher hash.Hash, data *[miningstate.MessageSize]byte, nonce uint64, hashBuf *[32]byte) {
	binary.LittleEndian.PutUint64(data[miningstate.NonceOffset:], nonce)
	hasher.Reset()
	hasher.Write(data[:])
	hasher.Sum(hashBuf[:0])
}

func (s *CPUSolver) run() {
	hasher := sha3.NewLegacyKeccak256()
	var data [miningstate.MessageSize]byte
	var hashBuf [32]byte
	var target uint64

	s.rate.reset(time.Now())
	s.logger.Debug().Msg("solver started")

	counter := 0
	for !s.life.stopping() {
		if s.takeTarget() {
			target = s.state.TargetNum()
		}
		if s.takeMessage() {
			data = s.state.Message().Bytes()
		}

		nonce := s.state.GetIncSearchSpace(1)
		hashNonce(hasher, &data, nonce, &hashBuf)

		if miningstate.LeadingWord(hashBuf[:]) < target {
			s.state.PushSolution(nonce)
			s.logger.Debug().Uint64("nonce", nonce).Msg("candidate found")
		}

		counter++
		if counter >= checkInterval {
			s.rate.add(uint64(counter), time.Now())
			counter = 0
		}
	}

	s.logger.Debug().Msg("solver stopped")
}
