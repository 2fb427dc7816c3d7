package miner

import (
	"fmt"
	"runtime"
	"time"

	"github.com/hadv/powminer/miningstate"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// cudaDriver is the device side of a CUDA solver. All calls after bind must come from the
// OS thread that called bind.
type cudaDriver interface {
	Name() string
	// MaxBlockSize is the kernel's max threads per block
	MaxBlockSize() uint32
	// Bind makes the device context current on the calling thread
	Bind() error
	CopyMidstate(midstate [miningstate.MidstateSize]byte) error
	CopyTarget(target uint64) error
	ResetSolutionCount() error
	Launch(grid, block uint32, base uint64) error
	// SolutionCount waits for the launch and reads back the number of candidates found
	SolutionCount() (uint32, error)
	CopySolutions(n uint32) ([]uint64, error)
	Synchronize() error
	// Close synchronizes, then releases module, stream and context in that order
	Close() error
	Telemetry() Telemetry
}

// CUDAOptions configures one CUDA solver
type CUDAOptions struct {
	Device     int
	Intensity  float64
	KernelPath string
}

// CUDASolver drives one CUDA device
type CUDASolver struct {
	dirtyFlags

	state  *miningstate.State
	logger zerolog.Logger
	driver cudaDriver
	device int

	intensity float64
	grid      uint32
	block     uint32
	threads   uint64

	life  lifecycle
	rate  hashrate
	fatal func(error)
}

// NewCUDASolver opens a CUDA device and loads the kernel from opts.KernelPath
func NewCUDASolver(state *miningstate.State, opts CUDAOptions, logger zerolog.Logger) (*CUDASolver, error) {
	driver, err := openCUDADriver(opts.Device, opts.KernelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize CUDA device %d", opts.Device)
	}
	return newCUDASolver(state, driver, opts, logger), nil
}

func newCUDASolver(state *miningstate.State, driver cudaDriver, opts CUDAOptions, logger zerolog.Logger) *CUDASolver {
	intensity := ClampIntensity(opts.Intensity)
	grid, block, threads := launchDims(intensity, driver.MaxBlockSize())

	s := &CUDASolver{
		state:     state,
		driver:    driver,
		device:    opts.Device,
		intensity: intensity,
		grid:      grid,
		block:     block,
		threads:   threads,
		logger: logger.With().
			Str("device", fmt.Sprintf("cuda%d", opts.Device)).
			Logger(),
	}
	s.fatal = func(err error) {
		s.logger.Fatal().Err(err).Msg("CUDA device failure")
	}

	s.logger.Info().
		Str("name", driver.Name()).
		Float64("intensity", intensity).
		Uint32("grid", grid).
		Uint32("block", block).
		Uint64("threads", threads).
		Msg("CUDA device initialized")

	return s
}

func (s *CUDASolver) Kind() DeviceKind     { return KindCUDA }
func (s *CUDASolver) Name() string         { return s.driver.Name() }
func (s *CUDASolver) Hashrate() float64    { return s.rate.rate() }
func (s *CUDASolver) Telemetry() Telemetry { return s.driver.Telemetry() }
func (s *CUDASolver) Intensity() float64   { return s.intensity }

// Start launches the search goroutine
func (s *CUDASolver) Start() error {
	s.markAll()
	s.life.start(s.run)
	return nil
}

// Stop waits for the search goroutine to exit
func (s *CUDASolver) Stop() {
	s.life.stop()
}

// Close tears down the device on a thread bound to its context
func (s *CUDASolver) Close() error {
	if s.life.running() {
		return errors.New("solver is running")
	}

	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := s.driver.Bind(); err != nil {
			errCh <- err
			return
		}
		errCh <- s.driver.Close()
	}()
	return <-errCh
}

func (s *CUDASolver) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := s.driver.Bind(); err != nil {
		s.fatal(err)
		return
	}

	s.rate.reset(time.Now())
	for !s.life.stopping() {
		if err := s.round(); err != nil {
			s.fatal(err)
			return
		}
	}
	if err := s.driver.Synchronize(); err != nil {
		s.logger.Warn().Err(err).Msg("synchronize on stop failed")
	}
}

func (s *CUDASolver) round() error {
	if s.takeTarget() {
		if err := s.driver.CopyTarget(s.state.TargetNum()); err != nil {
			return errors.Wrap(err, "copy target")
		}
	}
	if s.takeMessage() {
		if err := s.driver.CopyMidstate(s.state.Midstate()); err != nil {
			return errors.Wrap(err, "copy midstate")
		}
	}

	base := s.state.GetIncSearchSpace(s.threads)
	if err := s.driver.Launch(s.grid, s.block, base); err != nil {
		return errors.Wrap(err, "launch")
	}

	n, err := s.driver.SolutionCount()
	if err != nil {
		return errors.Wrap(err, "read solution count")
	}
	if n > 0 {
		if n > maxSolutions {
			n = maxSolutions
		}
		nonces, err := s.driver.CopySolutions(n)
		if err != nil {
			return errors.Wrap(err, "copy solutions")
		}
		if err := s.driver.ResetSolutionCount(); err != nil {
			return errors.Wrap(err, "reset solution count")
		}
		s.state.PushSolutions(nonces)
		s.logger.Debug().Int("count", len(nonces)).Msg("candidates found")
	}

	s.rate.add(s.threads, time.Now())
	return nil
}
