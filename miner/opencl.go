package miner

import (
	"fmt"
	"strings"
	"time"

	"github.com/hadv/powminer/miningstate"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultComputeVersion is passed as CUDA_VERSION when building for NVIDIA OpenCL platforms
const DefaultComputeVersion = 500

// clDriver is the device side of an OpenCL solver. Midstate, solution and solution-count
// buffers are bound to the kernel once; target and nonce base are rebound per round.
type clDriver interface {
	Name() string
	WorkGroupSize() uint32
	WriteMidstate(midstate [miningstate.MidstateSize]byte) error
	SetTarget(target uint64) error
	SetNonceBase(base uint64) error
	Enqueue(global uint64, local uint32) error
	// ReadSolutionCount blocks until the enqueued kernel has finished
	ReadSolutionCount() (uint32, error)
	ReadSolutions(n uint32) ([]uint64, error)
	ResetSolutionCount() error
	Close() error
}

// OpenCLOptions configures one OpenCL solver
type OpenCLOptions struct {
	// Platform is matched against platform names: "intel", "nvidia" or "amd"
	Platform       string
	Device         int
	Intensity      float64
	KernelPath     string
	ComputeVersion int
}

// platformMatches reports whether an OpenCL platform name belongs to the configured vendor
func platformMatches(selector, platformName string) bool {
	name := strings.ToLower(platformName)
	switch strings.ToLower(selector) {
	case "amd":
		return strings.Contains(name, "amd") || strings.Contains(name, "advanced micro")
	case "":
		return true
	default:
		return strings.Contains(name, strings.ToLower(selector))
	}
}

// buildOptions returns the compiler options for a platform
func buildOptions(platformName string, computeVersion int) string {
	if !strings.Contains(strings.ToLower(platformName), "nvidia") {
		return ""
	}
	if computeVersion <= 0 {
		computeVersion = DefaultComputeVersion
	}
	return fmt.Sprintf("-DCUDA_VERSION=%d", computeVersion)
}

// CLSolver drives one OpenCL device
type CLSolver struct {
	dirtyFlags

	state  *miningstate.State
	logger zerolog.Logger
	driver clDriver
	label  string

	intensity float64
	local     uint32
	threads   uint64

	life  lifecycle
	rate  hashrate
	fatal func(error)
}

// NewCLSolver opens an OpenCL device and builds the kernel from opts.KernelPath
func NewCLSolver(state *miningstate.State, opts OpenCLOptions, logger zerolog.Logger) (*CLSolver, error) {
	driver, err := openCLDriver(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize OpenCL device %s:%d", opts.Platform, opts.Device)
	}
	return newCLSolver(state, driver, opts, logger), nil
}

func newCLSolver(state *miningstate.State, driver clDriver, opts OpenCLOptions, logger zerolog.Logger) *CLSolver {
	intensity := ClampIntensity(opts.Intensity)
	_, local, threads := launchDims(intensity, driver.WorkGroupSize())
	label := fmt.Sprintf("cl-%s%d", strings.ToLower(opts.Platform), opts.Device)

	s := &CLSolver{
		state:     state,
		driver:    driver,
		label:     label,
		intensity: intensity,
		local:     local,
		threads:   threads,
		logger:    logger.With().Str("device", label).Logger(),
	}
	s.fatal = func(err error) {
		s.logger.Fatal().Err(err).Msg("OpenCL device failure")
	}

	s.logger.Info().
		Str("name", driver.Name()).
		Float64("intensity", intensity).
		Uint32("local", local).
		Uint64("global", threads).
		Msg("OpenCL device initialized")

	return s
}

func (s *CLSolver) Kind() DeviceKind     { return KindOpenCL }
func (s *CLSolver) Name() string         { return s.driver.Name() }
func (s *CLSolver) Hashrate() float64    { return s.rate.rate() }
func (s *CLSolver) Telemetry() Telemetry { return Telemetry{} }
func (s *CLSolver) Intensity() float64   { return s.intensity }

// Start launches the search goroutine
func (s *CLSolver) Start() error {
	s.markAll()
	s.life.start(s.run)
	return nil
}

// Stop waits for the search goroutine to exit
func (s *CLSolver) Stop() {
	s.life.stop()
}

// Close releases the device
func (s *CLSolver) Close() error {
	if s.life.running() {
		return errors.New("solver is running")
	}
	return s.driver.Close()
}

func (s *CLSolver) run() {
	s.rate.reset(time.Now())
	for !s.life.stopping() {
		if err := s.round(); err != nil {
			s.fatal(err)
			return
		}
	}
}

func (s *CLSolver) round() error {
	if s.takeTarget() {
		if err := s.driver.SetTarget(s.state.TargetNum()); err != nil {
			return errors.Wrap(err, "set target")
		}
	}
	if s.takeMessage() {
		if err := s.driver.WriteMidstate(s.state.Midstate()); err != nil {
			return errors.Wrap(err, "write midstate")
		}
	}

	base := s.state.GetIncSearchSpace(s.threads)
	if err := s.driver.SetNonceBase(base); err != nil {
		return errors.Wrap(err, "set nonce base")
	}
	if err := s.driver.Enqueue(s.threads, s.local); err != nil {
		return errors.Wrap(err, "enqueue kernel")
	}

	n, err := s.driver.ReadSolutionCount()
	if err != nil {
		return errors.Wrap(err, "read solution count")
	}
	if n > 0 {
		if n > maxSolutions {
			n = maxSolutions
		}
		nonces, err := s.driver.ReadSolutions(n)
		if err != nil {
			return errors.Wrap(err, "read solutions")
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
