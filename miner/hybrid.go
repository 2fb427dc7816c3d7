package miner

import (
	"context"
	"runtime"

	"github.com/hadv/powminer/logger"
	"github.com/hadv/powminer/miningstate"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Options selects the solvers a HybridMiner runs
type Options struct {
	// Threads is the number of CPU solvers; zero disables CPU mining
	Threads int
	// SIMD selects the 4-way solver where the CPU supports it
	SIMD bool
	// CUDA lists CUDA devices. CUDAAll mines on every visible device at DefaultIntensity instead.
	CUDA    []CUDAOptions
	CUDAAll bool
	OpenCL  []OpenCLOptions

	CUDAKernel   string
	OpenCLKernel string
}

// HybridMiner owns every solver and fans state updates out to them
type HybridMiner struct {
	state   *miningstate.State
	logger  zerolog.Logger
	solvers []Solver
}

// NewHybridMiner wraps already constructed solvers
func NewHybridMiner(state *miningstate.State, solvers []Solver, log zerolog.Logger) *HybridMiner {
	return &HybridMiner{
		state:   state,
		solvers: solvers,
		logger:  logger.Component(log, "miner"),
	}
}

// BuildSolvers constructs the solvers described by opts. Any device that fails to
// initialize aborts the build and releases the solvers created so far.
func BuildSolvers(state *miningstate.State, opts Options, logger zerolog.Logger) ([]Solver, error) {
	var solvers []Solver
	cleanup := func() {
		for _, s := range solvers {
			_ = s.Close()
		}
	}

	cudaDevices := opts.CUDA
	if opts.CUDAAll {
		count, err := CUDADeviceCount()
		switch {
		case errors.Is(err, ErrCUDAUnavailable):
			// a build without CUDA simply has no CUDA devices to default to
			count = 0
		case err != nil:
			return nil, errors.Wrap(err, "failed to count CUDA devices")
		}
		cudaDevices = make([]CUDAOptions, count)
		for i := range cudaDevices {
			cudaDevices[i] = CUDAOptions{Device: i, Intensity: DefaultIntensity}
		}
	}

	for _, c := range cudaDevices {
		if c.KernelPath == "" {
			c.KernelPath = opts.CUDAKernel
		}
		s, err := NewCUDASolver(state, c, logger)
		if err != nil {
			cleanup()
			return nil, err
		}
		solvers = append(solvers, s)
	}

	for _, c := range opts.OpenCL {
		if c.KernelPath == "" {
			c.KernelPath = opts.OpenCLKernel
		}
		s, err := NewCLSolver(state, c, logger)
		if err != nil {
			cleanup()
			return nil, err
		}
		solvers = append(solvers, s)
	}

	threads := opts.Threads
	if threads > runtime.NumCPU() {
		logger.Warn().Int("threads", threads).Int("cores", runtime.NumCPU()).Msg("more CPU threads than cores")
	}
	for i := 0; i < threads; i++ {
		solvers = append(solvers, NewCPUSolverAuto(state, i, opts.SIMD, logger))
	}

	if len(solvers) == 0 {
		return nil, errors.New("no mining devices configured")
	}
	return solvers, nil
}

// Solvers returns the managed solvers
func (h *HybridMiner) Solvers() []Solver {
	return h.solvers
}

// Count returns the number of solvers of a kind
func (h *HybridMiner) Count(kind DeviceKind) int {
	n := 0
	for _, s := range h.solvers {
		if s.Kind() == kind {
			n++
		}
	}
	return n
}

// UpdateTarget tells every solver to reload the target
func (h *HybridMiner) UpdateTarget() {
	for _, s := range h.solvers {
		s.UpdateTarget()
	}
}

// UpdateMessage tells every solver to reload the message or midstate
func (h *HybridMiner) UpdateMessage() {
	for _, s := range h.solvers {
		s.UpdateMessage()
	}
}

// Hashrate is the sum of all solver hashrates
func (h *HybridMiner) Hashrate() float64 {
	total := 0.0
	for _, s := range h.solvers {
		total += s.Hashrate()
	}
	return total
}

// Run waits for complete work, starts every solver and stops them when ctx is done
func (h *HybridMiner) Run(ctx context.Context) error {
	h.logger.Info().Msgf("Mining on %d GPUs using CUDA, %d devices using OpenCL, and %d CPU cores.",
		h.Count(KindCUDA), h.Count(KindOpenCL), h.Count(KindCPU))

	if err := h.state.WaitUntilReady(ctx); err != nil {
		h.shutdown()
		return nil
	}

	h.logger.Info().Str("challenge", h.state.Challenge()).Uint64("diff", h.state.Diff()).Msg("work received, starting solvers")
	for _, s := range h.solvers {
		if err := s.Start(); err != nil {
			h.shutdown()
			return errors.Wrapf(err, "failed to start %s", s.Name())
		}
	}

	<-ctx.Done()
	h.shutdown()
	return nil
}

func (h *HybridMiner) shutdown() {
	for _, s := range h.solvers {
		s.Stop()
	}
	for _, s := range h.solvers {
		if err := s.Close(); err != nil {
			h.logger.Warn().Err(err).Str("device", s.Name()).Msg("failed to release device")
		}
	}
	h.logger.Info().Msg("solvers stopped")
}
