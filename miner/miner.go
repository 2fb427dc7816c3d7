// Package miner searches the nonce space for keccak256 shares on CPU, CUDA and OpenCL devices.
package miner

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrCUDAUnavailable is returned by CUDA entry points in builds without the cuda tag
	ErrCUDAUnavailable = errors.New("CUDA support not enabled. Build with: make build-cuda")
	// ErrOpenCLUnavailable is returned by OpenCL entry points in builds without the opencl tag
	ErrOpenCLUnavailable = errors.New("OpenCL support not enabled. Build with: make build-opencl")
)

// DeviceKind identifies the backend a solver runs on
type DeviceKind int

const (
	KindCPU DeviceKind = iota
	KindCUDA
	KindOpenCL
)

func (k DeviceKind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindCUDA:
		return "cuda"
	case KindOpenCL:
		return "opencl"
	default:
		return "unknown"
	}
}

// DeviceInfo contains information about a mining device
type DeviceInfo struct {
	Kind         DeviceKind
	Platform     string
	Index        int
	Name         string
	Vendor       string
	ComputeUnits int
	MaxWorkSize  int
	TotalMemory  uint64
}

// Telemetry is a device health snapshot. CPU and OpenCL devices report zeros.
type Telemetry struct {
	Temperature uint32 // degrees C
	ClockCore   uint32 // MHz
	ClockMem    uint32 // MHz
	PowerWatts  uint32
	FanSpeed    uint32 // percent
}

// Solver is one device searching its share of the nonce space
type Solver interface {
	// Kind returns the backend of the solver
	Kind() DeviceKind

	// Name returns a human readable device name
	Name() string

	// Start launches the search goroutine. Calling Start after Stop relaunches it.
	Start() error

	// Stop signals the search goroutine and waits for it to exit
	Stop()

	// Close releases device resources. The solver must be stopped.
	Close() error

	// UpdateTarget marks the target dirty; the solver reloads it at the top of its next round
	UpdateTarget()

	// UpdateMessage marks the message dirty; the solver reloads it at the top of its next round
	UpdateMessage()

	// Hashrate returns the smoothed hashes per second
	Hashrate() float64

	// Telemetry returns the latest device health readings
	Telemetry() Telemetry

	// Intensity returns the clamped GPU intensity, 0 for CPU solvers
	Intensity() float64
}

// lifecycle runs one search goroutine at a time
type lifecycle struct {
	mu      sync.Mutex
	stopped atomic.Bool
	done    chan struct{}
}

func (l *lifecycle) start(loop func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		l.stopped.Store(true)
		<-l.done
	}

	l.stopped.Store(false)
	done := make(chan struct{})
	l.done = done
	go func() {
		defer close(done)
		loop()
	}()
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done == nil {
		return
	}
	l.stopped.Store(true)
	<-l.done
	l.done = nil
}

func (l *lifecycle) stopping() bool {
	return l.stopped.Load()
}

func (l *lifecycle) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// dirtyFlags carry broadcast updates into a solver's round loop
type dirtyFlags struct {
	newTarget  atomic.Bool
	newMessage atomic.Bool
}

func (d *dirtyFlags) UpdateTarget()  { d.newTarget.Store(true) }
func (d *dirtyFlags) UpdateMessage() { d.newMessage.Store(true) }

func (d *dirtyFlags) markAll() {
	d.newTarget.Store(true)
	d.newMessage.Store(true)
}

// takeTarget clears the target flag and reports whether it was set
func (d *dirtyFlags) takeTarget() bool {
	return d.newTarget.CompareAndSwap(true, false)
}

func (d *dirtyFlags) takeMessage() bool {
	return d.newMessage.CompareAndSwap(true, false)
}
