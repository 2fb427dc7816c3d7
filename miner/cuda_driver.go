//go:build cuda && linux
// +build cuda,linux

/*
 * CUDA device driver for Linux with NVIDIA GPU support
 * Requires the CUDA driver and a PTX kernel exporting "hashMidstate":
 *
 *   hashMidstate(const uint64_t *midstate, uint64_t target, uint64_t base,
 *                uint64_t *solutions, uint32_t *solutionCount)
 *
 * Build with: go build -tags cuda
 */

package miner

import (
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/hadv/powminer/miningstate"
	"github.com/mumax/3/cuda/cu"
	"github.com/pkg/errors"
)

const cudaKernelName = "hashMidstate"

var nvmlOnce sync.Once
var nvmlReady bool

// cudaCall turns the panics raised by the cu bindings into errors
func cudaCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("CUDA error: %v", r)
		}
	}()
	fn()
	return nil
}

func initNVML() bool {
	nvmlOnce.Do(func() {
		nvmlReady = nvml.Init() == nvml.SUCCESS
	})
	return nvmlReady
}

// CUDADeviceCount returns the number of visible CUDA devices
func CUDADeviceCount() (int, error) {
	var count int
	err := cudaCall(func() {
		cu.Init(0)
		count = cu.DeviceGetCount()
	})
	return count, err
}

// ListCUDADevices returns a list of available CUDA GPU devices
func ListCUDADevices() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	err := cudaCall(func() {
		cu.Init(0)
		count := cu.DeviceGetCount()
		for i := 0; i < count; i++ {
			dev := cu.DeviceGet(i)
			devices = append(devices, DeviceInfo{
				Kind:         KindCUDA,
				Platform:     "CUDA",
				Index:        i,
				Name:         dev.Name(),
				Vendor:       "NVIDIA",
				ComputeUnits: dev.Attribute(cu.MULTIPROCESSOR_COUNT),
				MaxWorkSize:  dev.Attribute(cu.MAX_THREADS_PER_BLOCK),
				TotalMemory:  uint64(dev.TotalMem()),
			})
		}
	})
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.New("no CUDA devices found")
	}
	return devices, nil
}

type cuDriver struct {
	index     int
	name      string
	ctx       cu.Context
	stream    cu.Stream
	module    cu.Module
	fn        cu.Function
	blockSize uint32

	dMidstate  cu.DevicePtr
	dSolutions cu.DevicePtr
	dCount     cu.DevicePtr

	target    uint64
	count     uint32
	solutions [maxSolutions]uint64

	nvmlDevice nvml.Device
	hasNVML    bool
}

func openCUDADriver(index int, kernelPath string) (cudaDriver, error) {
	ptx, err := os.ReadFile(kernelPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CUDA kernel")
	}

	// the new context is current only on this thread until Bind
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d := &cuDriver{index: index}
	err = cudaCall(func() {
		cu.Init(0)
		if index >= cu.DeviceGetCount() {
			panic("device index out of range")
		}
		dev := cu.DeviceGet(index)
		d.name = dev.Name()
		d.ctx = cu.CtxCreate(0, dev)
		d.stream = cu.StreamCreate()
		d.module = cu.ModuleLoadData(string(ptx))
		d.fn = d.module.GetFunction(cudaKernelName)
		d.blockSize = uint32(d.fn.GetAttribute(cu.FUNC_A_MAX_THREADS_PER_BLOCK))

		d.dMidstate = cu.MemAlloc(miningstate.MidstateSize)
		d.dSolutions = cu.MemAlloc(maxSolutions * 8)
		d.dCount = cu.MemAlloc(4)
		cu.MemsetD32(d.dCount, 0, 1)
	})
	if err != nil {
		return nil, err
	}

	if initNVML() {
		dev, ret := nvml.DeviceGetHandleByIndex(index)
		if ret == nvml.SUCCESS {
			d.nvmlDevice = dev
			d.hasNVML = true
		}
	}

	return d, nil
}

func (d *cuDriver) Name() string         { return d.name }
func (d *cuDriver) MaxBlockSize() uint32 { return d.blockSize }

func (d *cuDriver) Bind() error {
	return cudaCall(func() { d.ctx.SetCurrent() })
}

func (d *cuDriver) CopyMidstate(midstate [miningstate.MidstateSize]byte) error {
	return cudaCall(func() {
		cu.MemcpyHtoD(d.dMidstate, unsafe.Pointer(&midstate[0]), miningstate.MidstateSize)
	})
}

// CopyTarget stores the target; it reaches the device as a launch parameter
func (d *cuDriver) CopyTarget(target uint64) error {
	d.target = target
	return nil
}

func (d *cuDriver) ResetSolutionCount() error {
	return cudaCall(func() { cu.MemsetD32(d.dCount, 0, 1) })
}

func (d *cuDriver) Launch(grid, block uint32, base uint64) error {
	args := []unsafe.Pointer{
		unsafe.Pointer(&d.dMidstate),
		unsafe.Pointer(&d.target),
		unsafe.Pointer(&base),
		unsafe.Pointer(&d.dSolutions),
		unsafe.Pointer(&d.dCount),
	}
	return cudaCall(func() {
		cu.LaunchKernel(d.fn, int(grid), 1, 1, int(block), 1, 1, 0, d.stream, args)
	})
}

func (d *cuDriver) SolutionCount() (uint32, error) {
	err := cudaCall(func() {
		d.stream.Synchronize()
		cu.MemcpyDtoH(unsafe.Pointer(&d.count), d.dCount, 4)
	})
	return d.count, err
}

func (d *cuDriver) CopySolutions(n uint32) ([]uint64, error) {
	if n == 0 {
		return nil, nil
	}
	err := cudaCall(func() {
		cu.MemcpyDtoH(unsafe.Pointer(&d.solutions[0]), d.dSolutions, int64(n)*8)
	})
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	copy(out, d.solutions[:n])
	return out, nil
}

func (d *cuDriver) Synchronize() error {
	return cudaCall(func() { cu.CtxSynchronize() })
}

// Close frees device buffers, then destroys the stream and the context. The
// module is unloaded together with its context.
func (d *cuDriver) Close() error {
	return cudaCall(func() {
		cu.CtxSynchronize()
		cu.MemFree(d.dMidstate)
		cu.MemFree(d.dSolutions)
		cu.MemFree(d.dCount)
		d.stream.Destroy()
		d.ctx.Destroy()
	})
}

func (d *cuDriver) Telemetry() Telemetry {
	var t Telemetry
	if !d.hasNVML {
		return t
	}
	if v, ret := d.nvmlDevice.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
		t.ClockCore = v
	}
	if v, ret := d.nvmlDevice.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
		t.ClockMem = v
	}
	if v, ret := d.nvmlDevice.GetPowerUsage(); ret == nvml.SUCCESS {
		t.PowerWatts = v / 1000
	}
	if v, ret := d.nvmlDevice.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		t.Temperature = v
	}
	if v, ret := d.nvmlDevice.GetFanSpeed(); ret == nvml.SUCCESS {
		t.FanSpeed = v
	}
	return t
}
