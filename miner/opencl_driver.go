//go:build opencl
// +build opencl

/*
 * OpenCL device driver
 * Requires an OpenCL 1.2 runtime and a kernel source file exporting "hashMidstate":
 *
 *   __kernel void hashMidstate(__constant ulong *midstate, ulong target, ulong base,
 *                              __global ulong *solutions, __global uint *solutionCount)
 *
 * Build with: go build -tags opencl
 */

package miner

import (
	"os"
	"unsafe"

	"github.com/hadv/powminer/miningstate"
	cl "github.com/jgillich/go-opencl/cl"
	"github.com/pkg/errors"
)

const clKernelName = "hashMidstate"

// ListOpenCLDevices returns every device of every OpenCL platform
func ListOpenCLDevices() ([]DeviceInfo, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get platforms")
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms found")
	}

	var out []DeviceInfo
	for _, p := range platforms {
		devices, err := p.GetDevices(cl.DeviceTypeAll)
		if err != nil {
			continue
		}
		for i, d := range devices {
			out = append(out, DeviceInfo{
				Kind:         KindOpenCL,
				Platform:     p.Name(),
				Index:        i,
				Name:         d.Name(),
				Vendor:       d.Vendor(),
				ComputeUnits: d.MaxComputeUnits(),
				MaxWorkSize:  d.MaxWorkGroupSize(),
				TotalMemory:  uint64(d.GlobalMemSize()),
			})
		}
	}
	return out, nil
}

type clDevice struct {
	name    string
	device  *cl.Device
	context *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program
	kernel  *cl.Kernel
	wgSize  uint32

	midstate  *cl.MemObject
	solutions *cl.MemObject
	count     *cl.MemObject

	countBuf    uint32
	solutionBuf [maxSolutions]uint64
}

func findCLDevice(platform string, index int) (*cl.Platform, *cl.Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get platforms")
	}
	for _, p := range platforms {
		if !platformMatches(platform, p.Name()) {
			continue
		}
		devices, err := p.GetDevices(cl.DeviceTypeAll)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to get devices of %s", p.Name())
		}
		if index < 0 || index >= len(devices) {
			return nil, nil, errors.Errorf("platform %s has %d devices, index %d requested", p.Name(), len(devices), index)
		}
		return p, devices[index], nil
	}
	return nil, nil, errors.Errorf("no OpenCL platform matching %q", platform)
}

func openCLDriver(opts OpenCLOptions) (clDriver, error) {
	source, err := os.ReadFile(opts.KernelPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read OpenCL kernel")
	}

	platform, device, err := findCLDevice(opts.Platform, opts.Device)
	if err != nil {
		return nil, err
	}

	d := &clDevice{name: device.Name(), device: device}
	if err := d.init(string(source), buildOptions(platform.Name(), opts.ComputeVersion)); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *clDevice) init(source, options string) error {
	var err error
	if d.context, err = cl.CreateContext([]*cl.Device{d.device}); err != nil {
		return errors.Wrap(err, "failed to create context")
	}
	if d.queue, err = d.context.CreateCommandQueue(d.device, 0); err != nil {
		return errors.Wrap(err, "failed to create command queue")
	}
	if d.program, err = d.context.CreateProgramWithSource([]string{source}); err != nil {
		return errors.Wrap(err, "failed to create program")
	}
	// the error of a failed build carries the compiler log
	if err = d.program.BuildProgram([]*cl.Device{d.device}, options); err != nil {
		return errors.Wrap(err, "failed to build program")
	}
	if d.kernel, err = d.program.CreateKernel(clKernelName); err != nil {
		return errors.Wrap(err, "failed to create kernel")
	}

	wg, err := d.kernel.WorkGroupSize(d.device)
	if err != nil {
		return errors.Wrap(err, "failed to query work group size")
	}
	d.wgSize = uint32(wg)

	if d.midstate, err = d.context.CreateEmptyBuffer(cl.MemReadOnly, miningstate.MidstateSize); err != nil {
		return errors.Wrap(err, "failed to create midstate buffer")
	}
	if d.solutions, err = d.context.CreateEmptyBuffer(cl.MemReadWrite, maxSolutions*8); err != nil {
		return errors.Wrap(err, "failed to create solutions buffer")
	}
	if d.count, err = d.context.CreateEmptyBuffer(cl.MemReadWrite, 4); err != nil {
		return errors.Wrap(err, "failed to create solution count buffer")
	}

	if err = d.kernel.SetArgBuffer(0, d.midstate); err != nil {
		return errors.Wrap(err, "failed to set kernel arg 0")
	}
	if err = d.kernel.SetArgBuffer(3, d.solutions); err != nil {
		return errors.Wrap(err, "failed to set kernel arg 3")
	}
	if err = d.kernel.SetArgBuffer(4, d.count); err != nil {
		return errors.Wrap(err, "failed to set kernel arg 4")
	}
	return d.ResetSolutionCount()
}

func (d *clDevice) Name() string          { return d.name }
func (d *clDevice) WorkGroupSize() uint32 { return d.wgSize }

func (d *clDevice) WriteMidstate(midstate [miningstate.MidstateSize]byte) error {
	_, err := d.queue.EnqueueWriteBuffer(d.midstate, true, 0, miningstate.MidstateSize, unsafe.Pointer(&midstate[0]), nil)
	return err
}

func (d *clDevice) SetTarget(target uint64) error {
	return d.kernel.SetArgUnsafe(1, 8, unsafe.Pointer(&target))
}

func (d *clDevice) SetNonceBase(base uint64) error {
	return d.kernel.SetArgUnsafe(2, 8, unsafe.Pointer(&base))
}

func (d *clDevice) Enqueue(global uint64, local uint32) error {
	_, err := d.queue.EnqueueNDRangeKernel(d.kernel, nil, []int{int(global)}, []int{int(local)}, nil)
	return err
}

func (d *clDevice) ReadSolutionCount() (uint32, error) {
	_, err := d.queue.EnqueueReadBuffer(d.count, true, 0, 4, unsafe.Pointer(&d.countBuf), nil)
	return d.countBuf, err
}

func (d *clDevice) ReadSolutions(n uint32) ([]uint64, error) {
	if n == 0 {
		return nil, nil
	}
	if _, err := d.queue.EnqueueReadBuffer(d.solutions, true, 0, int(n)*8, unsafe.Pointer(&d.solutionBuf[0]), nil); err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	copy(out, d.solutionBuf[:n])
	return out, nil
}

func (d *clDevice) ResetSolutionCount() error {
	var zero uint32
	_, err := d.queue.EnqueueWriteBuffer(d.count, true, 0, 4, unsafe.Pointer(&zero), nil)
	return err
}

func (d *clDevice) Close() error {
	var err error
	if d.queue != nil {
		err = d.queue.Finish()
	}
	for _, m := range []*cl.MemObject{d.midstate, d.solutions, d.count} {
		if m != nil {
			m.Release()
		}
	}
	if d.kernel != nil {
		d.kernel.Release()
	}
	if d.program != nil {
		d.program.Release()
	}
	if d.queue != nil {
		d.queue.Release()
	}
	if d.context != nil {
		d.context.Release()
	}
	return err
}
