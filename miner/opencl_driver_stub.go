//go:build !opencl
// +build !opencl

/*
 * Stub OpenCL driver for builds without OpenCL support
 */

package miner

// ListOpenCLDevices returns an error when OpenCL is not available
func ListOpenCLDevices() ([]DeviceInfo, error) {
	return nil, ErrOpenCLUnavailable
}

func openCLDriver(opts OpenCLOptions) (clDriver, error) {
	return nil, ErrOpenCLUnavailable
}
