//go:build !cuda || !linux
// +build !cuda !linux

/*
 * Stub CUDA driver for builds without CUDA support
 * When CUDA is not available, these functions return ErrCUDAUnavailable
 */

package miner

// CUDADeviceCount returns an error when CUDA is not available
func CUDADeviceCount() (int, error) {
	return 0, ErrCUDAUnavailable
}

// ListCUDADevices returns an error when CUDA is not available
func ListCUDADevices() ([]DeviceInfo, error) {
	return nil, ErrCUDAUnavailable
}

func openCUDADriver(index int, kernelPath string) (cudaDriver, error) {
	return nil, ErrCUDAUnavailable
}
