package miner

import "math"

const (
	// DefaultIntensity is used for GPUs without a configured intensity
	DefaultIntensity = 23.0
	// MaxIntensity keeps 2^intensity work items inside 64 bits with headroom
	MaxIntensity = 41.99

	// roundingIntensity is where thread counts start being trimmed to whole blocks
	roundingIntensity = 16

	// maxGridSize is the CUDA limit on grid x dimension
	maxGridSize = 1<<31 - 1

	// maxSolutions is the capacity of the device solution buffer
	maxSolutions = 256
)

// ClampIntensity bounds an intensity to (0, MaxIntensity]. Non-positive values select the default.
func ClampIntensity(intensity float64) float64 {
	if intensity <= 0 || math.IsNaN(intensity) {
		return DefaultIntensity
	}
	return math.Min(intensity, MaxIntensity)
}

// Threads is the number of work items per launch for an intensity
func Threads(intensity float64) uint64 {
	return uint64(math.Pow(2, ClampIntensity(intensity)))
}

// launchDims derives grid and block sizes from the kernel's block size. The returned
// thread count is always grid*block, so a launch covers exactly the nonces it claims.
// Up to roundingIntensity the block shrinks to a divisor of the thread count; above
// it the thread count is rounded down to a whole number of blocks. The grid never
// exceeds maxGridSize.
func launchDims(intensity float64, blockSize uint32) (grid, block uint32, threads uint64) {
	if blockSize == 0 {
		blockSize = 1
	}
	threads = Threads(intensity)
	b := uint64(blockSize)
	if b > threads {
		b = threads
	}
	if ClampIntensity(intensity) <= roundingIntensity {
		for threads%b != 0 {
			b--
		}
	}

	g := threads / b
	if g > maxGridSize {
		g = maxGridSize
	}
	return uint32(g), uint32(b), g * b
}
