package miner

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampIntensity(t *testing.T) {
	assert.Equal(t, DefaultIntensity, ClampIntensity(0))
	assert.Equal(t, DefaultIntensity, ClampIntensity(-3))
	assert.Equal(t, DefaultIntensity, ClampIntensity(math.NaN()))
	assert.Equal(t, 27.5, ClampIntensity(27.5))
	assert.Equal(t, MaxIntensity, ClampIntensity(50))
}

func TestThreads(t *testing.T) {
	assert.Equal(t, uint64(1<<23), Threads(23))
	assert.Equal(t, uint64(1<<23), Threads(0))
	assert.Equal(t, uint64(math.Pow(2, 20.5)), Threads(20.5))
}

func TestLaunchDims(t *testing.T) {
	tests := []struct {
		name      string
		intensity float64
		blockSize uint32
		grid      uint32
		block     uint32
		threads   uint64
	}{
		{"low intensity single block", 10, 1024, 1, 1024, 1024},
		{"exact multiple", 20, 1024, 1024, 1024, 1 << 20},
		{"at threshold block shrinks to a divisor", 16, 1000, 128, 512, 65536},
		{"above threshold rounds down", 16.6, 1000, 99, 1000, 99000},
		{"small kernel block", 12, 96, 64, 64, 4096},
		{"fractional intensity below threshold", 10.5, 1024, 2, 724, 1448},
		{"zero block size", 4, 0, 16, 1, 16},
		{"grid capped at device limit", MaxIntensity, 256, maxGridSize, 256, maxGridSize * 256},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			grid, block, threads := launchDims(tc.intensity, tc.blockSize)
			assert.Equal(t, tc.block, block)
			assert.Equal(t, tc.threads, threads)
			assert.Equal(t, tc.grid, grid)
			assert.Equal(t, uint64(grid)*uint64(block), threads)
		})
	}
}

func TestLaunchDimsCoverClaim(t *testing.T) {
	for _, blockSize := range []uint32{0, 1, 64, 96, 100, 256, 1000, 1024} {
		for intensity := 1.0; intensity <= MaxIntensity; intensity += 0.37 {
			grid, block, threads := launchDims(intensity, blockSize)
			require.NotZero(t, block)
			require.LessOrEqual(t, uint64(grid), uint64(maxGridSize))
			require.Equal(t, uint64(grid)*uint64(block), threads, "intensity %.2f block %d", intensity, blockSize)
		}
	}
}

func TestPlatformMatches(t *testing.T) {
	assert.True(t, platformMatches("nvidia", "NVIDIA CUDA"))
	assert.True(t, platformMatches("amd", "AMD Accelerated Parallel Processing"))
	assert.True(t, platformMatches("AMD", "Advanced Micro Devices, Inc."))
	assert.True(t, platformMatches("intel", "Intel(R) OpenCL HD Graphics"))
	assert.True(t, platformMatches("", "Portable Computing Language"))
	assert.False(t, platformMatches("nvidia", "Intel(R) OpenCL"))
}

func TestBuildOptions(t *testing.T) {
	assert.Equal(t, "-DCUDA_VERSION=500", buildOptions("NVIDIA CUDA", 0))
	assert.Equal(t, "-DCUDA_VERSION=610", buildOptions("NVIDIA CUDA", 610))
	assert.Empty(t, buildOptions("AMD Accelerated Parallel Processing", 610))
}

func TestHashrateAverage(t *testing.T) {
	var h hashrate
	start := time.Unix(1000, 0)
	h.reset(start)

	// first sample is taken as is
	h.add(1000, start.Add(time.Second))
	assert.InDelta(t, 1000.0, h.rate(), 1e-9)

	// second sample averages cumulative rates: 1000 and 3000/2s = 1500
	h.add(2000, start.Add(2*time.Second))
	assert.InDelta(t, 1250.0, h.rate(), 1e-9)

	// a zero elapsed time produces a non-finite sample which is skipped
	var z hashrate
	z.reset(start)
	z.add(10, start)
	assert.Zero(t, z.rate())
}

func TestHashrateFixedWeightAfterWindow(t *testing.T) {
	var h hashrate
	start := time.Unix(0, 0)
	h.reset(start)

	for i := 1; i <= hashrateSamples; i++ {
		h.add(100, start.Add(time.Duration(i)*time.Second))
	}
	assert.InDelta(t, 100.0, h.rate(), 1e-9)

	// after the window a sample moves the average by 1/100 of the difference
	h.add(100+2*uint64(hashrateSamples+1)*100, start.Add(time.Duration(hashrateSamples+1)*time.Second))
	assert.InDelta(t, 100.0+(300.0-100.0)/hashrateSamples, h.rate(), 1e-9)
}

func TestDeviceKindString(t *testing.T) {
	assert.Equal(t, "cpu", KindCPU.String())
	assert.Equal(t, "cuda", KindCUDA.String())
	assert.Equal(t, "opencl", KindOpenCL.String())
	assert.Equal(t, "unknown", DeviceKind(9).String())
}
