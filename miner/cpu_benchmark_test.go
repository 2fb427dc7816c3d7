package miner

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/cloudflare/circl/simd/keccakf1600"
	"github.com/hadv/powminer/miningstate"
	"golang.org/x/crypto/sha3"
)

// setupBenchmarkMessage creates a realistic work message for benchmarking
func setupBenchmarkMessage() miningstate.Message {
	var m miningstate.Message

	// Sample challenge
	challenge := [32]byte{
		0x74, 0x7d, 0xd6, 0x3d, 0xfa, 0xe9, 0x91, 0x11,
		0x7d, 0xeb, 0xeb, 0x00, 0x8f, 0x2f, 0xb0, 0x53,
		0x3b, 0xb5, 0x9a, 0x6e, 0xee, 0x74, 0xba, 0x0e,
		0x19, 0x7e, 0x21, 0x09, 0x9d, 0x03, 0x4c, 0x7a,
	}

	// Pool contract address
	pool := [20]byte{
		0x18, 0xEe, 0x4C, 0x04, 0x05, 0x68, 0x23, 0x86,
		0x43, 0xC0, 0x7e, 0x7a, 0xFd, 0x6c, 0x53, 0xef,
		0xc1, 0x96, 0xD2, 0x6b,
	}

	m.Challenge = challenge
	m.PoolAddress = pool
	for i := range m.Nonce {
		m.Nonce[i] = byte(0xa0 + i)
	}
	return m
}

// BenchmarkHashOnly benchmarks hashing with an allocating Sum
func BenchmarkHashOnly(b *testing.B) {
	data := setupBenchmarkMessage().WithNonce(0).Bytes()
	hasher := sha3.NewLegacyKeccak256()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data[miningstate.NonceOffset] = byte(i)
		hasher.Reset()
		hasher.Write(data[:])
		_ = hasher.Sum(nil)
	}
}

// BenchmarkHashZeroAlloc benchmarks the solver's hash path
func BenchmarkHashZeroAlloc(b *testing.B) {
	data := setupBenchmarkMessage().Bytes()
	hasher := sha3.NewLegacyKeccak256()
	var hashBuf [32]byte

	b.SetBytes(miningstate.MessageSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hashNonce(hasher, &data, uint64(i), &hashBuf)
	}
}

// BenchmarkSearchSpaceClaim benchmarks the shared nonce cursor under contention
func BenchmarkSearchSpaceClaim(b *testing.B) {
	state, err := miningstate.New(miningstate.Options{})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = state.GetIncSearchSpace(1)
		}
	})
}

// BenchmarkSIMDKeccakX4 benchmarks the 4-way SIMD Keccak (per batch of 4 hashes)
func BenchmarkSIMDKeccakX4(b *testing.B) {
	if !SIMDAvailable() {
		b.Skip("SIMD not available on this platform")
	}

	words := messageWords(setupBenchmarkMessage())
	var perm keccakf1600.StateX4
	var nonces [simdLanes]uint64
	var hashes [simdLanes][32]byte

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range nonces {
			nonces[j] = uint64(i*simdLanes + j)
		}
		keccak256x4(&perm, &words, &nonces, &hashes)
	}
	// Report as 4 hashes per operation
	b.ReportMetric(float64(b.N*4)/b.Elapsed().Seconds()/1_000_000, "MH/s")
}

// BenchmarkThroughputComparison compares hash throughput between standard and SIMD
func BenchmarkThroughputComparison(b *testing.B) {
	msg := setupBenchmarkMessage()

	b.Run("Standard_SingleThread", func(b *testing.B) {
		data := msg.Bytes()
		hasher := sha3.NewLegacyKeccak256()
		var hashBuf [32]byte

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			hashNonce(hasher, &data, uint64(i), &hashBuf)
		}
		b.ReportMetric(float64(b.N)/b.Elapsed().Seconds()/1_000_000, "MH/s")
	})

	b.Run("SIMD_SingleThread", func(b *testing.B) {
		if !SIMDAvailable() {
			b.Skip("SIMD not available on this platform")
		}

		words := messageWords(msg)
		var perm keccakf1600.StateX4
		var nonces [simdLanes]uint64
		var hashes [simdLanes][32]byte

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			for j := range nonces {
				nonces[j] = uint64(i*simdLanes + j)
			}
			keccak256x4(&perm, &words, &nonces, &hashes)
		}
		// Each iteration produces 4 hashes
		b.ReportMetric(float64(b.N*4)/b.Elapsed().Seconds()/1_000_000, "MH/s")
	})

	b.Run("Standard_Parallel", func(b *testing.B) {
		b.RunParallel(func(pb *testing.PB) {
			data := msg.Bytes()
			hasher := sha3.NewLegacyKeccak256()
			var hashBuf [32]byte
			var nonce uint64

			for pb.Next() {
				nonce++
				hashNonce(hasher, &data, nonce, &hashBuf)
			}
		})
		b.ReportMetric(float64(b.N)/b.Elapsed().Seconds()/1_000_000, "MH/s")
	})
}

// TestHashNonceCorrectness verifies the zero-alloc path against the message digest
func TestHashNonceCorrectness(t *testing.T) {
	msg := setupBenchmarkMessage()
	data := msg.Bytes()
	hasher := sha3.NewLegacyKeccak256()
	var hashBuf [32]byte

	for _, nonce := range []uint64{0, 1, 0xffffffff, 0xdeadbeefcafebabe} {
		hashNonce(hasher, &data, nonce, &hashBuf)
		want := msg.WithNonce(nonce).Digest()
		if !bytes.Equal(hashBuf[:], want[:]) {
			t.Errorf("nonce %d: got %s, want %s", nonce, hex.EncodeToString(hashBuf[:]), hex.EncodeToString(want[:]))
		}
	}

	// salt bytes around the nonce are untouched
	if !bytes.Equal(data[miningstate.PrefixSize:miningstate.NonceOffset], msg.Nonce[:12]) {
		t.Errorf("salt before nonce was modified")
	}
	if !bytes.Equal(data[miningstate.NonceOffset+8:], msg.Nonce[20:]) {
		t.Errorf("salt after nonce was modified")
	}
}

// TestKeccak256x4Correctness verifies every lane against the scalar digest
func TestKeccak256x4Correctness(t *testing.T) {
	if !SIMDAvailable() {
		t.Skip("SIMD not available on this platform")
	}

	msg := setupBenchmarkMessage()
	words := messageWords(msg)
	var perm keccakf1600.StateX4
	var hashes [simdLanes][32]byte

	// run twice so the second call starts from a dirty permutation state
	for _, base := range []uint64{1000, 77777} {
		nonces := [simdLanes]uint64{base, base + 1, base + 2, base + 3}
		keccak256x4(&perm, &words, &nonces, &hashes)

		for lane, nonce := range nonces {
			want := msg.WithNonce(nonce).Digest()
			if !bytes.Equal(hashes[lane][:], want[:]) {
				t.Errorf("lane %d nonce %d: got %s, want %s", lane, nonce,
					hex.EncodeToString(hashes[lane][:]), hex.EncodeToString(want[:]))
			}
		}
	}
}
