package miningstate

import (
	"encoding/binary"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ErrUnsupportedToken is returned for token names without a known maximum target
var ErrUnsupportedToken = errors.New("unsupported token")

// DefaultToken is used when no token is configured
const DefaultToken = "0xBitcoin"

var maxTargetBits = map[string]uint{
	"0xbitcoin":  234,
	"0xbtc":      234,
	"0xcate":     224,
	"0xcatether": 224,
}

// MaximumTarget returns the difficulty-1 target for a token (case-insensitive)
func MaximumTarget(token string) (*uint256.Int, error) {
	bits, ok := maxTargetBits[strings.ToLower(token)]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedToken, "token %q", token)
	}
	return new(uint256.Int).Lsh(uint256.NewInt(1), bits), nil
}

// DifficultyToTarget computes max / diff. Zero difficulty yields the maximum target.
func DifficultyToTarget(maxTarget *uint256.Int, diff uint64) *uint256.Int {
	if diff == 0 {
		return new(uint256.Int).Set(maxTarget)
	}
	return new(uint256.Int).Div(maxTarget, uint256.NewInt(diff))
}

// DigestToInt reads a keccak digest as a big-endian 256-bit integer
func DigestToInt(digest [32]byte) *uint256.Int {
	return new(uint256.Int).SetBytes32(digest[:])
}

// DifficultyProof is max / digest - 1, the effective difficulty a share proves.
// It saturates at zero for digests above the maximum target.
func DifficultyProof(maxTarget *uint256.Int, digest [32]byte) *uint256.Int {
	d := DigestToInt(digest)
	if d.IsZero() {
		return new(uint256.Int).SetAllOne()
	}
	q := new(uint256.Int).Div(maxTarget, d)
	if q.IsZero() {
		return q
	}
	return q.SubUint64(q, 1)
}

// MeetsTarget reports whether the digest does not exceed the target
func MeetsTarget(digest [32]byte, target *uint256.Int) bool {
	return !DigestToInt(digest).Gt(target)
}

// FastTarget is the most significant 64 bits of the target, the value kernels compare against
func FastTarget(target *uint256.Int) uint64 {
	return target[3]
}

// LeadingWord returns the first 8 digest bytes as a big-endian integer
func LeadingWord(digest []byte) uint64 {
	return binary.BigEndian.Uint64(digest[:8])
}
