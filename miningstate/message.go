// Package miningstate holds the work shared between the pool worker and every solver:
// the current message and midstate, the target, the global nonce cursor and the
// queue of found solutions.
package miningstate

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// ChallengeSize is the size of the pool challenge
	ChallengeSize = 32
	// AddressSize is the size of the pool's ethereum address
	AddressSize = 20
	// NonceAreaSize is the size of the miner-controlled tail of the message
	NonceAreaSize = 32
	// PrefixSize covers challenge ++ pool address, fixed for a given round
	PrefixSize = ChallengeSize + AddressSize
	// MessageSize is the hashed work message:
	// challenge (32 bytes) + pool_address (20 bytes) + nonce area (32 bytes)
	MessageSize = PrefixSize + NonceAreaSize
	// MidstateSize is 25 lanes of 8 bytes
	MidstateSize = 200

	// nonceOffset is where the 8-byte nonce sits inside the nonce area.
	// Bytes before and after it are random salt.
	nonceOffset = 12
	// NonceOffset is the nonce position inside the full message (bytes 64..72)
	NonceOffset = PrefixSize + nonceOffset
)

// NonceArea is the last 32 bytes of the message: 12 bytes salt, 8 bytes nonce, 12 bytes salt
type NonceArea [NonceAreaSize]byte

// WithNonce returns a copy of the area with the nonce field overwritten
func (a NonceArea) WithNonce(nonce uint64) NonceArea {
	binary.LittleEndian.PutUint64(a[nonceOffset:nonceOffset+8], nonce)
	return a
}

// Nonce returns the nonce stored in the area
func (a NonceArea) Nonce() uint64 {
	return binary.LittleEndian.Uint64(a[nonceOffset : nonceOffset+8])
}

// Hex returns the 0x-prefixed encoding submitted to the pool as the share nonce
func (a NonceArea) Hex() string {
	return hexutil.Encode(a[:])
}

// Prefix is challenge ++ pool address
type Prefix [PrefixSize]byte

// Challenge returns the challenge half of the prefix
func (p Prefix) Challenge() [ChallengeSize]byte {
	var c [ChallengeSize]byte
	copy(c[:], p[:ChallengeSize])
	return c
}

// Message is the 84-byte keccak input with each region as its own field
type Message struct {
	Challenge   [ChallengeSize]byte
	PoolAddress [AddressSize]byte
	Nonce       NonceArea
}

// Bytes lays the message out in hashing order
func (m Message) Bytes() [MessageSize]byte {
	var b [MessageSize]byte
	copy(b[:ChallengeSize], m.Challenge[:])
	copy(b[ChallengeSize:PrefixSize], m.PoolAddress[:])
	copy(b[PrefixSize:], m.Nonce[:])
	return b
}

// Prefix returns challenge ++ pool address
func (m Message) Prefix() Prefix {
	var p Prefix
	copy(p[:ChallengeSize], m.Challenge[:])
	copy(p[ChallengeSize:], m.PoolAddress[:])
	return p
}

// WithPrefix returns a copy of the message carrying the given challenge and pool address
func (m Message) WithPrefix(p Prefix) Message {
	copy(m.Challenge[:], p[:ChallengeSize])
	copy(m.PoolAddress[:], p[ChallengeSize:])
	return m
}

// WithNonce returns a copy of the message with the nonce field overwritten
func (m Message) WithNonce(nonce uint64) Message {
	m.Nonce = m.Nonce.WithNonce(nonce)
	return m
}

// Digest computes keccak256 over the laid-out message
func (m Message) Digest() [32]byte {
	b := m.Bytes()
	return crypto.Keccak256Hash(b[:])
}

// MessageFromBytes splits a laid-out message into its fields
func MessageFromBytes(b [MessageSize]byte) Message {
	var m Message
	copy(m.Challenge[:], b[:ChallengeSize])
	copy(m.PoolAddress[:], b[ChallengeSize:PrefixSize])
	copy(m.Nonce[:], b[PrefixSize:])
	return m
}
