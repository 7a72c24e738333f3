// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
)

const (
	HandleLen = 32

	handleIndexOffset   = 21
	handleChainIDOffset = 22
	handleTypeOffset    = 30
	handleVersionOffset = 31

	// HandleVersion is written into the last byte of every handle.
	HandleVersion = 0
)

var handleDomain = []byte("ZK-w_hdl")

// ValueType is the encrypted integer type encoded into a handle.
type ValueType uint8

const (
	TypeBool   ValueType = 0
	TypeUint8  ValueType = 2
	TypeUint16 ValueType = 3
	TypeUint32 ValueType = 4
	TypeUint64 ValueType = 5
)

// Bits returns the plaintext width of the type.
func (t ValueType) Bits() int {
	switch t {
	case TypeBool:
		return 1
	case TypeUint8:
		return 8
	case TypeUint16:
		return 16
	case TypeUint32:
		return 32
	case TypeUint64:
		return 64
	default:
		return 0
	}
}

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint8:
		return "euint8"
	case TypeUint16:
		return "euint16"
	case TypeUint32:
		return "euint32"
	case TypeUint64:
		return "euint64"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Fits reports whether v is representable by the type.
func (t ValueType) Fits(v uint64) bool {
	bits := t.Bits()
	switch {
	case bits == 0:
		return false
	case bits == 64:
		return true
	default:
		return v < 1<<bits
	}
}

// Handle is an opaque on-chain reference to one ciphertext held by the
// coprocessor.
type Handle [HandleLen]byte

// DeriveHandle computes the handle of value [index] of a sealed batch.
// The leading bytes commit to the batch digest, the ACL contract and the
// chain; the trailing bytes carry index, chain id, type and version so a
// handle can be inspected without a coprocessor round trip.
func DeriveHandle(batchDigest common.Hash, index uint32, acl common.Address, chainID uint64, typ ValueType) Handle {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)

	var h Handle
	copy(h[:], crypto.Keccak256(handleDomain, batchDigest[:], idx[:], acl[:], chain[:]))
	h[handleIndexOffset] = byte(index)
	copy(h[handleChainIDOffset:handleTypeOffset], chain[:])
	h[handleTypeOffset] = byte(typ)
	h[handleVersionOffset] = HandleVersion
	return h
}

// HandleFromHash converts a bytes32 ledger value into a handle.
func HandleFromHash(h common.Hash) Handle {
	return Handle(h)
}

// Hash returns the handle as a bytes32 ledger value.
func (h Handle) Hash() common.Hash {
	return common.Hash(h)
}

// Index returns the low byte of the handle's position in its batch.
func (h Handle) Index() uint8 {
	return h[handleIndexOffset]
}

func (h Handle) ChainID() uint64 {
	return binary.BigEndian.Uint64(h[handleChainIDOffset:handleTypeOffset])
}

func (h Handle) Type() ValueType {
	return ValueType(h[handleTypeOffset])
}

func (h Handle) Version() uint8 {
	return h[handleVersionOffset]
}

// IsZero reports whether the handle is uninitialized.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) Hex() string {
	return hexutil.Encode(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Handle", input, h[:])
}

// HandlesFromHashes converts ledger values into handles, preserving order.
func HandlesFromHashes(hashes []common.Hash) []Handle {
	handles := make([]Handle, len(hashes))
	for i, h := range hashes {
		handles[i] = Handle(h)
	}
	return handles
}

// HandlesToBytes32 converts handles into the ABI representation of bytes32[].
func HandlesToBytes32(handles []Handle) [][32]byte {
	out := make([][32]byte, len(handles))
	for i, h := range handles {
		out[i] = h
	}
	return out
}
