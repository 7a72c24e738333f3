// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe provides the client-side Fully Homomorphic Encryption session
// objects: encrypted input builders, ciphertext handles, input proofs and
// user decryption requests. Ciphertexts never leave the coprocessor; the
// ledger and the client only ever see handles.
package fhe

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/signer/core/apitypes"
)

// Instance is a stateful FHE session bound to one chain.
type Instance interface {
	// CreateEncryptedInput returns a builder whose batch is bound to the
	// (contract, user) pair. All values added to one builder share a single
	// input proof.
	CreateEncryptedInput(contract, user common.Address) InputBuilder

	// UserDecrypt asks the coprocessor to re-encrypt every handle of the
	// request to the caller's key pair and opens the results locally.
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) (map[Handle]*uint256.Int, error)

	// GenerateKeypair creates the transport key pair used for user decryption.
	GenerateKeypair() (*KeyPair, error)

	// CreateEIP712 builds the structured message the user signs to authorize
	// decryption of handles held by [contracts].
	CreateEIP712(publicKey []byte, contracts []common.Address, startTimestamp, durationDays uint64) apitypes.TypedData

	// PublicKey returns the network encryption key the instance seals inputs to.
	PublicKey() []byte

	// PublicParams returns the public parameters distributed with the key.
	PublicParams() []byte

	ChainID() uint64
}

// InputBuilder collects cleartext values for one encrypted batch.
type InputBuilder interface {
	Add8(v uint8) InputBuilder
	Add16(v uint16) InputBuilder
	Add32(v uint32) InputBuilder
	Add64(v uint64) InputBuilder

	// Len returns the number of values added so far.
	Len() int

	// Encrypt seals the batch and exchanges it for handles and one proof.
	Encrypt(ctx context.Context) (*EncryptedInput, error)
}

// EncryptedInput is the result of one batch encryption.
type EncryptedInput struct {
	Handles    []Handle      `json:"handles"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

// HandleContractPair names a handle and the contract that holds it.
type HandleContractPair struct {
	Handle          Handle         `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

// UserDecryptRequest carries everything needed to decrypt a set of handles on
// behalf of UserAddress. PrivateKey never leaves the client.
type UserDecryptRequest struct {
	Pairs             []HandleContractPair
	PrivateKey        []byte
	PublicKey         []byte
	Signature         []byte
	ContractAddresses []common.Address
	UserAddress       common.Address
	StartTimestamp    uint64
	DurationDays      uint64
}

// Payload returns the wire form of the request, without the private key.
func (r *UserDecryptRequest) Payload() *UserDecryptPayload {
	return &UserDecryptPayload{
		HandleContractPairs: r.Pairs,
		PublicKey:           r.PublicKey,
		Signature:           r.Signature,
		ContractAddresses:   r.ContractAddresses,
		UserAddress:         r.UserAddress,
		StartTimestamp:      hexutil.Uint64(r.StartTimestamp),
		DurationDays:        hexutil.Uint64(r.DurationDays),
	}
}

// UserDecryptPayload is sent to the coprocessor or relayer gateway.
type UserDecryptPayload struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	PublicKey           hexutil.Bytes        `json:"publicKey"`
	Signature           hexutil.Bytes        `json:"signature"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	StartTimestamp      hexutil.Uint64       `json:"startTimestamp"`
	DurationDays        hexutil.Uint64       `json:"durationDays"`
}

// UserDecryptResult maps each handle to its cleartext sealed to the
// request's public key.
type UserDecryptResult map[Handle]hexutil.Bytes

// KeyMaterial is the network encryption key and its public parameters.
type KeyMaterial struct {
	PublicKey    hexutil.Bytes `json:"publicKey"`
	PublicParams hexutil.Bytes `json:"publicParams"`
}

// Metadata is the coprocessor contract set advertised by a development node.
type Metadata struct {
	ACLAddress           string `json:"ACLAddress"`
	InputVerifierAddress string `json:"InputVerifierAddress"`
	KMSVerifierAddress   string `json:"KMSVerifierAddress"`
}

var (
	// ErrEmptyInput is returned when encrypting a builder with no values.
	ErrEmptyInput = errors.New("encrypted input has no values")

	// ErrInvalidProof is returned when an input proof is malformed or does
	// not match its handles.
	ErrInvalidProof = errors.New("invalid input proof")

	// ErrInvalidCiphertext is returned when sealed data cannot be opened.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrInvalidHandle is returned for handles that do not decode.
	ErrInvalidHandle = errors.New("invalid handle")
)
