// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/rand"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/crypto/ecies"
	"github.com/luxfi/geth/common/hexutil"
)

// KeyPair is the transport key pair a user decryption result is sealed to.
// Both halves are kept hex encoded so the pair can be persisted as text.
type KeyPair struct {
	PublicKey  hexutil.Bytes `json:"publicKey"`
	PrivateKey hexutil.Bytes `json:"privateKey"`
}

// NewKeyPair generates a fresh secp256k1 key pair.
func NewKeyPair() (*KeyPair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PublicKey:  crypto.FromECDSAPub(&key.PublicKey),
		PrivateKey: crypto.FromECDSA(key),
	}, nil
}

// Seal encrypts plaintext to an uncompressed secp256k1 public key. [shared]
// is authenticated but not encrypted and must be presented again to Open.
func Seal(publicKey, plaintext, shared []byte) ([]byte, error) {
	pub, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), plaintext, shared, nil)
}

// Open decrypts data produced by Seal.
func Open(privateKey, ciphertext, shared []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	plaintext, err := ecies.ImportECDSA(key).Decrypt(ciphertext, shared, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

// SealCleartext seals a 256-bit cleartext for [h] to publicKey.
func SealCleartext(publicKey []byte, h Handle, value *uint256.Int) ([]byte, error) {
	word := value.Bytes32()
	return Seal(publicKey, word[:], h[:])
}

// OpenResults opens every sealed cleartext in [result].
func OpenResults(privateKey []byte, result UserDecryptResult) (map[Handle]*uint256.Int, error) {
	out := make(map[Handle]*uint256.Int, len(result))
	for h, sealed := range result {
		word, err := Open(privateKey, sealed, h[:])
		if err != nil {
			return nil, fmt.Errorf("failed to open cleartext for handle %s: %w", h, err)
		}
		if len(word) != 32 {
			return nil, fmt.Errorf("%w: cleartext for handle %s is %d bytes", ErrInvalidCiphertext, h, len(word))
		}
		out[h] = new(uint256.Int).SetBytes(word)
	}
	return out, nil
}
