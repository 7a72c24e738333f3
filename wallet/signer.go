// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/accounts"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/signer/core/apitypes"
)

// ErrRejected is returned by signers whose owner refused a signature request.
var ErrRejected = errors.New("user rejected the signature request")

// Signer is the account a session acts as.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// SignTypedData signs the EIP-712 digest of [td]. The recovery id is 27/28.
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
	// SignText signs [text] with the personal message prefix.
	SignText(ctx context.Context, text []byte) ([]byte, error)
}

// Provider is the chain connection a signer is attached to.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Signer = (*KeySigner)(nil)

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(pk string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(pk, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySignerFromECDSA(key), nil
}

func NewKeySignerFromECDSA(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: common.Address(crypto.PubkeyToAddress(key.PublicKey)),
	}
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func (s *KeySigner) SignTypedData(_ context.Context, td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return s.sign(hash)
}

func (s *KeySigner) SignText(_ context.Context, text []byte) ([]byte, error) {
	return s.sign(accounts.TextHash(text))
}

func (s *KeySigner) sign(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverText returns the address that produced a SignText signature.
func RecoverText(text, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature has length %d, expected %d", len(sig), crypto.SignatureLength)
	}
	normalized := common.CopyBytes(sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(text), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return common.Address(crypto.PubkeyToAddress(*pub)), nil
}
