// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/signer/core/apitypes"
)

// Transport carries instance requests to a coprocessor.
type Transport interface {
	EncryptInput(ctx context.Context, req *InputRequest) (*EncryptedInput, error)
	UserDecrypt(ctx context.Context, payload *UserDecryptPayload) (UserDecryptResult, error)
}

var _ Instance = (*instance)(nil)

type instance struct {
	chainID     uint64
	kmsVerifier common.Address
	keys        KeyMaterial
	transport   Transport
}

// NewInstance returns an Instance for [chainID] that seals inputs to [keys]
// and signs decryption requests for [kmsVerifier].
func NewInstance(chainID uint64, kmsVerifier common.Address, keys KeyMaterial, transport Transport) Instance {
	return &instance{
		chainID:     chainID,
		kmsVerifier: kmsVerifier,
		keys:        keys,
		transport:   transport,
	}
}

func (i *instance) CreateEncryptedInput(contract, user common.Address) InputBuilder {
	return NewInputBuilder(i.chainID, i.keys.PublicKey, contract, user, i.transport.EncryptInput)
}

func (i *instance) UserDecrypt(ctx context.Context, req *UserDecryptRequest) (map[Handle]*uint256.Int, error) {
	result, err := i.transport.UserDecrypt(ctx, req.Payload())
	if err != nil {
		return nil, err
	}
	values, err := OpenResults(req.PrivateKey, result)
	if err != nil {
		return nil, err
	}
	for h := range values {
		if !containsHandle(req.Pairs, h) {
			return nil, fmt.Errorf("%w: unrequested handle %s in result", ErrInvalidHandle, h)
		}
	}
	return values, nil
}

func containsHandle(pairs []HandleContractPair, h Handle) bool {
	for _, p := range pairs {
		if p.Handle == h {
			return true
		}
	}
	return false
}

func (*instance) GenerateKeypair() (*KeyPair, error) {
	return NewKeyPair()
}

func (i *instance) CreateEIP712(
	publicKey []byte,
	contracts []common.Address,
	startTimestamp uint64,
	durationDays uint64,
) apitypes.TypedData {
	return NewUserDecryptTypedData(i.chainID, i.kmsVerifier, publicKey, contracts, startTimestamp, durationDays)
}

func (i *instance) PublicKey() []byte {
	return i.keys.PublicKey
}

func (i *instance) PublicParams() []byte {
	return i.keys.PublicParams
}

func (i *instance) ChainID() uint64 {
	return i.chainID
}
