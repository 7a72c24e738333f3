// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package mock creates FHE instances backed by the simulated coprocessor of a
// local development node.
package mock

import (
	"context"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/utils"
)

const (
	publicKeyMethod    = "fhevm_publicKey"
	encryptInputMethod = "fhevm_encryptInput"
	userDecryptMethod  = "fhevm_userDecrypt"
)

type transport struct {
	client *rpc.Client
}

func (t *transport) EncryptInput(ctx context.Context, req *fhe.InputRequest) (*fhe.EncryptedInput, error) {
	var res fhe.EncryptedInput
	if err := t.client.CallContext(ctx, &res, encryptInputMethod, req); err != nil {
		return nil, fmt.Errorf("%s failed: %w", encryptInputMethod, err)
	}
	return &res, nil
}

func (t *transport) UserDecrypt(ctx context.Context, payload *fhe.UserDecryptPayload) (fhe.UserDecryptResult, error) {
	var res fhe.UserDecryptResult
	if err := t.client.CallContext(ctx, &res, userDecryptMethod, payload); err != nil {
		return nil, fmt.Errorf("%s failed: %w", userDecryptMethod, err)
	}
	return res, nil
}

// NewInstance fetches the network key from the node behind [client] and
// returns an instance bound to it. [metadata] must already be validated.
func NewInstance(
	ctx context.Context,
	client *rpc.Client,
	chainID uint64,
	metadata fhe.Metadata,
) (fhe.Instance, error) {
	callCtx, cancel := context.WithTimeout(ctx, utils.DefaultRPCTimeout)
	defer cancel()

	var keys fhe.KeyMaterial
	if err := client.CallContext(callCtx, &keys, publicKeyMethod); err != nil {
		return nil, fmt.Errorf("%s failed: %w", publicKeyMethod, err)
	}
	if len(keys.PublicKey) == 0 {
		return nil, fmt.Errorf("%s returned no key", publicKeyMethod)
	}
	return fhe.NewInstance(
		chainID,
		common.HexToAddress(metadata.KMSVerifierAddress),
		keys,
		&transport{client: client},
	), nil
}
