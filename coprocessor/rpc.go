// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package coprocessor

import (
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/fhe"
)

// ClientVersion is what the development node answers to web3_clientVersion.
// Mock clients look for the "hardhat" marker.
const ClientVersion = "HardhatNetwork/2.22.19/manuscript-devnode/go"

type web3API struct{}

func (web3API) ClientVersion() string {
	return ClientVersion
}

type ethAPI struct {
	chainID uint64
}

func (api *ethAPI) ChainId() hexutil.Uint64 {
	return hexutil.Uint64(api.chainID)
}

// FhevmAPI is the "fhevm" JSON-RPC namespace of the development node.
type FhevmAPI struct {
	engine *Engine
}

// Relayer_metadata serves fhevm_relayer_metadata.
func (api *FhevmAPI) Relayer_metadata() fhe.Metadata {
	return api.engine.Metadata()
}

func (api *FhevmAPI) PublicKey() *fhe.KeyMaterial {
	return api.engine.KeyMaterial()
}

func (api *FhevmAPI) EncryptInput(req fhe.InputRequest) (*fhe.EncryptedInput, error) {
	return api.engine.EncryptInput(&req)
}

func (api *FhevmAPI) UserDecrypt(payload fhe.UserDecryptPayload) (fhe.UserDecryptResult, error) {
	return api.engine.UserDecrypt(&payload)
}

// RegisterAPIs exposes the web3, eth and fhevm namespaces of [engine] on
// [srv].
func RegisterAPIs(srv *rpc.Server, engine *Engine) error {
	if err := srv.RegisterName("web3", web3API{}); err != nil {
		return err
	}
	if err := srv.RegisterName("eth", &ethAPI{chainID: engine.ChainID()}); err != nil {
		return err
	}
	return srv.RegisterName("fhevm", &FhevmAPI{engine: engine})
}
