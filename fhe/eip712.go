// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"fmt"
	"math/big"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/common/math"
	"github.com/luxfi/geth/signer/core/apitypes"
)

const (
	EIP712DomainName    = "Decryption"
	EIP712DomainVersion = "1"

	// UserDecryptPrimaryType is the primary type of the authorization message.
	UserDecryptPrimaryType = "UserDecryptRequestVerification"
)

// NewUserDecryptTypedData builds the structured message binding a transport
// public key to a contract set and a validity window.
func NewUserDecryptTypedData(
	chainID uint64,
	verifyingContract common.Address,
	publicKey []byte,
	contracts []common.Address,
	startTimestamp uint64,
	durationDays uint64,
) apitypes.TypedData {
	addresses := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addresses[i] = c.Hex()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			UserDecryptPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: UserDecryptPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              EIP712DomainName,
			Version:           EIP712DomainVersion,
			ChainId:           math.NewHexOrDecimal256(int64(chainID)),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": addresses,
			"startTimestamp":    new(big.Int).SetUint64(startTimestamp),
			"durationDays":      new(big.Int).SetUint64(durationDays),
			"extraData":         "0x",
		},
	}
}

// TypedDataHash returns the EIP-712 digest of [td].
func TypedDataHash(td apitypes.TypedData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// RecoverTypedDataSigner returns the address that produced [sig] over [td].
// Both 0/1 and 27/28 recovery ids are accepted.
func RecoverTypedDataSigner(td apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLen {
		return common.Address{}, fmt.Errorf("signature has length %d, expected %d", len(sig), SignatureLen)
	}
	hash, err := TypedDataHash(td)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash[:], normalizeV(sig))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return common.Address(crypto.PubkeyToAddress(*pub)), nil
}
