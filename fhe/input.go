// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
)

const inputValueLen = 9

// InputValue is one cleartext of a batch before sealing.
type InputValue struct {
	Type  ValueType
	Value uint64
}

// InputRequest is what a builder hands to the coprocessor: the sealed batch
// and the binding it was sealed under.
type InputRequest struct {
	ChainID         hexutil.Uint64 `json:"contractChainId"`
	ContractAddress common.Address `json:"contractAddress"`
	UserAddress     common.Address `json:"userAddress"`
	Ciphertext      hexutil.Bytes  `json:"ciphertextWithInputVerification"`
}

// InputSubmitter exchanges a sealed batch for handles and a proof.
type InputSubmitter func(ctx context.Context, req *InputRequest) (*EncryptedInput, error)

// EncodeInputValues packs values as type byte followed by a big-endian uint64.
func EncodeInputValues(values []InputValue) []byte {
	out := make([]byte, 0, len(values)*inputValueLen)
	for _, v := range values {
		out = append(out, byte(v.Type))
		out = binary.BigEndian.AppendUint64(out, v.Value)
	}
	return out
}

// DecodeInputValues reverses EncodeInputValues.
func DecodeInputValues(b []byte) ([]InputValue, error) {
	if len(b) == 0 || len(b)%inputValueLen != 0 {
		return nil, fmt.Errorf("%w: packed values have length %d", ErrInvalidCiphertext, len(b))
	}
	values := make([]InputValue, len(b)/inputValueLen)
	for i := range values {
		chunk := b[i*inputValueLen : (i+1)*inputValueLen]
		v := InputValue{
			Type:  ValueType(chunk[0]),
			Value: binary.BigEndian.Uint64(chunk[1:]),
		}
		if !v.Type.Fits(v.Value) {
			return nil, fmt.Errorf("%w: value %d does not fit %s", ErrInvalidCiphertext, v.Value, v.Type)
		}
		values[i] = v
	}
	return values, nil
}

// InputBinding is the authenticated context a batch is sealed under.
func InputBinding(chainID uint64, contract, user common.Address) []byte {
	out := binary.BigEndian.AppendUint64(nil, chainID)
	out = append(out, contract[:]...)
	return append(out, user[:]...)
}

type inputBuilder struct {
	chainID    uint64
	networkKey []byte
	contract   common.Address
	user       common.Address
	values     []InputValue
	submit     InputSubmitter
}

// NewInputBuilder returns a builder that seals its batch to networkKey and
// hands the result to submit.
func NewInputBuilder(
	chainID uint64,
	networkKey []byte,
	contract common.Address,
	user common.Address,
	submit InputSubmitter,
) InputBuilder {
	return &inputBuilder{
		chainID:    chainID,
		networkKey: networkKey,
		contract:   contract,
		user:       user,
		submit:     submit,
	}
}

func (b *inputBuilder) add(t ValueType, v uint64) InputBuilder {
	b.values = append(b.values, InputValue{Type: t, Value: v})
	return b
}

func (b *inputBuilder) Add8(v uint8) InputBuilder   { return b.add(TypeUint8, uint64(v)) }
func (b *inputBuilder) Add16(v uint16) InputBuilder { return b.add(TypeUint16, uint64(v)) }
func (b *inputBuilder) Add32(v uint32) InputBuilder { return b.add(TypeUint32, uint64(v)) }
func (b *inputBuilder) Add64(v uint64) InputBuilder { return b.add(TypeUint64, v) }

func (b *inputBuilder) Len() int {
	return len(b.values)
}

func (b *inputBuilder) Encrypt(ctx context.Context) (*EncryptedInput, error) {
	if len(b.values) == 0 {
		return nil, ErrEmptyInput
	}
	sealed, err := Seal(
		b.networkKey,
		EncodeInputValues(b.values),
		InputBinding(b.chainID, b.contract, b.user),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to seal input batch: %w", err)
	}

	res, err := b.submit(ctx, &InputRequest{
		ChainID:         hexutil.Uint64(b.chainID),
		ContractAddress: b.contract,
		UserAddress:     b.user,
		Ciphertext:      sealed,
	})
	if err != nil {
		return nil, err
	}
	if err := VerifyEncryptedInput(res, len(b.values)); err != nil {
		return nil, err
	}
	return res, nil
}

// VerifyEncryptedInput checks that [res] carries [n] handles and a proof
// that lists exactly those handles in the same order.
func VerifyEncryptedInput(res *EncryptedInput, n int) error {
	if res == nil || len(res.Handles) != n {
		got := 0
		if res != nil {
			got = len(res.Handles)
		}
		return fmt.Errorf("%w: expected %d handles, got %d", ErrInvalidProof, n, got)
	}
	proof, err := ParseInputProof(res.InputProof)
	if err != nil {
		return err
	}
	if len(proof.Handles) != n {
		return fmt.Errorf("%w: proof covers %d handles, batch has %d", ErrInvalidProof, len(proof.Handles), n)
	}
	for i, h := range res.Handles {
		if proof.Handles[i] != h {
			return fmt.Errorf("%w: handle %d does not match proof", ErrInvalidProof, i)
		}
	}
	return nil
}
