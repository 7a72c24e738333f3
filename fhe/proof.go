// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

const (
	proofHeaderLen = 5
	SignatureLen   = crypto.SignatureLength
)

// InputProof is the decoded form of the proof shared by one batch.
//
// Layout: uint32 handle count | uint8 signer count | handles | signatures | extra data
type InputProof struct {
	Handles    []Handle
	Signatures [][]byte
	ExtraData  []byte
}

// Bytes serializes the proof.
func (p *InputProof) Bytes() []byte {
	size := proofHeaderLen + len(p.Handles)*HandleLen + len(p.Signatures)*SignatureLen + len(p.ExtraData)
	out := make([]byte, proofHeaderLen, size)
	binary.BigEndian.PutUint32(out[:4], uint32(len(p.Handles)))
	out[4] = byte(len(p.Signatures))
	for _, h := range p.Handles {
		out = append(out, h[:]...)
	}
	for _, sig := range p.Signatures {
		out = append(out, sig...)
	}
	return append(out, p.ExtraData...)
}

// ParseInputProof decodes a serialized proof.
func ParseInputProof(b []byte) (*InputProof, error) {
	if len(b) < proofHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidProof, len(b))
	}
	numHandles := int(binary.BigEndian.Uint32(b[:4]))
	numSigners := int(b[4])
	body := b[proofHeaderLen:]
	need := numHandles*HandleLen + numSigners*SignatureLen
	if numHandles == 0 || numSigners == 0 || len(body) < need {
		return nil, fmt.Errorf(
			"%w: %d handles and %d signatures do not fit %d bytes",
			ErrInvalidProof, numHandles, numSigners, len(body),
		)
	}

	p := &InputProof{
		Handles:    make([]Handle, numHandles),
		Signatures: make([][]byte, numSigners),
	}
	for i := range p.Handles {
		copy(p.Handles[i][:], body[i*HandleLen:])
	}
	body = body[numHandles*HandleLen:]
	for i := range p.Signatures {
		p.Signatures[i] = common.CopyBytes(body[i*SignatureLen : (i+1)*SignatureLen])
	}
	p.ExtraData = common.CopyBytes(body[numSigners*SignatureLen:])
	return p, nil
}

// InputDigest is the message a coprocessor signs to attest a batch. It binds
// the handles to the chain, the receiving contract and the submitter.
func InputDigest(chainID uint64, contract, user common.Address, handles []Handle) common.Hash {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	hashed := make([]byte, 0, len(handles)*HandleLen)
	for _, h := range handles {
		hashed = append(hashed, h[:]...)
	}
	return common.Hash(crypto.Keccak256Hash(
		[]byte("InputVerification"),
		chain[:],
		contract[:],
		user[:],
		crypto.Keccak256(hashed),
	))
}

// RecoverInputSigners returns the addresses that signed the proof for the
// given binding.
func RecoverInputSigners(chainID uint64, contract, user common.Address, p *InputProof) ([]common.Address, error) {
	digest := InputDigest(chainID, contract, user, p.Handles)
	signers := make([]common.Address, 0, len(p.Signatures))
	for _, sig := range p.Signatures {
		pub, err := crypto.SigToPub(digest[:], normalizeV(sig))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
		}
		signers = append(signers, common.Address(crypto.PubkeyToAddress(*pub)))
	}
	return signers, nil
}

// normalizeV maps a wallet-style 27/28 recovery id onto 0/1.
func normalizeV(sig []byte) []byte {
	if len(sig) != SignatureLen || sig[64] < 27 {
		return sig
	}
	out := common.CopyBytes(sig)
	out[64] -= 27
	return out
}
