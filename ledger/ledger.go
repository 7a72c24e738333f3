// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger binds the manuscript contract: an append-only store of
// encrypted manuscripts indexed by author.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/wallet"
)

// MaxContentLength is the largest number of handles one manuscript may hold.
const MaxContentLength = 10000

const revertPrefix = "execution reverted"

var ErrUnknownTransaction = errors.New("unknown transaction")

var addresses = map[uint64]common.Address{
	31337:    common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	11155111: common.HexToAddress("0x31D4375a1F9fbD116fb40F132eeB80ED329B8641"),
}

// AddressFor returns the deployed contract address on [chainID].
func AddressFor(chainID uint64) (common.Address, bool) {
	addr, ok := addresses[chainID]
	return addr, ok
}

// Record is a stored manuscript. Records are never mutated once written.
type Record struct {
	ID               uint64         `json:"id"`
	EncryptedContent []fhe.Handle   `json:"encryptedContent"`
	Author           common.Address `json:"author"`
	Timestamp        uint64         `json:"timestamp"`
	Exists           bool           `json:"exists"`
}

// Receipt is the confirmed outcome of a submission.
type Receipt struct {
	TxHash       common.Hash    `json:"transactionHash"`
	BlockNumber  uint64         `json:"blockNumber"`
	ManuscriptID uint64         `json:"manuscriptId"`
	Author       common.Address `json:"author"`
	Timestamp    uint64         `json:"timestamp"`
}

// Ledger is the manuscript contract as seen by a client.
type Ledger interface {
	Address() common.Address

	// SubmitManuscript sends one transaction storing [handles] with their
	// shared input proof and returns its hash without waiting for inclusion.
	SubmitManuscript(ctx context.Context, signer wallet.Signer, handles []fhe.Handle, inputProof []byte) (common.Hash, error)

	// WaitForSubmission blocks until [txHash] is included. [onPoll], if
	// non-nil, runs after every receipt query; a non-nil result stops the
	// wait and is returned unchanged.
	WaitForSubmission(ctx context.Context, txHash common.Hash, onPoll func() error) (*Receipt, error)

	GetManuscript(ctx context.Context, id uint64) (*Record, error)
	GetAuthorManuscripts(ctx context.Context, author common.Address) ([]uint64, error)
	GetTotalManuscripts(ctx context.Context) (uint64, error)
}

// RevertError is a submission the contract rejected.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return revertPrefix
	}
	return revertPrefix + ": " + e.Reason
}

// ParseRevert converts an error whose message carries a contract revert into
// a *RevertError. Other errors are returned unchanged.
func ParseRevert(err error) error {
	if err == nil {
		return nil
	}
	var revert *RevertError
	if errors.As(err, &revert) {
		return err
	}
	msg := err.Error()
	i := strings.Index(msg, revertPrefix)
	if i < 0 {
		return err
	}
	reason := strings.TrimPrefix(msg[i+len(revertPrefix):], ":")
	return &RevertError{Reason: strings.TrimSpace(reason)}
}
