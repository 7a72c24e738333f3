// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/wallet"
	"go.uber.org/zap"
)

// Verifier checks input proofs and records handle permissions, the two
// coprocessor calls the contract makes while storing a manuscript.
type Verifier interface {
	VerifyInput(contract, user common.Address, handles []fhe.Handle, proof []byte) error
	Allow(handle fhe.Handle, accounts ...common.Address)
}

var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger is an in-process manuscript contract. Every submission is
// included immediately in its own block.
type MemoryLedger struct {
	logger   *zap.Logger
	address  common.Address
	verifier Verifier
	now      func() time.Time

	lock     sync.RWMutex
	records  []Record
	byAuthor map[common.Address][]uint64
	receipts map[common.Hash]*Receipt
}

func NewMemoryLedger(logger *zap.Logger, address common.Address, verifier Verifier) *MemoryLedger {
	return &MemoryLedger{
		logger:   logger.With(zap.Stringer("contract", address)),
		address:  address,
		verifier: verifier,
		now:      time.Now,
		byAuthor: make(map[common.Address][]uint64),
		receipts: make(map[common.Hash]*Receipt),
	}
}

func (l *MemoryLedger) Address() common.Address {
	return l.address
}

func (l *MemoryLedger) SubmitManuscript(
	_ context.Context,
	signer wallet.Signer,
	handles []fhe.Handle,
	inputProof []byte,
) (common.Hash, error) {
	return l.SubmitFrom(signer.Address(), handles, inputProof)
}

// SubmitFrom stores a manuscript on behalf of an already authenticated
// [author].
func (l *MemoryLedger) SubmitFrom(author common.Address, handles []fhe.Handle, inputProof []byte) (common.Hash, error) {
	switch {
	case len(handles) == 0:
		return common.Hash{}, &RevertError{Reason: "Empty content"}
	case len(handles) > MaxContentLength:
		return common.Hash{}, &RevertError{Reason: "Content too long"}
	}
	if err := l.verifier.VerifyInput(l.address, author, handles, inputProof); err != nil {
		l.logger.Warn(
			"Rejected input proof",
			zap.Stringer("author", author),
			zap.Error(err),
		)
		return common.Hash{}, &RevertError{Reason: "require(false)"}
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	id := uint64(len(l.records))
	record := Record{
		ID:               id,
		EncryptedContent: append([]fhe.Handle(nil), handles...),
		Author:           author,
		Timestamp:        uint64(l.now().Unix()),
		Exists:           true,
	}
	for _, h := range handles {
		l.verifier.Allow(h, l.address, author)
	}
	l.records = append(l.records, record)
	l.byAuthor[author] = append(l.byAuthor[author], id)

	txHash := common.Hash(crypto.Keccak256Hash(l.address[:], author[:], binary.BigEndian.AppendUint64(nil, id)))
	l.receipts[txHash] = &Receipt{
		TxHash:       txHash,
		BlockNumber:  id + 1,
		ManuscriptID: id,
		Author:       author,
		Timestamp:    record.Timestamp,
	}
	l.logger.Info(
		"Stored manuscript",
		zap.Uint64("id", id),
		zap.Stringer("author", author),
		zap.Int("handles", len(handles)),
	)
	return txHash, nil
}

func (l *MemoryLedger) WaitForSubmission(_ context.Context, txHash common.Hash, onPoll func() error) (*Receipt, error) {
	receipt, err := l.Receipt(txHash)
	if onPoll != nil {
		if pollErr := onPoll(); pollErr != nil {
			return nil, pollErr
		}
	}
	return receipt, err
}

// Receipt returns the receipt of an included submission.
func (l *MemoryLedger) Receipt(txHash common.Hash) (*Receipt, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	receipt, ok := l.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, txHash)
	}
	r := *receipt
	return &r, nil
}

// GetManuscript returns the record for [id], or a record with Exists unset
// when no such manuscript was stored.
func (l *MemoryLedger) GetManuscript(_ context.Context, id uint64) (*Record, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	if id >= uint64(len(l.records)) {
		return &Record{ID: id}, nil
	}
	r := l.records[id]
	r.EncryptedContent = append([]fhe.Handle(nil), r.EncryptedContent...)
	return &r, nil
}

func (l *MemoryLedger) GetAuthorManuscripts(_ context.Context, author common.Address) ([]uint64, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	return append([]uint64{}, l.byAuthor[author]...), nil
}

func (l *MemoryLedger) GetTotalManuscripts(context.Context) (uint64, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	return uint64(len(l.records)), nil
}
