// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/utils"
	"github.com/luxfi/manuscript/wallet"
	"go.uber.org/zap"
)

// Namespace is the JSON-RPC namespace the development node serves the
// ledger under.
const Namespace = "manuscript"

var ErrAuthorMismatch = errors.New("submission not signed by its author")

// SubmitArgs is a signed submission sent to the development node.
type SubmitArgs struct {
	Author     common.Address `json:"author"`
	Handles    []fhe.Handle   `json:"handles"`
	InputProof hexutil.Bytes  `json:"inputProof"`
	Signature  hexutil.Bytes  `json:"signature"`
}

// SubmissionDigest is the message an author signs to submit [handles] to the
// contract at [address].
func SubmissionDigest(address common.Address, handles []fhe.Handle, inputProof []byte) []byte {
	parts := make([][]byte, 0, len(handles)+2)
	parts = append(parts, address[:])
	for _, h := range handles {
		parts = append(parts, h[:])
	}
	parts = append(parts, inputProof)
	return crypto.Keccak256(parts...)
}

// Service exposes a MemoryLedger over JSON-RPC.
type Service struct {
	ledger *MemoryLedger
}

func NewService(ledger *MemoryLedger) *Service {
	return &Service{ledger: ledger}
}

func (s *Service) Address() common.Address {
	return s.ledger.Address()
}

func (s *Service) Submit(args SubmitArgs) (common.Hash, error) {
	digest := SubmissionDigest(s.ledger.Address(), args.Handles, args.InputProof)
	signer, err := wallet.RecoverText(digest, args.Signature)
	if err != nil {
		return common.Hash{}, err
	}
	if signer != args.Author {
		return common.Hash{}, fmt.Errorf("%w: recovered %s", ErrAuthorMismatch, signer)
	}
	return s.ledger.SubmitFrom(args.Author, args.Handles, args.InputProof)
}

func (s *Service) Receipt(txHash common.Hash) (*Receipt, error) {
	return s.ledger.Receipt(txHash)
}

func (s *Service) GetManuscript(ctx context.Context, id hexutil.Uint64) (*Record, error) {
	return s.ledger.GetManuscript(ctx, uint64(id))
}

func (s *Service) GetAuthorManuscripts(ctx context.Context, author common.Address) ([]uint64, error) {
	return s.ledger.GetAuthorManuscripts(ctx, author)
}

func (s *Service) GetTotalManuscripts(ctx context.Context) (hexutil.Uint64, error) {
	total, err := s.ledger.GetTotalManuscripts(ctx)
	return hexutil.Uint64(total), err
}

var _ Ledger = (*RPCLedger)(nil)

// RPCLedger is a client of a development node's ledger namespace.
type RPCLedger struct {
	logger             *zap.Logger
	client             *rpc.Client
	address            common.Address
	txInclusionTimeout time.Duration
}

// NewRPCLedger asks the node behind [client] for its contract address.
func NewRPCLedger(ctx context.Context, logger *zap.Logger, client *rpc.Client, txInclusionTimeout time.Duration) (*RPCLedger, error) {
	callCtx, cancel := context.WithTimeout(ctx, utils.DefaultRPCTimeout)
	defer cancel()

	var address common.Address
	if err := client.CallContext(callCtx, &address, Namespace+"_address"); err != nil {
		return nil, fmt.Errorf("failed to query ledger address: %w", err)
	}
	return &RPCLedger{
		logger:             logger.With(zap.Stringer("contract", address)),
		client:             client,
		address:            address,
		txInclusionTimeout: txInclusionTimeout,
	}, nil
}

func (l *RPCLedger) Address() common.Address {
	return l.address
}

func (l *RPCLedger) SubmitManuscript(
	ctx context.Context,
	signer wallet.Signer,
	handles []fhe.Handle,
	inputProof []byte,
) (common.Hash, error) {
	sig, err := signer.SignText(ctx, SubmissionDigest(l.address, handles, inputProof))
	if err != nil {
		return common.Hash{}, err
	}
	var txHash common.Hash
	err = l.client.CallContext(ctx, &txHash, Namespace+"_submit", SubmitArgs{
		Author:     signer.Address(),
		Handles:    handles,
		InputProof: inputProof,
		Signature:  sig,
	})
	if err != nil {
		l.logger.Error("Failed to submit manuscript", zap.Error(err))
		return common.Hash{}, ParseRevert(err)
	}
	l.logger.Info("Sent transaction", zap.Stringer("txID", txHash))
	return txHash, nil
}

func (l *RPCLedger) WaitForSubmission(ctx context.Context, txHash common.Hash, onPoll func() error) (*Receipt, error) {
	var receipt *Receipt
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, utils.DefaultRPCTimeout)
		defer cancel()
		err := l.client.CallContext(callCtx, &receipt, Namespace+"_receipt", txHash)
		if onPoll != nil {
			if pollErr := onPoll(); pollErr != nil {
				return backoff.Permanent(pollErr)
			}
		}
		if err == nil && receipt == nil {
			return errReceiptPending
		}
		return err
	}
	if err := utils.WithRetriesTimeout(ctx, l.logger, operation, l.txInclusionTimeout, "waitForSubmission"); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (l *RPCLedger) GetManuscript(ctx context.Context, id uint64) (*Record, error) {
	var record Record
	if err := l.client.CallContext(ctx, &record, Namespace+"_getManuscript", hexutil.Uint64(id)); err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *RPCLedger) GetAuthorManuscripts(ctx context.Context, author common.Address) ([]uint64, error) {
	var ids []uint64
	if err := l.client.CallContext(ctx, &ids, Namespace+"_getAuthorManuscripts", author); err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *RPCLedger) GetTotalManuscripts(ctx context.Context) (uint64, error) {
	var total hexutil.Uint64
	if err := l.client.CallContext(ctx, &total, Namespace+"_getTotalManuscripts"); err != nil {
		return 0, err
	}
	return uint64(total), nil
}
