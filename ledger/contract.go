// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/accounts/abi/bind"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/ethclient"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/utils"
	"github.com/luxfi/manuscript/wallet"
	"go.uber.org/zap"
)

var (
	errReceiptPending = errors.New("transaction not yet included")
	errTxFailed       = errors.New("transaction failed")
	errNotAuthorized  = errors.New("signer does not match the transaction sender")
)

var _ Ledger = (*ContractLedger)(nil)

// ContractLedger talks to a deployed manuscript contract over JSON-RPC.
type ContractLedger struct {
	logger             *zap.Logger
	client             *ethclient.Client
	contract           *bind.BoundContract
	address            common.Address
	chainID            *big.Int
	txInclusionTimeout time.Duration
}

// DialContractLedger connects to [url] and binds the contract at [address].
// A zero [txInclusionTimeout] waits for inclusion until the context ends.
func DialContractLedger(
	ctx context.Context,
	logger *zap.Logger,
	url string,
	address common.Address,
	txInclusionTimeout time.Duration,
) (*ContractLedger, error) {
	logger = logger.With(zap.Stringer("contract", address))

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		logger.Error("Failed to dial rpc endpoint", zap.Error(err))
		return nil, err
	}
	chainCtx, cancel := context.WithTimeout(ctx, utils.DefaultRPCTimeout)
	defer cancel()
	chainID, err := client.ChainID(chainCtx)
	if err != nil {
		logger.Error("Failed to get chain ID from endpoint", zap.Error(err))
		client.Close()
		return nil, err
	}

	logger.Info("Bound manuscript contract", zap.String("evmChainID", chainID.String()))
	return &ContractLedger{
		logger:             logger,
		client:             client,
		contract:           bind.NewBoundContract(address, parsedABI, client, client, client),
		address:            address,
		chainID:            chainID,
		txInclusionTimeout: txInclusionTimeout,
	}, nil
}

func (l *ContractLedger) Address() common.Address {
	return l.address
}

func (l *ContractLedger) Close() {
	l.client.Close()
}

// SubmitManuscript signs and broadcasts a submitManuscript call. Gas, fees and
// nonce come from the node; a revert during gas estimation is returned as a
// *RevertError.
func (l *ContractLedger) SubmitManuscript(
	ctx context.Context,
	signer wallet.Signer,
	handles []fhe.Handle,
	inputProof []byte,
) (common.Hash, error) {
	opts := &bind.TransactOpts{
		From:    signer.Address(),
		Context: ctx,
		Signer: func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if from != signer.Address() {
				return nil, errNotAuthorized
			}
			return signer.SignTx(tx, l.chainID)
		},
	}
	tx, err := l.contract.Transact(opts, submitMethod, fhe.HandlesToBytes32(handles), inputProof)
	if err != nil {
		l.logger.Error(
			"Failed to send transaction",
			zap.Int("handles", len(handles)),
			zap.Error(err),
		)
		return common.Hash{}, ParseRevert(err)
	}
	l.logger.Info(
		"Sent transaction",
		zap.Stringer("txID", tx.Hash()),
		zap.Uint64("nonce", tx.Nonce()),
	)
	return tx.Hash(), nil
}

func (l *ContractLedger) WaitForSubmission(
	ctx context.Context,
	txHash common.Hash,
	onPoll func() error,
) (*Receipt, error) {
	var receipt *types.Receipt
	operation := func() error {
		callCtx, callCtxCancel := context.WithTimeout(ctx, utils.DefaultRPCTimeout)
		defer callCtxCancel()
		r, err := l.client.TransactionReceipt(callCtx, txHash)
		if onPoll != nil {
			if pollErr := onPoll(); pollErr != nil {
				return backoff.Permanent(pollErr)
			}
		}
		if err != nil {
			return errors.Join(errReceiptPending, err)
		}
		receipt = r
		return nil
	}
	if err := utils.WithRetriesTimeout(ctx, l.logger, operation, l.txInclusionTimeout, "waitForSubmission"); err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		l.logger.Error(
			"Transaction failed",
			zap.Stringer("txID", txHash),
			zap.Uint64("blockNumber", receipt.BlockNumber.Uint64()),
		)
		return nil, fmt.Errorf("%w: %s", errTxFailed, txHash)
	}

	for _, log := range receipt.Logs {
		if log.Address != l.address || len(log.Topics) == 0 || log.Topics[0] != parsedABI.Events[submittedEventName].ID {
			continue
		}
		var event struct {
			ManuscriptId *big.Int
			Author       common.Address
			Timestamp    *big.Int
		}
		if err := l.contract.UnpackLog(&event, submittedEventName, *log); err != nil {
			return nil, fmt.Errorf("failed to parse %s log: %w", submittedEventName, err)
		}
		return &Receipt{
			TxHash:       txHash,
			BlockNumber:  receipt.BlockNumber.Uint64(),
			ManuscriptID: event.ManuscriptId.Uint64(),
			Author:       event.Author,
			Timestamp:    event.Timestamp.Uint64(),
		}, nil
	}
	return nil, fmt.Errorf("transaction %s emitted no %s event", txHash, submittedEventName)
}

func (l *ContractLedger) GetManuscript(ctx context.Context, id uint64) (*Record, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, getMethod, new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("%s returned %d values", getMethod, len(out))
	}
	content := abiConvert[[][32]byte](out[0])
	record := &Record{
		ID:               id,
		EncryptedContent: make([]fhe.Handle, len(content)),
		Author:           abiConvert[common.Address](out[1]),
		Timestamp:        abiConvert[*big.Int](out[2]).Uint64(),
		Exists:           abiConvert[bool](out[3]),
	}
	for i, h := range content {
		record.EncryptedContent[i] = fhe.Handle(h)
	}
	return record, nil
}

func (l *ContractLedger) GetAuthorManuscripts(ctx context.Context, author common.Address) ([]uint64, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, authorMethod, author); err != nil {
		return nil, err
	}
	raw := abiConvert[[]*big.Int](out[0])
	ids := make([]uint64, len(raw))
	for i, id := range raw {
		ids[i] = id.Uint64()
	}
	return ids, nil
}

func (l *ContractLedger) GetTotalManuscripts(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, totalMethod); err != nil {
		return 0, err
	}
	return abiConvert[*big.Int](out[0]).Uint64(), nil
}

// abiConvert converts one unpacked return value the way generated bindings do.
func abiConvert[T any](v interface{}) T {
	return *abi.ConvertType(v, new(T)).(*T)
}
