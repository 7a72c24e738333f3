// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/wallet"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var contractAddress, _ = AddressFor(31337)

type fakeVerifier struct {
	reject  error
	allowed map[fhe.Handle][]common.Address
}

func (v *fakeVerifier) VerifyInput(common.Address, common.Address, []fhe.Handle, []byte) error {
	return v.reject
}

func (v *fakeVerifier) Allow(handle fhe.Handle, accounts ...common.Address) {
	if v.allowed == nil {
		v.allowed = make(map[fhe.Handle][]common.Address)
	}
	v.allowed[handle] = append(v.allowed[handle], accounts...)
}

func newSigner(t *testing.T) *wallet.KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet.NewKeySignerFromECDSA(key)
}

func testHandles(batch byte, n int) []fhe.Handle {
	handles := make([]fhe.Handle, n)
	for i := range handles {
		handles[i] = fhe.DeriveHandle(common.Hash{batch}, uint32(i), common.Address{}, 31337, fhe.TypeUint8)
	}
	return handles
}

func TestAddressFor(t *testing.T) {
	addr, ok := AddressFor(11155111)
	require.True(t, ok)
	require.Equal(t, common.HexToAddress("0x31D4375a1F9fbD116fb40F132eeB80ED329B8641"), addr)

	_, ok = AddressFor(1)
	require.False(t, ok)
}

func TestParseRevert(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
		revert   bool
	}{
		{
			name:     "reason",
			err:      errors.New("execution reverted: Empty content"),
			expected: "Empty content",
			revert:   true,
		},
		{
			name:     "wrapped reason",
			err:      fmt.Errorf("estimate gas: %w", errors.New("execution reverted: require(false)")),
			expected: "require(false)",
			revert:   true,
		},
		{
			name:   "bare revert",
			err:    errors.New("execution reverted"),
			revert: true,
		},
		{
			name: "not a revert",
			err:  errors.New("connection refused"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var revert *RevertError
			if !tc.revert {
				require.False(t, errors.As(ParseRevert(tc.err), &revert))
				return
			}
			require.ErrorAs(t, ParseRevert(tc.err), &revert)
			require.Equal(t, tc.expected, revert.Reason)
		})
	}
}

func TestMemoryLedgerSubmit(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{}
	l := NewMemoryLedger(zap.NewNop(), contractAddress, verifier)
	alice := newSigner(t)
	bob := newSigner(t)

	for i, signer := range []*wallet.KeySigner{alice, bob, alice} {
		txHash, err := l.SubmitManuscript(ctx, signer, testHandles(byte(i), i+1), []byte{0x01})
		require.NoError(t, err)
		receipt, err := l.WaitForSubmission(ctx, txHash, nil)
		require.NoError(t, err)
		require.Equal(t, uint64(i), receipt.ManuscriptID)
		require.Equal(t, signer.Address(), receipt.Author)
	}

	total, err := l.GetTotalManuscripts(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), total)

	ids, err := l.GetAuthorManuscripts(ctx, alice.Address())
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, ids)

	record, err := l.GetManuscript(ctx, 2)
	require.NoError(t, err)
	require.True(t, record.Exists)
	require.Equal(t, alice.Address(), record.Author)
	require.Equal(t, testHandles(2, 3), record.EncryptedContent)
	for _, h := range record.EncryptedContent {
		require.ElementsMatch(t, []common.Address{contractAddress, alice.Address()}, verifier.allowed[h])
	}

	missing, err := l.GetManuscript(ctx, 9)
	require.NoError(t, err)
	require.False(t, missing.Exists)
}

func TestMemoryLedgerReverts(t *testing.T) {
	testCases := []struct {
		name    string
		handles []fhe.Handle
		reject  error
		reason  string
	}{
		{
			name:   "empty",
			reason: "Empty content",
		},
		{
			name:    "too long",
			handles: make([]fhe.Handle, MaxContentLength+1),
			reason:  "Content too long",
		},
		{
			name:    "bad proof",
			handles: testHandles(0, 2),
			reject:  fhe.ErrInvalidProof,
			reason:  "require(false)",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := NewMemoryLedger(zap.NewNop(), contractAddress, &fakeVerifier{reject: tc.reject})
			_, err := l.SubmitManuscript(context.Background(), newSigner(t), tc.handles, nil)
			var revert *RevertError
			require.ErrorAs(t, err, &revert)
			require.Equal(t, tc.reason, revert.Reason)

			total, err := l.GetTotalManuscripts(context.Background())
			require.NoError(t, err)
			require.Zero(t, total)
		})
	}
}

func TestMemoryLedgerPollAbort(t *testing.T) {
	l := NewMemoryLedger(zap.NewNop(), contractAddress, &fakeVerifier{})
	txHash, err := l.SubmitManuscript(context.Background(), newSigner(t), testHandles(0, 1), nil)
	require.NoError(t, err)

	stale := errors.New("stale")
	_, err = l.WaitForSubmission(context.Background(), txHash, func() error { return stale })
	require.ErrorIs(t, err, stale)
}

func TestRPCLedger(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryLedger(zap.NewNop(), contractAddress, &fakeVerifier{})
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName(Namespace, NewService(memory)))
	t.Cleanup(srv.Stop)
	client := rpc.DialInProc(srv)
	t.Cleanup(client.Close)

	l, err := NewRPCLedger(ctx, zap.NewNop(), client, 0)
	require.NoError(t, err)
	require.Equal(t, contractAddress, l.Address())

	author := newSigner(t)
	txHash, err := l.SubmitManuscript(ctx, author, testHandles(0, 4), []byte{0xaa})
	require.NoError(t, err)

	polls := 0
	receipt, err := l.WaitForSubmission(ctx, txHash, func() error {
		polls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, polls)
	require.Equal(t, uint64(0), receipt.ManuscriptID)
	require.Equal(t, author.Address(), receipt.Author)

	record, err := l.GetManuscript(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, testHandles(0, 4), record.EncryptedContent)
	require.True(t, record.Exists)

	ids, err := l.GetAuthorManuscripts(ctx, author.Address())
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, ids)

	total, err := l.GetTotalManuscripts(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)

	_, err = l.SubmitManuscript(ctx, author, nil, nil)
	var revert *RevertError
	require.ErrorAs(t, err, &revert)
	require.Equal(t, "Empty content", revert.Reason)
}

// lateService answers with a null receipt for its first [pending] queries.
type lateService struct {
	*Service
	pending int32
	queries atomic.Int32
}

func (s *lateService) Receipt(txHash common.Hash) (*Receipt, error) {
	if s.queries.Add(1) <= s.pending {
		return nil, nil
	}
	return s.Service.Receipt(txHash)
}

func TestRPCLedgerWaitsForNullReceipt(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryLedger(zap.NewNop(), contractAddress, &fakeVerifier{})
	svc := &lateService{Service: NewService(memory), pending: 2}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName(Namespace, svc))
	t.Cleanup(srv.Stop)
	client := rpc.DialInProc(srv)
	t.Cleanup(client.Close)

	l, err := NewRPCLedger(ctx, zap.NewNop(), client, time.Minute)
	require.NoError(t, err)

	author := newSigner(t)
	txHash, err := l.SubmitManuscript(ctx, author, testHandles(0, 2), nil)
	require.NoError(t, err)

	polls := 0
	receipt, err := l.WaitForSubmission(ctx, txHash, func() error {
		polls++
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.Equal(t, author.Address(), receipt.Author)
	require.Equal(t, 3, polls)
	require.EqualValues(t, 3, svc.queries.Load())
}

type impostor struct {
	*wallet.KeySigner
	claimed common.Address
}

func (i impostor) Address() common.Address {
	return i.claimed
}

func TestRPCLedgerRejectsForgedAuthor(t *testing.T) {
	memory := NewMemoryLedger(zap.NewNop(), contractAddress, &fakeVerifier{})
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName(Namespace, NewService(memory)))
	t.Cleanup(srv.Stop)
	client := rpc.DialInProc(srv)
	t.Cleanup(client.Close)

	l, err := NewRPCLedger(context.Background(), zap.NewNop(), client, 0)
	require.NoError(t, err)

	forged := impostor{KeySigner: newSigner(t), claimed: newSigner(t).Address()}
	_, err = l.SubmitManuscript(context.Background(), forged, testHandles(0, 1), nil)
	require.ErrorContains(t, err, ErrAuthorMismatch.Error())
}
