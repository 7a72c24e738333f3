// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package manuscript

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/decryptsig"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/guard"
	"github.com/luxfi/manuscript/ledger"
	"github.com/luxfi/manuscript/metrics"
	"github.com/luxfi/manuscript/wallet"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const fetchConcurrency = 8

// Outcome classifies a status message.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = metrics.OutcomeSucceeded
	OutcomeFailed    Outcome = metrics.OutcomeFailed
	OutcomeCancelled Outcome = metrics.OutcomeCancelled
	OutcomeSkipped   Outcome = metrics.OutcomeSkipped
)

// Status is the user-facing progress of the last workflow. Code is set on
// failures only.
type Status struct {
	Outcome Outcome
	Code    Code
	Message string
}

// LedgerBinder returns the ledger deployed on [chainID], or nil when the
// chain has none.
type LedgerBinder func(ctx context.Context, chainID uint64) (ledger.Ledger, error)

type Config struct {
	Signatures *decryptsig.Cache
	Ledgers    LedgerBinder
	// Metrics and OnStatus are optional.
	Metrics  *metrics.WorkflowMetrics
	OnStatus func(Status)
}

// Manager submits and decrypts manuscripts for the signer of the current
// chain context. Submit and decrypt are each single-flight; a second call
// while one is running returns OutcomeSkipped.
type Manager struct {
	logger *zap.Logger
	cfg    Config
	guard  *guard.Guard

	submitting atomic.Bool
	decrypting atomic.Bool

	lock      sync.RWMutex
	instance  fhe.Instance
	signer    wallet.Signer
	ledger    ledger.Ledger
	records   []ledger.Record
	decrypted map[uint64]string
	status    Status
}

func NewManager(logger *zap.Logger, cfg Config) *Manager {
	return &Manager{
		logger:    logger.With(zap.String("session", uuid.NewString())),
		cfg:       cfg,
		guard:     guard.New(),
		decrypted: make(map[uint64]string),
	}
}

// SetInstance replaces the FHE instance used by later workflows.
func (m *Manager) SetInstance(inst fhe.Instance) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.instance = inst
}

// OnContextChanged settles a new (chain, signer) context. In-flight
// workflows started under a different context cancel themselves at their
// next check. The instance is dropped when the chain changes, and records
// and decrypted text are dropped whenever the context differs from the
// previous one. The author's records are then refreshed once.
func (m *Manager) OnContextChanged(ctx context.Context, chainID uint64, signer wallet.Signer) error {
	var bound ledger.Ledger
	if m.cfg.Ledgers != nil {
		l, err := m.cfg.Ledgers(ctx, chainID)
		if err != nil {
			m.logger.Warn(
				"Failed to bind ledger",
				zap.Uint64("chainID", chainID),
				zap.Error(err),
			)
		} else {
			bound = l
		}
	}
	var user common.Address
	if signer != nil {
		user = signer.Address()
	}

	m.lock.Lock()
	prev := m.guard.Snapshot()
	m.guard.Settle(chainID, user)
	if prev.Settled && prev.ChainID != chainID {
		m.instance = nil
	}
	if !prev.Settled || prev != m.guard.Snapshot() || contractOf(m.ledger) != contractOf(bound) {
		m.records = nil
		m.decrypted = make(map[uint64]string)
	}
	m.ledger = bound
	m.signer = signer
	m.lock.Unlock()

	m.logger.Info(
		"Context changed",
		zap.Uint64("chainID", chainID),
		zap.Stringer("signer", user),
		zap.Bool("hasContract", bound != nil),
	)
	return m.RefreshManuscripts(ctx)
}

func contractOf(l ledger.Ledger) common.Address {
	if l == nil {
		return common.Address{}
	}
	return l.Address()
}

// Contract returns the ledger address bound to the current context.
func (m *Manager) Contract() (common.Address, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return contractOf(m.ledger), m.ledger != nil
}

// Manuscripts returns the current author's records in id order.
func (m *Manager) Manuscripts() []ledger.Record {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return slices.Clone(m.records)
}

// Decrypted returns the cleartext of record [id] if it was decrypted in
// this session.
func (m *Manager) Decrypted(id uint64) (string, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	text, ok := m.decrypted[id]
	return text, ok
}

func (m *Manager) Status() Status {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.status
}

func (m *Manager) CanSubmit() bool {
	return m.ready() && !m.submitting.Load()
}

func (m *Manager) CanDecrypt() bool {
	return m.ready() && !m.decrypting.Load()
}

func (m *Manager) ready() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.instance != nil && m.signer != nil && m.ledger != nil
}

// workflow is the context a submit or decrypt started under.
type workflow struct {
	snapshot guard.Snapshot
	contract common.Address
	instance fhe.Instance
	signer   wallet.Signer
	ledger   ledger.Ledger
	logger   *zap.Logger
}

func (m *Manager) begin(name string) (*workflow, *Error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	switch {
	case m.ledger == nil:
		return nil, newError(CodeNoContract, "No contract available for this chain", nil)
	case m.instance == nil:
		return nil, newError(CodeNotReady, "FHE instance not ready", nil)
	case m.signer == nil:
		return nil, newError(CodeNotReady, "No signer connected", nil)
	}
	w := &workflow{
		snapshot: m.guard.Snapshot(),
		contract: m.ledger.Address(),
		instance: m.instance,
		signer:   m.signer,
		ledger:   m.ledger,
	}
	w.logger = m.logger.With(
		zap.String("workflow", name),
		zap.Uint64("chainID", w.snapshot.ChainID),
		zap.Stringer("contract", w.contract),
	)
	return w, nil
}

// stale reports whether the chain, signer or contract changed since [w]
// started.
func (m *Manager) stale(w *workflow) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.staleLocked(w.snapshot, w.contract)
}

func (m *Manager) staleLocked(snapshot guard.Snapshot, contract common.Address) bool {
	return m.guard.Stale(snapshot) || m.ledger == nil || m.ledger.Address() != contract
}

func (m *Manager) report(s Status) Status {
	m.lock.Lock()
	m.status = s
	m.lock.Unlock()

	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(s)
	}
	return s
}

func (m *Manager) progress(msg string) {
	m.report(Status{Outcome: OutcomePending, Message: msg})
}

func (m *Manager) fail(err *Error) (Status, error) {
	return m.report(Status{Outcome: OutcomeFailed, Code: err.Code, Message: err.Message}), err
}

func (m *Manager) cancel(w *workflow) (Status, error) {
	w.logger.Info("Operation cancelled")
	return m.report(Status{Outcome: OutcomeCancelled, Message: "Operation cancelled"}), nil
}

var errStale = errors.New("context changed while waiting for inclusion")

// SubmitManuscript encrypts [content] byte by byte into a single input
// batch and stores it on the ledger. A context change at any check point
// ends the call with OutcomeCancelled and a nil error.
func (m *Manager) SubmitManuscript(ctx context.Context, content string) (Status, error) {
	data := []byte(content)
	if len(data) == 0 {
		return m.fail(newError(CodeEmptyContent, "Submission failed: Content cannot be empty", nil))
	}
	w, unready := m.begin("submit")
	if unready != nil {
		return m.fail(unready)
	}
	if !m.submitting.CompareAndSwap(false, true) {
		return Status{Outcome: OutcomeSkipped, Message: "Submission already in progress"}, nil
	}
	defer m.submitting.Store(false)

	started := time.Now()
	status, err := m.submit(ctx, w, data)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ObserveSubmission(strconv.FormatUint(w.snapshot.ChainID, 10), string(status.Outcome), started)
	}
	return status, err
}

func (m *Manager) submit(ctx context.Context, w *workflow, data []byte) (Status, error) {
	m.progress("Encrypting manuscript content...")
	m.progress("Creating encrypted input...")
	builder := w.instance.CreateEncryptedInput(w.contract, w.signer.Address())
	for _, b := range data {
		builder.Add8(b)
	}

	m.progress(fmt.Sprintf("Encrypting %d bytes (this may take a moment)...", len(data)))
	enc, err := builder.Encrypt(ctx)
	switch {
	case ctx.Err() != nil:
		return m.cancel(w)
	case err != nil:
		w.logger.Error("Failed to encrypt manuscript", zap.Error(err))
		return m.fail(newError(CodeEncryption, "Submission failed: Encryption failed: "+err.Error(), err))
	case len(enc.Handles) == 0:
		return m.fail(newError(CodeEncryption, "Submission failed: Encryption failed: no encrypted bytes generated", nil))
	case len(enc.InputProof) == 0:
		return m.fail(newError(CodeEncryption, "Submission failed: Encryption failed: no input proof generated", nil))
	}

	if m.stale(w) {
		return m.cancel(w)
	}

	m.progress("Submitting to blockchain...")
	txHash, err := w.ledger.SubmitManuscript(ctx, w.signer, enc.Handles, enc.InputProof)
	if err != nil {
		if ctx.Err() != nil {
			return m.cancel(w)
		}
		w.logger.Error("Failed to submit manuscript", zap.Error(err))
		return m.fail(submissionError(err))
	}

	m.progress(fmt.Sprintf("Waiting for transaction: %s...", txHash.Hex()))
	receipt, err := w.ledger.WaitForSubmission(ctx, txHash, func() error {
		if m.stale(w) {
			return errStale
		}
		return nil
	})
	switch {
	case errors.Is(err, errStale) || ctx.Err() != nil:
		return m.cancel(w)
	case err != nil:
		w.logger.Error(
			"Failed to confirm manuscript",
			zap.Stringer("txHash", txHash),
			zap.Error(err),
		)
		return m.fail(submissionError(err))
	}
	if m.stale(w) {
		return m.cancel(w)
	}

	w.logger.Info(
		"Submitted manuscript",
		zap.Uint64("id", receipt.ManuscriptID),
		zap.Stringer("txHash", txHash),
		zap.Int("bytes", len(data)),
	)
	status := m.report(Status{
		Outcome: OutcomeSucceeded,
		Message: fmt.Sprintf("Manuscript submitted successfully! ID: %d", receipt.ManuscriptID),
	})
	if err := m.refresh(ctx); err != nil {
		w.logger.Warn("Failed to refresh manuscripts", zap.Error(err))
	}
	return status, nil
}

// submissionError rewrites recognized contract reverts into readable
// messages.
func submissionError(err error) *Error {
	var revert *ledger.RevertError
	if !errors.As(ledger.ParseRevert(err), &revert) {
		return newError(CodeSubmissionFailed, "Submission failed: "+err.Error(), err)
	}
	switch {
	case strings.Contains(revert.Reason, "Empty content"):
		return newError(CodeEmptyContent, "Submission failed: Encryption failed: Empty content detected", err)
	case strings.Contains(revert.Reason, "Content too long"):
		return newError(CodeSubmissionFailed, "Submission failed: Content too long", err)
	case strings.Contains(revert.Reason, "require(false)"):
		return newError(
			CodeChainMismatch,
			"Submission failed: FHE verification failed. Please ensure Hardhat node has FHEVM plugin enabled and try again.",
			err,
		)
	default:
		return newError(
			CodeSubmissionFailed,
			"Submission failed: Contract execution failed. This may be due to FHE verification issues. Please check your Hardhat node configuration.",
			err,
		)
	}
}

// DecryptManuscript decrypts record [id] for its author and caches the text
// for the rest of the session. Records already decrypted are not requested
// again.
func (m *Manager) DecryptManuscript(ctx context.Context, id uint64) (Status, error) {
	w, unready := m.begin("decrypt")
	if unready != nil {
		return m.fail(unready)
	}
	if _, ok := m.Decrypted(id); ok {
		return Status{Outcome: OutcomeSkipped, Message: "Manuscript already decrypted"}, nil
	}
	if !m.decrypting.CompareAndSwap(false, true) {
		return Status{Outcome: OutcomeSkipped, Message: "Decryption already in progress"}, nil
	}
	defer m.decrypting.Store(false)

	started := time.Now()
	status, err := m.decrypt(ctx, w, id)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ObserveDecryption(strconv.FormatUint(w.snapshot.ChainID, 10), string(status.Outcome), started)
	}
	return status, err
}

func (m *Manager) decrypt(ctx context.Context, w *workflow, id uint64) (Status, error) {
	logger := w.logger.With(zap.Uint64("id", id))

	record, err := m.lookup(ctx, w, id)
	if err != nil {
		if ctx.Err() != nil {
			return m.cancel(w)
		}
		logger.Error("Failed to fetch manuscript", zap.Error(err))
		return m.fail(newError(CodeDecryptionFailed, "Decryption failed: "+err.Error(), err))
	}
	if m.stale(w) {
		return m.cancel(w)
	}
	if record == nil || !record.Exists {
		return m.fail(newError(CodeNotFound, "Manuscript not found", nil))
	}
	if record.Author != w.signer.Address() {
		return m.fail(newError(CodeNotAuthor, "Only the author can decrypt this manuscript", nil))
	}

	m.progress("Decrypting manuscript...")
	if len(record.EncryptedContent) == 0 {
		return m.fail(newError(CodeDecryptionFailed, "Invalid encrypted content", nil))
	}

	sig, err := m.cfg.Signatures.LoadOrSign(ctx, w.instance, []common.Address{w.contract}, w.signer)
	switch {
	case errors.Is(err, decryptsig.ErrDeclined):
		logger.Info("Decryption authorization declined", zap.Error(err))
		return m.report(Status{
			Outcome: OutcomeFailed,
			Code:    CodeAuthorizationDeclined,
			Message: "Unable to build FHEVM decryption signature",
		}), nil
	case ctx.Err() != nil:
		return m.cancel(w)
	case err != nil:
		logger.Error("Failed to load decryption signature", zap.Error(err))
		return m.fail(newError(CodeDecryptionFailed, "Decryption failed: "+err.Error(), err))
	}
	if m.stale(w) {
		return m.cancel(w)
	}

	m.progress("Calling FHEVM userDecrypt...")
	pairs := make([]fhe.HandleContractPair, len(record.EncryptedContent))
	for i, h := range record.EncryptedContent {
		pairs[i] = fhe.HandleContractPair{Handle: h, ContractAddress: w.contract}
	}
	values, err := w.instance.UserDecrypt(ctx, sig.Request(pairs))
	switch {
	case ctx.Err() != nil:
		return m.cancel(w)
	case err != nil:
		logger.Error("Failed to decrypt manuscript", zap.Error(err))
		return m.fail(newError(CodeDecryptionFailed, "Decryption failed: "+err.Error(), err))
	}
	if m.stale(w) {
		return m.cancel(w)
	}

	// Byte i of the text is the cleartext of handle i.
	text := make([]byte, len(record.EncryptedContent))
	for i, h := range record.EncryptedContent {
		v, ok := values[h]
		if !ok || v == nil || !v.IsUint64() || v.Uint64() > math.MaxUint8 {
			logger.Warn(
				"Missing cleartext byte",
				zap.Int("index", i),
				zap.Stringer("handle", h),
			)
			return m.fail(newError(CodeDecryptionIncomplete, "Decryption failed: no result", nil))
		}
		text[i] = byte(v.Uint64())
	}

	m.lock.Lock()
	if m.staleLocked(w.snapshot, w.contract) {
		m.lock.Unlock()
		return m.cancel(w)
	}
	m.decrypted[id] = string(text)
	m.lock.Unlock()

	logger.Info("Decrypted manuscript", zap.Int("bytes", len(text)))
	return m.report(Status{Outcome: OutcomeSucceeded, Message: "Manuscript decrypted successfully!"}), nil
}

// lookup prefers the refreshed record list and falls back to the ledger.
func (m *Manager) lookup(ctx context.Context, w *workflow, id uint64) (*ledger.Record, error) {
	m.lock.RLock()
	for _, r := range m.records {
		if r.ID == id {
			m.lock.RUnlock()
			return &r, nil
		}
	}
	m.lock.RUnlock()

	return w.ledger.GetManuscript(ctx, id)
}

// RefreshManuscripts reloads the signer's records from the ledger. Results
// fetched under a context that changed meanwhile are discarded.
func (m *Manager) RefreshManuscripts(ctx context.Context) error {
	if err := m.refresh(ctx); err != nil {
		m.logger.Error("Failed to fetch manuscripts", zap.Error(err))
		m.report(Status{Outcome: OutcomeFailed, Message: "Failed to fetch manuscripts"})
		return err
	}
	return nil
}

func (m *Manager) refresh(ctx context.Context) error {
	m.lock.RLock()
	l, signer := m.ledger, m.signer
	snapshot := m.guard.Snapshot()
	m.lock.RUnlock()

	if l == nil || signer == nil {
		return nil
	}
	contract := l.Address()
	isStale := func() bool {
		m.lock.RLock()
		defer m.lock.RUnlock()

		return m.staleLocked(snapshot, contract)
	}
	if isStale() {
		return nil
	}

	ids, err := l.GetAuthorManuscripts(ctx, signer.Address())
	if err != nil {
		if isStale() {
			return nil
		}
		return err
	}
	if isStale() {
		return nil
	}

	records := make([]ledger.Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			r, err := l.GetManuscript(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to fetch manuscript %d: %w", id, err)
			}
			records[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if isStale() {
			return nil
		}
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.staleLocked(snapshot, contract) {
		return nil
	}
	m.records = records
	return nil
}
