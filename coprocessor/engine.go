// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package coprocessor simulates the FHE coprocessor and key management
// service of a development network. It holds cleartexts behind handles,
// attests encrypted inputs, enforces handle ACLs and re-encrypts cleartexts
// for authorized users.
package coprocessor

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/fhe"
	"go.uber.org/zap"
)

const (
	// MaxDurationDays bounds the validity window of a decryption request.
	MaxDurationDays = 365

	secondsPerDay = 24 * 60 * 60
)

var (
	ErrWrongChain       = errors.New("request targets a different chain")
	ErrUnknownHandle    = errors.New("unknown handle")
	ErrNotAuthorized    = errors.New("not authorized to decrypt handle")
	ErrInvalidSignature = errors.New("invalid decryption signature")
	ErrRequestExpired   = errors.New("decryption request outside its validity window")
	ErrEmptyRequest     = errors.New("decryption request has no handles")
)

// Default development contract addresses.
var (
	DefaultACLAddress           = common.HexToAddress("0x50157CFfD6bBFA2DECe204a89ec419c23ef5755D")
	DefaultInputVerifierAddress = common.HexToAddress("0x901F8942346f7AB3a01F6D7613119Bca447Bb030")
	DefaultKMSVerifierAddress   = common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC")
)

// Config configures an Engine. Nil keys are generated.
type Config struct {
	ChainID              uint64
	ACLAddress           common.Address
	InputVerifierAddress common.Address
	KMSVerifierAddress   common.Address
	SignerKey            *ecdsa.PrivateKey
	NetworkKey           *ecdsa.PrivateKey
	PublicParams         []byte
}

type cleartext struct {
	typ   fhe.ValueType
	value uint64
}

// Engine is an in-memory coprocessor. It is safe for concurrent use.
type Engine struct {
	logger        *zap.Logger
	chainID       uint64
	acl           common.Address
	inputVerifier common.Address
	kmsVerifier   common.Address
	signer        *ecdsa.PrivateKey
	signerAddr    common.Address
	networkKey    *ecdsa.PrivateKey
	publicParams  []byte
	now           func() time.Time

	lock       sync.RWMutex
	cleartexts map[fhe.Handle]cleartext
	allowed    map[fhe.Handle]map[common.Address]struct{}
}

func NewEngine(logger *zap.Logger, cfg Config) (*Engine, error) {
	var err error
	if cfg.SignerKey == nil {
		if cfg.SignerKey, err = crypto.GenerateKey(); err != nil {
			return nil, err
		}
	}
	if cfg.NetworkKey == nil {
		if cfg.NetworkKey, err = crypto.GenerateKey(); err != nil {
			return nil, err
		}
	}
	if cfg.ACLAddress == (common.Address{}) {
		cfg.ACLAddress = DefaultACLAddress
	}
	if cfg.InputVerifierAddress == (common.Address{}) {
		cfg.InputVerifierAddress = DefaultInputVerifierAddress
	}
	if cfg.KMSVerifierAddress == (common.Address{}) {
		cfg.KMSVerifierAddress = DefaultKMSVerifierAddress
	}
	if len(cfg.PublicParams) == 0 {
		cfg.PublicParams = crypto.Keccak256([]byte("publicParams"), crypto.FromECDSAPub(&cfg.NetworkKey.PublicKey))
	}

	e := &Engine{
		logger:        logger.With(zap.Uint64("chainID", cfg.ChainID)),
		chainID:       cfg.ChainID,
		acl:           cfg.ACLAddress,
		inputVerifier: cfg.InputVerifierAddress,
		kmsVerifier:   cfg.KMSVerifierAddress,
		signer:        cfg.SignerKey,
		signerAddr:    common.Address(crypto.PubkeyToAddress(cfg.SignerKey.PublicKey)),
		networkKey:    cfg.NetworkKey,
		publicParams:  cfg.PublicParams,
		now:           time.Now,
		cleartexts:    make(map[fhe.Handle]cleartext),
		allowed:       make(map[fhe.Handle]map[common.Address]struct{}),
	}
	e.logger.Info(
		"Initialized coprocessor",
		zap.Stringer("inputSigner", e.signerAddr),
		zap.Stringer("acl", e.acl),
	)
	return e, nil
}

func (e *Engine) ChainID() uint64 {
	return e.chainID
}

// Metadata returns the coprocessor contract set.
func (e *Engine) Metadata() fhe.Metadata {
	return fhe.Metadata{
		ACLAddress:           e.acl.Hex(),
		InputVerifierAddress: e.inputVerifier.Hex(),
		KMSVerifierAddress:   e.kmsVerifier.Hex(),
	}
}

// KeyMaterial returns the network key inputs must be sealed to.
func (e *Engine) KeyMaterial() *fhe.KeyMaterial {
	return &fhe.KeyMaterial{
		PublicKey:    crypto.FromECDSAPub(&e.networkKey.PublicKey),
		PublicParams: e.publicParams,
	}
}

// InputSigner returns the address that attests input proofs.
func (e *Engine) InputSigner() common.Address {
	return e.signerAddr
}

// EncryptInput opens a sealed batch, registers its cleartexts and returns
// their handles with one attesting proof.
func (e *Engine) EncryptInput(req *fhe.InputRequest) (*fhe.EncryptedInput, error) {
	if uint64(req.ChainID) != e.chainID {
		return nil, fmt.Errorf("%w: %d", ErrWrongChain, uint64(req.ChainID))
	}
	packed, err := fhe.Open(
		crypto.FromECDSA(e.networkKey),
		req.Ciphertext,
		fhe.InputBinding(e.chainID, req.ContractAddress, req.UserAddress),
	)
	if err != nil {
		return nil, err
	}
	values, err := fhe.DecodeInputValues(packed)
	if err != nil {
		return nil, err
	}

	digest := common.Hash(crypto.Keccak256Hash(req.Ciphertext))
	handles := make([]fhe.Handle, len(values))
	e.lock.Lock()
	for i, v := range values {
		handles[i] = fhe.DeriveHandle(digest, uint32(i), e.acl, e.chainID, v.Type)
		e.cleartexts[handles[i]] = cleartext{typ: v.Type, value: v.Value}
	}
	e.lock.Unlock()

	inputDigest := fhe.InputDigest(e.chainID, req.ContractAddress, req.UserAddress, handles)
	sig, err := crypto.Sign(inputDigest[:], e.signer)
	if err != nil {
		return nil, err
	}
	e.logger.Debug(
		"Registered encrypted input",
		zap.Int("values", len(values)),
		zap.Stringer("contract", req.ContractAddress),
		zap.Stringer("user", req.UserAddress),
	)
	return &fhe.EncryptedInput{
		Handles:    handles,
		InputProof: (&fhe.InputProof{Handles: handles, Signatures: [][]byte{sig}}).Bytes(),
	}, nil
}

// VerifyInput checks that [proof] attests [handles] for (contract, user) on
// this chain.
func (e *Engine) VerifyInput(contract, user common.Address, handles []fhe.Handle, proof []byte) error {
	p, err := fhe.ParseInputProof(proof)
	if err != nil {
		return err
	}
	if !slices.Equal(p.Handles, handles) {
		return fmt.Errorf("%w: handles differ from proof", fhe.ErrInvalidProof)
	}
	signers, err := fhe.RecoverInputSigners(e.chainID, contract, user, p)
	if err != nil {
		return err
	}
	if !slices.Contains(signers, e.signerAddr) {
		return fmt.Errorf("%w: not signed by coprocessor %s", fhe.ErrInvalidProof, e.signerAddr)
	}

	e.lock.RLock()
	defer e.lock.RUnlock()
	for _, h := range handles {
		if _, ok := e.cleartexts[h]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
		}
	}
	return nil
}

// Allow grants [accounts] access to [handle].
func (e *Engine) Allow(handle fhe.Handle, accounts ...common.Address) {
	e.lock.Lock()
	defer e.lock.Unlock()

	set, ok := e.allowed[handle]
	if !ok {
		set = make(map[common.Address]struct{}, len(accounts))
		e.allowed[handle] = set
	}
	for _, a := range accounts {
		set[a] = struct{}{}
	}
}

func (e *Engine) IsAllowed(handle fhe.Handle, account common.Address) bool {
	e.lock.RLock()
	defer e.lock.RUnlock()

	_, ok := e.allowed[handle][account]
	return ok
}

// UserDecrypt verifies the user's authorization and the ACL of every handle,
// then seals each cleartext to the request's public key.
func (e *Engine) UserDecrypt(p *fhe.UserDecryptPayload) (fhe.UserDecryptResult, error) {
	if len(p.HandleContractPairs) == 0 {
		return nil, ErrEmptyRequest
	}
	start := uint64(p.StartTimestamp)
	days := uint64(p.DurationDays)
	now := uint64(e.now().Unix())
	if days == 0 || days > MaxDurationDays || now < start || now >= start+days*secondsPerDay {
		return nil, ErrRequestExpired
	}

	td := fhe.NewUserDecryptTypedData(e.chainID, e.kmsVerifier, p.PublicKey, p.ContractAddresses, start, days)
	signer, err := fhe.RecoverTypedDataSigner(td, p.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if signer != p.UserAddress {
		return nil, fmt.Errorf("%w: signed by %s, not %s", ErrInvalidSignature, signer, p.UserAddress)
	}

	e.lock.RLock()
	defer e.lock.RUnlock()

	result := make(fhe.UserDecryptResult, len(p.HandleContractPairs))
	for _, pair := range p.HandleContractPairs {
		if !slices.Contains(p.ContractAddresses, pair.ContractAddress) {
			return nil, fmt.Errorf("%w: contract %s not covered by signature", ErrNotAuthorized, pair.ContractAddress)
		}
		ct, ok := e.cleartexts[pair.Handle]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, pair.Handle)
		}
		_, userOK := e.allowed[pair.Handle][p.UserAddress]
		_, contractOK := e.allowed[pair.Handle][pair.ContractAddress]
		if !userOK || !contractOK {
			return nil, fmt.Errorf("%w: %s for %s", ErrNotAuthorized, pair.Handle, p.UserAddress)
		}
		sealed, err := fhe.SealCleartext(p.PublicKey, pair.Handle, uint256.NewInt(ct.value))
		if err != nil {
			return nil, err
		}
		result[pair.Handle] = sealed
	}
	e.logger.Debug(
		"Served user decryption",
		zap.Stringer("user", p.UserAddress),
		zap.Int("handles", len(result)),
	)
	return result, nil
}
