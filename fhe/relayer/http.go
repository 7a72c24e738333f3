// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/cache"
	"github.com/luxfi/manuscript/coprocessor"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultKeyTTL is how long fetched key material is reused.
const DefaultKeyTTL = time.Hour

var (
	errNotLoaded   = errors.New("relayer SDK not loaded")
	errACLMismatch = errors.New("gateway serves a different ACL contract")
)

var _ SDK = (*HTTPSDK)(nil)

// HTTPSDK is a client of the relayer gateway HTTP API.
type HTTPSDK struct {
	logger     *zap.Logger
	client     *http.Client
	gatewayURL string
	descriptor atomic.Pointer[coprocessor.KeyURLResponse]
	keys       *cache.TTLCache[common.Address, *fhe.KeyMaterial]
}

func NewHTTPSDK(logger *zap.Logger, gatewayURL string, keyTTL time.Duration) *HTTPSDK {
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}
	return &HTTPSDK{
		logger:     logger.With(zap.String("gateway", gatewayURL)),
		client:     &http.Client{Timeout: utils.DefaultRPCTimeout},
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		keys:       cache.NewTTLCache[common.Address, *fhe.KeyMaterial](keyTTL),
	}
}

// Load fetches the gateway descriptor.
func (s *HTTPSDK) Load(ctx context.Context) error {
	descriptor, err := s.fetchDescriptor(ctx, s.gatewayURL)
	if err != nil {
		return err
	}
	s.descriptor.Store(descriptor)
	s.logger.Info(
		"Loaded relayer SDK",
		zap.Uint64("chainID", uint64(descriptor.ChainID)),
		zap.String("acl", descriptor.Metadata.ACLAddress),
	)
	return nil
}

// Init checks that the loaded descriptor is usable.
func (s *HTTPSDK) Init(context.Context) error {
	descriptor := s.descriptor.Load()
	if descriptor == nil {
		return errNotLoaded
	}
	if descriptor.Keys == nil || len(descriptor.Keys.PublicKey) == 0 {
		return errors.New("gateway advertises no public key")
	}
	for _, addr := range []string{
		descriptor.Metadata.ACLAddress,
		descriptor.Metadata.InputVerifierAddress,
		descriptor.Metadata.KMSVerifierAddress,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("gateway advertises malformed contract address %q", addr)
		}
	}
	return nil
}

func (s *HTTPSDK) FetchKeys(ctx context.Context, cfg Config) (*fhe.KeyMaterial, error) {
	return s.keys.Get(ctx, cfg.ACLAddress, func(ctx context.Context, acl common.Address) (*fhe.KeyMaterial, error) {
		descriptor, err := s.fetchDescriptor(ctx, s.baseURL(cfg))
		if err != nil {
			return nil, err
		}
		if common.HexToAddress(descriptor.Metadata.ACLAddress) != acl {
			return nil, fmt.Errorf("%w: %s", errACLMismatch, descriptor.Metadata.ACLAddress)
		}
		return descriptor.Keys, nil
	}, false)
}

func (s *HTTPSDK) CreateInstance(_ context.Context, cfg Config, keys *fhe.KeyMaterial) (fhe.Instance, error) {
	if s.descriptor.Load() == nil {
		return nil, errNotLoaded
	}
	if keys == nil || len(keys.PublicKey) == 0 {
		return nil, errors.New("missing network public key")
	}
	return fhe.NewInstance(cfg.ChainID, cfg.KMSVerifierAddress, *keys, &httpTransport{
		logger:  s.logger,
		client:  s.client,
		baseURL: s.baseURL(cfg),
	}), nil
}

func (s *HTTPSDK) baseURL(cfg Config) string {
	if cfg.GatewayURL != "" {
		return strings.TrimSuffix(cfg.GatewayURL, "/")
	}
	return s.gatewayURL
}

func (s *HTTPSDK) fetchDescriptor(ctx context.Context, baseURL string) (*coprocessor.KeyURLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+coprocessor.KeyURLPath, nil)
	if err != nil {
		return nil, err
	}
	var descriptor coprocessor.KeyURLResponse
	if err := doJSON(s.client, req, &descriptor); err != nil {
		return nil, err
	}
	return &descriptor, nil
}

type httpTransport struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
}

func (t *httpTransport) EncryptInput(ctx context.Context, in *fhe.InputRequest) (*fhe.EncryptedInput, error) {
	var res fhe.EncryptedInput
	if err := t.post(ctx, coprocessor.InputProofPath, in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (t *httpTransport) UserDecrypt(ctx context.Context, payload *fhe.UserDecryptPayload) (fhe.UserDecryptResult, error) {
	var res fhe.UserDecryptResult
	if err := t.post(ctx, coprocessor.UserDecryptPath, payload, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *httpTransport) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := doJSON(t.client, req, out); err != nil {
		t.logger.Warn("Relayer request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// GatewayError is a non-success answer from the gateway.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp coprocessor.ErrorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &GatewayError{StatusCode: resp.StatusCode, Message: msg}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
