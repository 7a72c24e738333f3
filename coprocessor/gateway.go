// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package coprocessor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/metrics"
	"go.uber.org/zap"
)

const (
	KeyURLPath      = "/v1/keyurl"
	InputProofPath  = "/v1/input-proof"
	UserDecryptPath = "/v1/user-decrypt"

	maxRequestBytes = 8 << 20
)

// KeyURLResponse describes the network a gateway serves.
type KeyURLResponse struct {
	ChainID  hexutil.Uint64   `json:"chainId"`
	Metadata fhe.Metadata     `json:"metadata"`
	Keys     *fhe.KeyMaterial `json:"keys"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewGatewayHandler serves the relayer HTTP API backed by [engine].
func NewGatewayHandler(
	logger *zap.Logger,
	gatewayMetrics *metrics.GatewayMetrics,
	engine *Engine,
) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+KeyURLPath, instrument(gatewayMetrics, KeyURLPath, keyURLHandler(logger, engine)))
	mux.Handle("POST "+InputProofPath, instrument(gatewayMetrics, InputProofPath, inputProofHandler(logger, engine)))
	mux.Handle("POST "+UserDecryptPath, instrument(gatewayMetrics, UserDecryptPath, userDecryptHandler(logger, engine)))
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(m *metrics.GatewayMetrics, path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.ObserveRequest(path, strconv.Itoa(rec.status), startTime)
	})
}

func writeJSONError(
	logger *zap.Logger,
	w http.ResponseWriter,
	httpStatusCode int,
	errorMsg string,
) {
	resp, err := json.Marshal(ErrorResponse{Error: errorMsg})
	if err != nil {
		msg := "Error marshalling JSON error response"
		logger.Error(msg, zap.Error(err))
		resp = []byte(msg)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)

	if _, err = w.Write(resp); err != nil {
		logger.Error("Error writing error response", zap.Error(err))
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, v any) {
	resp, err := json.Marshal(v)
	if err != nil {
		msg := "Failed to marshal response"
		logger.Error(msg, zap.Error(err))
		writeJSONError(logger, w, http.StatusInternalServerError, msg)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(resp); err != nil {
		logger.Error("Error writing response", zap.Error(err))
	}
}

func keyURLHandler(logger *zap.Logger, engine *Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(logger, w, KeyURLResponse{
			ChainID:  hexutil.Uint64(engine.ChainID()),
			Metadata: engine.Metadata(),
			Keys:     engine.KeyMaterial(),
		})
	})
}

func inputProofHandler(logger *zap.Logger, engine *Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req fhe.InputRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			msg := "Could not decode request body"
			logger.Warn(msg, zap.Error(err))
			writeJSONError(logger, w, http.StatusBadRequest, msg)
			return
		}
		res, err := engine.EncryptInput(&req)
		if err != nil {
			logger.Warn("Failed to register encrypted input", zap.Error(err))
			writeJSONError(logger, w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(logger, w, res)
	})
}

func userDecryptHandler(logger *zap.Logger, engine *Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload fhe.UserDecryptPayload
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&payload); err != nil {
			msg := "Could not decode request body"
			logger.Warn(msg, zap.Error(err))
			writeJSONError(logger, w, http.StatusBadRequest, msg)
			return
		}
		res, err := engine.UserDecrypt(&payload)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrNotAuthorized) || errors.Is(err, ErrInvalidSignature) {
				status = http.StatusForbidden
			}
			logger.Warn(
				"Rejected user decryption",
				zap.Stringer("user", payload.UserAddress),
				zap.Error(err),
			)
			writeJSONError(logger, w, status, err.Error())
			return
		}
		writeJSON(logger, w, res)
	})
}
