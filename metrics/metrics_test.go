// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistriesExposePrefixedMetrics(t *testing.T) {
	registry, registerers := NewRegistries("manuscript", "gateway")
	workflow := NewWorkflowMetrics(registerers["manuscript"])
	gateway := NewGatewayMetrics(registerers["gateway"])

	workflow.ObserveSubmission("31337", OutcomeSucceeded, time.Now())
	workflow.ObserveSignature("reused")
	gateway.ObserveRequest("/v1/keyurl", "200", time.Now())

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`manuscript_submission_count{chain_id="31337",outcome="succeeded"} 1`,
		`manuscript_decryption_signature_count{result="reused"} 1`,
		`gateway_request_count{path="/v1/keyurl",status="200"} 1`,
	} {
		require.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
