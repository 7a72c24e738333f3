// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

// NewRegistries returns one registry and a registerer per prefix whose
// metrics are namespaced "<prefix>_".
func NewRegistries(prefixes ...string) (*prometheus.Registry, map[string]prometheus.Registerer) {
	registry := prometheus.NewRegistry()
	registerers := make(map[string]prometheus.Registerer, len(prefixes))
	for _, prefix := range prefixes {
		registerers[prefix] = prometheus.WrapRegistererWithPrefix(prefix+"_", registry)
	}
	return registry, registerers
}

// Handler serves the metrics of [gatherer].
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type WorkflowMetrics struct {
	submissionCount       *prometheus.CounterVec
	decryptionCount       *prometheus.CounterVec
	workflowLatencyMS     *prometheus.HistogramVec
	signatureRequestCount *prometheus.CounterVec
}

func NewWorkflowMetrics(registerer prometheus.Registerer) *WorkflowMetrics {
	m := WorkflowMetrics{
		submissionCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submission_count",
				Help: "Number of manuscript submissions by outcome",
			},
			[]string{"chain_id", "outcome"},
		),
		decryptionCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decryption_count",
				Help: "Number of manuscript decryptions by outcome",
			},
			[]string{"chain_id", "outcome"},
		),
		workflowLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_latency_ms",
				Help:    "Latency of submit and decrypt workflows in milliseconds",
				Buckets: prometheus.ExponentialBuckets(50, 2, 12),
			},
			[]string{"workflow"},
		),
		signatureRequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decryption_signature_count",
				Help: "Number of decryption signature lookups by result",
			},
			[]string{"result"},
		),
	}

	registerer.MustRegister(m.submissionCount)
	registerer.MustRegister(m.decryptionCount)
	registerer.MustRegister(m.workflowLatencyMS)
	registerer.MustRegister(m.signatureRequestCount)

	return &m
}

func (m *WorkflowMetrics) ObserveSubmission(chainID string, outcome string, started time.Time) {
	m.submissionCount.WithLabelValues(chainID, outcome).Inc()
	m.workflowLatencyMS.WithLabelValues("submit").Observe(float64(time.Since(started).Milliseconds()))
}

func (m *WorkflowMetrics) ObserveDecryption(chainID string, outcome string, started time.Time) {
	m.decryptionCount.WithLabelValues(chainID, outcome).Inc()
	m.workflowLatencyMS.WithLabelValues("decrypt").Observe(float64(time.Since(started).Milliseconds()))
}

// ObserveSignature records whether an authorization was reused or signed.
func (m *WorkflowMetrics) ObserveSignature(result string) {
	m.signatureRequestCount.WithLabelValues(result).Inc()
}

type FactoryMetrics struct {
	instanceCount *prometheus.CounterVec
}

func NewFactoryMetrics(registerer prometheus.Registerer) *FactoryMetrics {
	m := FactoryMetrics{
		instanceCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instance_count",
				Help: "Number of FHE instance creations by target and result code",
			},
			[]string{"target", "result"},
		),
	}
	registerer.MustRegister(m.instanceCount)
	return &m
}

func (m *FactoryMetrics) ObserveInstance(target string, result string) {
	m.instanceCount.WithLabelValues(target, result).Inc()
}

type GatewayMetrics struct {
	requestCount     *prometheus.CounterVec
	requestLatencyMS *prometheus.GaugeVec
}

func NewGatewayMetrics(registerer prometheus.Registerer) *GatewayMetrics {
	m := GatewayMetrics{
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_count",
				Help: "Number of relayer gateway requests by path and status",
			},
			[]string{"path", "status"},
		),
		requestLatencyMS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "request_latency_ms",
				Help: "Latency of the last relayer gateway request in milliseconds",
			},
			[]string{"path"},
		),
	}
	registerer.MustRegister(m.requestCount)
	registerer.MustRegister(m.requestLatencyMS)
	return &m
}

func (m *GatewayMetrics) ObserveRequest(path string, status string, started time.Time) {
	m.requestCount.WithLabelValues(path, status).Inc()
	m.requestLatencyMS.WithLabelValues(path).Set(float64(time.Since(started).Milliseconds()))
}
