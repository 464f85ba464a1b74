// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus counters for the OAuth flow: grants
// issued per response type, code exchanges, and credentials minted through
// the platform bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters recorded by the authorization server.
type Metrics struct {
	registry *prometheus.Registry

	grantsIssued      *prometheus.CounterVec
	grantsRejected    *prometheus.CounterVec
	exchanges         *prometheus.CounterVec
	credentialsMinted prometheus.Counter
	credentialsFailed prometheus.Counter
}

// New creates the counters and registers them on a fresh registry, together
// with the standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		grantsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credbroker",
			Subsystem: "oauth",
			Name:      "grants_issued_total",
			Help:      "Grants issued, partitioned by response type.",
		}, []string{"response_type"}),
		grantsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credbroker",
			Subsystem: "oauth",
			Name:      "grants_rejected_total",
			Help:      "Grant requests rejected, partitioned by error code.",
		}, []string{"error_code"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credbroker",
			Subsystem: "oauth",
			Name:      "exchanges_total",
			Help:      "Authorization-code exchanges, partitioned by result.",
		}, []string{"result"}),
		credentialsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "credbroker",
			Subsystem: "oauth",
			Name:      "credentials_minted_total",
			Help:      "Credentials successfully minted via the platform service.",
		}),
		credentialsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "credbroker",
			Subsystem: "oauth",
			Name:      "credentials_failed_total",
			Help:      "Credential fetches that failed for any reason.",
		}),
	}

	reg.MustRegister(
		m.grantsIssued,
		m.grantsRejected,
		m.exchanges,
		m.credentialsMinted,
		m.credentialsFailed,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GrantIssued records a successfully issued grant for a response type.
func (m *Metrics) GrantIssued(responseType string) {
	m.grantsIssued.WithLabelValues(responseType).Inc()
}

// GrantRejected records a rejected grant request with its OAuth2 error code.
func (m *Metrics) GrantRejected(errorCode string) {
	m.grantsRejected.WithLabelValues(errorCode).Inc()
}

// ExchangeSucceeded records a successful code exchange.
func (m *Metrics) ExchangeSucceeded() {
	m.exchanges.WithLabelValues("success").Inc()
}

// ExchangeFailed records a failed code exchange.
func (m *Metrics) ExchangeFailed() {
	m.exchanges.WithLabelValues("failure").Inc()
}

// CredentialMinted records a credential successfully minted for a caller.
func (m *Metrics) CredentialMinted() {
	m.credentialsMinted.Inc()
}

// CredentialFailed records a failed credential fetch.
func (m *Metrics) CredentialFailed() {
	m.credentialsFailed.Inc()
}
