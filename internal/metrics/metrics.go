// Package metrics provides Prometheus metrics for the chat relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for DroppedEnvelopes.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownType = "unknown_type"
	ReasonInvalid     = "invalid"
	ReasonRateLimited = "rate_limited"
	ReasonForbidden   = "forbidden"
)

// Auth outcomes for AuthOutcomes.
const (
	AuthStaff     = "staff"
	AuthNonStaff  = "non_staff"
	AuthAnonymous = "anonymous"
	AuthError     = "error"
)

var (
	// OpenConnections tracks the current number of registered WebSocket connections
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_open_connections",
		Help: "Current number of registered WebSocket connections",
	})

	// EnvelopesReceived counts decoded inbound envelopes by type
	EnvelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_envelopes_received_total",
		Help: "Total number of inbound envelopes by type",
	}, []string{"type"})

	// DroppedEnvelopes counts inbound envelopes discarded without effect
	DroppedEnvelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_envelopes_dropped_total",
		Help: "Total number of inbound envelopes dropped by reason",
	}, []string{"reason"})

	// FramesSent counts frames queued to connections by type
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_frames_sent_total",
		Help: "Total number of outbound frames queued by type",
	}, []string{"type"})

	// DroppedSends counts outbound frames lost to a full or closed send queue
	DroppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_send_dropped_total",
		Help: "Total number of outbound frames dropped on a full or closed queue",
	})

	// AuthOutcomes counts session resolution results at connection accept
	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_auth_outcomes_total",
		Help: "Total number of session resolutions at accept by outcome",
	}, []string{"outcome"})

	// HTTPRequests counts API requests by route pattern and status code
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"route", "code"})
)
