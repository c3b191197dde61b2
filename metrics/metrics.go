// Package metrics exposes Prometheus instrumentation for the protocol
// engines. Collection is opt-in: engines accept a nil *Collector and skip
// recording entirely.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector wraps a private Prometheus registry with the metric vectors the
// client and host engines record into.
type Collector struct {
	registry *prometheus.Registry

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	DroppedOrigin    prometheus.Counter
	TokenValidations *prometheus.CounterVec
	PermissionGrants *prometheus.CounterVec
}

// New creates a Collector with its own registry under the given namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "uibridge"
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Protocol messages sent, by message type.",
		}, []string{"type"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Protocol messages received and dispatched, by message type.",
		}, []string{"type"}),
		DroppedOrigin: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_origin_total",
			Help:      "Inbound messages dropped by the origin-pinning filter.",
		}),
		TokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Credential validation outcomes.",
		}, []string{"result"}),
		PermissionGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_decisions_total",
			Help:      "Permission negotiation outcomes.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		c.MessagesSent,
		c.MessagesReceived,
		c.DroppedOrigin,
		c.TokenValidations,
		c.PermissionGrants,
	)
	return c
}

// Handler returns an HTTP handler serving the collector's registry in the
// Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Sent records an outbound message. Safe on a nil receiver.
func (c *Collector) Sent(msgType string) {
	if c == nil {
		return
	}
	c.MessagesSent.WithLabelValues(msgType).Inc()
}

// Received records a dispatched inbound message. Safe on a nil receiver.
func (c *Collector) Received(msgType string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(msgType).Inc()
}

// OriginDrop records a message dropped by the origin filter. Safe on a nil
// receiver.
func (c *Collector) OriginDrop() {
	if c == nil {
		return
	}
	c.DroppedOrigin.Inc()
}

// Validation records a token validation outcome ("ok" or "failed"). Safe on
// a nil receiver.
func (c *Collector) Validation(result string) {
	if c == nil {
		return
	}
	c.TokenValidations.WithLabelValues(result).Inc()
}

// Permission records a negotiation outcome ("granted", "denied",
// "reaffirmed" or "escalation_denied"). Safe on a nil receiver.
func (c *Collector) Permission(outcome string) {
	if c == nil {
		return
	}
	c.PermissionGrants.WithLabelValues(outcome).Inc()
}
