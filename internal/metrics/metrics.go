// Package metrics holds the Prometheus instruments for the realtime session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesInbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_frames_inbound_total",
			Help: "Inbound frames decoded, by type.",
		},
		[]string{"type"},
	)
	framesOutbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_frames_outbound_total",
			Help: "Outbound frames written to the transport, by type.",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_frames_dropped_total",
			Help: "Frames dropped without effect, by reason.",
		},
		[]string{"reason"},
	)
	reconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlink_reconnect_attempts_total",
			Help: "Dials made after an unclean close.",
		},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatlink_connection_state",
			Help: "1 for the current connection state, 0 otherwise.",
		},
		[]string{"state"},
	)
	unreadMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatlink_unread_messages",
			Help: "Sum of unread counters across the chat list.",
		},
	)
)

// Drop reasons.
const (
	DropNotOpen   = "not_open"
	DropDecode    = "decode_error"
	DropUnmatched = "unmatched"
	DropBusFull   = "bus_full"
)

var knownStates = []string{"DISCONNECTED", "CONNECTING", "OPEN", "CLOSING", "ERROR", "RECONNECTING"}

func init() {
	prometheus.MustRegister(
		framesInbound,
		framesOutbound,
		framesDropped,
		reconnectAttempts,
		connectionState,
		unreadMessages,
	)
}

func IncInbound(frameType string) {
	framesInbound.WithLabelValues(frameType).Inc()
}

func IncOutbound(frameType string) {
	framesOutbound.WithLabelValues(frameType).Inc()
}

func IncDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// Dropped returns the drop counter for reason.
func Dropped(reason string) prometheus.Counter {
	return framesDropped.WithLabelValues(reason)
}

func IncReconnect() {
	reconnectAttempts.Inc()
}

// SetState marks state as the only active connection state.
func SetState(state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func SetUnread(n int) {
	unreadMessages.Set(float64(n))
}
