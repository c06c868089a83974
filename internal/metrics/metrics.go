// Package metrics exposes the client's internal counters and gauges as
// Prometheus collectors, registered against the default registry so an
// embedding program only needs to mount promhttp.Handler() once.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BytesSent and BytesReceived count raw wire bytes moved by a mux's
	// underlying transport, labeled by channel so multi-camera processes
	// can break the totals down.
	BytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bc",
		Subsystem: "transport",
		Name:      "bytes_sent_total",
		Help:      "Total bytes written to camera transports.",
	}, []string{"channel"})

	BytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bc",
		Subsystem: "transport",
		Name:      "bytes_received_total",
		Help:      "Total bytes read from camera transports.",
	}, []string{"channel"})

	// PendingWaiters gauges how many in-flight Request calls a mux is
	// currently tracking, per channel; a steadily growing value usually
	// means the camera stopped replying.
	PendingWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bc",
		Subsystem: "mux",
		Name:      "pending_waiters",
		Help:      "Number of in-flight request/reply waiters.",
	}, []string{"channel"})

	// KeepAliveFailures counts every keep-alive ping failure observed by a
	// session, labeled by channel. It is never reset; the session's own
	// fail threshold counts consecutive failures separately.
	KeepAliveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bc",
		Subsystem: "session",
		Name:      "keepalive_failures_total",
		Help:      "Total keep-alive ping failures observed.",
	}, []string{"channel"})

	// DiscoveryWins counts which method won each Discover race.
	DiscoveryWins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bc",
		Subsystem: "discovery",
		Name:      "method_wins_total",
		Help:      "Total discovery races won, by method.",
	}, []string{"method"})

	// UDPRetransmits counts fragments the reliability layer had to resend.
	UDPRetransmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bc",
		Subsystem: "udptransport",
		Name:      "retransmits_total",
		Help:      "Total UDP fragment retransmissions.",
	}, []string{"channel"})
)
