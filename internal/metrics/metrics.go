// Package metrics exposes the reliable sublayer's counters and the
// server's connected-client gauge as Prometheus metrics. No core component
// reads process-wide state directly; metrics are an injected sink
// capability that cmd/netcode-server wires in.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the capability the core accepts for observability. Client and
// Server set their Metrics field to NoOp{} by default and call it without a
// nil check, so a nil Sink (or a nil *Prometheus) is not supported.
type Sink interface {
	ReliableSent(conn string)
	ReliableReceived(conn string)
	ReliableAcked(conn string)
	ReliableStale(conn string)
	ReliableInvalid(conn string)
	ClientConnected()
	ClientDisconnected()
}

// NoOp implements Sink by discarding every observation; it is the default
// when the host application does not wire a Prometheus registry.
type NoOp struct{}

func (NoOp) ReliableSent(string)     {}
func (NoOp) ReliableReceived(string) {}
func (NoOp) ReliableAcked(string)    {}
func (NoOp) ReliableStale(string)    {}
func (NoOp) ReliableInvalid(string)  {}
func (NoOp) ClientConnected()        {}
func (NoOp) ClientDisconnected()     {}

// Prometheus implements Sink against a prometheus.Registerer.
type Prometheus struct {
	sent             *prometheus.CounterVec
	received         *prometheus.CounterVec
	acked            *prometheus.CounterVec
	stale            *prometheus.CounterVec
	invalid          *prometheus.CounterVec
	connectedClients prometheus.Gauge
}

// NewPrometheus registers the metric families with reg and returns a Sink
// backed by them.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcode",
			Subsystem: "reliable",
			Name:      "packets_sent_total",
			Help:      "Reliable-sublayer packets sent, by connection.",
		}, []string{"conn"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcode",
			Subsystem: "reliable",
			Name:      "packets_received_total",
			Help:      "Reliable-sublayer packets received, by connection.",
		}, []string{"conn"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcode",
			Subsystem: "reliable",
			Name:      "packets_acked_total",
			Help:      "Reliable-sublayer packets acknowledged, by connection.",
		}, []string{"conn"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcode",
			Subsystem: "reliable",
			Name:      "packets_stale_total",
			Help:      "Reliable-sublayer packets rejected as stale/duplicate.",
		}, []string{"conn"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcode",
			Subsystem: "reliable",
			Name:      "packets_invalid_total",
			Help:      "Reliable-sublayer packets rejected as malformed.",
		}, []string{"conn"}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netcode",
			Name:      "connected_clients",
			Help:      "Number of confirmed connected clients.",
		}),
	}

	for _, c := range []prometheus.Collector{p.sent, p.received, p.acked, p.stale, p.invalid, p.connectedClients} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ReliableSent(conn string)     { p.sent.WithLabelValues(conn).Inc() }
func (p *Prometheus) ReliableReceived(conn string) { p.received.WithLabelValues(conn).Inc() }
func (p *Prometheus) ReliableAcked(conn string)    { p.acked.WithLabelValues(conn).Inc() }
func (p *Prometheus) ReliableStale(conn string)    { p.stale.WithLabelValues(conn).Inc() }
func (p *Prometheus) ReliableInvalid(conn string)  { p.invalid.WithLabelValues(conn).Inc() }
func (p *Prometheus) ClientConnected()    { p.connectedClients.Inc() }
func (p *Prometheus) ClientDisconnected() { p.connectedClients.Dec() }
