package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "aero_webrtc_signaling_relay"

// Event names. Inbound message counters use "inbound_" + the wire type.
const (
	PeerConnected    = "peer_connected"
	PeerDisconnected = "peer_disconnected"
	RoomCreated      = "room_created"
	RoomJoined       = "room_joined"
	Relayed          = "relayed"
	OriginRejected   = "origin_rejected"
)

// Drop reasons.
const (
	DropReasonProtocolError    = "drop_protocol_error"
	DropReasonReceiverNotFound = "drop_receiver_not_found"
	DropReasonSendQueueFull    = "drop_send_queue_full"
	DropReasonRateLimited      = "drop_rate_limited"
	DropReasonMessageTooLarge  = "drop_message_too_large"
)

// Metrics is a small facade over a private Prometheus registry.
//
// All counters share one metric family with an `event` label so call sites
// only need a name. A nil *Metrics is valid and discards everything.
type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Internal event counters.",
	}, []string{"event"})
	reg.MustRegister(events)

	return &Metrics{
		registry: reg,
		events:   events,
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Add(float64(delta))
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.events.WithLabelValues(name).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

// RegisterGauge exposes a value sampled on every scrape, e.g. the number of
// live peers.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry so other collectors (Go runtime,
// process) can be attached at startup.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
