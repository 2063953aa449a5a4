// Package metrics exposes prometheus collectors for the session
// engine. All collectors are advisory; no core logic reads them back.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's collectors. A nil *Metrics is valid and
// turns every record call into a no-op, so wiring metrics is optional.
type Metrics struct {
	datagrams      *prometheus.CounterVec
	rtpBytes       prometheus.Counter
	segments       *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	registerRounds *prometheus.CounterVec
	rtspResponses  *prometheus.CounterVec
}

// New registers the engine collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		datagrams: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtspcore",
			Name:      "datagrams_total",
			Help:      "Inbound media datagrams by classification.",
		}, []string{"class"}),
		rtpBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtspcore",
			Name:      "rtp_payload_bytes_total",
			Help:      "Total RTP payload bytes extracted.",
		}),
		segments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtspcore",
			Name:      "segments_total",
			Help:      "Segment file lifecycle events.",
		}, []string{"op"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtspcore",
			Name:      "handoff_queue_depth",
			Help:      "Current depth of the handoff queues.",
		}, []string{"queue"}),
		registerRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtspcore",
			Name:      "register_responses_total",
			Help:      "Registration responses by status code.",
		}, []string{"status"}),
		rtspResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtspcore",
			Name:      "rtsp_responses_total",
			Help:      "RTSP responses by handling state and status class.",
		}, []string{"state", "class"}),
	}
}

// Datagram counts one classified inbound datagram.
func (m *Metrics) Datagram(class string) {
	if m == nil {
		return
	}
	m.datagrams.WithLabelValues(class).Inc()
}

// RTPPayload counts extracted payload bytes.
func (m *Metrics) RTPPayload(n int) {
	if m == nil {
		return
	}
	m.rtpBytes.Add(float64(n))
}

// Segment counts a segment lifecycle event ("opened" or "closed").
func (m *Metrics) Segment(op string) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(op).Inc()
}

// QueueDepth records the current depth of a handoff queue.
func (m *Metrics) QueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RegisterResponse counts one registration response.
func (m *Metrics) RegisterResponse(status string) {
	if m == nil {
		return
	}
	m.registerRounds.WithLabelValues(status).Inc()
}

// RTSPResponse counts one control-channel response.
func (m *Metrics) RTSPResponse(state, class string) {
	if m == nil {
		return
	}
	m.rtspResponses.WithLabelValues(state, class).Inc()
}
