package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Datagram("rtp")
		m.RTPPayload(188)
		m.Segment("opened")
		m.QueueDepth("media", 3)
		m.RegisterResponse("200")
		m.RTSPResponse("PLAY", "2xx")
	})
}

func TestCollectorsRegister(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.Datagram("rtp")
	m.Datagram("playlist")
	m.RTPPayload(188)
	m.Segment("opened")
	m.Segment("closed")
	m.QueueDepth("media", 7)
	m.RegisterResponse("401")
	m.RTSPResponse("OPTIONS", "2xx")

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["rtspcore_datagrams_total"])
	assert.True(t, names["rtspcore_rtp_payload_bytes_total"])
	assert.True(t, names["rtspcore_segments_total"])
	assert.True(t, names["rtspcore_handoff_queue_depth"])
	assert.True(t, names["rtspcore_register_responses_total"])
	assert.True(t, names["rtspcore_rtsp_responses_total"])
}
