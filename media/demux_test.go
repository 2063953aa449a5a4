package media

import (
	"net"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr(t *testing.T) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "192.168.1.20:30000")
	require.NoError(t, err)
	return addr
}

func rtpDatagram(t *testing.T, payload []byte) []byte {
	t.Helper()
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    33,
			SequenceNumber: 100,
			Timestamp:      90000,
			SSRC:           0x11223344,
		},
		Payload: payload,
	}
	data, err := packet.Marshal()
	require.NoError(t, err)
	return data
}

func TestDemuxRoutesPlaylistChunks(t *testing.T) {
	playlist := NewQueue()
	mediaQ := NewQueue()
	demux := NewDemultiplexer("test-session", playlist, mediaQ, nil)

	chunk := []byte("#EXTM3U\n#EXTINF:2.0,\nsample0.ts\n")
	demux.HandleDatagram(chunk, testAddr(t))

	assert.Equal(t, 1, playlist.Len())
	assert.Zero(t, mediaQ.Len())
	assert.Equal(t, chunk, playlist.Poll())
}

func TestDemuxExtractsRTPPayload(t *testing.T) {
	playlist := NewQueue()
	mediaQ := NewQueue()
	demux := NewDemultiplexer("test-session", playlist, mediaQ, nil)

	touched := false
	demux.OnActivity = func() { touched = true }

	payload := []byte{0x47, 0x00, 0x11, 0x22}
	demux.HandleDatagram(rtpDatagram(t, payload), testAddr(t))

	assert.Zero(t, playlist.Len())
	require.Equal(t, 1, mediaQ.Len())
	assert.Equal(t, payload, mediaQ.Poll())
	assert.True(t, touched)
}

func TestDemuxClassificationIsExclusive(t *testing.T) {
	// Any datagram lands in at most one queue; malformed RTP lands in
	// neither and must not crash.
	tests := []struct {
		name        string
		data        []byte
		playlistLen int
		mediaLen    int
	}{
		{"playlist marker", []byte("#EXTM3U"), 1, 0},
		{"valid rtp", nil, 0, 1},
		{"short datagram", []byte{0x80, 0x21}, 0, 0},
		{"single byte", []byte{0x01}, 0, 0},
		{"empty datagram", []byte{}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			playlist := NewQueue()
			mediaQ := NewQueue()
			demux := NewDemultiplexer("test-session", playlist, mediaQ, nil)

			data := tt.data
			if data == nil {
				data = rtpDatagram(t, []byte{0x47})
			}
			demux.HandleDatagram(data, testAddr(t))

			assert.Equal(t, tt.playlistLen, playlist.Len())
			assert.Equal(t, tt.mediaLen, mediaQ.Len())
		})
	}
}

func TestDemuxDropsEmptyRTPPayload(t *testing.T) {
	playlist := NewQueue()
	mediaQ := NewQueue()
	demux := NewDemultiplexer("test-session", playlist, mediaQ, nil)

	demux.HandleDatagram(rtpDatagram(t, nil), testAddr(t))

	assert.Zero(t, mediaQ.Len())
}
