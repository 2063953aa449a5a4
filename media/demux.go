package media

import (
	"bytes"
	"net"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspcore/metrics"
)

// playlistMagic marks an HLS playlist datagram on the media port.
var playlistMagic = []byte("#EXTM3U")

// Demultiplexer classifies every datagram arriving on the media port.
// Datagrams opening with the playlist magic are queued whole on the
// playlist queue; everything else is parsed as RTP and the payload is
// queued on the media queue. Malformed RTP is dropped with a warning,
// never an error: a lossy media path must not kill the session.
type Demultiplexer struct {
	sessionID string
	playlist  *Queue
	media     *Queue
	metrics   *metrics.Metrics

	// OnActivity fires once per accepted RTP payload. The assembler
	// uses it to restart its inactivity timeout.
	OnActivity func()
}

// NewDemultiplexer creates a demultiplexer feeding the two queues.
// metrics may be nil.
func NewDemultiplexer(sessionID string, playlist, media *Queue, m *metrics.Metrics) *Demultiplexer {
	return &Demultiplexer{
		sessionID: sessionID,
		playlist:  playlist,
		media:     media,
		metrics:   m,
	}
}

// HandleDatagram is the transport handler for the RTP listen port.
func (d *Demultiplexer) HandleDatagram(data []byte, addr net.Addr) {
	if len(data) == 0 {
		return
	}

	if bytes.HasPrefix(data, playlistMagic) {
		d.playlist.Push(data)
		d.metrics.Datagram("playlist")
		d.metrics.QueueDepth("playlist", d.playlist.Len())

		logrus.WithFields(logrus.Fields{
			"function": "Demultiplexer.HandleDatagram",
			"session":  d.sessionID,
			"size":     len(data),
		}).Debug("Playlist datagram queued")
		return
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		d.metrics.Datagram("malformed")
		logrus.WithFields(logrus.Fields{
			"function": "Demultiplexer.HandleDatagram",
			"session":  d.sessionID,
			"from":     addr.String(),
			"size":     len(data),
			"error":    err.Error(),
		}).Warn("Dropping malformed RTP datagram")
		return
	}

	if len(packet.Payload) == 0 {
		d.metrics.Datagram("empty")
		return
	}

	d.media.Push(packet.Payload)
	d.metrics.Datagram("rtp")
	d.metrics.RTPPayload(len(packet.Payload))
	d.metrics.QueueDepth("media", d.media.Len())

	if d.OnActivity != nil {
		d.OnActivity()
	}
}
