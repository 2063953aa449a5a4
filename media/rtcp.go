package media

import (
	"net"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspcore/session"
)

// congestionLevel bins an RTCP fraction-lost ratio into the advisory
// 0-4 congestion ordinal.
func congestionLevel(fractionLost float64) int {
	switch {
	case fractionLost <= 0.01:
		return 0
	case fractionLost <= 0.25:
		return 1
	case fractionLost <= 0.5:
		return 2
	case fractionLost <= 0.75:
		return 3
	default:
		return 4
	}
}

// RTCPListener consumes receiver reports on the RTCP listen port and
// maps the worst fraction-lost value of each compound packet onto the
// session's congestion level. The signal is advisory; nothing else in
// the engine reacts to it directly.
type RTCPListener struct {
	sess *session.Session
}

// NewRTCPListener creates a listener feeding sess.
func NewRTCPListener(sess *session.Session) *RTCPListener {
	return &RTCPListener{sess: sess}
}

// HandleDatagram is the transport handler for the RTCP listen port.
func (l *RTCPListener) HandleDatagram(data []byte, addr net.Addr) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RTCPListener.HandleDatagram",
			"session":  l.sess.ID(),
			"from":     addr.String(),
			"error":    err.Error(),
		}).Warn("Dropping malformed RTCP datagram")
		return
	}

	worst := -1.0
	for _, packet := range packets {
		report, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, reception := range report.Reports {
			// FractionLost is a fixed-point value with 256 as the
			// denominator (RFC 3550).
			lost := float64(reception.FractionLost) / 256.0
			if lost > worst {
				worst = lost
			}
		}
	}

	if worst < 0 {
		return
	}

	level := congestionLevel(worst)
	l.sess.SetCongestionLevel(level)

	logrus.WithFields(logrus.Fields{
		"function":      "RTCPListener.HandleDatagram",
		"session":       l.sess.ID(),
		"fraction_lost": worst,
		"level":         level,
	}).Debug("Congestion level updated")
}
