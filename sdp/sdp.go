// Package sdp wraps session description parsing, local description
// synthesis and codec negotiation on top of pion/sdp.
//
// A Description is immutable once constructed; renegotiation always
// creates a new instance.
package sdp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	pionsdp "github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// MediaVideo is the media section name negotiated by this engine.
const MediaVideo = "video"

// MP2TPayloadType is the RTP payload type announced for MPEG-TS video.
const MP2TPayloadType = 33

// Codec is one negotiable codec attribute from an rtpmap line.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Parameters  string
}

// Description is an immutable parsed session description.
type Description struct {
	raw *pionsdp.SessionDescription
}

// Templates carries the operator-supplied static SDP field templates.
// Origin, Connection, Media and MP2TAttribute are format strings
// receiving (origin id, address), (address), (port, payload type) and
// (payload type) respectively.
type Templates struct {
	Version       string
	Origin        string
	SessionName   string
	Time          string
	Connection    string
	Media         string
	MP2TAttribute string
	Attributes    []string
}

// Parse decodes a textual SDP body.
func Parse(data []byte) (*Description, error) {
	raw := &pionsdp.SessionDescription{}
	if err := raw.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to parse sdp: %w", err)
	}
	return &Description{raw: raw}, nil
}

// BuildLocal synthesizes the local description from the templates plus
// the runtime substitutions: a time-derived globally unique origin id,
// the local bind address, and the local RTP listen port.
func BuildLocal(tpl Templates, localIP string, localPort int) (*Description, error) {
	var b strings.Builder

	b.WriteString("v=" + tpl.Version + "\r\n")
	b.WriteString("o=" + fmt.Sprintf(tpl.Origin, originID(), localIP) + "\r\n")
	b.WriteString("s=" + tpl.SessionName + "\r\n")
	b.WriteString("c=" + fmt.Sprintf(tpl.Connection, localIP) + "\r\n")
	b.WriteString("t=" + tpl.Time + "\r\n")
	b.WriteString("m=" + fmt.Sprintf(tpl.Media, localPort, MP2TPayloadType) + "\r\n")
	b.WriteString("a=" + fmt.Sprintf(tpl.MP2TAttribute, MP2TPayloadType) + "\r\n")
	for _, attribute := range tpl.Attributes {
		b.WriteString("a=" + attribute + "\r\n")
	}

	desc, err := Parse([]byte(b.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to build local sdp: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "sdp.BuildLocal",
		"port":     localPort,
		"addr":     localIP,
	}).Debug("Local SDP built")

	return desc, nil
}

// Marshal renders the description back to its textual form.
func (d *Description) Marshal() ([]byte, error) {
	return d.raw.Marshal()
}

// MediaPort returns the transport port of the first media description
// with the given name.
func (d *Description) MediaPort(media string) (int, error) {
	for _, md := range d.raw.MediaDescriptions {
		if md.MediaName.Media == media {
			return md.MediaName.Port.Value, nil
		}
	}
	return 0, fmt.Errorf("no %s media description", media)
}

// Codecs returns the ordered codec list of the first media description
// with the given name, decoded from its rtpmap attributes.
func (d *Description) Codecs(media string) []Codec {
	var codecs []Codec
	for _, md := range d.raw.MediaDescriptions {
		if md.MediaName.Media != media {
			continue
		}
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			codec, err := parseRtpmap(attr.Value)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Description.Codecs",
					"rtpmap":   attr.Value,
					"error":    err.Error(),
				}).Warn("Skipping malformed rtpmap attribute")
				continue
			}
			codecs = append(codecs, codec)
		}
		break
	}
	return codecs
}

// Negotiate performs first-match codec selection for the given media:
// local codec ordering is the effective priority, and the first local
// codec whose name equals any remote codec name wins. No match is a
// negotiation failure, fatal to the session.
func Negotiate(local, remote *Description, media string) (Codec, error) {
	localCodecs := local.Codecs(media)
	remoteCodecs := remote.Codecs(media)

	for _, lc := range localCodecs {
		for _, rc := range remoteCodecs {
			if lc.Name == rc.Name {
				logrus.WithFields(logrus.Fields{
					"function": "sdp.Negotiate",
					"codec":    lc.Name,
					"media":    media,
				}).Debug("Codec matched")
				return lc, nil
			}
		}
	}

	return Codec{}, errors.New("no matching codec")
}

// parseRtpmap decodes "<payload> <name>/<clock>[/<parameters>]".
func parseRtpmap(value string) (Codec, error) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return Codec{}, fmt.Errorf("malformed rtpmap %q", value)
	}

	payload, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil {
		return Codec{}, fmt.Errorf("malformed rtpmap payload type %q", fields[0])
	}

	parts := strings.SplitN(fields[1], "/", 3)
	if len(parts) < 2 {
		return Codec{}, fmt.Errorf("malformed rtpmap encoding %q", fields[1])
	}

	clock, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Codec{}, fmt.Errorf("malformed rtpmap clock rate %q", parts[1])
	}

	codec := Codec{
		PayloadType: uint8(payload),
		Name:        parts[0],
		ClockRate:   uint32(clock),
	}
	if len(parts) == 3 {
		codec.Parameters = parts[2]
	}
	return codec, nil
}

// originID returns an NTP-format timestamp string, the conventional
// way to make the origin session id globally unique (RFC 4566).
func originID() string {
	const ntpEpochOffset = 2208988800
	return strconv.FormatUint(uint64(time.Now().Unix())+ntpEpochOffset, 10)
}
