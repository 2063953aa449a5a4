package register

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Channel is the datagram send surface the driver writes to. It is
// satisfied by *transport.Endpoint.
type Channel interface {
	Send(data []byte, addr net.Addr) error
}

// Driver executes the registration handshake for one session and keeps
// the per-channel sequence discipline: numbers increase by one per
// message sent and reset to 1 only when the channel closes.
type Driver struct {
	mu sync.Mutex

	cookie     string
	hashKey    string
	lease      uint32
	listenPort uint16

	sessionID string
	channel   Channel
	target    net.Addr

	seq uint32

	// OnRegistered fires when a REGISTER round completes with status
	// 200. OnUnregistered fires on a 200 UNREGISTER response.
	// OnFailure fires on any terminal non-200/401 REGISTER status.
	OnRegistered   func()
	OnUnregistered func()
	OnFailure      func(status uint32, reason string)
}

// NewDriver creates a registration driver bound to one session id.
func NewDriver(cookie, hashKey string, lease uint32, listenPort uint16, sessionID string, channel Channel, target net.Addr) *Driver {
	return &Driver{
		cookie:     cookie,
		hashKey:    hashKey,
		lease:      lease,
		listenPort: listenPort,
		sessionID:  sessionID,
		channel:    channel,
		target:     target,
		seq:        1,
	}
}

// Register sends the first, nonce-free REGISTER round.
func (d *Driver) Register() error {
	return d.sendRegister(nil)
}

// Unregister sends the single-round UNREGISTER request.
func (d *Driver) Unregister() error {
	req := NewUnregisterRequest(d.cookie, d.nextSeq(), now(), d.sessionID, d.listenPort)

	logrus.WithFields(logrus.Fields{
		"function": "Driver.Unregister",
		"session":  d.sessionID,
		"seq":      req.Header.SeqNumber,
	}).Debug("Sending UNREGISTER")

	if err := d.channel.Send(req.Marshal(), d.target); err != nil {
		return fmt.Errorf("failed to send unregister: %w", err)
	}
	return nil
}

// HandleDatagram processes one inbound registration frame. Malformed
// frames are dropped with a warning and have no session-level effect.
func (d *Driver) HandleDatagram(data []byte, addr net.Addr) {
	header, err := ParseHeader(data, d.cookie)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Driver.HandleDatagram",
			"session":  d.sessionID,
			"from":     addr.String(),
			"error":    err.Error(),
		}).Warn("Dropping malformed registration frame")
		return
	}

	switch header.Type {
	case TypeRegister:
		d.handleRegisterResponse(data)
	case TypeUnregister:
		d.handleUnregisterResponse(data)
	}
}

// Reset returns the sequence counter to 1. Called when the channel
// closes; a 401 retry does NOT reset it.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq = 1
}

func (d *Driver) handleRegisterResponse(data []byte) {
	res, err := ParseResponse(data, d.cookie)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Driver.handleRegisterResponse",
			"session":  d.sessionID,
			"error":    err.Error(),
		}).Warn("Dropping malformed REGISTER response")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Driver.handleRegisterResponse",
		"session":  d.sessionID,
		"status":   res.StatusCode,
		"realm":    res.Realm,
	}).Debug("REGISTER response received")

	switch res.StatusCode {
	case StatusOK:
		if d.OnRegistered != nil {
			d.OnRegistered()
		}
	case StatusNotAuthorized:
		// Second handshake round: answer the challenge with the
		// nonce derived from the advertised realm.
		nonce := ComputeNonce(res.Realm, d.hashKey)
		if err := d.sendRegister(nonce); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Driver.handleRegisterResponse",
				"session":  d.sessionID,
				"error":    err.Error(),
			}).Warn("Failed to send challenge response")
		}
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Driver.handleRegisterResponse",
			"session":  d.sessionID,
			"status":   res.StatusCode,
			"reason":   res.Reason,
		}).Warn("Registration rejected")
		if d.OnFailure != nil {
			d.OnFailure(res.StatusCode, res.Reason)
		}
	}
}

func (d *Driver) handleUnregisterResponse(data []byte) {
	res, err := ParseResponse(data, d.cookie)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Driver.handleUnregisterResponse",
			"session":  d.sessionID,
			"error":    err.Error(),
		}).Warn("Dropping malformed UNREGISTER response")
		return
	}

	if res.StatusCode == StatusOK {
		if d.OnUnregistered != nil {
			d.OnUnregistered()
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Driver.handleUnregisterResponse",
		"session":  d.sessionID,
		"status":   res.StatusCode,
		"reason":   res.Reason,
	}).Warn("Failed to unregister the session")
}

func (d *Driver) sendRegister(nonce []byte) error {
	req := NewRegisterRequest(d.cookie, d.nextSeq(), now(), d.sessionID, d.lease, d.listenPort, nonce)

	logrus.WithFields(logrus.Fields{
		"function":  "Driver.sendRegister",
		"session":   d.sessionID,
		"seq":       req.Header.SeqNumber,
		"has_nonce": len(nonce) > 0,
	}).Debug("Sending REGISTER")

	if err := d.channel.Send(req.Marshal(), d.target); err != nil {
		return fmt.Errorf("failed to send register: %w", err)
	}
	return nil
}

func (d *Driver) nextSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq := d.seq
	d.seq++
	return seq
}

func now() uint64 {
	return uint64(time.Now().UnixMilli())
}
