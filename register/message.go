// Package register implements the proprietary UDP registration
// sub-protocol that precedes RTSP use: fixed-header binary framing,
// per-channel sequence numbers, and the two-round MD5 challenge-response
// authentication handshake.
package register

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType identifies a registration message.
type MessageType byte

const (
	TypeRegister MessageType = iota + 1
	TypeUnregister
)

// Registration status codes carried in response bodies.
const (
	StatusOK            uint32 = 200
	StatusNotAuthorized uint32 = 401
	StatusNotAccepted   uint32 = 406
)

var (
	// ErrBadMagicCookie is returned when a frame does not begin with
	// the configured magic cookie.
	ErrBadMagicCookie = errors.New("magic cookie mismatch")
	// ErrShortMessage is returned when a frame is too short for the
	// fields it claims to carry.
	ErrShortMessage = errors.New("message too short")
)

// Header is the fixed header of every registration message.
//
// Wire format (network byte order):
//
//	[MAGIC_COOKIE(len(cookie))][TYPE(1)][SEQ(4)][TIMESTAMP(8)][BODY_LENGTH(4)]
//
// BodyLength always equals the exact size of the serialized body.
type Header struct {
	MagicCookie string
	Type        MessageType
	SeqNumber   uint32
	Timestamp   uint64
	BodyLength  uint32
}

// HeaderSize returns the serialized header size for the given cookie.
func HeaderSize(cookie string) int {
	return len(cookie) + 1 + 4 + 8 + 4
}

// Marshal serializes the header.
func (h *Header) Marshal() []byte {
	data := make([]byte, HeaderSize(h.MagicCookie))
	n := copy(data, h.MagicCookie)
	data[n] = byte(h.Type)
	n++
	binary.BigEndian.PutUint32(data[n:], h.SeqNumber)
	n += 4
	binary.BigEndian.PutUint64(data[n:], h.Timestamp)
	n += 8
	binary.BigEndian.PutUint32(data[n:], h.BodyLength)
	return data
}

// ParseHeader decodes and validates a header against the configured
// magic cookie. Frames carrying a different cookie are rejected before
// any body parsing happens.
func ParseHeader(data []byte, cookie string) (*Header, error) {
	size := HeaderSize(cookie)
	if len(data) < size {
		return nil, ErrShortMessage
	}
	if string(data[:len(cookie)]) != cookie {
		return nil, ErrBadMagicCookie
	}

	n := len(cookie)
	h := &Header{
		MagicCookie: cookie,
		Type:        MessageType(data[n]),
	}
	n++
	h.SeqNumber = binary.BigEndian.Uint32(data[n:])
	n += 4
	h.Timestamp = binary.BigEndian.Uint64(data[n:])
	n += 8
	h.BodyLength = binary.BigEndian.Uint32(data[n:])

	if h.Type != TypeRegister && h.Type != TypeUnregister {
		return nil, fmt.Errorf("unknown message type %d", h.Type)
	}
	return h, nil
}

// RegisterRequest asks the server to admit a session.
//
// Body format:
//
//	[ID_LENGTH(4)][ID][LEASE_SECONDS(4)][LISTEN_PORT(2)][NONCE?]
//
// The nonce is present only on the second round of the handshake.
type RegisterRequest struct {
	Header       Header
	ID           string
	LeaseSeconds uint32
	ListenPort   uint16
	Nonce        []byte
}

// NewRegisterRequest builds a REGISTER request with a consistent
// header body length.
func NewRegisterRequest(cookie string, seq uint32, timestamp uint64, id string, lease uint32, listenPort uint16, nonce []byte) *RegisterRequest {
	req := &RegisterRequest{
		Header: Header{
			MagicCookie: cookie,
			Type:        TypeRegister,
			SeqNumber:   seq,
			Timestamp:   timestamp,
		},
		ID:           id,
		LeaseSeconds: lease,
		ListenPort:   listenPort,
		Nonce:        nonce,
	}
	req.Header.BodyLength = uint32(4 + len(id) + 4 + 2 + len(nonce))
	return req
}

// Marshal serializes the request.
func (r *RegisterRequest) Marshal() []byte {
	header := r.Header.Marshal()
	data := make([]byte, len(header)+int(r.Header.BodyLength))
	n := copy(data, header)

	binary.BigEndian.PutUint32(data[n:], uint32(len(r.ID)))
	n += 4
	n += copy(data[n:], r.ID)
	binary.BigEndian.PutUint32(data[n:], r.LeaseSeconds)
	n += 4
	binary.BigEndian.PutUint16(data[n:], r.ListenPort)
	n += 2
	copy(data[n:], r.Nonce)

	return data
}

// ParseRegisterRequest decodes a REGISTER request frame.
func ParseRegisterRequest(data []byte, cookie string) (*RegisterRequest, error) {
	h, err := ParseHeader(data, cookie)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize(cookie):]
	if len(body) < 4 {
		return nil, ErrShortMessage
	}
	// An overstated body length must never drive slicing.
	if int(h.BodyLength) > len(body) {
		return nil, ErrShortMessage
	}

	idLen := int(binary.BigEndian.Uint32(body))
	if idLen < 0 || len(body) < 4+idLen+4+2 {
		return nil, ErrShortMessage
	}

	req := &RegisterRequest{Header: *h}
	n := 4
	req.ID = string(body[n : n+idLen])
	n += idLen
	req.LeaseSeconds = binary.BigEndian.Uint32(body[n:])
	n += 4
	req.ListenPort = binary.BigEndian.Uint16(body[n:])
	n += 2
	if n < int(h.BodyLength) {
		req.Nonce = append([]byte(nil), body[n:h.BodyLength]...)
	}
	return req, nil
}

// Response carries the outcome of a REGISTER or UNREGISTER request;
// the header's message type distinguishes the two.
//
// Body format:
//
//	[REALM_LENGTH(4)][REALM][STATUS_CODE(4)][REASON_LENGTH(4)][REASON?]
type Response struct {
	Header     Header
	Realm      string
	StatusCode uint32
	Reason     string
}

// NewResponse builds a response frame with a consistent body length.
func NewResponse(cookie string, msgType MessageType, seq uint32, timestamp uint64, realm string, status uint32, reason string) *Response {
	res := &Response{
		Header: Header{
			MagicCookie: cookie,
			Type:        msgType,
			SeqNumber:   seq,
			Timestamp:   timestamp,
		},
		Realm:      realm,
		StatusCode: status,
		Reason:     reason,
	}
	res.Header.BodyLength = uint32(4 + len(realm) + 4 + 4 + len(reason))
	return res
}

// Marshal serializes the response.
func (r *Response) Marshal() []byte {
	header := r.Header.Marshal()
	data := make([]byte, len(header)+int(r.Header.BodyLength))
	n := copy(data, header)

	binary.BigEndian.PutUint32(data[n:], uint32(len(r.Realm)))
	n += 4
	n += copy(data[n:], r.Realm)
	binary.BigEndian.PutUint32(data[n:], r.StatusCode)
	n += 4
	binary.BigEndian.PutUint32(data[n:], uint32(len(r.Reason)))
	n += 4
	copy(data[n:], r.Reason)

	return data
}

// ParseResponse decodes a REGISTER or UNREGISTER response frame.
func ParseResponse(data []byte, cookie string) (*Response, error) {
	h, err := ParseHeader(data, cookie)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize(cookie):]
	if len(body) < 4 {
		return nil, ErrShortMessage
	}

	realmLen := int(binary.BigEndian.Uint32(body))
	if len(body) < 4+realmLen+4+4 {
		return nil, ErrShortMessage
	}

	res := &Response{Header: *h}
	n := 4
	res.Realm = string(body[n : n+realmLen])
	n += realmLen
	res.StatusCode = binary.BigEndian.Uint32(body[n:])
	n += 4
	reasonLen := int(binary.BigEndian.Uint32(body[n:]))
	n += 4
	if reasonLen > 0 {
		if len(body) < n+reasonLen {
			return nil, ErrShortMessage
		}
		res.Reason = string(body[n : n+reasonLen])
	}
	return res, nil
}

// UnregisterRequest releases a session admission.
//
// Body format:
//
//	[ID_LENGTH(4)][ID][LISTEN_PORT(2)]
type UnregisterRequest struct {
	Header     Header
	ID         string
	ListenPort uint16
}

// NewUnregisterRequest builds an UNREGISTER request with a consistent
// body length.
func NewUnregisterRequest(cookie string, seq uint32, timestamp uint64, id string, listenPort uint16) *UnregisterRequest {
	req := &UnregisterRequest{
		Header: Header{
			MagicCookie: cookie,
			Type:        TypeUnregister,
			SeqNumber:   seq,
			Timestamp:   timestamp,
		},
		ID:         id,
		ListenPort: listenPort,
	}
	req.Header.BodyLength = uint32(4 + len(id) + 2)
	return req
}

// Marshal serializes the request.
func (r *UnregisterRequest) Marshal() []byte {
	header := r.Header.Marshal()
	data := make([]byte, len(header)+int(r.Header.BodyLength))
	n := copy(data, header)

	binary.BigEndian.PutUint32(data[n:], uint32(len(r.ID)))
	n += 4
	n += copy(data[n:], r.ID)
	binary.BigEndian.PutUint16(data[n:], r.ListenPort)

	return data
}

// ParseUnregisterRequest decodes an UNREGISTER request frame.
func ParseUnregisterRequest(data []byte, cookie string) (*UnregisterRequest, error) {
	h, err := ParseHeader(data, cookie)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize(cookie):]
	if len(body) < 4 {
		return nil, ErrShortMessage
	}

	idLen := int(binary.BigEndian.Uint32(body))
	if len(body) < 4+idLen+2 {
		return nil, ErrShortMessage
	}

	req := &UnregisterRequest{Header: *h}
	n := 4
	req.ID = string(body[n : n+idLen])
	n += idLen
	req.ListenPort = binary.BigEndian.Uint16(body[n:])
	return req, nil
}
