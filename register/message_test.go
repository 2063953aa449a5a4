package register

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCookie = "uRTSP"

func TestRegisterRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		nonce []byte
	}{
		{"first round without nonce", nil},
		{"second round with nonce", []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRegisterRequest(testCookie, 3, 1724700000123, "session-abc", 7200, 9000, tt.nonce)
			assert.Equal(t, uint32(4+len("session-abc")+4+2+len(tt.nonce)), req.Header.BodyLength)

			decoded, err := ParseRegisterRequest(req.Marshal(), testCookie)
			require.NoError(t, err)

			assert.Equal(t, req.Header, decoded.Header)
			assert.Equal(t, "session-abc", decoded.ID)
			assert.Equal(t, uint32(7200), decoded.LeaseSeconds)
			assert.Equal(t, uint16(9000), decoded.ListenPort)
			assert.Equal(t, tt.nonce, decoded.Nonce)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		realm   string
		status  uint32
		reason  string
	}{
		{"register ok", TypeRegister, "", StatusOK, ""},
		{"register challenge", TypeRegister, "streaming-realm", StatusNotAuthorized, ""},
		{"register rejected", TypeRegister, "streaming-realm", StatusNotAccepted, "nonce mismatch"},
		{"unregister ok", TypeUnregister, "", StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewResponse(testCookie, tt.msgType, 1, 1724700000456, tt.realm, tt.status, tt.reason)

			decoded, err := ParseResponse(res.Marshal(), testCookie)
			require.NoError(t, err)

			assert.Equal(t, res.Header, decoded.Header)
			assert.Equal(t, tt.realm, decoded.Realm)
			assert.Equal(t, tt.status, decoded.StatusCode)
			assert.Equal(t, tt.reason, decoded.Reason)
		})
	}
}

func TestUnregisterRequestRoundTrip(t *testing.T) {
	req := NewUnregisterRequest(testCookie, 4, 1724700000789, "session-abc", 9000)
	assert.Equal(t, uint32(4+len("session-abc")+2), req.Header.BodyLength)

	decoded, err := ParseUnregisterRequest(req.Marshal(), testCookie)
	require.NoError(t, err)

	assert.Equal(t, req.Header, decoded.Header)
	assert.Equal(t, "session-abc", decoded.ID)
	assert.Equal(t, uint16(9000), decoded.ListenPort)
}

func TestParseHeaderRejectsBadFrames(t *testing.T) {
	valid := NewRegisterRequest(testCookie, 1, 1, "id", 60, 9000, nil).Marshal()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty frame", nil, ErrShortMessage},
		{"truncated header", valid[:HeaderSize(testCookie)-1], ErrShortMessage},
		{"wrong cookie", append([]byte("XRTSP"), valid[5:]...), ErrBadMagicCookie},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.data, testCookie)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseHeaderRejectsUnknownType(t *testing.T) {
	frame := NewRegisterRequest(testCookie, 1, 1, "id", 60, 9000, nil).Marshal()
	frame[len(testCookie)] = 0x7f

	_, err := ParseHeader(frame, testCookie)
	assert.Error(t, err)
}

func TestParseRegisterRequestRejectsTruncatedBody(t *testing.T) {
	frame := NewRegisterRequest(testCookie, 1, 1, "session-abc", 60, 9000, nil).Marshal()

	_, err := ParseRegisterRequest(frame[:len(frame)-3], testCookie)
	assert.ErrorIs(t, err, ErrShortMessage)
}

func TestParseRegisterRequestRejectsOverstatedBodyLength(t *testing.T) {
	nonce := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b}
	frame := NewRegisterRequest(testCookie, 1, 1, "session-abc", 60, 9000, nonce).Marshal()

	// A body length field claiming more bytes than the frame carries
	// must be rejected, never sliced.
	binary.BigEndian.PutUint32(frame[len(testCookie)+1+4+8:], 4096)

	assert.NotPanics(t, func() {
		_, err := ParseRegisterRequest(frame, testCookie)
		assert.ErrorIs(t, err, ErrShortMessage)
	})
}
