package rtsp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMarshal(t *testing.T) {
	req := &Request{
		Method: MethodSetup,
		URI:    "rtsp://192.168.1.20:8554/sample.ts",
		Headers: map[string]string{
			"CSeq":       "3",
			"User-Agent": "rtspcore",
			"Transport":  "RTP/AVP;unicast;client_port=40000-40001",
		},
	}

	text := string(req.Marshal())
	lines := strings.Split(text, "\r\n")

	assert.Equal(t, "SETUP rtsp://192.168.1.20:8554/sample.ts RTSP/1.0", lines[0])
	assert.Equal(t, "CSeq: 3", lines[1], "CSeq always leads the headers")
	assert.Contains(t, lines, "User-Agent: rtspcore")
	assert.Contains(t, lines, "Transport: RTP/AVP;unicast;client_port=40000-40001")
	assert.True(t, strings.HasSuffix(text, "\r\n\r\n"))
}

func TestRequestMarshalWithBody(t *testing.T) {
	req := &Request{
		Method:  MethodDescribe,
		URI:     "rtsp://10.0.0.1/a.ts",
		Headers: map[string]string{"CSeq": "2"},
		Body:    []byte("v=0\r\n"),
	}

	text := string(req.Marshal())

	assert.Contains(t, text, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(text, "\r\n\r\nv=0\r\n"))
}

func TestReadResponse(t *testing.T) {
	raw := "RTSP/1.0 200 OK\r\n" +
		"CSeq: 2\r\n" +
		"Content-Length: 4\r\n" +
		"Session: 181\r\n" +
		"\r\n" +
		"body"

	res, err := ReadResponse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, "OK", res.Reason)
	assert.Equal(t, "181", res.Header("Session"))
	assert.Equal(t, "181", res.Header("session"))
	assert.Equal(t, []byte("body"), res.Body)
}

func TestReadResponseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not rtsp", "HTTP/1.1 200 OK\r\n\r\n"},
		{"bad status code", "RTSP/1.0 abc OK\r\n\r\n"},
		{"truncated body", "RTSP/1.0 200 OK\r\nContent-Length: 10\r\n\r\nabc"},
		{"header without colon", "RTSP/1.0 200 OK\r\nbroken\r\n\r\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadResponse(bufio.NewReader(strings.NewReader(tt.raw)))
			assert.Error(t, err)
		})
	}
}

func TestParseSSRC(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		want      string
		ok        bool
	}{
		{"mid header", "RTP/AVP;unicast;ssrc=1A2B3C4D;mode=play", "1A2B3C4D", true},
		{"trailing", "RTP/AVP;unicast;ssrc=1A2B3C4D", "1A2B3C4D", true},
		{"missing", "RTP/AVP;unicast;client_port=40000-40001", "", false},
		{"empty value", "RTP/AVP;ssrc=;mode=play", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSSRC(tt.transport)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNPTRange(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantStart float64
		wantEnd   float64
		wantErr   bool
	}{
		{"closed range", "npt=1.500-20.000", 1.5, 20, false},
		{"open range", "npt=0.000-", 0, 0, false},
		{"no npt prefix", "clock=1.5-2.0", 0, 0, true},
		{"no dash", "npt=1.5", 0, 0, true},
		{"bad start", "npt=abc-2.0", 0, 0, true},
		{"bad end", "npt=1.0-xyz", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ParseNPTRange(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestFormatNPTRange(t *testing.T) {
	assert.Equal(t, "npt=0.000-", FormatNPTRange(0, 0))
	assert.Equal(t, "npt=1.500-20.000", FormatNPTRange(1.5, 20))
}
