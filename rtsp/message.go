// Package rtsp implements the client side of the RTSP/1.0 control
// channel: request serialization, response parsing, and the per-state
// response dispatch that drives a session from OPTIONS to TEARDOWN.
//
// The channel is strictly sequential. One request is in flight at a
// time, each request rides a fresh TCP connection, and responses are
// interpreted against the session's current state rather than the
// request method.
package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Methods issued by this client.
const (
	MethodOptions  = "OPTIONS"
	MethodDescribe = "DESCRIBE"
	MethodSetup    = "SETUP"
	MethodPlay     = "PLAY"
	MethodPause    = "PAUSE"
	MethodTeardown = "TEARDOWN"
)

// StatusOK is the only success status this client accepts.
const StatusOK = 200

const version = "RTSP/1.0"

// Request is one outbound RTSP request.
type Request struct {
	Method  string
	URI     string
	Headers map[string]string
	Body    []byte
}

// Marshal renders the request in RTSP/1.0 wire form. Header order is
// stable: CSeq first, the rest sorted.
func (r *Request) Marshal() []byte {
	var b strings.Builder

	b.WriteString(r.Method + " " + r.URI + " " + version + "\r\n")

	if cseq, ok := r.Headers["CSeq"]; ok {
		b.WriteString("CSeq: " + cseq + "\r\n")
	}

	keys := make([]string, 0, len(r.Headers))
	for key := range r.Headers {
		if key != "CSeq" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteString(key + ": " + r.Headers[key] + "\r\n")
	}

	if len(r.Body) > 0 {
		b.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")
	}
	b.WriteString("\r\n")
	b.Write(r.Body)

	return []byte(b.String())
}

// Response is one parsed inbound RTSP response.
type Response struct {
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       []byte
}

// OK reports whether the response carries the success status.
func (r *Response) OK() bool {
	return r.StatusCode == StatusOK
}

// Header returns a header value by case-insensitive name.
func (r *Response) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ReadResponse parses one RTSP response from reader, consuming the
// body per Content-Length.
func ReadResponse(reader *bufio.Reader) (*Response, error) {
	statusLine, err := readLine(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read status line: %w", err)
	}

	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, fmt.Errorf("malformed status line %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code %q", parts[1])
	}

	res := &Response{
		StatusCode: code,
		Headers:    make(map[string]string),
	}
	if len(parts) == 3 {
		res.Reason = parts[2]
	}

	for {
		line, err := readLine(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		res.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if lengthValue := res.Header("Content-Length"); lengthValue != "" {
		length, err := strconv.Atoi(lengthValue)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("malformed content length %q", lengthValue)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		res.Body = body
	}

	return res, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ParseSSRC extracts the synchronization source token from a Transport
// header: the delimited value following "ssrc=".
func ParseSSRC(transport string) (string, bool) {
	_, rest, found := strings.Cut(transport, "ssrc=")
	if !found {
		return "", false
	}
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

// ParseNPTRange decodes a Range header of the form "npt=<start>-[<end>]".
// A missing end means "until the stream ends" and is returned as zero.
func ParseNPTRange(value string) (start, end float64, err error) {
	_, rest, found := strings.Cut(value, "npt=")
	if !found {
		return 0, 0, fmt.Errorf("malformed range %q", value)
	}

	startText, endText, found := strings.Cut(rest, "-")
	if !found {
		return 0, 0, fmt.Errorf("malformed npt range %q", rest)
	}

	start, err = strconv.ParseFloat(strings.TrimSpace(startText), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed npt start %q", startText)
	}

	endText = strings.TrimSpace(endText)
	if endText != "" {
		end, err = strconv.ParseFloat(endText, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed npt end %q", endText)
		}
	}

	return start, end, nil
}

// FormatNPTRange renders the Range header value for PLAY. A zero end
// produces an open range.
func FormatNPTRange(start, end float64) string {
	if end > 0 {
		return fmt.Sprintf("npt=%.3f-%.3f", start, end)
	}
	return fmt.Sprintf("npt=%.3f-", start)
}
