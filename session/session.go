package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaxSessionID bounds the server-assigned session id.
const MaxSessionID = 100000

// Session is the model of one active stream. The id and the state
// machine exist for the whole lifetime of the Session; transport ports
// and SSRC are valid only between SETUP success and TEARDOWN.
//
// With the exception of the congestion level, mutable fields are only
// ever written from the thread handling the most recent control-channel
// response. RTSP requests are strictly sequential and never pipelined,
// so there is exactly one such thread at a time and no further locking
// is applied.
type Session struct {
	id      string
	locator string

	targetIP   string
	targetPort int

	sessionID  int64
	ssrc       string
	rtpPort    int
	rtcpPort   int
	startTime  float64
	endTime    float64
	paused     bool
	registered bool
	started    bool
	completed  bool

	// Written from the RTCP listener thread; advisory only.
	congestionLevel atomic.Int32

	machine *Machine

	tempDir      string
	baseName     string
	playlistPath string
	segmentPath  string // contains one %d verb for the segment index
	outputPath   string
}

// New creates a Session for the given resource locator. The temp file
// layout is derived from the locator's base name under tempRoot.
func New(targetIP string, targetPort int, locator, tempRoot string) *Session {
	id := uuid.NewString()

	base := strings.TrimSuffix(filepath.Base(locator), filepath.Ext(locator))
	tempDir := filepath.Join(tempRoot, base+"_tmp")

	s := &Session{
		id:           id,
		locator:      locator,
		targetIP:     targetIP,
		targetPort:   targetPort,
		machine:      NewMachine(id),
		tempDir:      tempDir,
		baseName:     base,
		playlistPath: filepath.Join(tempDir, base+".m3u8"),
		segmentPath:  filepath.Join(tempDir, base+"%d.ts"),
		outputPath:   filepath.Join(tempDir, base+".mp4"),
	}

	logrus.WithFields(logrus.Fields{
		"function": "session.New",
		"session":  id,
		"locator":  locator,
		"temp_dir": tempDir,
	}).Debug("Session created")

	return s
}

// ID returns the opaque unique session identity.
func (s *Session) ID() string { return s.id }

// Locator returns the session's resource locator.
func (s *Session) Locator() string { return s.locator }

// TargetIP returns the RTSP target host.
func (s *Session) TargetIP() string { return s.targetIP }

// TargetPort returns the RTSP target port.
func (s *Session) TargetPort() int { return s.targetPort }

// Machine returns the session's state machine handle.
func (s *Session) Machine() *Machine { return s.machine }

// SessionID returns the server-assigned session id.
func (s *Session) SessionID() int64 { return s.sessionID }

// SetSessionID stores the server-assigned session id, rejecting values
// outside the protocol's bounded range.
func (s *Session) SetSessionID(id int64) error {
	if id < 0 || id > MaxSessionID {
		return fmt.Errorf("session id %d out of range [0,%d]", id, MaxSessionID)
	}
	s.sessionID = id
	return nil
}

// SSRC returns the negotiated synchronization source token.
func (s *Session) SSRC() string { return s.ssrc }

// SetSSRC stores the server-assigned SSRC token.
func (s *Session) SetSSRC(ssrc string) { s.ssrc = ssrc }

// RTPPort returns the negotiated RTP transport port.
func (s *Session) RTPPort() int { return s.rtpPort }

// RTCPPort returns the negotiated RTCP transport port.
func (s *Session) RTCPPort() int { return s.rtcpPort }

// SetTransportPorts stores the negotiated RTP and RTCP ports.
func (s *Session) SetTransportPorts(rtp, rtcp int) {
	s.rtpPort = rtp
	s.rtcpPort = rtcp
}

// Window returns the playback time window in seconds.
func (s *Session) Window() (start, end float64) {
	return s.startTime, s.endTime
}

// SetWindow stores the playback time window. Negative values are
// clamped to zero; an end of zero means "until the stream ends".
func (s *Session) SetWindow(start, end float64) {
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	s.startTime = start
	s.endTime = end
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool { return s.paused }

// SetPaused records the paused flag.
func (s *Session) SetPaused(paused bool) { s.paused = paused }

// Registered reports whether the registration handshake completed.
func (s *Session) Registered() bool { return s.registered }

// SetRegistered records the registered flag.
func (s *Session) SetRegistered(registered bool) { s.registered = registered }

// Started reports whether the assembly stopwatch is running.
func (s *Session) Started() bool { return s.started }

// SetStarted records the started flag.
func (s *Session) SetStarted(started bool) { s.started = started }

// Completed reports whether assembly finalized this session.
func (s *Session) Completed() bool { return s.completed }

// SetCompleted records the completed flag.
func (s *Session) SetCompleted(completed bool) { s.completed = completed }

// CongestionLevel returns the advisory 0-4 congestion ordinal derived
// from RTCP fraction-lost reports.
func (s *Session) CongestionLevel() int {
	return int(s.congestionLevel.Load())
}

// SetCongestionLevel stores the advisory congestion ordinal. Safe to
// call from the RTCP listener thread.
func (s *Session) SetCongestionLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 4 {
		level = 4
	}
	s.congestionLevel.Store(int32(level))
}

// TempDir returns the per-session temp directory.
func (s *Session) TempDir() string { return s.tempDir }

// BaseName returns the locator's file name without extension.
func (s *Session) BaseName() string { return s.baseName }

// PlaylistPath returns the playlist file path.
func (s *Session) PlaylistPath() string { return s.playlistPath }

// SegmentPath returns the path of the segment file at index.
func (s *Session) SegmentPath(index int) string {
	return fmt.Sprintf(s.segmentPath, index)
}

// OutputPath returns the assembled output file path.
func (s *Session) OutputPath() string { return s.outputPath }

// Clear resets the transient session fields. When stopped is true the
// negotiated transport state is dropped as well; a pause keeps it so
// playback can resume.
func (s *Session) Clear(stopped bool) {
	if stopped {
		s.sessionID = 0
		s.ssrc = ""
		s.rtpPort = 0
		s.rtcpPort = 0
		s.startTime = 0
		s.endTime = 0
		s.paused = false
		s.completed = false
		s.congestionLevel.Store(0)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Session.Clear",
		"session":  s.id,
		"stopped":  stopped,
	}).Debug("Session cleared")
}
