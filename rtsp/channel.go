package rtsp

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspcore/metrics"
	"github.com/opd-ai/rtspcore/sdp"
	"github.com/opd-ai/rtspcore/session"
)

// Hooks are the engine callbacks the channel drives while walking the
// control ladder. Satisfied by the root ClientContext.
type Hooks interface {
	// BuildLocalDescription synthesizes the local SDP announcing the
	// local RTP listen port.
	BuildLocalDescription() (*sdp.Description, error)
	// OpenMedia opens the RTP and RTCP listeners toward the announced
	// remote media port and returns the chosen local ports.
	OpenMedia(remotePort int) (rtpPort, rtcpPort int, err error)
	// OnPlaying fires after a successful PLAY response.
	OnPlaying()
	// OnPaused fires after a successful PAUSE response.
	OnPaused()
	// OnStopped fires after a successful TEARDOWN response.
	OnStopped()
	// OnFailure fires when an operation aborts, with the state that was
	// in flight.
	OnFailure(state session.State)
}

// Channel drives the RTSP control plane for one session. Every request
// opens a fresh TCP connection to the target; the channel never reuses
// a connection. Requests are strictly sequential, relying on the
// single-writer contract documented on Session.
type Channel struct {
	sess  *session.Session
	hooks Hooks

	targetAddr      string
	userAgent       string
	connectTimeout  time.Duration
	responseTimeout time.Duration
	metrics         *metrics.Metrics

	mu   sync.Mutex
	cseq int
}

// NewChannel creates a control channel for sess against targetAddr
// (host:port). metrics may be nil.
func NewChannel(sess *session.Session, hooks Hooks, targetAddr, userAgent string, connectTimeout, responseTimeout time.Duration, m *metrics.Metrics) *Channel {
	return &Channel{
		sess:            sess,
		hooks:           hooks,
		targetAddr:      targetAddr,
		userAgent:       userAgent,
		connectTimeout:  connectTimeout,
		responseTimeout: responseTimeout,
		metrics:         m,
		cseq:            1,
	}
}

// Start opens the control ladder by sending OPTIONS.
func (c *Channel) Start() error {
	return c.Options()
}

// Close resets the per-channel sequence counter. There is no held
// connection to tear down; each request owns its own.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cseq = 1

	logrus.WithFields(logrus.Fields{
		"function": "Channel.Close",
		"session":  c.sess.ID(),
	}).Debug("Control channel closed")
}

// Options sends OPTIONS and dispatches the response.
func (c *Channel) Options() error {
	return c.roundTrip(MethodOptions, session.EventOptionsSent, nil)
}

// Describe sends DESCRIBE and dispatches the response.
func (c *Channel) Describe() error {
	return c.roundTrip(MethodDescribe, "", map[string]string{
		"Accept": "application/sdp",
	})
}

// Setup sends SETUP announcing the local client ports.
func (c *Channel) Setup() error {
	transport := fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", c.sess.RTPPort(), c.sess.RTCPPort())
	return c.roundTrip(MethodSetup, session.EventSetupSent, map[string]string{
		"Transport": transport,
	})
}

// Play sends PLAY for the session's current playback window.
func (c *Channel) Play() error {
	start, end := c.sess.Window()
	return c.roundTrip(MethodPlay, session.EventPlaySent, map[string]string{
		"Session": strconv.FormatInt(c.sess.SessionID(), 10),
		"Range":   FormatNPTRange(start, end),
	})
}

// Pause sends PAUSE.
func (c *Channel) Pause() error {
	return c.roundTrip(MethodPause, session.EventPauseSent, map[string]string{
		"Session": strconv.FormatInt(c.sess.SessionID(), 10),
	})
}

// Teardown sends TEARDOWN. Calling it on an already idle session is a
// no-op, so the teardown path is idempotent.
func (c *Channel) Teardown() error {
	if c.sess.Machine().State() == session.StateIdle {
		return nil
	}
	return c.roundTrip(MethodTeardown, session.EventTeardownSent, map[string]string{
		"Session": strconv.FormatInt(c.sess.SessionID(), 10),
	})
}

// roundTrip performs one request/response exchange: fire the sent
// event, transmit on a fresh connection, read the response under the
// response deadline, and dispatch it against the current state. A
// transport fault is handled like a failure response.
func (c *Channel) roundTrip(method string, sent session.Event, headers map[string]string) error {
	if sent != "" {
		c.sess.Machine().Fire(sent)
	}

	req := &Request{
		Method:  method,
		URI:     c.sess.Locator(),
		Headers: map[string]string{
			"CSeq":       strconv.Itoa(c.nextCSeq()),
			"User-Agent": c.userAgent,
		},
	}
	for name, value := range headers {
		req.Headers[name] = value
	}

	logrus.WithFields(logrus.Fields{
		"function": "Channel.roundTrip",
		"session":  c.sess.ID(),
		"method":   method,
		"cseq":     req.Headers["CSeq"],
	}).Debug("Sending RTSP request")

	res, err := c.exchange(req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.roundTrip",
			"session":  c.sess.ID(),
			"method":   method,
			"error":    err.Error(),
		}).Warn("RTSP transport fault")
		c.abort()
		return err
	}

	c.metrics.RTSPResponse(string(c.sess.Machine().State()), statusClass(res.StatusCode))
	c.dispatch(res)
	return nil
}

// exchange writes req over a fresh TCP connection and reads one
// response.
func (c *Channel) exchange(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("tcp", c.targetAddr, c.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.targetAddr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.responseTimeout)); err != nil {
		return nil, fmt.Errorf("failed to arm response deadline: %w", err)
	}

	if _, err := conn.Write(req.Marshal()); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	res, err := ReadResponse(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return res, nil
}

// dispatch interprets a response against the session's current state.
func (c *Channel) dispatch(res *Response) {
	state := c.sess.Machine().State()

	logrus.WithFields(logrus.Fields{
		"function": "Channel.dispatch",
		"session":  c.sess.ID(),
		"state":    state,
		"status":   res.StatusCode,
	}).Debug("RTSP response received")

	switch state {
	case session.StateOptions:
		c.handleOptions(res)
	case session.StateDescribe:
		c.handleDescribe(res)
	case session.StateSetup:
		c.handleSetup(res)
	case session.StatePlay:
		c.handlePlay(res)
	case session.StatePause:
		c.handlePause(res)
	case session.StateStop:
		c.handleTeardown(res)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Channel.dispatch",
			"session":  c.sess.ID(),
			"state":    state,
		}).Warn("Dropping response with no handler for current state")
	}
}

func (c *Channel) handleOptions(res *Response) {
	if !res.OK() {
		c.fail(session.EventOptionsFail)
		return
	}
	c.sess.Machine().Fire(session.EventOptionsOK)

	if err := c.Describe(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleOptions",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Failed to send DESCRIBE")
	}
}

// handleDescribe advances on the status line alone; the description
// body is handled as its own content frame once the state is
// SDP_READY. Each request uses its own connection, so a 200 with no
// body can never be completed by a later frame and counts as a
// failed DESCRIBE.
func (c *Channel) handleDescribe(res *Response) {
	if !res.OK() {
		c.fail(session.EventDescribeFail)
		return
	}
	c.sess.Machine().Fire(session.EventDescribeOK)

	if len(res.Body) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleDescribe",
			"session":  c.sess.ID(),
		}).Warn("DESCRIBE response carried no session description")
		c.fail(session.EventDescribeFail)
		return
	}
	c.handleContent(res.Body)
}

// handleContent processes the SDP content frame: parse the remote
// description, negotiate a codec, open the media path and send SETUP.
// A codec mismatch aborts with TEARDOWN instead of proceeding.
func (c *Channel) handleContent(body []byte) {
	remote, err := sdp.Parse(body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleContent",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Malformed SDP body")
		c.fail(session.EventDescribeFail)
		return
	}

	remotePort, err := remote.MediaPort(sdp.MediaVideo)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleContent",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Remote SDP has no usable media")
		c.fail(session.EventDescribeFail)
		return
	}

	local, err := c.hooks.BuildLocalDescription()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleContent",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Failed to build local SDP")
		c.fail(session.EventDescribeFail)
		return
	}

	codec, err := sdp.Negotiate(local, remote, sdp.MediaVideo)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleContent",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Codec negotiation failed, tearing down")
		if err := c.Teardown(); err != nil {
			c.abort()
		}
		return
	}

	rtpPort, rtcpPort, err := c.hooks.OpenMedia(remotePort)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleContent",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Failed to open media transport")
		c.fail(session.EventDescribeFail)
		return
	}
	c.sess.SetTransportPorts(rtpPort, rtcpPort)

	logrus.WithFields(logrus.Fields{
		"function":    "Channel.handleContent",
		"session":     c.sess.ID(),
		"codec":       codec.Name,
		"remote_port": remotePort,
		"rtp_port":    rtpPort,
	}).Info("Session description negotiated")

	if err := c.Setup(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleContent",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Failed to send SETUP")
	}
}

func (c *Channel) handleSetup(res *Response) {
	if !res.OK() {
		c.fail(session.EventSetupFail)
		return
	}

	if value := res.Header("Session"); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			err = c.sess.SetSessionID(id)
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Channel.handleSetup",
				"session":  c.sess.ID(),
				"value":    value,
				"error":    err.Error(),
			}).Warn("Rejecting SETUP response with bad session id")
			c.fail(session.EventSetupFail)
			return
		}
	}

	if ssrc, ok := ParseSSRC(res.Header("Transport")); ok {
		c.sess.SetSSRC(ssrc)
	}

	if err := c.Play(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.handleSetup",
			"session":  c.sess.ID(),
			"error":    err.Error(),
		}).Warn("Failed to send PLAY")
	}
}

func (c *Channel) handlePlay(res *Response) {
	if !res.OK() {
		c.fail(session.EventPlayFail)
		return
	}

	if value := res.Header("Range"); value != "" {
		start, end, err := ParseNPTRange(value)
		if err == nil {
			c.sess.SetWindow(start, end)
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "Channel.handlePlay",
				"session":  c.sess.ID(),
				"range":    value,
				"error":    err.Error(),
			}).Warn("Ignoring malformed Range header")
		}
	}

	c.sess.SetPaused(false)
	c.sess.Machine().Fire(session.EventPlayOK)
	c.hooks.OnPlaying()
}

// handlePause treats a rejected PAUSE as the remote side having ended
// the stream and executes the machine's teardown effect.
func (c *Channel) handlePause(res *Response) {
	if !res.OK() {
		_, effects := c.sess.Machine().Fire(session.EventPauseFail)
		c.execute(effects)
		return
	}

	c.sess.SetPaused(true)
	c.sess.Machine().Fire(session.EventPauseOK)
	c.hooks.OnPaused()
}

func (c *Channel) handleTeardown(res *Response) {
	if !res.OK() {
		// Terminal; no automatic retry.
		c.sess.Machine().Fire(session.EventTeardownFail)
		c.hooks.OnFailure(session.StateStop)
		return
	}

	c.sess.Machine().Fire(session.EventTeardownOK)
	c.hooks.OnStopped()
	c.Close()
}

// fail closes the channel, fires event and notifies the failure hook.
func (c *Channel) fail(event session.Event) {
	state := c.sess.Machine().State()
	c.Close()
	_, effects := c.sess.Machine().Fire(event)
	c.execute(effects)
	c.hooks.OnFailure(state)
}

// abort reverts the in-flight operation after a transport fault using
// the failure event that matches the current state.
func (c *Channel) abort() {
	state := c.sess.Machine().State()
	event, ok := failureEvent(state)
	if !ok {
		return
	}
	c.fail(event)
}

// execute runs the effects returned by a transition.
func (c *Channel) execute(effects []session.Effect) {
	for _, effect := range effects {
		switch effect {
		case session.EffectSendTeardown:
			if err := c.Teardown(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Channel.execute",
					"session":  c.sess.ID(),
					"error":    err.Error(),
				}).Warn("Failed to send TEARDOWN")
			}
		case session.EffectOpenControl:
			// Handled by the registration path, never produced here.
		}
	}
}

func (c *Channel) nextCSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cseq := c.cseq
	c.cseq++
	return cseq
}

// failureEvent maps an in-flight state to its failure event.
func failureEvent(state session.State) (session.Event, bool) {
	switch state {
	case session.StateOptions:
		return session.EventOptionsFail, true
	case session.StateDescribe, session.StateSDPReady:
		return session.EventDescribeFail, true
	case session.StateSetup:
		return session.EventSetupFail, true
	case session.StatePlay:
		return session.EventPlayFail, true
	case session.StatePause:
		return session.EventPauseFail, true
	case session.StateStop:
		return session.EventTeardownFail, true
	default:
		return "", false
	}
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
