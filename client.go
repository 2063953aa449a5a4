package rtspcore

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspcore/assembler"
	"github.com/opd-ai/rtspcore/config"
	"github.com/opd-ai/rtspcore/media"
	"github.com/opd-ai/rtspcore/metrics"
	"github.com/opd-ai/rtspcore/register"
	"github.com/opd-ai/rtspcore/rtsp"
	"github.com/opd-ai/rtspcore/sdp"
	"github.com/opd-ai/rtspcore/session"
	"github.com/opd-ai/rtspcore/transcode"
	"github.com/opd-ai/rtspcore/transport"
)

// Notification is a coarse session event surfaced to the embedding
// application so it can update its controls.
type Notification string

const (
	NotifyRegistered   Notification = "registered"
	NotifyUnregistered Notification = "unregistered"
	NotifyPlaying      Notification = "playing"
	NotifyPaused       Notification = "paused"
	NotifyStopped      Notification = "stopped"
	NotifyCompleted    Notification = "completed"
	NotifyFailed       Notification = "failed"
)

// ErrNotRegistered is returned by session operations invoked before the
// registration handshake has completed.
var ErrNotRegistered = errors.New("session is not registered")

// ErrNoSession is returned by operations invoked with no active
// session.
var ErrNoSession = errors.New("no active session")

// ClientContext owns one active session and every channel serving it:
// the registration datagram channel, the RTSP control channel and the
// RTP/RTCP media listeners. It replaces the usual pile of package-level
// singletons with one explicit object whose lifetime is the embedding
// application's connection scope.
//
// A ClientContext drives at most one session at a time. Operations are
// intended to be called from a single goroutine; the engine's own
// network callbacks never call back into the public operations.
type ClientContext struct {
	mu sync.Mutex

	cfg     *config.Config
	metrics *metrics.Metrics

	sess *session.Session

	registerEndpoint *transport.Endpoint
	registerDriver   *register.Driver
	registerTimer    *time.Timer

	channel *rtsp.Channel

	rtpEndpoint  *transport.Endpoint
	rtcpEndpoint *transport.Endpoint

	playlistQueue *media.Queue
	mediaQueue    *media.Queue
	demux         *media.Demultiplexer
	files         *assembler.FileManager
	assembler     *assembler.Assembler
	transcoder    *transcode.FFmpeg

	// OnNotify receives session notifications. It runs on whichever
	// goroutine produced the event and must not block.
	OnNotify func(Notification)
	// OnComplete receives the assembled output path after a recording
	// finalizes. Same calling contract as OnNotify.
	OnComplete func(outputPath string)
}

// NewClientContext creates a context from cfg. m may be nil to run
// without metrics.
func NewClientContext(cfg *config.Config, m *metrics.Metrics) *ClientContext {
	return &ClientContext{
		cfg:        cfg,
		metrics:    m,
		transcoder: transcode.New(cfg.Transcode.FFmpegPath),
	}
}

// Session returns the active session, or nil.
func (c *ClientContext) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Register creates a session for locator and starts the registration
// handshake. The locator may be an rtsp:// URI or a local media path,
// which is rewritten against the configured RTSP target.
func (c *ClientContext) Register(locator string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return errors.New("a session is already active")
	}

	uri, err := c.normalizeLocator(locator)
	if err != nil {
		return err
	}

	sess := session.New(c.cfg.RTSP.TargetRTSPIP, c.cfg.RTSP.TargetRTSPPort, uri, c.cfg.Transcode.TempRootPath)

	listenAddr := fmt.Sprintf("%s:%d", c.cfg.Network.LocalListenIP, c.cfg.Network.LocalListenPort)
	endpoint, err := transport.NewEndpoint(listenAddr, 8192)
	if err != nil {
		return fmt.Errorf("failed to open registration channel: %w", err)
	}

	target, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", c.cfg.Network.TargetIP, c.cfg.Network.TargetPort))
	if err != nil {
		endpoint.Close()
		return fmt.Errorf("failed to resolve registration target: %w", err)
	}

	driver := register.NewDriver(
		c.cfg.Register.MagicCookie,
		c.cfg.Register.HashKey,
		uint32(c.cfg.Register.LeaseSeconds),
		uint16(c.cfg.Network.LocalListenPort),
		sess.ID(),
		endpoint,
		target,
	)
	driver.OnRegistered = func() { c.handleRegistered() }
	driver.OnUnregistered = func() { c.handleUnregistered() }
	driver.OnFailure = func(status uint32, reason string) { c.handleRegisterFailure(status, reason) }
	endpoint.SetHandler(driver.HandleDatagram)

	c.sess = sess
	c.registerEndpoint = endpoint
	c.registerDriver = driver
	c.registerTimer = time.AfterFunc(c.cfg.Register.Timeout, func() { c.handleRegisterTimeout() })

	if err := driver.Register(); err != nil {
		c.teardownRegistrationLocked()
		c.sess = nil
		return err
	}
	return nil
}

// Unregister releases the session's registration. The session stays
// allocated until the response arrives or Close is called.
func (c *ClientContext) Unregister() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return ErrNoSession
	}
	if c.registerDriver == nil {
		return ErrNotRegistered
	}
	return c.registerDriver.Unregister()
}

// Open starts the RTSP control ladder. On success the ladder runs all
// the way to PLAY on the response-handling goroutines.
func (c *ClientContext) Open() error {
	c.mu.Lock()
	sess, channel := c.sess, c.channel
	c.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	if !sess.Registered() || channel == nil {
		return ErrNotRegistered
	}
	return channel.Start()
}

// Play resumes a paused session.
func (c *ClientContext) Play() error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return ErrNotRegistered
	}
	return channel.Play()
}

// Pause pauses a playing session. Recording files stay on disk so
// playback can resume.
func (c *ClientContext) Pause() error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return ErrNotRegistered
	}
	return channel.Pause()
}

// Stop tears the session down. Calling it on an idle session is a
// no-op.
func (c *ClientContext) Stop() error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return ErrNotRegistered
	}
	return channel.Teardown()
}

// Close releases every channel and drops the session. It is safe to
// call at any time and repeatedly.
func (c *ClientContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.assembler != nil {
		c.assembler.Stop()
		c.assembler = nil
	}
	c.closeMediaLocked()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.teardownRegistrationLocked()

	if c.sess != nil {
		c.sess.Machine().Reset()
		c.sess = nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "ClientContext.Close",
	}).Debug("Client context closed")
}

// BuildLocalDescription implements rtsp.Hooks.
func (c *ClientContext) BuildLocalDescription() (*sdp.Description, error) {
	templates := sdp.Templates{
		Version:       c.cfg.SDP.Version,
		Origin:        c.cfg.SDP.Origin,
		SessionName:   c.cfg.SDP.SessionName,
		Time:          c.cfg.SDP.Time,
		Connection:    c.cfg.SDP.Connection,
		Media:         c.cfg.SDP.Media,
		MP2TAttribute: c.cfg.SDP.MP2TAttribute,
		Attributes:    c.cfg.SDP.Attributes,
	}
	return sdp.BuildLocal(templates, c.cfg.Network.LocalListenIP, c.cfg.Network.LocalRTPPort)
}

// OpenMedia implements rtsp.Hooks: it binds the RTP and RTCP listeners
// and wires the demultiplexer and the assembler pipeline.
func (c *ClientContext) OpenMedia(remotePort int) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return 0, 0, ErrNoSession
	}

	rtpAddr := fmt.Sprintf("%s:%d", c.cfg.Network.LocalListenIP, c.cfg.Network.LocalRTPPort)
	rtpEndpoint, err := transport.NewEndpoint(rtpAddr, c.cfg.Common.RecvBufSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open rtp listener: %w", err)
	}

	rtcpAddr := fmt.Sprintf("%s:%d", c.cfg.Network.LocalListenIP, c.cfg.Network.LocalRTCPPort)
	rtcpEndpoint, err := transport.NewEndpoint(rtcpAddr, 8192)
	if err != nil {
		rtpEndpoint.Close()
		return 0, 0, fmt.Errorf("failed to open rtcp listener: %w", err)
	}

	c.playlistQueue = media.NewQueue()
	c.mediaQueue = media.NewQueue()
	c.demux = media.NewDemultiplexer(c.sess.ID(), c.playlistQueue, c.mediaQueue, c.metrics)
	rtpEndpoint.SetHandler(c.demux.HandleDatagram)
	rtcpEndpoint.SetHandler(media.NewRTCPListener(c.sess).HandleDatagram)

	c.files = assembler.NewFileManager(c.sess, int64(c.cfg.Common.PlaylistSize)*1024*1024, 0, c.metrics)
	c.assembler = assembler.New(
		c.sess,
		c.playlistQueue,
		c.mediaQueue,
		c.files,
		assembler.NewMarkerDetector(""),
		c.transcoder,
		c.cfg.RTSP.RTPTimeout,
		c.metrics,
	)
	c.assembler.OnComplete = func() { c.handleComplete() }
	c.demux.OnActivity = c.assembler.Touch

	c.rtpEndpoint = rtpEndpoint
	c.rtcpEndpoint = rtcpEndpoint

	logrus.WithFields(logrus.Fields{
		"function":    "ClientContext.OpenMedia",
		"session":     c.sess.ID(),
		"remote_port": remotePort,
		"rtp_addr":    rtpAddr,
	}).Info("Media transport opened")

	return c.cfg.Network.LocalRTPPort, c.cfg.Network.LocalRTCPPort, nil
}

// OnPlaying implements rtsp.Hooks.
func (c *ClientContext) OnPlaying() {
	c.mu.Lock()
	job := c.assembler
	c.mu.Unlock()

	if job != nil {
		job.Start()
	}
	c.notify(NotifyPlaying)
}

// OnPaused implements rtsp.Hooks.
func (c *ClientContext) OnPaused() {
	c.mu.Lock()
	job := c.assembler
	sess := c.sess
	c.mu.Unlock()

	if job != nil {
		job.Stop()
	}
	if sess != nil {
		sess.Clear(false)
	}
	c.notify(NotifyPaused)
}

// OnStopped implements rtsp.Hooks: teardown succeeded, so the assembly
// job stops, the retention policy is applied and transient session
// state clears.
func (c *ClientContext) OnStopped() {
	c.mu.Lock()
	job := c.assembler
	files := c.files
	sess := c.sess
	c.assembler = nil
	c.files = nil
	c.closeMediaLocked()
	c.mu.Unlock()

	if job != nil {
		job.Stop()
	}
	if files != nil {
		files.ApplyRetention(
			c.cfg.Transcode.DeletePlaylist,
			c.cfg.Transcode.DeleteSegments,
			c.cfg.Transcode.DeleteOutput,
		)
	}
	if sess != nil {
		sess.Clear(true)
	}
	c.notify(NotifyStopped)
}

// OnFailure implements rtsp.Hooks.
func (c *ClientContext) OnFailure(state session.State) {
	c.mu.Lock()
	job := c.assembler
	c.mu.Unlock()

	if job != nil {
		job.Stop()
	}

	logrus.WithFields(logrus.Fields{
		"function": "ClientContext.OnFailure",
		"state":    state,
	}).Warn("Control operation failed")

	c.notify(NotifyFailed)
}

func (c *ClientContext) handleRegistered() {
	c.mu.Lock()
	sess := c.sess
	if c.registerTimer != nil {
		c.registerTimer.Stop()
		c.registerTimer = nil
	}
	c.mu.Unlock()

	if sess == nil {
		return
	}
	c.metrics.RegisterResponse("200")
	sess.SetRegistered(true)

	_, effects := sess.Machine().Fire(session.EventRegister)
	for _, effect := range effects {
		if effect == session.EffectOpenControl {
			c.openControl(sess)
		}
	}
	c.notify(NotifyRegistered)
}

func (c *ClientContext) handleUnregistered() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		sess.SetRegistered(false)
	}
	c.notify(NotifyUnregistered)
}

func (c *ClientContext) handleRegisterFailure(status uint32, reason string) {
	c.metrics.RegisterResponse(fmt.Sprintf("%d", status))

	logrus.WithFields(logrus.Fields{
		"function": "ClientContext.handleRegisterFailure",
		"status":   status,
		"reason":   reason,
	}).Warn("Registration failed")

	c.mu.Lock()
	if c.registerTimer != nil {
		c.registerTimer.Stop()
		c.registerTimer = nil
	}
	c.mu.Unlock()

	c.notify(NotifyFailed)
}

func (c *ClientContext) handleRegisterTimeout() {
	c.mu.Lock()
	sess := c.sess
	c.registerTimer = nil
	if sess == nil || sess.Registered() {
		c.mu.Unlock()
		return
	}
	// Release the channel and the session slot so a later Register can
	// start over.
	c.teardownRegistrationLocked()
	c.sess = nil
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ClientContext.handleRegisterTimeout",
		"session":  sess.ID(),
	}).Warn("Registration timed out")

	c.notify(NotifyFailed)
}

func (c *ClientContext) handleComplete() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	c.notify(NotifyCompleted)
	if c.OnComplete != nil && sess != nil {
		c.OnComplete(sess.OutputPath())
	}
}

// openControl creates the RTSP control channel once registration
// completes.
func (c *ClientContext) openControl(sess *session.Session) {
	target := fmt.Sprintf("%s:%d", c.cfg.RTSP.TargetRTSPIP, c.cfg.RTSP.TargetRTSPPort)
	channel := rtsp.NewChannel(
		sess,
		c,
		target,
		c.cfg.RTSP.UserAgent,
		c.cfg.RTSP.ConnectTimeout,
		c.cfg.RTSP.ResponseTimeout,
		c.metrics,
	)

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ClientContext.openControl",
		"session":  sess.ID(),
		"target":   target,
	}).Info("Control channel ready")
}

// normalizeLocator rewrites a local media path into an rtsp:// URI
// against the configured RTSP target. An rtsp:// locator passes
// through unchanged; anything else is rejected.
func (c *ClientContext) normalizeLocator(locator string) (string, error) {
	if len(locator) == 0 {
		return "", errors.New("empty locator")
	}
	if len(locator) > c.cfg.RTSP.URILimit {
		return "", fmt.Errorf("locator exceeds %d characters", c.cfg.RTSP.URILimit)
	}
	if strings.HasPrefix(locator, "rtsp://") {
		return locator, nil
	}
	if strings.HasPrefix(locator, "/") {
		return fmt.Sprintf("rtsp://%s:%d%s", c.cfg.RTSP.TargetRTSPIP, c.cfg.RTSP.TargetRTSPPort, locator), nil
	}
	return "", fmt.Errorf("unsupported locator %q", locator)
}

func (c *ClientContext) closeMediaLocked() {
	if c.rtpEndpoint != nil {
		c.rtpEndpoint.Close()
		c.rtpEndpoint = nil
	}
	if c.rtcpEndpoint != nil {
		c.rtcpEndpoint.Close()
		c.rtcpEndpoint = nil
	}
	if c.playlistQueue != nil {
		c.playlistQueue.Clear()
	}
	if c.mediaQueue != nil {
		c.mediaQueue.Clear()
	}
}

func (c *ClientContext) teardownRegistrationLocked() {
	if c.registerTimer != nil {
		c.registerTimer.Stop()
		c.registerTimer = nil
	}
	if c.registerDriver != nil {
		c.registerDriver.Reset()
		c.registerDriver = nil
	}
	if c.registerEndpoint != nil {
		c.registerEndpoint.Close()
		c.registerEndpoint = nil
	}
}

func (c *ClientContext) notify(n Notification) {
	if c.OnNotify != nil {
		c.OnNotify(n)
	}
}
