package assembler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspcore/media"
	"github.com/opd-ai/rtspcore/metrics"
	"github.com/opd-ai/rtspcore/session"
)

// Transcoder produces a single playable file from the assembled
// recording. Satisfied by *transcode.FFmpeg.
type Transcoder interface {
	Convert(src, dst string)
}

// Assembler is the recurring job that drains the handoff queues into
// segment files while the session plays. One playlist chunk is written
// before any media, then one media chunk per tick; an inactivity
// stopwatch compared against the RTP timeout on each empty tick decides
// when the stream has ended.
type Assembler struct {
	mu sync.Mutex

	sess     *session.Session
	playlist *media.Queue
	mediaQ   *media.Queue
	files    *FileManager
	detector BoundaryDetector
	trans    Transcoder
	metrics  *metrics.Metrics

	interval   time.Duration
	rtpTimeout time.Duration

	lastActivity time.Time
	haveList     bool
	running      bool
	stop         chan struct{}

	// OnComplete fires once after finalization, off the tick goroutine
	// lock but on its goroutine; it must not block for long.
	OnComplete func()
}

// New creates an assembler for sess. interval is the tick period and
// rtpTimeout the inactivity threshold that finalizes the session.
func New(sess *session.Session, playlist, mediaQ *media.Queue, files *FileManager, detector BoundaryDetector, trans Transcoder, rtpTimeout time.Duration, m *metrics.Metrics) *Assembler {
	if detector == nil {
		detector = NewMarkerDetector("")
	}
	return &Assembler{
		sess:       sess,
		playlist:   playlist,
		mediaQ:     mediaQ,
		files:      files,
		detector:   detector,
		trans:      trans,
		metrics:    m,
		interval:   20 * time.Millisecond,
		rtpTimeout: rtpTimeout,
	}
}

// Start launches the tick loop. Starting an already running assembler
// is a no-op.
func (a *Assembler) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return
	}
	a.running = true
	a.lastActivity = time.Now()
	a.stop = make(chan struct{})
	a.sess.SetStarted(true)

	go a.run(a.stop)

	logrus.WithFields(logrus.Fields{
		"function": "Assembler.Start",
		"session":  a.sess.ID(),
	}).Debug("Assembly job started")
}

// Stop halts the tick loop without finalizing. Safe to call repeatedly.
func (a *Assembler) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Assembler) stopLocked() {
	if !a.running {
		return
	}
	a.running = false
	close(a.stop)
	a.sess.SetStarted(false)

	logrus.WithFields(logrus.Fields{
		"function": "Assembler.Stop",
		"session":  a.sess.ID(),
	}).Debug("Assembly job stopped")
}

// Running reports whether the tick loop is active.
func (a *Assembler) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Touch restarts the inactivity stopwatch. Wired to the demultiplexer's
// activity callback.
func (a *Assembler) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivity = time.Now()
}

func (a *Assembler) run(stop chan struct{}) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick is one unit of work. Faults are caught here and never escape
// the job goroutine.
func (a *Assembler) tick() {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Assembler.tick",
				"session":  a.sess.ID(),
				"panic":    r,
			}).Error("Assembly tick failed")
		}
	}()

	a.mu.Lock()
	running := a.running
	haveList := a.haveList
	a.mu.Unlock()

	if !running {
		return
	}

	if !haveList {
		a.consumePlaylist()
		return
	}
	a.consumeMedia()
}

func (a *Assembler) consumePlaylist() {
	chunk := a.playlist.Poll()
	if chunk == nil {
		a.checkTimeout()
		return
	}

	count, err := a.files.WritePlaylist(chunk)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Assembler.consumePlaylist",
			"session":  a.sess.ID(),
			"error":    err.Error(),
		}).Warn("Failed to store playlist chunk")
		return
	}

	a.mu.Lock()
	a.haveList = true
	a.lastActivity = time.Now()
	a.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Assembler.consumePlaylist",
		"session":  a.sess.ID(),
		"segments": count,
	}).Info("Playlist parsed")
}

func (a *Assembler) consumeMedia() {
	chunk := a.mediaQ.Poll()
	if chunk == nil {
		a.checkTimeout()
		return
	}

	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()

	// A marker in the chunk closes the current segment; the marker
	// chunk itself opens the next one. A marker before any bytes have
	// been written does not advance.
	if a.files.CurrentSize() > 0 && a.detector.Boundary(chunk) {
		if !a.files.Advance() {
			return
		}
	}

	if err := a.files.WriteSegment(chunk); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Assembler.consumeMedia",
			"session":  a.sess.ID(),
			"index":    a.files.Index(),
			"error":    err.Error(),
		}).Warn("Dropping media chunk")
	}
	a.metrics.QueueDepth("media", a.mediaQ.Len())
}

func (a *Assembler) checkTimeout() {
	a.mu.Lock()
	idle := time.Since(a.lastActivity)
	a.mu.Unlock()

	if idle <= a.rtpTimeout {
		return
	}
	a.finalize()
}

// finalize declares the stream over: the recording is handed to the
// transcoder, the session is marked complete and the job stops.
func (a *Assembler) finalize() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.lastActivity = time.Now()
	a.stopLocked()
	a.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Assembler.finalize",
		"session":  a.sess.ID(),
		"segments": a.files.Index() + 1,
	}).Info("Stream inactive, finalizing recording")

	if a.trans != nil {
		a.trans.Convert(a.sess.PlaylistPath(), a.sess.OutputPath())
	}

	a.sess.SetCompleted(true)
	a.files.Reset()

	a.mu.Lock()
	a.haveList = false
	a.mu.Unlock()

	if a.OnComplete != nil {
		a.OnComplete()
	}
}
