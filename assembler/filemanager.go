package assembler

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspcore/metrics"
	"github.com/opd-ai/rtspcore/session"
)

// FileManager owns the per-session recording file set: the playlist
// file, the ordered segment files and the transcoded output. Multi-step
// operations (create-then-write, remove-then-clear) run under one mutex
// so the removal path never races the write path.
type FileManager struct {
	mu sync.Mutex

	sess    *session.Session
	metrics *metrics.Metrics

	playlist     *FileStream
	playlistSize int64
	segmentSize  int64

	segments map[int]*FileStream
	index    int
	bound    int // declared segment count; -1 until a playlist is parsed
}

// NewFileManager creates a manager for sess. playlistLimit and
// segmentLimit bound the byte size of the playlist file and of each
// segment file; zero means unlimited. metrics may be nil.
func NewFileManager(sess *session.Session, playlistLimit, segmentLimit int64, m *metrics.Metrics) *FileManager {
	return &FileManager{
		sess:         sess,
		metrics:      m,
		playlistSize: playlistLimit,
		segmentSize:  segmentLimit,
		segments:     make(map[int]*FileStream),
		bound:        -1,
	}
}

// WritePlaylist writes the playlist chunk and records the declared
// segment count as the index upper bound.
func (fm *FileManager) WritePlaylist(data []byte) (int, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if err := os.MkdirAll(fm.sess.TempDir(), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}

	if fm.playlist == nil {
		fm.playlist = NewFileStream(fm.sess.PlaylistPath(), fm.playlistSize)
	}
	if err := fm.playlist.Write(data); err != nil {
		return 0, err
	}

	count, err := SegmentCount(data)
	if err != nil {
		return 0, fmt.Errorf("failed to parse playlist: %w", err)
	}
	fm.bound = count

	logrus.WithFields(logrus.Fields{
		"function": "FileManager.WritePlaylist",
		"session":  fm.sess.ID(),
		"segments": count,
	}).Debug("Playlist written")

	return count, nil
}

// Bound returns the declared segment count, or -1 when no playlist has
// been parsed yet.
func (fm *FileManager) Bound() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.bound
}

// Index returns the current open segment index.
func (fm *FileManager) Index() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.index
}

// CurrentSize returns the byte count of the current segment, zero when
// the segment has not been created yet.
func (fm *FileManager) CurrentSize() int64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if stream, ok := fm.segments[fm.index]; ok {
		return stream.Size()
	}
	return 0
}

// Advance closes the current segment and moves to the next index. It
// refuses to advance to an index at or past the declared segment count
// and reports whether the advance happened.
func (fm *FileManager) Advance() bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if fm.bound >= 0 && fm.index+1 >= fm.bound {
		logrus.WithFields(logrus.Fields{
			"function": "FileManager.Advance",
			"session":  fm.sess.ID(),
			"index":    fm.index,
			"bound":    fm.bound,
		}).Warn("Refusing to advance past declared segment count")
		return false
	}

	fm.index++
	fm.metrics.Segment("closed")

	logrus.WithFields(logrus.Fields{
		"function": "FileManager.Advance",
		"session":  fm.sess.ID(),
		"index":    fm.index,
	}).Debug("Segment advanced")

	return true
}

// WriteSegment appends a chunk to the current segment file, creating
// it on first write.
func (fm *FileManager) WriteSegment(data []byte) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	stream, ok := fm.segments[fm.index]
	if !ok {
		if err := os.MkdirAll(fm.sess.TempDir(), 0o755); err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		stream = NewFileStream(fm.sess.SegmentPath(fm.index), fm.segmentSize)
		fm.segments[fm.index] = stream
		fm.metrics.Segment("opened")
	}

	return stream.Write(data)
}

// Reset drops the in-memory index bookkeeping. Files on disk are left
// for ApplyRetention.
func (fm *FileManager) Reset() {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.segments = make(map[int]*FileStream)
	fm.index = 0
	fm.bound = -1
	fm.playlist = nil
}

// ApplyRetention removes recording files per the configured flags and
// drops the temp directory when everything is deleted.
func (fm *FileManager) ApplyRetention(deletePlaylist, deleteSegments, deleteOutput bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if deletePlaylist && fm.playlist != nil {
		fm.playlist.Remove()
	}
	if deleteSegments {
		for _, stream := range fm.segments {
			stream.Remove()
		}
	}
	if deleteOutput {
		if err := os.Remove(fm.sess.OutputPath()); err != nil && !os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"function": "FileManager.ApplyRetention",
				"path":     fm.sess.OutputPath(),
				"error":    err.Error(),
			}).Warn("Failed to remove output file")
		}
	}
	if deletePlaylist && deleteSegments && deleteOutput {
		if err := os.RemoveAll(fm.sess.TempDir()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "FileManager.ApplyRetention",
				"path":     fm.sess.TempDir(),
				"error":    err.Error(),
			}).Warn("Failed to remove temp dir")
		}
	}
}
