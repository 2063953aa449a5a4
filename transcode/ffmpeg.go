// Package transcode invokes the external ffmpeg binary to turn an
// assembled recording into a single playable file. The call is
// fire-and-forget: failures are logged, never propagated.
package transcode

import (
	"os/exec"

	"github.com/sirupsen/logrus"
)

// FFmpeg is the external transcoder collaborator.
type FFmpeg struct {
	binary string
}

// New creates a transcoder using the given ffmpeg binary path. An empty
// path resolves "ffmpeg" from PATH.
func New(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

// Convert transcodes src into dst, best effort. It blocks until the
// process exits; callers invoke it from a worker goroutine, not from a
// network callback.
func (f *FFmpeg) Convert(src, dst string) {
	cmd := exec.Command(f.binary, "-y", "-i", src, "-c", "copy", dst)

	logrus.WithFields(logrus.Fields{
		"function": "FFmpeg.Convert",
		"src":      src,
		"dst":      dst,
	}).Info("Starting transcode")

	output, err := cmd.CombinedOutput()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "FFmpeg.Convert",
			"src":      src,
			"dst":      dst,
			"output":   string(output),
			"error":    err.Error(),
		}).Warn("Transcode failed")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "FFmpeg.Convert",
		"dst":      dst,
	}).Info("Transcode finished")
}
