// Package assembler turns the demultiplexed playlist and media chunk
// streams into ordered segment files on disk and finalizes a recording
// once the stream goes quiet.
package assembler

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// FileStream is a size-limited, write-then-close file primitive. Each
// Write opens the file, appends the chunk and closes the handle again,
// so no long-lived descriptor is held between chunks. The first write
// truncates; a limit of zero means unlimited.
type FileStream struct {
	path    string
	limit   int64
	size    int64
	created bool
}

// NewFileStream creates a stream for path with the given byte limit.
func NewFileStream(path string, limit int64) *FileStream {
	return &FileStream{path: path, limit: limit}
}

// Path returns the backing file path.
func (f *FileStream) Path() string { return f.path }

// Size returns the byte count written so far.
func (f *FileStream) Size() int64 { return f.size }

// Write appends data to the file. A write that would exceed a non-zero
// limit is refused whole; nothing is written and the size is unchanged.
func (f *FileStream) Write(data []byte) error {
	if f.limit > 0 && f.size+int64(len(data)) > f.limit {
		return fmt.Errorf("write of %d bytes exceeds limit %d on %s", len(data), f.limit, f.path)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if !f.created {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	file, err := os.OpenFile(f.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.path, err)
	}

	n, err := file.Write(data)
	f.size += int64(n)
	f.created = true

	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	return nil
}

// Remove deletes the backing file if it exists.
func (f *FileStream) Remove() {
	if !f.created {
		return
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{
			"function": "FileStream.Remove",
			"path":     f.path,
			"error":    err.Error(),
		}).Warn("Failed to remove file")
	}
}
