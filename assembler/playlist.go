package assembler

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
)

const (
	playlistHeader = "#EXTM3U"
	playlistEntry  = "#EXTINF"
)

// ErrNotPlaylist reports a playlist chunk without the M3U header.
var ErrNotPlaylist = errors.New("missing #EXTM3U header")

// SegmentCount parses a playlist chunk and returns the number of
// segment entries it declares. The count is the upper bound on segment
// indices for the rest of the session.
func SegmentCount(data []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() || !strings.HasPrefix(strings.TrimSpace(scanner.Text()), playlistHeader) {
		return 0, ErrNotPlaylist
	}

	count := 0
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), playlistEntry) {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, errors.New("playlist declares no segments")
	}
	return count, nil
}
