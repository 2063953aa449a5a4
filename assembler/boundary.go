package assembler

import "bytes"

// DefaultBoundaryMarker is the constant string the upstream transcoder
// injects into the first datagram of each new segment.
const DefaultBoundaryMarker = "FFmpeg"

// BoundaryDetector decides whether a media chunk opens a new segment.
type BoundaryDetector interface {
	Boundary(chunk []byte) bool
}

// MarkerDetector detects boundaries by searching each chunk for a
// constant marker string.
type MarkerDetector struct {
	marker []byte
}

// NewMarkerDetector creates a detector for the given marker string. An
// empty marker falls back to DefaultBoundaryMarker.
func NewMarkerDetector(marker string) *MarkerDetector {
	if marker == "" {
		marker = DefaultBoundaryMarker
	}
	return &MarkerDetector{marker: []byte(marker)}
}

// Boundary reports whether chunk contains the marker.
func (d *MarkerDetector) Boundary(chunk []byte) bool {
	return bytes.Contains(chunk, d.marker)
}
