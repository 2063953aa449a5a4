package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionLayout(t *testing.T) {
	s := New("192.168.1.10", 8554, "rtsp://192.168.1.10:8554/media/sample.ts", "/tmp/rec")

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "sample", s.BaseName())
	assert.Equal(t, filepath.Join("/tmp/rec", "sample_tmp"), s.TempDir())
	assert.Equal(t, filepath.Join("/tmp/rec", "sample_tmp", "sample.m3u8"), s.PlaylistPath())
	assert.Equal(t, filepath.Join("/tmp/rec", "sample_tmp", "sample2.ts"), s.SegmentPath(2))
	assert.Equal(t, filepath.Join("/tmp/rec", "sample_tmp", "sample.mp4"), s.OutputPath())
	assert.Equal(t, StateIdle, s.Machine().State())
}

func TestSetSessionIDBounds(t *testing.T) {
	tests := []struct {
		name    string
		id      int64
		wantErr bool
	}{
		{"zero", 0, false},
		{"in range", 42, false},
		{"max", MaxSessionID, false},
		{"negative", -1, true},
		{"past max", MaxSessionID + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("10.0.0.1", 8554, "rtsp://10.0.0.1/a.ts", t.TempDir())
			err := s.SetSessionID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.Zero(t, s.SessionID())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, s.SessionID())
		})
	}
}

func TestSetWindowClampsNegatives(t *testing.T) {
	s := New("10.0.0.1", 8554, "rtsp://10.0.0.1/a.ts", t.TempDir())

	s.SetWindow(-3, -1)
	start, end := s.Window()
	assert.Zero(t, start)
	assert.Zero(t, end)

	s.SetWindow(1.5, 0)
	start, end = s.Window()
	assert.Equal(t, 1.5, start)
	assert.Zero(t, end)
}

func TestCongestionLevelClamped(t *testing.T) {
	s := New("10.0.0.1", 8554, "rtsp://10.0.0.1/a.ts", t.TempDir())

	s.SetCongestionLevel(-2)
	assert.Equal(t, 0, s.CongestionLevel())

	s.SetCongestionLevel(3)
	assert.Equal(t, 3, s.CongestionLevel())

	s.SetCongestionLevel(9)
	assert.Equal(t, 4, s.CongestionLevel())
}

func TestClearKeepsTransportOnPause(t *testing.T) {
	s := New("10.0.0.1", 8554, "rtsp://10.0.0.1/a.ts", t.TempDir())
	require.NoError(t, s.SetSessionID(7))
	s.SetSSRC("deadbeef")
	s.SetTransportPorts(40000, 40001)
	s.SetWindow(1, 9)

	s.Clear(false)

	assert.Equal(t, int64(7), s.SessionID())
	assert.Equal(t, "deadbeef", s.SSRC())
	assert.Equal(t, 40000, s.RTPPort())
}

func TestClearDropsTransportOnStop(t *testing.T) {
	s := New("10.0.0.1", 8554, "rtsp://10.0.0.1/a.ts", t.TempDir())
	require.NoError(t, s.SetSessionID(7))
	s.SetSSRC("deadbeef")
	s.SetTransportPorts(40000, 40001)
	s.SetPaused(true)
	s.SetCongestionLevel(4)

	s.Clear(true)

	assert.Zero(t, s.SessionID())
	assert.Empty(t, s.SSRC())
	assert.Zero(t, s.RTPPort())
	assert.Zero(t, s.RTCPPort())
	assert.False(t, s.Paused())
	assert.Zero(t, s.CongestionLevel())
}
