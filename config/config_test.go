package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtspcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
network:
  target_ip: 192.168.1.30
rtsp:
  target_rtsp_ip: 192.168.1.20
register:
  hash_key: secret-key
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.30", cfg.Network.TargetIP)
	assert.Equal(t, "192.168.1.20", cfg.RTSP.TargetRTSPIP)
	assert.Equal(t, 33554432, cfg.Common.SendBufSize)
	assert.Equal(t, 16777216, cfg.Common.RecvBufSize)
	assert.Equal(t, "uRTSP", cfg.Register.MagicCookie)
	assert.Equal(t, 7200, cfg.Register.LeaseSeconds)
	assert.Equal(t, 2*time.Second, cfg.RTSP.RTPTimeout)
	assert.Equal(t, time.Second, cfg.RTSP.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.RTSP.ResponseTimeout)
	assert.Equal(t, 40000, cfg.Network.LocalRTPPort)
	assert.Equal(t, 40001, cfg.Network.LocalRTCPPort)
	assert.Equal(t, "- %s 0 IN IP4 %s", cfg.SDP.Origin)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
network:
  target_ip: 10.1.1.1
  local_rtp_port: 42000
rtsp:
  target_rtsp_ip: 10.1.1.2
  rtp_timeout: 7s
register:
  hash_key: secret-key
  magic_cookie: XRTSP
logging:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 42000, cfg.Network.LocalRTPPort)
	assert.Equal(t, 42001, cfg.Network.LocalRTCPPort, "rtcp port defaults next to the rtp port")
	assert.Equal(t, 7*time.Second, cfg.RTSP.RTPTimeout)
	assert.Equal(t, "XRTSP", cfg.Register.MagicCookie)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("RTSPCORE_TARGET_IP", "172.16.0.9")
	t.Setenv("RTSPCORE_TARGET_PORT", "9200")
	t.Setenv("RTSPCORE_HASH_KEY", "env-key")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "172.16.0.9", cfg.Network.TargetIP)
	assert.Equal(t, 9200, cfg.Network.TargetPort)
	assert.Equal(t, "env-key", cfg.Register.HashKey)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing target ip", "rtsp:\n  target_rtsp_ip: 10.0.0.1\nregister:\n  hash_key: k\n"},
		{"missing rtsp target", "network:\n  target_ip: 10.0.0.1\nregister:\n  hash_key: k\n"},
		{"missing hash key", "network:\n  target_ip: 10.0.0.1\nrtsp:\n  target_rtsp_ip: 10.0.0.2\n"},
		{"bad log level", minimalYAML + "logging:\n  level: shouting\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefaultNeedsNoFile(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "uRTSP", cfg.Register.MagicCookie)
	assert.Equal(t, "rtspcore", cfg.RTSP.UserAgent)
	assert.Equal(t, 100, cfg.RTSP.URILimit)
}
