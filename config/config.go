// Package config loads and validates the client configuration.
//
// Configuration is read from a YAML file, after which environment
// variables (optionally sourced from a .env file) override selected
// fields and defaults fill in anything left unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the session engine reads.
type Config struct {
	// Common buffer and playlist limits.
	Common struct {
		SendBufSize  int `yaml:"send_buf_size"`
		RecvBufSize  int `yaml:"recv_buf_size"`
		PlaylistSize int `yaml:"playlist_size"`
	} `yaml:"common"`

	// Network addresses for the registration channel and the local
	// media listeners.
	Network struct {
		LocalListenIP   string `yaml:"local_listen_ip"`
		LocalListenPort int    `yaml:"local_listen_port"`
		LocalRTPPort    int    `yaml:"local_rtp_port"`
		LocalRTCPPort   int    `yaml:"local_rtcp_port"`
		TargetIP        string `yaml:"target_ip"`
		TargetPort      int    `yaml:"target_port"`
	} `yaml:"network"`

	// RTSP control channel settings.
	RTSP struct {
		UserAgent       string        `yaml:"user_agent"`
		LocalRTSPPort   int           `yaml:"local_rtsp_port"`
		TargetRTSPIP    string        `yaml:"target_rtsp_ip"`
		TargetRTSPPort  int           `yaml:"target_rtsp_port"`
		URILimit        int           `yaml:"uri_limit"`
		RTPTimeout      time.Duration `yaml:"rtp_timeout"`
		ConnectTimeout  time.Duration `yaml:"connect_timeout"`
		ResponseTimeout time.Duration `yaml:"response_timeout"`
	} `yaml:"rtsp"`

	// Register holds the discovery/registration sub-protocol secrets.
	Register struct {
		MagicCookie  string        `yaml:"magic_cookie"`
		HashKey      string        `yaml:"hash_key"`
		LeaseSeconds int           `yaml:"lease_seconds"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"register"`

	// SDP template fields used to synthesize the local description.
	// Origin, Connection and Media are format strings; see sdp.BuildLocal.
	SDP struct {
		Version       string   `yaml:"version"`
		Origin        string   `yaml:"origin"`
		SessionName   string   `yaml:"session_name"`
		Time          string   `yaml:"time"`
		Connection    string   `yaml:"connection"`
		Media         string   `yaml:"media"`
		MP2TAttribute string   `yaml:"mp2t_attribute"`
		Attributes    []string `yaml:"attributes"`
	} `yaml:"sdp"`

	// Transcode configures the external transcoder collaborator and
	// the on-disk retention policy applied when a session clears.
	Transcode struct {
		FFmpegPath     string `yaml:"ffmpeg_path"`
		FFprobePath    string `yaml:"ffprobe_path"`
		TempRootPath   string `yaml:"temp_root_path"`
		DeletePlaylist bool   `yaml:"delete_playlist"`
		DeleteSegments bool   `yaml:"delete_segments"`
		DeleteOutput   bool   `yaml:"delete_output"`
	} `yaml:"transcode"`

	// Logging controls the logrus global level.
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// A .env file is optional; ignore a missing one.
	_ = godotenv.Load()
	applyEnvironmentOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"path":     path,
	}).Info("Configuration loaded")

	return cfg, nil
}

// Default returns a configuration with every default applied and no
// endpoint targets set. Intended for tests and embedding callers that
// fill in the network fields themselves.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("RTSPCORE_LOCAL_LISTEN_IP"); v != "" {
		cfg.Network.LocalListenIP = v
	}
	if v := os.Getenv("RTSPCORE_TARGET_IP"); v != "" {
		cfg.Network.TargetIP = v
	}
	if v := os.Getenv("RTSPCORE_TARGET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Network.TargetPort = port
		}
	}
	if v := os.Getenv("RTSPCORE_TARGET_RTSP_IP"); v != "" {
		cfg.RTSP.TargetRTSPIP = v
	}
	if v := os.Getenv("RTSPCORE_TARGET_RTSP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.RTSP.TargetRTSPPort = port
		}
	}
	if v := os.Getenv("RTSPCORE_HASH_KEY"); v != "" {
		cfg.Register.HashKey = v
	}
	if v := os.Getenv("RTSPCORE_MAGIC_COOKIE"); v != "" {
		cfg.Register.MagicCookie = v
	}
	if v := os.Getenv("RTSPCORE_TEMP_ROOT_PATH"); v != "" {
		cfg.Transcode.TempRootPath = v
	}
	if v := os.Getenv("RTSPCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Common.SendBufSize <= 0 {
		cfg.Common.SendBufSize = 33554432
	}
	if cfg.Common.RecvBufSize <= 0 {
		cfg.Common.RecvBufSize = 16777216
	}
	if cfg.Common.PlaylistSize <= 0 {
		cfg.Common.PlaylistSize = 10
	}

	if cfg.Network.LocalListenIP == "" {
		cfg.Network.LocalListenIP = "127.0.0.1"
	}
	if cfg.Network.LocalListenPort <= 0 {
		cfg.Network.LocalListenPort = 9000
	}
	if cfg.Network.LocalRTPPort <= 0 {
		cfg.Network.LocalRTPPort = 40000
	}
	if cfg.Network.LocalRTCPPort <= 0 {
		cfg.Network.LocalRTCPPort = cfg.Network.LocalRTPPort + 1
	}
	if cfg.Network.TargetPort <= 0 {
		cfg.Network.TargetPort = 9100
	}

	if cfg.RTSP.UserAgent == "" {
		cfg.RTSP.UserAgent = "rtspcore"
	}
	if cfg.RTSP.LocalRTSPPort <= 0 {
		cfg.RTSP.LocalRTSPPort = 8554
	}
	if cfg.RTSP.TargetRTSPPort <= 0 {
		cfg.RTSP.TargetRTSPPort = 8554
	}
	if cfg.RTSP.URILimit <= 0 {
		cfg.RTSP.URILimit = 100
	}
	if cfg.RTSP.RTPTimeout <= 0 {
		cfg.RTSP.RTPTimeout = 2 * time.Second
	}
	if cfg.RTSP.ConnectTimeout <= 0 {
		cfg.RTSP.ConnectTimeout = time.Second
	}
	if cfg.RTSP.ResponseTimeout <= 0 {
		cfg.RTSP.ResponseTimeout = 5 * time.Second
	}

	if cfg.Register.MagicCookie == "" {
		cfg.Register.MagicCookie = "uRTSP"
	}
	if cfg.Register.LeaseSeconds <= 0 {
		cfg.Register.LeaseSeconds = 7200
	}
	if cfg.Register.Timeout <= 0 {
		cfg.Register.Timeout = 3 * time.Second
	}

	if cfg.SDP.Version == "" {
		cfg.SDP.Version = "0"
	}
	if cfg.SDP.Origin == "" {
		cfg.SDP.Origin = "- %s 0 IN IP4 %s"
	}
	if cfg.SDP.SessionName == "" {
		cfg.SDP.SessionName = "streaming"
	}
	if cfg.SDP.Time == "" {
		cfg.SDP.Time = "0 0"
	}
	if cfg.SDP.Connection == "" {
		cfg.SDP.Connection = "IN IP4 %s"
	}
	if cfg.SDP.Media == "" {
		cfg.SDP.Media = "video %d RTP/AVP %d"
	}
	if cfg.SDP.MP2TAttribute == "" {
		cfg.SDP.MP2TAttribute = "rtpmap:%d MP2T/90000"
	}

	if cfg.Transcode.FFmpegPath == "" {
		cfg.Transcode.FFmpegPath = "ffmpeg"
	}
	if cfg.Transcode.TempRootPath == "" {
		cfg.Transcode.TempRootPath = os.TempDir()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Network.TargetIP == "" {
		return fmt.Errorf("register target ip is required")
	}
	if cfg.RTSP.TargetRTSPIP == "" {
		return fmt.Errorf("rtsp target ip is required")
	}
	if cfg.Register.HashKey == "" {
		return fmt.Errorf("register hash key is required")
	}
	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level %q", cfg.Logging.Level)
	}
	return nil
}

// ApplyLogLevel sets the global logrus level from the configuration.
func (c *Config) ApplyLogLevel() {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
