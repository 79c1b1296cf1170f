package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"wirefish/internal/capture"
)

// Config represents the application configuration
type Config struct {
	// Logging configuration
	Logging struct {
		// Level is the minimum log level to output (debug, info, warn, error)
		Level string `json:"level"`
		// File is the path to the log file. If empty, logs to stdout only
		File string `json:"file"`
		// MaxSizeMB is the maximum size of log file before rotation
		MaxSizeMB int `json:"max_size_mb"`
		// RetentionDays is how long rotated log files are kept
		RetentionDays int `json:"retention_days"`
	} `json:"logging"`

	// Capture configuration
	Capture struct {
		SnapLen       int    `json:"snap_len"`
		BufferSize    int    `json:"buffer_size"`
		Promiscuous   *bool  `json:"promiscuous"`
		ReadTimeoutMS int    `json:"read_timeout_ms"`
		// ReplayFile replaces live capture with a pcap/pcapng file
		ReplayFile    string `json:"replay_file"`
		// DumpFile receives a copy of every frame read
		DumpFile      string `json:"dump_file"`
	} `json:"capture"`

	// Server configuration
	Server struct {
		Listen string `json:"listen"`
	} `json:"server"`

	// Metrics configuration
	Metrics struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"metrics"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 7
	}
	if c.Capture.SnapLen == 0 {
		c.Capture.SnapLen = capture.DefaultSnapLen
	}
	if c.Capture.BufferSize == 0 {
		c.Capture.BufferSize = capture.DefaultBufferSize
	}
	if c.Capture.Promiscuous == nil {
		on := true
		c.Capture.Promiscuous = &on
	}
	if c.Capture.ReadTimeoutMS == 0 {
		c.Capture.ReadTimeoutMS = int(capture.DefaultReadTimeout / time.Millisecond)
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Capture.SnapLen < 0 || c.Capture.SnapLen > 262144 {
		return fmt.Errorf("capture.snap_len out of range: %d", c.Capture.SnapLen)
	}
	if c.Capture.BufferSize < 0 {
		return fmt.Errorf("capture.buffer_size must not be negative: %d", c.Capture.BufferSize)
	}
	if c.Capture.ReadTimeoutMS < 0 {
		return fmt.Errorf("capture.read_timeout_ms must not be negative: %d", c.Capture.ReadTimeoutMS)
	}
	return nil
}

// CaptureConfig returns the live channel settings.
func (c *Config) CaptureConfig() capture.Config {
	promisc := true
	if c.Capture.Promiscuous != nil {
		promisc = *c.Capture.Promiscuous
	}
	return capture.Config{
		SnapLen:     c.Capture.SnapLen,
		BufferSize:  c.Capture.BufferSize,
		Promiscuous: promisc,
		ReadTimeout: time.Duration(c.Capture.ReadTimeoutMS) * time.Millisecond,
	}
}

// Opener builds the capture opener the configuration asks for.
func (c *Config) Opener() capture.Opener {
	var op capture.Opener
	if c.Capture.ReplayFile != "" {
		op = &capture.ReplayOpener{Path: c.Capture.ReplayFile}
	} else {
		op = capture.NewLiveOpener(c.CaptureConfig())
	}
	if c.Capture.DumpFile != "" {
		op = &capture.DumpOpener{Opener: op, Path: c.Capture.DumpFile, SnapLen: c.Capture.SnapLen}
	}
	return op
}
