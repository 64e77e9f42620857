package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// RateLimitConfig defines per-IP connection-rate limiting settings.
type RateLimitConfig struct {
	Enabled        bool    `json:"enabled"`
	RequestsPerSec float64 `json:"requests_per_sec"`
	Burst          int     `json:"burst"`
}

// ConnectionLimitConfig defines connection limit settings.
type ConnectionLimitConfig struct {
	MaxTotal int64 `json:"max_total_connections"`
	MaxPerIP int64 `json:"max_per_ip"`
}

// Config defines the ingest probe's settings.
type Config struct {
	ListenAddr      string                `json:"listen_addr"`
	HTTPAddr        string                `json:"http_addr"`
	IdleTimeout     Duration              `json:"idle_timeout"`
	ReadBuffer      int                   `json:"read_buffer"`
	WriteBuffer     int                   `json:"write_buffer"`
	RateLimit       RateLimitConfig       `json:"rate_limit,omitempty"`
	ConnectionLimit ConnectionLimitConfig `json:"connection_limit,omitempty"`

	// DefaultWindowAckSize is the Window Acknowledgement Size every
	// session advertises to its publisher in the connect response.
	DefaultWindowAckSize uint32 `json:"default_window_ack_size"`

	// DefaultServiceProfile selects which diagnostics thresholds apply
	// (e.g. keyframe-interval limits) when a session has no per-app
	// override. See internal/diagnostics.ServiceProfile.
	DefaultServiceProfile string `json:"default_service_profile"`
}

const (
	MinBufferSize = 4 * 1024    // 4 KB
	MaxBufferSize = 1024 * 1024 // 1 MB
)

func Default() Config {
	return Config{
		ListenAddr:            ":1935",
		HTTPAddr:              ":8080",
		IdleTimeout:           Duration(30_000_000_000), // 30 seconds in nanoseconds
		ReadBuffer:            64 * 1024,
		WriteBuffer:           64 * 1024,
		DefaultWindowAckSize:  2_500_000,
		DefaultServiceProfile: "generic",
	}
}

func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}
	if c.ReadBuffer <= 0 {
		return errors.New("read_buffer must be positive")
	}
	if c.WriteBuffer <= 0 {
		return errors.New("write_buffer must be positive")
	}
	if c.ReadBuffer < MinBufferSize || c.ReadBuffer > MaxBufferSize {
		return fmt.Errorf("read_buffer must be between %d and %d bytes", MinBufferSize, MaxBufferSize)
	}
	if c.WriteBuffer < MinBufferSize || c.WriteBuffer > MaxBufferSize {
		return fmt.Errorf("write_buffer must be between %d and %d bytes", MinBufferSize, MaxBufferSize)
	}
	if c.DefaultWindowAckSize == 0 {
		return errors.New("default_window_ack_size must be positive")
	}
	switch c.DefaultServiceProfile {
	case "generic", "youtube", "twitch", "facebook":
	default:
		return fmt.Errorf("default_service_profile %q is not recognized", c.DefaultServiceProfile)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSec <= 0 {
		return errors.New("rate_limit.requests_per_sec must be positive when enabled")
	}
	if c.ConnectionLimit.MaxTotal < 0 || c.ConnectionLimit.MaxPerIP < 0 {
		return errors.New("connection_limit values must be >= 0")
	}
	return nil
}
