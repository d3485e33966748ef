// Package config holds the peer and relay configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration shared by cmd/peerlink and cmd/relay.
type Config struct {
	Signaling SignalingConfig `yaml:"signaling"`
	ICE       ICEConfig       `yaml:"ice"`
	Channel   ChannelConfig   `yaml:"channel"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Relay     RelayConfig     `yaml:"relay"`
	Log       LogConfig       `yaml:"log"`
}

// SignalingConfig configures the WebSocket client that talks to the relay.
type SignalingConfig struct {
	URL           string        `yaml:"url"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	RetryDelay    time.Duration `yaml:"retry_delay"`     // first redial delay after the relay drops
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"` // redial delay cap
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // bound on a single outbound write
	PingInterval  time.Duration `yaml:"ping_interval"`
}

// ICEServer mirrors webrtc.ICEServer without importing pion here.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// ICEConfig lists STUN/TURN servers used for candidate gathering.
type ICEConfig struct {
	Servers []ICEServer `yaml:"servers"`

	// IncludeLoopback gathers 127.0.0.1 host candidates, for peers on the
	// same machine.
	IncludeLoopback bool `yaml:"include_loopback"`
}

// ChannelConfig configures the single data channel created by the Caller.
type ChannelConfig struct {
	Label         string `yaml:"label"`
	Ordered       bool   `yaml:"ordered"`
	HighWaterMark int    `yaml:"high_water_mark"` // bytes buffered before Send starts dropping
}

// ReconnectConfig bounds the Caller's reconnect loop and negotiation errors.
type ReconnectConfig struct {
	InitialDelay       time.Duration `yaml:"initial_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	Multiplier         float64       `yaml:"multiplier"`
	MaxAttempts        int           `yaml:"max_attempts"`        // 0 = unlimited
	ErrorBudget        int           `yaml:"error_budget"`        // 0 = unlimited
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"` // 0 = disabled
}

// RelayConfig configures the signaling relay server.
type RelayConfig struct {
	Address     string `yaml:"address"`
	Path        string `yaml:"path"`
	MetricsPath string `yaml:"metrics_path"`
	PIN         string `yaml:"pin"` // empty = no PIN check
}

// LogConfig selects the pterm log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// STUN servers for ICE candidate gathering. No TURN by default; the peers
// are expected to reach each other directly once signaling is done.
var defaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Signaling: SignalingConfig{
			URL:           "ws://127.0.0.1:8090/ws",
			DialTimeout:   10 * time.Second,
			RetryDelay:    time.Second,
			MaxRetryDelay: 30 * time.Second,
			WriteTimeout:  10 * time.Second,
			PingInterval:  30 * time.Second,
		},
		ICE: ICEConfig{
			Servers: []ICEServer{{URLs: defaultSTUN}},
		},
		Channel: ChannelConfig{
			Label:         "data-channel",
			Ordered:       true,
			HighWaterMark: 1024 * 1024,
		},
		Reconnect: ReconnectConfig{
			InitialDelay:       500 * time.Millisecond,
			MaxDelay:           30 * time.Second,
			Multiplier:         2,
			MaxAttempts:        0,
			ErrorBudget:        16,
			NegotiationTimeout: 30 * time.Second,
		},
		Relay: RelayConfig{
			Address:     ":8090",
			Path:        "/ws",
			MetricsPath: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Channel.Label == "" {
		errs = append(errs, errors.New("channel.label must not be empty"))
	}
	if c.Channel.HighWaterMark <= 0 {
		errs = append(errs, errors.New("channel.high_water_mark must be positive"))
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, errors.New("reconnect.multiplier must be >= 1"))
	}
	if c.Reconnect.MaxAttempts < 0 || c.Reconnect.ErrorBudget < 0 {
		errs = append(errs, errors.New("reconnect limits must not be negative"))
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		errs = append(errs, errors.New("reconnect.max_delay must be >= initial_delay"))
	}
	if c.Signaling.RetryDelay <= 0 {
		errs = append(errs, errors.New("signaling.retry_delay must be positive"))
	}
	if c.Signaling.WriteTimeout <= 0 {
		errs = append(errs, errors.New("signaling.write_timeout must be positive"))
	}
	if c.Signaling.MaxRetryDelay < c.Signaling.RetryDelay {
		errs = append(errs, errors.New("signaling.max_retry_delay must be >= retry_delay"))
	}
	if c.Relay.Path == "" || c.Relay.Path[0] != '/' {
		errs = append(errs, errors.New("relay.path must start with '/'"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
