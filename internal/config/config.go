// Package config handles hermitd configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./hermitd.yaml, ~/.config/hermitd/config.yaml, /etc/hermitd.conf.
func DefaultSearchPaths() []string {
	paths := []string{"hermitd.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hermitd", "config.yaml"))
	}

	paths = append(paths, "/etc/hermitd.conf")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// ErrNoConfig is returned by [FindConfig] when no file exists on the
// search path. hermitd runs on defaults in that case.
var ErrNoConfig = errors.New("no config file found")

// Defaults applied by [Default] and to zero fields after loading.
const (
	DefaultModel           = "local-llama-3"
	DefaultSocket          = "/tmp/hermitd.sock"
	DefaultTransport       = "line"
	DefaultSocketMode      = "0666"
	DefaultMaxConnections  = 64
	DefaultMaxSessions     = 16
	DefaultMaxChunkLength  = 4096
	DefaultContextWindow   = 3
	DefaultMaxHistory      = 64
	DefaultHistoryTurns    = 4
	DefaultGenerateTimeout = "60s"
	DefaultMetricsAddress  = "127.0.0.1:9464"
	DefaultPublishInterval = 60
)

// Config holds all hermitd configuration.
type Config struct {
	// LLM is the model tag, "<host>-<model>", e.g. "anthr-claude-3.5".
	LLM       string          `yaml:"llm"`
	OllamaURL string          `yaml:"ollama_url"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Listen    ListenConfig    `yaml:"listen"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt"`

	// GenerateTimeout bounds one backend call, as a Go duration string.
	GenerateTimeout string `yaml:"generate_timeout"`
	// DataDir holds the usage database. Empty disables usage recording.
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
	// MOTD replaces the default welcome text sent on Setup.
	MOTD string `yaml:"motd"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// OpenAIConfig defines OpenAI API settings.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
}

// ListenConfig defines the socket the protocol is served on.
type ListenConfig struct {
	Socket    string `yaml:"socket"`
	Transport string `yaml:"transport"` // line or websocket
	// SocketMode is the octal permission applied to the socket file.
	SocketMode     string `yaml:"socket_mode"`
	MaxConnections int    `yaml:"max_connections"`
}

// SessionsConfig bounds the session table and per-session history.
type SessionsConfig struct {
	MaxSessions    int `yaml:"max_sessions"`
	MaxChunkLength int `yaml:"max_chunk_length"`
	ContextWindow  int `yaml:"context_window"`
	MaxHistory     int `yaml:"max_history"`
	HistoryTurns   int `yaml:"history_turns"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MQTTConfig defines the optional status publisher. An empty Broker
// disables it.
type MQTTConfig struct {
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing and defaults fill unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LLM == "" {
		c.LLM = DefaultModel
	}
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Listen.Socket == "" {
		c.Listen.Socket = DefaultSocket
	}
	if c.Listen.Transport == "" {
		c.Listen.Transport = DefaultTransport
	}
	if c.Listen.SocketMode == "" {
		c.Listen.SocketMode = DefaultSocketMode
	}
	if c.Listen.MaxConnections == 0 {
		c.Listen.MaxConnections = DefaultMaxConnections
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = DefaultMaxSessions
	}
	if c.Sessions.MaxChunkLength == 0 {
		c.Sessions.MaxChunkLength = DefaultMaxChunkLength
	}
	if c.Sessions.ContextWindow == 0 {
		c.Sessions.ContextWindow = DefaultContextWindow
	}
	if c.Sessions.MaxHistory == 0 {
		c.Sessions.MaxHistory = DefaultMaxHistory
	}
	if c.Sessions.HistoryTurns == 0 {
		c.Sessions.HistoryTurns = DefaultHistoryTurns
	}
	if c.GenerateTimeout == "" {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.MQTT.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			c.MQTT.DeviceName = host
		} else {
			c.MQTT.DeviceName = "hermitd"
		}
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = DefaultPublishInterval
	}
}

// Validate checks the configuration for values that cannot be served.
// The model tag is validated by the caller, which falls back to the
// local default instead of failing.
func (c *Config) Validate() error {
	var errs []error

	switch c.Listen.Transport {
	case "line", "websocket":
	default:
		errs = append(errs, fmt.Errorf("listen.transport %q: want line or websocket", c.Listen.Transport))
	}
	if _, err := c.SocketFileMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Listen.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("listen.max_connections must be positive, got %d", c.Listen.MaxConnections))
	}
	if c.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions must be positive, got %d", c.Sessions.MaxSessions))
	}
	if c.Sessions.MaxChunkLength < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_chunk_length must be positive, got %d", c.Sessions.MaxChunkLength))
	}
	if c.Sessions.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("sessions.context_window must not be negative, got %d", c.Sessions.ContextWindow))
	}
	if c.Sessions.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("sessions.history_turns must not be negative, got %d", c.Sessions.HistoryTurns))
	}
	if d, err := time.ParseDuration(c.GenerateTimeout); err != nil {
		errs = append(errs, fmt.Errorf("generate_timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("generate_timeout must be positive, got %s", d))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	if c.MQTT.PublishIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("mqtt.publish_interval_sec must be positive, got %d", c.MQTT.PublishIntervalSec))
	}

	return errors.Join(errs...)
}

// SocketFileMode parses Listen.SocketMode as an octal permission.
func (c *Config) SocketFileMode() (os.FileMode, error) {
	m, err := strconv.ParseUint(c.Listen.SocketMode, 8, 32)
	if err != nil || m > 0o777 {
		return 0, fmt.Errorf("listen.socket_mode %q: want an octal permission such as 0666", c.Listen.SocketMode)
	}
	return os.FileMode(m), nil
}

// GenerateTimeoutDuration returns GenerateTimeout parsed. Call after
// [Config.Validate].
func (c *Config) GenerateTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.GenerateTimeout)
	return d
}

// PublishInterval returns the MQTT status interval.
func (c MQTTConfig) PublishInterval() time.Duration {
	return time.Duration(c.PublishIntervalSec) * time.Second
}

// UsageDBPath returns the usage database location, or "" when DataDir is
// unset.
func (c *Config) UsageDBPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "hermitd.db")
}
