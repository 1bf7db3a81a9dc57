package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Reconnect policies.
const (
	ReconnectBackoff = "backoff"
	ReconnectNone    = "none"
)

// Config represents the global ~/.chatlink/config.toml.
type Config struct {
	DefaultSession string          `toml:"default_session"`
	UserID         int64           `toml:"user_id"`
	MetricsAddr    string          `toml:"metrics_addr"`
	Server         ServerConfig    `toml:"server"`
	Reconnect      ReconnectConfig `toml:"reconnect"`
}

// ServerConfig locates the chat server's realtime endpoint.
type ServerConfig struct {
	Scheme string `toml:"scheme"`
	Host   string `toml:"host"`
	Path   string `toml:"path"`
}

// ReconnectConfig controls what happens after an unclean close.
type ReconnectConfig struct {
	Policy          string   `toml:"policy"`
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	MaxRetries      uint64   `toml:"max_retries"`
}

// Duration is a time.Duration that reads and writes as "3s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ErrNoEndpoint is returned by Endpoint when no server host is configured.
var ErrNoEndpoint = errors.New("server host is not configured")

// Default returns a config with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Scheme: "wss", Path: "/chat"},
		Reconnect: ReconnectConfig{
			Policy:          ReconnectBackoff,
			InitialInterval: Duration{3 * time.Second},
			MaxInterval:     Duration{time.Minute},
			MaxRetries:      10,
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// error if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks fields that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Reconnect.Policy {
	case ReconnectBackoff, ReconnectNone:
	default:
		return fmt.Errorf("reconnect.policy %q: must be %q or %q", c.Reconnect.Policy, ReconnectBackoff, ReconnectNone)
	}
	if c.UserID < 0 {
		return fmt.Errorf("user_id %d: must not be negative", c.UserID)
	}
	return nil
}

// Endpoint returns the realtime URL for a user: <scheme>://<host><path>?userId=<id>.
func (c *Config) Endpoint(userID int64) (string, error) {
	if c.Server.Host == "" {
		return "", ErrNoEndpoint
	}
	u := url.URL{
		Scheme:   c.Server.Scheme,
		Host:     c.Server.Host,
		Path:     c.Server.Path,
		RawQuery: url.Values{"userId": {strconv.FormatInt(userID, 10)}}.Encode(),
	}
	return u.String(), nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
