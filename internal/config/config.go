package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Publisher quote sources
const (
	SourceSynthetic = "synthetic"
	SourceOrderBook = "orderbook"
)

// Config is the process-wide settings tree
type Config struct {
	Database  *DatabaseConfig  `yaml:"database"`
	HTTP      *HTTPConfig      `yaml:"http"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	Publisher *PublisherConfig `yaml:"publisher"`
	Auth      *AuthConfig      `yaml:"auth"`
	Deribit   *DeribitConfig   `yaml:"deribit"`
	Log       *LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Host         string        `yaml:"host"`
}

// WebSocketConfig controls per-connection transport behaviour
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// BufferSize is the per-connection outbound queue; broadcasts to a full queue are dropped
	BufferSize int `yaml:"buffer_size"`
	// RateLimit is the number of control messages a connection may send per minute
	RateLimit int `yaml:"rate_limit"`
}

// PublisherConfig drives the periodic quote task
type PublisherConfig struct {
	Interval time.Duration `yaml:"interval"`
	Symbols  []string      `yaml:"symbols"`
	Source   string        `yaml:"source"`
	Journal  bool          `yaml:"journal"`
	// JournalRetention is how long journaled quotes are kept; zero keeps them forever
	JournalRetention time.Duration `yaml:"journal_retention"`
}

type AuthConfig struct {
	// RequireAuthentication rejects subscribe/unsubscribe until authenticate succeeds
	RequireAuthentication bool `yaml:"require_authentication"`
}

type DeribitConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the stock deployment: port 9000,
// one ETH-PERPETUAL topic, a synthetic quote every second.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./marketfeed.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         9000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   256,
			RateLimit:    100,
		},
		Publisher: &PublisherConfig{
			Interval:         time.Second,
			Symbols:          []string{"ETH-PERPETUAL"},
			Source:           SourceSynthetic,
			Journal:          true,
			JournalRetention: 24 * time.Hour,
		},
		Auth: &AuthConfig{
			RequireAuthentication: true,
		},
		Deribit: &DeribitConfig{
			BaseURL:      "https://test.deribit.com",
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 500 * time.Millisecond,
		},
		Log: &LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.RateLimit <= 0 {
		return errors.New("WebSocket rate limit must be positive")
	}

	if c.Publisher == nil {
		return errors.New("publisher configuration is required")
	}
	if c.Publisher.Interval <= 0 {
		return errors.New("publisher interval must be positive")
	}
	if c.Publisher.Source != SourceSynthetic && c.Publisher.Source != SourceOrderBook {
		return fmt.Errorf("publisher source must be %q or %q", SourceSynthetic, SourceOrderBook)
	}
	if c.Publisher.JournalRetention < 0 {
		return errors.New("publisher journal retention cannot be negative")
	}

	if c.Auth == nil {
		return errors.New("auth configuration is required")
	}

	if c.Deribit == nil {
		return errors.New("deribit configuration is required")
	}
	if c.Deribit.BaseURL == "" {
		return errors.New("deribit base URL cannot be empty")
	}
	if c.Deribit.Timeout <= 0 {
		return errors.New("deribit timeout must be positive")
	}
	if c.Deribit.MaxRetries < 0 {
		return errors.New("deribit max retries cannot be negative")
	}
	if c.Deribit.RetryBackoff < 0 {
		return errors.New("deribit retry backoff cannot be negative")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}

	return nil
}

// Addr returns host:port for the HTTP listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv returns defaults overridden by MARKETFEED_* environment variables.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	if port := os.Getenv("MARKETFEED_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("MARKETFEED_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if dbPath := os.Getenv("MARKETFEED_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	setDuration("MARKETFEED_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	setDuration("MARKETFEED_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	setDuration("MARKETFEED_DATABASE_TIMEOUT", &config.Database.Timeout)
	setDuration("MARKETFEED_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	setDuration("MARKETFEED_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	setDuration("MARKETFEED_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	setDuration("MARKETFEED_PUBLISHER_INTERVAL", &config.Publisher.Interval)
	setDuration("MARKETFEED_PUBLISHER_JOURNAL_RETENTION", &config.Publisher.JournalRetention)
	setDuration("MARKETFEED_DERIBIT_TIMEOUT", &config.Deribit.Timeout)
	setDuration("MARKETFEED_DERIBIT_RETRY_BACKOFF", &config.Deribit.RetryBackoff)

	if bufferSize := os.Getenv("MARKETFEED_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if rateLimit := os.Getenv("MARKETFEED_WEBSOCKET_RATE_LIMIT"); rateLimit != "" {
		if limit, err := strconv.Atoi(rateLimit); err == nil {
			config.WebSocket.RateLimit = limit
		}
	}

	if symbols := os.Getenv("MARKETFEED_PUBLISHER_SYMBOLS"); symbols != "" {
		config.Publisher.Symbols = splitList(symbols)
	}

	if source := os.Getenv("MARKETFEED_PUBLISHER_SOURCE"); source != "" {
		config.Publisher.Source = source
	}

	if journal := os.Getenv("MARKETFEED_PUBLISHER_JOURNAL"); journal != "" {
		if b, err := strconv.ParseBool(journal); err == nil {
			config.Publisher.Journal = b
		}
	}

	if required := os.Getenv("MARKETFEED_AUTH_REQUIRED"); required != "" {
		if b, err := strconv.ParseBool(required); err == nil {
			config.Auth.RequireAuthentication = b
		}
	}

	if baseURL := os.Getenv("MARKETFEED_DERIBIT_BASE_URL"); baseURL != "" {
		config.Deribit.BaseURL = baseURL
	}

	if level := os.Getenv("MARKETFEED_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

func setDuration(key string, target *time.Duration) {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile is the on-disk YAML layout. Durations are strings ("1s", "500ms")
// and every field is optional; absent fields keep the value underneath.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `yaml:"database"`
	HTTP      *HTTPConfigFile      `yaml:"http"`
	WebSocket *WebSocketConfigFile `yaml:"websocket"`
	Publisher *PublisherConfigFile `yaml:"publisher"`
	Auth      *AuthConfigFile      `yaml:"auth"`
	Deribit   *DeribitConfigFile   `yaml:"deribit"`
	Log       *LogConfigFile       `yaml:"log"`
}

type DatabaseConfigFile struct {
	Path    string `yaml:"path"`
	Timeout string `yaml:"timeout"`
}

type HTTPConfigFile struct {
	Port         *int   `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	Host         string `yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `yaml:"ping_interval"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	BufferSize   int    `yaml:"buffer_size"`
	RateLimit    int    `yaml:"rate_limit"`
}

type PublisherConfigFile struct {
	Interval         string   `yaml:"interval"`
	Symbols          []string `yaml:"symbols"`
	Source           string   `yaml:"source"`
	Journal          *bool    `yaml:"journal"`
	JournalRetention string   `yaml:"journal_retention"`
}

type AuthConfigFile struct {
	RequireAuthentication *bool `yaml:"require_authentication"`
}

type DeribitConfigFile struct {
	BaseURL      string `yaml:"base_url"`
	Timeout      string `yaml:"timeout"`
	MaxRetries   *int   `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"`
}

type LogConfigFile struct {
	Level       string `yaml:"level"`
	Development *bool  `yaml:"development"`
}

// LoadFromFile reads a YAML config file over the defaults and validates it
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	parse := func(field, value string, target *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*target = d
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		parse("database.timeout", f.Timeout, &config.Database.Timeout)
	}

	if f := file.HTTP; f != nil {
		if f.Port != nil {
			config.HTTP.Port = *f.Port
		}
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		parse("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		parse("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if f := file.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.RateLimit > 0 {
			config.WebSocket.RateLimit = f.RateLimit
		}
		parse("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		parse("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		parse("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if f := file.Publisher; f != nil {
		parse("publisher.interval", f.Interval, &config.Publisher.Interval)
		parse("publisher.journal_retention", f.JournalRetention, &config.Publisher.JournalRetention)
		if len(f.Symbols) > 0 {
			config.Publisher.Symbols = f.Symbols
		}
		if f.Source != "" {
			config.Publisher.Source = f.Source
		}
		if f.Journal != nil {
			config.Publisher.Journal = *f.Journal
		}
	}

	if f := file.Auth; f != nil && f.RequireAuthentication != nil {
		config.Auth.RequireAuthentication = *f.RequireAuthentication
	}

	if f := file.Deribit; f != nil {
		if f.BaseURL != "" {
			config.Deribit.BaseURL = f.BaseURL
		}
		if f.MaxRetries != nil {
			config.Deribit.MaxRetries = *f.MaxRetries
		}
		parse("deribit.timeout", f.Timeout, &config.Deribit.Timeout)
		parse("deribit.retry_backoff", f.RetryBackoff, &config.Deribit.RetryBackoff)
	}

	if f := file.Log; f != nil {
		if f.Level != "" {
			config.Log.Level = f.Level
		}
		if f.Development != nil {
			config.Log.Development = *f.Development
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %w", path, errors.Join(errs...))
	}
	return nil
}

// LoadConfigWithPrecedence layers file > environment > defaults. An empty
// path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
