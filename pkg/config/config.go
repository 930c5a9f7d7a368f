package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PULSE_BACKEND_URL
const EnvPrefix = "PULSE"

// Config is the resolved client configuration
type Config struct {
	BackendURL string        `mapstructure:"backend_url" yaml:"backend_url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BackendCA  string        `mapstructure:"backend_ca_file" yaml:"backend_ca_file,omitempty"`
	Limit      int           `mapstructure:"limit" yaml:"limit"`
	Poll       PollConfig    `mapstructure:"poll" yaml:"poll"`
	History    HistoryConfig `mapstructure:"history" yaml:"history"`
	Serve      ServeConfig   `mapstructure:"serve" yaml:"serve"`
	Log        LogConfig     `mapstructure:"log" yaml:"log"`
	Tracing    TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxWait  time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

type HistoryConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Path string `mapstructure:"path" yaml:"path"`
}

type ServeConfig struct {
	Addr      string    `mapstructure:"addr" yaml:"addr"`
	RateLimit float64   `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int       `mapstructure:"rate_burst" yaml:"rate_burst"`
	Token     string    `mapstructure:"token" yaml:"token,omitempty"`
	TLS       TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// TLSConfig serves the dashboard over HTTPS. A missing certificate is
// generated self-signed; CAFile enables client certificate checks.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
	CAFile   string `mapstructure:"ca_file" yaml:"ca_file,omitempty"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
}

// DefaultDir is where the config file and history database live
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pulse"
	}
	return filepath.Join(home, ".pulse")
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend_url", "http://localhost:8000")
	v.SetDefault("api_key", "")
	v.SetDefault("limit", 10)
	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("poll.max_wait", 15*time.Minute)
	v.SetDefault("history.type", "sqlite")
	v.SetDefault("history.path", filepath.Join(DefaultDir(), "history.db"))
	v.SetDefault("serve.addr", ":8090")
	v.SetDefault("serve.rate_limit", 1.0)
	v.SetDefault("serve.rate_burst", 3)
	v.SetDefault("serve.token", "")
	v.SetDefault("serve.tls.enabled", false)
	v.SetDefault("serve.tls.cert_file", filepath.Join(DefaultDir(), "certs", "server.crt"))
	v.SetDefault("serve.tls.key_file", filepath.Join(DefaultDir(), "certs", "server.key"))
	v.SetDefault("serve.tls.ca_file", "")
	v.SetDefault("backend_ca_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
}

// Load resolves configuration from defaults, the config file and PULSE_*
// environment variables, in increasing priority. Flags bound on v win over
// all of them. An explicit cfgFile must exist; the default one is optional.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	cfg.History.Path = expandHome(cfg.History.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.BackendCA = expandHome(cfg.BackendCA)
	cfg.Serve.TLS.CertFile = expandHome(cfg.Serve.TLS.CertFile)
	cfg.Serve.TLS.KeyFile = expandHome(cfg.Serve.TLS.KeyFile)
	cfg.Serve.TLS.CAFile = expandHome(cfg.Serve.TLS.CAFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the client cannot use
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend_url %q: must be an http(s) URL", c.BackendURL)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("invalid limit %d: must be positive", c.Limit)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("invalid poll.interval %s: must be positive", c.Poll.Interval)
	}
	if c.Poll.MaxWait < 0 {
		return fmt.Errorf("invalid poll.max_wait %s: must not be negative", c.Poll.MaxWait)
	}
	switch c.History.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid history.type %q: must be sqlite or memory", c.History.Type)
	}
	if c.Serve.RateLimit <= 0 || c.Serve.RateBurst <= 0 {
		return errors.New("serve.rate_limit and serve.rate_burst must be positive")
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
