package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/example/brewguard/internal/detection"
)

// EnvironmentProduction disables debug events and offline hints.
const EnvironmentProduction = "production"

// Server contains the proxy listener settings.
type Server struct {
	Addr                   string `toml:"addr"`
	GRPCAddr               string `toml:"grpc_addr"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// Upstream describes the remote inference service.
type Upstream struct {
	BaseURL              string `toml:"base_url"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	ProbeIntervalSeconds int    `toml:"probe_interval_seconds"`
}

// Client contains the settings used when submitting through the proxy.
type Client struct {
	ProxyURL       string `toml:"proxy_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Environment    string `toml:"environment"`
}

// Events configures where structured events are forwarded.
type Events struct {
	Endpoint    string `toml:"endpoint"`
	RedisAddr   string `toml:"redis_addr"`
	RedisStream string `toml:"redis_stream"`
	RedisMaxLen int64  `toml:"redis_max_len"`
	DatabaseDSN string `toml:"database_dsn"`
	BufferSize  int    `toml:"buffer_size"`
	Debug       bool   `toml:"debug"`
}

// Logging contains log output settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Detection holds the default request parameters.
type Detection struct {
	ModelType     string `toml:"model_type"`
	DetectionType string `toml:"detection_type"`
	Confidence    int    `toml:"confidence"`
	Overlap       int    `toml:"overlap"`
}

// Config is the complete application configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Upstream  Upstream  `toml:"upstream"`
	Client    Client    `toml:"client"`
	Events    Events    `toml:"events"`
	Logging   Logging   `toml:"logging"`
	Detection Detection `toml:"detection"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	opts := detection.DefaultOptions()
	return &Config{
		Server: Server{
			Addr:                   ":8080",
			GRPCAddr:               ":9090",
			ShutdownTimeoutSeconds: 15,
		},
		Upstream: Upstream{
			BaseURL:              "https://brewguard.onrender.com",
			TimeoutSeconds:       55,
			ProbeIntervalSeconds: 60,
		},
		Client: Client{
			ProxyURL:       "http://localhost:8080",
			TimeoutSeconds: 60,
			Environment:    "development",
		},
		Events: Events{
			RedisStream: "brewguard:events",
			RedisMaxLen: 10000,
			BufferSize:  256,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
		Detection: Detection{
			ModelType:     string(opts.ModelType),
			DetectionType: string(opts.DetectionType),
			Confidence:    opts.Confidence,
			Overlap:       opts.Overlap,
		},
	}
}

// DefaultPath is read when neither --config nor BREWGUARD_CONFIG is set.
const DefaultPath = "brewguard.toml"

// ResolvePath picks the config file: the flag wins over BREWGUARD_CONFIG,
// which wins over DefaultPath. explicit is false only for the default.
func ResolvePath(flag string) (path string, explicit bool) {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag, true
	}
	if env := getEnv("BREWGUARD_CONFIG", ""); env != "" {
		return env, true
	}
	return DefaultPath, false
}

// Load reads path (when it exists), applies environment overrides and
// validates the result. A missing file is only an error when explicit is set.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Upstream.BaseURL = getEnv("UPSTREAM_BASE_URL", c.Upstream.BaseURL)
	c.Client.ProxyURL = getEnv("PROXY_URL", c.Client.ProxyURL)
	c.Client.Environment = getEnv("APP_ENV", c.Client.Environment)
	c.Server.Addr = getEnv("LISTEN_ADDR", c.Server.Addr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Events.Endpoint = getEnv("EVENTS_ENDPOINT", c.Events.Endpoint)
	c.Events.RedisAddr = getEnv("REDIS_ADDR", c.Events.RedisAddr)
	c.Events.DatabaseDSN = getEnv("DATABASE_DSN", c.Events.DatabaseDSN)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	if v, err := strconv.ParseBool(os.Getenv("DEBUG_EVENTS")); err == nil {
		c.Events.Debug = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Upstream.TimeoutSeconds <= 0 {
		return errors.New("upstream.timeout_seconds must be positive")
	}
	if c.Client.TimeoutSeconds <= c.Upstream.TimeoutSeconds {
		return fmt.Errorf("client.timeout_seconds (%d) must exceed upstream.timeout_seconds (%d)",
			c.Client.TimeoutSeconds, c.Upstream.TimeoutSeconds)
	}

	upstream, err := url.Parse(strings.TrimSpace(c.Upstream.BaseURL))
	if err != nil || upstream.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not an absolute URL", c.Upstream.BaseURL)
	}
	if c.Production() && upstream.Scheme != "https" {
		return errors.New("upstream.base_url must use https in production")
	}
	if proxy, err := url.Parse(strings.TrimSpace(c.Client.ProxyURL)); err != nil || proxy.Host == "" {
		return fmt.Errorf("client.proxy_url %q is not an absolute URL", c.Client.ProxyURL)
	}

	if _, err := c.DetectionOptions(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if c.Events.BufferSize < 0 {
		return errors.New("events.buffer_size must not be negative")
	}
	return nil
}

// Production reports whether the configured environment is production.
func (c *Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Client.Environment), EnvironmentProduction)
}

// DetectionOptions converts the [detection] section into request options.
func (c *Config) DetectionOptions() (detection.Options, error) {
	model, err := detection.ParseModelType(c.Detection.ModelType)
	if err != nil {
		return detection.Options{}, err
	}
	kind, err := detection.ParseDetectionType(c.Detection.DetectionType)
	if err != nil {
		return detection.Options{}, err
	}
	opts := detection.Options{
		ModelType:     model,
		DetectionType: kind,
		Confidence:    c.Detection.Confidence,
		Overlap:       c.Detection.Overlap,
	}
	return opts, opts.Validate()
}

// UpstreamTimeout is the hard deadline applied by the proxy.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// ClientTimeout is the deadline of the client-side call to the proxy.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.TimeoutSeconds) * time.Second
}

// ProbeInterval is the upstream reachability probe period; zero disables it.
func (c *Config) ProbeInterval() time.Duration {
	if c.Upstream.ProbeIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Upstream.ProbeIntervalSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown of the proxy.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
