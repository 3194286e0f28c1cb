// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultPort is the listen port when PORT is unset
	DefaultPort = "8080"
	// DefaultBodySizeLimit matches Gemini's 20MB ceiling for inline request data
	DefaultBodySizeLimit int64 = 20 * 1024 * 1024
	// DefaultModel is the Gemini model used when GEMINI_MODEL is unset
	DefaultModel = "gemini-1.5-flash"
	// DefaultBaseURL is the native Gemini REST endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultMetricsEndpoint is the path Prometheus scrapes
	DefaultMetricsEndpoint = "/metrics"
)

// ErrMissingAPIKey is returned by Validate when no upstream credential is set
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY environment variable is required")

// Config holds the application configuration
type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	HTTP    HTTPConfig
	Upload  UploadConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	// MasterKey, when set, is required as a Bearer token on generate routes
	MasterKey     string
	BodySizeLimit int64
}

// GeminiConfig holds upstream provider configuration
type GeminiConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	MaxRetries     int
	CircuitBreaker bool
}

// HTTPConfig holds upstream HTTP client timeouts
type HTTPConfig struct {
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
}

// UploadConfig holds temporary file and default prompt settings.
// Empty prompts fall back to the built-in default for the upload kind.
type UploadConfig struct {
	Dir            string
	ImagePrompt    string
	DocumentPrompt string
	AudioPrompt    string
}

// MetricsConfig holds Prometheus exposure settings
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Format string
	Level  string
}

// ByteSize is a size in bytes that decodes from values like "20M" or "512K"
type ByteSize int64

// settings mirrors the flat environment variable namespace
type settings struct {
	Port                      string        `mapstructure:"port"`
	GeminiAPIKey              string        `mapstructure:"gemini_api_key"`
	GeminiModel               string        `mapstructure:"gemini_model"`
	GeminiBaseURL             string        `mapstructure:"gemini_base_url"`
	UploadDir                 string        `mapstructure:"upload_dir"`
	BodySizeLimit             ByteSize      `mapstructure:"body_size_limit"`
	GatewayMasterKey          string        `mapstructure:"gateway_master_key"`
	MetricsEnabled            bool          `mapstructure:"metrics_enabled"`
	MetricsEndpoint           string        `mapstructure:"metrics_endpoint"`
	LogFormat                 string        `mapstructure:"log_format"`
	LogLevel                  string        `mapstructure:"log_level"`
	HTTPTimeout               time.Duration `mapstructure:"http_timeout"`
	HTTPResponseHeaderTimeout time.Duration `mapstructure:"http_response_header_timeout"`
	UpstreamMaxRetries        int           `mapstructure:"upstream_max_retries"`
	UpstreamCircuitBreaker    bool          `mapstructure:"upstream_circuit_breaker"`
	DefaultImagePrompt        string        `mapstructure:"default_image_prompt"`
	DefaultDocumentPrompt     string        `mapstructure:"default_document_prompt"`
	DefaultAudioPrompt        string        `mapstructure:"default_audio_prompt"`
}

// Load reads configuration from an optional .env file and the environment.
// It does not validate; call Validate before serving.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path. Variables already present
// in the process environment are not overridden by the file.
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var s settings
	err := v.Unmarshal(&s, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsOrDurationHook(),
		byteSizeHook(),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:          strings.TrimSpace(s.Port),
			MasterKey:     s.GatewayMasterKey,
			BodySizeLimit: int64(s.BodySizeLimit),
		},
		Gemini: GeminiConfig{
			APIKey:         strings.TrimSpace(s.GeminiAPIKey),
			Model:          s.GeminiModel,
			BaseURL:        s.GeminiBaseURL,
			MaxRetries:     s.UpstreamMaxRetries,
			CircuitBreaker: s.UpstreamCircuitBreaker,
		},
		HTTP: HTTPConfig{
			Timeout:               s.HTTPTimeout,
			ResponseHeaderTimeout: s.HTTPResponseHeaderTimeout,
		},
		Upload: UploadConfig{
			Dir:            s.UploadDir,
			ImagePrompt:    s.DefaultImagePrompt,
			DocumentPrompt: s.DefaultDocumentPrompt,
			AudioPrompt:    s.DefaultAudioPrompt,
		},
		Metrics: MetricsConfig{
			Enabled:  s.MetricsEnabled,
			Endpoint: s.MetricsEndpoint,
		},
		Logging: LoggingConfig{
			Format: s.LogFormat,
			Level:  s.LogLevel,
		},
	}, nil
}

// Validate reports configuration that makes serving impossible
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Server.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 0 and 65535, got %q", c.Server.Port)
	}
	if c.Gemini.MaxRetries < 0 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must not be negative, got %d", c.Gemini.MaxRetries)
	}
	if c.Server.BodySizeLimit <= 0 {
		return fmt.Errorf("BODY_SIZE_LIMIT must be positive, got %d", c.Server.BodySizeLimit)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", DefaultModel)
	v.SetDefault("gemini_base_url", DefaultBaseURL)
	v.SetDefault("upload_dir", filepath.Join(os.TempDir(), "geminigate-uploads"))
	v.SetDefault("body_size_limit", DefaultBodySizeLimit)
	v.SetDefault("gateway_master_key", "")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_endpoint", DefaultMetricsEndpoint)
	v.SetDefault("log_format", "auto")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_timeout", 600*time.Second)
	v.SetDefault("http_response_header_timeout", 600*time.Second)
	v.SetDefault("upstream_max_retries", 0)
	v.SetDefault("upstream_circuit_breaker", false)
	v.SetDefault("default_image_prompt", "")
	v.SetDefault("default_document_prompt", "")
	v.SetDefault("default_audio_prompt", "")
}

// secondsOrDurationHook decodes durations given as plain integer seconds
// ("600") or Go duration strings ("10m", "1h30m").
func secondsOrDurationHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		raw, ok := data.(string)
		if !ok {
			return data, nil
		}
		raw = strings.TrimSpace(raw)
		if secs, err := strconv.Atoi(raw); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: use seconds or a Go duration like 90s", raw)
		}
		return d, nil
	}
}

// byteSizeHook decodes ByteSize values from strings
func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		raw, ok := data.(string)
		if !ok {
			return data, nil
		}
		size, err := ParseByteSize(raw)
		if err != nil {
			return nil, err
		}
		return ByteSize(size), nil
	}
}

// ParseByteSize parses sizes such as "1024", "512K", "20M", "1G" or "20MB".
// Units are binary (1K = 1024).
func ParseByteSize(s string) (int64, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return 0, errors.New("empty byte size")
	}

	raw = strings.TrimSuffix(raw, "B")
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(raw, "K"):
		multiplier = 1 << 10
	case strings.HasSuffix(raw, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(raw, "G"):
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		raw = raw[:len(raw)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	if n > math.MaxInt64/multiplier {
		return 0, fmt.Errorf("byte size %q overflows int64", s)
	}
	return n * multiplier, nil
}
