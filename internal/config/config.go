// Package config provides layered configuration for the transfer pipeline:
// CLI flags override environment variables (HTTPTRANSFER_*) override a
// config file override built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// EnvPrefix is the prefix for all environment-variable overrides.
const EnvPrefix = "HTTPTRANSFER_"

// Config captures the retry knobs, concurrency budget, part sizing, the
// content-repository service base URL, and proxy settings.
type Config struct {
	// ServiceBaseURL is the base URL of the content-repository service
	// exposing the initiate/complete control-plane endpoints.
	ServiceBaseURL string

	// APIKey is read from the config file, the environment, or the CLI;
	// the control-plane client does not send it with its requests.
	APIKey string

	// MaxConcurrent bounds how many asset-level transfers run at once.
	// Zero means let the resource manager decide.
	MaxConcurrent int

	// PreferredPartSize is the target size in bytes for a transfer part,
	// subject to the server-communicated min/max part size.
	PreferredPartSize int64

	// MaxDurationMs, InitialDelayMs, Backoff, RetryAllErrors, and
	// SocketTimeoutMs mirror RetryPolicy's knobs (§4.2).
	MaxDurationMs   int
	InitialDelayMs  int
	Backoff         float64
	RetryAllErrors  bool
	SocketTimeoutMs int

	// ProxyMode is one of "no-proxy", "system", "ntlm", "basic".
	ProxyMode     string
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string
	ProxyWarmup   bool

	// Verbose enables debug-level logging.
	Verbose bool
}

// Defaults returns the built-in default configuration.
func Defaults() *Config {
	return &Config{
		ServiceBaseURL:  "https://content-repository.example.com",
		MaxConcurrent:   0,
		PreferredPartSize: 10 * 1024 * 1024,
		MaxDurationMs:   60000,
		InitialDelayMs:  100,
		Backoff:         2.0,
		SocketTimeoutMs: 30000,
		ProxyMode:       "no-proxy",
	}
}

// DefaultConfigPath returns the default config file path:
// ~/.config/httptransfer/config.ini (Unix) or
// %USERPROFILE%\.config\httptransfer\config.ini (Windows).
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "httptransfer", "config.ini"), nil
}

// Load builds a Config by layering, from lowest to highest priority:
// built-in defaults, an INI config file (path, or the default location if
// path is empty and the default file exists), and HTTPTRANSFER_* env vars.
// CLI flags are applied afterward by the caller, which assigns the
// fields directly, since cobra owns flag parsing.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				path = defaultPath
			}
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFile(cfg, path); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	iniFile, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}

	section := iniFile.Section("httptransfer")
	cfg.ServiceBaseURL = section.Key("service_base_url").MustString(cfg.ServiceBaseURL)
	cfg.APIKey = section.Key("api_key").MustString(cfg.APIKey)
	cfg.MaxConcurrent = section.Key("max_concurrent").MustInt(cfg.MaxConcurrent)
	cfg.PreferredPartSize = section.Key("preferred_part_size").MustInt64(cfg.PreferredPartSize)
	cfg.MaxDurationMs = section.Key("max_duration_ms").MustInt(cfg.MaxDurationMs)
	cfg.InitialDelayMs = section.Key("initial_delay_ms").MustInt(cfg.InitialDelayMs)
	cfg.Backoff = section.Key("backoff").MustFloat64(cfg.Backoff)
	cfg.RetryAllErrors = section.Key("retry_all_errors").MustBool(cfg.RetryAllErrors)
	cfg.SocketTimeoutMs = section.Key("socket_timeout_ms").MustInt(cfg.SocketTimeoutMs)

	proxy := iniFile.Section("proxy")
	cfg.ProxyMode = proxy.Key("mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = proxy.Key("host").MustString(cfg.ProxyHost)
	cfg.ProxyPort = proxy.Key("port").MustInt(cfg.ProxyPort)
	cfg.ProxyUser = proxy.Key("user").MustString(cfg.ProxyUser)
	cfg.ProxyPassword = proxy.Key("password").MustString(cfg.ProxyPassword)
	cfg.NoProxy = proxy.Key("no_proxy").MustString(cfg.NoProxy)

	return nil
}

func applyEnv(cfg *Config) {
	if v, ok := lookupEnv("SERVICE_BASE_URL"); ok {
		cfg.ServiceBaseURL = v
	}
	if v, ok := lookupEnv("API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := lookupEnvInt("MAX_CONCURRENT"); ok {
		cfg.MaxConcurrent = v
	}
	if v, ok := lookupEnvInt64("PREFERRED_PART_SIZE"); ok {
		cfg.PreferredPartSize = v
	}
	if v, ok := lookupEnvInt("MAX_DURATION_MS"); ok {
		cfg.MaxDurationMs = v
	}
	if v, ok := lookupEnvInt("INITIAL_DELAY_MS"); ok {
		cfg.InitialDelayMs = v
	}
	if v, ok := lookupEnvFloat("BACKOFF"); ok {
		cfg.Backoff = v
	}
	if v, ok := lookupEnvBool("RETRY_ALL_ERRORS"); ok {
		cfg.RetryAllErrors = v
	}
	if v, ok := lookupEnvInt("SOCKET_TIMEOUT_MS"); ok {
		cfg.SocketTimeoutMs = v
	}
	if v, ok := lookupEnv("PROXY_MODE"); ok {
		cfg.ProxyMode = v
	}
	if v, ok := lookupEnv("PROXY_HOST"); ok {
		cfg.ProxyHost = v
	}
	if v, ok := lookupEnvInt("PROXY_PORT"); ok {
		cfg.ProxyPort = v
	}
	if v, ok := lookupEnv("PROXY_USER"); ok {
		cfg.ProxyUser = v
	}
	if v, ok := lookupEnv("PROXY_PASSWORD"); ok {
		cfg.ProxyPassword = v
	}
	if v, ok := lookupEnv("NO_PROXY"); ok {
		cfg.NoProxy = v
	}
	if v, ok := lookupEnvBool("VERBOSE"); ok {
		cfg.Verbose = v
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + suffix)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func lookupEnvInt(suffix string) (int, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvInt64(suffix string) (int64, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvFloat(suffix string) (float64, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lookupEnvBool(suffix string) (bool, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
