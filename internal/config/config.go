// Package config provides configuration management for the intake tracker.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"github.com/clinops/intake-tracker/internal/constants"
)

// Config is the tracker configuration.
//
// Sources, later ones win:
//  1. built-in defaults (internal/constants)
//  2. INI file (default ~/.config/intake-tracker/config)
//  3. .env.local in the working directory or its parent
//  4. INTAKE_* environment variables
//  5. command-line flags (applied by the cli package)
//
// INI format:
//
//	[service]
//	base_url = https://extract.example.org
//	api_key = <token>
//
//	[limits]
//	max_files = 10
//	max_file_size_bytes = 41943040
//	allowed_extensions = .pdf,.png,.jpg
//	sniff_content = false
//
//	[tracking]
//	poll_interval_ms = 1000
//	completion_delay_ms = 2000
//	upload_weight = 0.5
//	max_tracking_minutes = 0
//	complete_on_manual_close = false
//
//	[channel]
//	mode = websocket
//	redis_url = redis://127.0.0.1:6379/0
//
//	[proxy]
//	mode = no-proxy
type Config struct {
	// Extraction service connection
	APIBaseURL string
	APIKey     string

	// Submission limits (owned by the surrounding application)
	MaxFiles          int
	MaxFileSizeBytes  int64
	AllowedExtensions []string
	SniffContent      bool

	// Tracking
	PollInterval          time.Duration
	CompletionDelay       time.Duration
	UploadWeight          float64
	MaxTrackingDuration   time.Duration
	CompleteOnManualClose bool

	// Push channel: "websocket", "redis" or "none"
	ChannelMode string
	RedisURL    string

	// Proxy settings
	ProxyMode     string // "no-proxy", "system", "basic", "ntlm"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// PrefsPath is where the two presentation flags are cached.
	PrefsPath string
}

// Validation errors
var (
	ErrMissingBaseURL      = errors.New("service base_url is required")
	ErrInvalidMaxFiles     = errors.New("max_files must be at least 1")
	ErrInvalidMaxFileSize  = errors.New("max_file_size_bytes must be positive")
	ErrNoExtensions        = errors.New("allowed_extensions must not be empty")
	ErrInvalidPollInterval = errors.New("poll_interval_ms must be positive")
	ErrInvalidUploadWeight = errors.New("upload_weight must be between 0 and 1 (exclusive)")
	ErrInvalidChannelMode  = errors.New("channel mode must be websocket, redis or none")
	ErrMissingRedisURL     = errors.New("redis_url is required when channel mode is redis")
	ErrInvalidProxyMode    = errors.New("proxy mode must be no-proxy, system, basic or ntlm")
)

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		APIBaseURL:          "http://127.0.0.1:8088",
		MaxFiles:            constants.DefaultMaxFiles,
		MaxFileSizeBytes:    constants.DefaultMaxFileSizeBytes,
		AllowedExtensions:   append([]string(nil), constants.DefaultAllowedExtensions...),
		PollInterval:        constants.PollInterval,
		CompletionDelay:     constants.CompletionDelay,
		UploadWeight:        constants.DefaultUploadWeight,
		MaxTrackingDuration: constants.MaxTrackingDuration,
		ChannelMode:         "websocket",
		ProxyMode:           "no-proxy",
		PrefsPath:           filepath.Join(ConfigDirectory(), "ui-prefs.json"),
	}
}

// ConfigDirectory returns the per-user configuration directory.
//   - Windows: %APPDATA%\intake-tracker
//   - Unix: ~/.config/intake-tracker
func ConfigDirectory() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return filepath.Join(os.TempDir(), "intake-tracker")
		}
		if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "intake-tracker")
		}
		return filepath.Join(home, ".config", "intake-tracker")
	}
	return filepath.Join(dir, "intake-tracker")
}

// DefaultConfigPath returns the default INI file path.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirectory(), "config")
}

// Load builds the configuration from defaults, the INI file at path (default
// location when empty), .env.local and the environment.
// A missing INI file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadINI(path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	loadEnvFile()
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) loadINI(path string) error {
	iniFile, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	service := iniFile.Section("service")
	c.APIBaseURL = service.Key("base_url").MustString(c.APIBaseURL)
	c.APIKey = service.Key("api_key").MustString(c.APIKey)

	limits := iniFile.Section("limits")
	c.MaxFiles = limits.Key("max_files").MustInt(c.MaxFiles)
	c.MaxFileSizeBytes = limits.Key("max_file_size_bytes").MustInt64(c.MaxFileSizeBytes)
	if limits.HasKey("allowed_extensions") {
		c.AllowedExtensions = splitList(limits.Key("allowed_extensions").String())
	}
	c.SniffContent = limits.Key("sniff_content").MustBool(c.SniffContent)

	tracking := iniFile.Section("tracking")
	c.PollInterval = msKey(tracking.Key("poll_interval_ms"), c.PollInterval)
	c.CompletionDelay = msKey(tracking.Key("completion_delay_ms"), c.CompletionDelay)
	c.UploadWeight = tracking.Key("upload_weight").MustFloat64(c.UploadWeight)
	if tracking.HasKey("max_tracking_minutes") {
		c.MaxTrackingDuration = time.Duration(tracking.Key("max_tracking_minutes").MustInt(0)) * time.Minute
	}
	c.CompleteOnManualClose = tracking.Key("complete_on_manual_close").MustBool(c.CompleteOnManualClose)

	channel := iniFile.Section("channel")
	c.ChannelMode = channel.Key("mode").MustString(c.ChannelMode)
	c.RedisURL = channel.Key("redis_url").MustString(c.RedisURL)

	proxy := iniFile.Section("proxy")
	c.ProxyMode = proxy.Key("mode").MustString(c.ProxyMode)
	c.ProxyHost = proxy.Key("host").MustString(c.ProxyHost)
	c.ProxyPort = proxy.Key("port").MustInt(c.ProxyPort)
	c.ProxyUser = proxy.Key("user").MustString(c.ProxyUser)
	c.ProxyPassword = proxy.Key("password").MustString(c.ProxyPassword)
	c.NoProxy = proxy.Key("no_proxy").MustString(c.NoProxy)
	c.ProxyWarmup = proxy.Key("warmup").MustBool(c.ProxyWarmup)

	ui := iniFile.Section("ui")
	c.PrefsPath = ui.Key("prefs_path").MustString(c.PrefsPath)

	return nil
}

// Save writes the configuration to an INI file. The proxy password is never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	sections := []struct {
		name string
		keys [][2]string
	}{
		{"service", [][2]string{
			{"base_url", cfg.APIBaseURL},
			{"api_key", cfg.APIKey},
		}},
		{"limits", [][2]string{
			{"max_files", strconv.Itoa(cfg.MaxFiles)},
			{"max_file_size_bytes", strconv.FormatInt(cfg.MaxFileSizeBytes, 10)},
			{"allowed_extensions", strings.Join(cfg.AllowedExtensions, ",")},
			{"sniff_content", strconv.FormatBool(cfg.SniffContent)},
		}},
		{"tracking", [][2]string{
			{"poll_interval_ms", strconv.FormatInt(cfg.PollInterval.Milliseconds(), 10)},
			{"completion_delay_ms", strconv.FormatInt(cfg.CompletionDelay.Milliseconds(), 10)},
			{"upload_weight", strconv.FormatFloat(cfg.UploadWeight, 'f', -1, 64)},
			{"max_tracking_minutes", strconv.Itoa(int(cfg.MaxTrackingDuration / time.Minute))},
			{"complete_on_manual_close", strconv.FormatBool(cfg.CompleteOnManualClose)},
		}},
		{"channel", [][2]string{
			{"mode", cfg.ChannelMode},
			{"redis_url", cfg.RedisURL},
		}},
		{"proxy", [][2]string{
			{"mode", cfg.ProxyMode},
			{"host", cfg.ProxyHost},
			{"port", strconv.Itoa(cfg.ProxyPort)},
			{"user", cfg.ProxyUser},
			{"no_proxy", cfg.NoProxy},
			{"warmup", strconv.FormatBool(cfg.ProxyWarmup)},
		}},
		{"ui", [][2]string{
			{"prefs_path", cfg.PrefsPath},
		}},
	}

	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.keys {
			section.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Temporary file + rename for atomicity; the API key makes this file sensitive
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return ErrMissingBaseURL
	}
	if c.MaxFiles < 1 {
		return ErrInvalidMaxFiles
	}
	if c.MaxFileSizeBytes <= 0 {
		return ErrInvalidMaxFileSize
	}
	if len(c.AllowedExtensions) == 0 {
		return ErrNoExtensions
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.UploadWeight <= 0 || c.UploadWeight >= 1 {
		return ErrInvalidUploadWeight
	}

	switch strings.ToLower(c.ChannelMode) {
	case "websocket", "none":
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			return ErrMissingRedisURL
		}
	default:
		return ErrInvalidChannelMode
	}

	switch strings.ToLower(c.ProxyMode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return ErrInvalidProxyMode
	}

	return nil
}

// NeedsProxyPassword returns true if the proxy configuration requires a password
// but one has not been provided.
func (c *Config) NeedsProxyPassword() bool {
	mode := strings.ToLower(c.ProxyMode)
	if mode != "basic" && mode != "ntlm" {
		return false
	}
	return c.ProxyUser != "" && c.ProxyPassword == ""
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnv("INTAKE_BASE_URL", c.APIBaseURL)
	c.APIKey = getEnv("INTAKE_API_KEY", c.APIKey)
	c.MaxFiles = getEnvAsInt("INTAKE_MAX_FILES", c.MaxFiles)
	c.MaxFileSizeBytes = getEnvAsInt64("INTAKE_MAX_FILE_SIZE_BYTES", c.MaxFileSizeBytes)
	if v := os.Getenv("INTAKE_ALLOWED_EXTENSIONS"); v != "" {
		c.AllowedExtensions = splitList(v)
	}
	c.PollInterval = time.Duration(getEnvAsInt64("INTAKE_POLL_INTERVAL_MS", c.PollInterval.Milliseconds())) * time.Millisecond
	c.CompletionDelay = time.Duration(getEnvAsInt64("INTAKE_COMPLETION_DELAY_MS", c.CompletionDelay.Milliseconds())) * time.Millisecond
	if v, err := strconv.ParseFloat(os.Getenv("INTAKE_UPLOAD_WEIGHT"), 64); err == nil {
		c.UploadWeight = v
	}
	c.ChannelMode = getEnv("INTAKE_CHANNEL", c.ChannelMode)
	c.RedisURL = getEnv("INTAKE_REDIS_URL", c.RedisURL)
	c.ProxyMode = getEnv("INTAKE_PROXY_MODE", c.ProxyMode)
	c.ProxyPassword = getEnv("INTAKE_PROXY_PASSWORD", c.ProxyPassword)
}

func msKey(key *ini.Key, fallback time.Duration) time.Duration {
	ms := key.MustInt64(fallback.Milliseconds())
	return time.Duration(ms) * time.Millisecond
}

// splitList parses a comma-separated extension list, normalizing to lowercase with a leading dot.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
