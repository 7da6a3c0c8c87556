package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/justchokingaround/cuepoint/internal/adbridge"
	"github.com/justchokingaround/cuepoint/internal/ads"
	"github.com/justchokingaround/cuepoint/internal/orchestrator"
	"github.com/justchokingaround/cuepoint/internal/player"
	"github.com/justchokingaround/cuepoint/internal/quality"
)

const appName = "cuepoint"

// Config is the complete cuepoint configuration
type Config struct {
	Logging      LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Database     DatabaseConfig            `mapstructure:"database" yaml:"database"`
	Player       PlayerConfig              `mapstructure:"player" yaml:"player"`
	Ads          AdsConfig                 `mapstructure:"ads" yaml:"ads"`
	Restrictions orchestrator.Restrictions `mapstructure:"restrictions" yaml:"restrictions"`
	Qualities    []quality.Track           `mapstructure:"qualities" yaml:"qualities"`
	Analytics    AnalyticsConfig           `mapstructure:"analytics" yaml:"analytics"`
	Metrics      MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
	Advanced     AdvancedConfig            `mapstructure:"advanced" yaml:"advanced"`
}

// LoggingConfig controls the slog handler and log rotation
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // text, json
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	Color      bool   `mapstructure:"color" yaml:"color"`
}

// DatabaseConfig controls the analytics store
type DatabaseConfig struct {
	Path           string `mapstructure:"path" yaml:"path"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	WALMode        bool   `mapstructure:"wal_mode" yaml:"wal_mode"`
	AutoVacuum     bool   `mapstructure:"auto_vacuum" yaml:"auto_vacuum"`
	RetentionDays  int    `mapstructure:"retention_days" yaml:"retention_days"` // 0 keeps everything
}

// PlayerConfig controls the mpv surface and the initial playback options
type PlayerConfig struct {
	AutoPlay       bool          `mapstructure:"auto_play" yaml:"auto_play"`
	Rate           float64       `mapstructure:"rate" yaml:"rate"`
	Volume         int           `mapstructure:"volume" yaml:"volume"`
	Fullscreen     bool          `mapstructure:"fullscreen" yaml:"fullscreen"`
	MPVArgs        []string      `mapstructure:"mpv_args" yaml:"mpv_args"`
	LoadUserConfig bool          `mapstructure:"load_user_config" yaml:"load_user_config"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// AdsConfig holds the simulated ad breaks and the native ad module settings
type AdsConfig struct {
	Breaks            []ads.Break  `mapstructure:"breaks" yaml:"breaks"`
	SkipButtonEnabled bool         `mapstructure:"skip_button_enabled" yaml:"skip_button_enabled"`
	SkipAfterSeconds  float64      `mapstructure:"skip_after_seconds" yaml:"skip_after_seconds"`
	Native            NativeConfig `mapstructure:"native" yaml:"native"`
}

// NativeConfig controls the VAST ad module
type NativeConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	AdTagURL    string        `mapstructure:"ad_tag_url" yaml:"ad_tag_url"`
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// AnalyticsConfig selects the sinks the CLI wires into the emitter
type AnalyticsConfig struct {
	Store     bool `mapstructure:"store" yaml:"store"`
	JSONLines bool `mapstructure:"json_lines" yaml:"json_lines"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// AdvancedConfig holds debugging switches
type AdvancedConfig struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`
	// ClipboardCommand is used when the system clipboard cannot be written
	// directly, e.g. "wl-copy"
	ClipboardCommand string `mapstructure:"clipboard_command" yaml:"clipboard_command"`
}

// SkipPolicy returns the skip button policy passed through to surfaces
func (c *Config) SkipPolicy() player.SkipPolicy {
	return player.SkipPolicy{
		Enabled:      c.Ads.SkipButtonEnabled,
		AfterSeconds: c.Ads.SkipAfterSeconds,
	}
}

// Bridge returns the adapter configuration for the native ad module
func (c *Config) Bridge() adbridge.Config {
	return adbridge.Config{
		Enabled:     c.Ads.Native.Enabled,
		AdTagURL:    c.Ads.Native.AdTagURL,
		LoadTimeout: c.Ads.Native.LoadTimeout,
	}
}

// Validate reports configuration values that cannot work
func (c *Config) Validate() error {
	var errs []error
	for i, b := range c.Ads.Breaks {
		switch b.Kind {
		case ads.KindPreroll, ads.KindMidroll, ads.KindPostroll:
		default:
			errs = append(errs, fmt.Errorf("ads.breaks[%d]: unknown kind %q", i, b.Kind))
		}
		if b.Source.IsZero() {
			errs = append(errs, fmt.Errorf("ads.breaks[%d]: source uri is required", i))
		}
	}
	if c.Ads.Native.Enabled && c.Ads.Native.AdTagURL == "" {
		errs = append(errs, errors.New("ads.native.ad_tag_url is required when native ads are enabled"))
	}
	if c.Restrictions.MaxPlaybackRate < 0 {
		errs = append(errs, errors.New("restrictions.max_playback_rate must not be negative"))
	}
	if c.Player.Volume < 0 || c.Player.Volume > 100 {
		errs = append(errs, fmt.Errorf("player.volume %d is outside 0-100", c.Player.Volume))
	}
	return errors.Join(errs...)
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.color", true)

	v.SetDefault("database.path", filepath.Join(getDataDir(), appName, appName+".db"))
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.wal_mode", true)
	v.SetDefault("database.auto_vacuum", true)
	v.SetDefault("database.retention_days", 0)

	v.SetDefault("player.auto_play", true)
	v.SetDefault("player.rate", 1.0)
	v.SetDefault("player.volume", 100)
	v.SetDefault("player.fullscreen", false)
	v.SetDefault("player.mpv_args", []string{})
	v.SetDefault("player.load_user_config", false)
	v.SetDefault("player.poll_interval", 500*time.Millisecond)
	v.SetDefault("player.user_agent", "")

	v.SetDefault("ads.breaks", []ads.Break{})
	v.SetDefault("ads.skip_button_enabled", false)
	v.SetDefault("ads.skip_after_seconds", 5.0)
	v.SetDefault("ads.native.enabled", false)
	v.SetDefault("ads.native.ad_tag_url", "")
	v.SetDefault("ads.native.load_timeout", 10*time.Second)
	v.SetDefault("ads.native.timeout", 10*time.Second)
	v.SetDefault("ads.native.max_retries", 2)
	v.SetDefault("ads.native.user_agent", "cuepoint/1.0")

	v.SetDefault("restrictions.disable_seeking_forward", false)
	v.SetDefault("restrictions.disable_seeking_backward", false)
	v.SetDefault("restrictions.max_playback_rate", 0.0)

	v.SetDefault("qualities", []quality.Track{})

	v.SetDefault("analytics.store", true)
	v.SetDefault("analytics.json_lines", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")

	v.SetDefault("advanced.debug", false)
	v.SetDefault("advanced.clipboard_command", "")
}

// Load reads the configuration from cfgFile, or from config.yaml in the
// config directory when cfgFile is empty. A missing default file is not an
// error. Environment variables prefixed with CUEPOINT_ override the file.
func Load(cfgFile string) (*Config, *viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(GetConfigDir())
	}

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals and validates the current state of v
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by the defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SaveDefaultConfig writes the default configuration as YAML
func SaveDefaultConfig(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	header := "# cuepoint configuration\n# Environment variables prefixed with CUEPOINT_ override these values.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitializeDirs creates the config, data and state directories
func InitializeDirs() error {
	dirs := []string{
		GetConfigDir(),
		filepath.Join(getDataDir(), appName),
		filepath.Join(getStateDir(), appName),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetConfigDir returns the directory holding config.yaml
func GetConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("APPDATA"); dir != "" {
			return filepath.Join(dir, appName)
		}
	}
	return filepath.Join(homeDir(), ".config", appName)
}

func getDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(homeDir(), ".local", "share")
}

func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(homeDir(), ".local", "state")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
