package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/cuepoint/internal/ads"
)

func isolateDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	return dir
}

func TestDefault(t *testing.T) {
	dir := isolateDirs(t)
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(dir, "data", "cuepoint", "cuepoint.db"), cfg.Database.Path)
	assert.Zero(t, cfg.Database.RetentionDays)
	assert.True(t, cfg.Player.AutoPlay)
	assert.Equal(t, 1.0, cfg.Player.Rate)
	assert.Equal(t, 500*time.Millisecond, cfg.Player.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Ads.Native.LoadTimeout)
	assert.Empty(t, cfg.Ads.Breaks)
	assert.True(t, cfg.Analytics.Store)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	isolateDirs(t)
	cfg, v, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_File(t *testing.T) {
	dir := isolateDirs(t)
	path := filepath.Join(dir, "cuepoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
player:
  auto_play: false
  poll_interval: 250ms
ads:
  skip_button_enabled: true
  skip_after_seconds: 7
  breaks:
    - kind: preroll
      source:
        uri: https://ads.example.com/pre.mp4
    - kind: midroll
      offset: 30
      source:
        uri: https://ads.example.com/mid.mp4
        headers:
          X-Ad: mid
restrictions:
  disable_seeking_forward: true
  max_playback_rate: 1.5
qualities:
  - id: hd
    uri: https://cdn.example.com/hd.m3u8
    label: 1080p
    is_default: true
`), 0644))

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Player.AutoPlay)
	assert.Equal(t, 250*time.Millisecond, cfg.Player.PollInterval)
	require.Len(t, cfg.Ads.Breaks, 2)
	assert.Equal(t, ads.KindMidroll, cfg.Ads.Breaks[1].Kind)
	assert.Equal(t, 30.0, cfg.Ads.Breaks[1].Offset)
	assert.Equal(t, "mid", cfg.Ads.Breaks[1].Source.Headers["x-ad"])
	assert.True(t, cfg.Restrictions.DisableSeekingForward)
	assert.Equal(t, 1.5, cfg.Restrictions.MaxPlaybackRate)
	require.Len(t, cfg.Qualities, 1)
	assert.True(t, cfg.Qualities[0].IsDefault)

	skip := cfg.SkipPolicy()
	assert.True(t, skip.Enabled)
	assert.Equal(t, 7.0, skip.AfterSeconds)
}

func TestLoad_EnvOverride(t *testing.T) {
	isolateDirs(t)
	t.Setenv("CUEPOINT_LOGGING_LEVEL", "debug")
	t.Setenv("CUEPOINT_METRICS_ENABLED", "true")

	cfg, _, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	dir := isolateDirs(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ads:
  breaks:
    - kind: overlay
  native:
    enabled: true
`), 0644))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "overlay"`)
	assert.Contains(t, err.Error(), "source uri is required")
	assert.Contains(t, err.Error(), "ad_tag_url is required")
}

func TestSaveDefaultConfig_RoundTrip(t *testing.T) {
	dir := isolateDirs(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveDefaultConfig(path))

	cfg, _, err := Load(path)
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Logging, cfg.Logging)
	assert.Equal(t, want.Database, cfg.Database)
	assert.Equal(t, want.Ads.Native, cfg.Ads.Native)
	assert.Equal(t, want.Restrictions, cfg.Restrictions)
	assert.Equal(t, want.Player.PollInterval, cfg.Player.PollInterval)
	assert.Equal(t, want.Metrics, cfg.Metrics)
}

func TestInitializeDirs(t *testing.T) {
	dir := isolateDirs(t)
	require.NoError(t, InitializeDirs())

	for _, sub := range []string{"config/cuepoint", "data/cuepoint", "state/cuepoint"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestInitLogger_File(t *testing.T) {
	dir := isolateDirs(t)
	defer slog.SetDefault(slog.Default())

	cfg := &LoggingConfig{Level: "warn", Format: "json", File: filepath.Join(dir, "logs", "test.log"), MaxSize: 1}
	logger, err := InitLogger(cfg)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible", "component", "test")

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"visible"`)
}

func TestColoredTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewColoredTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.With("component", "runner").Warn("slow")
	logger.Debug("dropped")

	out := buf.String()
	assert.Contains(t, out, "\033[33m")
	assert.Contains(t, out, "component=runner")
	assert.NotContains(t, out, "dropped")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}
