package mpv

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/cuepoint/internal/player"
)

func TestGenerateIPCConfig(t *testing.T) {
	config1, err := GetIPCConfig(PlatformLinux)
	require.NoError(t, err)
	assert.Equal(t, IPCUnixSocket, config1.Type)
	assert.True(t, config1.IsSocket)
	assert.Contains(t, config1.Address, "cuepoint-mpv-")
	assert.Contains(t, config1.Address, ".sock")
	assert.Contains(t, config1.Address, os.TempDir())

	config2, err := GetIPCConfig(PlatformLinux)
	require.NoError(t, err)
	assert.NotEqual(t, config1.Address, config2.Address)

	winConfig, err := GetIPCConfig(PlatformWindows)
	require.NoError(t, err)
	assert.Equal(t, IPCNamedPipe, winConfig.Type)
	assert.False(t, winConfig.IsSocket)
	assert.Contains(t, winConfig.Address, `\\.\pipe\cuepoint-mpv-`)
}

func TestBuildArgs(t *testing.T) {
	url := "https://example.com/video.mp4"

	tests := []struct {
		name     string
		src      player.Source
		options  player.LoadOptions
		expected []string
		absent   []string
	}{
		{
			name:     "paused unless autoplay",
			src:      player.Source{URI: url},
			options:  player.LoadOptions{},
			expected: []string{"--idle=yes", "--keep-open=yes", "--pause", "--user-agent=" + defaultUserAgent},
		},
		{
			name:    "autoplay",
			src:     player.Source{URI: url},
			options: player.LoadOptions{AutoPlay: true},
			absent:  []string{"--pause"},
		},
		{
			name:     "volume and rate",
			src:      player.Source{URI: url},
			options:  player.LoadOptions{AutoPlay: true, Volume: 75, Rate: 1.5},
			expected: []string{"--volume=75", "--speed=1.5"},
		},
		{
			name:     "fullscreen",
			src:      player.Source{URI: url},
			options:  player.LoadOptions{Fullscreen: true},
			expected: []string{"--fullscreen"},
		},
		{
			name: "source metadata",
			src: player.Source{
				URI:       url,
				Title:     "Test Video",
				Referer:   "https://example.com",
				UserAgent: "Mozilla/5.0",
				Headers:   map[string]string{"X-B": "2", "X-A": "1", "Referer": "ignored"},
			},
			expected: []string{
				"--referrer=https://example.com",
				"--user-agent=Mozilla/5.0",
				"--http-header-fields=X-A: 1,X-B: 2",
				"--force-media-title=Test Video",
			},
		},
		{
			name:     "custom mpv args",
			src:      player.Source{URI: url},
			options:  player.LoadOptions{MPVArgs: []string{"--hwdec=auto", "--cache=yes"}},
			expected: []string{"--hwdec=auto", "--cache=yes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Surface{
				ipcConfig: &IPCConfig{Type: IPCUnixSocket, Address: "/tmp/test.sock", IsSocket: true},
			}
			args := s.buildArgs(tt.src, tt.options)

			assert.Equal(t, "--input-ipc-server=/tmp/test.sock", args[0])
			assert.Contains(t, args, "--no-config")
			for _, want := range tt.expected {
				found := false
				for _, arg := range args {
					if strings.HasPrefix(arg, want) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected arg %q not found in %v", want, args)
			}
			for _, unwanted := range tt.absent {
				assert.NotContains(t, args, unwanted)
			}
			assert.Equal(t, url, args[len(args)-1])
		})
	}
}

func TestBuildArgs_UserConfigAndDebug(t *testing.T) {
	s := &Surface{
		ipcConfig: &IPCConfig{Type: IPCUnixSocket, Address: "/tmp/test.sock", IsSocket: true},
		opts:      Options{LoadUserConfig: true, Debug: true},
	}
	args := s.buildArgs(player.Source{URI: "a.mp4"}, player.LoadOptions{})
	assert.NotContains(t, args, "--no-config")
	assert.NotContains(t, args, "--msg-level=all=warn")
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "ua", userAgent(player.Source{UserAgent: "ua", Headers: map[string]string{"User-Agent": "h"}}))
	assert.Equal(t, "h", userAgent(player.Source{Headers: map[string]string{"User-Agent": "h"}}))
	assert.Equal(t, defaultUserAgent, userAgent(player.Source{}))
}

func types(evs []player.Event) []player.EventType {
	out := make([]player.EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestDeriveEvents(t *testing.T) {
	playing := func(pos float64) sample {
		return sample{Position: pos, Duration: 100, Valid: true, Path: "a.mp4"}
	}

	t.Run("ready then play on the first valid sample", func(t *testing.T) {
		tr := &tracker{loading: true, uri: "a.mp4", interval: 0.5, rate: 1}

		assert.Empty(t, deriveEvents(sample{}, sample{}, tr))
		assert.True(t, tr.loading)

		evs := deriveEvents(sample{}, playing(0), tr)
		assert.Equal(t, []player.EventType{player.EventReady, player.EventPlay}, types(evs))
		assert.Equal(t, 100.0, evs[0].Duration)
		assert.False(t, tr.loading)
	})

	t.Run("paused load reports ready only", func(t *testing.T) {
		tr := &tracker{loading: true, uri: "a.mp4", interval: 0.5}
		cur := playing(0)
		cur.Paused = true
		assert.Equal(t, []player.EventType{player.EventReady}, types(deriveEvents(sample{}, cur, tr)))
	})

	t.Run("samples from the previous file are ignored", func(t *testing.T) {
		tr := &tracker{loading: true, uri: "b.mp4", interval: 0.5}
		assert.Empty(t, deriveEvents(sample{}, playing(50), tr))
		assert.True(t, tr.loading)
	})

	t.Run("progress, pause and buffering", func(t *testing.T) {
		tr := &tracker{interval: 0.5, rate: 1}

		assert.Equal(t, []player.EventType{player.EventTimeUpdate}, types(deriveEvents(playing(1), playing(1.5), tr)))
		assert.Empty(t, deriveEvents(playing(1.5), playing(1.5), tr))

		paused := playing(1.5)
		paused.Paused = true
		assert.Equal(t, []player.EventType{player.EventPause}, types(deriveEvents(playing(1.5), paused, tr)))
		assert.Equal(t, []player.EventType{player.EventPlay, player.EventTimeUpdate}, types(deriveEvents(paused, playing(2), tr)))

		buffering := playing(2)
		buffering.Buffering = true
		assert.Equal(t, []player.EventType{player.EventBufferStart}, types(deriveEvents(playing(2), buffering, tr)))
		assert.Equal(t, []player.EventType{player.EventBufferEnd, player.EventTimeUpdate}, types(deriveEvents(buffering, playing(2.4), tr)))
	})

	t.Run("jumps are seeks", func(t *testing.T) {
		tr := &tracker{interval: 0.5, rate: 1}

		evs := deriveEvents(playing(10), playing(42), tr)
		assert.Equal(t, []player.EventType{player.EventSeek}, types(evs))
		assert.Equal(t, 42.0, evs[0].Position)
		assert.Equal(t, []player.EventType{player.EventSeek}, types(deriveEvents(playing(42), playing(5), tr)))

		// Faster playback covers more ground between samples
		tr.rate = 4
		assert.Equal(t, []player.EventType{player.EventTimeUpdate}, types(deriveEvents(playing(10), playing(12), tr)))
	})

	t.Run("ended once per end of file", func(t *testing.T) {
		tr := &tracker{interval: 0.5, rate: 1}
		end := playing(100)
		end.EOF = true

		assert.Equal(t, []player.EventType{player.EventTimeUpdate, player.EventEnded}, types(deriveEvents(playing(99.6), end, tr)))
		assert.Empty(t, deriveEvents(end, end, tr))

		// Seeking back and playing to the end again reports it again
		assert.Equal(t, []player.EventType{player.EventSeek}, types(deriveEvents(end, playing(10), tr)))
		assert.Equal(t, []player.EventType{player.EventSeek, player.EventEnded}, types(deriveEvents(playing(10), end, tr)))
	})
}
