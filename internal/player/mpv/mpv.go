package mpv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diniamo/gopv"

	"github.com/justchokingaround/cuepoint/internal/feed"
	"github.com/justchokingaround/cuepoint/internal/player"
)

// ErrClosed is returned by calls on a closed surface
var ErrClosed = errors.New("mpv surface closed")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures the mpv surface
type Options struct {
	Debug          bool
	LoadUserConfig bool
	// PollInterval is how often playback properties are sampled
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Surface implements player.Surface on top of an mpv process driven over IPC.
// Raw events are derived by sampling mpv properties.
type Surface struct {
	mu sync.Mutex

	// mpv process and IPC
	client    *gopv.Client
	cmd       *exec.Cmd
	ipcConfig *IPCConfig
	platform  Platform

	opts   Options
	logger *slog.Logger
	events *feed.Feed[player.Event]

	// State
	state   player.PlaybackState
	source  player.Source
	loadOpt player.LoadOptions
	prev    sample
	track   tracker

	// Control
	ctx          context.Context
	cancel       context.CancelFunc
	clientClosed bool
	closed       bool
}

// New creates an mpv surface. mpv is started on the first Load.
func New(opts Options) (*Surface, error) {
	platform := DetectPlatform()
	if _, err := FindMPVExecutable(platform); err != nil {
		return nil, fmt.Errorf("mpv not found: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Surface{
		platform: platform,
		opts:     opts,
		logger:   opts.Logger.With("component", "mpv"),
		events:   feed.New[player.Event](),
		state:    player.StateStopped,
	}, nil
}

// Events returns the raw event feed
func (s *Surface) Events() *feed.Feed[player.Event] {
	return s.events
}

// Load shows src. A running mpv is reused through loadfile; otherwise a new
// process is started. Returns once the request is issued; ready is reported
// through the event feed.
func (s *Surface) Load(ctx context.Context, src player.Source, options player.LoadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.source = src
	s.loadOpt = options
	s.prev = sample{}
	s.track = tracker{loading: true, uri: src.URI, interval: s.opts.PollInterval.Seconds(), rate: options.Rate}

	if s.client != nil {
		return s.loadfileLocked(src, options)
	}
	if s.state == player.StateLoading {
		// mpv is still starting; the next connect loads the latest source
		return nil
	}
	return s.spawnLocked(src, options)
}

type property struct {
	name  string
	value any
}

func (s *Surface) loadfileLocked(src player.Source, options player.LoadOptions) error {
	props := []property{
		{"pause", !options.AutoPlay},
		{"force-media-title", src.Title},
		{"user-agent", userAgent(src)},
		{"referrer", src.Referer},
	}
	if options.Rate > 0 {
		props = append(props, property{"speed", options.Rate})
	}
	for _, p := range props {
		if _, err := s.client.Request("set_property", p.name, p.value); err != nil {
			s.logger.Debug("failed to set property", "property", p.name, "error", err)
		}
	}
	if headers := headerFields(src.Headers); headers != "" {
		if _, err := s.client.Request("change-list", "http-header-fields", "set", headers); err != nil {
			s.logger.Debug("failed to set http headers", "error", err)
		}
	}

	if _, err := s.client.Request("loadfile", src.URI, "replace"); err != nil {
		return fmt.Errorf("failed to load %s: %w", src.URI, err)
	}
	s.state = player.StateLoading
	return nil
}

func (s *Surface) spawnLocked(src player.Source, options player.LoadOptions) error {
	mpvExec := GetMPVExecutable(s.platform)
	if _, err := exec.LookPath(mpvExec); err != nil {
		return fmt.Errorf("mpv executable not found in PATH (%s): %w", mpvExec, err)
	}

	ipcConfig, err := GetIPCConfig(s.platform)
	if err != nil {
		return fmt.Errorf("failed to generate IPC config: %w", err)
	}
	s.ipcConfig = ipcConfig

	s.cmd = exec.Command(mpvExec, s.buildArgs(src, options)...)
	s.cmd.Stdin = nil
	s.cmd.Stdout = nil
	s.cmd.Stderr = nil
	setupProcessAttributes(s.cmd)

	if err := s.cmd.Start(); err != nil {
		s.cleanupIPC()
		return fmt.Errorf("failed to start %s: %w", mpvExec, err)
	}

	s.state = player.StateLoading
	s.clientClosed = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.connect(s.ctx, ipcConfig, s.cmd)

	s.logger.Debug("mpv started", "uri", src.URI, "ipc", ipcConfig.Address)
	return nil
}

// connect waits for the IPC endpoint and starts the monitors
func (s *Surface) connect(ctx context.Context, ipcConfig *IPCConfig, cmd *exec.Cmd) {
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	fail := func(err error) {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		s.mu.Lock()
		s.cleanupIPC()
		s.state = player.StateError
		s.mu.Unlock()
		s.publishError(err)
	}

	if err := waitForIPC(initCtx, ipcConfig); err != nil {
		if ctx.Err() != nil {
			return
		}
		fail(fmt.Errorf("timeout waiting for mpv IPC at %s: %w", ipcConfig.Address, err))
		return
	}

	client, err := gopv.Connect(GetGopvConnectionString(ipcConfig), func(err error) {
		s.publishError(fmt.Errorf("mpv IPC: %w", err))
	})
	if err != nil {
		fail(fmt.Errorf("failed to connect to mpv IPC at %s: %w", ipcConfig.Address, err))
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		_, _ = client.Request("quit")
		return
	}
	s.client = client
	// A Load issued while mpv was starting replaced the source
	if s.track.uri != "" && s.track.uri != s.spawnedURI(cmd) {
		if err := s.loadfileLocked(s.source, s.loadOpt); err != nil {
			s.logger.Warn("failed to load queued source", "error", err)
		}
	}
	s.mu.Unlock()

	go s.monitorProgress(ctx)
	go s.monitorProcess(ctx, cmd)
}

// spawnedURI returns the media argument the process was started with
func (s *Surface) spawnedURI(cmd *exec.Cmd) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[len(cmd.Args)-1]
}

// Seek seeks to position in seconds
func (s *Surface) Seek(ctx context.Context, position float64) error {
	return s.setProperty("time-pos", position)
}

// SetRate changes the playback speed
func (s *Surface) SetRate(ctx context.Context, rate float64) error {
	s.mu.Lock()
	s.track.rate = rate
	s.mu.Unlock()
	return s.setProperty("speed", rate)
}

// SetPaused pauses or resumes playback
func (s *Surface) SetPaused(ctx context.Context, paused bool) error {
	return s.setProperty("pause", paused)
}

func (s *Surface) setProperty(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.client == nil {
		return fmt.Errorf("player not initialized")
	}
	if _, err := s.client.Request("set_property", name, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

// State returns the last known playback state
func (s *Surface) State() player.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close stops mpv and closes the event feed
func (s *Surface) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	err := s.stopLocked()
	s.events.Close()
	return err
}

// stopLocked stops mpv; must be called with the lock held
func (s *Surface) stopLocked() error {
	if s.state == player.StateStopped || s.clientClosed {
		return nil
	}
	s.clientClosed = true
	s.state = player.StateStopped

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	// gopv closes the client itself once mpv exits and the pipe hits EOF
	if s.client != nil {
		client := s.client
		s.client = nil
		go func() {
			done := make(chan struct{})
			go func() {
				_, _ = client.Request("quit")
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(500 * time.Millisecond):
			}
		}()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.cleanupIPC()
	return nil
}

func (s *Surface) cleanupIPC() {
	if s.ipcConfig != nil && s.ipcConfig.IsSocket {
		_ = os.Remove(s.ipcConfig.Address)
	}
	s.ipcConfig = nil
}

// sampleLocked reads the playback properties; must be called with the lock held
func (s *Surface) sampleLocked() (sample, error) {
	var cur sample
	var propertyErrors int

	if result, err := s.client.Request("get_property", "time-pos"); err == nil {
		if val, ok := result.(float64); ok {
			cur.Position = val
			cur.Valid = true
		}
	} else {
		propertyErrors++
		if runtime.GOOS == "windows" {
			return cur, fmt.Errorf("windows IPC error getting time-pos: %w", err)
		}
	}

	if result, err := s.client.Request("get_property", "duration"); err == nil {
		if val, ok := result.(float64); ok {
			cur.Duration = val
		}
	} else {
		propertyErrors++
	}

	if result, err := s.client.Request("get_property", "pause"); err == nil {
		if val, ok := result.(bool); ok {
			cur.Paused = val
		}
	} else {
		propertyErrors++
	}

	if result, err := s.client.Request("get_property", "eof-reached"); err == nil {
		if val, ok := result.(bool); ok {
			cur.EOF = val
		}
	} else {
		propertyErrors++
	}

	if result, err := s.client.Request("get_property", "paused-for-cache"); err == nil {
		if val, ok := result.(bool); ok {
			cur.Buffering = val
		}
	}

	if result, err := s.client.Request("get_property", "path"); err == nil {
		if val, ok := result.(string); ok {
			cur.Path = val
		}
	}

	if propertyErrors >= 3 {
		return cur, fmt.Errorf("IPC connection failed (failed to get %d properties)", propertyErrors)
	}
	return cur, nil
}

// monitorProgress samples mpv and publishes the derived events
func (s *Surface) monitorProgress(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.client == nil {
				s.mu.Unlock()
				return
			}
			cur, err := s.sampleLocked()
			if err != nil {
				s.mu.Unlock()
				s.logger.Debug("failed to sample mpv", "error", err)
				continue
			}
			evs := deriveEvents(s.prev, cur, &s.track)
			s.prev = cur
			s.updateStateLocked(cur)
			s.mu.Unlock()

			now := time.Now()
			for _, ev := range evs {
				ev.Timestamp = now
				s.events.Publish(ev)
			}
		}
	}
}

func (s *Surface) updateStateLocked(cur sample) {
	switch {
	case s.track.loading:
		s.state = player.StateLoading
	case cur.Paused || cur.EOF:
		s.state = player.StatePaused
	default:
		s.state = player.StatePlaying
	}
}

// monitorProcess reports an unexpected mpv exit as an error event
func (s *Surface) monitorProcess(ctx context.Context, cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	stopped := s.state == player.StateStopped || ctx.Err() != nil
	s.mu.Unlock()

	if !stopped {
		if err == nil {
			err = errors.New("exited")
		}
		s.publishError(fmt.Errorf("mpv process exited unexpectedly: %w", err))
	}

	s.mu.Lock()
	_ = s.stopLocked()
	s.mu.Unlock()
}

func (s *Surface) publishError(err error) {
	s.mu.Lock()
	pos := s.prev.Position
	s.mu.Unlock()

	s.logger.Warn("mpv error", "error", err)
	s.events.Publish(player.Event{
		Type:      player.EventError,
		Timestamp: time.Now(),
		Position:  pos,
		Error:     err.Error(),
	})
}

// buildArgs builds the command-line arguments for mpv
func (s *Surface) buildArgs(src player.Source, opts player.LoadOptions) []string {
	args := []string{
		GetMPVIPCArgument(s.ipcConfig),
		"--idle=yes",      // Keep mpv running between sources
		"--keep-open=yes", // Hold the last frame so eof-reached is observable
		"--no-ytdl",
	}

	if !s.opts.LoadUserConfig {
		args = append(args, "--no-config")
	}
	if !s.opts.Debug {
		args = append(args, "--msg-level=all=warn")
	}

	if !opts.AutoPlay {
		args = append(args, "--pause")
	}
	if opts.Volume > 0 {
		args = append(args, fmt.Sprintf("--volume=%d", opts.Volume))
	}
	if opts.Rate > 0 {
		args = append(args, fmt.Sprintf("--speed=%f", opts.Rate))
	}
	if opts.Fullscreen {
		args = append(args, "--fullscreen")
	}

	args = append(args, fmt.Sprintf("--user-agent=%s", userAgent(src)))
	if src.Referer != "" {
		args = append(args, fmt.Sprintf("--referrer=%s", src.Referer))
	}
	if headers := headerFields(src.Headers); headers != "" {
		args = append(args, fmt.Sprintf("--http-header-fields=%s", headers))
	}
	if src.Title != "" {
		args = append(args, fmt.Sprintf("--force-media-title=%s", src.Title))
	}

	args = append(args, opts.MPVArgs...)

	// URL must be last
	args = append(args, src.URI)
	return args
}

func userAgent(src player.Source) string {
	if src.UserAgent != "" {
		return src.UserAgent
	}
	if ua := src.Headers["User-Agent"]; ua != "" {
		return ua
	}
	return defaultUserAgent
}

// headerFields joins the extra headers in a stable order. User-Agent and
// Referer have dedicated options.
func headerFields(headers map[string]string) string {
	fields := make([]string, 0, len(headers))
	for key, value := range headers {
		if key == "User-Agent" || key == "Referer" {
			continue
		}
		fields = append(fields, fmt.Sprintf("%s: %s", key, value))
	}
	sort.Strings(fields)
	return strings.Join(fields, ",")
}

// waitForIPC waits for the IPC endpoint to accept connections
func waitForIPC(ctx context.Context, ipcConfig *IPCConfig) error {
	timeoutDuration := 5 * time.Second
	if ipcConfig.Type == IPCTCP || ipcConfig.Type == IPCNamedPipe {
		timeoutDuration = 10 * time.Second
	}

	timeout := time.After(timeoutDuration)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("timeout waiting for IPC at %s after %v", ipcConfig.Address, timeoutDuration)
		case <-ticker.C:
			switch {
			case ipcConfig.IsSocket:
				if _, err := os.Stat(ipcConfig.Address); err == nil {
					time.Sleep(200 * time.Millisecond)
					return nil
				}
			case ipcConfig.Type == IPCTCP:
				conn, err := net.DialTimeout("tcp", ipcConfig.Address, 200*time.Millisecond)
				if err == nil {
					_ = conn.Close()
					time.Sleep(300 * time.Millisecond)
					return nil
				}
			case ipcConfig.Type == IPCNamedPipe:
				if isPipeReady(ipcConfig.Address) {
					time.Sleep(200 * time.Millisecond)
					return nil
				}
			}
		}
	}
}
