package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/justchokingaround/cuepoint/internal/adbridge"
	"github.com/justchokingaround/cuepoint/internal/adbridge/vast"
	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/config"
	"github.com/justchokingaround/cuepoint/internal/database"
	"github.com/justchokingaround/cuepoint/internal/history"
	"github.com/justchokingaround/cuepoint/internal/metrics"
	"github.com/justchokingaround/cuepoint/internal/orchestrator"
	"github.com/justchokingaround/cuepoint/internal/player"
	"github.com/justchokingaround/cuepoint/internal/player/mpv"
	"github.com/justchokingaround/cuepoint/internal/quality"
)

var playCmd = &cobra.Command{
	Use:   "play [uri]",
	Short: "Play media through mpv with ad insertion",
	Long: `Play a URI, or the configured quality tracks when no URI is given.

Ad breaks, restrictions and autoplay are re-applied when the config file
changes during playback.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlay,
}

func init() {
	addPlayFlags(playCmd)
}

func addPlayFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "media title shown by mpv")
	cmd.Flags().String("session", "", "session id (default: random uuid)")
	cmd.Flags().StringToString("header", nil, "HTTP header for the main source (repeatable, key=value)")
	cmd.Flags().String("referer", "", "HTTP referer for the main source")
	cmd.Flags().String("user-agent", "", "HTTP user agent for the main source")
	cmd.Flags().StringP("quality", "q", "", "initial quality track (id, label or fuzzy label)")
	cmd.Flags().Bool("json", false, "write analytics events to stdout as JSON lines")
}

// playSession is everything runPlay wires together
type playSession struct {
	id      string
	surface player.Surface
	bridge  *adbridge.Adapter
	runner  *orchestrator.Runner
	store   *database.Store
	metrics *metrics.Collector
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, tracks, err := mainSource(cmd, args)
	if err != nil {
		return err
	}

	session, err := newPlaySession(cmd, src, tracks, cancel)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.surface.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close player", "error", err)
		}
	}()

	var wg sync.WaitGroup
	if session.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, session.metrics, logger); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}
	if v.ConfigFileUsed() != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := config.Watch(ctx, v, logger, session.reconfigure(ctx)); err != nil {
				logger.Warn("config hot reload disabled", "error", err)
			}
		}()
	}

	logger.Info("starting playback", "session_id", session.id, "uri", src.URI)
	runErr := session.runner.Run(ctx)
	cancel()
	wg.Wait()

	if runErr != nil {
		return fmt.Errorf("playback failed: %w", runErr)
	}
	if session.store != nil {
		pruneHistory(logger)
	}
	return nil
}

// mainSource builds the main source from the arguments and flags. With a URI
// the configured quality tracks are ignored.
func mainSource(cmd *cobra.Command, args []string) (player.Source, []quality.Track, error) {
	title, _ := cmd.Flags().GetString("title")
	headers, _ := cmd.Flags().GetStringToString("header")
	referer, _ := cmd.Flags().GetString("referer")
	userAgent, _ := cmd.Flags().GetString("user-agent")
	if userAgent == "" {
		userAgent = cfg.Player.UserAgent
	}

	src := player.Source{
		Title:     title,
		Headers:   headers,
		Referer:   referer,
		UserAgent: userAgent,
	}
	if len(args) == 1 {
		src.URI = args[0]
		return src, nil, nil
	}

	if len(cfg.Qualities) == 0 {
		return src, nil, errors.New("no URI given and no quality tracks configured")
	}
	tracks := cfg.Qualities
	if q, _ := cmd.Flags().GetString("quality"); q != "" {
		track, err := quality.NewSelection(tracks).Resolve(q)
		if err != nil {
			return src, nil, err
		}
		tracks = preferTrack(tracks, track.ID)
	}
	return src, tracks, nil
}

// preferTrack returns a copy of tracks with id as the only default
func preferTrack(tracks []quality.Track, id string) []quality.Track {
	out := make([]quality.Track, len(tracks))
	for i, t := range tracks {
		t.IsDefault = t.ID == id
		out[i] = t
	}
	return out
}

func newPlaySession(cmd *cobra.Command, src player.Source, tracks []quality.Track, finish func()) (*playSession, error) {
	s := &playSession{id: uuid.NewString()}
	if id, _ := cmd.Flags().GetString("session"); id != "" {
		s.id = id
	}

	surface, err := mpv.New(mpvOptions())
	if err != nil {
		return nil, err
	}
	s.surface = surface

	var sinks []analytics.Sink
	if cfg.Analytics.Store && database.DB != nil {
		s.store = database.NewStore(database.DB, logger)
		err := s.store.BeginSession(database.Session{
			ID:        s.id,
			Title:     src.Title,
			SourceURI: firstURI(src, tracks),
			Surface:   "mpv",
		})
		if err != nil {
			logger.Warn("analytics store disabled", "error", err)
			s.store = nil
		} else {
			sinks = append(sinks, s.store)
		}
	}
	if jsonLines, _ := cmd.Flags().GetBool("json"); jsonLines || cfg.Analytics.JSONLines {
		sinks = append(sinks, analytics.NewJSONLinesSink(cmd.OutOrStdout(), logger))
	}

	opts := orchestrator.Options{
		MainSource:   src,
		Tracks:       tracks,
		Breaks:       cfg.Ads.Breaks,
		Skip:         cfg.SkipPolicy(),
		Restrictions: cfg.Restrictions,
		AutoPlay:     cfg.Player.AutoPlay,
		Rate:         cfg.Player.Rate,
		Volume:       cfg.Player.Volume,
		SessionID:    s.id,
		OnFinished:   finish,
		AdTagURL:     cfg.Ads.Native.AdTagURL,
		Logger:       logger,
		OnEvent: func(ev player.Event) {
			logger.Debug("playback event", "type", ev.Type, "position", ev.Position, "duration", ev.Duration)
		},
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewCollector()
		sinks = append(sinks, s.metrics)
		opts.Observer = s.metrics
	}
	if len(sinks) > 0 {
		opts.Analytics = analytics.Tee(sinks...)
	}

	if cfg.Ads.Native.Enabled {
		bridge, err := newBridge()
		if err != nil {
			_ = surface.Close(context.Background())
			return nil, err
		}
		s.bridge = bridge
		opts.NativePostrollPending = bridge.PostrollPending
		opts.NativeHasPreroll = bridge.HasPreroll
	}

	orch, err := orchestrator.New(surface, opts)
	if err != nil {
		_ = surface.Close(context.Background())
		return nil, err
	}
	s.runner = orchestrator.NewRunner(orch, surface, s.bridge, logger)
	return s, nil
}

// newBridge mounts the VAST module on its own mpv window
func newBridge() (*adbridge.Adapter, error) {
	adSurface, err := mpv.New(mpvOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create ad player: %w", err)
	}

	module := vast.NewModule(newVASTClient(), adSurface, logger)
	return adbridge.NewAdapter(module, cfg.Bridge(), logger), nil
}

func mpvOptions() mpv.Options {
	return mpv.Options{
		Debug:          cfg.Advanced.Debug,
		LoadUserConfig: cfg.Player.LoadUserConfig,
		PollInterval:   cfg.Player.PollInterval,
		Logger:         logger,
	}
}

// reconfigure applies a reloaded config to the running session
func (s *playSession) reconfigure(ctx context.Context) func(*config.Config) {
	return func(next *config.Config) {
		err := s.runner.Do(ctx, func(ctx context.Context, o *orchestrator.Orchestrator) error {
			o.Configure(next.Ads.Breaks)
			o.SetRestrictions(next.Restrictions)
			o.SetAutoPlay(next.Player.AutoPlay)
			return nil
		})
		if err != nil {
			logger.Warn("failed to apply reloaded config", "error", err)
			return
		}
		logger.Info("config reloaded", "breaks", len(next.Ads.Breaks))
	}
}

func firstURI(src player.Source, tracks []quality.Track) string {
	if !src.IsZero() {
		return src.URI
	}
	if t, ok := quality.NewSelection(tracks).Current(); ok {
		return t.URI
	}
	return ""
}

// pruneHistory applies the configured retention window after a session
func pruneHistory(logger *slog.Logger) {
	if cfg.Database.RetentionDays <= 0 {
		return
	}
	removed, err := history.NewService(database.DB).Cleanup(days(cfg.Database.RetentionDays))
	if err != nil {
		logger.Warn("failed to prune analytics", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("pruned old analytics events", "removed", removed)
	}
}
