// Package orchestrator decides which source a playback surface shows (main
// content or an ad), gates and filters the raw event stream, and feeds the
// forwarded subset to the application and the analytics emitter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/justchokingaround/cuepoint/internal/adbridge"
	"github.com/justchokingaround/cuepoint/internal/ads"
	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/player"
	"github.com/justchokingaround/cuepoint/internal/quality"
)

// ErrNoSource is returned when neither a main source nor a quality track is configured
var ErrNoSource = errors.New("no main source configured")

// Restrictions are caller policies on seeking and playback rate
type Restrictions struct {
	DisableSeekingForward  bool    `json:"disable_seeking_forward" yaml:"disable_seeking_forward" mapstructure:"disable_seeking_forward"`
	DisableSeekingBackward bool    `json:"disable_seeking_backward" yaml:"disable_seeking_backward" mapstructure:"disable_seeking_backward"`
	MaxPlaybackRate        float64 `json:"max_playback_rate,omitempty" yaml:"max_playback_rate" mapstructure:"max_playback_rate"` // 0 = unlimited
}

// Observer receives policy decisions, typically for metrics
type Observer interface {
	SeekBlocked(direction string)
	AdTriggered(adPosition string, native bool)
	SourceSwitched(reason string)
}

// Options configures an Orchestrator
type Options struct {
	MainSource player.Source
	Tracks     []quality.Track

	Breaks       []ads.Break
	Skip         player.SkipPolicy
	Restrictions Restrictions
	AutoPlay     bool
	Rate         float64
	Volume       int

	// OnEvent receives every forwarded raw event
	OnEvent func(player.Event)
	// Analytics receives derived events; nil disables analytics
	Analytics analytics.Sink
	SessionID string
	// OnFinished is called once the main content and any postroll are done
	OnFinished func()

	// AdTagURL is reported on native ad events
	AdTagURL string
	// NativePostrollPending reports whether the native module still has a
	// postroll to play after the content ends
	NativePostrollPending func() bool
	// NativeHasPreroll reports whether the loaded native schedule opens with
	// a preroll. Content held paused during the load resumes on loaded when
	// it does not.
	NativeHasPreroll func() bool

	// ForwardReadyDuringPreroll forwards the main content's first ready to
	// the application before the preroll starts instead of swallowing it
	ForwardReadyDuringPreroll bool

	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// state is everything the transition path mutates
type state struct {
	mainSource   player.Source
	activeSource player.Source

	adMode   bool
	nativeAd bool
	adInfo   analytics.AdInfo
	current  ads.Break

	lastPosition      float64
	resumeMainAfterAd bool
	restorePosition   *float64
	sawReady          bool
	finished          bool
}

// Orchestrator owns the active source and the ad/analytics decisions for one
// playback surface. It is not safe for concurrent use; Runner serialises
// access from a single goroutine.
type Orchestrator struct {
	surface player.Surface
	machine *ads.Machine
	emitter *analytics.Emitter
	tracks  *quality.Selection
	logger  *slog.Logger
	opts    Options

	native adbridge.Mode
	st     state
}

// New creates an orchestrator driving surface
func New(surface player.Surface, opts Options) (*Orchestrator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rate <= 0 {
		opts.Rate = 1.0
	}

	o := &Orchestrator{
		surface: surface,
		machine: ads.NewMachine(opts.Breaks),
		tracks:  quality.NewSelection(opts.Tracks),
		logger:  opts.Logger.With("component", "orchestrator"),
		opts:    opts,
	}

	main := opts.MainSource
	if track, ok := o.tracks.Current(); ok {
		main = track.Source(opts.MainSource.Title)
		main.Headers = opts.MainSource.Headers
		main.Referer = opts.MainSource.Referer
		main.UserAgent = opts.MainSource.UserAgent
	}
	if main.IsZero() {
		return nil, ErrNoSource
	}
	o.st.mainSource = main
	o.st.activeSource = main

	if opts.Analytics != nil {
		o.emitter = analytics.NewEmitter(opts.Analytics, analytics.Options{
			SessionID: opts.SessionID,
			Now:       opts.Now,
		})
	}

	return o, nil
}

// Start loads the main source on the surface
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.surface.Load(ctx, o.st.activeSource, o.loadOptions()); err != nil {
		return fmt.Errorf("failed to load main source: %w", err)
	}
	o.logger.Info("main source loaded", "uri", o.st.activeSource.URI, "auto_play", o.AutoPlay())
	return nil
}

// HandleEvent processes one raw event from the surface
func (o *Orchestrator) HandleEvent(ctx context.Context, ev player.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.opts.Now()
	}

	if o.st.adMode {
		o.handleAdModeEvent(ctx, ev)
		return
	}

	if ev.Type == player.EventPlay {
		o.st.resumeMainAfterAd = false
	}

	if o.simulatedAds() {
		if ev.Type == player.EventReady && o.machine.PrerollPending() {
			o.st.sawReady = true
			if o.opts.ForwardReadyDuringPreroll {
				o.forward(ctx, ev)
			}
			pre, _ := o.machine.Registry().Preroll()
			o.startAd(ctx, pre, ev)
			return
		}

		if next, ok := o.machine.NextAdToPlay(ev.Position, ev.Type == player.EventEnded); ok {
			if next.Kind == ads.KindPostroll && ev.Type == player.EventEnded && o.emitter != nil {
				// The content did end; its session_end waits for the postroll
				o.emitter.Track(ev, true)
			}
			o.startAd(ctx, next, ev)
			return
		}
	}

	if ev.Type == player.EventSeek && o.seekBlocked(ev.Position) {
		return
	}

	o.forward(ctx, ev)
}

// forward updates position bookkeeping and hands ev to the application and
// the emitter
func (o *Orchestrator) forward(ctx context.Context, ev player.Event) {
	o.st.lastPosition = ev.Position

	if ev.Type == player.EventReady {
		o.st.sawReady = true
		if o.emitter != nil {
			o.emitter.ResetQuartiles()
		}
		o.applyRestorePosition(ctx)
	}

	if o.opts.OnEvent != nil {
		o.opts.OnEvent(ev)
	}

	postrollPending := o.postrollPending()
	if o.emitter != nil {
		o.emitter.Track(ev, postrollPending)
	}

	if ev.Type == player.EventEnded && !postrollPending {
		o.finish()
	}
}

func (o *Orchestrator) postrollPending() bool {
	switch o.native {
	case adbridge.ModeSimulated:
		return o.machine.PostrollPending()
	case adbridge.ModeNative:
		return o.opts.NativePostrollPending != nil && o.opts.NativePostrollPending()
	default:
		return false
	}
}

func (o *Orchestrator) seekBlocked(position float64) bool {
	r := o.opts.Restrictions
	switch {
	case r.DisableSeekingForward && position > o.st.lastPosition:
		o.logger.Debug("forward seek blocked", "from", o.st.lastPosition, "to", position)
		o.observeSeekBlocked("forward")
		return true
	case r.DisableSeekingBackward && position < o.st.lastPosition:
		o.logger.Debug("backward seek blocked", "from", o.st.lastPosition, "to", position)
		o.observeSeekBlocked("backward")
		return true
	}
	return false
}

func (o *Orchestrator) applyRestorePosition(ctx context.Context) {
	if o.st.restorePosition == nil {
		return
	}
	pos := *o.st.restorePosition
	o.st.restorePosition = nil

	if err := o.surface.Seek(ctx, pos); err != nil {
		o.logger.Warn("failed to restore position", "position", pos, "error", err)
		return
	}
	// The surface reports the restore as a seek; it must not trip restrictions
	o.st.lastPosition = pos
	o.logger.Debug("restored position", "position", pos)
}

// startAd switches the surface to b and enters ad mode
func (o *Orchestrator) startAd(ctx context.Context, b ads.Break, trigger player.Event) {
	o.machine.OnAdStarted(b)
	o.st.adMode = true
	o.st.nativeAd = false
	o.st.current = b
	o.st.adInfo = analytics.AdInfo{
		AdPosition:          string(b.Kind),
		MainContentPosition: trigger.Position,
	}
	o.st.activeSource = b.Source

	o.logger.Info("starting ad", "break", b.String(), "trigger", trigger.Type, "position", trigger.Position)
	if o.opts.Observer != nil {
		o.opts.Observer.AdTriggered(string(b.Kind), false)
	}
	o.load(ctx, "ad_start")

	if o.emitter != nil {
		o.emitter.AdStarted(o.st.adInfo)
	}
}

func (o *Orchestrator) handleAdModeEvent(ctx context.Context, ev player.Event) {
	if o.st.nativeAd {
		// The native module reports its own lifecycle; content events are muted
		return
	}

	switch ev.Type {
	case player.EventEnded:
		o.completeAd(ctx, ev, "")
	case player.EventError:
		msg := ev.Error
		if msg == "" {
			msg = "ad playback failed"
		}
		o.completeAd(ctx, ev, msg)
	}
}

// completeAd leaves ad mode after the simulated ad ended or failed
func (o *Orchestrator) completeAd(ctx context.Context, ev player.Event, errMsg string) {
	b := o.st.current
	o.machine.OnAdCompleted(b)

	info := o.st.adInfo
	info.Position = ev.Position
	info.Duration = ev.Duration

	o.st.adMode = false
	o.st.current = ads.Break{}
	o.st.activeSource = o.st.mainSource
	o.st.resumeMainAfterAd = true

	if b.Kind == ads.KindMidroll {
		pos := info.MainContentPosition
		o.st.restorePosition = &pos
	}

	if errMsg != "" {
		o.logger.Warn("ad failed", "break", b.String(), "error", errMsg)
	} else {
		o.logger.Info("ad completed", "break", b.String())
	}

	if b.Kind == ads.KindPostroll {
		// Content is over; reloading it would start a new session
		o.st.resumeMainAfterAd = false
	} else {
		o.load(ctx, "ad_complete")
	}

	if o.emitter != nil {
		if errMsg != "" {
			o.emitter.AdFailed(info, errMsg)
		} else {
			o.emitter.AdCompleted(info)
		}
	}

	if b.Kind == ads.KindPostroll {
		o.finish()
	}
}

// HandleNativeEvent processes an event from the native ad bridge
func (o *Orchestrator) HandleNativeEvent(ctx context.Context, ev adbridge.Event) {
	switch ev.Type {
	case adbridge.EventLoaded:
		o.native = adbridge.ModeNative
		o.logger.Info("native ads loaded", "ad_tag_url", o.opts.AdTagURL)
		if o.onMain() && !o.nativeHasPreroll() && o.AutoPlay() {
			// Autoplay was held back while the load was pending
			if err := o.surface.SetPaused(ctx, false); err != nil {
				o.logger.Warn("failed to apply autoplay after native load", "error", err)
			}
		}

	case adbridge.EventStarted:
		if o.st.adMode {
			return
		}
		o.st.adMode = true
		o.st.nativeAd = true
		o.st.adInfo = analytics.AdInfo{
			AdPosition:          ev.AdPosition,
			AdTagURL:            o.opts.AdTagURL,
			MainContentPosition: o.st.lastPosition,
		}
		if o.opts.Observer != nil {
			o.opts.Observer.AdTriggered(ev.AdPosition, true)
		}
		if err := o.surface.SetPaused(ctx, true); err != nil {
			o.logger.Warn("failed to pause content for native ad", "error", err)
		}
		if o.emitter != nil {
			o.emitter.AdStarted(o.st.adInfo)
		}

	case adbridge.EventCompleted, adbridge.EventError:
		info := o.st.adInfo
		if !o.st.nativeAd {
			// Error before any ad started
			info = analytics.AdInfo{
				AdPosition:          ev.AdPosition,
				AdTagURL:            o.opts.AdTagURL,
				MainContentPosition: o.st.lastPosition,
			}
		}
		wasPlaying := o.st.adMode && o.st.nativeAd
		if ev.Type == adbridge.EventCompleted && !wasPlaying {
			return
		}
		if wasPlaying {
			o.st.adMode = false
			o.st.nativeAd = false
			o.st.resumeMainAfterAd = ev.AdPosition != string(ads.KindPostroll)
			if o.st.resumeMainAfterAd {
				o.resumeAfterNativeAd(ctx)
			}
		}

		if o.emitter != nil {
			if ev.Type == adbridge.EventError {
				msg := ev.Message
				if msg == "" {
					msg = "native ad failed"
				}
				o.emitter.AdFailed(info, msg)
			} else {
				o.emitter.AdCompleted(info)
			}
		}

		if wasPlaying && ev.AdPosition == string(ads.KindPostroll) {
			o.finish()
		}
	}
}

// resumeAfterNativeAd unpauses the content, or loads the quality selected
// while the native ad played
func (o *Orchestrator) resumeAfterNativeAd(ctx context.Context) {
	if o.st.activeSource.URI != o.st.mainSource.URI {
		pos := o.st.lastPosition
		o.st.restorePosition = &pos
		o.st.activeSource = o.st.mainSource
		o.load(ctx, "quality")
		return
	}
	if err := o.surface.SetPaused(ctx, !o.AutoPlay()); err != nil {
		o.logger.Warn("failed to resume content after native ad", "error", err)
	}
}

func (o *Orchestrator) nativeHasPreroll() bool {
	return o.opts.NativeHasPreroll != nil && o.opts.NativeHasPreroll()
}

// onMain reports whether the surface shows the current main source
func (o *Orchestrator) onMain() bool {
	return !o.st.adMode && o.st.activeSource.URI == o.st.mainSource.URI
}

// SetNativePending marks a native load as in flight; the simulated path stays
// quiet until it resolves
func (o *Orchestrator) SetNativePending() {
	if o.native == adbridge.ModeSimulated {
		o.native = adbridge.ModePending
	}
}

// FallbackToSimulated hands ad decisions back to the state machine. If the
// main content already reported ready, a pending preroll starts right away.
func (o *Orchestrator) FallbackToSimulated(ctx context.Context, cause error) {
	if o.native == adbridge.ModeSimulated {
		return
	}
	o.native = adbridge.ModeSimulated
	o.logger.Info("using simulated ads", "cause", cause)

	if o.st.adMode || !o.st.sawReady {
		return
	}
	if next, ok := o.machine.NextAdToPlay(o.st.lastPosition, false); ok {
		o.startAd(ctx, next, player.Event{
			Type:      player.EventReady,
			Timestamp: o.opts.Now(),
			Position:  o.st.lastPosition,
		})
	} else if o.onMain() {
		// Autoplay was held back while the native load was pending
		if err := o.surface.SetPaused(ctx, !o.AutoPlay()); err != nil {
			o.logger.Warn("failed to apply autoplay after fallback", "error", err)
		}
	}
}

func (o *Orchestrator) simulatedAds() bool {
	return o.native == adbridge.ModeSimulated
}

// AutoPlay is the autoplay input the surface should use right now
func (o *Orchestrator) AutoPlay() bool {
	switch {
	case o.st.adMode:
		return true
	case o.native == adbridge.ModePending:
		return false
	case o.simulatedAds() && o.machine.PrerollPending():
		return false
	case o.st.resumeMainAfterAd:
		return true
	default:
		return o.opts.AutoPlay
	}
}

// EffectiveRate clamps requested to the configured maximum
func (o *Orchestrator) EffectiveRate(requested float64) float64 {
	if max := o.opts.Restrictions.MaxPlaybackRate; max > 0 {
		return math.Min(requested, max)
	}
	return requested
}

// SetRate asks the surface for requested, clamped
func (o *Orchestrator) SetRate(ctx context.Context, requested float64) error {
	o.opts.Rate = requested
	rate := o.EffectiveRate(requested)
	if o.st.adMode && !o.st.nativeAd {
		// Ads always play at normal speed; the new rate applies on return
		return nil
	}
	if err := o.surface.SetRate(ctx, rate); err != nil {
		return fmt.Errorf("failed to set rate: %w", err)
	}
	return nil
}

// SelectQuality switches the main content to the track with the given id.
// The current position is restored on the next ready.
func (o *Orchestrator) SelectQuality(ctx context.Context, id string) error {
	track, err := o.tracks.Select(id)
	if err != nil {
		return err
	}

	src := track.Source(o.st.mainSource.Title)
	src.Headers = o.st.mainSource.Headers
	src.Referer = o.st.mainSource.Referer
	src.UserAgent = o.st.mainSource.UserAgent
	o.st.mainSource = src

	if o.st.adMode {
		// Applied when the ad hands back to main content
		o.logger.Info("quality queued until ad completes", "quality", id, "native", o.st.nativeAd)
		return nil
	}

	pos := o.st.lastPosition
	o.st.restorePosition = &pos
	o.st.activeSource = src
	o.logger.Info("switching quality", "quality", id, "position", pos)
	o.load(ctx, "quality")
	return nil
}

// ResolveQuality finds a track id by id, label or fuzzy label match
func (o *Orchestrator) ResolveQuality(query string) (quality.Track, error) {
	return o.tracks.Resolve(query)
}

// Configure replaces the ad breaks; played breaks stay played
func (o *Orchestrator) Configure(breaks []ads.Break) {
	o.machine.Configure(breaks)
	o.logger.Debug("ad breaks configured", "count", o.machine.Registry().Len())
}

// SetRestrictions replaces the restriction policy
func (o *Orchestrator) SetRestrictions(r Restrictions) {
	o.opts.Restrictions = r
}

// SetAutoPlay replaces the caller's autoplay preference
func (o *Orchestrator) SetAutoPlay(autoPlay bool) {
	o.opts.AutoPlay = autoPlay
}

// ActiveSource returns the source the surface is showing
func (o *Orchestrator) ActiveSource() player.Source {
	return o.st.activeSource
}

// MainSource returns the source restored after ads
func (o *Orchestrator) MainSource() player.Source {
	return o.st.mainSource
}

// InAdMode reports whether an ad is active
func (o *Orchestrator) InAdMode() bool {
	return o.st.adMode
}

// LastPosition returns the last forwarded main content position
func (o *Orchestrator) LastPosition() float64 {
	return o.st.lastPosition
}

// SkipPolicy returns the skip configuration passed through to surfaces
func (o *Orchestrator) SkipPolicy() player.SkipPolicy {
	return o.opts.Skip
}

// AdState returns a snapshot of the ad state machine
func (o *Orchestrator) AdState() ads.State {
	return o.machine.State()
}

// Finished reports whether the content and any postroll are done
func (o *Orchestrator) Finished() bool {
	return o.st.finished
}

func (o *Orchestrator) finish() {
	if o.st.finished {
		return
	}
	o.st.finished = true
	o.logger.Info("playback finished")
	if o.opts.OnFinished != nil {
		o.opts.OnFinished()
	}
}

func (o *Orchestrator) loadOptions() player.LoadOptions {
	opts := player.LoadOptions{
		AutoPlay: o.AutoPlay(),
		Rate:     o.EffectiveRate(o.opts.Rate),
		Volume:   o.opts.Volume,
	}
	if o.st.adMode {
		opts.Rate = o.EffectiveRate(1.0)
		opts.Skip = o.opts.Skip
	}
	return opts
}

func (o *Orchestrator) load(ctx context.Context, reason string) {
	if o.opts.Observer != nil {
		o.opts.Observer.SourceSwitched(reason)
	}
	if err := o.surface.Load(ctx, o.st.activeSource, o.loadOptions()); err != nil {
		o.logger.Error("failed to load source", "reason", reason, "uri", o.st.activeSource.URI, "error", err)
	}
}

func (o *Orchestrator) observeSeekBlocked(direction string) {
	if o.opts.Observer != nil {
		o.opts.Observer.SeekBlocked(direction)
	}
}
