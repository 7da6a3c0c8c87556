// Package adbridge adapts an external ad-serving module to the orchestrator.
//
// The module is optional. When it is missing, or when loading ads fails, the
// adapter reports a fallback and the orchestrator keeps using its own ad
// state machine. No bridge failure is ever returned to the application.
package adbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/justchokingaround/cuepoint/internal/feed"
)

// ErrModuleUnavailable is reported when the bridge is enabled without a module
var ErrModuleUnavailable = errors.New("native ad module unavailable")

// EventType names a native ad event
type EventType string

const (
	EventLoaded    EventType = "loaded"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is a native ad event with its payload
type Event struct {
	Type       EventType `json:"type"`
	AdPosition string    `json:"ad_position,omitempty"` // preroll, midroll, postroll
	Message    string    `json:"message,omitempty"`
}

// Module is an external ad-serving integration
type Module interface {
	LoadAds(ctx context.Context, adTagURL string) error
	StartAds(ctx context.Context) error
	StopAds(ctx context.Context) error
	ReleaseAds(ctx context.Context) error
	Subscribe(fn func(Event)) (unsubscribe func())
}

// ProgressAware modules schedule midrolls and postrolls from content progress
type ProgressAware interface {
	ContentProgress(position float64, ended bool)
}

// PostrollScheduler modules can report a postroll still waiting for the
// content to end
type PostrollScheduler interface {
	PostrollPending() bool
}

// PrerollScheduler modules can report whether the loaded schedule opens
// with a preroll
type PrerollScheduler interface {
	HasPreroll() bool
}

// Config controls the bridge
type Config struct {
	Enabled     bool          `mapstructure:"enabled"`
	AdTagURL    string        `mapstructure:"ad_tag_url"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

// Mode describes which ad path is in charge
type Mode int

const (
	// ModeSimulated means the orchestrator's own state machine decides
	ModeSimulated Mode = iota
	// ModePending means a load is in flight
	ModePending
	// ModeNative means the module loaded and owns ad decisions
	ModeNative
)

// String returns the string representation of Mode
func (m Mode) String() string {
	switch m {
	case ModeSimulated:
		return "simulated"
	case ModePending:
		return "pending"
	case ModeNative:
		return "native"
	default:
		return "unknown"
	}
}

// Adapter mounts a Module and republishes its events. An adapter mounts at
// most once.
type Adapter struct {
	mu sync.Mutex

	module Module
	config Config
	logger *slog.Logger

	events     *feed.Feed[Event]
	onFallback func(error)

	mode        Mode
	mounted     bool
	closing     bool
	unsubscribe func()
	cancel      context.CancelFunc
	ctx         context.Context
	wg          sync.WaitGroup

	fallbackOnce sync.Once
	releaseOnce  sync.Once
}

// NewAdapter creates an adapter. module may be nil.
func NewAdapter(module Module, config Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 10 * time.Second
	}
	return &Adapter{
		module: module,
		config: config,
		logger: logger.With("component", "adbridge"),
		events: feed.New[Event](),
	}
}

// Events returns the feed of native ad events
func (a *Adapter) Events() *feed.Feed[Event] {
	return a.events
}

// OnFallback sets the callback invoked once when the native path gives up
func (a *Adapter) OnFallback(fn func(err error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFallback = fn
}

// AdTagURL returns the configured tag url
func (a *Adapter) AdTagURL() string {
	return a.config.AdTagURL
}

// Enabled reports whether the bridge will attempt a native load on mount
func (a *Adapter) Enabled() bool {
	return a.config.Enabled
}

// Mode returns the current ad path
func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Mount subscribes to the module and starts loading ads in the background.
// It does nothing when the bridge is disabled or already mounted.
func (a *Adapter) Mount(ctx context.Context) {
	a.mu.Lock()
	if a.mounted || a.closing || !a.config.Enabled {
		a.mu.Unlock()
		return
	}
	a.mounted = true

	if a.module == nil {
		a.mu.Unlock()
		a.logger.Warn("native ads enabled but no module is available, using simulated ads")
		a.fallback(ErrModuleUnavailable)
		return
	}

	a.mode = ModePending
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.unsubscribe = a.module.Subscribe(a.handleModuleEvent)
	loadCtx, cancelLoad := context.WithTimeout(a.ctx, a.config.LoadTimeout)
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer cancelLoad()

		a.logger.Debug("loading native ads", "ad_tag_url", a.config.AdTagURL)
		if err := a.module.LoadAds(loadCtx, a.config.AdTagURL); err != nil {
			a.logger.Warn("native ad load failed, falling back to simulated ads", "error", err)
			a.fallback(fmt.Errorf("load ads: %w", err))
		}
	}()
}

// Unmount removes the module listener and releases the module. Both happen
// exactly once no matter how often Unmount runs or whether a load is still
// in flight.
func (a *Adapter) Unmount(ctx context.Context) {
	a.mu.Lock()
	if !a.mounted || a.closing {
		a.mu.Unlock()
		return
	}
	a.closing = true
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	cancel := a.cancel
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.events.Close()

	if a.module == nil {
		return
	}
	a.releaseOnce.Do(func() {
		if err := a.module.ReleaseAds(ctx); err != nil {
			a.logger.Warn("failed to release native ads", "error", err)
		}
	})
}

// ContentProgress forwards main content progress to modules that schedule
// their own breaks
func (a *Adapter) ContentProgress(position float64, ended bool) {
	if a.Mode() != ModeNative {
		return
	}
	if pa, ok := a.module.(ProgressAware); ok {
		pa.ContentProgress(position, ended)
	}
}

// HasPreroll reports whether the loaded module will open with a preroll.
// Modules that cannot tell are treated as having none.
func (a *Adapter) HasPreroll() bool {
	if a.Mode() != ModeNative {
		return false
	}
	if ps, ok := a.module.(PrerollScheduler); ok {
		return ps.HasPreroll()
	}
	return false
}

// PostrollPending reports whether the loaded module still has a postroll
// queued. It is false unless the native path is active.
func (a *Adapter) PostrollPending() bool {
	if a.Mode() != ModeNative {
		return false
	}
	if ps, ok := a.module.(PostrollScheduler); ok {
		return ps.PostrollPending()
	}
	return false
}

func (a *Adapter) handleModuleEvent(ev Event) {
	if ev.Type == EventLoaded {
		a.mu.Lock()
		if a.mode != ModePending || a.closing {
			a.mu.Unlock()
			return
		}
		a.mode = ModeNative
		startCtx, cancel := context.WithTimeout(a.ctx, a.config.LoadTimeout)
		a.wg.Add(1)
		a.mu.Unlock()

		a.events.Publish(ev)

		go func() {
			defer a.wg.Done()
			defer cancel()
			if err := a.module.StartAds(startCtx); err != nil {
				a.logger.Warn("native ad start failed, falling back to simulated ads", "error", err)
				a.fallback(fmt.Errorf("start ads: %w", err))
			}
		}()
		return
	}

	if a.Mode() == ModeSimulated {
		// Late events after a fallback belong to nobody
		return
	}
	a.events.Publish(ev)
}

func (a *Adapter) fallback(err error) {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.fallbackOnce.Do(func() {
		a.mu.Lock()
		a.mode = ModeSimulated
		fn := a.onFallback
		a.mu.Unlock()

		if fn != nil {
			fn(err)
		}
	})
}
