// Package vast is an ad module that resolves VAST and VMAP tags and plays the
// resulting pods on a dedicated playback surface.
package vast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/justchokingaround/cuepoint/internal/adbridge"
	"github.com/justchokingaround/cuepoint/internal/ads"
	"github.com/justchokingaround/cuepoint/internal/feed"
	"github.com/justchokingaround/cuepoint/internal/player"
)

// ErrReleased is returned by calls on a released module
var ErrReleased = errors.New("ad module released")

// VAST error code for a media file that could not be played
const errorCodeMediaFailed = 405

var quartiles = []struct {
	event    string
	progress float64
}{
	{"firstQuartile", 0.25},
	{"midpoint", 0.5},
	{"thirdQuartile", 0.75},
}

// Module implements adbridge.Module
type Module struct {
	mu sync.Mutex

	resolver *resolver
	client   *Client
	surface  player.Surface
	logger   *slog.Logger
	events   *feed.Feed[adbridge.Event]

	pods    []Pod
	played  []bool
	started bool
	current int // pod index, -1 when no pod plays
	adIndex int
	fired   map[string]bool

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	released    bool
}

var (
	_ adbridge.Module            = (*Module)(nil)
	_ adbridge.ProgressAware     = (*Module)(nil)
	_ adbridge.PostrollScheduler = (*Module)(nil)
)

// NewModule creates a module that plays ads on surface. The module owns the
// surface and closes it on release.
func NewModule(client *Client, surface player.Surface, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "vast")
	ctx, cancel := context.WithCancel(context.Background())

	return &Module{
		resolver: &resolver{client: client, logger: logger},
		client:   client,
		surface:  surface,
		logger:   logger,
		events:   feed.New[adbridge.Event](),
		current:  -1,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers fn for module events
func (m *Module) Subscribe(fn func(adbridge.Event)) (unsubscribe func()) {
	return m.events.Subscribe(fn)
}

// LoadAds resolves the tag into pods and reports loaded
func (m *Module) LoadAds(ctx context.Context, adTagURL string) error {
	if adTagURL == "" {
		return fmt.Errorf("resolve ad tag: %w", ErrNoAds)
	}
	pods, err := m.resolver.resolve(ctx, adTagURL)
	if err != nil {
		return fmt.Errorf("resolve ad tag: %w", err)
	}

	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return ErrReleased
	}
	m.pods = pods
	m.played = make([]bool, len(pods))
	if m.unsubscribe == nil {
		m.unsubscribe = m.surface.Events().Subscribe(m.handleSurfaceEvent)
	}
	m.mu.Unlock()

	m.logger.Info("ads loaded", "pods", len(pods))
	m.events.Publish(adbridge.Event{Type: adbridge.EventLoaded})
	return nil
}

// StartAds enables playback and plays the preroll pod if there is one
func (m *Module) StartAds(ctx context.Context) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return ErrReleased
	}
	if m.pods == nil {
		m.mu.Unlock()
		return errors.New("ads not loaded")
	}
	m.started = true
	idx := m.nextPodLocked(0, false)
	if idx < 0 || m.pods[idx].Kind != ads.KindPreroll {
		idx = -1
	}
	m.mu.Unlock()

	if idx >= 0 {
		m.playPod(idx)
	}
	return nil
}

// StopAds abandons the current pod and stops scheduling new ones
func (m *Module) StopAds(ctx context.Context) error {
	m.mu.Lock()
	m.started = false
	var kind ads.Kind
	if m.current >= 0 {
		kind = m.pods[m.current].Kind
	}
	m.current = -1
	m.mu.Unlock()

	if kind != "" {
		m.events.Publish(adbridge.Event{Type: adbridge.EventCompleted, AdPosition: string(kind)})
	}
	return nil
}

// ReleaseAds stops listening, waits for in-flight pixels and closes the surface
func (m *Module) ReleaseAds(ctx context.Context) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil
	}
	m.released = true
	m.started = false
	m.current = -1
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.wg.Wait()
	m.cancel()
	m.events.Close()

	if err := m.surface.Close(ctx); err != nil {
		return fmt.Errorf("failed to close ad surface: %w", err)
	}
	return nil
}

// ContentProgress plays a due midroll, or the postroll once the content ended
func (m *Module) ContentProgress(position float64, ended bool) {
	m.mu.Lock()
	if !m.started || m.current >= 0 {
		m.mu.Unlock()
		return
	}
	idx := m.nextPodLocked(position, ended)
	m.mu.Unlock()

	if idx >= 0 {
		m.playPod(idx)
	}
}

// HasPreroll reports whether the resolved schedule contains a preroll pod,
// played or not
func (m *Module) HasPreroll() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pods {
		if p.Kind == ads.KindPreroll {
			return true
		}
	}
	return false
}

// PostrollPending reports whether a postroll pod has not played yet
func (m *Module) PostrollPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pods {
		if p.Kind == ads.KindPostroll && !m.played[i] {
			return true
		}
	}
	return false
}

// Pods returns the resolved schedule
func (m *Module) Pods() []Pod {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pod, len(m.pods))
	copy(out, m.pods)
	return out
}

// nextPodLocked follows the same priority as the simulated ad path: preroll,
// then the earliest due midroll, then the postroll once the content ended
func (m *Module) nextPodLocked(position float64, ended bool) int {
	for i, p := range m.pods {
		if m.played[i] {
			continue
		}
		switch p.Kind {
		case ads.KindPreroll:
			return i
		case ads.KindMidroll:
			if p.Offset <= position {
				return i
			}
		case ads.KindPostroll:
			if ended {
				return i
			}
		}
	}
	return -1
}

func (m *Module) playPod(idx int) {
	m.mu.Lock()
	if m.current >= 0 || m.released {
		m.mu.Unlock()
		return
	}
	m.current = idx
	m.adIndex = 0
	m.played[idx] = true
	pod := m.pods[idx]
	m.mu.Unlock()

	m.logger.Info("playing ad pod", "break", pod.Break().String(), "ads", len(pod.Ads))
	m.events.Publish(adbridge.Event{Type: adbridge.EventStarted, AdPosition: string(pod.Kind)})
	m.loadCurrentAd()
}

func (m *Module) loadCurrentAd() {
	m.mu.Lock()
	if m.current < 0 {
		m.mu.Unlock()
		return
	}
	ad := m.pods[m.current].Ads[m.adIndex]
	m.fired = make(map[string]bool)
	m.mu.Unlock()

	src := player.Source{URI: ad.MediaURL, Title: ad.Title}
	if err := m.surface.Load(m.ctx, src, player.LoadOptions{AutoPlay: true, Rate: 1}); err != nil {
		m.failAd(ad, fmt.Sprintf("failed to load ad media: %v", err))
	}
}

func (m *Module) handleSurfaceEvent(ev player.Event) {
	m.mu.Lock()
	if m.current < 0 {
		m.mu.Unlock()
		return
	}
	ad := m.pods[m.current].Ads[m.adIndex]

	var pixels []string
	once := func(event string, urls []string) {
		if !m.fired[event] {
			m.fired[event] = true
			pixels = append(pixels, urls...)
		}
	}

	switch ev.Type {
	case player.EventReady:
		once("impression", ad.Impressions)
		once("creativeView", ad.Tracking["creativeView"])
	case player.EventPlay:
		once("start", ad.Tracking["start"])
	case player.EventPause:
		pixels = append(pixels, ad.Tracking["pause"]...)
	case player.EventTimeUpdate:
		duration := ev.Duration
		if duration <= 0 {
			duration = ad.Duration
		}
		if duration > 0 {
			for _, q := range quartiles {
				if ev.Position/duration >= q.progress {
					once(q.event, ad.Tracking[q.event])
				}
			}
		}
	case player.EventEnded:
		for _, q := range quartiles {
			once(q.event, ad.Tracking[q.event])
		}
		once("complete", ad.Tracking["complete"])
	}
	m.mu.Unlock()

	m.fire(pixels, 0)

	switch ev.Type {
	case player.EventEnded:
		m.advance()
	case player.EventError:
		msg := ev.Error
		if msg == "" {
			msg = "ad playback failed"
		}
		m.failAd(ad, msg)
	}
}

// advance plays the next ad of the pod or finishes the pod
func (m *Module) advance() {
	m.mu.Lock()
	if m.current < 0 {
		m.mu.Unlock()
		return
	}
	pod := m.pods[m.current]
	if m.adIndex+1 < len(pod.Ads) {
		m.adIndex++
		m.mu.Unlock()
		m.loadCurrentAd()
		return
	}
	m.current = -1
	m.mu.Unlock()

	m.logger.Info("ad pod completed", "break", pod.Break().String())
	m.events.Publish(adbridge.Event{Type: adbridge.EventCompleted, AdPosition: string(pod.Kind)})
}

// failAd reports the ad error and ends the whole pod
func (m *Module) failAd(ad PlayableAd, msg string) {
	m.mu.Lock()
	if m.current < 0 {
		m.mu.Unlock()
		return
	}
	pod := m.pods[m.current]
	m.current = -1
	m.mu.Unlock()

	m.fire(ad.ErrorURLs, errorCodeMediaFailed)
	m.logger.Warn("ad failed", "break", pod.Break().String(), "ad_id", ad.ID, "error", msg)
	m.events.Publish(adbridge.Event{Type: adbridge.EventError, AdPosition: string(pod.Kind), Message: msg})
}

// fire sends tracking pixels in the background
func (m *Module) fire(urls []string, errorCode int) {
	if len(urls) == 0 {
		return
	}

	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.wg.Add(len(urls))
	m.mu.Unlock()

	for _, pixel := range urls {
		go func(pixel string) {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
			defer cancel()
			if err := m.client.Ping(ctx, pixel); err != nil {
				m.logger.Debug("tracking pixel failed", "url", pixel, "error", err)
			}
		}(expandMacros(pixel, errorCode))
	}
}

// expandMacros fills the VAST macros cuepoint knows about
func expandMacros(pixel string, errorCode int) string {
	r := strings.NewReplacer(
		"[CACHEBUSTING]", fmt.Sprintf("%08d", rand.IntN(100000000)),
		"[TIMESTAMP]", url.QueryEscape(time.Now().UTC().Format(time.RFC3339)),
		"[ERRORCODE]", strconv.Itoa(errorCode),
	)
	return r.Replace(pixel)
}
