// Package metrics exposes Prometheus metrics for playback sessions.
//
// Collector is both an analytics sink and an orchestrator observer, so the
// same instance can be teed into the emitter and handed to the orchestrator.
// Session ids never become labels.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justchokingaround/cuepoint/internal/analytics"
)

const namespace = "cuepoint"

// Collector records analytics events and orchestrator decisions
type Collector struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	quartiles     *prometheus.CounterVec
	adStarts      *prometheus.CounterVec
	adErrors      *prometheus.CounterVec
	seeksBlocked  *prometheus.CounterVec
	adsTriggered  *prometheus.CounterVec
	switches      *prometheus.CounterVec
	activeSession prometheus.Gauge
	adBreak       *prometheus.HistogramVec

	mu          sync.Mutex
	adStartedAt map[string]time.Time
	now         func() time.Time
}

// NewCollector registers every metric on a fresh registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_total",
			Help:      "Total number of analytics events, by type.",
		}, []string{"type"}),
		quartiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quartiles_total",
			Help:      "Total number of content quartiles reached, by quartile.",
		}, []string{"quartile"}),
		adStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ad_starts_total",
			Help:      "Total number of ad breaks started, by position.",
		}, []string{"position"}),
		adErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ad_errors_total",
			Help:      "Total number of ad breaks that failed, by position.",
		}, []string{"position"}),
		seeksBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seeks_blocked_total",
			Help:      "Total number of seeks reverted by a restriction, by direction.",
		}, []string{"direction"}),
		adsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ads_triggered_total",
			Help:      "Total number of ad breaks triggered, by position and path.",
		}, []string{"position", "path"}),
		switches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_switches_total",
			Help:      "Total number of surface source loads, by reason.",
		}, []string{"reason"}),
		activeSession: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions that started and have not ended.",
		}),
		adBreak: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ad_break_duration_seconds",
			Help:      "Wall time from ad start to completion or error, by position.",
			Buckets:   []float64{5, 10, 15, 30, 60, 120, 300},
		}, []string{"position"}),
		adStartedAt: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Emit implements analytics.Sink
func (c *Collector) Emit(ev analytics.Event) {
	c.events.WithLabelValues(ev.Type.String()).Inc()

	switch ev.Type {
	case analytics.EventSessionStart:
		c.activeSession.Inc()
	case analytics.EventSessionEnd:
		c.activeSession.Dec()
	case analytics.EventQuartile:
		c.quartiles.WithLabelValues(strconv.Itoa(ev.Quartile)).Inc()
	case analytics.EventAdStart:
		c.adStarts.WithLabelValues(ev.AdPosition).Inc()
		c.mu.Lock()
		c.adStartedAt[ev.AdPosition] = c.stamp(ev)
		c.mu.Unlock()
	case analytics.EventAdError:
		c.adErrors.WithLabelValues(ev.AdPosition).Inc()
		c.observeBreak(ev)
	case analytics.EventAdComplete:
		c.observeBreak(ev)
	}
}

func (c *Collector) observeBreak(ev analytics.Event) {
	c.mu.Lock()
	started, ok := c.adStartedAt[ev.AdPosition]
	delete(c.adStartedAt, ev.AdPosition)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.adBreak.WithLabelValues(ev.AdPosition).Observe(c.stamp(ev).Sub(started).Seconds())
}

func (c *Collector) stamp(ev analytics.Event) time.Time {
	if ev.Timestamp.IsZero() {
		return c.now()
	}
	return ev.Timestamp
}

// SeekBlocked implements orchestrator.Observer
func (c *Collector) SeekBlocked(direction string) {
	c.seeksBlocked.WithLabelValues(direction).Inc()
}

// AdTriggered implements orchestrator.Observer
func (c *Collector) AdTriggered(adPosition string, native bool) {
	path := "simulated"
	if native {
		path = "native"
	}
	c.adsTriggered.WithLabelValues(adPosition, path).Inc()
}

// SourceSwitched implements orchestrator.Observer
func (c *Collector) SourceSwitched(reason string) {
	c.switches.WithLabelValues(reason).Inc()
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, c *Collector, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
