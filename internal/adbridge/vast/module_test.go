package vast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/justchokingaround/cuepoint/internal/adbridge"
	"github.com/justchokingaround/cuepoint/internal/player"
	"github.com/justchokingaround/cuepoint/internal/player/script"
)

type eventLog struct {
	mu     sync.Mutex
	events []adbridge.Event
}

func (l *eventLog) add(ev adbridge.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []adbridge.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]adbridge.Event(nil), l.events...)
}

func leakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	}
}

// verifyNoLeaks runs after every later cleanup, including the test server's
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	opts := leakOptions()
	t.Cleanup(func() { goleak.VerifyNone(t, opts...) })
}

func newTestModule(t *testing.T) (*Module, *script.Surface, *eventLog) {
	t.Helper()
	surface := script.NewSurface()
	m := NewModule(NewClient(ClientConfig{Timeout: 2 * time.Second, MaxRetries: 1}), surface, quietLogger())
	log := &eventLog{}
	m.Subscribe(log.add)
	return m, surface, log
}

func TestModule_PlaysSchedule(t *testing.T) {
	verifyNoLeaks(t)

	srv := newAdServer(t)
	m, surface, log := newTestModule(t)
	ctx := context.Background()

	require.NoError(t, m.LoadAds(ctx, srv.URL+"/vmap.xml"))
	require.Len(t, m.Pods(), 3)
	assert.True(t, m.HasPreroll())
	assert.True(t, m.PostrollPending())

	// Progress is ignored until ads are started
	m.ContentProgress(40, false)
	assert.Empty(t, surface.Loads())

	require.NoError(t, m.StartAds(ctx))
	assert.Equal(t, "https://cdn.example.com/pre.mp4", surface.Current().URI)
	assert.True(t, surface.Loads()[0].Options.AutoPlay)

	surface.Emit(player.Event{Type: player.EventReady, Duration: 5})
	surface.Emit(player.Event{Type: player.EventPlay, Duration: 5})
	surface.Emit(player.Event{Type: player.EventTimeUpdate, Position: 2.6, Duration: 5})
	surface.Emit(player.Event{Type: player.EventTimeUpdate, Position: 3, Duration: 5})
	surface.Emit(player.Event{Type: player.EventEnded, Position: 5, Duration: 5})

	m.ContentProgress(29, false)
	assert.Len(t, surface.Loads(), 1)

	m.ContentProgress(31, false)
	assert.Equal(t, "https://cdn.example.com/mid-a.mp4", surface.Current().URI)
	// Progress during a pod does not start another
	m.ContentProgress(100, true)
	assert.Equal(t, "https://cdn.example.com/mid-a.mp4", surface.Current().URI)

	surface.Emit(player.Event{Type: player.EventReady, Duration: 15})
	surface.Emit(player.Event{Type: player.EventEnded, Position: 15, Duration: 15})
	assert.Equal(t, "https://cdn.example.com/mid-b.mp4", surface.Current().URI)
	surface.Emit(player.Event{Type: player.EventError, Error: "decode failed"})

	m.ContentProgress(100, true)
	assert.Equal(t, "https://cdn.example.com/post.mp4", surface.Current().URI)
	assert.False(t, m.PostrollPending())
	// The preroll already played but is still part of the schedule
	assert.True(t, m.HasPreroll())
	surface.Emit(player.Event{Type: player.EventReady, Duration: 20})
	surface.Emit(player.Event{Type: player.EventEnded, Position: 20, Duration: 20})

	require.NoError(t, m.ReleaseAds(ctx))
	require.NoError(t, m.ReleaseAds(ctx))

	want := []adbridge.Event{
		{Type: adbridge.EventLoaded},
		{Type: adbridge.EventStarted, AdPosition: "preroll"},
		{Type: adbridge.EventCompleted, AdPosition: "preroll"},
		{Type: adbridge.EventStarted, AdPosition: "midroll"},
		{Type: adbridge.EventError, AdPosition: "midroll", Message: "decode failed"},
		{Type: adbridge.EventStarted, AdPosition: "postroll"},
		{Type: adbridge.EventCompleted, AdPosition: "postroll"},
	}
	assert.Equal(t, want, log.all())

	assert.Equal(t, 1, srv.count("/track/pre-impression"))
	assert.Equal(t, 1, srv.count("/track/pre-start"))
	assert.Equal(t, 1, srv.count("/track/pre-midpoint"))
	assert.Equal(t, 1, srv.count("/track/pre-complete"))
	assert.Equal(t, 1, srv.count("/track/mid-a-impression"))
	assert.Equal(t, 1, srv.count("/track/mid-a-complete"))
	// One per ad of the wrapped pod that reached ready or ended
	assert.Equal(t, 1, srv.count("/track/wrapper-impression"))
	assert.Equal(t, 1, srv.count("/track/wrapper-complete"))
	assert.Equal(t, []string{"code=405"}, srv.queries("/track/mid-error"))
	assert.Equal(t, 1, srv.count("/track/post-impression"))

	// The module owns the ad surface
	assert.ErrorIs(t, surface.Load(ctx, player.Source{URI: "x"}, player.LoadOptions{}), script.ErrClosed)
}

func TestModule_StopAdsEndsPod(t *testing.T) {
	verifyNoLeaks(t)

	srv := newAdServer(t)
	m, _, log := newTestModule(t)
	ctx := context.Background()

	require.NoError(t, m.LoadAds(ctx, srv.URL+"/vmap.xml"))
	require.NoError(t, m.StartAds(ctx))
	require.NoError(t, m.StopAds(ctx))

	// Stopped modules ignore progress
	m.ContentProgress(31, false)
	require.NoError(t, m.ReleaseAds(ctx))

	events := log.all()
	require.Len(t, events, 3)
	assert.Equal(t, adbridge.Event{Type: adbridge.EventCompleted, AdPosition: "preroll"}, events[2])
}

func TestModule_LoadErrors(t *testing.T) {
	verifyNoLeaks(t)

	srv := newAdServer(t)
	m, _, log := newTestModule(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.LoadAds(ctx, ""), ErrNoAds)
	assert.ErrorIs(t, m.LoadAds(ctx, srv.URL+"/empty.xml"), ErrNoAds)
	assert.Error(t, m.StartAds(ctx))

	require.NoError(t, m.ReleaseAds(ctx))
	assert.ErrorIs(t, m.LoadAds(ctx, srv.URL+"/vmap.xml"), ErrReleased)
	assert.Empty(t, log.all())
}

func TestModule_WithAdapter(t *testing.T) {
	verifyNoLeaks(t)

	srv := newAdServer(t)
	m, surface, _ := newTestModule(t)

	adapter := adbridge.NewAdapter(m, adbridge.Config{
		Enabled:  true,
		AdTagURL: srv.URL + "/vmap.xml",
	}, quietLogger())

	log := &eventLog{}
	unsubscribe := adapter.Events().Subscribe(log.add)
	defer unsubscribe()

	adapter.Mount(context.Background())
	require.Eventually(t, func() bool {
		return surface.Current().URI == "https://cdn.example.com/pre.mp4"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, adbridge.ModeNative, adapter.Mode())
	assert.True(t, adapter.HasPreroll())
	assert.True(t, adapter.PostrollPending())

	surface.Emit(player.Event{Type: player.EventEnded, Position: 5, Duration: 5})
	adapter.ContentProgress(30, false)
	assert.Equal(t, "https://cdn.example.com/mid-a.mp4", surface.Current().URI)

	adapter.Unmount(context.Background())

	types := make([]adbridge.EventType, 0)
	for _, ev := range log.all() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []adbridge.EventType{
		adbridge.EventLoaded, adbridge.EventStarted, adbridge.EventCompleted, adbridge.EventStarted,
	}, types)
}
