//go:build integration

package mpv

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/cuepoint/internal/player"
)

const testSource = "av://lavfi:testsrc=duration=5:size=320x240:rate=30"

func checkMPVAvailable(t *testing.T) {
	if _, err := exec.LookPath("mpv"); err != nil {
		t.Skip("mpv not available, skipping integration tests")
	}
}

func waitFor(t *testing.T, events <-chan player.Event, typ player.EventType, timeout time.Duration) player.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", typ, timeout)
		}
	}
}

func TestSurface_LoadSeekEnd(t *testing.T) {
	checkMPVAvailable(t)

	s, err := New(Options{PollInterval: 100 * time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	defer s.Close(ctx)

	events := make(chan player.Event, 256)
	unsubscribe := s.Events().Subscribe(func(ev player.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	require.NoError(t, s.Load(ctx, player.Source{URI: testSource}, player.LoadOptions{AutoPlay: false}))
	ready := waitFor(t, events, player.EventReady, 15*time.Second)
	assert.InDelta(t, 0, ready.Position, 0.5)
	assert.Equal(t, player.StatePaused, s.State())

	require.NoError(t, s.Seek(ctx, 3))
	seek := waitFor(t, events, player.EventSeek, 5*time.Second)
	assert.InDelta(t, 3.0, seek.Position, 1.0)

	require.NoError(t, s.SetPaused(ctx, false))
	waitFor(t, events, player.EventPlay, 5*time.Second)
	waitFor(t, events, player.EventEnded, 10*time.Second)

	// Loading again on the running mpv reports a fresh ready
	require.NoError(t, s.Load(ctx, player.Source{URI: testSource}, player.LoadOptions{AutoPlay: true}))
	waitFor(t, events, player.EventReady, 10*time.Second)
}

func TestSurface_CloseTwice(t *testing.T) {
	checkMPVAvailable(t)

	s, err := New(Options{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Load(ctx, player.Source{URI: testSource}, player.LoadOptions{}))
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.Load(ctx, player.Source{URI: testSource}, player.LoadOptions{}), ErrClosed)
}
