package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/justchokingaround/cuepoint/internal/adbridge"
	"github.com/justchokingaround/cuepoint/internal/player"
)

// ErrRunnerStopped is returned by Do once the runner has exited
var ErrRunnerStopped = errors.New("runner stopped")

const inboxSize = 256

// message is one unit of work for the runner goroutine
type message struct {
	event    *player.Event
	native   *adbridge.Event
	fallback error
	call     func(ctx context.Context) error
	result   chan error
}

// Runner owns an Orchestrator and feeds it surface events, native ad events
// and control calls from a single goroutine
type Runner struct {
	orch    *Orchestrator
	surface player.Surface
	bridge  *adbridge.Adapter
	logger  *slog.Logger

	inbox   chan message
	done    chan struct{}
	started atomic.Bool
	stopped sync.Once
}

// NewRunner creates a runner. bridge may be nil.
func NewRunner(orch *Orchestrator, surface player.Surface, bridge *adbridge.Adapter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		orch:    orch,
		surface: surface,
		bridge:  bridge,
		logger:  logger.With("component", "runner"),
		inbox:   make(chan message, inboxSize),
		done:    make(chan struct{}),
	}
}

// Run subscribes to the surface and the bridge, loads the main source and
// processes messages until ctx is cancelled. Every subscription is removed
// before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runner already started")
	}
	return r.run(ctx)
}

func (r *Runner) run(ctx context.Context) error {
	defer r.stopped.Do(func() { close(r.done) })

	unsubscribe := r.surface.Events().Subscribe(func(ev player.Event) {
		r.post(message{event: &ev})
	})
	defer unsubscribe()

	if r.bridge != nil && r.bridge.Enabled() {
		unsubscribeNative := r.bridge.Events().Subscribe(func(ev adbridge.Event) {
			r.post(message{native: &ev})
		})
		defer unsubscribeNative()

		r.bridge.OnFallback(func(err error) {
			r.post(message{fallback: err})
		})
		r.orch.SetNativePending()
		r.bridge.Mount(ctx)
		defer r.bridge.Unmount(context.WithoutCancel(ctx))
	}

	if err := r.orch.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.inbox:
			r.handle(ctx, msg)
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg message) {
	switch {
	case msg.event != nil:
		ev := *msg.event
		wasAd := r.orch.InAdMode()
		r.orch.HandleEvent(ctx, ev)
		if r.bridge != nil && !wasAd && !r.orch.InAdMode() {
			switch ev.Type {
			case player.EventTimeUpdate:
				r.bridge.ContentProgress(ev.Position, false)
			case player.EventEnded:
				r.bridge.ContentProgress(ev.Position, true)
			}
		}
	case msg.native != nil:
		r.orch.HandleNativeEvent(ctx, *msg.native)
	case msg.fallback != nil:
		r.orch.FallbackToSimulated(ctx, msg.fallback)
	case msg.call != nil:
		err := msg.call(ctx)
		if msg.result != nil {
			msg.result <- err
		}
	}
}

// post queues msg unless the runner has exited
func (r *Runner) post(msg message) {
	select {
	case r.inbox <- msg:
	case <-r.done:
	}
}

// Do runs fn on the runner goroutine and waits for its result
func (r *Runner) Do(ctx context.Context, fn func(ctx context.Context, o *Orchestrator) error) error {
	result := make(chan error, 1)
	msg := message{
		call:   func(ctx context.Context) error { return fn(ctx, r.orch) },
		result: result,
	}

	select {
	case r.inbox <- msg:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
