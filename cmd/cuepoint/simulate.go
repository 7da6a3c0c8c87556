package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/justchokingaround/cuepoint/internal/adbridge"
	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/orchestrator"
	"github.com/justchokingaround/cuepoint/internal/player"
	"github.com/justchokingaround/cuepoint/internal/player/script"
	"github.com/justchokingaround/cuepoint/internal/styles"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <script.yaml>",
	Short: "Replay a scripted playback session against the orchestrator",
	Long: `Replay the raw events, native ad events and control calls of a YAML
script and print what the orchestrator loads, forwards and reports.

Restrictions, autoplay and the skip policy come from the configuration;
main source, tracks and ad breaks come from the script.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := script.Load(args[0])
		if err != nil {
			return err
		}
		jsonLines, _ := cmd.Flags().GetBool("json")
		forwardReady, _ := cmd.Flags().GetBool("forward-ready")

		result, err := simulate(cmd.Context(), s, simulateOptions{
			Out:          cmd.OutOrStdout(),
			JSONLines:    jsonLines,
			Restrictions: cfg.Restrictions,
			AutoPlay:     cfg.Player.AutoPlay,
			Skip:         cfg.SkipPolicy(),
			ForwardReady: forwardReady,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Bool("json", false, "print analytics events as JSON lines instead of styled text")
	simulateCmd.Flags().Bool("forward-ready", false, "forward the first ready while a preroll is pending")
}

// simulationEpoch keeps replayed timestamps stable across runs
var simulationEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type simulateOptions struct {
	Out          io.Writer
	JSONLines    bool
	Restrictions orchestrator.Restrictions
	AutoPlay     bool
	Skip         player.SkipPolicy
	ForwardReady bool
	Logger       *slog.Logger
}

type simulateResult struct {
	Title     string
	Steps     int
	Forwarded []player.Event
	Analytics []analytics.Event
	Calls     []script.Call
	Finished  bool
	Errors    []string
}

// stepClock advances one second per script step
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
}

// simulate runs s through a Runner on a scripted surface. Every step is
// fully processed before the next one starts.
func simulate(ctx context.Context, s *script.Script, opts simulateOptions) (*simulateResult, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	result := &simulateResult{Title: s.Title, Steps: len(s.Steps)}
	clock := &stepClock{now: simulationEpoch}
	surface := script.NewSurface()
	defer surface.Close(context.WithoutCancel(ctx))

	surface.OnCall = func(c script.Call) {
		fmt.Fprintf(out, "  %s %s\n", styles.Event(string(c.Op)), describeCall(c))
	}

	recorder := &analytics.Recorder{}
	var sink analytics.Sink = analytics.SinkFunc(func(ev analytics.Event) {
		fmt.Fprintf(out, "  %s %s\n", styles.Event(ev.Type.String()), describeAnalytics(ev))
	})
	if opts.JSONLines {
		sink = analytics.NewJSONLinesSink(out, opts.Logger)
	}

	orch, err := orchestrator.New(surface, orchestrator.Options{
		MainSource:   s.Main,
		Tracks:       s.Tracks,
		Breaks:       s.Breaks,
		Skip:         opts.Skip,
		Restrictions: opts.Restrictions,
		AutoPlay:     opts.AutoPlay,
		Analytics:    analytics.Tee(recorder, sink),
		SessionID:    "simulation",
		OnEvent: func(ev player.Event) {
			result.Forwarded = append(result.Forwarded, ev)
			fmt.Fprintf(out, "  %s %s\n", styles.MutedStyle.Render("forward"), describeEvent(ev))
		},
		OnFinished: func() {
			result.Finished = true
		},
		ForwardReadyDuringPreroll: opts.ForwardReady,
		Logger:                    opts.Logger,
		Now:                       clock.Now,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runner := orchestrator.NewRunner(orch, surface, nil, opts.Logger)
	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(runCtx) }()

	// The first Do returns once the main source is loaded
	if err := runner.Do(ctx, func(context.Context, *orchestrator.Orchestrator) error { return nil }); err != nil {
		cancel()
		if startErr := <-runErr; startErr != nil {
			return nil, fmt.Errorf("failed to start simulation: %w", startErr)
		}
		return nil, err
	}

	for i, step := range s.Steps {
		clock.tick()
		fmt.Fprintf(out, "%s %s\n", styles.SubtitleStyle.Render(fmt.Sprintf("[%d]", i+1)), describeStep(step))

		if err := runStep(ctx, runner, surface, clock, step); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("step %d: %v", i+1, err))
			fmt.Fprintf(out, "  %s %v\n", styles.ErrorStyle.Render("error"), err)
		}
	}

	cancel()
	<-runner.Done()
	if err := <-runErr; err != nil {
		return nil, err
	}

	result.Analytics = recorder.Events()
	result.Calls = surface.Calls()
	return result, nil
}

func runStep(ctx context.Context, runner *orchestrator.Runner, surface *script.Surface, clock *stepClock, step script.Step) error {
	switch step.Kind() {
	case "event":
		ev := *step.Event
		if ev.Timestamp.IsZero() {
			ev.Timestamp = clock.Now()
		}
		surface.Emit(ev)
		// Surface events are queued in order; an empty call drains them
		return runner.Do(ctx, func(context.Context, *orchestrator.Orchestrator) error { return nil })

	case "native":
		ev := adbridge.Event{
			Type:       adbridge.EventType(step.Native.Type),
			AdPosition: step.Native.AdPosition,
			Message:    step.Native.Message,
		}
		return runner.Do(ctx, func(ctx context.Context, o *orchestrator.Orchestrator) error {
			o.HandleNativeEvent(ctx, ev)
			return nil
		})

	case "quality":
		return runner.Do(ctx, func(ctx context.Context, o *orchestrator.Orchestrator) error {
			track, err := o.ResolveQuality(step.Quality)
			if err != nil {
				return err
			}
			return o.SelectQuality(ctx, track.ID)
		})

	case "rate":
		return runner.Do(ctx, func(ctx context.Context, o *orchestrator.Orchestrator) error {
			return o.SetRate(ctx, step.Rate)
		})

	case "fallback":
		return runner.Do(ctx, func(ctx context.Context, o *orchestrator.Orchestrator) error {
			o.FallbackToSimulated(ctx, errors.New(step.Fallback))
			return nil
		})
	}
	return script.ErrEmptyStep
}

func describeStep(step script.Step) string {
	switch step.Kind() {
	case "event":
		return "event " + describeEvent(*step.Event)
	case "native":
		return strings.TrimSpace(fmt.Sprintf("native %s %s %s", step.Native.Type, step.Native.AdPosition, step.Native.Message))
	case "quality":
		return "quality " + step.Quality
	case "rate":
		return fmt.Sprintf("rate %g", step.Rate)
	case "fallback":
		return "fallback " + step.Fallback
	}
	return "?"
}

func describeEvent(ev player.Event) string {
	s := fmt.Sprintf("%s @%.1fs", ev.Type, ev.Position)
	if ev.Error != "" {
		s += " " + ev.Error
	}
	return s
}

func describeCall(c script.Call) string {
	switch c.Op {
	case script.OpLoad:
		return fmt.Sprintf("%s autoplay=%t rate=%g", c.Source.URI, c.Options.AutoPlay, c.Options.Rate)
	case script.OpSeek:
		return fmt.Sprintf("%.1fs", c.Position)
	case script.OpRate:
		return fmt.Sprintf("%g", c.Rate)
	case script.OpPaused:
		return fmt.Sprintf("%t", c.Paused)
	}
	return ""
}

func describeAnalytics(ev analytics.Event) string {
	parts := []string{fmt.Sprintf("@%.1fs", ev.Position)}
	if ev.Quartile > 0 {
		parts = append(parts, fmt.Sprintf("q=%d", ev.Quartile))
	}
	if ev.AdPosition != "" {
		parts = append(parts, ev.AdPosition)
	}
	if ev.ErrorMessage != "" {
		parts = append(parts, styles.ErrorStyle.Render(ev.ErrorMessage))
	}
	return strings.Join(parts, " ")
}

func printSummary(w io.Writer, r *simulateResult) {
	counts := make(map[string]int)
	for _, ev := range r.Analytics {
		counts[ev.Type.String()]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	title := r.Title
	if title == "" {
		title = "simulation"
	}
	fmt.Fprintf(&b, "%s\n", styles.TitleStyle.Render(title))
	fmt.Fprintf(&b, "steps %d  forwarded %d  surface calls %d  finished %t\n",
		r.Steps, len(r.Forwarded), len(r.Calls), r.Finished)
	for _, name := range names {
		fmt.Fprintf(&b, "%s %d\n", styles.Event(name), counts[name])
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "%s\n", styles.ErrorStyle.Render(e))
	}
	fmt.Fprintln(w, styles.BoxStyle.Render(strings.TrimRight(b.String(), "\n")))
}
