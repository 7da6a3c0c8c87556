package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/clipboard"
	"github.com/justchokingaround/cuepoint/internal/database"
	"github.com/justchokingaround/cuepoint/internal/history"
	"github.com/justchokingaround/cuepoint/internal/styles"
	"github.com/justchokingaround/cuepoint/internal/tui/sessions"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show stored playback sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			return browseSessions(cmd)
		}

		filter, err := sessionFilter(cmd)
		if err != nil {
			return err
		}
		sessions, err := history.NewService(database.DB).GetSessions(filter)
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions, time.Now())
		return nil
	},
}

var reportEventsCmd = &cobra.Command{
	Use:   "events [session-id]",
	Short: "Show stored analytics events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := history.FilterOptions{}
		if len(args) == 1 {
			filter.SessionID = args[0]
		}
		filter.Type, _ = cmd.Flags().GetString("type")
		filter.AdPosition, _ = cmd.Flags().GetString("ad-position")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		events, err := history.NewService(database.DB).GetEvents(filter)
		if err != nil {
			return err
		}
		printEvents(cmd.OutOrStdout(), events)
		return nil
	},
}

var reportStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals over every stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := history.NewService(database.DB).GetStats()
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var reportDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := history.NewService(database.DB).DeleteSession(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	},
}

var reportPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove analytics older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		retention, _ := cmd.Flags().GetInt("days")
		if retention <= 0 {
			retention = cfg.Database.RetentionDays
		}
		if retention <= 0 {
			return fmt.Errorf("no retention window: pass --days or set database.retention_days")
		}
		removed, err := history.NewService(database.DB).Cleanup(days(retention))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s events older than %d days\n", humanize.Comma(removed), retention)
		return nil
	},
}

func init() {
	addSessionFlags(reportCmd)
	reportCmd.Flags().BoolP("interactive", "i", false, "browse sessions interactively")

	reportEventsCmd.Flags().StringP("type", "t", "", "filter by event type")
	reportEventsCmd.Flags().String("ad-position", "", "filter ad events by position")
	reportEventsCmd.Flags().IntP("limit", "n", 0, "maximum number of events")

	reportPruneCmd.Flags().Int("days", 0, "retention window in days (default from config)")

	reportCmd.AddCommand(reportEventsCmd, reportStatsCmd, reportDeleteCmd, reportPruneCmd)
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("search", "s", "", "filter sessions by title")
	cmd.Flags().String("since", "", "only sessions started within this duration (e.g. 72h)")
	cmd.Flags().String("sort", string(history.SortRecentFirst), "recent_first, oldest_first, title_asc or progress_desc")
	cmd.Flags().Bool("completed", false, "only sessions that reached session_end")
	cmd.Flags().Bool("incomplete", false, "only sessions that did not reach session_end")
	cmd.Flags().IntP("limit", "n", 20, "maximum number of sessions")
	cmd.MarkFlagsMutuallyExclusive("completed", "incomplete")
}

func browseSessions(cmd *cobra.Command) error {
	clip := clipboard.NewService(cfg.Advanced.ClipboardCommand, logger)
	model := sessions.New(history.NewService(database.DB), clip)

	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("session browser failed: %w", err)
	}
	return nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func sessionFilter(cmd *cobra.Command) (history.FilterOptions, error) {
	var filter history.FilterOptions
	filter.SearchQuery, _ = cmd.Flags().GetString("search")
	filter.Limit, _ = cmd.Flags().GetInt("limit")

	sortBy, _ := cmd.Flags().GetString("sort")
	switch order := history.SortOrder(sortBy); order {
	case history.SortRecentFirst, history.SortOldestFirst, history.SortTitleAsc, history.SortProgressDesc:
		filter.SortBy = order
	default:
		return filter, fmt.Errorf("unknown sort order %q", sortBy)
	}

	if since, _ := cmd.Flags().GetString("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return filter, fmt.Errorf("invalid --since: %w", err)
		}
		filter.StartDate = time.Now().Add(-d)
	}

	if completed, _ := cmd.Flags().GetBool("completed"); completed {
		filter.Completed = &completed
	}
	if incomplete, _ := cmd.Flags().GetBool("incomplete"); incomplete {
		completed := false
		filter.Completed = &completed
	}
	return filter, nil
}

func printSessions(w io.Writer, sessions []history.SessionSummary, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, styles.MutedStyle.Render("No sessions recorded"))
		return
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = s.SourceURI
		}
		status := styles.Badge("watching", styles.OxocarbonBlue)
		if s.Completed() {
			status = styles.Badge("done", styles.OxocarbonGreen)
		}

		fmt.Fprintf(w, "%s %s\n", status, styles.SubtitleStyle.Render(title))
		fmt.Fprintf(w, "  %s  %s  %s\n",
			styles.MutedStyle.Render(s.ID),
			humanize.RelTime(s.StartedAt, now, "ago", "from now"),
			styles.ValueStyle.Render(progressLabel(s)))
		fmt.Fprintf(w, "  events %s  ads %d/%d  ad errors %d  seeks %d  buffering %d\n",
			humanize.Comma(s.Events), s.AdsCompleted, s.AdsStarted, s.AdErrors, s.Seeks, s.Buffering)
	}
}

func progressLabel(s history.SessionSummary) string {
	pos := formatSeconds(s.LastPosition)
	if s.Duration <= 0 {
		return pos
	}
	label := fmt.Sprintf("%s / %s (%.0f%%)", pos, formatSeconds(s.Duration), s.Progress()*100)
	if s.MaxQuartile > 0 {
		label += fmt.Sprintf(" q%d", s.MaxQuartile)
	}
	return label
}

func printEvents(w io.Writer, events []analytics.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, styles.MutedStyle.Render("No events recorded"))
		return
	}
	for _, ev := range events {
		var extra []string
		if ev.Quartile > 0 {
			extra = append(extra, fmt.Sprintf("q=%d", ev.Quartile))
		}
		if ev.AdPosition != "" {
			extra = append(extra, ev.AdPosition)
		}
		if ev.Type.IsAd() {
			extra = append(extra, "content="+formatSeconds(ev.MainContentPositionAtAdStart))
		}
		if ev.ErrorMessage != "" {
			extra = append(extra, styles.ErrorStyle.Render(ev.ErrorMessage))
		}
		fmt.Fprintf(w, "%s %s %8s  %s\n",
			styles.MutedStyle.Render(ev.Timestamp.Local().Format("2006-01-02 15:04:05")),
			styles.Event(ev.Type.String()),
			formatSeconds(ev.Position),
			strings.Join(extra, " "))
	}
}

func printStats(w io.Writer, stats *history.Stats) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", styles.TitleStyle.Render("Playback stats"))
	fmt.Fprintf(&b, "Sessions    %s (%s completed)\n", humanize.Comma(stats.Sessions), humanize.Comma(stats.CompletedSessions))
	fmt.Fprintf(&b, "Events      %s\n", humanize.Comma(stats.Events))
	fmt.Fprintf(&b, "Ads         %s started, %s failed\n", humanize.Comma(stats.AdsStarted), humanize.Comma(stats.AdErrors))
	fmt.Fprintf(&b, "Watch time  %s", stats.WatchTime.Round(time.Second))
	fmt.Fprintln(w, styles.BoxStyle.Render(b.String()))
}

// formatSeconds renders a position as h:mm:ss or m:ss
func formatSeconds(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
