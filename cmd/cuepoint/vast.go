package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/justchokingaround/cuepoint/internal/adbridge/vast"
	"github.com/justchokingaround/cuepoint/internal/styles"
)

var vastCmd = &cobra.Command{
	Use:   "vast [tag-url]",
	Short: "Resolve a VAST or VMAP ad tag and print its schedule",
	Long: `Fetch an ad tag, follow wrappers and print the pods the native ad module
would play. Without an argument the configured ads.native.ad_tag_url is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tagURL := cfg.Ads.Native.AdTagURL
		if len(args) == 1 {
			tagURL = args[0]
		}
		if tagURL == "" {
			return fmt.Errorf("no ad tag given and ads.native.ad_tag_url is not set")
		}

		ctx := cmd.Context()
		if timeout := cfg.Ads.Native.LoadTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		pods, err := vast.Resolve(ctx, newVASTClient(), tagURL, logger)
		if err != nil {
			return err
		}
		printPods(cmd.OutOrStdout(), pods)

		if n, _ := cmd.Flags().GetInt("open"); n > 0 {
			return openClickThrough(pods, n, browser.OpenURL)
		}
		return nil
	},
}

func init() {
	vastCmd.Flags().Int("open", 0, "open the click-through page of the n-th ad in a browser")
}

func newVASTClient() *vast.Client {
	return vast.NewClient(vast.ClientConfig{
		Timeout:    cfg.Ads.Native.Timeout,
		MaxRetries: cfg.Ads.Native.MaxRetries,
		UserAgent:  cfg.Ads.Native.UserAgent,
		Debug:      cfg.Advanced.Debug,
		Logger:     logger,
	})
}

func printPods(w io.Writer, pods []vast.Pod) {
	n := 0
	for _, pod := range pods {
		fmt.Fprintf(w, "%s %s\n", styles.Badge(pod.Break().String(), styles.EventColor("ad_"+string(pod.Kind))), styles.MutedStyle.Render(fmt.Sprintf("%d ads", len(pod.Ads))))
		for _, ad := range pod.Ads {
			n++
			title := ad.Title
			if title == "" {
				title = ad.ID
			}
			fmt.Fprintf(w, "  %d. %s %s\n", n, styles.ValueStyle.Render(title), styles.MutedStyle.Render(formatSeconds(ad.Duration)))
			if ad.Description != "" {
				fmt.Fprintf(w, "     %s\n", ad.Description)
			}
			fmt.Fprintf(w, "     %s\n", ad.MediaURL)
			if ad.ClickThrough != "" {
				fmt.Fprintf(w, "     click %s\n", ad.ClickThrough)
			}

			events := make([]string, 0, len(ad.Tracking))
			for name, urls := range ad.Tracking {
				events = append(events, fmt.Sprintf("%s×%d", name, len(urls)))
			}
			if len(events) > 0 {
				sort.Strings(events)
				fmt.Fprintf(w, "     %s\n", styles.MutedStyle.Render("tracking "+strings.Join(events, " ")))
			}
		}
	}
}

// openClickThrough opens the click-through of the n-th ad, counted across pods
func openClickThrough(pods []vast.Pod, n int, open func(string) error) error {
	i := 0
	for _, pod := range pods {
		for _, ad := range pod.Ads {
			i++
			if i != n {
				continue
			}
			if ad.ClickThrough == "" {
				return fmt.Errorf("ad %d has no click-through", n)
			}
			return open(ad.ClickThrough)
		}
	}
	return fmt.Errorf("ad %d not found, the tag has %d ads", n, i)
}
