package vast

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/justchokingaround/cuepoint/internal/ads"
)

// ErrNoAds is returned when a tag resolves to nothing playable
var ErrNoAds = errors.New("no playable ads")

const maxWrapperDepth = 5

// PlayableAd is a resolved linear creative with every pixel that applies to it
type PlayableAd struct {
	ID           string
	Title        string
	Description  string
	ClickThrough string
	MediaURL     string
	Duration     float64
	Impressions  []string
	ErrorURLs    []string
	Tracking     map[string][]string
}

// Pod is the ads of one break, played back to back
type Pod struct {
	Kind   ads.Kind
	Offset float64
	Ads    []PlayableAd
}

// Break returns the pod as a configured break for logs and reports
func (p Pod) Break() ads.Break {
	return ads.Break{Kind: p.Kind, Offset: p.Offset}
}

// ParseOffset maps a VMAP timeOffset to a break kind and offset in seconds
func ParseOffset(s string) (ads.Kind, float64, error) {
	switch s = strings.TrimSpace(s); s {
	case "start":
		return ads.KindPreroll, 0, nil
	case "end":
		return ads.KindPostroll, 0, nil
	}

	secs, err := ParseDuration(s)
	if err != nil {
		return "", 0, fmt.Errorf("unsupported time offset %q: %w", s, err)
	}
	if secs == 0 {
		return ads.KindPreroll, 0, nil
	}
	return ads.KindMidroll, secs, nil
}

// ParseDuration parses HH:MM:SS or HH:MM:SS.mmm into seconds
func ParseDuration(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected HH:MM:SS, got %q", s)
	}

	var total float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid component %q in %q", part, s)
		}
		if i < 2 && v != float64(int(v)) {
			return 0, fmt.Errorf("fractional component %q in %q", part, s)
		}
		total = total*60 + v
	}
	return total, nil
}

// carry is what a wrapper passes down to the ads it resolves to
type carry struct {
	impressions []string
	errors      []string
	tracking    map[string][]string
}

func (c carry) with(impressions, errs []CDATA, creatives []Creative) carry {
	next := carry{
		impressions: append(append([]string(nil), c.impressions...), texts(impressions)...),
		errors:      append(append([]string(nil), c.errors...), texts(errs)...),
		tracking:    make(map[string][]string, len(c.tracking)),
	}
	for event, urls := range c.tracking {
		next.tracking[event] = append([]string(nil), urls...)
	}
	for _, cr := range creatives {
		if cr.Linear == nil {
			continue
		}
		for _, tr := range cr.Linear.TrackingEvents {
			if url := strings.TrimSpace(tr.URL); url != "" {
				next.tracking[tr.Event] = append(next.tracking[tr.Event], url)
			}
		}
	}
	return next
}

// resolver turns ad tags into pods, following VMAP sources and VAST wrappers
// Resolve fetches a VAST or VMAP tag and returns its pods in play order
// without playing anything
func Resolve(ctx context.Context, client *Client, tagURL string, logger *slog.Logger) ([]Pod, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &resolver{client: client, logger: logger.With("component", "vast")}
	return r.resolve(ctx, tagURL)
}

type resolver struct {
	client *Client
	logger *slog.Logger
}

func (r *resolver) resolve(ctx context.Context, tagURL string) ([]Pod, error) {
	data, err := r.client.Fetch(ctx, tagURL)
	if err != nil {
		return nil, err
	}
	pods, err := r.parse(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(pods) == 0 {
		return nil, ErrNoAds
	}
	return pods, nil
}

func (r *resolver) parse(ctx context.Context, data []byte) ([]Pod, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, err
	}

	switch root {
	case "VMAP":
		var vmap VMAP
		if err := xml.Unmarshal(data, &vmap); err != nil {
			return nil, fmt.Errorf("failed to parse VMAP: %w", err)
		}
		return r.schedule(ctx, vmap), nil

	case "VAST":
		var doc Document
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse VAST: %w", err)
		}
		// A bare VAST response is a single preroll pod
		playable := r.ads(ctx, &doc, carry{}, 0)
		if len(playable) == 0 {
			return nil, nil
		}
		return []Pod{{Kind: ads.KindPreroll, Ads: playable}}, nil

	default:
		return nil, fmt.Errorf("unexpected root element %q", root)
	}
}

// schedule resolves every break and keeps one pod per insertion point
func (r *resolver) schedule(ctx context.Context, vmap VMAP) []Pod {
	var pods []Pod
	type slot struct {
		kind   ads.Kind
		offset float64
	}
	seen := make(map[slot]bool)

	for _, br := range vmap.AdBreaks {
		if !isLinear(br.BreakType) {
			continue
		}
		kind, offset, err := ParseOffset(br.TimeOffset)
		if err != nil {
			r.logger.Debug("skipping ad break", "break_id", br.BreakID, "error", err)
			continue
		}
		key := slot{kind, offset}
		if seen[key] {
			continue
		}

		doc := br.AdSource.VASTAdData
		if doc == nil && br.AdSource.AdTagURI.String() != "" {
			doc, err = r.fetchDocument(ctx, br.AdSource.AdTagURI.String())
			if err != nil {
				r.logger.Warn("failed to fetch ad break", "break_id", br.BreakID, "error", err)
				continue
			}
		}
		if doc == nil {
			continue
		}

		playable := r.ads(ctx, doc, carry{}, 0)
		if len(playable) == 0 {
			continue
		}
		seen[key] = true
		pods = append(pods, Pod{Kind: kind, Offset: offset, Ads: playable})
	}

	sort.SliceStable(pods, func(i, j int) bool {
		return podOrder(pods[i]) < podOrder(pods[j])
	})
	return pods
}

// isLinear reports whether a comma separated breakType includes linear ads
func isLinear(breakType string) bool {
	if breakType == "" {
		return true
	}
	for _, t := range strings.Split(breakType, ",") {
		if strings.TrimSpace(t) == "linear" {
			return true
		}
	}
	return false
}

func podOrder(p Pod) float64 {
	switch p.Kind {
	case ads.KindPreroll:
		return -1
	case ads.KindPostroll:
		return 1e18
	default:
		return p.Offset
	}
}

func (r *resolver) fetchDocument(ctx context.Context, url string) (*Document, error) {
	data, err := r.client.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse VAST from %s: %w", url, err)
	}
	return &doc, nil
}

// ads flattens a document into playable ads in sequence order
func (r *resolver) ads(ctx context.Context, doc *Document, inherited carry, depth int) []PlayableAd {
	entries := append([]Ad(nil), doc.Ads...)
	sort.SliceStable(entries, func(i, j int) bool {
		return sequence(entries[i]) < sequence(entries[j])
	})

	var out []PlayableAd
	for _, ad := range entries {
		switch {
		case ad.InLine != nil:
			c := inherited.with(ad.InLine.Impressions, ad.InLine.Errors, ad.InLine.Creatives)
			for _, cr := range ad.InLine.Creatives {
				if p, ok := playable(ad, cr, c); ok {
					out = append(out, p)
				}
			}

		case ad.Wrapper != nil:
			if depth+1 > maxWrapperDepth {
				r.logger.Warn("VAST wrapper chain too deep", "ad_id", ad.ID)
				continue
			}
			next, err := r.fetchDocument(ctx, ad.Wrapper.VASTAdTagURI.String())
			if err != nil {
				r.logger.Warn("failed to follow VAST wrapper", "ad_id", ad.ID, "error", err)
				continue
			}
			c := inherited.with(ad.Wrapper.Impressions, ad.Wrapper.Errors, ad.Wrapper.Creatives)
			out = append(out, r.ads(ctx, next, c, depth+1)...)
		}
	}
	return out
}

func sequence(ad Ad) int {
	if ad.Sequence == 0 {
		// Stand-alone ads go after sequenced ones
		return int(^uint(0) >> 1)
	}
	return ad.Sequence
}

func playable(ad Ad, cr Creative, c carry) (PlayableAd, bool) {
	if cr.Linear == nil {
		return PlayableAd{}, false
	}
	media, ok := pickMediaFile(cr.Linear.MediaFiles)
	if !ok {
		return PlayableAd{}, false
	}
	duration, _ := ParseDuration(cr.Linear.Duration)

	id := cr.ID
	if id == "" {
		id = ad.ID
	}
	return PlayableAd{
		ID:           id,
		Title:        strings.TrimSpace(ad.InLine.AdTitle),
		Description:  plainText(ad.InLine.Description.String()),
		ClickThrough: cr.Linear.ClickThrough.String(),
		MediaURL:     strings.TrimSpace(media.URL),
		Duration:     duration,
		Impressions:  c.impressions,
		ErrorURLs:    c.errors,
		Tracking:     c.tracking,
	}, true
}

// plainText strips markup some ad servers put in descriptions
func plainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// pickMediaFile prefers progressive delivery, then the highest bitrate
func pickMediaFile(files []MediaFile) (MediaFile, bool) {
	var best MediaFile
	found := false
	for _, f := range files {
		if strings.TrimSpace(f.URL) == "" {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	return best, found
}

func better(a, b MediaFile) bool {
	ap, bp := a.Delivery == "progressive", b.Delivery == "progressive"
	if ap != bp {
		return ap
	}
	return a.Bitrate > b.Bitrate
}

func texts(values []CDATA) []string {
	var out []string
	for _, v := range values {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// rootElement returns the local name of the first element in data
func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", errors.New("empty ad response")
		}
		if err != nil {
			return "", fmt.Errorf("failed to read ad response: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
