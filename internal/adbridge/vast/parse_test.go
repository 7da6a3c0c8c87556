package vast

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/cuepoint/internal/ads"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		kind    ads.Kind
		offset  float64
		wantErr bool
	}{
		{in: "start", kind: ads.KindPreroll},
		{in: "end", kind: ads.KindPostroll},
		{in: "00:00:00", kind: ads.KindPreroll},
		{in: "00:00:30", kind: ads.KindMidroll, offset: 30},
		{in: " 01:02:03.500 ", kind: ads.KindMidroll, offset: 3723.5},
		{in: "10%", wantErr: true},
		{in: "#2", wantErr: true},
		{in: "02:30", wantErr: true},
		{in: "00:1.5:00", wantErr: true},
		{in: "00:-1:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, offset, err := ParseOffset(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestPickMediaFile(t *testing.T) {
	_, ok := pickMediaFile(nil)
	assert.False(t, ok)

	_, ok = pickMediaFile([]MediaFile{{Delivery: "progressive", URL: "  "}})
	assert.False(t, ok)

	best, ok := pickMediaFile([]MediaFile{
		{Delivery: "streaming", Bitrate: 4000, URL: "hls"},
		{Delivery: "progressive", Bitrate: 800, URL: "low"},
		{Delivery: "progressive", Bitrate: 1200, URL: "high"},
	})
	require.True(t, ok)
	assert.Equal(t, "high", best.URL)
}

func TestResolve_VMAP(t *testing.T) {
	srv := newAdServer(t)
	r := &resolver{client: NewClient(ClientConfig{MaxRetries: 1}), logger: quietLogger()}

	pods, err := r.resolve(context.Background(), srv.URL+"/vmap.xml")
	require.NoError(t, err)
	require.Len(t, pods, 3)

	pre, mid, post := pods[0], pods[1], pods[2]

	assert.Equal(t, ads.KindPreroll, pre.Kind)
	require.Len(t, pre.Ads, 1)
	assert.Equal(t, "pre-creative", pre.Ads[0].ID)
	assert.Equal(t, "https://cdn.example.com/pre.mp4", pre.Ads[0].MediaURL)
	assert.Equal(t, 5.0, pre.Ads[0].Duration)
	assert.Equal(t, []string{srv.URL + "/track/pre-impression"}, pre.Ads[0].Impressions)
	assert.Equal(t, []string{srv.URL + "/track/pre-start"}, pre.Ads[0].Tracking["start"])

	assert.Equal(t, ads.KindMidroll, mid.Kind)
	assert.Equal(t, 30.0, mid.Offset)
	require.Len(t, mid.Ads, 2)
	assert.Equal(t, "https://cdn.example.com/mid-a.mp4", mid.Ads[0].MediaURL)
	assert.Equal(t, "https://cdn.example.com/mid-b.mp4", mid.Ads[1].MediaURL)

	// Wrapper pixels apply to every ad it resolves to
	assert.Equal(t, []string{
		srv.URL + "/track/wrapper-impression",
		srv.URL + "/track/mid-a-impression",
	}, mid.Ads[0].Impressions)
	assert.Equal(t, []string{
		srv.URL + "/track/wrapper-complete",
		srv.URL + "/track/mid-a-complete",
	}, mid.Ads[0].Tracking["complete"])
	assert.Equal(t, []string{srv.URL + "/track/wrapper-complete"}, mid.Ads[1].Tracking["complete"])
	assert.Len(t, mid.Ads[1].ErrorURLs, 1)

	assert.Equal(t, ads.KindPostroll, post.Kind)
	assert.Equal(t, "Post", post.Ads[0].Title)
	assert.Equal(t, "See the new season", post.Ads[0].Description)
	assert.Equal(t, "https://brand.example.com/landing", post.Ads[0].ClickThrough)
	assert.Empty(t, pre.Ads[0].ClickThrough)
}

func TestResolve_Exported(t *testing.T) {
	srv := newAdServer(t)
	pods, err := Resolve(context.Background(), NewClient(ClientConfig{MaxRetries: 1}), srv.URL+"/post.xml", quietLogger())
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, ads.KindPreroll, pods[0].Kind)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain", plainText("plain"))
	assert.Equal(t, "a b", plainText("<div>a <i>b</i></div>"))
	assert.Empty(t, plainText(""))
}

func TestResolve_BareVASTIsPreroll(t *testing.T) {
	srv := newAdServer(t)
	r := &resolver{client: NewClient(ClientConfig{MaxRetries: 1}), logger: quietLogger()}

	pods, err := r.resolve(context.Background(), srv.URL+"/post.xml")
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, ads.KindPreroll, pods[0].Kind)
}

func TestResolve_Errors(t *testing.T) {
	srv := newAdServer(t)
	r := &resolver{client: NewClient(ClientConfig{MaxRetries: 1}), logger: quietLogger()}
	ctx := context.Background()

	_, err := r.resolve(ctx, srv.URL+"/empty.xml")
	assert.ErrorIs(t, err, ErrNoAds)

	_, err = r.resolve(ctx, srv.URL+"/missing.xml")
	assert.ErrorContains(t, err, "404")

	_, err = r.resolve(ctx, srv.URL+"/html")
	assert.ErrorContains(t, err, "unexpected root element")
}

func TestResolve_WrapperDepth(t *testing.T) {
	r := &resolver{client: NewClient(ClientConfig{MaxRetries: 1}), logger: quietLogger()}
	doc := &Document{Ads: []Ad{{ID: "loop", Wrapper: &Wrapper{VASTAdTagURI: CDATA{Value: "http://127.0.0.1:1/never"}}}}}

	assert.Empty(t, r.ads(context.Background(), doc, carry{}, maxWrapperDepth))
}

func TestExpandMacros(t *testing.T) {
	got := expandMacros("https://t.example.com/e?code=[ERRORCODE]&cb=[CACHEBUSTING]", 405)
	assert.Contains(t, got, "code=405")
	assert.NotContains(t, got, "[CACHEBUSTING]")
	assert.Len(t, got, len("https://t.example.com/e?code=405&cb=")+8)
}
