package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/cuepoint/internal/adbridge/vast"
	"github.com/justchokingaround/cuepoint/internal/ads"
)

const inspectDoc = `<VAST version="3.0">
  <Ad id="a1">
    <InLine>
      <AdSystem>test</AdSystem>
      <AdTitle>Spring Sale</AdTitle>
      <Description><![CDATA[<b>Everything</b> must go]]></Description>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>00:00:15</Duration>
            <TrackingEvents>
              <Tracking event="start"><![CDATA[https://track.example.com/start]]></Tracking>
              <Tracking event="complete"><![CDATA[https://track.example.com/complete]]></Tracking>
            </TrackingEvents>
            <VideoClicks>
              <ClickThrough><![CDATA[https://shop.example.com/]]></ClickThrough>
            </VideoClicks>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720"><![CDATA[https://cdn.example.com/sale.mp4]]></MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

func TestVastCommand(t *testing.T) {
	isolateDirs(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(inspectDoc))
	}))
	t.Cleanup(srv.Close)

	out, err := execute(t, "vast", srv.URL+"/tag.xml")
	require.NoError(t, err)

	assert.Contains(t, out, "preroll")
	assert.Contains(t, out, "1. Spring Sale")
	assert.Contains(t, out, "0:15")
	assert.Contains(t, out, "Everything must go")
	assert.Contains(t, out, "https://cdn.example.com/sale.mp4")
	assert.Contains(t, out, "click https://shop.example.com/")
	assert.Contains(t, out, "tracking complete×1 start×1")
}

func TestVastCommand_NoTag(t *testing.T) {
	isolateDirs(t)

	_, err := execute(t, "vast")
	assert.ErrorContains(t, err, "no ad tag given")
}

func TestOpenClickThrough(t *testing.T) {
	pods := []vast.Pod{
		{Kind: ads.KindPreroll, Ads: []vast.PlayableAd{{ID: "a"}}},
		{Kind: ads.KindPostroll, Ads: []vast.PlayableAd{{ID: "b", ClickThrough: "https://shop.example.com/"}}},
	}

	var opened []string
	open := func(url string) error {
		opened = append(opened, url)
		return nil
	}

	require.NoError(t, openClickThrough(pods, 2, open))
	assert.Equal(t, []string{"https://shop.example.com/"}, opened)

	assert.ErrorContains(t, openClickThrough(pods, 1, open), "no click-through")
	assert.ErrorContains(t, openClickThrough(pods, 3, open), "the tag has 2 ads")
}
