package vast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const vmapDoc = `<?xml version="1.0" encoding="UTF-8"?>
<vmap:VMAP xmlns:vmap="http://www.iab.net/videosuite/vmap" version="1.0">
  <vmap:AdBreak timeOffset="start" breakType="linear" breakId="preroll">
    <vmap:AdSource id="pre">
      <vmap:VASTAdData>
        <VAST version="3.0">
          <Ad id="pre-1">
            <InLine>
              <AdSystem>test</AdSystem>
              <AdTitle>Pre</AdTitle>
              <Impression><![CDATA[{{base}}/track/pre-impression]]></Impression>
              <Creatives>
                <Creative id="pre-creative">
                  <Linear>
                    <Duration>00:00:05</Duration>
                    <TrackingEvents>
                      <Tracking event="start"><![CDATA[{{base}}/track/pre-start]]></Tracking>
                      <Tracking event="midpoint"><![CDATA[{{base}}/track/pre-midpoint]]></Tracking>
                      <Tracking event="complete"><![CDATA[{{base}}/track/pre-complete]]></Tracking>
                    </TrackingEvents>
                    <MediaFiles>
                      <MediaFile delivery="streaming" type="application/x-mpegURL" width="1280" height="720"><![CDATA[https://cdn.example.com/pre.m3u8]]></MediaFile>
                      <MediaFile delivery="progressive" type="video/mp4" width="640" height="360" bitrate="500"><![CDATA[https://cdn.example.com/pre-low.mp4]]></MediaFile>
                      <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720" bitrate="1500"><![CDATA[https://cdn.example.com/pre.mp4]]></MediaFile>
                    </MediaFiles>
                  </Linear>
                </Creative>
              </Creatives>
            </InLine>
          </Ad>
        </VAST>
      </vmap:VASTAdData>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="00:00:30.000" breakType="linear" breakId="mid">
    <vmap:AdSource id="mid">
      <vmap:AdTagURI templateType="vast3"><![CDATA[{{base}}/wrapper.xml]]></vmap:AdTagURI>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="10%" breakType="linear" breakId="percent">
    <vmap:AdSource id="percent">
      <vmap:AdTagURI templateType="vast3"><![CDATA[{{base}}/post.xml]]></vmap:AdTagURI>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="00:00:45" breakType="nonlinear" breakId="overlay">
    <vmap:AdSource id="overlay">
      <vmap:AdTagURI templateType="vast3"><![CDATA[{{base}}/post.xml]]></vmap:AdTagURI>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="end" breakType="linear" breakId="postroll">
    <vmap:AdSource id="post">
      <vmap:AdTagURI templateType="vast3"><![CDATA[{{base}}/post.xml]]></vmap:AdTagURI>
    </vmap:AdSource>
  </vmap:AdBreak>
</vmap:VMAP>`

const wrapperDoc = `<VAST version="3.0">
  <Ad id="wrap">
    <Wrapper>
      <AdSystem>wrapper</AdSystem>
      <VASTAdTagURI><![CDATA[{{base}}/mid.xml]]></VASTAdTagURI>
      <Impression><![CDATA[{{base}}/track/wrapper-impression]]></Impression>
      <Creatives>
        <Creative>
          <Linear>
            <TrackingEvents>
              <Tracking event="complete"><![CDATA[{{base}}/track/wrapper-complete]]></Tracking>
            </TrackingEvents>
          </Linear>
        </Creative>
      </Creatives>
    </Wrapper>
  </Ad>
</VAST>`

const midDoc = `<VAST version="3.0">
  <Ad id="mid-b" sequence="2">
    <InLine>
      <AdSystem>test</AdSystem>
      <AdTitle>Mid B</AdTitle>
      <Error><![CDATA[{{base}}/track/mid-error?code=[ERRORCODE]]]></Error>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>00:00:10</Duration>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720"><![CDATA[https://cdn.example.com/mid-b.mp4]]></MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
  <Ad id="mid-a" sequence="1">
    <InLine>
      <AdSystem>test</AdSystem>
      <AdTitle>Mid A</AdTitle>
      <Impression><![CDATA[{{base}}/track/mid-a-impression]]></Impression>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>00:00:15</Duration>
            <TrackingEvents>
              <Tracking event="complete"><![CDATA[{{base}}/track/mid-a-complete]]></Tracking>
            </TrackingEvents>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720"><![CDATA[https://cdn.example.com/mid-a.mp4]]></MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

const postDoc = `<VAST version="4.0">
  <Ad id="post-1">
    <InLine>
      <AdSystem>test</AdSystem>
      <AdTitle>Post</AdTitle>
      <Description><![CDATA[<p>See the <b>new</b>
        season</p>]]></Description>
      <Impression><![CDATA[{{base}}/track/post-impression]]></Impression>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>00:00:20</Duration>
            <VideoClicks>
              <ClickThrough><![CDATA[https://brand.example.com/landing]]></ClickThrough>
            </VideoClicks>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720"><![CDATA[https://cdn.example.com/post.mp4]]></MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

// adServer serves the documents above and records tracking hits
type adServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string][]string // path -> raw queries
}

func newAdServer(t *testing.T) *adServer {
	t.Helper()
	s := &adServer{hits: make(map[string][]string)}

	docs := map[string]string{
		"/vmap.xml":    vmapDoc,
		"/wrapper.xml": wrapperDoc,
		"/mid.xml":     midDoc,
		"/post.xml":    postDoc,
		"/empty.xml":   `<vmap:VMAP xmlns:vmap="http://www.iab.net/videosuite/vmap" version="1.0"></vmap:VMAP>`,
		"/html":        `<html><body>nope</body></html>`,
	}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/track/") {
			s.mu.Lock()
			s.hits[r.URL.Path] = append(s.hits[r.URL.Path], r.URL.RawQuery)
			s.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(strings.ReplaceAll(doc, "{{base}}", s.URL)))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *adServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits[path])
}

func (s *adServer) queries(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits[path]...)
}
