package vast

import "strings"

// Document is a VAST response
type Document struct {
	Version string  `xml:"version,attr"`
	Ads     []Ad    `xml:"Ad"`
	Errors  []CDATA `xml:"Error"`
}

// Ad is one inline or wrapper ad
type Ad struct {
	ID       string   `xml:"id,attr,omitempty"`
	Sequence int      `xml:"sequence,attr,omitempty"`
	InLine   *InLine  `xml:"InLine"`
	Wrapper  *Wrapper `xml:"Wrapper"`
}

// InLine carries the creatives to play
type InLine struct {
	AdSystem    string     `xml:"AdSystem"`
	AdTitle     string     `xml:"AdTitle"`
	Description CDATA      `xml:"Description"`
	Impressions []CDATA    `xml:"Impression"`
	Errors      []CDATA    `xml:"Error"`
	Creatives   []Creative `xml:"Creatives>Creative"`
}

// Wrapper points at another VAST document
type Wrapper struct {
	AdSystem     string     `xml:"AdSystem"`
	VASTAdTagURI CDATA      `xml:"VASTAdTagURI"`
	Impressions  []CDATA    `xml:"Impression"`
	Errors       []CDATA    `xml:"Error"`
	Creatives    []Creative `xml:"Creatives>Creative"`
}

// Creative holds a linear ad
type Creative struct {
	ID     string  `xml:"id,attr,omitempty"`
	Linear *Linear `xml:"Linear"`
}

// Linear is a video creative
type Linear struct {
	SkipOffset     string      `xml:"skipoffset,attr,omitempty"`
	Duration       string      `xml:"Duration"`
	TrackingEvents []Tracking  `xml:"TrackingEvents>Tracking"`
	ClickThrough   CDATA       `xml:"VideoClicks>ClickThrough"`
	MediaFiles     []MediaFile `xml:"MediaFiles>MediaFile"`
}

// Tracking is a pixel fired on a playback milestone
type Tracking struct {
	Event  string `xml:"event,attr"`
	Offset string `xml:"offset,attr,omitempty"`
	URL    string `xml:",cdata"`
}

// MediaFile is one rendition of a linear creative
type MediaFile struct {
	Delivery string `xml:"delivery,attr"`
	Type     string `xml:"type,attr"`
	Width    int    `xml:"width,attr"`
	Height   int    `xml:"height,attr"`
	Bitrate  int    `xml:"bitrate,attr,omitempty"`
	URL      string `xml:",cdata"`
}

// CDATA is element text that is usually wrapped in CDATA
type CDATA struct {
	Value string `xml:",cdata"`
}

// String returns the trimmed text
func (c CDATA) String() string {
	return strings.TrimSpace(c.Value)
}

// VMAP is an ad break schedule
type VMAP struct {
	Version  string    `xml:"version,attr"`
	AdBreaks []AdBreak `xml:"AdBreak"`
}

// AdBreak schedules one pod at a time offset
type AdBreak struct {
	TimeOffset string   `xml:"timeOffset,attr"`
	BreakType  string   `xml:"breakType,attr"`
	BreakID    string   `xml:"breakId,attr,omitempty"`
	AdSource   AdSource `xml:"AdSource"`
}

// AdSource is either an inline VAST document or a tag to fetch
type AdSource struct {
	ID         string    `xml:"id,attr,omitempty"`
	VASTAdData *Document `xml:"VASTAdData>VAST"`
	AdTagURI   CDATA     `xml:"AdTagURI"`
}
