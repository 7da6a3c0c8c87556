package analytics

import (
	"time"
)

// EventType identifies an analytics event
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventPlay         EventType = "play"
	EventPause        EventType = "pause"
	EventSeek         EventType = "seek"
	EventBufferStart  EventType = "buffer_start"
	EventBufferEnd    EventType = "buffer_end"
	EventEnded        EventType = "ended"
	EventQuartile     EventType = "quartile"
	EventAdStart      EventType = "ad_start"
	EventAdComplete   EventType = "ad_complete"
	EventAdError      EventType = "ad_error"
)

// String returns the string representation of EventType
func (t EventType) String() string {
	return string(t)
}

// IsAd reports whether t belongs to the ad lifecycle
func (t EventType) IsAd() bool {
	return t == EventAdStart || t == EventAdComplete || t == EventAdError
}

// Event is a derived analytics event delivered to a Sink
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration,omitempty"`

	// Set on quartile events: 25, 50, 75 or 100
	Quartile int `json:"quartile,omitempty"`

	// Ad lifecycle fields
	AdPosition                   string  `json:"ad_position,omitempty"` // preroll, midroll, postroll
	AdTagURL                     string  `json:"ad_tag_url,omitempty"`
	ErrorMessage                 string  `json:"error_message,omitempty"`
	MainContentPositionAtAdStart float64 `json:"main_content_position_at_ad_start"`

	SessionID string `json:"session_id,omitempty"`
}

// Quartile thresholds in emission order
var quartileThresholds = [4]int{25, 50, 75, 100}

// QuartileState records which progress milestones were reached this session
type QuartileState struct {
	reached [4]bool
}

// Reached reports whether the given quartile (25/50/75/100) was flagged
func (q QuartileState) Reached(quartile int) bool {
	for i, threshold := range quartileThresholds {
		if threshold == quartile {
			return q.reached[i]
		}
	}
	return false
}

// advance flags every threshold at or below progress that was not flagged
// yet and returns them in increasing order
func (q *QuartileState) advance(progress float64) []int {
	var crossed []int
	for i, threshold := range quartileThresholds {
		if q.reached[i] {
			continue
		}
		if progress >= float64(threshold)/100 {
			q.reached[i] = true
			crossed = append(crossed, threshold)
		}
	}
	return crossed
}
