package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventColor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ad_error", string(OxocarbonRed)},
		{"error", string(OxocarbonRed)},
		{"ad_start", string(OxocarbonPink)},
		{"session_end", string(OxocarbonPurple)},
		{"quartile", string(OxocarbonGreen)},
		{"seek", string(OxocarbonTeal)},
		{"play", string(OxocarbonBlue)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(EventColor(tt.name)))
		})
	}
}

func TestEventPadsLabel(t *testing.T) {
	assert.Contains(t, Event("play"), "play")
	assert.Contains(t, Badge("midroll", OxocarbonPink), "midroll")
}
