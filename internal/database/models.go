package database

import (
	"time"

	"gorm.io/gorm"
)

// Session is one playback session of main content
type Session struct {
	ID           string     `gorm:"primaryKey"`
	Title        string     `gorm:"default:''"`
	SourceURI    string     `gorm:"not null"`
	Surface      string     `gorm:"default:''"` // mpv, script
	StartedAt    time.Time  `gorm:"index;default:CURRENT_TIMESTAMP"`
	EndedAt      *time.Time `gorm:"index"`
	LastPosition float64    `gorm:"default:0"`
	Duration     float64    `gorm:"default:0"`
}

// TableName overrides the table name
func (Session) TableName() string {
	return "sessions"
}

// AnalyticsEvent is one stored analytics event
type AnalyticsEvent struct {
	ID           uint      `gorm:"primaryKey"`
	SessionID    string    `gorm:"index"`
	Type         string    `gorm:"not null;index"`
	Timestamp    time.Time `gorm:"not null;index"`
	Position     float64   `gorm:"default:0"`
	Duration     float64   `gorm:"default:0"`
	Quartile     int       `gorm:"default:0"`
	AdPosition   string    `gorm:"default:'';index"`
	AdTagURL     string    `gorm:"column:ad_tag_url;default:''"`
	ErrorMessage string    `gorm:"default:''"`
	// Main content position when the ad started
	ContentPosition float64 `gorm:"default:0"`
}

// TableName overrides the table name
func (AnalyticsEvent) TableName() string {
	return "analytics_events"
}

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Session{},
		&AnalyticsEvent{},
	)
}
