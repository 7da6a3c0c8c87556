package database

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/justchokingaround/cuepoint/internal/analytics"
)

// Store persists analytics events and session bookkeeping. It implements
// analytics.Sink; write failures are logged and never reach the emitter.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ analytics.Sink = (*Store)(nil)

// NewStore creates a store on db
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store")}
}

// BeginSession records the session before any event arrives
func (s *Store) BeginSession(session Session) error {
	if s.db == nil {
		return errors.New("database connection is nil")
	}
	if session.ID == "" {
		return errors.New("session id is required")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	// Stored times compare as text, so they share one zone
	session.StartedAt = session.StartedAt.UTC()
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "source_uri", "surface"}),
	}).Create(&session).Error
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", session.ID, err)
	}
	return nil
}

// Emit implements analytics.Sink
func (s *Store) Emit(ev analytics.Event) {
	if err := s.Save(ev); err != nil {
		s.logger.Warn("failed to store analytics event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}

// Save stores ev and advances its session
func (s *Store) Save(ev analytics.Event) error {
	if s.db == nil {
		return errors.New("database connection is nil")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	return s.db.Transaction(func(tx *gorm.DB) error {
		record := fromEvent(ev)
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		if ev.SessionID == "" || ev.Type.IsAd() {
			return nil
		}

		updates := map[string]any{"last_position": ev.Position}
		if ev.Duration > 0 {
			updates["duration"] = ev.Duration
		}
		if ev.Type == analytics.EventSessionEnd {
			updates["ended_at"] = ev.Timestamp
		}
		return tx.Model(&Session{}).Where("id = ?", ev.SessionID).Updates(updates).Error
	})
}

func fromEvent(ev analytics.Event) AnalyticsEvent {
	return AnalyticsEvent{
		SessionID:       ev.SessionID,
		Type:            ev.Type.String(),
		Timestamp:       ev.Timestamp,
		Position:        ev.Position,
		Duration:        ev.Duration,
		Quartile:        ev.Quartile,
		AdPosition:      ev.AdPosition,
		AdTagURL:        ev.AdTagURL,
		ErrorMessage:    ev.ErrorMessage,
		ContentPosition: ev.MainContentPositionAtAdStart,
	}
}

// ToEvent converts a stored row back into an analytics event
func (e AnalyticsEvent) ToEvent() analytics.Event {
	return analytics.Event{
		Type:                         analytics.EventType(e.Type),
		Timestamp:                    e.Timestamp,
		Position:                     e.Position,
		Duration:                     e.Duration,
		Quartile:                     e.Quartile,
		AdPosition:                   e.AdPosition,
		AdTagURL:                     e.AdTagURL,
		ErrorMessage:                 e.ErrorMessage,
		MainContentPositionAtAdStart: e.ContentPosition,
		SessionID:                    e.SessionID,
	}
}
