// Package history queries stored analytics: raw events, per-session
// summaries and totals for the report command.
package history

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/database"
)

var errNoDB = errors.New("database connection is nil")

// Service provides report queries over the analytics store
type Service struct {
	db *gorm.DB
}

// SortOrder defines the sorting order for sessions
type SortOrder string

const (
	SortRecentFirst  SortOrder = "recent_first"
	SortOldestFirst  SortOrder = "oldest_first"
	SortTitleAsc     SortOrder = "title_asc"
	SortProgressDesc SortOrder = "progress_desc"
)

// FilterOptions defines filtering options for report queries
type FilterOptions struct {
	SessionID   string    // Exact session id
	Type        string    // Event type, events only
	AdPosition  string    // preroll, midroll, postroll; events only
	SearchQuery string    // Search in session title
	StartDate   time.Time // Filter by date range
	EndDate     time.Time
	Completed   *bool     // Sessions that reached session_end
	Limit       int       // Limit results (0 = no limit)
	Offset      int       // Offset for pagination
	SortBy      SortOrder // Sorting order
}

// SessionSummary is a session with counts derived from its events
type SessionSummary struct {
	ID           string
	Title        string
	SourceURI    string
	Surface      string
	StartedAt    time.Time
	EndedAt      *time.Time
	LastPosition float64
	Duration     float64

	Events       int64
	MaxQuartile  int
	AdsStarted   int64
	AdsCompleted int64
	AdErrors     int64
	Seeks        int64
	Buffering    int64
}

// Completed reports whether the session reached session_end
func (s SessionSummary) Completed() bool {
	return s.EndedAt != nil
}

// Progress is the share of the content watched, 0 when the duration is unknown
func (s SessionSummary) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return min(s.LastPosition/s.Duration, 1)
}

// Stats are totals over the whole store
type Stats struct {
	Sessions          int64
	CompletedSessions int64
	Events            int64
	AdsStarted        int64
	AdErrors          int64
	WatchTime         time.Duration
}

// NewService creates a new report service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetEvents retrieves stored events in timestamp order
func (s *Service) GetEvents(filter FilterOptions) ([]analytics.Event, error) {
	if s.db == nil {
		return nil, errNoDB
	}

	query := s.db.Model(&database.AnalyticsEvent{})
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.AdPosition != "" {
		query = query.Where("ad_position = ?", filter.AdPosition)
	}
	if !filter.StartDate.IsZero() {
		query = query.Where("timestamp >= ?", filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query = query.Where("timestamp <= ?", filter.EndDate.UTC())
	}

	if filter.SortBy == SortRecentFirst {
		query = query.Order("timestamp DESC").Order("id DESC")
	} else {
		query = query.Order("timestamp ASC").Order("id ASC")
	}
	query = paginate(query, filter)

	var records []database.AnalyticsEvent
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := make([]analytics.Event, len(records))
	for i, record := range records {
		events[i] = record.ToEvent()
	}
	return events, nil
}

// GetSessions retrieves session summaries
func (s *Service) GetSessions(filter FilterOptions) ([]SessionSummary, error) {
	if s.db == nil {
		return nil, errNoDB
	}

	query := s.db.Model(&database.Session{})
	if filter.SessionID != "" {
		query = query.Where("id = ?", filter.SessionID)
	}
	if filter.SearchQuery != "" {
		query = query.Where("title LIKE ?", "%"+filter.SearchQuery+"%")
	}
	if !filter.StartDate.IsZero() {
		query = query.Where("started_at >= ?", filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query = query.Where("started_at <= ?", filter.EndDate.UTC())
	}
	if filter.Completed != nil {
		if *filter.Completed {
			query = query.Where("ended_at IS NOT NULL")
		} else {
			query = query.Where("ended_at IS NULL")
		}
	}

	switch filter.SortBy {
	case SortOldestFirst:
		query = query.Order("started_at ASC")
	case SortTitleAsc:
		query = query.Order("title ASC")
	case SortProgressDesc:
		query = query.Order("CASE WHEN duration > 0 THEN last_position / duration ELSE 0 END DESC")
	default: // SortRecentFirst
		query = query.Order("started_at DESC")
	}
	query = paginate(query, filter)

	var records []database.Session
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}

	summaries := make([]SessionSummary, len(records))
	for i, record := range records {
		summary, err := s.summarize(record)
		if err != nil {
			return nil, err
		}
		summaries[i] = summary
	}
	return summaries, nil
}

// GetSession retrieves one session summary
func (s *Service) GetSession(id string) (*SessionSummary, error) {
	if s.db == nil {
		return nil, errNoDB
	}

	var record database.Session
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	summary, err := s.summarize(record)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Service) summarize(record database.Session) (SessionSummary, error) {
	summary := SessionSummary{
		ID:           record.ID,
		Title:        record.Title,
		SourceURI:    record.SourceURI,
		Surface:      record.Surface,
		StartedAt:    record.StartedAt,
		EndedAt:      record.EndedAt,
		LastPosition: record.LastPosition,
		Duration:     record.Duration,
	}

	var counts []struct {
		Type  string
		Count int64
	}
	err := s.db.Model(&database.AnalyticsEvent{}).
		Select("type, COUNT(*) AS count").
		Where("session_id = ?", record.ID).
		Group("type").
		Scan(&counts).Error
	if err != nil {
		return summary, fmt.Errorf("failed to count events for %s: %w", record.ID, err)
	}

	for _, c := range counts {
		summary.Events += c.Count
		switch analytics.EventType(c.Type) {
		case analytics.EventAdStart:
			summary.AdsStarted = c.Count
		case analytics.EventAdComplete:
			summary.AdsCompleted = c.Count
		case analytics.EventAdError:
			summary.AdErrors = c.Count
		case analytics.EventSeek:
			summary.Seeks = c.Count
		case analytics.EventBufferStart:
			summary.Buffering = c.Count
		}
	}

	err = s.db.Model(&database.AnalyticsEvent{}).
		Select("COALESCE(MAX(quartile), 0)").
		Where("session_id = ? AND type = ?", record.ID, analytics.EventQuartile.String()).
		Scan(&summary.MaxQuartile).Error
	if err != nil {
		return summary, fmt.Errorf("failed to read quartiles for %s: %w", record.ID, err)
	}

	return summary, nil
}

// DeleteSession removes a session and its events
func (s *Service) DeleteSession(id string) error {
	if s.db == nil {
		return errNoDB
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&database.AnalyticsEvent{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&database.Session{}).Error
	})
}

// GetStats retrieves totals over the whole store
func (s *Service) GetStats() (*Stats, error) {
	if s.db == nil {
		return nil, errNoDB
	}

	var stats Stats
	if err := s.db.Model(&database.Session{}).Count(&stats.Sessions).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&database.Session{}).Where("ended_at IS NOT NULL").Count(&stats.CompletedSessions).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&database.AnalyticsEvent{}).Count(&stats.Events).Error; err != nil {
		return nil, err
	}
	if err := s.countType(analytics.EventAdStart, &stats.AdsStarted); err != nil {
		return nil, err
	}
	if err := s.countType(analytics.EventAdError, &stats.AdErrors); err != nil {
		return nil, err
	}

	var watched float64
	if err := s.db.Model(&database.Session{}).Select("COALESCE(SUM(last_position), 0)").Scan(&watched).Error; err != nil {
		return nil, err
	}
	stats.WatchTime = time.Duration(watched * float64(time.Second))

	return &stats, nil
}

func (s *Service) countType(typ analytics.EventType, out *int64) error {
	return s.db.Model(&database.AnalyticsEvent{}).Where("type = ?", typ.String()).Count(out).Error
}

// Cleanup removes sessions and events older than the retention window.
// A non-positive window keeps everything.
func (s *Service) Cleanup(retention time.Duration) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	if retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-retention)
	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("timestamp < ?", cutoff).Delete(&database.AnalyticsEvent{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return tx.Where("started_at < ? AND id NOT IN (?)", cutoff,
			tx.Model(&database.AnalyticsEvent{}).Distinct("session_id")).
			Delete(&database.Session{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up analytics: %w", err)
	}
	return removed, nil
}

func paginate(query *gorm.DB, filter FilterOptions) *gorm.DB {
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	return query
}
