package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/config"
)

func openTestDB(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "cuepoint.db")
	db, err := Open(&config.DatabaseConfig{Path: path, MaxConnections: 1, WALMode: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db, path
}

func TestOpen_FreshDatabase(t *testing.T) {
	db, _ := openTestDB(t)

	assert.True(t, db.Migrator().HasTable(&Session{}))
	assert.True(t, db.Migrator().HasColumn(&Session{}, "surface"))
	assert.True(t, db.Migrator().HasColumn(&AnalyticsEvent{}, "ad_tag_url"))

	// Migrations that could not apply are still recorded
	applied, err := getAppliedMigrations(db)
	require.NoError(t, err)
	assert.True(t, applied["20260301"])
	assert.True(t, applied["20260315"])
}

func TestRunMigrations_AddsMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := Open(&config.DatabaseConfig{Path: path, MaxConnections: 1})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	// Simulate a database from before the surface column existed
	require.NoError(t, db.Exec("DROP TABLE sessions").Error)
	require.NoError(t, db.Exec("CREATE TABLE sessions (id TEXT PRIMARY KEY, title TEXT, source_uri TEXT NOT NULL, started_at DATETIME, ended_at DATETIME, last_position REAL, duration REAL)").Error)
	require.NoError(t, db.Exec("DELETE FROM schema_migrations WHERE name = ?", "20260301").Error)

	require.NoError(t, RunMigrations(db))
	assert.True(t, db.Migrator().HasColumn(&Session{}, "surface"))

	// Running again is a no-op
	require.NoError(t, RunMigrations(db))
}

func TestExtractMigrationName(t *testing.T) {
	assert.Equal(t, "20260301", extractMigrationName("20260301_sessions_surface.sql"))
	assert.Equal(t, "notes.sql", extractMigrationName("notes.sql"))
}

func TestInitAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.db")
	require.NoError(t, Init(&config.DatabaseConfig{Path: path}))
	assert.NotNil(t, GetDB())
	require.NoError(t, Close())
	assert.Nil(t, GetDB())
	require.NoError(t, Close())
}

func TestStore(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db, nil)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.BeginSession(Session{ID: "s1", Title: "Demo", SourceURI: "https://cdn.example.com/main.m3u8", Surface: "mpv", StartedAt: start}))
	// Beginning again updates metadata without failing
	require.NoError(t, store.BeginSession(Session{ID: "s1", Title: "Demo (retry)", SourceURI: "https://cdn.example.com/main.m3u8", StartedAt: start}))
	assert.Error(t, store.BeginSession(Session{}))

	events := []analytics.Event{
		{Type: analytics.EventSessionStart, SessionID: "s1", Timestamp: start, Duration: 120},
		{Type: analytics.EventAdStart, SessionID: "s1", Timestamp: start.Add(time.Second), AdPosition: "midroll", AdTagURL: "https://ads.example.com/tag", MainContentPositionAtAdStart: 30},
		{Type: analytics.EventQuartile, SessionID: "s1", Timestamp: start.Add(2 * time.Second), Position: 30, Duration: 120, Quartile: 25},
		{Type: analytics.EventSessionEnd, SessionID: "s1", Timestamp: start.Add(3 * time.Second), Position: 120},
	}
	for _, ev := range events {
		store.Emit(ev)
	}

	var session Session
	require.NoError(t, db.First(&session, "id = ?", "s1").Error)
	assert.Equal(t, "Demo (retry)", session.Title)
	assert.Equal(t, 120.0, session.LastPosition)
	assert.Equal(t, 120.0, session.Duration)
	require.NotNil(t, session.EndedAt)
	assert.True(t, session.EndedAt.Equal(start.Add(3*time.Second)))

	var rows []AnalyticsEvent
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 4)
	ad := rows[1].ToEvent()
	assert.Equal(t, analytics.EventAdStart, ad.Type)
	assert.Equal(t, 30.0, ad.MainContentPositionAtAdStart)
	assert.Equal(t, "https://ads.example.com/tag", ad.AdTagURL)
	assert.Equal(t, 25, rows[2].Quartile)
}

func TestStore_NilDB(t *testing.T) {
	store := NewStore(nil, nil)
	assert.Error(t, store.Save(analytics.Event{Type: analytics.EventPlay}))
	assert.NotPanics(t, func() { store.Emit(analytics.Event{Type: analytics.EventPlay}) })
}
