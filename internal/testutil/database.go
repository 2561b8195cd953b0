package testutil

import (
	"database/sql"
	"testing"

	"hsaj-go/internal/database"
	"hsaj-go/internal/database/migrations"
	"hsaj-go/internal/hsaj"
)

// NewTestDatabase creates a migrated in-memory catalog that is closed when
// the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.MigrateUp(db.DB()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// TrackMeta is the tag subset seeding helpers write.
type TrackMeta struct {
	Artist   string
	Album    string
	Title    string
	Track    int64
	Duration int64 // seconds
}

// AddCatalogFile inserts a catalog row for path and returns it.
// Zero-valued metadata fields are stored as NULL.
func AddCatalogFile(t *testing.T, store hsaj.Store, path string, meta TrackMeta) *hsaj.CatalogFile {
	t.Helper()

	f := &hsaj.CatalogFile{
		Path:            path,
		Artist:          nullString(meta.Artist),
		Album:           nullString(meta.Album),
		Title:           nullString(meta.Title),
		TrackNumber:     nullInt(meta.Track),
		DurationSeconds: nullInt(meta.Duration),
	}
	if _, err := store.UpsertCatalogFile(f); err != nil {
		t.Fatalf("UpsertCatalogFile(%s) error = %v", path, err)
	}
	return f
}

// ExternalTrack builds an unsaved external track identity. meta.Duration is
// ignored; durationMS of zero is NULL.
func ExternalTrack(trackID string, meta TrackMeta, durationMS int64) *hsaj.ExternalTrack {
	return &hsaj.ExternalTrack{
		TrackID:     trackID,
		Artist:      nullString(meta.Artist),
		Album:       nullString(meta.Album),
		Title:       nullString(meta.Title),
		TrackNumber: nullInt(meta.Track),
		DurationMS:  nullInt(durationMS),
	}
}

// CacheTrack stores an external track identity. durationMS of zero is NULL.
func CacheTrack(t *testing.T, store hsaj.Store, trackID string, meta TrackMeta, durationMS int64) *hsaj.ExternalTrack {
	t.Helper()

	track := ExternalTrack(trackID, meta, durationMS)
	if err := store.UpsertExternalTrack(track); err != nil {
		t.Fatalf("UpsertExternalTrack(%s) error = %v", trackID, err)
	}
	return track
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
