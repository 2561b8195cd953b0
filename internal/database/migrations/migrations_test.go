package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	tables := []string{"files", "actions_log", "operations", "external_tracks", "block_observations", "block_candidates", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)
		err := CheckDBMigrationStatus(db)
		if err == nil {
			t.Fatal("CheckDBMigrationStatus() expected error for fresh database")
		}
		if !strings.Contains(err.Error(), "no schema version") {
			t.Errorf("CheckDBMigrationStatus() error = %q, want mention of missing version", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}
		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() error = %v", err)
		}
	})
}

func TestReadStatus(t *testing.T) {
	db := openTestDB(t)

	st, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if st.Version != 0 || st.Current() {
		t.Errorf("ReadStatus() before migrate = %+v, want version 0 and not current", st)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	st, err = ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if !st.Current() || st.Latest != 2 {
		t.Errorf("ReadStatus() after migrate = %+v, want current at version 2", st)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() error = %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("second MigrateUp() error = %v", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() error = %v", err)
	}
}

func TestSchema_ActionsLogAppendOnly(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	_, err := db.Exec(`INSERT INTO actions_log (action, target_path, details, created_at)
		VALUES ('quarantine_move', '/q/a.flac', '{}', datetime('now'))`)
	if err != nil {
		t.Fatalf("insert into actions_log: %v", err)
	}

	if _, err := db.Exec("UPDATE actions_log SET target_path = '/elsewhere'"); err == nil {
		t.Error("UPDATE on actions_log succeeded, want abort")
	}
	if _, err := db.Exec("DELETE FROM actions_log"); err == nil {
		t.Error("DELETE on actions_log succeeded, want abort")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM actions_log").Scan(&count); err != nil {
		t.Fatalf("counting actions: %v", err)
	}
	if count != 1 {
		t.Errorf("actions_log has %d rows, want 1", count)
	}
}

func TestSchema_CandidateConstraints(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	insert := `INSERT INTO block_candidates (object_type, object_id, reason, status, first_seen_at, last_seen_at)
		VALUES (?, ?, 'blocked_by_track', ?, '2024-01-01 00:00:00', '2024-01-01 00:00:00')`

	if _, err := db.Exec(insert, "track", "t1", "planned"); err != nil {
		t.Fatalf("insert candidate: %v", err)
	}
	if _, err := db.Exec(insert, "track", "t1", "planned"); err == nil {
		t.Error("duplicate (object_type, object_id) accepted, want unique violation")
	}
	if _, err := db.Exec(insert, "track", "t2", "deleted"); err == nil {
		t.Error("unknown status accepted, want check violation")
	}
	if _, err := db.Exec("UPDATE block_candidates SET first_seen_at = '2025-01-01 00:00:00'"); err == nil {
		t.Error("first_seen_at update accepted, want abort")
	}
	if _, err := db.Exec("UPDATE block_candidates SET status = 'quarantined'"); err != nil {
		t.Errorf("status update error = %v", err)
	}
}

func TestSchema_FilePathUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	if _, err := db.Exec("INSERT INTO files (path) VALUES ('/music/a.flac')"); err != nil {
		t.Fatalf("insert file: %v", err)
	}
	if _, err := db.Exec("INSERT INTO files (path) VALUES ('/music/a.flac')"); err == nil {
		t.Error("duplicate path accepted, want unique violation")
	}
}

// openTestDB opens an in-memory SQLite database on a single connection.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
