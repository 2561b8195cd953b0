package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"hsaj-go/internal/database/migrations"
	"hsaj-go/internal/hsaj"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements hsaj.Database on a single SQLite connection.
type SQLiteDatabase struct {
	store
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the catalog at path. path can be a file path or
// ":memory:". The schema is not migrated here; see migrations.MigrateUp.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path), nil
}

// NewSQLiteDatabaseFromDB wraps an already configured connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string) *SQLiteDatabase {
	return &SQLiteDatabase{store: store{q: db}, db: db, path: path}
}

// OpenConnection opens a SQLite connection pool capped at one connection and
// applies the catalog PRAGMAs. The cap keeps in-memory databases coherent and
// makes the process a single writer.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

// DB exposes the underlying connection for migrations.
func (s *SQLiteDatabase) DB() *sql.DB {
	return s.db
}

// Path returns the database file path, or ":memory:".
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// RunInTx runs fn in a transaction that commits when fn returns nil.
func (s *SQLiteDatabase) RunInTx(fn func(tx hsaj.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{store: store{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*hsaj.Operation, error) {
	op := &hsaj.Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}
	res, err := s.db.Exec(
		"INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)",
		op.StartedAt, op.Operation, op.Parameters, op.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation %s: %w", operation, err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	res, err := s.db.Exec("UPDATE operations SET finished_at = ?, status = ? WHERE id = ?", time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	return expectOneRow(res, "operation", id)
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*hsaj.Operation, error) {
	rows, err := s.db.Query(
		"SELECT id, operation, parameters, started_at, finished_at, status FROM operations ORDER BY id DESC LIMIT ?",
		sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*hsaj.Operation
	for rows.Next() {
		op := &hsaj.Operation{}
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt = op.StartedAt.UTC()
		op.FinishedAt = utcNullTime(op.FinishedAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database to %s: %w", destPath, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type sqliteTx struct {
	store
	tx *sql.Tx
}

func (t *sqliteTx) Savepoint(name string, fn func() error) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.Exec("SAVEPOINT " + name); err != nil {
		return fmt.Errorf("creating savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.Exec("ROLLBACK TO SAVEPOINT " + name); rbErr != nil {
			return fmt.Errorf("%w (rolling back savepoint %s: %v)", err, name, rbErr)
		}
		if _, relErr := t.tx.Exec("RELEASE SAVEPOINT " + name); relErr != nil {
			return fmt.Errorf("%w (releasing savepoint %s: %v)", err, name, relErr)
		}
		return err
	}

	if _, err := t.tx.Exec("RELEASE SAVEPOINT " + name); err != nil {
		return fmt.Errorf("releasing savepoint %s: %w", name, err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// store implements hsaj.Store against either the pool or an open transaction.
type store struct {
	q queryer
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Block observations

const observationColumns = "id, object_type, object_id, label, first_seen_at, last_seen_at"

func scanObservation(r rowScanner) (*hsaj.BlockObservation, error) {
	o := &hsaj.BlockObservation{}
	if err := r.Scan(&o.ID, &o.ObjectType, &o.ObjectID, &o.Label, &o.FirstSeenAt, &o.LastSeenAt); err != nil {
		return nil, err
	}
	o.FirstSeenAt = o.FirstSeenAt.UTC()
	o.LastSeenAt = o.LastSeenAt.UTC()
	return o, nil
}

func (s *store) FindObservation(key hsaj.BlockKey) (*hsaj.BlockObservation, error) {
	row := s.q.QueryRow("SELECT "+observationColumns+" FROM block_observations WHERE object_type = ? AND object_id = ?", key.Type, key.ID)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding observation %s: %w", key, err)
	}
	return o, nil
}

func (s *store) InsertObservation(obs *hsaj.BlockObservation) error {
	res, err := s.q.Exec(
		"INSERT INTO block_observations (object_type, object_id, label, first_seen_at, last_seen_at) VALUES (?, ?, ?, ?, ?)",
		obs.ObjectType, obs.ObjectID, obs.Label, obs.FirstSeenAt.UTC(), obs.LastSeenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting observation %s:%s: %w", obs.ObjectType, obs.ObjectID, err)
	}
	obs.ID, err = res.LastInsertId()
	return err
}

// UpdateObservation writes label and last_seen_at. first_seen_at is never rewritten.
func (s *store) UpdateObservation(obs *hsaj.BlockObservation) error {
	res, err := s.q.Exec("UPDATE block_observations SET label = ?, last_seen_at = ? WHERE id = ?", obs.Label, obs.LastSeenAt.UTC(), obs.ID)
	if err != nil {
		return fmt.Errorf("updating observation %d: %w", obs.ID, err)
	}
	return expectOneRow(res, "observation", obs.ID)
}

// Block candidates

const candidateColumns = "id, object_type, object_id, label, reason, status, first_seen_at, last_seen_at, planned_action_at, restored_at"

func scanCandidate(r rowScanner) (*hsaj.BlockCandidate, error) {
	c := &hsaj.BlockCandidate{}
	var status string
	if err := r.Scan(&c.ID, &c.ObjectType, &c.ObjectID, &c.Label, &c.Reason, &status,
		&c.FirstSeenAt, &c.LastSeenAt, &c.PlannedActionAt, &c.RestoredAt); err != nil {
		return nil, err
	}
	parsed, err := hsaj.ParseCandidateStatus(status)
	if err != nil {
		return nil, fmt.Errorf("candidate %d: %w", c.ID, err)
	}
	c.Status = parsed
	c.FirstSeenAt = c.FirstSeenAt.UTC()
	c.LastSeenAt = c.LastSeenAt.UTC()
	c.PlannedActionAt = utcNullTime(c.PlannedActionAt)
	c.RestoredAt = utcNullTime(c.RestoredAt)
	return c, nil
}

func (s *store) queryCandidates(query string, args ...any) ([]*hsaj.BlockCandidate, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*hsaj.BlockCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *store) findCandidate(where string, args ...any) (*hsaj.BlockCandidate, error) {
	c, err := scanCandidate(s.q.QueryRow("SELECT "+candidateColumns+" FROM block_candidates WHERE "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *store) FindCandidate(key hsaj.BlockKey) (*hsaj.BlockCandidate, error) {
	c, err := s.findCandidate("object_type = ? AND object_id = ?", key.Type, key.ID)
	if err != nil {
		return nil, fmt.Errorf("finding candidate %s: %w", key, err)
	}
	return c, nil
}

func (s *store) FindCandidateByID(id int64) (*hsaj.BlockCandidate, error) {
	c, err := s.findCandidate("id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding candidate %d: %w", id, err)
	}
	return c, nil
}

func (s *store) ListCandidates() ([]*hsaj.BlockCandidate, error) {
	candidates, err := s.queryCandidates("SELECT " + candidateColumns + " FROM block_candidates ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	return candidates, nil
}

func (s *store) ListCandidatesByStatus(status hsaj.CandidateStatus) ([]*hsaj.BlockCandidate, error) {
	candidates, err := s.queryCandidates("SELECT "+candidateColumns+" FROM block_candidates WHERE status = ? ORDER BY id", status.String())
	if err != nil {
		return nil, fmt.Errorf("listing %s candidates: %w", status, err)
	}
	return candidates, nil
}

func (s *store) InsertCandidate(c *hsaj.BlockCandidate) error {
	if !c.Status.Valid() {
		return fmt.Errorf("inserting candidate %s: invalid status %d", c.Key(), int(c.Status))
	}
	res, err := s.q.Exec(
		`INSERT INTO block_candidates
			(object_type, object_id, label, reason, status, first_seen_at, last_seen_at, planned_action_at, restored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ObjectType, c.ObjectID, c.Label, c.Reason, c.Status.String(),
		c.FirstSeenAt.UTC(), c.LastSeenAt.UTC(), utcNullTime(c.PlannedActionAt), utcNullTime(c.RestoredAt),
	)
	if err != nil {
		return fmt.Errorf("inserting candidate %s: %w", c.Key(), err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateCandidate writes every mutable column. first_seen_at is never rewritten.
func (s *store) UpdateCandidate(c *hsaj.BlockCandidate) error {
	if !c.Status.Valid() {
		return fmt.Errorf("updating candidate %d: invalid status %d", c.ID, int(c.Status))
	}
	res, err := s.q.Exec(
		`UPDATE block_candidates
			SET label = ?, reason = ?, status = ?, last_seen_at = ?, planned_action_at = ?, restored_at = ?
			WHERE id = ?`,
		c.Label, c.Reason, c.Status.String(), c.LastSeenAt.UTC(), utcNullTime(c.PlannedActionAt), utcNullTime(c.RestoredAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating candidate %d: %w", c.ID, err)
	}
	return expectOneRow(res, "candidate", c.ID)
}

// Catalog files

const fileColumns = "id, path, size_bytes, format, modified_at, artist, album, title, track_number, year, duration_seconds"

func scanFile(r rowScanner) (*hsaj.CatalogFile, error) {
	f := &hsaj.CatalogFile{}
	if err := r.Scan(&f.ID, &f.Path, &f.SizeBytes, &f.Format, &f.ModifiedAt,
		&f.Artist, &f.Album, &f.Title, &f.TrackNumber, &f.Year, &f.DurationSeconds); err != nil {
		return nil, err
	}
	f.ModifiedAt = utcNullTime(f.ModifiedAt)
	return f, nil
}

func (s *store) queryFiles(query string, args ...any) ([]*hsaj.CatalogFile, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*hsaj.CatalogFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *store) FindCatalogFile(id int64) (*hsaj.CatalogFile, error) {
	f, err := scanFile(s.q.QueryRow("SELECT "+fileColumns+" FROM files WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file %d: %w", id, err)
	}
	return f, nil
}

func (s *store) FindCatalogFileByPath(path string) (*hsaj.CatalogFile, error) {
	f, err := scanFile(s.q.QueryRow("SELECT "+fileColumns+" FROM files WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file %s: %w", path, err)
	}
	return f, nil
}

func (s *store) ListCatalogFiles() ([]*hsaj.CatalogFile, error) {
	files, err := s.queryFiles("SELECT " + fileColumns + " FROM files ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

func (s *store) QueryCatalogFiles(q hsaj.CatalogQuery) ([]*hsaj.CatalogFile, error) {
	var (
		where []string
		args  []any
	)
	if q.RequireArtist {
		where = append(where, "artist IS NOT NULL")
	}
	if q.RequireAlbum {
		where = append(where, "album IS NOT NULL")
	}
	if q.RequireTitle {
		where = append(where, "title IS NOT NULL")
	}
	if q.TrackNumber.Valid {
		where = append(where, "track_number = ?")
		args = append(args, q.TrackNumber.Int64)
	}
	if q.MinDurationSeconds.Valid {
		where = append(where, "duration_seconds >= ?")
		args = append(args, q.MinDurationSeconds.Int64)
	}
	if q.MaxDurationSeconds.Valid {
		where = append(where, "duration_seconds <= ?")
		args = append(args, q.MaxDurationSeconds.Int64)
	}

	query := "SELECT " + fileColumns + " FROM files"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	files, err := s.queryFiles(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	return files, nil
}

func (s *store) UpsertCatalogFile(f *hsaj.CatalogFile) (bool, error) {
	existing, err := s.FindCatalogFileByPath(f.Path)
	if err != nil {
		return false, err
	}

	args := []any{f.SizeBytes, f.Format, utcNullTime(f.ModifiedAt), f.Artist, f.Album, f.Title, f.TrackNumber, f.Year, f.DurationSeconds}
	if existing != nil {
		_, err := s.q.Exec(
			`UPDATE files SET size_bytes = ?, format = ?, modified_at = ?, artist = ?, album = ?, title = ?,
				track_number = ?, year = ?, duration_seconds = ? WHERE id = ?`,
			append(args, existing.ID)...,
		)
		if err != nil {
			return false, fmt.Errorf("updating file %s: %w", f.Path, err)
		}
		f.ID = existing.ID
		return false, nil
	}

	res, err := s.q.Exec(
		`INSERT INTO files (path, size_bytes, format, modified_at, artist, album, title, track_number, year, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{f.Path}, args...)...,
	)
	if err != nil {
		return false, fmt.Errorf("inserting file %s: %w", f.Path, err)
	}
	if f.ID, err = res.LastInsertId(); err != nil {
		return false, fmt.Errorf("reading file id: %w", err)
	}
	return true, nil
}

func (s *store) UpdateCatalogFilePath(id int64, path string) error {
	res, err := s.q.Exec("UPDATE files SET path = ? WHERE id = ?", path, id)
	if err != nil {
		return fmt.Errorf("moving file %d to %s: %w", id, path, err)
	}
	return expectOneRow(res, "file", id)
}

// External track cache

func (s *store) FindExternalTrack(trackID string) (*hsaj.ExternalTrack, error) {
	t := &hsaj.ExternalTrack{}
	err := s.q.QueryRow(
		"SELECT track_id, artist, album, title, track_number, duration_ms FROM external_tracks WHERE track_id = ?", trackID,
	).Scan(&t.TrackID, &t.Artist, &t.Album, &t.Title, &t.TrackNumber, &t.DurationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding cached track %s: %w", trackID, err)
	}
	return t, nil
}

func (s *store) UpsertExternalTrack(t *hsaj.ExternalTrack) error {
	_, err := s.q.Exec(
		`INSERT INTO external_tracks (track_id, artist, album, title, track_number, duration_ms, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (track_id) DO UPDATE SET
				artist = excluded.artist,
				album = excluded.album,
				title = excluded.title,
				track_number = excluded.track_number,
				duration_ms = excluded.duration_ms,
				cached_at = excluded.cached_at`,
		t.TrackID, t.Artist, t.Album, t.Title, t.TrackNumber, t.DurationMS, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("caching track %s: %w", t.TrackID, err)
	}
	return nil
}

// Action log

const actionColumns = "id, action, target_path, details, created_at"

func scanAction(r rowScanner) (*hsaj.ActionLogEntry, error) {
	e := &hsaj.ActionLogEntry{}
	var action string
	if err := r.Scan(&e.ID, &action, &e.TargetPath, &e.Details, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Action = hsaj.ActionKind(action)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *store) AppendAction(e *hsaj.ActionLogEntry) error {
	details := e.Details
	if details == "" {
		details = "{}"
	}
	res, err := s.q.Exec(
		"INSERT INTO actions_log (action, target_path, details, created_at) VALUES (?, ?, ?, ?)",
		string(e.Action), e.TargetPath, details, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending %s action for %s: %w", e.Action, e.TargetPath, err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *store) FindLatestAction(kind hsaj.ActionKind, targetPath string) (*hsaj.ActionLogEntry, error) {
	e, err := scanAction(s.q.QueryRow(
		"SELECT "+actionColumns+" FROM actions_log WHERE action = ? AND target_path = ? ORDER BY id DESC LIMIT 1",
		string(kind), targetPath,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest %s for %s: %w", kind, targetPath, err)
	}
	return e, nil
}

func (s *store) ListActions(limit int) ([]*hsaj.ActionLogEntry, error) {
	rows, err := s.q.Query("SELECT "+actionColumns+" FROM actions_log ORDER BY id DESC LIMIT ?", sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var entries []*hsaj.ActionLogEntry
	for rows.Next() {
		e, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func utcNullTime(t sql.NullTime) sql.NullTime {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

func expectOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s %d update: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d does not exist", what, id)
	}
	return nil
}

// Compile-time checks.
var (
	_ hsaj.Database = (*SQLiteDatabase)(nil)
	_ hsaj.Tx       = (*sqliteTx)(nil)
)
