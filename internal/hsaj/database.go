package hsaj

import "database/sql"

// Store provides the persistence operations used by the engine.
// Find methods return (nil, nil) when the record does not exist.
type Store interface {
	// Block observations

	FindObservation(key BlockKey) (*BlockObservation, error)
	InsertObservation(obs *BlockObservation) error
	UpdateObservation(obs *BlockObservation) error

	// Block candidates

	FindCandidate(key BlockKey) (*BlockCandidate, error)
	FindCandidateByID(id int64) (*BlockCandidate, error)
	// ListCandidates returns all candidates ordered by id.
	ListCandidates() ([]*BlockCandidate, error)
	// ListCandidatesByStatus returns candidates with the given status ordered by id.
	ListCandidatesByStatus(status CandidateStatus) ([]*BlockCandidate, error)
	InsertCandidate(candidate *BlockCandidate) error
	UpdateCandidate(candidate *BlockCandidate) error

	// Catalog files

	FindCatalogFile(id int64) (*CatalogFile, error)
	FindCatalogFileByPath(path string) (*CatalogFile, error)
	// ListCatalogFiles returns every catalog file ordered by id.
	ListCatalogFiles() ([]*CatalogFile, error)
	// QueryCatalogFiles returns files satisfying the numeric and presence
	// constraints in q, ordered by id.
	QueryCatalogFiles(q CatalogQuery) ([]*CatalogFile, error)
	// UpsertCatalogFile inserts or updates a file keyed by path and reports whether it was created.
	UpsertCatalogFile(file *CatalogFile) (bool, error)
	UpdateCatalogFilePath(id int64, path string) error

	// External track cache

	FindExternalTrack(trackID string) (*ExternalTrack, error)
	UpsertExternalTrack(track *ExternalTrack) error

	// Action log. Entries are append-only.

	AppendAction(entry *ActionLogEntry) error
	// FindLatestAction returns the most recent entry of the given kind for targetPath.
	FindLatestAction(kind ActionKind, targetPath string) (*ActionLogEntry, error)
	// ListActions returns entries newest first. limit <= 0 returns all entries.
	ListActions(limit int) ([]*ActionLogEntry, error)
}

// Tx is a Store bound to an open transaction.
type Tx interface {
	Store

	// Savepoint runs fn inside a nested savepoint. If fn returns an error the
	// savepoint is rolled back and the outer transaction stays usable.
	Savepoint(name string, fn func() error) error
}

// Database is the durable catalog.
type Database interface {
	Store

	// RunInTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	RunInTx(fn func(tx Tx) error) error

	// Operation tracking

	CreateOperation(operation, parameters string) (*Operation, error)
	FinishOperation(id int64, status string) error
	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*Operation, error)

	// CheckMigrations verifies the schema is up-to-date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	Close() error
}

// CatalogQuery holds the constraints the store can evaluate directly.
// Text equality is evaluated by the matcher with Unicode case folding.
type CatalogQuery struct {
	TrackNumber        sql.NullInt64
	MinDurationSeconds sql.NullInt64
	MaxDurationSeconds sql.NullInt64
	RequireArtist      bool
	RequireAlbum       bool
	RequireTitle       bool
}
