package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"hsaj-go/internal/bridge"
	"hsaj-go/internal/config"
	"hsaj-go/internal/database"
	"hsaj-go/internal/fs"
	"hsaj-go/internal/hsaj"
	"hsaj-go/internal/probe"
)

// LockFileName is the single-writer lock created inside base_dir.
const LockFileName = "hsaj.lock"

// ErrLocked is returned when another hsaj process holds the writer lock.
var ErrLocked = errors.New("another hsaj command is modifying the catalog")

// HsajApp is the application layer between the CLI and HsajService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI values, and manages the DB lifecycle on Close.
type HsajApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	bridge  *bridge.Client
	service *hsaj.HsajService
	lock    *flock.Flock
	op      *Operation
	logger  *slog.Logger
	logFile *os.File
}

// NewHsajApp creates a fully wired HsajApp from the given config.
// op identifies the CLI command being run. The caller must call Close when done.
func NewHsajApp(cfg *config.Config, op *Operation, level slog.Level) (*HsajApp, error) {
	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating base dir: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	client, err := bridge.New(bridge.Config{
		BaseURL:           cfg.Bridge.URL,
		Timeout:           cfg.BridgeTimeout(),
		RequestsPerSecond: cfg.Bridge.RequestsPerSecond,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bridge client: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	// Relocations need both an archive root and a probe.
	var immersive hsaj.ImmersiveProbe
	if cfg.Paths.AtmosDir != "" {
		immersive = probe.NewProber(cfg.Paths.FFprobePath, probe.DefaultTimeout).Probe
	}

	plannerCfg := hsaj.PlannerConfig{
		QuarantineRoot:    cfg.Paths.QuarantineDir,
		ArchiveRoot:       cfg.Paths.AtmosDir,
		LibraryRoots:      cfg.Paths.LibraryRoots,
		DurationTolerance: cfg.Blocking.DurationToleranceSeconds,
	}
	svc := hsaj.NewHsajService(db, fs.NewOSFilesystem(), client, immersive, plannerCfg,
		&slogAdapter{l: logger}, hsaj.RealClock{}, hsaj.UUIDGenerator{})

	return &HsajApp{
		cfg:     cfg,
		db:      db,
		bridge:  client,
		service: svc,
		lock:    flock.New(filepath.Join(cfg.BaseDir, LockFileName)),
		op:      op,
		logger:  logger,
		logFile: logFile,
	}, nil
}

// beginMutation takes the writer lock and persists the operation, giving it
// an auto-increment ID. It must precede every catalog write.
func (a *HsajApp) beginMutation() error {
	if a.op.Persisted() {
		return nil
	}

	if !a.lock.Locked() {
		ok, err := a.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", a.lock.Path(), err)
		}
		if !ok {
			return ErrLocked
		}
	}

	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// track marks the operation failed when err is non-nil and returns err.
func (a *HsajApp) track(err error) error {
	if err != nil {
		a.op.Fail()
	}
	return err
}

// Sync reconciles the blocked-objects feed. The feed is read from fromFile
// when set, otherwise from the bridge. graceDays < 0 uses the configured grace.
func (a *HsajApp) Sync(ctx context.Context, fromFile string, graceDays int) (*hsaj.SyncResult, error) {
	var (
		entries []hsaj.FeedEntry
		err     error
	)
	if fromFile != "" {
		entries, err = bridge.ReadFeedFile(fromFile)
	} else {
		entries, err = a.bridge.FetchBlocked(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blocked feed: %w", err)
	}

	if err := a.beginMutation(); err != nil {
		return nil, err
	}

	grace := a.cfg.GracePeriod()
	if graceDays >= 0 {
		grace = time.Duration(graceDays) * 24 * time.Hour
	}

	result, err := a.service.SyncBlocked(ctx, entries, grace)
	return result, a.track(err)
}

// RefreshTrackCache fills the track cache for observed tracks without a row.
func (a *HsajApp) RefreshTrackCache(ctx context.Context) (int, error) {
	if err := a.beginMutation(); err != nil {
		return 0, err
	}
	n, err := a.service.RefreshTrackCache(ctx)
	return n, a.track(err)
}

// Plan computes the current plan without touching anything.
func (a *HsajApp) Plan() (*hsaj.Plan, error) {
	return a.service.BuildPlan()
}

// Apply builds and executes the current plan. A dry run only records a
// dry_run entry in the action log.
func (a *HsajApp) Apply(dryRun bool) (*hsaj.Plan, *hsaj.ApplyResult, error) {
	if err := a.beginMutation(); err != nil {
		return nil, nil, err
	}
	plan, result, err := a.service.Apply(dryRun)
	return plan, result, a.track(err)
}

// Restore moves a quarantined file back. arg is a catalog file id or a path.
func (a *HsajApp) Restore(arg string) (*hsaj.RestoreResult, error) {
	target, err := hsaj.ParseRestoreTarget(arg)
	if err != nil {
		return nil, err
	}
	if target.Path != "" {
		if target.Path, err = filepath.Abs(target.Path); err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
	}
	if err := a.beginMutation(); err != nil {
		return nil, err
	}
	result, err := a.service.Restore(target)
	return result, a.track(err)
}

// AddCatalogFile registers or refreshes a catalog record.
func (a *HsajApp) AddCatalogFile(file *hsaj.CatalogFile) (bool, error) {
	if err := a.beginMutation(); err != nil {
		return false, err
	}
	created, err := a.service.AddCatalogFile(file)
	return created, a.track(err)
}

// Candidates lists candidates, optionally filtered by a status name.
func (a *HsajApp) Candidates(status string) ([]*hsaj.BlockCandidate, error) {
	if status == "" {
		return a.service.ListCandidates(nil)
	}
	s, err := hsaj.ParseCandidateStatus(status)
	if err != nil {
		return nil, err
	}
	return a.service.ListCandidates(&s)
}

// Actions returns the newest action log entries.
func (a *HsajApp) Actions(limit int) ([]*hsaj.ActionLogEntry, error) {
	return a.service.ListActions(limit)
}

// GetHistory returns the most recent operations.
func (a *HsajApp) GetHistory(limit int) ([]*hsaj.Operation, error) {
	return a.service.GetHistory(limit)
}

// Backup writes a consistent copy of the catalog to dest.
func (a *HsajApp) Backup(dest string) error {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if err := a.db.BackupTo(abs); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	a.logger.Info("catalog backed up", "path", abs)
	return nil
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, snapshots the
// catalog and releases the writer lock.
// For non-persisted operations: just closes the database.
func (a *HsajApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}

		if a.cfg.Database.Type == "sqlite" && a.cfg.Database.Snapshots > 0 {
			dir := filepath.Join(a.cfg.Database.DataDir, SnapshotDirName)
			path, err := writeSnapshot(a.db, dir, a.op.ID)
			if err != nil {
				keep(err)
			} else {
				a.logger.Debug("catalog snapshot written", "path", path)
				if err := pruneSnapshots(dir, a.cfg.Database.Snapshots); err != nil {
					keep(err)
				}
			}
		}
	}

	if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}

	if a.lock.Locked() {
		if err := a.lock.Unlock(); err != nil {
			keep(fmt.Errorf("releasing lock: %w", err))
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
