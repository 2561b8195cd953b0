package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SnapshotDirName is created inside data_dir to hold catalog snapshots.
const SnapshotDirName = "snapshots"

const (
	snapshotPrefix = "hsaj-"
	snapshotSuffix = ".db"
)

type snapshotter interface {
	BackupTo(destPath string) error
}

// writeSnapshot copies the catalog to dir, named after the operation id so
// that names sort in operation order.
func writeSnapshot(db snapshotter, dir string, opID int64) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s%010d%s", snapshotPrefix, opID, snapshotSuffix))
	if err := db.BackupTo(path); err != nil {
		return "", fmt.Errorf("writing catalog snapshot: %w", err)
	}
	return path, nil
}

// pruneSnapshots removes the oldest snapshots in dir so that at most keep remain.
func pruneSnapshots(dir string, keep int) error {
	names, err := listSnapshots(dir)
	if err != nil {
		return err
	}
	if len(names) <= keep {
		return nil
	}
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("removing snapshot %s: %w", name, err)
		}
	}
	return nil
}

// listSnapshots returns snapshot file names in dir, oldest first.
func listSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, snapshotSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
