package hsaj_test

import (
	"encoding/json"
	"testing"

	"hsaj-go/internal/hsaj"
	"hsaj-go/internal/testutil"
)

// quarantined returns an environment whose blocked file has been moved to
// quarantine, with the clock advanced one more day.
func quarantined(t *testing.T) (*executorEnv, *hsaj.Executor) {
	t.Helper()
	env := newExecutorEnv(t)
	exec := env.executor(env.db)
	result, err := exec.Apply(env.plan(t, nil), false)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result.Quarantined) != 1 {
		t.Fatalf("Apply() = %+v, want one quarantined file", result)
	}
	env.clock.Advance(testutil.Days(1))
	return env, exec
}

func TestParseRestoreTarget(t *testing.T) {
	tests := []struct {
		arg     string
		want    hsaj.RestoreTarget
		wantErr bool
	}{
		{arg: "42", want: hsaj.RestoreTarget{FileID: 42}},
		{arg: " /q/2024-01-02/a.flac ", want: hsaj.RestoreTarget{Path: "/q/2024-01-02/a.flac"}},
		{arg: "/q/x/../a.flac", want: hsaj.RestoreTarget{Path: "/q/a.flac"}},
		{arg: "0", wantErr: true},
		{arg: "-3", wantErr: true},
		{arg: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := hsaj.ParseRestoreTarget(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseRestoreTarget(%q) = %+v, want error", tt.arg, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRestoreTarget() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRestoreTarget(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestExecutor_RestoreByID(t *testing.T) {
	env, exec := quarantined(t)

	result, err := exec.Restore(hsaj.RestoreTarget{FileID: env.file.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Status != hsaj.RestoreOK {
		t.Fatalf("Restore() status = %s", result.Status)
	}
	if result.OriginalPath != blockedSource || result.QuarantinePath != blockedDest || result.FileID != env.file.ID {
		t.Errorf("Restore() = %+v", result)
	}

	if !env.fs.HasFile(blockedSource) || env.fs.HasFile(blockedDest) {
		t.Errorf("files = %v, want file back at %s", env.fs.Paths(), blockedSource)
	}
	f, err := env.db.FindCatalogFile(env.file.ID)
	if err != nil {
		t.Fatalf("FindCatalogFile() error = %v", err)
	}
	if f.Path != blockedSource {
		t.Errorf("catalog path = %s, want %s", f.Path, blockedSource)
	}

	c := findCandidate(t, env.db, "track", "t1")
	if c.Status != hsaj.StatusRestored || !c.RestoredAt.Time.Equal(env.clock.Now()) || c.PlannedActionAt.Valid {
		t.Errorf("candidate after restore = %+v", c)
	}

	entries := env.actions(t)
	if len(entries) != 2 || entries[0].Action != hsaj.ActionRestore || entries[0].TargetPath != blockedSource {
		t.Fatalf("actions = %+v", entries)
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(entries[0].Details), &details); err != nil {
		t.Fatalf("decoding details: %v", err)
	}
	if details["from"] != blockedDest {
		t.Errorf("restore details = %v", details)
	}

	// The block is still listed upstream, so the next pass reopens it.
	result2 := syncAt(t, env.db, env.clock.Now(), testutil.Days(30), "track:t1")
	if result2.CandidatesReopened != 1 {
		t.Errorf("Sync() after restore = %+v, want one reopened candidate", result2)
	}
}

func TestExecutor_RestoreConflictThenRetry(t *testing.T) {
	env, exec := quarantined(t)
	env.fs.AddFile(blockedSource, []byte("replacement"))

	result, err := exec.Restore(hsaj.RestoreTarget{Path: blockedDest})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Status != hsaj.RestoreConflict {
		t.Fatalf("Restore() status = %s, want conflict", result.Status)
	}
	if string(env.fs.Content(blockedDest)) != "flac" || string(env.fs.Content(blockedSource)) != "replacement" {
		t.Errorf("conflicting restore touched files: %v", env.fs.Paths())
	}
	entries := env.actions(t)
	if len(entries) != 2 || entries[0].Action != hsaj.ActionRestoreConflict || entries[0].TargetPath != blockedDest {
		t.Fatalf("actions = %+v", entries)
	}
	if c := findCandidate(t, env.db, "track", "t1"); c.Status != hsaj.StatusQuarantined {
		t.Errorf("candidate status = %v, want quarantined", c.Status)
	}

	env.fs.Remove(blockedSource)
	result, err = exec.Restore(hsaj.RestoreTarget{Path: blockedDest})
	if err != nil {
		t.Fatalf("Restore() retry error = %v", err)
	}
	if result.Status != hsaj.RestoreOK {
		t.Errorf("Restore() retry status = %s", result.Status)
	}
	if string(env.fs.Content(blockedSource)) != "flac" {
		t.Errorf("restored content = %q", env.fs.Content(blockedSource))
	}
}

func TestExecutor_RestoreNotFound(t *testing.T) {
	env, exec := quarantined(t)

	tests := []struct {
		name   string
		target hsaj.RestoreTarget
	}{
		{"unknown id", hsaj.RestoreTarget{FileID: 999}},
		{"path never quarantined", hsaj.RestoreTarget{Path: "/q/2024-01-02/other.flac"}},
		{"original path", hsaj.RestoreTarget{Path: blockedSource}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := exec.Restore(tt.target)
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if result.Status != hsaj.RestoreNotFound {
				t.Errorf("Restore() status = %s, want not_found", result.Status)
			}
		})
	}
	if n := len(env.actions(t)); n != 1 {
		t.Errorf("actions = %d, want only the quarantine entry", n)
	}
}

func TestExecutor_RestoreSourceMissing(t *testing.T) {
	env, exec := quarantined(t)
	env.fs.Remove(blockedDest)

	result, err := exec.Restore(hsaj.RestoreTarget{FileID: env.file.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Status != hsaj.RestoreSourceMissing {
		t.Errorf("Restore() status = %s, want source_missing", result.Status)
	}
	if c := findCandidate(t, env.db, "track", "t1"); c.Status != hsaj.StatusQuarantined {
		t.Errorf("candidate status = %v, want quarantined", c.Status)
	}
}

func TestExecutor_RestoreConflictWinsOverMissingCopy(t *testing.T) {
	env, exec := quarantined(t)
	env.fs.Remove(blockedDest)
	env.fs.AddFile(blockedSource, []byte("replacement"))

	result, err := exec.Restore(hsaj.RestoreTarget{FileID: env.file.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Status != hsaj.RestoreConflict {
		t.Errorf("Restore() status = %s, want conflict", result.Status)
	}
	entries := env.actions(t)
	if len(entries) != 2 || entries[0].Action != hsaj.ActionRestoreConflict {
		t.Errorf("actions = %+v, want a restore_conflict entry", entries)
	}
	if string(env.fs.Content(blockedSource)) != "replacement" {
		t.Errorf("original path content = %q", env.fs.Content(blockedSource))
	}
}
