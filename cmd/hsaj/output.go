package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"hsaj-go/internal/hsaj"
)

const timeLayout = "2006-01-02 15:04:05"

// resolveFormat returns the requested output format. Without one, a terminal
// gets a table and anything else gets JSON.
func resolveFormat(requested string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "":
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return "table", nil
		}
		return "json", nil
	case "table":
		return "table", nil
	case "json":
		return "json", nil
	case "yaml", "yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, json or yaml)", requested)
	}
}

// writeStructured writes v as indented JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
}

func formatTime(t sql.NullTime) string {
	if !t.Valid {
		return "-"
	}
	return t.Time.UTC().Format(timeLayout)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func printPlan(w io.Writer, format string, plan *hsaj.Plan) error {
	switch format {
	case "json":
		data, err := plan.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case "yaml":
		data, err := plan.YAML()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	fmt.Fprintf(w, "Plan generated at %s\n", plan.GeneratedAt.UTC().Format(timeLayout))
	if plan.Empty() {
		fmt.Fprintln(w, "Nothing to do.")
		return nil
	}

	if len(plan.Relocations) > 0 {
		rows := make([][]string, 0, len(plan.Relocations))
		for _, m := range plan.Relocations {
			rows = append(rows, []string{strconv.FormatInt(m.FileID, 10), m.Source, m.Destination})
		}
		fmt.Fprintf(w, "\nRelocations (%d)\n%s\n", len(rows),
			renderTable([]string{"File", "Source", "Destination"}, rows, []columnAlignment{alignRight}))
	}

	printQuarantine := func(title string, moves []hsaj.QuarantineMove) {
		if len(moves) == 0 {
			return
		}
		rows := make([][]string, 0, len(moves))
		for _, m := range moves {
			due := "-"
			if m.PlannedActionAt != nil {
				due = m.PlannedActionAt.UTC().Format(timeLayout)
			}
			rows = append(rows, []string{
				strconv.FormatInt(m.CandidateID, 10),
				strconv.FormatInt(m.FileID, 10),
				due,
				m.Source,
				m.Destination,
			})
		}
		fmt.Fprintf(w, "\n%s (%d)\n%s\n", title, len(rows),
			renderTable([]string{"Candidate", "File", "Planned", "Source", "Destination"}, rows,
				[]columnAlignment{alignRight, alignRight}))
	}
	printQuarantine("Quarantine due", plan.QuarantineDue)
	printQuarantine("Quarantine scheduled", plan.QuarantineFuture)

	if len(plan.LowConfidence) > 0 {
		rows := make([][]string, 0, len(plan.LowConfidence))
		for _, item := range plan.LowConfidence {
			rows = append(rows, []string{
				strconv.FormatInt(item.CandidateID, 10),
				item.ObjectType,
				item.ObjectID,
				string(item.Cause),
				formatIDs(item.MatchedFileIDs),
			})
		}
		fmt.Fprintf(w, "\nLow confidence (%d)\n%s\n", len(rows),
			renderTable([]string{"Candidate", "Type", "Object", "Cause", "Files"}, rows,
				[]columnAlignment{alignRight}))
	}

	if len(plan.ProbeFailures) > 0 {
		rows := make([][]string, 0, len(plan.ProbeFailures))
		for _, f := range plan.ProbeFailures {
			rows = append(rows, []string{strconv.FormatInt(f.FileID, 10), f.Path, f.Error})
		}
		fmt.Fprintf(w, "\nProbe failures (%d)\n%s\n", len(rows),
			renderTable([]string{"File", "Path", "Error"}, rows, []columnAlignment{alignRight}))
	}
	return nil
}

type candidateView struct {
	ID              int64      `json:"id" yaml:"id"`
	ObjectType      string     `json:"object_type" yaml:"object_type"`
	ObjectID        string     `json:"object_id" yaml:"object_id"`
	Label           string     `json:"label,omitempty" yaml:"label,omitempty"`
	Reason          string     `json:"reason" yaml:"reason"`
	Status          string     `json:"status" yaml:"status"`
	FirstSeenAt     time.Time  `json:"first_seen_at" yaml:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at" yaml:"last_seen_at"`
	PlannedActionAt *time.Time `json:"planned_action_at" yaml:"planned_action_at"`
	RestoredAt      *time.Time `json:"restored_at" yaml:"restored_at"`
}

func printCandidates(w io.Writer, format string, candidates []*hsaj.BlockCandidate) error {
	if format != "table" {
		views := make([]candidateView, 0, len(candidates))
		for _, c := range candidates {
			views = append(views, candidateView{
				ID:              c.ID,
				ObjectType:      c.ObjectType,
				ObjectID:        c.ObjectID,
				Label:           c.Label.String,
				Reason:          c.Reason,
				Status:          c.Status.String(),
				FirstSeenAt:     c.FirstSeenAt.UTC(),
				LastSeenAt:      c.LastSeenAt.UTC(),
				PlannedActionAt: timePtr(c.PlannedActionAt),
				RestoredAt:      timePtr(c.RestoredAt),
			})
		}
		return writeStructured(w, format, views)
	}

	if len(candidates) == 0 {
		fmt.Fprintln(w, "No candidates.")
		return nil
	}
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			c.ObjectType,
			c.ObjectID,
			c.Label.String,
			c.Status.String(),
			c.FirstSeenAt.UTC().Format(timeLayout),
			formatTime(c.PlannedActionAt),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Type", "Object", "Label", "Status", "First seen", "Planned"},
		rows, []columnAlignment{alignRight}))
	return nil
}

type actionView struct {
	ID         int64           `json:"id" yaml:"id"`
	Action     string          `json:"action" yaml:"action"`
	TargetPath string          `json:"target_path" yaml:"target_path"`
	Details    json.RawMessage `json:"details" yaml:"-"`
	DetailsMap map[string]any  `json:"-" yaml:"details"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
}

func printActions(w io.Writer, format string, entries []*hsaj.ActionLogEntry) error {
	if format != "table" {
		views := make([]actionView, 0, len(entries))
		for _, e := range entries {
			v := actionView{
				ID:         e.ID,
				Action:     string(e.Action),
				TargetPath: e.TargetPath,
				Details:    json.RawMessage(e.Details),
				CreatedAt:  e.CreatedAt.UTC(),
			}
			if !json.Valid(v.Details) {
				v.Details = json.RawMessage("{}")
			}
			_ = json.Unmarshal(v.Details, &v.DetailsMap)
			views = append(views, v)
		}
		return writeStructured(w, format, views)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No actions recorded.")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(timeLayout),
			string(e.Action),
			e.TargetPath,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "When", "Action", "Target"}, rows, []columnAlignment{alignRight}))
	return nil
}

type operationView struct {
	ID         int64      `json:"id" yaml:"id"`
	Operation  string     `json:"operation" yaml:"operation"`
	Parameters string     `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Status     string     `json:"status" yaml:"status"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at" yaml:"finished_at"`
}

func printOperations(w io.Writer, format string, ops []*hsaj.Operation) error {
	if format != "table" {
		views := make([]operationView, 0, len(ops))
		for _, op := range ops {
			views = append(views, operationView{
				ID:         op.ID,
				Operation:  op.Operation,
				Parameters: op.Parameters,
				Status:     op.Status,
				StartedAt:  op.StartedAt.UTC(),
				FinishedAt: timePtr(op.FinishedAt),
			})
		}
		return writeStructured(w, format, views)
	}

	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations recorded.")
		return nil
	}
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		duration := ""
		if op.FinishedAt.Valid {
			duration = op.FinishedAt.Time.Sub(op.StartedAt).Truncate(time.Millisecond).String()
		}
		rows = append(rows, []string{
			strconv.FormatInt(op.ID, 10),
			op.Operation,
			op.StartedAt.UTC().Format(timeLayout),
			op.Status,
			duration,
			op.Parameters,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Operation", "Started", "Status", "Duration", "Parameters"},
		rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight}))
	return nil
}
