package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hsaj-go/internal/app"
	"hsaj-go/internal/config"
	"hsaj-go/internal/hsaj"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var logLevelFlag string

// loadConfig reads the config file named by the environment or the default location.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an HsajApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Apply").
func newApp(operation string, parameters ...string) (*app.HsajApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level, warning, err := app.ResolveLogLevel(logLevelFlag, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}

	a, err := app.NewHsajApp(cfg, app.NewOperation(operation, parameters...), level)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "hsaj",
	Short:        "Quarantine blocked tracks from a local audio library",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Set paths.library_roots, then run `hsaj db migrate`.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Log Level:       %s\n", cfg.LogLevel)
		fmt.Printf("Database:        %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Library Roots:   %s\n", strings.Join(cfg.Paths.LibraryRoots, ", "))
		fmt.Printf("Quarantine Dir:  %s\n", cfg.Paths.QuarantineDir)
		fmt.Printf("Atmos Dir:       %s\n", cfg.Paths.AtmosDir)
		fmt.Printf("Grace Days:      %d\n", cfg.Blocking.GraceDays)
		fmt.Printf("Tolerance (s):   %d\n", cfg.Blocking.DurationToleranceSeconds)
		fmt.Printf("Bridge:          %s\n", cfg.Bridge.URL)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalog database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.MigrateDatabase(cfg)
		if err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Printf("Catalog schema at version %d\n", st.Version)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the catalog schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.DatabaseStatus(cfg)
		if err != nil {
			return err
		}
		state := "current"
		switch {
		case st.Dirty:
			state = "dirty"
		case st.Version < st.Latest:
			state = "pending migrations"
		case st.Version > st.Latest:
			state = "newer than this binary"
		}
		fmt.Printf("Version: %d\nLatest:  %d\nState:   %s\n", st.Version, st.Latest, state)
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the catalog schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		schema, err := app.DatabaseSchema(cfg)
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a consistent copy of the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Backup", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Backup(args[0]); err != nil {
			return err
		}
		fmt.Printf("Catalog backed up to %s\n", args[0])
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage catalog records",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register a file in the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := catalogFileFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		a, err := newApp("CatalogAdd", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		created, err := a.AddCatalogFile(file)
		if err != nil {
			return err
		}
		verb := "Updated"
		if created {
			verb = "Added"
		}
		fmt.Printf("%s %s (id %d)\n", verb, file.Path, file.ID)
		return nil
	},
}

// catalogFileFromFlags stats path and combines it with the metadata flags.
func catalogFileFromFlags(cmd *cobra.Command, path string) (*hsaj.CatalogFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", abs)
	}

	file := &hsaj.CatalogFile{
		Path:       abs,
		SizeBytes:  sql.NullInt64{Int64: info.Size(), Valid: true},
		ModifiedAt: sql.NullTime{Time: info.ModTime().UTC(), Valid: true},
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), "."); ext != "" {
		file.Format = sql.NullString{String: ext, Valid: true}
	}

	text := func(name string) sql.NullString {
		v, _ := cmd.Flags().GetString(name)
		v = strings.TrimSpace(v)
		return sql.NullString{String: v, Valid: v != ""}
	}
	number := func(name string) sql.NullInt64 {
		if !cmd.Flags().Changed(name) {
			return sql.NullInt64{}
		}
		v, _ := cmd.Flags().GetInt64(name)
		return sql.NullInt64{Int64: v, Valid: true}
	}

	file.Artist = text("artist")
	file.Album = text("album")
	file.Title = text("title")
	file.TrackNumber = number("track")
	file.Year = number("year")
	file.DurationSeconds = number("duration")
	return file, nil
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the blocked-objects feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromFile, _ := cmd.Flags().GetString("from-file")
		graceDays, _ := cmd.Flags().GetInt("grace-days")
		if !cmd.Flags().Changed("grace-days") {
			graceDays = -1
		} else if graceDays < 0 {
			return fmt.Errorf("--grace-days must not be negative")
		}

		params := []string{}
		if fromFile != "" {
			params = append(params, "--from-file", fromFile)
		}
		if graceDays >= 0 {
			params = append(params, "--grace-days", strconv.Itoa(graceDays))
		}

		a, err := newApp("Sync", params...)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Sync(cmd.Context(), fromFile, graceDays)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Observations: %d created, %d updated\n", result.RawCreated, result.RawUpdated)
		fmt.Printf("Candidates:   %d created, %d reopened, %d restored\n",
			result.CandidatesCreated, result.CandidatesReopened, result.CandidatesRestored)
		return nil
	},
}

// plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what apply would do",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}

		a, err := newApp("Plan")
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.Plan()
		if err != nil {
			return err
		}
		return printPlan(os.Stdout, format, plan)
	},
}

// apply command
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Execute relocations and due quarantine moves",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var params []string
		if dryRun {
			params = append(params, "--dry-run")
		}
		a, err := newApp("Apply", params...)
		if err != nil {
			return err
		}
		defer a.Close()

		plan, result, err := a.Apply(dryRun)
		if err != nil {
			return fmt.Errorf("apply failed: %w", err)
		}

		if dryRun {
			fmt.Printf("Dry run: %d relocation(s), %d quarantine move(s) due, %d scheduled, %d low confidence\n",
				len(plan.Relocations), len(plan.QuarantineDue), len(plan.QuarantineFuture), len(plan.LowConfidence))
			return nil
		}

		for _, m := range result.Relocated {
			fmt.Printf("relocated   %s -> %s\n", m.Source, m.Destination)
		}
		for _, m := range result.Quarantined {
			fmt.Printf("quarantined %s -> %s\n", m.Source, m.Destination)
		}
		for _, s := range result.Skipped {
			fmt.Printf("skipped     %s (%s)\n", s.Source, s.Reason)
		}
		for _, f := range result.Failed {
			fmt.Fprintf(os.Stderr, "failed      %s: %v\n", f.Source, f.Err)
		}
		fmt.Printf("Moved %d file(s), skipped %d\n", result.Moves(), len(result.Skipped))

		if len(result.Failed) > 0 {
			return fmt.Errorf("%d item(s) failed", len(result.Failed))
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore TARGET",
	Short: "Move a quarantined file back (TARGET is a file id or its quarantined path)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Restore", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Restore(args[0])
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		switch result.Status {
		case hsaj.RestoreOK:
			fmt.Printf("Restored %s -> %s\n", result.QuarantinePath, result.OriginalPath)
			return nil
		case hsaj.RestoreConflict:
			return fmt.Errorf("original path %s is occupied; move it away and retry", result.OriginalPath)
		case hsaj.RestoreSourceMissing:
			return fmt.Errorf("quarantined copy %s is missing", result.QuarantinePath)
		default:
			return fmt.Errorf("no quarantine record for %s", args[0])
		}
	},
}

// candidates command
var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List block candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}

		a, err := newApp("Candidates")
		if err != nil {
			return err
		}
		defer a.Close()

		candidates, err := a.Candidates(mustString(cmd, "status"))
		if err != nil {
			return err
		}
		return printCandidates(os.Stdout, format, candidates)
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the action log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		format, err := resolveFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}

		a, err := newApp("Log")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Actions(limit)
		if err != nil {
			return err
		}
		return printActions(os.Stdout, format, entries)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		format, err := resolveFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		return printOperations(os.Stdout, format, ops)
	},
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides "+app.LogLevelEnvKey)

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbSchemaCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// catalog subcommands
	catalogCmd.AddCommand(catalogAddCmd)
	catalogAddCmd.Flags().String("artist", "", "Artist tag")
	catalogAddCmd.Flags().String("album", "", "Album tag")
	catalogAddCmd.Flags().String("title", "", "Title tag")
	catalogAddCmd.Flags().Int64("track", 0, "Track number")
	catalogAddCmd.Flags().Int64("year", 0, "Release year")
	catalogAddCmd.Flags().Int64("duration", 0, "Duration in seconds")

	syncCmd.Flags().String("from-file", "", "Read the feed from a JSON or YAML file instead of the bridge")
	syncCmd.Flags().Int("grace-days", config.DefaultGraceDays, "Grace period in days for newly blocked objects")

	planCmd.Flags().StringP("format", "f", "", "Output format: table, json or yaml")
	applyCmd.Flags().Bool("dry-run", false, "Record the plan without moving anything")

	candidatesCmd.Flags().String("status", "", "Filter by status (planned, quarantined, restored)")
	candidatesCmd.Flags().StringP("format", "f", "", "Output format: table, json or yaml")
	logCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	logCmd.Flags().StringP("format", "f", "", "Output format: table, json or yaml")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	historyCmd.Flags().StringP("format", "f", "", "Output format: table, json or yaml")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(historyCmd)
}
