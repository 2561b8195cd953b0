package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultGraceDays                = 30
	DefaultDurationToleranceSeconds = 2
	DefaultBridgeURL                = "http://localhost:8080"
	DefaultBridgeTimeoutSeconds     = 5
	DefaultBridgeRequestsPerSecond  = 5
	DefaultSnapshots                = 5
)

// Config represents the main configuration for hsaj.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	LogLevel string         `toml:"log_level"`
	Database DatabaseConfig `toml:"database"`
	Paths    PathsConfig    `toml:"paths"`
	Blocking BlockingConfig `toml:"blocking"`
	Bridge   BridgeConfig   `toml:"bridge"`
}

// DatabaseConfig represents configuration for the catalog database.
type DatabaseConfig struct {
	Type      string `toml:"type"`               // "sqlite" or "memory"
	DataDir   string `toml:"data_dir,omitempty"` // only used for type=sqlite
	Snapshots int    `toml:"snapshots"`          // catalog copies kept after mutating commands; 0 disables
}

// PathsConfig holds the library layout.
type PathsConfig struct {
	LibraryRoots  []string `toml:"library_roots"`
	QuarantineDir string   `toml:"quarantine_dir"`
	AtmosDir      string   `toml:"atmos_dir"`
	FFprobePath   string   `toml:"ffprobe_path"`
}

// BlockingConfig holds the block lifecycle policy.
type BlockingConfig struct {
	GraceDays                int `toml:"grace_days"`
	DurationToleranceSeconds int `toml:"duration_tolerance_seconds"`
}

// BridgeConfig describes the HTTP bridge to the external player.
type BridgeConfig struct {
	URL               string  `toml:"url"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// NewConfig creates a Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:      "sqlite",
			DataDir:   filepath.Join(baseDir, "db"),
			Snapshots: DefaultSnapshots,
		},
		Paths: PathsConfig{
			LibraryRoots:  []string{},
			QuarantineDir: filepath.Join(baseDir, "quarantine"),
			FFprobePath:   "ffprobe",
		},
		Blocking: BlockingConfig{
			GraceDays:                DefaultGraceDays,
			DurationToleranceSeconds: DefaultDurationToleranceSeconds,
		},
		Bridge: BridgeConfig{
			URL:               DefaultBridgeURL,
			TimeoutSeconds:    DefaultBridgeTimeoutSeconds,
			RequestsPerSecond: DefaultBridgeRequestsPerSecond,
		},
	}
}

// GracePeriod returns the configured grace period.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Blocking.GraceDays) * 24 * time.Hour
}

// BridgeTimeout returns the configured bridge request timeout.
func (c *Config) BridgeTimeout() time.Duration {
	return time.Duration(c.Bridge.TimeoutSeconds) * time.Second
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("database.type must be sqlite or memory, got %q", c.Database.Type)
	}
	if c.Database.Snapshots < 0 {
		return fmt.Errorf("database.snapshots must not be negative")
	}
	if c.Blocking.GraceDays < 0 {
		return fmt.Errorf("blocking.grace_days must not be negative")
	}
	if c.Blocking.DurationToleranceSeconds < 0 {
		return fmt.Errorf("blocking.duration_tolerance_seconds must not be negative")
	}
	if c.Bridge.TimeoutSeconds < 0 {
		return fmt.Errorf("bridge.timeout_seconds must not be negative")
	}
	if err := validateLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// validateLogLevel accepts the same spellings as the --log-level flag.
func validateLogLevel(raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" || strings.EqualFold(value, "warning") {
		return nil
	}
	if _, err := strconv.Atoi(value); err == nil {
		return nil
	}
	var level slog.Level
	return level.UnmarshalText([]byte(value))
}

// ResolvePaths makes every relative path absolute against dir, normally the
// directory holding the config file.
func (c *Config) ResolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	resolve(&c.BaseDir)
	resolve(&c.LogDir)
	resolve(&c.Database.DataDir)
	resolve(&c.Paths.QuarantineDir)
	resolve(&c.Paths.AtmosDir)
	for i := range c.Paths.LibraryRoots {
		resolve(&c.Paths.LibraryRoots[i])
	}
	// A bare program name is looked up on PATH, so only path-like values resolve.
	if filepath.Base(c.Paths.FFprobePath) != c.Paths.FFprobePath {
		resolve(&c.Paths.FFprobePath)
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Unset blocking and bridge
// values take their defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := Config{
		Database: DatabaseConfig{Snapshots: DefaultSnapshots},
		Blocking: BlockingConfig{
			GraceDays:                DefaultGraceDays,
			DurationToleranceSeconds: DefaultDurationToleranceSeconds,
		},
		Bridge: BridgeConfig{
			URL:               DefaultBridgeURL,
			TimeoutSeconds:    DefaultBridgeTimeoutSeconds,
			RequestsPerSecond: DefaultBridgeRequestsPerSecond,
		},
	}
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads, resolves and validates the Config at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	cfg.ResolvePaths(filepath.Dir(abs))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
