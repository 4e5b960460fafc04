// Package config resolves run settings from the environment.
//
// Each key is looked up as {prefix}_{KEY} first and falls back to the shared
// QML_{KEY}; an empty prefix reads only the shared vars. A .env file in the
// working directory is loaded before any lookup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/matthewyakubiw/qml-main/internal/lattice"
	"github.com/matthewyakubiw/qml-main/internal/regression"
)

// SharedPrefix is the fallback prefix for every key.
const SharedPrefix = "QML"

// Defaults reproduce the reference dataset: a 2x2 lattice, 100 samples, 500 snapshots each.
const (
	DefaultRows    = 2
	DefaultCols    = 2
	DefaultSamples = 100
	DefaultShots   = 500
	DefaultDelta   = 0.01
)

// Config is the resolved run configuration.
type Config struct {
	Rows      int
	Cols      int
	Samples   int
	Shots     int
	Seed      uint64
	Delta     float64
	Folds     int
	TestFrac  float64
	Workers   int
	Workspace string
}

// Default returns the built-in configuration without reading the environment.
func Default() Config {
	return Config{
		Rows:      DefaultRows,
		Cols:      DefaultCols,
		Samples:   DefaultSamples,
		Shots:     DefaultShots,
		Seed:      lattice.DefaultSeed,
		Delta:     DefaultDelta,
		Folds:     regression.DefaultFolds,
		TestFrac:  regression.DefaultTestFrac,
		Workers:   1,
		Workspace: defaultWorkspace(),
	}
}

// Load resolves a Config for the named profile prefix.
//
// Example: prefix "BIG" resolves the lattice as
//
//	BIG_ROWS → QML_ROWS → 2
//	BIG_COLS → QML_COLS → 2
//
// Expectations:
//   - Uses {prefix}_{KEY} when set and non-empty
//   - Falls back to QML_{KEY}, then to Default(), for any unset key
//   - Returns an error naming the variable when a value does not parse
//   - Empty prefix reads only QML_* vars
func Load(prefix string) (Config, error) {
	_ = godotenv.Load(".env")
	return loadFrom(prefix, os.Getenv)
}

func loadFrom(prefix string, getenv func(string) string) (Config, error) {
	prefix = strings.ToUpper(strings.TrimSuffix(prefix, "_"))
	get := func(key string) (string, string) {
		if prefix != "" && prefix != SharedPrefix {
			name := prefix + "_" + key
			if v := getenv(name); v != "" {
				return v, name
			}
		}
		name := SharedPrefix + "_" + key
		return getenv(name), name
	}

	cfg := Default()
	var firstErr error
	parse := func(key string, set func(string) error) {
		v, name := get(key)
		if v == "" || firstErr != nil {
			return
		}
		if err := set(v); err != nil {
			firstErr = fmt.Errorf("config: %s=%q: %w", name, v, err)
		}
	}
	intVar := func(dst *int) func(string) error {
		return func(s string) error {
			n, err := strconv.Atoi(s)
			*dst = n
			return err
		}
	}
	floatVar := func(dst *float64) func(string) error {
		return func(s string) error {
			f, err := strconv.ParseFloat(s, 64)
			*dst = f
			return err
		}
	}

	parse("ROWS", intVar(&cfg.Rows))
	parse("COLS", intVar(&cfg.Cols))
	parse("SAMPLES", intVar(&cfg.Samples))
	parse("SHOTS", intVar(&cfg.Shots))
	parse("SEED", func(s string) error {
		n, err := strconv.ParseUint(s, 10, 64)
		cfg.Seed = n
		return err
	})
	parse("DELTA", floatVar(&cfg.Delta))
	parse("FOLDS", intVar(&cfg.Folds))
	parse("TEST_FRAC", floatVar(&cfg.TestFrac))
	parse("WORKERS", intVar(&cfg.Workers))
	parse("WORKSPACE", func(s string) error {
		cfg.Workspace = ExpandHome(s)
		return nil
	})
	if firstErr != nil {
		return Config{}, firstErr
	}
	return cfg, nil
}

// Validate rejects configurations no run can satisfy.
//
// Expectations:
//   - Rows and Cols must be at least 1
//   - Shots must be at least 1
//   - Samples must be at least Folds, and Folds at least 2
//   - TestFrac must lie in (0, 1)
func (c Config) Validate() error {
	switch {
	case c.Rows < 1 || c.Cols < 1:
		return fmt.Errorf("config: lattice %dx%d must be at least 1x1", c.Rows, c.Cols)
	case c.Shots < 1:
		return fmt.Errorf("config: shots %d must be positive", c.Shots)
	case c.Folds < 2:
		return fmt.Errorf("config: folds %d must be at least 2", c.Folds)
	case c.Samples < c.Folds:
		return fmt.Errorf("config: %d samples cannot fill %d folds", c.Samples, c.Folds)
	case c.TestFrac <= 0 || c.TestFrac >= 1:
		return fmt.Errorf("config: test fraction %v must be in (0, 1)", c.TestFrac)
	}
	return nil
}

// RunsDir is where per-run JSONL logs are written.
func (c Config) RunsDir() string { return filepath.Join(c.Workspace, "runs") }

// ArchiveDir is the LevelDB shadow archive.
func (c Config) ArchiveDir() string { return filepath.Join(c.Workspace, "archive") }

// ReportPath is the sqlite score store.
func (c Config) ReportPath() string { return filepath.Join(c.Workspace, "report.sqlite3") }

// AuditPath is the auditor's JSONL log.
func (c Config) AuditPath() string { return filepath.Join(c.Workspace, "audit.jsonl") }

// DebugLogPath is the rotating debug log.
func (c Config) DebugLogPath() string { return filepath.Join(c.Workspace, "debug.log") }

// EnsureWorkspace creates the workspace directory if it does not exist.
func (c Config) EnsureWorkspace() error {
	return os.MkdirAll(c.Workspace, 0o755)
}

func defaultWorkspace() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "qml_workspace")
}

// ExpandHome replaces a leading "~/" or a bare "~" with the user's home directory.
// Returns path unchanged if it does not start with "~".
//
// Expectations:
//   - Expands "~/foo" to "<home>/foo"
//   - Expands bare "~" to "<home>"
//   - Returns path unchanged for "/absolute/path"
func ExpandHome(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// EnvInt reads an integer from {SharedPrefix}_{key}, returning def when unset or invalid.
func EnvInt(key string, def int) int {
	if v := os.Getenv(SharedPrefix + "_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// EnvString reads {SharedPrefix}_{key}, returning def when unset.
func EnvString(key, def string) string {
	if v := os.Getenv(SharedPrefix + "_" + key); v != "" {
		return v
	}
	return def
}
