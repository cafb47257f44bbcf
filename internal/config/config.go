package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/onset/config.yaml"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all onset configuration.
type Config struct {
	Picking   PickingConfig   `yaml:"picking"`
	Detection DetectionConfig `yaml:"detection"`
	History   HistoryConfig   `yaml:"history"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// PickingConfig tunes the AR-AIC refinement.
type PickingConfig struct {
	AROrder       int     `yaml:"ar_order"`
	Step          int     `yaml:"step"`
	MarginSeconds float64 `yaml:"margin_seconds"`
}

// DetectionConfig tunes the STA/LTA detector.
type DetectionConfig struct {
	STASeconds    float64 `yaml:"sta_seconds"`
	LTASeconds    float64 `yaml:"lta_seconds"`
	Threshold     float64 `yaml:"threshold"`
	MinGapSeconds float64 `yaml:"min_gap_seconds"`
	Refine        bool    `yaml:"refine"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that the estimator and detector would otherwise
// reject at run time.
func (c *Config) Validate() error {
	var problems []string
	if c.Picking.AROrder < 1 {
		problems = append(problems, "picking.ar_order must be >= 1")
	}
	if c.Picking.Step < 1 {
		problems = append(problems, "picking.step must be >= 1")
	}
	if c.Picking.MarginSeconds <= 0 {
		problems = append(problems, "picking.margin_seconds must be > 0")
	}
	if c.Detection.STASeconds <= 0 || c.Detection.LTASeconds <= c.Detection.STASeconds {
		problems = append(problems, "detection requires 0 < sta_seconds < lta_seconds")
	}
	if c.Detection.Threshold <= 0 {
		problems = append(problems, "detection.threshold must be > 0")
	}
	if c.Detection.MinGapSeconds < 0 {
		problems = append(problems, "detection.min_gap_seconds must be >= 0")
	}
	if c.History.Capacity < 0 {
		problems = append(problems, "history.capacity must be >= 0")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// DBPath returns the expanded path of the SQLite database.
func (c *Config) DBPath() (string, error) {
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
