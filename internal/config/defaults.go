package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Picking: PickingConfig{
			AROrder:       5,
			Step:          1,
			MarginSeconds: 5,
		},
		Detection: DetectionConfig{
			STASeconds:    0.5,
			LTASeconds:    5,
			Threshold:     3,
			MinGapSeconds: 5,
			Refine:        true,
		},
		History: HistoryConfig{
			Capacity: 0,
		},
		Storage: StorageConfig{
			Path:              "~/.config/onset",
			SQLiteFile:        "onset.db",
			SQLiteJournalMode: "wal",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}
