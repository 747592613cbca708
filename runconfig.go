package streamreplay

//
// Runtime config: the operator-facing YAML settings file distinct from
// the JSON trace manifest (conf.go) — log level, metrics bind address,
// telemetry archive directory, console progress bar. Grounded on
// n-backup's config.LoadAgentConfig (os.ReadFile + yaml.Unmarshal). See
// SPEC_FULL.md §0/§1.
//

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the top-level shape of the YAML runtime config file.
type RuntimeConfig struct {
	LogLevel    string `yaml:"log_level"`    // apex/log level name, default "info"
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the /metrics server
	ArchiveDir  string `yaml:"archive_dir"`  // directory for gzip telemetry logs, empty disables
	ProgressBar bool   `yaml:"progress_bar"` // parsed but not read; cmd/tx always draws the bar
	LogInterval float64 `yaml:"log_interval_seconds"` // console reporter gate, default 5
}

// defaultRuntimeConfig matches the zero-config behavior: info logging, no
// metrics server, no telemetry archive, a 5s console log interval.
func defaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{LogLevel: "info", LogInterval: 5}
}

// LoadRuntimeConfig reads and parses path, applying defaultRuntimeConfig
// for any zero-valued field encoding/json-style defaulting would miss.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	cfg := defaultRuntimeConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("streamreplay: reading runtime config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("streamreplay: parsing runtime config %q: %w", path, err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 5
	}
	return &cfg, nil
}
