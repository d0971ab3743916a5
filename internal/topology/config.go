package topology

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rootline-io/rootline/internal/config"
)

// SnapshotConfig is the on-disk topology file: the snapshot itself plus the
// label keys the correlation engine treats as relatedness signals.
type SnapshotConfig struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	CorrelatingLabels []string `yaml:"correlating_labels"`

	Components   []Component  `yaml:"components"`
	Dependencies []Dependency `yaml:"dependencies"`
}

// DefaultSnapshotPath is the default location for the topology file.
const DefaultSnapshotPath = "topology.yaml"

// SnapshotPathEnvVar is the environment variable name for a custom topology path.
const SnapshotPathEnvVar = "ROOTLINE_TOPOLOGY_PATH"

// LoadSnapshotConfig loads the topology from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - topology is optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// With an empty topology the engine still correlates on time and labels;
// only topological correlation and dependency-aware scoring are lost.
func LoadSnapshotConfig(path string) (*SnapshotConfig, error) {
	cfg := &SnapshotConfig{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - topology is optional
			slog.Debug("Topology file not found, continuing without topology",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read topology file, continuing without topology",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no topology
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse topology file, continuing without topology",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &SnapshotConfig{}, nil
	}

	return cfg, nil
}

// LoadSnapshotConfigFromEnv loads the topology from the path specified in
// ROOTLINE_TOPOLOGY_PATH. Falls back to "topology.yaml" in the current
// directory if not set.
func LoadSnapshotConfigFromEnv() (*SnapshotConfig, error) {
	path := config.GetEnvStr(SnapshotPathEnvVar, DefaultSnapshotPath)

	return LoadSnapshotConfig(path)
}

// Snapshot extracts the replaceable topology portion of the config.
func (c *SnapshotConfig) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	return Snapshot{Components: c.Components, Dependencies: c.Dependencies}
}
