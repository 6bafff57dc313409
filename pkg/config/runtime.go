package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/phasekit/pkg/telemetry"
)

// DefaultRuntimeConfigPath is where the CLI looks for its configuration.
const DefaultRuntimeConfigPath = "./phasekit.yaml"

// RuntimeConfig is the phasekit.yaml configuration of the CLI.
type RuntimeConfig struct {
	// DataDir holds the database and other local state.
	DataDir string `yaml:"data_dir" validate:"required"`

	Store   StoreConfig   `yaml:"store"`
	Policy  PolicyConfig  `yaml:"policy"`
	Catalog CatalogConfig `yaml:"catalog"`

	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file, or ":memory:".
	Path string `yaml:"path" validate:"required"`

	// BusyTimeoutMillis is the SQLite busy timeout.
	BusyTimeoutMillis int `yaml:"busy_timeout_ms" validate:"gte=0"`
}

// PolicyConfig configures the policy gate over generated workflows.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths lists Rego files or directories loaded next to the built-in policies.
	Paths []string `yaml:"paths,omitempty"`

	// Mode is advisory (report only) or enforcing (reject on violation).
	Mode string `yaml:"mode" validate:"omitempty,oneof=advisory enforcing"`
}

// CatalogConfig lists the service and infrastructure catalogs.
type CatalogConfig struct {
	Paths []string `yaml:"paths,omitempty"`
}

// DefaultRuntimeConfig returns the configuration written by "phasekit init".
func DefaultRuntimeConfig(dataDir string) *RuntimeConfig {
	if dataDir == "" {
		dataDir = "./data"
	}
	tel := telemetry.DefaultConfig()
	tel.Metrics.Enabled = false
	return &RuntimeConfig{
		DataDir: dataDir,
		Store: StoreConfig{
			Path:              filepath.Join(dataDir, "phasekit.db"),
			BusyTimeoutMillis: 5000,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Mode:    "enforcing",
		},
		Telemetry: tel,
	}
}

// LoadRuntimeConfig reads phasekit.yaml. Missing fields take their defaults.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultRuntimeConfig("")
	cfg.Store.Path = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "phasekit.db")
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}

	// Relative paths are resolved against the config file's directory.
	base := filepath.Dir(path)
	cfg.DataDir = resolvePath(base, cfg.DataDir)
	if cfg.Store.Path != ":memory:" {
		cfg.Store.Path = resolvePath(base, cfg.Store.Path)
	}
	for i, p := range cfg.Policy.Paths {
		cfg.Policy.Paths[i] = resolvePath(base, p)
	}
	for i, p := range cfg.Catalog.Paths {
		cfg.Catalog.Paths[i] = resolvePath(base, p)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *RuntimeConfig) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var msgs []string
		for _, ve := range convertValidatorErrors(err) {
			msgs = append(msgs, ve.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

// Write saves the configuration as YAML.
func (c *RuntimeConfig) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte("# phasekit configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
