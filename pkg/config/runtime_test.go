package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig("")
	if cfg.DataDir != "./data" {
		t.Errorf("Expected ./data, got %s", cfg.DataDir)
	}
	if cfg.Store.Path != filepath.Join("./data", "phasekit.db") {
		t.Errorf("Expected database under the data dir, got %s", cfg.Store.Path)
	}
	if !cfg.Policy.Enabled || cfg.Policy.Mode != "enforcing" {
		t.Errorf("Expected enforcing policy, got %+v", cfg.Policy)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.Metrics.Enabled {
		t.Errorf("Expected telemetry with metrics disabled, got %+v", cfg.Telemetry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestLoadRuntimeConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		content   string
		wantErr   string
		checkFunc func(*testing.T, *RuntimeConfig)
	}{
		{
			name: "relative paths",
			content: `
data_dir: state
policy:
  enabled: true
  mode: advisory
  paths: [policies]
catalog:
  paths: [catalog.yaml]
`,
			checkFunc: func(t *testing.T, cfg *RuntimeConfig) {
				if cfg.DataDir != filepath.Join(dir, "state") {
					t.Errorf("Expected data dir resolved against config dir, got %s", cfg.DataDir)
				}
				if cfg.Store.Path != filepath.Join(dir, "state", "phasekit.db") {
					t.Errorf("Expected store path derived from data dir, got %s", cfg.Store.Path)
				}
				if cfg.Policy.Mode != "advisory" || cfg.Policy.Paths[0] != filepath.Join(dir, "policies") {
					t.Errorf("Expected advisory policy with resolved path, got %+v", cfg.Policy)
				}
				if cfg.Catalog.Paths[0] != filepath.Join(dir, "catalog.yaml") {
					t.Errorf("Expected resolved catalog path, got %v", cfg.Catalog.Paths)
				}
				if cfg.Store.BusyTimeoutMillis != 5000 {
					t.Errorf("Expected default busy timeout, got %d", cfg.Store.BusyTimeoutMillis)
				}
			},
		},
		{
			name: "in-memory store",
			content: `
data_dir: /var/lib/phasekit
store:
  path: ":memory:"
telemetry:
  service_name: phasekit
  service_version: test
  logging:
    level: debug
    format: json
`,
			checkFunc: func(t *testing.T, cfg *RuntimeConfig) {
				if cfg.Store.Path != ":memory:" {
					t.Errorf("Expected :memory:, got %s", cfg.Store.Path)
				}
				if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.Logging.Format != "json" {
					t.Errorf("Expected telemetry logging overrides, got %+v", cfg.Telemetry.Logging)
				}
			},
		},
		{
			name:    "invalid policy mode",
			content: "data_dir: d\npolicy:\n  mode: lenient\n",
			wantErr: "lenient",
		},
		{
			name:    "invalid log level",
			content: "data_dir: d\ntelemetry:\n  logging:\n    level: loud\n",
			wantErr: "telemetry",
		},
		{
			name:    "malformed yaml",
			content: "data_dir: [",
			wantErr: "failed to parse",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "phasekit-"+string(rune('a'+i))+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}

			cfg, err := LoadRuntimeConfig(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			tt.checkFunc(t, cfg)
		})
	}

	if _, err := LoadRuntimeConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestRuntimeConfig_WriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phasekit.yaml")

	cfg := DefaultRuntimeConfig(filepath.Join(dir, "data"))
	cfg.Catalog.Paths = []string{filepath.Join(dir, "catalog.cue")}
	if err := cfg.Write(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# phasekit configuration") {
		t.Errorf("Expected header comment, got %q", string(data[:20]))
	}

	loaded, err := LoadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if loaded.Store.Path != cfg.Store.Path || loaded.Catalog.Paths[0] != cfg.Catalog.Paths[0] {
		t.Errorf("Expected round trip, got %+v", loaded)
	}
	if loaded.Telemetry.ServiceName != cfg.Telemetry.ServiceName {
		t.Errorf("Expected telemetry service name %s, got %s", cfg.Telemetry.ServiceName, loaded.Telemetry.ServiceName)
	}
}
