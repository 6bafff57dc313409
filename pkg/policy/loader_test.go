package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const customRego = `# Workflows must have a name starting with the team prefix.
# severity: error
package custom.naming

deny contains msg if {
	not startswith(input.workflow.name, "team-")
	msg := sprintf("workflow %s lacks the team- prefix", [input.workflow.name])
}
`

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoader_LoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "naming.rego", customRego)
	writePolicyFile(t, dir, "nested/limits.json", `{
		"name": "limits",
		"description": "Phase limits",
		"severity": "critical",
		"enabled": true,
		"rego": "package custom.limits\n\ndeny contains \"too many\" if { count(input.workflow.phases) > 20 }\n"
	}`)
	writePolicyFile(t, dir, "README.md", "not a policy")
	writePolicyFile(t, dir, "broken.json", "{")

	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}

	byName := make(map[string]Policy)
	for _, p := range policies {
		byName[p.Name] = p
	}

	naming, ok := byName["naming"]
	if !ok {
		t.Fatal("Expected naming policy")
	}
	if naming.Severity != SeverityError {
		t.Errorf("Expected severity from header, got %s", naming.Severity)
	}
	if naming.Description != "Workflows must have a name starting with the team prefix." {
		t.Errorf("Unexpected description %q", naming.Description)
	}
	if naming.Source != filepath.Join(dir, "naming.rego") || !naming.Enabled {
		t.Errorf("Unexpected policy %+v", naming)
	}

	limits, ok := byName["limits"]
	if !ok || limits.Severity != SeverityCritical {
		t.Errorf("Expected critical limits policy, got %+v", limits)
	}
}

func TestLoader_LoadFromPathsErrors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())
	ctx := context.Background()

	if _, err := loader.LoadFromPaths(ctx, []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path, got nil")
	}

	bad := writePolicyFile(t, dir, "bad.json", `{"name": "bad", "severity": "apocalyptic", "rego": "package bad"}`)
	if _, err := loader.LoadFromPaths(ctx, []string{bad}); err == nil {
		t.Error("Expected error for invalid severity, got nil")
	}

	unnamed := writePolicyFile(t, dir, "unnamed.json", `{"rego": "package x"}`)
	if _, err := loader.LoadFromPaths(ctx, []string{unnamed}); err == nil {
		t.Error("Expected error for unnamed policy, got nil")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		content  string
		wantDesc string
		wantSev  Severity
	}{
		{content: "package x\n", wantSev: SeverityWarning},
		{content: "# one\n#\n# two\npackage x\n# ignored\n", wantDesc: "one two", wantSev: SeverityWarning},
		{content: "# severity: info\npackage x\n", wantSev: SeverityInfo},
		{content: "# severity: extreme\npackage x\n", wantSev: SeverityWarning},
	}

	for _, tt := range tests {
		desc, sev := parseHeader(tt.content)
		if desc != tt.wantDesc || sev != tt.wantSev {
			t.Errorf("parseHeader(%q) = %q, %s; want %q, %s", tt.content, desc, sev, tt.wantDesc, tt.wantSev)
		}
	}
}

func TestEngine_LoadPoliciesAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "naming.rego", customRego)

	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	result, err := eng.Evaluate(ctx, testWorkflow(), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected the naming policy to deny the workflow")
	}

	eng.loader.reloadDelay = 20 * time.Millisecond
	reloaded := make(chan struct{}, 1)
	if err := eng.Watch(ctx, []string{dir}, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer eng.StopWatching()

	relaxed := "# severity: info\npackage custom.naming\n\ndeny contains \"relaxed\" if { false }\n"
	if err := os.WriteFile(path, []byte(relaxed), 0o644); err != nil {
		t.Fatalf("Failed to rewrite policy: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := eng.GetPolicy("naming")
		if err == nil && p.Severity == SeverityInfo {
			result, _ := eng.Evaluate(ctx, testWorkflow(), nil)
			if !result.Allowed {
				t.Fatalf("Expected reloaded policy to allow the workflow, got %+v", result.Violations)
			}
			select {
			case <-reloaded:
			case <-time.After(time.Second):
				t.Fatal("Expected the reload callback to run")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Expected the policy to be reloaded after the file changed")
}
