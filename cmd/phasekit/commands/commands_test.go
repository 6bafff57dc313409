package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/phasekit/pkg/engine"
	"github.com/openfroyo/phasekit/pkg/policy"
)

const testCatalog = `
services:
  - id: svc-api
    artifactType: DOCKER
    deploymentType: KUBERNETES
infrastructure:
  - id: infra-eks
    type: DIRECT_KUBERNETES
    computeProviderId: k8s
`

const testDefinition = `
workflow:
  name: api-basic
  topology: BASIC
  phases:
    - service: svc-api
      infra: infra-eks
      failureStrategies:
        - repairActionCode: ROLLBACK_PHASE
          failureTypes: [VERIFICATION_FAILURE]
`

const testConfig = `
data_dir: data
store:
  path: data/phasekit.db
policy:
  enabled: true
  mode: enforcing
catalog:
  paths: [catalog.yaml]
telemetry:
  service_name: phasekit
  logging:
    level: error
    format: json
    output: stderr
  metrics:
    enabled: false
  events:
    enabled: true
    buffer_size: 16
`

// run executes the CLI with args and returns its stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	zerolog.SetGlobalLevel(zerolog.Disabled)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var out, errOut bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupWorkspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	for name, content := range map[string]string{
		"phasekit.yaml": testConfig,
		"catalog.yaml":  testCatalog,
		"workflow.yaml": testDefinition,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o700); err != nil {
		t.Fatalf("Failed to create data dir: %v", err)
	}
	return dir, filepath.Join(dir, "phasekit.yaml")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "phasekit.yaml")

	out, err := run(t, "", "init", "--config", cfgPath)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(out, "Initialized SQLite database") {
		t.Errorf("Unexpected output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "phasekit.db")); err != nil {
		t.Errorf("Expected database next to the config, got %v", err)
	}

	if _, err := run(t, "", "init", "--config", cfgPath); err == nil {
		t.Error("Expected error when the config already exists, got nil")
	}
	if _, err := run(t, "", "init", "--config", cfgPath, "--force"); err != nil {
		t.Errorf("Expected --force to overwrite, got: %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	dir, cfgPath := setupWorkspace(t)
	def := filepath.Join(dir, "workflow.yaml")

	out, err := run(t, "", "validate", "--config", cfgPath, def)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(out, "is valid: 1 phase(s), 1 rollback phase(s)") {
		t.Errorf("Unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "[warning] failure-notifications") {
		t.Errorf("Expected the notification warning, got:\n%s", out)
	}

	out, err = run(t, "", "validate", "--config", cfgPath, "--environment", "production", def)
	if !policy.IsPolicyDenied(err) {
		t.Fatalf("Expected policy denial in production, got %v", err)
	}
	if !strings.Contains(out, "[error] production-strategy") {
		t.Errorf("Expected the production violation, got:\n%s", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("workflow:\n  name: x\n  topology: BASIC\n"), 0o644); err != nil {
		t.Fatalf("Failed to write definition: %v", err)
	}
	if _, err := run(t, "", "validate", "--config", cfgPath, bad); err == nil {
		t.Error("Expected error for a definition without phases, got nil")
	}
}

const namingPolicy = `# severity: error
package custom.naming

deny contains msg if {
	not startswith(input.workflow.name, "team-")
	msg := sprintf("workflow %s lacks the team- prefix", [input.workflow.name])
}
`

const relaxedPolicy = `# severity: info
package custom.naming

deny contains "relaxed" if { false }
`

// lockedBuffer is written by the command goroutine and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestValidateCommand_Watch(t *testing.T) {
	dir, cfgPath := setupWorkspace(t)
	def := filepath.Join(dir, "workflow.yaml")

	if _, err := run(t, "", "validate", "--config", cfgPath, "--watch", def); err == nil {
		t.Fatal("Expected error for --watch without policy paths, got nil")
	}

	cfg := strings.Replace(testConfig, "  mode: enforcing\n", "  mode: enforcing\n  paths: [policies]\n", 1)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	policyDir := filepath.Join(dir, "policies")
	if err := os.MkdirAll(policyDir, 0o755); err != nil {
		t.Fatalf("Failed to create policy dir: %v", err)
	}
	policyPath := filepath.Join(policyDir, "naming.rego")
	if err := os.WriteFile(policyPath, []byte(namingPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	zerolog.SetGlobalLevel(zerolog.Disabled)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var out lockedBuffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs([]string{"validate", "--config", cfgPath, "--watch", def})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	waitFor := func(want string) {
		t.Helper()
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if strings.Contains(out.String(), want) {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("Expected output to contain %q, got:\n%s", want, out.String())
	}

	waitFor("lacks the team- prefix")
	if err := os.WriteFile(policyPath, []byte(relaxedPolicy), 0o644); err != nil {
		t.Fatalf("Failed to rewrite policy: %v", err)
	}
	waitFor("Policies changed, revalidating")
	waitFor("is valid: 1 phase(s), 1 rollback phase(s)")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Expected no error after cancellation, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected --watch to stop when the context is cancelled")
	}
}

func TestBuildGraphAndAdvise(t *testing.T) {
	dir, cfgPath := setupWorkspace(t)
	def := filepath.Join(dir, "workflow.yaml")

	out, err := run(t, "", "build", "--config", cfgPath, "--save", def)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	wf := &engine.OrchestrationWorkflow{}
	if err := json.Unmarshal([]byte(out), wf); err != nil {
		t.Fatalf("Expected workflow JSON, got %v:\n%s", err, out)
	}
	if len(wf.Phases) != 1 || len(wf.Phases[0].PhaseSteps) == 0 {
		t.Fatalf("Unexpected workflow %+v", wf)
	}

	out, err = run(t, "", "graph", "--config", cfgPath, "--workflow", wf.ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.HasPrefix(out, "digraph") {
		t.Errorf("Expected DOT output, got:\n%s", out)
	}
	if _, err := run(t, "", "graph", "--config", cfgPath); err == nil {
		t.Error("Expected error without a definition or --workflow, got nil")
	}

	phase := wf.Phases[0]
	stepEvent := `{"executionId":"exec-1","stateId":"` + phase.PhaseSteps[0].ID +
		`","stateType":"PHASE_STEP","status":"FAILED","failureTypes":["VERIFICATION_FAILURE"]}`

	out, err = run(t, stepEvent, "advise", "--config", cfgPath, "--workflow", wf.ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	adv := &engine.ExecutionEventAdvice{}
	if err := json.Unmarshal([]byte(out), adv); err != nil {
		t.Fatalf("Expected advice JSON, got %v:\n%s", err, out)
	}
	if adv.InterruptType != engine.InterruptRollback || adv.NextStateName != wf.RollbackByForwardPhaseID[phase.ID].Name {
		t.Errorf("Expected rollback of %s, got %+v", phase.Name, adv)
	}

	if _, err := run(t, "", "interrupt", "add", "--config", cfgPath, "exec-1", "abort_all"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	out, err = run(t, stepEvent, "advise", "--config", cfgPath, "--workflow", wf.ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(out, `"END_EXECUTION"`) {
		t.Errorf("Expected END_EXECUTION with ABORT_ALL pending, got:\n%s", out)
	}

	out, err = run(t, "", "interrupt", "clear", "--config", cfgPath, "exec-1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 interrupt(s)") {
		t.Errorf("Unexpected output:\n%s", out)
	}

	if _, err := run(t, "", "advise", "--config", cfgPath, "--workflow", "missing", "--event", "-"); err == nil {
		t.Error("Expected error for an empty event, got nil")
	}
	if _, err := run(t, stepEvent, "advise", "--config", cfgPath, "--workflow", "missing"); engine.ErrorCode(err) != engine.ErrCodeNotFound {
		t.Errorf("Expected NOT_FOUND for an unknown workflow, got %v", err)
	}
}

func TestAttemptCommands(t *testing.T) {
	_, cfgPath := setupWorkspace(t)

	for i := 1; i <= 2; i++ {
		out, err := run(t, "", "attempt", "record", "--config", cfgPath, "exec-1", "step-1", "--message", "timeout")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !strings.Contains(out, "Recorded attempt "+string(rune('0'+i))+" of step-1 (FAILED)") {
			t.Errorf("Unexpected output:\n%s", out)
		}
	}

	out, err := run(t, "", "attempt", "list", "--config", cfgPath, "exec-1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	var attempts []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &attempts); err != nil || len(attempts) != 2 {
		t.Errorf("Expected 2 attempts, got %v:\n%s", err, out)
	}

	if _, err := run(t, "", "attempt", "record", "--config", cfgPath, "exec-1", "step-1", "--status", "bogus"); err == nil {
		t.Error("Expected error for an invalid status, got nil")
	}
	if _, err := run(t, "", "interrupt", "add", "--config", cfgPath, "exec-1", "shrug"); err == nil {
		t.Error("Expected error for an invalid interrupt, got nil")
	}
}
