package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/phasekit/pkg/config"
	"github.com/openfroyo/phasekit/pkg/engine"
	"github.com/openfroyo/phasekit/pkg/policy"
	"github.com/openfroyo/phasekit/pkg/stores"
	"github.com/openfroyo/phasekit/pkg/telemetry"
)

// environment is what the commands share: the runtime configuration, the
// telemetry stack and, once opened, the store.
type environment struct {
	cfg      *config.RuntimeConfig
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	policies *policy.Engine
}

// loadEnvironment reads the runtime configuration. Without --config a missing
// phasekit.yaml falls back to the defaults, so definitions can be validated
// before "phasekit init".
func loadEnvironment() (*environment, error) {
	path := configPath
	if path == "" {
		path = config.DefaultRuntimeConfigPath
	}

	cfg, err := config.LoadRuntimeConfig(path)
	if err != nil {
		if configPath != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Debug().Str("path", path).Msg("No config file, using defaults")
		cfg = config.DefaultRuntimeConfig("")
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	events := tel.Logger.NewComponentLogger("events").Zerolog()
	tel.Events.Subscribe(func(e telemetry.Event) {
		events.Debug().
			Str("type", e.Type).
			Str("execution_id", e.ExecutionID).
			Str("workflow_id", e.WorkflowID).
			Str("level", e.Level).
			Msg(e.Message)
	}, nil)

	return &environment{cfg: cfg, tel: tel}, nil
}

func (e *environment) logger(component string) zerolog.Logger {
	return e.tel.Logger.NewComponentLogger(component).Zerolog()
}

// openStore opens and migrates the store on first use.
func (e *environment) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if e.store != nil {
		return e.store, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:              e.cfg.Store.Path,
		BusyTimeoutMillis: e.cfg.Store.BusyTimeoutMillis,
	}, stores.WithLogger(e.logger("store")), stores.WithTelemetry(e.tel))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	e.store = store
	return store, nil
}

// build generates the workflow of a definition against the configured catalogs.
func (e *environment) build(ctx context.Context, def *config.WorkflowDefinition) (*engine.OrchestrationWorkflow, error) {
	catalog, err := config.LoadCatalog(e.cfg.Catalog.Paths...)
	if err != nil {
		return nil, err
	}
	b := config.NewBuilder(catalog, nil,
		config.WithLogger(e.logger("builder")),
		config.WithTelemetry(e.tel),
	)
	return b.Build(ctx, def)
}

// checkPolicy runs the policy gate. It returns a nil result when policies
// are disabled.
func (e *environment) checkPolicy(ctx context.Context, wf *engine.OrchestrationWorkflow, operation, environmentName string) (*policy.Result, error) {
	if !e.cfg.Policy.Enabled {
		return nil, nil
	}

	eng, err := e.policyEngine(ctx)
	if err != nil {
		return nil, err
	}

	logger := e.logger("policy")
	gate, err := policy.NewGate(eng, policy.Mode(e.cfg.Policy.Mode),
		policy.WithGateLogger(logger),
		policy.WithGateTelemetry(e.tel),
	)
	if err != nil {
		return nil, err
	}
	return gate.Check(ctx, wf, &policy.EvalContext{
		Environment: environmentName,
		Operation:   operation,
		User:        os.Getenv("USER"),
		Timestamp:   time.Now().UTC(),
	})
}

// policyEngine loads the built-in and configured policies on first use.
func (e *environment) policyEngine(ctx context.Context) (*policy.Engine, error) {
	if e.policies != nil {
		return e.policies, nil
	}

	eng, err := policy.NewEngine(e.logger("policy"))
	if err != nil {
		return nil, err
	}
	if len(e.cfg.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, e.cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	e.policies = eng
	return eng, nil
}

func (e *environment) close(ctx context.Context) {
	if e.policies != nil {
		if err := e.policies.StopWatching(); err != nil {
			log.Debug().Err(err).Msg("Failed to stop policy watcher")
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if err := e.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if err := e.tel.Metrics.WriteTextfile(); err != nil {
		log.Warn().Err(err).Msg("Failed to write metrics")
	}
}

// loadDefinition parses a definition and prints its warnings.
func loadDefinition(ctx context.Context, w io.Writer, path string) (*config.WorkflowDefinition, error) {
	parsed, err := config.ParseDefinition(ctx, path)
	if err != nil {
		return nil, err
	}
	for _, ve := range parsed.Errors {
		if ve.Severity != "error" {
			fmt.Fprintf(w, "%s: %s\n", ve.Severity, ve.String())
		}
	}
	if parsed.Definition == nil {
		return nil, &config.DefinitionError{Errors: parsed.Errors}
	}
	return parsed.Definition, nil
}

func printViolations(w io.Writer, result *policy.Result) {
	if result == nil {
		return
	}
	for _, v := range result.All() {
		if v.Resource != "" {
			fmt.Fprintf(w, "[%s] %s (%s): %s\n", v.Severity, v.Policy, v.Resource, v.Message)
		} else {
			fmt.Fprintf(w, "[%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		}
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(w, "[error] policy evaluation: %s\n", msg)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
