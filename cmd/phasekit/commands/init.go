package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/phasekit/pkg/config"
)

func newInitCommand() *cobra.Command {
	var (
		dataDir string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a phasekit workspace",
		Long: `Initialize a phasekit workspace: write phasekit.yaml, create the data
directory and create the SQLite database with its schema.

Relative paths in phasekit.yaml are resolved against the directory of the
config file.`,
		Example: `  # Initialize in the current directory
  phasekit init

  # Initialize with a custom config path and data directory
  phasekit init --config /etc/phasekit/phasekit.yaml --data-dir /var/lib/phasekit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			path := configPath
			if path == "" {
				path = config.DefaultRuntimeConfigPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			log.Info().
				Str("config", path).
				Str("data_dir", dataDir).
				Msg("Initializing workspace")

			if err := config.DefaultRuntimeConfig(dataDir).Write(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Created config file: %s\n", path)

			// Reload so relative paths resolve against the config directory.
			prev := configPath
			configPath = path
			defer func() { configPath = prev }()

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			if err := os.MkdirAll(env.cfg.DataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", env.cfg.DataDir, err)
			}
			fmt.Fprintf(out, "✓ Created directory: %s\n", env.cfg.DataDir)

			if _, err := env.openStore(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Initialized SQLite database: %s\n", env.cfg.Store.Path)

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  1. Validate a workflow definition:\n")
			fmt.Fprintf(out, "     phasekit validate ./workflow.cue\n\n")
			fmt.Fprintf(out, "  2. Build and save it:\n")
			fmt.Fprintf(out, "     phasekit build --save ./workflow.cue\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "data directory, relative to the config file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
