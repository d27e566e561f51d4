package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	infraconfig "github.com/felixgeelhaar/asynctrain/infrastructure/config"
)

type validateOptions struct {
	configPath string
	strict     bool
	print      bool
}

func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a configuration file",
		Long: `Validate a training configuration file.

This command checks:
  - File format (YAML or JSON)
  - Run settings (processes, steps, outdir)
  - Environment, agent, storage and telemetry sections
  - Environment variable references (in strict mode)

Examples:
  asynctrain validate train.yaml
  asynctrain validate -c train.yaml --strict
  asynctrain validate train.yaml --print`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.configPath = args[0]
			}
			return a.validateConfig(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail on missing environment variables")
	cmd.Flags().BoolVar(&opts.print, "print", false, "Print the effective configuration as YAML")

	return cmd
}

func (a *App) validateConfig(opts *validateOptions) error {
	if opts.configPath == "" {
		return fmt.Errorf("configuration file path is required")
	}

	cfg, err := loadConfig(opts.configPath, opts.strict)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := newAgent(cfg, nil); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := newEnvFactory(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(a.stdout, "✓ Configuration is valid\n")
	fmt.Fprintf(a.stdout, "  Name: %s\n", cfg.Name)
	fmt.Fprintf(a.stdout, "  Processes: %d\n", cfg.Processes)
	fmt.Fprintf(a.stdout, "  Steps: %d\n", cfg.Steps)
	fmt.Fprintf(a.stdout, "  Outdir: %s\n", cfg.Outdir)
	fmt.Fprintf(a.stdout, "  Environment: %s (length %d)\n", cfg.Environment.Kind, cfg.Environment.Length)
	fmt.Fprintf(a.stdout, "  Agent: %s\n", cfg.Agent.Kind)
	if cfg.Evaluation.Enabled {
		fmt.Fprintf(a.stdout, "  Evaluation: every %d steps, %d episodes\n", cfg.Evaluation.Interval, cfg.Evaluation.Episodes)
	}
	fmt.Fprintf(a.stdout, "  Storage: events=%s runs=%s\n", cfg.Storage.Events.Backend, cfg.Storage.Runs.Backend)

	if opts.print {
		data, err := infraconfig.Marshal(cfg, infraconfig.FormatYAML)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "\n%s", data)
	}
	return nil
}
