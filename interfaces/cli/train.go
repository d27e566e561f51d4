package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/asynctrain/application"
	domainconfig "github.com/felixgeelhaar/asynctrain/domain/config"
	"github.com/felixgeelhaar/asynctrain/domain/training"
	infraconfig "github.com/felixgeelhaar/asynctrain/infrastructure/config"
	"github.com/felixgeelhaar/asynctrain/infrastructure/logging"
)

type trainOptions struct {
	configPath    string
	strict        bool
	processes     int
	steps         int64
	outdir        string
	maxEpisodeLen int
	loadFrom      string
	logInterval   int64
	jsonOutput    bool
}

func (a *App) newTrainCmd() *cobra.Command {
	opts := &trainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the agent with concurrent workers",
		Long: `Train the configured agent with N concurrent workers until the global step
budget is spent. The agent is saved to <outdir>/<steps>_finish on a clean run,
or to <outdir>/<step>_except when a worker fails.

Interrupting the command (Ctrl-C) stops the workers at their next step; the
agent is still saved. Creating the configured stop file in the output
directory has the same effect.

Examples:
  # Train with the built-in defaults
  asynctrain train --steps 5000

  # Train from a config file with overrides
  asynctrain train -c train.yaml --processes 8 --outdir /tmp/run1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.train(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail on missing environment variables")
	cmd.Flags().IntVarP(&opts.processes, "processes", "p", 0, "Number of workers (overrides config)")
	cmd.Flags().Int64Var(&opts.steps, "steps", 0, "Global step budget (overrides config)")
	cmd.Flags().StringVarP(&opts.outdir, "outdir", "o", "", "Checkpoint directory (overrides config)")
	cmd.Flags().IntVar(&opts.maxEpisodeLen, "max-episode-len", 0, "Force a reset after N steps (overrides config)")
	cmd.Flags().StringVar(&opts.loadFrom, "load", "", "Restore the agent from a checkpoint directory")
	cmd.Flags().Int64Var(&opts.logInterval, "log-interval", 0, "Log progress every N global steps")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result as JSON")

	return cmd
}

func (o *trainOptions) apply(cmd *cobra.Command, cfg *domainconfig.TrainingConfig) {
	flags := cmd.Flags()
	if flags.Changed("processes") {
		cfg.Processes = o.processes
	}
	if flags.Changed("steps") {
		cfg.Steps = o.steps
	}
	if flags.Changed("outdir") {
		cfg.Outdir = o.outdir
	}
	if flags.Changed("max-episode-len") {
		cfg.MaxEpisodeLen = o.maxEpisodeLen
	}
	if flags.Changed("load") {
		cfg.LoadFrom = o.loadFrom
	}
}

type trainSummary struct {
	Status      training.Status    `json:"status"`
	GlobalSteps int64              `json:"global_steps"`
	Episodes    int64              `json:"episodes"`
	Records     int                `json:"records"`
	Checkpoint  string             `json:"checkpoint,omitempty"`
	Duration    string             `json:"duration"`
	Final       map[string]float64 `json:"final_stats,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func (a *App) train(ctx context.Context, cmd *cobra.Command, opts *trainOptions) error {
	cfg, err := loadConfig(opts.configPath, opts.strict)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	opts.apply(cmd, cfg)

	builder := infraconfig.NewBuilder(cfg)
	logging.Init(builder.LoggingConfig())

	rt, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logging.Warn().Add(logging.ErrorField(err)).Msg("runtime close failed")
		}
	}()

	agent, err := newAgent(cfg, rt.Checkpoints)
	if err != nil {
		return err
	}
	if cfg.LoadFrom != "" {
		if err := agent.Load(cfg.LoadFrom); err != nil {
			return fmt.Errorf("failed to load agent from %s: %w", cfg.LoadFrom, err)
		}
		logging.Info().Add(logging.Path(cfg.LoadFrom)).Msg("agent restored")
	}

	factory, err := newEnvFactory(cfg)
	if err != nil {
		return err
	}
	evaluator, err := newEvaluator(cfg)
	if err != nil {
		return err
	}

	tc := application.TrainerConfig{
		Name:            cfg.Name,
		Processes:       cfg.Processes,
		Steps:           cfg.Steps,
		StepOffset:      cfg.StepOffset,
		Outdir:          cfg.Outdir,
		MaxEpisodeLen:   cfg.MaxEpisodeLen,
		SuccessfulScore: cfg.Evaluation.SuccessfulScore,
		StopFile:        cfg.StopFile,
		Metrics:         rt.Metrics,
		Tracer:          rt.Tracing.Tracer(),
		Events:          rt.Events,
		Runs:            rt.Runs,
	}
	if evaluator != nil {
		tc.Evaluator = evaluator
	}
	if opts.logInterval > 0 {
		tc.Hooks = append(tc.Hooks, progressHook(opts.logInterval))
	}

	trainer, err := application.NewTrainer(tc)
	if err != nil {
		return err
	}

	result, trainErr := trainer.Train(ctx, agent, factory)
	if result == nil {
		return trainErr
	}
	if err := a.printSummary(result, trainErr, opts.jsonOutput); err != nil {
		return err
	}
	if trainErr != nil {
		return fmt.Errorf("training failed: %w", trainErr)
	}
	return nil
}

// progressHook logs the latest statistics every interval global steps.
func progressHook(interval int64) training.Hook {
	return func(env training.Environment, agent training.Agent, step int64) error {
		if step%interval != 0 {
			return nil
		}
		ev := logging.Info().Add(logging.GlobalStep(step))
		for _, st := range agent.Statistics() {
			ev.Add(logging.Float64(st.Name, st.Value))
		}
		ev.Msg("training progress")
		return nil
	}
}

func summarize(result *training.Result, err error) trainSummary {
	s := trainSummary{
		Status:      result.Status,
		GlobalSteps: result.GlobalSteps,
		Episodes:    result.Episodes,
		Records:     len(result.Statistics),
		Checkpoint:  result.CheckpointPath,
		Duration:    result.Duration.Round(time.Millisecond).String(),
	}
	if n := len(result.Statistics); n > 0 {
		s.Final = result.Statistics[n-1].Map()
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func (a *App) printSummary(result *training.Result, err error, asJSON bool) error {
	s := summarize(result, err)
	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(a.stdout, "Training %s\n", s.Status)
	fmt.Fprintf(a.stdout, "  Global steps: %d\n", s.GlobalSteps)
	fmt.Fprintf(a.stdout, "  Episodes: %d\n", s.Episodes)
	fmt.Fprintf(a.stdout, "  Records: %d\n", s.Records)
	fmt.Fprintf(a.stdout, "  Duration: %s\n", s.Duration)
	if s.Checkpoint != "" {
		fmt.Fprintf(a.stdout, "  Checkpoint: %s\n", s.Checkpoint)
	}
	if result.CloseErr != nil {
		fmt.Fprintf(a.stdout, "  Close errors: %v\n", result.CloseErr)
	}
	var werr *training.WorkerError
	if errors.As(err, &werr) {
		fmt.Fprintf(a.stdout, "  Failed worker: %d (%s)\n", werr.Worker, werr.Op)
	}
	return nil
}
