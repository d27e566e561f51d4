package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/asynctrain/domain/event"
	"github.com/felixgeelhaar/asynctrain/domain/run"
	infraconfig "github.com/felixgeelhaar/asynctrain/infrastructure/config"
)

type inspectOptions struct {
	configPath string
	outputJSON bool
	limit      int
	types      []string
	worker     int
}

func (a *App) newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect recorded runs and events",
		Long: `Inspect the run records and training events kept by the configured
stores. Only persistent backends (sqlite runs, badger events) outlive the
training process.

Examples:
  asynctrain inspect runs -c train.yaml
  asynctrain inspect events <run-id> -c train.yaml --type episode.completed`,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (required)")
	cmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output as JSON")
	cmd.PersistentFlags().IntVar(&opts.limit, "limit", 20, "Maximum number of entries")
	_ = cmd.MarkPersistentFlagRequired("config")

	runs := &cobra.Command{
		Use:   "runs",
		Short: "List training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.inspectRuns(cmd, opts)
		},
	}

	events := &cobra.Command{
		Use:   "events <run-id>",
		Short: "List the events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.inspectEvents(cmd, opts, args[0])
		},
	}
	events.Flags().StringSliceVar(&opts.types, "type", nil, "Only show these event types")
	events.Flags().IntVar(&opts.worker, "worker", -2, "Only show events of this worker (-1 for the trainer)")

	cmd.AddCommand(runs, events)
	return cmd
}

func (a *App) openRuntime(cmd *cobra.Command, opts *inspectOptions) (*infraconfig.Runtime, error) {
	cfg, err := loadConfig(opts.configPath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return infraconfig.NewBuilder(cfg).Build(cmd.Context())
}

func (a *App) inspectRuns(cmd *cobra.Command, opts *inspectOptions) error {
	rt, err := a.openRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	if rt.Runs == nil {
		return fmt.Errorf("no run store configured")
	}
	runs, err := rt.Runs.List(cmd.Context(), run.ListFilter{Limit: opts.limit})
	if err != nil {
		return err
	}

	if opts.outputJSON {
		return a.writeJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(a.stdout, "%s  %-9s  %s  steps=%d/%d  episodes=%d  %s\n",
			r.ID, r.Status, r.StartTime.Format(time.RFC3339), r.GlobalSteps, r.Steps, r.Episodes,
			r.Duration().Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(a.stdout, "    error: %s\n", r.Error)
		}
	}
	return nil
}

func (a *App) inspectEvents(cmd *cobra.Command, opts *inspectOptions, runID string) error {
	rt, err := a.openRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	if rt.EventStore == nil {
		return fmt.Errorf("no event store configured")
	}

	query := event.QueryOptions{Limit: opts.limit}
	for _, t := range opts.types {
		query.Types = append(query.Types, event.Type(t))
	}
	if opts.worker >= event.TrainerWorker {
		w := opts.worker
		query.Worker = &w
	}

	var events []event.Event
	if q, ok := rt.EventStore.(event.Querier); ok {
		events, err = q.Query(cmd.Context(), runID, query)
	} else {
		events, err = rt.EventStore.LoadEvents(cmd.Context(), runID)
	}
	if err != nil {
		return err
	}

	if opts.outputJSON {
		return a.writeJSON(events)
	}
	if len(events) == 0 {
		fmt.Fprintf(a.stdout, "No events for run %s\n", runID)
		return nil
	}
	for _, e := range events {
		fmt.Fprintf(a.stdout, "%6d  %s  worker=%-3d %-22s %s\n",
			e.Sequence, e.Timestamp.Format(time.RFC3339Nano), e.Worker, e.Type, e.Payload)
	}
	return nil
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
