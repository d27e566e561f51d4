// Package application provides the training orchestration services: the
// per-worker loop, the serialized hook invoker, and the Trainer that spawns,
// joins, and checkpoints a run.
package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/asynctrain/domain/event"
	"github.com/felixgeelhaar/asynctrain/domain/run"
	"github.com/felixgeelhaar/asynctrain/domain/training"
	infraevent "github.com/felixgeelhaar/asynctrain/infrastructure/event"
	"github.com/felixgeelhaar/asynctrain/infrastructure/logging"
	"github.com/felixgeelhaar/asynctrain/infrastructure/queue"
	"github.com/felixgeelhaar/asynctrain/infrastructure/shared"
	"github.com/felixgeelhaar/asynctrain/infrastructure/spawn"
	"github.com/felixgeelhaar/asynctrain/infrastructure/statemachine"
	"github.com/felixgeelhaar/asynctrain/infrastructure/stopfile"
	"github.com/felixgeelhaar/asynctrain/infrastructure/telemetry"
)

// Checkpoint name suffixes.
const (
	FinishSuffix    = "finish"
	ExceptionSuffix = "except"
)

// Trainer runs one shared agent against several environments concurrently.
type Trainer struct {
	name            string
	processes       int
	steps           int64
	stepOffset      int64
	outdir          string
	maxEpisodeLen   int
	hooks           []training.Hook
	evaluator       training.Evaluator
	successfulScore *float64
	stopFile        string
	spawner         spawn.Spawner
	metrics         telemetry.Metrics
	tracer          trace.Tracer
	events          *infraevent.Publisher
	runs            run.Store
	machine         *statekit.MachineConfig[*statemachine.Context]
}

// TrainerConfig contains configuration for the trainer.
type TrainerConfig struct {
	Name string

	// Processes is the number of concurrent workers.
	Processes int

	// Steps is the global step budget.
	Steps int64

	// StepOffset is the initial value of the global step counter.
	StepOffset int64

	// Outdir receives the checkpoints.
	Outdir string

	// MaxEpisodeLen forces a reset after that many steps. Zero disables it.
	MaxEpisodeLen int

	Hooks []training.Hook

	Evaluator       training.Evaluator
	SuccessfulScore *float64

	// StopFile is a file name inside Outdir whose creation stops the run.
	StopFile string

	Spawner spawn.Spawner
	Metrics telemetry.Metrics
	Tracer  trace.Tracer
	Events  *infraevent.Publisher
	Runs    run.Store
}

// NewTrainer creates a new trainer with the given configuration.
func NewTrainer(config TrainerConfig) (*Trainer, error) {
	if config.Processes < 1 {
		return nil, fmt.Errorf("%w: processes must be at least 1", training.ErrInvalidConfig)
	}
	if config.Steps <= 0 {
		return nil, fmt.Errorf("%w: steps must be positive", training.ErrInvalidConfig)
	}
	if config.StepOffset < 0 {
		return nil, fmt.Errorf("%w: step offset must not be negative", training.ErrInvalidConfig)
	}
	if config.Outdir == "" {
		return nil, fmt.Errorf("%w: outdir is required", training.ErrInvalidConfig)
	}
	if config.MaxEpisodeLen < 0 {
		return nil, fmt.Errorf("%w: max episode length must not be negative", training.ErrInvalidConfig)
	}
	if config.SuccessfulScore != nil && config.Evaluator == nil {
		return nil, fmt.Errorf("%w: successful score requires an evaluator", training.ErrInvalidConfig)
	}
	for i, h := range config.Hooks {
		if h == nil {
			return nil, fmt.Errorf("%w: hook %d is nil", training.ErrInvalidConfig, i)
		}
	}

	machine, err := statemachine.NewWorkerMachine()
	if err != nil {
		return nil, fmt.Errorf("build worker lifecycle: %w", err)
	}

	t := &Trainer{
		name:            config.Name,
		processes:       config.Processes,
		steps:           config.Steps,
		stepOffset:      config.StepOffset,
		outdir:          config.Outdir,
		maxEpisodeLen:   config.MaxEpisodeLen,
		hooks:           append([]training.Hook(nil), config.Hooks...),
		evaluator:       config.Evaluator,
		successfulScore: config.SuccessfulScore,
		stopFile:        config.StopFile,
		spawner:         config.Spawner,
		metrics:         config.Metrics,
		tracer:          config.Tracer,
		events:          config.Events,
		runs:            config.Runs,
		machine:         machine,
	}

	// Set defaults
	if t.spawner == nil {
		t.spawner = spawn.NewGoroutineSpawner()
	}
	if t.metrics == nil {
		t.metrics = telemetry.NoopMetrics{}
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(telemetry.TracerName)
	}

	return t, nil
}

// FinishPath returns where a clean run saves the agent.
func (t *Trainer) FinishPath() string {
	return filepath.Join(t.outdir, fmt.Sprintf("%d_%s", t.steps, FinishSuffix))
}

// runState is everything shared by the workers of one Train call.
type runState struct {
	record   *run.Run
	counters *shared.Counters
	signals  *shared.Signals
	stats    *queue.StatisticsQueue
	hooks    *HookInvoker
	start    time.Time
}

// Train runs the workers to completion and saves the agent. On a worker
// failure the original error is returned together with a partial result.
func (t *Trainer) Train(ctx context.Context, agent training.Agent, factory training.EnvFactory) (*training.Result, error) {
	if agent == nil {
		return nil, fmt.Errorf("%w: agent is required", training.ErrInvalidConfig)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: environment factory is required", training.ErrInvalidConfig)
	}

	rs := &runState{
		record:   run.New(t.name, t.processes, t.steps, t.outdir),
		counters: shared.NewCounters(t.stepOffset),
		signals:  shared.NewSignals(),
		stats:    queue.NewStatisticsQueue(),
		hooks:    NewHookInvoker(t.hooks, t.metrics),
		start:    time.Now(),
	}

	ctx, span := t.tracer.Start(ctx, "trainer.run", trace.WithAttributes(
		attribute.String("run_id", rs.record.ID),
		attribute.Int("processes", t.processes),
		attribute.Int64("steps", t.steps),
	))
	defer span.End()

	t.saveRun(ctx, rs.record)
	logging.Info().
		Add(logging.RunID(rs.record.ID)).
		Add(logging.Int("processes", t.processes)).
		Add(logging.Int("steps", int(t.steps))).
		Add(logging.Path(t.outdir)).
		Msg("training started")
	t.emit(ctx, rs.record.ID, event.TypeRunStarted, event.RunStartedPayload{
		Processes:     t.processes,
		Steps:         t.steps,
		StepOffset:    t.stepOffset,
		Outdir:        t.outdir,
		MaxEpisodeLen: t.maxEpisodeLen,
	})

	result := &training.Result{Agent: agent}

	if err := os.MkdirAll(t.outdir, 0o755); err != nil {
		err = fmt.Errorf("create outdir: %w", err)
		return t.finish(ctx, span, rs, result, training.StatusFailed, err)
	}

	envs, evalEnv, err := t.makeEnvs(factory)
	if err != nil {
		rs.signals.Exception.Set()
		return t.finish(ctx, span, rs, result, training.StatusFailed, err)
	}

	// External stop sources only raise the stop signal. Workers keep an
	// uncancelled context so that their final bookkeeping still runs.
	released := make(chan struct{})
	defer close(released)
	go func() {
		select {
		case <-ctx.Done():
			if rs.signals.Stop.Set() {
				logging.Info().Add(logging.RunID(rs.record.ID)).Add(logging.ErrorField(ctx.Err())).Msg("stop requested by context")
			}
		case <-released:
		}
	}()

	if t.stopFile != "" {
		w, err := stopfile.Watch(filepath.Join(t.outdir, t.stopFile), func() {
			if rs.signals.Stop.Set() {
				logging.Info().Add(logging.RunID(rs.record.ID)).Add(logging.Path(t.stopFile)).Msg("stop requested by stop file")
			}
		})
		if err != nil {
			logging.Warn().Add(logging.RunID(rs.record.ID)).Add(logging.ErrorField(err)).Msg("stop file watcher unavailable")
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	workerCtx := context.WithoutCancel(ctx)
	results, failure := t.runWorkers(workerCtx, rs, agent, envs, evalEnv, result)

	result.Statistics = t.drain(rs)

	if failure != nil {
		t.saveBestEffort(ctx, rs, agent)
		result.CheckpointPath = rs.record.CheckpointPath
		return t.finish(ctx, span, rs, result, training.StatusFailed, failure)
	}

	path := t.FinishPath()
	if err := agent.Save(path); err != nil {
		err = fmt.Errorf("save final agent to %s: %w", path, err)
		return t.finish(ctx, span, rs, result, training.StatusFailed, err)
	}
	result.CheckpointPath = path
	rs.record.CheckpointPath = path
	logging.Info().Add(logging.RunID(rs.record.ID)).Add(logging.Path(path)).Msg("saved final agent")
	t.emit(ctx, rs.record.ID, event.TypeCheckpointSaved, event.CheckpointSavedPayload{
		Path:       path,
		GlobalStep: rs.counters.GlobalStep.Load(),
		Reason:     FinishSuffix,
	})

	status := training.StatusCompleted
	switch {
	case results[0].Succeeded:
		status = training.StatusSucceeded
	case rs.signals.Stop.IsSet() && rs.counters.GlobalStep.Load() < t.steps:
		status = training.StatusStopped
	}
	return t.finish(ctx, span, rs, result, status, nil)
}

// makeEnvs builds every training environment, plus the evaluation
// environment for worker 0 when an evaluator is configured. On failure the
// environments built so far are closed.
func (t *Trainer) makeEnvs(factory training.EnvFactory) ([]training.Environment, training.Environment, error) {
	envs := make([]training.Environment, 0, t.processes)
	cleanup := func() {
		for _, env := range envs {
			_ = env.Close()
		}
	}

	for i := 0; i < t.processes; i++ {
		env, err := factory(i, false)
		if err == nil && env == nil {
			err = errors.New("factory returned no environment")
		}
		if err != nil {
			cleanup()
			return nil, nil, training.NewWorkerError(i, training.OpEnvFactory, err)
		}
		envs = append(envs, env)
	}

	if t.evaluator == nil {
		return envs, nil, nil
	}
	evalEnv, err := factory(0, true)
	if err == nil && evalEnv == nil {
		err = errors.New("factory returned no evaluation environment")
	}
	if err != nil {
		cleanup()
		return nil, nil, training.NewWorkerError(0, training.OpEnvFactory, err)
	}
	return envs, evalEnv, nil
}

// runWorkers spawns one loop per environment, joins them all, and returns the
// first failure.
func (t *Trainer) runWorkers(ctx context.Context, rs *runState, agent training.Agent, envs []training.Environment, evalEnv training.Environment, result *training.Result) ([]LoopResult, error) {
	results := make([]LoopResult, t.processes)
	lifecycles := make([]*statemachine.Lifecycle, t.processes)

	var (
		once  sync.Once
		first error
	)

	procs, startErr := spawn.StartAll(ctx, t.spawner, t.processes, func(i int) spawn.Func {
		lifecycles[i] = statemachine.NewLifecycle(t.machine, i)
		cfg := LoopConfig{
			Worker:        i,
			Env:           envs[i],
			Agent:         agent,
			Steps:         t.steps,
			MaxEpisodeLen: t.maxEpisodeLen,
			Counters:      rs.counters,
			Signals:       rs.signals,
			Statistics:    rs.stats,
			Hooks:         rs.hooks,
			RunID:         rs.record.ID,
			Metrics:       t.metrics,
			Events:        t.events,
			Lifecycle:     lifecycles[i],
			Tracer:        t.tracer,
		}
		if i == 0 {
			cfg.EvalEnv = evalEnv
			cfg.Evaluator = t.evaluator
			cfg.SuccessfulScore = t.successfulScore
		}
		return func(ctx context.Context) error {
			res, err := TrainLoop(ctx, cfg)
			results[i] = res
			if err != nil {
				once.Do(func() { first = err })
			}
			return err
		}
	})
	if startErr != nil {
		rs.signals.Exception.Set()
		once.Do(func() { first = startErr })
		// Workers that never started still own their environments.
		for i := len(procs); i < t.processes; i++ {
			_ = envs[i].Close()
			if i == 0 && evalEnv != nil {
				_ = evalEnv.Close()
			}
		}
	}

	errs := spawn.WaitAll(procs)

	result.Workers = make([]training.WorkerReport, t.processes)
	var closeErrs []error
	for i := range result.Workers {
		report := training.WorkerReport{
			Worker:   i,
			State:    training.WorkerPending,
			Steps:    results[i].Steps,
			Episodes: results[i].Episodes,
		}
		if lifecycles[i] != nil {
			report.State = lifecycles[i].State()
		}
		if i < len(errs) {
			report.Err = errs[i]
			if errs[i] != nil {
				// Panics that escaped the loop itself.
				once.Do(func() { first = errs[i] })
				if !errors.Is(errs[i], first) {
					logging.Warn().
						Add(logging.RunID(rs.record.ID)).
						Add(logging.Worker(i)).
						Add(logging.ErrorField(errs[i])).
						Msg("additional worker failure")
				}
			}
		}
		if results[i].CloseErr != nil {
			closeErrs = append(closeErrs, results[i].CloseErr)
		}
		result.Workers[i] = report
	}
	result.CloseErr = errors.Join(closeErrs...)

	return results, first
}

// drain collects every record once all producers have been joined.
func (t *Trainer) drain(rs *runState) []training.Record {
	_ = rs.stats.Close()
	records := rs.stats.Drain()
	if int64(len(records)) != rs.counters.Episodes.Load() {
		logging.Warn().
			Add(logging.RunID(rs.record.ID)).
			Add(logging.Int("records", len(records))).
			Add(logging.Episode(rs.counters.Episodes.Load())).
			Msg("statistics records do not match episode count")
	}
	return records
}

// saveBestEffort stores the agent after a failure. Its own failure is logged
// and never replaces the worker failure.
func (t *Trainer) saveBestEffort(ctx context.Context, rs *runState, agent training.Agent) {
	step := rs.counters.GlobalStep.Load()
	path := filepath.Join(t.outdir, fmt.Sprintf("%d_%s", step, ExceptionSuffix))

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", training.ErrPanic, r)
			}
		}()
		return agent.Save(path)
	}()
	if err != nil {
		logging.Warn().Add(logging.RunID(rs.record.ID)).Add(logging.Path(path)).Add(logging.ErrorField(err)).Msg("exception checkpoint failed")
		return
	}

	rs.record.CheckpointPath = path
	logging.Info().Add(logging.RunID(rs.record.ID)).Add(logging.Path(path)).Msg("saved agent after failure")
	t.emit(ctx, rs.record.ID, event.TypeCheckpointSaved, event.CheckpointSavedPayload{
		Path:       path,
		GlobalStep: step,
		Reason:     ExceptionSuffix,
	})
}

func (t *Trainer) finish(ctx context.Context, span trace.Span, rs *runState, result *training.Result, status training.Status, err error) (*training.Result, error) {
	duration := time.Since(rs.start)

	result.Status = status
	result.GlobalSteps = rs.counters.GlobalStep.Load()
	result.Episodes = rs.counters.Episodes.Load()
	result.Duration = duration

	rs.record.Finish(run.Status(status), result.GlobalSteps, result.Episodes, result.CheckpointPath, err)
	t.updateRun(ctx, rs.record)

	t.metrics.RecordRunDuration(ctx, duration, string(status))
	span.SetAttributes(
		attribute.String("status", string(status)),
		attribute.Int64("global_steps", result.GlobalSteps),
		attribute.Int64("episodes", result.Episodes),
	)

	payload := event.RunCompletedPayload{
		Status:      string(status),
		GlobalSteps: result.GlobalSteps,
		Episodes:    result.Episodes,
		DurationMs:  duration.Milliseconds(),
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		payload.Error = err.Error()
		logging.Error().
			Add(logging.RunID(rs.record.ID)).
			Add(logging.Status(string(status))).
			Add(logging.GlobalStep(result.GlobalSteps)).
			Add(logging.Duration(duration)).
			Add(logging.ErrorField(err)).
			Msg("training failed")
	} else {
		logging.Info().
			Add(logging.RunID(rs.record.ID)).
			Add(logging.Status(string(status))).
			Add(logging.GlobalStep(result.GlobalSteps)).
			Add(logging.Episode(result.Episodes)).
			Add(logging.Duration(duration)).
			Msg("training finished")
	}

	t.emit(ctx, rs.record.ID, event.TypeRunCompleted, payload)
	if t.events != nil {
		if ferr := t.events.Flush(context.WithoutCancel(ctx)); ferr != nil {
			logging.Warn().Add(logging.RunID(rs.record.ID)).Add(logging.ErrorField(ferr)).Msg("event flush failed")
		}
	}

	return result, err
}

func (t *Trainer) saveRun(ctx context.Context, r *run.Run) {
	if t.runs == nil {
		return
	}
	if err := t.runs.Save(context.WithoutCancel(ctx), r); err != nil {
		logging.Warn().Add(logging.RunID(r.ID)).Add(logging.ErrorField(err)).Msg("run record not saved")
	}
}

func (t *Trainer) updateRun(ctx context.Context, r *run.Run) {
	if t.runs == nil {
		return
	}
	if err := t.runs.Update(context.WithoutCancel(ctx), r); err != nil {
		logging.Warn().Add(logging.RunID(r.ID)).Add(logging.ErrorField(err)).Msg("run record not updated")
	}
}

func (t *Trainer) emit(ctx context.Context, runID string, typ event.Type, payload any) {
	if t.events == nil {
		return
	}
	t.events.Emit(context.WithoutCancel(ctx), runID, event.TrainerWorker, typ, payload)
}

// TrainAsync trains agent with processes concurrent workers until the global
// step reaches steps, then saves it to <outdir>/<steps>_finish. It returns the
// agent and the statistics recorded at every episode boundary.
func TrainAsync(ctx context.Context, processes int, agent training.Agent, factory training.EnvFactory, steps int64, outdir string, opts ...Option) (training.Agent, []training.Record, error) {
	config := TrainerConfig{
		Processes: processes,
		Steps:     steps,
		Outdir:    outdir,
	}
	for _, opt := range opts {
		opt(&config)
	}

	trainer, err := NewTrainer(config)
	if err != nil {
		return nil, nil, err
	}

	result, err := trainer.Train(ctx, agent, factory)
	if result == nil {
		return nil, nil, err
	}
	return result.Agent, result.Statistics, err
}
