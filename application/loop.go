package application

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/felixgeelhaar/asynctrain/domain/event"
	"github.com/felixgeelhaar/asynctrain/domain/training"
	infraevent "github.com/felixgeelhaar/asynctrain/infrastructure/event"
	"github.com/felixgeelhaar/asynctrain/infrastructure/logging"
	"github.com/felixgeelhaar/asynctrain/infrastructure/queue"
	"github.com/felixgeelhaar/asynctrain/infrastructure/shared"
	"github.com/felixgeelhaar/asynctrain/infrastructure/statemachine"
	"github.com/felixgeelhaar/asynctrain/infrastructure/telemetry"
)

// LoopConfig binds one worker to its environment and to the state shared with
// the other workers of the run.
type LoopConfig struct {
	Worker int
	Env    training.Environment
	Agent  training.Agent

	// Steps is the global step budget.
	Steps int64

	// MaxEpisodeLen forces a reset after that many steps. Zero disables it.
	MaxEpisodeLen int

	Counters   *shared.Counters
	Signals    *shared.Signals
	Statistics *queue.StatisticsQueue
	Hooks      *HookInvoker

	// EvalEnv and Evaluator are only set on worker 0.
	EvalEnv         training.Environment
	Evaluator       training.Evaluator
	SuccessfulScore *float64

	RunID     string
	Metrics   telemetry.Metrics
	Events    *infraevent.Publisher
	Lifecycle *statemachine.Lifecycle
	Tracer    trace.Tracer
}

// LoopResult is what a worker accomplished before it left its loop.
type LoopResult struct {
	Steps     int64
	Episodes  int64
	Succeeded bool

	// CloseErr holds environment close failures. They never fail the worker.
	CloseErr error
}

type worker struct {
	cfg LoopConfig
	ctx context.Context
	res LoopResult

	episodeLen    int
	episodeReturn float64
}

// TrainLoop runs the act/observe/reset cycle of one worker until the step
// budget is spent, a stop is requested, or any worker fails. The environment
// is closed exactly once on every exit path. A failure raises the exception
// signal and is returned as a *training.WorkerError.
func TrainLoop(ctx context.Context, cfg LoopConfig) (res LoopResult, err error) {
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer(telemetry.TracerName)
	}
	if cfg.Hooks == nil {
		cfg.Hooks = NewHookInvoker(nil, cfg.Metrics)
	}

	ctx, span := cfg.Tracer.Start(ctx, "trainer.worker",
		trace.WithAttributes(attribute.Int("worker", cfg.Worker)))
	defer span.End()

	w := &worker{cfg: cfg, ctx: ctx}

	defer func() {
		w.shutdown(err)
		res = w.res

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int64("steps", res.Steps),
			attribute.Int64("episodes", res.Episodes),
		)

		// Signalled last so that a reader sees worker 0's final record.
		if cfg.Worker == 0 {
			cfg.Signals.Process0Done.Set()
		}
	}()

	if cfg.Lifecycle != nil {
		if lerr := cfg.Lifecycle.Start(); lerr != nil {
			logging.Warn().Add(logging.Worker(cfg.Worker)).Add(logging.ErrorField(lerr)).Msg("lifecycle start rejected")
		}
	}
	cfg.Metrics.IncrementActiveWorkers(ctx)
	defer cfg.Metrics.DecrementActiveWorkers(ctx)

	logging.Info().
		Add(logging.RunID(cfg.RunID)).
		Add(logging.Worker(cfg.Worker)).
		Add(logging.GlobalStep(cfg.Counters.GlobalStep.Load())).
		Msg("worker started")
	w.emit(event.TypeWorkerStarted, nil)

	err = w.run()
	if err != nil {
		cfg.Signals.Exception.Set()
	}
	return w.res, err
}

func (w *worker) run() error {
	cfg := w.cfg

	var obs training.Observation
	if err := w.call(training.OpReset, func() (err error) {
		obs, err = cfg.Env.Reset()
		return err
	}); err != nil {
		return err
	}

	for !cfg.Signals.Halted() && cfg.Counters.GlobalStep.Load() < cfg.Steps {
		var action training.Action
		if err := w.call(training.OpAct, func() (err error) {
			action, err = cfg.Agent.Act(obs)
			return err
		}); err != nil {
			return err
		}

		var sr training.StepResult
		if err := w.call(training.OpStep, func() (err error) {
			sr, err = cfg.Env.Step(action)
			return err
		}); err != nil {
			return err
		}

		w.episodeLen++
		w.episodeReturn += sr.Reward

		needsReset := sr.Info.NeedsReset() ||
			(cfg.MaxEpisodeLen > 0 && w.episodeLen >= cfg.MaxEpisodeLen)

		if err := w.call(training.OpObserve, func() error {
			return cfg.Agent.Observe(sr.Observation, sr.Reward, sr.Done, needsReset)
		}); err != nil {
			return err
		}

		t := cfg.Counters.GlobalStep.Increment()
		w.res.Steps++
		cfg.Metrics.RecordStep(w.ctx, cfg.Worker)

		if err := w.call(training.OpHook, func() error {
			return cfg.Hooks.Invoke(w.ctx, cfg.Env, cfg.Agent, t)
		}); err != nil {
			return err
		}

		final := t >= cfg.Steps || cfg.Signals.Halted()
		if !sr.Done && !needsReset && !final {
			obs = sr.Observation
			continue
		}

		if needsReset && !sr.Done {
			logging.Debug().
				Add(logging.Worker(cfg.Worker)).
				Add(logging.GlobalStep(t)).
				Add(logging.EpisodeLen(w.episodeLen)).
				Msg("forced reset")
		}

		if err := w.endEpisode(t); err != nil {
			return err
		}
		if err := w.evaluate(t); err != nil {
			return err
		}

		if final || cfg.Signals.Halted() {
			return nil
		}

		if err := w.call(training.OpReset, func() (err error) {
			obs, err = cfg.Env.Reset()
			return err
		}); err != nil {
			return err
		}
	}

	// Another worker spent the budget or halted the run mid-episode.
	if w.episodeLen > 0 {
		return w.endEpisode(cfg.Counters.GlobalStep.Load())
	}
	return nil
}

// endEpisode counts the episode and enqueues the statistics snapshot.
func (w *worker) endEpisode(t int64) error {
	cfg := w.cfg

	var stats training.Statistics
	if err := w.call(training.OpStatistics, func() error {
		stats = cfg.Agent.Statistics()
		return nil
	}); err != nil {
		return err
	}

	ep := cfg.Counters.Episodes.Increment()
	w.res.Episodes++

	rec := training.NewRecord(cfg.Worker, ep, t, w.episodeLen, stats)
	if err := cfg.Statistics.Put(rec); err != nil {
		return training.NewWorkerError(cfg.Worker, training.OpStatistics, err)
	}

	cfg.Metrics.RecordEpisode(w.ctx, cfg.Worker, w.episodeLen)
	logging.Debug().
		Add(logging.Worker(cfg.Worker)).
		Add(logging.Episode(ep)).
		Add(logging.GlobalStep(t)).
		Add(logging.EpisodeLen(w.episodeLen)).
		Add(logging.Reward(w.episodeReturn)).
		Msg("episode finished")
	w.emit(event.TypeEpisodeCompleted, event.EpisodeCompletedPayload{
		Episode:    ep,
		GlobalStep: t,
		Length:     w.episodeLen,
		Return:     w.episodeReturn,
		Stats:      rec.Map(),
	})

	w.episodeLen = 0
	w.episodeReturn = 0
	return nil
}

func (w *worker) evaluate(t int64) error {
	cfg := w.cfg
	if cfg.Evaluator == nil || cfg.EvalEnv == nil {
		return nil
	}

	var (
		score     float64
		evaluated bool
	)
	if err := w.call(training.OpEvaluate, func() (err error) {
		score, evaluated, err = cfg.Evaluator.EvaluateIfNecessary(w.ctx, t, cfg.Counters.Episodes.Load(), cfg.EvalEnv, cfg.Agent)
		return err
	}); err != nil {
		return err
	}
	if !evaluated {
		return nil
	}

	logging.Info().
		Add(logging.Worker(cfg.Worker)).
		Add(logging.GlobalStep(t)).
		Add(logging.Float64("score", score)).
		Msg("evaluation finished")
	w.emit(event.TypeEvaluation, event.EvaluationPayload{GlobalStep: t, Score: score})

	if cfg.SuccessfulScore != nil && score >= *cfg.SuccessfulScore {
		w.res.Succeeded = true
		cfg.Signals.Stop.Set()
		logging.Info().
			Add(logging.Worker(cfg.Worker)).
			Add(logging.Float64("score", score)).
			Add(logging.Float64("successful_score", *cfg.SuccessfulScore)).
			Msg("successful score reached, stopping")
	}
	return nil
}

// call runs fn and converts both returned errors and panics into worker errors.
func (w *worker) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = training.NewWorkerError(w.cfg.Worker, op, fmt.Errorf("%w: %v", training.ErrPanic, r))
		}
	}()
	if err = fn(); err != nil {
		var we *training.WorkerError
		if !errors.As(err, &we) {
			err = training.NewWorkerError(w.cfg.Worker, op, err)
		}
	}
	return err
}

// shutdown closes the environments and finishes the lifecycle. It runs on
// every exit path.
func (w *worker) shutdown(runErr error) {
	cfg := w.cfg
	lc := cfg.Lifecycle

	if runErr != nil {
		var we *training.WorkerError
		op := "unknown"
		if errors.As(runErr, &we) {
			op = we.Op
		}
		cfg.Metrics.RecordWorkerFailure(w.ctx, cfg.Worker, op)
		logging.Error().
			Add(logging.RunID(cfg.RunID)).
			Add(logging.Worker(cfg.Worker)).
			Add(logging.Operation(op)).
			Add(logging.GlobalStep(cfg.Counters.GlobalStep.Load())).
			Add(logging.ErrorField(runErr)).
			Msg("worker failed")
		w.emit(event.TypeWorkerFailed, event.WorkerFailedPayload{Operation: op, Error: runErr.Error()})
		if lc != nil {
			_ = lc.Fail(runErr)
		}
	} else if lc != nil {
		_ = lc.Close()
	}

	w.res.CloseErr = errors.Join(w.closeEnv("train", cfg.Env), w.closeEnv("eval", cfg.EvalEnv))

	state := training.WorkerStopped
	if runErr != nil {
		state = training.WorkerFailed
	}
	if lc != nil {
		_ = lc.Finish()
		state = lc.State()
	}

	logging.Info().
		Add(logging.RunID(cfg.RunID)).
		Add(logging.Worker(cfg.Worker)).
		Add(logging.GlobalStep(cfg.Counters.GlobalStep.Load())).
		Add(logging.Str("state", string(state))).
		Msg("worker stopped")
	w.emit(event.TypeWorkerStopped, event.WorkerStoppedPayload{
		GlobalStep: cfg.Counters.GlobalStep.Load(),
		State:      string(state),
	})
}

func (w *worker) closeEnv(kind string, env training.Environment) (err error) {
	if env == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", training.ErrPanic, r)
		}
		if err != nil {
			err = fmt.Errorf("worker %d %s env: %w: %w", w.cfg.Worker, kind, training.ErrEnvironmentClose, err)
			w.cfg.Metrics.RecordEnvCloseFailure(w.ctx, w.cfg.Worker)
			logging.Warn().
				Add(logging.Worker(w.cfg.Worker)).
				Add(logging.Str("env", kind)).
				Add(logging.ErrorField(err)).
				Msg("environment close failed")
		}
	}()
	return env.Close()
}

func (w *worker) emit(typ event.Type, payload any) {
	if w.cfg.Events == nil {
		return
	}
	w.cfg.Events.Emit(w.ctx, w.cfg.RunID, w.cfg.Worker, typ, payload)
}
