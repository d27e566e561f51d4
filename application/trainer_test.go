package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/felixgeelhaar/asynctrain/domain/event"
	"github.com/felixgeelhaar/asynctrain/domain/run"
	"github.com/felixgeelhaar/asynctrain/domain/training"
	infraevent "github.com/felixgeelhaar/asynctrain/infrastructure/event"
	"github.com/felixgeelhaar/asynctrain/infrastructure/storage/memory"
)

// envSet hands out pre-built environments and remembers factory calls.
type envSet struct {
	mu    sync.Mutex
	train []*scriptedEnv
	eval  []*scriptedEnv
	calls []string
	fail  map[int]error
}

func newEnvSet(n int, build func() *scriptedEnv) *envSet {
	s := &envSet{fail: map[int]error{}}
	for i := 0; i < n; i++ {
		s.train = append(s.train, build())
		s.eval = append(s.eval, build())
	}
	return s
}

func (s *envSet) factory(idx int, test bool) (training.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%d/%v", idx, test))
	if err, ok := s.fail[idx]; ok && !test {
		return nil, err
	}
	if test {
		return s.eval[idx], nil
	}
	return s.train[idx], nil
}

func TestTrainAsync(t *testing.T) {
	t.Parallel()

	const steps = 50

	for _, processes := range []int{1, 2} {
		for _, maxLen := range []int{0, 2} {
			t.Run(fmt.Sprintf("processes=%d/max_episode_len=%d", processes, maxLen), func(t *testing.T) {
				t.Parallel()

				build := func() *scriptedEnv { return newEpisodicEnv(5) }
				minEpisode := 5
				if maxLen > 0 {
					build = newContinuingEnv
					minEpisode = maxLen
				}
				envs := newEnvSet(processes, build)
				agent := &recordingAgent{}
				rec := &stepRecorder{}
				outdir := t.TempDir()

				got, stats, err := TrainAsync(context.Background(), processes, agent, envs.factory, steps, outdir,
					WithMaxEpisodeLen(maxLen),
					WithHooks(rec.hook),
				)
				if err != nil {
					t.Fatalf("TrainAsync() error = %v", err)
				}
				if got != agent {
					t.Error("returned agent is not the trained agent")
				}

				maxRecords := steps/minEpisode + processes
				if len(stats) < 1 || len(stats) > maxRecords {
					t.Errorf("records = %d, want 1..%d", len(stats), maxRecords)
				}
				for _, r := range stats {
					if r.Map()["average_q"] != 3.14 {
						t.Errorf("record stats = %v", r.Stats)
					}
				}

				acts := agent.actCount()
				observes := len(agent.observeCalls())
				if acts != observes {
					t.Errorf("act calls %d != observe calls %d", acts, observes)
				}
				hookSteps := rec.calls()
				if processes == 1 {
					if acts != steps {
						t.Errorf("act calls = %d, want %d", acts, steps)
					}
					for i, s := range hookSteps {
						if s != int64(i+1) {
							t.Fatalf("hook call %d step = %d, want %d", i, s, i+1)
						}
					}
				} else {
					if acts < steps || acts > steps+processes-1 {
						t.Errorf("act calls = %d, want %d..%d", acts, steps, steps+processes-1)
					}
					sorted := append([]int64(nil), hookSteps...)
					sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
					for i, s := range sorted {
						if s != int64(i+1) {
							t.Fatalf("sorted hook step %d = %d, want %d", i, s, i+1)
						}
					}
				}
				if len(hookSteps) != acts {
					t.Errorf("hook calls = %d, want %d", len(hookSteps), acts)
				}

				for i, env := range envs.train {
					if _, _, closes := env.counts(); closes != 1 {
						t.Errorf("env %d closes = %d, want 1", i, closes)
					}
				}
				for i, env := range envs.eval {
					if resets, _, closes := env.counts(); resets != 0 || closes != 0 {
						t.Errorf("eval env %d touched without an evaluator", i)
					}
				}

				saves := agent.savedPaths()
				want := filepath.Join(outdir, fmt.Sprintf("%d_finish", steps))
				if len(saves) != 1 || saves[0] != want {
					t.Errorf("saves = %v, want [%s]", saves, want)
				}
			})
		}
	}
}

func TestTrainer_Result(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(3, func() *scriptedEnv { return newEpisodicEnv(4) })
	agent := &recordingAgent{}
	outdir := t.TempDir()

	trainer, err := NewTrainerWithOptions(WithProcesses(3), WithSteps(40), WithOutdir(outdir), WithName("result"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(context.Background(), agent, envs.factory)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	if res.Status != training.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.GlobalSteps < 40 || res.GlobalSteps > 42 {
		t.Errorf("global steps = %d, want 40..42", res.GlobalSteps)
	}
	if int64(len(res.Statistics)) != res.Episodes {
		t.Errorf("records %d != episodes %d", len(res.Statistics), res.Episodes)
	}
	if res.CheckpointPath != trainer.FinishPath() {
		t.Errorf("checkpoint = %s, want %s", res.CheckpointPath, trainer.FinishPath())
	}
	if len(res.Workers) != 3 {
		t.Fatalf("worker reports = %d, want 3", len(res.Workers))
	}
	var steps int64
	for _, w := range res.Workers {
		if w.State != training.WorkerStopped || w.Err != nil {
			t.Errorf("worker %d = %s %v, want stopped", w.Worker, w.State, w.Err)
		}
		steps += w.Steps
	}
	if steps != res.GlobalSteps {
		t.Errorf("sum of worker steps %d != global steps %d", steps, res.GlobalSteps)
	}

	// Per-worker record order follows production order.
	last := map[int]int64{}
	for _, r := range res.Statistics {
		if r.GlobalStep < last[r.Worker] {
			t.Errorf("worker %d records out of order", r.Worker)
		}
		last[r.Worker] = r.GlobalStep
	}
}

func TestTrainer_WorkerFailure(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(2, func() *scriptedEnv { return newEpisodicEnv(5) })
	envs.train[1].failStep = 3
	envs.train[1].stepErr = errBoom
	agent := &recordingAgent{}
	outdir := t.TempDir()

	trainer, err := NewTrainer(TrainerConfig{Processes: 2, Steps: 1 << 40, Outdir: outdir})
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(context.Background(), agent, envs.factory)
	if !errors.Is(err, errBoom) {
		t.Fatalf("Train() error = %v, want boom", err)
	}
	var we *training.WorkerError
	if !errors.As(err, &we) || we.Worker != 1 || we.Op != training.OpStep {
		t.Errorf("worker error = %+v", we)
	}
	if res == nil || res.Status != training.StatusFailed {
		t.Fatalf("result = %+v, want failed", res)
	}
	if res.Workers[0].State != training.WorkerStopped {
		t.Errorf("worker 0 state = %s, want stopped", res.Workers[0].State)
	}

	for i, env := range envs.train {
		if _, _, closes := env.counts(); closes != 1 {
			t.Errorf("env %d closes = %d, want 1", i, closes)
		}
	}

	saves := agent.savedPaths()
	if len(saves) != 1 {
		t.Fatalf("saves = %v, want one exception checkpoint", saves)
	}
	if filepath.Base(saves[0]) != fmt.Sprintf("%d_except", res.GlobalSteps) {
		t.Errorf("save path = %s", saves[0])
	}
	if _, statErr := os.Stat(trainer.FinishPath()); statErr == nil {
		t.Error("finish checkpoint written after a failure")
	}
	if res.Workers[1].State != training.WorkerFailed {
		t.Errorf("worker 1 state = %s, want failed", res.Workers[1].State)
	}
}

func TestTrainer_FactoryFailure(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(3, func() *scriptedEnv { return newEpisodicEnv(5) })
	envs.fail[2] = errBoom
	agent := &recordingAgent{}

	trainer, err := NewTrainer(TrainerConfig{Processes: 3, Steps: 10, Outdir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = trainer.Train(context.Background(), agent, envs.factory)

	var we *training.WorkerError
	if !errors.As(err, &we) || we.Op != training.OpEnvFactory || we.Worker != 2 {
		t.Fatalf("Train() error = %v, want make_env failure of worker 2", err)
	}
	for i := 0; i < 2; i++ {
		if _, steps, closes := envs.train[i].counts(); steps != 0 || closes != 1 {
			t.Errorf("env %d steps=%d closes=%d, want 0/1", i, steps, closes)
		}
	}
	if agent.actCount() != 0 {
		t.Error("agent acted although no worker started")
	}
}

func TestTrainer_CancelledContext(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(2, func() *scriptedEnv { return newEpisodicEnv(5) })
	agent := &recordingAgent{}
	ctx, cancel := context.WithCancel(context.Background())

	trainer, err := NewTrainer(TrainerConfig{
		Processes: 2,
		Steps:     1 << 40,
		Outdir:    t.TempDir(),
		Hooks: []training.Hook{func(_ training.Environment, _ training.Agent, step int64) error {
			if step == 20 {
				cancel()
			}
			return nil
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(ctx, agent, envs.factory)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if res.Status != training.StatusStopped {
		t.Errorf("status = %s, want stopped", res.Status)
	}
	if saves := agent.savedPaths(); len(saves) != 1 || saves[0] != trainer.FinishPath() {
		t.Errorf("saves = %v, want finish checkpoint", saves)
	}
	for i, env := range envs.train {
		if _, _, closes := env.counts(); closes != 1 {
			t.Errorf("env %d closes = %d, want 1", i, closes)
		}
	}
}

func TestTrainer_StopFile(t *testing.T) {
	t.Parallel()

	outdir := t.TempDir()
	envs := newEnvSet(1, newContinuingEnv)
	agent := &recordingAgent{}

	trainer, err := NewTrainer(TrainerConfig{
		Processes: 1,
		Steps:     1 << 40,
		Outdir:    outdir,
		StopFile:  "STOP",
		Hooks: []training.Hook{func(_ training.Environment, _ training.Agent, step int64) error {
			if step == 10 {
				return os.WriteFile(filepath.Join(outdir, "STOP"), nil, 0o644)
			}
			return nil
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(context.Background(), agent, envs.factory)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if res.Status != training.StatusStopped {
		t.Errorf("status = %s, want stopped", res.Status)
	}
}

func TestTrainer_StepOffset(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(1, func() *scriptedEnv { return newEpisodicEnv(5) })
	agent := &recordingAgent{}
	rec := &stepRecorder{}

	trainer, err := NewTrainer(TrainerConfig{Processes: 1, Steps: 50, StepOffset: 40, Outdir: t.TempDir(), Hooks: []training.Hook{rec.hook}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(context.Background(), agent, envs.factory)
	if err != nil {
		t.Fatal(err)
	}
	if agent.actCount() != 10 {
		t.Errorf("act calls = %d, want 10", agent.actCount())
	}
	if steps := rec.calls(); len(steps) == 0 || steps[0] != 41 {
		t.Errorf("first hook step = %v, want 41", steps)
	}
	if res.GlobalSteps != 50 {
		t.Errorf("global steps = %d, want 50", res.GlobalSteps)
	}
}

func TestTrainer_SuccessfulScore(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(2, func() *scriptedEnv { return newEpisodicEnv(3) })
	agent := &recordingAgent{}

	trainer, err := NewTrainerWithOptions(
		WithProcesses(2),
		WithSteps(1<<40),
		WithOutdir(t.TempDir()),
		WithEvaluator(&fixedEvaluator{score: 10}),
		WithSuccessfulScore(5),
	)
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(context.Background(), agent, envs.factory)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if res.Status != training.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", res.Status)
	}

	envs.mu.Lock()
	calls := append([]string(nil), envs.calls...)
	envs.mu.Unlock()
	evalCalls := 0
	for _, c := range calls {
		if c == "0/true" {
			evalCalls++
		}
	}
	if evalCalls != 1 {
		t.Errorf("factory calls = %v, want exactly one evaluation env for worker 0", calls)
	}
	if _, _, closes := envs.eval[0].counts(); closes != 1 {
		t.Errorf("eval env closes = %d, want 1", closes)
	}
	if saves := agent.savedPaths(); len(saves) != 1 {
		t.Errorf("saves = %v, want one", saves)
	}
}

func TestTrainer_SaveFailure(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(1, func() *scriptedEnv { return newEpisodicEnv(2) })
	agent := &recordingAgent{saveErr: errBoom}

	_, _, err := TrainAsync(context.Background(), 1, agent, envs.factory, 4, t.TempDir())
	if !errors.Is(err, errBoom) {
		t.Errorf("TrainAsync() error = %v, want boom", err)
	}
}

func TestTrainer_CloseFailureReported(t *testing.T) {
	t.Parallel()

	envs := newEnvSet(2, func() *scriptedEnv { return newEpisodicEnv(2) })
	envs.train[1].closeErr = errBoom

	trainer, err := NewTrainer(TrainerConfig{Processes: 2, Steps: 10, Outdir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(context.Background(), &recordingAgent{}, envs.factory)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if !errors.Is(res.CloseErr, training.ErrEnvironmentClose) {
		t.Errorf("CloseErr = %v, want environment close failure", res.CloseErr)
	}
	if res.Status != training.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
}

func TestTrainer_EventsAndRuns(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	runs := memory.NewRunStore()
	publisher := infraevent.NewPublisher(events, infraevent.WithBufferSize(16))

	envs := newEnvSet(2, func() *scriptedEnv { return newEpisodicEnv(5) })
	trainer, err := NewTrainerWithOptions(
		WithProcesses(2),
		WithSteps(30),
		WithOutdir(t.TempDir()),
		WithEventPublisher(publisher),
		WithRunStore(runs),
	)
	if err != nil {
		t.Fatal(err)
	}
	res, err := trainer.Train(context.Background(), &recordingAgent{}, envs.factory)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	ctx := context.Background()
	list, err := runs.List(ctx, run.ListFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("runs = %v, %v", list, err)
	}
	r := list[0]
	if r.Status != run.StatusCompleted || r.GlobalSteps != res.GlobalSteps || r.Episodes != res.Episodes {
		t.Errorf("run record = %+v", r)
	}

	all, err := events.LoadEvents(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[event.Type]int{}
	for _, e := range all {
		counts[e.Type]++
	}
	if counts[event.TypeRunStarted] != 1 || counts[event.TypeRunCompleted] != 1 {
		t.Errorf("run events = %v", counts)
	}
	if counts[event.TypeWorkerStarted] != 2 || counts[event.TypeWorkerStopped] != 2 {
		t.Errorf("worker events = %v", counts)
	}
	if int64(counts[event.TypeEpisodeCompleted]) != res.Episodes {
		t.Errorf("episode events = %d, want %d", counts[event.TypeEpisodeCompleted], res.Episodes)
	}
	if counts[event.TypeCheckpointSaved] != 1 {
		t.Errorf("checkpoint events = %d, want 1", counts[event.TypeCheckpointSaved])
	}
	if all[len(all)-1].Type != event.TypeRunCompleted {
		t.Errorf("last event = %s, want run.completed", all[len(all)-1].Type)
	}
}

func TestNewTrainer_Validation(t *testing.T) {
	t.Parallel()

	score := 1.0
	tests := []struct {
		name   string
		config TrainerConfig
	}{
		{"no processes", TrainerConfig{Steps: 1, Outdir: "out"}},
		{"no steps", TrainerConfig{Processes: 1, Outdir: "out"}},
		{"negative offset", TrainerConfig{Processes: 1, Steps: 1, StepOffset: -1, Outdir: "out"}},
		{"no outdir", TrainerConfig{Processes: 1, Steps: 1}},
		{"negative max episode len", TrainerConfig{Processes: 1, Steps: 1, Outdir: "out", MaxEpisodeLen: -1}},
		{"score without evaluator", TrainerConfig{Processes: 1, Steps: 1, Outdir: "out", SuccessfulScore: &score}},
		{"nil hook", TrainerConfig{Processes: 1, Steps: 1, Outdir: "out", Hooks: []training.Hook{nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewTrainer(tt.config); !errors.Is(err, training.ErrInvalidConfig) {
				t.Errorf("NewTrainer() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestTrainer_NilCollaborators(t *testing.T) {
	t.Parallel()

	trainer, err := NewTrainer(TrainerConfig{Processes: 1, Steps: 1, Outdir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trainer.Train(context.Background(), nil, newEnvSet(1, newContinuingEnv).factory); !errors.Is(err, training.ErrInvalidConfig) {
		t.Errorf("nil agent error = %v", err)
	}
	if _, err := trainer.Train(context.Background(), &recordingAgent{}, nil); !errors.Is(err, training.ErrInvalidConfig) {
		t.Errorf("nil factory error = %v", err)
	}
}
