package qlearning

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/felixgeelhaar/asynctrain/domain/checkpoint"
	"github.com/felixgeelhaar/asynctrain/infrastructure/storage/filesystem"
	"github.com/felixgeelhaar/asynctrain/pack/chain"
)

func newAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	if cfg.Actions == 0 {
		cfg.Actions = chain.NumActions
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.5
	}
	if cfg.Discount == 0 {
		cfg.Discount = 0.9
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no actions", cfg: Config{LearningRate: 0.1}},
		{name: "zero learning rate", cfg: Config{Actions: 2}},
		{name: "discount above one", cfg: Config{Actions: 2, LearningRate: 0.1, Discount: 1.5}},
		{name: "negative epsilon", cfg: Config{Actions: 2, LearningRate: 0.1, Epsilon: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestAgent_Update(t *testing.T) {
	t.Parallel()

	a := newAgent(t, Config{LearningRate: 0.5, Discount: 0.9})

	action, err := a.Act(chain.State{Pos: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Observe(chain.State{Pos: 3}, 1, true, false); err != nil {
		t.Fatal(err)
	}

	if got := a.Value(2, action.(int)); got != 0.5 {
		t.Errorf("Q(2,%v) = %v, want 0.5", action, got)
	}

	stats := a.Statistics().Map()
	if stats["n_updates"] != 1 || stats["cumulative_steps"] != 1 || stats["n_episodes"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestAgent_BootstrapsUnlessDone(t *testing.T) {
	t.Parallel()

	a := newAgent(t, Config{LearningRate: 1, Discount: 0.5})

	// Teach Q(5, *) = 1 first.
	for action := 0; action < 2; action++ {
		a.mu.Lock()
		a.values(5)[action] = 1
		a.mu.Unlock()
	}

	action, _ := a.Act(4)
	_ = a.Observe(5, 0, false, true)
	if got := a.Value(4, action.(int)); got != 0.5 {
		t.Errorf("reset without done: Q = %v, want 0.5", got)
	}

	action, _ = a.Act(6)
	_ = a.Observe(5, 0, true, false)
	if got := a.Value(6, action.(int)); got != 0 {
		t.Errorf("done: Q = %v, want 0", got)
	}
}

func TestAgent_StreamsDoNotMix(t *testing.T) {
	t.Parallel()

	a := newAgent(t, Config{LearningRate: 1, Discount: 0})

	a0, _ := a.Act(chain.State{StreamID: 0, Pos: 1})
	a1, _ := a.Act(chain.State{StreamID: 1, Pos: 7})

	_ = a.Observe(chain.State{StreamID: 1, Pos: 8}, 3, true, false)
	_ = a.Observe(chain.State{StreamID: 0, Pos: 2}, 2, true, false)

	if got := a.Value(1, a0.(int)); got != 2 {
		t.Errorf("stream 0 Q = %v, want 2", got)
	}
	if got := a.Value(7, a1.(int)); got != 3 {
		t.Errorf("stream 1 Q = %v, want 3", got)
	}
}

func TestAgent_EvalModeDoesNotLearn(t *testing.T) {
	t.Parallel()

	a := newAgent(t, Config{Epsilon: 1})
	a.SetEvalMode(true)

	for i := 0; i < 10; i++ {
		if _, err := a.Act(0); err != nil {
			t.Fatal(err)
		}
		_ = a.Observe(1, 1, true, false)
	}
	a.SetEvalMode(false)

	stats := a.Statistics().Map()
	if stats["n_updates"] != 0 || stats["cumulative_steps"] != 0 {
		t.Errorf("eval mode learned: %v", stats)
	}
}

func TestAgent_StatisticsOrder(t *testing.T) {
	t.Parallel()

	names := newAgent(t, Config{}).Statistics().Names()
	want := []string{"average_q", "cumulative_steps", "n_updates", "n_episodes"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Statistics() names = %v, want %v", names, want)
		}
	}
}

func TestAgent_InvalidObservation(t *testing.T) {
	t.Parallel()

	a := newAgent(t, Config{})
	if _, err := a.Act("left"); !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("Act() error = %v", err)
	}
	if err := a.Observe(1.5, 0, false, false); !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("Observe() error = %v", err)
	}
}

func TestAgent_LearnsChain(t *testing.T) {
	t.Parallel()

	a := newAgent(t, Config{LearningRate: 0.5, Discount: 0.9, Epsilon: 0.2, Seed: 1})
	env, err := chain.New(chain.Config{Length: 5, TimeLimit: 50}, 0)
	if err != nil {
		t.Fatal(err)
	}

	for ep := 0; ep < 300; ep++ {
		obs, _ := env.Reset()
		for {
			action, err := a.Act(obs)
			if err != nil {
				t.Fatal(err)
			}
			res, err := env.Step(action)
			if err != nil {
				t.Fatal(err)
			}
			reset := res.Info.NeedsReset()
			_ = a.Observe(res.Observation, res.Reward, res.Done, reset)
			if res.Done || reset {
				break
			}
			obs = res.Observation
		}
	}

	for s := 0; s < 4; s++ {
		if got := a.Greedy(s); got != chain.Right {
			t.Errorf("greedy action in state %d = %d, want right", s, got)
		}
	}
}

func TestAgent_ConcurrentUse(t *testing.T) {
	t.Parallel()

	a := newAgent(t, Config{Epsilon: 0.5})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, _ = a.Act(chain.State{StreamID: w, Pos: i % 4})
				_ = a.Observe(chain.State{StreamID: w, Pos: (i + 1) % 4}, 0, i%10 == 9, false)
				_ = a.Statistics()
			}
		}(w)
	}
	wg.Wait()

	if got := a.Statistics().Map()["n_updates"]; got != 8*500 {
		t.Errorf("n_updates = %v, want %d", got, 8*500)
	}
}

func TestAgent_SaveLoad(t *testing.T) {
	t.Parallel()

	store := filesystem.NewCheckpointStore()
	dir := t.TempDir() + "/100_finish"

	a := newAgent(t, Config{LearningRate: 1, Store: store})
	action, _ := a.Act(3)
	_ = a.Observe(4, 2, true, false)

	if err := a.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ok, _ := store.Exists(context.Background(), dir, CheckpointFile); !ok {
		t.Fatal("checkpoint file missing")
	}

	b := newAgent(t, Config{Store: store})
	if err := b.Load(dir); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := b.Value(3, action.(int)); got != 2 {
		t.Errorf("loaded Q = %v, want 2", got)
	}
	if got := b.Statistics().Map()["n_episodes"]; got != 1 {
		t.Errorf("loaded n_episodes = %v, want 1", got)
	}
}

func TestAgent_LoadErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := filesystem.NewCheckpointStore()
	a := newAgent(t, Config{Store: store})

	if err := a.Load(t.TempDir()); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Load(empty) error = %v, want ErrNotFound", err)
	}

	bad := t.TempDir()
	_ = store.Write(ctx, bad, CheckpointFile, []byte("{not json"))
	if err := a.Load(bad); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("Load(corrupt) error = %v", err)
	}

	wrong := t.TempDir()
	_ = store.Write(ctx, wrong, CheckpointFile, []byte(`{"actions":3,"table":[]}`))
	if err := a.Load(wrong); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("Load(wrong actions) error = %v", err)
	}
}
