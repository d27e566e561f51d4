package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/asynctrain/domain/training"
	"github.com/felixgeelhaar/asynctrain/infrastructure/telemetry"
)

// HookInvoker calls global step hooks from any number of workers while
// guaranteeing that no two invocations overlap.
type HookInvoker struct {
	mu      sync.Mutex
	hooks   []training.Hook
	metrics telemetry.Metrics
}

// NewHookInvoker creates an invoker for hooks in registration order.
func NewHookInvoker(hooks []training.Hook, metrics telemetry.Metrics) *HookInvoker {
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	return &HookInvoker{
		hooks:   append([]training.Hook(nil), hooks...),
		metrics: metrics,
	}
}

// Len returns the number of registered hooks.
func (h *HookInvoker) Len() int {
	return len(h.hooks)
}

// Invoke calls every hook with (env, agent, step) under the shared lock.
// The first failing hook aborts the remaining ones.
func (h *HookInvoker) Invoke(ctx context.Context, env training.Environment, agent training.Agent, step int64) error {
	if len(h.hooks) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, hook := range h.hooks {
		start := time.Now()
		err := hook(env, agent, step)
		h.metrics.RecordHookInvocation(ctx, time.Since(start), err == nil)
		if err != nil {
			return fmt.Errorf("hook %d at step %d: %w", i, step, err)
		}
	}
	return nil
}
