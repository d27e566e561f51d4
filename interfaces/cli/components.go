package cli

import (
	"fmt"

	"github.com/felixgeelhaar/asynctrain/application"
	"github.com/felixgeelhaar/asynctrain/domain/checkpoint"
	domainconfig "github.com/felixgeelhaar/asynctrain/domain/config"
	"github.com/felixgeelhaar/asynctrain/domain/training"
	infraconfig "github.com/felixgeelhaar/asynctrain/infrastructure/config"
	"github.com/felixgeelhaar/asynctrain/pack/chain"
	"github.com/felixgeelhaar/asynctrain/pack/qlearning"
)

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string, strict bool) (*domainconfig.TrainingConfig, error) {
	if path == "" {
		cfg := domainconfig.DefaultConfig()
		if errs := domainconfig.NewValidator().Validate(cfg); errs.HasErrors() {
			return nil, fmt.Errorf("%w: %v", domainconfig.ErrValidationFailed, errs)
		}
		return cfg, nil
	}
	loader := infraconfig.NewLoaderWithOptions(infraconfig.WithStrictEnv(strict))
	return loader.LoadFile(path)
}

// newAgent builds the configured agent on top of store.
func newAgent(cfg *domainconfig.TrainingConfig, store checkpoint.Store) (*qlearning.Agent, error) {
	switch cfg.Agent.Kind {
	case "qlearning":
		return qlearning.New(qlearning.Config{
			Actions:      chain.NumActions,
			LearningRate: cfg.Agent.LearningRate,
			Discount:     cfg.Agent.Discount,
			Epsilon:      cfg.Agent.Epsilon,
			Seed:         cfg.Agent.Seed,
			Store:        store,
		})
	default:
		return nil, fmt.Errorf("%w: unknown agent %q", domainconfig.ErrBuildFailed, cfg.Agent.Kind)
	}
}

// newEnvFactory builds the configured environment factory.
func newEnvFactory(cfg *domainconfig.TrainingConfig) (training.EnvFactory, error) {
	switch cfg.Environment.Kind {
	case "chain":
		return chain.Factory(chain.Config{
			Length:    cfg.Environment.Length,
			TimeLimit: cfg.Environment.TimeLimit,
			Slip:      cfg.Environment.Slip,
			Seed:      cfg.Environment.Seed,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown environment %q", domainconfig.ErrBuildFailed, cfg.Environment.Kind)
	}
}

// newEvaluator returns nil when evaluation is disabled.
func newEvaluator(cfg *domainconfig.TrainingConfig) (*application.IntervalEvaluator, error) {
	if !cfg.Evaluation.Enabled {
		return nil, nil
	}
	return application.NewIntervalEvaluator(cfg.Evaluation.Interval, cfg.Evaluation.Episodes, cfg.Evaluation.MaxEpisodeLen)
}
