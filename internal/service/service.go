// Package service implements playbook's external operations on top of the
// engine, the store and the analysis packages. Transport layers (MCP, CLI)
// call into a Service and never reach the engine directly.
package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/playbook/internal/analysis"
	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/templates"
	"github.com/rendis/playbook/internal/validation"
	"github.com/rendis/playbook/pkg/schema"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultRunTimeout   = 5 * time.Minute
	DefaultHistoryLimit = 50
)

// Config wires a Service. Store and Engine are required; the rest default.
type Config struct {
	Store      store.Store
	Engine     *engine.Engine
	Chains     *engine.ChainRunner
	Validator  *validation.WorkflowValidator
	Templates  *templates.Catalog
	Learner    *analysis.Learner
	RunTimeout time.Duration
	Logger     *slog.Logger

	// LearningDisabled turns off pattern mining and suggestions; they then
	// fail with LEARNING_DISABLED. Learning is on by default.
	LearningDisabled bool
}

// Service is safe for concurrent use.
type Service struct {
	store     store.Store
	engine    *engine.Engine
	chains    *engine.ChainRunner
	validator *validation.WorkflowValidator
	templates *templates.Catalog
	learner   *analysis.Learner
	cel       *expressions.CELEngine

	runTimeout      time.Duration
	learningEnabled bool
	logger          *slog.Logger
	now             func() time.Time
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Engine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "service needs a store and an engine")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Chains == nil {
		cfg.Chains = engine.NewChainRunner(cfg.Engine.Steps(), engine.DefaultMaxChainCommands, cfg.Logger)
	}
	if cfg.Validator == nil {
		v, err := validation.NewWorkflowValidator(validation.Options{Conditions: cfg.Engine.Conditions()})
		if err != nil {
			return nil, err
		}
		cfg.Validator = v
	}
	if cfg.Templates == nil {
		c, err := templates.Builtin()
		if err != nil {
			return nil, err
		}
		cfg.Templates = c
	}
	if cfg.Learner == nil {
		l, err := analysis.NewLearner(nil, nil, cfg.Logger)
		if err != nil {
			return nil, err
		}
		cfg.Learner = l
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	return &Service{
		store:           cfg.Store,
		engine:          cfg.Engine,
		chains:          cfg.Chains,
		validator:       cfg.Validator,
		templates:       cfg.Templates,
		learner:         cfg.Learner,
		cel:             cel,
		runTimeout:      cfg.RunTimeout,
		learningEnabled: !cfg.LearningDisabled,
		logger:          cfg.Logger,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// storeErr passes typed errors (not found, conflict) through and wraps
// driver failures as STORE_ERROR.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *schema.Error
	if errors.As(err, &se) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}
