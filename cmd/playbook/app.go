package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/playbook/internal/analysis"
	"github.com/rendis/playbook/internal/capability"
	"github.com/rendis/playbook/internal/config"
	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/internal/service"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/validation"
	"github.com/rendis/playbook/pkg/schema"
)

// app is the wired process: config, logger, store, capabilities, engine
// and service.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.LibSQLStore
	registry *capability.Registry
	skills   *capability.SkillManager
	engine   *engine.Engine
	svc      *service.Service
	closeLog func() error
}

// openApp loads configuration and wires every component. Remote skill
// servers are only started when mountSkills is set; a server that fails to
// start is logged and skipped.
func openApp(ctx context.Context, configPath string, mountSkills bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.Setup(logging.ParseLevel(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry = capability.NewRegistry()
	if err := capability.RegisterBuiltins(a.registry, logger); err != nil {
		a.Close()
		return nil, err
	}
	a.skills = capability.NewSkillManager(a.registry, capability.DefaultBreakerConfig(), logger)
	if mountSkills {
		for _, sk := range cfg.Skills {
			sc := capability.ServerConfig{Name: sk.Name, Command: sk.Command, Args: sk.Args, Env: sk.Env}
			if err := a.skills.Load(ctx, sc, version); err != nil {
				logger.Warn("skill server unavailable", "skill", sk.Name, "error", err)
			}
		}
	}

	a.engine = engine.New(engine.Config{
		Invoker:              a.registry,
		PoolSize:             cfg.PoolSize,
		DefaultMaxIterations: cfg.DefaultMaxIterations,
		MaxIterationsCeiling: cfg.MaxIterationsCeiling,
		Logger:               logger,
	})

	a.svc, err = newService(cfg, a.store, a.registry, a.engine, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newService(cfg *config.Config, st store.Store, reg *capability.Registry, eng *engine.Engine, logger *slog.Logger) (*service.Service, error) {
	validator, err := validation.NewWorkflowValidator(validation.Options{
		Capabilities:         reg,
		Conditions:           eng.Conditions(),
		MaxIterationsCeiling: cfg.MaxIterationsCeiling,
	})
	if err != nil {
		return nil, err
	}
	learner, err := analysis.NewLearner(rulesFromConfig(cfg.SuggestionRules), time.Local, logger)
	if err != nil {
		return nil, fmt.Errorf("suggestion_rules: %w", err)
	}
	return service.New(service.Config{
		Store:            st,
		Engine:           eng,
		Chains:           engine.NewChainRunner(eng.Steps(), cfg.MaxChainCommands, logger),
		Validator:        validator,
		Learner:          learner,
		RunTimeout:       cfg.RunTimeout,
		LearningDisabled: !cfg.LearningEnabled,
		Logger:           logger,
	})
}

// openStore opens and migrates the libSQL database at cfg.DBPath. A plain
// path is turned into a file: DSN and its directory is created.
func openStore(ctx context.Context, cfg *config.Config) (*store.LibSQLStore, error) {
	dsn := cfg.DBPath
	if !strings.Contains(dsn, ":") || filepath.IsAbs(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = "file:" + dsn
	}
	st, err := store.NewLibSQLStore(dsn, cfg.HistoryRetention)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func rulesFromConfig(in []config.Rule) []analysis.Rule {
	if len(in) == 0 {
		return nil
	}
	out := make([]analysis.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, analysis.Rule{
			Source:   r.Source,
			Type:     schema.SuggestionType(r.Type),
			Priority: schema.Priority(r.Priority),
			When:     r.When,
			Text:     r.Text,
		})
	}
	return out
}

// Close releases the skill servers, the store and the log file.
func (a *app) Close() error {
	var errs []error
	if a.skills != nil {
		errs = append(errs, a.skills.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, opts *rootOptions, mountSkills bool, fn func(*app) error) error {
	a, err := openApp(ctx, opts.configPath, mountSkills)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
