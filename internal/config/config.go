package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides (PLAYBOOK_DB_PATH, ...).
const EnvPrefix = "PLAYBOOK"

// Config holds all playbook configuration.
// Priority: env vars > config file > defaults.
type Config struct {
	DBPath               string        `mapstructure:"db_path"`
	LogLevel             string        `mapstructure:"log_level"`
	LogFile              string        `mapstructure:"log_file"`
	HistoryRetention     int           `mapstructure:"history_retention"`
	MaxChainCommands     int           `mapstructure:"max_chain_commands"`
	RunTimeout           time.Duration `mapstructure:"run_timeout"`
	PoolSize             int           `mapstructure:"pool_size"`
	DefaultMaxIterations int           `mapstructure:"default_max_iterations"`
	MaxIterationsCeiling int           `mapstructure:"max_iterations_ceiling"`
	LearningEnabled      bool          `mapstructure:"learning_enabled"`
	SchedulerInterval    time.Duration `mapstructure:"scheduler_interval"`
	Skills               []SkillServer `mapstructure:"skills"`
	SuggestionRules      []Rule        `mapstructure:"suggestion_rules"`
}

// SkillServer mounts an MCP stdio server as a skill namespace.
type SkillServer struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

// Rule is a configurable suggestion rule; see analysis.Rule.
type Rule struct {
	Source   string `mapstructure:"source"`
	Type     string `mapstructure:"type"`
	Priority string `mapstructure:"priority"`
	When     string `mapstructure:"when"`
	Text     string `mapstructure:"text"`
}

// Dir returns the playbook state directory (~/.playbook).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".playbook"
	}
	return filepath.Join(home, ".playbook")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join(Dir(), "playbook.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("history_retention", 1000)
	v.SetDefault("max_chain_commands", 50)
	v.SetDefault("run_timeout", 5*time.Minute)
	v.SetDefault("pool_size", 10)
	v.SetDefault("default_max_iterations", 100)
	v.SetDefault("max_iterations_ceiling", 10000)
	v.SetDefault("learning_enabled", true)
	v.SetDefault("scheduler_interval", time.Minute)
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yaml is looked up in the working directory and Dir() and may be
// absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HistoryRetention <= 0 {
		errs = append(errs, fmt.Errorf("history_retention must be positive, got %d", c.HistoryRetention))
	}
	if c.MaxChainCommands <= 0 {
		errs = append(errs, fmt.Errorf("max_chain_commands must be positive, got %d", c.MaxChainCommands))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool_size must be positive, got %d", c.PoolSize))
	}
	if c.DefaultMaxIterations <= 0 || c.DefaultMaxIterations > c.MaxIterationsCeiling {
		errs = append(errs, fmt.Errorf("default_max_iterations must be in 1..%d, got %d",
			c.MaxIterationsCeiling, c.DefaultMaxIterations))
	}
	if c.SchedulerInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler_interval must be positive"))
	}
	for i, s := range c.Skills {
		if s.Name == "" || s.Command == "" {
			errs = append(errs, fmt.Errorf("skills[%d]: name and command are required", i))
		}
	}
	return errors.Join(errs...)
}
