// Package kernelconfig loads the kernel's own tuning knobs: budget
// thresholds, trigger thresholds, recovery caps, and runner policy
// (§6's closed-set options table). It is not the persona/skill/MCP
// configuration layer the orchestrator sits above — that one is the
// surrounding application's concern, not the kernel's.
package kernelconfig

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// ExecutionStrategy selects how the autopilot runner behaves when a
// goal blocks on a checkpoint.
type ExecutionStrategy string

const (
	StrategySequential     ExecutionStrategy = "sequential"
	StrategyContinueOnBlock ExecutionStrategy = "continue_on_block"
)

// Config is the kernel's closed-set tuning surface (§6).
type Config struct {
	CheckpointBudgetUSD          float64           `toml:"checkpoint_budget_usd"`
	CheckpointDailyBudgetUSD     float64           `toml:"checkpoint_daily_budget_usd"`
	DurationLimitSeconds         int               `toml:"duration_limit_seconds"`
	ErrorStreakThreshold         int               `toml:"error_streak_threshold"`
	MinExecutionBudget           float64           `toml:"min_execution_budget"`
	MaxRecoveryAttempts          int               `toml:"max_recovery_attempts"`
	SpecCriticScoreThreshold     float64           `toml:"spec_critic_score_threshold"`
	ComplexityMaxEstimatedTurns  int               `toml:"complexity_max_estimated_turns"`
	ExecutionStrategy            ExecutionStrategy `toml:"execution_strategy"`
	CheckCodexAuth               bool              `toml:"check_codex_auth"`
	SkipEmptyOutputValidation    bool              `toml:"skip_empty_output_validation"`

	StateRoot         string `toml:"state_root"`
	TelemetryEndpoint string `toml:"telemetry_endpoint"`

	LLMProvider string `toml:"llm_provider"`
	LLMModel    string `toml:"llm_model"`
	LLMAPIKey   string `toml:"llm_api_key"`
}

// Default returns the documented defaults for every closed-set option.
func Default() *Config {
	return &Config{
		CheckpointBudgetUSD:         5.0,
		CheckpointDailyBudgetUSD:    25.0,
		DurationLimitSeconds:        3600,
		ErrorStreakThreshold:        3,
		MinExecutionBudget:          1.0,
		MaxRecoveryAttempts:         6,
		SpecCriticScoreThreshold:    0.7,
		ComplexityMaxEstimatedTurns: 8,
		ExecutionStrategy:           StrategySequential,
		CheckCodexAuth:              false,
		SkipEmptyOutputValidation:   false,
		StateRoot:                   ".devforge",
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with their environment value,
// leaving unset references blank, the way the teacher's config loader
// resolves environment-backed fields before decoding.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads a TOML file at path, expanding ${VAR} references in
// secret-bearing fields (state root override, telemetry endpoint)
// before decoding, and filling every unset field from Default.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // additional env vars for ${VAR} expansion below, if a .env is present

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kernel config: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(expandEnv(raw)), cfg); err != nil {
		return nil, fmt.Errorf("parse kernel config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid kernel config: %w", err)
	}
	return cfg, nil
}

// Watch reloads path on every write and calls onChange with the new
// config; malformed reloads are dropped rather than passed to onChange,
// so a mid-edit save never hands the caller a half-written config.
// Callers stop watching by canceling ctx.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("kernelconfig: new watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("kernelconfig: watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				time.Sleep(100 * time.Millisecond) // debounce: let the writer finish
				if cfg, err := Load(path); err == nil {
					onChange(cfg)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func (c *Config) validate() error {
	if c.MaxRecoveryAttempts <= 0 {
		return fmt.Errorf("max_recovery_attempts must be positive, got %d", c.MaxRecoveryAttempts)
	}
	if c.ExecutionStrategy != StrategySequential && c.ExecutionStrategy != StrategyContinueOnBlock {
		return fmt.Errorf("execution_strategy must be %q or %q, got %q", StrategySequential, StrategyContinueOnBlock, c.ExecutionStrategy)
	}
	if c.CheckpointDailyBudgetUSD < c.CheckpointBudgetUSD {
		return fmt.Errorf("checkpoint_daily_budget_usd (%.2f) must be >= checkpoint_budget_usd (%.2f)", c.CheckpointDailyBudgetUSD, c.CheckpointBudgetUSD)
	}
	return nil
}
