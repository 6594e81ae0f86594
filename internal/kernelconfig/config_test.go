package kernelconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSatisfiesValidation(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	os.Setenv("KERNELCONFIG_TEST_ROOT", "/var/run/devforge")
	defer os.Unsetenv("KERNELCONFIG_TEST_ROOT")

	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	body := `
state_root = "${KERNELCONFIG_TEST_ROOT}"
max_recovery_attempts = 4
execution_strategy = "continue_on_block"
checkpoint_budget_usd = 3.0
checkpoint_daily_budget_usd = 10.0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateRoot != "/var/run/devforge" {
		t.Fatalf("expected expanded state root, got %q", cfg.StateRoot)
	}
	if cfg.MaxRecoveryAttempts != 4 {
		t.Fatalf("expected override to apply, got %d", cfg.MaxRecoveryAttempts)
	}
	if cfg.ExecutionStrategy != StrategyContinueOnBlock {
		t.Fatalf("expected continue_on_block, got %q", cfg.ExecutionStrategy)
	}
}

func TestLoadRejectsInvalidExecutionStrategy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	if err := os.WriteFile(path, []byte(`execution_strategy = "parallel"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown execution_strategy")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	if err := os.WriteFile(path, []byte(`max_recovery_attempts = 4`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`max_recovery_attempts = 9`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.MaxRecoveryAttempts != 9 {
			t.Fatalf("expected reloaded value 9, got %d", cfg.MaxRecoveryAttempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestLoadRejectsDailyBudgetBelowSingle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	body := `
checkpoint_budget_usd = 10.0
checkpoint_daily_budget_usd = 5.0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when daily budget is below the single-unit budget")
	}
}
