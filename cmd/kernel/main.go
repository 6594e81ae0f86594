// Command kernel runs the autopilot and campaign execution loops against a
// real LLM provider: the production entry point for the orchestration
// kernel, as opposed to kerneldiag (read-only forensics) and kernelctl
// (approval surface).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/devforge/kernel/internal/autopilot"
	"github.com/devforge/kernel/internal/bug"
	"github.com/devforge/kernel/internal/campaign"
	"github.com/devforge/kernel/internal/checkpoint"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/feature"
	"github.com/devforge/kernel/internal/gate"
	"github.com/devforge/kernel/internal/goaladapter"
	"github.com/devforge/kernel/internal/kernelconfig"
	"github.com/devforge/kernel/internal/llmdispatch"
	"github.com/devforge/kernel/internal/recovery"
	"github.com/devforge/kernel/internal/store"
)

// CLI defines kernel's subcommands.
type CLI struct {
	Root       string `help:"State root directory." default:"." env:"KERNEL_STATE_ROOT"`
	ConfigPath string `help:"Path to the kernel's TOML tuning file." default:"kernel.toml" env:"KERNEL_CONFIG"`

	RunGoals RunGoalsCmd `cmd:"" name:"run_goals" help:"Start an autopilot session over one or more goal references."`
	Resume   ResumeCmd   `cmd:"" help:"Resume a paused autopilot session."`
	RunDay   RunDayCmd   `cmd:"" name:"run_day" help:"Execute the next day of a campaign."`
}

// wiring holds the kernel's fully-assembled dependency graph, built once
// per invocation from kernelconfig and a real LLM provider.
type wiring struct {
	repo      *store.Repo
	cfg       *kernelconfig.Config
	adapter   *goaladapter.Adapter
	checkpts  *checkpoint.Manager
	runner    *autopilot.Runner
	executor  *campaign.Executor
}

func assemble(root, configPath string) (*wiring, error) {
	cfg, err := kernelconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("kernel: load config: %w", err)
	}

	s, err := store.Open(root)
	if err != nil {
		return nil, fmt.Errorf("kernel: open store: %w", err)
	}
	repo := store.NewRepo(s)

	apiKey := cfg.LLMAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("KERNEL_LLM_API_KEY")
	}
	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: create LLM provider: %w", err)
	}
	dispatcher := llmdispatch.New(provider)

	checkpts := checkpoint.New(repo, nil, nil, uuid.NewString)
	g := gate.New(dispatcher, cfg.ComplexityMaxEstimatedTurns)
	rec := recovery.New(recovery.Config{
		BaseBackoff:             time.Second,
		CircuitBreakerThreshold: cfg.ErrorStreakThreshold,
		MaxRecoveryAttempts:     cfg.MaxRecoveryAttempts,
	}, nil)

	featureCfg := feature.Config{
		MaxCriticRounds:          3,
		SpecCriticScoreThreshold: cfg.SpecCriticScoreThreshold,
		MaxEstimatedTurns:        cfg.ComplexityMaxEstimatedTurns,
	}
	featureOrch := feature.New(repo, dispatcher, g, rec, checkpts, nil, featureCfg)
	bugOrch := bug.New(repo, dispatcher, rec, checkpts, nil)
	adapter := goaladapter.New(repo, featureOrch, bugOrch, goaladapter.Config{})

	runner := autopilot.New(repo, checkpts, adapter, autopilot.Config{
		PerUnitThreshold:     cfg.CheckpointBudgetUSD,
		MinExecutionBudget:   cfg.MinExecutionBudget,
		ErrorStreakThreshold: cfg.ErrorStreakThreshold,
		MaxSkipCount:         10,
	}, uuid.NewString)

	executor := campaign.New(repo, runner, campaign.HeuristicReplanner{}, adapter, checkpts, uuid.NewString)

	return &wiring{repo: repo, cfg: cfg, adapter: adapter, checkpts: checkpts, runner: runner, executor: executor}, nil
}

// RunGoalsCmd starts an autopilot session from a list of goal references
// (e.g. "feature:checkout:12", "bug:b1").
type RunGoalsCmd struct {
	Budget      float64  `help:"Total budget in USD for this session." default:"5.0"`
	DurationSec float64  `help:"Wall-clock duration limit in seconds (0 = unbounded)." default:"0"`
	ContinueOnBlock bool `help:"Skip blocked goals instead of pausing the whole session."`
	Goals       []string `arg:"" help:"Goal references to run."`
}

func (c *RunGoalsCmd) Run(cli *CLI) error {
	w, err := assemble(cli.Root, cli.ConfigPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	goals, err := w.adapter.ResolveGoals(ctx, c.Goals)
	if err != nil {
		return err
	}
	sess, err := w.runner.Start(ctx, goals, c.Budget, c.DurationSec, entities.TriggerEndOfSession, c.ContinueOnBlock)
	if sess != nil {
		fmt.Printf("session %s: status=%s spent=$%.2f\n", sess.SessionID, sess.Status, sess.CostSpentUSD)
	}
	return err
}

// ResumeCmd resumes a paused autopilot session.
type ResumeCmd struct {
	SessionID string `arg:""`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	w, err := assemble(cli.Root, cli.ConfigPath)
	if err != nil {
		return err
	}
	sess, err := w.runner.Resume(context.Background(), c.SessionID)
	if sess != nil {
		fmt.Printf("session %s: status=%s spent=$%.2f\n", sess.SessionID, sess.Status, sess.CostSpentUSD)
	}
	return err
}

// RunDayCmd executes the next day of a campaign.
type RunDayCmd struct {
	CampaignID string `arg:""`
}

func (c *RunDayCmd) Run(cli *CLI) error {
	w, err := assemble(cli.Root, cli.ConfigPath)
	if err != nil {
		return err
	}
	camp, err := w.repo.LoadCampaign(c.CampaignID)
	if err != nil {
		return err
	}
	if camp == nil {
		return fmt.Errorf("kernel: campaign %s not found", c.CampaignID)
	}
	if err := w.executor.RunDay(context.Background(), camp); err != nil {
		return err
	}
	fmt.Printf("campaign %s: day=%d state=%s spent=$%.2f\n", camp.CampaignID, camp.CurrentDay, camp.State, camp.SpentUSD)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("kernel"), kong.Description("Run the orchestration kernel's autopilot and campaign loops."))
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
