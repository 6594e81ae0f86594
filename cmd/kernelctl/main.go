// Command kernelctl is the minimal approval surface (§6): list pending
// checkpoints, inspect one, and resolve it with a chosen option.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/devforge/kernel/internal/checkpoint"
	"github.com/devforge/kernel/internal/store"
)

// CLI defines kernelctl's subcommands.
type CLI struct {
	Root string `help:"State root directory." default:"." env:"KERNEL_STATE_ROOT"`

	ListPending ListPendingCmd `cmd:"" name:"list_pending" help:"List every pending checkpoint."`
	Get         GetCmd         `cmd:"" help:"Show one checkpoint's question, options, and similar past decisions."`
	Resolve     ResolveCmd     `cmd:"" help:"Resolve a pending checkpoint with a chosen option."`
}

func openManager(root string) (*checkpoint.Manager, error) {
	s, err := store.Open(root)
	if err != nil {
		return nil, fmt.Errorf("kernelctl: open store: %w", err)
	}
	repo := store.NewRepo(s)
	return checkpoint.New(repo, nil, nil, nil), nil
}

// ListPendingCmd lists every pending checkpoint.
type ListPendingCmd struct{}

func (c *ListPendingCmd) Run(cli *CLI) error {
	mgr, err := openManager(cli.Root)
	if err != nil {
		return err
	}
	pending, err := mgr.ListPending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending checkpoints")
		return nil
	}
	for _, cp := range pending {
		fmt.Printf("%s  %-20s  %s\n", cp.CheckpointID, cp.Trigger, cp.Question)
	}
	return nil
}

// GetCmd shows one checkpoint in full.
type GetCmd struct {
	ID string `arg:"" help:"Checkpoint id."`
}

func (c *GetCmd) Run(cli *CLI) error {
	mgr, err := openManager(cli.Root)
	if err != nil {
		return err
	}
	cp, err := mgr.Get(c.ID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ResolveCmd resolves a pending checkpoint.
type ResolveCmd struct {
	ID     string `arg:"" help:"Checkpoint id."`
	Option string `arg:"" help:"Chosen option id."`
	Notes  string `help:"Free-text resolution notes, fed back into future similar-decision lookups."`
}

func (c *ResolveCmd) Run(cli *CLI) error {
	mgr, err := openManager(cli.Root)
	if err != nil {
		return err
	}
	cp, err := mgr.Resolve(context.Background(), c.ID, checkpoint.Resolution{OptionID: c.Option, Notes: c.Notes})
	if err != nil {
		return err
	}
	fmt.Printf("%s resolved: %s\n", cp.CheckpointID, cp.ResolvedOption)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("kernelctl"),
		kong.Description("Minimal approval surface for pending checkpoints."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
