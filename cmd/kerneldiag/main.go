// Command kerneldiag renders a feature's or bug's event log, and a scope's
// episode trace, as a readable timeline. It is read-only: it never touches
// the state store (§4.21).
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/devforge/kernel/internal/diagnose"
)

// CLI defines kerneldiag's subcommands.
type CLI struct {
	Root string `help:"State root directory." default:"." env:"KERNEL_STATE_ROOT"`

	EventLog EventLogCmd `cmd:"" help:"Render an entity's event log as a timeline."`
	Episodes EpisodesCmd `cmd:"" help:"Render a scope's episode trace."`
	Timeline TimelineCmd `cmd:"" help:"Render an entity's event log and episode trace merged by timestamp."`
}

// EventLogCmd renders <root>/events/<entity>.jsonl.
type EventLogCmd struct {
	Entity  string `arg:"" help:"Entity id (feature id, or bug-<id>)."`
	Verbose bool   `short:"v" help:"Show event payloads."`
}

func (c *EventLogCmd) Run(cli *CLI) error {
	verbosity := 0
	if c.Verbose {
		verbosity = 1
	}
	return diagnose.New(os.Stdout, verbosity).RenderEntityLog(cli.Root, c.Entity)
}

// EpisodesCmd renders <root>/episodes/<scope>.jsonl.
type EpisodesCmd struct {
	Scope   string `arg:"" optional:"" help:"Episode scope (feature id, bug id, or empty for the kernel-wide default)."`
	Verbose bool   `short:"v" help:"Show actions and reflections."`
}

func (c *EpisodesCmd) Run(cli *CLI) error {
	verbosity := 0
	if c.Verbose {
		verbosity = 1
	}
	return diagnose.New(os.Stdout, verbosity).RenderEpisodeTrace(cli.Root, c.Scope)
}

// TimelineCmd merges an entity's event log with its episode trace.
type TimelineCmd struct {
	Entity string `arg:"" help:"Entity id, used both as event log id and episode scope."`
}

func (c *TimelineCmd) Run(cli *CLI) error {
	return diagnose.New(os.Stdout, 0).MergedTimeline(cli.Root, c.Entity)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("kerneldiag"),
		kong.Description("Read-only forensic timeline renderer for the kernel's event logs and episode memory."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
