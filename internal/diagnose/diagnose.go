// Package diagnose renders a feature's or bug's event log, and a scope's
// episode trace, as a readable timeline for forensic inspection (§4.21). It
// never mutates state: every call here is a read against the store's
// events/ and episodes/ directories, and it carries none of the kernel's
// invariants (§8) because it has no write path.
package diagnose

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/episodes"
	"github.com/devforge/kernel/internal/eventlog"
)

var (
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	actorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	episodeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	seqStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(5).Align(lipgloss.Right)
	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	divider = dimStyle.Render("────────────────────────────────────────────────────────")
)

// Renderer formats timelines for a single output stream.
type Renderer struct {
	output    io.Writer
	verbosity int // 0=normal, 1=-v shows payloads
}

// New returns a Renderer. verbosity 0 prints kind/actor lines only;
// verbosity 1 also prints each event's payload.
func New(output io.Writer, verbosity int) *Renderer {
	return &Renderer{output: output, verbosity: verbosity}
}

// RenderEntityLog reads <root>/events/<entityID>.jsonl and prints it as a
// timeline, oldest first.
func (r *Renderer) RenderEntityLog(root, entityID string) error {
	log, err := eventlog.Open(root, entityID)
	if err != nil {
		return fmt.Errorf("diagnose: open event log: %w", err)
	}
	events, err := log.Read()
	if err != nil {
		return fmt.Errorf("diagnose: read event log: %w", err)
	}

	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("ENTITY"), valueStyle.Render(entityID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("EVENTS"), dimStyle.Render(fmt.Sprintf("(%d)", len(events))))
	fmt.Fprintln(r.output, divider)

	for i, evt := range events {
		r.printEvent(i+1, evt)
	}
	fmt.Fprintln(r.output)
	return nil
}

func (r *Renderer) printEvent(seq int, evt eventlog.Event) {
	ts := timeStyle.Render(evt.Timestamp.Format("15:04:05"))
	seqNum := seqStyle.Render(fmt.Sprintf("%d", seq))
	status := actorStyle.Render(evt.Actor)
	fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seqNum, ts, status, valueStyle.Render(evt.Kind))
	if r.verbosity >= 1 {
		for k, v := range evt.Payload {
			fmt.Fprintf(r.output, "      │          │   %s %v\n", labelStyle.Render(k+":"), v)
		}
	}
}

// RenderEpisodeTrace reads <root>/episodes/<scope>(.jsonl) and prints every
// recorded episode in chronological order.
func (r *Renderer) RenderEpisodeTrace(root, scope string) error {
	store, err := episodes.Open(root, scope, nil, nil)
	if err != nil {
		return fmt.Errorf("diagnose: open episode store: %w", err)
	}
	eps, err := store.All()
	if err != nil {
		return fmt.Errorf("diagnose: read episodes: %w", err)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Timestamp.Before(eps[j].Timestamp) })

	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("EPISODE TRACE"), dimStyle.Render(fmt.Sprintf("(%d)", len(eps))))
	fmt.Fprintln(r.output, divider)

	var totalCost float64
	for i, ep := range eps {
		r.printEpisode(i+1, ep)
		totalCost += ep.CostUSD
	}

	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Total cost:"), valueStyle.Render(fmt.Sprintf("$%.2f", totalCost)))
	fmt.Fprintln(r.output)
	return nil
}

func (r *Renderer) printEpisode(seq int, ep entities.Episode) {
	ts := timeStyle.Render(ep.Timestamp.Format("15:04:05"))
	seqNum := seqStyle.Render(fmt.Sprintf("%d", seq))
	outcome := successStyle.Render("ok")
	if !ep.Outcome.Success {
		outcome = errorStyle.Render("failed")
	}
	fmt.Fprintf(r.output, "%s │ %s │ %s %s %s %s\n", seqNum, ts,
		episodeStyle.Render("EPISODE:"), valueStyle.Render(ep.Goal), outcome,
		dimStyle.Render(fmt.Sprintf("($%.2f, %.0fs, recovery=%d)", ep.CostUSD, ep.DurationSeconds, ep.RecoveryLevel)))
	if r.verbosity >= 1 {
		for _, action := range ep.Actions {
			fmt.Fprintf(r.output, "      │          │   %s\n", dimStyle.Render("- "+action))
		}
		if ep.Reflection != "" {
			fmt.Fprintf(r.output, "      │          │   %s %s\n", labelStyle.Render("reflection:"), dimStyle.Render(ep.Reflection))
		}
		if !ep.Outcome.Success && ep.Outcome.Error != "" {
			fmt.Fprintf(r.output, "      │          │   %s\n", errorStyle.Render(ep.Outcome.Error))
		}
	}
}

// MergedTimeline interleaves an entity's event log with episode records
// sharing its scope, sorted by timestamp, useful when a feature's coder
// episodes and its event log need to be read side by side.
func (r *Renderer) MergedTimeline(root, entityID string) error {
	log, err := eventlog.Open(root, entityID)
	if err != nil {
		return fmt.Errorf("diagnose: open event log: %w", err)
	}
	events, err := log.Read()
	if err != nil {
		return fmt.Errorf("diagnose: read event log: %w", err)
	}
	store, err := episodes.Open(root, entityID, nil, nil)
	if err != nil {
		return fmt.Errorf("diagnose: open episode store: %w", err)
	}
	eps, err := store.All()
	if err != nil {
		return fmt.Errorf("diagnose: read episodes: %w", err)
	}

	type item struct {
		ts   time.Time
		line func(seq int)
	}
	var items []item
	for _, e := range events {
		e := e
		items = append(items, item{ts: e.Timestamp, line: func(seq int) { r.printEvent(seq, e) }})
	}
	for _, ep := range eps {
		ep := ep
		items = append(items, item{ts: ep.Timestamp, line: func(seq int) { r.printEpisode(seq, ep) }})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ts.Before(items[j].ts) })

	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), valueStyle.Render(entityID))
	fmt.Fprintln(r.output, divider)
	for i, it := range items {
		it.line(i + 1)
	}
	fmt.Fprintln(r.output)
	return nil
}
