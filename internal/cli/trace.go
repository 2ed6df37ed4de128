package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/knot/internal/harness"
	"github.com/roach88/knot/internal/ir"
	"github.com/roach88/knot/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	List     bool   // list knots instead of tracing one
	Change   string // optional - filter to a change tag
	State    string // optional - filter to a resulting state tag
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Knot     store.Knot           `json:"knot"`
	Timeline []harness.TraceEvent `json:"timeline"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Transitions int               `json:"transitions"`
	Shown       int               `json:"shown"`
	LastSeq     int64             `json:"last_seq"`
	ByOrigin    map[ir.Origin]int `json:"by_origin"`
	Actions     int               `json:"actions"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [knot-id]",
		Short: "Show the recorded transitions of a knot",
		Long: `Read the transition journal written by "knot run --db".

Without a knot ID the most recently registered knot is shown. Each line is
one published state: its seq, where the change came from, the change, the
resulting state and the requested action.

Examples:
  knot trace --db ./knot.db
  knot trace --db ./knot.db --list
  knot trace --db ./knot.db 0190f3a4-... --change retry
  knot trace --db ./knot.db --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			knotID := ""
			if len(args) == 1 {
				knotID = args[0]
			}
			return runTrace(opts, knotID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list recorded knots")
	cmd.Flags().StringVar(&opts.Change, "change", "", "only show transitions caused by this change tag")
	cmd.Flags().StringVar(&opts.State, "state", "", "only show transitions into this state tag")

	return cmd
}

func runTrace(opts *TraceOptions, knotID string, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// store.Open creates missing files; a trace of nothing is a usage error
	if _, err := os.Stat(opts.Database); err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "journal not found", err)
	}
	journal, err := store.Open(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer journal.Close()

	if opts.List {
		return listKnots(ctx, f, journal)
	}

	var knot store.Knot
	if knotID == "" {
		knot, err = journal.LatestKnot(ctx)
	} else {
		knot, err = journal.ReadKnot(ctx, knotID)
	}
	if store.IsNotFound(err) {
		return f.Fail(ExitCommandError, ErrCodeJournal, "knot not found", err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to read knot", err)
	}

	transitions, err := journal.ReadTransitions(ctx, knot.ID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to read transitions", err)
	}

	result := buildTrace(knot, transitions, opts)
	return f.Success(result, func(w io.Writer) { writeTraceText(w, result) })
}

// buildTrace converts journal rows and applies the filters. Stats always
// describe the whole trace.
func buildTrace(knot store.Knot, transitions []ir.Transition, opts *TraceOptions) TraceResult {
	result := TraceResult{
		Knot:     knot,
		Timeline: []harness.TraceEvent{},
		Stats: TraceStats{
			Transitions: len(transitions),
			LastSeq:     -1,
			ByOrigin:    map[ir.Origin]int{},
		},
	}

	for _, t := range transitions {
		result.Stats.ByOrigin[t.Origin]++
		result.Stats.LastSeq = t.Seq
		if t.ActionTag != "" {
			result.Stats.Actions++
		}

		if opts.Change != "" && string(t.ChangeTag) != opts.Change {
			continue
		}
		if opts.State != "" && string(t.StateTag) != opts.State {
			continue
		}
		result.Timeline = append(result.Timeline, harness.EventFromTransition(t))
	}
	result.Stats.Shown = len(result.Timeline)
	return result
}

func writeTraceText(w io.Writer, result TraceResult) {
	name := result.Knot.Name
	if name == "" {
		name = "unnamed"
	}
	fmt.Fprintf(w, "knot %s (%s, engine %s)\n", result.Knot.ID, name, result.Knot.EngineVersion)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  no matching transitions")
	}
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "  %s\n", harness.FormatEvent(e))
	}

	s := result.Stats
	fmt.Fprintf(w, "\n%d transitions (%d shown), last seq %d, %d actions\n", s.Transitions, s.Shown, s.LastSeq, s.Actions)
}

func listKnots(ctx context.Context, f *OutputFormatter, journal *store.Journal) error {
	knots, err := journal.ListKnots(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to list knots", err)
	}
	if knots == nil {
		knots = []store.KnotSummary{}
	}

	return f.Success(knots, func(w io.Writer) {
		if len(knots) == 0 {
			fmt.Fprintln(w, "No knots recorded.")
			return
		}
		for _, k := range knots {
			fmt.Fprintf(w, "%s  %-10s %d transitions, last seq %d\n", k.ID, k.Name, k.Transitions, k.LastSeq)
		}
	})
}
