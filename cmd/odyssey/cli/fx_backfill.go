package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
)

// Exit codes of the backfill command.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitPartialFail = 10
)

// FXBackfillOptions configures the backfill command execution.
type FXBackfillOptions struct {
	From       string
	To         string
	JSONOutput bool
	NoColor    bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// BackfillCommand runs a synchronous historical import and reports per-day
// outcomes. Days that failed upstream yield ExitPartialFail so scripts can
// rerun the same range; already stored days are skipped on the rerun.
func (c *FXOpsCLI) BackfillCommand(ctx context.Context, opts FXBackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(opts.From))
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx backfill: invalid --from %q (expected YYYY-MM-DD)\n", opts.From)
		return ExitError
	}
	to, err := time.Parse(time.DateOnly, strings.TrimSpace(opts.To))
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx backfill: invalid --to %q (expected YYYY-MM-DD)\n", opts.To)
		return ExitError
	}
	if from.After(to) {
		fmt.Fprintln(opts.Stderr, "fx backfill: --from must not be after --to")
		return ExitError
	}
	report, err := c.feed.Backfill(ctx, from, to)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx backfill: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			fmt.Fprintf(opts.Stderr, "fx backfill: %v\n", err)
			return ExitError
		}
	} else {
		renderBackfillHuman(opts.Stdout, report, opts.NoColor)
	}
	if len(report.Failed) > 0 {
		return ExitPartialFail
	}
	return ExitOK
}

func renderBackfillHuman(out io.Writer, report ratefeed.BackfillReport, noColor bool) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed, color.Bold)
	if noColor {
		for _, c := range []*color.Color{ok, warn, bad} {
			c.DisableColor()
		}
	}
	fmt.Fprintf(out, "TCMB backfill %s to %s (%d days)\n", report.Start, report.End, report.Days)
	ok.Fprintf(out, "fetched: %d", len(report.Fetched))
	fmt.Fprintf(out, " (%d rates inserted)\n", report.Inserted)
	for _, d := range report.Fetched {
		fmt.Fprintf(out, "  %s %d rates\n", d.Date, d.Count)
	}
	warn.Fprintf(out, "skipped: %d\n", len(report.Skipped))
	for _, d := range report.Skipped {
		fmt.Fprintf(out, "  %s %s\n", d.Date, d.Reason)
	}
	if len(report.Failed) == 0 {
		ok.Fprintln(out, "failed: 0")
	} else {
		bad.Fprintf(out, "failed: %d\n", len(report.Failed))
		for _, d := range report.Failed {
			fmt.Fprintf(out, "  %s %s\n", d.Date, d.Error)
		}
	}
	fmt.Fprintf(out, "marked current: %d\n", report.MarkedCurrent)
}
