package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
)

// Deps builds the collaborators a command needs. Constructors run lazily so a
// jobs command never opens a database pool.
type Deps struct {
	FX     func(ctx context.Context) (*FXOpsCLI, func(), error)
	Jobs   func() *JobsCLI
	Stdout io.Writer
	Stderr io.Writer
}

// IsCommand reports whether args name a CLI command rather than the server.
func IsCommand(args []string) bool {
	return len(args) > 0 && (args[0] == "fx" || args[0] == "jobs")
}

// Run dispatches `fx backfill` and `jobs trigger|stats` and returns the exit code.
func Run(ctx context.Context, args []string, deps Deps) int {
	if len(args) < 2 {
		usage(deps.Stderr)
		return ExitError
	}
	switch args[0] + " " + args[1] {
	case "fx backfill":
		return runBackfill(ctx, args[2:], deps)
	case "jobs trigger":
		return runTrigger(ctx, args[2:], deps)
	case "jobs stats":
		return runStats(ctx, deps)
	}
	usage(deps.Stderr)
	return ExitError
}

func runBackfill(ctx context.Context, args []string, deps Deps) int {
	fs := flag.NewFlagSet("fx backfill", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	from := fs.String("from", "", "first day, YYYY-MM-DD")
	to := fs.String("to", "", "last day, YYYY-MM-DD")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	noColor := fs.Bool("no-color", false, "disable colored output")
	if err := fs.Parse(args); err != nil {
		return ExitError
	}
	if *from == "" || *to == "" {
		fmt.Fprintln(deps.Stderr, "fx backfill: --from and --to are required")
		return ExitError
	}
	fx, cleanup, err := deps.FX(ctx)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "fx backfill: %v\n", err)
		return ExitError
	}
	defer cleanup()
	return fx.BackfillCommand(ctx, FXBackfillOptions{
		From:       *from,
		To:         *to,
		JSONOutput: *asJSON,
		NoColor:    *noColor,
		Stdout:     deps.Stdout,
		Stderr:     deps.Stderr,
	})
}

func runTrigger(ctx context.Context, args []string, deps Deps) int {
	if len(args) != 1 {
		fmt.Fprintln(deps.Stderr, "usage: odyssey jobs trigger <name>")
		return ExitError
	}
	c := deps.Jobs()
	defer c.Close()
	info, err := c.Trigger(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		fmt.Fprintf(deps.Stderr, "jobs trigger: %v\n", err)
		return ExitError
	}
	fmt.Fprintf(deps.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return ExitOK
}

func runStats(ctx context.Context, deps Deps) int {
	c := deps.Jobs()
	defer c.Close()
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "jobs stats: %v\n", err)
		return ExitError
	}
	fmt.Fprintf(deps.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	return ExitOK
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage:
  odyssey fx backfill --from YYYY-MM-DD --to YYYY-MM-DD [--json] [--no-color]
  odyssey jobs trigger <rates:tcmb:refresh|rates:crypto:refresh|idempotency:cleanup>
  odyssey jobs stats`)
}
