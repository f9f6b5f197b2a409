package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/randalmurphal/compflow/pkg/compflow"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// printErr prints a titled error with an explanation and returns a plain
// error for cobra, which does not print it again.
func printErr(w io.Writer, title, explanation string, hints ...string) error {
	red.Fprintf(w, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(w, "\n%s\n", explanation)
	}
	if len(hints) > 0 {
		fmt.Fprintln(w)
		for _, h := range hints {
			fmt.Fprintf(w, "  • %s\n", h)
		}
	}
	return fmt.Errorf("%s", title)
}

func configError(path string, err error) error {
	return fmt.Errorf("load config %s: %w", path, err)
}

// stateColor picks the color a state is printed in.
func stateColor(s compflow.State) *color.Color {
	switch s {
	case compflow.StateCompleted, compflow.StateCacheHit:
		return green
	case compflow.StateRetrying, compflow.StateFallback:
		return yellow
	case compflow.StateFailed, compflow.StateCancelled:
		return red
	default:
		return cyan
	}
}

// printTransition prints one line of live progress.
func printTransition(w io.Writer, label string, md compflow.StateMetadata) {
	line := fmt.Sprintf("%3d%% %-20s", md.Progress, md.State)
	var extra []string
	if md.Step != "" {
		extra = append(extra, md.Step)
	}
	if md.Target != "" {
		extra = append(extra, md.Target)
	}
	if md.Error != nil {
		extra = append(extra, md.Error.Kind.String())
	}

	if label != "" {
		faint.Fprintf(w, "[%s] ", label)
	}
	stateColor(md.State).Fprint(w, line)
	if len(extra) > 0 {
		faint.Fprintf(w, " %s", strings.Join(extra, " · "))
	}
	fmt.Fprintln(w)
}

// printReport prints the outcome of one flow.
func printReport(w io.Writer, label string, r *compflow.Report) {
	if r.Err != nil {
		red.Fprintf(w, "✗ %s: %s after %s\n", label, r.Final.State, r.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  %s\n", r.Err.Error())
		if r.Err.FallbackAttempted {
			fmt.Fprintf(w, "  tried %d fallback target(s)\n", r.Err.FallbacksTried)
		}
		return
	}

	source := r.Result.Target
	if r.Result.FromCache {
		source = "cache"
	}
	green.Fprintf(w, "✓ %s: %s in %s\n", label, source, r.Duration.Round(time.Millisecond))
	faint.Fprintf(w, "  key %s\n", r.Result.CacheKey.Key)
	fmt.Fprintln(w, r.Result.Code)
}
