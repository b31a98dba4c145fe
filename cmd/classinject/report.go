package main

import (
	"fmt"
	"io"

	"github.com/wippyai/classinject/dispatch"
)

// printSummary writes a run's counts and failures, styled when color is set.
func printSummary(w io.Writer, sum *dispatch.Summary, color bool) {
	render := func(style interface{ Render(...string) string }, s string) string {
		if !color {
			return s
		}
		return style.Render(s)
	}

	fmt.Fprintf(w, "%s %s\n", render(titleStyle, "classinject"), sum.RunID)
	fmt.Fprintf(w, "  scanned    %d\n", sum.Scanned)
	fmt.Fprintf(w, "  matched    %d\n", sum.Matched)
	fmt.Fprintf(w, "  rewritten  %s\n", render(okStyle, fmt.Sprint(sum.Rewritten)))
	fmt.Fprintf(w, "  unchanged  %d\n", sum.Unchanged)
	fmt.Fprintf(w, "  injected   %s\n", render(skipStyle, fmt.Sprint(sum.Skipped)))
	if len(sum.Failed) == 0 {
		fmt.Fprintf(w, "  failed     0\n")
		return
	}
	fmt.Fprintf(w, "  failed     %s\n", render(errorStyle, fmt.Sprint(len(sum.Failed))))
	for _, f := range sum.Failed {
		fmt.Fprintf(w, "    %s\n", render(errorStyle, f.Error()))
	}
}
