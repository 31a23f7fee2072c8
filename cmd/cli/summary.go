package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/txn-tidy/internal/app"
	"github.com/fatih/color"
)

var (
	headerColor = color.New(color.BgBlue, color.FgWhite)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed, color.Bold)
	keyColor    = color.New(color.FgCyan)
)

// printSummary writes one line per counter, coloured by whether it needs attention.
func printSummary(w io.Writer, res *app.Result) {
	s := res.Stats
	mode := "run"
	if s.DryRun {
		mode = "dry run"
	}
	headerColor.Fprintf(w, " %s %s (%s) ", mode, s.RunID, s.Classifier)
	fmt.Fprintln(w)

	line := func(c *color.Color, label string, n int) {
		if n == 0 {
			c = okColor
		}
		fmt.Fprintf(w, "  %-24s %s\n", label, c.Sprint(n))
	}

	fmt.Fprintf(w, "  %-24s %d\n", "selected", s.Selected)
	fmt.Fprintf(w, "  %-24s %d\n", "batches", s.Batches)
	fmt.Fprintf(w, "  %-24s %s\n", "updated", okColor.Sprint(s.Updated))
	line(errorColor, "failed batches", s.FailedBatches)
	line(errorColor, "write failures", s.WriteFailures)
	line(warnColor, "missing results", s.MissingResults)
	line(warnColor, "unmatched results", s.UnmatchedResults)
	line(warnColor, "fallback substitutions", s.FallbackSubstitutions)
	if s.Cancelled {
		warnColor.Fprintln(w, "  cancelled before all batches ran")
	}
	if res.ReportURI != "" {
		fmt.Fprintf(w, "  %-24s %s\n", "report", res.ReportURI)
	}
	fmt.Fprintf(w, "  %-24s %s\n", "took", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
}
