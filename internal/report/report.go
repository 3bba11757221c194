// Package report compiles suite results into a run report and renders it
// for terminals and files.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/palaseus/gillean/internal/node"
	"github.com/palaseus/gillean/internal/suite"
)

// Report is the compiled record of one suite run.
type Report struct {
	RunID     string        `json:"run_id"`
	Mode      string        `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Nodes   []node.Config  `json:"nodes"`
	Results []suite.Result `json:"results"`

	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	NotImplemented int `json:"not_implemented"`

	// SuccessRate is passed over decided cases, in percent. Cases that
	// probed an unimplemented surface do not count either way.
	SuccessRate float64 `json:"success_rate"`
}

// Compile tallies results into a report. The success rate denominator is
// passed+failed only; a not-implemented probe is neither.
func Compile(runID, mode string, startedAt time.Time, nodes []node.Config, results []suite.Result) *Report {
	r := &Report{
		RunID:     runID,
		Mode:      mode,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Nodes:     nodes,
		Results:   results,
	}

	for _, res := range results {
		switch res.Outcome {
		case suite.OutcomePassed:
			r.Passed++
		case suite.OutcomeFailed:
			r.Failed++
		case suite.OutcomeNotImplemented:
			r.NotImplemented++
		}
	}

	if decided := r.Passed + r.Failed; decided > 0 {
		r.SuccessRate = float64(r.Passed) / float64(decided) * 100
	}
	return r
}

// FailedResults returns the failed subset, preserving run order.
func (r *Report) FailedResults() []suite.Result {
	var out []suite.Result
	for _, res := range r.Results {
		if res.Outcome == suite.OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// AllPassed reports whether no case failed. Not-implemented probes do not
// spoil a run.
func (r *Report) AllPassed() bool {
	return r.Failed == 0
}

var (
	passMark = color.New(color.FgGreen, color.Bold).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
	skipMark = color.New(color.FgYellow).SprintFunc()
	header   = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func mark(o suite.Outcome, colored bool) string {
	switch o {
	case suite.OutcomePassed:
		if colored {
			return passMark("PASS")
		}
		return "PASS"
	case suite.OutcomeFailed:
		if colored {
			return failMark("FAIL")
		}
		return "FAIL"
	default:
		if colored {
			return skipMark("SKIP")
		}
		return "SKIP"
	}
}

// Render writes a human-readable report. Colors are applied only when
// colored is true so file output stays plain.
func (r *Report) Render(w io.Writer, colored bool) {
	title := fmt.Sprintf("Run %s (%s mode)", r.RunID, r.Mode)
	if colored {
		title = header(title)
	}
	fmt.Fprintln(w, title)
	fmt.Fprintf(w, "Started %s, took %s\n", r.StartedAt.Format(time.RFC3339), r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Fleet: %d nodes\n", len(r.Nodes))
	for _, n := range r.Nodes {
		fmt.Fprintf(w, "  %s  port=%d consensus=%s\n", n.ID, n.Port, n.Consensus)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, res := range r.Results {
		fmt.Fprintf(w, "%s  %-28s %8s", mark(res.Outcome, colored), res.Name, res.Duration.Round(time.Millisecond))
		if res.Detail != "" {
			fmt.Fprintf(w, "  %s", res.Detail)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "%d passed, %d failed, %d not implemented\n", r.Passed, r.Failed, r.NotImplemented)
	fmt.Fprintf(w, "Success rate: %.1f%%\n", r.SuccessRate)

	if failed := r.FailedResults(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, res := range failed {
			names = append(names, res.Name)
		}
		sort.Strings(names)
		line := fmt.Sprintf("Failed cases: %s", strings.Join(names, ", "))
		if colored {
			line = failMark(line)
		}
		fmt.Fprintln(w, line)
	}
}

// WriteFile renders the report uncolored to path, creating parent
// directories as needed.
func (r *Report) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	r.Render(f, false)
	return nil
}
