// Package report renders a run report for humans or machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/yairfalse/nuker/types"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	typeColor    = color.New(color.FgWhite, color.Bold)
	deleteColor  = color.New(color.FgRed)
	skipColor    = color.New(color.FgYellow)
	okColor      = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed, color.Bold)
	subduedColor = color.New(color.FgHiBlack)
)

// WriteJSON emits the full report as indented JSON.
func WriteJSON(w io.Writer, report *types.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// outcomeKey identifies a candidate across regions and types; a bare
// resource ID can repeat in another region.
type outcomeKey struct {
	region string
	t      types.ResourceType
	id     string
}

// Write renders the report grouped by region, then type.
func Write(w io.Writer, report *types.RunReport) error {
	outcomes := make(map[outcomeKey]types.Outcome, len(report.Outcomes))
	for _, o := range report.Outcomes {
		outcomes[outcomeKey{o.Region, o.Type, o.ResourceID}] = o
	}

	var lastRegion string
	var lastType types.ResourceType
	for _, c := range report.Candidates {
		if c.Resource.Region != lastRegion {
			lastRegion = c.Resource.Region
			lastType = ""
			headerColor.Fprintf(w, "\n%s\n", lastRegion)
		}
		if c.Resource.Type != lastType {
			lastType = c.Resource.Type
			typeColor.Fprintf(w, "  %s\n", lastType)
		}
		writeCandidate(w, c, outcomes[outcomeKey{c.Resource.Region, c.Resource.Type, c.Resource.ID}])
	}
	if len(report.Candidates) == 0 {
		okColor.Fprintln(w, "no cleanup candidates found")
	}

	writeFailures(w, report.Failures)
	writeSummary(w, report)
	return nil
}

func writeCandidate(w io.Writer, c types.CleanupCandidate, outcome types.Outcome) {
	kinds := make([]string, len(c.Matched))
	for i, k := range c.Matched {
		kinds[i] = string(k)
	}
	label := candidateLabel(c.Resource)

	fmt.Fprintf(w, "    %s  %s", label, subduedColor.Sprintf("[%s]", strings.Join(kinds, ", ")))

	switch outcome.Status {
	case types.OutcomeWouldDelete:
		deleteColor.Fprintf(w, "  would delete")
	case types.OutcomeWouldStop:
		deleteColor.Fprintf(w, "  would stop")
	case types.OutcomeDeleted:
		deleteColor.Fprintf(w, "  deleted")
	case types.OutcomeStopped:
		deleteColor.Fprintf(w, "  stopped")
	case types.OutcomeAlreadyGone:
		okColor.Fprintf(w, "  already gone")
	case types.OutcomeSkippedWhitelisted:
		skipColor.Fprintf(w, "  skipped (whitelisted)")
	case types.OutcomeSkippedBlocked:
		skipColor.Fprintf(w, "  skipped (blocked: %s)", outcome.Reason)
	case types.OutcomeFailed:
		failColor.Fprintf(w, "  FAILED: %s", outcome.Reason)
	}
	fmt.Fprintln(w)
}

func candidateLabel(r types.Resource) string {
	if r.Name != "" && r.Name != r.ID {
		return fmt.Sprintf("%s (%s)", r.ID, r.Name)
	}
	return r.ID
}

func writeFailures(w io.Writer, failures []types.ScanFailure) {
	if len(failures) == 0 {
		return
	}
	failColor.Fprintf(w, "\nscan failures (%d)\n", len(failures))
	for _, f := range failures {
		scope := f.Region
		if f.Type != "" {
			scope = fmt.Sprintf("%s/%s", f.Region, f.Type)
		}
		fmt.Fprintf(w, "  %s: %s\n", scope, f.Error)
	}
}

func writeSummary(w io.Writer, report *types.RunReport) {
	counts := make(map[types.OutcomeStatus]int)
	for _, o := range report.Outcomes {
		counts[o.Status]++
	}

	fmt.Fprintf(w, "\n%d candidates in %d regions (%s)\n",
		len(report.Candidates), len(report.Regions),
		report.FinishedAt.Sub(report.StartedAt).Round(10*time.Millisecond))

	var parts []string
	for _, status := range []types.OutcomeStatus{
		types.OutcomeWouldDelete,
		types.OutcomeWouldStop,
		types.OutcomeDeleted,
		types.OutcomeStopped,
		types.OutcomeAlreadyGone,
		types.OutcomeSkippedWhitelisted,
		types.OutcomeSkippedBlocked,
		types.OutcomeFailed,
	} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "%s\n", strings.Join(parts, ", "))
	}
}
