package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/CCAFRICA/spm-platform/internal/anomaly"
	"github.com/CCAFRICA/spm-platform/internal/calculation"
	"github.com/CCAFRICA/spm-platform/internal/convergence"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/reconciliation"
	"github.com/CCAFRICA/spm-platform/internal/resolution"
)

// table writes tab-aligned rows under a styled header.
type table struct {
	tw  *tabwriter.Writer
	err error
}

func newTable(w io.Writer, headers ...string) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	styled := make([]string, len(headers))
	rules := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = TableHeaderStyle.UnsetBorderBottom().Render(h)
		rules[i] = strings.Repeat("─", max(len(h), 6))
	}
	t.row(styled...)
	t.row(rules...)
	return t
}

func (t *table) row(cells ...string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
}

func (t *table) flush() error {
	if t.err != nil {
		return fmt.Errorf("failed to write table: %w", t.err)
	}
	if err := t.tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}
	return nil
}

func writeLines(w io.Writer, lines ...string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func amount(d *money.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

// RenderRun prints a calculation run: one row per entity, then the run log.
func RenderRun(w io.Writer, run *calculation.RunResult) error {
	if !run.Success {
		return writeLines(w, FormatError("Calculation failed: "+run.Error))
	}
	if err := writeLines(w,
		FormatTitle("Calculation batch "+run.BatchID),
		fmt.Sprintf("Entities: %d   Total payout: %s", run.EntityCount, BoldStyle.Render(run.TotalPayout.String())),
		"",
	); err != nil {
		return err
	}

	t := newTable(w, "Entity", "Variant", "Total", "Flags")
	for _, r := range run.Results {
		t.row(r.EntityID, r.Metadata.Variant, MoneyStyle.Render(r.TotalPayout.String()), strings.Join(r.Metadata.Flags, ","))
	}
	if err := t.flush(); err != nil {
		return err
	}

	if len(run.Log) > 0 {
		if err := writeLines(w, ""); err != nil {
			return err
		}
		for _, l := range run.Log {
			if err := writeLines(w, SubtleStyle.Render(l)); err != nil {
				return err
			}
		}
	}
	return nil
}

// RenderAnomalies prints the payout distribution and its findings.
func RenderAnomalies(w io.Writer, report anomaly.Report) error {
	s := report.Stats
	if err := writeLines(w,
		formatIconTitle(ChartIcon, "Payout anomalies"),
		SubtitleStyle.Render(fmt.Sprintf("count %d   mean %.2f   median %.2f   stddev %.2f   min %.2f   max %.2f",
			s.Count, s.Mean, s.Median, s.StdDev, s.Min, s.Max)),
	); err != nil {
		return err
	}
	if len(report.Anomalies) == 0 {
		return writeLines(w, FormatSuccess("No anomalies detected"))
	}

	t := newTable(w, "Kind", "Severity", "Entities", "Description")
	for _, a := range report.Anomalies {
		severity := WarningStyle.Render(string(a.Severity))
		if a.Severity == anomaly.SeverityHigh {
			severity = ErrorStyle.Render(string(a.Severity))
		}
		t.row(string(a.Kind), severity, fmt.Sprintf("%d", len(a.EntityIDs)), a.Description)
	}
	return t.flush()
}

// RenderConvergence prints how each required metric was bound.
func RenderConvergence(w io.Writer, result *convergence.Result) error {
	if !result.Success {
		return writeLines(w, FormatError(fmt.Sprintf("Convergence of %s failed: %s", result.RuleSetID, result.Error)))
	}
	if err := writeLines(w,
		FormatTitle("Convergence for "+result.RuleSetID),
		SubtitleStyle.Render(fmt.Sprintf("Derivations: %d   Signals: %d", len(result.Derivations), len(result.Signals))),
	); err != nil {
		return err
	}

	t := newTable(w, "Metric", "Status", "Candidate", "Operation", "Score")
	for _, m := range result.Matches {
		status := SuccessStyle.Render(string(m.Status))
		switch m.Status {
		case convergence.MatchUnresolved:
			status = ErrorStyle.Render(string(m.Status))
		case convergence.MatchAIAssisted:
			status = WarningStyle.Render(string(m.Status))
		}
		t.row(m.Metric, status, m.Candidate, string(m.Operation), fmt.Sprintf("%.2f", m.Score))
	}
	return t.flush()
}

// RenderReconciliation prints concordance, class counts and every
// non-matching comparison.
func RenderReconciliation(w io.Writer, report *reconciliation.Report) error {
	if !report.Success {
		return writeLines(w, FormatError("Reconciliation failed: "+report.Error))
	}

	classes := make([]string, 0, len(report.Classes))
	for c, n := range report.Classes {
		classes = append(classes, fmt.Sprintf("%s=%d", c, n))
	}
	sort.Strings(classes)

	if err := writeLines(w,
		FormatTitle("Reconciliation of batch "+report.BatchID),
		fmt.Sprintf("Concordance: %s   matched %d   mismatched %d   corrections %d   priors %s",
			BoldStyle.Render(fmt.Sprintf("%.1f%%", report.Concordance)),
			report.MatchCount, report.MismatchCount, report.CorrectionsWritten, report.PriorsOutcome),
		SubtleStyle.Render(strings.Join(classes, "  ")),
		"",
	); err != nil {
		return err
	}

	if n := len(report.Comparisons); n > 0 && report.Classes[reconciliation.ClassMatch] == n {
		return writeLines(w, SuccessStyle.Render(CheckIcon+" Every comparison matches"))
	}

	t := newTable(w, "Entity", "Component", "Calculated", "Benchmark", "Delta", "Class")
	var evidence []string
	for _, c := range report.Comparisons {
		if c.IsTotal() {
			for _, e := range c.Evidence {
				evidence = append(evidence, fmt.Sprintf("%s: %s", c.ExternalID, e))
			}
		}
		if c.Class == reconciliation.ClassMatch {
			continue
		}
		component := c.Component
		if c.IsTotal() {
			component = "(total)"
		}
		class := string(c.Class)
		switch c.Class {
		case reconciliation.ClassDiscrepancy, reconciliation.ClassFalseGreen:
			class = ErrorStyle.Render(class)
		case reconciliation.ClassRounding:
			class = SubtleStyle.Render(class)
		default:
			class = WarningStyle.Render(class)
		}
		t.row(c.ExternalID, component,
			MoneyStyle.Render(amount(c.Calculated)), MoneyStyle.Render(amount(c.Benchmark)), MoneyStyle.Render(amount(c.Delta)),
			class)
	}
	if err := t.flush(); err != nil {
		return err
	}
	if len(evidence) == 0 {
		return nil
	}
	if err := writeLines(w, "", SubtitleStyle.Render("Evidence")); err != nil {
		return err
	}
	for _, e := range evidence {
		if err := writeLines(w, InfoStyle.Render("  • "+e)); err != nil {
			return err
		}
	}
	return nil
}

// RenderInvestigation prints a dispute verdict in a box.
func RenderInvestigation(w io.Writer, out *resolution.Outcome) error {
	if !out.Success {
		return writeLines(w, FormatError("Investigation failed: "+out.Error))
	}
	inv := out.Investigation

	var b strings.Builder
	fmt.Fprintf(&b, "Dispute:        %s (%s)\n", inv.DisputeID, out.Dispute.Status)
	fmt.Fprintf(&b, "Entity:         %s\n", inv.EntityID)
	if inv.Component != "" {
		fmt.Fprintf(&b, "Component:      %s\n", inv.Component)
	}
	fmt.Fprintf(&b, "Root cause:     %s\n", BoldStyle.Render(string(inv.RootCause)))
	fmt.Fprintf(&b, "Recommendation: %s\n", inv.Recommendation)
	fmt.Fprintf(&b, "Confidence:     %.2f\n", inv.Confidence)
	if inv.Adjustment != nil {
		fmt.Fprintf(&b, "Adjustment:     %s\n", inv.Adjustment)
	}
	if len(inv.Evidence) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, e := range inv.Evidence {
			fmt.Fprintf(&b, "  • %s\n", e)
		}
	}
	return writeLines(w, RenderBox(SearchIcon+" Investigation", strings.TrimRight(b.String(), "\n")))
}
