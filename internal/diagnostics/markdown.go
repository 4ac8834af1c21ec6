package diagnostics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// renderMarkdown produces the human-readable report. A YAML front matter
// block carries the machine-sortable header so static site tooling and the
// host app's report browser can index the file without parsing prose.
func renderMarkdown(report *Report) []byte {
	var b strings.Builder

	front, err := yaml.Marshal(report)
	if err == nil {
		b.WriteString("---\n")
		b.Write(front)
		b.WriteString("---\n\n")
	}

	fmt.Fprintf(&b, "# Migration report %s\n\n", report.ID[:8])

	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| State | %s |\n", report.State)
	fmt.Fprintf(&b, "| Success | %t |\n", report.Success)
	fmt.Fprintf(&b, "| Dry run | %t |\n", report.DryRun)
	fmt.Fprintf(&b, "| Duration | %s |\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "| Databases found | %d |\n", len(report.Databases))
	fmt.Fprintf(&b, "| Backups created | %d |\n", len(report.Backups))
	fmt.Fprintf(&b, "| Errors | %d |\n", len(report.Errors))
	fmt.Fprintf(&b, "| Warnings | %d |\n\n", len(report.Warnings))

	if len(report.Databases) > 0 {
		b.WriteString("## Detected databases\n\n")
		b.WriteString("| Kind | Path | Schema | Size | Records |\n|---|---|---|---|---|\n")
		for i := range report.Databases {
			db := &report.Databases[i]
			fmt.Fprintf(&b, "| %s | %s | v%d | %s | %d |\n",
				db.Kind, db.Path, db.SchemaVersion, formatBytes(db.SizeBytes), db.RecordCount)
		}
		b.WriteString("\n")
	}

	if req := report.Requirements; req != nil {
		b.WriteString("## Space requirements\n\n")
		fmt.Fprintf(&b, "- Estimated required: %s\n", formatBytes(req.EstimatedRequiredBytes))
		fmt.Fprintf(&b, "- Available: %s\n", formatBytes(int64(req.AvailableBytes))) //nolint:gosec // disk sizes fit in int64
		fmt.Fprintf(&b, "- Sufficient: %t\n\n", req.Sufficient)
	}

	if len(report.Backups) > 0 {
		b.WriteString("## Backups\n\n")
		b.WriteString("| ID | Source | Size | Valid |\n|---|---|---|---|\n")
		for i := range report.Backups {
			rec := &report.Backups[i]
			fmt.Fprintf(&b, "| %s | %s | %s | %t |\n",
				rec.ID, rec.OriginalPath, formatBytes(rec.SizeBytes), rec.IsValid)
		}
		b.WriteString("\n")
	}

	if len(report.RecordsMigrated) > 0 {
		b.WriteString("## Records migrated\n\n")
		b.WriteString("| Table | Rows |\n|---|---|\n")
		for _, table := range sortedKeys(report.RecordsMigrated) {
			fmt.Fprintf(&b, "| %s | %d |\n", table, report.RecordsMigrated[table])
		}
		if report.SkippedRecords > 0 {
			fmt.Fprintf(&b, "\n%d embedding rows were skipped for dimension mismatches.\n", report.SkippedRecords)
		}
		b.WriteString("\n")
	}

	if v := report.Validation; v != nil {
		b.WriteString("## Validation\n\n")
		fmt.Fprintf(&b, "%s\n\n", v.Summary)
		for i := range v.Errors {
			fmt.Fprintf(&b, "- **error** %s: %s\n", v.Errors[i].Rule, v.Errors[i].Message)
		}
		for i := range v.Warnings {
			fmt.Fprintf(&b, "- warning %s: %s\n", v.Warnings[i].Rule, v.Warnings[i].Message)
		}
		if len(v.Errors)+len(v.Warnings) > 0 {
			b.WriteString("\n")
		}
	}

	if integ := report.Integrity; integ != nil && len(integ.Issues) > 0 {
		b.WriteString("## Integrity issues\n\n")
		for i := range integ.Issues {
			issue := &integ.Issues[i]
			fmt.Fprintf(&b, "- **%s/%s** %s (%d records)\n",
				issue.Severity, issue.Type, issue.Description, issue.AffectedRecords)
		}
		b.WriteString("\n")
	}

	if len(report.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}
	if len(report.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	if report.MetricsText != "" {
		b.WriteString("## Metrics\n\n```\n")
		b.WriteString(report.MetricsText)
		if !strings.HasSuffix(report.MetricsText, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}

	return []byte(b.String())
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
