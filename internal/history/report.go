package history

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// LogStats counts severity markers in captured engine output.
type LogStats struct {
	Errors     int    `json:"errors"`
	Warnings   int    `json:"warnings"`
	FirstError string `json:"first_error,omitempty"`
	HasStderr  bool   `json:"has_stderr"`
}

// severityPattern matches the level column of engine log lines:
// "2024-05-01 10:00:00|   0.4|  0.0|ERROR |message".
var severityPattern = regexp.MustCompile(`\|\s*(FATAL|ERROR|WARN|WARNING)\s*\|\s*(.*)$`)

// backtickRun matches runs of backticks so report fences can outgrow them.
var backtickRun = regexp.MustCompile("`{3,}")

// ScanLog counts error and warning lines in output. Lines after the
// "Errors:" marker come from stderr and each counts as an error.
func ScanLog(output string) LogStats {
	var stats LogStats
	inStderr := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "Errors:" && !inStderr {
			inStderr = true
			stats.HasStderr = true
			continue
		}
		if inStderr {
			if strings.TrimSpace(line) == "" {
				continue
			}
			stats.Errors++
			if stats.FirstError == "" {
				stats.FirstError = strings.TrimSpace(line)
			}
			continue
		}

		m := severityPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch m[1] {
		case "FATAL", "ERROR":
			stats.Errors++
			if stats.FirstError == "" {
				stats.FirstError = strings.TrimSpace(m[2])
			}
		default:
			stats.Warnings++
		}
	}
	return stats
}

// Report renders a run as Markdown. layer may be nil.
func Report(r *Run, layer *LayerSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", r.ID)
	fmt.Fprintf(&b, "- **Workspace:** `%s`\n", r.WorkspaceRaw)
	fmt.Fprintf(&b, "- **State:** %s\n", r.State)
	fmt.Fprintf(&b, "- **Status:** %s\n", r.Status)
	if r.ExitCode != nil {
		fmt.Fprintf(&b, "- **Exit code:** %d\n", *r.ExitCode)
	}
	fmt.Fprintf(&b, "- **Started:** %s\n", formatUnix(r.CreatedAt))
	if r.FinishedAt != nil {
		fmt.Fprintf(&b, "- **Finished:** %s (%s)\n", formatUnix(*r.FinishedAt),
			time.Duration(*r.FinishedAt-r.CreatedAt)*time.Second)
	}

	b.WriteString("\n## Command\n\n")
	writeFenced(&b, r.Command)

	b.WriteString("\n## Datasets\n\n")
	b.WriteString("| Role | Path |\n|---|---|\n")
	fmt.Fprintf(&b, "| Source | `%s` |\n", r.SourcePath)
	fmt.Fprintf(&b, "| Destination | `%s` |\n", r.DestPath)

	if layer != nil {
		b.WriteString("\n## Result layer\n\n")
		fmt.Fprintf(&b, "- **Name:** %s\n", layer.Name)
		fmt.Fprintf(&b, "- **Kind:** %s\n", layer.Kind)
		fmt.Fprintf(&b, "- **Geometry:** %s\n", layer.GeometryType)
		fmt.Fprintf(&b, "- **Features:** %d\n", layer.FeatureCount)
		if layer.Bounds != nil {
			bb := layer.Bounds
			fmt.Fprintf(&b, "- **Bounds:** %g, %g, %g, %g\n", bb[0], bb[1], bb[2], bb[3])
		}
	}

	stats := ScanLog(r.Output)
	b.WriteString("\n## Log\n\n")
	fmt.Fprintf(&b, "%d errors, %d warnings\n\n", stats.Errors, stats.Warnings)
	if stats.FirstError != "" {
		fmt.Fprintf(&b, "First error: %s\n\n", stats.FirstError)
	}
	if r.Output == "" {
		b.WriteString("_No output captured._\n")
	} else {
		writeFenced(&b, r.Output)
	}

	return b.String()
}

// writeFenced wraps text in a code fence longer than any backtick run inside it.
func writeFenced(b *strings.Builder, text string) {
	n := 3
	for _, run := range backtickRun.FindAllString(text, -1) {
		if len(run) >= n {
			n = len(run) + 1
		}
	}
	fence := strings.Repeat("`", n)
	b.WriteString(fence + "\n")
	b.WriteString(strings.TrimRight(text, "\n"))
	b.WriteString("\n" + fence + "\n")
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
