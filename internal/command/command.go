// Package command assembles the shell command line that runs a workspace.
package command

import (
	"regexp"
	"strings"

	"github.com/hpungsan/fmebridge/internal/workspace"
)

// Spec is everything needed to build one command. It is rebuilt whenever an input changes.
type Spec struct {
	Executable   string
	Workspace    string
	Params       []Param
	SourceFormat string
	SourcePath   string
	DestFormat   string
	DestPath     string
}

// Param is one user parameter row, in table order.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var (
	sourcePathRe = regexp.MustCompile(`--SourceDataset_[A-Za-z0-9]+\s+(?:"([^"]*)"|(\S+))`)
	destPathRe   = regexp.MustCompile(`--DestDataset_[A-Za-z0-9]+\s+(?:"([^"]*)"|(\S+))`)
)

// Build returns the command line for spec. The second result is false when
// the executable or workspace is empty, meaning there is nothing to run yet.
func Build(spec Spec) (string, bool) {
	exe := trimPath(spec.Executable)
	fmw := trimPath(spec.Workspace)
	if exe == "" || fmw == "" {
		return "", false
	}

	parts := []string{quoteIfSpaced(exe), quoteIfSpaced(fmw)}

	for _, p := range spec.Params {
		name := workspace.StripMarker(strings.TrimSpace(p.Name))
		if name == "" || p.Value == "" {
			continue
		}
		parts = append(parts, "--"+name, Quote(p.Value))
	}

	if spec.SourcePath != "" {
		parts = append(parts, "--"+SourceFlag(spec.SourceFormat), Quote(spec.SourcePath))
	}
	if spec.DestPath != "" {
		parts = append(parts, "--"+DestFlag(spec.DestFormat), Quote(spec.DestPath))
	}

	return strings.Join(parts, " "), true
}

// SourceFlag is the flag name carrying the source dataset for format.
func SourceFlag(format string) string {
	return "SourceDataset_" + formatOrDefault(format)
}

// DestFlag is the flag name carrying the destination dataset for format.
func DestFlag(format string) string {
	return "DestDataset_" + formatOrDefault(format)
}

// Quote wraps value in double quotes unless it already starts and ends with one.
func Quote(value string) string {
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return value
	}
	return `"` + value + `"`
}

// ExtractDatasetPaths recovers the source and destination paths from a
// finished command line. Missing flags give empty strings.
func ExtractDatasetPaths(cmd string) (source, dest string) {
	return firstGroup(sourcePathRe, cmd), firstGroup(destPathRe, cmd)
}

// AppendDataset adds a dataset flag to cmd using the always-quote rule.
func AppendDataset(cmd, flag, path string) string {
	return strings.TrimRight(cmd, " ") + " --" + flag + " " + Quote(path)
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// trimPath drops surrounding whitespace and any enclosing double quotes.
func trimPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), `"`)
}

// quoteIfSpaced quotes executable and workspace paths only when they contain a space.
func quoteIfSpaced(p string) string {
	if strings.Contains(p, " ") {
		return `"` + p + `"`
	}
	return p
}

func formatOrDefault(format string) string {
	if format == "" {
		return workspace.FormatGeoJSON
	}
	return format
}
