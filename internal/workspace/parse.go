package workspace

import (
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/hpungsan/fmebridge/internal/errors"
)

const (
	headerStart = "#! <WORKSPACE"
	headerStop  = "#!   A0_PREVIEW_IMAGE"

	sourceMarker = "SourceDataset"
	destMarker   = "DestDataset"
)

// declPrefix matches the comment + double-dash lead-in of a declaration line.
var declPrefix = regexp.MustCompile(`#\s+--`)

// declShape matches a full declaration: "#   --token value".
var declShape = regexp.MustCompile(`^\s*#\s+--\S+\s+\S`)

// Load reads and parses a workspace file, then checks it against required.
// A nil required list means DefaultRequired.
func Load(path string, required []string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewWorkspaceUnreadable(path, err)
	}

	text := string(data)
	meta := Parse(text)
	meta.Path = path
	meta.Compatibility = CheckContent(text, required)
	meta.Compatibility.DeclaredMissing = CheckDeclared(meta, required)
	return meta, nil
}

// Parse extracts the header block and declarations from workspace text.
// Lines that do not split into a token and a value are skipped.
func Parse(text string) *Metadata {
	meta := &Metadata{
		Sources:      []Dataset{},
		Destinations: []Dataset{},
		Parameters:   []Parameter{},
	}

	var header strings.Builder
	capturing, headerDone := false, false

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}

		if !headerDone {
			if !capturing && strings.HasPrefix(line, headerStart) {
				capturing = true
			}
			if capturing {
				if strings.HasPrefix(line, headerStop) {
					capturing, headerDone = false, true
				} else {
					header.WriteString(line)
				}
			}
		}

		switch {
		case strings.Contains(line, sourceMarker):
			if ds, ok := parseDataset(line); ok {
				meta.Sources = append(meta.Sources, ds)
			}
		case strings.Contains(line, destMarker):
			if ds, ok := parseDataset(line); ok {
				meta.Destinations = append(meta.Destinations, ds)
			}
		case declPrefix.MatchString(line):
			if name, value, ok := splitDeclaration(line); ok {
				meta.Parameters = append(meta.Parameters, Parameter{Name: name, Default: Dequote(value)})
			}
		}
	}

	meta.Header = header.String()
	return meta
}

// parseDataset handles a line mentioning a dataset marker. Only full
// declarations count; "#!" metadata lines naming the dataset are skipped.
func parseDataset(line string) (Dataset, bool) {
	if !declShape.MatchString(line) {
		return Dataset{}, false
	}
	name, value, ok := splitDeclaration(line)
	if !ok {
		return Dataset{}, false
	}
	return Dataset{Format: FormatGeoJSON, Name: name, Path: Dequote(value)}, true
}

// splitDeclaration strips the comment markers and splits on the first whitespace run.
func splitDeclaration(line string) (string, string, bool) {
	cleaned := strings.TrimSpace(declPrefix.ReplaceAllString(line, ""))
	idx := strings.IndexFunc(cleaned, unicode.IsSpace)
	if idx <= 0 {
		return "", "", false
	}
	name := cleaned[:idx]
	value := strings.TrimSpace(cleaned[idx:])
	if value == "" {
		return "", "", false
	}
	return name, value, true
}

// Dequote removes one enclosing pair of double or single quotes.
// The pair is kept when the inner text would start or end with a quote or
// still contains the enclosing quote, so values like "foo"bar" are left alone.
func Dequote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first != last || (first != '"' && first != '\'') {
		return value
	}
	inner := value[1 : len(value)-1]
	if isQuote(inner, true) || isQuote(inner, false) || strings.IndexByte(inner, first) >= 0 {
		return value
	}
	return inner
}

func isQuote(s string, leading bool) bool {
	if s == "" {
		return false
	}
	c := s[len(s)-1]
	if leading {
		c = s[0]
	}
	return c == '"' || c == '\''
}
