package history

import (
	"path/filepath"
	"strings"
)

// NormalizeWorkspace turns a workspace path into the key runs are filtered by:
// 1. Trim whitespace and enclosing double quotes
// 2. Clean the path
// 3. Use forward slashes and lowercase so C:\Jobs\A.fmw and c:/jobs/a.fmw match
func NormalizeWorkspace(path string) string {
	path = strings.Trim(strings.TrimSpace(path), `"`)
	if path == "" {
		return ""
	}
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.ReplaceAll(path, `\`, "/")
	return strings.ToLower(path)
}

// CountLines returns the number of lines in captured output.
func CountLines(text string) int {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}
