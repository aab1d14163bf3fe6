package workspace

import "strings"

// FormatGeoJSON is the only dataset format wired through the bridge.
const FormatGeoJSON = "GEOJSON"

// RequiredMarker prefixes parameter names that the workspace author flagged as required.
const RequiredMarker = "*"

// DefaultRequired are the parameters a workspace must mention to be driven by fmebridge.
var DefaultRequired = []string{"SourceDataset_GEOJSON", "DestDataset_GEOJSON"}

// Metadata is everything extracted from one workspace file.
// A fresh value is built on every load; nothing carries over from the previous one.
type Metadata struct {
	Path          string        `json:"path,omitempty"`
	Header        string        `json:"header"`
	Sources       []Dataset     `json:"sources"`
	Destinations  []Dataset     `json:"destinations"`
	Parameters    []Parameter   `json:"parameters"`
	Compatibility Compatibility `json:"compatibility"`
}

// Dataset is a source or destination declaration.
type Dataset struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// Parameter is a user-overridable value declared by the workspace.
type Parameter struct {
	Name    string `json:"name"`
	Default string `json:"default"`
}

// Required reports whether the name carries the required marker.
func (p Parameter) Required() bool {
	return strings.HasPrefix(p.Name, RequiredMarker)
}

// FlagName is the name without required markers, as passed on the command line.
func (p Parameter) FlagName() string {
	return StripMarker(p.Name)
}

// StripMarker removes leading required markers from a parameter name.
func StripMarker(name string) string {
	return strings.TrimLeft(name, RequiredMarker)
}

// Compatibility describes whether the workspace exposes the required parameters.
type Compatibility struct {
	Compatible bool `json:"compatible"`
	// Missing is computed from the raw file content and decides Compatible.
	Missing []string `json:"missing,omitempty"`
	// DeclaredMissing is computed from parsed declarations only. It can be a
	// superset of Missing when a name appears in the file outside a declaration.
	DeclaredMissing []string `json:"declared_missing,omitempty"`
	Message         string   `json:"message"`
}
