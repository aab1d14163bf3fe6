package workspace

import "strings"

// CheckContent decides compatibility by looking for each required name
// anywhere in the workspace text. A nil required list means DefaultRequired.
func CheckContent(text string, required []string) Compatibility {
	if required == nil {
		required = DefaultRequired
	}

	var missing []string
	for _, name := range required {
		if !strings.Contains(text, name) {
			missing = append(missing, name)
		}
	}
	return newCompatibility(missing)
}

// CheckDeclared lists required names that no parsed declaration carries.
// Sources, destinations and parameters are all consulted; markers are ignored.
func CheckDeclared(meta *Metadata, required []string) []string {
	if required == nil {
		required = DefaultRequired
	}

	declared := make(map[string]bool)
	for _, ds := range meta.Sources {
		declared[StripMarker(ds.Name)] = true
	}
	for _, ds := range meta.Destinations {
		declared[StripMarker(ds.Name)] = true
	}
	for _, p := range meta.Parameters {
		declared[p.FlagName()] = true
	}

	var missing []string
	for _, name := range required {
		if !declared[StripMarker(name)] {
			missing = append(missing, name)
		}
	}
	return missing
}

func newCompatibility(missing []string) Compatibility {
	if len(missing) == 0 {
		return Compatibility{Compatible: true, Message: "Compatible"}
	}
	return Compatibility{
		Compatible: false,
		Missing:    missing,
		Message:    "Incompatible: Missing required parameters: " + strings.Join(missing, ", "),
	}
}
