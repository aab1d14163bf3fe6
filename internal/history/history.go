// Package history holds the persisted records of translation runs and the
// layers loaded from their results.
package history

// Layer kinds.
const (
	LayerFile    = "file"
	LayerScratch = "scratch"
)

// LayerName is the display name given to every loaded result.
const LayerName = "FME_Form_Output"

// Run status once the result has been loaded as a layer.
const (
	StatusLayerFile    = "Translation successful! Layer added from file."
	StatusLayerScratch = "Translation successful! Layer added as scratch layer."
)

// LoadedStatus returns the run status for a result loaded as kind.
func LoadedStatus(kind string) string {
	if kind == LayerScratch {
		return StatusLayerScratch
	}
	return StatusLayerFile
}

// Run is one execution of a workspace.
type Run struct {
	// ID is a ULID that uniquely identifies this run
	ID string

	// WorkspaceRaw is the workspace path as given
	WorkspaceRaw string

	// WorkspaceNorm is the normalized path used for filtering
	WorkspaceNorm string

	// Command is the exact shell line that was executed
	Command string

	SourcePath string
	DestPath   string

	// State is one of the runner states (idle, running, succeeded, failed, cancelled)
	State string

	// Status is the user-facing status text
	Status string

	// ExitCode is nil until the child exits
	ExitCode *int

	// Output is captured stdout, followed by "Errors:" and stderr when present
	Output string

	// LayerID references the layer loaded from DestPath (nullable)
	LayerID *string

	// CreatedAt is the Unix timestamp when the run started
	CreatedAt int64

	// FinishedAt is the Unix timestamp when the run reached a terminal state (nullable)
	FinishedAt *int64

	// DeletedAt is the Unix timestamp for soft delete (nullable)
	DeletedAt *int64
}

// Layer is a result dataset made available after a successful run.
type Layer struct {
	ID           string
	RunID        string
	Name         string
	Kind         string
	SourcePath   string
	GeometryType string
	FeatureCount int
	Bounds       *[4]float64

	// GeoJSON holds the in-memory copy for scratch layers; file layers read SourcePath
	GeoJSON []byte

	CreatedAt int64
}
