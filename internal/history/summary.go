package history

// RunSummary is a run without its captured output.
// Used for browse operations (list, latest) to reduce data transfer.
type RunSummary struct {
	ID            string  `json:"id"`
	Workspace     string  `json:"workspace"`
	WorkspaceNorm string  `json:"workspace_norm"`
	State         string  `json:"state"`
	Status        string  `json:"status"`
	ExitCode      *int    `json:"exit_code,omitempty"`
	DestPath      string  `json:"dest_path"`
	LayerID       *string `json:"layer_id,omitempty"`
	OutputLines   int     `json:"output_lines"`
	CreatedAt     int64   `json:"created_at"`
	FinishedAt    *int64  `json:"finished_at,omitempty"`
	DeletedAt     *int64  `json:"deleted_at,omitempty"`
}

// ToSummary converts a Run to a RunSummary by stripping the output.
func (r *Run) ToSummary() RunSummary {
	return RunSummary{
		ID:            r.ID,
		Workspace:     r.WorkspaceRaw,
		WorkspaceNorm: r.WorkspaceNorm,
		State:         r.State,
		Status:        r.Status,
		ExitCode:      r.ExitCode,
		DestPath:      r.DestPath,
		LayerID:       r.LayerID,
		OutputLines:   CountLines(r.Output),
		CreatedAt:     r.CreatedAt,
		FinishedAt:    r.FinishedAt,
		DeletedAt:     r.DeletedAt,
	}
}

// LayerSummary is a layer without its GeoJSON body.
type LayerSummary struct {
	ID           string      `json:"id"`
	RunID        string      `json:"run_id"`
	Name         string      `json:"name"`
	Kind         string      `json:"kind"`
	SourcePath   string      `json:"source_path"`
	GeometryType string      `json:"geometry_type"`
	FeatureCount int         `json:"feature_count"`
	Bounds       *[4]float64 `json:"bounds,omitempty"`
	CreatedAt    int64       `json:"created_at"`
}

// ToSummary converts a Layer to a LayerSummary by stripping the body.
func (l *Layer) ToSummary() LayerSummary {
	return LayerSummary{
		ID:           l.ID,
		RunID:        l.RunID,
		Name:         l.Name,
		Kind:         l.Kind,
		SourcePath:   l.SourcePath,
		GeometryType: l.GeometryType,
		FeatureCount: l.FeatureCount,
		Bounds:       l.Bounds,
		CreatedAt:    l.CreatedAt,
	}
}
