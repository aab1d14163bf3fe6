package history

// ExportRecord represents a run in JSONL export format. Each record follows
// a single header line.
type ExportRecord struct {
	ID            string  `json:"id"`
	WorkspaceRaw  string  `json:"workspace_raw"`
	WorkspaceNorm string  `json:"workspace_norm"`
	Command       string  `json:"command"`
	SourcePath    string  `json:"source_path"`
	DestPath      string  `json:"dest_path"`
	State         string  `json:"state"`
	Status        string  `json:"status"`
	ExitCode      *int    `json:"exit_code"`
	Output        string  `json:"output"`
	LayerID       *string `json:"layer_id"`
	CreatedAt     int64   `json:"created_at"`
	FinishedAt    *int64  `json:"finished_at"`
	DeletedAt     *int64  `json:"deleted_at"`
}

// RunToExportRecord converts a Run to an ExportRecord for export.
func RunToExportRecord(r *Run) *ExportRecord {
	return &ExportRecord{
		ID:            r.ID,
		WorkspaceRaw:  r.WorkspaceRaw,
		WorkspaceNorm: r.WorkspaceNorm,
		Command:       r.Command,
		SourcePath:    r.SourcePath,
		DestPath:      r.DestPath,
		State:         r.State,
		Status:        r.Status,
		ExitCode:      r.ExitCode,
		Output:        r.Output,
		LayerID:       r.LayerID,
		CreatedAt:     r.CreatedAt,
		FinishedAt:    r.FinishedAt,
		DeletedAt:     r.DeletedAt,
	}
}
