package ops

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/history"
)

// FetchRunInput contains parameters for the FetchRun operation.
type FetchRunInput struct {
	ID             string
	IncludeDeleted bool
	IncludeOutput  *bool // default: true (nil means default)
}

// FetchRunOutput contains the result of the FetchRun operation.
type FetchRunOutput struct {
	history.RunSummary
	Command    string           `json:"command"`
	SourcePath string           `json:"source_path"`
	Output     string           `json:"output,omitempty"`
	Log        history.LogStats `json:"log"`
}

// FetchRun retrieves one run with its captured output.
func FetchRun(ctx context.Context, database *sql.DB, input FetchRunInput) (*FetchRunOutput, error) {
	id, err := requireID(input.ID, "id")
	if err != nil {
		return nil, err
	}

	r, err := db.GetRun(ctx, database, id, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	output := &FetchRunOutput{
		RunSummary: r.ToSummary(),
		Command:    r.Command,
		SourcePath: r.SourcePath,
		Log:        history.ScanLog(r.Output),
	}
	if boolOr(input.IncludeOutput, true) {
		output.Output = r.Output
	}
	return output, nil
}

// FetchLayerInput contains parameters for the FetchLayer operation.
type FetchLayerInput struct {
	ID             string
	IncludeGeoJSON bool
}

// FetchLayerOutput contains the result of the FetchLayer operation.
type FetchLayerOutput struct {
	history.LayerSummary
	GeoJSON json.RawMessage `json:"geojson,omitempty"`
}

// FetchLayer retrieves one catalog layer, optionally with its features.
func FetchLayer(ctx context.Context, database *sql.DB, input FetchLayerInput) (*FetchLayerOutput, error) {
	id, err := requireID(input.ID, "id")
	if err != nil {
		return nil, err
	}

	l, err := db.GetLayer(ctx, database, id)
	if err != nil {
		return nil, err
	}

	output := &FetchLayerOutput{LayerSummary: l.ToSummary()}
	if input.IncludeGeoJSON {
		body, err := layerBody(l)
		if err != nil {
			return nil, err
		}
		output.GeoJSON = body
	}
	return output, nil
}
