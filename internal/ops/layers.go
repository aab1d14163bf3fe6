package ops

import (
	"context"
	"database/sql"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/dataset"
	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/history"
)

// LayerGeoJSON returns the features of a catalog layer as GeoJSON.
func LayerGeoJSON(ctx context.Context, database *sql.DB, id string) ([]byte, error) {
	id, err := requireID(id, "id")
	if err != nil {
		return nil, err
	}
	l, err := db.GetLayer(ctx, database, id)
	if err != nil {
		return nil, err
	}
	return layerBody(l)
}

// LayerFeatures decodes a catalog layer so it can feed another run.
func LayerFeatures(ctx context.Context, database *sql.DB, id string) (*geojson.FeatureCollection, error) {
	body, err := LayerGeoJSON(ctx, database, id)
	if err != nil {
		return nil, err
	}
	return dataset.Decode(body)
}

// layerBody returns the stored copy for scratch layers and rereads the
// destination file for file layers.
func layerBody(l *history.Layer) ([]byte, error) {
	if l.Kind == history.LayerScratch && len(l.GeoJSON) > 0 {
		return l.GeoJSON, nil
	}
	fc, err := dataset.Read(l.SourcePath)
	if err != nil {
		return nil, err
	}
	return dataset.Encode(fc)
}

// ExportLayerInput contains parameters for the ExportLayer operation.
type ExportLayerInput struct {
	ID   string
	Path string // required, must end in .geojson
}

// ExportLayerOutput contains the result of the ExportLayer operation.
type ExportLayerOutput struct {
	Path         string `json:"path"`
	FeatureCount int    `json:"feature_count"`
}

// ExportLayer writes a catalog layer to a GeoJSON file.
func ExportLayer(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportLayerInput) (*ExportLayerOutput, error) {
	if err := ValidatePath(input.Path, PathCheckWrite, ExtGeoJSON, cfg); err != nil {
		return nil, err
	}

	body, err := LayerGeoJSON(ctx, database, input.ID)
	if err != nil {
		return nil, err
	}
	fc, err := dataset.Decode(body)
	if err != nil {
		return nil, err
	}

	err = writeAtomic(input.Path, func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &ExportLayerOutput{
		Path:         input.Path,
		FeatureCount: len(fc.Features),
	}, nil
}
