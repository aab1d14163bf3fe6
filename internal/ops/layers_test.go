package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
)

func TestLayers_FileAndScratch(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	dir := t.TempDir()

	dest := writeTestFile(t, dir, "out.geojson", lineFeatures)
	r := seedRun(t, database, "01RUN", "/a.fmw", "succeeded", 1)

	file := &history.Layer{
		ID: "01FILE", RunID: r.ID, Name: history.LayerName, Kind: history.LayerFile,
		SourcePath: dest, GeometryType: "LineString", FeatureCount: 2, CreatedAt: 2,
	}
	scratch := &history.Layer{
		ID: "01SCRATCH", RunID: r.ID, Name: history.LayerName, Kind: history.LayerScratch,
		SourcePath: filepath.Join(dir, "gone.geojson"), GeometryType: "LineString", FeatureCount: 2,
		GeoJSON: []byte(lineFeatures), CreatedAt: 3,
	}
	for _, l := range []*history.Layer{file, scratch} {
		if err := db.InsertLayer(ctx, database, l); err != nil {
			t.Fatalf("InsertLayer failed: %v", err)
		}
	}

	list, err := ListLayers(ctx, database, ListLayersInput{})
	if err != nil {
		t.Fatalf("ListLayers failed: %v", err)
	}
	if list.Pagination.Total != 2 || list.Items[0].ID != "01SCRATCH" {
		t.Fatalf("ListLayers = %+v", list)
	}

	out, err := FetchLayer(ctx, database, FetchLayerInput{ID: "01FILE"})
	if err != nil {
		t.Fatalf("FetchLayer failed: %v", err)
	}
	if out.GeoJSON != nil || out.Kind != history.LayerFile {
		t.Errorf("FetchLayer without body = %+v", out)
	}

	// The scratch copy survives its file going away
	fc, err := LayerFeatures(ctx, database, "01SCRATCH")
	if err != nil {
		t.Fatalf("LayerFeatures(scratch) failed: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Errorf("scratch features = %d, want 2", len(fc.Features))
	}

	// File layers reread their dataset
	out, err = FetchLayer(ctx, database, FetchLayerInput{ID: "01FILE", IncludeGeoJSON: true})
	if err != nil {
		t.Fatalf("FetchLayer(file) failed: %v", err)
	}
	if len(out.GeoJSON) == 0 {
		t.Errorf("file layer body should be read from disk")
	}

	if err := os.Remove(dest); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := LayerGeoJSON(ctx, database, "01FILE"); !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("missing file layer error = %v, want FILE_NOT_FOUND", err)
	}
}

func TestExportLayer(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	dir := t.TempDir()

	r := seedRun(t, database, "01RUN", "/a.fmw", "succeeded", 1)
	l := &history.Layer{
		ID: "01SCR", RunID: r.ID, Name: history.LayerName, Kind: history.LayerScratch,
		SourcePath: "/nowhere.geojson", GeometryType: "LineString", FeatureCount: 2,
		GeoJSON: []byte(lineFeatures), CreatedAt: 2,
	}
	if err := db.InsertLayer(ctx, database, l); err != nil {
		t.Fatalf("InsertLayer failed: %v", err)
	}

	path := filepath.Join(dir, "roads.geojson")
	out, err := ExportLayer(ctx, database, exportConfig(dir), ExportLayerInput{ID: l.ID, Path: path})
	if err != nil {
		t.Fatalf("ExportLayer failed: %v", err)
	}
	if out.FeatureCount != 2 || out.Path != path {
		t.Errorf("ExportLayer = %+v", out)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != lineFeatures {
		t.Errorf("exported body = %q, %v", data, err)
	}

	_, err = ExportLayer(ctx, database, exportConfig(dir), ExportLayerInput{ID: l.ID, Path: filepath.Join(dir, "x.jsonl")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("wrong extension error = %v, want INVALID_REQUEST", err)
	}
	_, err = ExportLayer(ctx, database, exportConfig(dir), ExportLayerInput{ID: "nope", Path: path})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing layer error = %v, want NOT_FOUND", err)
	}
}
