//go:build !windows

package mcp

import (
	"context"
	"strings"
	"testing"
)

const passThroughFME = `#!/bin/sh
src=""
dest=""
while [ $# -gt 0 ]; do
  case "$1" in
    --SourceDataset_GEOJSON) src="$2"; shift ;;
    --DestDataset_GEOJSON) dest="$2"; shift ;;
  esac
  shift
done
echo "Translation was SUCCESSFUL"
cp "$src" "$dest"
`

func TestHandleRun_Workflow(t *testing.T) {
	env := testSetup(t)
	h := env.handlers()
	ctx := context.Background()

	fmw := env.writeFile(t, "buffer.fmw", testWorkspace, 0600)
	exe := env.writeFile(t, "bin/fme.exe", passThroughFME, 0755)

	result, _ := h.HandleSetExecutable(ctx, makeRequest(map[string]any{"path": exe}))
	parseOutput(t, result)

	// Run with an inline point layer
	result, err := h.HandleRun(ctx, makeRequest(map[string]any{
		"workspace": fmw,
		"params":    map[string]any{"BUFFER_DISTANCE": "10"},
		"layer": map[string]any{
			"type":     "Feature",
			"geometry": map[string]any{"type": "Point", "coordinates": []any{3, 4}},
		},
		"scratch": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)

	run := output["run"].(map[string]any)
	if run["state"] != "succeeded" {
		t.Fatalf("state = %v, want succeeded (output: %v)", run["state"], output["output"])
	}
	layer := output["layer"].(map[string]any)
	if layer["kind"] != "scratch" || layer["geometry_type"] != "Point" || layer["feature_count"] != float64(1) {
		t.Errorf("layer = %v", layer)
	}
	runID := run["id"].(string)
	layerID := layer["id"].(string)

	// The run is in history with its command
	result, _ = h.HandleFetchRun(ctx, makeRequest(map[string]any{"id": runID}))
	fetched := parseOutput(t, result)
	if cmd := fetched["command"].(string); !strings.Contains(cmd, `--BUFFER_DISTANCE "10"`) {
		t.Errorf("command = %q, want BUFFER_DISTANCE override", cmd)
	}
	if fetched["layer_id"] != layerID {
		t.Errorf("layer_id = %v, want %s", fetched["layer_id"], layerID)
	}

	result, _ = h.HandleListRuns(ctx, makeRequest(map[string]any{"workspace": fmw, "state": "succeeded"}))
	if items := parseOutput(t, result)["items"].([]any); len(items) != 1 {
		t.Errorf("runs_list items = %d, want 1", len(items))
	}

	result, _ = h.HandleReport(ctx, makeRequest(map[string]any{"id": runID}))
	md := parseOutput(t, result)["markdown"].(string)
	if !strings.Contains(md, "## Result layer") || !strings.Contains(md, "Translation was SUCCESSFUL") {
		t.Errorf("report missing sections:\n%s", md)
	}

	// The catalog serves the layer back as GeoJSON
	result, _ = h.HandleFetchLayer(ctx, makeRequest(map[string]any{"id": layerID, "include_geojson": true}))
	fc := parseOutput(t, result)["geojson"].(map[string]any)
	if fc["type"] != "FeatureCollection" || len(fc["features"].([]any)) != 1 {
		t.Errorf("geojson = %v", fc)
	}

	// A second run can feed on the first result
	result, _ = h.HandleRun(ctx, makeRequest(map[string]any{"workspace": fmw, "layer_id": layerID}))
	second := parseOutput(t, result)
	if second["run"].(map[string]any)["state"] != "succeeded" {
		t.Errorf("second run state = %v", second["run"])
	}

	result, _ = h.HandleListLayers(ctx, makeRequest(map[string]any{}))
	if items := parseOutput(t, result)["items"].([]any); len(items) != 2 {
		t.Errorf("layers_list items = %d, want 2", len(items))
	}
}

func TestHandleRun_FailedTranslationIsNotAnError(t *testing.T) {
	env := testSetup(t)
	h := env.handlers()
	ctx := context.Background()

	fmw := env.writeFile(t, "buffer.fmw", testWorkspace, 0600)
	exe := env.writeFile(t, "bin/fme.exe", "#!/bin/sh\necho 'Program Terminating' >&2\nexit 2\n", 0755)

	result, _ := h.HandleRun(ctx, makeRequest(map[string]any{
		"workspace":  fmw,
		"executable": exe,
		"layer":      map[string]any{"type": "Point", "coordinates": []any{1, 2}},
	}))
	output := parseOutput(t, result)

	run := output["run"].(map[string]any)
	if run["state"] != "failed" || run["exit_code"] != float64(2) {
		t.Errorf("run = %v, want failed with exit 2", run)
	}
	if _, ok := output["layer"]; ok {
		t.Error("failed run should have no layer")
	}

	// Executable given per call is not persisted
	result, _ = h.HandleGetExecutable(ctx, makeRequest(nil))
	if path := parseOutput(t, result)["path"]; path != "" {
		t.Errorf("saved executable = %v, want empty", path)
	}
}

func TestHandleRun_RequiresInputLayer(t *testing.T) {
	env := testSetup(t)
	h := env.handlers()
	ctx := context.Background()

	fmw := env.writeFile(t, "buffer.fmw", testWorkspace, 0600)
	exe := env.writeFile(t, "bin/fme.exe", passThroughFME, 0755)

	result, _ := h.HandleRun(ctx, makeRequest(map[string]any{"workspace": fmw, "executable": exe}))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = h.HandleListRuns(ctx, makeRequest(map[string]any{}))
	if items := parseOutput(t, result)["items"].([]any); len(items) != 0 {
		t.Errorf("runs_list items = %d, want 0", len(items))
	}
}
