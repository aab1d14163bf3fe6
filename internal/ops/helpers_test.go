package ops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/history"
)

const compatibleWorkspace = `#! <WORKSPACE
#!   TITLE="buffer lines"
#!   A0_PREVIEW_IMAGE="x"
#! />
#   --SourceDataset_GEOJSON "C:\data\in.geojson"
#   --DestDataset_GEOJSON "C:\data\out.geojson"
#   --*BUFFER_DISTANCE "25"
#   --LABEL roads
`

const lineFeatures = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[2,3]]},"properties":{"name":"a"}},
{"type":"Feature","geometry":{"type":"LineString","coordinates":[[1,-1],[4,1]]},"properties":{"name":"b"}}
]}`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func writeTestFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// seedRun stores a finished run directly.
func seedRun(t *testing.T, database *sql.DB, id, workspace, state string, createdAt int64) *history.Run {
	t.Helper()
	code := 0
	if state == "failed" {
		code = 1
	}
	finished := createdAt + 1
	r := &history.Run{
		ID:            id,
		WorkspaceRaw:  workspace,
		WorkspaceNorm: history.NormalizeWorkspace(workspace),
		Command:       "fme.exe " + workspace,
		SourcePath:    "/tmp/in.geojson",
		DestPath:      "/tmp/out.geojson",
		State:         state,
		Status:        "status of " + id,
		ExitCode:      &code,
		Output:        "Translation log line",
		CreatedAt:     createdAt,
		FinishedAt:    &finished,
	}
	if err := db.InsertRun(context.Background(), database, r); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	return r
}

func stringPtr(s string) *string { return &s }
func intPtr(i int) *int          { return &i }
func boolPtr(b bool) *bool       { return &b }
