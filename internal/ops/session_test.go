//go:build !windows

package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/fmebridge/internal/command"
	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/dataset"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
	"github.com/hpungsan/fmebridge/internal/runner"
	"github.com/hpungsan/fmebridge/internal/settings"
)

// fakeFME copies the source dataset to the destination, like a pass-through workspace.
const fakeFME = `#!/bin/sh
src=""
dest=""
while [ $# -gt 0 ]; do
  case "$1" in
    --SourceDataset_GEOJSON) src="$2"; shift ;;
    --DestDataset_GEOJSON) dest="$2"; shift ;;
  esac
  shift
done
echo "FME 2024.1 (20240501 - Build 24619 - linux-x64)"
echo "Reading $src"
cp "$src" "$dest"
echo "Translation was SUCCESSFUL"
`

// slowFME never finishes on its own.
const slowFME = `#!/bin/sh
echo "started"
sleep 30
`

// failingFME exits non-zero after complaining on stderr.
const failingFME = `#!/bin/sh
echo "2024-05-01 10:00:02|   0.6|  0.0|ERROR |Unable to open writer"
echo "Program Terminating" >&2
exit 3
`

type sessionFixture struct {
	dir      string
	session  *Session
	settings *settings.Settings
	fmw      string
}

func newSessionFixture(t *testing.T, script string, scratch bool) *sessionFixture {
	t.Helper()
	dir := t.TempDir()

	database := openTestDB(t)
	cfg := config.DefaultConfig()
	cfg.PollIntervalMs = 10
	cfg.ScratchLayers = scratch

	exe := filepath.Join(dir, "fme.exe")
	require.NoError(t, os.WriteFile(exe, []byte(script), 0755))

	set := settings.Open(filepath.Join(dir, settings.FileName), cfg.ExecutableSuffix)
	_, err := set.SaveExecutable(exe)
	require.NoError(t, err)

	s, err := NewSession(SessionDeps{
		DB:       database,
		Config:   cfg,
		Settings: set,
		TempDir:  filepath.Join(dir, "temp"),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return &sessionFixture{
		dir:      dir,
		session:  s,
		settings: set,
		fmw:      writeTestFile(t, dir, "buffer.fmw", compatibleWorkspace),
	}
}

func testLayer(t *testing.T) *geojson.FeatureCollection {
	t.Helper()
	layer, err := dataset.Decode([]byte(lineFeatures))
	require.NoError(t, err)
	return layer
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSession_FullWorkflow exercises load -> edit -> run -> layer -> history.
func TestSession_FullWorkflow(t *testing.T) {
	f := newSessionFixture(t, fakeFME, false)
	ctx := waitCtx(t)
	s := f.session

	// 1. Executable from settings, but no workspace yet
	_, ready := s.Command()
	require.False(t, ready)
	_, err := s.Start(ctx, nil)
	require.True(t, errors.Is(err, errors.ErrNotReady), "got %v", err)

	// 2. Load workspace: parameter table filled from defaults
	inspected, err := s.LoadWorkspace(ctx, f.fmw)
	require.NoError(t, err)
	require.True(t, inspected.Compatibility.Compatible)
	st := s.State()
	require.Equal(t, f.fmw, st.Workspace)
	require.Equal(t, []command.Param{{Name: "*BUFFER_DISTANCE", Value: "25"}, {Name: "LABEL", Value: "roads"}}, st.Params)

	// 3. Edit a parameter: command rebuilt without the marker
	require.NoError(t, s.SetParameter("BUFFER_DISTANCE", "40"))
	cmd, ready := s.Command()
	require.True(t, ready)
	require.Contains(t, cmd, `--BUFFER_DISTANCE "40"`)
	require.Contains(t, cmd, `--DestDataset_GEOJSON "`+st.DestPath+`"`)
	require.True(t, errors.Is(s.SetParameter("MISSING", "x"), errors.ErrNotFound))

	// 4. Run with an input layer
	layer, err := dataset.Decode([]byte(lineFeatures))
	require.NoError(t, err)
	started, err := s.Start(ctx, layer)
	require.NoError(t, err)
	require.Equal(t, st.DestPath, started.DestPath)

	out, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, string(runner.StateSucceeded), out.Run.State)
	require.Equal(t, history.StatusLayerFile, out.Run.Status)
	require.Contains(t, out.Output, "Translation was SUCCESSFUL")

	// 5. Result loaded into the catalog as a file layer
	require.NotNil(t, out.Layer)
	require.Equal(t, history.LayerFile, out.Layer.Kind)
	require.Equal(t, history.LayerName, out.Layer.Name)
	require.Equal(t, "LineString", out.Layer.GeometryType)
	require.Equal(t, 2, out.Layer.FeatureCount)
	require.Equal(t, &[4]float64{0, -1, 4, 3}, out.Layer.Bounds)

	// 6. Paths regenerated for the next run
	next := s.State()
	require.NotEqual(t, st.DestPath, next.DestPath)
	require.Empty(t, next.ActiveRun)

	// 7. History has the run, linked to its layer
	fetched, err := FetchRun(ctx, s.db, FetchRunInput{ID: started.ID})
	require.NoError(t, err)
	require.Equal(t, cmd, fetched.Command)
	require.NotNil(t, fetched.LayerID)
	require.Equal(t, out.Layer.ID, *fetched.LayerID)
	require.NotNil(t, fetched.ExitCode)
	require.Equal(t, 0, *fetched.ExitCode)

	layers, err := ListLayers(ctx, s.db, ListLayersInput{})
	require.NoError(t, err)
	require.Len(t, layers.Items, 1)

	// 8. Deleting the run hides its layer; purge removes both
	_, err = DeleteRun(ctx, s.db, DeleteInput{ID: started.ID})
	require.NoError(t, err)
	layers, err = ListLayers(ctx, s.db, ListLayersInput{})
	require.NoError(t, err)
	require.Empty(t, layers.Items)

	purged, err := PurgeRuns(ctx, s.db, PurgeInput{})
	require.NoError(t, err)
	require.Equal(t, 1, purged.Purged)
	_, err = FetchLayer(ctx, s.db, FetchLayerInput{ID: out.Layer.ID})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSession_ScratchLayer(t *testing.T) {
	f := newSessionFixture(t, fakeFME, true)
	ctx := waitCtx(t)

	layer, err := dataset.Decode([]byte(lineFeatures))
	require.NoError(t, err)

	out, err := f.session.Run(ctx, RunInput{Workspace: f.fmw, Layer: layer})
	require.NoError(t, err)
	require.NotNil(t, out.Layer)
	require.Equal(t, history.LayerScratch, out.Layer.Kind)
	require.Equal(t, history.StatusLayerScratch, out.Run.Status)

	// The scratch copy no longer depends on the destination file
	require.NoError(t, os.Remove(out.Layer.SourcePath))
	fc, err := LayerFeatures(ctx, f.session.db, out.Layer.ID)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
}

func TestSession_RunFailed(t *testing.T) {
	f := newSessionFixture(t, failingFME, false)
	ctx := waitCtx(t)

	out, err := f.session.Run(ctx, RunInput{Workspace: f.fmw, Layer: testLayer(t)})
	require.NoError(t, err)
	require.Equal(t, string(runner.StateFailed), out.Run.State)
	require.Equal(t, runner.StatusFailed, out.Run.Status)
	require.NotNil(t, out.Run.ExitCode)
	require.Equal(t, 3, *out.Run.ExitCode)
	require.Nil(t, out.Layer)
	require.Contains(t, out.Output, "Errors:\nProgram Terminating")
	require.Equal(t, 2, out.Log.Errors)
	require.Equal(t, "Unable to open writer", out.Log.FirstError)
}

func TestSession_OutputMissing(t *testing.T) {
	f := newSessionFixture(t, "#!/bin/sh\necho done\n", false)
	ctx := waitCtx(t)

	out, err := f.session.Run(ctx, RunInput{Workspace: f.fmw, Layer: testLayer(t)})
	require.NoError(t, err)
	require.Equal(t, runner.StatusOutputMissing, out.Run.Status)
	require.Nil(t, out.Layer)
}

func TestSession_SecondStartRejected(t *testing.T) {
	f := newSessionFixture(t, slowFME, false)
	ctx := waitCtx(t)
	s := f.session

	_, err := s.LoadWorkspace(ctx, f.fmw)
	require.NoError(t, err)
	started, err := s.Start(ctx, testLayer(t))
	require.NoError(t, err)
	require.Equal(t, started.ID, s.State().ActiveRun)

	_, err = s.Start(ctx, testLayer(t))
	require.True(t, errors.Is(err, errors.ErrRunInProgress), "got %v", err)

	// Table edits are rejected while running
	require.True(t, errors.Is(s.SetParameter("LABEL", "x"), errors.ErrRunInProgress))
	_, err = s.LoadWorkspace(ctx, f.fmw)
	require.True(t, errors.Is(err, errors.ErrRunInProgress))

	require.NoError(t, s.Cancel())
	out, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, string(runner.StateCancelled), out.Run.State)
	require.Equal(t, runner.StatusCancelled, out.Run.Status)

	// Editable again once the run is stored
	require.NoError(t, s.SetParameter("LABEL", "x"))
	require.True(t, errors.Is(s.Cancel(), errors.ErrInvalidRequest))
}

func TestSession_WaitContextCancels(t *testing.T) {
	f := newSessionFixture(t, slowFME, false)
	s := f.session

	_, err := s.LoadWorkspace(context.Background(), f.fmw)
	require.NoError(t, err)
	_, err = s.Start(context.Background(), testLayer(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := s.Wait(ctx)
	require.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
	require.NotNil(t, out)
	require.Equal(t, string(runner.StateCancelled), out.Run.State)
}

func TestSession_StartCommand(t *testing.T) {
	f := newSessionFixture(t, fakeFME, false)
	ctx := waitCtx(t)
	s := f.session

	layer, err := dataset.Decode([]byte(lineFeatures))
	require.NoError(t, err)

	exe, _, err := f.settings.Executable()
	require.NoError(t, err)
	dest := filepath.Join(f.dir, "explicit_output.geojson")

	// Destination given, source appended from the session
	raw := exe + " " + f.fmw + ` --DestDataset_GEOJSON "` + dest + `"`
	started, err := s.StartCommand(ctx, raw, layer)
	require.NoError(t, err)
	require.Equal(t, dest, started.DestPath)
	require.True(t, strings.HasSuffix(started.Command, `--SourceDataset_GEOJSON "`+started.SourcePath+`"`))

	out, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, string(runner.StateSucceeded), out.Run.State)
	require.FileExists(t, dest)

	_, err = s.StartCommand(ctx, "   ", nil)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSession_SetExecutable(t *testing.T) {
	f := newSessionFixture(t, fakeFME, false)
	s := f.session

	err := s.SetExecutable(filepath.Join(f.dir, "missing", "fme.exe"))
	require.True(t, errors.Is(err, errors.ErrInvalidExecutable), "got %v", err)

	other := filepath.Join(f.dir, "FME 2024", "fme.exe")
	require.NoError(t, os.MkdirAll(filepath.Dir(other), 0700))
	require.NoError(t, os.WriteFile(other, []byte(fakeFME), 0755))
	require.NoError(t, s.SetExecutable(`"`+other+`"`))

	_, err = s.LoadWorkspace(context.Background(), f.fmw)
	require.NoError(t, err)
	cmd, ready := s.Command()
	require.True(t, ready)
	require.True(t, strings.HasPrefix(cmd, `"`+other+`" `), cmd)

	saved, _, err := f.settings.Executable()
	require.NoError(t, err)
	require.Equal(t, other, saved)
}

func TestSession_RegeneratePaths(t *testing.T) {
	f := newSessionFixture(t, fakeFME, false)
	s := f.session

	before := s.State()
	pair, err := s.RegeneratePaths()
	require.NoError(t, err)
	require.NotEqual(t, before.SourcePath, pair.Input)
	require.Equal(t, pair.Output, s.State().DestPath)
	require.Equal(t, filepath.Join(f.dir, "temp"), filepath.Dir(pair.Input))

	require.NoError(t, s.SetSourcePath("/data/in.geojson"))
	require.NoError(t, s.SetDestPath("/data/out.geojson"))
	st := s.State()
	require.Equal(t, "/data/in.geojson", st.SourcePath)
	require.Equal(t, "/data/out.geojson", st.DestPath)
}

func TestSession_StartRequiresInput(t *testing.T) {
	f := newSessionFixture(t, fakeFME, false)
	ctx := waitCtx(t)
	s := f.session

	_, err := s.LoadWorkspace(ctx, f.fmw)
	require.NoError(t, err)

	// No layer and nothing at the generated source path: nothing is spawned
	_, err = s.Start(ctx, nil)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
	require.Empty(t, s.State().ActiveRun)
	runs, err := ListRuns(ctx, s.db, ListRunsInput{})
	require.NoError(t, err)
	require.Empty(t, runs.Items)

	// An existing source dataset may be used as it is
	source := writeTestFile(t, f.dir, "existing.geojson", lineFeatures)
	require.NoError(t, s.SetSourcePath(source))
	_, err = s.Start(ctx, nil)
	require.NoError(t, err)
	out, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, string(runner.StateSucceeded), out.Run.State)
	require.Equal(t, 2, out.Layer.FeatureCount)
}

func TestSession_RunExecutableNotKept(t *testing.T) {
	f := newSessionFixture(t, fakeFME, false)
	ctx := waitCtx(t)
	s := f.session
	saved := s.State().Executable

	other := filepath.Join(f.dir, "other", "fme.exe")
	require.NoError(t, os.MkdirAll(filepath.Dir(other), 0700))
	require.NoError(t, os.WriteFile(other, []byte(failingFME), 0755))

	out, err := s.Run(ctx, RunInput{Workspace: f.fmw, Executable: other, Layer: testLayer(t)})
	require.NoError(t, err)
	require.Equal(t, string(runner.StateFailed), out.Run.State)
	require.Equal(t, saved, s.State().Executable)
	cmd, _ := s.Command()
	require.False(t, strings.Contains(cmd, other), cmd)

	// The next run without an override uses the session executable again
	out, err = s.Run(ctx, RunInput{Layer: testLayer(t)})
	require.NoError(t, err)
	require.Equal(t, string(runner.StateSucceeded), out.Run.State)
}

func TestNewSession_IgnoresInvalidSavedExecutable(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, settings.FileName)
	require.NoError(t, os.WriteFile(iniPath, []byte("[Paths]\nfme_exe = /bin/sh\n"), 0600))

	s, err := NewSession(SessionDeps{
		DB:       openTestDB(t),
		Settings: settings.Open(iniPath, ""),
		TempDir:  filepath.Join(dir, "temp"),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.Empty(t, s.State().Executable)
	_, err = s.LoadWorkspace(context.Background(), writeTestFile(t, dir, "buffer.fmw", compatibleWorkspace))
	require.NoError(t, err)
	_, ready := s.Command()
	require.False(t, ready)
}
