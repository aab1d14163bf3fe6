package ops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/hpungsan/fmebridge/internal/command"
	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/dataset"
	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
	"github.com/hpungsan/fmebridge/internal/logging"
	"github.com/hpungsan/fmebridge/internal/runner"
	"github.com/hpungsan/fmebridge/internal/settings"
	"github.com/hpungsan/fmebridge/internal/workspace"
)

// SessionDeps are the collaborators a Session is built from.
type SessionDeps struct {
	DB       *sql.DB
	Config   *config.Config
	Settings *settings.Settings // optional; without it the executable is not persisted
	Logger   *logging.Logger
	TempDir  string // generated dataset pairs live here
}

// Session holds the editable inputs of one translation (executable,
// workspace, parameter table, dataset paths) and at most one active run.
// Every input change rebuilds the command. Methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	db       *sql.DB
	cfg      *config.Config
	settings *settings.Settings
	log      *logging.Logger
	tempDir  string
	now      func() time.Time

	executable string
	meta       *workspace.Metadata
	params     []command.Param
	sourcePath string
	destPath   string
	command    string
	ready      bool

	active *activeRun
	last   *activeRun
}

// activeRun tracks one started run until its record and layer are stored.
type activeRun struct {
	record  *history.Run
	run     *runner.Run
	scratch bool
	onTick  func([]string)

	done   chan struct{}
	output *RunOutput
	err    error
}

// SessionState is a snapshot of the session inputs.
type SessionState struct {
	Executable string          `json:"executable"`
	Workspace  string          `json:"workspace"`
	Params     []command.Param `json:"params"`
	SourcePath string          `json:"source_path"`
	DestPath   string          `json:"dest_path"`
	Command    string          `json:"command"`
	Ready      bool            `json:"ready"`
	ActiveRun  string          `json:"active_run,omitempty"`
}

// StartOutput identifies a run that was just started.
type StartOutput struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
}

// RunOutput is the stored outcome of a finished run.
type RunOutput struct {
	Run        history.RunSummary    `json:"run"`
	Output     string                `json:"output"`
	Log        history.LogStats      `json:"log"`
	Layer      *history.LayerSummary `json:"layer,omitempty"`
	LayerError string                `json:"layer_error,omitempty"`
	Warning    string                `json:"warning,omitempty"`
}

// NewSession creates a session with fresh dataset paths. A saved executable
// is picked up from settings only when it still passes validation.
func NewSession(deps SessionDeps) (*Session, error) {
	if deps.DB == nil {
		return nil, errors.NewInvalidRequest("session requires a database")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	tempDir := deps.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "fmebridge")
	}

	s := &Session{
		db:       deps.DB,
		cfg:      cfg,
		settings: deps.Settings,
		log:      log.Component("session"),
		tempDir:  tempDir,
		now:      time.Now,
		params:   []command.Param{},
	}

	if s.settings != nil {
		exe, valid, err := s.settings.Executable()
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("cannot read saved executable")
		case valid:
			s.executable = exe
		case exe != "":
			s.log.Warn().Str("path", exe).Msg("ignoring saved executable")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.regeneratePathsLocked(); err != nil {
		return nil, err
	}
	s.rebuildLocked()
	return s, nil
}

// LoadWorkspace parses path and resets the parameter table to its defaults.
// Dataset paths are regenerated.
func (s *Session) LoadWorkspace(ctx context.Context, path string) (*InspectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("workspace load")
	}
	path = strings.Trim(strings.TrimSpace(path), `"`)
	if path == "" {
		return nil, errors.NewInvalidRequest("workspace path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busyLocked(); err != nil {
		return nil, err
	}

	meta, err := workspace.Load(path, s.cfg.RequiredParameters)
	if err != nil {
		return nil, err
	}

	s.meta = meta
	s.params = defaultParams(meta)
	if _, err := s.regeneratePathsLocked(); err != nil {
		return nil, err
	}
	s.rebuildLocked()

	s.log.Info().
		Str("workspace", path).
		Int("sources", len(meta.Sources)).
		Int("destinations", len(meta.Destinations)).
		Int("parameters", len(meta.Parameters)).
		Msg("workspace loaded")

	warning := compatibilityWarning(s.cfg, meta)
	if warning != "" {
		s.log.Warn().Strs("missing", meta.Compatibility.Missing).Msg(warning)
	}
	return &InspectOutput{Metadata: *meta, Warning: warning}, nil
}

// SetExecutable validates and saves the executable, then rebuilds the command.
func (s *Session) SetExecutable(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}

	path = strings.Trim(strings.TrimSpace(path), `"`)
	if s.settings != nil {
		saved, err := s.settings.SaveExecutable(path)
		if err != nil {
			return errors.Wrap(err)
		}
		path = saved
	}
	s.executable = path
	s.rebuildLocked()
	return nil
}

// SetParameter sets the value of a loaded parameter. The required marker
// may be omitted from name.
func (s *Session) SetParameter(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}

	params, err := setParam(s.params, name, value)
	if err != nil {
		return err
	}
	s.params = params
	s.rebuildLocked()
	return nil
}

// SetSourcePath overrides the generated source dataset path.
func (s *Session) SetSourcePath(path string) error {
	return s.setPath(&s.sourcePath, path)
}

// SetDestPath overrides the generated destination dataset path.
func (s *Session) SetDestPath(path string) error {
	return s.setPath(&s.destPath, path)
}

func (s *Session) setPath(field *string, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}
	*field = strings.TrimSpace(path)
	s.rebuildLocked()
	return nil
}

// RegeneratePaths replaces both dataset paths with a fresh unique pair.
func (s *Session) RegeneratePaths() (dataset.FilenamePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busyLocked(); err != nil {
		return dataset.FilenamePair{}, err
	}

	pair, err := s.regeneratePathsLocked()
	if err != nil {
		return dataset.FilenamePair{}, err
	}
	s.rebuildLocked()
	return pair, nil
}

// Command returns the current command line. The second result is false when
// the executable or workspace is missing.
func (s *Session) Command() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command, s.ready
}

// State returns a snapshot of the session inputs.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionState{
		Executable: s.executable,
		Params:     append([]command.Param{}, s.params...),
		SourcePath: s.sourcePath,
		DestPath:   s.destPath,
		Command:    s.command,
		Ready:      s.ready,
	}
	if s.meta != nil {
		st.Workspace = s.meta.Path
	}
	if s.active != nil {
		st.ActiveRun = s.active.record.ID
	}
	return st
}

// Start writes layer to the source path and runs the current command.
// layer may be nil only when the source dataset already exists on disk.
func (s *Session) Start(ctx context.Context, layer *geojson.FeatureCollection) (*StartOutput, error) {
	return s.start(ctx, startRequest{layer: layer, scratch: s.cfg.ScratchLayers})
}

// StartCommand runs a caller-supplied command line instead of the built one.
// Dataset flags missing from raw are appended with the session paths.
func (s *Session) StartCommand(ctx context.Context, raw string, layer *geojson.FeatureCollection) (*StartOutput, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.NewInvalidRequest("command is empty")
	}
	return s.start(ctx, startRequest{raw: raw, layer: layer, scratch: s.cfg.ScratchLayers})
}

type startRequest struct {
	raw        string
	executable string // overrides the session executable for this run only
	layer      *geojson.FeatureCollection
	scratch    bool
	onTick     func([]string)
}

func (s *Session) start(ctx context.Context, req startRequest) (*StartOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("run start")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busyLocked(); err != nil {
		return nil, err
	}

	line, source, dest := s.command, s.sourcePath, s.destPath
	if req.raw != "" {
		line, source, dest = s.resolveRawLocked(req.raw)
	} else {
		exe, ready := s.executable, s.ready
		if req.executable != "" {
			exe = req.executable
			line, ready = s.buildLocked(exe)
		}
		if !ready {
			return nil, errors.NewNotReady(missingInputs(exe, s.workspacePathLocked())...)
		}
	}

	if req.layer != nil {
		if err := dataset.WriteSource(req.layer, source); err != nil {
			return nil, err
		}
	} else if source != "" {
		if _, err := os.Stat(source); err != nil {
			return nil, errors.NewInvalidRequest("no input layer given and source dataset " + source + " does not exist")
		}
	}

	now := s.now()
	id, err := newID(now)
	if err != nil {
		return nil, err
	}
	wsPath := s.workspacePathLocked()
	record := &history.Run{
		ID:            id,
		WorkspaceRaw:  wsPath,
		WorkspaceNorm: history.NormalizeWorkspace(wsPath),
		Command:       line,
		SourcePath:    source,
		DestPath:      dest,
		CreatedAt:     now.Unix(),
	}

	run := runner.New(line, runner.Options{DestPath: dest, Logger: s.log.Field("run_id", id)})
	if err := run.Start(ctx); err != nil {
		// The failed attempt is still recorded
		s.fillRecord(record, run.Result())
		if dbErr := db.InsertRun(context.WithoutCancel(ctx), s.db, record); dbErr != nil {
			s.log.Error().Err(dbErr).Str("run_id", id).Msg("cannot record failed start")
		}
		s.log.Error().Err(err).Str("run_id", id).Msg("translation did not start")
		return nil, errors.Wrap(err)
	}

	s.fillRecord(record, run.Result())
	if err := db.InsertRun(ctx, s.db, record); err != nil {
		_ = run.Cancel()
		return nil, err
	}

	a := &activeRun{
		record:  record,
		run:     run,
		scratch: req.scratch,
		onTick:  req.onTick,
		done:    make(chan struct{}),
	}
	s.active = a
	go s.drive(a)

	s.log.Info().Str("run_id", id).Str("command", line).Msg("run started")
	return &StartOutput{ID: id, Command: line, SourcePath: source, DestPath: dest}, nil
}

// resolveRawLocked fills in dataset flags the raw command lacks.
func (s *Session) resolveRawLocked(raw string) (line, source, dest string) {
	line = raw
	source, dest = command.ExtractDatasetPaths(raw)
	if source == "" && s.sourcePath != "" {
		source = s.sourcePath
		line = command.AppendDataset(line, command.SourceFlag(workspace.FormatGeoJSON), source)
	}
	if dest == "" && s.destPath != "" {
		dest = s.destPath
		line = command.AppendDataset(line, command.DestFlag(workspace.FormatGeoJSON), dest)
	}
	return line, source, dest
}

// Cancel stops the active run.
func (s *Session) Cancel() error {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()

	if a == nil {
		return errors.NewInvalidRequest("no run in progress")
	}
	s.log.Info().Str("run_id", a.record.ID).Msg("cancelling run")
	return a.run.Cancel()
}

// Wait blocks until the active run, or the most recent one, is stored. When
// ctx ends first the run is cancelled and CANCELLED is returned.
func (s *Session) Wait(ctx context.Context) (*RunOutput, error) {
	s.mu.Lock()
	a := s.active
	if a == nil {
		a = s.last
	}
	s.mu.Unlock()

	if a == nil {
		return nil, errors.NewInvalidRequest("no run has been started")
	}

	select {
	case <-a.done:
		return a.output, a.err
	case <-ctx.Done():
		if err := a.run.Cancel(); err != nil {
			return nil, errors.Wrap(err)
		}
		<-a.done
		if a.err != nil {
			return nil, a.err
		}
		return a.output, errors.NewCancelled("run")
	}
}

// Close cancels any active run and waits for it to be stored.
func (s *Session) Close() {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return
	}
	_ = a.run.Cancel()
	<-a.done
}

// RunInput contains parameters for the Run operation.
type RunInput struct {
	Workspace  string
	Executable string // optional, used for this run only
	Params     []command.Param
	Layer      *geojson.FeatureCollection
	Scratch    *bool          // default: config scratch_layers
	OnTick     func([]string) // receives output lines as they arrive
}

// Run loads a workspace, applies parameters, executes and waits.
func (s *Session) Run(ctx context.Context, input RunInput) (*RunOutput, error) {
	var warning string
	if input.Workspace != "" {
		inspected, err := s.LoadWorkspace(ctx, input.Workspace)
		if err != nil {
			return nil, err
		}
		warning = inspected.Warning
	}

	for _, p := range input.Params {
		if err := s.SetParameter(p.Name, p.Value); err != nil {
			return nil, err
		}
	}

	_, err := s.start(ctx, startRequest{
		executable: strings.Trim(strings.TrimSpace(input.Executable), `"`),
		layer:      input.Layer,
		scratch:    boolOr(input.Scratch, s.cfg.ScratchLayers),
		onTick:     input.OnTick,
	})
	if err != nil {
		return nil, err
	}

	out, err := s.Wait(ctx)
	if out != nil {
		out.Warning = warning
	}
	return out, err
}

// drive polls the run to completion, then stores the outcome.
func (s *Session) drive(a *activeRun) {
	interval := time.Duration(s.cfg.PollIntervalMs) * time.Millisecond
	_ = a.run.Wait(context.Background(), interval, func(lines []string) {
		if a.onTick != nil && len(lines) > 0 {
			a.onTick(lines)
		}
	})

	a.output, a.err = s.complete(a)

	s.mu.Lock()
	if s.active == a {
		s.active = nil
	}
	s.last = a
	s.mu.Unlock()
	close(a.done)
}

// complete stores the finished run and, on success, loads its destination
// into the layer catalog and prepares fresh paths for the next run.
func (s *Session) complete(a *activeRun) (*RunOutput, error) {
	ctx := context.Background()
	rec := a.record
	s.fillRecord(rec, a.run.Result())

	if err := db.FinishRun(ctx, s.db, rec); err != nil {
		s.log.Error().Err(err).Str("run_id", rec.ID).Msg("cannot store run result")
		return nil, err
	}

	out := &RunOutput{Output: rec.Output, Log: history.ScanLog(rec.Output)}
	if rec.State == string(runner.StateSucceeded) {
		layer, err := s.loadLayer(ctx, rec, a.scratch)
		if err != nil {
			out.LayerError = err.Error()
			s.log.Warn().Err(err).Str("run_id", rec.ID).Msg("cannot load result layer")
		} else {
			summary := layer.ToSummary()
			out.Layer = &summary
			rec.LayerID = &layer.ID
			s.log.Info().
				Str("layer_id", layer.ID).
				Str("kind", layer.Kind).
				Int("features", layer.FeatureCount).
				Msg("layer loaded")
		}

		s.mu.Lock()
		if _, err := s.regeneratePathsLocked(); err != nil {
			s.log.Warn().Err(err).Msg("cannot regenerate dataset paths")
		}
		s.rebuildLocked()
		s.mu.Unlock()
	}

	out.Run = rec.ToSummary()
	return out, nil
}

// loadLayer reads the destination dataset and adds it to the catalog.
func (s *Session) loadLayer(ctx context.Context, rec *history.Run, scratch bool) (*history.Layer, error) {
	fc, err := dataset.Read(rec.DestPath)
	if err != nil {
		return nil, err
	}
	summary := dataset.Describe(fc)

	now := s.now()
	id, err := newID(now)
	if err != nil {
		return nil, err
	}
	layer := &history.Layer{
		ID:           id,
		RunID:        rec.ID,
		Name:         history.LayerName,
		Kind:         history.LayerFile,
		SourcePath:   rec.DestPath,
		GeometryType: summary.GeometryType,
		FeatureCount: summary.FeatureCount,
		Bounds:       summary.Bounds,
		CreatedAt:    now.Unix(),
	}
	if scratch {
		body, err := dataset.Encode(dataset.ScratchCopy(fc))
		if err != nil {
			return nil, err
		}
		layer.Kind = history.LayerScratch
		layer.GeoJSON = body
	}

	if err := db.InsertLayer(ctx, s.db, layer); err != nil {
		return nil, err
	}
	status := history.LoadedStatus(layer.Kind)
	if err := db.AttachLayer(ctx, s.db, rec.ID, layer.ID, status); err != nil {
		return nil, err
	}
	rec.Status = status
	return layer, nil
}

func (s *Session) fillRecord(rec *history.Run, res runner.Result) {
	rec.State = string(res.State)
	rec.Status = res.Status
	rec.ExitCode = res.ExitCode
	rec.Output = res.Output
	if res.State.IsTerminal() {
		fin := res.FinishedAt.Unix()
		rec.FinishedAt = &fin
	}
}

func (s *Session) busyLocked() error {
	if s.active != nil {
		return errors.NewRunInProgress(s.active.record.ID)
	}
	return nil
}

func (s *Session) workspacePathLocked() string {
	if s.meta == nil {
		return ""
	}
	return s.meta.Path
}

func (s *Session) regeneratePathsLocked() (dataset.FilenamePair, error) {
	pair, err := dataset.NewFilenamePair(s.tempDir, s.now())
	if err != nil {
		return dataset.FilenamePair{}, errors.Wrap(err)
	}
	s.sourcePath = pair.Input
	s.destPath = pair.Output
	return pair, nil
}

func (s *Session) rebuildLocked() {
	s.command, s.ready = s.buildLocked(s.executable)
	s.log.Debug().Bool("ready", s.ready).Str("command", s.command).Msg("command rebuilt")
}

// buildLocked builds the command from the session inputs with exe.
func (s *Session) buildLocked(exe string) (string, bool) {
	return command.Build(command.Spec{
		Executable:   exe,
		Workspace:    s.workspacePathLocked(),
		Params:       s.params,
		SourceFormat: workspace.FormatGeoJSON,
		SourcePath:   s.sourcePath,
		DestFormat:   workspace.FormatGeoJSON,
		DestPath:     s.destPath,
	})
}
