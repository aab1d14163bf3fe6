package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/paulmach/orb/geojson"

	"github.com/hpungsan/fmebridge/internal/command"
	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/dataset"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/logging"
	"github.com/hpungsan/fmebridge/internal/ops"
	"github.com/hpungsan/fmebridge/internal/settings"
)

// Deps are the collaborators the tool handlers share.
type Deps struct {
	DB       *sql.DB
	Config   *config.Config
	Settings *settings.Settings
	Session  *ops.Session
	Logger   *logging.Logger
	TempDir  string
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	settings *settings.Settings
	session  *ops.Session
	log      *logging.Logger
	tempDir  string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Handlers{
		db:       deps.DB,
		cfg:      cfg,
		settings: deps.Settings,
		session:  deps.Session,
		log:      log.Component("mcp"),
		tempDir:  deps.TempDir,
	}
}

// Request types for each tool

// InspectRequest represents the arguments for workspace_inspect.
type InspectRequest struct {
	Path string `json:"path"`
}

// ScanRequest represents the arguments for workspace_scan.
type ScanRequest struct {
	Dir string `json:"dir,omitempty"`
}

// BuildCommandRequest represents the arguments for command_build.
type BuildCommandRequest struct {
	Workspace  string            `json:"workspace,omitempty"`
	Executable string            `json:"executable,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	SourcePath string            `json:"source_path,omitempty"`
	DestPath   string            `json:"dest_path,omitempty"`
}

// RunRequest represents the arguments for workspace_run.
type RunRequest struct {
	Workspace  string            `json:"workspace"`
	Executable string            `json:"executable,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Layer      json.RawMessage   `json:"layer,omitempty"`
	LayerID    string            `json:"layer_id,omitempty"`
	Scratch    *bool             `json:"scratch,omitempty"`
}

// SetExecutableRequest represents the arguments for exe_set.
type SetExecutableRequest struct {
	Path string `json:"path"`
}

// ListRunsRequest represents the arguments for runs_list.
type ListRunsRequest struct {
	Workspace      string `json:"workspace,omitempty"`
	State          string `json:"state,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

// FetchRunRequest represents the arguments for runs_fetch.
type FetchRunRequest struct {
	ID             string `json:"id"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	IncludeOutput  *bool  `json:"include_output,omitempty"`
}

// ReportRequest represents the arguments for runs_report.
type ReportRequest struct {
	ID             string `json:"id"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

// ListLayersRequest represents the arguments for layers_list.
type ListLayersRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// FetchLayerRequest represents the arguments for layers_fetch.
type FetchLayerRequest struct {
	ID             string `json:"id"`
	IncludeGeoJSON bool   `json:"include_geojson,omitempty"`
}

// Handler implementations

// HandleInspect handles the workspace_inspect tool call.
func (h *Handlers) HandleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InspectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Inspect(h.cfg, ops.InspectInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleScan handles the workspace_scan tool call.
func (h *Handlers) HandleScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScanRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Scan(h.settings, ops.ScanInput{Dir: input.Dir})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBuildCommand handles the command_build tool call.
func (h *Handlers) HandleBuildCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BuildCommandRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.BuildCommand(h.cfg, h.settings, ops.BuildCommandInput{
		Workspace:  input.Workspace,
		Executable: input.Executable,
		Params:     paramList(input.Params),
		SourcePath: input.SourcePath,
		DestPath:   input.DestPath,
		TempDir:    h.tempDir,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRun handles the workspace_run tool call.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RunRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if h.session == nil {
		return errorResult(errors.NewInternal(stderrors.New("no session configured"))), nil
	}
	if input.Workspace == "" {
		return errorResult(errors.NewInvalidRequest("workspace is required")), nil
	}

	layer, err := h.inputLayer(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.session.Run(ctx, ops.RunInput{
		Workspace:  input.Workspace,
		Executable: input.Executable,
		Params:     paramList(input.Params),
		Layer:      layer,
		Scratch:    input.Scratch,
	})
	if err != nil {
		return errorResult(err), nil
	}

	h.log.Info().
		Str("run_id", result.Run.ID).
		Str("state", result.Run.State).
		Msg("workspace_run finished")
	return successResult(result)
}

// inputLayer resolves the inline layer or the catalog layer. With neither,
// the source dataset is used as it is.
func (h *Handlers) inputLayer(ctx context.Context, input RunRequest) (*geojson.FeatureCollection, error) {
	hasInline := len(input.Layer) > 0 && string(input.Layer) != "null"
	if hasInline && input.LayerID != "" {
		return nil, errors.NewInvalidRequest("give either layer or layer_id, not both")
	}
	if hasInline {
		fc, err := dataset.Decode(input.Layer)
		if err != nil {
			return nil, errors.NewInvalidDataset("layer", err)
		}
		return fc, nil
	}
	if input.LayerID != "" {
		return ops.LayerFeatures(ctx, h.db, input.LayerID)
	}
	return nil, nil
}

// HandleGetExecutable handles the exe_get tool call.
func (h *Handlers) HandleGetExecutable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.settings == nil {
		return errorResult(errors.NewInternal(stderrors.New("no settings file configured"))), nil
	}

	result, err := ops.GetExecutable(h.settings)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSetExecutable handles the exe_set tool call. The running session
// picks up the new path too.
func (h *Handlers) HandleSetExecutable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SetExecutableRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if h.settings == nil {
		return errorResult(errors.NewInternal(stderrors.New("no settings file configured"))), nil
	}

	if h.session != nil {
		if err := h.session.SetExecutable(input.Path); err != nil {
			return errorResult(err), nil
		}
		result, err := ops.GetExecutable(h.settings)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}

	result, err := ops.SetExecutable(h.settings, input.Path)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListRuns handles the runs_list tool call.
func (h *Handlers) HandleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRunsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListRuns(ctx, h.db, ops.ListRunsInput{
		Workspace:      input.Workspace,
		State:          input.State,
		Limit:          input.Limit,
		Offset:         input.Offset,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetchRun handles the runs_fetch tool call.
func (h *Handlers) HandleFetchRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRunRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.FetchRun(ctx, h.db, ops.FetchRunInput{
		ID:             input.ID,
		IncludeDeleted: input.IncludeDeleted,
		IncludeOutput:  input.IncludeOutput,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReport handles the runs_report tool call.
func (h *Handlers) HandleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ReportRun(ctx, h.db, ops.ReportInput{
		ID:             input.ID,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListLayers handles the layers_list tool call.
func (h *Handlers) HandleListLayers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListLayersRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListLayers(ctx, h.db, ops.ListLayersInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetchLayer handles the layers_fetch tool call.
func (h *Handlers) HandleFetchLayer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchLayerRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.FetchLayer(ctx, h.db, ops.FetchLayerInput{
		ID:             input.ID,
		IncludeGeoJSON: input.IncludeGeoJSON,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// paramList turns a name->value map into parameter rows, sorted by name.
func paramList(m map[string]string) []command.Param {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]command.Param, 0, len(names))
	for _, name := range names {
		params = append(params, command.Param{Name: name, Value: m[name]})
	}
	return params
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var bErr *errors.BridgeError
	if stderrors.As(err, &bErr) {
		msg := bErr.Message
		// Keep context added by wrappers
		if err != error(bErr) && bErr.Code != errors.ErrInternal {
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    bErr.Code,
			"message": msg,
			"status":  bErr.Status,
		}
		if bErr.Code != errors.ErrInternal && bErr.Details != nil {
			errorObj["details"] = bErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
