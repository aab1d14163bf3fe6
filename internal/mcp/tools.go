package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions. Names follow "type_action" so whole types can be disabled.

var inspectToolDef = mcp.NewTool("workspace_inspect",
	mcp.WithDescription("Parse an FME workspace (.fmw): header, GeoJSON source/destination datasets, published parameters and compatibility with the GeoJSON bridge."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("path", mcp.Required(), mcp.Description("Workspace file path")),
)

var scanToolDef = mcp.NewTool("workspace_scan",
	mcp.WithDescription("Count the .fmw workspaces in a folder. Defaults to the saved working directory."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("dir", mcp.Description("Folder to scan")),
)

var buildCommandToolDef = mcp.NewTool("command_build",
	mcp.WithDescription("Build the command line that would run a workspace, without running it. Unset dataset paths are generated."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("workspace", mcp.Description("Workspace file path")),
	mcp.WithString("executable", mcp.Description("fme.exe path; defaults to the saved executable")),
	mcp.WithObject("params", mcp.Description("Parameter overrides, name to value. The required marker (*) may be omitted.")),
	mcp.WithString("source_path", mcp.Description("Source GeoJSON path")),
	mcp.WithString("dest_path", mcp.Description("Destination GeoJSON path")),
)

var runToolDef = mcp.NewTool("workspace_run",
	mcp.WithDescription("Run a workspace on a GeoJSON input and wait for it. On success the output is added to the layer catalog. A failed translation is returned with its state and log, not as an error."),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithString("workspace", mcp.Required(), mcp.Description("Workspace file path")),
	mcp.WithString("executable", mcp.Description("fme.exe path for this run only; defaults to the saved executable")),
	mcp.WithObject("params", mcp.Description("Parameter overrides, name to value")),
	mcp.WithObject("layer", mcp.Description("Input GeoJSON (FeatureCollection, Feature or geometry). Either 'layer' or 'layer_id' is required unless the session source dataset already exists")),
	mcp.WithString("layer_id", mcp.Description("Use a catalog layer as input instead of 'layer'")),
	mcp.WithBoolean("scratch", mcp.Description("Load the result as an in-memory copy; defaults to config scratch_layers")),
)

var getExecutableToolDef = mcp.NewTool("exe_get",
	mcp.WithDescription("Show the saved fme.exe path and whether it is still valid."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var setExecutableToolDef = mcp.NewTool("exe_set",
	mcp.WithDescription("Validate and save the fme.exe path."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path ending in fme.exe")),
)

var listRunsToolDef = mcp.NewTool("runs_list",
	mcp.WithDescription("List translation runs, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("workspace", mcp.Description("Filter by workspace path")),
	mcp.WithString("state", mcp.Description("Filter by state"), mcp.Enum("running", "succeeded", "failed", "cancelled")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
	mcp.WithBoolean("include_deleted", mcp.Description("Include soft-deleted runs")),
)

var fetchRunToolDef = mcp.NewTool("runs_fetch",
	mcp.WithDescription("Fetch one run with its command and captured output."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Run ID")),
	mcp.WithBoolean("include_deleted", mcp.Description("Allow soft-deleted runs")),
	mcp.WithBoolean("include_output", mcp.Description("Include captured output (default true)")),
)

var reportToolDef = mcp.NewTool("runs_report",
	mcp.WithDescription("Render a run as a Markdown report."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Run ID")),
	mcp.WithBoolean("include_deleted", mcp.Description("Allow soft-deleted runs")),
)

var listLayersToolDef = mcp.NewTool("layers_list",
	mcp.WithDescription("List result layers of runs that are not deleted, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var fetchLayerToolDef = mcp.NewTool("layers_fetch",
	mcp.WithDescription("Fetch a result layer, optionally with its GeoJSON."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Layer ID")),
	mcp.WithBoolean("include_geojson", mcp.Description("Include the feature collection")),
)
