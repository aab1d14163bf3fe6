package web

import (
	"database/sql"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/ops"
	"github.com/hpungsan/fmebridge/internal/runner"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	renderer *Renderer
}

// runStates are the filter choices on the run list.
var runStates = []string{
	string(runner.StateRunning),
	string(runner.StateSucceeded),
	string(runner.StateFailed),
	string(runner.StateCancelled),
}

// HandleRuns handles GET /runs: run history, newest first.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ListRunsInput{
		Workspace:      q.Get("workspace"),
		State:          q.Get("state"),
		Limit:          parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:         parseIntParam(r, "offset", 0),
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
	}

	result, err := ops.ListRuns(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "runs", RunsPageData{
		PageData: PageData{
			Title:   "Runs",
			Version: h.renderer.version,
			Nav:     "runs",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Workspace:  input.Workspace,
		State:      input.State,
		States:     runStates,
		Deleted:    input.IncludeDeleted,
	})
}

// HandleRun handles GET /runs/{id}: the run report rendered from Markdown.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("run ID is required"))
		return
	}
	includeDeleted := parseBoolParam(r, "include_deleted")

	run, err := ops.FetchRun(r.Context(), h.db, ops.FetchRunInput{ID: id, IncludeDeleted: includeDeleted})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, run)
		return
	}

	report, err := ops.ReportRun(r.Context(), h.db, ops.ReportInput{ID: id, IncludeDeleted: includeDeleted})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "run", RunPageData{
		PageData: PageData{
			Title:   "Run " + shortID(run.ID),
			Version: h.renderer.version,
			Nav:     "runs",
		},
		Run:          run,
		RenderedHTML: renderMarkdown(report.Markdown),
	})
}

// HandleDelete handles DELETE /runs/{id}: soft-delete a run.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("run ID is required"))
		return
	}

	result, err := ops.DeleteRun(r.Context(), h.db, ops.DeleteInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// HTMX request: redirect via HX-Redirect header
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/runs")
		w.WriteHeader(http.StatusOK)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/runs", http.StatusFound)
}

// HandlePurge handles POST /runs/purge: permanently delete soft-deleted runs.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	if r.FormValue("confirm") != "true" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	input := ops.PurgeInput{
		Workspace: ptrString(r.FormValue("workspace")),
	}
	if days := r.FormValue("older_than_days"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("older_than_days must be an integer"))
			return
		}
		input.OlderThanDays = &d
	}

	result, err := ops.PurgeRuns(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="purge-result">` + template.HTMLEscapeString(result.Message) + `</div>`))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/runs?include_deleted=true", http.StatusFound)
}

// HandleLayers handles GET /layers: the layer catalog.
func (h *Handlers) HandleLayers(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListLayers(r.Context(), h.db, ops.ListLayersInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "layers", LayersPageData{
		PageData: PageData{
			Title:   "Layers",
			Version: h.renderer.version,
			Nav:     "layers",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
	})
}

// HandleLayerGeoJSON handles GET /layers/{id}.geojson: the layer features.
func (h *Handlers) HandleLayerGeoJSON(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(r.PathValue("file"), ".geojson")
	if !ok || id == "" {
		h.renderer.renderError(w, r, errors.NewNotFound("layer", r.PathValue("file")))
		return
	}

	body, err := ops.LayerGeoJSON(r.Context(), h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	if parseBoolParam(r, "download") {
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.geojson"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HandleWorkspace handles GET /workspace?path=: inspect a workspace file.
// Without a path only the form is shown.
func (h *Handlers) HandleWorkspace(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	data := WorkspacePageData{
		PageData: PageData{
			Title:   "Workspace",
			Version: h.renderer.version,
			Nav:     "workspace",
		},
		Path: path,
	}

	if path != "" {
		inspected, err := ops.Inspect(h.cfg, ops.InspectInput{Path: path})
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		if wantsJSON(r) {
			renderJSON(w, http.StatusOK, inspected)
			return
		}
		data.Workspace = inspected
	}

	h.renderer.renderPage(w, r, "workspace", data)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// shortID truncates a ULID for page titles.
func shortID(id string) string {
	if len(id) > 10 {
		return id[:10] + "..."
	}
	return id
}
