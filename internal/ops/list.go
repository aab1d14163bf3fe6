package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
	"github.com/hpungsan/fmebridge/internal/runner"
)

// ListRunsInput contains parameters for the ListRuns operation.
type ListRunsInput struct {
	Workspace      string // optional, workspace file path
	State          string // optional, one of the run states
	Limit          int    // default: 20, max: 100
	Offset         int    // default: 0
	IncludeDeleted bool
}

// ListRunsOutput contains the result of the ListRuns operation.
type ListRunsOutput struct {
	Items      []history.RunSummary `json:"items"`
	Pagination Pagination           `json:"pagination"`
	Sort       string               `json:"sort"`
}

// ListRuns retrieves run summaries, newest first.
func ListRuns(ctx context.Context, database *sql.DB, input ListRunsInput) (*ListRunsOutput, error) {
	filter, err := runFilter(input.Workspace, input.State, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	limit, offset := clampPage(input.Limit, input.Offset)

	items, total, err := db.ListRuns(ctx, database, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []history.RunSummary{}
	}

	return &ListRunsOutput{
		Items:      items,
		Pagination: newPagination(limit, offset, len(items), total),
		Sort:       "created_at_desc",
	}, nil
}

// ListLayersInput contains parameters for the ListLayers operation.
type ListLayersInput struct {
	Limit  int
	Offset int
}

// ListLayersOutput contains the result of the ListLayers operation.
type ListLayersOutput struct {
	Items      []history.LayerSummary `json:"items"`
	Pagination Pagination             `json:"pagination"`
}

// ListLayers retrieves the layer catalog, newest first.
func ListLayers(ctx context.Context, database *sql.DB, input ListLayersInput) (*ListLayersOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)

	items, total, err := db.ListLayers(ctx, database, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []history.LayerSummary{}
	}

	return &ListLayersOutput{
		Items:      items,
		Pagination: newPagination(limit, offset, len(items), total),
	}, nil
}

// runFilter normalizes the workspace and validates the state name.
func runFilter(workspace, state string, includeDeleted bool) (db.RunFilter, error) {
	filter := db.RunFilter{
		WorkspaceNorm:  history.NormalizeWorkspace(workspace),
		IncludeDeleted: includeDeleted,
	}
	if state = strings.TrimSpace(state); state != "" {
		s, err := runner.ParseState(state)
		if err != nil {
			return db.RunFilter{}, errors.NewInvalidRequest(err.Error())
		}
		filter.State = string(s)
	}
	return filter, nil
}
