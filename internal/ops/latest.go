package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/history"
)

// LatestInput contains parameters for the LatestRun operation.
type LatestInput struct {
	Workspace      string // optional, workspace file path
	State          string // optional
	IncludeDeleted bool
}

// LatestOutput contains the result of the LatestRun operation.
type LatestOutput struct {
	Item *history.RunSummary `json:"item"` // nil if there are no runs
}

// LatestRun retrieves the most recent run.
func LatestRun(ctx context.Context, database *sql.DB, input LatestInput) (*LatestOutput, error) {
	filter, err := runFilter(input.Workspace, input.State, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	r, err := db.GetLatestRun(ctx, database, filter)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &LatestOutput{Item: nil}, nil
	}

	s := r.ToSummary()
	return &LatestOutput{Item: &s}, nil
}
