package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/fmebridge/internal/db"
)

// DeleteInput contains parameters for the DeleteRun operation.
type DeleteInput struct {
	ID string
}

// DeleteOutput contains the result of the DeleteRun operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// DeleteRun soft-deletes a run. Its layer leaves the catalog listing until
// the run is purged.
func DeleteRun(ctx context.Context, database *sql.DB, input DeleteInput) (*DeleteOutput, error) {
	id, err := requireID(input.ID, "id")
	if err != nil {
		return nil, err
	}

	if err := db.SoftDeleteRun(ctx, database, id); err != nil {
		return nil, err
	}

	return &DeleteOutput{
		Deleted: true,
		ID:      id,
	}, nil
}
