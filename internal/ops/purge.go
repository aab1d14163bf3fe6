package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/history"
)

// PurgeInput contains parameters for the PurgeRuns operation.
type PurgeInput struct {
	Workspace     *string // optional filter by workspace
	OlderThanDays *int    // optional, only purge if deleted_at < (now - N days)
}

// PurgeOutput contains the result of the PurgeRuns operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// PurgeRuns permanently deletes soft-deleted runs and their layers.
func PurgeRuns(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	workspaceNorm := ""
	if input.Workspace != nil {
		workspaceNorm = history.NormalizeWorkspace(*input.Workspace)
	}
	var olderThan time.Duration
	if input.OlderThanDays != nil && *input.OlderThanDays > 0 {
		olderThan = time.Duration(*input.OlderThanDays) * 24 * time.Hour
	}

	count, err := db.PurgeDeletedRuns(ctx, database, workspaceNorm, olderThan)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.Workspace, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, workspace *string, olderThanDays *int) string {
	if count == 0 {
		return "No deleted runs to purge"
	}

	runWord := "run"
	if count > 1 {
		runWord = "runs"
	}

	msg := fmt.Sprintf("Permanently deleted %d %s", count, runWord)

	if workspace != nil {
		msg += fmt.Sprintf(" of workspace %q", *workspace)
	}

	if olderThanDays != nil {
		msg += fmt.Sprintf(" (deleted more than %d days ago)", *olderThanDays)
	}

	return msg
}
