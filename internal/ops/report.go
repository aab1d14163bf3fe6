package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
)

// ReportInput contains parameters for the ReportRun operation.
type ReportInput struct {
	ID             string
	IncludeDeleted bool
}

// ReportOutput contains the result of the ReportRun operation.
type ReportOutput struct {
	ID       string           `json:"id"`
	Markdown string           `json:"markdown"`
	Log      history.LogStats `json:"log"`
}

// ReportRun renders a run as a Markdown report.
func ReportRun(ctx context.Context, database *sql.DB, input ReportInput) (*ReportOutput, error) {
	id, err := requireID(input.ID, "id")
	if err != nil {
		return nil, err
	}

	r, err := db.GetRun(ctx, database, id, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	var layer *history.LayerSummary
	if r.LayerID != nil {
		l, err := db.GetLayer(ctx, database, *r.LayerID)
		switch {
		case err == nil:
			s := l.ToSummary()
			layer = &s
		case !errors.Is(err, errors.ErrNotFound):
			return nil, err
		}
	}

	return &ReportOutput{
		ID:       r.ID,
		Markdown: history.Report(r, layer),
		Log:      history.ScanLog(r.Output),
	}, nil
}
