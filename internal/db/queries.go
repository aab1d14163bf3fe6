package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
)

const runColumns = `
	id, workspace_raw, workspace_norm, command, source_path, dest_path,
	state, status, exit_code, output, layer_id, created_at, finished_at, deleted_at`

// InsertRun stores a new run.
func InsertRun(ctx context.Context, db *sql.DB, r *history.Run) error {
	query := `
		INSERT INTO runs (` + runColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`

	_, err := db.ExecContext(ctx, query,
		r.ID, r.WorkspaceRaw, r.WorkspaceNorm, r.Command, r.SourcePath, r.DestPath,
		r.State, r.Status, toNullInt(r.ExitCode), r.Output, toNullString(r.LayerID),
		r.CreatedAt, toNullInt64(r.FinishedAt),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func FinishRun(ctx context.Context, db *sql.DB, r *history.Run) error {
	query := `
		UPDATE runs
		SET state = ?, status = ?, exit_code = ?, output = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := db.ExecContext(ctx, query,
		r.State, r.Status, toNullInt(r.ExitCode), r.Output, toNullInt64(r.FinishedAt), r.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireRow(result, "run", r.ID)
}

// AttachLayer links a loaded layer to its run. A non-empty status replaces
// the run status.
func AttachLayer(ctx context.Context, db *sql.DB, runID, layerID, status string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE runs SET layer_id = ?, status = COALESCE(NULLIF(?, ''), status) WHERE id = ?`,
		layerID, status, runID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireRow(result, "run", runID)
}

// GetRun retrieves a run by its ULID.
// If includeDeleted is false, soft-deleted runs are excluded.
func GetRun(ctx context.Context, db *sql.DB, id string, includeDeleted bool) (*history.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}

	r, err := scanRun(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("run", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// RunFilter narrows list, latest and export queries.
type RunFilter struct {
	WorkspaceNorm  string // empty means all workspaces
	State          string // empty means any state
	IncludeDeleted bool
}

func (f RunFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.WorkspaceNorm != "" {
		clauses = append(clauses, "workspace_norm = ?")
		args = append(args, f.WorkspaceNorm)
	}
	if f.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, f.State)
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListRuns returns run summaries newest first, plus the total matching count.
func ListRuns(ctx context.Context, db *sql.DB, filter RunFilter, limit, offset int) ([]history.RunSummary, int, error) {
	where, args := filter.where()

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + runColumns + ` FROM runs` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []history.RunSummary
	for rows.Next() {
		r, err := ScanRunFromRows(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, r.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return items, total, nil
}

// GetLatestRun returns the newest run matching filter, or nil if none.
func GetLatestRun(ctx context.Context, db *sql.DB, filter RunFilter) (*history.Run, error) {
	where, args := filter.where()
	query := `SELECT ` + runColumns + ` FROM runs` + where + ` ORDER BY created_at DESC, id DESC LIMIT 1`

	r, err := scanRun(db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// SoftDeleteRun marks a run as deleted by setting deleted_at.
func SoftDeleteRun(ctx context.Context, db *sql.DB, id string) error {
	query := `
		UPDATE runs
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := db.ExecContext(ctx, query, time.Now().Unix(), id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireRow(result, "run", id)
}

// PurgeDeletedRuns permanently removes soft-deleted runs and their layers.
// olderThan, when non-zero, only purges runs deleted before now-olderThan.
func PurgeDeletedRuns(ctx context.Context, db *sql.DB, workspaceNorm string, olderThan time.Duration) (int, error) {
	query := `DELETE FROM runs WHERE deleted_at IS NOT NULL`
	var args []any
	if workspaceNorm != "" {
		query += " AND workspace_norm = ?"
		args = append(args, workspaceNorm)
	}
	if olderThan > 0 {
		query += " AND deleted_at < ?"
		args = append(args, time.Now().Add(-olderThan).Unix())
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// StreamRunsForExport returns rows for every run matching filter, oldest first.
// Callers must close the rows and read them with ScanRunFromRows.
func StreamRunsForExport(ctx context.Context, db *sql.DB, filter RunFilter) (*sql.Rows, error) {
	where, args := filter.where()
	query := `SELECT ` + runColumns + ` FROM runs` + where + ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*history.Run, error) {
	var (
		r          history.Run
		exitCode   sql.NullInt64
		layerID    sql.NullString
		finishedAt sql.NullInt64
		deletedAt  sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &r.WorkspaceRaw, &r.WorkspaceNorm, &r.Command, &r.SourcePath, &r.DestPath,
		&r.State, &r.Status, &exitCode, &r.Output, &layerID, &r.CreatedAt, &finishedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	r.LayerID = fromNullString(layerID)
	r.FinishedAt = fromNullInt64(finishedAt)
	r.DeletedAt = fromNullInt64(deletedAt)
	return &r, nil
}

// ScanRunFromRows scans the current row of a run query.
func ScanRunFromRows(rows *sql.Rows) (*history.Run, error) {
	return scanRun(rows)
}

// requireRow converts "no rows affected" into NOT_FOUND.
func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(kind, id)
	}
	return nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func toNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
