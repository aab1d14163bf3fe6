package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
)

const layerColumns = `
	id, run_id, name, kind, source_path, geometry_type, feature_count,
	bounds_json, geojson, created_at`

// InsertLayer stores a loaded layer. The GeoJSON body is kept only for scratch layers.
func InsertLayer(ctx context.Context, db *sql.DB, l *history.Layer) error {
	var boundsJSON sql.NullString
	if l.Bounds != nil {
		data, err := json.Marshal(l.Bounds)
		if err != nil {
			return errors.NewInternal(err)
		}
		boundsJSON = sql.NullString{String: string(data), Valid: true}
	}

	var body any
	if l.Kind == history.LayerScratch {
		body = l.GeoJSON
	}

	query := `INSERT INTO layers (` + layerColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		l.ID, l.RunID, l.Name, l.Kind, l.SourcePath, l.GeometryType, l.FeatureCount,
		boundsJSON, body, l.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetLayer retrieves a layer by its ULID, including the scratch body.
func GetLayer(ctx context.Context, db *sql.DB, id string) (*history.Layer, error) {
	query := `SELECT ` + layerColumns + ` FROM layers WHERE id = ?`

	l, err := scanLayer(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("layer", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return l, nil
}

// ListLayers returns layer summaries newest first, plus the total count.
// Layers whose run was soft-deleted are hidden.
func ListLayers(ctx context.Context, db *sql.DB, limit, offset int) ([]history.LayerSummary, int, error) {
	const visible = ` FROM layers l JOIN runs r ON r.id = l.run_id WHERE r.deleted_at IS NULL`

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*)`+visible).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT l.id, l.run_id, l.name, l.kind, l.source_path, l.geometry_type, l.feature_count,
		l.bounds_json, NULL, l.created_at` + visible + ` ORDER BY l.created_at DESC, l.id DESC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []history.LayerSummary
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, l.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return items, total, nil
}

func scanLayer(row rowScanner) (*history.Layer, error) {
	var (
		l          history.Layer
		boundsJSON sql.NullString
		body       []byte
	)

	err := row.Scan(
		&l.ID, &l.RunID, &l.Name, &l.Kind, &l.SourcePath, &l.GeometryType, &l.FeatureCount,
		&boundsJSON, &body, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if boundsJSON.Valid && boundsJSON.String != "" {
		var b [4]float64
		if err := json.Unmarshal([]byte(boundsJSON.String), &b); err != nil {
			return nil, err
		}
		l.Bounds = &b
	}
	if len(body) > 0 {
		l.GeoJSON = body
	}
	return &l, nil
}
