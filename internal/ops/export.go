package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/history"
)

// ExportSchemaVersion is written to the header line of every export.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the ExportRuns operation.
type ExportInput struct {
	Path           string  // optional, default: ~/.fmebridge/exports/<workspace>-<timestamp>.jsonl
	Workspace      *string // optional filter by workspace
	IncludeDeleted bool
}

// ExportOutput contains the result of the ExportRuns operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader represents the header line in a JSONL export file.
type ExportHeader struct {
	BridgeExport  bool   `json:"_fmebridge_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportRuns writes run history to a JSONL file: one header line, then one
// record per run, oldest first.
func ExportRuns(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(input.Workspace, now)
		if err != nil {
			return nil, err
		}
	}

	// Default paths are validated too; they embed the workspace name
	if err := ValidatePath(exportPath, PathCheckWrite, ExtJSONL, cfg); err != nil {
		return nil, err
	}

	filter := db.RunFilter{IncludeDeleted: input.IncludeDeleted}
	if input.Workspace != nil {
		filter.WorkspaceNorm = history.NormalizeWorkspace(*input.Workspace)
	}

	rows, err := db.StreamRunsForExport(ctx, database, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	count := 0
	err = writeAtomic(exportPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		header := ExportHeader{
			BridgeExport:  true,
			SchemaVersion: ExportSchemaVersion,
			ExportedAt:    exportedAt,
		}
		if err := enc.Encode(header); err != nil {
			return err
		}

		for rows.Next() {
			select {
			case <-ctx.Done():
				return errors.NewCancelled("export")
			default:
			}

			r, err := db.ScanRunFromRows(rows)
			if err != nil {
				return err
			}
			if err := enc.Encode(history.RunToExportRecord(r)); err != nil {
				return err
			}
			count++
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Count:      count,
		ExportedAt: exportedAt,
	}, nil
}

// writeAtomic writes through fill to a temp file beside path, then renames it
// into place. An existing file at path survives any failure.
func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	if err := fill(w); err != nil {
		return errors.Wrap(err)
	}
	if err := w.Flush(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}

	// Close before rename (required on Windows)
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("export path is a symlink")
	}

	// On Windows os.Rename fails when the destination exists. The existing
	// file is kept rather than risking a delete+rename.
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

// defaultExportPath generates the default export path.
// Format: ~/.fmebridge/exports/<workspace>-<timestamp>.jsonl or all-<timestamp>.jsonl
func defaultExportPath(workspace *string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}

	timestamp := now.Format("2006-01-02T150405")
	name := "all"
	if workspace != nil && *workspace != "" {
		base := filepath.Base(history.NormalizeWorkspace(*workspace))
		name = SanitizeForFilename(base)
	}

	return filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", name, timestamp)), nil
}
