package ops

import (
	"strings"

	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/settings"
	"github.com/hpungsan/fmebridge/internal/workspace"
)

// ExecutableOutput describes the saved executable.
type ExecutableOutput struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"` // exists and has the executable suffix
	File  string `json:"settings_file"`
}

// GetExecutable returns the saved executable path.
func GetExecutable(set *settings.Settings) (*ExecutableOutput, error) {
	path, valid, err := set.Executable()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &ExecutableOutput{Path: path, Valid: valid, File: set.Path()}, nil
}

// SetExecutable validates and saves the executable path.
func SetExecutable(set *settings.Settings, path string) (*ExecutableOutput, error) {
	saved, err := set.SaveExecutable(path)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	return &ExecutableOutput{Path: saved, Valid: true, File: set.Path()}, nil
}

// WorkdirOutput describes the saved working directory.
type WorkdirOutput struct {
	Dir  string `json:"dir"`
	File string `json:"settings_file"`
}

// GetWorkingDirectory returns the saved working directory, "" if unset.
func GetWorkingDirectory(set *settings.Settings) (*WorkdirOutput, error) {
	dir, err := set.WorkingDirectory()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &WorkdirOutput{Dir: dir, File: set.Path()}, nil
}

// SetWorkingDirectory saves dir as the working directory.
func SetWorkingDirectory(set *settings.Settings, dir string) (*WorkdirOutput, error) {
	if err := set.SaveWorkingDirectory(dir); err != nil {
		return nil, errors.Wrap(err)
	}
	return GetWorkingDirectory(set)
}

// ScanInput contains parameters for the Scan operation.
type ScanInput struct {
	Dir string // optional, default: the saved working directory
}

// Scan counts the workspaces in a folder.
func Scan(set *settings.Settings, input ScanInput) (*workspace.FolderScan, error) {
	dir := strings.Trim(strings.TrimSpace(input.Dir), `"`)
	if dir == "" && set != nil {
		saved, err := set.WorkingDirectory()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		dir = saved
	}
	if dir == "" {
		return nil, errors.NewInvalidRequest("no folder given and no working directory saved")
	}
	return workspace.ScanFolder(dir)
}
