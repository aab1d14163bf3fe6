// Package settings persists the executable path and working directory in an INI file.
//
// The file layout is shared with the desktop plugin:
//
//	[Paths]
//	fme_exe = C:\Program Files\FME\fme.exe
//
//	[Settings]
//	workingdirectory = C:\Users\me\jobs
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/hpungsan/fmebridge/internal/errors"
)

// FileName is the INI file kept in the base directory.
const FileName = "fmebridge.ini"

const (
	sectionPaths    = "Paths"
	keyExecutable   = "fme_exe"
	sectionSettings = "Settings"
	keyWorkingDir   = "WorkingDirectory"
)

// Settings reads and writes the INI file. The file is reloaded on every
// access so edits made by other processes are picked up.
type Settings struct {
	mu     sync.Mutex
	path   string
	suffix string
}

// Open returns settings backed by path. The file need not exist yet.
// suffix is the required executable filename suffix (case-insensitive).
func Open(path, suffix string) *Settings {
	if suffix == "" {
		suffix = "fme.exe"
	}
	return &Settings{path: path, suffix: suffix}
}

// Path returns the INI file location.
func (s *Settings) Path() string {
	return s.path
}

// Executable returns the saved executable path, quotes stripped, in the form
// it was saved. valid reports whether the path, or its cleaned form, names an
// existing file with the executable suffix. Only a valid path should be used.
func (s *Settings) Executable() (path string, valid bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", false, err
	}
	path = stripQuotes(f.Section(sectionPaths).Key(keyExecutable).String())
	if path == "" {
		return "", false, nil
	}
	return path, s.validExecutable(path) || s.validExecutable(filepath.Clean(path)), nil
}

// SaveExecutable validates and stores an executable path. The path is kept
// as given when valid, otherwise its cleaned form is tried. It returns the
// path that was stored.
func (s *Settings) SaveExecutable(path string) (string, error) {
	path = stripQuotes(path)
	if path == "" {
		return "", errors.NewInvalidRequest("executable path is empty")
	}

	chosen := ""
	switch {
	case s.validExecutable(path):
		chosen = path
	case s.validExecutable(filepath.Clean(path)):
		chosen = filepath.Clean(path)
	default:
		return "", errors.NewInvalidExecutable(path, s.suffix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", err
	}
	f.Section(sectionPaths).Key(keyExecutable).SetValue(chosen)
	if err := s.save(f); err != nil {
		return "", err
	}
	return chosen, nil
}

// WorkingDirectory returns the saved directory, or "" if unset or gone.
func (s *Settings) WorkingDirectory() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", err
	}
	dir := stripQuotes(f.Section(sectionSettings).Key(keyWorkingDir).String())
	if dir == "" || !isDir(dir) {
		return "", nil
	}
	return dir, nil
}

// SaveWorkingDirectory stores dir, which must be an existing directory.
func (s *Settings) SaveWorkingDirectory(dir string) error {
	dir = stripQuotes(dir)
	if dir == "" {
		return errors.NewInvalidRequest("working directory is empty")
	}
	if !isDir(dir) {
		return errors.NewFileNotFound(dir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	f.Section(sectionSettings).Key(keyWorkingDir).SetValue(dir)
	return s.save(f)
}

func (s *Settings) validExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return strings.HasSuffix(strings.ToLower(path), strings.ToLower(s.suffix))
}

// load reads the file, treating a missing file as empty. Keys are
// case-insensitive to match files written by the plugin.
func (s *Settings) load() (*ini.File, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true, InsensitiveKeys: true}, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", s.path, err)
	}
	return f, nil
}

func (s *Settings) save(f *ini.File) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := f.SaveTo(s.path); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", s.path, err)
	}
	return nil
}

func stripQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
