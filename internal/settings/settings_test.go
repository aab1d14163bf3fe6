package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/fmebridge/internal/errors"
)

func fakeExecutable(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "FME 2024")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestExecutable_Unset(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), FileName), "")

	path, valid, err := s.Executable()
	if err != nil {
		t.Fatalf("Executable() error = %v", err)
	}
	if path != "" || valid {
		t.Fatalf("Executable() = (%q, %v), want empty", path, valid)
	}
}

func TestSaveExecutable_RoundTrip(t *testing.T) {
	iniPath := filepath.Join(t.TempDir(), "nested", FileName)
	s := Open(iniPath, "fme.exe")
	exe := fakeExecutable(t, "fme.exe")

	saved, err := s.SaveExecutable(`"` + exe + `"`)
	if err != nil {
		t.Fatalf("SaveExecutable() error = %v", err)
	}
	if saved != exe {
		t.Errorf("saved = %q, want %q", saved, exe)
	}

	path, valid, err := Open(iniPath, "fme.exe").Executable()
	if err != nil {
		t.Fatalf("Executable() error = %v", err)
	}
	if path != exe || !valid {
		t.Fatalf("Executable() = (%q, %v)", path, valid)
	}

	data, err := os.ReadFile(iniPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "[Paths]") || !strings.Contains(string(data), "fme_exe") {
		t.Errorf("ini file = %q", data)
	}
}

func TestSaveExecutable_SuffixCaseInsensitive(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), FileName), "fme.exe")
	exe := fakeExecutable(t, "FME.EXE")

	if _, err := s.SaveExecutable(exe); err != nil {
		t.Fatalf("SaveExecutable() error = %v", err)
	}
}

func TestSaveExecutable_CleanedFallback(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), FileName), "fme.exe")
	exe := fakeExecutable(t, "fme.exe")
	messy := filepath.Dir(exe) + string(filepath.Separator) + "." + string(filepath.Separator) + "fme.exe"

	saved, err := s.SaveExecutable(messy)
	if err != nil {
		t.Fatalf("SaveExecutable() error = %v", err)
	}
	if saved != messy && saved != exe {
		t.Errorf("saved = %q", saved)
	}
}

func TestSaveExecutable_Rejects(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), FileName), "fme.exe")

	tests := []struct {
		name string
		path string
		code errors.ErrorCode
	}{
		{"empty", `  ""  `, errors.ErrInvalidRequest},
		{"missing", filepath.Join(t.TempDir(), "fme.exe"), errors.ErrInvalidExecutable},
		{"wrong suffix", fakeExecutable(t, "workbench.exe"), errors.ErrInvalidExecutable},
		{"directory", t.TempDir(), errors.ErrInvalidExecutable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.SaveExecutable(tt.path); !errors.Is(err, tt.code) {
				t.Fatalf("SaveExecutable(%q) error = %v, want %s", tt.path, err, tt.code)
			}
		})
	}

	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Errorf("rejected saves should not create the file")
	}
}

func TestExecutable_ReportsMissingFile(t *testing.T) {
	iniPath := filepath.Join(t.TempDir(), FileName)
	body := "[Paths]\nfme_exe = \"/nowhere/fme.exe\"\n"
	if err := os.WriteFile(iniPath, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	path, valid, err := Open(iniPath, "").Executable()
	if err != nil {
		t.Fatalf("Executable() error = %v", err)
	}
	if path != "/nowhere/fme.exe" || valid {
		t.Fatalf("Executable() = (%q, %v)", path, valid)
	}
}

func TestWorkingDirectory(t *testing.T) {
	iniPath := filepath.Join(t.TempDir(), FileName)
	s := Open(iniPath, "")
	dir := t.TempDir()

	if err := s.SaveWorkingDirectory(dir); err != nil {
		t.Fatalf("SaveWorkingDirectory() error = %v", err)
	}
	got, err := s.WorkingDirectory()
	if err != nil || got != dir {
		t.Fatalf("WorkingDirectory() = (%q, %v), want %q", got, err, dir)
	}

	if err := os.Remove(dir); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	got, err = s.WorkingDirectory()
	if err != nil || got != "" {
		t.Fatalf("WorkingDirectory() after removal = (%q, %v), want empty", got, err)
	}

	if err := s.SaveWorkingDirectory(filepath.Join(t.TempDir(), "gone")); !errors.Is(err, errors.ErrFileNotFound) {
		t.Fatalf("SaveWorkingDirectory(missing) error = %v", err)
	}
}

func TestWorkingDirectory_KeepsExecutable(t *testing.T) {
	iniPath := filepath.Join(t.TempDir(), FileName)
	s := Open(iniPath, "fme.exe")
	exe := fakeExecutable(t, "fme.exe")

	if _, err := s.SaveExecutable(exe); err != nil {
		t.Fatalf("SaveExecutable() error = %v", err)
	}
	if err := s.SaveWorkingDirectory(t.TempDir()); err != nil {
		t.Fatalf("SaveWorkingDirectory() error = %v", err)
	}
	if path, _, _ := s.Executable(); path != exe {
		t.Fatalf("Executable() = %q after saving workdir, want %q", path, exe)
	}
}

func TestExecutable_RejectsWrongSuffix(t *testing.T) {
	iniPath := filepath.Join(t.TempDir(), FileName)
	shell := fakeExecutable(t, "sh")
	if err := os.WriteFile(iniPath, []byte("[Paths]\nfme_exe = "+shell+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	path, valid, err := Open(iniPath, "fme.exe").Executable()
	if err != nil {
		t.Fatalf("Executable() error = %v", err)
	}
	if path != shell || valid {
		t.Fatalf("Executable() = (%q, %v), want (%q, false)", path, valid, shell)
	}
}
