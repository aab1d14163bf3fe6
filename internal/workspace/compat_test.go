package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckContent(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		compatible bool
		message    string
	}{
		{
			name:       "both present",
			text:       "#   --SourceDataset_GEOJSON a\n#   --DestDataset_GEOJSON b\n",
			compatible: true,
			message:    "Compatible",
		},
		{
			name:       "dest missing",
			text:       "#   --SourceDataset_GEOJSON a\n",
			compatible: false,
			message:    "Incompatible: Missing required parameters: DestDataset_GEOJSON",
		},
		{
			name:       "both missing",
			text:       "READER_TYPE SHAPEFILE\n",
			compatible: false,
			message:    "Incompatible: Missing required parameters: SourceDataset_GEOJSON, DestDataset_GEOJSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckContent(tt.text, nil)
			if got.Compatible != tt.compatible {
				t.Errorf("Compatible = %v, want %v", got.Compatible, tt.compatible)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
		})
	}
}

func TestCheckContent_CustomRequired(t *testing.T) {
	got := CheckContent("#   --COORDSYS LL84\n", []string{"COORDSYS", "TOLERANCE"})
	if got.Compatible || len(got.Missing) != 1 || got.Missing[0] != "TOLERANCE" {
		t.Fatalf("CheckContent() = %+v", got)
	}
}

func TestCheckDeclared_DisagreesWithContent(t *testing.T) {
	// The name only appears in header metadata, never as a declaration.
	text := "#! <WORKSPACE\n#!   NOTE=\"feeds DestDataset_GEOJSON\"\n#   --SourceDataset_GEOJSON in.geojson\n"
	meta := Parse(text)

	content := CheckContent(text, nil)
	if !content.Compatible {
		t.Fatalf("content check = %+v, want compatible", content)
	}

	declared := CheckDeclared(meta, nil)
	if len(declared) != 1 || declared[0] != "DestDataset_GEOJSON" {
		t.Fatalf("CheckDeclared() = %v, want [DestDataset_GEOJSON]", declared)
	}
}

func TestCheckDeclared_IgnoresMarker(t *testing.T) {
	meta := &Metadata{Parameters: []Parameter{{Name: "*COORDSYS", Default: "LL84"}}}
	if missing := CheckDeclared(meta, []string{"COORDSYS"}); len(missing) != 0 {
		t.Fatalf("CheckDeclared() = %v, want none missing", missing)
	}
}

func TestScanFolder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.fmw", "a.FMW", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.fmw"), 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	scan, err := ScanFolder(dir)
	if err != nil {
		t.Fatalf("ScanFolder() error = %v", err)
	}
	if scan.Count != 2 {
		t.Fatalf("Count = %d, want 2 (%v)", scan.Count, scan.Workspaces)
	}
	if filepath.Base(scan.Workspaces[0]) != "a.FMW" {
		t.Errorf("Workspaces not sorted: %v", scan.Workspaces)
	}
	if scan.Status != "This folder has 2 workspaces" {
		t.Errorf("Status = %q", scan.Status)
	}
}

func TestFolderStatus_Empty(t *testing.T) {
	if got := FolderStatus(0); got != "This folder has no workspaces in it" {
		t.Fatalf("FolderStatus(0) = %q", got)
	}
}
