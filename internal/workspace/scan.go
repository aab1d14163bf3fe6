package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpungsan/fmebridge/internal/errors"
)

// Extension is the workspace file suffix, matched case-insensitively.
const Extension = ".fmw"

// FolderScan reports the workspaces found directly inside a directory.
type FolderScan struct {
	Dir        string   `json:"dir"`
	Count      int      `json:"count"`
	Workspaces []string `json:"workspaces"`
	Status     string   `json:"status"`
}

// ScanFolder counts workspace files in dir. Subdirectories are not descended.
func ScanFolder(dir string) (*FolderScan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(dir)
		}
		return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot read folder %s: %v", dir, err))
	}

	found := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), Extension) {
			found = append(found, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(found)

	return &FolderScan{
		Dir:        dir,
		Count:      len(found),
		Workspaces: found,
		Status:     FolderStatus(len(found)),
	}, nil
}

// FolderStatus is the one-line summary shown after a folder is scanned.
func FolderStatus(n int) string {
	if n == 0 {
		return "This folder has no workspaces in it"
	}
	return fmt.Sprintf("This folder has %d workspaces", n)
}
