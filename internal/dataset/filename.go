package dataset

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"
)

const (
	codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	codeLength   = 5
	maxAttempts  = 1000
)

// FilenamePair is the input/output dataset pair for one run.
type FilenamePair struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// NewFilenamePair picks <YYYYMMDD>_<code>_line2_{input,output}.geojson in dir,
// retrying until neither file exists. dir is created if missing.
func NewFilenamePair(dir string, now time.Time) (FilenamePair, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return FilenamePair{}, fmt.Errorf("failed to create temp directory: %w", err)
	}

	date := now.Format("20060102")
	for range maxAttempts {
		stem := fmt.Sprintf("%s_%s_line2", date, randomCode())
		pair := FilenamePair{
			Input:  filepath.Join(dir, stem+"_input.geojson"),
			Output: filepath.Join(dir, stem+"_output.geojson"),
		}
		if !exists(pair.Input) && !exists(pair.Output) {
			return pair, nil
		}
	}
	return FilenamePair{}, fmt.Errorf("no free dataset filename in %s after %d attempts", dir, maxAttempts)
}

func randomCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
