// Package cliutil holds small CLI-facing helpers shared by the command's
// main package: output-directory suggestion (when --outdir is omitted)
// and human-readable byte formatting for the final stats report. Grounded on
// the teacher's cmd/geotiff2pmtiles/main.go humanSize helper and the
// original program's main() output-directory suggestion logic.
package cliutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSourceNotFound is returned by SuggestOutDir when asked to derive a
// default output directory from a source path that doesn't exist —
// matching the original's `exit(123)` branch in main().
var ErrSourceNotFound = errors.New("cliutil: source path does not exist")

// SuggestOutDir derives a default output directory from the first source
// path, "<parent>/<basename>_tileset", matching main()'s
// `sourcepath + "/../" + suggestedBaseName` construction when --outdir is
// not given.
func SuggestOutDir(firstSource string) (string, error) {
	if _, err := os.Stat(firstSource); err != nil {
		if os.IsNotExist(err) {
			return "", ErrSourceNotFound
		}
		return "", err
	}

	abs, err := filepath.Abs(firstSource)
	if err != nil {
		return "", err
	}
	base := filepath.Base(abs)
	parent := filepath.Dir(abs)
	return filepath.Join(parent, base+"_tileset"), nil
}

// HumanSize renders a byte count as a short human-readable string,
// adapted from the teacher's cmd/geotiff2pmtiles/main.go humanSize.
func HumanSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
