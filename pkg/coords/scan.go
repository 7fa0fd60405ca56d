package coords

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"platestack/internal/models"
)

// ScanDir lists the regular files of dir and of its immediate
// subdirectories (acquisitions are sometimes nested one folder per well).
// The result is sorted so runs are reproducible.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if !e.IsDir() {
			if e.Type().IsRegular() {
				files = append(files, p)
			}
			continue
		}
		sub, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		for _, s := range sub {
			if s.Type().IsRegular() {
				files = append(files, filepath.Join(p, s.Name()))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// ExtractAll applies t to every path, skipping names that do not match.
// A template that matches nothing is an error naming one of the files,
// since an empty result almost always means the wrong template was chosen.
// Axes numbered from 0 in the file names are shifted to start at 1; see
// ZeroBasedAxes.
func ExtractAll(paths []string, t *Template) ([]models.FileCoordinate, error) {
	coords := make([]models.FileCoordinate, 0, len(paths))
	for _, p := range paths {
		if c, ok := t.Extract(p); ok {
			coords = append(coords, c)
		}
	}

	if len(coords) == 0 {
		if len(paths) == 0 {
			return nil, fmt.Errorf("%w: input directory is empty", ErrNoMatches)
		}
		return nil, fmt.Errorf("%w: template %q does not match e.g. %q",
			ErrNoMatches, t, filepath.Base(paths[0]))
	}
	shiftToOneBased(coords)
	return coords, nil
}

// shiftToOneBased adds 1 to every axis whose lowest captured index is 0
func shiftToOneBased(coords []models.FileCoordinate) {
	var zero [models.NumAxes]bool
	for _, c := range coords {
		for a := models.Axis(0); a < models.NumAxes; a++ {
			if c.Index(a) == 0 {
				zero[a] = true
			}
		}
	}
	for i := range coords {
		for a := models.Axis(0); a < models.NumAxes; a++ {
			if zero[a] {
				coords[i] = setAxis(coords[i], a, coords[i].Index(a)+1)
				coords[i].Shift[a] = 1
			}
		}
	}
}

// ZeroBasedAxes lists the axes ExtractAll shifted
func ZeroBasedAxes(coords []models.FileCoordinate) []models.Axis {
	if len(coords) == 0 {
		return nil
	}
	var out []models.Axis
	for a := models.Axis(0); a < models.NumAxes; a++ {
		if coords[0].Shift[a] != 0 {
			out = append(out, a)
		}
	}
	return out
}
