package sourceindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fling-gdet/gdem-tileset/internal/raster"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// writeCell writes a real expectedCellSize×expectedCellSize GeoTIFF, the
// only shape checkCellSize accepts.
func writeCell(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	handle, err := raster.CreatePaletted(path, expectedCellSize, expectedCellSize, raster.TiffI16)
	if err != nil {
		t.Fatalf("CreatePaletted: %v", err)
	}
	data := make([]int16, expectedCellSize*expectedCellSize)
	if err := handle.WriteWindow(1, 0, 0, expectedCellSize, expectedCellSize, data); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

// writeWrongSizedCell writes a well-named dem.tif whose raster dimensions
// don't match expectedCellSize, exercising the size-probe rejection path.
func writeWrongSizedCell(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	const n = 100
	handle, err := raster.CreatePaletted(path, n, n, raster.TiffI16)
	if err != nil {
		t.Fatalf("CreatePaletted: %v", err)
	}
	data := make([]int16, n*n)
	if err := handle.WriteWindow(1, 0, 0, n, n, data); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestParseFilenameHemispheres(t *testing.T) {
	cases := []struct {
		name             string
		wantLon, wantLat int
	}{
		{"ASTGTMV003_N23E120_dem.tif", 120, 23},
		{"ASTGTMV003_S23W120_dem.tif", -120, -23},
		{"ASTGTMV003_N00E000_dem.tif", 0, 0},
	}
	for _, c := range cases {
		cell, err := parseFilename(c.name)
		if err != nil {
			t.Fatalf("parseFilename(%q): %v", c.name, err)
		}
		if cell.Ilon != c.wantLon || cell.Ilat != c.wantLat {
			t.Errorf("parseFilename(%q) = (%d,%d), want (%d,%d)", c.name, cell.Ilon, cell.Ilat, c.wantLon, c.wantLat)
		}
	}
}

func TestParseFilenameRejectsGarbage(t *testing.T) {
	if _, err := parseFilename("not_a_valid_name.tif"); err == nil {
		t.Error("expected error for malformed filename")
	}
}

func TestBuildAndPathAt(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeCell(t, dir, "ASTGTMV003_N23E120_dem.tif")
	writeCell(t, sub, "ASTGTMV003_S10W050_dem.tif")
	touch(t, dir, "readme.txt") // not a dem.tif, should be skipped silently

	var warnings []string
	idx, err := Build([]string{dir}, func(path, reason string) {
		warnings = append(warnings, path)
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings for non-dem files: %v", warnings)
	}

	if _, ok := idx.PathAt(120.5, 23.5); !ok {
		t.Error("expected a source cell at (120.5,23.5)")
	}
	if _, ok := idx.PathAt(1, 1); ok {
		t.Error("did not expect a source cell at (1,1)")
	}
}

func TestBuildWarnsOnMalformedDemFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "garbage_dem.tif")

	var warnings []string
	idx, err := Build([]string{dir}, func(path, reason string) {
		warnings = append(warnings, path)
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("Len() = %d, want 0", idx.Len())
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
}

func TestBuildWarnsOnWrongSizedCell(t *testing.T) {
	dir := t.TempDir()
	writeWrongSizedCell(t, dir, "ASTGTMV003_N23E120_dem.tif")

	var warnings []string
	idx, err := Build([]string{dir}, func(path, reason string) {
		warnings = append(warnings, path)
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (wrong-sized cell must be rejected)", idx.Len())
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
}

func TestOverlaps(t *testing.T) {
	dir := t.TempDir()
	writeCell(t, dir, "ASTGTMV003_N23E120_dem.tif")

	idx, err := Build([]string{dir}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !idx.Overlaps(120, 23, 121, 24) {
		t.Error("expected overlap with the indexed cell")
	}
	if idx.Overlaps(0, 0, 1, 1) {
		t.Error("did not expect overlap far from the indexed cell")
	}
}
