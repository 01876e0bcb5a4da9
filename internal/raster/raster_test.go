package raster

import (
	"path/filepath"
	"testing"
)

func TestTIFFWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cell.tif")

	const w, h = 8, 6
	handle, err := CreatePaletted(path, w, h, TiffI16)
	if err != nil {
		t.Fatalf("CreatePaletted: %v", err)
	}
	handle.SetGeoTransform(GeoTransform{-180, 1.0 / 3600, 0, 90, 0, -1.0 / 3600})
	handle.SetProjection(WGS84WKT)

	buf := make([]int16, w*h)
	for i := range buf {
		buf[i] = int16(i*7 - 20)
	}
	if err := handle.WriteWindow(1, 0, 0, w, h, buf); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer reopened.Close()

	gotW, gotH, bands := reopened.Dimensions()
	if gotW != w || gotH != h || bands != 1 {
		t.Fatalf("Dimensions = (%d,%d,%d), want (%d,%d,1)", gotW, gotH, bands, w, h)
	}

	got := make([]int16, w*h)
	if err := reopened.ReadWindow(1, 0, 0, w, h, got); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	for i := range buf {
		if got[i] != buf[i] {
			t.Fatalf("pixel %d = %d, want %d", i, got[i], buf[i])
		}
	}
}

func TestTIFFReadReducedAverages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.tif")

	const w, h = 4, 4
	handle, err := CreatePaletted(path, w, h, TiffI16)
	if err != nil {
		t.Fatalf("CreatePaletted: %v", err)
	}
	buf := make([]int16, w*h)
	for i := range buf {
		buf[i] = 100
	}
	if err := handle.WriteWindow(1, 0, 0, w, h, buf); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer reopened.Close()

	reduced := make([]int16, 2*2)
	if err := reopened.ReadReduced(1, 2, 2, reduced); err != nil {
		t.Fatalf("ReadReduced: %v", err)
	}
	for i, v := range reduced {
		if v != 100 {
			t.Errorf("reduced[%d] = %d, want 100 (uniform input)", i, v)
		}
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.tif"))
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPNGGreyReinterpretRoundTrip(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767}
	for _, s := range samples {
		g := elevationToGrey16(s)
		back := GreyToElevation(g)
		if back != s {
			t.Errorf("elevation %d -> grey %d -> %d, want %d", s, g, back, s)
		}
	}
	// Non-negative elevations, the common case, must encode to the same
	// numeric value rather than a shifted one.
	if got := elevationToGrey16(1000); got != 1000 {
		t.Errorf("elevationToGrey16(1000) = %d, want 1000 (raw reinterpretation, not a bias)", got)
	}
}

func TestPNGHandleWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.png")

	const w, h = 4, 4
	handle, err := CreatePaletted(path, w, h, PngU16)
	if err != nil {
		t.Fatalf("CreatePaletted: %v", err)
	}
	buf := make([]int16, w*h)
	if err := handle.WriteWindow(1, 0, 0, w, h, buf); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenReadOnlyDetectsPNGByMagicNotExtension(t *testing.T) {
	dir := t.TempDir()
	// Deliberately a ".tif" extension but PNG content, matching what a
	// level pass sees when a child tile was produced with --out_type=png.
	path := filepath.Join(dir, "child.tif")

	const w, h = 6, 6
	handle, err := CreatePaletted(path, w, h, PngU16)
	if err != nil {
		t.Fatalf("CreatePaletted: %v", err)
	}
	buf := make([]int16, w*h)
	for i := range buf {
		buf[i] = int16(50 + i)
	}
	if err := handle.WriteWindow(1, 0, 0, w, h, buf); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer reopened.Close()

	got := make([]int16, w*h)
	if err := reopened.ReadWindow(1, 0, 0, w, h, got); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	for i := range buf {
		if got[i] != buf[i] {
			t.Fatalf("pixel %d = %d, want %d", i, got[i], buf[i])
		}
	}

	reduced := make([]int16, 3*3)
	if err := reopened.ReadReduced(1, 3, 3, reduced); err != nil {
		t.Fatalf("ReadReduced: %v", err)
	}
}
