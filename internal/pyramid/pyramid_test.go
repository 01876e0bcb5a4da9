package pyramid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fling-gdet/gdem-tileset/internal/elevation"
	"github.com/fling-gdet/gdem-tileset/internal/raster"
	"github.com/fling-gdet/gdem-tileset/internal/sourceindex"
)

func newTestBuilder(t *testing.T, sourceDir string) (*Builder, string) {
	t.Helper()
	idx, err := sourceindex.Build([]string{sourceDir}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	svc := elevation.NewService(idx, 16)
	outDir := t.TempDir()
	b := NewBuilder(svc, idx, outDir, 9, raster.TiffI16, "tif")
	return b, outDir
}

func writeSourceCell(t *testing.T, dir string) {
	t.Helper()
	path := filepath.Join(dir, "ASTGTMV003_N23E120_dem.tif")
	const n = 3601
	handle, err := raster.CreatePaletted(path, n, n, raster.TiffI16)
	if err != nil {
		t.Fatalf("CreatePaletted: %v", err)
	}
	data := make([]int16, n*n)
	for i := range data {
		data[i] = int16(100 + i%50)
	}
	if err := handle.WriteWindow(1, 0, 0, n, n, data); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBuildBaseTileSkipsEmptyRegion(t *testing.T) {
	sourceDir := t.TempDir()
	b, _ := newTestBuilder(t, sourceDir) // no source cells at all

	wrote, err := b.BuildBaseTile(10, 0, 0)
	if err != nil {
		t.Fatalf("BuildBaseTile: %v", err)
	}
	if wrote {
		t.Error("expected no write for a tile with no overlapping source cell")
	}
}

func TestBuildBaseTileWritesAndIsIdempotent(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceCell(t, sourceDir)
	b, _ := newTestBuilder(t, sourceDir)

	// Zoom 7 tile covering roughly the 120E,23N region.
	z, x, y := 7, 213, 47
	wrote, err := b.BuildBaseTile(z, x, y)
	if err != nil {
		t.Fatalf("BuildBaseTile: %v", err)
	}
	path := b.TilePath(z, x, y)
	if !wrote {
		t.Fatalf("expected a write; tile bounds may not overlap the test cell (path=%s)", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}

	// Rerunning must be a no-op (rerun idempotence).
	wrote, err = b.BuildBaseTile(z, x, y)
	if err != nil {
		t.Fatalf("second BuildBaseTile: %v", err)
	}
	if wrote {
		t.Error("second BuildBaseTile call should not rewrite an existing tile")
	}
}

func TestBuildLevelTileNoOpWithoutChildren(t *testing.T) {
	sourceDir := t.TempDir()
	b, _ := newTestBuilder(t, sourceDir)

	wrote, err := b.BuildLevelTile(0, 0, 0)
	if err != nil {
		t.Fatalf("BuildLevelTile: %v", err)
	}
	if wrote {
		t.Error("expected no write when no children exist")
	}
}

func TestBuildLevelTileCombinesChildren(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceCell(t, sourceDir)
	b, _ := newTestBuilder(t, sourceDir)

	z, x, y := 7, 213, 47
	if _, err := b.BuildBaseTile(z, x, y); err != nil {
		t.Fatalf("BuildBaseTile: %v", err)
	}

	parentZ, parentX, parentY := z-1, x/2, y/2
	wrote, err := b.BuildLevelTile(parentZ, parentX, parentY)
	if err != nil {
		t.Fatalf("BuildLevelTile: %v", err)
	}
	if !wrote {
		t.Fatal("expected a write with at least one existing child")
	}
	if _, err := os.Stat(b.TilePath(parentZ, parentX, parentY)); err != nil {
		t.Fatalf("expected parent tile on disk: %v", err)
	}
}

func TestWriteNullTileWritesPNGRegardlessOfOutType(t *testing.T) {
	sourceDir := t.TempDir()
	idx, err := sourceindex.Build([]string{sourceDir}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	svc := elevation.NewService(idx, 4)
	outDir := t.TempDir()
	b := NewBuilder(svc, idx, outDir, 8, raster.TiffI16, "tif")

	if err := b.WriteNullTile(); err != nil {
		t.Fatalf("WriteNullTile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "null.png")); err != nil {
		t.Fatalf("expected null.png regardless of out_type=tif: %v", err)
	}
}

func TestPlaceQuadrantSeamAlignment(t *testing.T) {
	const width = 9
	subW, subH := width/2+1, width/2+1

	nw := make([]int16, subW*subH)
	for i := range nw {
		nw[i] = int16(i + 1)
	}
	dstNW := make([]int16, width*width)
	placeQuadrant(dstNW, width, nw, subW, subH, 0, 0)

	// NW's bottom-right corner (its shared seam pixel) lands at the
	// buffer's exact center, matching the original's overlapping-seam
	// quadrant layout.
	center := width/2*width + width/2
	nwCorner := nw[(subH-1)*subW+(subW-1)]
	if dstNW[center] != nwCorner {
		t.Errorf("center pixel = %d, want NW's corner %d", dstNW[center], nwCorner)
	}

	se := make([]int16, subW*subH)
	for i := range se {
		se[i] = int16(1000 + i)
	}
	dstSE := make([]int16, width*width)
	placeQuadrant(dstSE, width, se, subW, subH, 1, 1)

	// SE's top-left corner (its shared seam pixel) also lands on that
	// same center cell when SE is the only quadrant placed.
	if dstSE[center] != se[0] {
		t.Errorf("center pixel = %d, want SE's corner %d", dstSE[center], se[0])
	}
}
