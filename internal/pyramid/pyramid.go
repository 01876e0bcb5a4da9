// Package pyramid builds the two-pass tile pyramid: base-level tiles
// sampled directly from source elevations, and coarser levels built by
// downsampling four children into one parent. Grounded on the original
// program's GdemPool::makeElevationImage/makeLodImage/repairImage
// (gdem.cpp) and the orchestration loops in main.cpp's tileset()/
// makelod(), restructured around internal/taskpool.Pool instead of a
// hand-rolled TaskPool<T> and std::execution::par.
package pyramid

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fling-gdet/gdem-tileset/internal/coord"
	"github.com/fling-gdet/gdem-tileset/internal/elevation"
	"github.com/fling-gdet/gdem-tileset/internal/raster"
	"github.com/fling-gdet/gdem-tileset/internal/sourceindex"
	"github.com/fling-gdet/gdem-tileset/internal/taskpool"
)

// Builder produces one output tile at a time, either from source
// elevations (the base level) or by downsampling four children (every
// coarser level).
type Builder struct {
	svc      *elevation.Service
	idx      *sourceindex.Index
	outDir   string
	tileSize int
	kind     raster.Kind
	ext      string

	repairMu sync.Mutex
}

// NewBuilder returns a Builder writing tiles of kind (ext is the file
// extension to use, e.g. "png" or "tif") under outDir.
func NewBuilder(svc *elevation.Service, idx *sourceindex.Index, outDir string, tileSize int, kind raster.Kind, ext string) *Builder {
	return &Builder{
		svc:      svc,
		idx:      idx,
		outDir:   outDir,
		tileSize: tileSize,
		kind:     kind,
		ext:      ext,
	}
}

// TilePath returns the output path for tile (z,x,y), matching the
// original's "<outdir>/<z>/<x>/<y>.<ext>" layout.
func (b *Builder) TilePath(z, x, y int) string {
	return filepath.Join(b.outDir, itoa(z), itoa(x), itoa(y)+"."+b.ext)
}

func itoa(v int) string { return fmt.Sprintf("%d", v) }

// BuildBaseTile writes tile (z,x,y) directly from source elevations. It is
// a no-op (and reports wrote=false) if the file already exists (rerun
// idempotence) or if no source cell overlaps the tile's bounds (an
// EmptyRegion, not an error), matching GdemPool::makeElevationImage.
func (b *Builder) BuildBaseTile(z, x, y int) (wrote bool, err error) {
	path := b.TilePath(z, x, y)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	bounds := coord.TileBounds(z, x, y)
	if !b.idx.Overlaps(bounds.West, bounds.South, bounds.East, bounds.North) {
		return false, nil
	}

	data := getInt16Buf(b.tileSize * b.tileSize)
	defer putInt16Buf(data)
	if err := b.svc.FillGrid(bounds.West, bounds.South, bounds.East, bounds.North, b.tileSize, b.tileSize, data); err != nil {
		return false, fmt.Errorf("pyramid: filling (%d,%d,%d): %w", z, x, y, err)
	}

	if err := b.writeTile(path, bounds, data); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Builder) writeTile(path string, bounds coord.Bounds, data []int16) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pyramid: creating directory for %s: %w", path, err)
	}

	handle, err := raster.CreatePaletted(path, b.tileSize, b.tileSize, b.kind)
	if err != nil {
		return fmt.Errorf("pyramid: creating %s: %w", path, err)
	}

	if err := handle.WriteWindow(1, 0, 0, b.tileSize, b.tileSize, data); err != nil {
		handle.Close()
		return fmt.Errorf("pyramid: writing %s: %w", path, err)
	}

	if b.kind == raster.TiffI16 {
		xRes := (bounds.East - bounds.West) / float64(b.tileSize-1)
		yRes := (bounds.South - bounds.North) / float64(b.tileSize-1)
		handle.SetGeoTransform(raster.GeoTransform{
			bounds.West - xRes*0.5, xRes, 0,
			bounds.North - yRes*0.5, 0, yRes,
		})
		handle.SetProjection(raster.WGS84WKT)
	}

	if err := handle.Close(); err != nil {
		return fmt.Errorf("pyramid: closing %s: %w", path, err)
	}
	return nil
}

// quadrant identifies one of the four children of a parent tile, in the
// original's "00 10 / 01 11" layout (NW, SW, NE, SE).
type quadrant struct {
	dx, dy int // child coordinate offset: (0,0)=NW, (0,1)=SW, (1,0)=NE, (1,1)=SE
}

var quadrants = [4]quadrant{
	{0, 0}, // NW
	{0, 1}, // SW
	{1, 0}, // NE
	{1, 1}, // SE
}

// BuildLevelTile writes tile (z,x,y) by downsampling its four children at
// z+1, each reduced to (tileSize/2+1) on a side with a shared seam pixel,
// matching GdemPool::makeLodImage. It is a no-op if the output already
// exists, or if none of the four children exist yet (nothing to combine).
// A child that fails to open or read is deleted and rebuilt once from
// source elevations (self-heal, per spec.md §7's TileIOError); if the
// rebuild still fails that quadrant is left at zero and a warning is
// logged, rather than aborting the whole tile.
func (b *Builder) BuildLevelTile(z, x, y int) (wrote bool, err error) {
	path := b.TilePath(z, x, y)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	childZ := z + 1
	var childPaths [4]string
	var childExists [4]bool
	anyExists := false
	for i, q := range quadrants {
		cx, cy := x*2+q.dx, y*2+q.dy
		childPaths[i] = b.TilePath(childZ, cx, cy)
		if _, err := os.Stat(childPaths[i]); err == nil {
			childExists[i] = true
			anyExists = true
		}
	}
	if !anyExists {
		return false, nil
	}

	subW := b.tileSize/2 + 1
	subH := b.tileSize/2 + 1
	data := getInt16Buf(b.tileSize * b.tileSize)
	defer putInt16Buf(data)

	for i, q := range quadrants {
		if !childExists[i] {
			continue
		}
		cx, cy := x*2+q.dx, y*2+q.dy
		sub, err := b.readChildReduced(childZ, cx, cy, childPaths[i], subW, subH)
		if err != nil {
			log.Printf("pyramid: giving up on child %s after self-heal attempt: %v", childPaths[i], err)
			continue
		}
		placeQuadrant(data, b.tileSize, sub, subW, subH, q.dx, q.dy)
		putInt16Buf(sub)
	}

	bounds := coord.TileBounds(z, x, y)
	if err := b.writeTile(path, bounds, data); err != nil {
		return false, err
	}
	return true, nil
}

// readChildReduced opens the child tile and reads it reduced to subW×subH.
// On failure it deletes the file, rebuilds it directly from source
// elevations (matching the original's unconditional call to
// makeElevationImage during self-heal, regardless of the child's actual
// zoom level), and retries exactly once. The self-heal is serialized by
// repairMu.
func (b *Builder) readChildReduced(childZ, cx, cy int, path string, subW, subH int) ([]int16, error) {
	sub := getInt16Buf(subW * subH)

	handle, err := raster.OpenReadOnly(path)
	if err == nil {
		readErr := handle.ReadReduced(1, subW, subH, sub)
		handle.Close()
		if readErr == nil {
			return sub, nil
		}
		err = readErr
	}

	log.Printf("pyramid: %s unreadable (%v), attempting self-heal rebuild", path, err)
	b.repairMu.Lock()
	defer b.repairMu.Unlock()
	os.Remove(path)
	if _, rebuildErr := b.BuildBaseTile(childZ, cx, cy); rebuildErr != nil {
		return nil, fmt.Errorf("rebuilding %s: %w", path, rebuildErr)
	}

	handle, err = raster.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("reopening rebuilt %s: %w", path, err)
	}
	defer handle.Close()
	if err := handle.ReadReduced(1, subW, subH, sub); err != nil {
		return nil, fmt.Errorf("reading rebuilt %s: %w", path, err)
	}
	return sub, nil
}

// placeQuadrant copies a subW×subH reduced child image into its quadrant
// of the width×width parent buffer, per the original's four placement
// loops in makeLodImage (NW at the top-left, SW's rows anchored to the
// bottom edge, NE's columns anchored to the right edge, SE anchored to
// both).
func placeQuadrant(dst []int16, width int, sub []int16, subW, subH, dx, dy int) {
	rowBase := 0
	if dy == 1 {
		rowBase = width - subH
	}
	colBase := 0
	if dx == 1 {
		colBase = width - subW
	}
	for row := 0; row < subH; row++ {
		copy(dst[(rowBase+row)*width+colBase:(rowBase+row)*width+colBase+subW], sub[row*subW:(row+1)*subW])
	}
}

// RepairTile forcibly rebuilds tile (z,x,y) from source elevations,
// serialized by a dedicated mutex so concurrent repair attempts on the
// same or related tiles don't race — matching GdemPool::repairImage,
// which the original marks "for debug" use.
func (b *Builder) RepairTile(z, x, y int) error {
	b.repairMu.Lock()
	defer b.repairMu.Unlock()

	path := b.TilePath(z, x, y)
	os.Remove(path)
	_, err := b.BuildBaseTile(z, x, y)
	return err
}

// WriteNullTile writes the "no data available" placeholder tile that the
// tileset's serving layer falls back to outside the built pyramid. This
// is always a grey PNG regardless of the pyramid's --out_type, matching
// GdemPool::makeNullImage, which hard-codes "/null.png" independent of
// the type argument passed to the rest of the pipeline.
func (b *Builder) WriteNullTile() error {
	path := filepath.Join(b.outDir, "null.png")
	data := getInt16Buf(b.tileSize * b.tileSize)
	defer putInt16Buf(data)

	handle, err := raster.CreatePaletted(path, b.tileSize, b.tileSize, raster.PngU16)
	if err != nil {
		return fmt.Errorf("pyramid: creating %s: %w", path, err)
	}
	if err := handle.WriteWindow(1, 0, 0, b.tileSize, b.tileSize, data); err != nil {
		handle.Close()
		return fmt.Errorf("pyramid: writing %s: %w", path, err)
	}
	return handle.Close()
}

// RunBasePass fans base-level tile construction for the full z=maxLod
// grid out across pool, skipping (and counting as processed) any column
// that doesn't overlap any source cell at all — matching tileset()'s
// per-column gdem_pool.contains shortcut. onProgress is called after every
// submitted or skipped tile with the delta to add to a running total.
func (b *Builder) RunBasePass(pool *taskpool.Pool, maxLod int, onProgress func(delta int)) {
	z := maxLod
	xNum := coord.NumX(z)
	yNum := coord.NumY(z)
	xStep := 360.0 / float64(xNum)

	for x := 0; x < xNum; x++ {
		west := -180.0 + float64(x)*xStep
		if !b.idx.Overlaps(west, -90.0, west+xStep, 90.0) {
			if onProgress != nil {
				onProgress(yNum)
			}
			continue
		}

		for y := 0; y < yNum; y++ {
			x, y := x, y
			pool.AddTask(func() {
				if _, err := b.BuildBaseTile(z, x, y); err != nil {
					log.Printf("pyramid: base tile (%d,%d,%d): %v", z, x, y, err)
				}
				if onProgress != nil {
					onProgress(1)
				}
			})
		}
	}
}

// RunLevelPass fans the downsample pass for a single level z across pool,
// with the same per-column overlap shortcut as RunBasePass.
func (b *Builder) RunLevelPass(pool *taskpool.Pool, z int, onProgress func(delta int)) {
	xNum := coord.NumX(z)
	yNum := coord.NumY(z)
	xStep := 360.0 / float64(xNum)

	for x := 0; x < xNum; x++ {
		west := -180.0 + float64(x)*xStep
		if !b.idx.Overlaps(west, -90.0, west+xStep, 90.0) {
			if onProgress != nil {
				onProgress(yNum)
			}
			continue
		}

		for y := 0; y < yNum; y++ {
			x, y := x, y
			pool.AddTask(func() {
				if _, err := b.BuildLevelTile(z, x, y); err != nil {
					log.Printf("pyramid: level tile (%d,%d,%d): %v", z, x, y, err)
				}
				if onProgress != nil {
					onProgress(1)
				}
			})
		}
	}
}

// SettleDelay is the pause between finishing one pyramid level and
// starting the next, giving the filesystem time to make just-written
// child tiles visible to os.Stat before the coarser pass looks for them —
// matching main.cpp's makelod() `std::this_thread::sleep_for(2s)` between
// levels.
const SettleDelay = 2 * time.Second
