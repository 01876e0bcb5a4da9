// Package sourceindex discovers GDEM source cells on disk and answers two
// questions the elevation service and tile builders need: which file backs
// a given 1°×1° cell, and does a given geographic region overlap any
// source cell at all. Grounded on the original program's tile_map/tile_tree
// pair (gdem.h/gdem.cpp) and, for directory expansion, the teacher's
// cmd/geotiff2pmtiles/main.go collectTIFFs/isTIFF helpers.
package sourceindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fling-gdet/gdem-tileset/internal/coord"
	"github.com/fling-gdet/gdem-tileset/internal/raster"
)

// expectedCellSize is the required width and height, in samples, of a
// GDEM source cell (spec.md §4.3). A *dem.tif file of any other size is
// an InputFormatError (spec.md §7), warned and skipped rather than
// indexed, matching original_source/gdem.cpp's GDAL open-and-check-size
// guard in GdemPool::init.
const expectedCellSize = 3601

// Cell describes one discovered GDEM source raster.
type Cell struct {
	Path       string
	West       float64
	South      float64
	East       float64
	North      float64
	Ilon, Ilat int // integer south-west corner, e.g. -180..179, -90..89
}

// Index maps cell keys to source files and supports bounding-box overlap
// queries. The overlap query is backed by a dense grid over the bounded
// 360×180 integer cell space rather than a general-purpose R-tree: no
// R-tree library appears anywhere in the example corpus, and GDEM cells
// are confined to whole-degree longitude/latitude, so a flat array keyed
// by coord.CellKey answers "does this region overlap any known cell" in
// O(1) per cell without needing real interval-tree machinery. See
// SPEC_FULL.md's resolution of the spec's Open Question on the spatial
// index.
type Index struct {
	mu    sync.RWMutex
	byKey map[int]*Cell
	grid  [360 * 180]bool // true where a cell exists, indexed by coord.CellKey
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{byKey: make(map[int]*Cell)}
}

// Build expands sources (files or directories, recursively) to the set of
// "*dem.tif" files, parses each one's embedded cell coordinates from its
// filename, and populates the index. Entries that fail to parse or whose
// coordinates are out of range are reported via onWarn and skipped — they
// are an InputFormatError per spec.md §7, not fatal.
func Build(sources []string, onWarn func(path, reason string)) (*Index, error) {
	paths, err := expand(sources)
	if err != nil {
		return nil, err
	}

	idx := NewIndex()
	for _, path := range paths {
		cell, err := parseFilename(path)
		if err != nil {
			if onWarn != nil {
				onWarn(path, err.Error())
			}
			continue
		}

		if err := checkCellSize(path); err != nil {
			if onWarn != nil {
				onWarn(path, err.Error())
			}
			continue
		}

		idx.insert(cell)
	}
	return idx, nil
}

// checkCellSize probes path's dimensions and rejects anything not
// expectedCellSize on each side, per spec.md §4.3.
func checkCellSize(path string) error {
	w, h, err := raster.PeekDimensions(path)
	if err != nil {
		return fmt.Errorf("probing dimensions: %w", err)
	}
	if w != expectedCellSize || h != expectedCellSize {
		return fmt.Errorf("dimensions %dx%d, want %dx%d", w, h, expectedCellSize, expectedCellSize)
	}
	return nil
}

// expand walks sources (files or directories) and returns every regular
// file whose name ends in "dem.tif", matching the original's
// iEndsWith(path, "dem.tif") filter and the teacher's directory-walk
// pattern in cmd/geotiff2pmtiles/main.go's collectTIFFs.
func expand(sources []string) ([]string, error) {
	var out []string
	stack := append([]string(nil), sources...)

	for len(stack) > 0 {
		path := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("sourceindex: stat %s: %w", path, err)
		}

		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("sourceindex: reading %s: %w", path, err)
			}
			for _, e := range entries {
				stack = append(stack, filepath.Join(path, e.Name()))
			}
			continue
		}

		if isDemTIF(path) {
			out = append(out, path)
		}
	}
	return out, nil
}

func isDemTIF(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), "dem.tif")
}

// parseFilename extracts a cell's integer south-west corner from a GDEM
// filename of the form "...<N|S>dd<E|W>ddd...dem.tif", e.g.
// "ASTGTMV003_N23E120_dem.tif" names the cell at 23°N, 120°E. This is the
// same grammar the original program's GdemPool::init parses byte-by-byte
// around the first underscore; here it is expressed with fmt.Sscanf in
// the style of the corpus's filename-parsing convention (cf. srtm3.go's
// `fmt.Sscanf("%1s%d%1s%d", ...)` in the reference pack).
func parseFilename(path string) (*Cell, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.IndexByte(stem, '_')
	if idx < 0 {
		return nil, fmt.Errorf("no underscore-delimited coordinate segment")
	}
	tag := stem[idx+1:]

	var latCh, lonCh string
	var ilat, ilon int
	n, err := fmt.Sscanf(tag, "%1s%2d%1s%3d", &latCh, &ilat, &lonCh, &ilon)
	if err != nil || n != 4 {
		return nil, fmt.Errorf("coordinate segment %q does not match <N|S>dd<E|W>ddd", tag)
	}

	switch strings.ToUpper(latCh) {
	case "S":
		ilat = -ilat
	case "N":
	default:
		return nil, fmt.Errorf("unrecognized latitude hemisphere %q", latCh)
	}
	switch strings.ToUpper(lonCh) {
	case "W":
		ilon = -ilon
	case "E":
	default:
		return nil, fmt.Errorf("unrecognized longitude hemisphere %q", lonCh)
	}
	if ilat < -90 || ilat >= 90 || ilon < -180 || ilon >= 180 {
		return nil, fmt.Errorf("coordinates (%d,%d) out of range", ilon, ilat)
	}

	return &Cell{
		Path:  path,
		West:  float64(ilon),
		South: float64(ilat),
		East:  float64(ilon) + 1.0,
		North: float64(ilat) + 1.0,
		Ilon:  ilon,
		Ilat:  ilat,
	}, nil
}

func (idx *Index) insert(cell *Cell) {
	key := coord.CellKey(cell.Ilon, cell.Ilat)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byKey[key] = cell
	idx.grid[key] = true
}

// Len returns the number of distinct source cells in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byKey)
}

// PathAt returns the source file covering the 1°×1° cell containing
// (lon, lat), and whether one exists.
func (idx *Index) PathAt(lon, lat float64) (string, bool) {
	ilon, ilat := coord.CellOf(lon, lat)
	key := coord.CellKey(ilon, ilat)

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	cell, ok := idx.byKey[key]
	if !ok {
		return "", false
	}
	return cell.Path, true
}

// Overlaps reports whether any indexed source cell intersects the
// rectangle [west,east]×[south,north], mirroring GdemPool::contains.
func (idx *Index) Overlaps(west, south, east, north float64) bool {
	loLon, hiLon := clampLon(int(floor(west))), clampLon(int(ceilExclusive(east)))
	loLat, hiLat := clampLat(int(floor(south))), clampLat(int(ceilExclusive(north)))

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for ilat := loLat; ilat < hiLat; ilat++ {
		for ilon := loLon; ilon < hiLon; ilon++ {
			if idx.grid[coord.CellKey(ilon, ilat)] {
				return true
			}
		}
	}
	return false
}

func floor(v float64) float64 {
	i := int(v)
	if float64(i) > v {
		i--
	}
	return float64(i)
}

func ceilExclusive(v float64) float64 {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return float64(i)
}

func clampLon(v int) int {
	if v < -180 {
		return -180
	}
	if v > 180 {
		return 180
	}
	return v
}

func clampLat(v int) int {
	if v < -90 {
		return -90
	}
	if v > 90 {
		return 90
	}
	return v
}
