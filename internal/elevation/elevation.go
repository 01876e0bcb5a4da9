// Package elevation answers point and grid elevation queries against a
// set of indexed GDEM source cells, decoding and caching 226×226
// sub-blocks on demand. Grounded on the original program's
// GdemPool::getElevation/makeElevation (gdem.cpp), restructured as a Go
// service with explicit error returns for open/read failures in place of
// logger::ERROR+exit(1); an undersized native block still exits the process.
package elevation

import (
	"fmt"
	"log"

	"github.com/fling-gdet/gdem-tileset/internal/blockcache"
	"github.com/fling-gdet/gdem-tileset/internal/coord"
	"github.com/fling-gdet/gdem-tileset/internal/raster"
	"github.com/fling-gdet/gdem-tileset/internal/sourceindex"
)

// NoData is the sentinel the source rasters use for missing samples,
// matching the original program's NODATA constant.
const NoData = -9999

// Service resolves elevations from an Index, decoding sub-blocks through
// a shared Cache.
type Service struct {
	index *sourceindex.Index
	cache *blockcache.Cache
}

// NewService builds a Service over idx, with a block cache of the given
// capacity (0 selects blockcache.DefaultCapacity).
func NewService(idx *sourceindex.Index, cacheCapacity int) *Service {
	return &Service{
		index: idx,
		cache: blockcache.New(cacheCapacity),
	}
}

// CacheLen reports the current number of cached sub-blocks, for the
// lifecycle monitor.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// At returns the elevation sample nearest (lon, lat), or (0, nil) if no
// source cell covers the point — matching contains()==false short-
// circuiting makeElevation to a 0 fill, per spec.md §4.5.
func (s *Service) At(lon, lat float64) (int16, error) {
	path, ok := s.index.PathAt(lon, lat)
	if !ok {
		return 0, nil
	}

	ilonBlock, ilatBlock := coord.BlockIndex(lon, lat)
	key := coord.BlockKey(ilonBlock, ilatBlock)

	block := s.cache.Get(key)
	if block == nil {
		decoded, err := s.decodeBlock(path, ilonBlock, ilatBlock)
		if err != nil {
			return 0, err
		}
		s.cache.Insert(key, decoded)
		block = s.cache.Get(key)
	}

	col, row := coord.BlockPixel(lon, lat, block.West, block.South)
	const blockSide = 226
	if col < 0 || col >= blockSide || row < 0 || row >= blockSide {
		return 0, fmt.Errorf("elevation: pixel (%d,%d) out of block bounds for (%v,%v)", col, row, lon, lat)
	}

	sample := block.Data[row*blockSide+col]
	if sample <= NoData {
		log.Printf("elevation: found nodata in %s", path)
	}
	return sample, nil
}

// decodeBlock opens the source cell at path and reads the 226×226 window
// backing (ilonBlock, ilatBlock), per spec.md §4.5's Y-inverted windowed
// read. A codec that reports a native block smaller than 226×226 is a
// CodecFatalError — the source is unusable for this system, not merely
// missing a cell.
func (s *Service) decodeBlock(path string, ilonBlock, ilatBlock int) (*blockcache.Block, error) {
	handle, err := raster.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("elevation: opening %s: %w", path, err)
	}
	defer handle.Close()

	bx, by := handle.NativeBlockSize(1)
	if bx < 226 || by < 226 {
		log.Fatalf("elevation: block size of %s is less than 226 (%dx%d)", path, bx, by)
	}

	xOff, yOff := coord.BlockWindowOffset(ilonBlock, ilatBlock)
	const blockSide = 226
	data := make([]int16, blockSide*blockSide)
	if err := handle.ReadWindow(1, xOff, yOff, blockSide, blockSide, data); err != nil {
		return nil, fmt.Errorf("elevation: reading window from %s: %w", path, err)
	}

	west, south := coord.BlockOrigin(ilonBlock, ilatBlock)
	return &blockcache.Block{West: west, South: south, Data: data}, nil
}

// FillGrid samples a width×height grid spanning [west,east]×[south,north]
// (pixel-center to edge-inclusive, matching the original's
// (width-1)/(height-1) step) and writes the samples into dst, substituting
// 0 for any NoData or uncovered sample, per GdemPool::makeElevation.
func (s *Service) FillGrid(west, south, east, north float64, width, height int, dst []int16) error {
	if len(dst) != width*height {
		return fmt.Errorf("elevation: dst length %d, want %d", len(dst), width*height)
	}

	xStep := (east - west) / float64(width-1)
	yStep := (north - south) / float64(height-1)

	for y := 0; y < height; y++ {
		lat := north - float64(y)*yStep
		for x := 0; x < width; x++ {
			lon := west + float64(x)*xStep
			ele, err := s.At(lon, lat)
			if err != nil {
				return err
			}
			if ele <= NoData {
				ele = 0
			}
			dst[y*width+x] = ele
		}
	}
	return nil
}
