// Package coord implements the coordinate math for the geographic
// (EPSG:4326) tile quadtree: tile-to-bounds conversion, GDEM sub-block
// indexing, and within-block pixel addressing.
package coord

import "math"

// NumX returns the number of tile columns at zoom z. Level 0 spans the
// whole globe in two tiles (the geographic quadtree, not a Mercator one).
func NumX(z int) int {
	return 2 << uint(z)
}

// NumY returns the number of tile rows at zoom z.
func NumY(z int) int {
	return 1 << uint(z)
}

// Bounds is a WGS84 geographic bounding box.
type Bounds struct {
	West, South, East, North float64
}

// TileBounds returns the geographic bounds of tile (z,x,y).
func TileBounds(z, x, y int) Bounds {
	step := 180.0 / float64(uint(1)<<uint(z))
	west := -180.0 + float64(x)*step
	north := 90.0 - float64(y)*step
	return Bounds{
		West:  west,
		East:  west + step,
		North: north,
		South: north - step,
	}
}

// Children returns the four child tile coordinates of (z,x,y) in
// NW, NE, SW, SE order.
func Children(z, x, y int) (nw, ne, sw, se [3]int) {
	cz := z + 1
	cx, cy := 2*x, 2*y
	nw = [3]int{cz, cx, cy}
	ne = [3]int{cz, cx + 1, cy}
	sw = [3]int{cz, cx, cy + 1}
	se = [3]int{cz, cx + 1, cy + 1}
	return
}

// AutoMaxLOD computes the largest zoom level L such that the tile
// resolution exceeds the 1 arc-second (1/3600 degree) source resolution,
// per spec.md §6: the smallest L such that
// 180/(tileSize-1)/2^L > 1/3600 no longer holds for L+1.
func AutoMaxLOD(tileSize int) int {
	const minResolution = 1.0 / 3600.0
	resolution := 180.0 / float64(tileSize-1)
	lod := 0
	for resolution/2.0 > minResolution {
		lod++
		resolution /= 2.0
	}
	return lod
}

// BlockIndex returns the sub-block indices (ilonBlock, ilatBlock) that
// contain the point (lon, lat). ilonBlock ranges over [0, 5760),
// ilatBlock over [0, 2880).
func BlockIndex(lon, lat float64) (ilonBlock, ilatBlock int) {
	ilonBlock = int(math.Floor(lon*16.0 + 180.0*16.0))
	ilatBlock = int(math.Floor(lat*16.0 + 90.0*16.0))
	return
}

// BlockKey returns the cache key for a sub-block, per spec.md §3:
// key = ilatBlock*5760 + ilonBlock.
func BlockKey(ilonBlock, ilatBlock int) int {
	return ilatBlock*5760 + ilonBlock
}

// BlockOrigin returns the south-west corner of sub-block (ilonBlock, ilatBlock).
func BlockOrigin(ilonBlock, ilatBlock int) (west, south float64) {
	west = float64(ilonBlock)*0.0625 - 180.0
	south = float64(ilatBlock)*0.0625 - 90.0
	return
}

// BlockWindowOffset returns the source-raster pixel offset of the 226×226
// read window backing sub-block (ilonBlock, ilatBlock), per spec.md §4.5.
// Source rows grow southward, so the block's row within its owning cell
// is inverted (15 - ilatBlock%16) before scaling by the 225-pixel pitch.
func BlockWindowOffset(ilonBlock, ilatBlock int) (xOff, yOff int) {
	xOff = (ilonBlock % 16) * 225
	yOff = (15 - (ilatBlock % 16)) * 225
	return
}

// BlockPixel maps a point inside a sub-block to its (col, row) index in
// the block's 226×226 buffer. Row 0 is the block's north edge.
func BlockPixel(lon, lat, west, south float64) (col, row int) {
	unitCol := (lon - west) * 16.0
	unitRow := (south + 0.0625 - lat) * 16.0
	col = int(225.0*unitCol + 0.5)
	row = int(225.0*unitRow + 0.5)
	return
}

// CellKey returns the source-cell key for the integer south-west corner
// (ilon, ilat), per spec.md §3: key = (ilat+90)*360 + (ilon+180).
func CellKey(ilon, ilat int) int {
	return (ilat+90)*360 + (ilon + 180)
}

// CellOf truncates a point to its containing 1°×1° cell's south-west corner.
func CellOf(lon, lat float64) (ilon, ilat int) {
	ilon = int(math.Floor(lon)) + 0 // truncation-based lookup per spec.md §4.3
	ilat = int(math.Floor(lat))
	return
}
