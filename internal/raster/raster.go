// Package raster is the thin façade the rest of the system uses to read
// GDEM source cells and write tile images, per spec.md §4.2. It hides the
// concrete raster codec (a minimal, uncompressed, single-band GeoTIFF
// reader/writer plus a UInt16 grey PNG writer) behind a small Handle
// interface, so that the spatial index, block cache, elevation service,
// and tile builders never depend on codec internals — only on "open a
// file", "read a window", "create and write an image", "close it".
package raster

import (
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned by OpenReadOnly when the path does not exist.
var ErrNotFound = errors.New("raster: file not found")

// Kind selects the output encoding for CreatePaletted, per spec.md §4.6.
type Kind int

const (
	// PngU16 encodes as an 8-bit-depth-free UInt16 greyscale PNG.
	PngU16 Kind = iota
	// TiffI16 encodes as a single-band Int16 GeoTIFF.
	TiffI16
)

// GeoTransform is the classic six-coefficient affine mapping from pixel
// (col,row) to CRS (x,y), using pixel-center registration (spec.md §4.6):
//
//	x = GT[0] + col*GT[1] + row*GT[2]
//	y = GT[3] + col*GT[4] + row*GT[5]
type GeoTransform [6]float64

// WGS84WKT is the default WGS84 geographic projection string written to
// output GeoTIFFs, matching the original's embedded projection constant.
const WGS84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// Handle is a single open raster, either for reading (a source GDEM cell)
// or for writing (a tile under construction). A Handle is used by exactly
// one goroutine at a time — the façade does not add its own locking,
// matching spec.md §4.2/§5 ("a single Handle is used by a single task").
type Handle interface {
	// Dimensions returns the raster's width, height, and band count.
	Dimensions() (width, height, bands int)

	// NativeBlockSize returns the codec's natural block dimensions for
	// the given band (1-based). Callers that need at least a 226×226
	// window require bx >= 226 && by >= 226; violating that is a
	// CodecFatalError per spec.md §7.
	NativeBlockSize(band int) (bx, by int)

	// ReadWindow fills buf (len == w*h) with the Int16 samples of the
	// w×h window at (x,y) of the given band.
	ReadWindow(band, x, y, w, h int, buf []int16) error

	// ReadReduced fills buf (len == destW*destH) with an area-average
	// downsampled rendition of the whole band, reduced to destW×destH.
	// This is the "codec area-average downsample" spec.md §4.7 and §9
	// delegate to the raster layer rather than the tile builder.
	ReadReduced(band, destW, destH int, buf []int16) error

	// WriteWindow writes buf (len == w*h) into the w×h window at (x,y)
	// of the given band.
	WriteWindow(band, x, y, w, h int, buf []int16) error

	// SetGeoTransform records the output geotransform (TiffI16 only; a
	// no-op for PngU16, which carries no georeferencing).
	SetGeoTransform(gt GeoTransform)

	// SetProjection records the output projection WKT (TiffI16 only).
	SetProjection(wkt string)

	// Close finalizes and releases the handle. For a created (write)
	// handle this performs the actual encode to disk.
	Close() error
}

// pngMagic is the 8-byte PNG file signature (RFC 2083 §3.1).
var pngMagic = [8]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// OpenReadOnly opens an existing raster file for windowed reads. The codec
// is detected from the file's leading bytes rather than its extension,
// since a pyramid level's children may be either GeoTIFF or PNG tiles
// depending on --out_type.
func OpenReadOnly(path string) (Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("raster: stat %s: %w", path, err)
	}
	var header [8]byte
	_, readErr := f.Read(header[:])
	f.Close()
	if readErr != nil {
		return nil, fmt.Errorf("raster: reading %s header: %w", path, readErr)
	}

	if header == pngMagic {
		return openPNG(path)
	}
	return openGeoTIFF(path)
}

// PeekDimensions reports a GeoTIFF's width and height without decoding its
// band data, for callers (the source index) that only need to validate a
// file's size before deciding whether to index it at all.
func PeekDimensions(path string) (width, height int, err error) {
	return peekTIFFDimensions(path)
}

// CreatePaletted creates a new single-band raster of the given kind,
// ready to receive WriteWindow calls and, on Close, to be encoded to path.
func CreatePaletted(path string, w, h int, kind Kind) (Handle, error) {
	switch kind {
	case PngU16:
		return newPNGHandle(path, w, h), nil
	case TiffI16:
		return newTIFFWriteHandle(path, w, h), nil
	default:
		return nil, fmt.Errorf("raster: unknown kind %d", kind)
	}
}
