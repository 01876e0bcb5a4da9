package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// pngReadHandle opens a previously written UInt16 grey PNG tile for
// downsampling during a later pyramid level pass (BuildLevelTile's
// children may be PngU16 tiles when --out_type=png, the default), mirroring
// geoTIFFReader's read path but decoding through the standard library's
// image/png and reversing elevationToGrey16's bit reinterpretation.
type pngReadHandle struct {
	path          string
	width, height int
	data          []int16
}

func openPNG(path string) (*pngReadHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: opening %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("raster: decoding %s: %w", path, err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		return nil, fmt.Errorf("raster: %s is not a UInt16 grey PNG", path)
	}

	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	data := make([]int16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = GreyToElevation(gray.Gray16At(gray.Rect.Min.X+x, gray.Rect.Min.Y+y).Y)
		}
	}

	return &pngReadHandle{path: path, width: w, height: h, data: data}, nil
}

func (p *pngReadHandle) Dimensions() (width, height, bands int) {
	return p.width, p.height, 1
}

func (p *pngReadHandle) NativeBlockSize(band int) (bx, by int) {
	return p.width, p.height
}

func (p *pngReadHandle) ReadWindow(band, x, y, w, h int, buf []int16) error {
	if len(buf) != w*h {
		return fmt.Errorf("raster: ReadWindow buffer size %d, want %d", len(buf), w*h)
	}
	for row := 0; row < h; row++ {
		sy := y + row
		if sy < 0 || sy >= p.height {
			continue
		}
		for col := 0; col < w; col++ {
			sx := x + col
			if sx < 0 || sx >= p.width {
				continue
			}
			buf[row*w+col] = p.data[sy*p.width+sx]
		}
	}
	return nil
}

func (p *pngReadHandle) ReadReduced(band, destW, destH int, buf []int16) error {
	if len(buf) != destW*destH {
		return fmt.Errorf("raster: ReadReduced buffer size %d, want %d", len(buf), destW*destH)
	}
	return areaAverageDownsample(p.data, p.width, p.height, buf, destW, destH)
}

func (p *pngReadHandle) WriteWindow(band, x, y, w, h int, buf []int16) error {
	return fmt.Errorf("raster: %s is read-only", p.path)
}

func (p *pngReadHandle) SetGeoTransform(gt GeoTransform) {}
func (p *pngReadHandle) SetProjection(wkt string)        {}

func (p *pngReadHandle) Close() error {
	p.data = nil
	return nil
}

// pngWriteHandle buffers a UInt16 greyscale tile until Close, when it is
// encoded via the standard library's image/png, matching spec.md §4.6's
// "PNG, UInt16 grey" output kind. Elevation samples are stored as Int16 in
// the raster pipeline and are reinterpreted bit-for-bit as Gray16 on
// write, matching the original program's GDAL RasterIO call against an
// int16_t buffer declared GDT_UInt16.
type pngWriteHandle struct {
	path          string
	width, height int
	img           *image.Gray16
}

func newPNGHandle(path string, w, h int) *pngWriteHandle {
	return &pngWriteHandle{
		path:   path,
		width:  w,
		height: h,
		img:    image.NewGray16(image.Rect(0, 0, w, h)),
	}
}

func (p *pngWriteHandle) Dimensions() (width, height, bands int) {
	return p.width, p.height, 1
}

func (p *pngWriteHandle) NativeBlockSize(band int) (bx, by int) {
	return p.width, p.height
}

func (p *pngWriteHandle) ReadWindow(band, x, y, w, h int, buf []int16) error {
	return fmt.Errorf("raster: %s is write-only", p.path)
}

func (p *pngWriteHandle) ReadReduced(band, destW, destH int, buf []int16) error {
	return fmt.Errorf("raster: %s is write-only", p.path)
}

func (p *pngWriteHandle) WriteWindow(band, x, y, w, h int, buf []int16) error {
	if len(buf) != w*h {
		return fmt.Errorf("raster: WriteWindow buffer size %d, want %d", len(buf), w*h)
	}
	for row := 0; row < h; row++ {
		dy := y + row
		if dy < 0 || dy >= p.height {
			continue
		}
		for col := 0; col < w; col++ {
			dx := x + col
			if dx < 0 || dx >= p.width {
				continue
			}
			v := buf[row*w+col]
			p.img.SetGray16(dx, dy, color.Gray16{Y: elevationToGrey16(v)})
		}
	}
	return nil
}

// elevationToGrey16 reinterprets a signed Int16 elevation sample's bits as
// an unsigned Gray16 pixel, matching the original program's GDAL
// RasterIO(GF_Write, ..., GDT_UInt16, ...) call against an int16_t buffer:
// since both types are 16 bits wide, GDAL performs a raw bit
// reinterpretation rather than a value-shifting bias.
func elevationToGrey16(v int16) uint16 {
	return uint16(v)
}

// GreyToElevation reverses elevationToGrey16, for callers that need to
// read a previously written PNG tile back as elevation samples.
func GreyToElevation(g uint16) int16 {
	return int16(g)
}

func (p *pngWriteHandle) SetGeoTransform(gt GeoTransform) {}
func (p *pngWriteHandle) SetProjection(wkt string)        {}

func (p *pngWriteHandle) Close() error {
	f, err := os.Create(p.path)
	if err != nil {
		return fmt.Errorf("raster: creating %s: %w", p.path, err)
	}
	defer f.Close()
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, p.img); err != nil {
		return fmt.Errorf("raster: encoding %s: %w", p.path, err)
	}
	return nil
}
