package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// TIFF tag IDs used by the GDEM codec, adapted from the teacher's
// internal/cog/ifd.go tag table — trimmed to the single-band, uncompressed
// strip/tile layouts this system's source cells and output tiles use.
const (
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagCompression        = 259
	tagPhotometric        = 262
	tagStripOffsets       = 273
	tagSamplesPerPixel    = 277
	tagRowsPerStrip       = 278
	tagStripByteCounts    = 279
	tagTileWidth          = 322
	tagTileLength         = 323
	tagTileOffsets        = 324
	tagTileByteCounts     = 325
	tagSampleFormat       = 339
	tagModelPixelScaleTag = 33550
	tagModelTiepointTag   = 33922
	tagGeoKeyDirectoryTag = 34735
	tagGeoAsciiParamsTag  = 34737
)

const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtSShort   = 8
	dtDouble   = 12
)

// sampleFormatInt marks SampleFormat=2 (two's-complement signed integer),
// distinguishing Int16 source/output rasters from UInt16 grey PNG output
// (which is handled by png.go instead).
const sampleFormatInt = 2

// geoTIFFReader is a read-only Handle over a single-band, uncompressed
// GeoTIFF, decoded fully into memory on open.
//
// Unlike the teacher's internal/cog.Reader (which memory-maps tiled COGs
// for concurrent random-access tile decode across many goroutines), this
// codec decodes the entire band once per open into an []int16 and serves
// ReadWindow/ReadReduced from that slice. GDEM cells are modest in size
// (3601² Int16 ≈ 25 MB) and spec.md §4.2/§5 already require a Handle to be
// used by exactly one goroutine at a time, so the simpler whole-band decode
// costs no more memory than the concurrency model already allows.
type geoTIFFReader struct {
	width, height int
	blockW, blockH int
	data          []int16
	path          string
}

// peekTIFFDimensions parses just a TIFF's IFD to report its width and
// height, without decoding band data — the lightweight "probe its
// dimensions" check spec.md §4.3 calls for when building the source
// index, which opens every candidate cell just to validate its size and
// has no need to pull each one's ~25MB band into memory to do so.
func peekTIFFDimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("raster: opening %s: %w", path, err)
	}
	defer f.Close()

	ifd, _, err := parseIFD(f)
	if err != nil {
		return 0, 0, fmt.Errorf("raster: parsing %s: %w", path, err)
	}
	return int(ifd.width), int(ifd.height), nil
}

func openGeoTIFF(path string) (*geoTIFFReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: opening %s: %w", path, err)
	}
	defer f.Close()

	ifd, bo, err := parseIFD(f)
	if err != nil {
		return nil, fmt.Errorf("raster: parsing %s: %w", path, err)
	}

	data, blockW, blockH, err := decodeBand(f, bo, ifd)
	if err != nil {
		return nil, fmt.Errorf("raster: decoding %s: %w", path, err)
	}

	return &geoTIFFReader{
		width:  int(ifd.width),
		height: int(ifd.height),
		blockW: blockW,
		blockH: blockH,
		data:   data,
		path:   path,
	}, nil
}

func (r *geoTIFFReader) Dimensions() (width, height, bands int) {
	return r.width, r.height, 1
}

func (r *geoTIFFReader) NativeBlockSize(band int) (bx, by int) {
	return r.blockW, r.blockH
}

func (r *geoTIFFReader) ReadWindow(band, x, y, w, h int, buf []int16) error {
	if len(buf) != w*h {
		return fmt.Errorf("raster: ReadWindow buffer size %d, want %d", len(buf), w*h)
	}
	for row := 0; row < h; row++ {
		sy := y + row
		if sy < 0 || sy >= r.height {
			continue // leaves the row as zero; caller windows are expected in-bounds
		}
		for col := 0; col < w; col++ {
			sx := x + col
			if sx < 0 || sx >= r.width {
				continue
			}
			buf[row*w+col] = r.data[sy*r.width+sx]
		}
	}
	return nil
}

// ReadReduced performs an area-average box-filter downsample of the whole
// band to destW×destH, adapted from the teacher's gray-path box filter in
// internal/tile/downsample.go (downsampleQuadrantGrayBilinear), generalized
// from a fixed 2× reduction to an arbitrary ratio — this is the codec-side
// "area-average downsampling" spec.md §4.7/§9 call for.
func (r *geoTIFFReader) ReadReduced(band, destW, destH int, buf []int16) error {
	if len(buf) != destW*destH {
		return fmt.Errorf("raster: ReadReduced buffer size %d, want %d", len(buf), destW*destH)
	}
	return areaAverageDownsample(r.data, r.width, r.height, buf, destW, destH)
}

func (r *geoTIFFReader) WriteWindow(band, x, y, w, h int, buf []int16) error {
	return fmt.Errorf("raster: %s is read-only", r.path)
}

func (r *geoTIFFReader) SetGeoTransform(gt GeoTransform) {}
func (r *geoTIFFReader) SetProjection(wkt string)        {}

func (r *geoTIFFReader) Close() error {
	r.data = nil
	return nil
}

// areaAverageDownsample reduces src (srcW×srcH) to dst (dstW×dstH) by
// averaging the source pixels that fall within each destination cell's
// footprint, matching GDAL-style overview resampling for the codec's
// reduced-resolution reads (spec.md §4.7).
func areaAverageDownsample(src []int16, srcW, srcH int, dst []int16, dstW, dstH int) error {
	if dstW <= 0 || dstH <= 0 {
		return fmt.Errorf("raster: invalid destination size %dx%d", dstW, dstH)
	}
	xRatio := float64(srcW) / float64(dstW)
	yRatio := float64(srcH) / float64(dstH)

	for dy := 0; dy < dstH; dy++ {
		sy0 := int(float64(dy) * yRatio)
		sy1 := int(float64(dy+1) * yRatio)
		if sy1 <= sy0 {
			sy1 = sy0 + 1
		}
		if sy1 > srcH {
			sy1 = srcH
		}
		for dx := 0; dx < dstW; dx++ {
			sx0 := int(float64(dx) * xRatio)
			sx1 := int(float64(dx+1) * xRatio)
			if sx1 <= sx0 {
				sx1 = sx0 + 1
			}
			if sx1 > srcW {
				sx1 = srcW
			}

			var sum int64
			var count int64
			for sy := sy0; sy < sy1; sy++ {
				rowOff := sy * srcW
				for sx := sx0; sx < sx1; sx++ {
					sum += int64(src[rowOff+sx])
					count++
				}
			}
			var avg int16
			if count > 0 {
				avg = int16(sum / count)
			}
			dst[dy*dstW+dx] = avg
		}
	}
	return nil
}

// --- Int16 GeoTIFF write handle ---------------------------------------

// tiffWriteHandle buffers a single full-image window until Close, when the
// whole raster is encoded in one pass. This matches the only way the tile
// builders ever call WriteWindow — once, for the entire W×H extent — per
// spec.md §4.6/§4.7's "allocate, fill, encode" flow.
type tiffWriteHandle struct {
	path          string
	width, height int
	data          []int16
	gt            GeoTransform
	hasGT         bool
	projection    string
}

func newTIFFWriteHandle(path string, w, h int) *tiffWriteHandle {
	return &tiffWriteHandle{
		path:   path,
		width:  w,
		height: h,
		data:   make([]int16, w*h),
	}
}

func (w *tiffWriteHandle) Dimensions() (width, height, bands int) {
	return w.width, w.height, 1
}

func (w *tiffWriteHandle) NativeBlockSize(band int) (bx, by int) {
	return w.width, w.height
}

func (w *tiffWriteHandle) ReadWindow(band, x, y, ww, hh int, buf []int16) error {
	return fmt.Errorf("raster: %s is write-only", w.path)
}

func (w *tiffWriteHandle) ReadReduced(band, destW, destH int, buf []int16) error {
	return fmt.Errorf("raster: %s is write-only", w.path)
}

func (w *tiffWriteHandle) WriteWindow(band, x, y, ww, hh int, buf []int16) error {
	if len(buf) != ww*hh {
		return fmt.Errorf("raster: WriteWindow buffer size %d, want %d", len(buf), ww*hh)
	}
	for row := 0; row < hh; row++ {
		dy := y + row
		if dy < 0 || dy >= w.height {
			continue
		}
		copy(w.data[dy*w.width+x:dy*w.width+x+ww], buf[row*ww:(row+1)*ww])
	}
	return nil
}

func (w *tiffWriteHandle) SetGeoTransform(gt GeoTransform) {
	w.gt = gt
	w.hasGT = true
}

func (w *tiffWriteHandle) SetProjection(wkt string) {
	w.projection = wkt
}

func (w *tiffWriteHandle) Close() error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("raster: creating %s: %w", w.path, err)
	}
	defer f.Close()
	return encodeInt16TIFF(f, w.width, w.height, w.data, w.gt, w.hasGT, w.projection)
}

// --- minimal TIFF parsing ------------------------------------------------

type parsedIFD struct {
	width, height            uint32
	bitsPerSample            uint16
	compression              uint16
	sampleFormat             uint16
	samplesPerPixel          uint16
	rowsPerStrip             uint32
	stripOffsets             []uint32
	stripByteCounts          []uint32
	tileWidth, tileHeight    uint32
	tileOffsets              []uint32
	tileByteCounts           []uint32
}

func parseIFD(r io.ReadSeeker) (*parsedIFD, binary.ByteOrder, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("not a TIFF file (bad byte order marker)")
	}
	if bo.Uint16(header[2:4]) != 42 {
		return nil, nil, fmt.Errorf("not a TIFF file (bad magic)")
	}
	ifdOffset := bo.Uint32(header[4:8])

	if _, err := r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return nil, nil, err
	}
	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, nil, err
	}
	numEntries := bo.Uint16(countBuf[:])

	ifd := &parsedIFD{samplesPerPixel: 1, sampleFormat: 1, compression: 1}
	for i := uint16(0); i < numEntries; i++ {
		var entry [12]byte
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return nil, nil, err
		}
		tag := bo.Uint16(entry[0:2])
		dtype := bo.Uint16(entry[2:4])
		count := bo.Uint32(entry[4:8])
		valueField := [4]byte(entry[8:12])

		switch tag {
		case tagImageWidth:
			ifd.width = readScalarU32(valueField, bo, dtype)
		case tagImageLength:
			ifd.height = readScalarU32(valueField, bo, dtype)
		case tagBitsPerSample:
			ifd.bitsPerSample = uint16(readScalarU32(valueField, bo, dtype))
		case tagCompression:
			ifd.compression = uint16(readScalarU32(valueField, bo, dtype))
		case tagSamplesPerPixel:
			ifd.samplesPerPixel = uint16(readScalarU32(valueField, bo, dtype))
		case tagSampleFormat:
			ifd.sampleFormat = uint16(readScalarU32(valueField, bo, dtype))
		case tagRowsPerStrip:
			ifd.rowsPerStrip = readScalarU32(valueField, bo, dtype)
		case tagStripOffsets:
			vals, err := readArrayU32(r, bo, dtype, count, valueField)
			if err != nil {
				return nil, nil, err
			}
			ifd.stripOffsets = vals
		case tagStripByteCounts:
			vals, err := readArrayU32(r, bo, dtype, count, valueField)
			if err != nil {
				return nil, nil, err
			}
			ifd.stripByteCounts = vals
		case tagTileWidth:
			ifd.tileWidth = readScalarU32(valueField, bo, dtype)
		case tagTileLength:
			ifd.tileHeight = readScalarU32(valueField, bo, dtype)
		case tagTileOffsets:
			vals, err := readArrayU32(r, bo, dtype, count, valueField)
			if err != nil {
				return nil, nil, err
			}
			ifd.tileOffsets = vals
		case tagTileByteCounts:
			vals, err := readArrayU32(r, bo, dtype, count, valueField)
			if err != nil {
				return nil, nil, err
			}
			ifd.tileByteCounts = vals
		}
	}

	if ifd.width == 0 || ifd.height == 0 {
		return nil, nil, fmt.Errorf("missing ImageWidth/ImageLength tags")
	}
	return ifd, bo, nil
}

func readScalarU32(value [4]byte, bo binary.ByteOrder, dtype uint16) uint32 {
	switch dtype {
	case dtShort:
		return uint32(bo.Uint16(value[0:2]))
	default:
		return bo.Uint32(value[:])
	}
}

func dataTypeSize(dtype uint16) int {
	switch dtype {
	case dtByte, dtASCII:
		return 1
	case dtShort:
		return 2
	case dtLong:
		return 4
	case dtRational:
		return 8
	default:
		return 4
	}
}

// readArrayU32 resolves a TIFF entry's array of unsigned values, following
// the offset if the array doesn't fit inline in the 4-byte value field.
func readArrayU32(r io.ReadSeeker, bo binary.ByteOrder, dtype uint16, count uint32, inline [4]byte) ([]uint32, error) {
	elemSize := dataTypeSize(dtype)
	totalSize := int(count) * elemSize

	var raw []byte
	if totalSize <= 4 {
		raw = inline[:totalSize]
	} else {
		offset := bo.Uint32(inline[:])
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
			return nil, err
		}
		raw = make([]byte, totalSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
	}

	vals := make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		off := int(i) * elemSize
		switch dtype {
		case dtShort:
			vals[i] = uint32(bo.Uint16(raw[off : off+2]))
		case dtLong:
			vals[i] = bo.Uint32(raw[off : off+4])
		default:
			vals[i] = bo.Uint32(raw[off : off+4])
		}
	}
	return vals, nil
}

// decodeBand decodes the single band's samples into an []int16, and
// reports the codec's native block size (strip width×rowsPerStrip, or
// tile width×height) — the value spec.md §4.5's "fatal if < 226×226"
// check consults.
func decodeBand(r io.ReadSeeker, bo binary.ByteOrder, ifd *parsedIFD) ([]int16, int, int, error) {
	if ifd.compression != 1 {
		return nil, 0, 0, fmt.Errorf("unsupported compression %d (only uncompressed rasters are supported)", ifd.compression)
	}

	w, h := int(ifd.width), int(ifd.height)
	data := make([]int16, w*h)

	readSample := func(raw []byte, i int) int16 {
		if ifd.sampleFormat == sampleFormatInt {
			return int16(bo.Uint16(raw[i*2 : i*2+2]))
		}
		return int16(uint16(bo.Uint16(raw[i*2 : i*2+2])))
	}

	if len(ifd.tileOffsets) > 0 {
		tw, th := int(ifd.tileWidth), int(ifd.tileHeight)
		if tw == 0 || th == 0 {
			return nil, 0, 0, fmt.Errorf("tiled TIFF missing tile dimensions")
		}
		tilesAcross := (w + tw - 1) / tw
		tilesDown := (h + th - 1) / th
		for ty := 0; ty < tilesDown; ty++ {
			for tx := 0; tx < tilesAcross; tx++ {
				idx := ty*tilesAcross + tx
				if idx >= len(ifd.tileOffsets) {
					continue
				}
				raw := make([]byte, ifd.tileByteCounts[idx])
				if _, err := r.Seek(int64(ifd.tileOffsets[idx]), io.SeekStart); err != nil {
					return nil, 0, 0, err
				}
				if _, err := io.ReadFull(r, raw); err != nil {
					return nil, 0, 0, err
				}
				for row := 0; row < th; row++ {
					dy := ty*th + row
					if dy >= h {
						break
					}
					for col := 0; col < tw; col++ {
						dx := tx*tw + col
						if dx >= w {
							continue
						}
						data[dy*w+dx] = readSample(raw, row*tw+col)
					}
				}
			}
		}
		return data, tw, th, nil
	}

	// Strip layout.
	rowsPerStrip := int(ifd.rowsPerStrip)
	if rowsPerStrip == 0 {
		rowsPerStrip = h
	}
	for i, offset := range ifd.stripOffsets {
		if i >= len(ifd.stripByteCounts) {
			break
		}
		raw := make([]byte, ifd.stripByteCounts[i])
		if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
			return nil, 0, 0, err
		}
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, 0, 0, err
		}
		startRow := i * rowsPerStrip
		numRows := len(raw) / 2 / w
		for row := 0; row < numRows; row++ {
			dy := startRow + row
			if dy >= h {
				break
			}
			for col := 0; col < w; col++ {
				data[dy*w+col] = readSample(raw, row*w+col)
			}
		}
	}
	return data, w, rowsPerStrip, nil
}

// encodeInt16TIFF writes a single-band, single-strip, uncompressed Int16
// GeoTIFF, with optional GeoTIFF georeferencing tags. Tag layout follows
// the classic (non-Big) TIFF 6.0 structure used throughout the TIFF tag
// table adapted from the teacher's internal/cog/ifd.go.
func encodeInt16TIFF(w io.Writer, width, height int, data []int16, gt GeoTransform, hasGT bool, projection string) error {
	bo := binary.LittleEndian
	bw := newByteWriter(bo)

	bw.writeHeader()

	type entry struct {
		tag, dtype uint16
		count      uint32
		value      []byte // always 4 bytes, inline or an offset placeholder
	}

	pixelData := make([]byte, len(data)*2)
	for i, v := range data {
		bo.PutUint16(pixelData[i*2:i*2+2], uint16(v))
	}

	var entries []entry
	inline4 := func(v uint32) []byte {
		b := make([]byte, 4)
		bo.PutUint32(b, v)
		return b
	}
	inlineShort := func(v uint16) []byte {
		b := make([]byte, 4)
		bo.PutUint16(b, v)
		return b
	}

	entries = append(entries,
		entry{tagImageWidth, dtLong, 1, inline4(uint32(width))},
		entry{tagImageLength, dtLong, 1, inline4(uint32(height))},
		entry{tagBitsPerSample, dtShort, 1, inlineShort(16)},
		entry{tagCompression, dtShort, 1, inlineShort(1)},
		entry{tagPhotometric, dtShort, 1, inlineShort(1)}, // BlackIsZero
		entry{tagSamplesPerPixel, dtShort, 1, inlineShort(1)},
		entry{tagRowsPerStrip, dtLong, 1, inline4(uint32(height))},
		entry{tagStripByteCounts, dtLong, 1, inline4(uint32(len(pixelData)))},
		entry{tagSampleFormat, dtShort, 1, inlineShort(sampleFormatInt)},
	)

	var geoDoubles []byte
	if hasGT {
		scale := make([]byte, 24)
		bo.PutUint64(scale[0:8], doubleBits(gt[1]))
		bo.PutUint64(scale[8:16], doubleBits(-gt[5]))
		bo.PutUint64(scale[16:24], doubleBits(0))
		geoDoubles = append(geoDoubles, scale...)

		tie := make([]byte, 48)
		bo.PutUint64(tie[24:32], doubleBits(gt[0]))
		bo.PutUint64(tie[32:40], doubleBits(gt[3]))
		geoDoubles = append(geoDoubles, tie...)

		entries = append(entries,
			entry{tagModelPixelScaleTag, dtDouble, 3, inline4(0)},
			entry{tagModelTiepointTag, dtDouble, 6, inline4(0)},
		)
	}

	var geoAscii []byte
	if projection != "" {
		geoAscii = append([]byte(projection), '|')
		entries = append(entries, entry{tagGeoAsciiParamsTag, dtASCII, uint32(len(geoAscii)), inline4(0)})
	}

	// Compute file layout: header(8) | pixel data | extra arrays | IFD.
	pixelOffset := uint32(8)
	cursor := pixelOffset + uint32(len(pixelData))

	geoDoublesOffset := cursor
	cursor += uint32(len(geoDoubles))

	geoAsciiOffset := cursor
	cursor += uint32(len(geoAscii))

	// Patch offsets now that layout is known.
	entries = append([]entry{{tagStripOffsets, dtLong, 1, inline4(pixelOffset)}}, entries...)
	if hasGT {
		for i := range entries {
			if entries[i].tag == tagModelPixelScaleTag {
				entries[i].value = inline4(geoDoublesOffset)
			}
			if entries[i].tag == tagModelTiepointTag {
				entries[i].value = inline4(geoDoublesOffset + 24)
			}
		}
	}
	if projection != "" {
		for i := range entries {
			if entries[i].tag == tagGeoAsciiParamsTag {
				entries[i].value = inline4(geoAsciiOffset)
			}
		}
	}

	ifdOffset := cursor

	// Sort entries by tag, required by the TIFF spec.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].tag < entries[j-1].tag; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	// Patch the header's IFD offset now that we know it.
	bw.patchIFDOffset(ifdOffset)

	if err := bw.flushTo(w); err != nil {
		return err
	}
	if _, err := w.Write(pixelData); err != nil {
		return err
	}
	if _, err := w.Write(geoDoubles); err != nil {
		return err
	}
	if _, err := w.Write(geoAscii); err != nil {
		return err
	}

	ifdBuf := newByteWriter(bo)
	ifdBuf.writeUint16(uint16(len(entries)))
	for _, e := range entries {
		ifdBuf.writeUint16(e.tag)
		ifdBuf.writeUint16(e.dtype)
		ifdBuf.writeUint32(e.count)
		ifdBuf.writeRaw(e.value)
	}
	ifdBuf.writeUint32(0) // next IFD offset: none
	return ifdBuf.flushTo(w)
}

func doubleBits(f float64) uint64 {
	return math.Float64bits(f)
}

// byteWriter is a tiny helper for building the fixed TIFF header and IFD
// buffers without pulling in bytes.Buffer everywhere.
type byteWriter struct {
	bo  binary.ByteOrder
	buf []byte
}

func newByteWriter(bo binary.ByteOrder) *byteWriter {
	return &byteWriter{bo: bo}
}

func (b *byteWriter) writeHeader() {
	b.buf = append(b.buf, 'I', 'I')
	tmp := make([]byte, 2)
	b.bo.PutUint16(tmp, 42)
	b.buf = append(b.buf, tmp...)
	b.buf = append(b.buf, 0, 0, 0, 0) // placeholder for first IFD offset
}

func (b *byteWriter) patchIFDOffset(offset uint32) {
	tmp := make([]byte, 4)
	b.bo.PutUint32(tmp, offset)
	copy(b.buf[4:8], tmp)
}

func (b *byteWriter) writeUint16(v uint16) {
	tmp := make([]byte, 2)
	b.bo.PutUint16(tmp, v)
	b.buf = append(b.buf, tmp...)
}

func (b *byteWriter) writeUint32(v uint32) {
	tmp := make([]byte, 4)
	b.bo.PutUint32(tmp, v)
	b.buf = append(b.buf, tmp...)
}

func (b *byteWriter) writeRaw(raw []byte) {
	b.buf = append(b.buf, raw...)
}

func (b *byteWriter) flushTo(w io.Writer) error {
	_, err := w.Write(b.buf)
	return err
}
