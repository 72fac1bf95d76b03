package raster

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/couchcryptid/flir-etl-service/internal/thermal"
)

// EPSGWGS84 is the only coordinate reference system written.
const EPSGWGS84 = 4326

// GeoBounds is the WGS-84 footprint of a frame.
type GeoBounds struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// ErrInvalidBounds is wrapped by every GeoBounds.Validate failure.
var ErrInvalidBounds = errors.New("invalid geo bounds")

// Validate rejects empty, inverted or non-finite bounds.
func (b GeoBounds) Validate() error {
	for _, v := range []float64{b.LatMin, b.LatMax, b.LonMin, b.LonMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBounds)
		}
	}
	if b.LatMin >= b.LatMax || b.LonMin >= b.LonMax {
		return fmt.Errorf("%w: empty or inverted box %+v", ErrInvalidBounds, b)
	}
	if b.LatMin < -90 || b.LatMax > 90 || b.LonMin < -180 || b.LonMax > 180 {
		return fmt.Errorf("%w: box %+v outside WGS-84", ErrInvalidBounds, b)
	}
	return nil
}

// Center returns the midpoint of the box.
func (b GeoBounds) Center() (lat, lon float64) {
	return (b.LatMin + b.LatMax) / 2, (b.LonMin + b.LonMax) / 2
}

// GeoTransform returns the GDAL-style affine for a width×height raster laid
// over the box with north up: [originLon, pixelWidth, 0, originLat, 0, -pixelHeight].
func (b GeoBounds) GeoTransform(width, height int) [6]float64 {
	return [6]float64{
		b.LonMin, (b.LonMax - b.LonMin) / float64(width), 0,
		b.LatMax, 0, -(b.LatMax - b.LatMin) / float64(height),
	}
}

// TIFF tag ids.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
)

// TIFF field types.
const (
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// GeoKey ids and values.
const (
	keyGTModelType      = 1024
	keyGTRasterType     = 1025
	keyGeographicType   = 2048
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	sampleFormatFloat   = 3
)

type ifdEntry struct {
	tag    uint16
	typ    uint16
	count  uint32
	inline uint32 // value when it fits in four bytes
	data   []byte // out-of-line payload otherwise
}

// WriteGeoTIFF writes grid as a single-band float32 GeoTIFF in EPSG:4326
// covering bounds. NaN pixels are written as NaN.
func WriteGeoTIFF(w io.Writer, grid thermal.Raster, bounds GeoBounds) error {
	rows, cols := grid.Dims()
	values := grid.Values()
	if rows <= 0 || cols <= 0 || len(values) != rows*cols {
		return &thermal.InvalidGeometryError{Reason: fmt.Sprintf("%d values for %dx%d raster", len(values), rows, cols)}
	}
	if err := bounds.Validate(); err != nil {
		return err
	}

	le := binary.LittleEndian
	gt := bounds.GeoTransform(cols, rows)
	pixelScale := doubles(le, gt[1], -gt[5], 0)
	tiepoint := doubles(le, 0, 0, 0, gt[0], gt[3], 0)
	geoKeys := shorts(le,
		1, 1, 0, 3,
		keyGTModelType, 0, 1, modelTypeGeographic,
		keyGTRasterType, 0, 1, rasterPixelIsArea,
		keyGeographicType, 0, 1, EPSGWGS84,
	)
	stripBytes := uint32(rows * cols * 4)

	entries := []ifdEntry{
		{tag: tagImageWidth, typ: typeLong, count: 1, inline: uint32(cols)},
		{tag: tagImageLength, typ: typeLong, count: 1, inline: uint32(rows)},
		{tag: tagBitsPerSample, typ: typeShort, count: 1, inline: 32},
		{tag: tagCompression, typ: typeShort, count: 1, inline: 1},
		{tag: tagPhotometric, typ: typeShort, count: 1, inline: 1},
		{tag: tagStripOffsets, typ: typeLong, count: 1},
		{tag: tagSamplesPerPixel, typ: typeShort, count: 1, inline: 1},
		{tag: tagRowsPerStrip, typ: typeLong, count: 1, inline: uint32(rows)},
		{tag: tagStripByteCounts, typ: typeLong, count: 1, inline: stripBytes},
		{tag: tagPlanarConfig, typ: typeShort, count: 1, inline: 1},
		{tag: tagSampleFormat, typ: typeShort, count: 1, inline: sampleFormatFloat},
		{tag: tagModelPixelScale, typ: typeDouble, count: 3, data: pixelScale},
		{tag: tagModelTiepoint, typ: typeDouble, count: 6, data: tiepoint},
		{tag: tagGeoKeyDirectory, typ: typeShort, count: 16, data: geoKeys},
	}

	const headerLen = 8
	ifdLen := 2 + len(entries)*12 + 4
	next := uint32(headerLen + ifdLen)
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if e.data != nil {
			offsets[i] = next
			next += uint32(len(e.data))
		}
	}
	stripOffset := next

	bw := bufio.NewWriter(w)
	hdr := make([]byte, headerLen)
	copy(hdr, "II")
	le.PutUint16(hdr[2:], 42)
	le.PutUint32(hdr[4:], headerLen)
	// bufio keeps the first write error and returns it from Flush.
	_, _ = bw.Write(hdr)

	ifd := make([]byte, ifdLen)
	le.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		p := ifd[2+i*12:]
		le.PutUint16(p, e.tag)
		le.PutUint16(p[2:], e.typ)
		le.PutUint32(p[4:], e.count)
		switch {
		case e.tag == tagStripOffsets:
			le.PutUint32(p[8:], stripOffset)
		case e.data != nil:
			le.PutUint32(p[8:], offsets[i])
		case e.typ == typeShort:
			le.PutUint16(p[8:], uint16(e.inline))
		default:
			le.PutUint32(p[8:], e.inline)
		}
	}
	_, _ = bw.Write(ifd)

	for _, e := range entries {
		if e.data != nil {
			_, _ = bw.Write(e.data)
		}
	}

	px := make([]byte, 4)
	for _, v := range values {
		le.PutUint32(px, math.Float32bits(float32(v)))
		_, _ = bw.Write(px)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write geotiff: %w", err)
	}
	return nil
}

func doubles(bo binary.ByteOrder, vs ...float64) []byte {
	out := make([]byte, 8*len(vs))
	for i, v := range vs {
		bo.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func shorts(bo binary.ByteOrder, vs ...uint16) []byte {
	out := make([]byte, 2*len(vs))
	for i, v := range vs {
		bo.PutUint16(out[i*2:], v)
	}
	return out
}

// GeoRaster is a decoded single-band float32 GeoTIFF.
type GeoRaster struct {
	Width  int
	Height int
	Pixels []float32
	Bounds GeoBounds
	EPSG   int
}

// At returns the pixel at row r, column c.
func (g *GeoRaster) At(r, c int) float32 {
	return g.Pixels[r*g.Width+c]
}

// ReadGeoTIFF decodes a single-band, uncompressed float32 GeoTIFF in either
// byte order with any number of strips, recovering its bounds from the pixel
// scale and tiepoint tags.
func ReadGeoTIFF(r io.Reader) (*GeoRaster, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read geotiff: %w", err)
	}
	if len(buf) < 8 {
		return nil, errors.New("read geotiff: truncated header")
	}

	var bo binary.ByteOrder
	switch string(buf[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("read geotiff: bad byte order mark %q", buf[:2])
	}
	if bo.Uint16(buf[2:]) != 42 {
		return nil, errors.New("read geotiff: not a classic TIFF")
	}

	d := tiffDecoder{buf: buf, bo: bo}
	tags, err := d.readIFD(bo.Uint32(buf[4:]))
	if err != nil {
		return nil, err
	}

	width := int(tags.first(tagImageWidth))
	height := int(tags.first(tagImageLength))
	if width <= 0 || height <= 0 {
		return nil, errors.New("read geotiff: missing image dimensions")
	}
	if v := tags.first(tagBitsPerSample); v != 32 {
		return nil, fmt.Errorf("read geotiff: %d bits per sample, want 32", v)
	}
	if v, ok := tags[tagSampleFormat]; !ok || v.ints[0] != sampleFormatFloat {
		return nil, errors.New("read geotiff: sample format is not IEEE float")
	}
	if v, ok := tags[tagCompression]; ok && v.ints[0] != 1 {
		return nil, fmt.Errorf("read geotiff: unsupported compression %d", v.ints[0])
	}
	if v, ok := tags[tagSamplesPerPixel]; ok && v.ints[0] != 1 {
		return nil, fmt.Errorf("read geotiff: %d samples per pixel, want 1", v.ints[0])
	}

	offsets, counts := tags[tagStripOffsets], tags[tagStripByteCounts]
	if offsets == nil || counts == nil || len(offsets.ints) != len(counts.ints) {
		return nil, errors.New("read geotiff: missing or mismatched strip tags")
	}
	data := make([]byte, 0, width*height*4)
	for i, off := range offsets.ints {
		end := off + counts.ints[i]
		if end > uint64(len(buf)) {
			return nil, fmt.Errorf("read geotiff: strip %d runs past end of file", i)
		}
		data = append(data, buf[off:end]...)
	}
	if len(data) < width*height*4 {
		return nil, fmt.Errorf("read geotiff: %d bytes of pixel data, want %d", len(data), width*height*4)
	}

	out := &GeoRaster{Width: width, Height: height, Pixels: make([]float32, width*height)}
	for i := range out.Pixels {
		out.Pixels[i] = math.Float32frombits(bo.Uint32(data[i*4:]))
	}

	scale, tie := tags[tagModelPixelScale], tags[tagModelTiepoint]
	if scale == nil || tie == nil || len(scale.floats) < 2 || len(tie.floats) < 6 {
		return nil, errors.New("read geotiff: missing georeferencing tags")
	}
	sx, sy := scale.floats[0], scale.floats[1]
	lonMin := tie.floats[3] - tie.floats[0]*sx
	latMax := tie.floats[4] + tie.floats[1]*sy
	out.Bounds = GeoBounds{
		LatMin: latMax - float64(height)*sy,
		LatMax: latMax,
		LonMin: lonMin,
		LonMax: lonMin + float64(width)*sx,
	}
	if keys := tags[tagGeoKeyDirectory]; keys != nil {
		out.EPSG = geographicEPSG(keys.ints)
	}
	return out, nil
}

// geographicEPSG pulls GeographicTypeGeoKey out of a GeoKeyDirectory.
func geographicEPSG(dir []uint64) int {
	if len(dir) < 4 {
		return 0
	}
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		k := dir[4+i*4:]
		if k[0] == keyGeographicType && k[1] == 0 {
			return int(k[3])
		}
	}
	return 0
}

type tagValue struct {
	ints   []uint64
	floats []float64
}

type tagSet map[uint16]*tagValue

func (t tagSet) first(tag uint16) uint64 {
	if v, ok := t[tag]; ok && len(v.ints) > 0 {
		return v.ints[0]
	}
	return 0
}

type tiffDecoder struct {
	buf []byte
	bo  binary.ByteOrder
}

func (d tiffDecoder) readIFD(off uint32) (tagSet, error) {
	if uint64(off)+2 > uint64(len(d.buf)) {
		return nil, errors.New("read geotiff: IFD offset past end of file")
	}
	n := int(d.bo.Uint16(d.buf[off:]))
	if uint64(off)+2+uint64(n)*12 > uint64(len(d.buf)) {
		return nil, errors.New("read geotiff: truncated IFD")
	}

	tags := make(tagSet, n)
	for i := 0; i < n; i++ {
		e := d.buf[int(off)+2+i*12:]
		tag := d.bo.Uint16(e)
		typ := d.bo.Uint16(e[2:])
		count := d.bo.Uint32(e[4:])

		size := map[uint16]int{typeShort: 2, typeLong: 4, typeDouble: 8}[typ]
		if size == 0 {
			continue
		}
		if count == 0 {
			return nil, fmt.Errorf("read geotiff: tag %d has no values", tag)
		}
		total := uint64(size) * uint64(count)
		payload := e[8:12]
		if total > 4 {
			start := uint64(d.bo.Uint32(e[8:]))
			if start+total > uint64(len(d.buf)) {
				return nil, fmt.Errorf("read geotiff: tag %d payload past end of file", tag)
			}
			payload = d.buf[start : start+total]
		}

		v := &tagValue{}
		for j := 0; j < int(count); j++ {
			switch typ {
			case typeShort:
				v.ints = append(v.ints, uint64(d.bo.Uint16(payload[j*2:])))
			case typeLong:
				v.ints = append(v.ints, uint64(d.bo.Uint32(payload[j*4:])))
			case typeDouble:
				v.floats = append(v.floats, math.Float64frombits(d.bo.Uint64(payload[j*8:])))
			}
		}
		tags[tag] = v
	}
	return tags, nil
}
