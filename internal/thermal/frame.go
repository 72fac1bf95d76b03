package thermal

import (
	"encoding/binary"
	"fmt"
)

// Native geometry of the gantry FLIR sensor.
const (
	DefaultHeight   = 480
	DefaultWidth    = 640
	DefaultRotation = 270
)

// FrameGeometry describes how a raw buffer is laid out and how it must be
// rotated to match the field orientation.
type FrameGeometry struct {
	Height   int // rows as written by the sensor
	Width    int // columns as written by the sensor
	Rotation int // counter-clockwise degrees, multiple of 90
}

// DefaultGeometry returns the gantry FLIR geometry.
func DefaultGeometry() FrameGeometry {
	return FrameGeometry{Height: DefaultHeight, Width: DefaultWidth, Rotation: DefaultRotation}
}

// ByteLen is the exact buffer size a frame of this geometry occupies.
func (g FrameGeometry) ByteLen() int {
	return g.Height * g.Width * 2
}

func (g FrameGeometry) validate() error {
	if g.Height <= 0 || g.Width <= 0 {
		return &InvalidGeometryError{Reason: fmt.Sprintf("non-positive dimensions %dx%d", g.Height, g.Width)}
	}
	if g.Rotation%90 != 0 {
		return &InvalidGeometryError{Reason: fmt.Sprintf("rotation %d is not a multiple of 90", g.Rotation)}
	}
	return nil
}

// Raster is a read-only row-major grid of float64 values.
type Raster interface {
	Dims() (rows, cols int)
	Values() []float64
}

// RawFrame holds rotated sensor counts widened to float64.
type RawFrame struct {
	Height int
	Width  int
	Counts []float64
}

func (f *RawFrame) Dims() (int, int) { return f.Height, f.Width }

// Values returns the backing slice. Callers must not modify it.
func (f *RawFrame) Values() []float64 { return f.Counts }

// At returns the count at row r, column c.
func (f *RawFrame) At(r, c int) float64 {
	return f.Counts[r*f.Width+c]
}

// LoadRawFrame decodes a little-endian uint16 buffer at the given geometry,
// widens it to float64 and applies the mounting rotation.
func LoadRawFrame(buf []byte, geom FrameGeometry) (*RawFrame, error) {
	if err := geom.validate(); err != nil {
		return nil, err
	}
	if len(buf)%2 != 0 {
		return nil, &FormatError{Got: len(buf)}
	}
	if len(buf) != geom.ByteLen() {
		return nil, &FormatError{Got: len(buf), Want: geom.ByteLen()}
	}

	counts := make([]float64, geom.Height*geom.Width)
	for i := range counts {
		counts[i] = float64(binary.LittleEndian.Uint16(buf[i*2:]))
	}

	rotated, rows, cols := Rotate(counts, geom.Height, geom.Width, geom.Rotation)
	return &RawFrame{Height: rows, Width: cols, Counts: rotated}, nil
}

// Rotate turns a rows×cols row-major grid counter-clockwise by degrees, the
// same convention as numpy.rot90 with k = degrees/90. It returns a new slice
// and the rotated dimensions; src is never modified. degrees must be a
// multiple of 90 and may be negative.
func Rotate(src []float64, rows, cols, degrees int) ([]float64, int, int) {
	k := ((degrees/90)%4 + 4) % 4
	dst := make([]float64, len(src))

	switch k {
	case 0:
		copy(dst, src)
		return dst, rows, cols
	case 1:
		// out[i][j] = in[j][cols-1-i], out is cols×rows
		for i := 0; i < cols; i++ {
			for j := 0; j < rows; j++ {
				dst[i*rows+j] = src[j*cols+cols-1-i]
			}
		}
		return dst, cols, rows
	case 2:
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[i*cols+j] = src[(rows-1-i)*cols+cols-1-j]
			}
		}
		return dst, rows, cols
	default:
		// out[i][j] = in[rows-1-j][i], out is cols×rows
		for i := 0; i < cols; i++ {
			for j := 0; j < rows; j++ {
				dst[i*rows+j] = src[(rows-1-j)*cols+i]
			}
		}
		return dst, cols, rows
	}
}
