// Package raster encodes thermal grids as files: an 8-bit preview image for
// people and a georeferenced float32 GeoTIFF for analysis.
package raster

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
)

// ScaleMode selects how grid values are mapped onto 8-bit gray levels.
type ScaleMode int

const (
	// ScalePerFrame stretches the frame's own finite min..max to 0..255.
	ScalePerFrame ScaleMode = iota
	// ScaleFullRange maps a fixed range (default the sensor's 0..65535) to
	// 0..255 so previews from different frames are comparable.
	ScaleFullRange
)

// Format is a preview file format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
)

// ParseFormat accepts png, tif or tiff in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("unknown preview format %q", s)
	}
}

// Ext is the file extension including the dot.
func (f Format) Ext() string {
	if f == FormatTIFF {
		return ".tif"
	}
	return ".png"
}

const fullRangeMax = 65535

// PreviewOptions controls EncodePreview.
type PreviewOptions struct {
	Scale  ScaleMode
	Format Format
	// Range used by ScaleFullRange. Both zero means 0..65535.
	RangeMin, RangeMax float64
}

// Validate rejects an explicit full-range window that is empty or inverted.
func (o PreviewOptions) Validate() error {
	if o.Scale != ScaleFullRange || (o.RangeMin == 0 && o.RangeMax == 0) {
		return nil
	}
	if math.IsNaN(o.RangeMin) || math.IsNaN(o.RangeMax) || o.RangeMin >= o.RangeMax {
		return fmt.Errorf("preview range [%g, %g] is empty or inverted", o.RangeMin, o.RangeMax)
	}
	return nil
}

// Gray maps src onto an 8-bit grayscale image. NaN pixels become 0. A frame
// with no spread under ScalePerFrame renders as all zeros.
func Gray(src thermal.Raster, opts PreviewOptions) *image.Gray {
	rows, cols := src.Dims()
	values := src.Values()
	img := image.NewGray(image.Rect(0, 0, cols, rows))

	lo, hi := scaleRange(values, opts)
	span := hi - lo
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := values[r*cols+c]
			var level uint8
			if span > 0 && !math.IsNaN(v) {
				level = toLevel((v - lo) / span)
			}
			img.Pix[r*img.Stride+c] = level
		}
	}
	return img
}

func scaleRange(values []float64, opts PreviewOptions) (float64, float64) {
	if opts.Scale == ScaleFullRange {
		if opts.RangeMin == 0 && opts.RangeMax == 0 {
			return 0, fullRangeMax
		}
		return opts.RangeMin, opts.RangeMax
	}

	finite := FiniteValues(values)
	if len(finite) == 0 {
		return 0, 0
	}
	return floats.Min(finite), floats.Max(finite)
}

func toLevel(frac float64) uint8 {
	switch {
	case frac <= 0:
		return 0
	case frac >= 1:
		return 255
	default:
		return uint8(math.Round(frac * 255))
	}
}

// FiniteValues returns the values that are neither NaN nor infinite.
func FiniteValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// EncodePreview writes src as a grayscale preview in opts.Format.
func EncodePreview(w io.Writer, src thermal.Raster, opts PreviewOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	img := Gray(src, opts)
	switch opts.Format {
	case "", FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("encode png preview: %w", err)
		}
	case FormatTIFF:
		if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return fmt.Errorf("encode tiff preview: %w", err)
		}
	default:
		return fmt.Errorf("unknown preview format %q", opts.Format)
	}
	return nil
}
