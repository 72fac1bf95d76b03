// Command flir2tif converts a single FLIR capture without Kafka: it reads a
// raw _ir.bin frame and its TERRA-REF metadata and writes the preview image
// and the float32 temperature GeoTIFF.
//
// Usage:
//
//	go run ./cmd/flir2tif \
//	  -frame data/scan_ir.bin \
//	  -metadata data/scan_metadata.json \
//	  -out out/
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	framePath := flag.String("frame", "", "raw _ir.bin frame")
	metadataPath := flag.String("metadata", "", "TERRA-REF _metadata.json for the frame")
	outDir := flag.String("out", ".", "output directory")
	format := flag.String("format", "png", "preview format: png or tif")
	scale := flag.Bool("scale", true, "stretch the preview to the frame's own range")
	height := flag.Int("height", thermal.DefaultHeight, "raw frame rows")
	width := flag.Int("width", thermal.DefaultWidth, "raw frame columns")
	rotation := flag.Int("rotation", thermal.DefaultRotation, "counter-clockwise rotation applied at load, multiple of 90")
	sensor := flag.String("sensor", "", "camera id for the footprint, overriding the metadata's")
	flag.Parse()

	if *framePath == "" || *metadataPath == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -frame, -metadata")
	}

	previewFormat, err := raster.ParseFormat(*format)
	if err != nil {
		return err
	}
	opts := raster.PreviewOptions{Scale: raster.ScaleFullRange, Format: previewFormat}
	if *scale {
		opts.Scale = raster.ScalePerFrame
	}

	mdBytes, err := os.ReadFile(*metadataPath)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	md, err := domain.ParseScanMetadata(mdBytes)
	if err != nil {
		return err
	}
	params, err := md.Calibration()
	if err != nil {
		return err
	}
	bounds, err := domain.CalculateGeoBounds(md, *sensor, domain.DefaultFieldOrigin)
	if err != nil {
		return err
	}

	buf, err := os.ReadFile(*framePath)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	frame, err := thermal.LoadRawFrame(buf, thermal.FrameGeometry{Height: *height, Width: *width, Rotation: *rotation})
	if err != nil {
		return err
	}
	grid, err := thermal.ConvertToTemperature(frame, params)
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(filepath.Base(*framePath), domain.RawFrameSuffix)
	previewPath := filepath.Join(*outDir, base+previewFormat.Ext())
	geotiffPath := filepath.Join(*outDir, base+".tif")
	if previewPath == geotiffPath {
		previewPath = filepath.Join(*outDir, base+"_preview.tif")
	}

	n, err := raster.WriteFileAtomic(previewPath, func(w io.Writer) error {
		return raster.EncodePreview(w, frame, opts)
	})
	if err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	log.Printf("wrote %s (%d bytes)", previewPath, n)

	n, err = raster.WriteFileAtomic(geotiffPath, func(w io.Writer) error {
		return raster.WriteGeoTIFF(w, grid, bounds)
	})
	if err != nil {
		return fmt.Errorf("write geotiff: %w", err)
	}
	log.Printf("wrote %s (%d bytes)", geotiffPath, n)

	if s := domain.SummarizeTemperature(grid); s != nil {
		log.Printf("temperature: min %.2f C, max %.2f C, mean %.2f C (%d/%d pixels valid)",
			s.MinC, s.MaxC, s.MeanC, s.ValidPixels, s.TotalPixels)
	}
	log.Printf("bounds: lat %.6f..%.6f lon %.6f..%.6f", bounds.LatMin, bounds.LatMax, bounds.LonMin, bounds.LonMax)
	return nil
}
