// Command validate checks the outputs of a pipeline run against an
// independent re-derivation. For every dataset event in the fixture it
// reloads the raw frame and metadata, reruns the converter, and verifies the
// GeoTIFF and preview the service wrote: dimensions, float32 pixel values,
// bounds and CRS of the GeoTIFF, and decodability of the preview.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -events data/mock/dataset_events.json \
//	  -output-dir /data/Level_1/flir2tif
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/png"
	"math"
	"os"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	_ "golang.org/x/image/tiff"
)

// boundsTolerance is in degrees, about a millimetre on the ground.
const boundsTolerance = 1e-8

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// derived is what the converter produces for one dataset.
type derived struct {
	event  domain.DatasetEvent
	frame  *thermal.RawFrame
	grid   *thermal.TemperatureGrid
	bounds raster.GeoBounds
}

func main() {
	eventsPath := flag.String("events", "", "path to the dataset event fixture")
	outputDir := flag.String("output-dir", "", "OUTPUT_DIR the service wrote to")
	previewFormat := flag.String("preview-format", "png", "PREVIEW_FORMAT the service used")
	height := flag.Int("height", thermal.DefaultHeight, "raw frame rows")
	width := flag.Int("width", thermal.DefaultWidth, "raw frame columns")
	rotation := flag.Int("rotation", thermal.DefaultRotation, "load rotation, multiple of 90")
	flag.Parse()

	if *eventsPath == "" || *outputDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	format, err := raster.ParseFormat(*previewFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	geom := thermal.FrameGeometry{Height: *height, Width: *width, Rotation: *rotation}
	if code := run(*eventsPath, *outputDir, format, geom); code != 0 {
		os.Exit(code)
	}
}

func run(eventsPath, outputDir string, format raster.Format, geom thermal.FrameGeometry) int {
	fmt.Println("=== FLIR Output Integrity Validation ===")
	fmt.Println()

	events, err := loadJSON[domain.DatasetEvent](eventsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load events: %v\n", err)
		return 1
	}

	inputs := &phase{name: "Inputs re-derive"}
	var all []derived
	for _, ev := range events {
		d, err := derive(ev, geom)
		if err != nil {
			inputs.errorf("%s: %v", ev.Name, err)
			continue
		}
		all = append(all, d)
	}

	phases := []*phase{
		inputs,
		validateGeoTIFFs(all, outputDir, format),
		validatePreviews(all, outputDir, format),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Datasets: %d in fixture, %d re-derived\n", len(events), len(all))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i >= 20 {
				fmt.Printf("  ... and %d more\n", len(p.errors)-20)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	fmt.Println("\nAll checks passed.")
	return 0
}

func derive(ev domain.DatasetEvent, geom thermal.FrameGeometry) (derived, error) {
	files, reason := domain.CheckDataset(ev)
	if reason != "" {
		return derived{}, fmt.Errorf("dataset does not qualify: %s", reason)
	}
	md, err := domain.ResolveScanMetadata(files, os.ReadFile)
	if err != nil {
		return derived{}, err
	}
	params, err := md.Calibration()
	if err != nil {
		return derived{}, err
	}
	bounds, err := domain.CalculateGeoBounds(md, "", domain.DefaultFieldOrigin)
	if err != nil {
		return derived{}, err
	}
	buf, err := os.ReadFile(files.RawFrame)
	if err != nil {
		return derived{}, err
	}
	frame, err := thermal.LoadRawFrame(buf, geom)
	if err != nil {
		return derived{}, err
	}
	grid, err := thermal.ConvertToTemperature(frame, params)
	if err != nil {
		return derived{}, err
	}
	return derived{event: ev, frame: frame, grid: grid, bounds: bounds}, nil
}

func validateGeoTIFFs(all []derived, outputDir string, format raster.Format) *phase {
	p := &phase{name: "GeoTIFF values, bounds and CRS"}
	for _, d := range all {
		_, path := domain.OutputPaths(outputDir, d.event.Name, format.Ext())
		f, err := os.Open(path)
		if err != nil {
			p.errorf("%s: %v", d.event.Name, err)
			continue
		}
		gr, err := raster.ReadGeoTIFF(f)
		_ = f.Close()
		if err != nil {
			p.errorf("%s: %v", d.event.Name, err)
			continue
		}
		compareGeoRaster(p, d, gr)
	}
	return p
}

func compareGeoRaster(p *phase, d derived, gr *raster.GeoRaster) {
	name := d.event.Name
	if gr.Width != d.grid.Width || gr.Height != d.grid.Height {
		p.errorf("%s: size %dx%d, want %dx%d", name, gr.Width, gr.Height, d.grid.Width, d.grid.Height)
		return
	}
	if gr.EPSG != raster.EPSGWGS84 {
		p.errorf("%s: EPSG %d, want %d", name, gr.EPSG, raster.EPSGWGS84)
	}
	if !boundsEq(gr.Bounds, d.bounds) {
		p.errorf("%s: bounds %+v, want %+v", name, gr.Bounds, d.bounds)
	}

	var mismatches int
	for r := 0; r < d.grid.Height; r++ {
		for c := 0; c < d.grid.Width; c++ {
			want := float32(d.grid.At(r, c))
			got := gr.At(r, c)
			if !float32Eq(got, want) {
				if mismatches == 0 {
					p.errorf("%s: pixel (%d,%d) = %g, want %g", name, r, c, got, want)
				}
				mismatches++
			}
		}
	}
	if mismatches > 1 {
		p.errorf("%s: %d pixels differ in total", name, mismatches)
	}
}

func validatePreviews(all []derived, outputDir string, format raster.Format) *phase {
	p := &phase{name: "Preview decodes at frame size"}
	for _, d := range all {
		path, _ := domain.OutputPaths(outputDir, d.event.Name, format.Ext())
		f, err := os.Open(path)
		if err != nil {
			p.errorf("%s: %v", d.event.Name, err)
			continue
		}
		img, kind, err := image.Decode(f)
		_ = f.Close()
		if err != nil {
			p.errorf("%s: decode preview: %v", d.event.Name, err)
			continue
		}
		rows, cols := d.frame.Dims()
		b := img.Bounds()
		if b.Dx() != cols || b.Dy() != rows {
			p.errorf("%s: %s preview is %dx%d, want %dx%d", d.event.Name, kind, b.Dx(), b.Dy(), cols, rows)
		}
	}
	return p
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func boundsEq(a, b raster.GeoBounds) bool {
	return math.Abs(a.LatMin-b.LatMin) <= boundsTolerance &&
		math.Abs(a.LatMax-b.LatMax) <= boundsTolerance &&
		math.Abs(a.LonMin-b.LonMin) <= boundsTolerance &&
		math.Abs(a.LonMax-b.LonMax) <= boundsTolerance
}

// float32Eq treats two NaNs as equal, since NaN marks pixels outside the
// calibration domain in both rasters.
func float32Eq(a, b float32) bool {
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	if aNaN || bNaN {
		return aNaN && bNaN
	}
	return a == b
}
