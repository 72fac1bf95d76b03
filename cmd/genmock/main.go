// Command genmock writes synthetic FLIR datasets for local runs and tests:
// for each scan a raw _ir.bin frame, its TERRA-REF _metadata.json, and one
// dataset event in a combined JSON fixture that can be replayed onto the
// source topic. It runs the real converter over every frame so the printed
// stats match what the pipeline will produce.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock \
//	  -events data/mock/dataset_events.json \
//	  -count 5
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var baseDate = time.Date(2016, time.August, 17, 12, 15, 38, 0, time.UTC)

// scanInterval is the gantry time between consecutive synthetic captures.
const scanInterval = 7 * time.Second

// Gantry step between consecutive captures along x, in meters.
const stepX = 0.5

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "", "directory for generated datasets")
	eventsOut := flag.String("events", "", "output path for the dataset event fixture")
	count := flag.Int("count", 3, "number of datasets")
	height := flag.Int("height", thermal.DefaultHeight, "raw frame rows")
	width := flag.Int("width", thermal.DefaultWidth, "raw frame columns")
	flag.Parse()

	if *outDir == "" || *eventsOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -events")
	}
	if *count <= 0 {
		return fmt.Errorf("-count must be positive")
	}

	geom := thermal.FrameGeometry{Height: *height, Width: *width, Rotation: thermal.DefaultRotation}

	// A fake clock keeps scan times and dataset names reproducible.
	clock := clockwork.NewFakeClockAt(baseDate)

	events := make([]domain.DatasetEvent, 0, *count)
	var summaries []*domain.TemperatureSummary
	for i := 0; i < *count; i++ {
		scanTime := clock.Now()
		ev, summary, err := writeDataset(*outDir, geom, scanTime, float64(i)*stepX)
		if err != nil {
			return fmt.Errorf("dataset %d: %w", i, err)
		}
		events = append(events, ev)
		summaries = append(summaries, summary)
		log.Printf("%s: %d files", ev.Name, len(ev.Files))
		clock.Advance(scanInterval)
	}

	if err := writeJSON(*eventsOut, events); err != nil {
		return fmt.Errorf("writing event fixture: %w", err)
	}
	log.Printf("wrote event fixture: %s", *eventsOut)

	printStats(events, summaries)
	return nil
}

func writeDataset(outDir string, geom thermal.FrameGeometry, scanTime time.Time, x float64) (domain.DatasetEvent, *domain.TemperatureSummary, error) {
	name := domain.DefaultSensorID + " - " + scanTime.Format("2006-01-02__15-04-05") + "-000"
	dir := filepath.Join(outDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.DatasetEvent{}, nil, err
	}

	buf := syntheticFrame(geom)
	md := syntheticMetadata(scanTime, x)
	mdJSON, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return domain.DatasetEvent{}, nil, fmt.Errorf("marshal metadata: %w", err)
	}

	framePath := filepath.Join(dir, name+domain.RawFrameSuffix)
	if err := os.WriteFile(framePath, buf, 0o600); err != nil {
		return domain.DatasetEvent{}, nil, err
	}
	mdPath := filepath.Join(dir, name+domain.MetadataSuffix)
	if err := os.WriteFile(mdPath, mdJSON, 0o600); err != nil {
		return domain.DatasetEvent{}, nil, err
	}

	// Run the real conversion so the fixture is known to be processable.
	frame, err := thermal.LoadRawFrame(buf, geom)
	if err != nil {
		return domain.DatasetEvent{}, nil, err
	}
	params, err := md.Calibration()
	if err != nil {
		return domain.DatasetEvent{}, nil, err
	}
	grid, err := thermal.ConvertToTemperature(frame, params)
	if err != nil {
		return domain.DatasetEvent{}, nil, err
	}

	ev := domain.DatasetEvent{
		ID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String(),
		Name: name,
		Files: []domain.FileRef{
			{Filename: filepath.Base(framePath), Filepath: framePath},
			{Filename: filepath.Base(mdPath), Filepath: mdPath},
		},
	}
	return ev, domain.SummarizeTemperature(grid), nil
}

// syntheticFrame is a horizontal gradient of raw counts around the 8192
// reference level, so previews and temperatures are visibly non-flat.
func syntheticFrame(geom thermal.FrameGeometry) []byte {
	buf := make([]byte, geom.ByteLen())
	for r := 0; r < geom.Height; r++ {
		for c := 0; c < geom.Width; c++ {
			v := 7000 + (2400*c)/max(geom.Width-1, 1)
			binary.LittleEndian.PutUint16(buf[(r*geom.Width+c)*2:], uint16(v))
		}
	}
	return buf
}

func syntheticMetadata(scanTime time.Time, x float64) *domain.ScanMetadata {
	return &domain.ScanMetadata{
		Gantry: domain.GantryMetadata{
			Datetime:  scanTime.Format("01/02/2006 15:04:05"),
			PositionM: domain.Vec3{X: domain.Num(10 + x), Y: domain.Num(20), Z: domain.Num(1.422)},
		},
		SensorFixed: domain.SensorFixedMetadata{
			SensorID:          domain.DefaultSensorID,
			CalibrationR:      domain.Num(16556),
			CalibrationB:      domain.Num(1428),
			CalibrationF:      domain.Num(1),
			CalibrationJ0:     domain.Num(4000),
			CalibrationJ1:     domain.Num(31),
			CalibrationX:      domain.Num(1.9),
			CalibrationAlpha1: domain.Num(0.006569),
			CalibrationAlpha2: domain.Num(0.01262),
			CalibrationBeta1:  domain.Num(-0.002276),
			CalibrationBeta2:  domain.Num(-0.00667),
		},
		SensorVariable: domain.SensorVariableMetadata{
			Emissivity:             domain.Num(0.98),
			ReflectedTemperature:   domain.Num(20),
			AtmosphericTemperature: domain.Num(20),
			RelativeHumidity:       domain.Num(50),
			ObjectDistance:         domain.Num(2),
		},
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(events []domain.DatasetEvent, summaries []*domain.TemperatureSummary) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Datasets: %d\n", len(events))
	for i, ev := range events {
		s := summaries[i]
		if s == nil {
			fmt.Printf("  %s: no valid pixels\n", ev.Name)
			continue
		}
		fmt.Printf("  %s (%s): min=%.6f max=%.6f mean=%.6f valid=%d/%d\n",
			ev.Name, ev.ID, s.MinC, s.MaxC, s.MeanC, s.ValidPixels, s.TotalPixels)
	}
}
