package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/config"
	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/observability"
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
)

// ProcessedChecker reports whether a dataset already has a recorded completion.
type ProcessedChecker interface {
	AlreadyProcessed(ctx context.Context, datasetID string) (bool, error)
}

// ArtifactPublisher copies output files somewhere durable and returns their URIs.
type ArtifactPublisher interface {
	Publish(ctx context.Context, datasetName string, paths []string) ([]string, error)
}

// Settings are the per-service knobs of the FLIR transformer.
type Settings struct {
	OutputDir      string
	ForceOverwrite bool
	Preview        raster.PreviewOptions
	Frame          thermal.FrameGeometry
	SensorID       string // used when the metadata names no camera
	FieldOrigin    domain.FieldOrigin
}

// SettingsFromConfig maps service configuration onto transformer settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	scale := raster.ScaleFullRange
	if cfg.ScaleValues {
		scale = raster.ScalePerFrame
	}
	return Settings{
		OutputDir:      cfg.OutputDir,
		ForceOverwrite: cfg.ForceOverwrite,
		Preview:        raster.PreviewOptions{Scale: scale, Format: cfg.PreviewFormat},
		Frame:          cfg.Frame,
		SensorID:       cfg.SensorID,
		FieldOrigin:    cfg.FieldOrigin,
	}
}

// FlirTransformer implements Transformer: it turns one dataset event into a
// preview image, a GeoTIFF, and a Completion.
type FlirTransformer struct {
	settings  Settings
	processed ProcessedChecker
	publisher ArtifactPublisher
	locator   domain.SiteLocator
	readFile  func(string) ([]byte, error)
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Option configures optional collaborators of a FlirTransformer.
type Option func(*FlirTransformer)

// WithProcessedChecker enables the ledger-based idempotency check.
func WithProcessedChecker(c ProcessedChecker) Option {
	return func(t *FlirTransformer) { t.processed = c }
}

// WithPublisher uploads every newly created output.
func WithPublisher(p ArtifactPublisher) Option {
	return func(t *FlirTransformer) { t.publisher = p }
}

// WithSiteLocator names the site at the centre of each frame.
func WithSiteLocator(l domain.SiteLocator) Option {
	return func(t *FlirTransformer) { t.locator = l }
}

// NewTransformer creates a FlirTransformer. Collaborators left unset are
// disabled.
func NewTransformer(settings Settings, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *FlirTransformer {
	t := &FlirTransformer{
		settings: settings,
		readFile: os.ReadFile,
		metrics:  metrics,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *FlirTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.Completion, error) {
	started := domain.Now()

	ev, err := domain.ParseDatasetEvent(raw)
	if err != nil {
		return domain.Completion{}, &DatasetError{Err: err}
	}
	fail := func(err error) (domain.Completion, error) {
		return domain.Completion{}, &DatasetError{DatasetID: ev.ID, DatasetName: ev.Name, Err: err}
	}
	skip := func(reason domain.SkipReason) (domain.Completion, error) {
		return domain.Completion{}, &SkipError{DatasetID: ev.ID, DatasetName: ev.Name, Reason: reason}
	}

	files, reason := domain.CheckDataset(ev)
	if reason != "" {
		return skip(reason)
	}

	previewPath, geotiffPath := domain.OutputPaths(t.settings.OutputDir, ev.Name, t.settings.Preview.Format.Ext())
	if !t.settings.ForceOverwrite {
		reason, err := t.alreadyDone(ctx, ev, files, previewPath, geotiffPath)
		if err != nil {
			return fail(err)
		}
		if reason != "" {
			return skip(reason)
		}
	}

	md, err := domain.ResolveScanMetadata(files, t.readFile)
	if err != nil {
		return fail(err)
	}

	frameStart := time.Now()
	buf, err := t.readFile(files.RawFrame)
	if err != nil {
		return fail(fmt.Errorf("read raw frame: %w", err))
	}
	frame, err := thermal.LoadRawFrame(buf, t.settings.Frame)
	if err != nil {
		return fail(err)
	}

	// Everything derived from metadata is resolved before any file is written.
	params, err := md.Calibration()
	if err != nil {
		return fail(err)
	}
	sensorID := ""
	if strings.TrimSpace(md.SensorFixed.SensorID) == "" {
		sensorID = t.settings.SensorID
	}
	bounds, err := domain.CalculateGeoBounds(md, sensorID, t.settings.FieldOrigin)
	if err != nil {
		return fail(err)
	}
	grid, err := thermal.ConvertToTemperature(frame, params)
	if err != nil {
		return fail(err)
	}

	c := domain.Completion{
		DatasetID:   ev.ID,
		DatasetName: ev.Name,
		StartedAt:   started,
		Bounds:      &bounds,
		Temperature: domain.SummarizeTemperature(grid),
	}
	if scanTime, err := md.ScanTime(); err == nil {
		c.ScanTime = &scanTime
	} else {
		t.logger.Warn("scan time unavailable", "dataset_id", ev.ID, "error", err)
	}

	if t.settings.ForceOverwrite || !fileExists(previewPath) {
		n, err := raster.WriteFileAtomic(previewPath, func(w io.Writer) error {
			return raster.EncodePreview(w, frame, t.settings.Preview)
		})
		if err != nil {
			return fail(fmt.Errorf("write preview: %w", err))
		}
		t.recordFile(&c, previewPath, "preview", n)
	} else {
		c.FilesReused = append(c.FilesReused, previewPath)
	}

	if t.settings.ForceOverwrite || !fileExists(geotiffPath) {
		n, err := raster.WriteFileAtomic(geotiffPath, func(w io.Writer) error {
			return raster.WriteGeoTIFF(w, grid, bounds)
		})
		if err != nil {
			return fail(fmt.Errorf("write geotiff: %w", err))
		}
		t.recordFile(&c, geotiffPath, "geotiff", n)
	} else {
		c.FilesReused = append(c.FilesReused, geotiffPath)
	}
	t.metrics.FrameProcessingDuration.Observe(time.Since(frameStart).Seconds())

	if t.publisher != nil && len(c.FilesCreated)+len(c.FilesReused) > 0 {
		paths := append(append([]string(nil), c.FilesCreated...), c.FilesReused...)
		uris, err := t.publisher.Publish(ctx, ev.Name, paths)
		if err != nil {
			return fail(fmt.Errorf("publish artifacts: %w", err))
		}
		c.Uploaded = uris
	}

	c = domain.EnrichWithSite(ctx, c, t.locator, t.logger)
	c.EndedAt = domain.Now()
	return domain.StampCompletion(c), nil
}

// alreadyDone returns a skip reason when the dataset needs no work. Without
// a ledger, outputs on disk are proof enough. With one, outputs the ledger
// does not know about were left by a run whose completion never reached the
// sink, so the dataset is processed again and those files are reused.
func (t *FlirTransformer) alreadyDone(ctx context.Context, ev domain.DatasetEvent, files domain.DatasetFiles, previewPath, geotiffPath string) (domain.SkipReason, error) {
	outputsExist := fileExists(previewPath) && fileExists(geotiffPath)
	if outputsExist && t.processed == nil {
		return domain.SkipOutputsExist, nil
	}
	if t.hasExtractorMetadata(ev, files) {
		return domain.SkipAlreadyProcessed, nil
	}
	if t.processed == nil {
		return "", nil
	}
	done, err := t.processed.AlreadyProcessed(ctx, ev.ID)
	if err != nil {
		return "", fmt.Errorf("check ledger: %w", err)
	}
	switch {
	case done && outputsExist:
		return domain.SkipOutputsExist, nil
	case done:
		return domain.SkipAlreadyProcessed, nil
	case outputsExist:
		t.logger.Info("reusing outputs of an unrecorded run", "dataset_id", ev.ID)
	}
	return "", nil
}

// hasExtractorMetadata looks for our own metadata entry both on the event and
// in the exported _dataset_metadata.json.
func (t *FlirTransformer) hasExtractorMetadata(ev domain.DatasetEvent, files domain.DatasetFiles) bool {
	if domain.HasExtractorMetadata(ev.Metadata, domain.ExtractorName) {
		return true
	}
	if files.DatasetMetadata == "" {
		return false
	}
	data, err := t.readFile(files.DatasetMetadata)
	if err != nil {
		t.logger.Debug("dataset metadata unreadable", "path", files.DatasetMetadata, "error", err)
		return false
	}
	return domain.HasExtractorMetadata(data, domain.ExtractorName)
}

func (t *FlirTransformer) recordFile(c *domain.Completion, path, kind string, n int64) {
	c.FilesCreated = append(c.FilesCreated, path)
	c.BytesWritten += n
	t.metrics.FilesCreated.WithLabelValues(kind).Inc()
	t.metrics.BytesWritten.Add(float64(n))
	t.logger.Debug("output written", "path", path, "kind", kind, "bytes", n)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
