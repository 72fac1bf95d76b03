package pipeline_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/pipeline"
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDatasetID   = "5c5a1b7e4f0c"
	testDatasetName = "flirIrCamera - 2016-08-17__12-15-38-000"
	referenceTempC  = 23.477729049618972
)

const scanMetadataJSON = `{
	"gantry_variable_metadata": {
		"datetime": "08/17/2016 12:15:38",
		"position_m": {"x": "10.0", "y": 20, "z": "1.422"}
	},
	"sensor_fixed_metadata": {
		"sensor_id": "flirIrCamera",
		"calibration_R": "16556",
		"calibration_B": 1428,
		"calibration_F": "1",
		"calibration_J0": 4000,
		"calibration_J1": "31",
		"calibration_X": 1.9,
		"calibration_alpha1": "0.006569",
		"calibration_alpha2": 0.01262,
		"calibration_beta1": "-0.002276",
		"calibration_beta2": -0.00667
	},
	"sensor_variable_metadata": {
		"emissivity": "0.98",
		"reflected_temperature": 20,
		"atmospheric_temperature": "20",
		"relative_humidity": 50,
		"object_distance": "2"
	}
}`

var testGeometry = thermal.FrameGeometry{Height: 4, Width: 4, Rotation: 270}

// dataset is a raw frame plus sibling metadata on disk, and the event that
// announces them.
type dataset struct {
	dir   string
	event map[string]any
}

func newDataset(t *testing.T, count uint16, metadata string) *dataset {
	t.Helper()
	dir := t.TempDir()

	buf := make([]byte, testGeometry.ByteLen())
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], count)
	}
	frame := filepath.Join(dir, "scan_ir.bin")
	require.NoError(t, os.WriteFile(frame, buf, 0o644))
	md := filepath.Join(dir, "scan_metadata.json")
	require.NoError(t, os.WriteFile(md, []byte(metadata), 0o644))

	return &dataset{
		dir: dir,
		event: map[string]any{
			"id":   testDatasetID,
			"name": testDatasetName,
			"files": []map[string]string{
				{"filename": "scan_ir.bin", "filepath": frame},
				{"filename": "scan_metadata.json", "filepath": md},
			},
		},
	}
}

func (d *dataset) raw(t *testing.T) domain.RawEvent {
	t.Helper()
	value, err := json.Marshal(d.event)
	require.NoError(t, err)
	return domain.RawEvent{Key: []byte(testDatasetID), Value: value}
}

func testSettings(outputDir string) pipeline.Settings {
	return pipeline.Settings{
		OutputDir:   outputDir,
		Preview:     raster.PreviewOptions{Scale: raster.ScalePerFrame, Format: raster.FormatPNG},
		Frame:       testGeometry,
		SensorID:    domain.DefaultSensorID,
		FieldOrigin: domain.DefaultFieldOrigin,
	}
}

func useFakeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2016, 8, 17, 13, 0, 0, 0, time.UTC))
	domain.SetClock(fc)
	t.Cleanup(func() { domain.SetClock(clockwork.NewRealClock()) })
	return fc
}

// --- collaborator mocks ---

type mockChecker struct {
	done bool
	err  error
}

func (m *mockChecker) AlreadyProcessed(context.Context, string) (bool, error) {
	return m.done, m.err
}

type mockPublisher struct {
	paths []string
	err   error
}

func (m *mockPublisher) Publish(_ context.Context, name string, paths []string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.paths = append(m.paths, paths...)
	uris := make([]string, len(paths))
	for i, p := range paths {
		uris[i] = "s3://bucket/" + name + "/" + filepath.Base(p)
	}
	return uris, nil
}

type mockLocator struct{}

func (mockLocator) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{PlaceName: "Maricopa", FormattedAddress: "Maricopa, Arizona, United States"}, nil
}

func requireSkip(t *testing.T, err error, want domain.SkipReason) {
	t.Helper()
	require.ErrorIs(t, err, pipeline.ErrSkipped)
	var skipErr *pipeline.SkipError
	require.ErrorAs(t, err, &skipErr)
	assert.Equal(t, want, skipErr.Reason)
	assert.Equal(t, testDatasetID, skipErr.DatasetID)
}

// --- tests ---

func TestFlirTransformer_Transform(t *testing.T) {
	useFakeClock(t)
	ds := newDataset(t, 8192, scanMetadataJSON)
	out := t.TempDir()

	tfm := pipeline.NewTransformer(testSettings(out), newTestMetrics(), discardLogger())
	c, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)

	previewPath, geotiffPath := domain.OutputPaths(out, testDatasetName, ".png")
	assert.Equal(t, []string{previewPath, geotiffPath}, c.FilesCreated)
	assert.Equal(t, testDatasetID, c.DatasetID)
	assert.Equal(t, testDatasetName, c.DatasetName)
	assert.Equal(t, domain.ExtractorName, c.Extractor)
	assert.Equal(t, time.Date(2016, 8, 17, 13, 0, 0, 0, time.UTC), c.ProcessedAt)
	require.NotNil(t, c.ScanTime)
	assert.Equal(t, time.Date(2016, 8, 17, 12, 15, 38, 0, time.UTC), *c.ScanTime)

	var total int64
	for _, p := range c.FilesCreated {
		info, err := os.Stat(p)
		require.NoError(t, err)
		total += info.Size()
	}
	assert.Equal(t, total, c.BytesWritten)

	require.NotNil(t, c.Temperature)
	assert.InDelta(t, referenceTempC, c.Temperature.MeanC, 1e-9)
	assert.Equal(t, 16, c.Temperature.ValidPixels)

	f, err := os.Open(geotiffPath)
	require.NoError(t, err)
	defer f.Close()
	gr, err := raster.ReadGeoTIFF(f)
	require.NoError(t, err)
	assert.Equal(t, 4, gr.Width)
	assert.Equal(t, 4, gr.Height)
	assert.InDelta(t, referenceTempC, float64(gr.At(2, 1)), 1e-4)
	require.NotNil(t, c.Bounds)
	assert.InDelta(t, c.Bounds.LatMax, gr.Bounds.LatMax, 1e-9)
	assert.InDelta(t, c.Bounds.LonMin, gr.Bounds.LonMin, 1e-9)
	assert.Equal(t, raster.EPSGWGS84, gr.EPSG)

	assert.Empty(t, c.SiteName)
	assert.Empty(t, c.Uploaded)
}

func TestFlirTransformer_SkipsNotLatest(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	ds.event["latest"] = false

	tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger())
	_, err := tfm.Transform(context.Background(), ds.raw(t))
	requireSkip(t, err, domain.SkipNotLatest)
}

func TestFlirTransformer_SkipsWhenOutputsExist(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger())

	_, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)

	_, err = tfm.Transform(context.Background(), ds.raw(t))
	requireSkip(t, err, domain.SkipOutputsExist)
}

func TestFlirTransformer_ForceOverwrite(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	settings := testSettings(t.TempDir())
	settings.ForceOverwrite = true
	tfm := pipeline.NewTransformer(settings, newTestMetrics(), discardLogger(),
		pipeline.WithProcessedChecker(&mockChecker{done: true}))

	_, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)

	c, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)
	assert.Len(t, c.FilesCreated, 2)
}

func TestFlirTransformer_OnlyMissingOutputIsWritten(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	out := t.TempDir()
	tfm := pipeline.NewTransformer(testSettings(out), newTestMetrics(), discardLogger())

	_, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)

	previewPath, geotiffPath := domain.OutputPaths(out, testDatasetName, ".png")
	require.NoError(t, os.Remove(geotiffPath))

	c, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)
	assert.Equal(t, []string{geotiffPath}, c.FilesCreated)
	assert.Equal(t, []string{previewPath}, c.FilesReused)
}

func TestFlirTransformer_LedgerReusesUnrecordedOutputs(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	out := t.TempDir()
	pub := &mockPublisher{}
	tfm := pipeline.NewTransformer(testSettings(out), newTestMetrics(), discardLogger(),
		pipeline.WithProcessedChecker(&mockChecker{done: false}),
		pipeline.WithPublisher(pub))

	first, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)
	require.Len(t, first.FilesCreated, 2)

	// The first completion never reached the sink, so the ledger has no
	// record and the outputs on disk are picked up again.
	second, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)
	previewPath, geotiffPath := domain.OutputPaths(out, testDatasetName, ".png")
	assert.Empty(t, second.FilesCreated)
	assert.Equal(t, []string{previewPath, geotiffPath}, second.FilesReused)
	assert.Zero(t, second.BytesWritten)
	assert.Len(t, second.Uploaded, 2)
	require.NotNil(t, second.Temperature)
	assert.InDelta(t, referenceTempC, second.Temperature.MeanC, 1e-9)
}

func TestFlirTransformer_LedgerIdempotency(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)

	t.Run("already processed", func(t *testing.T) {
		tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger(),
			pipeline.WithProcessedChecker(&mockChecker{done: true}))
		_, err := tfm.Transform(context.Background(), ds.raw(t))
		requireSkip(t, err, domain.SkipAlreadyProcessed)
	})

	t.Run("recorded with outputs on disk", func(t *testing.T) {
		out := t.TempDir()
		_, err := pipeline.NewTransformer(testSettings(out), newTestMetrics(), discardLogger()).
			Transform(context.Background(), ds.raw(t))
		require.NoError(t, err)

		tfm := pipeline.NewTransformer(testSettings(out), newTestMetrics(), discardLogger(),
			pipeline.WithProcessedChecker(&mockChecker{done: true}))
		_, err = tfm.Transform(context.Background(), ds.raw(t))
		requireSkip(t, err, domain.SkipOutputsExist)
	})

	t.Run("ledger error", func(t *testing.T) {
		tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger(),
			pipeline.WithProcessedChecker(&mockChecker{err: errors.New("database is locked")}))
		_, err := tfm.Transform(context.Background(), ds.raw(t))
		var dsErr *pipeline.DatasetError
		require.ErrorAs(t, err, &dsErr)
		assert.Equal(t, testDatasetID, dsErr.DatasetID)
		assert.Contains(t, err.Error(), "database is locked")
	})
}

func TestFlirTransformer_SkipsWhenExtractorMetadataAttached(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	ds.event["metadata"] = []map[string]any{
		{"agent": map[string]string{"name": "https://terraref.ncsa.illinois.edu/clowder/api/extractors/" + domain.ExtractorName}, "content": map[string]any{}},
	}

	tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger())
	_, err := tfm.Transform(context.Background(), ds.raw(t))
	requireSkip(t, err, domain.SkipAlreadyProcessed)
}

func TestFlirTransformer_SkipsWhenDatasetMetadataFileMarked(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	exported := filepath.Join(ds.dir, "scan_dataset_metadata.json")
	doc := `[{"agent": {"name": "https://terraref.ncsa.illinois.edu/clowder/api/extractors/` + domain.ExtractorName + `"}, "content": {}}]`
	require.NoError(t, os.WriteFile(exported, []byte(doc), 0o644))
	ds.event["files"] = append(ds.event["files"].([]map[string]string),
		map[string]string{"filename": "scan_dataset_metadata.json", "filepath": exported})

	out := t.TempDir()
	tfm := pipeline.NewTransformer(testSettings(out), newTestMetrics(), discardLogger())
	_, err := tfm.Transform(context.Background(), ds.raw(t))
	requireSkip(t, err, domain.SkipAlreadyProcessed)

	_, statErr := os.Stat(filepath.Join(out, testDatasetName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFlirTransformer_MissingCalibrationWritesNothing(t *testing.T) {
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(scanMetadataJSON), &doc))
	delete(doc["sensor_variable_metadata"], "emissivity")
	md, err := json.Marshal(doc)
	require.NoError(t, err)

	ds := newDataset(t, 8192, string(md))
	out := t.TempDir()
	tfm := pipeline.NewTransformer(testSettings(out), newTestMetrics(), discardLogger())

	_, err = tfm.Transform(context.Background(), ds.raw(t))
	var missing *thermal.MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"emissivity"}, missing.Fields)

	_, statErr := os.Stat(filepath.Join(out, testDatasetName))
	assert.True(t, os.IsNotExist(statErr), "no output directory should be created")
}

func TestFlirTransformer_WrongFrameSize(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	settings := testSettings(t.TempDir())
	settings.Frame = thermal.DefaultGeometry()

	tfm := pipeline.NewTransformer(settings, newTestMetrics(), discardLogger())
	_, err := tfm.Transform(context.Background(), ds.raw(t))
	var formatErr *thermal.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, testGeometry.ByteLen(), formatErr.Got)
}

func TestFlirTransformer_InvalidEvent(t *testing.T) {
	tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger())
	_, err := tfm.Transform(context.Background(), domain.RawEvent{Value: []byte("not-json{{{")})
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
	assert.NotErrorIs(t, err, pipeline.ErrSkipped)
}

func TestFlirTransformer_TIFFPreview(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	out := t.TempDir()
	settings := testSettings(out)
	settings.Preview.Format = raster.FormatTIFF

	tfm := pipeline.NewTransformer(settings, newTestMetrics(), discardLogger())
	c, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)

	previewPath, geotiffPath := domain.OutputPaths(out, testDatasetName, ".tif")
	assert.NotEqual(t, previewPath, geotiffPath)
	assert.Equal(t, []string{previewPath, geotiffPath}, c.FilesCreated)
}

func TestFlirTransformer_PublishAndSite(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	pub := &mockPublisher{}

	tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger(),
		pipeline.WithPublisher(pub),
		pipeline.WithSiteLocator(mockLocator{}))
	c, err := tfm.Transform(context.Background(), ds.raw(t))
	require.NoError(t, err)

	assert.Equal(t, c.FilesCreated, pub.paths)
	require.Len(t, c.Uploaded, 2)
	assert.Contains(t, c.Uploaded[0], "s3://bucket/"+testDatasetName+"/")
	assert.Equal(t, "Maricopa", c.SiteName)
	assert.Equal(t, "reverse", c.SiteSource)
}

func TestFlirTransformer_PublishFailure(t *testing.T) {
	ds := newDataset(t, 8192, scanMetadataJSON)
	tfm := pipeline.NewTransformer(testSettings(t.TempDir()), newTestMetrics(), discardLogger(),
		pipeline.WithPublisher(&mockPublisher{err: errors.New("access denied")}))

	_, err := tfm.Transform(context.Background(), ds.raw(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish artifacts")
}
