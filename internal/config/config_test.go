package config

import (
	"testing"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "clowder-dataset-events", cfg.KafkaSourceTopic)
	assert.Equal(t, "flir2tif-completions", cfg.KafkaSinkTopic)
	assert.Equal(t, "flir2tif", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)

	assert.Equal(t, "/data/Level_1/flir2tif", cfg.OutputDir)
	assert.False(t, cfg.ForceOverwrite)
	assert.True(t, cfg.ScaleValues)
	assert.Equal(t, raster.FormatPNG, cfg.PreviewFormat)
	assert.Equal(t, thermal.DefaultGeometry(), cfg.Frame)
	assert.Equal(t, domain.DefaultSensorID, cfg.SensorID)
	assert.Equal(t, domain.DefaultFieldOrigin, cfg.FieldOrigin)
	assert.Empty(t, cfg.LedgerPath)
	assert.Empty(t, cfg.S3Bucket)
	assert.Equal(t, "us-west-2", cfg.AWSRegion)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_SOURCE_TOPIC", "custom-source")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_SIZE", "500")
	t.Setenv("OUTPUT_DIR", "/tmp/out")
	t.Setenv("FORCE_OVERWRITE", "true")
	t.Setenv("SCALE_VALUES", "false")
	t.Setenv("PREVIEW_FORMAT", "tiff")
	t.Setenv("FRAME_HEIGHT", "120")
	t.Setenv("FRAME_WIDTH", "160")
	t.Setenv("FRAME_ROTATION", "0")
	t.Setenv("FIELD_ORIGIN_LAT", "40.0")
	t.Setenv("FIELD_ORIGIN_LON", "-88.2")
	t.Setenv("LEDGER_PATH", "/var/lib/flir2tif/ledger.db")
	t.Setenv("S3_BUCKET", "terra-outputs")
	t.Setenv("S3_PREFIX", "/level1/flir/")
	t.Setenv("AWS_REGION", "us-east-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-source", cfg.KafkaSourceTopic)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.True(t, cfg.ForceOverwrite)
	assert.False(t, cfg.ScaleValues)
	assert.Equal(t, raster.FormatTIFF, cfg.PreviewFormat)
	assert.Equal(t, thermal.FrameGeometry{Height: 120, Width: 160, Rotation: 0}, cfg.Frame)
	assert.Equal(t, domain.FieldOrigin{Lat: 40.0, Lon: -88.2}, cfg.FieldOrigin)
	assert.Equal(t, "/var/lib/flir2tif/ledger.db", cfg.LedgerPath)
	assert.Equal(t, "terra-outputs", cfg.S3Bucket)
	assert.Equal(t, "level1/flir", cfg.S3Prefix)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("BATCH_SIZE", "9999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidMapboxTimeout(t *testing.T) {
	t.Setenv("MAPBOX_TIMEOUT", "bad")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TIMEOUT")
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxTokenImpliesEnabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MapboxEnabled)
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}

func TestLoad_InvalidSettings(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PREVIEW_FORMAT", "gif"},
		{"FRAME_HEIGHT", "0"},
		{"FRAME_WIDTH", "wide"},
		{"FRAME_ROTATION", "45"},
		{"FIELD_ORIGIN_LAT", "91"},
		{"FIELD_ORIGIN_LON", "east"},
		{"FORCE_OVERWRITE", "sometimes"},
		{"SCALE_VALUES", "maybe"},
		{"SENSOR_ID", "stereoTop"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_NegativeRotation(t *testing.T) {
	t.Setenv("FRAME_ROTATION", "-90")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, -90, cfg.Frame.Rotation)
}
