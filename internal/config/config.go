package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Output settings.
	OutputDir      string
	ForceOverwrite bool
	ScaleValues    bool // per-frame preview stretch; false maps the full sensor range
	PreviewFormat  raster.Format

	// Sensor and field geometry.
	Frame       thermal.FrameGeometry
	SensorID    string
	FieldOrigin domain.FieldOrigin

	// Processed-dataset ledger. Empty disables it.
	LedgerPath string

	// Artifact upload. Empty bucket disables it.
	S3Bucket  string
	S3Prefix  string
	AWSRegion string

	// Mapbox site lookup configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeoutStr := sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s")
	mapboxTimeout, err2 := time.ParseDuration(mapboxTimeoutStr)
	if err2 != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	previewFormat, err := raster.ParseFormat(sharedcfg.EnvOrDefault("PREVIEW_FORMAT", "png"))
	if err != nil {
		return nil, fmt.Errorf("invalid PREVIEW_FORMAT: %w", err)
	}

	frame, err := parseFrameGeometry()
	if err != nil {
		return nil, err
	}

	origin, err := parseFieldOrigin()
	if err != nil {
		return nil, err
	}

	forceOverwrite, err := parseBool("FORCE_OVERWRITE", false)
	if err != nil {
		return nil, err
	}
	scaleValues, err := parseBool("SCALE_VALUES", true)
	if err != nil {
		return nil, err
	}

	mapboxCacheSize := parseMapboxCacheSize()

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "clowder-dataset-events"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "flir2tif-completions"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "flir2tif"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		OutputDir:      sharedcfg.EnvOrDefault("OUTPUT_DIR", "/data/Level_1/flir2tif"),
		ForceOverwrite: forceOverwrite,
		ScaleValues:    scaleValues,
		PreviewFormat:  previewFormat,

		Frame:       frame,
		SensorID:    sharedcfg.EnvOrDefault("SENSOR_ID", domain.DefaultSensorID),
		FieldOrigin: origin,

		LedgerPath: os.Getenv("LEDGER_PATH"),

		S3Bucket:  os.Getenv("S3_BUCKET"),
		S3Prefix:  strings.Trim(os.Getenv("S3_PREFIX"), "/"),
		AWSRegion: sharedcfg.EnvOrDefault("AWS_REGION", "us-west-2"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if _, ok := domain.LookupSensorGeometry(cfg.SensorID); !ok {
		return nil, fmt.Errorf("unknown SENSOR_ID %q (known: %s)", cfg.SensorID, strings.Join(domain.KnownSensors(), ", "))
	}

	return cfg, nil
}

func parseFrameGeometry() (thermal.FrameGeometry, error) {
	g := thermal.DefaultGeometry()
	var err error
	if g.Height, err = parsePositiveInt("FRAME_HEIGHT", g.Height); err != nil {
		return g, err
	}
	if g.Width, err = parsePositiveInt("FRAME_WIDTH", g.Width); err != nil {
		return g, err
	}
	s := sharedcfg.EnvOrDefault("FRAME_ROTATION", strconv.Itoa(g.Rotation))
	rot, err := strconv.Atoi(s)
	if err != nil || rot%90 != 0 {
		return g, errors.New("invalid FRAME_ROTATION: must be a multiple of 90")
	}
	g.Rotation = rot
	return g, nil
}

func parseFieldOrigin() (domain.FieldOrigin, error) {
	o := domain.DefaultFieldOrigin
	if s := os.Getenv("FIELD_ORIGIN_LAT"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < -90 || v > 90 {
			return o, errors.New("invalid FIELD_ORIGIN_LAT")
		}
		o.Lat = v
	}
	if s := os.Getenv("FIELD_ORIGIN_LON"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < -180 || v > 180 {
			return o, errors.New("invalid FIELD_ORIGIN_LON")
		}
		o.Lon = v
	}
	return o, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", key)
	}
	return v, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
