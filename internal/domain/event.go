package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/raster"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// FileRef is one file attached to a dataset. Filepath is where the file is
// readable from this process.
type FileRef struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}

// DatasetEvent announces a new or updated dataset on the source topic.
type DatasetEvent struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Latest *bool     `json:"latest,omitempty"` // absent means latest
	Files  []FileRef `json:"files"`

	// Metadata is the dataset's attached metadata, either one TERRA-REF
	// document or a list of {agent, content} entries.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// IsLatest reports whether the event refers to the newest file of the dataset.
func (e DatasetEvent) IsLatest() bool {
	return e.Latest == nil || *e.Latest
}

// TemperatureSummary describes the finite pixels of a temperature grid.
type TemperatureSummary struct {
	MinC        float64 `json:"min_c"`
	MaxC        float64 `json:"max_c"`
	MeanC       float64 `json:"mean_c"`
	ValidPixels int     `json:"valid_pixels"`
	TotalPixels int     `json:"total_pixels"`
}

// Completion is published to the sink topic once a dataset has been processed.
type Completion struct {
	DatasetID    string              `json:"dataset_id"`
	DatasetName  string              `json:"dataset_name"`
	Extractor    string              `json:"extractor"`
	FilesCreated []string            `json:"files_created"`
	FilesReused  []string            `json:"files_reused,omitempty"`
	Uploaded     []string            `json:"uploaded,omitempty"`
	BytesWritten int64               `json:"bytes_written"`
	StartedAt    time.Time           `json:"started_at"`
	EndedAt      time.Time           `json:"ended_at"`
	ScanTime     *time.Time          `json:"scan_time,omitempty"`
	Bounds       *raster.GeoBounds   `json:"bounds,omitempty"`
	Temperature  *TemperatureSummary `json:"temperature,omitempty"`

	// Site enrichment fields.
	SiteName    string `json:"site_name,omitempty"`
	SiteAddress string `json:"site_address,omitempty"`
	SiteSource  string `json:"site_source,omitempty"` // "reverse", "failed"

	ProcessedAt time.Time `json:"processed_at"`
}
