package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// File name suffixes recognised in a dataset.
const (
	RawFrameSuffix        = "_ir.bin"
	MetadataSuffix        = "_metadata.json"
	DatasetMetadataSuffix = "_dataset_metadata.json"
)

// SkipReason explains why a dataset event is not processed.
type SkipReason string

const (
	SkipNotLatest        SkipReason = "not_latest"
	SkipNoRawFrame       SkipReason = "no_raw_frame"
	SkipNoMetadata       SkipReason = "no_metadata"
	SkipOutputsExist     SkipReason = "outputs_exist"
	SkipAlreadyProcessed SkipReason = "already_processed"
)

// DatasetFiles are the inputs located for a qualifying dataset.
type DatasetFiles struct {
	RawFrame        string // path of the _ir.bin file
	Metadata        string // sibling _metadata.json, if any
	DatasetMetadata string // exported _dataset_metadata.json, if any
	Attached        json.RawMessage
}

// ErrInvalidEvent is wrapped by every ParseDatasetEvent failure.
var ErrInvalidEvent = errors.New("invalid dataset event")

// ParseDatasetEvent deserializes a source message into a DatasetEvent.
func ParseDatasetEvent(raw RawEvent) (DatasetEvent, error) {
	var ev DatasetEvent
	if err := json.Unmarshal(raw.Value, &ev); err != nil {
		return DatasetEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if strings.TrimSpace(ev.ID) == "" {
		return DatasetEvent{}, fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if err := validateDatasetName(ev.Name); err != nil {
		return DatasetEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return ev, nil
}

// validateDatasetName rejects names that cannot be used as a single path
// element under the output directory.
func validateDatasetName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("missing dataset name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid dataset name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("dataset name %q contains a path separator", name)
	}
	return nil
}

// CheckDataset decides whether an event carries everything needed to build
// the outputs. It returns the located files, or the reason to ignore the
// event. The bare "_metadata.json" upload is never treated as scan metadata.
func CheckDataset(ev DatasetEvent) (DatasetFiles, SkipReason) {
	if !ev.IsLatest() {
		return DatasetFiles{}, SkipNotLatest
	}

	var files DatasetFiles
	for _, f := range ev.Files {
		name := f.Filename
		if name == "" {
			continue
		}
		path := f.Filepath
		if path == "" {
			path = name
		}
		switch {
		case strings.HasSuffix(name, RawFrameSuffix):
			files.RawFrame = path
		case strings.HasSuffix(name, DatasetMetadataSuffix):
			files.DatasetMetadata = path
		case strings.HasSuffix(name, MetadataSuffix) && !isBareMetadata(name, path):
			if files.Metadata == "" {
				files.Metadata = path
			}
		}
	}

	if files.RawFrame == "" {
		return DatasetFiles{}, SkipNoRawFrame
	}
	if len(ev.Metadata) > 0 {
		if _, err := ParseScanMetadata(ev.Metadata); err == nil {
			files.Attached = ev.Metadata
		}
	}
	if files.Metadata == "" && files.DatasetMetadata == "" && files.Attached == nil {
		return DatasetFiles{}, SkipNoMetadata
	}
	return files, ""
}

func isBareMetadata(name, path string) bool {
	return name == MetadataSuffix || strings.HasSuffix(filepath.ToSlash(path), "/"+MetadataSuffix)
}

// ResolveScanMetadata picks the scan metadata from the located sources in
// priority order: exported dataset metadata, the sibling file, then the
// attached metadata. read loads a file by path.
func ResolveScanMetadata(files DatasetFiles, read func(path string) ([]byte, error)) (*ScanMetadata, error) {
	for _, path := range []string{files.DatasetMetadata, files.Metadata} {
		if path == "" {
			continue
		}
		data, err := read(path)
		if err != nil {
			return nil, fmt.Errorf("read metadata %s: %w", filepath.Base(path), err)
		}
		md, err := ParseScanMetadata(data)
		if errors.Is(err, ErrNoScanMetadata) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return md, nil
	}
	if files.Attached != nil {
		return ParseScanMetadata(files.Attached)
	}
	return nil, ErrNoScanMetadata
}

// OutputPaths returns where the preview and the GeoTIFF of a dataset live.
// A TIFF preview takes a _preview suffix so it cannot shadow the GeoTIFF.
func OutputPaths(outputDir, datasetName, previewExt string) (preview, geotiff string) {
	dir := filepath.Join(outputDir, datasetName)
	geotiff = filepath.Join(dir, datasetName+".tif")
	if previewExt == ".tif" {
		return filepath.Join(dir, datasetName+"_preview.tif"), geotiff
	}
	return filepath.Join(dir, datasetName+previewExt), geotiff
}
