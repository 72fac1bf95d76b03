package pipeline

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
)

// ErrSkipped matches every *SkipError.
var ErrSkipped = errors.New("dataset skipped")

// SkipError reports a dataset event that was deliberately not processed.
type SkipError struct {
	DatasetID   string
	DatasetName string
	Reason      domain.SkipReason
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("dataset %s skipped: %s", e.DatasetID, e.Reason)
}

func (e *SkipError) Is(target error) bool { return target == ErrSkipped }

// DatasetError attaches the dataset identity to a processing failure.
type DatasetError struct {
	DatasetID   string
	DatasetName string
	Err         error
}

func (e *DatasetError) Error() string {
	if e.DatasetID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("dataset %s: %v", e.DatasetID, e.Err)
}

func (e *DatasetError) Unwrap() error { return e.Err }

// errorKind buckets a processing failure for the process_errors_total metric.
func errorKind(err error) string {
	var (
		formatErr   *thermal.FormatError
		missingErr  *thermal.MissingParameterError
		geometryErr *thermal.InvalidGeometryError
		pathErr     *fs.PathError
	)
	switch {
	case errors.As(err, &formatErr):
		return "format"
	case errors.As(err, &missingErr):
		return "missing_parameter"
	case errors.As(err, &geometryErr), errors.Is(err, raster.ErrInvalidBounds):
		return "invalid_geometry"
	case errors.Is(err, domain.ErrNoScanMetadata), errors.Is(err, domain.ErrInvalidEvent):
		return "metadata"
	case errors.As(err, &pathErr):
		return "io"
	default:
		return "other"
	}
}
