package thermal

import (
	"fmt"
	"strings"
)

// FormatError reports a raw frame buffer that cannot be decoded at the
// configured geometry.
type FormatError struct {
	Got  int // buffer length in bytes
	Want int // expected length in bytes, 0 when unknown
}

func (e *FormatError) Error() string {
	if e.Want == 0 {
		return fmt.Sprintf("raw frame: malformed buffer of %d bytes", e.Got)
	}
	return fmt.Sprintf("raw frame: buffer is %d bytes, want %d", e.Got, e.Want)
}

// MissingParameterError reports calibration inputs that are absent.
type MissingParameterError struct {
	Fields []string
}

func (e *MissingParameterError) Error() string {
	return "calibration: missing " + strings.Join(e.Fields, ", ")
}

// InvalidGeometryError reports frame dimensions that are inconsistent with
// the data or the configuration.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "frame geometry: " + e.Reason
}
