package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/thermal"
)

// Number is a metadata value that may arrive as a JSON number or a numeric
// string. Valid is false when the field was absent, null, empty or unparsable.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a valid Number.
func Num(v float64) Number { return Number{Value: v, Valid: true} }

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = Num(v)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// OrNaN returns the value, or NaN when absent.
func (n Number) OrNaN() float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Value
}

// Vec3 is a metric offset or position.
type Vec3 struct {
	X Number `json:"x"`
	Y Number `json:"y"`
	Z Number `json:"z"`
}

// Extent2 is a footprint size along the field x and y axes.
type Extent2 struct {
	X Number `json:"x"`
	Y Number `json:"y"`
}

// GantryMetadata is the per-scan state of the field gantry.
type GantryMetadata struct {
	Datetime  string `json:"datetime,omitempty"`
	Time      string `json:"time,omitempty"`
	PositionM Vec3   `json:"position_m"`
}

// SensorFixedMetadata holds the camera's factory constants and mounting.
type SensorFixedMetadata struct {
	SensorID string `json:"sensor_id,omitempty"`

	CalibrationR      Number `json:"calibration_R"`
	CalibrationB      Number `json:"calibration_B"`
	CalibrationF      Number `json:"calibration_F"`
	CalibrationJ0     Number `json:"calibration_J0"`
	CalibrationJ1     Number `json:"calibration_J1"`
	CalibrationX      Number `json:"calibration_X"`
	CalibrationAlpha1 Number `json:"calibration_alpha1"`
	CalibrationAlpha2 Number `json:"calibration_alpha2"`
	CalibrationBeta1  Number `json:"calibration_beta1"`
	CalibrationBeta2  Number `json:"calibration_beta2"`

	LocationInCameraBoxM *Vec3    `json:"location_in_camera_box_m,omitempty"`
	FieldOfViewAt2M      *Extent2 `json:"field_of_view_at_2m_m,omitempty"`
}

// SensorVariableMetadata holds the scene conditions recorded with the scan.
type SensorVariableMetadata struct {
	Emissivity             Number `json:"emissivity"`
	ReflectedTemperature   Number `json:"reflected_temperature"`
	AtmosphericTemperature Number `json:"atmospheric_temperature"`
	RelativeHumidity       Number `json:"relative_humidity"`
	ObjectDistance         Number `json:"object_distance"`
}

// ScanMetadata is the cleaned TERRA-REF metadata of one thermal capture.
type ScanMetadata struct {
	Gantry         GantryMetadata         `json:"gantry_variable_metadata"`
	SensorFixed    SensorFixedMetadata    `json:"sensor_fixed_metadata"`
	SensorVariable SensorVariableMetadata `json:"sensor_variable_metadata"`
}

// ErrNoScanMetadata means a document holds no TERRA-REF sections.
var ErrNoScanMetadata = errors.New("no TERRA-REF scan metadata")

var sectionKeys = []string{"gantry_variable_metadata", "sensor_fixed_metadata", "sensor_variable_metadata"}

// ParseScanMetadata accepts a bare TERRA-REF document, an entry wrapping one
// under "content", or a list of such entries, and returns the first scan
// metadata found.
func ParseScanMetadata(data []byte) (*ScanMetadata, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoScanMetadata
	}

	if data[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse scan metadata: %w", err)
		}
		for _, e := range entries {
			md, err := ParseScanMetadata(e)
			if err == nil {
				return md, nil
			}
			if !errors.Is(err, ErrNoScanMetadata) {
				return nil, err
			}
		}
		return nil, ErrNoScanMetadata
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scan metadata: %w", err)
	}
	if !hasTerraSection(doc) {
		if content, ok := doc["content"]; ok {
			return ParseScanMetadata(content)
		}
		return nil, ErrNoScanMetadata
	}

	var md ScanMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse scan metadata: %w", err)
	}
	return &md, nil
}

func hasTerraSection(doc map[string]json.RawMessage) bool {
	for _, k := range sectionKeys {
		if _, ok := doc[k]; ok {
			return true
		}
	}
	return false
}

// HasExtractorMetadata reports whether attached metadata already carries an
// entry written by the named extractor.
func HasExtractorMetadata(data []byte, extractor string) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || extractor == "" {
		return false
	}

	type entry struct {
		Agent struct {
			Name string `json:"name"`
		} `json:"agent"`
	}
	var entries []entry
	if data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return false
		}
	} else {
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return false
		}
		entries = []entry{e}
	}

	for _, e := range entries {
		name := e.Agent.Name
		if name == extractor || strings.HasSuffix(name, "/"+extractor) {
			return true
		}
	}
	return false
}

var scanTimeLayouts = []string{
	"01/02/2006 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ScanTime returns the gantry timestamp. Times without a zone are UTC.
func (m *ScanMetadata) ScanTime() (time.Time, error) {
	raw := strings.TrimSpace(m.Gantry.Datetime)
	if raw == "" {
		raw = strings.TrimSpace(m.Gantry.Time)
	}
	if raw == "" {
		return time.Time{}, errors.New("scan time: gantry timestamp missing")
	}
	for _, layout := range scanTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("scan time: unrecognized timestamp %q", raw)
}

// Calibration assembles the converter's parameters. Nothing is defaulted:
// any absent field yields a *thermal.MissingParameterError naming it.
func (m *ScanMetadata) Calibration() (thermal.CalibrationParams, error) {
	f, v := m.SensorFixed, m.SensorVariable
	p := thermal.CalibrationParams{
		R:                f.CalibrationR.OrNaN(),
		B:                f.CalibrationB.OrNaN(),
		F:                f.CalibrationF.OrNaN(),
		J0:               f.CalibrationJ0.OrNaN(),
		J1:               f.CalibrationJ1.OrNaN(),
		X:                f.CalibrationX.OrNaN(),
		Alpha1:           f.CalibrationAlpha1.OrNaN(),
		Alpha2:           f.CalibrationAlpha2.OrNaN(),
		Beta1:            f.CalibrationBeta1.OrNaN(),
		Beta2:            f.CalibrationBeta2.OrNaN(),
		Emissivity:       v.Emissivity.OrNaN(),
		ReflectedTempC:   v.ReflectedTemperature.OrNaN(),
		AtmosphericTempC: v.AtmosphericTemperature.OrNaN(),
		RelativeHumidity: v.RelativeHumidity.OrNaN(),
		DistanceM:        v.ObjectDistance.OrNaN(),
	}
	if err := p.Validate(); err != nil {
		return thermal.CalibrationParams{}, err
	}
	return p, nil
}

// SensorID returns the camera id, defaulting to the gantry FLIR.
func (m *ScanMetadata) SensorID() string {
	if id := strings.TrimSpace(m.SensorFixed.SensorID); id != "" {
		return id
	}
	return DefaultSensorID
}
