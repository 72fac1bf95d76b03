package thermal

import (
	"fmt"
	"math"
)

const kelvinOffset = 273.15

// Coefficients of the FLIR water-vapour model (g/m³ at 100% RH as a function
// of air temperature in °C).
const (
	h2oK1 = 1.5587
	h2oK2 = 6.939e-2
	h2oK3 = -2.7816e-4
	h2oK4 = 6.8455e-7
)

// CalibrationParams is everything the transfer function needs. Unset fields
// are NaN; use NewCalibrationParams to start from an all-unset record.
type CalibrationParams struct {
	// Planck constants of the camera.
	R, B, F, J0, J1 float64
	// Atmospheric transmission constants of the camera.
	X, Alpha1, Alpha2, Beta1, Beta2 float64

	Emissivity       float64 // 0 < E <= 1
	ReflectedTempC   float64 // apparent reflected temperature, °C
	AtmosphericTempC float64 // air temperature, °C
	RelativeHumidity float64 // percent, 0..100
	DistanceM        float64 // object distance, metres
}

// NewCalibrationParams returns a record with every field unset.
func NewCalibrationParams() CalibrationParams {
	nan := math.NaN()
	return CalibrationParams{
		R: nan, B: nan, F: nan, J0: nan, J1: nan,
		X: nan, Alpha1: nan, Alpha2: nan, Beta1: nan, Beta2: nan,
		Emissivity: nan, ReflectedTempC: nan, AtmosphericTempC: nan,
		RelativeHumidity: nan, DistanceM: nan,
	}
}

// Validate fails with MissingParameterError listing every unset field, or
// with a plain error when a present value is out of its physical range.
func (p CalibrationParams) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"calibration_R", p.R},
		{"calibration_B", p.B},
		{"calibration_F", p.F},
		{"calibration_J0", p.J0},
		{"calibration_J1", p.J1},
		{"calibration_X", p.X},
		{"calibration_alpha1", p.Alpha1},
		{"calibration_alpha2", p.Alpha2},
		{"calibration_beta1", p.Beta1},
		{"calibration_beta2", p.Beta2},
		{"emissivity", p.Emissivity},
		{"reflected_temperature", p.ReflectedTempC},
		{"atmospheric_temperature", p.AtmosphericTempC},
		{"relative_humidity", p.RelativeHumidity},
		{"object_distance", p.DistanceM},
	}

	var missing []string
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingParameterError{Fields: missing}
	}

	if p.Emissivity <= 0 || p.Emissivity > 1 {
		return fmt.Errorf("calibration: emissivity %g outside (0, 1]", p.Emissivity)
	}
	if p.RelativeHumidity < 0 || p.RelativeHumidity > 100 {
		return fmt.Errorf("calibration: relative humidity %g%% outside [0, 100]", p.RelativeHumidity)
	}
	if p.DistanceM < 0 {
		return fmt.Errorf("calibration: negative object distance %g", p.DistanceM)
	}
	return nil
}

// Transmission returns the atmospheric transmission tau for the path between
// the camera and the object.
func (p CalibrationParams) Transmission() float64 {
	ta := p.AtmosphericTempC
	h2o := (p.RelativeHumidity / 100) * math.Exp(h2oK1+h2oK2*ta+h2oK3*ta*ta+h2oK4*ta*ta*ta)
	sqrtD := math.Sqrt(p.DistanceM)
	sqrtH2O := math.Sqrt(h2o)
	return p.X*math.Exp(-sqrtD*(p.Alpha1+p.Beta1*sqrtH2O)) +
		(1-p.X)*math.Exp(-sqrtD*(p.Alpha2+p.Beta2*sqrtH2O))
}

// BlackbodyCounts returns the count a perfect emitter at tempC would produce.
func (p CalibrationParams) BlackbodyCounts(tempC float64) float64 {
	return p.R*p.J1/(math.Exp(p.B/(tempC+kelvinOffset))-p.F) + p.J0
}

// TemperatureGrid holds per-pixel temperatures in degrees Celsius.
type TemperatureGrid struct {
	Height  int
	Width   int
	Celsius []float64
}

func (g *TemperatureGrid) Dims() (int, int) { return g.Height, g.Width }

// Values returns the backing slice. Callers must not modify it.
func (g *TemperatureGrid) Values() []float64 { return g.Celsius }

// At returns the temperature at row r, column c.
func (g *TemperatureGrid) At(r, c int) float64 {
	return g.Celsius[r*g.Width+c]
}

// ConvertToTemperature applies the radiometric transfer function to every
// pixel of frame. The result has the frame's dimensions and is either fully
// populated or not returned at all.
func ConvertToTemperature(frame *RawFrame, p CalibrationParams) (*TemperatureGrid, error) {
	if frame == nil {
		return nil, &InvalidGeometryError{Reason: "nil frame"}
	}
	if frame.Height <= 0 || frame.Width <= 0 || len(frame.Counts) != frame.Height*frame.Width {
		return nil, &InvalidGeometryError{
			Reason: fmt.Sprintf("%d values for %dx%d frame", len(frame.Counts), frame.Height, frame.Width),
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	conv := newConverter(p)
	out := make([]float64, len(frame.Counts))
	for i, s := range frame.Counts {
		out[i] = conv.temperature(s)
	}
	return &TemperatureGrid{Height: frame.Height, Width: frame.Width, Celsius: out}, nil
}

// converter caches the per-frame terms of the transfer function.
type converter struct {
	b, f, j0, rj1 float64
	offset        float64 // reflected + atmospheric contribution, counts
	gain          float64 // E * tau
}

func newConverter(p CalibrationParams) converter {
	tau := p.Transmission()
	reflected := (1 - p.Emissivity) * tau * p.BlackbodyCounts(p.ReflectedTempC)
	atmospheric := (1 - tau) * p.BlackbodyCounts(p.AtmosphericTempC)
	return converter{
		b:      p.B,
		f:      p.F,
		j0:     p.J0,
		rj1:    p.R * p.J1,
		offset: reflected + atmospheric,
		gain:   p.Emissivity * tau,
	}
}

func (c converter) temperature(count float64) float64 {
	obj := (count - c.offset) / c.gain
	if obj <= c.j0 {
		return math.NaN()
	}
	return c.b/math.Log(c.rj1/(obj-c.j0)+c.f) - kelvinOffset
}
