package domain

import (
	"fmt"
	"math"
	"sort"

	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
)

// DefaultSensorID is the gantry-mounted FLIR thermal camera.
const DefaultSensorID = "flirIrCamera"

// metersPerDegree is the length of one degree of latitude on the WGS-84
// equatorial sphere.
const metersPerDegree = math.Pi * 6378137 / 180

// FieldOrigin anchors the gantry's local metric frame to WGS-84. Gantry x
// grows northward and y grows westward from this point.
type FieldOrigin struct {
	Lat float64
	Lon float64
}

// DefaultFieldOrigin is the south-east corner of the Maricopa field scanner,
// the gantry reference point TERRA-REF's terrautils uses for gantry-to-GPS
// conversion. FIELD_ORIGIN_LAT and FIELD_ORIGIN_LON override it.
var DefaultFieldOrigin = FieldOrigin{Lat: 33.0745, Lon: -111.97496}

// SensorGeometry places a camera relative to the gantry and describes its
// footprint.
type SensorGeometry struct {
	// Camera position within the camera box, metres.
	OffsetX, OffsetY, OffsetZ float64
	// Footprint at 2 m range along field x and y, metres.
	FOVXAt2M, FOVYAt2M float64
}

// sensorGeometries holds the values TERRA-REF publishes in each camera's
// sensor fixed metadata (location_in_camera_box_m, field_of_view_at_2m_m).
// A scan that carries those fields uses its own values instead.
var sensorGeometries = map[string]SensorGeometry{
	DefaultSensorID: {
		OffsetX: 0.877, OffsetY: 2.276, OffsetZ: 0.578,
		FOVXAt2M: 0.887, FOVYAt2M: 0.669,
	},
}

// LookupSensorGeometry returns the registered geometry for a camera id.
func LookupSensorGeometry(sensorID string) (SensorGeometry, bool) {
	g, ok := sensorGeometries[sensorID]
	return g, ok
}

// KnownSensors lists the registered camera ids.
func KnownSensors() []string {
	ids := make([]string, 0, len(sensorGeometries))
	for id := range sensorGeometries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sensorGeometry starts from the registry entry for the camera and lets the
// scan's own fixed metadata override it.
func (m *ScanMetadata) sensorGeometry(sensorID string) (SensorGeometry, error) {
	g, ok := LookupSensorGeometry(sensorID)

	if box := m.SensorFixed.LocationInCameraBoxM; box != nil && box.X.Valid && box.Y.Valid && box.Z.Valid {
		g.OffsetX, g.OffsetY, g.OffsetZ = box.X.Value, box.Y.Value, box.Z.Value
		ok = true
	}
	if fov := m.SensorFixed.FieldOfViewAt2M; fov != nil && fov.X.Valid && fov.Y.Valid {
		g.FOVXAt2M, g.FOVYAt2M = fov.X.Value, fov.Y.Value
	} else if !ok {
		return SensorGeometry{}, fmt.Errorf("geo bounds: unknown sensor %q", sensorID)
	}
	if g.FOVXAt2M <= 0 || g.FOVYAt2M <= 0 {
		return SensorGeometry{}, fmt.Errorf("geo bounds: sensor %q has no field of view", sensorID)
	}
	return g, nil
}

// CalculateGeoBounds derives the frame's WGS-84 footprint from the gantry
// position and the camera geometry. sensorID empty means the metadata's own
// id. The footprint scales linearly with camera height above ground.
func CalculateGeoBounds(m *ScanMetadata, sensorID string, origin FieldOrigin) (raster.GeoBounds, error) {
	if sensorID == "" {
		sensorID = m.SensorID()
	}
	pos := m.Gantry.PositionM
	var missing []string
	for _, f := range []struct {
		name string
		n    Number
	}{{"position_x", pos.X}, {"position_y", pos.Y}, {"position_z", pos.Z}} {
		if !f.n.Valid {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return raster.GeoBounds{}, &thermal.MissingParameterError{Fields: missing}
	}

	g, err := m.sensorGeometry(sensorID)
	if err != nil {
		return raster.GeoBounds{}, err
	}

	height := pos.Z.Value + g.OffsetZ
	if height <= 0 {
		return raster.GeoBounds{}, fmt.Errorf("geo bounds: camera height %.3f m is not above ground", height)
	}
	halfX := g.FOVXAt2M * height / 2 / 2
	halfY := g.FOVYAt2M * height / 2 / 2
	cx := pos.X.Value + g.OffsetX
	cy := pos.Y.Value + g.OffsetY

	south, north := origin.latAt(cx-halfX), origin.latAt(cx+halfX)
	// y grows westward, so the larger y is the smaller longitude.
	west, east := origin.lonAt(cy+halfY), origin.lonAt(cy-halfY)

	b := raster.GeoBounds{LatMin: south, LatMax: north, LonMin: west, LonMax: east}
	if err := b.Validate(); err != nil {
		return raster.GeoBounds{}, err
	}
	return b, nil
}

func (o FieldOrigin) latAt(xNorth float64) float64 {
	return o.Lat + xNorth/metersPerDegree
}

func (o FieldOrigin) lonAt(yWest float64) float64 {
	return o.Lon - yWest/(metersPerDegree*math.Cos(o.Lat*math.Pi/180))
}
