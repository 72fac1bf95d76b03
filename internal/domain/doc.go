// Package domain models gantry thermal-camera datasets and the events that
// describe them.
//
// # Data Source
//
// Each capture of the field scanner's FLIR camera is stored as a dataset
// holding one raw frame ("<capture>_ir.bin") and its cleaned TERRA-REF
// metadata, either as a sibling "<capture>_metadata.json", as an exported
// "<dataset>_dataset_metadata.json" list, or attached to the dataset and
// delivered inline on the event. The bare "_metadata.json" upload is raw
// instrument output and is never used.
//
// # Metadata Conventions
//
// Metadata values arrive as JSON numbers or as numeric strings; both are
// accepted (see [Number]). An absent value stays absent: calibration is
// never defaulted, so a capture with incomplete metadata fails instead of
// producing plausible but wrong temperatures.
//
//	gantry_variable_metadata:
//	  datetime      "MM/DD/YYYY hh:mm:ss" or RFC 3339, UTC
//	  position_m    {x, y, z} gantry position in the field frame, metres
//	sensor_fixed_metadata:
//	  sensor_id                 camera id, default "flirIrCamera"
//	  calibration_R .. _beta2   Planck and atmospheric constants
//	  location_in_camera_box_m  optional mounting override
//	  field_of_view_at_2m_m     optional footprint override
//	sensor_variable_metadata:
//	  emissivity, reflected_temperature, atmospheric_temperature (°C),
//	  relative_humidity (%), object_distance (m)
//
// # Field Frame
//
// Gantry x grows northward and y grows westward from the field origin
// ([DefaultFieldOrigin]). A frame's footprint is centred on the gantry
// position plus the camera-box offset and sized by the camera's field of view
// at 2 m scaled to its height above ground. Metric offsets are converted to
// degrees with a local equirectangular approximation, which is accurate to
// millimetres over the extent of a field.
package domain
