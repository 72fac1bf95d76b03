// Package thermal converts raw FLIR thermal-camera frames into calibrated
// temperature grids.
//
// # Raw frames
//
// The camera writes one frame per capture as a flat array of little-endian
// unsigned 16-bit digital counts, row-major, at the sensor's native geometry
// (480 rows × 640 columns for the gantry FLIR). The sensor is mounted rotated
// relative to the field, so every frame is rotated once at load time:
//
//	rotation 270 (counter-clockwise) == 90° clockwise
//	out[i][j] = in[H-1-j][i], output is W rows × H columns
//
// Counts are widened to float64 so downstream math never truncates.
//
// # Calibration
//
// Counts are proportional to received radiance. The converter inverts the
// FLIR atmospheric transmission model:
//
//	h2o  = RH · exp(1.5587 + 0.06939·Ta − 0.00027816·Ta² + 0.00000068455·Ta³)
//	tau  = X·exp(−√D·(α1 + β1·√h2o)) + (1−X)·exp(−√D·(α2 + β2·√h2o))
//	L(T) = R·J1 / (exp(B/(T+273.15)) − F) + J0
//	obj  = (S − (1−E)·tau·L(Tr) − (1−tau)·L(Ta)) / (E·tau)
//	T    = B / ln(R·J1/(obj − J0) + F) − 273.15
//
// where R, B, F, J0, J1 are the camera's Planck constants, X, α1, α2, β1, β2
// its atmospheric constants, E the emissivity, Tr/Ta the reflected and
// atmospheric temperatures in °C, RH the relative humidity as a fraction and
// D the object distance in metres. Output is degrees Celsius.
//
// Pixels whose corrected count falls at or below J0 have no physical
// temperature and are reported as NaN.
package thermal
