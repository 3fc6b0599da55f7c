// Package status defines the canonical status-code space shared by all
// protocol handlers. Device-specific event codes are translated into these
// values before an event is stored, so reports and rules see one uniform
// code set regardless of device family.
package status

// Sentinel codes. Ignore drops the event entirely; None lets the
// normalizer pick Location or MotionInMotion based on speed.
const (
	Ignore = -1
	None   = 0x0000
)

// Canonical status codes
const (
	Location = 0xF020 // simple location report
	Waymark  = 0xF030 // operator-initiated waymark

	MotionStart    = 0xF111
	MotionInMotion = 0xF112
	MotionStop     = 0xF113
	MotionDormant  = 0xF116

	GeofenceArrive = 0xF210
	GeofenceDepart = 0xF230

	InputOn  = 0xF402 // generic input state change, specific bit unknown
	InputOff = 0xF404

	PanicOn    = 0xF841
	BatteryLow = 0xFD10
	PowerFail  = 0xFD13
)

// Per-bit digital input codes, one on/off pair for each of 16 inputs
const (
	InputOn00  = 0xF420
	InputOff00 = 0xF440

	maxInputBit = 15
)

// InputStatusCode returns the canonical code for a digital input transition
// on the given bit index. Bits outside [0,15] return None.
func InputStatusCode(bit int, on bool) int {
	if bit < 0 || bit > maxInputBit {
		return None
	}
	if on {
		return InputOn00 + bit
	}
	return InputOff00 + bit
}

// IsGeozoneTransition reports whether a code is a synthesized zone event
func IsGeozoneTransition(code int) bool {
	return code == GeofenceArrive || code == GeofenceDepart
}

// IsDigitalInput reports whether a code is a per-bit input transition
func IsDigitalInput(code int) bool {
	return (code >= InputOn00 && code <= InputOn00+maxInputBit) ||
		(code >= InputOff00 && code <= InputOff00+maxInputBit)
}

var descriptions = map[int]string{
	Location:       "Location",
	Waymark:        "Waymark",
	MotionStart:    "Start",
	MotionInMotion: "InMotion",
	MotionStop:     "Stop",
	MotionDormant:  "Dormant",
	GeofenceArrive: "Arrive",
	GeofenceDepart: "Depart",
	InputOn:        "InputOn",
	InputOff:       "InputOff",
	PanicOn:        "Panic",
	BatteryLow:     "BatteryLow",
	PowerFail:      "PowerFail",
}

// Description returns a short human-readable name for a canonical code
func Description(code int) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	if IsDigitalInput(code) {
		if code >= InputOff00 {
			return "InputOff"
		}
		return "InputOn"
	}
	return "Unknown"
}
