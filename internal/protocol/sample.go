package protocol

import "math/bits"

// TrainerSample is one decoded trainer reading.
// A zero field means "not reported in this frame", which cannot be told apart from a reported zero.
type TrainerSample struct {
	Connected  bool
	DeviceName string
	PowerWatts int     // signed, 1 W resolution
	CadenceRpm float64 // 0.5 rpm resolution
	SpeedKph   float64 // 0.01 km/h resolution
}

// HasData reports whether any numeric field is non-zero
func (s TrainerSample) HasData() bool {
	return s.PowerWatts != 0 || s.CadenceRpm != 0 || s.SpeedKph != 0
}

// Field is a bitmask over the three numeric TrainerSample fields
type Field uint8

const (
	FieldSpeed Field = 1 << iota
	FieldCadence
	FieldPower
)

// Measurement is a decoder result: the sample plus how it was obtained.
type Measurement struct {
	Kind   Kind
	Sample TrainerSample
	// Present holds the fields whose flag bit was set and whose bytes were available
	Present Field
	// Heuristic holds the fields recovered by RescanTrailing rather than by the flags
	Heuristic Field
	// Fallback is set when Disambiguate chose the decoder that does not match the connected service
	Fallback bool
}

func (m Measurement) nonZero() Field {
	var f Field
	if m.Sample.SpeedKph != 0 {
		f |= FieldSpeed
	}
	if m.Sample.CadenceRpm != 0 {
		f |= FieldCadence
	}
	if m.Sample.PowerWatts != 0 {
		f |= FieldPower
	}
	return f
}

// Confidence scores how much real data the measurement carries.
// Flag-directed non-zero fields count 2, heuristic ones count 1.
func (m Measurement) Confidence() int {
	nz := m.nonZero()
	direct := nz & m.Present &^ m.Heuristic
	guessed := nz & m.Heuristic
	return 2*bits.OnesCount8(uint8(direct)) + bits.OnesCount8(uint8(guessed))
}
