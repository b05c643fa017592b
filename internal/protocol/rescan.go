package protocol

import "encoding/binary"

// Plausibility bounds for RescanTrailing. These were tuned against a single trainer whose
// flags did not describe its payload; they are not protocol values.
const (
	minPlausibleCadenceRpm = 5
	maxPlausibleCadenceRpm = 200
	minPlausiblePowerWatts = 5
	maxPlausiblePowerWatts = 1999

	cadenceWindowStart = 0
	cadenceWindowEnd   = 6
	powerWindowStart   = 4
	powerWindowEnd     = 8
)

// RescanTrailing is a best-effort recovery pass over the bytes left after the flag walk.
// For a zero cadence it tries 2-byte values in [offset, offset+6); for a zero power it tries
// [offset+4, offset+8), signed then unsigned. The first plausible value wins. Recovered
// fields are recorded in Measurement.Heuristic.
func RescanTrailing(buf []byte, offset int, m Measurement) Measurement {
	if m.Sample.CadenceRpm == 0 {
		if rpm, ok := scanCadence(buf, offset+cadenceWindowStart, offset+cadenceWindowEnd); ok {
			m.Sample.CadenceRpm = rpm
			m.Heuristic |= FieldCadence
		}
	}
	if m.Sample.PowerWatts == 0 {
		if watts, ok := scanPower(buf, offset+powerWindowStart, offset+powerWindowEnd); ok {
			m.Sample.PowerWatts = watts
			m.Heuristic |= FieldPower
		}
	}
	return m
}

func scanCadence(buf []byte, from, to int) (float64, bool) {
	for p := from; p+2 <= to && p+2 <= len(buf); p += 2 {
		rpm := float64(binary.LittleEndian.Uint16(buf[p:])) * cadenceResolutionRpm
		if rpm >= minPlausibleCadenceRpm && rpm <= maxPlausibleCadenceRpm {
			return rpm, true
		}
	}
	return 0, false
}

func scanPower(buf []byte, from, to int) (int, bool) {
	for p := from; p+2 <= to && p+2 <= len(buf); p += 2 {
		raw := binary.LittleEndian.Uint16(buf[p:])
		if w := int(int16(raw)); plausiblePower(w) {
			return w, true
		}
		if w := int(raw); plausiblePower(w) {
			return w, true
		}
	}
	return 0, false
}

func plausiblePower(w int) bool {
	return w >= minPlausiblePowerWatts && w <= maxPlausiblePowerWatts
}
