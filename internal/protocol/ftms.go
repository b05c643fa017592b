package protocol

import "encoding/binary"

// Indoor Bike Data flag bits as this decoder reads them: a single flags byte.
// Bit 0 SET means Instantaneous Speed is present.
const (
	ibdFlagInstantaneousSpeed   = 1 << 0
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
)

type ibdField struct {
	flag  byte
	width int
	keep  Field // 0 for fields that only advance the offset
}

// indoorBikeDataLayout is the fixed field order. Every flagged field is consumed,
// kept or not, so later fields land on the right offset.
var indoorBikeDataLayout = []ibdField{
	{ibdFlagInstantaneousSpeed, 2, FieldSpeed},
	{ibdFlagAverageSpeed, 2, 0},
	{ibdFlagInstantaneousCadence, 2, FieldCadence},
	{ibdFlagAverageCadence, 2, 0},
	{ibdFlagTotalDistance, 3, 0},
	{ibdFlagResistanceLevel, 2, 0},
	{ibdFlagInstantaneousPower, 2, FieldPower},
	{ibdFlagAveragePower, 2, 0},
}

const (
	speedResolutionKph   = 0.01
	cadenceResolutionRpm = 0.5
)

// DecodeIndoorBikeData decodes an FTMS Indoor Bike Data frame.
// Frames shorter than 2 bytes produce nothing. A flagged field that does not fit in the
// remaining bytes ends parsing without an error.
func DecodeIndoorBikeData(buf []byte) (Measurement, bool) {
	if len(buf) < 2 {
		return Measurement{}, false
	}

	m := Measurement{
		Kind:   KindIndoorBikeData,
		Sample: TrainerSample{Connected: true},
	}
	flags := buf[0]
	offset := 1

	for _, f := range indoorBikeDataLayout {
		if flags&f.flag == 0 {
			continue
		}
		if offset+f.width > len(buf) {
			break
		}
		raw := buf[offset : offset+f.width]
		switch f.keep {
		case FieldSpeed:
			m.Sample.SpeedKph = float64(binary.LittleEndian.Uint16(raw)) * speedResolutionKph
		case FieldCadence:
			m.Sample.CadenceRpm = float64(binary.LittleEndian.Uint16(raw)) * cadenceResolutionRpm
		case FieldPower:
			m.Sample.PowerWatts = int(int16(binary.LittleEndian.Uint16(raw)))
		}
		m.Present |= f.keep
		offset += f.width
	}

	if offset < len(buf) && (m.Sample.CadenceRpm == 0 || m.Sample.PowerWatts == 0) {
		m = RescanTrailing(buf, offset, m)
	}
	return m, true
}
