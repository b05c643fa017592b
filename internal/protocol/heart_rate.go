package protocol

const hrFlagValueFormatUint16 = 1 << 0

// DecodeHeartRate decodes a Heart Rate Measurement frame into beats per minute.
// Bit 0 of the flags selects an 8-bit or a little-endian 16-bit value. Frames too short
// for the selected format and a value of 0 produce nothing.
func DecodeHeartRate(buf []byte) (int, bool) {
	if len(buf) < 2 {
		return 0, false
	}

	var bpm int
	if buf[0]&hrFlagValueFormatUint16 != 0 {
		if len(buf) < 3 {
			return 0, false
		}
		bpm = int(uint16(buf[1]) | uint16(buf[2])<<8)
	} else {
		bpm = int(buf[1])
	}

	if bpm == 0 {
		return 0, false
	}
	return bpm, true
}
