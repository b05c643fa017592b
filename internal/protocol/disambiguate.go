package protocol

// ftmsFlagsCeiling is the first-byte threshold GuessKind uses. Indoor Bike Data flags on the
// trainers seen so far stay below it while Cycling Power flags do not.
const ftmsFlagsCeiling = 0x20

// Decode runs the decoder for kind
func Decode(kind Kind, buf []byte) (Measurement, bool) {
	switch kind {
	case KindIndoorBikeData:
		return DecodeIndoorBikeData(buf)
	case KindCyclingPower:
		return DecodeCyclingPower(buf)
	default:
		return Measurement{}, false
	}
}

// GuessKind picks a layout from the first byte when the originating service is unknown
func GuessKind(buf []byte) Kind {
	if len(buf) == 0 {
		return KindUnknown
	}
	if buf[0] < ftmsFlagsCeiling {
		return KindIndoorBikeData
	}
	return KindCyclingPower
}

// Disambiguate decodes a trainer frame whose layout may not match the service it arrived on.
// The primary decoder runs first; if it fails or yields no non-zero field, the other decoder
// is tried and the result with the higher Confidence wins. Ties go to the primary.
// KindUnknown falls back to GuessKind.
func Disambiguate(primary Kind, buf []byte) (Measurement, bool) {
	if primary == KindUnknown {
		primary = GuessKind(buf)
		if primary == KindUnknown {
			return Measurement{}, false
		}
	}

	first, firstOK := Decode(primary, buf)
	if firstOK && first.Sample.HasData() {
		return first, true
	}

	second, secondOK := Decode(primary.Other(), buf)
	if !secondOK || !second.Sample.HasData() {
		return first, firstOK
	}
	if firstOK && first.Confidence() >= second.Confidence() {
		return first, true
	}
	second.Fallback = true
	return second, true
}
