package protocol

import "encoding/binary"

// Cycling Power Measurement flag bits
const (
	cpFlagPedalPowerBalance        = 1 << 0
	cpFlagAccumulatedTorque        = 1 << 2
	cpFlagWheelRevolutionData      = 1 << 4
	cpFlagCrankRevolutionData      = 1 << 5
	cpFlagExtremeForceMagnitudes   = 1 << 6
	cpFlagExtremeTorqueMagnitudes  = 1 << 7
	cpFlagExtremeAngles            = 1 << 8
	cpFlagTopDeadSpotAngle         = 1 << 9
	cpFlagBottomDeadSpotAngle      = 1 << 10
	cpFlagAccumulatedEnergy        = 1 << 11
	cyclingPowerMinFrameLen        = 4
	cyclingPowerWheelDataWidth     = 6
	cyclingPowerCrankDataWidth     = 4
	cyclingPowerInstantaneousWidth = 2
)

// CyclingPowerMeasurement holds the raw fields of a Cycling Power Measurement frame
// that the trainer pipeline cares about.
type CyclingPowerMeasurement struct {
	Flags      uint16
	PowerWatts int16

	HasWheelData               bool
	CumulativeWheelRevolutions uint32
	LastWheelEventTime         uint16 // 1/2048 s

	HasCrankData               bool
	CumulativeCrankRevolutions uint16
	LastCrankEventTime         uint16 // 1/1024 s
}

// optional fields after instantaneous power, in wire order
var cyclingPowerLayout = []struct {
	flag  uint16
	width int
}{
	{cpFlagPedalPowerBalance, 1},
	{cpFlagAccumulatedTorque, 2},
	{cpFlagWheelRevolutionData, cyclingPowerWheelDataWidth},
	{cpFlagCrankRevolutionData, cyclingPowerCrankDataWidth},
	{cpFlagExtremeForceMagnitudes, 4},
	{cpFlagExtremeTorqueMagnitudes, 4},
	{cpFlagExtremeAngles, 3},
	{cpFlagTopDeadSpotAngle, 2},
	{cpFlagBottomDeadSpotAngle, 2},
	{cpFlagAccumulatedEnergy, 2},
}

// ParseCyclingPower reads the 16-bit flags, the signed instantaneous power and any
// wheel and crank revolution data. Frames shorter than 4 bytes fail.
func ParseCyclingPower(buf []byte) (CyclingPowerMeasurement, bool) {
	if len(buf) < cyclingPowerMinFrameLen {
		return CyclingPowerMeasurement{}, false
	}

	cp := CyclingPowerMeasurement{
		Flags:      binary.LittleEndian.Uint16(buf[0:2]),
		PowerWatts: int16(binary.LittleEndian.Uint16(buf[2:4])),
	}

	offset := 2 + cyclingPowerInstantaneousWidth
	for _, f := range cyclingPowerLayout {
		if cp.Flags&f.flag == 0 {
			continue
		}
		if offset+f.width > len(buf) {
			break
		}
		switch f.flag {
		case cpFlagWheelRevolutionData:
			cp.HasWheelData = true
			cp.CumulativeWheelRevolutions = binary.LittleEndian.Uint32(buf[offset:])
			cp.LastWheelEventTime = binary.LittleEndian.Uint16(buf[offset+4:])
		case cpFlagCrankRevolutionData:
			cp.HasCrankData = true
			cp.CumulativeCrankRevolutions = binary.LittleEndian.Uint16(buf[offset:])
			cp.LastCrankEventTime = binary.LittleEndian.Uint16(buf[offset+2:])
		}
		offset += f.width
	}
	return cp, true
}

// DecodeCyclingPower decodes a Cycling Power Measurement into a sample carrying power only.
// Cadence and speed need two frames; see RevolutionTracker.
func DecodeCyclingPower(buf []byte) (Measurement, bool) {
	cp, ok := ParseCyclingPower(buf)
	if !ok {
		return Measurement{}, false
	}
	return Measurement{
		Kind: KindCyclingPower,
		Sample: TrainerSample{
			Connected:  true,
			PowerWatts: int(cp.PowerWatts),
		},
		Present: FieldPower,
	}, true
}
