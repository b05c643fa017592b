package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIndoorBikeData_PowerOnly(t *testing.T) {
	// -25 W as int16
	m, ok := DecodeIndoorBikeData([]byte{0x40, 0xE7, 0xFF})
	require.True(t, ok)

	assert.Equal(t, KindIndoorBikeData, m.Kind)
	assert.True(t, m.Sample.Connected)
	assert.Equal(t, -25, m.Sample.PowerWatts)
	assert.Zero(t, m.Sample.CadenceRpm)
	assert.Zero(t, m.Sample.SpeedKph)
	assert.Equal(t, FieldPower, m.Present)
	assert.Zero(t, m.Heuristic)
}

func TestDecodeIndoorBikeData_SpeedAndCadence(t *testing.T) {
	// speed 2550 * 0.01 = 25.5 km/h, cadence 180 * 0.5 = 90 rpm
	m, ok := DecodeIndoorBikeData([]byte{0x05, 0xF6, 0x09, 0xB4, 0x00})
	require.True(t, ok)

	assert.InDelta(t, 25.5, m.Sample.SpeedKph, 0.0001)
	assert.InDelta(t, 90.0, m.Sample.CadenceRpm, 0.0001)
	assert.Zero(t, m.Sample.PowerWatts)
	assert.Equal(t, FieldSpeed|FieldCadence, m.Present)
}

func TestDecodeIndoorBikeData_SkipsUnusedFields(t *testing.T) {
	// avg speed, total distance and resistance present ahead of power
	buf := []byte{
		0x72,             // bits 1, 4, 5, 6
		0x10, 0x00,       // average speed
		0x01, 0x02, 0x03, // total distance
		0x05, 0x00,       // resistance
		0xC8, 0x00,       // 200 W
	}
	m, ok := DecodeIndoorBikeData(buf)
	require.True(t, ok)
	assert.Equal(t, 200, m.Sample.PowerWatts)
	assert.Zero(t, m.Sample.SpeedKph)
}

func TestDecodeIndoorBikeData_TruncatedFieldStopsParsing(t *testing.T) {
	// speed and power flagged but only speed fits
	m, ok := DecodeIndoorBikeData([]byte{0x41, 0x64, 0x00, 0x10})
	require.True(t, ok)
	assert.InDelta(t, 1.0, m.Sample.SpeedKph, 0.0001)
	assert.Zero(t, m.Sample.PowerWatts)
	assert.Equal(t, FieldSpeed, m.Present)
}

func TestDecodeIndoorBikeData_TooShort(t *testing.T) {
	_, ok := DecodeIndoorBikeData([]byte{0x40})
	assert.False(t, ok)

	_, ok = DecodeIndoorBikeData(nil)
	assert.False(t, ok)
}

func TestDecodeIndoorBikeData_RescanRecoversTrailingFields(t *testing.T) {
	// flags claim speed only; cadence and power follow unannounced
	buf := []byte{
		0x01,
		0xE8, 0x03, // 10 km/h
		0xAA, 0x00, // 85 rpm
		0x00, 0x00,
		0x96, 0x00, // 150 W
	}
	m, ok := DecodeIndoorBikeData(buf)
	require.True(t, ok)

	assert.InDelta(t, 10.0, m.Sample.SpeedKph, 0.0001)
	assert.InDelta(t, 85.0, m.Sample.CadenceRpm, 0.0001)
	assert.Equal(t, 150, m.Sample.PowerWatts)
	assert.Equal(t, FieldSpeed, m.Present)
	assert.Equal(t, FieldCadence|FieldPower, m.Heuristic)
}

func TestRescanTrailing_RejectsImplausibleValues(t *testing.T) {
	buf := []byte{0x00, 0x02, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0x50, 0xC3}
	m := RescanTrailing(buf, 1, Measurement{Kind: KindIndoorBikeData})

	// 1 rpm, 0 rpm and 32767.5 rpm are all out of range; 0xC350 is 50000 W unsigned and negative signed
	assert.Zero(t, m.Sample.CadenceRpm)
	assert.Zero(t, m.Sample.PowerWatts)
	assert.Zero(t, m.Heuristic)
}

func TestRescanTrailing_KeepsDecodedValues(t *testing.T) {
	in := Measurement{Sample: TrainerSample{CadenceRpm: 70, PowerWatts: 120}}
	out := RescanTrailing([]byte{0x00, 0xAA, 0x00, 0x00, 0x00, 0x96, 0x00}, 1, in)
	assert.Equal(t, in, out)
}

func TestDecodeIndoorBikeData_Idempotent(t *testing.T) {
	buf := []byte{0x45, 0x10, 0x27, 0xA0, 0x00, 0xFA, 0x00}
	first, ok1 := DecodeIndoorBikeData(buf)
	second, ok2 := DecodeIndoorBikeData(buf)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}
