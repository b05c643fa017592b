package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

func testTrainerConfig(pollInterval time.Duration) TrainerSessionConfig {
	config := DefaultTrainerSessionConfig()
	config.PollInterval = pollInterval
	return config
}

// cpCrankFrame is a Cycling Power Measurement with crank revolution data
func cpCrankFrame(power int16, revs uint16, eventTime uint16) []byte {
	return []byte{
		0x20, 0x00,
		byte(power), byte(uint16(power) >> 8),
		byte(revs), byte(revs >> 8),
		byte(eventTime), byte(eventTime >> 8),
	}
}

func TestTrainerSession_FTMS(t *testing.T) {
	p, char := newFTMSTrainer("kickr")
	session := NewTrainerSession(testLogger(), testTrainerConfig(noPollInterval))
	samples := make(chan protocol.TrainerSample, 10)
	session.Listen(samples)

	require.NoError(t, session.ConnectDevice(context.Background(), p.Handle()))
	defer session.Disconnect()
	assert.Equal(t, protocol.KindIndoorBikeData, session.Kind())

	require.True(t, char.Push(bt.EncodeIndoorBikeData(32.4, 90, 245)))
	sample := receiveWithin(t, samples, time.Second)

	assert.True(t, sample.Connected)
	assert.Equal(t, "Trainer kickr", sample.DeviceName)
	assert.Equal(t, 245, sample.PowerWatts)
	assert.InDelta(t, 90.0, sample.CadenceRpm, 0.001)
	assert.InDelta(t, 32.4, sample.SpeedKph, 0.001)
}

func TestTrainerSession_FTMSPolling(t *testing.T) {
	p, char := newFTMSTrainer("kickr")
	char.SetValue([]byte{0x40, 0x96, 0x00})
	session := NewTrainerSession(testLogger(), testTrainerConfig(testPollInterval))
	samples := make(chan protocol.TrainerSample, 100)
	session.Listen(samples)

	require.NoError(t, session.ConnectDevice(context.Background(), p.Handle()))
	defer session.Disconnect()

	// identical polled frames are all delivered
	assert.Equal(t, 150, receiveWithin(t, samples, time.Second).PowerWatts)
	assert.Equal(t, 150, receiveWithin(t, samples, time.Second).PowerWatts)
}

func TestTrainerSession_MislabelledFrameFallsBack(t *testing.T) {
	p, char := newFTMSTrainer("odd")
	session := NewTrainerSession(testLogger(), testTrainerConfig(noPollInterval))
	samples := make(chan protocol.TrainerSample, 10)
	session.Listen(samples)

	require.NoError(t, session.ConnectDevice(context.Background(), p.Handle()))
	defer session.Disconnect()

	// Cycling Power layout on the Indoor Bike Data characteristic
	require.True(t, char.Push([]byte{0x00, 0x00, 0xC8, 0x00}))
	sample := receiveWithin(t, samples, time.Second)
	assert.Equal(t, 200, sample.PowerWatts)
	assert.Equal(t, "Trainer odd", sample.DeviceName)
}

func TestTrainerSession_CyclingPowerDerivesCadence(t *testing.T) {
	p, char := newCPTrainer("quarq")
	session := NewTrainerSession(testLogger(), testTrainerConfig(noPollInterval))
	samples := make(chan protocol.TrainerSample, 10)
	session.Listen(samples)

	require.NoError(t, session.ConnectDevice(context.Background(), p.Handle()))
	defer session.Disconnect()
	assert.Equal(t, protocol.KindCyclingPower, session.Kind())

	require.True(t, char.Push(cpCrankFrame(210, 100, 1024)))
	first := receiveWithin(t, samples, time.Second)
	assert.Equal(t, 210, first.PowerWatts)
	assert.Zero(t, first.CadenceRpm)

	// 3 revolutions in 2 s
	require.True(t, char.Push(cpCrankFrame(220, 103, 1024+2048)))
	second := receiveWithin(t, samples, time.Second)
	assert.Equal(t, 220, second.PowerWatts)
	assert.InDelta(t, 90.0, second.CadenceRpm, 0.001)
}

func TestTrainerSession_CyclingPowerWithoutDerivation(t *testing.T) {
	p, char := newCPTrainer("quarq")
	config := testTrainerConfig(noPollInterval)
	config.DeriveCadence = false
	session := NewTrainerSession(testLogger(), config)
	samples := make(chan protocol.TrainerSample, 10)
	session.Listen(samples)

	require.NoError(t, session.ConnectDevice(context.Background(), p.Handle()))
	defer session.Disconnect()

	require.True(t, char.Push(cpCrankFrame(210, 100, 1024)))
	require.True(t, char.Push(cpCrankFrame(220, 103, 1024+2048)))
	receiveWithin(t, samples, time.Second)
	assert.Zero(t, receiveWithin(t, samples, time.Second).CadenceRpm)
}

func TestTrainerSession_AdoptedCyclingPower(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, char := newCPTrainer("quarq")
	transport.AddPeripheral(p)

	role, conn := newTestProber(transport).Probe(context.Background(), p.Handle())
	require.Equal(t, RoleTrainer, role)

	session := NewTrainerSession(testLogger(), testTrainerConfig(noPollInterval))
	samples := make(chan protocol.TrainerSample, 10)
	session.Listen(samples)
	require.NoError(t, session.Connect(context.Background(), conn))
	defer session.Disconnect()

	assert.Equal(t, protocol.KindCyclingPower, session.Kind())
	require.True(t, char.Push([]byte{0x00, 0x00, 0x2C, 0x01}))
	assert.Equal(t, 300, receiveWithin(t, samples, time.Second).PowerWatts)
	assert.Equal(t, 1, p.ConnectCount())
}

func TestTrainerSession_RejectsHeartRateConnection(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, _ := newHRM("hr")
	transport.AddPeripheral(p)

	_, conn := newTestProber(transport).Probe(context.Background(), p.Handle())
	require.NotNil(t, conn)

	session := NewTrainerSession(testLogger(), testTrainerConfig(noPollInterval))
	assert.ErrorIs(t, session.Connect(context.Background(), conn), ErrNotSupported)
	assert.Equal(t, StatusNotConnected, session.Status())
	require.NoError(t, conn.Release())
}

func TestTrainerSession_NoTrainerService(t *testing.T) {
	p, _ := newHRM("hr")
	session := NewTrainerSession(testLogger(), testTrainerConfig(noPollInterval))

	err := session.ConnectDevice(context.Background(), p.Handle())
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.Equal(t, StatusFailed, session.Status())
}
