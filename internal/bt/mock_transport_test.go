package bt

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newHRPeripheral() (*MockPeripheral, *MockCharacteristic) {
	p := NewMockPeripheral("AA:BB:CC:DD:EE:FF", "HRM")
	char := p.AddCharacteristic(protocol.ServiceUUIDHeartRate, protocol.CharUUIDHeartRateMeasurement)
	return p, char
}

func TestMockTransport_ScanFilter(t *testing.T) {
	transport := NewMockTransport(testLogger())
	hrm, _ := newHRPeripheral()
	trainer := NewMockPeripheral("11:22:33:44:55:66", "Trainer")
	trainer.AddService(protocol.ServiceUUIDFTMS)
	transport.AddPeripheral(hrm)
	transport.AddPeripheral(trainer)

	all, err := transport.Scan(context.Background(), time.Second, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := transport.Scan(context.Background(), time.Second, []string{protocol.ServiceUUIDFTMS})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Trainer", filtered[0].Name())
	assert.Equal(t, 2, transport.ScanCount())
}

func TestMockTransport_EnableError(t *testing.T) {
	transport := NewMockTransport(testLogger())
	transport.SetEnableError(errors.New("no radio"))
	err := transport.Enable()
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
}

func TestMockDevice_ConnectIsIdempotent(t *testing.T) {
	p, _ := newHRPeripheral()
	gatt := p.Handle().GATT()

	require.NoError(t, gatt.Connect(context.Background()))
	require.NoError(t, gatt.Connect(context.Background()))
	assert.True(t, gatt.Connected())
	assert.Equal(t, 1, p.ConnectCount())
}

func TestMockDevice_ConcurrentConnectJoinsInFlightAttempt(t *testing.T) {
	p, _ := newHRPeripheral()
	p.SetConnectDelay(50 * time.Millisecond)
	gatt := p.Handle().GATT()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = gatt.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, p.ConnectCount())
}

func TestMockDevice_StaleHandle(t *testing.T) {
	transport := NewMockTransport(testLogger())
	p, _ := newHRPeripheral()
	transport.AddPeripheral(p)

	old := p.Handle()
	p.MarkHandleStale()
	assert.ErrorIs(t, old.GATT().Connect(context.Background()), ErrStaleHandle)

	fresh, err := transport.Acquire(context.Background(), p.Handle().Address())
	require.NoError(t, err)
	require.NoError(t, fresh.GATT().Connect(context.Background()))
	assert.True(t, fresh.GATT().Connected())
	assert.Equal(t, 1, transport.AcquireCount())
}

func TestMockDevice_AcquireUnknownAddress(t *testing.T) {
	transport := NewMockTransport(testLogger())
	_, err := transport.Acquire(context.Background(), "00:00:00:00:00:00")
	assert.Error(t, err)
}

func TestMockDevice_ServiceLookup(t *testing.T) {
	p, _ := newHRPeripheral()
	gatt := p.Handle().GATT()

	_, err := gatt.PrimaryService(context.Background(), protocol.ServiceUUIDHeartRate)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, gatt.Connect(context.Background()))

	svc, err := gatt.PrimaryService(context.Background(), protocol.ServiceUUIDFTMS)
	require.NoError(t, err)
	assert.Nil(t, svc)

	svc, err = gatt.PrimaryService(context.Background(), protocol.ServiceUUIDHeartRate)
	require.NoError(t, err)
	require.NotNil(t, svc)

	char, err := svc.Characteristic(context.Background(), protocol.CharUUIDHeartRateMeasurement)
	require.NoError(t, err)
	require.NotNil(t, char)
	assert.Equal(t, protocol.CharUUIDHeartRateMeasurement, char.UUID())

	missing, err := svc.Characteristic(context.Background(), protocol.CharUUIDIndoorBikeData)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMockCharacteristic_PushAndRead(t *testing.T) {
	p, char := newHRPeripheral()
	require.NoError(t, p.Handle().GATT().Connect(context.Background()))

	received := make(chan []byte, 1)
	char.OnValueChanged(func(buf []byte) {
		received <- buf
	})

	assert.False(t, char.Push([]byte{0x00, 0x50}), "not notifying yet")

	require.NoError(t, char.StartNotifications(context.Background()))
	assert.True(t, char.Push([]byte{0x00, 0x50}))
	select {
	case buf := <-received:
		assert.Equal(t, []byte{0x00, 0x50}, buf)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}

	char.SetValue([]byte{0x00, 0x51})
	buf, err := char.ReadValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x51}, buf)
	assert.Equal(t, 1, char.ReadCount())

	require.NoError(t, p.Handle().GATT().Disconnect())
	assert.False(t, char.Notifying())
	_, err = char.ReadValue(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEncodeIndoorBikeData_RoundTrip(t *testing.T) {
	m, ok := protocol.DecodeIndoorBikeData(EncodeIndoorBikeData(31.5, 88, -12))
	require.True(t, ok)
	assert.InDelta(t, 31.5, m.Sample.SpeedKph, 0.001)
	assert.InDelta(t, 88.0, m.Sample.CadenceRpm, 0.001)
	assert.Equal(t, -12, m.Sample.PowerWatts)
}

func TestSimulatedTransport(t *testing.T) {
	transport, sim := NewSimulatedTransport(testLogger())
	defer sim.Stop()

	handles, err := transport.Scan(context.Background(), time.Second, nil)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, SimulatedTrainerAddress, handles[0].Address())
	assert.Equal(t, SimulatedHRMAddress, handles[1].Address())

	gatt := handles[1].GATT()
	require.NoError(t, gatt.Connect(context.Background()))
	svc, err := gatt.PrimaryService(context.Background(), protocol.ServiceUUIDHeartRate)
	require.NoError(t, err)
	require.NotNil(t, svc)
	char, err := svc.Characteristic(context.Background(), protocol.CharUUIDHeartRateMeasurement)
	require.NoError(t, err)
	buf, err := char.ReadValue(context.Background())
	require.NoError(t, err)
	bpm, ok := protocol.DecodeHeartRate(buf)
	require.True(t, ok)
	assert.InDelta(t, 125, bpm, 13)
}
