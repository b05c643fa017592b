package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

func newTestProber(transport *bt.MockTransport) *Prober {
	return NewProber(transport, NewRoleRegistry(), testLogger())
}

func TestProbe_HeartRateOnlyLeavesConnectionUsable(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, char := newHRM("hr-1")
	char.SetValue([]byte{0x00, 0x48})
	transport.AddPeripheral(p)
	prober := newTestProber(transport)

	role, conn := prober.Probe(context.Background(), p.Handle())
	require.Equal(t, RoleHeartRateMonitor, role)
	require.NotNil(t, conn)
	assert.True(t, p.Connected())
	assert.Equal(t, protocol.KindUnknown, conn.Kind())

	session := NewHeartRateSession(testLogger(), testPollInterval)
	samples := make(chan int, 10)
	session.Listen(samples)

	require.NoError(t, session.Connect(context.Background(), conn))
	defer session.Disconnect()

	assert.Equal(t, 72, receiveWithin(t, samples, time.Second))
	assert.Equal(t, 1, p.ConnectCount(), "session must reuse the probe's connection")
	assert.Equal(t, 0, p.DisconnectCount())
	assert.Equal(t, 0, transport.ScanCount())
}

func TestProbe_TrainerKinds(t *testing.T) {
	tests := []struct {
		name     string
		services []string
		wantKind protocol.Kind
	}{
		{"ftms", []string{protocol.ServiceUUIDFTMS}, protocol.KindIndoorBikeData},
		{"cycling power", []string{protocol.ServiceUUIDCyclingPower}, protocol.KindCyclingPower},
		{"ftms preferred", []string{protocol.ServiceUUIDCyclingPower, protocol.ServiceUUIDFTMS, protocol.ServiceUUIDHeartRate}, protocol.KindIndoorBikeData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := bt.NewMockTransport(testLogger())
			p := bt.NewMockPeripheral("trainer", "Trainer")
			for _, svc := range tt.services {
				p.AddService(svc)
			}
			transport.AddPeripheral(p)

			role, conn := newTestProber(transport).Probe(context.Background(), p.Handle())
			assert.Equal(t, RoleTrainer, role)
			require.NotNil(t, conn)
			assert.Equal(t, tt.wantKind, conn.Kind())
			assert.True(t, p.Connected())
		})
	}
}

func TestProbe_UnknownDeviceIsReleased(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p := bt.NewMockPeripheral("other", "Scale")
	p.AddService("0000181d-0000-1000-8000-00805f9b34fb")
	transport.AddPeripheral(p)
	prober := newTestProber(transport)

	role, conn := prober.Probe(context.Background(), p.Handle())
	assert.Equal(t, RoleUnknown, role)
	assert.Nil(t, conn)
	assert.False(t, p.Connected())
	assert.Equal(t, 1, p.DisconnectCount())
}

func TestProbe_ErrorsYieldUnknown(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		transport := bt.NewMockTransport(testLogger())
		p, _ := newHRM("hr")
		p.SetConnectError(errors.New("out of range"))
		transport.AddPeripheral(p)

		role, conn := newTestProber(transport).Probe(context.Background(), p.Handle())
		assert.Equal(t, RoleUnknown, role)
		assert.Nil(t, conn)
	})

	t.Run("service lookup", func(t *testing.T) {
		transport := bt.NewMockTransport(testLogger())
		p, _ := newHRM("hr")
		p.SetServiceLookupError(errors.New("gatt error"))
		transport.AddPeripheral(p)

		role, conn := newTestProber(transport).Probe(context.Background(), p.Handle())
		assert.Equal(t, RoleUnknown, role)
		assert.Nil(t, conn)
		assert.False(t, p.Connected())
	})
}

func TestProbe_StaleHandleIsReacquiredOnce(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, _ := newHRM("hr")
	transport.AddPeripheral(p)
	stale := p.Handle()
	p.MarkHandleStale()

	role, conn := newTestProber(transport).Probe(context.Background(), stale)
	assert.Equal(t, RoleHeartRateMonitor, role)
	require.NotNil(t, conn)
	assert.NotSame(t, stale, conn.Device())
	assert.Equal(t, 1, transport.AcquireCount())
	assert.True(t, p.Connected())
}

func TestProbe_StaleHandleReacquireFails(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, _ := newHRM("hr")
	transport.AddPeripheral(p)
	transport.SetAcquireError(errors.New("gone"))
	p.MarkHandleStale()

	role, conn := newTestProber(transport).Probe(context.Background(), p.Handle())
	assert.Equal(t, RoleUnknown, role)
	assert.Nil(t, conn)
	assert.Equal(t, 1, transport.AcquireCount())
}

func TestProbe_KeepsConfirmedRoleOnLaterFailure(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, _ := newHRM("hr")
	transport.AddPeripheral(p)
	prober := newTestProber(transport)

	role, conn := prober.Probe(context.Background(), p.Handle())
	require.Equal(t, RoleHeartRateMonitor, role)
	require.NoError(t, conn.Release())

	p.SetConnectError(errors.New("busy"))
	role, _ = prober.Probe(context.Background(), p.Handle())
	assert.Equal(t, RoleUnknown, role)

	recorded, ok := prober.Registry().Lookup("hr")
	require.True(t, ok)
	assert.Equal(t, RoleHeartRateMonitor, recorded)
}

func TestProbeFor_WrongRole(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, _ := newHRM("hr")
	transport.AddPeripheral(p)

	conn, err := newTestProber(transport).ProbeFor(context.Background(), p.Handle(), RoleTrainer)
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.False(t, p.Connected(), "wrong-role connection must be released")
}

func TestAdoptedConnection_SingleUse(t *testing.T) {
	transport := bt.NewMockTransport(testLogger())
	p, _ := newHRM("hr")
	transport.AddPeripheral(p)

	_, conn := newTestProber(transport).Probe(context.Background(), p.Handle())
	require.NotNil(t, conn)

	first := NewHeartRateSession(testLogger(), noPollInterval)
	require.NoError(t, first.Connect(context.Background(), conn))
	defer first.Disconnect()

	second := NewHeartRateSession(testLogger(), noPollInterval)
	assert.ErrorIs(t, second.Connect(context.Background(), conn), ErrAlreadyAdopted)

	// releasing a taken token leaves the connection alone
	require.NoError(t, conn.Release())
	assert.True(t, p.Connected())
}
