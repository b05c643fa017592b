package sensor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

// HeartRateSession streams beats per minute from a BLE heart rate monitor
type HeartRateSession struct {
	core *acquisition[int]
}

func NewHeartRateSession(logger *log.Logger, pollInterval time.Duration) *HeartRateSession {
	if logger == nil {
		panic("HeartRateSession: logger cannot be nil")
	}
	return &HeartRateSession{
		core: newAcquisition[int]("HeartRateSession", logger, pollInterval),
	}
}

// Connect adopts a connection the Prober classified as a heart rate monitor
func (s *HeartRateSession) Connect(ctx context.Context, conn *AdoptedConnection) error {
	if conn.Role() != RoleHeartRateMonitor {
		return fmt.Errorf("heart rate session given a %v: %w", conn.Role(), ErrNotSupported)
	}
	id, err := s.core.claim()
	if err != nil {
		return err
	}
	device, service, err := conn.take()
	if err != nil {
		s.core.unclaim()
		return err
	}
	return s.core.run(ctx, id, device, func(ctx context.Context) (bt.Characteristic, func([]byte) (int, bool), error) {
		char, err := characteristicOf(ctx, service, protocol.CharUUIDHeartRateMeasurement)
		if err != nil {
			return nil, nil, err
		}
		return char, protocol.DecodeHeartRate, nil
	})
}

// ConnectDevice connects to a device without a prior probe
func (s *HeartRateSession) ConnectDevice(ctx context.Context, device bt.DeviceHandle) error {
	return s.core.start(ctx, device, func(ctx context.Context) (bt.Characteristic, func([]byte) (int, bool), error) {
		if err := device.GATT().Connect(ctx); err != nil {
			return nil, nil, err
		}
		service, err := device.GATT().PrimaryService(ctx, protocol.ServiceUUIDHeartRate)
		if err != nil {
			return nil, nil, fmt.Errorf("lookup heart rate service: %w", err)
		}
		if service == nil {
			return nil, nil, fmt.Errorf("no heart rate service on %s: %w", device.Address(), ErrServiceNotFound)
		}
		char, err := characteristicOf(ctx, service, protocol.CharUUIDHeartRateMeasurement)
		if err != nil {
			return nil, nil, err
		}
		return char, protocol.DecodeHeartRate, nil
	})
}

func (s *HeartRateSession) Disconnect() {
	s.core.disconnect()
}

func (s *HeartRateSession) Listen(ch chan<- int) func() {
	return s.core.samples.Listen(ch)
}

func (s *HeartRateSession) ListenStatus(ch chan<- ConnectionStatus) func() {
	return s.core.statusEvent.Listen(ch)
}

func (s *HeartRateSession) Status() ConnectionStatus {
	return s.core.currentStatus()
}

func (s *HeartRateSession) ID() string {
	return s.core.sessionID()
}

func (s *HeartRateSession) DeviceName() string {
	return s.core.deviceName()
}

func (s *HeartRateSession) DeviceAddress() string {
	return s.core.deviceAddress()
}
