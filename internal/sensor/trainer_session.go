package sensor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

type TrainerSessionConfig struct {
	PollInterval time.Duration
	// DeriveCadence computes cadence and speed from Cycling Power revolution counters
	DeriveCadence       bool
	WheelCircumferenceM float64
}

func DefaultTrainerSessionConfig() TrainerSessionConfig {
	return TrainerSessionConfig{
		PollInterval:        DefaultPollInterval,
		DeriveCadence:       true,
		WheelCircumferenceM: protocol.DefaultWheelCircumferenceM,
	}
}

// TrainerSession streams TrainerSamples from an FTMS or Cycling Power trainer
type TrainerSession struct {
	core   *acquisition[protocol.TrainerSample]
	config TrainerSessionConfig
	kind   protocol.Kind // guarded by core.mu
}

func NewTrainerSession(logger *log.Logger, config TrainerSessionConfig) *TrainerSession {
	if logger == nil {
		panic("TrainerSession: logger cannot be nil")
	}
	return &TrainerSession{
		core:   newAcquisition[protocol.TrainerSample]("TrainerSession", logger, config.PollInterval),
		config: config,
	}
}

// Connect adopts a connection the Prober classified as a trainer
func (s *TrainerSession) Connect(ctx context.Context, conn *AdoptedConnection) error {
	if conn.Role() != RoleTrainer {
		return fmt.Errorf("trainer session given a %v: %w", conn.Role(), ErrNotSupported)
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
	kind := conn.Kind()

	return s.core.run(ctx, id, device, func(ctx context.Context) (bt.Characteristic, func([]byte) (protocol.TrainerSample, bool), error) {
		char, err := characteristicOf(ctx, service, kind.CharacteristicUUID())
		if err != nil {
			return nil, nil, err
		}
		s.setKind(kind)
		return char, s.decoder(kind, device.Name()), nil
	})
}

// ConnectDevice connects to a device without a prior probe. FTMS is preferred over Cycling Power.
func (s *TrainerSession) ConnectDevice(ctx context.Context, device bt.DeviceHandle) error {
	return s.core.start(ctx, device, func(ctx context.Context) (bt.Characteristic, func([]byte) (protocol.TrainerSample, bool), error) {
		if err := device.GATT().Connect(ctx); err != nil {
			return nil, nil, err
		}
		for _, kind := range []protocol.Kind{protocol.KindIndoorBikeData, protocol.KindCyclingPower} {
			service, err := device.GATT().PrimaryService(ctx, kind.ServiceUUID())
			if err != nil {
				return nil, nil, fmt.Errorf("lookup %v service: %w", kind, err)
			}
			if service == nil {
				continue
			}
			char, err := characteristicOf(ctx, service, kind.CharacteristicUUID())
			if err != nil {
				return nil, nil, err
			}
			s.setKind(kind)
			return char, s.decoder(kind, device.Name()), nil
		}
		return nil, nil, fmt.Errorf("no trainer service on %s: %w", device.Address(), ErrServiceNotFound)
	})
}

// decoder builds the per-connection decode routine. The tracker is only touched by the
// session's single consumer.
func (s *TrainerSession) decoder(kind protocol.Kind, deviceName string) func([]byte) (protocol.TrainerSample, bool) {
	tracker := protocol.NewRevolutionTracker(s.config.WheelCircumferenceM)
	deriveCadence := s.config.DeriveCadence

	return func(frame []byte) (protocol.TrainerSample, bool) {
		m, ok := protocol.Disambiguate(kind, frame)
		if !ok {
			return protocol.TrainerSample{}, false
		}
		sample := m.Sample
		if deriveCadence && m.Kind == protocol.KindCyclingPower {
			if cp, ok := protocol.ParseCyclingPower(frame); ok {
				sample = tracker.Apply(cp, sample)
			}
		}
		sample.Connected = true
		sample.DeviceName = deviceName
		return sample, true
	}
}

func (s *TrainerSession) Disconnect() {
	s.core.disconnect()
}

// Listen registers ch for decoded samples and returns its deregistration function
func (s *TrainerSession) Listen(ch chan<- protocol.TrainerSample) func() {
	return s.core.samples.Listen(ch)
}

// ListenStatus registers ch for status changes. The current status is sent immediately.
func (s *TrainerSession) ListenStatus(ch chan<- ConnectionStatus) func() {
	return s.core.statusEvent.Listen(ch)
}

func (s *TrainerSession) Status() ConnectionStatus {
	return s.core.currentStatus()
}

// ID identifies the current or last connection in log lines
func (s *TrainerSession) ID() string {
	return s.core.sessionID()
}

func (s *TrainerSession) DeviceName() string {
	return s.core.deviceName()
}

// DeviceAddress is the address of the connected trainer, empty while not connected
func (s *TrainerSession) DeviceAddress() string {
	return s.core.deviceAddress()
}

// Kind is the trainer service of the current connection
func (s *TrainerSession) Kind() protocol.Kind {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return s.kind
}

func (s *TrainerSession) setKind(kind protocol.Kind) {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	s.kind = kind
}

func characteristicOf(ctx context.Context, service bt.Service, charUUID string) (bt.Characteristic, error) {
	char, err := service.Characteristic(ctx, charUUID)
	if err != nil {
		return nil, fmt.Errorf("lookup characteristic %s: %w", charUUID, err)
	}
	if char == nil {
		return nil, fmt.Errorf("%s in service %s: %w", charUUID, service.UUID(), ErrCharacteristicNotFound)
	}
	return char, nil
}
