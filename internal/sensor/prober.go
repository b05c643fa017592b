package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

type probeCandidate struct {
	serviceUUID string
	role        Role
	kind        protocol.Kind
}

// probeOrder is checked top to bottom; the first service present decides the role
var probeOrder = []probeCandidate{
	{protocol.ServiceUUIDFTMS, RoleTrainer, protocol.KindIndoorBikeData},
	{protocol.ServiceUUIDCyclingPower, RoleTrainer, protocol.KindCyclingPower},
	{protocol.ServiceUUIDHeartRate, RoleHeartRateMonitor, protocol.KindUnknown},
}

// Prober classifies devices by the GATT services they expose
type Prober struct {
	transport bt.Transport
	registry  *RoleRegistry
	logger    *log.Logger
}

func NewProber(transport bt.Transport, registry *RoleRegistry, logger *log.Logger) *Prober {
	if logger == nil {
		panic("Prober: logger cannot be nil")
	}
	if transport == nil {
		panic("Prober: transport cannot be nil")
	}
	if registry == nil {
		registry = NewRoleRegistry()
	}
	return &Prober{
		transport: transport,
		registry:  registry,
		logger:    logger,
	}
}

func (p *Prober) Registry() *RoleRegistry {
	return p.registry
}

// Probe connects to device and returns its role. For a known role the connection is left
// open and handed over as an AdoptedConnection. Unknown devices and failed probes are
// disconnected best-effort and return a nil connection.
func (p *Prober) Probe(ctx context.Context, device bt.DeviceHandle) (Role, *AdoptedConnection) {
	address := device.Address()
	p.logger.Printf("Prober: Probing %s (%s)", device.Name(), address)

	device, err := p.connect(ctx, device)
	if err != nil {
		p.logger.Printf("Prober: Connect to %s failed: %v", address, err)
		p.release(device)
		p.registry.Record(address, RoleUnknown)
		return RoleUnknown, nil
	}

	for _, candidate := range probeOrder {
		svc, err := device.GATT().PrimaryService(ctx, candidate.serviceUUID)
		if err != nil {
			p.logger.Printf("Prober: Service lookup %s on %s failed: %v", candidate.serviceUUID, address, err)
			p.release(device)
			p.registry.Record(address, RoleUnknown)
			return RoleUnknown, nil
		}
		if svc == nil {
			continue
		}
		p.registry.Record(address, candidate.role)
		p.logger.Printf("Prober: %s is a %v (%v)", address, candidate.role, candidate.kind)
		return candidate.role, newAdoptedConnection(device, svc, candidate.role, candidate.kind)
	}

	p.logger.Printf("Prober: %s exposes no supported service", address)
	p.release(device)
	p.registry.Record(address, RoleUnknown)
	return RoleUnknown, nil
}

// ProbeFor probes device and fails with ErrNotSupported unless it has the wanted role.
// The connection is released on failure.
func (p *Prober) ProbeFor(ctx context.Context, device bt.DeviceHandle, want Role) (*AdoptedConnection, error) {
	role, conn := p.Probe(ctx, device)
	if role == want && conn != nil {
		return conn, nil
	}
	if conn != nil {
		if err := conn.Release(); err != nil {
			p.logger.Printf("Prober: Error releasing %s: %v", device.Address(), err)
		}
	}
	return nil, fmt.Errorf("%s is %v, want %v: %w", device.Address(), role, want, ErrNotSupported)
}

// connect retries once with a freshly acquired handle when the given one is stale
func (p *Prober) connect(ctx context.Context, device bt.DeviceHandle) (bt.DeviceHandle, error) {
	err := device.GATT().Connect(ctx)
	if !errors.Is(err, bt.ErrStaleHandle) {
		return device, err
	}

	p.logger.Printf("Prober: Stale handle for %s, acquiring a fresh one", device.Address())
	fresh, acquireErr := p.transport.Acquire(ctx, device.Address())
	if acquireErr != nil {
		return device, fmt.Errorf("re-acquire after stale handle: %w", acquireErr)
	}
	return fresh, fresh.GATT().Connect(ctx)
}

func (p *Prober) release(device bt.DeviceHandle) {
	if err := device.GATT().Disconnect(); err != nil {
		p.logger.Printf("Prober: Ignoring disconnect error for %s: %v", device.Address(), err)
	}
}
