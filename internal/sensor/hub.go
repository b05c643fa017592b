package sensor

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/safe_map"
)

// Hub runs the discover, probe and connect sequence for the sessions
type Hub struct {
	transport   bt.Transport
	prober      *Prober
	logger      *log.Logger
	scanTimeout time.Duration
	preferred   *safe_map.SafeMap[Role, string]
}

func NewHub(transport bt.Transport, prober *Prober, logger *log.Logger, scanTimeout time.Duration) *Hub {
	if logger == nil {
		panic("Hub: logger cannot be nil")
	}
	if transport == nil || prober == nil {
		panic("Hub: transport and prober cannot be nil")
	}
	return &Hub{
		transport:   transport,
		prober:      prober,
		logger:      logger,
		scanTimeout: scanTimeout,
		preferred:   safe_map.NewSafeMap[Role, string](),
	}
}

// Prefer makes Discover try address first when looking for role.
// An empty address clears the preference.
func (h *Hub) Prefer(role Role, address string) {
	if address == "" {
		h.preferred.Delete(role)
		return
	}
	h.preferred.Store(role, address)
}

func serviceFilterFor(role Role) []string {
	switch role {
	case RoleTrainer:
		return []string{protocol.ServiceUUIDFTMS, protocol.ServiceUUIDCyclingPower}
	case RoleHeartRateMonitor:
		return []string{protocol.ServiceUUIDHeartRate}
	default:
		return nil
	}
}

// Discover scans for devices advertising the services of want and probes them one by one.
// The preferred device is tried first, then devices already known to have the role, each group
// strongest signal first. It fails with ErrNoDevices when the scan is empty and with
// ErrNotSupported when no candidate has the role.
func (h *Hub) Discover(ctx context.Context, want Role) (*AdoptedConnection, error) {
	h.logger.Printf("Hub: Discovering %v", want)
	handles, err := h.transport.Scan(ctx, h.scanTimeout, serviceFilterFor(want))
	if err != nil {
		return nil, fmt.Errorf("discover %v: %w", want, err)
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("discover %v: %w", want, ErrNoDevices)
	}

	registry := h.prober.Registry()
	preferred, _ := h.preferred.Load(want)
	rank := func(handle bt.DeviceHandle) int {
		if handle.Address() == preferred {
			return 0
		}
		if role, _ := registry.Lookup(handle.Address()); role == want {
			return 1
		}
		return 2
	}
	sort.SliceStable(handles, func(i, j int) bool {
		ri, rj := rank(handles[i]), rank(handles[j])
		if ri != rj {
			return ri < rj
		}
		return signalStrength(handles[i]) > signalStrength(handles[j])
	})

	for _, handle := range handles {
		conn, err := h.prober.ProbeFor(ctx, handle, want)
		if err == nil {
			return conn, nil
		}
		h.logger.Printf("Hub: Skipping %s: %v", handle.Address(), err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("no %v among %d devices: %w", want, len(handles), ErrNotSupported)
}

// signalStrength orders unknown RSSI after every measured one
func signalStrength(handle bt.DeviceHandle) int {
	rssi := int(handle.RSSI())
	if rssi == 0 {
		return math.MinInt
	}
	return rssi
}

// ConnectTrainer discovers a trainer and connects session to it
func (h *Hub) ConnectTrainer(ctx context.Context, session *TrainerSession) error {
	if session.core.currentState() != stateIdle {
		return ErrSessionBusy
	}
	conn, err := h.Discover(ctx, RoleTrainer)
	if err != nil {
		return err
	}
	if err := session.Connect(ctx, conn); err != nil {
		h.releaseUnused(conn)
		return err
	}
	return nil
}

// ConnectHeartRate discovers a heart rate monitor and connects session to it
func (h *Hub) ConnectHeartRate(ctx context.Context, session *HeartRateSession) error {
	if session.core.currentState() != stateIdle {
		return ErrSessionBusy
	}
	conn, err := h.Discover(ctx, RoleHeartRateMonitor)
	if err != nil {
		return err
	}
	if err := session.Connect(ctx, conn); err != nil {
		h.releaseUnused(conn)
		return err
	}
	return nil
}

func (h *Hub) releaseUnused(conn *AdoptedConnection) {
	if err := conn.Release(); err != nil {
		h.logger.Printf("Hub: Ignoring release error for %s: %v", conn.Device().Address(), err)
	}
}
