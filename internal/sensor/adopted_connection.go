package sensor

import (
	"sync"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

// AdoptedConnection hands a live GATT connection from the Prober to a session.
// It can be taken once; an untaken connection should be Released.
type AdoptedConnection struct {
	device  bt.DeviceHandle
	service bt.Service
	role    Role
	kind    protocol.Kind

	mu       sync.Mutex
	taken    bool
	released bool
}

func newAdoptedConnection(device bt.DeviceHandle, service bt.Service, role Role, kind protocol.Kind) *AdoptedConnection {
	return &AdoptedConnection{
		device:  device,
		service: service,
		role:    role,
		kind:    kind,
	}
}

func (a *AdoptedConnection) Device() bt.DeviceHandle {
	return a.device
}

func (a *AdoptedConnection) Role() Role {
	return a.role
}

// Kind is the trainer service the prober matched, KindUnknown for heart rate monitors
func (a *AdoptedConnection) Kind() protocol.Kind {
	return a.kind
}

func (a *AdoptedConnection) take() (bt.DeviceHandle, bt.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.taken || a.released {
		return nil, nil, ErrAlreadyAdopted
	}
	a.taken = true
	return a.device, a.service, nil
}

// Release disconnects an untaken connection. Errors are returned but the token is spent either way.
func (a *AdoptedConnection) Release() error {
	a.mu.Lock()
	if a.taken || a.released {
		a.mu.Unlock()
		return nil
	}
	a.released = true
	a.mu.Unlock()
	return a.device.GATT().Disconnect()
}
