package antplus

import (
	"sync"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/events"
)

// MockCollection is an in-memory DeviceCollection for tests and mock runs
type MockCollection struct {
	mu      sync.Mutex
	devices []*MockDevice
	changes *events.CallbackEvent[struct{}]
}

func NewMockCollection() *MockCollection {
	return &MockCollection{
		changes: events.NewCallbackEvent[struct{}](false),
	}
}

// AddDevice adds device and fires a collection change
func (c *MockCollection) AddDevice(device *MockDevice) {
	c.mu.Lock()
	c.devices = append(c.devices, device)
	c.mu.Unlock()
	c.changes.Notify(struct{}{})
}

// RemoveDevice removes the device with id and fires a collection change
func (c *MockCollection) RemoveDevice(id uint16) {
	c.mu.Lock()
	kept := c.devices[:0]
	for _, d := range c.devices {
		if d.id != id {
			kept = append(kept, d)
		}
	}
	c.devices = kept
	c.mu.Unlock()
	c.changes.Notify(struct{}{})
}

func (c *MockCollection) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	devices := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		devices = append(devices, d)
	}
	return devices
}

func (c *MockCollection) ListenChanges(fn func()) func() {
	return c.changes.Listen(func(struct{}) { fn() })
}

func (c *MockCollection) ChangeListenerCount() int {
	return c.changes.ListenerCount()
}

// MockDevice is a Device whose property changes are driven by the test
type MockDevice struct {
	id      uint16
	profile Profile
	props   *events.CallbackEvent[PropertyChange]
}

func NewMockDevice(id uint16, profile Profile) *MockDevice {
	return &MockDevice{
		id:      id,
		profile: profile,
		props:   events.NewCallbackEvent[PropertyChange](false),
	}
}

func (d *MockDevice) ID() uint16       { return d.id }
func (d *MockDevice) Profile() Profile { return d.profile }

func (d *MockDevice) ListenProperties(fn func(PropertyChange)) func() {
	return d.props.Listen(fn)
}

// Emit publishes change to the property listeners
func (d *MockDevice) Emit(change PropertyChange) {
	d.props.Notify(change)
}

// EmitHeartRate publishes a heart rate data change with the given computed heart rate
func (d *MockDevice) EmitHeartRate(bpm int) {
	d.Emit(PropertyChange{Property: PropertyHeartRateData, ComputedHeartRate: bpm})
}

func (d *MockDevice) PropertyListenerCount() int {
	return d.props.ListenerCount()
}
