package antplus

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/events"
)

// HeartRateAdapter follows the first heart rate device in a DeviceCollection
// and republishes its computed heart rate.
type HeartRateAdapter struct {
	logger     *log.Logger
	collection DeviceCollection
	heartRate  *events.ChannelEvent[int]
	attached   *events.ChannelEvent[bool]
	closed     atomic.Bool

	mu             sync.Mutex
	device         Device
	stopCollection func()
	stopProperties func()
}

// NewHeartRateAdapter starts watching collection right away. A heart rate device that is
// already present is attached immediately; otherwise every collection change retries.
func NewHeartRateAdapter(collection DeviceCollection, logger *log.Logger) *HeartRateAdapter {
	if logger == nil {
		panic("HeartRateAdapter: logger cannot be nil")
	}
	if collection == nil {
		panic("HeartRateAdapter: collection cannot be nil")
	}
	a := &HeartRateAdapter{
		logger:     logger,
		collection: collection,
		heartRate:  events.NewChannelEvent[int](true),
		attached:   events.NewChannelEvent[bool](true),
	}
	stop := collection.ListenChanges(a.tryAttach)
	a.mu.Lock()
	a.stopCollection = stop
	a.mu.Unlock()
	a.tryAttach()
	return a
}

// tryAttach runs on every collection change. A device that left the collection is
// detached first so the search can pick it up again once it reappears.
func (a *HeartRateAdapter) tryAttach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return
	}
	devices := a.collection.Devices()
	if a.device != nil {
		if containsDevice(devices, a.device) {
			return
		}
		a.detachLocked()
	}
	for _, device := range devices {
		if device.Profile() != ProfileHeartRate {
			continue
		}
		a.device = device
		a.stopProperties = device.ListenProperties(a.onPropertyChange)
		a.logger.Printf("HeartRateAdapter: attached to device %d", device.ID())
		a.attached.Notify(true)
		return
	}
}

func (a *HeartRateAdapter) detachLocked() {
	a.logger.Printf("HeartRateAdapter: lost device %d", a.device.ID())
	if a.stopProperties != nil {
		a.stopProperties()
		a.stopProperties = nil
	}
	a.device = nil
	a.attached.Notify(false)
}

func containsDevice(devices []Device, want Device) bool {
	for _, device := range devices {
		if device == want {
			return true
		}
	}
	return false
}

func (a *HeartRateAdapter) onPropertyChange(change PropertyChange) {
	if a.closed.Load() || change.Property != PropertyHeartRateData {
		return
	}
	if change.ComputedHeartRate <= 0 {
		return
	}
	a.heartRate.Notify(change.ComputedHeartRate)
}

// Listen registers ch for heart rate updates in beats per minute
func (a *HeartRateAdapter) Listen(ch chan<- int) func() {
	return a.heartRate.Listen(ch)
}

// ListenAttached registers ch for attach (true) and detach (false) changes
func (a *HeartRateAdapter) ListenAttached(ch chan<- bool) func() {
	return a.attached.Listen(ch)
}

// Attached reports whether a heart rate device has been found
func (a *HeartRateAdapter) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device != nil
}

// DeviceID returns the ANT device number of the attached device
func (a *HeartRateAdapter) DeviceID() (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device == nil {
		return 0, false
	}
	return a.device.ID(), true
}

// Disconnect detaches from the device and the collection. The collection keeps scanning.
func (a *HeartRateAdapter) Disconnect() {
	if a.closed.Swap(true) {
		return
	}
	a.mu.Lock()
	stopProperties, stopCollection := a.stopProperties, a.stopCollection
	a.stopProperties, a.stopCollection = nil, nil
	a.device = nil
	a.mu.Unlock()

	if stopProperties != nil {
		stopProperties()
	}
	if stopCollection != nil {
		stopCollection()
	}
	a.heartRate.Close()
	a.attached.Close()
	a.logger.Println("HeartRateAdapter: disconnected")
}
