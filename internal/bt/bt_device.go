package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/safe_map"
	"tinygo.org/x/bluetooth"
)

var errNotFound = errors.New("not found")

// notifications larger than an ATT MTU are not expected
const readBufferSize = 512

type connectAttempt struct {
	done chan struct{}
	err  error
}

// btDeviceImpl is a tinygo device handle and its GATT connection
type btDeviceImpl struct {
	adapter                *bluetooth.Adapter
	address                bluetooth.Address
	scanLastSeen           time.Time
	localName              string
	scanResult             *bluetooth.ScanResult
	connectedDevice        *bluetooth.Device // nil if not connected
	inFlight               *connectAttempt
	mu                     sync.RWMutex
	bleMu                  sync.Mutex // Serializes BLE discovery and characteristic operations
	disposed               atomic.Bool
	scanTimeout            time.Duration
	logger                 *log.Logger
	serviceByUuid          *safe_map.SafeMap[string, *bluetooth.DeviceService]
	characteristicByUuid   *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic]
	serviceCharsDiscovered *safe_map.SafeMap[string, bool] // services whose characteristics were all discovered
	allServicesDiscovered  bool
}

var (
	_ DeviceHandle = (*btDeviceImpl)(nil)
	_ GATTServer   = (*btDeviceImpl)(nil)
)

func newBtDeviceImpl(
	logger *log.Logger,
	adapter *bluetooth.Adapter,
	address bluetooth.Address,
	scanTimeout time.Duration,
) *btDeviceImpl {
	if logger == nil {
		panic("logger must be non nil")
	}
	if scanTimeout <= 0 {
		panic("scanTimeout must be > 0")
	}
	return &btDeviceImpl{
		logger:                 logger,
		adapter:                adapter,
		address:                address,
		localName:              "Unknown",
		scanTimeout:            scanTimeout,
		scanLastSeen:           time.Unix(0, 0),
		serviceByUuid:          safe_map.NewSafeMap[string, *bluetooth.DeviceService](),
		characteristicByUuid:   safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
		serviceCharsDiscovered: safe_map.NewSafeMap[string, bool](),
	}
}

func (b *btDeviceImpl) Address() string {
	return b.address.String()
}

func (b *btDeviceImpl) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.scanResult != nil {
		if name := b.scanResult.LocalName(); name != "" {
			return name
		}
	}
	return b.localName
}

func (b *btDeviceImpl) GATT() GATTServer {
	return b
}

// RSSI is the signal strength of the last advertisement, 0 before the device was scanned
func (b *btDeviceImpl) RSSI() int16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.scanResult == nil {
		return 0
	}
	return b.scanResult.RSSI
}

// Connect joins an attempt in flight or starts one. The attempt outlives ctx so a later
// caller can still pick up its result.
func (b *btDeviceImpl) Connect(ctx context.Context) error {
	if b.disposed.Load() {
		return ErrStaleHandle
	}

	b.mu.Lock()
	if b.connectedDevice != nil {
		b.mu.Unlock()
		return nil
	}
	attempt := b.inFlight
	if attempt == nil {
		attempt = &connectAttempt{done: make(chan struct{})}
		b.inFlight = attempt
		go_func_utils.SafeGo(b.logger, func() {
			b.runConnect(attempt)
		})
	} else {
		b.logger.Printf("BTDevice: Joining connection attempt in flight for %s", b.Address())
	}
	b.mu.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", b.Address(), ctx.Err())
	}
}

func (b *btDeviceImpl) runConnect(attempt *connectAttempt) {
	b.logger.Printf("BTDevice: Connecting to %s", b.Address())
	device, err := b.adapter.Connect(b.address, bluetooth.ConnectionParams{})

	b.mu.Lock()
	if err != nil {
		attempt.err = fmt.Errorf("connect to %s: %w", b.Address(), err)
	} else {
		b.connectedDevice = &device
	}
	b.inFlight = nil
	b.mu.Unlock()

	if err != nil {
		b.logger.Printf("BTDevice: Connection error: %v", err)
	} else {
		b.logger.Printf("BTDevice: Connected to %s", b.Address())
	}
	close(attempt.done)
}

func (b *btDeviceImpl) Connected() bool {
	if b.disposed.Load() {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connectedDevice != nil
}

func (b *btDeviceImpl) PrimaryService(ctx context.Context, uuid string) (Service, error) {
	if err := b.usable(ctx); err != nil {
		return nil, err
	}
	serviceUuid, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}

	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	svc, err := b.getDeviceService(serviceUuid)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &btService{device: b, svc: svc, uuid: serviceUuid}, nil
}

func (b *btDeviceImpl) Disconnect() error {
	device := b.getConnectedDevice()
	if device == nil {
		return nil
	}
	b.logger.Printf("BTDevice: Disconnecting from %s", b.Address())
	err := device.Disconnect()
	b.resetConnection()
	if err != nil {
		return fmt.Errorf("disconnect from %s: %w", b.Address(), err)
	}
	return nil
}

func (b *btDeviceImpl) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.disposed.Load() {
		return ErrStaleHandle
	}
	if b.getConnectedDevice() == nil {
		return ErrNotConnected
	}
	return nil
}

func (b *btDeviceImpl) dispose() {
	b.disposed.Store(true)
}

func (b *btDeviceImpl) getScanLastSeen() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scanLastSeen
}

func (b *btDeviceImpl) setScanResult(scanResult *bluetooth.ScanResult, seen time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanResult = scanResult
	b.scanLastSeen = seen
}

func (b *btDeviceImpl) isRecentlyScanned(now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scanResult != nil && now.Sub(b.scanLastSeen) <= b.scanTimeout
}

func (b *btDeviceImpl) setConnectedDevice(device *bluetooth.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectedDevice = device
}

func (b *btDeviceImpl) getConnectedDevice() *bluetooth.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connectedDevice
}

// resetConnection forgets the connection and every handle discovered on it
func (b *btDeviceImpl) resetConnection() {
	b.mu.Lock()
	b.connectedDevice = nil
	b.mu.Unlock()

	b.bleMu.Lock()
	defer b.bleMu.Unlock()
	b.serviceByUuid.Clear()
	b.characteristicByUuid.Clear()
	b.serviceCharsDiscovered.Clear()
	b.allServicesDiscovered = false
}

// getDeviceService must be called with bleMu held
func (b *btDeviceImpl) getDeviceService(serviceUuid bluetooth.UUID) (*bluetooth.DeviceService, error) {
	connectedDevice := b.getConnectedDevice()
	if connectedDevice == nil {
		return nil, ErrNotConnected
	}

	serviceUuidStr := serviceUuid.String()

	service, ok := b.serviceByUuid.Load(serviceUuidStr)
	if ok {
		return service, nil
	}

	// Discover every service in one pass. Discovering single services repeatedly
	// interrupts services already in use on some stacks.
	if !b.allServicesDiscovered {
		b.logger.Printf("BTDevice: Discovering all services for %s", b.Address())
		deviceServices, err := connectedDevice.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("error discovering services: %w", err)
		}

		for i := range deviceServices {
			svc := &deviceServices[i]
			svcUuidStr := svc.UUID().String()
			b.serviceByUuid.Store(svcUuidStr, svc)
			b.logger.Printf("BTDevice: Cached service %s", svcUuidStr)
		}

		b.allServicesDiscovered = true
	}

	service, ok = b.serviceByUuid.Load(serviceUuidStr)
	if !ok {
		return nil, fmt.Errorf("service %v: %w", serviceUuidStr, errNotFound)
	}
	return service, nil
}

// getDeviceCharacteristic must be called with bleMu held
func (b *btDeviceImpl) getDeviceCharacteristic(service *bluetooth.DeviceService, charUuid bluetooth.UUID) (*bluetooth.DeviceCharacteristic, error) {
	serviceUuidStr := service.UUID().String()
	comboUuidStr := fmt.Sprintf("%s_%s", serviceUuidStr, charUuid.String())

	characteristic, ok := b.characteristicByUuid.Load(comboUuidStr)
	if ok {
		return characteristic, nil
	}

	if discovered, _ := b.serviceCharsDiscovered.Load(serviceUuidStr); !discovered {
		b.logger.Printf("BTDevice: Discovering all characteristics for service %s", serviceUuidStr)
		discoveredCharacteristics, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover characteristics for service %v: %w", serviceUuidStr, err)
		}

		for i := range discoveredCharacteristics {
			char := &discoveredCharacteristics[i]
			charKey := fmt.Sprintf("%s_%s", serviceUuidStr, char.UUID().String())
			b.characteristicByUuid.Store(charKey, char)
			b.logger.Printf("BTDevice: Cached characteristic %s", char.UUID().String())
		}

		b.serviceCharsDiscovered.Store(serviceUuidStr, true)
	}

	characteristic, ok = b.characteristicByUuid.Load(comboUuidStr)
	if !ok {
		return nil, fmt.Errorf("characteristic %v in service %v: %w", charUuid.String(), serviceUuidStr, errNotFound)
	}
	return characteristic, nil
}

type btService struct {
	device *btDeviceImpl
	svc    *bluetooth.DeviceService
	uuid   bluetooth.UUID
}

func (s *btService) UUID() string {
	return s.uuid.String()
}

func (s *btService) Characteristic(ctx context.Context, uuid string) (Characteristic, error) {
	if err := s.device.usable(ctx); err != nil {
		return nil, err
	}
	charUuid, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}

	s.device.bleMu.Lock()
	defer s.device.bleMu.Unlock()

	char, err := s.device.getDeviceCharacteristic(s.svc, charUuid)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &btCharacteristic{device: s.device, char: char, uuid: charUuid}, nil
}

type btCharacteristic struct {
	device  *btDeviceImpl
	char    *bluetooth.DeviceCharacteristic
	uuid    bluetooth.UUID
	mu      sync.RWMutex
	handler func(buf []byte)
}

func (c *btCharacteristic) UUID() string {
	return c.uuid.String()
}

func (c *btCharacteristic) OnValueChanged(fn func(buf []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *btCharacteristic) StartNotifications(ctx context.Context) error {
	if err := c.device.usable(ctx); err != nil {
		return err
	}
	c.device.bleMu.Lock()
	defer c.device.bleMu.Unlock()

	if err := c.char.EnableNotifications(c.dispatch); err != nil {
		return fmt.Errorf("failed to enable notifications on %s: %w", c.UUID(), err)
	}
	c.device.logger.Printf("BTDevice: Notifications enabled for %s", c.UUID())
	return nil
}

func (c *btCharacteristic) StopNotifications(ctx context.Context) error {
	if err := c.device.usable(ctx); err != nil {
		return err
	}
	c.device.bleMu.Lock()
	defer c.device.bleMu.Unlock()

	// a nil callback disables notifications
	if err := c.char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("failed to disable notifications on %s: %w", c.UUID(), err)
	}
	return nil
}

func (c *btCharacteristic) ReadValue(ctx context.Context) ([]byte, error) {
	if err := c.device.usable(ctx); err != nil {
		return nil, err
	}
	c.device.bleMu.Lock()
	defer c.device.bleMu.Unlock()

	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.UUID(), err)
	}
	return buf[:n], nil
}

// dispatch copies the frame since the stack may reuse its buffer
func (c *btCharacteristic) dispatch(buf []byte) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	frame := make([]byte, len(buf))
	copy(frame, buf)
	handler(frame)
}
