package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// MockTransport is an in-memory Transport for tests and --mock runs
type MockTransport struct {
	logger       *log.Logger
	mu           sync.Mutex
	peripherals  map[string]*MockPeripheral
	order        []string
	enableErr    error
	scanErr      error
	acquireErr   error
	scanCount    int
	acquireCount int
}

var _ Transport = (*MockTransport)(nil)

func NewMockTransport(logger *log.Logger) *MockTransport {
	if logger == nil {
		panic("MockTransport: logger cannot be nil")
	}
	return &MockTransport{
		logger:      logger,
		peripherals: make(map[string]*MockPeripheral),
	}
}

// AddPeripheral makes p visible to Scan and Acquire
func (t *MockTransport) AddPeripheral(p *MockPeripheral) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peripherals[p.address]; !ok {
		t.order = append(t.order, p.address)
	}
	t.peripherals[p.address] = p
}

func (t *MockTransport) SetEnableError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enableErr = err
}

func (t *MockTransport) SetScanError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanErr = err
}

func (t *MockTransport) SetAcquireError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acquireErr = err
}

func (t *MockTransport) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enableErr != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, t.enableErr)
	}
	return nil
}

func (t *MockTransport) Scan(ctx context.Context, timeout time.Duration, serviceUuidFilter []string) ([]DeviceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanCount++
	if t.scanErr != nil {
		return nil, fmt.Errorf("scan failed: %w", t.scanErr)
	}

	result := make([]DeviceHandle, 0, len(t.order))
	for _, address := range t.order {
		p := t.peripherals[address]
		if len(serviceUuidFilter) > 0 && !p.hasAnyService(serviceUuidFilter) {
			continue
		}
		result = append(result, p.Handle())
	}
	t.logger.Printf("MockTransport: Scan returned %d devices", len(result))
	return result, nil
}

// Acquire replaces the peripheral's current handle with a fresh one
func (t *MockTransport) Acquire(ctx context.Context, address string) (DeviceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.acquireCount++
	acquireErr := t.acquireErr
	p, ok := t.peripherals[address]
	t.mu.Unlock()

	if acquireErr != nil {
		return nil, fmt.Errorf("acquire %s: %w", address, acquireErr)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: device not seen during scan", address)
	}
	t.logger.Printf("MockTransport: Acquired fresh handle for %s", address)
	return p.renewHandle(), nil
}

func (t *MockTransport) ScanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanCount
}

func (t *MockTransport) AcquireCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquireCount
}

// MockPeripheral is the simulated physical device. It owns the single connection
// shared by every handle pointing at it.
type MockPeripheral struct {
	address string
	name    string

	mu              sync.Mutex
	rssi            int16
	services        map[string]*MockService
	connected       bool
	inFlight        *connectAttempt
	connectErr      error
	connectDelay    time.Duration
	serviceErr      error
	connectCount    int
	disconnectCount int
	current         *MockDevice
}

func NewMockPeripheral(address string, name string) *MockPeripheral {
	p := &MockPeripheral{
		address:  address,
		name:     name,
		services: make(map[string]*MockService),
	}
	p.current = &MockDevice{peripheral: p}
	return p
}

// AddCharacteristic adds the characteristic, creating its service if needed
func (p *MockPeripheral) AddCharacteristic(serviceUuid string, charUuid string) *MockCharacteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	svc, ok := p.services[serviceUuid]
	if !ok {
		svc = &MockService{uuid: serviceUuid, peripheral: p, chars: make(map[string]*MockCharacteristic)}
		p.services[serviceUuid] = svc
	}
	char := &MockCharacteristic{uuid: charUuid, peripheral: p}
	svc.chars[charUuid] = char
	return char
}

// AddService adds an empty service
func (p *MockPeripheral) AddService(serviceUuid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.services[serviceUuid]; !ok {
		p.services[serviceUuid] = &MockService{uuid: serviceUuid, peripheral: p, chars: make(map[string]*MockCharacteristic)}
	}
}

// SetRSSI sets the signal strength reported by the peripheral's handles
func (p *MockPeripheral) SetRSSI(rssi int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rssi = rssi
}

func (p *MockPeripheral) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
}

// SetConnectDelay makes connection attempts take d, so concurrent callers overlap
func (p *MockPeripheral) SetConnectDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectDelay = d
}

// SetServiceLookupError makes PrimaryService fail
func (p *MockPeripheral) SetServiceLookupError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serviceErr = err
}

// Handle returns the current handle
func (p *MockPeripheral) Handle() *MockDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// MarkHandleStale disposes the current handle; the next operation on it reports ErrStaleHandle
func (p *MockPeripheral) MarkHandleStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current.stale.Store(true)
}

// DropConnection simulates a link loss
func (p *MockPeripheral) DropConnection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
}

func (p *MockPeripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// ConnectCount is the number of connections established
func (p *MockPeripheral) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCount
}

func (p *MockPeripheral) DisconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnectCount
}

func (p *MockPeripheral) renewHandle() *MockDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current.stale.Store(true)
	p.current = &MockDevice{peripheral: p}
	return p.current
}

func (p *MockPeripheral) hasAnyService(uuids []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, uuid := range uuids {
		if _, ok := p.services[uuid]; ok {
			return true
		}
	}
	return false
}

func (p *MockPeripheral) connect(ctx context.Context) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	attempt := p.inFlight
	if attempt == nil {
		attempt = &connectAttempt{done: make(chan struct{})}
		p.inFlight = attempt
		delay := p.connectDelay
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			p.mu.Lock()
			if p.connectErr != nil {
				attempt.err = fmt.Errorf("connect to %s: %w", p.address, p.connectErr)
			} else {
				p.connected = true
				p.connectCount++
			}
			p.inFlight = nil
			p.mu.Unlock()
			close(attempt.done)
		}()
	}
	p.mu.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", p.address, ctx.Err())
	}
}

func (p *MockPeripheral) disconnect() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	if wasConnected {
		p.disconnectCount++
	}
	var chars []*MockCharacteristic
	for _, svc := range p.services {
		for _, char := range svc.chars {
			chars = append(chars, char)
		}
	}
	p.mu.Unlock()

	for _, char := range chars {
		char.setNotifying(false)
	}
}

func (p *MockPeripheral) service(uuid string) (*MockService, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.serviceErr != nil {
		return nil, p.serviceErr
	}
	return p.services[uuid], nil
}

// MockDevice is a handle onto a MockPeripheral. It is both the DeviceHandle and its GATTServer.
type MockDevice struct {
	peripheral *MockPeripheral
	stale      atomic.Bool
}

var (
	_ DeviceHandle = (*MockDevice)(nil)
	_ GATTServer   = (*MockDevice)(nil)
)

func (d *MockDevice) Address() string {
	return d.peripheral.address
}

func (d *MockDevice) Name() string {
	return d.peripheral.name
}

func (d *MockDevice) RSSI() int16 {
	d.peripheral.mu.Lock()
	defer d.peripheral.mu.Unlock()
	return d.peripheral.rssi
}

func (d *MockDevice) GATT() GATTServer {
	return d
}

func (d *MockDevice) IsStale() bool {
	return d.stale.Load()
}

func (d *MockDevice) Connect(ctx context.Context) error {
	if d.stale.Load() {
		return ErrStaleHandle
	}
	return d.peripheral.connect(ctx)
}

func (d *MockDevice) Connected() bool {
	return !d.stale.Load() && d.peripheral.Connected()
}

func (d *MockDevice) PrimaryService(ctx context.Context, uuid string) (Service, error) {
	if err := d.usable(ctx); err != nil {
		return nil, err
	}
	svc, err := d.peripheral.service(uuid)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, nil
	}
	return svc, nil
}

func (d *MockDevice) Disconnect() error {
	if d.stale.Load() {
		return ErrStaleHandle
	}
	d.peripheral.disconnect()
	return nil
}

func (d *MockDevice) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.stale.Load() {
		return ErrStaleHandle
	}
	if !d.peripheral.Connected() {
		return ErrNotConnected
	}
	return nil
}

type MockService struct {
	uuid       string
	peripheral *MockPeripheral
	chars      map[string]*MockCharacteristic
}

func (s *MockService) UUID() string {
	return s.uuid
}

func (s *MockService) Characteristic(ctx context.Context, uuid string) (Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.peripheral.Connected() {
		return nil, ErrNotConnected
	}
	s.peripheral.mu.Lock()
	char, ok := s.chars[uuid]
	s.peripheral.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return char, nil
}

// MockCharacteristic serves reads from a fixed value or a read function and
// delivers notifications through Push.
type MockCharacteristic struct {
	uuid       string
	peripheral *MockPeripheral

	mu         sync.Mutex
	handler    func(buf []byte)
	notifying  bool
	value      []byte
	readFn     func(ctx context.Context) ([]byte, error)
	startErr   error
	stopErr    error
	readCount  int
	startCount int
	stopCount  int
}

func (c *MockCharacteristic) UUID() string {
	return c.uuid
}

func (c *MockCharacteristic) SetValue(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), buf...)
}

// SetReadFunc overrides SetValue for reads. fn may block until ctx is done.
func (c *MockCharacteristic) SetReadFunc(fn func(ctx context.Context) ([]byte, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readFn = fn
}

func (c *MockCharacteristic) SetStartNotificationsError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startErr = err
}

func (c *MockCharacteristic) SetStopNotificationsError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopErr = err
}

func (c *MockCharacteristic) OnValueChanged(fn func(buf []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *MockCharacteristic) StartNotifications(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.peripheral.Connected() {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCount++
	if c.startErr != nil {
		return fmt.Errorf("failed to enable notifications on %s: %w", c.uuid, c.startErr)
	}
	c.notifying = true
	return nil
}

func (c *MockCharacteristic) StopNotifications(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCount++
	c.notifying = false
	if c.stopErr != nil {
		return fmt.Errorf("failed to disable notifications on %s: %w", c.uuid, c.stopErr)
	}
	return nil
}

func (c *MockCharacteristic) ReadValue(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.peripheral.Connected() {
		return nil, ErrNotConnected
	}
	c.mu.Lock()
	c.readCount++
	fn := c.readFn
	value := append([]byte(nil), c.value...)
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if value == nil {
		return nil, errors.New("no value")
	}
	return value, nil
}

// Push delivers buf to the registered handler when notifications are on.
// It reports whether the handler was called.
func (c *MockCharacteristic) Push(buf []byte) bool {
	c.mu.Lock()
	handler := c.handler
	notifying := c.notifying
	c.mu.Unlock()
	if !notifying || handler == nil {
		return false
	}
	handler(append([]byte(nil), buf...))
	return true
}

func (c *MockCharacteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

func (c *MockCharacteristic) ReadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readCount
}

func (c *MockCharacteristic) StartCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCount
}

func (c *MockCharacteristic) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCount
}

func (c *MockCharacteristic) setNotifying(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifying = on
}
