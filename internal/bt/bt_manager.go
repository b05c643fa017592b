package bt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// how long Scan waits for the adapter's scan loop to return after StopScan
const stopScanGrace = 2 * time.Second

// Verify BTManager implements Transport
var _ Transport = (*BTManager)(nil)

// BTManager is the tinygo backed Transport
type BTManager struct {
	adapter          *bluetooth.Adapter
	devicesByAddress map[string]*btDeviceImpl
	mu               sync.RWMutex
	scanMu           sync.Mutex // one adapter scan at a time
	scanTimeout      time.Duration
	logger           *log.Logger
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger, scanTimeout ...time.Duration) *BTManager {
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	timeout := 10 * time.Second
	if len(scanTimeout) > 0 && scanTimeout[0] > 0 {
		timeout = scanTimeout[0]
	}
	return &BTManager{
		adapter:          adapter,
		devicesByAddress: make(map[string]*btDeviceImpl),
		scanTimeout:      timeout,
		logger:           logger,
	}
}

// getBTDeviceImpl must be called with mu held
func (m *BTManager) getBTDeviceImpl(address bluetooth.Address) (*btDeviceImpl, bool) {
	addressStr := address.String()
	result, ok := m.devicesByAddress[addressStr]
	if ok && !result.disposed.Load() {
		return result, false
	}
	result = newBtDeviceImpl(m.logger, m.adapter, address, m.scanTimeout)
	m.devicesByAddress[addressStr] = result
	return result, true
}

func (m *BTManager) Enable() error {
	// Track connections and disconnections reported by the stack
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()

		m.mu.Lock()
		d, _ := m.getBTDeviceImpl(device.Address)
		m.mu.Unlock()

		if connected {
			m.logger.Printf("BTManager: Device connected: %s", addressStr)
			d.setConnectedDevice(&device)
		} else {
			m.logger.Printf("BTManager: Device disconnected: %s", addressStr)
			d.resetConnection()
		}
	})

	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	return nil
}

// Scan runs the adapter scan until timeout or ctx ends and returns the devices seen during it
func (m *BTManager) Scan(ctx context.Context, timeout time.Duration, serviceUuidFilter []string) ([]DeviceHandle, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	if timeout <= 0 {
		timeout = m.scanTimeout
	}
	m.pruneStaleDevices(time.Now())

	filterSet := make(map[string]struct{})
	for _, filter := range serviceUuidFilter {
		filterSet[filter] = struct{}{}
	}
	m.logger.Printf("BTManager: Starting scan for %v, filter set is: %v", timeout, filterSet)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	scanDone := make(chan error, 1)
	go_func_utils.SafeGo(m.logger, func() {
		scanDone <- m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			m.handleScanResult(result, filterSet)
		})
	})

	var scanErr error
	select {
	case scanErr = <-scanDone:
	case <-scanCtx.Done():
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("BTManager: Error stopping scan: %v", err)
		}
		select {
		case scanErr = <-scanDone:
		case <-time.After(stopScanGrace):
			m.logger.Printf("BTManager: Scan loop did not exit within %v", stopScanGrace)
		}
	}
	m.logger.Printf("BTManager: Scan finished")

	if scanErr != nil {
		return nil, fmt.Errorf("scan failed: %w", scanErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.scanDevicesSince(started), nil
}

func (m *BTManager) handleScanResult(result bluetooth.ScanResult, filterSet map[string]struct{}) {
	if len(filterSet) > 0 {
		found := false
		for _, uuid := range result.ServiceUUIDs() {
			if _, ok := filterSet[uuid.String()]; ok {
				found = true
				break
			}
		}
		if !found {
			return
		}
	}

	m.mu.Lock()
	d, newObj := m.getBTDeviceImpl(result.Address)
	m.mu.Unlock()

	d.setScanResult(&result, time.Now())
	if newObj {
		m.logger.Printf("BTManager: Found device: %s (%s) [RSSI: %d]", d.Name(), d.Address(), result.RSSI)
	}
}

// Acquire hands out a fresh handle for address. A known but unconnected device gets a new
// handle and the old one is disposed; an unknown address triggers a scan.
func (m *BTManager) Acquire(ctx context.Context, address string) (DeviceHandle, error) {
	m.mu.Lock()
	d, ok := m.devicesByAddress[address]
	if ok && d.disposed.Load() {
		ok = false
	}
	if ok && !d.Connected() {
		fresh := newBtDeviceImpl(m.logger, m.adapter, d.address, m.scanTimeout)
		d.mu.RLock()
		fresh.scanResult = d.scanResult
		fresh.scanLastSeen = d.scanLastSeen
		d.mu.RUnlock()
		d.dispose()
		m.devicesByAddress[address] = fresh
		d = fresh
	}
	m.mu.Unlock()

	if ok {
		m.logger.Printf("BTManager: Acquired fresh handle for %s", address)
		return d, nil
	}

	handles, err := m.Scan(ctx, m.scanTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", address, err)
	}
	for _, h := range handles {
		if h.Address() == address {
			return h, nil
		}
	}
	return nil, fmt.Errorf("acquire %s: device not seen during scan", address)
}

// Shutdown disconnects every connected device
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	connectedDevices := m.getConnectedDeviceImpls()
	m.logger.Printf("BTManager: Number of connected devices %v", len(connectedDevices))
	for _, dev := range connectedDevices {
		if err := dev.Disconnect(); err != nil {
			m.logger.Printf("BTManager: Error disconnecting from %v: %v", dev.Address(), err)
		} else {
			m.logger.Printf("BTManager: Disconnected from %v", dev.Address())
		}
	}
	m.logger.Println("BTManager: Shutdown complete")
}

// pruneStaleDevices drops unconnected devices not seen within scanTimeout and disposes their handles
func (m *BTManager) pruneStaleDevices(now time.Time) {
	m.mu.Lock()
	var removed []string
	for mac, btDevice := range m.devicesByAddress {
		if btDevice.Connected() {
			continue
		}
		if now.Sub(btDevice.getScanLastSeen()) > m.scanTimeout {
			btDevice.dispose()
			delete(m.devicesByAddress, mac)
			removed = append(removed, mac)
		}
	}
	m.mu.Unlock()

	for _, mac := range removed {
		m.logger.Printf("BTManager: Device timeout: %s (not seen for %v)", mac, m.scanTimeout)
	}
}

func (m *BTManager) getConnectedDeviceImpls() []*btDeviceImpl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*btDeviceImpl, 0)
	for _, btDevice := range m.devicesByAddress {
		if btDevice.Connected() {
			result = append(result, btDevice)
		}
	}
	return result
}

func (m *BTManager) scanDevicesSince(since time.Time) []DeviceHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	result := make([]DeviceHandle, 0)
	for _, btDevice := range m.devicesByAddress {
		if btDevice.isRecentlyScanned(now) && !btDevice.getScanLastSeen().Before(since) {
			result = append(result, btDevice)
		}
	}
	return result
}
