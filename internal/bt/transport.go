package bt

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAdapterUnavailable means there is no usable Bluetooth radio
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")

	// ErrStaleHandle means the device handle was disposed; Acquire a fresh one
	ErrStaleHandle = errors.New("stale device handle")

	ErrNotConnected = errors.New("device not connected")
)

// Transport is the entry point into a BLE stack
type Transport interface {
	Enable() error
	// Scan collects advertising devices for up to timeout. An empty serviceUuidFilter accepts every device.
	Scan(ctx context.Context, timeout time.Duration, serviceUuidFilter []string) ([]DeviceHandle, error)
	// Acquire returns a fresh handle for a previously seen address
	Acquire(ctx context.Context, address string) (DeviceHandle, error)
}

type DeviceHandle interface {
	Address() string
	Name() string
	// RSSI is the last advertised signal strength in dBm, 0 when unknown
	RSSI() int16
	GATT() GATTServer
}

// GATTServer is the connection side of a DeviceHandle
type GATTServer interface {
	// Connect is idempotent: it returns nil when already connected and joins an attempt in flight
	Connect(ctx context.Context) error
	Connected() bool
	// PrimaryService returns nil, nil when the device does not expose uuid
	PrimaryService(ctx context.Context, uuid string) (Service, error)
	Disconnect() error
}

type Service interface {
	UUID() string
	// Characteristic returns nil, nil when the service does not contain uuid
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

type Characteristic interface {
	UUID() string
	StartNotifications(ctx context.Context) error
	StopNotifications(ctx context.Context) error
	ReadValue(ctx context.Context) ([]byte, error)
	// OnValueChanged sets the handler for notified values. The handler runs on the transport's callback context.
	OnValueChanged(fn func(buf []byte))
}
