package antplus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/half2me/antgo/message"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/events"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/safe_map"
)

const (
	DefaultVID gousb.ID = 0x0fcf
	DefaultPID gousb.ID = 0x1009

	antPlusFrequency = 2457
	readBufferSize   = 64
	readRetryDelay   = 500 * time.Millisecond
	// devices not heard from for this long are dropped
	deviceTimeout = 10 * time.Second
)

var ErrStickNotFound = errors.New("ANT USB stick not found")

// USBCollection is a DeviceCollection fed by an ANT USB stick in RX scan mode
type USBCollection struct {
	logger   *log.Logger
	vid, pid gousb.ID

	devices *safe_map.SafeMap[uint16, *usbDevice]
	changes *events.CallbackEvent[struct{}]
	now     func() time.Time

	mu      sync.Mutex
	usbCtx  *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	out     *gousb.OutEndpoint
	stream  *gousb.ReadStream
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewUSBCollection(logger *log.Logger, vid, pid gousb.ID) *USBCollection {
	if logger == nil {
		panic("USBCollection: logger cannot be nil")
	}
	if vid == 0 {
		vid = DefaultVID
	}
	if pid == 0 {
		pid = DefaultPID
	}
	return &USBCollection{
		logger:  logger,
		vid:     vid,
		pid:     pid,
		devices: safe_map.NewSafeMap[uint16, *usbDevice](),
		changes: events.NewCallbackEvent[struct{}](false),
		now:     time.Now,
	}
}

// Start opens the stick, puts it in RX scan mode and starts reading broadcasts
func (c *USBCollection) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	usbCtx := gousb.NewContext()
	defer func() {
		if err != nil {
			c.releaseLocked()
		}
	}()
	c.usbCtx = usbCtx

	dev, err := usbCtx.OpenDeviceWithVIDPID(c.vid, c.pid)
	if err != nil {
		return fmt.Errorf("open ANT stick %s:%s: %w", c.vid, c.pid, err)
	}
	if dev == nil {
		return fmt.Errorf("%s:%s: %w", c.vid, c.pid, ErrStickNotFound)
	}
	c.dev = dev
	if err := dev.SetAutoDetach(true); err != nil {
		c.logger.Printf("USBCollection: enabling auto detach failed: %v", err)
	}

	c.cfg, err = dev.Config(1)
	if err != nil {
		return fmt.Errorf("select config 1: %w", err)
	}
	c.intf, err = c.cfg.Interface(0, 0)
	if err != nil {
		return fmt.Errorf("claim interface 0: %w", err)
	}
	in, err := c.intf.InEndpoint(1)
	if err != nil {
		return fmt.Errorf("open in endpoint: %w", err)
	}
	c.out, err = c.intf.OutEndpoint(1)
	if err != nil {
		return fmt.Errorf("open out endpoint: %w", err)
	}
	c.stream, err = in.NewStream(readBufferSize, 1)
	if err != nil {
		return fmt.Errorf("open read stream: %w", err)
	}

	if err := c.startRxScanMode(); err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	stream := c.stream
	go_func_utils.SafeGoWG(c.logger, &c.wg, func() {
		c.readLoop(readCtx, stream)
	})
	c.logger.Printf("USBCollection: scanning on %s:%s", c.vid, c.pid)
	return nil
}

func (c *USBCollection) startRxScanMode() error {
	steps := []struct {
		name string
		msg  []byte
	}{
		{"system reset", message.SystemResetMessage()},
		{"set network key", message.SetNetworkKeyMessage(0, []byte(message.ANTPLUS_NETWORK_KEY))},
		{"assign channel", message.AssignChannelMessage(0, message.CHANNEL_TYPE_ONEWAY_RECEIVE)},
		{"set channel id", message.SetChannelIdMessage(0)},
		{"set rf frequency", message.SetChannelRfFrequencyMessage(0, antPlusFrequency)},
		{"enable extended messages", message.EnableExtendedMessagesMessage(true)},
		{"lib config", message.LibConfigMessage(true, true, true)},
		{"open rx scan mode", message.OpenRxScanModeMessage()},
	}
	for _, step := range steps {
		if _, err := c.out.Write(step.msg); err != nil {
			return fmt.Errorf("ANT %s: %w", step.name, err)
		}
	}
	return nil
}

func (c *USBCollection) readLoop(ctx context.Context, stream *gousb.ReadStream) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.ReadContext(ctx, buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Printf("USBCollection: read failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		c.handleFrame(buf[:n])
		c.pruneStale()
	}
}

// handleFrame routes one USB read to the device that sent it
func (c *USBCollection) handleFrame(buf []byte) {
	page, ok := DecodeHeartRatePage(buf)
	if !ok {
		return
	}
	// Without a channel ID the scan channel can't tell devices apart, and it only ever hears
	// what it was opened for, so treat the frame as heart rate from device 0.
	profile := ProfileHeartRate
	if page.Extended {
		profile = profileFromDeviceType(page.DeviceType)
	}
	if profile != ProfileHeartRate {
		return
	}

	device, added := c.deviceFor(page.DeviceNumber, profile)
	if added {
		c.logger.Printf("USBCollection: found %s device %d", profile, page.DeviceNumber)
		c.changes.Notify(struct{}{})
	}
	device.publish(PropertyChange{
		Property:          PropertyHeartRateData,
		ComputedHeartRate: page.ComputedHeartRate,
		BeatCount:         page.BeatCount,
		BeatTime:          page.BeatTime,
	})
}

func (c *USBCollection) deviceFor(id uint16, profile Profile) (*usbDevice, bool) {
	added := false
	device := c.devices.Update(id, func(current *usbDevice, ok bool) *usbDevice {
		if ok {
			return current
		}
		added = true
		return newUSBDevice(id, profile)
	})
	device.touch(c.now())
	return device, added
}

func (c *USBCollection) pruneStale() {
	cutoff := c.now().Add(-deviceTimeout)
	removed := false
	c.devices.Range(func(id uint16, device *usbDevice) bool {
		if device.lastSeenBefore(cutoff) {
			c.devices.Delete(id)
			device.props.Close()
			c.logger.Printf("USBCollection: lost device %d", id)
			removed = true
		}
		return true
	})
	if removed {
		c.changes.Notify(struct{}{})
	}
}

func (c *USBCollection) Devices() []Device {
	devices := make([]Device, 0, c.devices.Len())
	c.devices.Range(func(_ uint16, device *usbDevice) bool {
		devices = append(devices, device)
		return true
	})
	return devices
}

func (c *USBCollection) ListenChanges(fn func()) func() {
	return c.changes.Listen(func(struct{}) { fn() })
}

// Close stops reading, resets the stick and releases the USB handles
func (c *USBCollection) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started && c.out != nil {
		if _, err := c.out.Write(message.SystemResetMessage()); err != nil {
			c.logger.Printf("USBCollection: reset on close failed: %v", err)
		}
	}
	c.releaseLocked()
	c.started = false
	c.changes.Close()
}

func (c *USBCollection) releaseLocked() {
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	if c.intf != nil {
		c.intf.Close()
		c.intf = nil
	}
	if c.cfg != nil {
		_ = c.cfg.Close()
		c.cfg = nil
	}
	if c.dev != nil {
		_ = c.dev.Close()
		c.dev = nil
	}
	if c.usbCtx != nil {
		_ = c.usbCtx.Close()
		c.usbCtx = nil
	}
	c.out = nil
}

type usbDevice struct {
	id      uint16
	profile Profile
	props   *events.CallbackEvent[PropertyChange]

	mu       sync.Mutex
	lastSeen time.Time
}

func newUSBDevice(id uint16, profile Profile) *usbDevice {
	return &usbDevice{
		id:      id,
		profile: profile,
		props:   events.NewCallbackEvent[PropertyChange](false),
	}
}

func (d *usbDevice) ID() uint16       { return d.id }
func (d *usbDevice) Profile() Profile { return d.profile }

func (d *usbDevice) ListenProperties(fn func(PropertyChange)) func() {
	return d.props.Listen(fn)
}

func (d *usbDevice) publish(change PropertyChange) {
	d.props.Notify(change)
}

func (d *usbDevice) touch(now time.Time) {
	d.mu.Lock()
	d.lastSeen = now
	d.mu.Unlock()
}

func (d *usbDevice) lastSeenBefore(cutoff time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen.Before(cutoff)
}
