package sensor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/events"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
)

const (
	DefaultPollInterval = 1 * time.Second

	// frames waiting for the consumer; pushes beyond this are dropped
	frameBufferSize = 16

	stopNotificationsTimeout = 2 * time.Second
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateConnecting
	stateActive
	stateDisconnecting
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "Connecting"
	case stateActive:
		return "Active"
	case stateDisconnecting:
		return "Disconnecting"
	default:
		return "Idle"
	}
}

// resolveFunc performs GATT setup for a session and returns the measurement
// characteristic with the decoder for its frames
type resolveFunc[T any] func(ctx context.Context) (bt.Characteristic, func(frame []byte) (T, bool), error)

// acquisition is the connect / notify / poll core shared by the sessions.
// Two producers, the notification handler and the poll loop, feed one frame channel.
// A single consumer decodes and publishes. Duplicates from the two paths are not removed.
type acquisition[T any] struct {
	name         string
	logger       *log.Logger
	pollInterval time.Duration
	samples      *events.ChannelEvent[T]
	statusEvent  *events.ChannelEvent[ConnectionStatus]

	mu     sync.Mutex
	state  sessionState
	status ConnectionStatus
	id     string
	device bt.DeviceHandle
	char   bt.Characteristic
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// set while Connecting
	setupCancel   context.CancelFunc
	setupDone     chan struct{}
	stopRequested bool
}

func newAcquisition[T any](name string, logger *log.Logger, pollInterval time.Duration) *acquisition[T] {
	if logger == nil {
		panic(name + ": logger cannot be nil")
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	a := &acquisition[T]{
		name:         name,
		logger:       logger,
		pollInterval: pollInterval,
		samples:      events.NewChannelEvent[T](false),
		statusEvent:  events.NewChannelEvent[ConnectionStatus](true),
	}
	a.statusEvent.Notify(StatusNotConnected)
	return a
}

// start claims the session and runs setup on device
func (a *acquisition[T]) start(ctx context.Context, device bt.DeviceHandle, resolve resolveFunc[T]) error {
	id, err := a.claim()
	if err != nil {
		return err
	}
	return a.run(ctx, id, device, resolve)
}

// claim moves an idle session to Connecting. Every successful claim must be followed
// by run or unclaim.
func (a *acquisition[T]) claim() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateIdle {
		a.logger.Printf("%s: Connect refused while %v", a.name, a.state)
		return "", ErrSessionBusy
	}
	a.state = stateConnecting
	a.id = uuid.NewString()
	a.setupDone = make(chan struct{})
	a.stopRequested = false
	return a.id, nil
}

// unclaim returns a claimed session to Idle without touching any device
func (a *acquisition[T]) unclaim() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateConnecting {
		return
	}
	a.state = stateIdle
	close(a.setupDone)
	a.setupDone = nil
}

// run performs resolve and, if it succeeds, starts the producers and the consumer.
// A resolve failure disconnects device best-effort and is returned. A disconnect that
// arrives during setup cancels it and run returns ErrConnectAborted.
func (a *acquisition[T]) run(ctx context.Context, id string, device bt.DeviceHandle, resolve resolveFunc[T]) error {
	setupCtx, setupCancel := context.WithCancel(ctx)
	defer setupCancel()
	a.mu.Lock()
	a.setupCancel = setupCancel
	done := a.setupDone
	a.mu.Unlock()
	defer close(done)

	a.setStatus(StatusConnecting)
	a.logger.Printf("%s [%s]: Connecting to %s (%s)", a.name, id, device.Name(), device.Address())

	char, decode, err := resolve(setupCtx)
	if err == nil && a.isStopRequested() {
		err = ErrConnectAborted
	}
	if err != nil {
		a.logger.Printf("%s [%s]: Setup failed: %v", a.name, id, err)
		if derr := device.GATT().Disconnect(); derr != nil {
			a.logger.Printf("%s [%s]: Ignoring disconnect error: %v", a.name, id, derr)
		}
		aborted := a.finishSetup()
		if aborted {
			a.setStatus(StatusNotConnected)
			return ErrConnectAborted
		}
		a.setStatus(StatusFailed)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	frames := make(chan []byte, frameBufferSize)

	char.OnValueChanged(func(buf []byte) {
		if runCtx.Err() != nil {
			return
		}
		select {
		case frames <- buf:
		default:
			a.logger.Printf("%s [%s]: Frame buffer full, dropping notification", a.name, id)
		}
	})
	if err := char.StartNotifications(setupCtx); err != nil {
		a.logger.Printf("%s [%s]: Notifications unavailable, polling only: %v", a.name, id, err)
	}

	a.mu.Lock()
	if a.stopRequested {
		a.mu.Unlock()
		cancel()
		a.logger.Printf("%s [%s]: Disconnect requested during setup", a.name, id)
		a.releaseChar(id, char)
		if derr := device.GATT().Disconnect(); derr != nil {
			a.logger.Printf("%s [%s]: Ignoring disconnect error: %v", a.name, id, derr)
		}
		a.finishSetup()
		a.setStatus(StatusNotConnected)
		return ErrConnectAborted
	}
	a.device = device
	a.char = char
	a.cancel = cancel
	a.state = stateActive
	a.setupCancel = nil
	a.setupDone = nil
	a.mu.Unlock()

	go_func_utils.SafeGoWG(a.logger, &a.wg, func() {
		a.pollLoop(runCtx, id, char, frames)
	})
	go_func_utils.SafeGoWG(a.logger, &a.wg, func() {
		a.consume(runCtx, frames, decode)
	})

	a.setStatus(StatusConnected)
	a.logger.Printf("%s [%s]: Active", a.name, id)
	return nil
}

// finishSetup returns a Connecting session to Idle and reports whether a disconnect was requested
func (a *acquisition[T]) finishSetup() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	aborted := a.stopRequested
	a.state = stateIdle
	a.setupCancel = nil
	a.setupDone = nil
	a.stopRequested = false
	return aborted
}

func (a *acquisition[T]) isStopRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopRequested
}

func (a *acquisition[T]) releaseChar(id string, char bt.Characteristic) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopNotificationsTimeout)
	defer stopCancel()
	if err := char.StopNotifications(stopCtx); err != nil {
		a.logger.Printf("%s [%s]: Ignoring stop notifications error: %v", a.name, id, err)
	}
	char.OnValueChanged(nil)
}

// pollLoop reads the characteristic every pollInterval until ctx is cancelled.
// Read errors are logged and retried on the next tick.
func (a *acquisition[T]) pollLoop(ctx context.Context, id string, char bt.Characteristic, frames chan<- []byte) {
	defer a.logger.Printf("%s [%s]: exiting poll loop", a.name, id)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buf, err := char.ReadValue(ctx)
			if ctx.Err() != nil {
				// result of a read that raced with Disconnect
				return
			}
			if err != nil {
				failures++
				a.logger.Printf("%s [%s]: Poll read failed (%d in a row): %v", a.name, id, failures, err)
				continue
			}
			failures = 0
			select {
			case frames <- buf:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *acquisition[T]) consume(ctx context.Context, frames <-chan []byte, decode func([]byte) (T, bool)) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-frames:
			value, ok := decode(buf)
			if !ok {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			a.samples.Notify(value)
		}
	}
}

// disconnect stops both producers and the consumer, then unsubscribes and disconnects
// best-effort. Nothing is published once it returns. A session that is still Connecting
// has its setup cancelled, and disconnect waits for setup to give up.
func (a *acquisition[T]) disconnect() {
	a.mu.Lock()
	if a.state == stateConnecting {
		a.stopRequested = true
		setupCancel, done := a.setupCancel, a.setupDone
		id := a.id
		a.mu.Unlock()
		a.logger.Printf("%s [%s]: Cancelling connect", a.name, id)
		if setupCancel != nil {
			setupCancel()
		}
		if done != nil {
			<-done
		}
		return
	}
	if a.state != stateActive {
		a.mu.Unlock()
		return
	}
	a.state = stateDisconnecting
	id := a.id
	cancel := a.cancel
	char := a.char
	device := a.device
	a.mu.Unlock()

	a.logger.Printf("%s [%s]: Disconnecting", a.name, id)
	cancel()
	a.wg.Wait()

	a.releaseChar(id, char)

	if err := device.GATT().Disconnect(); err != nil {
		a.logger.Printf("%s [%s]: Ignoring disconnect error: %v", a.name, id, err)
	}

	a.mu.Lock()
	a.device = nil
	a.char = nil
	a.cancel = nil
	a.state = stateIdle
	a.mu.Unlock()

	a.setStatus(StatusNotConnected)
	a.logger.Printf("%s [%s]: Disconnected", a.name, id)
}

func (a *acquisition[T]) setStatus(status ConnectionStatus) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
	a.statusEvent.Notify(status)
}

func (a *acquisition[T]) currentStatus() ConnectionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *acquisition[T]) currentState() sessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *acquisition[T]) sessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

func (a *acquisition[T]) deviceName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device == nil {
		return ""
	}
	return a.device.Name()
}

func (a *acquisition[T]) deviceAddress() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device == nil {
		return ""
	}
	return a.device.Address()
}
