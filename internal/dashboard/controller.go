package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/antplus"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/sensor"
)

const (
	sourceBLE = "BLE"
	sourceANT = "ANT+"
)

// ControllerArgs holds the arguments for creating a new Controller.
// At most one of HeartRate and ANTHeartRate is expected; with neither the heart rate slot stays empty.
type ControllerArgs struct {
	Model          *Model
	Hub            *sensor.Hub
	Trainer        *sensor.TrainerSession
	HeartRate      *sensor.HeartRateSession
	ANTHeartRate   *antplus.HeartRateAdapter
	Preferences    *Preferences
	ConnectTimeout time.Duration
	Logger         *log.Logger
}

// Controller turns user actions into session calls and feeds session output into the Model
type Controller struct {
	model          *Model
	hub            *sensor.Hub
	trainer        *sensor.TrainerSession
	heartRate      *sensor.HeartRateSession
	antHeartRate   *antplus.HeartRateAdapter
	prefs          *Preferences
	connectTimeout time.Duration
	logger         *log.Logger

	mu         sync.Mutex
	connecting map[Slot]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(args ControllerArgs) *Controller {
	if args.Logger == nil {
		panic("Controller: logger cannot be nil")
	}
	if args.Model == nil {
		panic("Controller: model cannot be nil")
	}
	if args.Hub == nil {
		panic("Controller: hub cannot be nil")
	}
	if args.Trainer == nil {
		panic("Controller: trainer session cannot be nil")
	}
	timeout := args.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		model:          args.Model,
		hub:            args.Hub,
		trainer:        args.Trainer,
		heartRate:      args.HeartRate,
		antHeartRate:   args.ANTHeartRate,
		prefs:          args.Preferences,
		connectTimeout: timeout,
		logger:         args.Logger,
		connecting:     make(map[Slot]bool),
		ctx:            ctx,
		cancel:         cancel,
	}

	if c.prefs != nil {
		for _, info := range AllSlots {
			if address := c.prefs.PreferredDevice(info.Slot); address != "" {
				c.hub.Prefer(info.Role, address)
			}
		}
	}

	c.startTrainerPump()
	if c.heartRate != nil {
		c.startHeartRatePump()
	}
	if c.antHeartRate != nil {
		c.startANTPump()
	}
	return c
}

func (c *Controller) startTrainerPump() {
	samples := make(chan protocol.TrainerSample, 16)
	statuses := make(chan sensor.ConnectionStatus, 4)
	unregisterSamples := c.trainer.Listen(samples)
	unregisterStatus := c.trainer.ListenStatus(statuses)

	go_func_utils.SafeGoWG(c.logger, &c.wg, func() {
		defer unregisterSamples()
		defer unregisterStatus()
		for {
			select {
			case <-c.ctx.Done():
				return
			case sample := <-samples:
				c.model.SetTrainerSample(sample)
			case status := <-statuses:
				c.model.SetSensorState(SlotTrainer, SensorState{
					Status:     status,
					DeviceName: c.trainer.DeviceName(),
					Source:     sourceBLE,
				})
			}
		}
	})
}

func (c *Controller) startHeartRatePump() {
	samples := make(chan int, 16)
	statuses := make(chan sensor.ConnectionStatus, 4)
	unregisterSamples := c.heartRate.Listen(samples)
	unregisterStatus := c.heartRate.ListenStatus(statuses)

	go_func_utils.SafeGoWG(c.logger, &c.wg, func() {
		defer unregisterSamples()
		defer unregisterStatus()
		for {
			select {
			case <-c.ctx.Done():
				return
			case bpm := <-samples:
				c.model.SetHeartRate(bpm)
			case status := <-statuses:
				c.model.SetSensorState(SlotHeartRate, SensorState{
					Status:     status,
					DeviceName: c.heartRate.DeviceName(),
					Source:     sourceBLE,
				})
			}
		}
	})
}

// startANTPump shows the ANT+ slot as connecting until the first heart rate arrives,
// and again whenever the strap drops out of range
func (c *Controller) startANTPump() {
	c.model.SetSensorState(SlotHeartRate, SensorState{Status: sensor.StatusConnecting, Source: sourceANT})
	samples := make(chan int, 16)
	attached := make(chan bool, 4)
	unregister := c.antHeartRate.Listen(samples)
	unregisterAttached := c.antHeartRate.ListenAttached(attached)

	go_func_utils.SafeGoWG(c.logger, &c.wg, func() {
		defer unregister()
		defer unregisterAttached()
		for {
			select {
			case <-c.ctx.Done():
				return
			case ok := <-attached:
				if !ok {
					c.model.SetSensorState(SlotHeartRate, SensorState{Status: sensor.StatusConnecting, Source: sourceANT})
				}
			case bpm := <-samples:
				name := sourceANT
				if id, ok := c.antHeartRate.DeviceID(); ok {
					name = fmt.Sprintf("ANT+ strap %d", id)
				}
				c.model.SetSensorState(SlotHeartRate, SensorState{
					Status:     sensor.StatusConnected,
					DeviceName: name,
					Source:     sourceANT,
				})
				c.model.SetHeartRate(bpm)
			}
		}
	})
}

// AutoConnect connects every BLE slot that has a remembered device
func (c *Controller) AutoConnect() {
	if c.prefs == nil {
		return
	}
	if address := c.prefs.PreferredDevice(SlotTrainer); address != "" {
		c.logger.Printf("Controller: Auto-connecting trainer %s", address)
		c.ConnectTrainer()
	}
	if c.heartRate != nil {
		if address := c.prefs.PreferredDevice(SlotHeartRate); address != "" {
			c.logger.Printf("Controller: Auto-connecting heart rate monitor %s", address)
			c.ConnectHeartRate()
		}
	}
}

// ToggleSlot connects the slot when it is idle and disconnects it when it is connected
func (c *Controller) ToggleSlot(slot Slot) {
	switch slot {
	case SlotTrainer:
		if c.trainer.Status() == sensor.StatusConnected {
			c.DisconnectTrainer()
		} else {
			c.ConnectTrainer()
		}
	case SlotHeartRate:
		if c.heartRate == nil {
			c.logger.Printf("Controller: Heart rate comes from ANT+ and follows the first strap in range")
			return
		}
		if c.heartRate.Status() == sensor.StatusConnected {
			c.DisconnectHeartRate()
		} else {
			c.ConnectHeartRate()
		}
	}
}

func (c *Controller) ConnectTrainer() {
	c.connect(SlotTrainer, func(ctx context.Context) error {
		return c.hub.ConnectTrainer(ctx, c.trainer)
	}, c.trainer.DeviceAddress)
}

func (c *Controller) ConnectHeartRate() {
	if c.heartRate == nil {
		return
	}
	c.connect(SlotHeartRate, func(ctx context.Context) error {
		return c.hub.ConnectHeartRate(ctx, c.heartRate)
	}, c.heartRate.DeviceAddress)
}

// connect runs discovery and connection for slot in the background.
// Discovery failures never reach a session, so the failed state is set here.
func (c *Controller) connect(slot Slot, run func(ctx context.Context) error, address func() string) {
	c.mu.Lock()
	if c.connecting[slot] {
		c.mu.Unlock()
		c.logger.Printf("Controller: %s already connecting", slot)
		return
	}
	c.connecting[slot] = true
	c.mu.Unlock()

	c.model.SetSensorState(slot, SensorState{Status: sensor.StatusConnecting, Source: sourceBLE})

	go_func_utils.SafeGoWG(c.logger, &c.wg, func() {
		defer func() {
			c.mu.Lock()
			delete(c.connecting, slot)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(c.ctx, c.connectTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			if errors.Is(err, sensor.ErrSessionBusy) {
				c.logger.Printf("Controller: %s is already connected", slot)
				return
			}
			if errors.Is(err, sensor.ErrConnectAborted) {
				c.logger.Printf("Controller: %s connect cancelled", slot)
				return
			}
			c.logger.Printf("Controller: %s connection failed: %v", slot, err)
			c.model.SetSensorState(slot, SensorState{Status: sensor.StatusFailed, Source: sourceBLE})
			return
		}

		addr := address()
		if addr == "" {
			return
		}
		if info, ok := GetSlotInfo(slot); ok {
			c.hub.Prefer(info.Role, addr)
		}
		if c.prefs != nil {
			c.prefs.SetPreferredDevice(slot, addr)
		}
	})
}

func (c *Controller) DisconnectTrainer() {
	go_func_utils.SafeGoWG(c.logger, &c.wg, c.trainer.Disconnect)
}

func (c *Controller) DisconnectHeartRate() {
	if c.heartRate == nil {
		return
	}
	go_func_utils.SafeGoWG(c.logger, &c.wg, c.heartRate.Disconnect)
}

// OnEscapeKey handles when the Escape key is pressed
func (c *Controller) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// Shutdown stops the pumps and disconnects every sensor
func (c *Controller) Shutdown() {
	c.logger.Println("Controller: Shutting down")
	c.cancel()
	c.wg.Wait()
	c.trainer.Disconnect()
	if c.heartRate != nil {
		c.heartRate.Disconnect()
	}
	if c.antHeartRate != nil {
		c.antHeartRate.Disconnect()
	}
	c.logger.Println("Controller: Shutdown complete")
}
