package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
)

// ViewImpl is the framework-specific part of the dashboard
type ViewImpl interface {
	// Initialize builds the widgets; controller receives UI events
	Initialize(controller *Controller)
	SetupKeyboardHandlers(controller *Controller)

	// Run blocks until the UI exits
	Run() error
	Stop()
	Draw() error

	GetLogViewHeight() int
	ClearLogView()
	WriteLogLine(line string) error

	SetSensorStates(states SensorStates)
	UpdateLatestData(data MetricData)
}

// BaseView wires a ViewImpl to the Model
type BaseView struct {
	viewImpl   ViewImpl
	model      *Model
	controller *Controller
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *log.Logger
}

type NewBaseViewArgs struct {
	ViewImpl   ViewImpl
	Model      *Model
	Controller *Controller
	Logger     *log.Logger
}

func NewBaseView(args NewBaseViewArgs) *BaseView {
	if args.Logger == nil {
		panic("BaseView: logger cannot be nil")
	}
	if args.ViewImpl == nil {
		panic("BaseView: ViewImpl cannot be nil")
	}
	if args.Model == nil {
		panic("BaseView: Model cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	base := &BaseView{
		viewImpl:   args.ViewImpl,
		model:      args.Model,
		controller: args.Controller,
		ctx:        ctx,
		cancel:     cancel,
		logger:     args.Logger,
	}

	args.ViewImpl.Initialize(args.Controller)
	args.ViewImpl.SetupKeyboardHandlers(args.Controller)

	go_func_utils.SafeGoWG(base.logger, &base.wg, base.monitorLogResize)
	base.updateLogDisplay()
	base.setupEventListeners()
	return base
}

// listen runs fn for every value received on ch until the view shuts down
func listen[T any](base *BaseView, register func(chan<- T) func(), fn func(T)) {
	ch := make(chan T, 1)
	unregister := register(ch)
	go_func_utils.SafeGoWG(base.logger, &base.wg, func() {
		defer unregister()
		for {
			select {
			case <-base.ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				fn(v)
			}
		}
	})
}

func (base *BaseView) setupEventListeners() {
	listen(base, base.model.ListenToLog, func(string) {
		base.updateLogDisplay()
		base.draw()
	})
	listen(base, base.model.ListenToSensorStates, func(states SensorStates) {
		base.viewImpl.SetSensorStates(states)
		base.draw()
	})
	listen(base, base.model.ListenToLatestData, func(data MetricData) {
		base.viewImpl.UpdateLatestData(data)
		base.draw()
	})
	listen(base, base.model.ListenToCloseApplication, func(struct{}) {
		base.viewImpl.Stop()
	})
}

func (base *BaseView) draw() {
	if err := base.viewImpl.Draw(); err != nil {
		base.logger.Printf("BaseView: Error drawing: %v", err)
	}
}

func (base *BaseView) updateLogDisplay() {
	height := base.viewImpl.GetLogViewHeight()
	if height <= 0 {
		return
	}
	base.viewImpl.ClearLogView()
	for _, line := range base.model.GetLogTail(height) {
		if err := base.viewImpl.WriteLogLine(line + "\n"); err != nil {
			base.logger.Printf("BaseView: Error writing to log view: %v", err)
		}
	}
}

func (base *BaseView) monitorLogResize() {
	var lastHeight int
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-base.ctx.Done():
			return
		case <-ticker.C:
			height := base.viewImpl.GetLogViewHeight()
			if height != lastHeight && height > 0 {
				lastHeight = height
				base.updateLogDisplay()
				base.draw()
			}
		}
	}
}

// Shutdown stops all listeners and waits for them to finish
func (base *BaseView) Shutdown() {
	base.logger.Println("BaseView: Shutting down")
	base.cancel()
	base.wg.Wait()
}

// Run starts the UI and blocks until it exits
func (base *BaseView) Run() error {
	return base.viewImpl.Run()
}
