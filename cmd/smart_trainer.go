package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/antplus"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/config"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/dashboard"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/logging"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/osc_sink"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/sensor"
)

const simulationInterval = 250 * time.Millisecond

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	must("load config", err)

	appLogger, err := logging.New(cfg.Log)
	must("open log file", err)
	defer appLogger.Close()
	logger := appLogger.Logger
	if cfg.ConfigFile != "" {
		logger.Printf("Using config file %s", cfg.ConfigFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var shutdowns []func()
	defer func() {
		for i := len(shutdowns) - 1; i >= 0; i-- {
			shutdowns[i]()
		}
	}()

	transport := newTransport(cfg, logger, &shutdowns)
	if err := transport.Enable(); err != nil {
		// connect attempts will report the failure
		logger.Printf("Bluetooth unavailable: %v", err)
	}

	prober := sensor.NewProber(transport, sensor.NewRoleRegistry(), logger)
	hub := sensor.NewHub(transport, prober, logger, cfg.Bluetooth.ScanTimeout)
	trainer := sensor.NewTrainerSession(logger, sensor.TrainerSessionConfig{
		PollInterval:        cfg.PollInterval,
		DeriveCadence:       cfg.Trainer.DeriveCadence,
		WheelCircumferenceM: cfg.Trainer.WheelCircumferenceM,
	})

	var heartRate *sensor.HeartRateSession
	var antHeartRate *antplus.HeartRateAdapter
	if cfg.HeartRateSource == config.HeartRateSourceANT {
		collection := newANTCollection(ctx, cfg, logger, &shutdowns)
		antHeartRate = antplus.NewHeartRateAdapter(collection, logger)
	} else {
		heartRate = sensor.NewHeartRateSession(logger, cfg.PollInterval)
	}

	if cfg.OSC.Enabled {
		startOSC(ctx, cfg, logger, trainer, heartRate, antHeartRate, &shutdowns)
	}

	model := dashboard.NewModel(logger, appLogger.Lines.Lines())
	controller := dashboard.NewController(dashboard.ControllerArgs{
		Model:          model,
		Hub:            hub,
		Trainer:        trainer,
		HeartRate:      heartRate,
		ANTHeartRate:   antHeartRate,
		Preferences:    dashboard.NewPreferences(dashboard.DefaultPreferencesPath(), logger),
		ConnectTimeout: cfg.Bluetooth.ConnectTimeout,
		Logger:         logger,
	})

	app := tview.NewApplication()
	view := dashboard.NewBaseView(dashboard.NewBaseViewArgs{
		ViewImpl:   dashboard.NewTviewView(logger, app),
		Model:      model,
		Controller: controller,
		Logger:     logger,
	})

	controller.AutoConnect()
	runErr := view.Run()

	view.Shutdown()
	controller.Shutdown()
	model.Shutdown()
	if runErr != nil {
		logger.Printf("UI stopped with error: %v", runErr)
	}
}

// newTransport returns the simulated transport with --mock and the system adapter otherwise
func newTransport(cfg config.Config, logger *log.Logger, shutdowns *[]func()) bt.Transport {
	if cfg.Mock {
		transport, simulator := bt.NewSimulatedTransport(logger)
		simulator.Start(simulationInterval)
		*shutdowns = append(*shutdowns, simulator.Stop)
		return transport
	}
	manager := bt.NewBTManager(bluetooth.DefaultAdapter, logger, cfg.Bluetooth.ScanTimeout)
	*shutdowns = append(*shutdowns, manager.Shutdown)
	return manager
}

func newANTCollection(ctx context.Context, cfg config.Config, logger *log.Logger, shutdowns *[]func()) antplus.DeviceCollection {
	if cfg.Mock {
		collection := antplus.NewMockCollection()
		strap := antplus.NewMockDevice(1, antplus.ProfileHeartRate)
		collection.AddDevice(strap)
		stop := simulateANTStrap(logger, strap)
		*shutdowns = append(*shutdowns, stop)
		return collection
	}
	collection := antplus.NewUSBCollection(logger, gousb.ID(cfg.ANT.VID), gousb.ID(cfg.ANT.PID))
	if err := collection.Start(ctx); err != nil {
		// the heart rate slot stays in the connecting state
		logger.Printf("ANT+ unavailable: %v", err)
	}
	*shutdowns = append(*shutdowns, collection.Close)
	return collection
}

func simulateANTStrap(logger *log.Logger, strap *antplus.MockDevice) func() {
	var wg sync.WaitGroup
	stopCh := make(chan struct{})
	started := time.Now()
	go_func_utils.SafeGoWG(logger, &wg, func() {
		ticker := time.NewTicker(simulationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case now := <-ticker.C:
				t := now.Sub(started).Seconds()
				strap.EmitHeartRate(int(130 + 10*math.Sin(t/30)))
			}
		}
	})
	return func() {
		close(stopCh)
		wg.Wait()
	}
}

func startOSC(ctx context.Context, cfg config.Config, logger *log.Logger, trainer *sensor.TrainerSession,
	heartRate *sensor.HeartRateSession, antHeartRate *antplus.HeartRateAdapter, shutdowns *[]func()) {
	samples := make(chan protocol.TrainerSample, 16)
	heartRates := make(chan int, 16)
	unregisterSamples := trainer.Listen(samples)
	var unregisterHeartRate func()
	if antHeartRate != nil {
		unregisterHeartRate = antHeartRate.Listen(heartRates)
	} else {
		unregisterHeartRate = heartRate.Listen(heartRates)
	}

	sink := osc_sink.New(cfg.OSC.Host, cfg.OSC.Port, logger)
	sink.Start(ctx, samples, heartRates)
	logger.Printf("Sending OSC to %s:%d", cfg.OSC.Host, cfg.OSC.Port)

	*shutdowns = append(*shutdowns, func() {
		unregisterSamples()
		unregisterHeartRate()
		sink.Stop()
	})
}

func must(action string, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to "+action+": "+err.Error())
		os.Exit(1)
	}
}
