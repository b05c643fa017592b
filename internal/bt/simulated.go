package bt

import (
	"encoding/binary"
	"log"
	"math"
	"sync"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

const (
	SimulatedTrainerAddress = "00:00:00:00:00:01"
	SimulatedHRMAddress     = "00:00:00:00:00:02"
)

// Simulator drives a simulated FTMS trainer and heart rate strap
type Simulator struct {
	logger      *log.Logger
	trainerChar *MockCharacteristic
	hrChar      *MockCharacteristic
	started     time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewSimulatedTransport returns a MockTransport holding a trainer and a heart rate strap
// plus the Simulator that moves their values
func NewSimulatedTransport(logger *log.Logger) (*MockTransport, *Simulator) {
	transport := NewMockTransport(logger)

	trainer := NewMockPeripheral(SimulatedTrainerAddress, "Sim Trainer")
	trainerChar := trainer.AddCharacteristic(protocol.ServiceUUIDFTMS, protocol.CharUUIDIndoorBikeData)
	transport.AddPeripheral(trainer)

	hrm := NewMockPeripheral(SimulatedHRMAddress, "Sim HRM")
	hrChar := hrm.AddCharacteristic(protocol.ServiceUUIDHeartRate, protocol.CharUUIDHeartRateMeasurement)
	transport.AddPeripheral(hrm)

	sim := &Simulator{
		logger:      logger,
		trainerChar: trainerChar,
		hrChar:      hrChar,
		started:     time.Now(),
		stopCh:      make(chan struct{}),
	}
	sim.tick(0)
	return transport, sim
}

// Start pushes a new frame on both characteristics every interval
func (s *Simulator) Start(interval time.Duration) {
	s.logger.Printf("Simulator: Starting with interval %v", interval)
	go_func_utils.SafeGoWG(s.logger, &s.wg, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.tick(now.Sub(s.started))
			}
		}
	})
}

func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Simulator) tick(elapsed time.Duration) {
	t := elapsed.Seconds()
	power := 180 + 40*math.Sin(t/20)
	cadence := 85 + 6*math.Sin(t/15)
	speed := 30 + 3*math.Sin(t/20)
	bpm := 125 + 12*math.Sin(t/40)

	trainerFrame := EncodeIndoorBikeData(speed, cadence, int(power))
	s.trainerChar.SetValue(trainerFrame)
	s.trainerChar.Push(trainerFrame)

	hrFrame := []byte{0x00, byte(bpm)}
	s.hrChar.SetValue(hrFrame)
	s.hrChar.Push(hrFrame)
}

// EncodeIndoorBikeData builds an Indoor Bike Data frame carrying speed, cadence and power
func EncodeIndoorBikeData(speedKph float64, cadenceRpm float64, powerWatts int) []byte {
	buf := []byte{0x45} // bits 0, 2 and 6
	buf = binary.LittleEndian.AppendUint16(buf, uint16(math.Round(speedKph*100)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(math.Round(cadenceRpm*2)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(powerWatts)))
	return buf
}
