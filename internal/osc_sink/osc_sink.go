package osc_sink

import (
	"context"
	"log"
	"sync"

	"github.com/hypebeast/go-osc/osc"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

const (
	AddressPower     = "/trainer/power"
	AddressCadence   = "/trainer/cadence"
	AddressSpeed     = "/trainer/speed"
	AddressHeartRate = "/heartrate/bpm"
)

// Sender is the part of osc.Client the sink uses
type Sender interface {
	Send(packet osc.Packet) error
}

// Sink forwards live metrics as OSC messages over UDP
type Sink struct {
	logger *log.Logger
	sender Sender

	mu       sync.Mutex
	failing  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sentMsgs int
}

func New(host string, port int, logger *log.Logger) *Sink {
	return NewWithSender(osc.NewClient(host, port), logger)
}

func NewWithSender(sender Sender, logger *log.Logger) *Sink {
	if logger == nil {
		panic("OSCSink: logger cannot be nil")
	}
	return &Sink{logger: logger, sender: sender}
}

// Start forwards everything received on trainerSamples and heartRates until ctx is done or Stop is called.
// Either channel may be nil.
func (s *Sink) Start(ctx context.Context, trainerSamples <-chan protocol.TrainerSample, heartRates <-chan int) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go_func_utils.SafeGoWG(s.logger, &s.wg, func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-trainerSamples:
				if !ok {
					trainerSamples = nil
					continue
				}
				s.SendTrainerSample(sample)
			case bpm, ok := <-heartRates:
				if !ok {
					heartRates = nil
					continue
				}
				s.SendHeartRate(bpm)
			}
		}
	})
}

func (s *Sink) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sink) SendTrainerSample(sample protocol.TrainerSample) {
	if !sample.Connected {
		return
	}
	s.send(osc.NewMessage(AddressPower, int32(sample.PowerWatts)))
	s.send(osc.NewMessage(AddressCadence, float32(sample.CadenceRpm)))
	s.send(osc.NewMessage(AddressSpeed, float32(sample.SpeedKph)))
}

func (s *Sink) SendHeartRate(bpm int) {
	if bpm <= 0 {
		return
	}
	s.send(osc.NewMessage(AddressHeartRate, int32(bpm)))
}

// send logs only the first failure of a run of failures so an absent receiver doesn't flood the log
func (s *Sink) send(msg *osc.Message) {
	err := s.sender.Send(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.failing {
			s.logger.Printf("OSCSink: send %s failed: %v", msg.Address, err)
		}
		s.failing = true
		return
	}
	if s.failing {
		s.logger.Printf("OSCSink: sending again")
	}
	s.failing = false
	s.sentMsgs++
}

// Sent returns how many messages were delivered to the socket
func (s *Sink) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentMsgs
}
