package sensor

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/bt"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
)

const (
	testPollInterval = 10 * time.Millisecond
	// poll interval long enough that only pushed frames arrive during a test
	noPollInterval = time.Hour
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func receiveWithin[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for value")
	}
	var zero T
	return zero
}

func assertNothingWithin[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Errorf("Unexpected value received: %v", v)
	case <-time.After(d):
	}
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func newHRM(address string) (*bt.MockPeripheral, *bt.MockCharacteristic) {
	p := bt.NewMockPeripheral(address, "HRM "+address)
	char := p.AddCharacteristic(protocol.ServiceUUIDHeartRate, protocol.CharUUIDHeartRateMeasurement)
	return p, char
}

func newFTMSTrainer(address string) (*bt.MockPeripheral, *bt.MockCharacteristic) {
	p := bt.NewMockPeripheral(address, "Trainer "+address)
	char := p.AddCharacteristic(protocol.ServiceUUIDFTMS, protocol.CharUUIDIndoorBikeData)
	return p, char
}

func newCPTrainer(address string) (*bt.MockPeripheral, *bt.MockCharacteristic) {
	p := bt.NewMockPeripheral(address, "Power "+address)
	char := p.AddCharacteristic(protocol.ServiceUUIDCyclingPower, protocol.CharUUIDCyclingPowerMeasurement)
	return p, char
}
