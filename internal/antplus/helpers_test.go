package antplus

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func receiveWithin(t *testing.T, ch <-chan int, timeout time.Duration) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for a value")
		return 0
	}
}

func assertNothingWithin(t *testing.T, ch <-chan int, timeout time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		require.FailNowf(t, "unexpected value", "got %d", v)
	case <-time.After(timeout):
	}
}

// broadcastFrame builds a USB read holding an extended broadcast message from a heart rate strap
func broadcastFrame(deviceNumber uint16, deviceType byte, beatTime uint16, beatCount, bpm byte) []byte {
	return []byte{
		0xA4, 0x0E, 0x4E, 0x00,
		0x04, 0xFF, 0xFF, 0xFF,
		byte(beatTime), byte(beatTime >> 8), beatCount, bpm,
		0x80, byte(deviceNumber), byte(deviceNumber >> 8), deviceType, 0x01,
	}
}
