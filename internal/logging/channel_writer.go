package logging

import (
	"strings"
	"sync"
)

const lineBufferSize = 256

// ChannelWriter is an io.Writer that hands every written line to a channel.
// When the reader falls behind lines are dropped instead of blocking the logger.
type ChannelWriter struct {
	mu      sync.Mutex
	ch      chan string
	closed  bool
	dropped int
}

func NewChannelWriter(size int) *ChannelWriter {
	return &ChannelWriter{ch: make(chan string, size)}
}

func (w *ChannelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		select {
		case w.ch <- line:
		default:
			w.dropped++
		}
	}
	return len(p), nil
}

// Lines returns the channel carrying written lines. It is closed by Close.
func (w *ChannelWriter) Lines() <-chan string {
	return w.ch
}

// Dropped returns how many lines were discarded because the channel was full
func (w *ChannelWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *ChannelWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}
