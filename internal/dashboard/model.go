package dashboard

import (
	"context"
	"log"
	"sync"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/events"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/go_func_utils"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/protocol"
	"github.com/FerdivdKamp/bikeTrainerApp/internal/sensor"
)

// SensorState is what the dashboard shows for one slot
type SensorState struct {
	Status     sensor.ConnectionStatus
	DeviceName string
	// Source is "BLE" or "ANT+"
	Source string
}

type SensorStates map[Slot]SensorState

// Model holds the state views render and publishes every change
type Model struct {
	logEvent              *events.ChannelEvent[string]
	sensorStatesEvent     *events.ChannelEvent[SensorStates]
	sensorStates          SensorStates
	latestDataEvent       *events.ChannelEvent[MetricData]
	latestData            MetricData
	closeApplicationEvent *events.ChannelEvent[struct{}]
	logLines              []string
	logMu                 sync.RWMutex
	mu                    sync.RWMutex
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	logger                *log.Logger
}

func NewModel(logger *log.Logger, logLines <-chan string) *Model {
	if logger == nil {
		panic("Model: logger cannot be nil")
	}
	if logLines == nil {
		panic("Model: logLines cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	model := &Model{
		logEvent:              events.NewChannelEvent[string](false),
		sensorStatesEvent:     events.NewChannelEvent[SensorStates](true),
		sensorStates:          make(SensorStates),
		latestDataEvent:       events.NewChannelEvent[MetricData](true),
		latestData:            make(MetricData),
		closeApplicationEvent: events.NewChannelEvent[struct{}](true),
		logLines:              make([]string, 0, maxLogLines),
		ctx:                   ctx,
		cancel:                cancel,
		logger:                logger,
	}
	for _, info := range AllSlots {
		model.sensorStates[info.Slot] = SensorState{Status: sensor.StatusNotConnected}
	}
	model.sensorStatesEvent.Notify(model.sensorStatesSnapshot())

	go_func_utils.SafeGoWG(model.logger, &model.wg, func() { model.readFromLogChannel(ctx, logLines) })
	return model
}

// Shutdown stops the log reader and waits for it
func (m *Model) Shutdown() {
	m.logger.Println("Model: Shutting down")
	m.cancel()
	m.wg.Wait()
}

func (m *Model) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

// ListenToSensorStates registers ch for slot state changes. The current states are sent immediately.
func (m *Model) ListenToSensorStates(ch chan<- SensorStates) func() {
	return m.sensorStatesEvent.Listen(ch)
}

func (m *Model) ListenToLatestData(ch chan<- MetricData) func() {
	return m.latestDataEvent.Listen(ch)
}

func (m *Model) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeApplicationEvent.Listen(ch)
}

func (m *Model) RequestCloseApplication() {
	m.closeApplicationEvent.Notify(struct{}{})
}

func (m *Model) GetSensorStates() SensorStates {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sensorStatesSnapshot()
}

func (m *Model) GetSensorState(slot Slot) SensorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sensorStates[slot]
}

// SetSensorState replaces the state of slot. Leaving the connected state clears the slot's metrics.
func (m *Model) SetSensorState(slot Slot, state SensorState) {
	m.mu.Lock()
	if m.sensorStates[slot] == state {
		m.mu.Unlock()
		return
	}
	m.sensorStates[slot] = state
	states := m.sensorStatesSnapshot()
	var data MetricData
	if state.Status != sensor.StatusConnected && m.clearMetricsLocked(metricsBySlot[slot]) {
		data = m.latestDataSnapshot()
	}
	m.mu.Unlock()

	m.sensorStatesEvent.Notify(states)
	if data != nil {
		m.latestDataEvent.Notify(data)
	}
}

// GetLatestData returns a copy of the current metrics
func (m *Model) GetLatestData() MetricData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestDataSnapshot()
}

// SetMetrics updates several metrics and notifies listeners once
func (m *Model) SetMetrics(metrics MetricData) {
	if len(metrics) == 0 {
		return
	}
	m.mu.Lock()
	for k, v := range metrics {
		m.latestData[k] = v
	}
	data := m.latestDataSnapshot()
	m.mu.Unlock()

	m.latestDataEvent.Notify(data)
}

func (m *Model) SetTrainerSample(sample protocol.TrainerSample) {
	m.SetMetrics(MetricData{
		MetricPower:   float64(sample.PowerWatts),
		MetricCadence: sample.CadenceRpm,
		MetricSpeed:   sample.SpeedKph,
	})
}

func (m *Model) SetHeartRate(bpm int) {
	m.SetMetrics(MetricData{MetricHeartRate: float64(bpm)})
}

// Must be called with mu held
func (m *Model) clearMetricsLocked(ids []MetricID) bool {
	changed := false
	for _, id := range ids {
		if _, ok := m.latestData[id]; ok {
			delete(m.latestData, id)
			changed = true
		}
	}
	return changed
}

// Must be called with mu held
func (m *Model) latestDataSnapshot() MetricData {
	result := make(MetricData, len(m.latestData))
	for k, v := range m.latestData {
		result[k] = v
	}
	return result
}

// Must be called with mu held
func (m *Model) sensorStatesSnapshot() SensorStates {
	result := make(SensorStates, len(m.sensorStates))
	for k, v := range m.sensorStates {
		result[k] = v
	}
	return result
}

func (m *Model) readFromLogChannel(ctx context.Context, logLines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logLines:
			if !ok {
				return
			}
			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()

			m.logEvent.Notify(line)
		}
	}
}

// GetLogTail returns the last n log lines
func (m *Model) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n > len(m.logLines) {
		n = len(m.logLines)
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}
