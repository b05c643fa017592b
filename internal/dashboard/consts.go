package dashboard

import (
	"time"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/sensor"
)

// Slot is one sensor position on the dashboard
type Slot string

const (
	SlotTrainer   Slot = "trainer"
	SlotHeartRate Slot = "heart_rate"
)

type SlotInfo struct {
	Slot        Slot
	DisplayName string
	Role        sensor.Role
	KeyBinding  rune
}

// AllSlots lists the slots in display order
var AllSlots = []SlotInfo{
	{Slot: SlotTrainer, DisplayName: "Smart Trainer", Role: sensor.RoleTrainer, KeyBinding: 't'},
	{Slot: SlotHeartRate, DisplayName: "Heart Rate", Role: sensor.RoleHeartRateMonitor, KeyBinding: 'h'},
}

func GetSlotInfo(slot Slot) (SlotInfo, bool) {
	for _, info := range AllSlots {
		if info.Slot == slot {
			return info, true
		}
	}
	return SlotInfo{}, false
}

func GetSlotByKey(key rune) (Slot, bool) {
	for _, info := range AllSlots {
		if info.KeyBinding == key {
			return info.Slot, true
		}
	}
	return "", false
}

// MetricID identifies an individual displayable metric value
type MetricID string

const (
	MetricPower     MetricID = "power"
	MetricCadence   MetricID = "cadence"
	MetricSpeed     MetricID = "speed"
	MetricHeartRate MetricID = "heart_rate"
)

// MetricData holds the most recent value for each metric
type MetricData map[MetricID]float64

// metricsBySlot lists the metrics a slot feeds, cleared when the slot disconnects
var metricsBySlot = map[Slot][]MetricID{
	SlotTrainer:   {MetricPower, MetricCadence, MetricSpeed},
	SlotHeartRate: {MetricHeartRate},
}

const (
	maxLogLines = 1000

	DefaultConnectTimeout = 30 * time.Second
)
