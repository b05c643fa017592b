package protocol

const (
	crankEventTimeUnits = 1024.0 // 1/1024 s
	wheelEventTimeUnits = 2048.0 // 1/2048 s, Cycling Power uses a finer wheel clock than CSC

	maxPlausibleDerivedCadenceRpm = 300
	maxPlausibleDerivedSpeedKph   = 120

	// a value is held across frames that repeat the last event, then zeroed
	maxRepeatedEvents = 3

	DefaultWheelCircumferenceM = 2.105
)

// RevolutionTracker derives cadence and speed from cumulative crank and wheel revolution
// data carried by consecutive Cycling Power Measurement frames.
// Not safe for concurrent use; one tracker belongs to one session consumer.
type RevolutionTracker struct {
	WheelCircumferenceM float64

	crank revolutionCounter
	wheel revolutionCounter
}

type revolutionCounter struct {
	seen      bool
	revs      uint32
	eventTime uint16
	value     float64
	repeats   int
}

func NewRevolutionTracker(wheelCircumferenceM float64) *RevolutionTracker {
	if wheelCircumferenceM <= 0 {
		wheelCircumferenceM = DefaultWheelCircumferenceM
	}
	return &RevolutionTracker{WheelCircumferenceM: wheelCircumferenceM}
}

// Apply fills CadenceRpm and SpeedKph of sample from cp. Fields already non-zero are left alone.
func (t *RevolutionTracker) Apply(cp CyclingPowerMeasurement, sample TrainerSample) TrainerSample {
	if cp.HasCrankData && sample.CadenceRpm == 0 {
		// crank revolutions are 16 bits on the wire
		sample.CadenceRpm = t.crank.update(uint32(cp.CumulativeCrankRevolutions), 0xFFFF, cp.LastCrankEventTime,
			func(revs uint32, seconds float64) float64 {
				return float64(revs) / seconds * 60
			}, maxPlausibleDerivedCadenceRpm, crankEventTimeUnits)
	}
	if cp.HasWheelData && sample.SpeedKph == 0 {
		circ := t.WheelCircumferenceM
		sample.SpeedKph = t.wheel.update(cp.CumulativeWheelRevolutions, 0xFFFFFFFF, cp.LastWheelEventTime,
			func(revs uint32, seconds float64) float64 {
				return float64(revs) * circ / seconds * 3.6
			}, maxPlausibleDerivedSpeedKph, wheelEventTimeUnits)
	}
	return sample
}

// Reset forgets previous frames
func (t *RevolutionTracker) Reset() {
	t.crank = revolutionCounter{}
	t.wheel = revolutionCounter{}
}

func (c *revolutionCounter) update(revs, revMask uint32, eventTime uint16, rate func(uint32, float64) float64, max, units float64) float64 {
	if !c.seen {
		c.seen = true
		c.revs = revs
		c.eventTime = eventTime
		return 0
	}

	revDiff := (revs - c.revs) & revMask
	timeDiff := eventTime - c.eventTime // uint16 arithmetic handles rollover

	if revDiff == 0 || timeDiff == 0 {
		c.repeats++
		if c.repeats >= maxRepeatedEvents {
			c.value = 0
		}
		if timeDiff != 0 {
			c.eventTime = eventTime
		}
		return c.value
	}

	c.revs = revs
	c.eventTime = eventTime
	c.repeats = 0

	v := rate(revDiff, float64(timeDiff)/units)
	if v < 0 || v > max {
		return c.value
	}
	c.value = v
	return v
}
