package antplus

// Profile is the ANT+ device profile a device broadcasts
type Profile int

const (
	ProfileUnknown Profile = iota
	ProfileHeartRate
)

// DeviceTypeHeartRate is the ANT+ device type byte of heart rate straps
const DeviceTypeHeartRate byte = 120

func (p Profile) String() string {
	switch p {
	case ProfileHeartRate:
		return "heart rate"
	default:
		return "unknown"
	}
}

func profileFromDeviceType(deviceType byte) Profile {
	if deviceType == DeviceTypeHeartRate {
		return ProfileHeartRate
	}
	return ProfileUnknown
}

// Property names the piece of device state a PropertyChange reports
type Property int

const (
	PropertyUnknown Property = iota
	PropertyHeartRateData
	PropertySignal
)

// PropertyChange is published by a Device whenever one of its properties is updated.
// Only the fields belonging to Property are meaningful.
type PropertyChange struct {
	Property          Property
	ComputedHeartRate int
	BeatCount         byte
	BeatTime          uint16
}

// Device is one ANT+ sensor known to a DeviceCollection
type Device interface {
	ID() uint16
	Profile() Profile
	// ListenProperties registers fn for property changes and returns its deregistration function
	ListenProperties(fn func(PropertyChange)) func()
}

// DeviceCollection is the set of ANT+ devices currently heard by the radio.
// Scanning belongs to whoever owns the collection.
type DeviceCollection interface {
	Devices() []Device
	// ListenChanges registers fn to be called whenever a device joins or leaves
	ListenChanges(fn func()) func()
}
