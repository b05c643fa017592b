package protocol

// Bluetooth Service and Characteristic UUIDs used by the sensor layer
const (
	// Heart Rate Service
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	// Cycling Power Service
	ServiceUUIDCyclingPower         = "00001818-0000-1000-8000-00805f9b34fb"
	CharUUIDCyclingPowerMeasurement = "00002a63-0000-1000-8000-00805f9b34fb"

	// Fitness Machine Service (FTMS)
	ServiceUUIDFTMS        = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData = "00002ad2-0000-1000-8000-00805f9b34fb"
)

// Kind identifies which characteristic layout a frame came from
type Kind int

const (
	KindUnknown        Kind = iota
	KindIndoorBikeData      // FTMS Indoor Bike Data
	KindCyclingPower        // Cycling Power Measurement
)

func (k Kind) String() string {
	switch k {
	case KindIndoorBikeData:
		return "IndoorBikeData"
	case KindCyclingPower:
		return "CyclingPower"
	default:
		return "Unknown"
	}
}

// Other returns the alternate trainer layout, used as the fallback decoder
func (k Kind) Other() Kind {
	switch k {
	case KindIndoorBikeData:
		return KindCyclingPower
	case KindCyclingPower:
		return KindIndoorBikeData
	default:
		return KindUnknown
	}
}

// ServiceUUID returns the GATT service carrying this layout
func (k Kind) ServiceUUID() string {
	switch k {
	case KindIndoorBikeData:
		return ServiceUUIDFTMS
	case KindCyclingPower:
		return ServiceUUIDCyclingPower
	default:
		return ""
	}
}

// CharacteristicUUID returns the measurement characteristic for this layout
func (k Kind) CharacteristicUUID() string {
	switch k {
	case KindIndoorBikeData:
		return CharUUIDIndoorBikeData
	case KindCyclingPower:
		return CharUUIDCyclingPowerMeasurement
	default:
		return ""
	}
}
