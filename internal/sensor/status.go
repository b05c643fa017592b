package sensor

// ConnectionStatus is the user-facing state of a session
type ConnectionStatus int

const (
	StatusNotConnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "connection failed"
	default:
		return "not connected"
	}
}
