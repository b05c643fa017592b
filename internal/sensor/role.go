package sensor

import "github.com/FerdivdKamp/bikeTrainerApp/internal/safe_map"

// Role is what a device is used for. FTMS and Cycling Power devices are both trainers.
type Role int

const (
	RoleUnknown Role = iota
	RoleTrainer
	RoleHeartRateMonitor
)

func (r Role) String() string {
	switch r {
	case RoleTrainer:
		return "Trainer"
	case RoleHeartRateMonitor:
		return "HeartRateMonitor"
	default:
		return "Unknown"
	}
}

// RoleRegistry remembers probe results per device address for the life of the process.
// A confirmed role is never replaced by RoleUnknown.
type RoleRegistry struct {
	roles *safe_map.SafeMap[string, Role]
}

func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{roles: safe_map.NewSafeMap[string, Role]()}
}

// Record stores role for address and returns the role now on file
func (r *RoleRegistry) Record(address string, role Role) Role {
	return r.roles.Update(address, func(current Role, ok bool) Role {
		if ok && role == RoleUnknown {
			return current
		}
		return role
	})
}

func (r *RoleRegistry) Lookup(address string) (Role, bool) {
	return r.roles.Load(address)
}
