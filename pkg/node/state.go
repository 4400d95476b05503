package node

// State represents the lifecycle state of a mesh device.
type State int

const (
	// StateStopped means the node is not running.
	StateStopped State = iota

	// StateUnprovisioned means the node is running and advertising
	// unprovisioned device beacons.
	StateUnprovisioned

	// StateProvisioning means a provisioning link is open.
	StateProvisioning

	// StateProvisioned means the node holds network credentials.
	StateProvisioned
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateUnprovisioned:
		return "Unprovisioned"
	case StateProvisioning:
		return "Provisioning"
	case StateProvisioned:
		return "Provisioned"
	default:
		return "Unknown"
	}
}
