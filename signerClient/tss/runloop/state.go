package runloop

// State is the round the node is currently driving.
type State int

const (
	StateIdle State = iota
	StateDkg
	StateSign
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDkg:
		return "dkg"
	case StateSign:
		return "sign"
	default:
		return "unknown"
	}
}

func stateFor(c Command) State {
	if _, ok := c.(DkgCommand); ok {
		return StateDkg
	}
	return StateSign
}
