package pipeline

// State is a pipeline lifecycle state.
type State int32

// Pipeline states. The numeric values are exported as the
// livenode_pipeline_state gauge.
const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateError:    "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and TOML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
