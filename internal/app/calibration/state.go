package calibration

// State is the lifecycle position of a Session.
type State int

const (
	Idle State = iota
	TriggerSent
	Collecting
	Completed
	TimedOut
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TriggerSent:
		return "trigger_sent"
	case Collecting:
		return "collecting"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name for JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
