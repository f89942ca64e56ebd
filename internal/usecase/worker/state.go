package worker

// State is the lifecycle state of the worker.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

func (s State) String() string {
	return string(s)
}

// canInstall reports whether an install may start from s. An activated
// worker may install its next generation.
func (s State) canInstall() bool {
	switch s {
	case StateParsed, StateRedundant, StateActivated, StateInstalled:
		return true
	default:
		return false
	}
}
