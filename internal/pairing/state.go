package pairing

// StateKind discriminates the pairing-flow states.
type StateKind int

const (
	StateIdle StateKind = iota
	StateLoading
	StateSuccess
	StateError
)

// State is a tagged value describing where a pairing attempt stands. Exactly
// one variant's payload is populated per kind; there is no shared mutable
// field between variants.
type State struct {
	Kind           StateKind
	SurveillanceID string // populated for StateSuccess
	Err            error  // populated for StateError
}

func Idle() State    { return State{Kind: StateIdle} }
func Loading() State { return State{Kind: StateLoading} }

func Success(surveillanceID string) State {
	return State{Kind: StateSuccess, SurveillanceID: surveillanceID}
}

func Failure(err error) State { return State{Kind: StateError, Err: err} }
