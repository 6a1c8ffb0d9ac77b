package session

import "fmt"

// State is the externally visible session state.
type State int

const (
	Idle State = iota
	Ready
	Submitting
	Succeeded
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Ready:      "ready",
	Submitting: "submitting",
	Succeeded:  "succeeded",
	Failed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// User-facing failure reasons. Causes go to the log only.
const (
	ReasonUnavailable        = "classification service unavailable"
	ReasonUnexpectedResponse = "classification service returned an unexpected response"
)

// phase is the tagged union behind State: only succeededPhase carries a
// result and only failedPhase carries a reason.
type phase interface {
	state() State
}

type idlePhase struct{}

type readyPhase struct{}

type submittingPhase struct {
	flight *flight
}

type succeededPhase struct {
	result *Result
}

type failedPhase struct {
	reason string
}

func (idlePhase) state() State       { return Idle }
func (readyPhase) state() State      { return Ready }
func (submittingPhase) state() State { return Submitting }
func (succeededPhase) state() State  { return Succeeded }
func (failedPhase) state() State     { return Failed }

// flight is one outstanding classification request, tagged with the image
// it was issued for.
type flight struct {
	requestID string
	imageID   string
	cancel    func()
	done      chan struct{}
}
