package trader

import "sync"

type State string

type Event string

const (
	StateIdle    State = "IDLE"
	StateOpening State = "OPENING"
	StateOpen    State = "OPEN"
	StateClosing State = "CLOSING"
)

const (
	EventOpen        Event = "OPEN"
	EventOpened      Event = "OPENED"
	EventOpenFailed  Event = "OPEN_FAILED"
	EventClose       Event = "CLOSE"
	EventClosed      Event = "CLOSED"
	EventCloseFailed Event = "CLOSE_FAILED"
)

// StateMachine guards the position lifecycle. All mutation funnels
// through Apply; an event that is not valid from the current state
// leaves the state unchanged and reports false.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event Event) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := nextState(s.state, event)
	if ok {
		s.state = next
	}
	return s.state, ok
}

func nextState(current State, event Event) (State, bool) {
	switch current {
	case StateIdle:
		if event == EventOpen {
			return StateOpening, true
		}
	case StateOpening:
		if event == EventOpened {
			return StateOpen, true
		}
		if event == EventOpenFailed {
			return StateIdle, true
		}
	case StateOpen:
		if event == EventClose {
			return StateClosing, true
		}
	case StateClosing:
		if event == EventClosed {
			return StateIdle, true
		}
		if event == EventCloseFailed {
			return StateOpen, true
		}
	}
	return current, false
}
