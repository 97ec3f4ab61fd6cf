package session

import (
	"fmt"
	"sync"
)

// ConnectionState is the session's position in the connection/turn state
// machine. Exactly one state is active per session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateSessionSetup
	StateReady
	StateIdle
	StateListening
	StateProcessing
	StateTranscribing
	StateOrderProcessing
	StateResponseGeneration
	StateClarification
	StateAudioPlayback
	StateInterrupted
	StateError
	StateRecovering
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionSetup:
		return "session_setup"
	case StateReady:
		return "ready"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateTranscribing:
		return "transcribing"
	case StateOrderProcessing:
		return "order_processing"
	case StateResponseGeneration:
		return "response_generation"
	case StateClarification:
		return "clarification"
	case StateAudioPlayback:
		return "audio_playback"
	case StateInterrupted:
		return "interrupted"
	case StateError:
		return "error"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// legalEdges enumerates the defined transitions. Two edges hold from every
// state and are checked in code instead: any state may enter StateError,
// and explicit teardown moves any state to StateDisconnected.
var legalEdges = map[ConnectionState][]ConnectionState{
	StateDisconnected:       {StateConnecting},
	StateConnecting:         {StateConnected, StateDisconnected},
	StateConnected:          {StateSessionSetup},
	StateSessionSetup:       {StateReady},
	StateReady:              {StateIdle},
	StateIdle:               {StateReady, StateListening},
	StateListening:          {StateIdle, StateProcessing},
	StateProcessing:         {StateTranscribing},
	StateTranscribing:       {StateOrderProcessing},
	StateOrderProcessing:    {StateResponseGeneration, StateClarification},
	StateResponseGeneration: {StateAudioPlayback},
	StateClarification:      {StateAudioPlayback},
	StateAudioPlayback:      {StateReady, StateInterrupted},
	StateInterrupted:        {StateListening},
	StateError:              {StateRecovering, StateDisconnected},
	StateRecovering:         {StateReady, StateDisconnected, StateSessionSetup},
}

// TransitionError reports a transition outside the defined edges.
type TransitionError struct {
	From, To ConnectionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// stateMachine guards ConnectionState transitions. The session's run loop
// is the only writer; the mutex exists so callers on other goroutines can
// read the current state safely.
type stateMachine struct {
	mu       sync.Mutex
	state    ConnectionState
	onChange func(from, to ConnectionState)
}

func newStateMachine(onChange func(from, to ConnectionState)) *stateMachine {
	return &stateMachine{state: StateDisconnected, onChange: onChange}
}

// Current returns the active state.
func (m *stateMachine) Current() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func legal(from, to ConnectionState) bool {
	if to == StateError && from != StateDisconnected {
		return true
	}
	if to == StateDisconnected {
		return true // explicit teardown is safe from any state
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves to the target state, failing on an undefined edge.
func (m *stateMachine) TransitionTo(to ConnectionState) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !legal(from, to) {
		m.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	m.state = to
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(from, to)
	}
	return nil
}

// Is reports whether the active state is one of the given states.
func (m *stateMachine) Is(states ...ConnectionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range states {
		if m.state == s {
			return true
		}
	}
	return false
}
