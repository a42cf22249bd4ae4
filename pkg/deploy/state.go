package deploy

import (
	"fmt"
	"sync"
)

// State is a state of the release state machine
type State string

const (
	StateIdle                 State = "idle"
	StateDeploying            State = "deploying"
	StateValidating           State = "validating"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSwitching            State = "switching"
	StateRollingBack          State = "rolling_back"
	StateFailed               State = "failed"
)

// transitions lists the allowed successors of each state. Failed is
// reachable from every state except itself and is terminal.
var transitions = map[State][]State{
	StateIdle:                 {StateDeploying, StateSwitching, StateRollingBack},
	StateDeploying:            {StateValidating},
	StateValidating:           {StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateSwitching},
	StateRollingBack:          {StateSwitching},
	StateSwitching:            {StateIdle},
}

// Machine tracks the state of one operation
type Machine struct {
	mu     sync.Mutex
	state  State
	reason error

	// OnTransition, when set, is called after every transition
	OnTransition func(from, to State, reason error)
}

// NewMachine creates a machine in the idle state
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns the error that moved the machine to failed
func (m *Machine) Reason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Transition moves to the given state
func (m *Machine) Transition(to State) error {
	if to == StateFailed {
		return fmt.Errorf("%w: use Fail to enter %s", ErrInvalidTransition, StateFailed)
	}

	m.mu.Lock()
	from := m.state
	allowed := false
	for _, next := range transitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	hook := m.OnTransition
	m.mu.Unlock()

	if hook != nil {
		hook(from, to, nil)
	}
	return nil
}

// Fail moves to the failed state, recording reason
func (m *Machine) Fail(reason error) error {
	m.mu.Lock()
	from := m.state
	if from == StateFailed {
		m.mu.Unlock()
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, StateFailed)
	}
	m.state = StateFailed
	m.reason = reason
	hook := m.OnTransition
	m.mu.Unlock()

	if hook != nil {
		hook(from, StateFailed, reason)
	}
	return nil
}
