package protocol

import (
	"github.com/cryguy/prerender/internal/core"
)

// State is a position in the exchange.
type State int

const (
	// Start lasts until the configuration has been sent.
	Start State = iota
	// Configured waits for the child's result.
	Configured
	// Ready and Error are terminal.
	Ready
	Error
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case Configured:
		return "Configured"
	case Ready:
		return "Ready"
	case Error:
		return "Error"
	}
	return "Unknown"
}

// Machine validates the order of messages on one connection. Both ends
// feed it every message they send or receive.
type Machine struct {
	state   State
	started bool
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Done reports whether a terminal message was observed.
func (m *Machine) Done() bool { return m.state == Ready || m.state == Error }

// Observe advances the machine. A message that is not valid in the
// current state returns a *core.ProtocolViolation and leaves the state
// unchanged.
func (m *Machine) Observe(t MessageType) error {
	switch m.state {
	case Start:
		switch {
		case t == TypeStart && !m.started:
			m.started = true
			return nil
		case t == TypeConfig && m.started:
			m.state = Configured
			return nil
		case t == TypeError:
			m.state = Error
			return nil
		}
	case Configured:
		switch t {
		case TypeReady:
			m.state = Ready
			return nil
		case TypeError:
			m.state = Error
			return nil
		}
	}
	return &core.ProtocolViolation{State: m.state.String(), Type: string(t)}
}
