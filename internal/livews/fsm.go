package livews

import "time"

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InputKind enumerates what can happen to a connection.
type InputKind int

const (
	InConnect InputKind = iota
	InHandshakeOK
	InHandshakeFailed
	InClosed
	InDisconnect
	InRetryFire
)

// Input drives Machine.Step. Normal and Err only matter for InClosed and InHandshakeFailed.
type Input struct {
	Kind   InputKind
	Normal bool
	Err    error
}

// EffectKind enumerates side effects the runtime must perform.
type EffectKind int

const (
	EffDial EffectKind = iota
	EffAbortDial
	EffScheduleRetry
	EffCancelRetry
	EffCloseTransport
	EffNotifyOpen
	EffNotifyDegraded
	EffNotifyFatal
	EffNotifyIdle
)

type Effect struct {
	Kind        EffectKind
	Delay       time.Duration
	Attempt     int
	Reconnected bool
	Normal      bool
	Err         error
}

// Machine is the pure connection state machine. Step never performs I/O.
type Machine struct {
	State       State
	Attempt     int
	MaxAttempts int
	Base        time.Duration
	Stopped     bool
	LastErr     error

	opened bool
}

func NewMachine(maxAttempts int, base time.Duration) Machine {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return Machine{State: StateIdle, MaxAttempts: maxAttempts, Base: base}
}

// Backoff is the delay before the given retry attempt, counted from 1.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

func (m Machine) Step(in Input) (Machine, []Effect) {
	switch in.Kind {
	case InConnect:
		switch m.State {
		case StateIdle, StateClosed:
			m.Stopped = false
			m.Attempt = 0
			m.LastErr = nil
			m.State = StateConnecting
			return m, []Effect{{Kind: EffCancelRetry}, {Kind: EffDial}}
		}
		return m, nil

	case InHandshakeOK:
		if m.State != StateConnecting {
			if m.State == StateClosing {
				m.State = StateIdle
				return m, []Effect{{Kind: EffCloseTransport, Normal: true}, {Kind: EffNotifyIdle}}
			}
			return m, []Effect{{Kind: EffCloseTransport, Normal: true}}
		}
		reconnected := m.opened
		m.opened = true
		m.State = StateOpen
		m.Attempt = 0
		m.LastErr = nil
		return m, []Effect{{Kind: EffNotifyOpen, Reconnected: reconnected}}

	case InHandshakeFailed:
		switch m.State {
		case StateConnecting:
			if m.Stopped {
				m.State = StateIdle
				return m, []Effect{{Kind: EffNotifyIdle}}
			}
			return m.fail(in.Err, nil)
		case StateClosing:
			m.State = StateIdle
			return m, []Effect{{Kind: EffNotifyIdle}}
		}
		return m, nil

	case InClosed:
		switch m.State {
		case StateOpen:
			cleanup := []Effect{{Kind: EffCloseTransport}}
			if in.Normal {
				m.State = StateIdle
				m.Attempt = 0
				return m, append(cleanup, Effect{Kind: EffNotifyIdle})
			}
			return m.fail(in.Err, cleanup)
		case StateClosing:
			m.State = StateIdle
			return m, []Effect{{Kind: EffNotifyIdle}}
		}
		return m, nil

	case InDisconnect:
		m.Stopped = true
		switch m.State {
		case StateOpen:
			m.State = StateClosing
			return m, []Effect{{Kind: EffCancelRetry}, {Kind: EffCloseTransport, Normal: true}}
		case StateConnecting:
			m.State = StateClosing
			return m, []Effect{{Kind: EffCancelRetry}, {Kind: EffAbortDial}}
		case StateClosed:
			m.State = StateIdle
			return m, []Effect{{Kind: EffCancelRetry}, {Kind: EffNotifyIdle}}
		}
		return m, nil

	case InRetryFire:
		if m.State != StateClosed || m.Stopped {
			return m, nil
		}
		m.State = StateConnecting
		return m, []Effect{{Kind: EffDial}}
	}
	return m, nil
}

// fail handles an abnormal closure or a failed handshake.
func (m Machine) fail(err error, pre []Effect) (Machine, []Effect) {
	m.LastErr = err
	if m.Attempt < m.MaxAttempts {
		m.Attempt++
		m.State = StateClosed
		delay := Backoff(m.Base, m.Attempt)
		return m, append(pre,
			Effect{Kind: EffScheduleRetry, Delay: delay, Attempt: m.Attempt},
			Effect{Kind: EffNotifyDegraded, Delay: delay, Attempt: m.Attempt, Err: err},
		)
	}
	m.State = StateIdle
	return m, append(pre, Effect{Kind: EffNotifyFatal, Attempt: m.Attempt, Err: err})
}
