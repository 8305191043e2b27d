package tcp

import (
	"net/netip"
	"time"
)

// ActionKind discriminates the variants of [Action].
type ActionKind uint8

const (
	// ActionNone means the state machine consumed the event with nothing
	// for the caller to do.
	ActionNone ActionKind = iota
	// ActionSendSegment instructs the caller to transmit Action.Segment
	// with Action.Data as payload.
	ActionSendSegment
	// ActionDataReceived delivers Action.Data to the connection's receive
	// queue.
	ActionDataReceived
	// ActionConnectionEstablished signals the handshake completed with the
	// peer at Action.Remote.
	ActionConnectionEstablished
	// ActionConnectionClosed signals the connection finished closing and
	// its state may be discarded.
	ActionConnectionClosed
	// ActionError surfaces Action.Err; the connection is reset.
	ActionError
)

// Action is the state machine's instruction to its driver. The manager
// interprets actions: queueing outbound segments, delivering received data
// and updating connection bookkeeping.
type Action struct {
	Kind    ActionKind
	Segment Segment
	Data    []byte
	Remote  netip.AddrPort
	Err     error
}

// StateMachine is the per-connection TCP state logic the manager drives.
// Implementations own sequence numbers, retransmission and state
// transitions; the manager owns demultiplexing, port allocation and
// connection lifetime. All methods are called from a single goroutine.
type StateMachine interface {
	// ActiveOpen starts a client-side handshake, typically yielding a SYN
	// to send.
	ActiveOpen() (Action, error)
	// PassiveOpen moves the machine into the listening state.
	PassiveOpen() (Action, error)
	// Close begins an orderly shutdown, typically yielding a FIN to send.
	Close() (Action, error)
	// ProcessPacket feeds one inbound segment and its payload to the
	// machine.
	ProcessPacket(seg Segment, payload []byte) (Action, error)
	// CheckTimeouts gives the machine a chance to act on elapsed time:
	// retransmissions, handshake expiry, TIME-WAIT completion.
	CheckTimeouts(now time.Time) []Action
	// IsEstablished reports whether the connection is open for data.
	IsEstablished() bool
	// IsClosed reports whether all connection state may be discarded.
	IsClosed() bool
	// State returns the current protocol state.
	State() State
}

// Factory creates the state machine for a new connection. The manager calls
// it once per active open and once per SYN accepted on a listening port.
type Factory func() StateMachine
