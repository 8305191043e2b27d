package tcp

import (
	"errors"
	"math/bits"
)

var (
	// ErrInvalidPacket is returned on malformed TCP segment data.
	ErrInvalidPacket = errors.New("tcp: invalid packet")
	// ErrInvalidConnection is returned when an operation names a connection
	// the manager does not hold.
	ErrInvalidConnection = errors.New("tcp: no such connection")
	// ErrNotConnected is returned when data transfer is attempted on a
	// connection that is not established.
	ErrNotConnected = errors.New("tcp: not connected")
	// ErrBufferFull is returned when a connection's bounded send or receive
	// queue cannot take more data.
	ErrBufferFull = errors.New("tcp: buffer full")
	// ErrPortInUse is returned when binding a port already allocated.
	ErrPortInUse = errors.New("tcp: port in use")
	// ErrNoPortsAvailable is returned when the ephemeral range is exhausted.
	ErrNoPortsAvailable = errors.New("tcp: no ports available")
)

// Value is a sequence-space value: a sequence or acknowledgment number.
type Value uint32

// Size is an amount of sequence space, such as a window or payload length.
type Size uint32

// Add adds an amount of sequence space to a value, wrapping modulo 2**32.
func Add(v Value, s Size) Value { return v + Value(s) }

// Segment represents an incoming/outgoing TCP segment in the sequence space.
type Segment struct {
	SEQ     Value // sequence number of first octet of segment.
	ACK     Value // acknowledgment number.
	DATALEN Size  // octets occupied by the payload, not counting SYN and FIN.
	WND     Size  // segment window.
	Flags   Flags // TCP flags.
}

// LEN returns the length of the segment in octets including SYN and FIN flags.
func (seg *Segment) LEN() Size {
	add := Size(seg.Flags>>0) & 1 // FIN bit.
	add += Size(seg.Flags>>1) & 1 // SYN bit.
	return seg.DATALEN + add
}

// IsFirstSYN reports whether the segment opens a connection: a bare SYN with
// no acknowledgment and no data.
func (seg *Segment) IsFirstSYN() bool {
	return seg.Flags&(FlagSYN|FlagACK) == FlagSYN && seg.ACK == 0 && seg.DATALEN == 0
}

// Flags is a TCP flags bit-masked implementation i.e: SYN, FIN, ACK.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota // FlagFIN - No more data from sender.
	FlagSYN                   // FlagSYN - Synchronize sequence numbers.
	FlagRST                   // FlagRST - Reset the connection.
	FlagPSH                   // FlagPSH - Push function.
	FlagACK                   // FlagACK - Acknowledgment field significant.
	FlagURG                   // FlagURG - Urgent pointer field significant.
	FlagECE                   // FlagECE - ECN-Echo.
	FlagCWR                   // FlagCWR - Congestion Window Reduced.
	FlagNS                    // FlagNS  - Nonce Sum flag (see RFC 3540).
)

const flagMask = 0x01ff

// HasAll checks if mask bits are all set in the receiver flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny checks if one or more mask bits are set in receiver flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns the flags with non-flag bits unset.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String returns a human readable flag string, i.e: "[SYN,ACK]".
func (flags Flags) String() string {
	switch flags {
	case 0:
		return "[]"
	case FlagSYN | FlagACK:
		return "[SYN,ACK]"
	case FlagFIN | FlagACK:
		return "[FIN,ACK]"
	case FlagPSH | FlagACK:
		return "[PSH,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagRST:
		return "[RST]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human readable flag string to b returning the
// extended buffer. Flags print in order from LSB (FIN) to MSB (NS).
func (flags Flags) AppendFormat(b []byte) []byte {
	const flaglen = 3
	const strflags = "FINSYNRSTPSHACKURGECECWRNS "
	var addcommas bool
	for flags != 0 {
		i := bits.TrailingZeros16(uint16(flags))
		if addcommas {
			b = append(b, ',')
		} else {
			addcommas = true
		}
		b = append(b, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &= ^(1 << i)
	}
	return b
}

// State enumerates states a TCP connection progresses through during its
// lifetime.
type State uint8

const (
	// StateClosed represents no connection state at all.
	StateClosed State = iota
	// StateListen represents waiting for a connection request from any
	// remote TCP and port.
	StateListen
	// StateSynRcvd represents waiting for a confirming connection request
	// acknowledgment after having both received and sent one.
	StateSynRcvd
	// StateSynSent represents waiting for a matching connection request
	// after having sent a connection request.
	StateSynSent
	// StateEstablished represents an open connection; the normal state for
	// the data transfer phase.
	StateEstablished
	// StateFinWait1 represents waiting for a termination request from the
	// remote TCP or an acknowledgment of the one previously sent.
	StateFinWait1
	// StateFinWait2 represents waiting for a termination request from the
	// remote TCP.
	StateFinWait2
	// StateClosing represents waiting for a termination request
	// acknowledgment from the remote TCP.
	StateClosing
	// StateTimeWait represents waiting out the quiet time after the remote
	// acknowledged our termination request.
	StateTimeWait
	// StateCloseWait represents waiting for a termination request from the
	// local user.
	StateCloseWait
	// StateLastAck represents waiting for the acknowledgment of the
	// termination request previously sent to the remote TCP.
	StateLastAck
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynRcvd:
		return "SYN-RECEIVED"
	case StateSynSent:
		return "SYN-SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateLastAck:
		return "LAST-ACK"
	default:
		return "UNKNOWN"
	}
}

// IsPreestablished returns true if the connection is in a state preceding
// the established state. Returns false for the Closed pseudo state.
func (s State) IsPreestablished() bool {
	return s == StateSynRcvd || s == StateSynSent || s == StateListen
}

// IsClosing returns true if the connection is in a closing state but not yet
// relieved of remote connection state.
func (s State) IsClosing() bool { return s > StateEstablished }

// IsClosed returns true if the connection's state can be discarded.
func (s State) IsClosed() bool { return s == StateClosed || s == StateTimeWait }
