package tcp

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/kvos/netkern/internal"
)

// ConnectionID is the 4-tuple identifying a TCP connection. Listening
// sockets use a wildcard remote: the zero [netip.Addr] and port 0.
type ConnectionID struct {
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
}

// ListenerID returns the wildcard ConnectionID for a listening socket bound
// to local.
func ListenerID(localAddr netip.Addr, localPort uint16) ConnectionID {
	return ConnectionID{LocalAddr: localAddr, LocalPort: localPort}
}

// IsWildcard reports whether the ID matches any remote endpoint, i.e. it
// identifies a listening socket.
func (id ConnectionID) IsWildcard() bool {
	return !id.RemoteAddr.IsValid() && id.RemotePort == 0
}

// Remote returns the remote endpoint of the connection.
func (id ConnectionID) Remote() netip.AddrPort {
	return netip.AddrPortFrom(id.RemoteAddr, id.RemotePort)
}

// Local returns the local endpoint of the connection.
func (id ConnectionID) Local() netip.AddrPort {
	return netip.AddrPortFrom(id.LocalAddr, id.LocalPort)
}

func (id ConnectionID) String() string {
	if id.IsWildcard() {
		return fmt.Sprintf("%s:%d <- *:*", id.LocalAddr, id.LocalPort)
	}
	return fmt.Sprintf("%s:%d <-> %s:%d", id.LocalAddr, id.LocalPort, id.RemoteAddr, id.RemotePort)
}

// Options configures per-connection behavior. Zero fields take defaults.
type Options struct {
	// SendBufferSize bounds the outbound byte queue. Defaults to 8192.
	SendBufferSize int
	// RecvBufferSize bounds the inbound byte queue. Defaults to 8192.
	RecvBufferSize int
	// DisableNagle turns off small-segment coalescing. Nagle is on by
	// default.
	DisableNagle bool
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 8192
	}
	if o.RecvBufferSize <= 0 {
		o.RecvBufferSize = 8192
	}
	return o
}

// ConnStats counts per-connection traffic.
type ConnStats struct {
	BytesSent        uint64
	BytesReceived    uint64
	SegmentsSent     uint64
	SegmentsReceived uint64
}

// Outbound is a segment a connection wants transmitted, produced by draining
// [Connection.PollOutbound] or [ConnManager.PollOutbound].
type Outbound struct {
	ID      ConnectionID
	Segment Segment
	Payload []byte
}

// Connection couples a [StateMachine] with its 4-tuple identity, bounded
// data queues and pending outbound segments. All methods are driven from a
// single goroutine; the manager serializes access.
type Connection struct {
	id        ConnectionID
	sm        StateMachine
	sendRing  internal.Ring
	recvRing  internal.Ring
	outbound  []Outbound
	opts      Options
	stats     ConnStats
	createdAt time.Time
	// ownsPort marks ephemeral ports the manager allocated and must
	// release when the connection is reaped.
	ownsPort bool
}

func newConnection(id ConnectionID, sm StateMachine, opts Options, now time.Time) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		id:        id,
		sm:        sm,
		sendRing:  internal.Ring{Buf: make([]byte, opts.SendBufferSize)},
		recvRing:  internal.Ring{Buf: make([]byte, opts.RecvBufferSize)},
		opts:      opts,
		createdAt: now,
	}
}

// ID returns the connection's 4-tuple.
func (c *Connection) ID() ConnectionID { return c.id }

// State returns the connection's protocol state.
func (c *Connection) State() State { return c.sm.State() }

// IsEstablished reports whether the connection is open for data transfer.
func (c *Connection) IsEstablished() bool { return c.sm.IsEstablished() }

// IsClosed reports whether the connection has fully closed.
func (c *Connection) IsClosed() bool { return c.sm.IsClosed() }

// Stats returns a snapshot of the connection's traffic counters.
func (c *Connection) Stats() ConnStats { return c.stats }

// CreatedAt returns the connection's creation time.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// SendData enqueues application data for transmission, returning the number
// of bytes accepted. Fails with [ErrNotConnected] before the connection is
// established and with [ErrBufferFull] when the data would exceed the send
// queue's remaining space; nothing is enqueued on failure.
func (c *Connection) SendData(b []byte) (int, error) {
	if !c.sm.IsEstablished() {
		return 0, ErrNotConnected
	}
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) > c.sendRing.Free() {
		return 0, ErrBufferFull
	}
	n, err := c.sendRing.Write(b)
	if err != nil {
		return 0, ErrBufferFull
	}
	c.stats.BytesSent += uint64(n)
	return n, nil
}

// ReceiveData copies received application data into dst, returning the
// number of bytes copied. Returns 0 with no error when the receive queue is
// empty.
func (c *Connection) ReceiveData(dst []byte) (int, error) {
	if c.recvRing.Buffered() == 0 {
		return 0, nil
	}
	return c.recvRing.Read(dst)
}

// Buffered returns the bytes available to [Connection.ReceiveData].
func (c *Connection) Buffered() int { return c.recvRing.Buffered() }

// PollOutbound drains and returns the segments the connection wants
// transmitted.
func (c *Connection) PollOutbound() []Outbound {
	out := c.outbound
	c.outbound = nil
	return out
}

// processPacket feeds one inbound segment to the state machine and applies
// the resulting action. Returns the action for the manager's bookkeeping.
func (c *Connection) processPacket(seg Segment, payload []byte) (Action, error) {
	c.stats.SegmentsReceived++
	act, err := c.sm.ProcessPacket(seg, payload)
	if err != nil {
		return act, err
	}
	c.applyAction(act)
	return act, nil
}

// checkTimeouts lets the state machine act on elapsed time.
func (c *Connection) checkTimeouts(now time.Time) []Action {
	acts := c.sm.CheckTimeouts(now)
	for _, act := range acts {
		c.applyAction(act)
	}
	return acts
}

// close starts an orderly shutdown.
func (c *Connection) close() error {
	act, err := c.sm.Close()
	if err != nil {
		return err
	}
	c.applyAction(act)
	return nil
}

func (c *Connection) applyAction(act Action) {
	switch act.Kind {
	case ActionSendSegment:
		c.outbound = append(c.outbound, Outbound{ID: c.id, Segment: act.Segment, Payload: act.Data})
		c.stats.SegmentsSent++
	case ActionDataReceived:
		if len(act.Data) > 0 {
			n, err := c.recvRing.Write(act.Data)
			if err == nil {
				c.stats.BytesReceived += uint64(n)
			}
			// Bytes past the receive window are dropped; the peer
			// retransmits once the window reopens.
		}
	}
}
