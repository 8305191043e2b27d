package tcp

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/kvos/netkern/internal"
)

// ManagerConfig configures a [ConnManager]. Factory is required; other zero
// fields take defaults.
type ManagerConfig struct {
	// LocalAddr is the host address connections bind to.
	LocalAddr netip.Addr
	// Factory creates the state machine backing each connection.
	Factory Factory
	// Options is the default for connections opened without their own.
	Options Options
	// Now supplies the time source. Defaults to time.Now.
	Now func() time.Time
	// Logger logs lifecycle events. Nil disables logging.
	Logger *slog.Logger
}

// ManagerStats is a snapshot of manager activity.
type ManagerStats struct {
	ActiveConnections   int
	ListeningPorts      int
	PortsAllocated      int
	SegmentsDemuxed     uint64
	SegmentsDropped     uint64
	ConnectionsOpened   uint64
	ConnectionsAccepted uint64
	ConnectionsReaped   uint64
}

// listener tracks one listening port, the options its spawned connections
// inherit and the connections spawned from SYNs arriving on it that have not
// yet been accepted.
type listener struct {
	port    uint16
	opts    Options
	backlog []*Connection
}

// ConnManager owns TCP connection demultiplexing: it maps inbound segments
// to connections by exact 4-tuple with listening-port fallback, allocates
// local ports and reaps closed connections. The state machines it drives
// come from the configured [Factory]. Single-writer; the caller serializes
// access, typically by running the manager on the stack's packet loop.
type ConnManager struct {
	local     netip.Addr
	conns     map[ConnectionID]*Connection
	listeners map[uint16]*listener
	ports     *portAllocator
	factory   Factory
	opts      Options
	now       func() time.Time
	log       *slog.Logger
	stats     ManagerStats
}

// NewConnManager returns a ConnManager configured by cfg. Panics if
// cfg.Factory is nil.
func NewConnManager(cfg ManagerConfig) *ConnManager {
	if cfg.Factory == nil {
		panic("tcp: nil state machine factory")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ConnManager{
		local:     cfg.LocalAddr,
		conns:     make(map[ConnectionID]*Connection),
		listeners: make(map[uint16]*listener),
		ports:     newPortAllocator(),
		factory:   cfg.Factory,
		opts:      cfg.Options,
		now:       cfg.Now,
		log:       cfg.Logger,
	}
}

// Listen binds a listening socket. A zero port requests an ephemeral one.
// Connections spawned from the port inherit opts; a zero opts means the
// manager's default options. Returns the bound port.
func (m *ConnManager) Listen(port uint16, opts Options) (uint16, error) {
	var err error
	if port == 0 {
		port, err = m.ports.allocate()
	} else {
		err = m.ports.allocateSpecific(port)
	}
	if err != nil {
		return 0, err
	}
	m.listeners[port] = &listener{port: port, opts: m.connOptions(opts)}
	internal.LogAttrs(m.log, slog.LevelInfo, "tcp.ConnManager:listen", slog.Int("port", int(port)))
	return port, nil
}

// Connect opens a client connection to remote from a fresh ephemeral port
// and starts the handshake. A zero opts means the manager's default options.
// The returned connection carries the exact 4-tuple; its SYN is retrievable
// via [ConnManager.PollOutbound].
func (m *ConnManager) Connect(remote netip.AddrPort, opts Options) (*Connection, error) {
	port, err := m.ports.allocate()
	if err != nil {
		return nil, err
	}
	id := ConnectionID{
		LocalAddr:  m.local,
		LocalPort:  port,
		RemoteAddr: remote.Addr(),
		RemotePort: remote.Port(),
	}
	conn := newConnection(id, m.factory(), m.connOptions(opts), m.now())
	conn.ownsPort = true
	act, err := conn.sm.ActiveOpen()
	if err != nil {
		m.ports.release(port)
		return nil, err
	}
	conn.applyAction(act)
	m.conns[id] = conn
	m.stats.ConnectionsOpened++
	internal.LogAttrs(m.log, slog.LevelInfo, "tcp.ConnManager:connect", slog.String("id", id.String()))
	return conn, nil
}

// Accept pops one established connection spawned on the listening port.
// The returned connection's ID carries the true remote endpoint captured
// from the SYN that created it. Returns (nil, nil) when no established
// connection is pending, and [ErrInvalidConnection] if the port is not
// listening.
func (m *ConnManager) Accept(port uint16) (*Connection, error) {
	l, ok := m.listeners[port]
	if !ok {
		return nil, ErrInvalidConnection
	}
	for i, conn := range l.backlog {
		if conn.IsEstablished() {
			l.backlog = append(l.backlog[:i], l.backlog[i+1:]...)
			m.stats.ConnectionsAccepted++
			internal.LogAttrs(m.log, slog.LevelInfo, "tcp.ConnManager:accept",
				slog.String("id", conn.id.String()))
			return conn, nil
		}
	}
	return nil, nil
}

// Close begins an orderly shutdown of the connection with the given ID, or
// unbinds a listening socket when id is a wildcard. Closing connections are
// retained until their state machine reports closed; [ConnManager.Cleanup]
// reaps them.
func (m *ConnManager) Close(id ConnectionID) error {
	if id.IsWildcard() {
		l, ok := m.listeners[id.LocalPort]
		if !ok {
			return ErrInvalidConnection
		}
		for _, conn := range l.backlog {
			conn.close()
		}
		delete(m.listeners, id.LocalPort)
		m.ports.release(l.port)
		return nil
	}
	conn, ok := m.conns[id]
	if !ok {
		return ErrInvalidConnection
	}
	return conn.close()
}

// connOptions resolves per-call options: the zero Options means "use the
// manager's default".
func (m *ConnManager) connOptions(opts Options) Options {
	if opts == (Options{}) {
		return m.opts
	}
	return opts
}

// GetConnection returns the connection with the given ID if the manager
// holds it.
func (m *ConnManager) GetConnection(id ConnectionID) (*Connection, bool) {
	conn, ok := m.conns[id]
	return conn, ok
}

// ProcessPacket demultiplexes one inbound TCP segment. Lookup is exact
// 4-tuple first, then the listening socket on the destination port, which
// spawns a new connection identified by the true remote endpoint from the
// segment. Segments matching neither are dropped silently.
func (m *ConnManager) ProcessPacket(src, dst netip.Addr, segment []byte) error {
	tfrm, err := NewFrame(segment)
	if err != nil {
		return err
	}
	if err := tfrm.ValidateSize(); err != nil {
		return err
	}
	payload := tfrm.Payload()
	seg := tfrm.Segment(len(payload))

	id := ConnectionID{
		LocalAddr:  dst,
		LocalPort:  tfrm.DestinationPort(),
		RemoteAddr: src,
		RemotePort: tfrm.SourcePort(),
	}
	if conn, ok := m.conns[id]; ok {
		m.stats.SegmentsDemuxed++
		_, err := conn.processPacket(seg, payload)
		return err
	}
	if l, ok := m.listeners[id.LocalPort]; ok && seg.IsFirstSYN() {
		m.stats.SegmentsDemuxed++
		return m.spawn(l, id, seg, payload)
	}

	// No owner: drop silently per protocol stack convention. A RST here
	// would let port scans distinguish filtered from closed.
	m.stats.SegmentsDropped++
	internal.LogAttrs(m.log, internal.LevelTrace, "tcp.ConnManager:drop",
		slog.String("id", id.String()))
	return nil
}

// spawn materializes a connection for a SYN arriving on a listening port,
// inheriting the listener's options.
func (m *ConnManager) spawn(l *listener, id ConnectionID, seg Segment, payload []byte) error {
	conn := newConnection(id, m.factory(), l.opts, m.now())
	if _, err := conn.sm.PassiveOpen(); err != nil {
		return err
	}
	if _, err := conn.processPacket(seg, payload); err != nil {
		return err
	}
	m.conns[id] = conn
	l.backlog = append(l.backlog, conn)
	m.stats.ConnectionsOpened++
	internal.LogAttrs(m.log, slog.LevelDebug, "tcp.ConnManager:spawn", slog.String("id", id.String()))
	return nil
}

// CheckTimeouts gives every connection's state machine a chance to act on
// elapsed time and aggregates their actions. The manager adds no timeout
// policy of its own.
func (m *ConnManager) CheckTimeouts() []Action {
	now := m.now()
	var all []Action
	for _, conn := range m.conns {
		all = append(all, conn.checkTimeouts(now)...)
	}
	return all
}

// Cleanup reaps connections whose state machines report closed, releasing
// their ephemeral ports. Closing connections still in FIN exchange are
// retained.
func (m *ConnManager) Cleanup() {
	for id, conn := range m.conns {
		if !conn.IsClosed() {
			continue
		}
		delete(m.conns, id)
		if conn.ownsPort {
			m.ports.release(id.LocalPort)
		}
		if l, ok := m.listeners[id.LocalPort]; ok {
			l.dropFromBacklog(conn)
		}
		m.stats.ConnectionsReaped++
		internal.LogAttrs(m.log, slog.LevelDebug, "tcp.ConnManager:reap", slog.String("id", id.String()))
	}
}

func (l *listener) dropFromBacklog(conn *Connection) {
	for i := range l.backlog {
		if l.backlog[i] == conn {
			l.backlog = append(l.backlog[:i], l.backlog[i+1:]...)
			return
		}
	}
}

// PollOutbound drains the pending outbound segments of every connection.
func (m *ConnManager) PollOutbound() []Outbound {
	var out []Outbound
	for _, conn := range m.conns {
		out = append(out, conn.PollOutbound()...)
	}
	return out
}

// Stats returns a snapshot of manager activity.
func (m *ConnManager) Stats() ManagerStats {
	s := m.stats
	s.ActiveConnections = len(m.conns)
	s.ListeningPorts = len(m.listeners)
	s.PortsAllocated = m.ports.allocated()
	return s
}
