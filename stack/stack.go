// Package stack glues the protocol layers together: it demultiplexes inbound
// ethernet frames to the ARP processor, the IPv4 reassembler and the TCP
// connection manager, and encapsulates outbound traffic back down through
// fragmentation, ARP resolution and ethernet framing.
//
// The stack is single-threaded: one goroutine calls [Stack.RecvEthernet],
// [Stack.PollTransmit] and [Stack.Tick]. No internal locking is performed.
package stack

import (
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/kvos/netkern"
	"github.com/kvos/netkern/arp"
	"github.com/kvos/netkern/internal"
	"github.com/kvos/netkern/ipv4"
	"github.com/kvos/netkern/packet"
	"github.com/kvos/netkern/tcp"
)

// ErrBadChecksum is returned for inbound IPv4 frames failing header
// checksum verification.
var ErrBadChecksum = errors.New("stack: bad IPv4 header checksum")

// maxPendingPerDest bounds packets parked awaiting ARP resolution of one
// destination.
const maxPendingPerDest = 8

// Config configures a [Stack]. Zero fields take defaults where noted.
type Config struct {
	// HardwareAddr is the interface MAC address.
	HardwareAddr [6]byte
	// Addr is the interface IPv4 address.
	Addr netip.Addr
	// MTU is the interface MTU. Defaults to 1500.
	MTU int
	// TCPFactory creates state machines for TCP connections. Required if
	// TCP traffic is to be handled.
	TCPFactory tcp.Factory
	// PoolPrealloc and PoolMaxBuffers size the transmit buffer pool.
	// Defaults: 16 preallocated, 256 max.
	PoolPrealloc   int
	PoolMaxBuffers int
	// Now supplies the time source. Defaults to time.Now.
	Now func() time.Time
	// Logger logs stack events. Nil disables logging.
	Logger *slog.Logger
}

// Stats is a snapshot of stack activity.
type Stats struct {
	FramesReceived uint64
	FramesDropped  uint64
	FramesQueued   uint64
	ARPReplies     uint64
	ARPRequests    uint64
	DatagramsSent  uint64
	PendingARP     int
	TxQueue        int
}

// Stack is one network interface's protocol state: ARP cache and processor,
// IPv4 fragmenter and reassembler, TCP connection manager and the transmit
// queue feeding the device.
type Stack struct {
	mac  [6]byte
	addr netip.Addr
	mtu  int

	pool     *packet.Pool
	arpCache *arp.Cache
	arpProc  *arp.Processor
	frag     *ipv4.Fragmenter
	reasm    *ipv4.Reassembler
	tcpMgr   *tcp.ConnManager

	txq        []*packet.Packet
	pendingARP map[netip.Addr][]ipv4.Packet

	now   func() time.Time
	log   *slog.Logger
	stats Stats
}

// New returns a Stack configured by cfg.
func New(cfg Config) (*Stack, error) {
	if !cfg.Addr.Is4() {
		return nil, errors.New("stack: need IPv4 interface address")
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 1500
	}
	if cfg.PoolPrealloc <= 0 {
		cfg.PoolPrealloc = 16
	}
	if cfg.PoolMaxBuffers <= 0 {
		cfg.PoolMaxBuffers = 256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Stack{
		mac:        cfg.HardwareAddr,
		addr:       cfg.Addr,
		mtu:        cfg.MTU,
		pool:       packet.NewPool(cfg.PoolPrealloc, cfg.PoolMaxBuffers, cfg.Logger),
		arpCache:   arp.NewCache(arp.CacheConfig{Now: cfg.Now, Logger: cfg.Logger}),
		arpProc:    arp.NewProcessor(cfg.Logger),
		frag:       ipv4.NewFragmenter(cfg.MTU, cfg.Logger),
		reasm:      ipv4.NewReassembler(ipv4.ReassemblerConfig{Now: cfg.Now, Logger: cfg.Logger}),
		pendingARP: make(map[netip.Addr][]ipv4.Packet),
		now:        cfg.Now,
		log:        cfg.Logger,
	}
	if cfg.TCPFactory != nil {
		s.tcpMgr = tcp.NewConnManager(tcp.ManagerConfig{
			LocalAddr: cfg.Addr,
			Factory:   cfg.TCPFactory,
			Now:       cfg.Now,
			Logger:    cfg.Logger,
		})
	}
	return s, nil
}

// HardwareAddr returns the interface MAC address.
func (s *Stack) HardwareAddr() [6]byte { return s.mac }

// Addr returns the interface IPv4 address.
func (s *Stack) Addr() netip.Addr { return s.addr }

// MTU returns the interface MTU.
func (s *Stack) MTU() int { return s.mtu }

// ARPCache exposes the stack's ARP cache, e.g. to seed permanent entries.
func (s *Stack) ARPCache() *arp.Cache { return s.arpCache }

// TCP returns the TCP connection manager, nil when no factory was
// configured.
func (s *Stack) TCP() *tcp.ConnManager { return s.tcpMgr }

// RecvEthernet dispatches one inbound ethernet frame. Frames not addressed
// to the interface (unicast to another MAC) are dropped without error.
func (s *Stack) RecvEthernet(frame []byte) error {
	s.stats.FramesReceived++
	efrm, err := newEthFrame(frame)
	if err != nil {
		s.stats.FramesDropped++
		return err
	}
	if !efrm.IsBroadcast() && *efrm.DestinationHardwareAddr() != s.mac {
		s.stats.FramesDropped++
		return nil
	}
	switch et := efrm.EtherTypeOrSize(); et {
	case netkern.EtherTypeARP:
		return s.recvARP(efrm.Payload())
	case netkern.EtherTypeIPv4:
		return s.recvIPv4(efrm.Payload())
	default:
		s.stats.FramesDropped++
		internal.LogAttrs(s.log, internal.LevelTrace, "stack:drop-ethertype",
			slog.String("ethertype", et.String()))
		return nil
	}
}

func (s *Stack) recvARP(payload []byte) error {
	reply, err := s.arpProc.ProcessPacket(payload, s.addr, s.mac, s.arpCache)
	if err != nil {
		s.stats.FramesDropped++
		return err
	}
	if reply != nil {
		s.stats.ARPReplies++
		if err := s.enqueueFrame(reply.TargetHW, netkern.EtherTypeARP, reply.AppendTo(nil)); err != nil {
			return err
		}
	}
	// A learned mapping may unblock packets parked on resolution.
	s.flushPending()
	return nil
}

func (s *Stack) recvIPv4(payload []byte) error {
	ifrm, err := ipv4.NewFrame(payload)
	if err != nil {
		s.stats.FramesDropped++
		return err
	}
	if err := ifrm.ValidateSize(); err != nil {
		s.stats.FramesDropped++
		return err
	}
	if ifrm.CalculateHeaderCRC() != ifrm.CRC() {
		s.stats.FramesDropped++
		return ErrBadChecksum
	}
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	if dst != s.addr && dst != netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		s.stats.FramesDropped++
		return nil
	}
	hdr, err := ipv4.DecodeHeader(payload)
	if err != nil {
		s.stats.FramesDropped++
		return err
	}
	datagram, err := s.reasm.ProcessFragment(hdr, ifrm.Payload())
	if err != nil {
		s.stats.FramesDropped++
		return err
	}
	if datagram == nil {
		return nil // More fragments outstanding.
	}

	switch hdr.Protocol {
	case netkern.IPProtoTCP:
		if s.tcpMgr == nil {
			s.stats.FramesDropped++
			return nil
		}
		err := s.tcpMgr.ProcessPacket(hdr.SourceAddr, hdr.DestAddr, datagram)
		s.drainTCP()
		return err
	default:
		s.stats.FramesDropped++
		internal.LogAttrs(s.log, internal.LevelTrace, "stack:drop-proto",
			slog.String("proto", hdr.Protocol.String()))
		return nil
	}
}

// SendIPv4 transmits payload as an IPv4 datagram to dst, fragmenting as the
// MTU requires. With dontFragment set an oversize payload fails with
// [ipv4.ErrFragmentationNeeded].
func (s *Stack) SendIPv4(dst netip.Addr, proto netkern.IPProto, payload []byte, dontFragment bool) error {
	hdr := ipv4.NewHeader(s.addr, dst, proto, len(payload))
	hdr.SetIdentification(s.frag.NextIdentification())
	hdr.SetFragmentation(dontFragment, false, 0)
	hdr.SetChecksum()
	frags, err := s.frag.FragmentPacket(ipv4.Packet{Header: hdr, Payload: payload})
	if err != nil {
		return err
	}
	for i := range frags {
		if err := s.sendIPv4Packet(frags[i]); err != nil {
			return err
		}
	}
	s.stats.DatagramsSent++
	return nil
}

// sendIPv4Packet resolves the destination MAC and queues the packet as an
// ethernet frame. On an ARP miss the packet is parked and a request
// broadcast; it flows once the reply is learned.
func (s *Stack) sendIPv4Packet(p ipv4.Packet) error {
	dst := p.Header.DestAddr
	mac, ok := s.arpCache.Lookup(dst)
	if !ok {
		pending := s.pendingARP[dst]
		if len(pending) >= maxPendingPerDest {
			s.stats.FramesDropped++
			return nil
		}
		s.pendingARP[dst] = append(pending, p.Clone())
		if len(pending) == 0 {
			return s.sendARPRequest(dst)
		}
		return nil
	}
	return s.enqueueFrame(mac, netkern.EtherTypeIPv4, p.AppendTo(nil))
}

func (s *Stack) sendARPRequest(target netip.Addr) error {
	req := arp.NewRequest(s.mac, s.addr, target)
	s.stats.ARPRequests++
	return s.enqueueFrame(netkern.BroadcastHardwareAddr(), netkern.EtherTypeARP, req.AppendTo(nil))
}

// flushPending retries packets parked on ARP resolution whose destination is
// now in the cache.
func (s *Stack) flushPending() {
	for dst, pkts := range s.pendingARP {
		mac, ok := s.arpCache.Lookup(dst)
		if !ok {
			continue
		}
		delete(s.pendingARP, dst)
		for i := range pkts {
			s.enqueueFrame(mac, netkern.EtherTypeIPv4, pkts[i].AppendTo(nil))
		}
	}
}

// enqueueFrame wraps payload in an ethernet header and queues it for
// transmission on a pool buffer.
func (s *Stack) enqueueFrame(dst [6]byte, et netkern.EtherType, payload []byte) error {
	buf, err := s.pool.Allocate()
	if err != nil {
		s.stats.FramesDropped++
		return err
	}
	var hdr [netkern.SizeHeaderEthernet]byte
	copy(hdr[0:6], dst[:])
	copy(hdr[6:12], s.mac[:])
	efrm, _ := newEthFrame(hdr[:])
	efrm.SetEtherType(et)
	buf.WriteBytes(hdr[:])
	buf.WriteBytes(payload)
	s.txq = append(s.txq, packet.FromBuffer(buf, packet.TypeEthernet))
	s.stats.FramesQueued++
	return nil
}

// PollTransmit copies the next queued outbound frame into dst and returns
// its length, or 0 when the queue is empty. The frame's buffer returns to
// the pool.
func (s *Stack) PollTransmit(dst []byte) (int, error) {
	if len(s.txq) == 0 {
		return 0, nil
	}
	pkt := s.txq[0]
	s.txq = s.txq[1:]
	n := copy(dst, pkt.Data())
	s.pool.Deallocate(pkt.Buffer())
	if n < pkt.Len() {
		return n, errShortEthernet
	}
	return n, nil
}

// drainTCP moves segments the TCP manager wants sent into the transmit
// queue, framing each with a checksummed TCP header inside IPv4.
func (s *Stack) drainTCP() {
	if s.tcpMgr == nil {
		return
	}
	for _, out := range s.tcpMgr.PollOutbound() {
		seg := s.encodeTCPSegment(out)
		if err := s.SendIPv4(out.ID.RemoteAddr, netkern.IPProtoTCP, seg, false); err != nil {
			internal.LogAttrs(s.log, slog.LevelError, "stack:tcp-send",
				slog.String("id", out.ID.String()), slog.String("err", err.Error()))
		}
	}
}

// encodeTCPSegment builds the wire form of an outbound TCP segment with the
// pseudo-header checksum filled in.
func (s *Stack) encodeTCPSegment(out tcp.Outbound) []byte {
	buf := make([]byte, netkern.SizeHeaderTCP+len(out.Payload))
	tfrm, _ := tcp.NewFrame(buf)
	tfrm.SetSourcePort(out.ID.LocalPort)
	tfrm.SetDestinationPort(out.ID.RemotePort)
	tfrm.SetSegment(out.Segment, netkern.SizeHeaderTCP/4)
	copy(buf[netkern.SizeHeaderTCP:], out.Payload)

	var crc netkern.CRC791
	src := out.ID.LocalAddr.As4()
	dst := out.ID.RemoteAddr.As4()
	crc.Write(src[:])
	crc.Write(dst[:])
	crc.AddUint16(uint16(netkern.IPProtoTCP))
	crc.AddUint16(uint16(len(buf)))
	tfrm.SetCRC(crc.PayloadSum16(buf))
	return buf
}

// Tick runs the stack's periodic maintenance: ARP cache aging, reassembly
// expiry, TCP timeout processing and reaping of closed connections. Call it
// from the packet loop; the sweeps rate-limit themselves.
func (s *Stack) Tick() {
	s.arpCache.MaybeCleanup()
	s.reasm.Cleanup()
	if s.tcpMgr != nil {
		s.tcpMgr.CheckTimeouts()
		s.tcpMgr.Cleanup()
		s.drainTCP()
	}
}

// Stats returns a snapshot of stack activity.
func (s *Stack) Stats() Stats {
	st := s.stats
	st.PendingARP = len(s.pendingARP)
	st.TxQueue = len(s.txq)
	return st
}
