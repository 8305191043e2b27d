package packet

import (
	"fmt"
	"net/netip"
	"time"
)

// Packet owns one [Buffer] plus reception metadata and convenience fields
// filled in by protocol dispatch. Created per I/O event.
type Packet struct {
	buf       *Buffer
	ptype     Type
	ifaceID   uint32
	hasIface  bool
	timestamp time.Time

	// Convenience fields parsed by higher layers. Zero values until the
	// corresponding header has been dispatched.
	SrcAddr  netip.Addr
	DstAddr  netip.Addr
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8
}

// New returns an empty packet of type t backed by a MaxPacketSize buffer.
func New(t Type) (*Packet, error) {
	buf, err := NewBuffer(MaxPacketSize)
	if err != nil {
		return nil, err
	}
	return &Packet{buf: buf, ptype: t}, nil
}

// FromBuffer returns a packet of type t wrapping buf, typically one leased
// from a [Pool]. The caller returns the buffer to its pool when done.
func FromBuffer(buf *Buffer, t Type) *Packet {
	return &Packet{buf: buf, ptype: t}
}

// FromBytes returns a packet of type t holding a copy of data.
func FromBytes(data []byte, t Type) (*Packet, error) {
	buf, err := BufferFromBytes(data)
	if err != nil {
		return nil, err
	}
	return &Packet{buf: buf, ptype: t}, nil
}

// Type returns the packet's protocol tag.
func (p *Packet) Type() Type { return p.ptype }

// SetType sets the packet's protocol tag.
func (p *Packet) SetType(t Type) { p.ptype = t }

// InterfaceID returns the receiving interface id, if set.
func (p *Packet) InterfaceID() (id uint32, ok bool) { return p.ifaceID, p.hasIface }

// SetInterfaceID records the receiving interface id.
func (p *Packet) SetInterfaceID(id uint32) {
	p.ifaceID = id
	p.hasIface = true
}

// Timestamp returns the reception timestamp.
func (p *Packet) Timestamp() time.Time { return p.timestamp }

// SetTimestamp records the reception timestamp.
func (p *Packet) SetTimestamp(t time.Time) { p.timestamp = t }

// Buffer returns the packet's underlying buffer.
func (p *Packet) Buffer() *Buffer { return p.buf }

// Data returns the packet's valid data region.
func (p *Packet) Data() []byte { return p.buf.Bytes() }

// Len returns the packet data length.
func (p *Packet) Len() int { return p.buf.Len() }

// Append writes data at the packet's write cursor, returning bytes written.
func (p *Packet) Append(data []byte) int { return p.buf.WriteBytes(data) }

// ReserveHeaders shifts the payload right to make room for headerSize bytes
// of headers. See [Buffer.ReserveHeaderSpace].
func (p *Packet) ReserveHeaders(headerSize int) error {
	return p.buf.ReserveHeaderSpace(headerSize)
}

// Trim shrinks the packet to newLen bytes.
func (p *Packet) Trim(newLen int) { p.buf.Trim(newLen) }

// Clone deep-copies the packet, buffer included.
func (p *Packet) Clone() (*Packet, error) {
	q, err := FromBytes(p.Data(), p.ptype)
	if err != nil {
		return nil, err
	}
	q.ifaceID = p.ifaceID
	q.hasIface = p.hasIface
	q.timestamp = p.timestamp
	q.SrcAddr = p.SrcAddr
	q.DstAddr = p.DstAddr
	q.SrcPort = p.SrcPort
	q.DstPort = p.DstPort
	q.TCPFlags = p.TCPFlags
	return q, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s len=%d src=%s:%d dst=%s:%d", p.ptype, p.Len(), p.SrcAddr, p.SrcPort, p.DstAddr, p.DstPort)
}
