package ipv4

import (
	"net/netip"

	"github.com/kvos/netkern"
)

// Header is the decoded form of an IPv4 header without options. It is the
// unit of exchange with the fragmentation layer, which reads and rewrites
// the fragmentation fields and checksum between wire crossings.
type Header struct {
	VersionIHL     uint8
	ToS            ToS
	TotalLength    uint16
	Identification uint16
	Flags          Flags
	TTL            uint8
	Protocol       netkern.IPProto
	Checksum       uint16
	SourceAddr     netip.Addr
	DestAddr       netip.Addr
}

// NewHeader returns a header for an unfragmented datagram carrying
// payloadLen bytes of proto from src to dst.
func NewHeader(src, dst netip.Addr, proto netkern.IPProto, payloadLen int) Header {
	h := Header{
		VersionIHL:  4<<4 | 5,
		TotalLength: uint16(sizeHeader + payloadLen),
		TTL:         64,
		Protocol:    proto,
		SourceAddr:  src,
		DestAddr:    dst,
	}
	h.SetChecksum()
	return h
}

// HeaderLength returns the header length in bytes per the IHL field.
func (h *Header) HeaderLength() int { return int(h.VersionIHL&0xf) * 4 }

// DontFragment returns the DF flag.
func (h *Header) DontFragment() bool { return h.Flags.DontFragment() }

// MoreFragments returns the MF flag.
func (h *Header) MoreFragments() bool { return h.Flags.MoreFragments() }

// FragmentOffset returns the fragment offset in 8-byte units.
func (h *Header) FragmentOffset() uint16 { return h.Flags.FragmentOffset() }

// SetIdentification sets the identification field.
func (h *Header) SetIdentification(id uint16) { h.Identification = id }

// SetFragmentation rewrites the flag bits and the 8-byte-unit fragment offset.
func (h *Header) SetFragmentation(dontFragment, moreFragments bool, offset uint16) {
	h.Flags = NewFlags(offset, dontFragment, moreFragments)
}

// CalculateChecksum computes the RFC 791 checksum over the header with the
// stored checksum field included. A header with a correct stored checksum
// sums to zero.
func (h *Header) CalculateChecksum() uint16 {
	var crc netkern.CRC791
	crc.AddUint16(uint16(h.VersionIHL)<<8 | uint16(h.ToS))
	crc.AddUint16(h.TotalLength)
	crc.AddUint16(h.Identification)
	crc.AddUint16(uint16(h.Flags))
	crc.AddUint16(uint16(h.TTL)<<8 | uint16(h.Protocol))
	crc.AddUint16(h.Checksum)
	src := h.SourceAddr.As4()
	dst := h.DestAddr.As4()
	crc.Write(src[:])
	crc.Write(dst[:])
	return crc.Sum16()
}

// VerifyChecksum reports whether the stored checksum is consistent.
func (h *Header) VerifyChecksum() bool { return h.CalculateChecksum() == 0 }

// SetChecksum recomputes and stores the header checksum.
func (h *Header) SetChecksum() {
	h.Checksum = 0
	h.Checksum = h.CalculateChecksum()
}

// DecodeHeader parses the fixed 20-byte header from the start of b.
func DecodeHeader(b []byte) (Header, error) {
	ifrm, err := NewFrame(b)
	if err != nil {
		return Header{}, err
	}
	version, ihl := ifrm.VersionAndIHL()
	return Header{
		VersionIHL:     version<<4 | ihl,
		ToS:            ifrm.ToS(),
		TotalLength:    ifrm.TotalLength(),
		Identification: ifrm.ID(),
		Flags:          ifrm.Flags(),
		TTL:            ifrm.TTL(),
		Protocol:       ifrm.Protocol(),
		Checksum:       ifrm.CRC(),
		SourceAddr:     netip.AddrFrom4(*ifrm.SourceAddr()),
		DestAddr:       netip.AddrFrom4(*ifrm.DestinationAddr()),
	}, nil
}

// Put encodes the header into its 20-byte wire form at the start of b.
func (h *Header) Put(b []byte) error {
	ifrm, err := NewFrame(b)
	if err != nil {
		return err
	}
	ifrm.SetVersionAndIHL(h.VersionIHL>>4, h.VersionIHL&0xf)
	ifrm.SetToS(h.ToS)
	ifrm.SetTotalLength(h.TotalLength)
	ifrm.SetID(h.Identification)
	ifrm.SetFlags(h.Flags)
	ifrm.SetTTL(h.TTL)
	ifrm.SetProtocol(h.Protocol)
	ifrm.SetCRC(h.Checksum)
	*ifrm.SourceAddr() = h.SourceAddr.As4()
	*ifrm.DestinationAddr() = h.DestAddr.As4()
	return nil
}

// Packet is a decoded IPv4 header plus its payload, the unit the
// [Fragmenter] splits and a device submits for transmission.
type Packet struct {
	Header  Header
	Payload []byte
}

// TotalSize returns the on-wire size of the packet in bytes.
func (p *Packet) TotalSize() int { return sizeHeader + len(p.Payload) }

// Clone deep-copies the packet.
func (p *Packet) Clone() Packet {
	q := Packet{Header: p.Header}
	if p.Payload != nil {
		q.Payload = append([]byte(nil), p.Payload...)
	}
	return q
}

// AppendTo appends the packet's wire form, header checksummed, to dst.
func (p *Packet) AppendTo(dst []byte) []byte {
	var hdr [sizeHeader]byte
	p.Header.Put(hdr[:])
	dst = append(dst, hdr[:]...)
	return append(dst, p.Payload...)
}
