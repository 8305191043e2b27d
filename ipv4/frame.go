package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/kvos/netkern"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 20. Users should
// still call [Frame.ValidateSize] before working with payload/options of
// frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4 packet and provides methods for
// manipulating, validating and retrieving fields and payload data. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

// HeaderLength returns the length of the IPv4 header in bytes as calculated
// from IHL. It includes IP options.
func (ifrm Frame) HeaderLength() int { return int(ifrm.ihl()) * 4 }

// VersionAndIHL returns the version and IHL fields. Version should always be 4.
func (ifrm Frame) VersionAndIHL() (version, IHL uint8) {
	v := ifrm.buf[0]
	return v >> 4, v & 0xf
}

// SetVersionAndIHL sets the version and IHL fields.
func (ifrm Frame) SetVersionAndIHL(version, IHL uint8) { ifrm.buf[0] = version<<4 | IHL&0xf }

// ToS returns the Type of Service field. See [ToS].
func (ifrm Frame) ToS() ToS { return ToS(ifrm.buf[1]) }

// SetToS sets the ToS field.
func (ifrm Frame) SetToS(tos ToS) { ifrm.buf[1] = byte(tos) }

// TotalLength returns the entire packet size in bytes, header and data included.
func (ifrm Frame) TotalLength() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[2:4])
}

// SetTotalLength sets the TotalLength field.
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID returns the identification field, which groups the fragments of a
// single IP datagram.
func (ifrm Frame) ID() uint16 { return binary.BigEndian.Uint16(ifrm.buf[4:6]) }

// SetID sets the identification field.
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// Flags returns the fragmentation [Flags] of the IP packet.
func (ifrm Frame) Flags() Flags {
	return Flags(binary.BigEndian.Uint16(ifrm.buf[6:8]))
}

// SetFlags sets the IPv4 fragmentation flags field. See [Flags].
func (ifrm Frame) SetFlags(flags Flags) {
	binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(flags))
}

// TTL returns the time-to-live field, decremented at each hop.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the TTL field.
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol returns the protocol of the data portion of the datagram.
// TCP is 6, UDP is 17. See [netkern.IPProto].
func (ifrm Frame) Protocol() netkern.IPProto { return netkern.IPProto(ifrm.buf[9]) }

// SetProtocol sets the protocol field.
func (ifrm Frame) SetProtocol(proto netkern.IPProto) { ifrm.buf[9] = uint8(proto) }

// CRC returns the header checksum field.
func (ifrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(ifrm.buf[10:12]) }

// SetCRC sets the header checksum field.
func (ifrm Frame) SetCRC(cs uint16) { binary.BigEndian.PutUint16(ifrm.buf[10:12], cs) }

// CalculateHeaderCRC calculates the RFC 791 checksum over this frame's
// header with the checksum field taken as zero.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc netkern.CRC791
	crc.Write(ifrm.buf[0:10])
	crc.Write(ifrm.buf[12:sizeHeader])
	return crc.Sum16()
}

// CRCWriteTCPPseudo adds this frame's TCP pseudo-header to a running checksum.
func (ifrm Frame) CRCWriteTCPPseudo(crc *netkern.CRC791) {
	crc.Write(ifrm.SourceAddr()[:])
	crc.Write(ifrm.DestinationAddr()[:])
	crc.AddUint16(ifrm.TotalLength() - 4*uint16(ifrm.ihl()))
	crc.AddUint16(uint16(ifrm.Protocol()))
}

// SourceAddr returns a pointer to the source IPv4 address in the IP header.
func (ifrm Frame) SourceAddr() *[4]byte { return (*[4]byte)(ifrm.buf[12:16]) }

// DestinationAddr returns a pointer to the destination IPv4 address in the IP header.
func (ifrm Frame) DestinationAddr() *[4]byte { return (*[4]byte)(ifrm.buf[16:20]) }

// Payload returns the data portion of the IPv4 packet, which may be zero
// sized. Be sure to call [Frame.ValidateSize] beforehand to avoid a panic.
func (ifrm Frame) Payload() []byte {
	return ifrm.buf[ifrm.HeaderLength():ifrm.TotalLength()]
}

// Options returns the options portion of the IPv4 header. May be zero length.
func (ifrm Frame) Options() []byte {
	return ifrm.buf[sizeHeader:ifrm.HeaderLength()]
}

// ClearHeader zeros out the fixed header contents.
func (ifrm Frame) ClearHeader() {
	clear(ifrm.buf[:sizeHeader])
}

// ValidateSize checks the frame's size fields against the actual buffer.
// It returns a non-nil error on finding an inconsistency.
func (ifrm Frame) ValidateSize() error {
	tl := ifrm.TotalLength()
	switch {
	case tl < sizeHeader:
		return errShort
	case int(tl) > len(ifrm.buf):
		return errShort
	case ifrm.ihl() < 5:
		return errBadIHL
	case ifrm.version() != 4:
		return errBadVersion
	}
	return nil
}

func (ifrm Frame) String() string {
	src := netip.AddrFrom4(*ifrm.SourceAddr())
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d TTL=%d ID=%d", ifrm.Protocol(), src, dst, ifrm.TotalLength(), ifrm.TTL(), ifrm.ID())
}
