package arp

import (
	"encoding/binary"

	"github.com/kvos/netkern"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer is smaller than the 28 byte
// IPv4-over-Ethernet ARP header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, ErrInvalidPacket
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ARP packet and provides methods for
// manipulating and retrieving fields. Only the IPv4-over-Ethernet layout
// (6-byte hardware, 4-byte protocol addresses) is handled. See [RFC826].
//
// [RFC826]: https://tools.ietf.org/html/rfc826
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the network link protocol type and address length.
// Ethernet is type 1, length 6.
func (afrm Frame) Hardware() (Type uint16, length uint8) {
	return binary.BigEndian.Uint16(afrm.buf[0:2]), afrm.buf[4]
}

// SetHardware sets the network link protocol type and address length.
func (afrm Frame) SetHardware(Type uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], Type)
	afrm.buf[4] = length
}

// Protocol returns the internet protocol type and address length.
func (afrm Frame) Protocol() (Type netkern.EtherType, length uint8) {
	return netkern.EtherType(binary.BigEndian.Uint16(afrm.buf[2:4])), afrm.buf[5]
}

// SetProtocol sets the internet protocol type and address length.
func (afrm Frame) SetProtocol(Type netkern.EtherType, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(Type))
	afrm.buf[5] = length
}

// Operation returns the ARP operation field. See [Operation].
func (afrm Frame) Operation() Operation {
	return Operation(binary.BigEndian.Uint16(afrm.buf[6:8]))
}

// SetOperation sets the ARP operation field. See [Operation].
func (afrm Frame) SetOperation(op Operation) {
	binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op))
}

// Sender4 returns the sender hardware (MAC) and IPv4 addresses. In a request
// they identify the host asking; in a reply the host that was looked for.
func (afrm Frame) Sender4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target4 returns the target hardware (MAC) and IPv4 addresses. In a request
// the hardware address is ignored; in a reply it identifies the requester.
func (afrm Frame) Target4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// SwapTargetSender exchanges the sender and target address pairs in place,
// the first step of turning a received request into a reply.
func (afrm Frame) SwapTargetSender() {
	hwSender, protoSender := afrm.Sender4()
	hwTarget, protoTarget := afrm.Target4()
	*hwSender, *hwTarget = *hwTarget, *hwSender
	*protoSender, *protoTarget = *protoTarget, *protoSender
}

// ClearHeader zeros out the fixed header contents.
func (afrm Frame) ClearHeader() {
	clear(afrm.buf[:sizeHeader])
}

// ValidateSize checks that the frame's address length fields match the
// IPv4-over-Ethernet layout this package handles.
func (afrm Frame) ValidateSize() error {
	_, hlen := afrm.Hardware()
	_, plen := afrm.Protocol()
	if hlen != 6 || plen != 4 {
		return ErrInvalidPacket
	}
	return nil
}
