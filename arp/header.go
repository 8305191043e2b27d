package arp

import (
	"net/netip"

	"github.com/kvos/netkern"
)

// Header is the decoded form of the fixed 28-byte big-endian ARP wire
// structure. DecodeHeader(h.Put(...)) == h for any header with valid
// address lengths.
type Header struct {
	HardwareType uint16
	ProtocolType netkern.EtherType
	HardwareLen  uint8
	ProtocolLen  uint8
	Operation    Operation
	SenderHW     [6]byte
	SenderProto  netip.Addr
	TargetHW     [6]byte
	TargetProto  netip.Addr
}

// NewRequest returns a broadcast-style request header asking for targetIP.
func NewRequest(senderMAC [6]byte, senderIP, targetIP netip.Addr) Header {
	return Header{
		HardwareType: HardwareTypeEthernet,
		ProtocolType: netkern.EtherTypeIPv4,
		HardwareLen:  6,
		ProtocolLen:  4,
		Operation:    OpRequest,
		SenderHW:     senderMAC,
		SenderProto:  senderIP,
		TargetProto:  targetIP, // Target MAC left zero: unknown.
	}
}

// NewReply returns a reply header answering a request from target.
func NewReply(senderMAC [6]byte, senderIP netip.Addr, targetMAC [6]byte, targetIP netip.Addr) Header {
	return Header{
		HardwareType: HardwareTypeEthernet,
		ProtocolType: netkern.EtherTypeIPv4,
		HardwareLen:  6,
		ProtocolLen:  4,
		Operation:    OpReply,
		SenderHW:     senderMAC,
		SenderProto:  senderIP,
		TargetHW:     targetMAC,
		TargetProto:  targetIP,
	}
}

// DecodeHeader parses the wire form of an ARP header. It fails with
// [ErrInvalidPacket] on buffers shorter than 28 bytes or on address lengths
// other than 6-byte hardware / 4-byte protocol.
func DecodeHeader(b []byte) (Header, error) {
	afrm, err := NewFrame(b)
	if err != nil {
		return Header{}, err
	}
	if err := afrm.ValidateSize(); err != nil {
		return Header{}, err
	}
	htype, hlen := afrm.Hardware()
	ptype, plen := afrm.Protocol()
	senderHW, senderProto := afrm.Sender4()
	targetHW, targetProto := afrm.Target4()
	return Header{
		HardwareType: htype,
		ProtocolType: ptype,
		HardwareLen:  hlen,
		ProtocolLen:  plen,
		Operation:    afrm.Operation(),
		SenderHW:     *senderHW,
		SenderProto:  netip.AddrFrom4(*senderProto),
		TargetHW:     *targetHW,
		TargetProto:  netip.AddrFrom4(*targetProto),
	}, nil
}

// Put encodes the header into its 28-byte wire form at the start of b.
// b must be at least 28 bytes long.
func (h Header) Put(b []byte) error {
	afrm, err := NewFrame(b)
	if err != nil {
		return err
	}
	afrm.SetHardware(h.HardwareType, h.HardwareLen)
	afrm.SetProtocol(h.ProtocolType, h.ProtocolLen)
	afrm.SetOperation(h.Operation)
	senderHW, senderProto := afrm.Sender4()
	targetHW, targetProto := afrm.Target4()
	*senderHW = h.SenderHW
	*senderProto = h.SenderProto.As4()
	*targetHW = h.TargetHW
	*targetProto = h.TargetProto.As4()
	return nil
}

// AppendTo appends the 28-byte wire form of the header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	var buf [sizeHeader]byte
	h.Put(buf[:])
	return append(dst, buf[:]...)
}
