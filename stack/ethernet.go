package stack

import (
	"encoding/binary"
	"errors"

	"github.com/kvos/netkern"
)

var errShortEthernet = errors.New("stack: short ethernet frame")

// newEthFrame returns an ethFrame over buf. An error is returned if the
// buffer is smaller than the 14-byte header.
func newEthFrame(buf []byte) (ethFrame, error) {
	if len(buf) < netkern.SizeHeaderEthernet {
		return ethFrame{}, errShortEthernet
	}
	return ethFrame{buf: buf}, nil
}

// ethFrame encapsulates the raw data of an Ethernet II frame without
// preamble; the first byte is the start of the destination address.
// VLAN-tagged frames are not handled; the stack drops them at dispatch.
type ethFrame struct {
	buf []byte
}

// Payload returns the data portion of the ethernet frame.
func (efrm ethFrame) Payload() []byte { return efrm.buf[netkern.SizeHeaderEthernet:] }

// DestinationHardwareAddr returns the target's MAC address.
func (efrm ethFrame) DestinationHardwareAddr() *[6]byte { return (*[6]byte)(efrm.buf[0:6]) }

// SourceHardwareAddr returns the sender's MAC address.
func (efrm ethFrame) SourceHardwareAddr() *[6]byte { return (*[6]byte)(efrm.buf[6:12]) }

// IsBroadcast returns true if the destination is ff:ff:ff:ff:ff:ff.
func (efrm ethFrame) IsBroadcast() bool {
	dst := efrm.DestinationHardwareAddr()
	return *dst == netkern.BroadcastHardwareAddr()
}

// EtherTypeOrSize returns the EtherType/Size field. Callers should check
// [netkern.EtherType.IsSize] before interpreting it as a protocol.
func (efrm ethFrame) EtherTypeOrSize() netkern.EtherType {
	return netkern.EtherType(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field.
func (efrm ethFrame) SetEtherType(v netkern.EtherType) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}
