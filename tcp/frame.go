package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/kvos/netkern"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 20. Users should
// still call [Frame.ValidateSize] before working with payload/options of
// frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < netkern.SizeHeaderTCP {
		return Frame{}, ErrInvalidPacket
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a TCP segment and provides methods for
// manipulating, validating and retrieving fields and payload data. See
// [RFC9293].
//
// [RFC9293]: https://datatracker.ietf.org/doc/html/rfc9293
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

// SourcePort identifies the sending port of the TCP packet. Must be non-zero.
func (tfrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[0:2]) }

// SetSourcePort sets the TCP source port.
func (tfrm Frame) SetSourcePort(src uint16) { binary.BigEndian.PutUint16(tfrm.buf[0:2], src) }

// DestinationPort identifies the receiving port of the TCP packet. Must be non-zero.
func (tfrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[2:4]) }

// SetDestinationPort sets the TCP destination port.
func (tfrm Frame) SetDestinationPort(dst uint16) { binary.BigEndian.PutUint16(tfrm.buf[2:4], dst) }

// Seq returns the sequence number of the first data octet in this segment.
// If SYN is present this is the initial sequence number and the first data
// octet is ISN+1.
func (tfrm Frame) Seq() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[4:8])) }

// SetSeq sets the Seq field. See [Frame.Seq].
func (tfrm Frame) SetSeq(v Value) { binary.BigEndian.PutUint32(tfrm.buf[4:8], uint32(v)) }

// Ack is the next sequence number the sender of the segment is expecting to
// receive, valid when the ACK flag is set.
func (tfrm Frame) Ack() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[8:12])) }

// SetAck sets the Ack field. See [Frame.Ack].
func (tfrm Frame) SetAck(v Value) { binary.BigEndian.PutUint32(tfrm.buf[8:12], uint32(v)) }

// OffsetAndFlags returns the offset and flag fields of the TCP header.
// Offset is the amount of 32-bit words occupied by the TCP header including
// options.
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(tfrm.buf[12:14])
	return uint8(v >> 12), Flags(v).Mask()
}

// SetOffsetAndFlags sets the offset and flag fields of the TCP header.
func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags.Mask())
	binary.BigEndian.PutUint16(tfrm.buf[12:14], v)
}

// HeaderLength uses the Offset field to calculate the total length of the
// TCP header including options. Performs no validation.
func (tfrm Frame) HeaderLength() (lengthInBytes int) {
	offset, _ := tfrm.OffsetAndFlags()
	return 4 * int(offset)
}

// WindowSize returns the TCP window field.
func (tfrm Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(tfrm.buf[14:16]) }

// SetWindowSize sets the TCP window field.
func (tfrm Frame) SetWindowSize(v uint16) { binary.BigEndian.PutUint16(tfrm.buf[14:16], v) }

// CRC returns the checksum field in the TCP header.
func (tfrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(tfrm.buf[16:18]) }

// SetCRC sets the checksum field of the TCP header. See [Frame.CRC].
func (tfrm Frame) SetCRC(checksum uint16) { binary.BigEndian.PutUint16(tfrm.buf[16:18], checksum) }

// UrgentPtr returns the urgent pointer field.
func (tfrm Frame) UrgentPtr() uint16 { return binary.BigEndian.Uint16(tfrm.buf[18:20]) }

// SetUrgentPtr sets the urgent pointer field.
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.buf[18:20], up) }

// Payload returns the payload section of the TCP packet, not including
// options. Call [Frame.ValidateSize] beforehand to avoid a panic.
func (tfrm Frame) Payload() []byte { return tfrm.buf[tfrm.HeaderLength():] }

// Options returns the TCP option portion of the frame, possibly zero length.
// Call [Frame.ValidateSize] beforehand to avoid a panic.
func (tfrm Frame) Options() []byte { return tfrm.buf[netkern.SizeHeaderTCP:tfrm.HeaderLength()] }

// Segment returns the [Segment] representation of the TCP header and the
// given payload length.
func (tfrm Frame) Segment(payloadSize int) Segment {
	_, flags := tfrm.OffsetAndFlags()
	return Segment{
		SEQ:     tfrm.Seq(),
		ACK:     tfrm.Ack(),
		WND:     Size(tfrm.WindowSize()),
		DATALEN: Size(payloadSize),
		Flags:   flags,
	}
}

// SetSegment sets the sequence, acknowledgment, offset, window and flag
// fields of the TCP header from the [Segment]. Offset is expressed in 32-bit
// words with minimum 5.
func (tfrm Frame) SetSegment(seg Segment, offset uint8) {
	if offset >= 1<<4 {
		panic("tcp: offset too large")
	} else if seg.WND > 0xffff {
		panic("tcp: window overflow")
	}
	tfrm.SetSeq(seg.SEQ)
	tfrm.SetAck(seg.ACK)
	tfrm.SetOffsetAndFlags(offset, seg.Flags)
	tfrm.SetWindowSize(uint16(seg.WND))
}

// ClearHeader zeros out the fixed header contents.
func (tfrm Frame) ClearHeader() {
	clear(tfrm.buf[:netkern.SizeHeaderTCP])
}

// ValidateSize checks the frame's size fields against the actual buffer.
// It returns a non-nil error on finding an inconsistency.
func (tfrm Frame) ValidateSize() error {
	off := tfrm.HeaderLength()
	if off < netkern.SizeHeaderTCP || off > len(tfrm.buf) {
		return ErrInvalidPacket
	}
	return nil
}

func (tfrm Frame) String() string {
	_, flags := tfrm.OffsetAndFlags()
	return fmt.Sprintf("TCP :%d -> :%d SEQ=%d ACK=%d %s", tfrm.SourcePort(), tfrm.DestinationPort(), tfrm.Seq(), tfrm.Ack(), flags)
}
