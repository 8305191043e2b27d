package ipv4

import "errors"

const (
	sizeHeader = 20

	// MaxReassemblyEntries bounds the number of datagrams being reassembled
	// concurrently before oldest-by-insertion eviction kicks in.
	MaxReassemblyEntries = 1024
)

var (
	errShort      = errors.New("ipv4: short buffer")
	errBadIHL     = errors.New("ipv4: bad IHL")
	errBadVersion = errors.New("ipv4: bad version")

	// ErrPacketTooSmall is returned when the MTU leaves no room for payload.
	ErrPacketTooSmall = errors.New("ipv4: packet too small")
	// ErrFragmentationNeeded is returned when a packet exceeds the MTU but
	// carries the Don't Fragment flag.
	ErrFragmentationNeeded = errors.New("ipv4: fragmentation needed but DF set")
	// ErrOverlap is returned when a fragment's byte range intersects one
	// already stored for the same datagram.
	ErrOverlap = errors.New("ipv4: overlapping fragment")
	// ErrIncompleteDatagram is returned when reassembly is attempted on an
	// entry with gaps or no final fragment.
	ErrIncompleteDatagram = errors.New("ipv4: incomplete datagram")
	// ErrInvalidFragment is returned when a fragment's range exceeds the
	// computed datagram bound.
	ErrInvalidFragment = errors.New("ipv4: invalid fragment")
)

// Flags holds the fragmentation field data of an IPv4 header: 3 flag bits
// followed by the 13-bit fragment offset in 8-byte units. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Flags uint16

const (
	// FlagDontFragment specifies the datagram must not be fragmented. If
	// set and fragmentation is required to route the packet, the packet is
	// dropped and an error surfaced to the sender.
	FlagDontFragment Flags = 0x4000
	// FlagMoreFragments is set on all fragments except the last. The last
	// fragment of a fragmented datagram has a non-zero offset instead.
	FlagMoreFragments Flags = 0x2000
	// FlagOffsetMask selects the 13-bit fragment offset.
	FlagOffsetMask Flags = 0x1fff
)

// NewFlags builds a Flags value from an 8-byte-unit fragment offset and the
// DF/MF bits. Panics if fragOffset exceeds 13 bits.
func NewFlags(fragOffset uint16, dontFrag, moreFrag bool) Flags {
	if Flags(fragOffset) > FlagOffsetMask {
		panic("ipv4: fragment offset overflows 13 bits")
	}
	f := Flags(fragOffset)
	if dontFrag {
		f |= FlagDontFragment
	}
	if moreFrag {
		f |= FlagMoreFragments
	}
	return f
}

// DontFragment returns the DF bit.
func (f Flags) DontFragment() bool { return f&FlagDontFragment != 0 }

// MoreFragments returns the MF bit.
func (f Flags) MoreFragments() bool { return f&FlagMoreFragments != 0 }

// FragmentOffset returns the fragment offset in 8-byte units.
func (f Flags) FragmentOffset() uint16 { return uint16(f & FlagOffsetMask) }

// ToS represents the Traffic Class (a.k.a Type of Service). 6 MSB are
// Differentiated Services; 2 LSB are Explicit Congestion Notification.
type ToS uint8

// DS returns the Differentiated Services field used to classify packets.
func (tos ToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN returns the Explicit Congestion Notification bits.
func (tos ToS) ECN() uint8 { return uint8(tos & 0b11) }
