package packet

import "errors"

// MaxPacketSize is the largest buffer capacity accepted by [NewBuffer]:
// the Ethernet MTU plus link-layer headers.
const MaxPacketSize = 1518

var (
	// ErrInvalidSize is returned when a requested capacity or header
	// reservation exceeds what a buffer can hold.
	ErrInvalidSize = errors.New("packet: invalid size")
	// ErrPoolExhausted is returned by [Pool.Allocate] when the pool has
	// reached its maximum buffer count and holds no free buffers.
	ErrPoolExhausted = errors.New("packet: pool exhausted")
)

// Type tags the protocol a [Packet] was classified as on reception.
type Type uint8

const (
	TypeRaw Type = iota
	TypeEthernet
	TypeARP
	TypeIPv4
	TypeICMP
	TypeUDP
	TypeTCP
)

func (t Type) String() string {
	switch t {
	case TypeEthernet:
		return "ETHERNET"
	case TypeARP:
		return "ARP"
	case TypeIPv4:
		return "IPv4"
	case TypeICMP:
		return "ICMP"
	case TypeUDP:
		return "UDP"
	case TypeTCP:
		return "TCP"
	}
	return "RAW"
}
