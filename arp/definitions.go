package arp

import "errors"

const (
	sizeHeader = 28 // fixed IPv4-over-Ethernet ARP header.

	// HardwareTypeEthernet is the ARP hardware type for Ethernet links.
	HardwareTypeEthernet uint16 = 1
)

var (
	// ErrInvalidPacket is returned when a packet is too short to be ARP or
	// carries address lengths other than 6-byte hardware / 4-byte protocol.
	ErrInvalidPacket = errors.New("arp: invalid packet")
)

// Operation represents the type of ARP packet, either request or reply/response.
type Operation uint16

const (
	OpRequest Operation = 1 // request
	OpReply   Operation = 2 // reply
)

func (op Operation) String() string {
	switch op {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	}
	return "unknown"
}
