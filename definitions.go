package netkern

// EtherType is the 2-byte type field of an Ethernet frame.
type EtherType uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et EtherType) IsSize() bool { return et <= 1500 }

// Ethernet types handled by this module.
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	}
	if et.IsSize() {
		return "size"
	}
	return "unknown"
}

// IPProto represents the IP protocol number.
type IPProto uint8

// IP protocol numbers.
const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC793]
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	}
	return "proto"
}

// Wire format sizes.
const (
	SizeHeaderEthernet = 14
	SizeHeaderARPv4    = 28
	SizeHeaderIPv4     = 20
	SizeHeaderTCP      = 20
)

// BroadcastHardwareAddr returns the all 0xff's broadcast hardware/MAC address.
func BroadcastHardwareAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}
