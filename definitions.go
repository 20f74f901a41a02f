package enet

// EtherType is the Ethernet II encapsulation type field of a frame.
type EtherType uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et EtherType) IsSize() bool { return et <= 1500 }

// Ethernet types understood by the engine. Anything else classifies as unknown.
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
	EtherTypeVLAN EtherType = 0x8100
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	case EtherTypeVLAN:
		return "VLAN"
	}
	if et.IsSize() {
		return "size"
	}
	return "unknown"
}

// IPProto represents the IP protocol number.
type IPProto uint8

// IP protocol numbers the engine acts on.
const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC9293]
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (proto IPProto) String() string {
	switch proto {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	}
	return "unknown"
}

// HardwareTypeEthernet is the ARP hardware type for Ethernet links.
const HardwareTypeEthernet uint16 = 1
