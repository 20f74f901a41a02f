package arp

import "errors"

const (
	sizeHeader = 8
	// SizeFrame4 is the on-wire size of an Ethernet/IPv4 ARP packet.
	SizeFrame4 = sizeHeader + 6*2 + 4*2
)

var (
	errPendingFull   = errors.New("arp: pending reply queue full")
	errShortARP      = errors.New("arp: packet too short")
	errOpUnsupported = errors.New("arp: unsupported operation")
	errBadHardware   = errors.New("arp: bad hardware type or length")
	errBadProtocol   = errors.New("arp: bad protocol type or length")
	errQueryBusy     = errors.New("arp: resolution already in flight")
	errNoQuery       = errors.New("arp: no such query")
	errQueryNoReply  = errors.New("arp: no reply yet")
	// ErrResolveTimeout is returned by QueryResult when the peer never
	// answered within the configured timeout.
	ErrResolveTimeout = errors.New("arp: resolution timed out")
)

// Operation represents the type of ARP packet, either request or reply/response.
type Operation uint8

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
