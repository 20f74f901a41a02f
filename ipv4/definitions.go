package ipv4

const (
	sizeHeader = 20
	// TTLDefault is written to outgoing datagrams.
	TTLDefault = 64
)

// ToS represents the Traffic Class (a.k.a Type of Service). It is 8 bits long. 6 MSB are Differentiated Services; 2 LSB are Explicit Congestion Notification.
type ToS uint8

// DS returns the top 6 bits of the IPv4 ToS holding the Differentiated Services field
// which is used to classify packets.
func (tos ToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN is the Explicit Congestion Notification which provides congestion control and non-congestion control traffic.
func (tos ToS) ECN() uint8 { return uint8(tos & 0b11) }

// Flags holds fragmentation field data of an IPv4 header. It is 16 bits long.
type Flags uint16

const (
	flagDontFragPos         = 14
	flagMoreFragPos         = 15
	FlagOffsetMask          = (1 << 13) - 1
	FlagDontFragment  Flags = 1 << flagDontFragPos
	FlagMoreFragments Flags = 1 << flagMoreFragPos
)

func NewFlags(fragOffset uint16, dontFrag, moreFrag bool) Flags {
	if fragOffset > FlagOffsetMask {
		panic("invalid NewFlags arg")
	}
	return Flags(fragOffset) | Flags(b2u8(dontFrag))<<flagDontFragPos | Flags(b2u8(moreFrag))<<flagMoreFragPos
}

// DontFragment specifies whether the datagram can not be fragmented.
// If the DontFragment(DF) flag is set, and fragmentation is required to route the packet, then the packet is dropped.
func (f Flags) DontFragment() bool { return f&FlagDontFragment != 0 }

// MoreFragments is cleared for unfragmented packets.
// For fragmented packets, all fragments except the last have the MF flag set.
func (f Flags) MoreFragments() bool { return f&FlagMoreFragments != 0 }

// FragmentOffset specifies the offset of a particular fragment relative to the beginning of the original unfragmented IP datagram.
func (f Flags) FragmentOffset() uint16 { return uint16(f) & FlagOffsetMask }

// IsFragment reports whether the datagram is one piece of a fragmented
// datagram. Reassembly is not performed; fragments are dropped.
func (f Flags) IsFragment() bool { return f.MoreFragments() || f.FragmentOffset() != 0 }

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
