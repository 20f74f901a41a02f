package stack

import (
	"encoding/binary"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/ethernet"
	"github.com/EECScat/enet/ipv6"
)

// Proto is the classification a frame resolves to at end-of-frame.
type Proto uint8

// Frame classifications. Anything the classifier does not understand
// resolves to ProtoUnknown rather than an error.
const (
	ProtoUnknown Proto = iota
	ProtoARP
	ProtoICMP
	ProtoTCP
	ProtoUDP
	ProtoIPv6
)

func (p Proto) String() string {
	switch p {
	case ProtoARP:
		return "ARP"
	case ProtoICMP:
		return "ICMP"
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	case ProtoIPv6:
		return "IPv6"
	}
	return "unknown"
}

// Verdict is the classifier's judgement of a frame, authoritative only once
// the whole frame has been written. The three validity fields [Verdict.DstMatch],
// [Verdict.IPHeaderOK] and [Verdict.TransportOK] hold vacuously when the
// corresponding check does not apply to the frame's protocol.
type Verdict struct {
	EtherType enet.EtherType
	VLAN      bool
	Proto     Proto
	IPProto   enet.IPProto

	DstHW [6]byte
	SrcHW [6]byte
	SrcIP [4]byte
	DstIP [4]byte
	// SrcPort and DstPort are valid for TCP and UDP frames only.
	SrcPort uint16
	DstPort uint16

	// IPOffset is the octet position of the IPv4 header (or ARP payload)
	// within the frame. TransportOffset is where the transport header starts
	// and PayloadEnd is where the IP total length says the packet ends,
	// excluding Ethernet padding and FCS.
	IPOffset        int
	TransportOffset int
	PayloadEnd      int

	DstMatch    bool
	IPHeaderOK  bool
	TransportOK bool
	FCSOK       bool
}

// OK reports whether all validity checks held for the frame.
func (v *Verdict) OK() bool {
	return v.DstMatch && v.IPHeaderOK && v.TransportOK && v.FCSOK
}

// headerScratch covers the largest header run the classifier must keep:
// a VLAN tagged Ethernet header, a maximal IPv4 header and the transport
// port+checksum words.
const headerScratch = ethernet.SizeHeaderVLAN + 60 + 8

// ClassifierConfig configures a [Classifier].
type ClassifierConfig struct {
	// HardwareAddr and ProtocolAddr are the host addresses destination
	// matching is evaluated against.
	HardwareAddr [6]byte
	ProtocolAddr [4]byte
	// ValidateFCS expects frames to carry their trailing 4-octet frame check
	// sequence and verifies it.
	ValidateFCS bool
}

// Classifier consumes a frame one octet at a time and resolves its protocol
// and validity at end-of-frame. It keeps only the header octets; payload
// bytes pass through the running checksums without being stored, so a frame
// of any length is classified with a fixed memory footprint.
//
// Call [Classifier.Start], feed the frame via [Classifier.WriteOctet] or
// [Classifier.Write], then read the [Verdict] from [Classifier.End].
type Classifier struct {
	ourHW       [6]byte
	ourIP       [4]byte
	validateFCS bool

	count     int
	scratch   [headerScratch]byte
	ethHdrLen int
	vlan      bool
	etherType enet.EtherType
	ipProto   enet.IPProto
	// ipHdrLen and totalLen are zero until parsed from the stream.
	ipHdrLen int
	totalLen int
	ipBad    bool
	macMatch bool
	ipMatch  bool
	tpSeeded bool

	ipCRC enet.CRC791
	tpCRC enet.CRC791
	fcs   ethernet.FCS
}

// Reset discards all classifier state and applies cfg.
func (c *Classifier) Reset(cfg ClassifierConfig) error {
	if cfg.HardwareAddr == ([6]byte{}) || cfg.ProtocolAddr == ([4]byte{}) {
		return enet.ErrInvalidConfig
	}
	*c = Classifier{
		ourHW:       cfg.HardwareAddr,
		ourIP:       cfg.ProtocolAddr,
		validateFCS: cfg.ValidateFCS,
	}
	return nil
}

// Start readies the classifier for a new frame.
func (c *Classifier) Start() {
	c.count = 0
	c.ethHdrLen = 0
	c.vlan = false
	c.etherType = 0
	c.ipProto = 0
	c.ipHdrLen = 0
	c.totalLen = 0
	c.ipBad = false
	c.macMatch = false
	c.ipMatch = false
	c.tpSeeded = false
	c.ipCRC.Reset()
	c.tpCRC.Reset()
	c.fcs.Reset()
}

// Write feeds a run of frame octets through the classifier.
func (c *Classifier) Write(p []byte) (int, error) {
	for _, b := range p {
		c.WriteOctet(b)
	}
	return len(p), nil
}

// WriteOctet feeds the next frame octet through the classifier.
func (c *Classifier) WriteOctet(b byte) {
	i := c.count
	c.count++
	if c.validateFCS {
		c.fcs.WriteByte(b)
	}
	if i < len(c.scratch) {
		c.scratch[i] = b
	}
	switch {
	case i == 5:
		c.macMatch = [6]byte(c.scratch[0:6]) == c.ourHW ||
			[6]byte(c.scratch[0:6]) == ethernet.BroadcastAddr()
	case i == 13:
		et := enet.EtherType(binary.BigEndian.Uint16(c.scratch[12:14]))
		if et == enet.EtherTypeVLAN {
			c.vlan = true
		} else {
			c.etherType = et
			c.ethHdrLen = ethernet.SizeHeader
		}
	case i == 17 && c.vlan && c.ethHdrLen == 0:
		c.etherType = enet.EtherType(binary.BigEndian.Uint16(c.scratch[16:18]))
		c.ethHdrLen = ethernet.SizeHeaderVLAN
	}
	if c.ethHdrLen == 0 || c.etherType != enet.EtherTypeIPv4 {
		return
	}
	rel := i - c.ethHdrLen
	if rel < 0 {
		return
	}
	switch rel {
	case 0:
		version := b >> 4
		ihl := b & 0xf
		if version != 4 || ihl < 5 {
			c.ipBad = true
			return
		}
		c.ipHdrLen = 4 * int(ihl)
	case 3:
		c.totalLen = int(binary.BigEndian.Uint16(c.scratch[c.ethHdrLen+2 : c.ethHdrLen+4]))
		if c.totalLen < c.ipHdrLen {
			c.ipBad = true
		}
	case 9:
		c.ipProto = enet.IPProto(b)
	case 19:
		c.ipMatch = [4]byte(c.scratch[c.ethHdrLen+16:c.ethHdrLen+20]) == c.ourIP
	}
	if c.ipBad || c.ipHdrLen == 0 {
		return
	}
	if rel < c.ipHdrLen {
		c.ipCRC.WriteByte(b)
		return
	}
	// Transport region. Octets past the IP total length are Ethernet padding
	// or the FCS and stay out of the transport checksum.
	if c.totalLen == 0 || rel >= c.totalLen {
		return
	}
	if !c.tpSeeded {
		c.tpSeeded = true
		c.seedTransportCRC()
	}
	c.tpCRC.WriteByte(b)
}

// seedTransportCRC primes the transport checksum with the pseudo-header for
// protocols that include one. Runs just before the first transport octet, by
// which point the addresses, protocol and lengths have all been parsed.
func (c *Classifier) seedTransportCRC() {
	if c.ipProto != enet.IPProtoTCP && c.ipProto != enet.IPProtoUDP {
		return
	}
	c.tpCRC.AddAddr(c.scratch[c.ethHdrLen+12 : c.ethHdrLen+16])
	c.tpCRC.AddAddr(c.scratch[c.ethHdrLen+16 : c.ethHdrLen+20])
	c.tpCRC.AddUint16(uint16(c.ipProto))
	c.tpCRC.AddUint16(uint16(c.totalLen - c.ipHdrLen))
}

// End resolves the frame written so far into its [Verdict].
func (c *Classifier) End() (v Verdict) {
	v.FCSOK = !c.validateFCS || c.fcs.ResidueOK()
	received := c.count
	if c.validateFCS {
		received -= ethernet.SizeFCS
	}
	if c.ethHdrLen == 0 || received < c.ethHdrLen {
		return v // Truncated before the EtherType resolved.
	}
	copy(v.DstHW[:], c.scratch[0:6])
	copy(v.SrcHW[:], c.scratch[6:12])
	v.EtherType = c.etherType
	v.VLAN = c.vlan
	v.IPOffset = c.ethHdrLen
	v.TransportOffset = c.ethHdrLen
	v.PayloadEnd = received

	switch c.etherType {
	case enet.EtherTypeARP:
		v.Proto = ProtoARP
		v.DstMatch = c.macMatch
		v.IPHeaderOK = true
		v.TransportOK = true
		return v
	case enet.EtherTypeIPv6:
		// Classified for visibility, never delivered.
		v.Proto = ProtoIPv6
		if received >= c.ethHdrLen+40 {
			i6frm, err := ipv6.NewFrame(c.scratch[c.ethHdrLen : c.ethHdrLen+40])
			if err == nil {
				v.IPProto = i6frm.NextHeader()
			}
		}
		v.IPHeaderOK = true
		v.TransportOK = true
		return v
	case enet.EtherTypeIPv4:
	default:
		v.Proto = ProtoUnknown
		v.DstMatch = c.macMatch
		v.IPHeaderOK = true
		v.TransportOK = true
		return v
	}

	v.IPProto = c.ipProto
	headerDone := !c.ipBad && c.ipHdrLen != 0 && c.totalLen >= c.ipHdrLen &&
		received >= c.ethHdrLen+c.ipHdrLen
	v.IPHeaderOK = headerDone && c.ipCRC.Sum16() == 0
	v.DstMatch = c.macMatch && c.ipMatch
	if !headerDone {
		return v
	}
	copy(v.SrcIP[:], c.scratch[c.ethHdrLen+12:c.ethHdrLen+16])
	copy(v.DstIP[:], c.scratch[c.ethHdrLen+16:c.ethHdrLen+20])
	v.TransportOffset = c.ethHdrLen + c.ipHdrLen
	v.PayloadEnd = c.ethHdrLen + c.totalLen
	complete := received >= v.PayloadEnd

	switch c.ipProto {
	case enet.IPProtoTCP, enet.IPProtoUDP:
		if c.ipProto == enet.IPProtoTCP {
			v.Proto = ProtoTCP
		} else {
			v.Proto = ProtoUDP
		}
		if received >= v.TransportOffset+4 {
			v.SrcPort = binary.BigEndian.Uint16(c.scratch[v.TransportOffset : v.TransportOffset+2])
			v.DstPort = binary.BigEndian.Uint16(c.scratch[v.TransportOffset+2 : v.TransportOffset+4])
		}
		if c.ipProto == enet.IPProtoUDP && received >= v.TransportOffset+8 &&
			binary.BigEndian.Uint16(c.scratch[v.TransportOffset+6:v.TransportOffset+8]) == 0 {
			// Zero UDP checksum means the sender did not compute one.
			v.TransportOK = complete
			return v
		}
		v.TransportOK = complete && c.tpCRC.Sum16() == 0
	case enet.IPProtoICMP:
		v.Proto = ProtoICMP
		v.TransportOK = complete && c.tpCRC.Sum16() == 0
	default:
		v.Proto = ProtoUnknown
		v.TransportOK = true
	}
	return v
}
