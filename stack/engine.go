package stack

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/arp"
	"github.com/EECScat/enet/ethernet"
	"github.com/EECScat/enet/internal"
	"github.com/EECScat/enet/ipv4"
	"github.com/EECScat/enet/ipv4/icmpv4"
	"github.com/EECScat/enet/tcp"
	"github.com/EECScat/enet/udp"
)

const sizeIPv4Header = 20

// Config configures an [Engine]. Zero values select defaults where noted.
type Config struct {
	// HardwareAddr and Addr identify the host on the link. Both are required.
	HardwareAddr [6]byte
	Addr         [4]byte
	// Netmask and Gateway route off-subnet traffic. A zero gateway limits the
	// engine to on-link peers.
	Netmask [4]byte
	Gateway [4]byte
	// MTU bounds outgoing frames. Defaults to 1500.
	MTU int
	// ValidateFCS expects received frames to carry their trailing frame check
	// sequence and verifies it before any demultiplexing.
	ValidateFCS bool

	// TCP configures the stream server. A zero LocalPort disables TCP.
	TCP tcp.ServerConfig
	// UDP configures one endpoint per entry.
	UDP []udp.EndpointConfig

	// ARPCacheTTL and ARPResolveTimeout tune neighbor resolution. Zero
	// selects the resolver defaults.
	ARPCacheTTL       time.Duration
	ARPResolveTimeout time.Duration

	// MaxEchoSize caps the ICMP echo payload answered. Larger requests are
	// dropped silently. Defaults to the MTU minus the IP and ICMP headers.
	MaxEchoSize int

	// Clock overrides the time source, used in tests. Defaults to [time.Now].
	Clock  func() time.Time
	Logger *slog.Logger
}

// Engine ties the frame classifier to the protocol handlers behind a
// two-call surface:
//
//   - [Engine.RecvEth] pushes one received frame in,
//   - [Engine.HandleEth] pulls at most one outgoing frame out.
//
// Outgoing traffic is arbitrated with fixed priority ARP, then ICMP, then
// TCP, then UDP. A granted producer keeps the buffer for its whole frame.
type Engine struct {
	log     *slog.Logger
	cls     Classifier
	arp     arp.Handler
	icmp    icmpv4.Echo
	tcps    tcp.Server
	udps    []udp.Endpoint
	tcpOn   bool
	hw      [6]byte
	ip      [4]byte
	netmask [4]byte
	gateway [4]byte
	mtu     int
	// icmpHW remembers the requester's MAC so the echo reply needs no ARP.
	icmpHW  [6]byte
	ipID    uint16
	dropped uint32
}

// Reset discards all engine state, terminating every stream, and applies cfg.
func (e *Engine) Reset(cfg Config) error {
	if cfg.MTU == 0 {
		cfg.MTU = 1500
	}
	if cfg.MTU < 576 {
		return errors.Wrap(enet.ErrInvalidConfig, "mtu below IPv4 minimum")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxEchoSize == 0 {
		cfg.MaxEchoSize = cfg.MTU - sizeIPv4Header - icmpv4.SizeHeader
	}
	err := e.cls.Reset(ClassifierConfig{
		HardwareAddr: cfg.HardwareAddr,
		ProtocolAddr: cfg.Addr,
		ValidateFCS:  cfg.ValidateFCS,
	})
	if err != nil {
		return errors.Wrap(err, "classifier")
	}
	err = e.arp.Reset(arp.HandlerConfig{
		HardwareAddr:   cfg.HardwareAddr,
		ProtocolAddr:   cfg.Addr,
		CacheTTL:       cfg.ARPCacheTTL,
		ResolveTimeout: cfg.ARPResolveTimeout,
		Clock:          cfg.Clock,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return errors.Wrap(err, "arp")
	}
	e.icmp.Reset(cfg.MaxEchoSize)
	e.icmp.SetLogger(cfg.Logger)
	e.tcpOn = cfg.TCP.LocalPort != 0
	if e.tcpOn {
		tcpCfg := cfg.TCP
		if tcpCfg.Clock == nil {
			tcpCfg.Clock = cfg.Clock
		}
		if tcpCfg.Logger == nil {
			tcpCfg.Logger = cfg.Logger
		}
		if tcpCfg.MSS == 0 {
			tcpCfg.MSS = uint16(cfg.MTU - sizeIPv4Header - 20)
		}
		if err := e.tcps.Reset(tcpCfg); err != nil {
			return errors.Wrap(err, "tcp")
		}
	}
	if len(e.udps) != len(cfg.UDP) {
		e.udps = make([]udp.Endpoint, len(cfg.UDP))
	}
	for i := range cfg.UDP {
		udpCfg := cfg.UDP[i]
		if udpCfg.Clock == nil {
			udpCfg.Clock = cfg.Clock
		}
		if udpCfg.Logger == nil {
			udpCfg.Logger = cfg.Logger
		}
		if err := e.udps[i].Reset(udpCfg); err != nil {
			return errors.Wrapf(err, "udp endpoint %d", i)
		}
	}
	e.log = cfg.Logger
	e.hw = cfg.HardwareAddr
	e.ip = cfg.Addr
	e.netmask = cfg.Netmask
	e.gateway = cfg.Gateway
	e.mtu = cfg.MTU
	e.icmpHW = [6]byte{}
	e.ipID = 0
	e.dropped = 0
	return nil
}

// HardwareAddr returns the engine's MAC address.
func (e *Engine) HardwareAddr() [6]byte { return e.hw }

// Addr returns the engine's IPv4 address.
func (e *Engine) Addr() [4]byte { return e.ip }

// Dropped returns frames discarded by the receive path since Reset.
func (e *Engine) Dropped() uint32 { return e.dropped }

// TCP exposes the stream server for application reads and writes.
func (e *Engine) TCP() *tcp.Server { return &e.tcps }

// UDP exposes UDP endpoint i for application reads and writes.
func (e *Engine) UDP(i int) *udp.Endpoint { return &e.udps[i] }

// ARP exposes the neighbor resolver.
func (e *Engine) ARP() *arp.Handler { return &e.arp }

// RecvEth ingests one received Ethernet frame. The frame is streamed through
// the classifier and handed to the matching protocol handler only when the
// end-of-frame verdict holds; frames not addressed to the host are ignored
// without error while addressed but corrupt frames count as drops.
func (e *Engine) RecvEth(frame []byte) error {
	e.cls.Start()
	e.cls.Write(frame)
	v := e.cls.End()
	if !v.DstMatch || v.Proto == ProtoUnknown || v.Proto == ProtoIPv6 {
		internal.LogAttrs(e.log, internal.LevelTrace, "stack:rx-ignore",
			slog.String("proto", v.Proto.String()), slog.String("ethertype", v.EtherType.String()))
		return nil
	}
	if !v.FCSOK || !v.IPHeaderOK || !v.TransportOK {
		e.dropped++
		internal.LogAttrs(e.log, slog.LevelDebug, "stack:rx-drop",
			slog.String("proto", v.Proto.String()),
			slog.Bool("fcs", v.FCSOK), slog.Bool("iphdr", v.IPHeaderOK), slog.Bool("transport", v.TransportOK))
		return enet.ErrBadCRC
	}
	if v.PayloadEnd > len(frame) {
		e.dropped++
		return enet.ErrInvalidLengthField
	}
	if v.Proto != ProtoARP {
		ifrm, err := ipv4.NewFrame(frame[v.IPOffset:v.PayloadEnd])
		if err != nil {
			return err
		}
		if ifrm.Flags().IsFragment() {
			e.dropped++
			internal.LogAttrs(e.log, slog.LevelDebug, "stack:rx-fragment", internal.SlogAddr4("src", v.SrcIP))
			return enet.ErrPacketDrop
		}
	}
	switch v.Proto {
	case ProtoARP:
		return e.arp.Demux(frame[v.IPOffset:v.PayloadEnd])
	case ProtoICMP:
		err := e.icmp.Demux(frame[v.TransportOffset:v.PayloadEnd], v.SrcIP)
		if err == nil {
			e.icmpHW = v.SrcHW
		}
		return err
	case ProtoTCP:
		if !e.tcpOn {
			return nil
		}
		return e.tcps.Demux(frame[v.IPOffset:v.PayloadEnd], v.SrcHW)
	case ProtoUDP:
		for i := range e.udps {
			if e.udps[i].LocalPort() == v.DstPort {
				return e.udps[i].Demux(frame[v.IPOffset:v.PayloadEnd], v.TransportOffset-v.IPOffset)
			}
		}
		internal.LogAttrs(e.log, internal.LevelTrace, "stack:rx-noport", slog.Uint64("port", uint64(v.DstPort)))
		return nil
	}
	return nil
}

// Pending reports whether any producer has a frame ready for [Engine.HandleEth].
func (e *Engine) Pending() bool {
	if e.arp.PendingTx() || e.icmp.ReplyPending() {
		return true
	}
	if e.tcpOn && e.tcps.PendingTx() {
		return true
	}
	for i := range e.udps {
		if e.udps[i].PendingTx() {
			return true
		}
	}
	return false
}

// HandleEth writes at most one outgoing Ethernet frame into buf and returns
// its length, zero when nothing is ready. Producers are polled in fixed
// priority order: ARP, ICMP, TCP, UDP.
func (e *Engine) HandleEth(buf []byte) (int, error) {
	if len(buf) < ethernet.SizeHeader+arp.SizeFrame4 {
		return 0, enet.ErrShortBuffer
	}
	if len(buf) > e.mtu+ethernet.SizeHeader {
		buf = buf[:e.mtu+ethernet.SizeHeader]
	}
	n, dst, err := e.arp.Encapsulate(buf, ethernet.SizeHeader)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.frameEth(buf, dst, enet.EtherTypeARP)
		return ethernet.SizeHeader + n, nil
	}
	if e.icmp.ReplyPending() {
		return e.sendICMP(buf)
	}
	if e.tcpOn && e.tcps.PendingTx() {
		return e.sendTCP(buf)
	}
	for i := range e.udps {
		if e.udps[i].PendingTx() {
			return e.sendUDP(buf, &e.udps[i])
		}
	}
	return 0, nil
}

func (e *Engine) sendICMP(buf []byte) (int, error) {
	ipOff := ethernet.SizeHeader
	tpOff := ipOff + sizeIPv4Header
	n, dstIP, err := e.icmp.Encapsulate(buf[tpOff:])
	if err != nil {
		return 0, err
	}
	ifrm := e.prepIP(buf)
	ifrm.SetTotalLength(uint16(sizeIPv4Header + n))
	ifrm.SetProtocol(enet.IPProtoICMP)
	*ifrm.SourceAddr() = e.ip
	*ifrm.DestinationAddr() = dstIP
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	e.frameEth(buf, e.icmpHW, enet.EtherTypeIPv4)
	return tpOff + n, nil
}

func (e *Engine) sendTCP(buf []byte) (int, error) {
	ifrm := e.prepIP(buf)
	n, dstHW, err := e.tcps.Encapsulate(buf[ethernet.SizeHeader:], sizeIPv4Header)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	e.frameEth(buf, dstHW, enet.EtherTypeIPv4)
	return ethernet.SizeHeader + sizeIPv4Header + n, nil
}

func (e *Engine) sendUDP(buf []byte, ep *udp.Endpoint) (int, error) {
	dstIP, _ := ep.Remote()
	nextHop := dstIP
	if !e.onSubnet(dstIP) && e.gateway != ([4]byte{}) {
		nextHop = e.gateway
	}
	hw, ok := e.arp.Lookup(nextHop)
	if !ok {
		if err := e.arp.StartQuery(nextHop); err != nil {
			return 0, err
		}
		var qerr error
		hw, qerr = e.arp.QueryResult(nextHop)
		if errors.Is(qerr, arp.ErrResolveTimeout) {
			// Negative resolution result: the buffered datagram is lost and
			// the application learns of it through the returned error.
			ep.AbortTx()
			internal.LogAttrs(e.log, slog.LevelWarn, "stack:udp-unreachable", internal.SlogAddr4("dst", nextHop))
			return 0, qerr
		}
		if qerr != nil {
			// Resolution in flight; the request frame goes out on a later
			// HandleEth call via the ARP producer.
			return 0, nil
		}
	}
	ifrm := e.prepIP(buf)
	ifrm.SetProtocol(enet.IPProtoUDP)
	*ifrm.SourceAddr() = e.ip
	*ifrm.DestinationAddr() = dstIP
	n, err := ep.Encapsulate(buf[ethernet.SizeHeader:], sizeIPv4Header)
	if err != nil {
		return 0, err
	}
	ifrm.SetTotalLength(uint16(sizeIPv4Header + n))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	e.frameEth(buf, hw, enet.EtherTypeIPv4)
	return ethernet.SizeHeader + sizeIPv4Header + n, nil
}

func (e *Engine) frameEth(buf []byte, dst [6]byte, et enet.EtherType) {
	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = dst
	*efrm.SourceHardwareAddr() = e.hw
	efrm.SetEtherType(et)
}

// prepIP writes the invariant IPv4 header fields for an outgoing packet.
// Length, protocol, addresses and checksum are the caller's to fill.
func (e *Engine) prepIP(buf []byte) ipv4.Frame {
	ifrm, _ := ipv4.NewFrame(buf[ethernet.SizeHeader:])
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	e.ipID++
	ifrm.SetID(e.ipID)
	ifrm.SetFlags(ipv4.NewFlags(0, true, false))
	ifrm.SetTTL(ipv4.TTLDefault)
	return ifrm
}

func (e *Engine) onSubnet(ip [4]byte) bool {
	for i := range ip {
		if (ip[i]^e.ip[i])&e.netmask[i] != 0 {
			return false
		}
	}
	return true
}
