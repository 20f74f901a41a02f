package stack

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/arp"
	"github.com/EECScat/enet/ethernet"
	"github.com/EECScat/enet/ipv4"
	"github.com/EECScat/enet/ipv4/icmpv4"
	"github.com/EECScat/enet/tcp"
	"github.com/EECScat/enet/udp"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const (
	testUDPLocalPort  = 1000
	testUDPRemotePort = 2000
	testTCPPort       = 80
)

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(100, 0)}
	var e Engine
	err := e.Reset(Config{
		HardwareAddr: clsHostHW,
		Addr:         clsHostIP,
		Netmask:      [4]byte{255, 255, 255, 0},
		Gateway:      [4]byte{192, 168, 1, 254},
		TCP: tcp.ServerConfig{
			LocalPort:      testTCPPort,
			MaxConnections: 1,
			MSS:            512,
		},
		UDP: []udp.EndpointConfig{{
			LocalPort:  testUDPLocalPort,
			RemoteAddr: clsPeerIP,
			RemotePort: testUDPRemotePort,
		}},
		Clock: clk.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &e, clk
}

func buildEchoRequest(payload []byte) []byte {
	msg := make([]byte, icmpv4.SizeHeader+len(payload))
	frm, _ := icmpv4.NewFrame(msg)
	frm.SetType(icmpv4.TypeEcho)
	frm.SetCode(0)
	echo := icmpv4.FrameEcho{Frame: frm}
	echo.SetIdentifier(0x1234)
	echo.SetSequenceNumber(7)
	copy(msg[icmpv4.SizeHeader:], payload)
	frm.SetCRC(frm.CalculateCRC())
	return buildIPv4(clsHostHW, clsPeerIP, clsHostIP, enet.IPProtoICMP, msg)
}

func TestEngineARPExchange(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.RecvEth(buildARPRequest(clsHostIP)); err != nil {
		t.Fatal(err)
	}
	if !e.Pending() {
		t.Fatal("reply not pending after request")
	}
	var buf [256]byte
	n, err := e.HandleEth(buf[:])
	if err != nil || n == 0 {
		t.Fatalf("HandleEth: n=%d err=%v", n, err)
	}
	efrm, _ := ethernet.NewFrame(buf[:n])
	if *efrm.DestinationHardwareAddr() != clsPeerHW {
		t.Errorf("reply sent to %v", *efrm.DestinationHardwareAddr())
	}
	if efrm.EtherTypeOrSize() != enet.EtherTypeARP {
		t.Fatalf("ethertype %v", efrm.EtherTypeOrSize())
	}
	afrm, err := arp.NewFrame(buf[ethernet.SizeHeader:n])
	if err != nil {
		t.Fatal(err)
	}
	if afrm.Operation() != arp.OpReply {
		t.Errorf("operation %v", afrm.Operation())
	}
	senderHW, senderIP := afrm.Sender4()
	if *senderHW != clsHostHW || *senderIP != clsHostIP {
		t.Errorf("reply sender %v %v", *senderHW, *senderIP)
	}
	if n2, _ := e.HandleEth(buf[:]); n2 != 0 {
		t.Error("second HandleEth produced a frame with nothing pending")
	}
}

func TestEngineICMPEcho(t *testing.T) {
	e, _ := newTestEngine(t)
	payload := []byte("ping payload")
	if err := e.RecvEth(buildEchoRequest(payload)); err != nil {
		t.Fatal(err)
	}
	var buf [256]byte
	n, err := e.HandleEth(buf[:])
	if err != nil || n == 0 {
		t.Fatalf("HandleEth: n=%d err=%v", n, err)
	}
	efrm, _ := ethernet.NewFrame(buf[:n])
	if *efrm.DestinationHardwareAddr() != clsPeerHW {
		t.Error("reply not addressed to requester MAC")
	}
	ifrm, _ := ipv4.NewFrame(buf[ethernet.SizeHeader:n])
	if ifrm.Protocol() != enet.IPProtoICMP || *ifrm.DestinationAddr() != clsPeerIP {
		t.Fatalf("bad IP header: proto=%v dst=%v", ifrm.Protocol(), *ifrm.DestinationAddr())
	}
	if crc := ifrm.CRC(); crc != ifrm.CalculateHeaderCRC() {
		t.Error("bad IP header checksum on reply")
	}
	msg := buf[ethernet.SizeHeader+sizeIPv4Header : n]
	frm, _ := icmpv4.NewFrame(msg)
	if frm.Type() != icmpv4.TypeEchoReply {
		t.Fatalf("reply type %v", frm.Type())
	}
	if got := string(msg[icmpv4.SizeHeader:]); got != string(payload) {
		t.Errorf("payload %q", got)
	}
	// The patched checksum must verify as if recomputed.
	wantCRC := frm.CRC()
	frm.SetCRC(0)
	if calc := frm.CalculateCRC(); calc != wantCRC {
		t.Errorf("incremental checksum %#04x, recomputed %#04x", wantCRC, calc)
	}
}

func TestEngineTCPHandshake(t *testing.T) {
	e, clk := newTestEngine(t)
	var ctcb tcp.ControlBlock
	seg := tcp.ClientSynSegment(700, 2048)
	if err := ctcb.Send(seg); err != nil {
		t.Fatal(err)
	}
	syn := buildTCPSegment(seg, 4444, testTCPPort, nil)
	if err := e.RecvEth(syn); err != nil {
		t.Fatal(err)
	}
	if e.TCP().StreamState(0) != tcp.StateSynRcvd {
		t.Fatalf("server state %v", e.TCP().StreamState(0))
	}
	var buf [1024]byte
	n, err := e.HandleEth(buf[:])
	if err != nil || n == 0 {
		t.Fatalf("no SYN-ACK: n=%d err=%v", n, err)
	}
	efrm, _ := ethernet.NewFrame(buf[:n])
	if *efrm.DestinationHardwareAddr() != clsPeerHW {
		t.Error("SYN-ACK not addressed to client MAC")
	}
	ifrm, _ := ipv4.NewFrame(buf[ethernet.SizeHeader:n])
	if crc := ifrm.CRC(); crc != ifrm.CalculateHeaderCRC() {
		t.Error("bad IP checksum on SYN-ACK")
	}
	tfrm, _ := tcp.NewFrame(buf[ethernet.SizeHeader+sizeIPv4Header : n])
	synack := tfrm.Segment(0)
	if !synack.Flags.HasAll(tcp.FlagSYN | tcp.FlagACK) {
		t.Fatalf("flags %v", synack.Flags)
	}
	if err := ctcb.Recv(synack); err != nil {
		t.Fatal(err)
	}
	ackSeg, ok := ctcb.PendingSegment(0)
	if !ok {
		t.Fatal("client has no ACK pending")
	}
	if err := ctcb.Send(ackSeg); err != nil {
		t.Fatal(err)
	}
	if err := e.RecvEth(buildTCPSegment(ackSeg, 4444, testTCPPort, nil)); err != nil {
		t.Fatal(err)
	}
	if e.TCP().StreamState(0) != tcp.StateEstablished {
		t.Fatalf("server state %v after handshake", e.TCP().StreamState(0))
	}

	// Echo application data through the established stream.
	data := []byte("engine stream data")
	dataSeg := tcp.Segment{
		SEQ:     ctcb.SendNext(),
		ACK:     ctcb.RecvNext(),
		Flags:   tcp.FlagPSH | tcp.FlagACK,
		WND:     2048,
		DATALEN: tcp.Size(len(data)),
	}
	if err := ctcb.Send(dataSeg); err != nil {
		t.Fatal(err)
	}
	if err := e.RecvEth(buildTCPSegment(dataSeg, 4444, testTCPPort, data)); err != nil {
		t.Fatal(err)
	}
	var rd [64]byte
	rn, err := e.TCP().StreamRead(0, rd[:])
	if err != nil {
		t.Fatal(err)
	}
	if string(rd[:rn]) != string(data) {
		t.Fatalf("read %q", rd[:rn])
	}
	if _, err := e.TCP().StreamWrite(0, data); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Millisecond) // idle flush
	n, err = e.HandleEth(buf[:])
	if err != nil || n == 0 {
		t.Fatalf("no data segment: n=%d err=%v", n, err)
	}
	tfrm, _ = tcp.NewFrame(buf[ethernet.SizeHeader+sizeIPv4Header : n])
	out := tfrm.Payload()
	if string(out) != string(data) {
		t.Fatalf("echoed %q", out)
	}
}

// buildTCPSegment frames seg and payload as the engine expects it off the
// wire, checksums included.
func buildTCPSegment(seg tcp.Segment, srcPort, dstPort uint16, payload []byte) []byte {
	sgm := make([]byte, 20+len(payload))
	tfrm, _ := tcp.NewFrame(sgm)
	tfrm.SetSourcePort(srcPort)
	tfrm.SetDestinationPort(dstPort)
	tfrm.SetSegment(seg, 5)
	tfrm.SetUrgentPtr(0)
	copy(sgm[20:], payload)
	crc := oracleTransportCRC(enet.IPProtoTCP, clsPeerIP, clsHostIP, sgm)
	tfrm.SetCRC(crc)
	return buildIPv4(clsHostHW, clsPeerIP, clsHostIP, enet.IPProtoTCP, sgm)
}

func TestEngineUDPRoundTrip(t *testing.T) {
	e, clk := newTestEngine(t)
	// Receive side.
	recv := []byte("datagram in")
	frame := buildUDPFrame(clsHostHW, clsPeerIP, clsHostIP, testUDPRemotePort, testUDPLocalPort, recv)
	if err := e.RecvEth(frame); err != nil {
		t.Fatal(err)
	}
	var db [64]byte
	n, src, srcPort, err := e.UDP(0).ReadDatagram(db[:])
	if err != nil {
		t.Fatal(err)
	}
	if string(db[:n]) != string(recv) || src != clsPeerIP || srcPort != testUDPRemotePort {
		t.Fatalf("got %q from %v:%d", db[:n], src, srcPort)
	}

	// Transmit side must resolve the peer first.
	sent := []byte("datagram out")
	if _, err := e.UDP(0).Write(sent); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Millisecond) // idle flush
	var buf [256]byte
	if n, err := e.HandleEth(buf[:]); n != 0 || err != nil {
		t.Fatalf("expected no frame while resolution starts: n=%d err=%v", n, err)
	}
	n2, err := e.HandleEth(buf[:])
	if err != nil || n2 == 0 {
		t.Fatalf("no ARP request: n=%d err=%v", n2, err)
	}
	efrm, _ := ethernet.NewFrame(buf[:n2])
	if efrm.EtherTypeOrSize() != enet.EtherTypeARP || !efrm.IsBroadcast() {
		t.Fatal("expected broadcast ARP request")
	}
	afrm, _ := arp.NewFrame(buf[ethernet.SizeHeader:n2])
	_, targetIP := afrm.Target4()
	if *targetIP != clsPeerIP {
		t.Fatalf("resolving %v", *targetIP)
	}
	// Answer the resolution.
	reply := buildARPRequest(clsHostIP)
	rfrm, _ := arp.NewFrame(reply[ethernet.SizeHeader:])
	rfrm.SetOperation(arp.OpReply)
	targetHW, tIP := rfrm.Target4()
	*targetHW = clsHostHW
	*tIP = clsHostIP
	if err := e.RecvEth(reply); err != nil {
		t.Fatal(err)
	}
	n3, err := e.HandleEth(buf[:])
	if err != nil || n3 == 0 {
		t.Fatalf("no UDP frame after resolution: n=%d err=%v", n3, err)
	}
	efrm, _ = ethernet.NewFrame(buf[:n3])
	if *efrm.DestinationHardwareAddr() != clsPeerHW {
		t.Errorf("datagram sent to %v", *efrm.DestinationHardwareAddr())
	}
	ifrm, _ := ipv4.NewFrame(buf[ethernet.SizeHeader:n3])
	if crc := ifrm.CRC(); crc != ifrm.CalculateHeaderCRC() {
		t.Error("bad IP checksum on datagram")
	}
	ufrm, _ := udp.NewFrame(buf[ethernet.SizeHeader+sizeIPv4Header : n3])
	if ufrm.DestinationPort() != testUDPRemotePort {
		t.Errorf("dst port %d", ufrm.DestinationPort())
	}
	if got := ufrm.Payload(); string(got) != string(sent) {
		t.Fatalf("payload %q", got)
	}
	if crc := ufrm.CRC(); crc != ufrm.CalculateIPv4CRC(ifrm) {
		t.Error("bad UDP checksum on datagram")
	}
}

func TestEngineUDPResolveTimeout(t *testing.T) {
	e, clk := newTestEngine(t)
	if _, err := e.UDP(0).Write([]byte("doomed")); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Millisecond)
	var buf [256]byte
	e.HandleEth(buf[:]) // starts resolution
	e.HandleEth(buf[:]) // emits the ARP request
	clk.Advance(2 * time.Second)
	n, err := e.HandleEth(buf[:])
	if !errors.Is(err, arp.ErrResolveTimeout) {
		t.Fatalf("want resolve timeout, got n=%d err=%v", n, err)
	}
	if e.UDP(0).BufferedTx() != 0 {
		t.Error("doomed datagram still buffered")
	}
	if e.UDP(0).Dropped() != 1 {
		t.Errorf("dropped %d", e.UDP(0).Dropped())
	}
}

func TestEngineDropsCorruptFrames(t *testing.T) {
	e, _ := newTestEngine(t)
	frame := buildUDPFrame(clsHostHW, clsPeerIP, clsHostIP, testUDPRemotePort, testUDPLocalPort, []byte("garbled"))
	frame[len(frame)-2] ^= 0x40
	if err := e.RecvEth(frame); !errors.Is(err, enet.ErrBadCRC) {
		t.Fatalf("want checksum error, got %v", err)
	}
	if e.Dropped() != 1 {
		t.Errorf("dropped %d", e.Dropped())
	}
	var db [64]byte
	if _, _, _, err := e.UDP(0).ReadDatagram(db[:]); err != io.EOF {
		t.Errorf("corrupt datagram became readable: %v", err)
	}
	// Frames for other hosts are ignored without error.
	other := buildUDPFrame([6]byte{1, 2, 3, 4, 5, 6}, clsPeerIP, clsHostIP, 1, testUDPLocalPort, []byte("not ours"))
	if err := e.RecvEth(other); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := e.UDP(0).ReadDatagram(db[:]); err != io.EOF {
		t.Error("foreign datagram became readable")
	}
}

func TestEngineTxPriority(t *testing.T) {
	e, clk := newTestEngine(t)
	// Queue one frame on three producers at once.
	if err := e.RecvEth(buildARPRequest(clsHostIP)); err != nil {
		t.Fatal(err)
	}
	if err := e.RecvEth(buildEchoRequest([]byte("ping"))); err != nil {
		t.Fatal(err)
	}
	udpIn := buildUDPFrame(clsHostHW, clsPeerIP, clsHostIP, testUDPRemotePort, testUDPLocalPort, []byte("in"))
	if err := e.RecvEth(udpIn); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UDP(0).Write([]byte("out")); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Millisecond)

	var buf [512]byte
	var order []enet.EtherType
	var protos []enet.IPProto
	for i := 0; i < 8; i++ {
		n, err := e.HandleEth(buf[:])
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			// UDP may be waiting on ARP resolution; feed the reply.
			reply := buildARPRequest(clsHostIP)
			rfrm, _ := arp.NewFrame(reply[ethernet.SizeHeader:])
			rfrm.SetOperation(arp.OpReply)
			if err := e.RecvEth(reply); err != nil {
				t.Fatal(err)
			}
			continue
		}
		efrm, _ := ethernet.NewFrame(buf[:n])
		et := efrm.EtherTypeOrSize()
		order = append(order, et)
		if et == enet.EtherTypeIPv4 {
			ifrm, _ := ipv4.NewFrame(buf[ethernet.SizeHeader:n])
			protos = append(protos, ifrm.Protocol())
		}
		if !e.Pending() && e.UDP(0).BufferedTx() == 0 {
			break
		}
	}
	if len(order) < 3 || order[0] != enet.EtherTypeARP {
		t.Fatalf("ARP reply must go first, order %v", order)
	}
	if len(protos) < 2 || protos[0] != enet.IPProtoICMP {
		t.Fatalf("ICMP must precede UDP, protos %v", protos)
	}
	if protos[len(protos)-1] != enet.IPProtoUDP {
		t.Fatalf("UDP datagram never sent, protos %v", protos)
	}
}
