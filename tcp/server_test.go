package tcp

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/ipv4"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var (
	testSrvIP = [4]byte{192, 168, 1, 1}
	testSrvHW = [6]byte{0xde, 0xad, 0xbe, 0xef, 0, 1}
)

const testSrvPort = 80

func newTestServer(t *testing.T, clk *fakeClock, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.LocalPort == 0 {
		cfg.LocalPort = testSrvPort
	}
	if cfg.MSS == 0 {
		cfg.MSS = 512
	}
	cfg.Clock = clk.Now
	var srv Server
	if err := srv.Reset(cfg); err != nil {
		t.Fatal(err)
	}
	return &srv
}

type testClient struct {
	tcb  ControlBlock
	hw   [6]byte
	ip   [4]byte
	port uint16
}

func newTestClient(lastOctet byte, port uint16) *testClient {
	return &testClient{
		hw:   [6]byte{2, 2, 2, 2, 2, lastOctet},
		ip:   [4]byte{192, 168, 1, lastOctet},
		port: port,
	}
}

// packet assembles a full IPv4 packet carrying seg and payload from the client.
func (tc *testClient) packet(seg Segment, payload []byte) []byte {
	pkt := make([]byte, 40+len(payload))
	ifrm, _ := ipv4.NewFrame(pkt)
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(pkt)))
	ifrm.SetTTL(64)
	ifrm.SetProtocol(enet.IPProtoTCP)
	*ifrm.SourceAddr() = tc.ip
	*ifrm.DestinationAddr() = testSrvIP
	tfrm, _ := NewFrame(pkt[20:])
	tfrm.SetSourcePort(tc.port)
	tfrm.SetDestinationPort(testSrvPort)
	tfrm.SetSegment(seg, 5)
	tfrm.SetUrgentPtr(0)
	copy(tfrm.Payload(), payload)
	tfrm.SetCRC(tfrm.CalculateIPv4CRC(ifrm))
	return pkt
}

// send runs seg through the client TCB and delivers it to the server.
func (tc *testClient) send(t *testing.T, srv *Server, seg Segment, payload []byte) {
	t.Helper()
	if err := tc.tcb.Send(seg); err != nil {
		t.Fatal("client send:", err)
	}
	if err := srv.Demux(tc.packet(seg, payload), tc.hw); err != nil {
		t.Fatal("server demux:", err)
	}
}

// poll asks the server for one outgoing segment and parses it. ok is false
// when the server had nothing to transmit.
func pollServer(t *testing.T, srv *Server) (seg Segment, payload []byte, dstHW [6]byte, ok bool) {
	t.Helper()
	pkt := make([]byte, 700)
	ifrm, _ := ipv4.NewFrame(pkt)
	ifrm.SetVersionAndIHL(4, 5)
	n, dstHW, err := srv.Encapsulate(pkt, 20)
	if err != nil {
		t.Fatal("server encapsulate:", err)
	}
	if n == 0 {
		return seg, nil, dstHW, false
	}
	tfrm, err := NewFrame(pkt[20 : 20+n])
	if err != nil {
		t.Fatal(err)
	}
	if tfrm.CRC() != tfrm.CalculateIPv4CRC(ifrm) {
		t.Fatal("server emitted bad checksum")
	}
	payload = tfrm.Payload()
	return tfrm.Segment(len(payload)), payload, dstHW, true
}

// connect performs the three way handshake for tc against srv.
func (tc *testClient) connect(t *testing.T, srv *Server, iss Value, wnd Size) {
	t.Helper()
	syn := ClientSynSegment(iss, wnd)
	tc.send(t, srv, syn, nil)
	seg, payload, dstHW, ok := pollServer(t, srv)
	if !ok || !seg.Flags.HasAll(synack) || len(payload) != 0 {
		t.Fatalf("expected SYN-ACK, got %q ok=%v", seg.Flags.String(), ok)
	}
	if dstHW != tc.hw {
		t.Fatalf("SYN-ACK destination %x, want %x", dstHW, tc.hw)
	}
	if err := tc.tcb.Recv(seg); err != nil {
		t.Fatal("client recv SYN-ACK:", err)
	}
	ack, ok := tc.tcb.PendingSegment(0)
	if !ok {
		t.Fatal("client has no handshake ACK pending")
	}
	tc.send(t, srv, ack, nil)
	if tc.tcb.State() != StateEstablished {
		t.Fatalf("client state %s", tc.tcb.State())
	}
}

func (tc *testClient) dataSegment(datalen int) Segment {
	return Segment{
		SEQ:     tc.tcb.SendNext(),
		ACK:     tc.tcb.RecvNext(),
		Flags:   pshack,
		WND:     tc.tcb.RecvWindow(),
		DATALEN: Size(datalen),
	}
}

func TestServerHandshakeAndEcho(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)
	if srv.StreamState(0) != StateEstablished {
		t.Fatalf("server state %s", srv.StreamState(0))
	}

	// Client to server data.
	msg := []byte("hello over tcp")
	tc.send(t, srv, tc.dataSegment(len(msg)), msg)
	var buf [64]byte
	n, err := srv.StreamRead(0, buf[:])
	if err != nil || !bytes.Equal(buf[:n], msg) {
		t.Fatalf("stream read %q err=%v", buf[:n], err)
	}
	seg, payload, _, ok := pollServer(t, srv)
	if !ok || len(payload) != 0 || !seg.Flags.HasAll(FlagACK) {
		t.Fatal("expected pure ACK for client data")
	}
	if err := tc.tcb.Recv(seg); err != nil {
		t.Fatal(err)
	}

	// Server to client data after the idle flush interval.
	reply := []byte("hello client")
	n, err = srv.StreamWrite(0, reply)
	if err != nil || n != len(reply) {
		t.Fatalf("stream write n=%d err=%v", n, err)
	}
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("partial segment sent before idle flush interval")
	}
	clk.Advance(time.Millisecond)
	seg, payload, _, ok = pollServer(t, srv)
	if !ok || !bytes.Equal(payload, reply) {
		t.Fatalf("server data %q ok=%v", payload, ok)
	}
	if err := tc.tcb.Recv(seg); err != nil {
		t.Fatal(err)
	}
	ack, ok := tc.tcb.PendingSegment(0)
	if !ok {
		t.Fatal("client has no ACK pending for server data")
	}
	tc.send(t, srv, ack, nil)
	if srv.conns[0].tx.InFlight() != 0 {
		t.Fatalf("unreleased bytes after ACK: %d", srv.conns[0].tx.InFlight())
	}
}

func TestServerSegmentsAtMSS(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1, MSS: 128, TxBufSize: 1024})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	if n, err := srv.StreamWrite(0, data); err != nil || n != 300 {
		t.Fatalf("write n=%d err=%v", n, err)
	}
	// Two full segments fill the initial congestion window of two segments.
	seg1, p1, _, ok := pollServer(t, srv)
	if !ok || len(p1) != 128 {
		t.Fatalf("seg1 len=%d ok=%v", len(p1), ok)
	}
	seg2, p2, _, ok := pollServer(t, srv)
	if !ok || len(p2) != 128 || seg2.SEQ != seg1.SEQ+128 {
		t.Fatalf("seg2 len=%d seq=%d ok=%v", len(p2), seg2.SEQ, ok)
	}
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("transmission beyond the congestion window")
	}
	// ACK both segments to reopen the window. The 44 byte tail is a partial
	// segment and waits out the idle flush interval.
	ack := Segment{SEQ: tc.tcb.SendNext(), ACK: seg1.SEQ + 256, Flags: FlagACK, WND: 2048}
	if err := srv.Demux(tc.packet(ack, nil), tc.hw); err != nil {
		t.Fatal(err)
	}
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("tail sent before idle flush")
	}
	clk.Advance(time.Millisecond)
	_, p3, _, ok := pollServer(t, srv)
	if !ok || len(p3) != 44 {
		t.Fatalf("tail len=%d ok=%v", len(p3), ok)
	}
	if !bytes.Equal(append(append(append([]byte{}, p1...), p2...), p3...), data) {
		t.Fatal("reassembled stream differs from written data")
	}
}

func TestServerRetransmitTimeout(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	data := []byte("needs delivery")
	srv.StreamWrite(0, data)
	clk.Advance(time.Millisecond)
	seg1, p1, _, ok := pollServer(t, srv)
	if !ok || !bytes.Equal(p1, data) {
		t.Fatal("first transmission missing")
	}
	// No ACK arrives. Nothing to send until the timeout expires.
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("spurious transmission before timeout")
	}
	clk.Advance(defaultRTO)
	if !srv.PendingTx() {
		t.Fatal("retransmission not pending after timeout")
	}
	seg2, p2, _, ok := pollServer(t, srv)
	if !ok {
		t.Fatal("no retransmission after timeout")
	}
	if seg2.SEQ != seg1.SEQ || !bytes.Equal(p2, p1) {
		t.Fatalf("retransmit seq=%d data=%q, want seq=%d data=%q", seg2.SEQ, p2, seg1.SEQ, p1)
	}
	// Timer rearmed, no immediate third copy.
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("retransmit storm")
	}
}

func TestServerDuplicateAckEndsSlowStart(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	// Advertise a window well above the initial congestion window so slow
	// start has room to keep doubling.
	tc.connect(t, srv, 700, 16384)

	data := make([]byte, 100)
	srv.StreamWrite(0, data)
	clk.Advance(time.Millisecond)
	seg, _, _, ok := pollServer(t, srv)
	if !ok {
		t.Fatal("no data segment")
	}
	ack := Segment{SEQ: tc.tcb.SendNext(), ACK: seg.SEQ + 100, Flags: FlagACK, WND: 16384}
	if err := srv.Demux(tc.packet(ack, nil), tc.hw); err != nil {
		t.Fatal(err)
	}
	if !srv.conns[0].cc.InSlowStart() {
		t.Fatal("slow start should survive a new ACK")
	}
	// The same ACK again is a duplicate: slow start ends, the send pointer
	// stays put and no retransmission is triggered.
	if err := srv.Demux(tc.packet(ack, nil), tc.hw); err != nil {
		t.Fatal(err)
	}
	if srv.conns[0].cc.InSlowStart() {
		t.Fatal("duplicate ACK did not end slow start")
	}
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("duplicate ACK triggered a transmission")
	}
}

func TestServerHandshakeTimeout(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.send(t, srv, ClientSynSegment(700, 2048), nil)
	if _, _, _, ok := pollServer(t, srv); !ok {
		t.Fatal("no SYN-ACK")
	}
	if st := srv.StreamState(0); st != StateSynRcvd {
		t.Fatalf("state %s, want SYN-RCVD", st)
	}
	// The peer vanishes after the handshake starts. The slot must not stay
	// pinned in SYN-RCVD.
	clk.Advance(time.Hour)
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("transmission from an expired stream")
	}
	if st := srv.StreamState(0); st != StateListen {
		t.Fatalf("state %s after timeout, want LISTEN", st)
	}
	// The recovered slot serves a new peer.
	tc2 := newTestClient(51, 4001)
	tc2.connect(t, srv, 900, 2048)
	if srv.StreamState(0) != StateEstablished {
		t.Fatal("slot not reusable after handshake timeout")
	}
}

func TestServerLostFinalAckTimeout(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	if err := tc.tcb.Close(); err != nil {
		t.Fatal(err)
	}
	fin, ok := tc.tcb.PendingSegment(0)
	if !ok || !fin.Flags.HasAll(FlagFIN) {
		t.Fatal("client FIN not pending")
	}
	tc.send(t, srv, fin, nil)
	if _, _, _, ok := pollServer(t, srv); !ok {
		t.Fatal("no FIN-ACK")
	}
	if st := srv.StreamState(0); st != StateLastAck {
		t.Fatalf("state %s, want LAST-ACK", st)
	}
	// The final ACK never arrives.
	clk.Advance(time.Hour)
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("transmission from an expired stream")
	}
	if st := srv.StreamState(0); st != StateListen {
		t.Fatalf("state %s after timeout, want LISTEN", st)
	}
	tc2 := newTestClient(51, 4001)
	tc2.connect(t, srv, 900, 2048)
}

func TestServerEarlyDuplicateAckEndsSlowStart(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	// Identical pure ACKs arriving before any ACK has advanced the unacked
	// pointer are still duplicates and must end slow start.
	dup := Segment{SEQ: tc.tcb.SendNext(), ACK: tc.tcb.RecvNext(), Flags: FlagACK, WND: 2048}
	if err := srv.Demux(tc.packet(dup, nil), tc.hw); err != nil {
		t.Fatal(err)
	}
	if err := srv.Demux(tc.packet(dup, nil), tc.hw); err != nil {
		t.Fatal(err)
	}
	if srv.conns[0].cc.InSlowStart() {
		t.Fatal("early duplicate ACK did not end slow start")
	}
}

func TestServerDropsOversizedLengthClaim(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	// A packet claiming far more data than the buffer holds must be dropped
	// before anything past the buffer is touched.
	pkt := tc.packet(Segment{SEQ: 1000, Flags: FlagSYN, WND: 1024}, nil)
	ifrm, _ := ipv4.NewFrame(pkt)
	ifrm.SetTotalLength(200)
	drops := srv.Dropped()
	if err := srv.Demux(pkt, tc.hw); err == nil {
		t.Fatal("truncated packet accepted")
	}
	if srv.Dropped() != drops+1 {
		t.Fatalf("dropped=%d, want %d", srv.Dropped(), drops+1)
	}
}

func TestServerOutOfOrderSegmentAcksAndReplies(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	// Server data in flight so a stray segment's ACK has something to cover.
	sent := []byte("covered")
	srv.StreamWrite(0, sent)
	clk.Advance(time.Millisecond)
	seg, _, _, ok := pollServer(t, srv)
	if !ok {
		t.Fatal("no data segment")
	}
	// In-window segment past the expected sequence: its payload is dropped,
	// its ACK applied, and the peer gets a duplicate ACK naming the gap.
	stray := Segment{
		SEQ:     tc.tcb.SendNext() + 10,
		ACK:     seg.SEQ + Value(len(sent)),
		Flags:   pshack,
		WND:     2048,
		DATALEN: 4,
	}
	if err := srv.Demux(tc.packet(stray, []byte("gapd")), tc.hw); err != nil {
		t.Fatal("out of order segment surfaced an error:", err)
	}
	if got := srv.conns[0].tx.InFlight(); got != 0 {
		t.Fatalf("in flight %d after covering ACK, want 0", got)
	}
	var buf [16]byte
	if _, err := srv.StreamRead(0, buf[:]); err != io.EOF {
		t.Fatal("out of order payload reached the stream")
	}
	reply, payload, _, ok := pollServer(t, srv)
	if !ok || len(payload) != 0 || !reply.Flags.HasAll(FlagACK) {
		t.Fatal("expected duplicate ACK for out of order segment")
	}
	if reply.ACK != tc.tcb.SendNext() {
		t.Fatalf("reply ack=%d, want %d", reply.ACK, tc.tcb.SendNext())
	}
}

func TestServerZeroWindowProbe(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1, RxBufSize: 64})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	fill := bytes.Repeat([]byte{'a'}, 64)
	tc.send(t, srv, tc.dataSegment(len(fill)), fill)
	seg, _, _, ok := pollServer(t, srv)
	if !ok || seg.WND != 0 {
		t.Fatalf("expected zero window advertisement, got wnd=%d ok=%v", seg.WND, ok)
	}
	if err := tc.tcb.Recv(seg); err != nil {
		t.Fatal(err)
	}

	// Probe with one byte into the closed window. It must be ACKed without
	// the byte entering the receive buffer.
	probe := Segment{SEQ: tc.tcb.SendNext(), ACK: tc.tcb.RecvNext(), Flags: FlagACK, DATALEN: 1, WND: 2048}
	if err := srv.Demux(tc.packet(probe, []byte{0xff}), tc.hw); err != nil {
		t.Fatal(err)
	}
	seg, payload, _, ok := pollServer(t, srv)
	if !ok || len(payload) != 0 {
		t.Fatal("expected probe ACK")
	}
	if seg.ACK != probe.SEQ {
		t.Fatalf("probe ack=%d, want %d: probe byte must not be acked", seg.ACK, probe.SEQ)
	}
	var buf [128]byte
	n, err := srv.StreamRead(0, buf[:])
	if err != nil || n != 64 || !bytes.Equal(buf[:n], fill) {
		t.Fatalf("read n=%d err=%v", n, err)
	}
}

func TestServerDropsBadChecksum(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)
	drops := srv.Dropped()

	pkt := tc.packet(tc.dataSegment(4), []byte("data"))
	tfrm, _ := NewFrame(pkt[20:])
	bad := tfrm.CRC() + 1
	if bad == 0 {
		bad++
	}
	tfrm.SetCRC(bad)
	if err := srv.Demux(pkt, tc.hw); err == nil {
		t.Fatal("corrupted segment accepted")
	}
	if srv.Dropped() != drops+1 {
		t.Fatalf("dropped=%d, want %d", srv.Dropped(), drops+1)
	}
	var buf [16]byte
	if _, err := srv.StreamRead(0, buf[:]); err != io.EOF {
		t.Fatalf("rx not empty after corrupt segment: %v", err)
	}
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("server acked a corrupt segment")
	}
}

func TestServerSpoofFilter(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	spoofHW := [6]byte{6, 6, 6, 6, 6, 6}
	pkt := tc.packet(tc.dataSegment(4), []byte("evil"))
	if err := srv.Demux(pkt, spoofHW); err == nil {
		t.Fatal("spoofed hardware address accepted")
	}
	var buf [16]byte
	if _, err := srv.StreamRead(0, buf[:]); err != io.EOF {
		t.Fatal("spoofed data reached the stream")
	}
}

func TestServerCloseReturnsToListen(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	if err := tc.tcb.Close(); err != nil {
		t.Fatal(err)
	}
	fin, ok := tc.tcb.PendingSegment(0)
	if !ok || !fin.Flags.HasAll(FlagFIN) {
		t.Fatal("client FIN not pending")
	}
	tc.send(t, srv, fin, nil)
	seg, _, _, ok := pollServer(t, srv)
	if !ok || !seg.Flags.HasAll(finack) {
		t.Fatalf("expected FIN-ACK, got %q ok=%v", seg.Flags.String(), ok)
	}
	if err := tc.tcb.Recv(seg); err != nil {
		t.Fatal(err)
	}
	last, ok := tc.tcb.PendingSegment(0)
	if !ok {
		t.Fatal("client final ACK not pending")
	}
	tc.send(t, srv, last, nil)
	if st := srv.StreamState(0); st != StateListen {
		t.Fatalf("stream state %s, want LISTEN", st)
	}

	// The released slot accepts a fresh connection.
	tc2 := newTestClient(51, 4001)
	tc2.connect(t, srv, 900, 2048)
	if srv.StreamState(0) != StateEstablished {
		t.Fatal("slot not reusable after release")
	}
}

func TestServerAbortSendsRST(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	tc.connect(t, srv, 700, 2048)

	if err := srv.AbortStream(0); err != nil {
		t.Fatal(err)
	}
	seg, _, dstHW, ok := pollServer(t, srv)
	if !ok || !seg.Flags.HasAll(FlagRST) {
		t.Fatalf("expected RST, got %q ok=%v", seg.Flags.String(), ok)
	}
	if dstHW != tc.hw {
		t.Fatal("RST destination mismatch")
	}
	if st := srv.StreamState(0); st != StateListen {
		t.Fatalf("stream state %s after abort, want LISTEN", st)
	}
}

func TestServerRoundRobinFairness(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 2})
	tcA := newTestClient(50, 4000)
	tcB := newTestClient(51, 4001)
	tcA.connect(t, srv, 700, 2048)
	tcB.connect(t, srv, 900, 2048)

	srv.StreamWrite(0, []byte("AAAA"))
	srv.StreamWrite(1, []byte("BBBB"))
	clk.Advance(time.Millisecond)

	_, p1, hw1, ok := pollServer(t, srv)
	if !ok {
		t.Fatal("no first segment")
	}
	_, p2, hw2, ok := pollServer(t, srv)
	if !ok {
		t.Fatal("no second segment")
	}
	if hw1 == hw2 {
		t.Fatal("same stream scheduled twice in a row")
	}
	got := map[[6]byte]string{hw1: string(p1), hw2: string(p2)}
	if got[tcA.hw] != "AAAA" || got[tcB.hw] != "BBBB" {
		t.Fatalf("payload routing: %v", got)
	}
	if _, _, _, ok := pollServer(t, srv); ok {
		t.Fatal("unexpected third segment")
	}
}

func TestServerRejectsUnmatchedSegments(t *testing.T) {
	clk := &fakeClock{}
	srv := newTestServer(t, clk, ServerConfig{MaxConnections: 1})
	tc := newTestClient(50, 4000)
	// Data segment with no SYN and no stream bound: dropped.
	seg := Segment{SEQ: 1000, ACK: 1, Flags: pshack, WND: 1024, DATALEN: 4}
	if err := srv.Demux(tc.packet(seg, []byte("nope")), tc.hw); err == nil {
		t.Fatal("unmatched segment accepted")
	}
	if srv.Dropped() == 0 {
		t.Fatal("drop not counted")
	}
}
