package tcp

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/internal"
	"github.com/EECScat/enet/ipv4"
)

var (
	errStreamOutOfRange     = errors.New("stream index out of range")
	errStreamNotEstablished = errors.New("stream not established")
	errSpoofedSegment       = errors.New("segment source identity mismatch")
	errNoMatchingStream     = errors.New("no stream for segment")
)

// ServerConfig configures a [Server]. Zero values select defaults where noted.
type ServerConfig struct {
	// LocalPort is the TCP port the server listens on.
	LocalPort uint16
	// MaxConnections is the number of concurrent streams served. Defaults to 1.
	MaxConnections int
	// MSS is the maximum segment size advertised in SYN-ACKs and used as the
	// data segmentation threshold. Defaults to 1460.
	MSS uint16
	// TxBufSize and RxBufSize size each stream's buffers. Default 2048.
	TxBufSize, RxBufSize int
	// IdleFlush is how long a partially filled segment waits for more data
	// before being transmitted anyway. Defaults to 200 microseconds.
	IdleFlush time.Duration
	// StateTimeout bounds how long a stream may remain outside ESTABLISHED
	// before its slot is forcibly returned to LISTEN. It covers a peer that
	// vanishes mid-handshake as well as a teardown whose closing segments
	// are lost. Defaults to 10 seconds.
	StateTimeout time.Duration
	// ISNSecret keys initial sequence number generation.
	ISNSecret [16]byte
	// Clock overrides time.Now, mainly for tests.
	Clock  func() time.Time
	Logger *slog.Logger
}

// conn is one stream slot of a [Server]. A slot cycles LISTEN, SYN-RECEIVED,
// ESTABLISHED, teardown, and back to LISTEN; its buffers are reused across
// connections.
type conn struct {
	tcb ControlBlock
	tx  txBuffer
	rx  internal.Ring
	cc  congestionControl

	remoteHW   [6]byte
	remoteIP   [4]byte
	localIP    [4]byte
	remotePort uint16
	mss        int
	flush      time.Duration

	used      bool
	closing   bool
	finQueued bool
	lastWrite time.Time
	// stateDeadline is set while the stream is outside ESTABLISHED and zero
	// otherwise. The slot is released once it passes.
	stateDeadline time.Time
}

// Server serves a fixed number of concurrent TCP streams on a single local
// port. Each stream binds to the first SYN it accepts and afterwards only
// admits segments whose source hardware address, IP address and port all match
// that handshake, other traffic to the stream is dropped. Transmission across
// streams is scheduled round-robin so one busy peer cannot starve the rest.
type Server struct {
	log          *slog.Logger
	localPort    uint16
	mss          int
	idleFlush    time.Duration
	stateTimeout time.Duration
	now          func() time.Time
	isn          isnGenerator
	conns        []conn
	txbufs       [][]byte
	rxbufs       [][]byte
	// nextTx is the round-robin cursor for Encapsulate.
	nextTx  int
	dropped uint32
}

// Reset initializes or reinitializes the server, terminating all streams.
func (srv *Server) Reset(cfg ServerConfig) error {
	if cfg.LocalPort == 0 {
		return enet.ErrInvalidConfig
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1
	}
	if cfg.MSS == 0 {
		cfg.MSS = 1460
	}
	if cfg.TxBufSize <= 0 {
		cfg.TxBufSize = 2048
	}
	if cfg.RxBufSize <= 0 {
		cfg.RxBufSize = 2048
	}
	if cfg.IdleFlush <= 0 {
		cfg.IdleFlush = 200 * time.Microsecond
	}
	if cfg.StateTimeout <= 0 {
		cfg.StateTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	srv.log = cfg.Logger
	srv.localPort = cfg.LocalPort
	srv.mss = int(cfg.MSS)
	srv.idleFlush = cfg.IdleFlush
	srv.stateTimeout = cfg.StateTimeout
	srv.now = cfg.Clock
	srv.isn.Seed(cfg.ISNSecret, cfg.Clock())
	srv.nextTx = 0
	srv.dropped = 0
	if len(srv.conns) != cfg.MaxConnections {
		srv.conns = make([]conn, cfg.MaxConnections)
		srv.txbufs = make([][]byte, cfg.MaxConnections)
		srv.rxbufs = make([][]byte, cfg.MaxConnections)
		for i := range srv.conns {
			srv.txbufs[i] = make([]byte, cfg.TxBufSize)
			srv.rxbufs[i] = make([]byte, cfg.RxBufSize)
		}
	}
	for i := range srv.conns {
		c := &srv.conns[i]
		*c = conn{}
		c.tcb.SetLogger(srv.log)
		c.rx = internal.Ring{Buf: srv.rxbufs[i]}
		c.tx.Reset(srv.txbufs[i], 0)
	}
	return nil
}

func (srv *Server) SetLogger(log *slog.Logger) {
	srv.log = log
	for i := range srv.conns {
		srv.conns[i].tcb.SetLogger(log)
	}
}

// NumStreams returns the number of stream slots.
func (srv *Server) NumStreams() int { return len(srv.conns) }

// Dropped returns the count of segments discarded by the server, including
// spoofed and unmatched traffic.
func (srv *Server) Dropped() uint32 { return srv.dropped }

func (srv *Server) drop(reason string, err error) error {
	srv.dropped++
	internal.LogAttrs(srv.log, slog.LevelDebug, "tcpserver:drop",
		slog.String("reason", reason), slog.String("err", err.Error()))
	return err
}

// Demux processes an incoming IPv4 packet carrying a TCP segment for the
// server's port. pkt is the full IPv4 packet. srcHW is the Ethernet source
// address of the carrying frame, used for the stream's source identity check.
func (srv *Server) Demux(pkt []byte, srcHW [6]byte) error {
	ifrm, err := ipv4.NewFrame(pkt)
	if err != nil {
		return srv.drop("ip-short", err)
	}
	// The IP length fields must be proven consistent with the buffer before
	// the payload is sliced out of it.
	var vld enet.Validator
	ifrm.ValidateExceptCRC(&vld)
	if err := vld.Err(); err != nil {
		return srv.drop("ip-invalid", err)
	}
	tfrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		return srv.drop("tcp-short", err)
	}
	if tfrm.DestinationPort() != srv.localPort {
		return srv.drop("port", errNoMatchingStream)
	}
	tfrm.ValidateExceptCRC(&vld)
	if err := vld.Err(); err != nil {
		return srv.drop("validate", err)
	}
	if tfrm.CRC() != tfrm.CalculateIPv4CRC(ifrm) {
		return srv.drop("checksum", enet.ErrBadCRC)
	}

	srcIP := *ifrm.SourceAddr()
	srcPort := tfrm.SourcePort()
	payload := tfrm.Payload()
	seg := tfrm.Segment(len(payload))
	now := srv.now()
	srv.expireStreams(now)

	c := srv.findConn(srcIP, srcPort)
	if c == nil {
		if !seg.isFirstSYN() {
			return srv.drop("no-stream", errNoMatchingStream)
		}
		c = srv.freeConn()
		if c == nil {
			return srv.drop("full", errNoMatchingStream)
		}
		return srv.acceptSyn(c, tfrm, seg, srcHW, srcIP, *ifrm.DestinationAddr(), srcPort, now)
	}
	if c.remoteHW != srcHW {
		return srv.drop("spoof-hw", errSpoofedSegment)
	}

	switch {
	case c.tcb.IncomingIsKeepalive(seg):
		// Acknowledge keepalives without touching stream state.
		c.tcb.challengeAck = true
		return nil
	case c.tcb.IncomingIsWindowProbe(seg):
		// Window probes are acknowledged but their byte is never stored.
		c.tcb.challengeAck = true
		return nil
	case c.tcb.State() == StateSynRcvd && seg.Flags == FlagSYN:
		// Retransmitted SYN means our SYN-ACK was lost, queue it again.
		c.tcb.pending[0] |= synack
		return nil
	}

	// Stage the payload into the stream's receive ring. The bytes become
	// visible to StreamRead only once the segment passes the state machine,
	// a rejected segment leaves no trace.
	if len(payload) > 0 {
		n, _ := c.rx.WriteSpeculative(payload)
		if n != len(payload) {
			c.rx.Rollback()
			return srv.drop("rx-overrun", errWindowOverflow)
		}
	}

	prevUNA := c.tcb.SendUnacked()
	wasEstablished := c.tcb.State() == StateEstablished
	err = c.tcb.Recv(seg)
	if err != nil {
		c.rx.Rollback()
		if wasEstablished && err == errRequireSequential {
			// A gap in the sequence space. The payload cannot be stored, but
			// the acknowledgment it carries still covers our data and the
			// peer is told the expected sequence with a duplicate ACK.
			if seg.Flags.HasAll(FlagACK) && prevUNA.LessThan(seg.ACK) && seg.ACK.LessThanEq(c.tcb.SendNext()) {
				c.tcb.snd.UNA = seg.ACK
				released, ackErr := c.tx.RecvACK(seg.ACK)
				if ackErr == nil && released > 0 {
					c.cc.OnACK(seg.ACK, seg.WND, true, c.tx.InFlight(), now)
				}
			}
			c.tcb.challengeAck = true
			return nil
		}
		if wasEstablished && err == errDropSegment && seg.Flags.HasAll(FlagACK) && seg.ACK == prevUNA {
			// Duplicate acknowledgment. Growth stops for good, loss is left
			// to the retransmission timer.
			c.cc.OnACK(seg.ACK, seg.WND, false, c.tx.InFlight(), now)
		}
		if c.tcb.State() == StateClosed {
			srv.release(c)
		}
		if err == errDropSegment {
			return nil
		}
		return err
	}
	c.rx.Commit()
	srv.armStateTimer(c, now)

	if seg.Flags.HasAll(FlagACK) && prevUNA.LessThan(seg.ACK) {
		released, ackErr := c.tx.RecvACK(seg.ACK)
		if ackErr == nil && released > 0 {
			c.cc.OnACK(seg.ACK, seg.WND, true, c.tx.InFlight(), now)
		}
	}
	if len(payload) > 0 {
		c.tcb.SetRecvWindow(Size(c.rx.Free()))
	}
	if st := c.tcb.State(); st == StateClosed || (st == StateTimeWait && !c.tcb.HasPending()) {
		srv.release(c)
	}
	return nil
}

func (srv *Server) acceptSyn(c *conn, tfrm Frame, seg Segment, srcHW [6]byte, srcIP, dstIP [4]byte, srcPort uint16, now time.Time) error {
	mss := srv.mss
	if peerMSS, ok := tfrm.MSSOption(); ok && int(peerMSS) < mss {
		mss = int(peerMSS)
	}
	iss := srv.isn.ISN(dstIP, srv.localPort, srcIP, srcPort, now)
	if err := c.tcb.Open(iss, Size(len(c.rx.Buf))); err != nil {
		return srv.drop("open", err)
	}
	if err := c.tcb.Recv(seg); err != nil {
		return srv.drop("syn", err)
	}
	c.used = true
	c.closing = false
	c.finQueued = false
	c.remoteHW = srcHW
	c.remoteIP = srcIP
	c.localIP = dstIP
	c.remotePort = srcPort
	c.mss = mss
	c.flush = srv.idleFlush
	c.rx.Reset()
	c.tx.Reset(c.tx.ring.Buf, iss+1)
	c.cc.Reset(mss)
	c.lastWrite = now
	c.stateDeadline = now.Add(srv.stateTimeout)
	internal.LogAttrs(srv.log, slog.LevelInfo, "tcpserver:accept",
		internal.SlogAddr4("remote", srcIP), slog.Uint64("port", uint64(srcPort)))
	return nil
}

func (srv *Server) findConn(ip [4]byte, port uint16) *conn {
	for i := range srv.conns {
		c := &srv.conns[i]
		if c.used && c.remoteIP == ip && c.remotePort == port {
			return c
		}
	}
	return nil
}

func (srv *Server) freeConn() *conn {
	for i := range srv.conns {
		if !srv.conns[i].used {
			return &srv.conns[i]
		}
	}
	return nil
}

// release returns a stream slot to LISTEN, discarding all buffered data.
func (srv *Server) release(c *conn) {
	c.tcb.close()
	c.used = false
	c.closing = false
	c.finQueued = false
	c.stateDeadline = time.Time{}
	c.rx.Reset()
	c.tx.Reset(c.tx.ring.Buf, 0)
	internal.LogAttrs(srv.log, slog.LevelInfo, "tcpserver:release",
		internal.SlogAddr4("remote", c.remoteIP), slog.Uint64("port", uint64(c.remotePort)))
}

// armStateTimer bounds the stream's stay outside ESTABLISHED. The deadline is
// armed on entering the handshake or the teardown sequence and cleared once
// the connection synchronizes, so a peer that goes silent partway through
// either cannot pin the slot.
func (srv *Server) armStateTimer(c *conn, now time.Time) {
	if c.tcb.State() == StateEstablished {
		c.stateDeadline = time.Time{}
	} else if c.stateDeadline.IsZero() {
		c.stateDeadline = now.Add(srv.stateTimeout)
	}
}

// expireStreams releases every stream whose state deadline has passed.
func (srv *Server) expireStreams(now time.Time) {
	for i := range srv.conns {
		c := &srv.conns[i]
		if c.used && !c.stateDeadline.IsZero() && now.After(c.stateDeadline) {
			internal.LogAttrs(srv.log, slog.LevelWarn, "tcpserver:state-timeout",
				slog.String("state", c.tcb.State().String()),
				internal.SlogAddr4("remote", c.remoteIP))
			srv.release(c)
		}
	}
}

// PendingTx reports whether any stream has a segment ready to transmit.
func (srv *Server) PendingTx() bool {
	now := srv.now()
	srv.expireStreams(now)
	for i := range srv.conns {
		if srv.connPending(&srv.conns[i], now) {
			return true
		}
	}
	return false
}

func (srv *Server) connPending(c *conn, now time.Time) bool {
	if !c.used {
		return false
	}
	if c.tcb.HasPending() || c.tcb.challengeAck {
		return true
	}
	if c.cc.RetransmitDue(c.tx.InFlight(), now) {
		return true
	}
	if c.closing && !c.finQueued && c.tx.Buffered() == 0 {
		return true
	}
	n := c.sendableData(now)
	return n > 0
}

// sendableData returns the payload size the stream may emit right now, after
// applying the usable window and the segmentation rule: full segments go out
// immediately, partial ones only after the idle flush interval elapses.
func (c *conn) sendableData(now time.Time) int {
	if c.tcb.State() != StateEstablished && c.tcb.State() != StateCloseWait {
		return 0
	}
	n := c.tx.PendingSend()
	if n == 0 {
		return 0
	}
	usable := c.cc.Window(c.tcb.SendWindow()) - c.tx.InFlight()
	if usable <= 0 {
		return 0
	}
	if n > usable {
		n = usable
	}
	if n > c.mss {
		n = c.mss
	}
	if n < c.mss && n == c.tx.PendingSend() && !c.closing && now.Sub(c.lastWrite) < c.flush {
		return 0
	}
	return n
}

// Encapsulate writes at most one outgoing TCP segment into pkt, which must
// already hold an IPv4 header skeleton of tcpOff bytes with version and IHL
// set. The server fills in the IP addresses and total length of the scheduled
// stream along with the TCP segment. Streams are polled round-robin starting
// after the last stream that transmitted. Returns the TCP byte count written
// at pkt[tcpOff:], zero when no stream has anything to send.
func (srv *Server) Encapsulate(pkt []byte, tcpOff int) (n int, dstHW [6]byte, err error) {
	now := srv.now()
	srv.expireStreams(now)
	for i := 0; i < len(srv.conns); i++ {
		idx := (srv.nextTx + i) % len(srv.conns)
		c := &srv.conns[idx]
		if !c.used && !c.tcb.HasPending() {
			continue
		}
		n, err = srv.sendConn(c, pkt, tcpOff, now)
		if n > 0 || err != nil {
			srv.nextTx = (idx + 1) % len(srv.conns)
			dstHW = c.remoteHW
			if c.tcb.State() == StateClosed || (c.tcb.State() == StateTimeWait && !c.tcb.HasPending()) {
				srv.release(c)
			}
			return n, dstHW, err
		}
	}
	return 0, dstHW, nil
}

func (srv *Server) sendConn(c *conn, pkt []byte, tcpOff int, now time.Time) (int, error) {
	// Retransmission timeout: rewind the send pointer to the unacked head so
	// the segment assembly below resends the oldest in-flight bytes with
	// their original sequence numbers.
	if c.cc.RetransmitDue(c.tx.InFlight(), now) {
		c.tx.Rewind()
		c.tcb.snd.NXT = c.tcb.snd.UNA
		c.cc.OnRetransmit(now)
		internal.LogAttrs(srv.log, slog.LevelDebug, "tcpserver:retransmit",
			slog.Uint64("seq", uint64(c.tx.SendSeq())), slog.Int("inflight", c.tx.InFlight()))
	}
	if c.closing && !c.finQueued && c.tx.Buffered() == 0 {
		if err := c.tcb.Close(); err == nil {
			c.finQueued = true
		}
	}

	payloadLen := c.sendableData(now)
	if payloadLen == 0 && !c.tcb.HasPending() && !c.tcb.challengeAck {
		return 0, nil
	}
	seg, ok := c.tcb.PendingSegment(payloadLen)
	if !ok {
		return 0, nil
	}

	offsetWords := 5
	withMSS := seg.Flags.HasAll(synack)
	if withMSS {
		offsetWords = 6
	}
	hdrLen := 4 * offsetWords
	end := tcpOff + hdrLen + int(seg.DATALEN)
	if end > len(pkt) {
		return 0, errBufferTooSmall
	}

	if seg.DATALEN > 0 {
		got, seq, rerr := c.tx.ReadSend(pkt[tcpOff+hdrLen : end])
		if rerr != nil || got != int(seg.DATALEN) || seq != seg.SEQ {
			return 0, errDropSegment
		}
		c.cc.OnSend(seg.SEQ, got, now)
	}
	if err := c.tcb.Send(seg); err != nil {
		return 0, err
	}
	srv.armStateTimer(c, now)

	ifrm, err := ipv4.NewFrame(pkt)
	if err != nil {
		return 0, err
	}
	ifrm.SetTotalLength(uint16(end))
	ifrm.SetProtocol(enet.IPProtoTCP)
	*ifrm.SourceAddr() = c.localIP
	*ifrm.DestinationAddr() = c.remoteIP
	tfrm, err := NewFrame(pkt[tcpOff:end])
	if err != nil {
		return 0, err
	}
	tfrm.SetSourcePort(srv.localPort)
	tfrm.SetDestinationPort(c.remotePort)
	tfrm.SetSegment(seg, uint8(offsetWords))
	if withMSS {
		tfrm.SetMSSOption(uint16(c.mss))
	}
	tfrm.SetUrgentPtr(0)
	tfrm.SetCRC(tfrm.CalculateIPv4CRC(ifrm))
	return end - tcpOff, nil
}

// StreamState returns the connection state of stream i.
func (srv *Server) StreamState(i int) State {
	if i < 0 || i >= len(srv.conns) {
		return StateClosed
	}
	if !srv.conns[i].used {
		return StateListen
	}
	return srv.conns[i].tcb.State()
}

// StreamRemote returns the bound remote identity of stream i. Only valid while
// the stream is in use.
func (srv *Server) StreamRemote(i int) (hw [6]byte, ip [4]byte, port uint16) {
	if i < 0 || i >= len(srv.conns) || !srv.conns[i].used {
		return hw, ip, port
	}
	c := &srv.conns[i]
	return c.remoteHW, c.remoteIP, c.remotePort
}

// StreamWrite queues data for transmission on stream i. Returns a short count
// when the transmit buffer fills.
func (srv *Server) StreamWrite(i int, b []byte) (int, error) {
	c, err := srv.establishedConn(i)
	if err != nil {
		return 0, err
	}
	if c.closing {
		return 0, errConnectionClosing
	}
	n, err := c.tx.Write(b)
	if n > 0 {
		c.lastWrite = srv.now()
	}
	return n, err
}

// StreamRead reads received data from stream i. Returns io.EOF when no data is
// buffered and reopens the receive window for the bytes consumed.
func (srv *Server) StreamRead(i int, b []byte) (int, error) {
	if i < 0 || i >= len(srv.conns) {
		return 0, errStreamOutOfRange
	}
	c := &srv.conns[i]
	if !c.used {
		return 0, io.EOF
	}
	wasClosed := c.tcb.RecvWindow() == 0
	n, err := c.rx.Read(b)
	if n > 0 {
		c.tcb.SetRecvWindow(Size(c.rx.Free()))
		if wasClosed && c.tcb.State() == StateEstablished {
			// The window reopened, notify the peer without waiting for data.
			c.tcb.challengeAck = true
		}
	}
	return n, err
}

// CloseStream starts an orderly shutdown of stream i. Buffered transmit data
// is flushed before the closing handshake begins.
func (srv *Server) CloseStream(i int) error {
	c, err := srv.establishedConn(i)
	if err != nil {
		return err
	}
	c.closing = true
	return nil
}

// AbortStream terminates stream i immediately, discarding buffered data and
// queueing a reset for the peer.
func (srv *Server) AbortStream(i int) error {
	if i < 0 || i >= len(srv.conns) {
		return errStreamOutOfRange
	}
	c := &srv.conns[i]
	if !c.used {
		return errConnNotexist
	}
	return c.tcb.Abort()
}

func (srv *Server) establishedConn(i int) (*conn, error) {
	if i < 0 || i >= len(srv.conns) {
		return nil, errStreamOutOfRange
	}
	c := &srv.conns[i]
	if !c.used || (c.tcb.State() != StateEstablished && c.tcb.State() != StateCloseWait) {
		return nil, errStreamNotEstablished
	}
	return c, nil
}
