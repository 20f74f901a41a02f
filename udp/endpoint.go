package udp

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/internal"
	"github.com/EECScat/enet/ipv4"
)

var (
	errBadPort      = errors.New("udp: datagram for other port")
	errZeroPort     = errors.New("udp: zero port")
	errBadCRC       = errors.New("udp: bad checksum")
	errRxFull       = errors.New("udp: receive buffer full, datagram dropped")
	errShortRead    = errors.New("udp: buffer too small for datagram")
	errNothingToTx  = errors.New("udp: nothing to send")
	errShortPayload = errors.New("udp: short payload buffer")
)

// rx ring record layout preceding each datagram payload.
const rxRecordHeader = 4 + 2 + 2 // source IP, source port, payload length

// Endpoint is a single-peer UDP port. Application bytes written to it are
// packed into datagrams addressed to the configured remote, closing a
// datagram when either the payload cap is reached or the write side has been
// idle for the flush interval. Received datagrams for the local port are
// queued and read back one datagram at a time.
type Endpoint struct {
	log        *slog.Logger
	localPort  uint16
	remoteIP   [4]byte
	remotePort uint16
	maxPayload int
	idleFlush  time.Duration
	now        func() time.Time
	lastWrite  time.Time
	tx         internal.Ring
	rx         internal.Ring
	dropped    uint32
}

// EndpointConfig configures an [Endpoint]. Zero sizes and durations select defaults.
type EndpointConfig struct {
	LocalPort  uint16
	RemoteAddr [4]byte
	RemotePort uint16
	// MaxPayload caps the datagram payload size. Defaults to 1472.
	MaxPayload int
	// IdleFlush is how long the write side may sit idle before buffered
	// bytes are sent as an undersized datagram. Defaults to 200µs.
	IdleFlush time.Duration
	// TxBuf and RxBuf size the elastic buffers. Default to 2048.
	TxBuf, RxBuf int
	// Clock overrides the time source, used in tests. Defaults to [time.Now].
	Clock  func() time.Time
	Logger *slog.Logger
}

// Reset discards all endpoint state and applies cfg.
func (e *Endpoint) Reset(cfg EndpointConfig) error {
	if cfg.LocalPort == 0 || cfg.RemotePort == 0 {
		return errZeroPort
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = 1472
	}
	if cfg.IdleFlush == 0 {
		cfg.IdleFlush = 200 * time.Microsecond
	}
	if cfg.TxBuf == 0 {
		cfg.TxBuf = 2048
	}
	if cfg.RxBuf == 0 {
		cfg.RxBuf = 2048
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	*e = Endpoint{
		log:        cfg.Logger,
		localPort:  cfg.LocalPort,
		remoteIP:   cfg.RemoteAddr,
		remotePort: cfg.RemotePort,
		maxPayload: cfg.MaxPayload,
		idleFlush:  cfg.IdleFlush,
		now:        cfg.Clock,
		tx:         e.tx,
		rx:         e.rx,
	}
	if e.tx.Size() < cfg.TxBuf {
		e.tx.Buf = make([]byte, cfg.TxBuf)
	}
	if e.rx.Size() < cfg.RxBuf {
		e.rx.Buf = make([]byte, cfg.RxBuf)
	}
	e.tx.Reset()
	e.rx.Reset()
	return nil
}

// LocalPort returns the port the endpoint answers on.
func (e *Endpoint) LocalPort() uint16 { return e.localPort }

// Remote returns the configured peer address.
func (e *Endpoint) Remote() ([4]byte, uint16) { return e.remoteIP, e.remotePort }

// Dropped returns datagrams discarded since Reset.
func (e *Endpoint) Dropped() uint32 { return e.dropped }

// Write buffers application bytes for transmission. A short write occurs when
// the transmit buffer fills.
func (e *Endpoint) Write(b []byte) (int, error) {
	n, err := e.tx.Write(b)
	if n > 0 {
		e.lastWrite = e.now()
	}
	return n, err
}

// BufferedTx returns bytes awaiting transmission.
func (e *Endpoint) BufferedTx() int { return e.tx.Buffered() }

// PendingTx reports whether a datagram should be put on the wire now, either
// because a full payload is buffered or the idle flush interval expired with
// bytes outstanding.
func (e *Endpoint) PendingTx() bool {
	buffered := e.tx.Buffered()
	if buffered == 0 {
		return false
	}
	return buffered >= e.maxPayload || e.now().Sub(e.lastWrite) >= e.idleFlush
}

// AbortTx discards buffered transmit bytes, counting the loss. Used when the
// peer's hardware address cannot be resolved.
func (e *Endpoint) AbortTx() {
	if e.tx.Buffered() > 0 {
		e.dropped++
		internal.LogAttrs(e.log, slog.LevelWarn, "udp:tx-abort", slog.Int("lost", e.tx.Buffered()))
	}
	e.tx.Reset()
}

// Demux ingests a received IPv4 packet holding a UDP datagram at udpOff.
// The datagram payload and source are queued for [Endpoint.ReadDatagram].
func (e *Endpoint) Demux(pkt []byte, udpOff int) error {
	ifrm, err := ipv4.NewFrame(pkt)
	if err != nil {
		return err
	}
	ufrm, err := NewFrame(pkt[udpOff:])
	if err != nil {
		return err
	}
	var vld enet.Validator
	ufrm.ValidateSize(&vld)
	if vld.HasError() {
		return vld.ErrPop()
	}
	if ufrm.DestinationPort() != e.localPort {
		return errBadPort
	}
	// Stage the record before the checksum verdict. An invalid datagram is
	// rolled back and its bytes never become readable.
	payload := ufrm.Payload()
	if e.rx.Free() < rxRecordHeader+len(payload) {
		e.dropped++
		return errRxFull
	}
	var hdr [rxRecordHeader]byte
	copy(hdr[0:4], ifrm.SourceAddr()[:])
	binary.BigEndian.PutUint16(hdr[4:6], ufrm.SourcePort())
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(payload)))
	e.rx.WriteSpeculative(hdr[:])
	e.rx.WriteSpeculative(payload)
	if crc := ufrm.CRC(); crc != 0 && ufrm.CalculateIPv4CRC(ifrm) != crc {
		e.rx.Rollback()
		return errBadCRC
	}
	e.rx.Commit()
	internal.LogAttrs(e.log, internal.LevelTrace, "udp:rx",
		slog.Int("plen", len(payload)), slog.Uint64("srcport", uint64(ufrm.SourcePort())))
	return nil
}

// ReadDatagram pops the oldest received datagram into b and reports its
// source. io.EOF signals an empty receive queue.
func (e *Endpoint) ReadDatagram(b []byte) (n int, src [4]byte, srcPort uint16, err error) {
	var hdr [rxRecordHeader]byte
	if e.rx.Buffered() == 0 {
		return 0, src, 0, io.EOF
	}
	e.rx.Read(hdr[:])
	copy(src[:], hdr[0:4])
	srcPort = binary.BigEndian.Uint16(hdr[4:6])
	plen := int(binary.BigEndian.Uint16(hdr[6:8]))
	if len(b) < plen {
		e.rx.ReadDiscard(plen)
		return 0, src, srcPort, errShortRead
	}
	n, _ = e.rx.Read(b[:plen])
	return n, src, srcPort, nil
}

// Encapsulate writes one datagram into pkt at udpOff. The caller must have
// populated the IPv4 source and destination addresses beforehand for checksum
// purposes. Returns the total UDP bytes written.
func (e *Endpoint) Encapsulate(pkt []byte, udpOff int) (int, error) {
	buffered := e.tx.Buffered()
	if buffered == 0 {
		return 0, errNothingToTx
	}
	plen := buffered
	if plen > e.maxPayload {
		plen = e.maxPayload
	}
	b := pkt[udpOff:]
	if len(b) < sizeHeader+plen {
		return 0, errShortPayload
	}
	ufrm, _ := NewFrame(b)
	ufrm.ClearHeader()
	ufrm.SetSourcePort(e.localPort)
	ufrm.SetDestinationPort(e.remotePort)
	ufrm.SetLength(uint16(sizeHeader + plen))
	e.tx.Read(b[sizeHeader : sizeHeader+plen])
	ifrm, err := ipv4.NewFrame(pkt)
	if err != nil {
		return 0, err
	}
	ufrm.SetCRC(ufrm.CalculateIPv4CRC(ifrm))
	internal.LogAttrs(e.log, internal.LevelTrace, "udp:tx", slog.Int("plen", plen))
	return sizeHeader + plen, nil
}
