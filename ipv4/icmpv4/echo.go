package icmpv4

import (
	"errors"
	"log/slog"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/internal"
)

var (
	errPayloadTooLarge = errors.New("icmpv4: echo payload exceeds handler buffer")
	errReplyPending    = errors.New("icmpv4: reply already pending")
	errNoReply         = errors.New("icmpv4: no reply pending")
)

// Echo replies to ICMP echo requests addressed to the host. It holds at most
// one reply at a time; requests arriving while a reply is pending are dropped
// and counted.
type Echo struct {
	log *slog.Logger
	// msg stores the full ICMP message of the pending reply, header included.
	msg     []byte
	msglen  int
	remote  [4]byte
	pending bool
	dropped uint32
}

// Reset readies the responder to serve echo requests with payloads up to
// maxPayload bytes, discarding any pending reply.
func (e *Echo) Reset(maxPayload int) {
	if cap(e.msg) < SizeHeader+maxPayload {
		e.msg = make([]byte, SizeHeader+maxPayload)
	}
	e.msg = e.msg[:SizeHeader+maxPayload]
	e.msglen = 0
	e.pending = false
	e.dropped = 0
}

func (e *Echo) SetLogger(log *slog.Logger) { e.log = log }

// Dropped returns the count of echo requests discarded since Reset.
func (e *Echo) Dropped() uint32 { return e.dropped }

// ReplyPending reports whether Encapsulate has a reply to send.
func (e *Echo) ReplyPending() bool { return e.pending }

// Demux ingests a checksum-verified ICMP message received from src.
// Non-echo-request messages are ignored without error.
func (e *Echo) Demux(icmpMsg []byte, src [4]byte) error {
	frm, err := NewFrame(icmpMsg)
	if err != nil {
		return err
	}
	if frm.Type() != TypeEcho || frm.Code() != 0 {
		return nil
	}
	if e.pending {
		e.dropped++
		return errReplyPending
	}
	if len(icmpMsg) > len(e.msg) {
		e.dropped++
		return errPayloadTooLarge
	}
	e.msglen = copy(e.msg, icmpMsg)
	e.remote = src
	e.pending = true
	internal.LogAttrs(e.log, slog.LevelDebug, "icmp:echo-rx",
		internal.SlogAddr4("src", src), slog.Int("plen", e.msglen-SizeHeader))
	return nil
}

// Encapsulate writes the pending echo reply into dst and returns the number of
// bytes written along with the IPv4 destination of the reply.
func (e *Echo) Encapsulate(dst []byte) (int, [4]byte, error) {
	if !e.pending {
		return 0, [4]byte{}, errNoReply
	}
	if len(dst) < e.msglen {
		return 0, [4]byte{}, errors.New("icmpv4: short reply buffer")
	}
	n := copy(dst, e.msg[:e.msglen])
	frm, _ := NewFrame(dst[:n])
	reqCRC := frm.CRC()
	frm.SetType(TypeEchoReply)
	// Only the type/code word changes between request and reply so the
	// checksum is adjusted incrementally rather than recomputed.
	frm.SetCRC(enet.ChecksumDelta(reqCRC, uint16(TypeEcho)<<8, 0))
	remote := e.remote
	e.pending = false
	internal.LogAttrs(e.log, slog.LevelDebug, "icmp:echo-tx",
		internal.SlogAddr4("dst", remote), slog.Int("plen", n-SizeHeader))
	return n, remote, nil
}
