package tcp

import (
	"github.com/EECScat/enet/internal"
)

// txBuffer holds outgoing stream data from the moment the application writes
// it until the remote peer acknowledges it. The buffer keeps a single send
// pointer that walks forward over unsent bytes; retransmission after a timeout
// rewinds that pointer to the unacknowledged head so the same bytes go out
// again with their original sequence numbers.
//
//	|----------------|----------------|
//	ring head        head+sent        ring end
//	(seq, unacked)   (next to send)   (written, unsent)
type txBuffer struct {
	ring internal.Ring
	// seq is the sequence number of the byte at the ring's read pointer.
	seq Value
	// sent counts bytes from the ring head already handed to the network.
	sent int
}

func (tx *txBuffer) Reset(buf []byte, seq Value) {
	tx.ring = internal.Ring{Buf: buf}
	tx.seq = seq
	tx.sent = 0
}

// Write queues application data for transmission. Short writes happen when the
// buffer fills; the caller decides whether to retry later.
func (tx *txBuffer) Write(b []byte) (int, error) {
	return tx.ring.Write(b)
}

// Free returns space available for new application data.
func (tx *txBuffer) Free() int { return tx.ring.Free() }

// Buffered returns the total bytes held, acked by no one: sent-in-flight plus unsent.
func (tx *txBuffer) Buffered() int { return tx.ring.Buffered() }

// PendingSend returns the number of buffered bytes not yet transmitted.
func (tx *txBuffer) PendingSend() int { return tx.ring.Buffered() - tx.sent }

// InFlight returns the number of transmitted but unacknowledged bytes.
func (tx *txBuffer) InFlight() int { return tx.sent }

// SendSeq returns the sequence number of the next byte ReadSend will produce.
func (tx *txBuffer) SendSeq() Value { return tx.seq + Value(tx.sent) }

// UnackedSeq returns the sequence number of the oldest unacknowledged byte.
func (tx *txBuffer) UnackedSeq() Value { return tx.seq }

// ReadSend copies up to len(b) unsent bytes into b and advances the send
// pointer. The bytes remain buffered until acknowledged.
func (tx *txBuffer) ReadSend(b []byte) (n int, seq Value, err error) {
	seq = tx.SendSeq()
	n, err = tx.ring.ReadAt(b, tx.sent)
	tx.sent += n
	return n, seq, err
}

// RecvACK releases buffered bytes covered by a cumulative acknowledgment and
// returns how many were freed. Partial ACKs advance the head without touching
// the send pointer's absolute position. Old ACKs are a no-op. Acknowledgments
// reaching past the in-flight bytes cover sequence space that holds no buffer
// data, such as a FIN, and release everything in flight.
func (tx *txBuffer) RecvACK(ack Value) (released int, err error) {
	if ack.LessThanEq(tx.seq) {
		return 0, nil
	}
	released = int(Sizeof(tx.seq, ack))
	if released > tx.sent {
		released = tx.sent
	}
	if released == 0 {
		return 0, nil
	}
	if err = tx.ring.ReadDiscard(released); err != nil {
		return 0, err
	}
	tx.seq += Value(released)
	tx.sent -= released
	return released, nil
}

// Rewind moves the send pointer back to the unacknowledged head so that
// in-flight bytes are transmitted again, starting at UnackedSeq.
func (tx *txBuffer) Rewind() { tx.sent = 0 }
