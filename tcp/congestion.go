package tcp

import "time"

const (
	// rtoRTTMultiplier scales the measured round trip time into the
	// retransmission timeout.
	rtoRTTMultiplier = 16
	minRTO           = 2 * time.Millisecond
	maxRTO           = 4 * time.Second
	defaultRTO       = 200 * time.Millisecond
)

// congestionControl implements window growth by slow start only. The
// congestion window opens at two segments and doubles on every acknowledgment
// that advances the unacked pointer until it reaches the peer's advertised
// window, where growth stops for the remainder of the connection.
// A duplicate acknowledgment also ends slow start for good; there is no fast
// retransmit and no recovery phase, lost data is repaired exclusively by the
// retransmission timeout.
type congestionControl struct {
	mss       int
	cwnd      int
	slowStart bool
	dupAcks   int

	// One RTT sample in flight at a time, per Karn's algorithm samples
	// are discarded across retransmissions.
	rttSeq   Value
	rttStart time.Time
	rttValid bool
	srtt     time.Duration
	rto      time.Duration

	// Oldest unacked transmission time, zero when nothing is in flight.
	sentAt      time.Time
	retransmits int
}

func (cc *congestionControl) Reset(mss int) {
	*cc = congestionControl{
		mss:       mss,
		cwnd:      2 * mss,
		slowStart: true,
		rto:       defaultRTO,
	}
}

// Window returns the usable send window: the smaller of the congestion window
// and the peer's advertised window.
func (cc *congestionControl) Window(advertised Size) int {
	if int(advertised) < cc.cwnd {
		return int(advertised)
	}
	return cc.cwnd
}

func (cc *congestionControl) RTO() time.Duration  { return cc.rto }
func (cc *congestionControl) SRTT() time.Duration { return cc.srtt }
func (cc *congestionControl) InSlowStart() bool   { return cc.slowStart }
func (cc *congestionControl) Retransmits() int    { return cc.retransmits }

// OnSend records a data transmission. It arms the retransmission timer if idle
// and starts an RTT sample if none is outstanding.
func (cc *congestionControl) OnSend(seq Value, datalen int, now time.Time) {
	if datalen == 0 {
		return
	}
	if cc.sentAt.IsZero() {
		cc.sentAt = now
	}
	if !cc.rttValid {
		cc.rttSeq = seq + Value(datalen)
		cc.rttStart = now
		cc.rttValid = true
	}
}

// OnACK processes an acknowledgment covering data. advertised is the window
// carried by the acknowledging segment, newData reports whether the ACK
// advanced the unacked pointer, inFlight is the bytes still unacked after
// processing. Callers pass newData false only for true duplicates: pure ACKs
// of already acknowledged data on an established connection.
func (cc *congestionControl) OnACK(ack Value, advertised Size, newData bool, inFlight int, now time.Time) {
	if !newData {
		cc.dupAcks++
		cc.slowStart = false
		return
	}
	cc.dupAcks = 0
	if cc.slowStart {
		cc.cwnd *= 2
		if cc.cwnd >= int(advertised) {
			cc.cwnd = int(advertised)
			cc.slowStart = false
		}
		if cc.cwnd < cc.mss {
			// A closed or tiny peer window must not collapse the congestion
			// window below one segment, Window already honors the peer limit.
			cc.cwnd = cc.mss
		}
	}
	// Sample completes only once the timed byte range is fully acked.
	if cc.rttValid && cc.rttSeq.LessThanEq(ack) {
		cc.updateRTT(now.Sub(cc.rttStart))
		cc.rttValid = false
	}
	if inFlight == 0 {
		cc.sentAt = time.Time{}
	} else {
		// Restart the timer for the remaining in-flight data.
		cc.sentAt = now
	}
}

func (cc *congestionControl) updateRTT(sample time.Duration) {
	if sample <= 0 {
		sample = time.Microsecond
	}
	if cc.srtt == 0 {
		cc.srtt = sample
	} else {
		cc.srtt = (3*cc.srtt + sample) / 4
	}
	rto := rtoRTTMultiplier * cc.srtt
	if rto < minRTO {
		rto = minRTO
	} else if rto > maxRTO {
		rto = maxRTO
	}
	cc.rto = rto
}

// RetransmitDue reports whether the retransmission timer has expired for
// in-flight data.
func (cc *congestionControl) RetransmitDue(inFlight int, now time.Time) bool {
	return inFlight > 0 && !cc.sentAt.IsZero() && now.Sub(cc.sentAt) >= cc.rto
}

// OnRetransmit rearms the timer and discards any outstanding RTT sample so a
// retransmitted segment's ACK cannot poison the estimate.
func (cc *congestionControl) OnRetransmit(now time.Time) {
	cc.retransmits++
	cc.sentAt = now
	cc.rttValid = false
}
