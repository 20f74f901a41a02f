package tcp

func (tcb *ControlBlock) rcvListen(seg Segment) (pending Flags, err error) {
	switch {
	case !seg.isFirstSYN():
		err = errExpectedSYN
	}
	if err != nil {
		return 0, err
	}
	// Initialize all connection state:
	tcb.resetSnd(tcb.snd.ISS, seg.WND)
	tcb.resetRcv(tcb.rcv.WND, seg.SEQ)

	// We must respond with SYN|ACK frame after receiving SYN in listen state (three way handshake).
	tcb.state = StateSynRcvd
	return synack, nil
}

func (tcb *ControlBlock) rcvSynSent(seg Segment) (pending Flags, err error) {
	hasSyn := seg.Flags.HasAny(FlagSYN)
	hasAck := seg.Flags.HasAny(FlagACK)
	switch {
	case !hasSyn:
		err = errExpectedSYN

	case hasAck && seg.ACK != tcb.snd.UNA+1:
		err = errBadSegack
	}
	if err != nil {
		return 0, err
	}

	if hasAck {
		tcb.state = StateEstablished
		pending = FlagACK
		tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	} else {
		// Simultaneous connection sync edge case.
		pending = synack
		tcb.state = StateSynRcvd
		tcb.resetSnd(tcb.snd.ISS, seg.WND)
		tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	}
	return pending, nil
}

func (tcb *ControlBlock) rcvSynRcvd(seg Segment) (pending Flags, err error) {
	switch {
	case !seg.Flags.HasAny(FlagACK):
		err = errFinwaitExpectedACK
	case seg.ACK != tcb.snd.UNA+1:
		err = errBadSegack
	}
	if err != nil {
		return 0, err
	}
	tcb.state = StateEstablished
	return 0, nil
}

func (tcb *ControlBlock) rcvEstablished(seg Segment) (pending Flags, err error) {
	flags := seg.Flags
	dataToAck := seg.DATALEN > 0
	if dataToAck || flags.HasAny(FlagPSH) {
		pending = FlagACK
	}
	if flags.HasAny(FlagFIN) {
		// See Figure 5: TCP Connection State Diagram of RFC 9293.
		tcb.state = StateCloseWait
		if dataToAck {
			// Attempt to ACK data and FIN separately to give application
			// a chance at receiving data before connection close.
			tcb.pending[1] = finack
		} else {
			pending = finack
		}
	}
	return pending, nil
}

func (tcb *ControlBlock) rcvFinWait1(seg Segment) (pending Flags, err error) {
	flags := seg.Flags
	if !flags.HasAny(FlagACK) {
		return 0, errFinwaitExpectedACK
	}
	// Our FIN occupies sequence space, so its ACK covers snd.NXT.
	ackedFin := seg.ACK == tcb.snd.NXT

	switch {
	case flags.HasAny(FlagFIN) && ackedFin:
		// Peer acked our FIN and sent its own in the same segment.
		tcb.state = StateTimeWait
		pending = FlagACK
	case flags.HasAny(FlagFIN):
		// Simultaneous close. Peer FINed without acking ours, its ACK arrives in Closing.
		tcb.state = StateClosing
		pending = FlagACK
	case ackedFin:
		tcb.state = StateFinWait2
	default:
		// Data segment while waiting for our FIN to be acked.
		pending = FlagACK
	}
	return pending, nil
}

func (tcb *ControlBlock) rcvFinWait2(seg Segment) (pending Flags, err error) {
	if !seg.Flags.HasAll(finack) {
		return 0, errFinwaitExpectedFinack
	}
	tcb.state = StateTimeWait
	return FlagACK, nil
}
