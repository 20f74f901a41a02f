package tcp

import (
	"testing"
	"time"
)

func TestCongestionSlowStartDoubling(t *testing.T) {
	var cc congestionControl
	cc.Reset(100)
	if !cc.InSlowStart() {
		t.Fatal("expected slow start after reset")
	}
	if got := cc.Window(1 << 15); got != 200 {
		t.Fatalf("initial window %d, want 200", got)
	}
	now := time.Now()
	ack := Value(1000)
	for i, want := range []int{400, 800, 1600} {
		ack += 100
		cc.OnACK(ack, 1<<15, true, 0, now)
		if got := cc.Window(1 << 15); got != want {
			t.Fatalf("ack %d: window %d, want %d", i, got, want)
		}
	}
	// The advertised window caps the usable window.
	if got := cc.Window(500); got != 500 {
		t.Fatalf("capped window %d, want 500", got)
	}
}

func TestCongestionGrowthStopsAtAdvertised(t *testing.T) {
	var cc congestionControl
	cc.Reset(512)
	now := time.Now()
	const advertised = 65535
	ack := Value(1)
	// A long run of window-advancing ACKs must leave the window parked at
	// the peer's advertisement, never shrink it or wrap it negative.
	for i := 0; i < 64; i++ {
		ack += 512
		cc.OnACK(ack, advertised, true, 0, now)
		if got := cc.Window(advertised); got <= 0 {
			t.Fatalf("ack %d: window %d, want positive", i, got)
		}
	}
	if got := cc.Window(advertised); got != advertised {
		t.Fatalf("window %d, want %d", got, advertised)
	}
	if cc.InSlowStart() {
		t.Fatal("slow start must end at the advertised window")
	}
	// Further new ACKs keep the window where it is.
	ack += 512
	cc.OnACK(ack, advertised, true, 0, now)
	if got := cc.Window(advertised); got != advertised {
		t.Fatalf("window moved after slow start ended: %d", got)
	}
}

func TestCongestionDupAckEndsSlowStart(t *testing.T) {
	var cc congestionControl
	cc.Reset(100)
	now := time.Now()
	cc.OnACK(500, 1<<15, true, 0, now)
	if got := cc.Window(1 << 15); got != 400 {
		t.Fatalf("window %d, want 400", got)
	}
	// Same ACK value again: duplicate, growth stops permanently.
	cc.OnACK(500, 1<<15, false, 100, now)
	if cc.InSlowStart() {
		t.Fatal("slow start should end on duplicate ack")
	}
	cc.OnACK(600, 1<<15, true, 0, now)
	if got := cc.Window(1 << 15); got != 400 {
		t.Fatalf("window grew after slow start ended: %d", got)
	}
}

func TestCongestionRTOFromRTT(t *testing.T) {
	var cc congestionControl
	cc.Reset(100)
	if cc.RTO() != defaultRTO {
		t.Fatalf("initial rto %v", cc.RTO())
	}
	start := time.Now()
	cc.OnSend(1000, 100, start)
	cc.OnACK(1100, 1<<15, true, 0, start.Add(10*time.Millisecond))
	if cc.SRTT() != 10*time.Millisecond {
		t.Fatalf("srtt %v, want 10ms", cc.SRTT())
	}
	if cc.RTO() != 160*time.Millisecond {
		t.Fatalf("rto %v, want 16x rtt", cc.RTO())
	}
}

func TestCongestionRetransmitTimer(t *testing.T) {
	var cc congestionControl
	cc.Reset(100)
	start := time.Now()
	cc.OnSend(1000, 100, start)
	if cc.RetransmitDue(100, start.Add(cc.RTO()-time.Millisecond)) {
		t.Fatal("retransmit before timeout")
	}
	if !cc.RetransmitDue(100, start.Add(cc.RTO())) {
		t.Fatal("retransmit expected at timeout")
	}
	cc.OnRetransmit(start.Add(cc.RTO()))
	if cc.Retransmits() != 1 {
		t.Fatalf("retransmits %d", cc.Retransmits())
	}
	if cc.RetransmitDue(100, start.Add(cc.RTO()+time.Millisecond)) {
		t.Fatal("timer not rearmed after retransmit")
	}
	// Nothing in flight means nothing to retransmit.
	if cc.RetransmitDue(0, start.Add(time.Hour)) {
		t.Fatal("retransmit with empty flight")
	}
}
