package arp

import (
	"log/slog"
	"time"

	"github.com/EECScat/enet"
	"github.com/EECScat/enet/ethernet"
	"github.com/EECScat/enet/internal"
)

// Handler answers ARP requests for the host's IPv4 address and resolves
// remote addresses on behalf of the transport layers. It maintains a small
// aging cache of resolved neighbors and a single in-flight resolution.
type Handler struct {
	log       *slog.Logger
	ourHWAddr [6]byte
	ourIP     [4]byte
	now       func() time.Time
	cacheTTL  time.Duration
	timeout   time.Duration
	// pending holds received requests awaiting a reply on the wire, in
	// arrival order.
	pending []pendingReply
	cache   []cacheEntry
	query   query
}

type pendingReply struct {
	raw [SizeFrame4]byte
}

type cacheEntry struct {
	ip      [4]byte
	hw      [6]byte
	expires time.Time
}

type query struct {
	ip      [4]byte
	hw      [6]byte
	started time.Time
	active  bool
	sent    bool
	done    bool
}

// HandlerConfig configures a [Handler]. Zero durations select defaults.
type HandlerConfig struct {
	HardwareAddr [6]byte
	ProtocolAddr [4]byte
	// MaxPending bounds received requests awaiting reply. Defaults to 1.
	MaxPending int
	// CacheSize bounds remembered neighbors. Defaults to 4.
	CacheSize int
	// CacheTTL is how long a resolved neighbor stays valid. Defaults to 60s.
	CacheTTL time.Duration
	// ResolveTimeout is how long a resolution may remain unanswered before
	// failing. Defaults to 1s.
	ResolveTimeout time.Duration
	// Clock overrides the time source, used in tests. Defaults to [time.Now].
	Clock  func() time.Time
	Logger *slog.Logger
}

// Reset discards all handler state and applies cfg.
func (h *Handler) Reset(cfg HandlerConfig) error {
	if cfg.HardwareAddr == ([6]byte{}) || cfg.ProtocolAddr == ([4]byte{}) {
		return enet.ErrInvalidConfig
	}
	if cfg.MaxPending == 0 {
		cfg.MaxPending = 1
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 4
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.ResolveTimeout == 0 {
		cfg.ResolveTimeout = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	*h = Handler{
		log:       cfg.Logger,
		ourHWAddr: cfg.HardwareAddr,
		ourIP:     cfg.ProtocolAddr,
		now:       cfg.Clock,
		cacheTTL:  cfg.CacheTTL,
		timeout:   cfg.ResolveTimeout,
		pending:   h.pending[:0],
		cache:     h.cache[:0],
	}
	if cap(h.pending) < cfg.MaxPending {
		h.pending = make([]pendingReply, cfg.MaxPending)[:0]
	}
	if cap(h.cache) < cfg.CacheSize {
		h.cache = make([]cacheEntry, cfg.CacheSize)[:0]
	}
	return nil
}

// PendingTx reports whether Encapsulate has a packet to put on the wire,
// either a queued reply or an unsent resolution request.
func (h *Handler) PendingTx() bool {
	return len(h.pending) > 0 || (h.query.active && !h.query.sent && !h.query.done)
}

// AbortPending drops pending replies and the in-flight resolution.
func (h *Handler) AbortPending() {
	h.pending = h.pending[:0]
	h.query = query{}
}

// Lookup consults the neighbor cache. ok is false for missing or expired entries.
func (h *Handler) Lookup(ip [4]byte) (hw [6]byte, ok bool) {
	now := h.now()
	for i := range h.cache {
		if h.cache[i].ip == ip && now.Before(h.cache[i].expires) {
			return h.cache[i].hw, true
		}
	}
	return [6]byte{}, false
}

func (h *Handler) cacheStore(ip [4]byte, hw [6]byte) {
	now := h.now()
	expires := now.Add(h.cacheTTL)
	oldest := 0
	for i := range h.cache {
		if h.cache[i].ip == ip {
			h.cache[i].hw = hw
			h.cache[i].expires = expires
			return
		}
		if h.cache[i].expires.Before(h.cache[oldest].expires) {
			oldest = i
		}
	}
	if len(h.cache) < cap(h.cache) {
		h.cache = append(h.cache, cacheEntry{ip: ip, hw: hw, expires: expires})
		return
	}
	// Evict the entry closest to expiry.
	h.cache[oldest] = cacheEntry{ip: ip, hw: hw, expires: expires}
}

// StartQuery begins resolution of ip. Only one resolution may be in flight;
// a second concurrent one fails with an error. A cached neighbor completes
// immediately without wire traffic.
func (h *Handler) StartQuery(ip [4]byte) error {
	if h.query.active && !h.query.done {
		if h.query.ip == ip {
			return nil
		}
		return errQueryBusy
	}
	if hw, ok := h.Lookup(ip); ok {
		h.query = query{ip: ip, hw: hw, active: true, sent: true, done: true}
		return nil
	}
	h.query = query{ip: ip, started: h.now(), active: true}
	return nil
}

// QueryResult reports the outcome of a [Handler.StartQuery] for ip.
// It returns [ErrResolveTimeout] once the configured timeout elapses without
// a reply, clearing the slot.
func (h *Handler) QueryResult(ip [4]byte) (hw [6]byte, err error) {
	if !h.query.active || h.query.ip != ip {
		return hw, errNoQuery
	}
	if h.query.done {
		return h.query.hw, nil
	}
	if h.now().Sub(h.query.started) > h.timeout {
		h.query = query{}
		return hw, ErrResolveTimeout
	}
	return hw, errQueryNoReply
}

// Demux ingests a received ARP packet. Requests for our IP are queued for
// reply, replies complete the in-flight resolution, and in both cases the
// sender is learned into the cache.
func (h *Handler) Demux(b []byte) error {
	afrm, err := NewFrame(b)
	if err != nil {
		return err
	}
	var vld enet.Validator
	afrm.ValidateSize(&vld)
	if vld.HasError() {
		return vld.ErrPop()
	}
	htype, hlen := afrm.Hardware()
	if htype != enet.HardwareTypeEthernet || hlen != 6 {
		return errBadHardware
	}
	ptype, plen := afrm.Protocol()
	if ptype != enet.EtherTypeIPv4 || plen != 4 {
		return errBadProtocol
	}
	switch op := afrm.Operation(); op {
	case OpRequest:
		_, targetIP := afrm.Target4()
		if *targetIP != h.ourIP {
			return nil // Not for us.
		}
		if len(h.pending) == cap(h.pending) {
			return errPendingFull
		}
		senderHW, senderIP := afrm.Sender4()
		h.cacheStore(*senderIP, *senderHW)
		h.pending = h.pending[:len(h.pending)+1]
		copy(h.pending[len(h.pending)-1].raw[:], b)
		internal.LogAttrs(h.log, slog.LevelDebug, "arp:request-rx", internal.SlogAddr4("sender", *senderIP))

	case OpReply:
		senderHW, senderIP := afrm.Sender4()
		h.cacheStore(*senderIP, *senderHW)
		if h.query.active && !h.query.done && h.query.ip == *senderIP {
			h.query.hw = *senderHW
			h.query.done = true
		}
		internal.LogAttrs(h.log, slog.LevelDebug, "arp:reply-rx",
			internal.SlogAddr4("sender", *senderIP), internal.SlogHW6("hw", *senderHW))

	default:
		return errOpUnsupported
	}
	return nil
}

// Encapsulate writes at most one outgoing ARP packet into eth at frameOffset,
// queued replies before our own request. Replies leave in the order their
// requests arrived. dst receives the Ethernet destination for the packet.
// n is zero when there is nothing to send.
func (h *Handler) Encapsulate(eth []byte, frameOffset int) (n int, dst [6]byte, err error) {
	b := eth[frameOffset:]
	if len(b) < SizeFrame4 {
		return 0, dst, errShortARP
	}
	if len(h.pending) > 0 {
		afrm, _ := NewFrame(h.pending[0].raw[:])
		afrm.SetOperation(OpReply)
		afrm.SwapTargetSender()
		hwSender, _ := afrm.Sender4()
		*hwSender = h.ourHWAddr
		n = copy(b, afrm.RawData()[:SizeFrame4])
		hwTarget, _ := afrm.Target4()
		dst = *hwTarget
		copy(h.pending, h.pending[1:])
		h.pending = h.pending[:len(h.pending)-1]
		return n, dst, nil
	}
	if h.query.active && !h.query.sent {
		h.query.sent = true
		afrm, _ := NewFrame(b)
		afrm.SetHardware(enet.HardwareTypeEthernet, 6)
		afrm.SetProtocol(enet.EtherTypeIPv4, 4)
		afrm.SetOperation(OpRequest)
		hwSender, ipSender := afrm.Sender4()
		*hwSender = h.ourHWAddr
		*ipSender = h.ourIP
		hwTarget, ipTarget := afrm.Target4()
		*hwTarget = [6]byte{}
		*ipTarget = h.query.ip
		internal.LogAttrs(h.log, slog.LevelDebug, "arp:request-tx", internal.SlogAddr4("target", h.query.ip))
		return SizeFrame4, ethernet.BroadcastAddr(), nil
	}
	return 0, dst, nil
}
