package tcp

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/blake2s"
)

// isnGenerator produces initial send sequence numbers following RFC 6528:
// a keyed hash over the connection four-tuple plus a timer component, so that
// sequence numbers of distinct connections do not collide and cannot be
// predicted without the secret.
type isnGenerator struct {
	secret [16]byte
	start  time.Time
}

func (g *isnGenerator) Seed(secret [16]byte, now time.Time) {
	g.secret = secret
	g.start = now
}

func (g *isnGenerator) ISN(localIP [4]byte, localPort uint16, remoteIP [4]byte, remotePort uint16, now time.Time) Value {
	h, err := blake2s.New256(g.secret[:])
	if err != nil {
		panic(err) // Key length is fixed and valid.
	}
	var tuple [12]byte
	copy(tuple[0:4], localIP[:])
	copy(tuple[4:8], remoteIP[:])
	binary.BigEndian.PutUint16(tuple[8:10], localPort)
	binary.BigEndian.PutUint16(tuple[10:12], remotePort)
	h.Write(tuple[:])
	var sum [blake2s.Size]byte
	h.Sum(sum[:0])
	// RFC 6528 uses a 4 microsecond tick for the timer component.
	tick := Value(now.Sub(g.start) / (4 * time.Microsecond))
	return tick + Value(binary.BigEndian.Uint32(sum[:4]))
}
