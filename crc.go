package enet

import "encoding/binary"

// CRC791 is the checksum accumulator defined by RFC 791. The Checksum field
// for TCP+IP is the 16-bit ones' complement of the ones' complement sum of
// all 16-bit words in the header. In case of uneven number of octets the
// last word is LSB padded with zeros.
//
// Unlike a block checksum, CRC791 may be fed one octet at a time via
// [CRC791.WriteByte] which lets frame processors accumulate the sum while
// the frame streams through, so the final value is ready at end-of-frame.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum uint32
	// carry holds a pending high octet when an odd number of bytes
	// have been written so far.
	carry   uint8
	hasOdd  bool
	written uint
}

// Write adds the bytes in p to the running checksum.
func (c *CRC791) Write(p []byte) (int, error) {
	for _, b := range p {
		c.writeByte(b)
	}
	return len(p), nil
}

// WriteByte adds a single octet to the running checksum.
func (c *CRC791) WriteByte(b byte) error {
	c.writeByte(b)
	return nil
}

func (c *CRC791) writeByte(b byte) {
	if c.hasOdd {
		c.sum += uint32(c.carry)<<8 | uint32(b)
		c.hasOdd = false
	} else {
		c.carry = b
		c.hasOdd = true
	}
	c.written++
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as
// BigEndian (network order). Must not be interleaved with an odd number of
// buffered WriteByte octets.
func (c *CRC791) AddUint16(value uint16) {
	if c.hasOdd {
		panic("enet: AddUint16 on odd byte boundary")
	}
	c.sum += uint32(value)
	c.written += 2
}

// AddUint32 adds a 32 bit value to the running checksum interpreted as
// BigEndian (network order).
func (c *CRC791) AddUint32(value uint32) {
	c.AddUint16(uint16(value >> 16))
	c.AddUint16(uint16(value))
}

// AddAddr adds an address (or any even-length byte string) to the checksum.
func (c *CRC791) AddAddr(addr []byte) {
	for i := 0; i+1 < len(addr); i += 2 {
		c.AddUint16(binary.BigEndian.Uint16(addr[i:]))
	}
}

// Sum16 calculates the checksum with the data written to c thus far.
// A trailing odd octet is treated as LSB zero padded.
func (c *CRC791) Sum16() uint16 {
	sum := c.sum
	if c.hasOdd {
		sum += uint32(c.carry) << 8
	}
	return checksum16(sum)
}

// Written returns the number of octets accumulated since the last Reset.
func (c *CRC791) Written() uint { return c.written }

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

func checksum16(sum uint32) uint16 {
	sum = (sum & 0xffff) + sum>>16
	// the max value of sum at this point is 0x1fffe, one more fold suffices.
	return ^uint16(sum + sum>>16)
}

// ChecksumDelta computes the RFC 1624 incremental update of an existing
// checksum given a 16-bit field changed from prev to curr. It lets an echo
// replier patch a checksum in constant time instead of recomputing the sum
// over the whole payload.
func ChecksumDelta(check, prev, curr uint16) uint16 {
	sum := uint32(^check) + uint32(^prev) + uint32(curr)
	return checksum16(sum)
}

// NeverZeroChecksum ensures that the given checksum is not zero, by
// returning 0xffff instead. Used by UDP where zero means "no checksum".
func NeverZeroChecksum(sum16 uint16) uint16 {
	// 0x0000 and 0xffff are the same number in ones' complement math.
	if sum16 == 0 {
		return 0xffff
	}
	return sum16
}
