// Package ipv6 provides just enough IPv6 header access to classify and skip
// over IPv6 traffic. No IPv6 protocol processing is performed.
package ipv6

import (
	"encoding/binary"
	"errors"

	"github.com/EECScat/enet"
)

const sizeHeader = 40

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 40.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: nil}, errShortBuf
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv6 packet
// and provides methods for retrieving fields and payload data. See [RFC8200].
//
// [RFC8200]: https://tools.ietf.org/html/rfc8200
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (i6frm Frame) RawData() []byte { return i6frm.buf }

// Payload returns the contents of the IPv6 packet, which may be zero sized.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (i6frm Frame) Payload() []byte {
	pl := i6frm.PayloadLength()
	return i6frm.buf[sizeHeader : sizeHeader+pl]
}

// Version returns the version field of the IPv6 header. Should be 6.
func (i6frm Frame) Version() uint8 {
	return i6frm.buf[0] >> 4
}

// PayloadLength returns the size of payload in octets including any extension headers.
func (i6frm Frame) PayloadLength() uint16 {
	return binary.BigEndian.Uint16(i6frm.buf[4:6])
}

// NextHeader returns the Next Header field of the IPv6 header which usually specifies the transport layer
// protocol used by packet's payload.
func (i6frm Frame) NextHeader() enet.IPProto {
	return enet.IPProto(i6frm.buf[6])
}

// HopLimit returns the Hop Limit of the IPv6 header.
func (i6frm Frame) HopLimit() uint8 {
	return i6frm.buf[7]
}

// SourceAddr returns pointer to the sending node unicast IPv6 address in the IP header.
func (i6frm Frame) SourceAddr() *[16]byte {
	return (*[16]byte)(i6frm.buf[8:24])
}

// DestinationAddr returns pointer to the destination node unicast or multicast IPv6 address in the IP header.
func (i6frm Frame) DestinationAddr() *[16]byte {
	return (*[16]byte)(i6frm.buf[24:40])
}

//
// Validate API.
//

var (
	errShortFrame = errors.New("ipv6: short frame")
	errShortBuf   = errors.New("ipv6: short buffer for frame")
	errBadVersion = errors.New("ipv6: bad version")
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It returns a non-nil error on finding an inconsistency.
func (i6frm Frame) ValidateSize(v *enet.Validator) {
	tl := i6frm.PayloadLength()
	if int(tl)+sizeHeader > len(i6frm.RawData()) {
		v.AddError(errShortFrame)
	}
	if i6frm.Version() != 6 {
		v.AddError(errBadVersion)
	}
}
