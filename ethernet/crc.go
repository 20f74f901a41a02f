package ethernet

import (
	"encoding/binary"
	"hash/crc32"
)

//
// CRC API.
//

// crcTable is the IEEE CRC-32 table used for Ethernet FCS calculation.
var crcTable = crc32.MakeTable(crc32.IEEE)

// fcsResidue is the value the running CRC settles on after digesting a frame
// together with its own trailing FCS.
const fcsResidue = 0x2144df1c

// CRC32 calculates the Ethernet Frame Check Sequence (FCS) for the given data.
// The CRC is computed using the IEEE 802.3 CRC-32 polynomial.
// The input should be the frame data from destination MAC through payload,
// excluding any existing FCS.
func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// AppendFCS appends the little-endian FCS of data to data and returns the
// extended slice, as the octets would appear on the wire.
func AppendFCS(data []byte) []byte {
	return binary.LittleEndian.AppendUint32(data, CRC32(data))
}

// FCS is a streaming Ethernet frame check sequence accumulator fed one or
// more octets at a time as they arrive off the wire.
type FCS struct {
	crc uint32
}

// Write digests p into the running CRC.
func (f *FCS) Write(p []byte) (int, error) {
	f.crc = crc32.Update(f.crc, crcTable, p)
	return len(p), nil
}

// WriteByte digests a single octet into the running CRC.
func (f *FCS) WriteByte(c byte) error {
	f.crc = crc32.Update(f.crc, crcTable, []byte{c})
	return nil
}

// Sum32 returns the FCS over all octets written so far, excluding any FCS
// octets themselves.
func (f *FCS) Sum32() uint32 { return f.crc }

// ResidueOK reports whether the octets written so far form a frame whose
// trailing four octets are its own valid FCS.
func (f *FCS) ResidueOK() bool { return f.crc == fcsResidue }

// Reset clears the accumulator for the next frame.
func (f *FCS) Reset() { f.crc = 0 }
