package enet

type errGeneric uint8

// Generic errors common to frame processing.
const (
	_                     errGeneric = iota // non-initialized err
	ErrPacketDrop                           // packet dropped
	ErrBadCRC                               // incorrect checksum
	ErrShortBuffer                          // buffer too short
	ErrInvalidLengthField                   // length field inconsistent with buffer
	ErrZeroDestination                      // zero destination field
	ErrZeroSource                           // zero source field
	ErrMismatch                             // value mismatch
	ErrInvalidConfig                        // invalid configuration
)

func (err errGeneric) Error() string { return err.String() }

func (err errGeneric) String() string {
	switch err {
	case ErrPacketDrop:
		return "packet dropped"
	case ErrBadCRC:
		return "incorrect checksum"
	case ErrShortBuffer:
		return "buffer too short"
	case ErrInvalidLengthField:
		return "length field inconsistent with buffer"
	case ErrZeroDestination:
		return "zero destination field"
	case ErrZeroSource:
		return "zero source field"
	case ErrMismatch:
		return "value mismatch"
	case ErrInvalidConfig:
		return "invalid configuration"
	}
	return "unknown error"
}
