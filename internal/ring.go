package internal

import (
	"errors"
	"io"
)

var (
	errRingFull         = errors.New("ring full")
	errSpeculativeSpace = errors.New("insufficient speculative space")
)

// Ring is a circular byte buffer with an optional speculative write region.
//
// Committed contents live between Off and End. End==0 flags an empty ring and
// Off==End (End!=0) a full one, so a write landing exactly at index zero is
// stored as End=len(Buf).
//
// Speculative writes extend the readable region past End without making the
// bytes visible to readers. Commit publishes them, Rollback discards them.
// Receive paths use this to stage payload bytes while a frame's checksums are
// still being accumulated.
type Ring struct {
	Buf []byte
	Off int
	End int
	// spec is the would-be End after pending speculative writes.
	// Valid only while hasSpec is set.
	spec    int
	hasSpec bool
}

// Size returns the total capacity of the ring.
func (r *Ring) Size() int { return len(r.Buf) }

// Buffered returns the number of committed bytes available to Read.
func (r *Ring) Buffered() int {
	return r.buffered(r.End)
}

func (r *Ring) buffered(end int) int {
	if end == 0 {
		return 0
	} else if r.Off < end {
		return end - r.Off
	}
	return len(r.Buf) - r.Off + end
}

// Free returns the space available for committed writes.
func (r *Ring) Free() int {
	if r.hasSpec {
		return len(r.Buf) - r.buffered(r.spec)
	}
	return len(r.Buf) - r.Buffered()
}

// SpeculativeBuffered returns committed plus uncommitted byte counts.
func (r *Ring) SpeculativeBuffered() int {
	if !r.hasSpec {
		return r.Buffered()
	}
	return r.buffered(r.spec)
}

// Write appends b to the committed region.
func (r *Ring) Write(b []byte) (int, error) {
	if r.hasSpec {
		panic("Write during speculative region")
	}
	end, n, err := r.writeAt(r.End, b)
	r.End = end
	return n, err
}

// writeAt appends b starting at the given end marker and returns the new end.
func (r *Ring) writeAt(end int, b []byte) (newEnd, n int, err error) {
	free := len(r.Buf) - r.buffered(end)
	if free == 0 {
		return end, 0, errRingFull
	}
	if len(b) > free {
		b = b[:free]
		err = errRingFull
	}
	start := r.Off
	if end != 0 {
		start = end % len(r.Buf)
	} else if start == len(r.Buf) {
		start = 0
	}
	n = copy(r.Buf[start:], b)
	if n < len(b) {
		n += copy(r.Buf, b[n:])
	}
	newEnd = (start + n) % len(r.Buf)
	if newEnd == 0 {
		newEnd = len(r.Buf)
	}
	return newEnd, n, err
}

// WriteSpeculative appends b past the committed region without publishing it.
func (r *Ring) WriteSpeculative(b []byte) (int, error) {
	end := r.End
	if r.hasSpec {
		end = r.spec
	}
	newEnd, n, err := r.writeAt(end, b)
	if err != nil {
		err = errSpeculativeSpace
	}
	if n > 0 {
		r.spec = newEnd
		r.hasSpec = true
	}
	return n, err
}

// WriteByteSpeculative is the single-octet form of WriteSpeculative.
func (r *Ring) WriteByteSpeculative(c byte) error {
	_, err := r.WriteSpeculative([]byte{c})
	return err
}

// Commit publishes all speculative bytes to readers.
func (r *Ring) Commit() {
	if r.hasSpec {
		r.End = r.spec
		r.hasSpec = false
	}
}

// Rollback discards all speculative bytes.
func (r *Ring) Rollback() {
	r.spec = 0
	r.hasSpec = false
}

// Read reads committed bytes into b, consuming them.
func (r *Ring) Read(b []byte) (int, error) {
	n, err := r.ReadPeek(b)
	if n > 0 {
		r.discard(n)
	}
	return n, err
}

// ReadPeek reads committed bytes into b without consuming them.
func (r *Ring) ReadPeek(b []byte) (int, error) {
	buffered := r.Buffered()
	if buffered == 0 {
		return 0, io.EOF
	}
	if len(b) > buffered {
		b = b[:buffered]
	}
	n := copy(b, r.Buf[r.Off:])
	if n < len(b) {
		n += copy(b[n:], r.Buf)
	}
	return n, nil
}

// ReadAt reads committed bytes at offset off relative to the read pointer
// without consuming anything.
func (r *Ring) ReadAt(b []byte, off int) (int, error) {
	buffered := r.Buffered()
	if off >= buffered {
		return 0, io.EOF
	}
	avail := buffered - off
	if len(b) > avail {
		b = b[:avail]
	}
	start := (r.Off + off) % len(r.Buf)
	n := copy(b, r.Buf[start:])
	if n < len(b) {
		n += copy(b[n:], r.Buf)
	}
	return n, nil
}

// ReadDiscard drops n committed bytes.
func (r *Ring) ReadDiscard(n int) error {
	if n > r.Buffered() {
		return errors.New("discard exceeds buffered")
	}
	r.discard(n)
	return nil
}

func (r *Ring) discard(n int) {
	r.Off = (r.Off + n) % len(r.Buf)
	if r.Off != r.End%len(r.Buf) {
		return
	}
	// Committed region drained.
	if r.hasSpec {
		// Speculative bytes keep their place past the old End; End==0 marks
		// the committed region empty until Commit republishes it.
		r.End = 0
	} else {
		r.Off = 0
		r.End = 0
	}
}

// Reset drops all contents, committed and speculative.
func (r *Ring) Reset() {
	r.Off = 0
	r.End = 0
	r.spec = 0
	r.hasSpec = false
}
