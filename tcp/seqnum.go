package tcp

// Value represents the value of a sequence number in the 32 bit sequence space
// of RFC 9293. Because the space is circular, relative ordering is defined by
// [LessThan] rather than the < operator.
type Value uint32

// Size represents the size (length) of a sequence number window.
type Size uint32

// LessThan checks if v is before w (modulo 32 bit wraparound).
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// LessThanEq returns true if v==w or v is before w (modulo 32 bit wraparound).
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow checks if v is in the window [first, first+size).
func (v Value) InWindow(first Value, size Size) bool {
	return !v.LessThan(first) && v.LessThan(Add(first, size))
}

// Add calculates the sequence number following the [v, v+s) window.
func Add(v Value, s Size) Value {
	return v + Value(s)
}

// Sizeof returns the size of the window defined by [v, w).
func Sizeof(v Value, w Value) Size {
	return Size(w - v)
}

// UpdateForward updates v such that it is s ahead in the sequence space.
func (v *Value) UpdateForward(s Size) {
	*v += Value(s)
}
