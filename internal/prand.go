package internal

// Prand16 returns a deterministic pseudo-random permutation of the
// argument using a 16-bit xorshift step. A zero input yields zero.
func Prand16(seed uint16) uint16 {
	seed ^= seed << 7
	seed ^= seed >> 9
	seed ^= seed << 8
	return seed
}

// Prand32 is the 32-bit xorshift counterpart of Prand16.
func Prand32(seed uint32) uint32 {
	seed ^= seed << 13
	seed ^= seed >> 17
	seed ^= seed << 5
	return seed
}
