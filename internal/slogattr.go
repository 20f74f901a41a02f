package internal

import (
	"log/slog"
	"net/netip"
)

// SlogAddr4 formats a 4 byte IP address attribute without heap allocation
// on handlers that respect LogValuer.
func SlogAddr4(key string, addr [4]byte) slog.Attr {
	return slog.Attr{Key: key, Value: slog.AnyValue(netip.AddrFrom4(addr))}
}

// SlogHW6 formats a 6 byte hardware address attribute.
func SlogHW6(key string, hw [6]byte) slog.Attr {
	var buf [17]byte
	const hexdigits = "0123456789abcdef"
	for i, b := range hw {
		if i > 0 {
			buf[i*3-1] = ':'
		}
		buf[i*3] = hexdigits[b>>4]
		buf[i*3+1] = hexdigits[b&0xf]
	}
	return slog.String(key, string(buf[:]))
}
