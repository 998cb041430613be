package utils

import "net/netip"

// CIDRSize returns the number of addresses in a prefix.
func CIDRSize(p netip.Prefix) uint64 {
	hostBits := p.Addr().BitLen() - p.Bits()
	if hostBits >= 64 {
		return ^uint64(0)
	}
	return 1 << hostBits
}

// ExpandPrefix lists every address in p, up to limit addresses.
func ExpandPrefix(p netip.Prefix, limit uint64) []netip.Addr {
	var ips []netip.Addr
	p = p.Masked()
	for ip := p.Addr(); ip.IsValid() && p.Contains(ip) && uint64(len(ips)) < limit; ip = ip.Next() {
		ips = append(ips, ip)
	}
	return ips
}

// RangeToPrefixes returns the minimal list of IPv4 prefixes covering [start, end].
func RangeToPrefixes(start, end netip.Addr) []netip.Prefix {
	start, end = start.Unmap(), end.Unmap()
	if !start.Is4() || !end.Is4() || end.Less(start) {
		return nil
	}
	lo, hi := toUint32(start), toUint32(end)

	var prefixes []netip.Prefix
	for {
		// Largest block aligned at lo that does not run past hi.
		bits := 32
		for bits > 0 {
			size := uint64(1) << (32 - (bits - 1))
			if uint64(lo)%size != 0 || uint64(lo)+size-1 > uint64(hi) {
				break
			}
			bits--
		}
		prefixes = append(prefixes, netip.PrefixFrom(fromUint32(lo), bits))
		next := uint64(lo) + uint64(1)<<(32-bits)
		if next > uint64(hi) {
			return prefixes
		}
		lo = uint32(next)
	}
}

func toUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func fromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
