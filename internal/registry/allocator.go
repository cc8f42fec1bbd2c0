package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/auraspeak/spectrum/internal/protocol"
)

// ErrPoolExhausted is returned when every endpoint of the address pool is taken.
var ErrPoolExhausted = errors.New("channel address pool exhausted")

// allocator walks the address pool as a ring. Index i maps to host i of the prefix
// and port portBase+i.
type allocator struct {
	prefix   netip.Prefix
	portBase uint16
	last     uint32
}

func newAllocator(prefix netip.Prefix, portBase uint16, seed protocol.NodeID) (*allocator, error) {
	a := &allocator{last: uint32(perturb(uint16(seed)))}
	if err := a.setRange(prefix, portBase); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *allocator) setRange(prefix netip.Prefix, portBase uint16) error {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return fmt.Errorf("address range %s: not an IPv4 prefix", prefix)
	}
	if !prefix.Addr().IsMulticast() {
		return fmt.Errorf("address range %s: not a multicast prefix", prefix)
	}
	size := uint32(1) << (32 - prefix.Bits())
	if uint32(portBase)+size-1 > 0xffff {
		return fmt.Errorf("address range %s: port base %d leaves too few ports for %d addresses", prefix, portBase, size)
	}
	a.prefix = prefix.Masked()
	a.portBase = portBase
	return nil
}

func (a *allocator) size() uint32 {
	return uint32(1) << (32 - a.prefix.Bits())
}

func (a *allocator) at(index uint32) netip.AddrPort {
	b := a.prefix.Addr().As4()
	binary.BigEndian.PutUint32(b[:], binary.BigEndian.Uint32(b[:])+index)
	return netip.AddrPortFrom(netip.AddrFrom4(b), a.portBase+uint16(index))
}

// setNext arranges for index to be the next candidate.
func (a *allocator) setNext(index uint32) {
	a.last = (index - 1) & (a.size() - 1)
}

// next advances the ring and returns the first endpoint inUse does not claim.
func (a *allocator) next(inUse func(netip.AddrPort) bool) (netip.AddrPort, error) {
	mask := a.size() - 1
	for i := uint32(0); i <= mask; i++ {
		a.last = (a.last + 1) & mask
		addr := a.at(a.last)
		if !inUse(addr) {
			return addr, nil
		}
	}
	return netip.AddrPort{}, ErrPoolExhausted
}

// Rijndael S-box: bijective, non-linear, no fixed points.
var sbox = [256]uint8{
	0x63, 0x7c, 0x77, 0x7b, 0xf2, 0x6b, 0x6f, 0xc5, 0x30, 0x01, 0x67, 0x2b, 0xfe, 0xd7, 0xab, 0x76,
	0xca, 0x82, 0xc9, 0x7d, 0xfa, 0x59, 0x47, 0xf0, 0xad, 0xd4, 0xa2, 0xaf, 0x9c, 0xa4, 0x72, 0xc0,
	0xb7, 0xfd, 0x93, 0x26, 0x36, 0x3f, 0xf7, 0xcc, 0x34, 0xa5, 0xe5, 0xf1, 0x71, 0xd8, 0x31, 0x15,
	0x04, 0xc7, 0x23, 0xc3, 0x18, 0x96, 0x05, 0x9a, 0x07, 0x12, 0x80, 0xe2, 0xeb, 0x27, 0xb2, 0x75,
	0x09, 0x83, 0x2c, 0x1a, 0x1b, 0x6e, 0x5a, 0xa0, 0x52, 0x3b, 0xd6, 0xb3, 0x29, 0xe3, 0x2f, 0x84,
	0x53, 0xd1, 0x00, 0xed, 0x20, 0xfc, 0xb1, 0x5b, 0x6a, 0xcb, 0xbe, 0x39, 0x4a, 0x4c, 0x58, 0xcf,
	0xd0, 0xef, 0xaa, 0xfb, 0x43, 0x4d, 0x33, 0x85, 0x45, 0xf9, 0x02, 0x7f, 0x50, 0x3c, 0x9f, 0xa8,
	0x51, 0xa3, 0x40, 0x8f, 0x92, 0x9d, 0x38, 0xf5, 0xbc, 0xb6, 0xda, 0x21, 0x10, 0xff, 0xf3, 0xd2,
	0xcd, 0x0c, 0x13, 0xec, 0x5f, 0x97, 0x44, 0x17, 0xc4, 0xa7, 0x7e, 0x3d, 0x64, 0x5d, 0x19, 0x73,
	0x60, 0x81, 0x4f, 0xdc, 0x22, 0x2a, 0x90, 0x88, 0x46, 0xee, 0xb8, 0x14, 0xde, 0x5e, 0x0b, 0xdb,
	0xe0, 0x32, 0x3a, 0x0a, 0x49, 0x06, 0x24, 0x5c, 0xc2, 0xd3, 0xac, 0x62, 0x91, 0x95, 0xe4, 0x79,
	0xe7, 0xc8, 0x37, 0x6d, 0x8d, 0xd5, 0x4e, 0xa9, 0x6c, 0x56, 0xf4, 0xea, 0x65, 0x7a, 0xae, 0x08,
	0xba, 0x78, 0x25, 0x2e, 0x1c, 0xa6, 0xb4, 0xc6, 0xe8, 0xdd, 0x74, 0x1f, 0x4b, 0xbd, 0x8b, 0x8a,
	0x70, 0x3e, 0xb5, 0x66, 0x48, 0x03, 0xf6, 0x0e, 0x61, 0x35, 0x57, 0xb9, 0x86, 0xc1, 0x1d, 0x9e,
	0xe1, 0xf8, 0x98, 0x11, 0x69, 0xd9, 0x8e, 0x94, 0x9b, 0x1e, 0x87, 0xe9, 0xce, 0x55, 0x28, 0xdf,
	0x8c, 0xa1, 0x89, 0x0d, 0xbf, 0xe6, 0x42, 0x68, 0x41, 0x99, 0x2d, 0x0f, 0xb0, 0x54, 0xbb, 0x16,
}

// perturb scatters node ids over the ring so independently started nodes rarely pick
// the same first address.
func perturb(v uint16) uint16 {
	high := sbox[v>>8]
	low := sbox[v&0xff]
	return uint16(low+high)<<8 | uint16(low-high)
}
