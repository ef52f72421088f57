package wire

import (
	"fmt"
	"net"
)

// AddressTag identifies which variant of Address is populated.
type AddressTag uint8

const (
	AddressNone AddressTag = 0
	AddressIPv4 AddressTag = 1
	AddressIPv6 AddressTag = 2
)

// LongAddressBytes is the padded form used inside tokens and headers: it
// is position-stable regardless of address family, which matters because
// these fields sit inside cryptographically authenticated structures.
const LongAddressBytes = 19

// ShortAddressBytes is the compact form used where only IPv4 is
// representable (the route token's next_address field).
const ShortAddressBytes = 7

// Address is the tagged variant described in spec.md §3: none, or an
// IPv4/IPv6 host plus port.
type Address struct {
	Tag  AddressTag
	IP   net.IP // 4 bytes for IPv4, 16 for IPv6; nil for AddressNone
	Port uint16
}

// NoneAddress is the zero-value "no address" variant.
var NoneAddress = Address{Tag: AddressNone}

// String renders the address the way a log line or error would want it.
func (a Address) String() string {
	switch a.Tag {
	case AddressIPv4, AddressIPv6:
		return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
	default:
		return "none"
	}
}

// UDPAddr converts to a *net.UDPAddr, or nil for AddressNone.
func (a Address) UDPAddr() *net.UDPAddr {
	if a.Tag == AddressNone {
		return nil
	}
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}

// AddressFromUDP builds an Address from a resolved UDP endpoint.
func AddressFromUDP(u *net.UDPAddr) Address {
	if u == nil {
		return NoneAddress
	}
	if v4 := u.IP.To4(); v4 != nil {
		return Address{Tag: AddressIPv4, IP: v4, Port: uint16(u.Port)}
	}
	return Address{Tag: AddressIPv6, IP: u.IP.To16(), Port: uint16(u.Port)}
}

// WriteAddressLong writes the 19-byte padded form: tag(1) + 16 bytes of
// address payload (IPv4 left-justified, zero-padded; IPv6 in full) +
// port(2).
func (w *Writer) WriteAddressLong(a Address) {
	w.WriteUint8(uint8(a.Tag))
	var payload [16]byte
	switch a.Tag {
	case AddressIPv4:
		copy(payload[:4], a.IP.To4())
	case AddressIPv6:
		copy(payload[:16], a.IP.To16())
	}
	w.WriteBytes(payload[:])
	w.WriteUint16(a.Port)
}

// ReadAddressLong decodes the 19-byte padded form written by
// WriteAddressLong.
func (r *Reader) ReadAddressLong() (Address, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return Address{}, err
	}
	payload, err := r.ReadBytes(16)
	if err != nil {
		return Address{}, err
	}
	port, err := r.ReadUint16()
	if err != nil {
		return Address{}, err
	}
	switch AddressTag(tag) {
	case AddressNone:
		return NoneAddress, nil
	case AddressIPv4:
		ip := make(net.IP, 4)
		copy(ip, payload[:4])
		return Address{Tag: AddressIPv4, IP: ip, Port: port}, nil
	case AddressIPv6:
		ip := make(net.IP, 16)
		copy(ip, payload)
		return Address{Tag: AddressIPv6, IP: ip, Port: port}, nil
	default:
		return Address{}, fmt.Errorf("wire: invalid address tag %d", tag)
	}
}

// WriteAddressShort writes the 7-byte compact form: tag(1) + 4 IPv4
// octets (zero if none/IPv6) + port(2). IPv6 cannot be represented in
// short form; callers must not route next-hops to IPv6 via tokens.
func (w *Writer) WriteAddressShort(a Address) {
	w.WriteUint8(uint8(a.Tag))
	var octets [4]byte
	if a.Tag == AddressIPv4 {
		copy(octets[:], a.IP.To4())
	}
	w.WriteBytes(octets[:])
	w.WriteUint16(a.Port)
}

// ReadAddressShort decodes the 7-byte compact form.
func (r *Reader) ReadAddressShort() (Address, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return Address{}, err
	}
	octets, err := r.ReadBytes(4)
	if err != nil {
		return Address{}, err
	}
	port, err := r.ReadUint16()
	if err != nil {
		return Address{}, err
	}
	switch AddressTag(tag) {
	case AddressNone:
		return NoneAddress, nil
	case AddressIPv4:
		ip := make(net.IP, 4)
		copy(ip, octets)
		return Address{Tag: AddressIPv4, IP: ip, Port: port}, nil
	default:
		return Address{}, fmt.Errorf("wire: invalid short address tag %d", tag)
	}
}

// Equal reports whether two addresses describe the same endpoint. Address
// embeds a net.IP slice so it is not comparable with ==; callers that need
// to detect "same installation" (spec.md §9's idempotent-insert rule) use
// this instead.
func (a Address) Equal(b Address) bool {
	if a.Tag != b.Tag || a.Port != b.Port {
		return false
	}
	return a.IP.Equal(b.IP)
}

// AddressBytes returns the raw address octets used as FNV-1a input by the
// packet filter: 4 bytes for IPv4, 16 for IPv6, 0 for none.
func (a Address) AddressBytes() []byte {
	switch a.Tag {
	case AddressIPv4:
		return a.IP.To4()
	case AddressIPv6:
		return a.IP.To16()
	default:
		return nil
	}
}
