// Package address
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Immutable family-qualified endpoint addresses: IPv4/IPv6 host + port, or a
// local path naming a serial device or IPC key.

package address

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/momentics/hioload-mux/api"
	"golang.org/x/sys/unix"
)

// Family is the address family of an Address.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
	FamilyPath
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyPath:
		return "path"
	default:
		return "unspec"
	}
}

// Native returns the AF_* constant of the family.
func (f Family) Native() int {
	switch f {
	case FamilyIPv4:
		return unix.AF_INET
	case FamilyIPv6:
		return unix.AF_INET6
	case FamilyPath:
		return unix.AF_UNIX
	default:
		return unix.AF_UNSPEC
	}
}

const (
	sizeofSockaddrInet4 = 16
	sizeofSockaddrInet6 = 28
)

// ResolveTimeout bounds host name lookups performed by New.
var ResolveTimeout = 5 * time.Second

// Address is a value type; the zero Address means "unspecified".
type Address struct {
	family Family
	ap     netip.AddrPort
	path   string
}

// New builds an address from a host string and port for the requested
// family. The host may be a literal or a name; names are resolved and the
// first address of the family wins. An empty host means the wildcard address.
func New(host string, port uint16, family Family) (Address, error) {
	if family != FamilyIPv4 && family != FamilyIPv6 {
		return Address{}, api.NewError(api.ErrCodeUnsupportedFamily, "address.New", family.String())
	}
	if host == "" {
		if family == FamilyIPv4 {
			return Address{family: family, ap: netip.AddrPortFrom(netip.IPv4Unspecified(), port)}, nil
		}
		return Address{family: family, ap: netip.AddrPortFrom(netip.IPv6Unspecified(), port)}, nil
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		ip, err = resolve(host, family)
		if err != nil {
			return Address{}, api.Wrap(api.ErrCodeInvalidAddress, "address.New", err).WithContext("host", host)
		}
	}
	if zone := ip.Zone(); zone != "" {
		if _, err := zoneID(zone); err != nil {
			return Address{}, api.Wrap(api.ErrCodeInvalidAddress, "address.New", err).WithContext("host", host)
		}
	}
	if family == FamilyIPv4 {
		ip = ip.Unmap()
		if !ip.Is4() {
			return Address{}, api.NewError(api.ErrCodeInvalidAddress, "address.New", "not an IPv4 address").WithContext("host", host)
		}
	} else if ip.Is4() {
		ip = netip.AddrFrom16(ip.As16())
	}
	return Address{family: family, ap: netip.AddrPortFrom(ip, port)}, nil
}

func resolve(host string, family Family) (netip.Addr, error) {
	network := "ip4"
	if family == FamilyIPv6 {
		network = "ip6"
	}
	ctx, cancel := context.WithTimeout(context.Background(), ResolveTimeout)
	defer cancel()
	ips, err := net.DefaultResolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(ips) == 0 {
		return netip.Addr{}, fmt.Errorf("no %s address for %q", network, host)
	}
	return ips[0], nil
}

// zoneID maps an IPv6 zone, an interface name or a decimal index, to the
// sockaddr scope id.
func zoneID(zone string) (uint32, error) {
	if zone == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n), nil
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, err
	}
	return uint32(ifi.Index), nil
}

// zoneName is the inverse of zoneID; unknown indexes stay numeric.
func zoneName(id uint32) string {
	if id == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(int(id)); err == nil {
		return ifi.Name
	}
	return strconv.FormatUint(uint64(id), 10)
}

// Parse accepts "host:port", "[v6]:port" or "[v6%zone]:port". The family follows the literal;
// names resolve as IPv4.
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, api.Wrap(api.ErrCodeInvalidAddress, "address.Parse", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, api.Wrap(api.ErrCodeInvalidAddress, "address.Parse", err).WithContext("port", portStr)
	}
	family := FamilyIPv4
	if ip, err := netip.ParseAddr(host); err == nil && ip.Is6() && !ip.Is4In6() {
		family = FamilyIPv6
	}
	return New(host, uint16(port), family)
}

// FromPath builds a path-kind address for serial devices and IPC keys.
func FromPath(p string) Address {
	return Address{family: FamilyPath, path: p}
}

// FromSockaddr converts an OS socket address.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Address{family: FamilyIPv4, ap: netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))}, nil
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(v.Addr).WithZone(zoneName(v.ZoneId))
		return Address{family: FamilyIPv6, ap: netip.AddrPortFrom(ip, uint16(v.Port))}, nil
	case *unix.SockaddrUnix:
		return FromPath(v.Name), nil
	case nil:
		return Address{}, api.NewError(api.ErrCodeInvalidAddress, "address.FromSockaddr", "nil sockaddr")
	}
	return Address{}, api.NewError(api.ErrCodeUnsupportedFamily, "address.FromSockaddr", fmt.Sprintf("%T", sa))
}

// FromBytes is the inverse of Bytes.
func FromBytes(b []byte) (Address, error) {
	if len(b) < 2 {
		return Address{}, api.NewError(api.ErrCodeInvalidAddress, "address.FromBytes", "short buffer")
	}
	switch int(binary.NativeEndian.Uint16(b[0:2])) {
	case unix.AF_INET:
		if len(b) < sizeofSockaddrInet4 {
			return Address{}, api.NewError(api.ErrCodeInvalidAddress, "address.FromBytes", "short sockaddr_in")
		}
		port := binary.BigEndian.Uint16(b[2:4])
		return Address{family: FamilyIPv4, ap: netip.AddrPortFrom(netip.AddrFrom4([4]byte(b[4:8])), port)}, nil
	case unix.AF_INET6:
		if len(b) < sizeofSockaddrInet6 {
			return Address{}, api.NewError(api.ErrCodeInvalidAddress, "address.FromBytes", "short sockaddr_in6")
		}
		port := binary.BigEndian.Uint16(b[2:4])
		ip := netip.AddrFrom16([16]byte(b[8:24])).WithZone(zoneName(binary.NativeEndian.Uint32(b[24:28])))
		return Address{family: FamilyIPv6, ap: netip.AddrPortFrom(ip, port)}, nil
	case unix.AF_UNIX:
		return FromPath(string(b[2:])), nil
	}
	return Address{}, api.NewError(api.ErrCodeUnsupportedFamily, "address.FromBytes", "unknown family")
}

// Family returns the address family.
func (a Address) Family() Family { return a.family }

// IsZero reports whether a is the unspecified zero value.
func (a Address) IsZero() bool { return a.family == FamilyUnspec }

// Port returns the port, zero for path addresses.
func (a Address) Port() uint16 { return a.ap.Port() }

// IP returns the host part, invalid for path addresses.
func (a Address) IP() netip.Addr { return a.ap.Addr() }

// Path returns the path of a path-kind address.
func (a Address) Path() string { return a.path }

// WithPort returns a copy of a with the port replaced.
func (a Address) WithPort(port uint16) Address {
	if a.family == FamilyPath || a.IsZero() {
		return a
	}
	a.ap = netip.AddrPortFrom(a.ap.Addr(), port)
	return a
}

// Equal reports whether two addresses denote the same endpoint.
func (a Address) Equal(b Address) bool {
	return a == b
}

// String returns the canonical form: "1.2.3.4:80", "[::1]:80" or the path.
func (a Address) String() string {
	switch a.family {
	case FamilyIPv4, FamilyIPv6:
		return a.ap.String()
	case FamilyPath:
		return a.path
	default:
		return ""
	}
}

// Bytes returns the platform's native sockaddr representation: family in
// host byte order followed by the port in network byte order.
func (a Address) Bytes() []byte {
	switch a.family {
	case FamilyIPv4:
		b := make([]byte, sizeofSockaddrInet4)
		binary.NativeEndian.PutUint16(b[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(b[2:4], a.ap.Port())
		ip := a.ap.Addr().As4()
		copy(b[4:8], ip[:])
		return b
	case FamilyIPv6:
		b := make([]byte, sizeofSockaddrInet6)
		binary.NativeEndian.PutUint16(b[0:2], unix.AF_INET6)
		binary.BigEndian.PutUint16(b[2:4], a.ap.Port())
		ip := a.ap.Addr().As16()
		copy(b[8:24], ip[:])
		id, _ := zoneID(a.ap.Addr().Zone())
		binary.NativeEndian.PutUint32(b[24:28], id)
		return b
	case FamilyPath:
		b := make([]byte, 2+len(a.path))
		binary.NativeEndian.PutUint16(b[0:2], unix.AF_UNIX)
		copy(b[2:], a.path)
		return b
	default:
		return nil
	}
}

// Sockaddr converts a to the x/sys/unix form used by the socket primitive.
func (a Address) Sockaddr() (unix.Sockaddr, error) {
	switch a.family {
	case FamilyIPv4:
		return &unix.SockaddrInet4{Port: int(a.ap.Port()), Addr: a.ap.Addr().As4()}, nil
	case FamilyIPv6:
		id, err := zoneID(a.ap.Addr().Zone())
		if err != nil {
			return nil, api.Wrap(api.ErrCodeInvalidAddress, "address.Sockaddr", err)
		}
		return &unix.SockaddrInet6{Port: int(a.ap.Port()), Addr: a.ap.Addr().As16(), ZoneId: id}, nil
	case FamilyPath:
		return &unix.SockaddrUnix{Name: a.path}, nil
	}
	return nil, api.NewError(api.ErrCodeInvalidAddress, "address.Sockaddr", "unspecified address")
}
