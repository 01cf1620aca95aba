package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Resolver looks up the addresses of a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// DialFunc opens a connection to an already vetted address.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// guardedDialer resolves hostnames itself and only ever dials an address
// that passed IsBlockedAddr, so the checked address is the dialed one.
type guardedDialer struct {
	resolver Resolver
	dial     DialFunc
}

func newGuardedDialer(resolver Resolver, dial DialFunc, timeout time.Duration) *guardedDialer {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if dial == nil {
		dial = (&net.Dialer{Timeout: timeout}).DialContext
	}
	return &guardedDialer{resolver: resolver, dial: dial}
}

func (d *guardedDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := d.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := d.dial(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// resolve rejects the whole name if any address is blocked; a mixed answer
// is treated as hostile.
func (d *guardedDialer) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(ip) {
			return nil, deny(KindPrivateAddress, ErrPrivateAddress, "%s", host)
		}
		return []netip.Addr{ip.Unmap()}, nil
	}
	if isBlockedHost(host) {
		return nil, deny(KindPrivateAddress, ErrPrivateAddress, "%s", host)
	}

	addrs, err := d.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}

	ips := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok || IsBlockedAddr(ip) {
			return nil, deny(KindPrivateAddress, ErrPrivateAddress, "%s resolves to %s", host, a.IP)
		}
		ips = append(ips, ip.Unmap())
	}
	return ips, nil
}
