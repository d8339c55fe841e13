//go:build !linux

package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// Sockets bundles the two connections a session needs.
type Sockets struct {
	Control     net.Conn
	Measurement *net.UDPConn
}

// DialOptions configures socket construction.
type DialOptions struct {
	Host        string
	ControlPort int
	BindDevice  string
	BindAddr    netip.Addr

	// TTL sets the IP TTL on the UDP measurement socket. 0 leaves the
	// platform default in place.
	TTL int
}

// Dial establishes the TCP control connection and binds the UDP
// measurement socket. SO_BINDTODEVICE is Linux-only; BindDevice is
// accepted but ignored on other platforms.
func Dial(ctx context.Context, opts DialOptions) (*Sockets, error) {
	var dialer net.Dialer
	if opts.BindAddr.IsValid() {
		dialer.LocalAddr = &net.TCPAddr{IP: opts.BindAddr.AsSlice()}
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.ControlPort)
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control channel %s: %w", addr, err)
	}

	local := "0.0.0.0:0"
	if opts.BindAddr.IsValid() {
		local = fmt.Sprintf("%s:0", opts.BindAddr)
	}

	pc, err := net.ListenPacket("udp4", local)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("listen UDP measurement socket: %w", err)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("listen UDP measurement socket: unexpected conn type %T", pc)
	}

	if opts.TTL > 0 {
		if err := ipv4.NewPacketConn(udpConn).SetTTL(opts.TTL); err != nil {
			_ = udpConn.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("set measurement socket TTL: %w", err)
		}
	}

	return &Sockets{Control: conn, Measurement: udpConn}, nil
}

// LocalUDPPort returns the ephemeral port the measurement socket bound to.
func (s *Sockets) LocalUDPPort() uint16 {
	addr, ok := s.Measurement.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0
	}
	return uint16(addr.Port)
}

// Close releases both sockets, best-effort.
func (s *Sockets) Close() error {
	var errs []error
	if s.Control != nil {
		if err := s.Control.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Measurement != nil {
		if err := s.Measurement.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sockets: %v", errs)
	}
	return nil
}
