//go:build linux

// Package netio sets up the two sockets a measurement session owns: the
// TCP control connection to the daemon and the UDP measurement socket
// that receives train packets. Both are plain Go net.Conn/net.PacketConn
// values — Go's runtime integrates socket readiness with the scheduler,
// so there is no separate fcntl(O_NONBLOCK) step; SetDeadline plays the
// role a select() timeout loop would play in a non-blocking-I/O design.
package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Sockets bundles the two connections a session needs.
type Sockets struct {
	// Control is the TCP connection to the daemon's control port.
	Control net.Conn

	// Measurement is the UDP socket used to receive train packets.
	// It is bound to an ephemeral or caller-chosen local port so its
	// number can be published to the daemon via CLIENT_UDP_PORT_SET.
	Measurement *net.UDPConn
}

// DialOptions configures socket construction.
type DialOptions struct {
	// Host is the daemon's hostname or address.
	Host string

	// ControlPort is the daemon's TCP control port.
	ControlPort int

	// BindDevice optionally binds both sockets to a specific local
	// interface via SO_BINDTODEVICE (the -I/--interface flag).
	BindDevice string

	// BindAddr optionally fixes the local address used for both
	// sockets (interpreted as an IPv4 literal when -I is given a dotted
	// address instead of an interface name).
	BindAddr netip.Addr

	// TTL sets the IP TTL on the UDP measurement socket. 0 leaves the
	// platform default in place.
	TTL int
}

// Dial establishes the TCP control connection and binds the UDP
// measurement socket, applying SO_BINDTODEVICE to both when BindDevice is
// set.
func Dial(ctx context.Context, opts DialOptions) (*Sockets, error) {
	dialer := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			return bindToDevice(c, opts.BindDevice)
		},
	}
	if opts.BindAddr.IsValid() {
		dialer.LocalAddr = &net.TCPAddr{IP: opts.BindAddr.AsSlice()}
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.ControlPort)
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control channel %s: %w", addr, err)
	}

	udpConn, err := listenMeasurementSocket(opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
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

func listenMeasurementSocket(opts DialOptions) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return bindToDevice(c, opts.BindDevice)
		},
	}

	local := "0.0.0.0:0"
	if opts.BindAddr.IsValid() {
		local = fmt.Sprintf("%s:0", opts.BindAddr)
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", local)
	if err != nil {
		return nil, fmt.Errorf("listen UDP measurement socket: %w", err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen UDP measurement socket: unexpected conn type %T", pc)
	}

	return conn, nil
}

// bindToDevice applies SO_BINDTODEVICE when ifName is non-empty. A no-op
// otherwise, so the dialer/listener Control hook can always be installed.
func bindToDevice(c syscall.RawConn, ifName string) error {
	if ifName == "" {
		return nil
	}

	var sockErr error
	err := c.Control(func(fd uintptr) {
		//nolint:gosec // fd is always a small positive kernel descriptor.
		sockErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifName)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("set SO_BINDTODEVICE(%s): %w", ifName, sockErr)
	}
	return nil
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
