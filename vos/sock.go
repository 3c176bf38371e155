/*
Copyright (c) The TRDP-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vos

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// SockOptions bundles the options spec §4.1 groups under setOptions: QoS
// (IP TOS/DSCP), TTL, SO_REUSEADDR, and non-blocking mode.
type SockOptions struct {
	QoS         int
	TTL         int
	ReuseAddr   bool
	NonBlocking bool
}

// UDPSocket wraps a *net.UDPConn the way timestamp.go wraps one for PTP:
// a thin layer giving access to the raw fd for setsockopt calls, plus
// send/receive helpers that surface the source/destination addressing
// ReceiveUDP needs for PD multicast demultiplexing.
type UDPSocket struct {
	conn *net.UDPConn
	fd   int
}

// OpenUDP opens a UDP socket bound to laddr (laddr.IP may be unspecified).
func OpenUDP(laddr *net.UDPAddr) (*UDPSocket, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, NewError(KindSock, "OpenUDP", err)
	}
	fd, err := ConnFd(conn)
	if err != nil {
		conn.Close()
		return nil, NewError(KindSock, "OpenUDP", err)
	}
	return &UDPSocket{conn: conn, fd: fd}, nil
}

// ConnFd returns the file descriptor backing conn, the same
// SyscallConn-based extraction timestamp.ConnFd performs.
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if ctlErr := sc.Control(func(raw uintptr) { fd = int(raw) }); ctlErr != nil {
		return -1, ctlErr
	}
	return fd, nil
}

// Fd returns the raw file descriptor, for host-driven select/epoll loops.
func (s *UDPSocket) Fd() int { return s.fd }

// LocalAddr returns the address the socket is bound to, letting a caller
// that requested an ephemeral port (0) discover which one the kernel
// picked.
func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SetOptions applies QoS/TTL/reuseaddr/non-blocking per spec §4.1. Platform
// specifics live in sock_linux.go.
func (s *UDPSocket) SetOptions(opts SockOptions) error {
	return setSockOptions(s.fd, opts)
}

// JoinMC joins the multicast group addr on the named interface.
func (s *UDPSocket) JoinMC(group net.IP, iface *net.Interface) error {
	return joinMulticast(s.fd, group, iface)
}

// LeaveMC leaves the multicast group addr on the named interface.
func (s *UDPSocket) LeaveMC(group net.IP, iface *net.Interface) error {
	return leaveMulticast(s.fd, group, iface)
}

// SetMulticastIf pins the outgoing interface used for multicast sends.
func (s *UDPSocket) SetMulticastIf(iface *net.Interface) error {
	return setMulticastIf(s.fd, iface)
}

// SendUDP sends b to dst.
func (s *UDPSocket) SendUDP(b []byte, dst *net.UDPAddr) error {
	if _, err := s.conn.WriteToUDP(b, dst); err != nil {
		return NewError(KindIO, "UDPSocket.SendUDP", err)
	}
	return nil
}

// ReceiveUDP reads a single datagram into buf, returning the number of
// bytes read and the source address. The datagram's destination address
// is not recovered.
func (s *UDPSocket) ReceiveUDP(buf []byte) (int, *net.UDPAddr, error) {
	n, src, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, NewError(KindIO, "UDPSocket.ReceiveUDP", err)
	}
	return n, src, nil
}

// Close releases the socket.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}

// TCPListener wraps a *net.TCPListener for the MD TCP transport.
type TCPListener struct {
	ln *net.TCPListener
	fd int
}

// OpenTCPListener opens and starts listening on laddr.
func OpenTCPListener(laddr *net.TCPAddr) (*TCPListener, error) {
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, NewError(KindSock, "OpenTCPListener", err)
	}
	sc, err := ln.SyscallConn()
	if err != nil {
		ln.Close()
		return nil, NewError(KindSock, "OpenTCPListener", err)
	}
	var fd int
	if ctlErr := sc.Control(func(raw uintptr) { fd = int(raw) }); ctlErr != nil {
		ln.Close()
		return nil, NewError(KindSock, "OpenTCPListener", ctlErr)
	}
	return &TCPListener{ln: ln, fd: fd}, nil
}

// Fd returns the listening socket's file descriptor.
func (l *TCPListener) Fd() int { return l.fd }

// LocalAddr returns the address the listener is bound to.
func (l *TCPListener) LocalAddr() *net.TCPAddr {
	return l.ln.Addr().(*net.TCPAddr)
}

// Accept blocks until a connection arrives.
func (l *TCPListener) Accept() (*net.TCPConn, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, NewError(KindSock, "TCPListener.Accept", err)
	}
	return conn, nil
}

// Close stops listening.
func (l *TCPListener) Close() error { return l.ln.Close() }

// OpenTCPClient connects to raddr. laddr may be nil to let the kernel pick
// the local address; passing a nil *net.TCPAddr straight into
// net.Dialer.LocalAddr would instead produce a non-nil net.Addr wrapping a
// nil pointer, so the nil check happens here.
func OpenTCPClient(laddr, raddr *net.TCPAddr) (*net.TCPConn, error) {
	var d net.Dialer
	if laddr != nil {
		d.LocalAddr = laddr
	}
	conn, err := d.Dial("tcp", raddr.String())
	if err != nil {
		return nil, NewError(KindSock, "OpenTCPClient", err)
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, NewError(KindSock, "OpenTCPClient", fmt.Errorf("unexpected connection type %T", conn))
	}
	return tc, nil
}

// warnClose closes c, logging any failure instead of swallowing it, the
// same "log and move on" style the teacher uses for defer Close() calls
// where the caller has nothing useful to do with the error.
func warnClose(op string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		log.Warningf("%s: close: %v", op, err)
	}
}
